package dsp

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseADCLine parses a COG_MESSAGE text line of comma-separated signed ADC
// sample values (e.g. "12,-340,88,...") into complex64 samples suitable for
// FFTAndDBFS. The imaginary component is always zero: the P2 debug channel
// carries real-valued single-ended ADC readings, not IQ pairs.
func ParseADCLine(line []byte) ([]complex64, error) {
	trimmed := strings.TrimSpace(string(line))
	if trimmed == "" {
		return nil, nil
	}
	fields := strings.Split(trimmed, ",")
	samples := make([]complex64, 0, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("adc line field %d (%q): %w", i, f, err)
		}
		samples = append(samples, complex(float32(v), 0))
	}
	return samples, nil
}

// SpectrumAnalyzer folds a stream of COG_MESSAGE ADC lines into dBFS
// spectrum snapshots, reusing a CachedDSP instance sized to the sample count
// of the most recent line so repeated calls on a steady stream avoid
// re-allocating the FFT plan and Hamming window; a line with a different
// sample count replaces the cached instance.
type SpectrumAnalyzer struct {
	cached *CachedDSP
}

// NewSpectrumAnalyzer builds an analyzer with no cached FFT plan yet; it is
// created lazily from the first line's sample count.
func NewSpectrumAnalyzer() *SpectrumAnalyzer {
	return &SpectrumAnalyzer{}
}

// Analyze parses line and returns its dBFS spectrum. It returns nil, nil for
// a blank line (common after a CRLF-terminated empty COG_MESSAGE).
func (a *SpectrumAnalyzer) Analyze(line []byte) ([]float64, error) {
	samples, err := ParseADCLine(line)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, nil
	}

	if a.cached == nil || a.cached.Size() != len(samples) {
		a.cached = NewCachedDSP(len(samples))
	}
	_, dbfs := a.cached.FFTAndDBFS(samples)
	return dbfs, nil
}
