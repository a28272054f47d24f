package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rjboer/p2debug/internal/config"
	"github.com/rjboer/p2debug/internal/dsp"
	"github.com/rjboer/p2debug/internal/extract"
	"github.com/rjboer/p2debug/internal/logging"
	"github.com/rjboer/p2debug/internal/response"
	"github.com/rjboer/p2debug/internal/ring"
	"github.com/rjboer/p2debug/internal/telemetry"
)

func TestBuildSourceSerial(t *testing.T) {
	src, err := buildSource(config.SourceConfig{Kind: "serial", SerialPort: "/dev/ttyUSB0", SerialBaud: 115200})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(src.Name(), "/dev/ttyUSB0") {
		t.Errorf("Name() = %q, want it to mention the serial port", src.Name())
	}
}

func TestBuildSourceSSH(t *testing.T) {
	src, err := buildSource(config.SourceConfig{Kind: "ssh", SSHHost: "bench.local", SSHDevicePath: "/dev/ttyP2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(src.Name(), "bench.local") {
		t.Errorf("Name() = %q, want it to mention the ssh host", src.Name())
	}
}

func TestBuildSourceRejectsUnknownKind(t *testing.T) {
	_, err := buildSource(config.SourceConfig{Kind: "usb-direct"})
	if err == nil || !strings.Contains(err.Error(), "usb-direct") {
		t.Fatalf("expected an error naming the unsupported kind, got %v", err)
	}
}

// TestDrainQueueRunsSpectrumAnalysisOnCogMessages guards against the
// spectrum analyzer silently falling out of the pipeline again: a
// COG_MESSAGE ADC line dequeued by drainQueue must actually reach
// spectrum.Analyze, not just sit next to it unused.
func TestDrainQueueRunsSpectrumAnalysisOnCogMessages(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.Debug, logging.Text, &buf)

	r := ring.New(4096)
	q := extract.NewQueue(10, 20)
	q.Enqueue(extract.Message{Kind: extract.CogMessage, Payload: []byte("1,2,3,4")})

	drainQueue(r, q, response.New(), dsp.NewSpectrumAnalyzer(), telemetry.NewStdoutReporter(logger), logger)

	if !strings.Contains(buf.String(), "spectrum computed") {
		t.Fatalf("expected drainQueue to run the COG_MESSAGE payload through the spectrum analyzer, got log: %q", buf.String())
	}
}

// TestDrainQueueSkipsNonNumericCogMessages confirms an ordinary log line
// (not an ADC sample line) is reported but does not abort the drain loop.
func TestDrainQueueSkipsNonNumericCogMessages(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.Debug, logging.Text, &buf)

	r := ring.New(4096)
	q := extract.NewQueue(10, 20)
	q.Enqueue(extract.Message{Kind: extract.CogMessage, Payload: []byte("Cog0: booting")})
	q.Enqueue(extract.Message{Kind: extract.CogMessage, Payload: []byte("5,6,7")})

	drainQueue(r, q, response.New(), dsp.NewSpectrumAnalyzer(), telemetry.NewStdoutReporter(logger), logger)

	if !strings.Contains(buf.String(), "skipping non-ADC COG_MESSAGE line") {
		t.Fatalf("expected the non-numeric line to be logged as skipped, got: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "spectrum computed") {
		t.Fatalf("expected the numeric line to still reach the spectrum analyzer, got: %q", buf.String())
	}
}
