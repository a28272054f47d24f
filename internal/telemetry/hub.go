package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rjboer/p2debug/internal/logging"
)

// Config represents the runtime configuration exposed by the telemetry hub,
// guarded by the hub's RWMutex. It carries the same settings as the
// pipeline's startup configuration (see internal/config) but is separate
// from it: the hub starts from built-in defaults or a persisted config.json,
// and updates through the config endpoint change only the hub's copy and
// that file. The running ring, queue, extractor and logger are not
// reconfigured by it.
type Config struct {
	RingCapacity  int    `json:"ringCapacity"`
	QueueSoftCap  int    `json:"queueSoftCap"`
	QueueHardCap  int    `json:"queueHardCap"`
	ExtractBudget int    `json:"extractBudget"`
	LogLevel      string `json:"logLevel"`
	LogFormat     string `json:"logFormat"`
	DebugMode     bool   `json:"debugMode"`
}

const (
	minRingCapacity  = 512
	maxRingCapacity  = 1 << 24
	minQueueHardCap  = 1
	maxQueueHardCap  = 1 << 20
	minExtractBudget = 1
	maxExtractBudget = 1 << 16
	configFilePath   = "config.json"
)

type persistentConfig struct {
	RingCapacity  int    `json:"ring_capacity"`
	QueueSoftCap  int    `json:"queue_soft_cap"`
	QueueHardCap  int    `json:"queue_hard_cap"`
	ExtractBudget int    `json:"extract_budget"`
	WebAddr       string `json:"web_addr"`
	LogLevel      string `json:"log_level"`
	LogFormat     string `json:"log_format"`
	DebugMode     bool   `json:"debug_mode"`
}

func defaultConfig() Config {
	return Config{
		RingCapacity:  1 << 16,
		QueueSoftCap:  256,
		QueueHardCap:  1024,
		ExtractBudget: 64,
		LogLevel:      "warn",
		LogFormat:     "text",
		DebugMode:     false,
	}
}

func defaultPersistentConfig() persistentConfig {
	d := defaultConfig()
	return persistentConfig{
		RingCapacity:  d.RingCapacity,
		QueueSoftCap:  d.QueueSoftCap,
		QueueHardCap:  d.QueueHardCap,
		ExtractBudget: d.ExtractBudget,
		WebAddr:       ":8080",
		LogLevel:      d.LogLevel,
		LogFormat:     d.LogFormat,
		DebugMode:     d.DebugMode,
	}
}

func configFromPersistent(stored persistentConfig) Config {
	return Config{
		RingCapacity:  stored.RingCapacity,
		QueueSoftCap:  stored.QueueSoftCap,
		QueueHardCap:  stored.QueueHardCap,
		ExtractBudget: stored.ExtractBudget,
		LogLevel:      stored.LogLevel,
		LogFormat:     stored.LogFormat,
		DebugMode:     stored.DebugMode,
	}
}

func validateConfig(cfg Config, base Config) (Config, error) {
	if base.RingCapacity == 0 || base.QueueHardCap == 0 {
		base = defaultConfig()
	}

	if cfg.RingCapacity == 0 {
		cfg.RingCapacity = base.RingCapacity
	}
	if cfg.QueueSoftCap == 0 {
		cfg.QueueSoftCap = base.QueueSoftCap
	}
	if cfg.QueueHardCap == 0 {
		cfg.QueueHardCap = base.QueueHardCap
	}
	if cfg.ExtractBudget == 0 {
		cfg.ExtractBudget = base.ExtractBudget
	}

	if cfg.RingCapacity < minRingCapacity || cfg.RingCapacity > maxRingCapacity {
		return Config{}, fmt.Errorf("ring capacity must be between %d and %d bytes", minRingCapacity, maxRingCapacity)
	}
	if cfg.QueueHardCap < minQueueHardCap || cfg.QueueHardCap > maxQueueHardCap {
		return Config{}, fmt.Errorf("queue hard cap must be between %d and %d", minQueueHardCap, maxQueueHardCap)
	}
	if cfg.QueueSoftCap <= 0 || cfg.QueueSoftCap > cfg.QueueHardCap {
		return Config{}, errors.New("queue soft cap must be positive and not exceed the hard cap")
	}
	if cfg.ExtractBudget < minExtractBudget || cfg.ExtractBudget > maxExtractBudget {
		return Config{}, fmt.Errorf("extract budget must be between %d and %d", minExtractBudget, maxExtractBudget)
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	if cfg.LogLevel == "" {
		cfg.LogLevel = base.LogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = base.LogFormat
	}
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return Config{}, fmt.Errorf("invalid log level: %w", err)
	}
	if _, err := logging.ParseFormat(cfg.LogFormat); err != nil {
		return Config{}, fmt.Errorf("invalid log format: %w", err)
	}

	return cfg, nil
}

func loadPersistentConfig(path string) (persistentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return persistentConfig{}, err
	}

	var cfg persistentConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return persistentConfig{}, err
	}

	return cfg, nil
}

func savePersistentConfig(path string, cfg persistentConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func (h *Hub) persistConfig(cfg Config) error {
	stored, err := loadPersistentConfig(configFilePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			stored = defaultPersistentConfig()
		} else {
			return err
		}
	}

	stored.RingCapacity = cfg.RingCapacity
	stored.QueueSoftCap = cfg.QueueSoftCap
	stored.QueueHardCap = cfg.QueueHardCap
	stored.ExtractBudget = cfg.ExtractBudget
	stored.LogLevel = cfg.LogLevel
	stored.LogFormat = cfg.LogFormat
	stored.DebugMode = cfg.DebugMode
	if stored.LogLevel == "" {
		stored.LogLevel = "warn"
	}
	if stored.LogFormat == "" {
		stored.LogFormat = "text"
	}

	return savePersistentConfig(configFilePath, stored)
}

// Sample captures one emitted message for visualization and history.
type Sample struct {
	Timestamp     time.Time `json:"timestamp"`
	Kind          string    `json:"kind"`
	PayloadLen    int       `json:"payloadLen"`
	QueueDepth    int       `json:"queueDepth"`
	QueueDropped  uint64    `json:"queueDropped"`
	UnderPressure bool      `json:"underPressure"`
}

// ProcessMetrics captures runtime state for diagnostics.
type ProcessMetrics struct {
	StartTime        time.Time     `json:"startTime"`
	LastUpdated      time.Time     `json:"lastUpdated"`
	Uptime           time.Duration `json:"uptime"`
	MemoryAlloc      uint64        `json:"memoryAllocBytes"`
	MemoryTotalAlloc uint64        `json:"memoryTotalAllocBytes"`
	MemorySys        uint64        `json:"memorySysBytes"`
	NumGoroutine     int           `json:"numGoroutine"`
}

// PipelineSnapshot surfaces the ring and queue gauges at a point in time.
type PipelineSnapshot struct {
	Timestamp        time.Time        `json:"timestamp"`
	RingUsedBytes    int              `json:"ringUsedBytes"`
	RingCapacity     int              `json:"ringCapacity"`
	QueueDepth       int              `json:"queueDepth"`
	QueueSoftCap     int              `json:"queueSoftCap"`
	QueueHardCap     int              `json:"queueHardCap"`
	QueueDropped     uint64           `json:"queueDropped"`
	MessagesByKind   map[string]uint64 `json:"messagesByKind"`
	HighWaterMark    int              `json:"ringHighWaterMark"`
}

// Diagnostics bundles runtime metrics and the latest pipeline snapshot.
type Diagnostics struct {
	Process  ProcessMetrics   `json:"process"`
	Pipeline PipelineSnapshot `json:"pipeline"`
}

// HealthStatus surfaces overall process health.
type HealthStatus struct {
	Status  string         `json:"status"`
	Process ProcessMetrics `json:"process"`
	Reason  string         `json:"reason,omitempty"`
}

// Hub collects history and fan-outs telemetry updates to subscribers. It is
// the sole consumer of extraction results that cares about visualization;
// the extraction hot path never blocks on it.
type Hub struct {
	mu              sync.RWMutex
	history         []Sample
	historyLimit    int
	subscribers     map[chan Sample]struct{}
	config          Config
	logger          logging.Logger
	startTime       time.Time
	process         ProcessMetrics
	latestPipeline  *PipelineSnapshot
	messagesByKind  map[string]uint64
	highWaterMark   int
}

// NewHub builds a telemetry hub with the provided history limit.
func NewHub(historyLimit int, logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	cfg := defaultConfig()
	if stored, err := loadPersistentConfig(configFilePath); err == nil {
		if validated, vErr := validateConfig(configFromPersistent(stored), cfg); vErr == nil {
			cfg = validated
		} else {
			logger.Warn("ignoring invalid stored config", logging.Field{Key: "error", Value: vErr})
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("failed to load persisted config", logging.Field{Key: "error", Value: err})
	}
	if historyLimit <= 0 {
		historyLimit = 500
	}
	h := &Hub{
		historyLimit:   historyLimit,
		subscribers:    make(map[chan Sample]struct{}),
		config:         cfg,
		logger:         logger.With(logging.Field{Key: "subsystem", Value: "telemetry"}),
		startTime:      time.Now(),
		messagesByKind: make(map[string]uint64),
	}
	h.process = h.collectProcessMetrics()
	return h
}

// Report implements Reporter and records a newly emitted message.
func (h *Hub) Report(kind string, payloadLen int, queueDepth int, queueDropped uint64, underPressure bool) {
	sample := Sample{
		Timestamp:     time.Now(),
		Kind:          kind,
		PayloadLen:    payloadLen,
		QueueDepth:    queueDepth,
		QueueDropped:  queueDropped,
		UnderPressure: underPressure,
	}

	h.mu.Lock()
	h.history = append(h.history, sample)
	if len(h.history) > h.historyLimit {
		h.history = h.history[len(h.history)-h.historyLimit:]
	}
	h.messagesByKind[kind]++
	for ch := range h.subscribers {
		select {
		case ch <- sample:
		default:
		}
	}
	h.mu.Unlock()
}

// History returns a copy of stored telemetry samples.
func (h *Hub) History() []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Sample, len(h.history))
	copy(out, h.history)
	return out
}

// UpdatePipelineSnapshot stores the latest ring/queue gauges for diagnostics.
func (h *Hub) UpdatePipelineSnapshot(ringUsed, ringCapacity, queueDepth, queueSoftCap, queueHardCap int, queueDropped uint64) {
	h.mu.Lock()
	if ringUsed > h.highWaterMark {
		h.highWaterMark = ringUsed
	}
	byKind := make(map[string]uint64, len(h.messagesByKind))
	for k, v := range h.messagesByKind {
		byKind[k] = v
	}
	h.latestPipeline = &PipelineSnapshot{
		Timestamp:      time.Now(),
		RingUsedBytes:  ringUsed,
		RingCapacity:   ringCapacity,
		QueueDepth:     queueDepth,
		QueueSoftCap:   queueSoftCap,
		QueueHardCap:   queueHardCap,
		QueueDropped:   queueDropped,
		MessagesByKind: byKind,
		HighWaterMark:  h.highWaterMark,
	}
	h.mu.Unlock()
}

// ConfigSnapshot returns the latest validated configuration.
func (h *Hub) ConfigSnapshot() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Subscribe registers a listener for live updates.
func (h *Hub) Subscribe() (chan Sample, func()) {
	ch := make(chan Sample, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		delete(h.subscribers, ch)
		close(ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

// MultiReporter fans out telemetry to multiple destinations.
type MultiReporter []Reporter

// Report forwards telemetry to each configured reporter.
func (m MultiReporter) Report(kind string, payloadLen int, queueDepth int, queueDropped uint64, underPressure bool) {
	for _, r := range m {
		if r != nil {
			r.Report(kind, payloadLen, queueDepth, queueDropped, underPressure)
		}
	}
}

func (h *Hub) applyConfig(cfg Config) {
	h.config = cfg
}

func (h *Hub) collectProcessMetrics() ProcessMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	h.mu.RLock()
	start := h.startTime
	h.mu.RUnlock()

	metrics := ProcessMetrics{
		StartTime:        start,
		LastUpdated:      time.Now(),
		Uptime:           time.Since(start),
		MemoryAlloc:      mem.Alloc,
		MemoryTotalAlloc: mem.TotalAlloc,
		MemorySys:        mem.Sys,
		NumGoroutine:     runtime.NumGoroutine(),
	}

	h.mu.Lock()
	h.process = metrics
	h.mu.Unlock()

	return metrics
}

func (h *Hub) pipelineSnapshot() PipelineSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	snap := PipelineSnapshot{Timestamp: time.Now()}
	if h.latestPipeline != nil {
		snap = *h.latestPipeline
	}
	// Message counts are read live so reports made after the last
	// UpdatePipelineSnapshot call are included.
	byKind := make(map[string]uint64, len(h.messagesByKind))
	for k, v := range h.messagesByKind {
		byKind[k] = v
	}
	snap.MessagesByKind = byKind
	return snap
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (h *Hub) handleHistory(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.History())
}

func (h *Hub) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.ConfigSnapshot())
}

func (h *Hub) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var incoming Config
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid config payload: %v", err))
		return
	}

	h.mu.RLock()
	current := h.config
	h.mu.RUnlock()

	cfg, err := validateConfig(incoming, current)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.mu.Lock()
	h.applyConfig(cfg)
	h.mu.Unlock()

	if err := h.persistConfig(cfg); err != nil {
		h.logger.Warn("failed to persist config", logging.Field{Key: "error", Value: err})
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to save config: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(cfg)
}

func (h *Hub) handleLive(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.Subscribe()
	defer cancel()

	for _, sample := range h.History() {
		payload, _ := json.Marshal(sample)
		w.Write([]byte("data: "))
		w.Write(payload)
		w.Write([]byte("\n\n"))
	}
	flusher.Flush()

	for {
		select {
		case sample, ok := <-ch:
			if !ok {
				return
			}
			payload, _ := json.Marshal(sample)
			w.Write([]byte("data: "))
			w.Write(payload)
			w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (h *Hub) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	response := Diagnostics{
		Process:  h.collectProcessMetrics(),
		Pipeline: h.pipelineSnapshot(),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

func (h *Hub) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	snapshot := h.pipelineSnapshot()
	status := "ok"
	reason := ""
	if snapshot.QueueDropped > 0 {
		status = "degraded"
		reason = "output queue has dropped messages under backpressure"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(HealthStatus{Status: status, Process: h.collectProcessMetrics(), Reason: reason})
}

func (h *Hub) handlePipelineSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.pipelineSnapshot())
}
