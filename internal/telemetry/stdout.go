package telemetry

import "github.com/rjboer/p2debug/internal/logging"

// Reporter captures one emitted message's telemetry.
type Reporter interface {
	Report(kind string, payloadLen int, queueDepth int, queueDropped uint64, underPressure bool)
}

// StdoutReporter logs emitted messages through the structured logger.
type StdoutReporter struct {
	logger logging.Logger
}

// NewStdoutReporter builds a stdout reporter with the provided logger.
func NewStdoutReporter(logger logging.Logger) StdoutReporter {
	if logger == nil {
		logger = logging.Default()
	}
	return StdoutReporter{logger: logger}
}

func (r StdoutReporter) Report(kind string, payloadLen int, queueDepth int, queueDropped uint64, underPressure bool) {
	fields := []logging.Field{
		{Key: "subsystem", Value: "telemetry"},
		{Key: "kind", Value: kind},
		{Key: "payload_len", Value: payloadLen},
		{Key: "queue_depth", Value: queueDepth},
	}
	if queueDropped > 0 {
		fields = append(fields, logging.Field{Key: "queue_dropped", Value: queueDropped})
	}
	if underPressure {
		fields = append(fields, logging.Field{Key: "under_pressure", Value: true})
	}
	r.logger.Info("message emitted", fields...)
}
