// Command p2debug-stream runs the long-lived P2 debug channel pipeline: it
// opens the configured transport (a local serial port or a replayed SSH
// stream), feeds the ring buffer, extracts messages, generates responses to
// debugger snapshots, and exposes telemetry over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rjboer/p2debug/internal/config"
	"github.com/rjboer/p2debug/internal/discovery"
	"github.com/rjboer/p2debug/internal/dsp"
	"github.com/rjboer/p2debug/internal/extract"
	"github.com/rjboer/p2debug/internal/logging"
	"github.com/rjboer/p2debug/internal/response"
	"github.com/rjboer/p2debug/internal/ring"
	"github.com/rjboer/p2debug/internal/telemetry"
	"github.com/rjboer/p2debug/internal/transport"
)

func main() {
	configPath := flag.String("config", "p2debug.yaml", "path to the pipeline's YAML config file")
	flag.Parse()

	if err := run(*configPath, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string, out io.Writer) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("p2debug-stream: %w", err)
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	format, _ := logging.ParseFormat(cfg.LogFormat)
	logger := logging.New(level, format, out)
	logging.SetDefault(logger)

	if cfg.Discovery.Enabled {
		discoverBoards(logger, cfg.Discovery)
	}

	src, err := buildSource(cfg.Source)
	if err != nil {
		return fmt.Errorf("p2debug-stream: %w", err)
	}

	r := ring.New(cfg.RingCapacityBytes)
	queue := extract.NewQueue(cfg.QueueSoftCap, cfg.QueueHardCap)
	extractor := extract.New(r, queue, cfg.ExtractBudget)
	gen := response.New()
	spectrum := dsp.NewSpectrumAnalyzer()

	hub := telemetry.NewHub(500, logger)
	web := telemetry.NewWebServer(cfg.TelemetryAddr, hub, logger)
	reporter := telemetry.MultiReporter{hub, telemetry.NewStdoutReporter(logger)}

	pump := transport.NewPump(src, r, cfg.RingCapacityBytes, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go web.Start(ctx)
	go func() {
		if err := pump.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("transport pump exited", logging.Field{Key: "error", Value: err})
		}
	}()

	runPipeline(ctx, r, extractor, queue, gen, spectrum, reporter, logger)
	return nil
}

// runPipeline is the cooperative extraction loop: it periodically drains the
// queue, hands every DEBUGGER_416BYTE message to the response generator,
// runs every COG_MESSAGE ADC line through the spectrum analyzer, and reports
// telemetry for every emitted message. It never blocks on the transport and
// never holds a lock across an extraction call.
func runPipeline(ctx context.Context, r *ring.RingBuffer, e *extract.Extractor, q *extract.Queue, gen *response.Generator, spectrum *dsp.SpectrumAnalyzer, reporter telemetry.Reporter, logger logging.Logger) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.ExtractMessages()
			drainQueue(r, q, gen, spectrum, reporter, logger)
		}
	}
}

func drainQueue(r *ring.RingBuffer, q *extract.Queue, gen *response.Generator, spectrum *dsp.SpectrumAnalyzer, reporter telemetry.Reporter, logger logging.Logger) {
	for {
		msg, ok := q.Dequeue()
		if !ok {
			return
		}

		reporter.Report(msg.Kind.String(), len(msg.Payload), q.Size(), q.DropCount(), q.UnderPressure())

		switch msg.Kind {
		case extract.DebuggerSnapshot:
			reply := gen.Generate(msg.Payload)
			logger.Debug("generated debugger response", logging.Field{Key: "bytes", Value: len(reply)})
		case extract.CogMessage:
			dbfs, err := spectrum.Analyze(msg.Payload)
			if err != nil {
				logger.Debug("skipping non-ADC COG_MESSAGE line", logging.Field{Key: "error", Value: err})
				continue
			}
			if dbfs != nil {
				logger.Debug("spectrum computed", logging.Field{Key: "bins", Value: len(dbfs)})
			}
		}
	}
}

func buildSource(sc config.SourceConfig) (transport.Source, error) {
	switch sc.Kind {
	case "serial":
		return transport.NewSerialSource(sc.SerialPort, sc.SerialBaud), nil
	case "ssh":
		return transport.NewSSHReplaySource(transport.SSHConfig{
			Host:       sc.SSHHost,
			User:       sc.SSHUser,
			KeyPath:    sc.SSHKeyPath,
			DevicePath: sc.SSHDevicePath,
		})
	default:
		return nil, fmt.Errorf("unsupported source kind %q", sc.Kind)
	}
}

func discoverBoards(logger logging.Logger, dc config.DiscoveryConfig) {
	boards, err := discovery.DiscoverBoards(context.Background(), dc.Service, time.Duration(dc.TimeoutSeconds)*time.Second)
	if err != nil {
		logger.Warn("board discovery failed", logging.Field{Key: "error", Value: err})
		return
	}
	for _, b := range boards {
		logger.Info("discovered board", logging.Field{Key: "instance", Value: b.Instance}, logging.Field{Key: "addresses", Value: b.Addresses})
	}
}
