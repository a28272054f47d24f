// Package transport owns the ring buffer's single writer: it pulls raw
// bytes from a serial port or a remote SSH-replayed stream and appends them
// to the ring, reconnecting with exponential backoff when the underlying
// link drops. Nothing else in this module calls ring.AppendAtTail.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/rjboer/p2debug/internal/logging"
	"github.com/rjboer/p2debug/internal/ring"
)

// Source is a reconnectable byte stream: a serial port, a replayed SSH
// session, or anything else that produces P2 debug channel bytes. Dial
// opens (or re-opens) the underlying connection; the returned ReadCloser is
// read until it errors or ctx is canceled, then closed.
type Source interface {
	Dial(ctx context.Context) (io.ReadCloser, error)
	Name() string
}

// Pump reads from a Source and appends everything it reads to a ring
// buffer. It never blocks on downstream consumers: if the ring is full it
// simply stops reading until the extractor has drained some of it, exactly
// mirroring backpressure at the socket layer the teacher's connection
// manager applies to its own streaming reads.
type Pump struct {
	src     Source
	ring    *ring.RingBuffer
	log     logging.Logger
	scratch []byte

	backoffInitial time.Duration
	backoffMax     time.Duration
}

// NewPump builds a Pump. scratchSize bounds how many bytes are read from the
// source per Read call; it should not exceed the ring's capacity.
func NewPump(src Source, r *ring.RingBuffer, scratchSize int, logger logging.Logger) *Pump {
	if logger == nil {
		logger = logging.Default()
	}
	if scratchSize <= 0 {
		scratchSize = 4096
	}
	return &Pump{
		src:            src,
		ring:           r,
		log:            logger.With(logging.Field{Key: "subsystem", Value: "transport"}, logging.Field{Key: "source", Value: src.Name()}),
		scratch:        make([]byte, scratchSize),
		backoffInitial: 200 * time.Millisecond,
		backoffMax:     30 * time.Second,
	}
}

// Run connects to the source and pumps bytes into the ring until ctx is
// canceled. Connection failures are retried with exponential backoff; a
// successful connection resets the backoff interval so a single transient
// fault is never penalized on the next attempt.
func (p *Pump) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.backoffInitial
	b.MaxInterval = p.backoffMax
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wasConnected, err := p.connectAndPump(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if wasConnected {
			b.Reset()
		}
		if err != nil {
			p.log.Warn("connection ended", logging.Field{Key: "error", Value: err})
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("transport: backoff exhausted for %s", p.src.Name())
		}
		p.log.Info("reconnecting", logging.Field{Key: "after", Value: wait})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// connectAndPump dials once and reads until the connection errors or ctx is
// canceled. It returns wasConnected=true if the dial succeeded, regardless
// of how the subsequent read loop ended.
func (p *Pump) connectAndPump(ctx context.Context) (wasConnected bool, err error) {
	conn, err := p.src.Dial(ctx)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", p.src.Name(), err)
	}
	defer conn.Close()

	p.log.Info("connected")
	readErr := p.pumpLoop(ctx, conn)
	if errors.Is(readErr, io.EOF) || errors.Is(readErr, context.Canceled) {
		return true, nil
	}
	return true, readErr
}

// pumpLoop reads from conn and appends to the ring, blocking (via a short
// sleep, not a busy spin) whenever the ring has no room so that a backed-up
// extractor naturally slows the source.
func (p *Pump) pumpLoop(ctx context.Context, conn io.Reader) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		avail := p.ring.AvailableSpace()
		if avail == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Millisecond):
			}
			continue
		}

		window := p.scratch
		if avail < len(window) {
			window = window[:avail]
		}

		n, err := conn.Read(window)
		if n > 0 {
			if appendErr := p.ring.AppendAtTail(window[:n]); appendErr != nil {
				p.log.Error("dropping read, ring rejected append", logging.Field{Key: "error", Value: appendErr})
			}
		}
		if err != nil {
			return err
		}
	}
}
