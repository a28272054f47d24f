package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rjboer/p2debug/internal/ring"
)

type pipeSource struct {
	conn net.Conn
}

func (p *pipeSource) Name() string { return "pipe" }

func (p *pipeSource) Dial(ctx context.Context) (io.ReadCloser, error) {
	return p.conn, nil
}

func TestPumpAppendsReadBytesToRing(t *testing.T) {
	client, server := net.Pipe()
	r := ring.New(64)
	p := NewPump(&pipeSource{conn: server}, r, 16, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	if _, err := client.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.After(time.Second)
	for r.UsedSpace() < 5 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for ring to receive bytes, used=%d", r.UsedSpace())
		case <-time.After(time.Millisecond):
		}
	}

	out := r.CopyOut(5)
	if string(out) != "hello" {
		t.Fatalf("got %q, want %q", out, "hello")
	}

	cancel()
	client.Close()
	<-done
}

func TestPumpStopsReadingWhenRingIsFull(t *testing.T) {
	client, server := net.Pipe()
	r := ring.New(4)
	if err := r.AppendAtTail([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("prefill: %v", err)
	}
	p := NewPump(&pipeSource{conn: server}, r, 16, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	writeErr := make(chan error, 1)
	go func() {
		_, err := client.Write([]byte{9})
		writeErr <- err
	}()

	select {
	case <-writeErr:
		t.Fatalf("write completed even though the ring had no space")
	case <-time.After(50 * time.Millisecond):
	}

	r.Consume(4)

	select {
	case err := <-writeErr:
		if err != nil {
			t.Fatalf("write: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("pump never drained the ring to accept the pending write")
	}

	client.Close()
	cancel()
	<-done
}

func TestPumpReconnectsAfterSourceError(t *testing.T) {
	attempts := 0
	src := &flakySource{
		dial: func() (io.ReadCloser, error) {
			attempts++
			if attempts == 1 {
				return nil, errors.New("first attempt fails")
			}
			r, w := io.Pipe()
			w.Close()
			return r, nil
		},
	}
	p := NewPump(src, ring.New(64), 16, nil)
	p.backoffInitial = time.Millisecond
	p.backoffMax = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = p.Run(ctx)

	if attempts < 2 {
		t.Fatalf("expected at least 2 dial attempts, got %d", attempts)
	}
}

type flakySource struct {
	dial func() (io.ReadCloser, error)
}

func (f *flakySource) Name() string { return "flaky" }
func (f *flakySource) Dial(ctx context.Context) (io.ReadCloser, error) {
	return f.dial()
}
