// Command p2debug-replay feeds a captured binary log file through the
// extraction pipeline and prints every emitted message, for offline
// debugging of a capture against the framing rules without live hardware.
package main

import (
	"bytes"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/rjboer/p2debug/internal/extract"
	"github.com/rjboer/p2debug/internal/response"
	"github.com/rjboer/p2debug/internal/ring"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	path := flag.String("file", "", "path to a captured binary log of raw P2 debug channel bytes")
	ringCapacity := flag.Int("ring-capacity", 1<<16, "ring buffer capacity in bytes")
	chunkSize := flag.Int("chunk-size", 64, "bytes appended to the ring per iteration, simulating serial read chunking")
	flag.Parse()

	if *path == "" {
		log.Fatal("-file is required")
	}

	data, err := os.ReadFile(*path)
	if err != nil {
		log.Fatalf("read capture: %v", err)
	}

	if err := replay(data, *ringCapacity, *chunkSize, os.Stdout); err != nil {
		log.Fatalf("replay: %v", err)
	}
}

// replay drains data into r in chunkSize pieces, running the extractor after
// every append, and writes a one-line summary of each emitted message to w.
func replay(data []byte, ringCapacity, chunkSize int, w *os.File) error {
	r := ring.New(ringCapacity)
	queue := extract.NewQueue(1<<20, 1<<20) // effectively unbounded for offline replay
	extractor := extract.New(r, queue, 0)
	gen := response.New()

	remaining := bytes.NewReader(data)
	buf := make([]byte, chunkSize)

	for {
		n, readErr := remaining.Read(buf)
		if n > 0 {
			if err := feedChunk(r, extractor, queue, gen, buf[:n], w); err != nil {
				return err
			}
		}
		if readErr != nil {
			break
		}
	}

	// Drain whatever the ring can still yield once the capture is exhausted,
	// in case the last chunk completed a pending frame.
	extractor.ExtractMessages()
	return drainAndPrint(queue, gen, w)
}

// feedChunk appends one chunk to the ring in pieces that fit its free
// space, running the extractor and draining the queue before each piece so
// a chunk larger than the free space can still be appended. It returns an
// error when the ring is full and the extractor cannot free any of it.
func feedChunk(r *ring.RingBuffer, extractor *extract.Extractor, queue *extract.Queue, gen *response.Generator, chunk []byte, w *os.File) error {
	for len(chunk) > 0 {
		extractor.ExtractMessages()
		if err := drainAndPrint(queue, gen, w); err != nil {
			return err
		}

		n := r.AvailableSpace()
		if n == 0 {
			return fmt.Errorf("ring buffer exhausted: no room for capture bytes and nothing left to extract")
		}
		if n > len(chunk) {
			n = len(chunk)
		}
		if err := r.AppendAtTail(chunk[:n]); err != nil {
			return err
		}
		chunk = chunk[n:]
	}
	return nil
}

func drainAndPrint(queue *extract.Queue, gen *response.Generator, w *os.File) error {
	for {
		msg, ok := queue.Dequeue()
		if !ok {
			return nil
		}

		switch msg.Kind {
		case extract.CogMessage:
			fmt.Fprintf(w, "[%s] offset=%d %q\n", msg.Kind, msg.SourceOffset, string(msg.Payload))
		case extract.DebuggerSnapshot:
			reply := gen.Generate(msg.Payload)
			fmt.Fprintf(w, "[%s] offset=%d payload=%s response=%s\n",
				msg.Kind, msg.SourceOffset, hex.EncodeToString(msg.Payload[:16])+"...", hex.EncodeToString(reply))
		default:
			fmt.Fprintf(w, "[%s] offset=%d %d bytes\n", msg.Kind, msg.SourceOffset, len(msg.Payload))
		}
	}
}
