// Package ring implements the fixed-capacity byte FIFO that sits between
// the P2 debug transport and the message extractor.
//
// A RingBuffer is single-writer/single-reader: the transport is the only
// caller of AppendAtTail, the extractor is the only caller of PeekAt,
// Next, and Consume. Under that discipline the head/tail bookkeeping
// needs no lock, matching the cooperative scheduling model the pipeline
// runs under.
package ring

import "fmt"

// ErrFull is returned by AppendAtTail when the requested write does not
// fit in the currently available space. The write is rejected in full;
// AppendAtTail never performs a partial write.
var ErrFull = fmt.Errorf("ring: buffer full")

// RingBuffer is a fixed-capacity circular byte buffer. The zero value is
// not usable; construct one with New.
type RingBuffer struct {
	buf  []byte
	head int // logical read position, in [0, cap)
	tail int // logical write position, in [0, cap)
	used int // occupied bytes, in [0, cap]
}

// New allocates a RingBuffer with the given fixed capacity in bytes.
func New(capacity int) *RingBuffer {
	if capacity <= 0 {
		panic("ring: capacity must be positive")
	}
	return &RingBuffer{buf: make([]byte, capacity)}
}

// BufferSize returns the fixed capacity the ring was constructed with.
func (r *RingBuffer) BufferSize() int {
	return len(r.buf)
}

// UsedSpace returns the number of bytes currently stored.
func (r *RingBuffer) UsedSpace() int {
	return r.used
}

// AvailableSpace returns the number of bytes that can still be appended.
func (r *RingBuffer) AvailableSpace() int {
	return len(r.buf) - r.used
}

// HasData reports whether any bytes are available to read.
func (r *RingBuffer) HasData() bool {
	return r.used > 0
}

// Clear discards all buffered bytes without copying anything out.
func (r *RingBuffer) Clear() {
	r.head = 0
	r.tail = 0
	r.used = 0
}

// AppendAtTail writes all of src to the tail of the ring. It either
// writes every byte of src or none of them; ErrFull is returned when
// src does not fit in the available space.
func (r *RingBuffer) AppendAtTail(src []byte) error {
	if len(src) > r.AvailableSpace() {
		return ErrFull
	}
	if len(src) == 0 {
		return nil
	}

	n := copy(r.buf[r.tail:], src)
	if n < len(src) {
		copy(r.buf, src[n:])
	}
	r.tail = (r.tail + len(src)) % len(r.buf)
	r.used += len(src)
	return nil
}

// PeekAt returns the byte at the given logical offset from the head
// without consuming it. ok is false when offset is outside [0, UsedSpace).
func (r *RingBuffer) PeekAt(offset int) (b byte, ok bool) {
	if offset < 0 || offset >= r.used {
		return 0, false
	}
	idx := (r.head + offset) % len(r.buf)
	return r.buf[idx], true
}

// Next pops a single byte from the head of the ring, equivalent to
// PeekAt(0) followed by Consume(1). ok is false when the ring is empty.
func (r *RingBuffer) Next() (b byte, ok bool) {
	b, ok = r.PeekAt(0)
	if !ok {
		return 0, false
	}
	r.Consume(1)
	return b, true
}

// Consume advances the head by n bytes, permanently discarding them. It
// panics if n exceeds UsedSpace — that indicates a caller bug (an
// invariant violation per the extractor's contract), not a transient
// condition callers are expected to recover from.
func (r *RingBuffer) Consume(n int) {
	if n < 0 || n > r.used {
		panic(fmt.Sprintf("ring: consume(%d) exceeds used space %d", n, r.used))
	}
	r.head = (r.head + n) % len(r.buf)
	r.used -= n
}

// CopyOut copies n bytes starting at logical offset 0 (the head) into a
// freshly allocated slice, without consuming them. Callers that want to
// both inspect and then discard the same bytes should follow CopyOut
// with Consume(n).
func (r *RingBuffer) CopyOut(n int) []byte {
	if n <= 0 {
		return nil
	}
	if n > r.used {
		panic(fmt.Sprintf("ring: copyOut(%d) exceeds used space %d", n, r.used))
	}
	out := make([]byte, n)
	first := len(r.buf) - r.head
	if first >= n {
		copy(out, r.buf[r.head:r.head+n])
	} else {
		copy(out, r.buf[r.head:])
		copy(out[first:], r.buf[:n-first])
	}
	return out
}
