package extract

import "github.com/rjboer/p2debug/internal/ring"

// packetStatus classifies a candidate debugger-snapshot lead byte.
type packetStatus int

const (
	statusEmit packetStatus = iota
	statusIncomplete
	statusFallThrough
)

// Extractor pulls bytes from a ring.RingBuffer, identifies the next
// message boundary, and emits exactly one Message per successful parse,
// advancing the ring by exactly the bytes consumed. It never consumes
// bytes speculatively: on ambiguity (an incomplete line, fewer than 416
// bytes for a snapshot candidate) it returns having consumed nothing.
type Extractor struct {
	ring   *ring.RingBuffer
	queue  *Queue
	budget int // messages per ExtractMessages call; 0 means unbounded

	// absoluteOffset is the logical stream position of the next byte to
	// be read from the ring — i.e. the total number of bytes consumed
	// from this ring since construction. It is monotonically
	// non-decreasing and used to stamp SourceOffset.
	absoluteOffset int64

	// Cancel, when non-nil, is polled at the start of each iteration of
	// the emit loop, before the next frame is parsed. A cancellation
	// observed there returns without consuming any ring bytes.
	Cancel func() bool
}

// New constructs an Extractor reading from r and, for ExtractMessages,
// pushing into q. budget caps the number of messages emitted per
// ExtractMessages/ExtractBatch call; 0 means unbounded within the ring's
// currently buffered contents.
func New(r *ring.RingBuffer, q *Queue, budget int) *Extractor {
	return &Extractor{ring: r, queue: q, budget: budget}
}

// ExtractMessages runs the extraction loop, pushing each emitted Message
// onto the Extractor's configured Queue, until the ring's head cannot
// start a complete message with currently buffered bytes, the queue
// signals backpressure, or the per-call budget is exhausted. It returns
// whether more work might be pending.
func (e *Extractor) ExtractMessages() (hasMore bool) {
	count := 0
	for {
		if e.queue.Full() {
			return true
		}
		if e.Cancel != nil && e.Cancel() {
			return true
		}
		if e.budget > 0 && count >= e.budget {
			return e.peekHasMore()
		}

		msg, frameLen, ok := e.parseOne()
		if !ok {
			return false
		}
		if !e.queue.Enqueue(msg) {
			// The Full() check above should make this unreachable under
			// the single-writer discipline, but if it happens the frame
			// must not be consumed.
			return true
		}
		e.commit(frameLen)
		count++

		if e.queue.UnderPressure() {
			return true
		}
	}
}

// ExtractBatch behaves like ExtractMessages but collects emitted
// messages for the caller instead of pushing them to a Queue; the
// caller owns queue placement and any backpressure decisions.
func (e *Extractor) ExtractBatch() (messages []Message, hasMore bool) {
	count := 0
	for {
		if e.Cancel != nil && e.Cancel() {
			return messages, true
		}
		if e.budget > 0 && count >= e.budget {
			return messages, e.peekHasMore()
		}

		msg, frameLen, ok := e.parseOne()
		if !ok {
			return messages, false
		}
		messages = append(messages, msg)
		e.commit(frameLen)
		count++
	}
}

func (e *Extractor) commit(frameLen int) {
	e.ring.Consume(frameLen)
	e.absoluteOffset += int64(frameLen)
}

// peekHasMore reports whether another message could be extracted right
// now, without allocating a payload or consuming any bytes.
func (e *Extractor) peekHasMore() bool {
	_, _, _, ok := e.nextFrame()
	return ok
}

// parseOne locates the next complete frame (if any) and copies its
// payload out of the ring without consuming it. The caller decides
// whether to commit (consume frameLen bytes) or discard the candidate.
func (e *Extractor) parseOne() (Message, int, bool) {
	kind, payloadLen, frameLen, ok := e.nextFrame()
	if !ok {
		return Message{}, 0, false
	}
	payload := e.ring.CopyOut(payloadLen)
	return Message{
		Kind:         kind,
		Payload:      payload,
		Confidence:   1.0,
		SourceOffset: e.absoluteOffset,
	}, frameLen, true
}

// nextFrame determines the kind, payload length, and total frame length
// (payload plus any terminator) of the next message the ring head can
// produce, without touching the ring beyond PeekAt. ok is false when no
// complete message is available yet.
func (e *Extractor) nextFrame() (kind Kind, payloadLen, frameLen int, ok bool) {
	b0, has := e.ring.PeekAt(0)
	if !has {
		return 0, 0, 0, false
	}

	if b0 <= 0x07 {
		switch e.classifyDebuggerCandidate(b0) {
		case statusEmit:
			return DebuggerSnapshot, SnapshotSize, SnapshotSize, true
		case statusIncomplete:
			return 0, 0, 0, false
		case statusFallThrough:
			// b0 was not in fact a snapshot lead; absorb it as an
			// ordinary text byte below.
		}
	}

	return e.locateTextLine()
}

// classifyDebuggerCandidate implements the length, shape, and COG-ID
// gates of a candidate debugger-snapshot frame whose lead byte is
// cogID. It is total on any input: every input byte in [0,7] produces
// one of the three statuses, never a panic or an error.
func (e *Extractor) classifyDebuggerCandidate(cogID byte) packetStatus {
	if e.ring.UsedSpace() < SnapshotSize {
		return statusIncomplete
	}

	b1, _ := e.ring.PeekAt(1)
	b2, _ := e.ring.PeekAt(2)
	b3, _ := e.ring.PeekAt(3)
	if b1 != 0 || b2 != 0 || b3 != 0 {
		return statusFallThrough
	}
	if cogID > 7 {
		return statusFallThrough
	}
	return statusEmit
}

// locateTextLine scans from the ring head for a CR, LF, or CRLF
// terminator. It reports the candidate text line's payload length
// (bytes before the terminator) and frame length (payload plus
// terminator). ok is false when the buffered bytes end before any
// terminator is found — the line is incomplete and must wait.
func (e *Extractor) locateTextLine() (Kind, int, int, bool) {
	used := e.ring.UsedSpace()
	for i := 0; i < used; i++ {
		b, _ := e.ring.PeekAt(i)
		if b != '\r' && b != '\n' {
			continue
		}

		frameLen := i + 1
		if b == '\r' {
			if next, ok := e.ring.PeekAt(i + 1); ok && next == '\n' {
				frameLen = i + 2
			}
		}
		return CogMessage, i, frameLen, true
	}
	return 0, 0, 0, false
}
