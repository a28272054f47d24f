// Package extract demultiplexes the byte stream buffered in a
// ring.RingBuffer into typed Message values, disambiguating
// framed binary debugger snapshots from line-terminated text even when
// the lead byte is ambiguous.
package extract

// Kind identifies the framing a Message was recognized under.
type Kind int

const (
	// CogMessage is a CR/LF/CRLF-terminated text line emitted by a COG
	// or the main program.
	CogMessage Kind = iota
	// DebuggerSnapshot is a fixed 416-byte binary debugger packet whose
	// first byte is the originating COG ID.
	DebuggerSnapshot
	// UnknownBinary is reserved for a future extension; the routing in
	// nextFrame is exhaustive over every lead byte today, so no path
	// emits it.
	UnknownBinary
)

func (k Kind) String() string {
	switch k {
	case CogMessage:
		return "COG_MESSAGE"
	case DebuggerSnapshot:
		return "DEBUGGER_416BYTE"
	case UnknownBinary:
		return "UNKNOWN_BINARY"
	default:
		return "UNKNOWN_KIND"
	}
}

// SnapshotSize is the fixed length, in bytes, of a debugger snapshot frame.
const SnapshotSize = 416

// Message is a single demultiplexed unit of the debug stream.
type Message struct {
	Kind Kind
	// Payload is a freshly owned copy; it never aliases the ring's
	// backing array.
	Payload []byte
	// Confidence is 1.0 for every message this core emits today. It is
	// carried in the type to leave room for a future sniffer that emits
	// a weaker signal for UnknownBinary frames.
	Confidence float64
	// SourceOffset is the logical ring offset, at the moment of
	// extraction, of the first byte of the frame (including any
	// terminator bytes consumed as part of the frame).
	SourceOffset int64
}
