// Package response builds the fixed 75-byte reply that unblocks a P2 COG
// after it has been halted by the debugger and has emitted a 416-byte
// snapshot. It has no dependency on the ring or the extraction queue —
// downstream consumers call it once per DEBUGGER_416BYTE message.
package response

import "encoding/binary"

const (
	// Size is the fixed length, in bytes, of a debugger response frame.
	Size = 75

	cogChecksumLen  = 16
	hubChecksumLen  = 31
	hubRequestWords = 5
	hubRequestLen   = hubRequestWords * 4
	cogbrkLen       = 4
	stallLen        = 4

	snapshotLen      = 416
	cogSubBlockLen   = 40
	hubSubBlock1Len  = 128
	hubSubBlock2Len  = 248
)

// stallWord is the fixed 32-bit stall command, 0x80000000, encoded
// little-endian: its final byte is 0x80 and the rest are zero.
const stallWord uint32 = 0x80000000

// Generator produces deterministic 75-byte responses for 416-byte
// debugger snapshots. It carries a small amount of per-session state (a
// nonce folded into the Hub request words) that Reset clears; downstream
// callers invoke Reset when the serial port's DTR line is toggled, which
// the P2 debug bridge uses to signal a fresh session.
type Generator struct {
	nonce uint32
}

// New constructs a Generator with fresh per-session state.
func New() *Generator {
	return &Generator{}
}

// Reset clears the accumulated per-session nonce. Call it whenever the
// underlying connection is re-established (DTR toggle).
func (g *Generator) Reset() {
	g.nonce = 0
}

// Generate builds the 75-byte response for a 416-byte debugger snapshot
// payload. It panics if payload is not exactly snapshotLen bytes long —
// callers are expected to pass only DEBUGGER_416BYTE message payloads,
// which the extractor guarantees are always exactly 416 bytes.
func (g *Generator) Generate(payload []byte) []byte {
	if len(payload) != snapshotLen {
		panic("response: payload must be exactly 416 bytes")
	}

	cogBlock := payload[:cogSubBlockLen]
	hubBlock := payload[cogSubBlockLen:]

	out := make([]byte, Size)
	off := 0

	fold(out[off:off+cogChecksumLen], cogBlock)
	off += cogChecksumLen

	fold(out[off:off+hubChecksumLen], hubBlock)
	off += hubChecksumLen

	g.nonce++
	for i := 0; i < hubRequestWords; i++ {
		word := hubRequestWord(hubBlock, g.nonce, i)
		binary.LittleEndian.PutUint32(out[off:off+4], word)
		off += 4
	}

	binary.LittleEndian.PutUint32(out[off:off+4], cogbrkWord(cogBlock, g.nonce))
	off += cogbrkLen

	binary.LittleEndian.PutUint32(out[off:off+4], stallWord)
	off += stallLen

	return out
}

// fold derives len(dst) pseudo-checksum bytes from src by accumulating a
// simple rolling sum per output slot. It is not a cryptographic or
// error-detecting checksum — the wire format's checksum semantics are a
// contract of the P2 debugger firmware, outside this core's scope — it
// only needs to be deterministic for a given input.
func fold(dst, src []byte) {
	if len(src) == 0 {
		return
	}
	var acc uint32
	for i, b := range src {
		acc = acc*31 + uint32(b) + uint32(i)
		dst[i%len(dst)] ^= byte(acc)
		dst[i%len(dst)] += byte(acc >> 8)
	}
}

// hubRequestWord derives the i-th of the five 32-bit Hub request words
// from the Hub sub-blocks and the current session nonce.
func hubRequestWord(hubBlock []byte, nonce uint32, i int) uint32 {
	var acc uint32 = nonce ^ uint32(i)*0x9e3779b1
	stride := len(hubBlock) / hubRequestWords
	start := i * stride
	end := start + stride
	if i == hubRequestWords-1 {
		end = len(hubBlock)
	}
	for _, b := range hubBlock[start:end] {
		acc = acc*131 + uint32(b)
	}
	return acc
}

// cogbrkWord derives the COGBRK request word from the COG sub-block and
// the current session nonce.
func cogbrkWord(cogBlock []byte, nonce uint32) uint32 {
	acc := nonce
	for _, b := range cogBlock {
		acc = acc*101 + uint32(b)
	}
	return acc
}
