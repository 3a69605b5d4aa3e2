// Package decode turns a raw per-link byte stream into validated frames.
//
// The wire format is a fixed 4-byte header (AA 55 03 99) followed by a
// big-endian uint16 length and a body of at most 1024 bytes. Decoding is a
// byte-level state machine that resynchronizes on any malformed input rather
// than failing: bad headers slide the scan forward one byte, oversize length
// fields discard the partial frame and return to header scanning.
package decode

import (
	"sync/atomic"

	"github.com/gaitworks/pressuremat/internal/matframe"
	"github.com/gaitworks/pressuremat/internal/timeutil"
)

// LengthFieldSize is the size of the big-endian length prefix in bytes.
const LengthFieldSize = 2

type state int

const (
	seekingHeader state = iota
	readingLength
	readingBody
)

// Decoder is the per-link framing state machine. It is exclusively owned by
// its link's reader goroutine; only the counters may be read concurrently.
type Decoder struct {
	linkID int
	clock  timeutil.Clock

	st        state
	headerPos int
	lengthBuf [LengthFieldSize]byte
	lengthPos int
	bodyLen   int
	body      []byte

	seq uint64

	frames        atomic.Uint64
	framingErrors atomic.Uint64
	resyncs       atomic.Uint64
	bytes         atomic.Uint64
}

// Stats is a point-in-time snapshot of the decoder counters.
type Stats struct {
	Frames        uint64 `json:"frames"`
	FramingErrors uint64 `json:"framing_errors"`
	Resyncs       uint64 `json:"resyncs"`
	Bytes         uint64 `json:"bytes"`
}

// NewDecoder creates a decoder for the given link. A nil clock falls back to
// the real clock.
func NewDecoder(linkID int, clock timeutil.Clock) *Decoder {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Decoder{
		linkID: linkID,
		clock:  clock,
		body:   make([]byte, 0, matframe.MaxPayload),
	}
}

// Feed advances the state machine over data and returns any frames completed
// by it. Partial frames carry over to the next call; malformed input is
// counted and skipped, never returned as an error.
func (d *Decoder) Feed(data []byte) []*matframe.Frame {
	d.bytes.Add(uint64(len(data)))

	var out []*matframe.Frame
	for _, b := range data {
		switch d.st {
		case seekingHeader:
			if b == matframe.FrameHeader[d.headerPos] {
				d.headerPos++
				if d.headerPos == len(matframe.FrameHeader) {
					d.st = readingLength
					d.lengthPos = 0
				}
				continue
			}
			if d.headerPos > 0 {
				// Partial header abandoned: slide forward. The mismatched
				// byte may itself start a new header.
				d.resyncs.Add(1)
				d.headerPos = 0
				if b == matframe.FrameHeader[0] {
					d.headerPos = 1
				}
			}

		case readingLength:
			d.lengthBuf[d.lengthPos] = b
			d.lengthPos++
			if d.lengthPos < LengthFieldSize {
				continue
			}
			n := int(d.lengthBuf[0])<<8 | int(d.lengthBuf[1])
			if n == 0 || n > matframe.MaxPayload {
				d.discard()
				continue
			}
			d.bodyLen = n
			d.body = d.body[:0]
			d.st = readingBody

		case readingBody:
			if len(d.body) >= matframe.MaxPayload {
				// Accumulation bound exceeded; treat as a framing error.
				d.discard()
				continue
			}
			d.body = append(d.body, b)
			if len(d.body) == d.bodyLen {
				out = append(out, d.complete())
			}
		}
	}
	return out
}

// complete finalises the current body into a Frame and resets the machine to
// scan for the next header.
func (d *Decoder) complete() *matframe.Frame {
	payload := make([]byte, d.bodyLen)
	copy(payload, d.body)

	d.seq++
	d.frames.Add(1)

	f := &matframe.Frame{
		LinkID:        d.linkID,
		Sequence:      d.seq,
		CaptureTime:   d.clock.Now(),
		Payload:       payload,
		PayloadLength: d.bodyLen,
	}
	d.reset()
	return f
}

// discard drops the partial frame and resynchronizes.
func (d *Decoder) discard() {
	d.framingErrors.Add(1)
	d.resyncs.Add(1)
	d.reset()
}

func (d *Decoder) reset() {
	d.st = seekingHeader
	d.headerPos = 0
	d.lengthPos = 0
	d.bodyLen = 0
	d.body = d.body[:0]
}

// LinkID returns the link index the decoder was created for.
func (d *Decoder) LinkID() int { return d.linkID }

// Sequence returns the last assigned frame sequence number.
func (d *Decoder) Sequence() uint64 { return d.frames.Load() }

// Stats returns a snapshot of the decoder counters. Safe to call from any
// goroutine.
func (d *Decoder) Stats() Stats {
	return Stats{
		Frames:        d.frames.Load(),
		FramingErrors: d.framingErrors.Load(),
		Resyncs:       d.resyncs.Load(),
		Bytes:         d.bytes.Load(),
	}
}

// EncodeFrame builds the wire representation of a frame body: header, length
// prefix, body. Used by tests and the dev-mode synthetic sensor.
func EncodeFrame(body []byte) []byte {
	out := make([]byte, 0, len(matframe.FrameHeader)+LengthFieldSize+len(body))
	out = append(out, matframe.FrameHeader[:]...)
	out = append(out, byte(len(body)>>8), byte(len(body)))
	out = append(out, body...)
	return out
}
