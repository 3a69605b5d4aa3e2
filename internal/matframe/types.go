// Package matframe defines the frame types that flow through the pressure-mat
// acquisition pipeline: per-link Frames decoded off the wire, LogicalFrames
// combined across links, and TransformedFrames ready for consumers.
package matframe

import (
	"fmt"
	"time"
)

// FrameHeader is the fixed 4-byte marker that precedes every sensor frame on
// the wire.
var FrameHeader = [4]byte{0xAA, 0x55, 0x03, 0x99}

// MaxPayload is the maximum body size of a single wire frame in bytes. One
// 32x32 mat produces exactly 1024 one-byte samples per frame.
const MaxPayload = 1024

// MaxLinks is the maximum number of serial links the pipeline will combine.
const MaxLinks = 3

// Frame is one decoded, length-validated unit of sensor payload from a single
// link. Frames are immutable once created; the Payload slice must not be
// modified after construction.
type Frame struct {
	// LinkID identifies the link the frame arrived on (0-based bind order).
	LinkID int

	// Sequence is the per-link monotonic frame counter assigned by the
	// decoder, not taken from the wire.
	Sequence uint64

	// CaptureTime is the wall-clock time the frame finished decoding.
	CaptureTime time.Time

	// Payload holds the frame body, at most MaxPayload bytes.
	Payload []byte

	// PayloadLength equals len(Payload) and matches the wire length field.
	PayloadLength int
}

// LogicalFrame is the time-aligned combination of one Frame per bound link.
// Members are ordered by link index (bind order), not arrival order.
type LogicalFrame struct {
	// Sequence is the synchronizer's own monotonic counter, independent of
	// the per-link counters.
	Sequence uint64

	// CaptureTime is the earliest member capture time.
	CaptureTime time.Time

	// Members holds one frame per contributing link, in link-index order.
	Members []Frame

	// TotalLength is the sum of member payload lengths.
	TotalLength int

	// StaleMask has bit i set when member i is a re-used frame from a link
	// that produced nothing within the synchronization window.
	StaleMask uint8
}

// Stale reports whether the member at link index i was re-used stale data.
func (lf *LogicalFrame) Stale(i int) bool {
	return lf.StaleMask&(1<<uint(i)) != 0
}

// CombinedPayload concatenates the member payloads in link-index order.
func (lf *LogicalFrame) CombinedPayload() []byte {
	out := make([]byte, 0, lf.TotalLength)
	for i := range lf.Members {
		out = append(out, lf.Members[i].Payload...)
	}
	return out
}

// TransformedFrame is a LogicalFrame whose combined payload has passed
// through the geometric re-indexing step. Reindexed is false when the payload
// was not transform-eligible and passed through unchanged.
type TransformedFrame struct {
	LogicalFrame

	// Payload is the combined (and possibly re-indexed) member payload.
	Payload []byte

	// Reindexed is true when the re-indexing permutation was applied.
	Reindexed bool
}

// ArrayShape describes the sensor grid geometry as rows x cols of one-byte
// samples.
type ArrayShape struct {
	Rows int
	Cols int
}

// Supported mat geometries. A 32x64 walkway is two mats side by side and a
// 32x96 walkway is three.
var (
	Shape32x32 = ArrayShape{Rows: 32, Cols: 32}
	Shape32x64 = ArrayShape{Rows: 32, Cols: 64}
	Shape32x96 = ArrayShape{Rows: 32, Cols: 96}
)

// SupportedShapes lists the shapes the pipeline will fit payloads to.
var SupportedShapes = []ArrayShape{Shape32x32, Shape32x64, Shape32x96}

// Points returns the number of samples in the grid.
func (s ArrayShape) Points() int { return s.Rows * s.Cols }

// String returns the shape in "RxC" form, e.g. "32x96".
func (s ArrayShape) String() string { return fmt.Sprintf("%dx%d", s.Rows, s.Cols) }

// ShapeForLength returns the supported shape whose point count matches n.
func ShapeForLength(n int) (ArrayShape, bool) {
	for _, s := range SupportedShapes {
		if s.Points() == n {
			return s, true
		}
	}
	return ArrayShape{}, false
}

// ParseShape parses a "RxC" shape string against the supported set.
func ParseShape(v string) (ArrayShape, error) {
	for _, s := range SupportedShapes {
		if s.String() == v {
			return s, nil
		}
	}
	return ArrayShape{}, fmt.Errorf("unsupported array shape %q (expected one of 32x32, 32x64, 32x96)", v)
}
