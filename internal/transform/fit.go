package transform

import "github.com/gaitworks/pressuremat/internal/matframe"

// Adjustment records how Fit reconciled a payload with the declared shape.
type Adjustment int

const (
	// Exact means the payload length already matched the shape.
	Exact Adjustment = iota
	// Padded means the payload was extended with zero samples.
	Padded
	// Truncated means trailing samples were discarded.
	Truncated
)

func (a Adjustment) String() string {
	switch a {
	case Exact:
		return "exact"
	case Padded:
		return "padded"
	case Truncated:
		return "truncated"
	default:
		return "unknown"
	}
}

// Fit reconciles a payload with the declared array shape. Short payloads are
// zero-padded and long payloads truncated; shape drift is a policy the caller
// observes via the returned Adjustment, never an error. The input slice is
// shared when no adjustment was needed.
func Fit(payload []byte, shape matframe.ArrayShape) ([]byte, Adjustment) {
	want := shape.Points()
	switch {
	case len(payload) == want:
		return payload, Exact
	case len(payload) < want:
		out := make([]byte, want)
		copy(out, payload)
		return out, Padded
	default:
		return payload[:want], Truncated
	}
}
