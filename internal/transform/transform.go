// Package transform applies the fixed geometric re-indexing rule the mat
// vendor bakes into its firmware ordering. The sensor emits rows in a
// mirrored, rotated order; Reindex restores row-major orientation.
package transform

import "github.com/gaitworks/pressuremat/internal/matframe"

const (
	gridRows  = 32
	gridCols  = 32
	gridBytes = gridRows * gridCols

	// mirrorSpan is the block of leading rows the firmware emits mirrored.
	// Rows 0..14 are flipped about row 7 before the rotation step.
	mirrorSpan = 15
)

// Reindex applies the two-step row permutation to a 32x32 row-major payload:
//
//  1. swap row i with row 14-i for i in 0..7 (row 7 is its own fixed point);
//  2. rotate rows so the order becomes [15..31][0..14].
//
// The input is not modified. For any payload length other than 1024 bytes the
// function is the identity and returns the input slice unchanged.
func Reindex(payload []byte) []byte {
	if len(payload) != gridBytes {
		return payload
	}

	mirrored := make([]byte, gridBytes)
	copy(mirrored, payload)
	for i := 0; i < mirrorSpan/2; i++ {
		a := mirrored[i*gridCols : (i+1)*gridCols]
		b := mirrored[(mirrorSpan-1-i)*gridCols : (mirrorSpan-i)*gridCols]
		for c := 0; c < gridCols; c++ {
			a[c], b[c] = b[c], a[c]
		}
	}

	out := make([]byte, 0, gridBytes)
	out = append(out, mirrored[mirrorSpan*gridCols:]...)
	out = append(out, mirrored[:mirrorSpan*gridCols]...)
	return out
}

// Eligible reports whether a payload of length n is transform-eligible.
func Eligible(n int) bool { return n == gridBytes }

// Apply wraps a logical frame into its delivered form, re-indexing the
// combined payload when it is a single 32x32 grid and passing it through
// unchanged otherwise. The transform is pure: it has no state and no failure
// mode.
func Apply(lf *matframe.LogicalFrame) *matframe.TransformedFrame {
	combined := lf.CombinedPayload()
	tf := &matframe.TransformedFrame{
		LogicalFrame: *lf,
		Payload:      combined,
	}
	if Eligible(lf.TotalLength) {
		tf.Payload = Reindex(combined)
		tf.Reindexed = true
	}
	return tf
}
