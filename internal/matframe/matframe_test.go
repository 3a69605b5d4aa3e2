package matframe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShapeForLength(t *testing.T) {
	for _, tc := range []struct {
		n    int
		want ArrayShape
	}{
		{1024, Shape32x32},
		{2048, Shape32x64},
		{3072, Shape32x96},
	} {
		s, ok := ShapeForLength(tc.n)
		require.True(t, ok, "length %d", tc.n)
		assert.Equal(t, tc.want, s)
	}

	_, ok := ShapeForLength(1000)
	assert.False(t, ok)
}

func TestParseShape(t *testing.T) {
	s, err := ParseShape("32x96")
	require.NoError(t, err)
	assert.Equal(t, Shape32x96, s)
	assert.Equal(t, 3072, s.Points())

	_, err = ParseShape("16x16")
	assert.Error(t, err)
}

func TestLogicalFrame_StaleMask(t *testing.T) {
	lf := LogicalFrame{StaleMask: 0b101}
	assert.True(t, lf.Stale(0))
	assert.False(t, lf.Stale(1))
	assert.True(t, lf.Stale(2))
}

func TestLogicalFrame_CombinedPayload(t *testing.T) {
	lf := LogicalFrame{
		Members: []Frame{
			{LinkID: 0, Payload: []byte{1, 1}, PayloadLength: 2},
			{LinkID: 1, Payload: []byte{2}, PayloadLength: 1},
			{LinkID: 2, Payload: []byte{3, 3, 3}, PayloadLength: 3},
		},
		TotalLength: 6,
	}
	assert.Equal(t, []byte{1, 1, 2, 3, 3, 3}, lf.CombinedPayload())
}

func TestComputeGridStats(t *testing.T) {
	gs := ComputeGridStats([]byte{0, 2, 4, 6})
	assert.Equal(t, 6, gs.Max)
	assert.Equal(t, 0, gs.Min)
	assert.InDelta(t, 3.0, gs.Mean, 1e-9)
	// Population deviation of {0,2,4,6}: sqrt(5).
	assert.InDelta(t, 2.2360679, gs.StdDev, 1e-6)
	assert.Equal(t, 3, gs.NonzeroCount)
	assert.Equal(t, 4, gs.TotalPoints)
}

func TestComputeGridStats_Empty(t *testing.T) {
	assert.Equal(t, GridStats{}, ComputeGridStats(nil))
}

func TestComputeGridStats_Uniform(t *testing.T) {
	payload := make([]byte, 1024)
	for i := range payload {
		payload[i] = 7
	}
	gs := ComputeGridStats(payload)
	assert.Equal(t, 7, gs.Max)
	assert.Equal(t, 7, gs.Min)
	assert.InDelta(t, 7.0, gs.Mean, 1e-9)
	assert.Zero(t, gs.StdDev)
	assert.Equal(t, 1024, gs.NonzeroCount)
}
