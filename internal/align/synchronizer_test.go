package align

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaitworks/pressuremat/internal/matframe"
)

type fakeSource struct {
	id   int
	ch   chan *matframe.Frame
	down atomic.Bool
}

func newFakeSource(id int) *fakeSource {
	return &fakeSource{id: id, ch: make(chan *matframe.Frame, 16)}
}

func (f *fakeSource) ID() int                          { return f.id }
func (f *fakeSource) Frames() <-chan *matframe.Frame   { return f.ch }
func (f *fakeSource) Down() bool                       { return f.down.Load() }

func (f *fakeSource) push(seq uint64, marker byte, at time.Time) {
	payload := make([]byte, 1024)
	payload[0] = marker
	f.ch <- &matframe.Frame{
		LinkID:        f.id,
		Sequence:      seq,
		CaptureTime:   at,
		Payload:       payload,
		PayloadLength: len(payload),
	}
}

func newTestSync(t *testing.T, n int, window time.Duration) (*Synchronizer, []*fakeSource, context.Context) {
	t.Helper()
	sources := make([]*fakeSource, n)
	ifaces := make([]Source, n)
	for i := range sources {
		sources[i] = newFakeSource(i)
		ifaces[i] = sources[i]
	}
	s := New(ifaces, window, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s.Start(ctx)
	return s, sources, ctx
}

func TestNext_TripleModeCombinesAllLinks(t *testing.T) {
	s, sources, ctx := newTestSync(t, 3, 50*time.Millisecond)

	base := time.Unix(1000, 0)
	// Deliberately push out of link order: member order must follow link
	// index, not arrival order.
	sources[2].push(1, 3, base.Add(2*time.Millisecond))
	sources[0].push(1, 1, base)
	sources[1].push(1, 2, base.Add(time.Millisecond))

	lf, err := s.Next(ctx)
	require.NoError(t, err)

	require.Len(t, lf.Members, 3)
	assert.Equal(t, uint64(1), lf.Sequence)
	assert.Equal(t, 3072, lf.TotalLength)
	assert.Equal(t, base, lf.CaptureTime, "capture time is the earliest member time")
	for i, m := range lf.Members {
		assert.Equal(t, i, m.LinkID)
		assert.Equal(t, byte(i+1), m.Payload[0])
		assert.False(t, lf.Stale(i))
	}
}

func TestNext_SequenceStrictlyIncreasing(t *testing.T) {
	s, sources, ctx := newTestSync(t, 2, 50*time.Millisecond)

	for cycle := 1; cycle <= 5; cycle++ {
		sources[0].push(uint64(cycle), 1, time.Unix(int64(cycle), 0))
		sources[1].push(uint64(cycle), 2, time.Unix(int64(cycle), 0))
		lf, err := s.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(cycle), lf.Sequence, "no gaps under normal conditions")
		assert.Len(t, lf.Members, 2)
	}
}

func TestNext_StarvedLinkEmitsStaleData(t *testing.T) {
	s, sources, ctx := newTestSync(t, 2, 10*time.Millisecond)

	base := time.Unix(1000, 0)
	sources[0].push(1, 1, base)
	sources[1].push(1, 2, base)
	lf, err := s.Next(ctx)
	require.NoError(t, err)
	require.Len(t, lf.Members, 2)

	// Only link 0 produces in the second cycle; the window elapses and link
	// 1 is represented by its previous frame, flagged stale.
	sources[0].push(2, 11, base.Add(10*time.Millisecond))
	lf, err = s.Next(ctx)
	require.NoError(t, err)

	require.Len(t, lf.Members, 2)
	assert.Equal(t, byte(11), lf.Members[0].Payload[0])
	assert.Equal(t, byte(2), lf.Members[1].Payload[0], "stale member re-uses the last frame")
	assert.False(t, lf.Stale(0))
	assert.True(t, lf.Stale(1))
	assert.Equal(t, uint64(1), s.StaleEmits(1))
}

func TestNext_SingleModeEmitsImmediately(t *testing.T) {
	s, sources, ctx := newTestSync(t, 1, 0)

	start := time.Now()
	sources[0].push(1, 9, time.Unix(1, 0))
	lf, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 50*time.Millisecond, "zero window must not wait")
	require.Len(t, lf.Members, 1)
	assert.Equal(t, byte(9), lf.Members[0].Payload[0])
}

func TestNext_DownLinkExcludedFromMembership(t *testing.T) {
	s, sources, ctx := newTestSync(t, 2, 20*time.Millisecond)

	sources[0].push(1, 1, time.Unix(1, 0))
	sources[1].push(1, 2, time.Unix(1, 0))
	_, err := s.Next(ctx)
	require.NoError(t, err)

	// Link 1 dies. The next cycle must not replay its stale frame forever:
	// membership degrades to the surviving link, without waiting on the
	// window.
	sources[1].down.Store(true)
	sources[0].push(2, 11, time.Unix(2, 0))

	lf, err := s.Next(ctx)
	require.NoError(t, err)
	require.Len(t, lf.Members, 1)
	assert.Equal(t, 0, lf.Members[0].LinkID)
}

func TestNext_AllSourcesClosed(t *testing.T) {
	s, sources, ctx := newTestSync(t, 2, 10*time.Millisecond)
	close(sources[0].ch)
	close(sources[1].ch)

	_, err := s.Next(ctx)
	assert.ErrorIs(t, err, ErrSourcesClosed)
}

func TestNext_ContextCancelled(t *testing.T) {
	s, _, _ := newTestSync(t, 2, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWindowForRate(t *testing.T) {
	assert.Equal(t, 25*time.Millisecond, WindowForRate(50*time.Millisecond))
	assert.Equal(t, 2*time.Millisecond, WindowForRate(5*time.Millisecond), "floor at 2ms")
}
