// Package align combines frames arriving from independently-clocked links
// into a single logical frame per cycle.
//
// The synchronizer trades strict simultaneity for throughput: once every live
// link has contributed a frame since the last emission, or the bounded window
// elapses with at least one fresh frame, a logical frame is emitted. Links
// that produced nothing within the window are represented by the most recent
// frame they produced. This stale-data policy is deliberate; the alternative
// (blocking the whole pipeline on the slowest link) would accumulate
// unbounded latency. Stale members are flagged on the frame and counted.
package align

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gaitworks/pressuremat/internal/matframe"
	"github.com/gaitworks/pressuremat/internal/timeutil"
)

// ErrSourcesClosed is returned by Next when every source channel has closed
// and no pending frames remain.
var ErrSourcesClosed = errors.New("all frame sources closed")

// Source is one link feeding the synchronizer. sensorlink.Link satisfies it.
type Source interface {
	ID() int
	Frames() <-chan *matframe.Frame
	Down() bool
}

type arrival struct {
	idx   int
	frame *matframe.Frame
}

// Synchronizer produces one LogicalFrame per cycle from 1-3 sources. Next
// must be called from a single goroutine; the counters may be read from
// anywhere.
type Synchronizer struct {
	sources []Source
	window  time.Duration
	clock   timeutil.Clock

	arrivals chan arrival
	startMu  sync.Mutex
	started  bool

	// pending state, owned by the Next caller
	latest []*matframe.Frame
	fresh  []bool
	seq    uint64

	combined   atomic.Uint64
	staleEmits []atomic.Uint64
}

// New creates a synchronizer over the given sources. The window bounds how
// long a cycle waits for stragglers after its first fresh frame; zero means
// emit immediately on any frame (the single-link degenerate case).
func New(sources []Source, window time.Duration, clock timeutil.Clock) *Synchronizer {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Synchronizer{
		sources:    sources,
		window:     window,
		clock:      clock,
		arrivals:   make(chan arrival, len(sources)*2),
		latest:     make([]*matframe.Frame, len(sources)),
		fresh:      make([]bool, len(sources)),
		staleEmits: make([]atomic.Uint64, len(sources)),
	}
}

// Start launches the fan-in goroutines that merge per-source channels into
// the arrival stream. They exit when their source channel closes or the
// context is cancelled.
func (s *Synchronizer) Start(ctx context.Context) {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.started {
		return
	}
	s.started = true

	var wg sync.WaitGroup
	for i, src := range s.sources {
		i, src := i, src
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case f, ok := <-src.Frames():
					if !ok {
						return
					}
					select {
					case s.arrivals <- arrival{idx: i, frame: f}:
					case <-ctx.Done():
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(s.arrivals)
	}()
}

// Next blocks until the next logical frame can be emitted. The window timer
// arms on the first fresh arrival of a cycle, so an idle pipeline waits
// without spinning and a stalled link delays emission by at most one window.
func (s *Synchronizer) Next(ctx context.Context) (*matframe.LogicalFrame, error) {
	var timer timeutil.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		if s.allFresh() {
			return s.emit(), nil
		}

		var timerC <-chan time.Time
		if timer != nil {
			timerC = timer.C()
		}

		select {
		case a, ok := <-s.arrivals:
			if !ok {
				if s.anyFresh() {
					return s.emit(), nil
				}
				return nil, ErrSourcesClosed
			}
			s.latest[a.idx] = a.frame
			s.fresh[a.idx] = true
			if s.window <= 0 {
				return s.emit(), nil
			}
			if timer == nil {
				timer = s.clock.NewTimer(s.window)
			}

		case <-timerC:
			timer = nil
			if s.anyFresh() {
				return s.emit(), nil
			}

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// allFresh reports whether every live source has contributed since the last
// emission. Down links are excluded so the pipeline degrades instead of
// waiting on a dead port.
func (s *Synchronizer) allFresh() bool {
	have := 0
	for i, src := range s.sources {
		if src.Down() && !s.fresh[i] {
			continue
		}
		if !s.fresh[i] {
			return false
		}
		have++
	}
	return have > 0
}

func (s *Synchronizer) anyFresh() bool {
	for _, f := range s.fresh {
		if f {
			return true
		}
	}
	return false
}

// emit builds the logical frame from current members in link-index order and
// resets the freshness flags for the next cycle.
func (s *Synchronizer) emit() *matframe.LogicalFrame {
	s.seq++
	lf := &matframe.LogicalFrame{Sequence: s.seq}

	for i, src := range s.sources {
		f := s.latest[i]
		if f == nil {
			continue // never produced; not warmed up yet
		}
		if src.Down() && !s.fresh[i] {
			continue // dead link: drop the member rather than replay forever
		}
		if !s.fresh[i] {
			lf.StaleMask |= 1 << uint(i)
			s.staleEmits[i].Add(1)
		}
		lf.Members = append(lf.Members, *f)
		lf.TotalLength += f.PayloadLength
		if lf.CaptureTime.IsZero() || f.CaptureTime.Before(lf.CaptureTime) {
			lf.CaptureTime = f.CaptureTime
		}
		s.fresh[i] = false
	}

	s.combined.Add(1)
	return lf
}

// Combined returns the number of logical frames emitted.
func (s *Synchronizer) Combined() uint64 { return s.combined.Load() }

// Sequence returns the last emitted logical sequence number.
func (s *Synchronizer) Sequence() uint64 { return s.combined.Load() }

// StaleEmits returns how many times source i was represented by stale data.
func (s *Synchronizer) StaleEmits(i int) uint64 {
	if i < 0 || i >= len(s.staleEmits) {
		return 0
	}
	return s.staleEmits[i].Load()
}

// WindowForRate derives the synchronization window from a delivery interval:
// half the frame interval with a 2ms floor. Single-link sessions should pass
// a zero window to New instead.
func WindowForRate(frameInterval time.Duration) time.Duration {
	w := frameInterval / 2
	if w < 2*time.Millisecond {
		w = 2 * time.Millisecond
	}
	return w
}
