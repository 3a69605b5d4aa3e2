package deliver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gaitworks/pressuremat/internal/matframe"
)

// ErrQueueClosed is returned by Pull after Close.
var ErrQueueClosed = errors.New("delivery queue closed")

// Queue is the bounded hand-off between the acquisition path and consumers.
// It never grows past the tier's depth and never reorders: frames come out in
// the logical sequence order they went in, with overload resolved entirely by
// the drop policy.
type Queue struct {
	tier Tier

	mu     sync.Mutex
	items  []*matframe.TransformedFrame
	closed bool

	// notEmpty carries a wakeup token to at most one waiting consumer;
	// done is closed on Close so every waiter wakes.
	notEmpty chan struct{}
	done     chan struct{}

	// reading is true while a consumer is blocked in Pull; the ultra policy
	// consults it to decide which side of the queue to shed.
	reading atomic.Bool

	dropped   atomic.Uint64
	delivered atomic.Uint64
}

// NewQueue creates an empty queue for the tier.
func NewQueue(tier Tier) *Queue {
	return &Queue{
		tier:     tier,
		items:    make([]*matframe.TransformedFrame, 0, tier.MaxQueueDepth),
		notEmpty: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Push offers a frame to the queue. When full, the tier's drop policy
// decides: DropOldest evicts the head, DropNewest sheds the incoming frame
// while a consumer read is in flight. Dropping is counted, never an error.
// Returns false when the frame was shed.
func (q *Queue) Push(f *matframe.TransformedFrame) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}

	if len(q.items) >= q.tier.MaxQueueDepth {
		if q.tier.Policy == DropNewest && q.reading.Load() {
			q.mu.Unlock()
			q.dropped.Add(1)
			return false
		}
		// Evict the oldest to admit the new frame.
		copy(q.items, q.items[1:])
		q.items = q.items[:len(q.items)-1]
		q.dropped.Add(1)
	}
	q.items = append(q.items, f)
	q.mu.Unlock()

	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
	return true
}

// Pull returns the next frame in sequence order, blocking until one is
// available or ctx is done. Callers bound the wait with a context deadline.
func (q *Queue) Pull(ctx context.Context) (*matframe.TransformedFrame, error) {
	q.reading.Store(true)
	defer q.reading.Store(false)

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			f := q.items[0]
			copy(q.items, q.items[1:])
			q.items = q.items[:len(q.items)-1]
			q.mu.Unlock()
			q.delivered.Add(1)
			return f, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, ErrQueueClosed
		}

		select {
		case <-q.notEmpty:
		case <-q.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// TryPull returns the next frame without blocking, or nil.
func (q *Queue) TryPull() *matframe.TransformedFrame {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	f := q.items[0]
	copy(q.items, q.items[1:])
	q.items = q.items[:len(q.items)-1]
	q.delivered.Add(1)
	return f
}

// Depth returns the current number of queued frames.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns the total frames shed by the drop policy.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Delivered returns the total frames handed to consumers.
func (q *Queue) Delivered() uint64 { return q.delivered.Load() }

// Close wakes any blocked consumer; subsequent pushes are discarded silently
// and pulls drain remaining frames before returning ErrQueueClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.done)
}
