package deliver

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/gaitworks/pressuremat/internal/matframe"
	"github.com/gaitworks/pressuremat/internal/timeutil"
)

// Controller paces delivery to the configured tier. Producers call Offer;
// consumers either Pull at their own pace or Subscribe a callback that the
// dispatch loop invokes at the tier cadence. Frames are never delivered out
// of logical sequence order.
type Controller struct {
	tier  Tier
	queue *Queue
	clock timeutil.Clock

	subMu       sync.Mutex
	subscribers map[string]func(*matframe.TransformedFrame)

	skipped atomic.Uint64
	lastSeq atomic.Uint64
}

// NewController creates a controller and its backing queue for the tier.
func NewController(tier Tier, clock timeutil.Clock) *Controller {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Controller{
		tier:        tier,
		queue:       NewQueue(tier),
		clock:       clock,
		subscribers: map[string]func(*matframe.TransformedFrame){},
	}
}

// Tier returns the active tier.
func (c *Controller) Tier() Tier { return c.tier }

// Queue exposes the backing queue for depth/drop inspection.
func (c *Controller) Queue() *Queue { return c.queue }

// Offer submits a frame from the acquisition path. The ultra tier skips
// enqueueing entirely while the consumer still has the previous frame
// pending; everything else defers to the queue's drop policy. Shedding here
// is normal overload behaviour, never an error.
func (c *Controller) Offer(f *matframe.TransformedFrame) {
	if c.tier.SkipWhenBacklogged && c.queue.Depth() > 0 {
		c.skipped.Add(1)
		return
	}
	if c.queue.Push(f) {
		c.lastSeq.Store(f.Sequence)
	}
}

// Pull returns the next frame, blocking until one is available or ctx is
// done. Bound the wait with a context deadline.
func (c *Controller) Pull(ctx context.Context) (*matframe.TransformedFrame, error) {
	return c.queue.Pull(ctx)
}

// Subscribe registers a push callback and returns its id. Callbacks run on
// the dispatch loop goroutine, so they must return quickly; a slow callback
// delays the cadence rather than growing the queue.
func (c *Controller) Subscribe(fn func(*matframe.TransformedFrame)) string {
	id := uuid.New().String()
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subscribers[id] = fn
	return id
}

// Unsubscribe removes a push callback.
func (c *Controller) Unsubscribe(id string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	delete(c.subscribers, id)
}

// Dispatch runs the push delivery loop at the tier cadence until ctx is
// done. Each tick delivers at most one frame to every subscriber; ticks with
// an empty queue or no subscribers deliver nothing. Pull consumers can run
// concurrently, but each frame is delivered exactly once.
func (c *Controller) Dispatch(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.tier.FrameInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			c.subMu.Lock()
			n := len(c.subscribers)
			c.subMu.Unlock()
			if n == 0 {
				continue
			}
			f := c.queue.TryPull()
			if f == nil {
				continue
			}
			c.subMu.Lock()
			for _, fn := range c.subscribers {
				fn(f)
			}
			c.subMu.Unlock()
		}
	}
}

// Skipped returns frames the ultra tier declined to enqueue.
func (c *Controller) Skipped() uint64 { return c.skipped.Load() }

// Dropped returns frames shed by the queue's drop policy.
func (c *Controller) Dropped() uint64 { return c.queue.Dropped() }

// Delivered returns frames handed to consumers.
func (c *Controller) Delivered() uint64 { return c.queue.Delivered() }

// LastSequence returns the logical sequence number of the last admitted
// frame.
func (c *Controller) LastSequence() uint64 { return c.lastSeq.Load() }

// Close shuts down the backing queue.
func (c *Controller) Close() { c.queue.Close() }
