// Package pipeline wires the acquisition path together: per-link readers
// feed the synchronizer, combined frames pass through the geometric transform
// and shape fit, and the delivery controller hands them to consumers.
//
// Nothing in this path escalates to a process-ending failure: framing errors
// resync, dead links degrade the mode, starved links emit stale data, and
// overload drops frames. The only thing that stops the pipeline is Close.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gaitworks/pressuremat/internal/align"
	"github.com/gaitworks/pressuremat/internal/deliver"
	"github.com/gaitworks/pressuremat/internal/matframe"
	"github.com/gaitworks/pressuremat/internal/sensorlink"
	"github.com/gaitworks/pressuremat/internal/timeutil"
	"github.com/gaitworks/pressuremat/internal/transform"
)

// Config assembles a pipeline.
type Config struct {
	// Manager owns the bound links (required).
	Manager *sensorlink.Manager

	// Tier selects the delivery cadence and drop policy.
	Tier deliver.Tier

	// Shape is the declared array geometry the combined payload is fitted
	// to. Zero value disables fitting.
	Shape matframe.ArrayShape

	// Window overrides the synchronization window; zero derives it from the
	// tier (and collapses to immediate emission for a single link).
	Window time.Duration

	// Clock defaults to the real clock.
	Clock timeutil.Clock
}

// Pipeline runs the full acquisition path. One goroutine per link (owned by
// the Manager), one combine goroutine, one dispatch goroutine; consumers only
// ever touch the delivery controller.
type Pipeline struct {
	mgr   *sensorlink.Manager
	sync  *align.Synchronizer
	ctrl  *deliver.Controller
	tier  deliver.Tier
	shape matframe.ArrayShape
	clock timeutil.Clock

	padded    atomic.Uint64
	truncated atomic.Uint64
	lastFrame atomic.Pointer[matframe.TransformedFrame]

	mu        sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New assembles a pipeline from bound links. Call Start to begin acquisition.
func New(cfg Config) *Pipeline {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	links := cfg.Manager.Links()
	sources := make([]align.Source, len(links))
	for i, l := range links {
		sources[i] = l
	}

	window := cfg.Window
	if window <= 0 && len(links) > 1 {
		window = align.WindowForRate(cfg.Tier.FrameInterval())
	}
	if len(links) == 1 {
		window = 0
	}

	return &Pipeline{
		mgr:   cfg.Manager,
		sync:  align.New(sources, window, clock),
		ctrl:  deliver.NewController(cfg.Tier, clock),
		tier:  cfg.Tier,
		shape: cfg.Shape,
		clock: clock,
	}
}

// Start launches the acquisition goroutines. The pipeline runs until ctx is
// cancelled or Close is called.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)

	p.mgr.Start(ctx)
	p.sync.Start(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.combine(ctx)
	}()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.ctrl.Dispatch(ctx)
	}()
}

// combine is the synchronize-transform-enqueue loop.
func (p *Pipeline) combine(ctx context.Context) {
	for {
		lf, err := p.sync.Next(ctx)
		if err != nil {
			return
		}
		tf := transform.Apply(lf)
		if p.shape.Points() > 0 {
			fitted, adj := transform.Fit(tf.Payload, p.shape)
			tf.Payload = fitted
			switch adj {
			case transform.Padded:
				p.padded.Add(1)
			case transform.Truncated:
				p.truncated.Add(1)
			}
		}
		p.lastFrame.Store(tf)
		p.ctrl.Offer(tf)
	}
}

// LastFrame returns the most recently combined frame, or nil before the first
// emission. For diagnostics; consumers use Pull or Subscribe.
func (p *Pipeline) LastFrame() *matframe.TransformedFrame {
	return p.lastFrame.Load()
}

// Pull returns the next delivered frame, blocking until one is available or
// ctx is done.
func (p *Pipeline) Pull(ctx context.Context) (*matframe.TransformedFrame, error) {
	return p.ctrl.Pull(ctx)
}

// Subscribe registers a push callback delivered at the tier cadence.
func (p *Pipeline) Subscribe(fn func(*matframe.TransformedFrame)) string {
	return p.ctrl.Subscribe(fn)
}

// Unsubscribe removes a push callback.
func (p *Pipeline) Unsubscribe(id string) { p.ctrl.Unsubscribe(id) }

// Close stops acquisition and tears down every goroutine and port. Bounded:
// all blocking reads observe the shutdown within one read-timeout interval.
func (p *Pipeline) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		if p.cancel != nil {
			p.cancel()
		}
		p.mu.Unlock()
		err = p.mgr.Close()
		p.wg.Wait()
		p.ctrl.Close()
	})
	return err
}
