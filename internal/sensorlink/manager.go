package sensorlink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gaitworks/pressuremat/internal/timeutil"
)

// Mode declares how many sensor devices the session binds.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeDual   Mode = "dual"
	ModeTriple Mode = "triple"
)

// LinkCount returns the number of links the mode requires.
func (m Mode) LinkCount() int {
	switch m {
	case ModeSingle:
		return 1
	case ModeDual:
		return 2
	case ModeTriple:
		return 3
	}
	return 0
}

// ParseMode validates a mode string.
func ParseMode(v string) (Mode, error) {
	m := Mode(v)
	if m.LinkCount() == 0 {
		return "", fmt.Errorf("unsupported mode %q (expected single, dual, or triple)", v)
	}
	return m, nil
}

// DefaultReadTimeout bounds each blocking port read so reader goroutines
// observe shutdown promptly.
const DefaultReadTimeout = 50 * time.Millisecond

// ManagerConfig configures Bind.
type ManagerConfig struct {
	// Paths is the ordered list of port paths, one per link. Link index (and
	// therefore member order in logical frames) follows this order.
	Paths []string

	// Mode declares the expected device count and must match len(Paths).
	Mode Mode

	// Factory opens ports; defaults to the real serial factory.
	Factory PortFactory

	// Options are the serial parameters for every port.
	Options PortOptions

	// ReadTimeout bounds each blocking read (default 50ms).
	ReadTimeout time.Duration

	// FrameBuffer is the per-link frame channel depth (default 8).
	FrameBuffer int

	// AccumulateFrames, when >1, folds that many consecutive 1024-byte
	// frames per link into one emitted frame (3 for a 32x96 walkway fed
	// through a single port).
	AccumulateFrames int

	// Clock defaults to the real clock.
	Clock timeutil.Clock
}

// Manager owns the bound links. It opens every port up front so a bind
// either yields the full declared set or fails before any goroutine starts.
type Manager struct {
	links       []*Link
	readTimeout time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup
}

// Bind opens one port per configured path and creates its link. No reader
// goroutines run until Start.
func Bind(cfg ManagerConfig) (*Manager, error) {
	want := cfg.Mode.LinkCount()
	if want == 0 {
		return nil, fmt.Errorf("unsupported mode %q", cfg.Mode)
	}
	if len(cfg.Paths) != want {
		return nil, fmt.Errorf("mode %s requires %d ports, got %d", cfg.Mode, want, len(cfg.Paths))
	}

	factory := cfg.Factory
	if factory == nil {
		factory = SerialFactory{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}

	m := &Manager{readTimeout: readTimeout}
	for i, path := range cfg.Paths {
		port, err := factory.Open(path, cfg.Options)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("failed to open link %d (%s): %w", i, path, err)
		}
		m.links = append(m.links, newLink(i, path, port, clock, readTimeout, cfg.FrameBuffer, cfg.AccumulateFrames))
	}
	return m, nil
}

// Start launches one reader goroutine per link.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	ctx, m.cancel = context.WithCancel(ctx)
	for _, l := range m.links {
		l := l
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			l.run(ctx)
		}()
	}
}

// Links returns the bound links in link-index order.
func (m *Manager) Links() []*Link { return m.links }

// ReadTimeout returns the per-read bound applied to every link.
func (m *Manager) ReadTimeout() time.Duration { return m.readTimeout }

// ActiveCount returns how many links are still up. The pipeline keeps
// running with whatever remains (triple degrades to dual to single).
func (m *Manager) ActiveCount() int {
	n := 0
	for _, l := range m.links {
		if !l.Down() {
			n++
		}
	}
	return n
}

// Close cancels the readers, closes every port, and waits for the reader
// goroutines to exit. Bounded: every blocking read observes cancellation
// within one read-timeout interval.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()

	var firstErr error
	for _, l := range m.links {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.wg.Wait()
	return firstErr
}
