package sensorlink

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gaitworks/pressuremat/internal/decode"
	"github.com/gaitworks/pressuremat/internal/matframe"
	"github.com/gaitworks/pressuremat/internal/monitoring"
	"github.com/gaitworks/pressuremat/internal/timeutil"
)

// ErrLinkClosed is returned by Next after the link has shut down.
var ErrLinkClosed = errors.New("link closed")

// Link owns one serial connection: the port, its framing decoder, and the
// reader goroutine that pumps decoded frames onto the Frames channel. The
// decoder state is exclusively owned by the reader goroutine; everything a
// link exposes crosses via the channel or atomic counters.
type Link struct {
	id          int
	path        string
	port        Porter
	dec         *decode.Decoder
	clock       timeutil.Clock
	readTimeout time.Duration

	// accumulate, when >1, gathers that many consecutive 1024-byte frames
	// into one emitted frame (walkway strips arrive as 3x1024).
	accumulate int
	accBuf     []byte
	accCount   int
	accFirst   time.Time

	frames chan *matframe.Frame

	down      atomic.Bool
	lastFrame atomic.Int64 // unix nanos of last decoded frame

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

func newLink(id int, path string, port Porter, clock timeutil.Clock, readTimeout time.Duration, buffer, accumulate int) *Link {
	if buffer <= 0 {
		buffer = 8
	}
	if accumulate < 1 {
		accumulate = 1
	}
	return &Link{
		id:          id,
		path:        path,
		port:        port,
		dec:         decode.NewDecoder(id, clock),
		clock:       clock,
		readTimeout: readTimeout,
		accumulate:  accumulate,
		frames:      make(chan *matframe.Frame, buffer),
		done:        make(chan struct{}),
	}
}

// ID returns the link's bind-order index.
func (l *Link) ID() int { return l.id }

// Path returns the port path the link was bound to.
func (l *Link) Path() string { return l.path }

// Frames returns the channel of decoded frames for this link.
func (l *Link) Frames() <-chan *matframe.Frame { return l.frames }

// Down reports whether the link has failed or been closed.
func (l *Link) Down() bool { return l.down.Load() }

// DecoderStats returns the framing counters for this link.
func (l *Link) DecoderStats() decode.Stats { return l.dec.Stats() }

// LastFrameAge returns the time since the last decoded frame, or a negative
// duration if none has been decoded yet.
func (l *Link) LastFrameAge() time.Duration {
	ns := l.lastFrame.Load()
	if ns == 0 {
		return -1
	}
	return l.clock.Since(time.Unix(0, ns))
}

// Next pulls the next frame, blocking up to timeout. It returns ErrLinkClosed
// once the link is down and drained, and ctx.Err on cancellation.
func (l *Link) Next(ctx context.Context, timeout time.Duration) (*matframe.Frame, error) {
	timer := l.clock.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f, ok := <-l.frames:
		if !ok {
			return nil, ErrLinkClosed
		}
		return f, nil
	case <-timer.C():
		return nil, context.DeadlineExceeded
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run is the reader loop: blocking reads bounded by the read timeout, bytes
// through the decoder, decoded frames onto the channel. It exits on context
// cancellation or a port error, marking the link down either way.
func (l *Link) run(ctx context.Context) {
	defer close(l.done)
	defer close(l.frames)
	defer l.down.Store(true)

	if tp, ok := l.port.(TimeoutPorter); ok {
		if err := tp.SetReadTimeout(l.readTimeout); err != nil {
			monitoring.Logf("link %d: failed to set read timeout: %v", l.id, err)
		}
	}

	buf := make([]byte, 2048)
	for {
		if ctx.Err() != nil {
			return
		}

		n, err := l.port.Read(buf)
		if err != nil {
			// A read racing Close reports the close as a port error; either
			// way the link is down.
			if ctx.Err() == nil {
				monitoring.Logf("link %d (%s) down: %v", l.id, l.path, err)
			}
			return
		}
		if n == 0 {
			// Read timeout with no data; loop to observe cancellation.
			continue
		}

		for _, f := range l.dec.Feed(buf[:n]) {
			l.lastFrame.Store(f.CaptureTime.UnixNano())
			out := l.fold(f)
			if out == nil {
				continue
			}
			select {
			case l.frames <- out:
			case <-ctx.Done():
				return
			}
		}
	}
}

// fold implements walkway accumulation: consecutive full-size frames are
// concatenated until the configured count is reached, then emitted as one
// frame. Frames of any other size flush nothing and pass through directly.
func (l *Link) fold(f *matframe.Frame) *matframe.Frame {
	if l.accumulate <= 1 {
		return f
	}
	if f.PayloadLength != matframe.MaxPayload {
		return f
	}

	if l.accCount == 0 {
		l.accFirst = f.CaptureTime
		l.accBuf = l.accBuf[:0]
	}
	l.accBuf = append(l.accBuf, f.Payload...)
	l.accCount++
	if l.accCount < l.accumulate {
		return nil
	}

	payload := make([]byte, len(l.accBuf))
	copy(payload, l.accBuf)
	l.accCount = 0
	return &matframe.Frame{
		LinkID:        f.LinkID,
		Sequence:      f.Sequence,
		CaptureTime:   l.accFirst,
		Payload:       payload,
		PayloadLength: len(payload),
	}
}

// Close shuts the port down. Safe to call concurrently with an in-flight
// read: the read observes the closed port and the reader goroutine exits
// within one read-timeout interval.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.down.Store(true)
		l.closeErr = l.port.Close()
	})
	return l.closeErr
}

// Done returns a channel closed when the reader goroutine has exited.
func (l *Link) Done() <-chan struct{} { return l.done }
