package sensorlink

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// ErrPortClosed is returned by mock port operations after Close.
var ErrPortClosed = errors.New("serial port closed")

// TestablePort implements TimeoutPorter with configurable behaviour for
// testing. It provides fine-grained control over reads, errors, and blocking.
type TestablePort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls.
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port.
	WriteBuffer *bytes.Buffer

	// ReadError is returned by the next Read call if set.
	ReadError error

	// Closed indicates whether Close was called.
	Closed bool

	// ReadCalls records the number of Read calls.
	ReadCalls int

	// ReadTimeout is the current read timeout.
	ReadTimeout time.Duration

	// BlockReads causes an empty Read to wait for data, Close, or the read
	// timeout (returning 0, nil on timeout like a real port).
	BlockReads bool

	readCond *sync.Cond
}

// NewTestablePort creates a new TestablePort for testing.
func NewTestablePort() *TestablePort {
	tp := &TestablePort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	tp.readCond = sync.NewCond(&tp.mu)
	return tp
}

// Read reads from the read buffer, optionally blocking until data arrives.
func (t *TestablePort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadCalls++

	if t.Closed {
		return 0, ErrPortClosed
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}

	if t.BlockReads && t.ReadBuffer.Len() == 0 {
		timeout := t.ReadTimeout
		if timeout > 0 {
			// Emulate a real port read timeout: wake up and return no data.
			deadline := time.AfterFunc(timeout, func() {
				t.mu.Lock()
				t.readCond.Broadcast()
				t.mu.Unlock()
			})
			defer deadline.Stop()
			start := time.Now()
			for !t.Closed && t.ReadBuffer.Len() == 0 && time.Since(start) < timeout {
				t.readCond.Wait()
			}
		} else {
			for !t.Closed && t.ReadBuffer.Len() == 0 {
				t.readCond.Wait()
			}
		}
		if t.Closed {
			return 0, ErrPortClosed
		}
		if t.ReadBuffer.Len() == 0 {
			return 0, nil // timed out
		}
	}

	return t.ReadBuffer.Read(p)
}

// Write captures written bytes.
func (t *TestablePort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Closed {
		return 0, ErrPortClosed
	}
	return t.WriteBuffer.Write(p)
}

// Close marks the port as closed and wakes any blocked readers.
func (t *TestablePort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = true
	t.readCond.Broadcast()
	return nil
}

// SetReadTimeout implements TimeoutPorter.
func (t *TestablePort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadTimeout = timeout
	return nil
}

// SetReadError arms an error for the next Read call. Safe to call while a
// reader goroutine is active.
func (t *TestablePort) SetReadError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadError = err
	t.readCond.Broadcast()
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestablePort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadBuffer.Write(data)
	t.readCond.Signal()
}

// MockFactory implements PortFactory for testing, handing out preconfigured
// ports keyed by path.
type MockFactory struct {
	mu sync.Mutex

	// Ports maps path to the port returned by Open.
	Ports map[string]Porter

	// Err is returned by Open if set.
	Err error

	// OpenCalls records the paths passed to Open.
	OpenCalls []string
}

// NewMockFactory creates a MockFactory serving the given ports.
func NewMockFactory(ports map[string]Porter) *MockFactory {
	return &MockFactory{Ports: ports}
}

// Open returns the configured port for path.
func (f *MockFactory) Open(path string, opts PortOptions) (Porter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.OpenCalls = append(f.OpenCalls, path)
	if f.Err != nil {
		return nil, f.Err
	}
	port, ok := f.Ports[path]
	if !ok {
		return nil, errors.New("no such port " + path)
	}
	return port, nil
}

// List returns the configured paths. Order is not guaranteed; tests that
// care should sort.
func (f *MockFactory) List() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}
	paths := make([]string, 0, len(f.Ports))
	for p := range f.Ports {
		paths = append(paths, p)
	}
	return paths, nil
}
