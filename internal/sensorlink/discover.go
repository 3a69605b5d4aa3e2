package sensorlink

import (
	"fmt"
	"sort"
	"time"

	"github.com/gaitworks/pressuremat/internal/matframe"
	"github.com/gaitworks/pressuremat/internal/monitoring"
)

// DefaultHandshakeWindow bounds how long Probe waits to observe a valid
// frame header on a candidate port.
const DefaultHandshakeWindow = 500 * time.Millisecond

// ProbeResult reports the outcome of handshaking one candidate port.
type ProbeResult struct {
	Path string
	OK   bool
	Err  error
}

// Probe opens the port at path and reads until a valid 4-byte frame header is
// observed or the handshake window elapses. A port that produces no header
// within the window is reported unavailable; retry policy belongs to the
// caller.
func Probe(factory PortFactory, path string, opts PortOptions, window time.Duration) ProbeResult {
	if window <= 0 {
		window = DefaultHandshakeWindow
	}

	port, err := factory.Open(path, opts)
	if err != nil {
		return ProbeResult{Path: path, Err: err}
	}
	defer port.Close()

	if tp, ok := port.(TimeoutPorter); ok {
		// Bound each read so the probe can never exceed the window by more
		// than one read interval.
		tp.SetReadTimeout(window / 4)
	}

	deadline := time.Now().Add(window)
	buf := make([]byte, 256)
	matched := 0
	for time.Now().Before(deadline) {
		n, err := port.Read(buf)
		if err != nil {
			return ProbeResult{Path: path, Err: err}
		}
		for _, b := range buf[:n] {
			if b == matframe.FrameHeader[matched] {
				matched++
				if matched == len(matframe.FrameHeader) {
					return ProbeResult{Path: path, OK: true}
				}
			} else if b == matframe.FrameHeader[0] {
				matched = 1
			} else {
				matched = 0
			}
		}
	}
	return ProbeResult{Path: path, Err: fmt.Errorf("no frame header within %v", window)}
}

// Discover probes every candidate port on the host and returns the paths
// that completed the handshake, in sorted order.
func Discover(factory PortFactory, opts PortOptions, window time.Duration) ([]string, error) {
	candidates, err := factory.List()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	sort.Strings(candidates)

	var live []string
	for _, path := range candidates {
		res := Probe(factory, path, opts, window)
		if res.OK {
			monitoring.Logf("discovered sensor on %s", path)
			live = append(live, path)
		} else {
			monitoring.Logf("port %s unavailable: %v", path, res.Err)
		}
	}
	return live, nil
}
