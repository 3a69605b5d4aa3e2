// Package sensorlink owns the serial connections to the pressure-sensor
// arrays: discovery and handshake of candidate ports, one framing decoder and
// reader goroutine per bound link, and the Manager that exposes the bound set
// to the pipeline.
package sensorlink

import (
	"io"
	"time"
)

// DefaultBaudRate is the fixed wire rate of the mat sensors.
const DefaultBaudRate = 1_000_000

// Porter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type Porter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutPorter extends Porter with read timeout control. Real ports
// implement it; the reader loop relies on it so blocking reads observe
// cancellation within one timeout interval.
type TimeoutPorter interface {
	Porter
	// SetReadTimeout sets the read timeout for the serial port.
	SetReadTimeout(timeout time.Duration) error
}

// PortFactory defines an interface for creating serial ports.
// This abstraction enables dependency injection of serial port creation.
type PortFactory interface {
	// Open opens a serial port at the specified path with the given options.
	Open(path string, opts PortOptions) (Porter, error)

	// List enumerates candidate port paths on this host.
	List() ([]string, error)
}
