package sensorlink

import (
	"go.bug.st/serial"
)

// SerialFactory opens real serial ports via go.bug.st/serial.
type SerialFactory struct{}

// Open opens the port at path with the given options.
func (SerialFactory) Open(path string, opts PortOptions) (Porter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// List enumerates the serial ports present on this host.
func (SerialFactory) List() ([]string, error) {
	return serial.GetPortsList()
}
