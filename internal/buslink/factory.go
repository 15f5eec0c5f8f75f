package buslink

import (
	"fmt"

	"go.bug.st/serial"
)

// Open opens the controller's serial port at the given path and wraps it
// in a Link using the provided timeouts.
func Open(path string, opts PortOptions, timeouts Timeouts) (*Link, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	return New(port, timeouts, nil), nil
}
