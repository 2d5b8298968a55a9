package serialmux

import (
	"fmt"

	"go.bug.st/serial"

	"github.com/banshee-data/depthcam/internal/monitoring"
)

// NewRealSerialMux opens the camera's USB serial device at path and wraps it
// in a SerialMux.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, fmt.Errorf("serial options for %s: %w", path, err)
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	monitoring.Logf("serialmux: opened %s at %s", path, opts)

	return NewSerialMux[serial.Port](port), nil
}
