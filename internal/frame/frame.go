// Package frame holds the decoded depth image produced by the camera
// protocol decoder.
package frame

import (
	"errors"
	"fmt"
	"time"
)

// Pixel count bounds supported by the camera (25x25 up to 100x100).
const (
	MinPixels = 25 * 25
	MaxPixels = 100 * 100
)

// Saturation codes. Pixels carrying either value have no usable depth.
const (
	SaturatedLow  byte = 0x00
	SaturatedHigh byte = 0xFF
)

var ErrInvalidDimensions = errors.New("invalid frame dimensions")

// Metadata carries the per-frame fields of the packet info block.
type Metadata struct {
	FrameID        uint16
	ExposureMicros uint32
	SensorTemp     int8
	DriverTemp     int8
	ErrorCode      uint8

	// Surfaced as-is; meaning is device defined.
	Command    uint8
	OutputMode uint8
	ISPVersion uint8
}

// Frame is one depth capture. It is immutable once built by New and safe to
// share between goroutines by reference.
type Frame struct {
	rows   int
	cols   int
	pixels []byte
	meta   Metadata
}

// New validates the geometry and returns a Frame owning a copy of pixels.
func New(rows, cols int, pixels []byte, meta Metadata) (*Frame, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: rows=%d cols=%d", ErrInvalidDimensions, rows, cols)
	}
	n := rows * cols
	if n < MinPixels || n > MaxPixels {
		return nil, fmt.Errorf("%w: %d pixels outside [%d,%d]", ErrInvalidDimensions, n, MinPixels, MaxPixels)
	}
	if len(pixels) != n {
		return nil, fmt.Errorf("%w: %dx%d needs %d pixels, got %d", ErrInvalidDimensions, rows, cols, n, len(pixels))
	}
	owned := make([]byte, n)
	copy(owned, pixels)
	return &Frame{rows: rows, cols: cols, pixels: owned, meta: meta}, nil
}

func (f *Frame) Rows() int { return f.rows }
func (f *Frame) Cols() int { return f.cols }

// Len returns rows*cols.
func (f *Frame) Len() int { return len(f.pixels) }

// Pixel returns the quantised depth code at row i, column j.
func (f *Frame) Pixel(i, j int) byte {
	return f.pixels[i*f.cols+j]
}

// Saturated reports whether the pixel at (i, j) carries a saturation code.
func (f *Frame) Saturated(i, j int) bool {
	return IsSaturated(f.Pixel(i, j))
}

// IsSaturated reports whether a depth code is one of the saturation values.
func IsSaturated(code byte) bool {
	return code == SaturatedLow || code == SaturatedHigh
}

// Pixels returns a copy of the row-major pixel codes.
func (f *Frame) Pixels() []byte {
	out := make([]byte, len(f.pixels))
	copy(out, f.pixels)
	return out
}

func (f *Frame) Metadata() Metadata { return f.meta }
func (f *Frame) ID() uint16         { return f.meta.FrameID }

// ExposureMicros is the raw exposure time reported by the sensor.
func (f *Frame) ExposureMicros() uint32 { return f.meta.ExposureMicros }

func (f *Frame) ExposureTime() time.Duration {
	return time.Duration(f.meta.ExposureMicros) * time.Microsecond
}

func (f *Frame) SensorTemperature() int8 { return f.meta.SensorTemp }
func (f *Frame) DriverTemperature() int8 { return f.meta.DriverTemp }
func (f *Frame) ErrorCode() uint8        { return f.meta.ErrorCode }

func (f *Frame) String() string {
	return fmt.Sprintf("frame %d (%dx%d) exposure=%dus sensor=%dC driver=%dC err=0x%02x",
		f.meta.FrameID, f.rows, f.cols, f.meta.ExposureMicros, f.meta.SensorTemp, f.meta.DriverTemp, f.meta.ErrorCode)
}

// PixelStats summarises the non-saturated pixel codes of a frame.
type PixelStats struct {
	Valid     int     `json:"valid"`
	Saturated int     `json:"saturated"`
	Min       byte    `json:"min"`
	Max       byte    `json:"max"`
	Mean      float64 `json:"mean"`
}

// Stats computes PixelStats in one pass over the pixels.
func (f *Frame) Stats() PixelStats {
	var s PixelStats
	var sum int
	s.Min = SaturatedHigh
	for _, p := range f.pixels {
		if IsSaturated(p) {
			s.Saturated++
			continue
		}
		s.Valid++
		sum += int(p)
		if p < s.Min {
			s.Min = p
		}
		if p > s.Max {
			s.Max = p
		}
	}
	if s.Valid == 0 {
		s.Min = 0
		return s
	}
	s.Mean = float64(sum) / float64(s.Valid)
	return s
}
