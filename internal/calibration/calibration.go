// Package calibration converts depth frames into depth values and 3D point
// clouds using the camera's default pinhole model.
package calibration

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/depthcam/internal/frame"
	"github.com/banshee-data/depthcam/internal/monitoring"
)

// Field of view of the default lens, in radians.
const (
	FOVHorizontal = 70 * math.Pi / 180
	FOVVertical   = 60 * math.Pi / 180
)

// Quantization unit bounds accepted by the camera.
const (
	MinUnit = 0
	MaxUnit = 9
)

// Extent of the projection screen one meter in front of the focal point.
var (
	screenWidthAt1m  = 2 * math.Tan(FOVHorizontal/2)
	screenHeightAt1m = 2 * math.Tan(FOVVertical/2)
)

// Calibration maps pixel codes to depth and projects frames into points. It is
// safe for concurrent use.
type Calibration struct {
	mu   sync.RWMutex
	unit int
}

// NewDefault returns the default calibration for the given quantization unit.
// Units outside [0,9] are coerced to 0.
func NewDefault(unit int) *Calibration {
	c := &Calibration{}
	c.SetQuantizationUnit(unit)
	return c
}

// SetQuantizationUnit changes the unit used by Depth. Units outside [0,9] are
// coerced to 0.
func (c *Calibration) SetQuantizationUnit(unit int) {
	if unit < MinUnit || unit > MaxUnit {
		monitoring.Logf("calibration: quantization unit %d outside [%d,%d], using 0", unit, MinUnit, MaxUnit)
		unit = 0
	}
	c.mu.Lock()
	c.unit = unit
	c.mu.Unlock()
}

// QuantizationUnit returns the unit in effect.
func (c *Calibration) QuantizationUnit() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.unit
}

// Depth converts a pixel code. With unit 0 the result is (code/5.1)² mm
// expressed in meters; otherwise it is code×unit in the sensor's native
// unit.
func (c *Calibration) Depth(code byte) float64 {
	return depth(c.QuantizationUnit(), code)
}

func depth(unit int, code byte) float64 {
	v := float64(code)
	if unit == 0 {
		root := v / 5.1
		return root * root * 1e-3
	}
	return v * float64(unit)
}

// Ray returns the unit-depth viewing ray through pixel (i, j) of a
// rows×cols image, before normalization.
func Ray(i, j, rows, cols int) r3.Vec {
	return r3.Vec{
		X: (float64(j) - 0.5*float64(cols)) / float64(cols) * screenWidthAt1m,
		Y: (float64(i) - 0.5*float64(rows)) / float64(rows) * screenHeightAt1m,
		Z: 1,
	}
}

// PointCloud projects every non-saturated pixel of f to a point whose
// distance from the focal point equals its decoded depth. Points are emitted
// in row-major order.
func (c *Calibration) PointCloud(f *frame.Frame) []r3.Vec {
	unit := c.QuantizationUnit()
	rows, cols := f.Rows(), f.Cols()

	points := make([]r3.Vec, 0, f.Len())
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			code := f.Pixel(i, j)
			if frame.IsSaturated(code) {
				continue
			}
			ray := Ray(i, j, rows, cols)
			points = append(points, r3.Scale(depth(unit, code)/r3.Norm(ray), ray))
		}
	}
	return points
}
