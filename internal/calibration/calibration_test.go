package calibration

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/depthcam/internal/frame"
	"github.com/banshee-data/depthcam/internal/monitoring"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

func saturatedFrame(t *testing.T, rows, cols int, set map[[2]int]byte) *frame.Frame {
	t.Helper()
	pixels := make([]byte, rows*cols)
	for i := range pixels {
		pixels[i] = frame.SaturatedHigh
	}
	for at, v := range set {
		pixels[at[0]*cols+at[1]] = v
	}
	f, err := frame.New(rows, cols, pixels, frame.Metadata{})
	require.NoError(t, err)
	return f
}

func TestSetQuantizationUnit_Coercion(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 0},
		{1, 1},
		{9, 9},
		{10, 0},
		{-1, 0},
		{255, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NewDefault(tt.in).QuantizationUnit(), "unit %d", tt.in)
	}
}

func TestDepth(t *testing.T) {
	tests := []struct {
		name string
		unit int
		code byte
		want float64
	}{
		{"unit 0 quadratic", 0, 51, 0.1},
		{"unit 0 far", 0, 255, 2.5},
		{"unit 0 near", 0, 1, 1 / (5.1 * 5.1) * 1e-3},
		{"unit 1 linear", 1, 200, 200},
		{"unit 3 linear", 3, 10, 30},
		{"unit 9 linear", 9, 254, 2286},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, NewDefault(tt.unit).Depth(tt.code), 1e-12)
		})
	}
}

func TestRay_Corners(t *testing.T) {
	ray := Ray(0, 0, 50, 50)
	assert.InDelta(t, -math.Tan(FOVHorizontal/2), ray.X, 1e-12)
	assert.InDelta(t, -math.Tan(FOVVertical/2), ray.Y, 1e-12)
	assert.Equal(t, 1.0, ray.Z)

	center := Ray(25, 25, 50, 50)
	assert.Equal(t, r3.Vec{Z: 1}, center)
}

func TestPointCloud_SkipsSaturated(t *testing.T) {
	f := saturatedFrame(t, 25, 25, map[[2]int]byte{
		{0, 0}:   frame.SaturatedLow,
		{3, 4}:   100,
		{10, 10}: 51,
		{24, 24}: 254,
	})

	points := NewDefault(0).PointCloud(f)
	assert.Len(t, points, 3)
}

func TestPointCloud_NormEqualsDepth(t *testing.T) {
	cal := NewDefault(0)
	f := saturatedFrame(t, 26, 26, map[[2]int]byte{
		{0, 0}:   40,
		{13, 13}: 51,
		{25, 2}:  200,
	})

	points := cal.PointCloud(f)
	require.Len(t, points, 3)

	assert.InDelta(t, cal.Depth(40), r3.Norm(points[0]), 1e-12)
	assert.InDelta(t, cal.Depth(200), r3.Norm(points[2]), 1e-12)

	// The optical center projects straight along +Z.
	assert.InDelta(t, 0, points[1].X, 1e-12)
	assert.InDelta(t, 0, points[1].Y, 1e-12)
	assert.InDelta(t, 0.1, points[1].Z, 1e-12)
}

func TestPointCloud_RowMajorOrder(t *testing.T) {
	cal := NewDefault(1)
	set := map[[2]int]byte{}
	code := byte(1)
	for i := 0; i < 25; i += 6 {
		for j := 0; j < 25; j += 8 {
			set[[2]int{i, j}] = code
			code++
		}
	}
	f := saturatedFrame(t, 25, 25, set)

	points := cal.PointCloud(f)
	require.Len(t, points, len(set))
	for k, p := range points {
		assert.InDelta(t, float64(k+1), r3.Norm(p), 1e-9, "point %d out of order", k)
	}
}

func TestPointCloud_AllSaturated(t *testing.T) {
	f := saturatedFrame(t, 25, 25, nil)
	assert.Empty(t, NewDefault(0).PointCloud(f))
}

func TestConsumer(t *testing.T) {
	f := saturatedFrame(t, 25, 25, map[[2]int]byte{{5, 5}: 80})

	var gotFrame *frame.Frame
	var gotPoints []r3.Vec
	c := NewConsumer(NewDefault(0), func(f *frame.Frame, points []r3.Vec) {
		gotFrame, gotPoints = f, points
	})
	c.Consume(f)

	assert.Same(t, f, gotFrame)
	assert.Len(t, gotPoints, 1)
}
