package calibration

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/depthcam/internal/frame"
)

// CloudHandler receives the point cloud computed for a frame.
type CloudHandler func(f *frame.Frame, points []r3.Vec)

// Consumer projects each frame it receives and passes the result to a
// handler. It satisfies queue.Consumer.
type Consumer struct {
	cal    *Calibration
	handle CloudHandler
}

// NewConsumer returns a consumer projecting with cal.
func NewConsumer(cal *Calibration, handle CloudHandler) *Consumer {
	return &Consumer{cal: cal, handle: handle}
}

func (c *Consumer) Consume(f *frame.Frame) {
	c.handle(f, c.cal.PointCloud(f))
}
