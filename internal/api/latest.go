package api

import (
	"sync"
	"time"

	"github.com/banshee-data/depthcam/internal/frame"
	"github.com/banshee-data/depthcam/internal/timeutil"
)

// LatestFrame keeps the most recent frame delivered by the queue. It
// satisfies queue.Consumer and is safe for concurrent use.
type LatestFrame struct {
	clock timeutil.Clock

	mu       sync.RWMutex
	frame    *frame.Frame
	received time.Time
	count    uint64
}

// NewLatestFrame returns an empty holder. A nil clock uses the real clock.
func NewLatestFrame(clock timeutil.Clock) *LatestFrame {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &LatestFrame{clock: clock}
}

func (l *LatestFrame) Consume(f *frame.Frame) {
	now := l.clock.Now()
	l.mu.Lock()
	l.frame = f
	l.received = now
	l.count++
	l.mu.Unlock()
}

// Frame returns the latest frame and when it arrived. The frame is nil until
// the first delivery.
func (l *LatestFrame) Frame() (*frame.Frame, time.Time) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.frame, l.received
}

// Count returns the number of frames delivered so far.
func (l *LatestFrame) Count() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}
