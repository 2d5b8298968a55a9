package main

import (
	"math"
	"sync"

	"github.com/banshee-data/depthcam/internal/frame"
	"github.com/banshee-data/depthcam/internal/protocol"
)

// mockScene synthesises packets for -mock: a sloped floor with a bright
// disc sweeping left to right, one step per frame.
type mockScene struct {
	side int

	mu   sync.Mutex
	id   uint16
	tick int
}

func newMockScene(side int) *mockScene {
	return &mockScene{side: side}
}

// Next returns the wire encoding of the next frame.
func (m *mockScene) Next() []byte {
	m.mu.Lock()
	m.id++
	id, tick := m.id, m.tick
	m.tick++
	m.mu.Unlock()

	n := m.side
	pixels := make([]byte, n*n)
	cx := float64(tick%n) + 0.5
	cy := float64(n) / 2
	r := float64(n) / 8
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			// Floor: farther toward the top of the image.
			v := 60 + 120*float64(n-i)/float64(n)
			if math.Hypot(float64(j)-cx, float64(i)-cy) < r {
				v = 30
			}
			pixels[i*n+j] = byte(v)
		}
	}
	// Far corner reads saturated, as an out-of-range wall would.
	pixels[0] = frame.SaturatedHigh

	f, err := frame.New(n, n, pixels, frame.Metadata{
		FrameID:        id,
		ExposureMicros: 1200,
		SensorTemp:     35,
		DriverTemp:     38,
	})
	if err != nil {
		return nil
	}
	return protocol.EncodePacket(f)
}
