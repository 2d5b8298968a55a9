package api

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/depthcam/internal/testutil"
	"github.com/banshee-data/depthcam/internal/timeutil"
)

func TestLatestFrameKeepsNewest(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	l := NewLatestFrame(clock)

	f, at := l.Frame()
	assert.Nil(t, f)
	assert.True(t, at.IsZero())
	assert.Equal(t, uint64(0), l.Count())

	first := testutil.Frame(t, 25, 25, 1, testutil.Uniform(10))
	second := testutil.Frame(t, 25, 25, 2, testutil.Uniform(20))
	l.Consume(first)
	clock.Advance(50 * time.Millisecond)
	l.Consume(second)

	f, at = l.Frame()
	assert.Same(t, second, f)
	assert.Equal(t, epoch.Add(50*time.Millisecond), at)
	assert.Equal(t, uint64(2), l.Count())
}

func TestLatestFrameConcurrent(t *testing.T) {
	l := NewLatestFrame(nil)
	f := testutil.Frame(t, 25, 25, 1, testutil.Uniform(10))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.Consume(f)
				l.Frame()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(800), l.Count())
}
