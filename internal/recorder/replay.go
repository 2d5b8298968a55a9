package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/banshee-data/depthcam/internal/fsutil"
	"github.com/banshee-data/depthcam/internal/timeutil"
)

// DefaultChunkSize is the read size used when replaying a capture.
const DefaultChunkSize = 1024

// Processor consumes replayed bytes. protocol.Decoder satisfies it.
type Processor interface {
	Process(p []byte)
}

// FrameCounter reports how many frames have been decoded so far. Replay uses
// it to detect that a chunk completed a frame.
type FrameCounter func() uint64

// Replayer streams a capture file into a Processor.
type Replayer struct {
	fsys      fsutil.FileSystem
	clock     timeutil.Clock
	fps       int
	chunkSize int
	frames    FrameCounter
}

// ReplayOption configures a Replayer.
type ReplayOption func(*Replayer)

// WithPacing sleeps 1/fps after each chunk that completes a frame, so the
// capture replays at roughly camera speed. fps <= 0 replays as fast as
// possible.
func WithPacing(fps int, frames FrameCounter) ReplayOption {
	return func(r *Replayer) {
		r.fps = fps
		r.frames = frames
	}
}

// WithChunkSize overrides DefaultChunkSize.
func WithChunkSize(n int) ReplayOption {
	return func(r *Replayer) {
		if n > 0 {
			r.chunkSize = n
		}
	}
}

// WithClock replaces the clock used for pacing.
func WithClock(c timeutil.Clock) ReplayOption {
	return func(r *Replayer) { r.clock = c }
}

// NewReplayer returns a replayer reading from fsys.
func NewReplayer(fsys fsutil.FileSystem, opts ...ReplayOption) *Replayer {
	r := &Replayer{
		fsys:      fsys,
		clock:     timeutil.RealClock{},
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FrameInterval returns the pause inserted after each frame, or zero when
// pacing is off.
func (r *Replayer) FrameInterval() time.Duration {
	if r.fps <= 0 || r.frames == nil {
		return 0
	}
	return time.Second / time.Duration(r.fps)
}

// Replay feeds the capture at path to p and returns the number of raw bytes
// delivered. It stops early with ctx.Err() if ctx is cancelled.
func (r *Replayer) Replay(ctx context.Context, path string, p Processor) (int64, error) {
	f, err := r.fsys.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open capture %s: %w", path, err)
	}
	defer f.Close()

	var src io.Reader = f
	if IsCompressed(path) {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return 0, fmt.Errorf("open capture %s: %w", path, err)
		}
		defer gz.Close()
		src = gz
	}

	interval := r.FrameInterval()
	buf := make([]byte, r.chunkSize)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		var before uint64
		if interval > 0 {
			before = r.frames()
		}

		n, err := io.ReadFull(src, buf)
		if n > 0 {
			p.Process(buf[:n])
			total += int64(n)
			if interval > 0 && r.frames() != before {
				select {
				case <-ctx.Done():
					return total, ctx.Err()
				case <-r.clock.After(interval):
				}
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return total, nil
		}
		if err != nil {
			return total, fmt.Errorf("read capture %s: %w", path, err)
		}
	}
}
