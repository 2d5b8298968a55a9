// Package recorder captures the camera's raw byte stream to disk and replays
// captures back through the decoder.
//
// A capture is the unmodified byte stream read from the serial port, so it
// can be decoded exactly as a live session would be. Paths ending in ".gz"
// are gzip-compressed.
package recorder

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"

	"github.com/banshee-data/depthcam/internal/fsutil"
	"github.com/banshee-data/depthcam/internal/monitoring"
)

// IsCompressed reports whether path names a gzip capture.
func IsCompressed(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}

// Recorder appends every chunk it is given to a capture file. It is safe for
// concurrent use.
type Recorder struct {
	path string

	mu     sync.Mutex
	file   io.WriteCloser
	gz     *gzip.Writer
	buf    *bufio.Writer
	n      int64
	err    error
	closed bool
}

// Create truncates or creates the capture at path.
func Create(fsys fsutil.FileSystem, path string) (*Recorder, error) {
	f, err := fsys.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create capture %s: %w", path, err)
	}
	r := &Recorder{path: path, file: f}
	var w io.Writer = f
	if IsCompressed(path) {
		r.gz = gzip.NewWriter(f)
		w = r.gz
	}
	r.buf = bufio.NewWriterSize(w, 64*1024)
	return r, nil
}

// Write appends p to the capture.
func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, fmt.Errorf("capture %s: %w", r.path, io.ErrClosedPipe)
	}
	if r.err != nil {
		return 0, r.err
	}
	n, err := r.buf.Write(p)
	r.n += int64(n)
	if err != nil {
		r.err = fmt.Errorf("write capture %s: %w", r.path, err)
		return n, r.err
	}
	return n, nil
}

// Process records a chunk read from the port. The first write failure is
// logged and recording stops; later chunks are dropped silently.
func (r *Recorder) Process(p []byte) {
	r.mu.Lock()
	failed := r.err != nil
	r.mu.Unlock()
	if failed {
		return
	}
	if _, err := r.Write(p); err != nil {
		monitoring.Logf("recorder: %v; further data will not be recorded", err)
	}
}

// Bytes returns the number of raw bytes recorded.
func (r *Recorder) Bytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Err returns the first write error, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close flushes buffered data and closes the file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	err := r.buf.Flush()
	if r.gz != nil {
		if gzErr := r.gz.Close(); err == nil {
			err = gzErr
		}
	}
	if closeErr := r.file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("close capture %s: %w", r.path, err)
	}
	monitoring.Logf("recorder: wrote %s to %s", humanize.Bytes(uint64(r.n)), r.path)
	return nil
}
