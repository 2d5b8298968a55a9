// frame-dump decodes a raw depth camera capture and prints each frame.
//
// Usage:
//
//	frame-dump -file capture.bin.gz [-ascii] [-unit 0] [-limit 10] [-png out/]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image/color"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/depthcam/internal/calibration"
	"github.com/banshee-data/depthcam/internal/frame"
	"github.com/banshee-data/depthcam/internal/fsutil"
	"github.com/banshee-data/depthcam/internal/protocol"
	"github.com/banshee-data/depthcam/internal/recorder"
)

var (
	file   = flag.String("file", "", "Capture file to decode (.bin or .bin.gz)")
	ascii  = flag.Bool("ascii", false, "Print each frame as ASCII art")
	unit   = flag.Int("unit", 0, "Quantization unit the capture was taken with, 0-9")
	limit  = flag.Int("limit", 0, "Stop after this many frames; 0 decodes the whole file")
	pngDir = flag.String("png", "", "Write one PNG heatmap per frame into this directory")
)

// asciiRamp runs from near (dense) to far (sparse).
const asciiRamp = "@%#*+=-:. "

// asciiBlock is the side of the pixel block averaged into one character.
const asciiBlock = 2

type options struct {
	ascii  bool
	limit  int
	pngDir string
}

// dumper prints frames as the decoder emits them.
type dumper struct {
	opts   options
	cal    *calibration.Calibration
	out    io.Writer
	cancel context.CancelFunc

	frames int
	err    error
}

func (d *dumper) Add(f *frame.Frame) {
	if d.err != nil || (d.opts.limit > 0 && d.frames >= d.opts.limit) {
		return
	}
	d.frames++

	fmt.Fprintln(d.out, describe(f, d.cal))
	if d.opts.ascii {
		fmt.Fprint(d.out, asciiArt(f))
	}
	if d.opts.pngDir != "" {
		path := filepath.Join(d.opts.pngDir, fmt.Sprintf("frame_%05d_%05d.png", d.frames, f.ID()))
		if err := writePNG(f, d.cal, path); err != nil {
			d.err = err
			d.cancel()
			return
		}
	}
	if d.opts.limit > 0 && d.frames >= d.opts.limit {
		d.cancel()
	}
}

// dump decodes the capture at path, writing one report per frame to out.
func dump(ctx context.Context, fsys fsutil.FileSystem, path string, unit int, opts options, out io.Writer) error {
	if opts.pngDir != "" {
		if err := fsys.MkdirAll(opts.pngDir, 0o755); err != nil {
			return fmt.Errorf("create png dir: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d := &dumper{opts: opts, cal: calibration.NewDefault(unit), out: out, cancel: cancel}
	dec := protocol.NewDecoder(d)

	n, err := recorder.NewReplayer(fsys).Replay(ctx, path, dec)
	if d.err != nil {
		return d.err
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	s := dec.Stats()
	fmt.Fprintf(out, "%s frames from %s of %s; discarded: checksum=%d length=%d geometry=%d duplicate=%d; resync skipped %s\n",
		humanize.Comma(int64(d.frames)), humanize.Bytes(uint64(n)), path,
		s.ChecksumFailures, s.BadLengths, s.BadGeometry, s.Duplicates, humanize.Bytes(s.ResyncDiscarded))
	return nil
}

func describe(f *frame.Frame, cal *calibration.Calibration) string {
	st := f.Stats()
	var b strings.Builder
	fmt.Fprintf(&b, "frame %d: %dx%d exposure=%s sensor=%dC driver=%dC error=%d valid=%d saturated=%d",
		f.ID(), f.Rows(), f.Cols(), f.ExposureTime(), f.SensorTemperature(), f.DriverTemperature(),
		f.ErrorCode(), st.Valid, st.Saturated)
	if st.Valid > 0 {
		u := "m"
		if cal.QuantizationUnit() != 0 {
			u = "native"
		}
		fmt.Fprintf(&b, " depth=%.3f..%.3f%s", cal.Depth(st.Min), cal.Depth(st.Max), u)
	}
	return b.String()
}

// asciiArt averages asciiBlock×asciiBlock pixel blocks and maps each onto
// asciiRamp. Blocks with only saturated pixels print blank.
func asciiArt(f *frame.Frame) string {
	var b strings.Builder
	for i := 0; i < f.Rows(); i += asciiBlock {
		for j := 0; j < f.Cols(); j += asciiBlock {
			sum, n := 0, 0
			for ii := i; ii < i+asciiBlock && ii < f.Rows(); ii++ {
				for jj := j; jj < j+asciiBlock && jj < f.Cols(); jj++ {
					if f.Saturated(ii, jj) {
						continue
					}
					sum += int(f.Pixel(ii, jj))
					n++
				}
			}
			c := byte(' ')
			if n > 0 {
				c = asciiRamp[(sum/n)*len(asciiRamp)/256]
			}
			// Two columns per block keep the aspect ratio square.
			b.WriteByte(c)
			b.WriteByte(c)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// depthGrid adapts a frame to plotter.GridXYZ. Row 0 is drawn at the top and
// saturated pixels are NaN.
type depthGrid struct {
	f   *frame.Frame
	cal *calibration.Calibration
}

func (g depthGrid) Dims() (c, r int) { return g.f.Cols(), g.f.Rows() }
func (g depthGrid) X(c int) float64  { return float64(c) }
func (g depthGrid) Y(r int) float64  { return float64(r) }

func (g depthGrid) Z(c, r int) float64 {
	i := g.f.Rows() - 1 - r
	if g.f.Saturated(i, c) {
		return math.NaN()
	}
	return g.cal.Depth(g.f.Pixel(i, c))
}

func writePNG(f *frame.Frame, cal *calibration.Calibration, path string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Frame %d", f.ID())
	p.X.Label.Text = "column"
	p.Y.Label.Text = "row (flipped)"

	hm := plotter.NewHeatMap(depthGrid{f: f, cal: cal}, palette.Heat(64, 1))
	hm.NaN = color.Black
	// An all-saturated or flat frame has no usable range.
	if math.IsInf(hm.Min, 0) || math.IsInf(hm.Max, 0) {
		hm.Min, hm.Max = 0, 1
	}
	if hm.Max <= hm.Min {
		hm.Max = hm.Min + 1
	}
	p.Add(hm)

	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

func main() {
	flag.Parse()
	if *file == "" {
		flag.Usage()
		os.Exit(2)
	}

	opts := options{ascii: *ascii, limit: *limit, pngDir: *pngDir}
	if err := dump(context.Background(), fsutil.OSFileSystem{}, *file, *unit, opts, os.Stdout); err != nil {
		log.Fatal(err)
	}
}
