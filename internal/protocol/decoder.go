// Package protocol decodes the depth camera's binary packet stream into
// frames.
//
// A packet on the wire is
//
//	0x00 0xFF <len:u16 LE> <info:16 bytes> <pixels:len-16 bytes> <checksum:u8> 0xDD
//
// The Decoder accepts the stream in chunks of any size and alignment. Every
// packet outcome, good or bad, is followed by a scan for the 0xDD tail byte,
// which is how the decoder regains framing after corruption.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/banshee-data/depthcam/internal/frame"
	"github.com/banshee-data/depthcam/internal/monitoring"
)

// Wire constants.
const (
	HeaderByte1 byte = 0x00
	HeaderByte2 byte = 0xFF
	TailByte    byte = 0xDD

	LengthSize = 2
	InfoSize   = 16
)

// Info block offsets.
const (
	infoCommand    = 0
	infoOutputMode = 1
	infoSensorTemp = 2
	infoDriverTemp = 3
	infoExposure   = 4 // 4 bytes LE
	infoErrorCode  = 8
	infoRows       = 10
	infoCols       = 11
	infoFrameID    = 12 // 2 bytes LE
	infoISPVersion = 14
)

// ErrInvalidRange is returned by Update when stop does not exceed start or
// the range falls outside the buffer.
var ErrInvalidRange = errors.New("invalid byte range")

// FrameSink receives frames that passed checksum and duplicate checks.
type FrameSink interface {
	Add(f *frame.Frame)
}

// State is the reception state of a Decoder.
type State int

const (
	StateWaitHeader1 State = iota
	StateWaitHeader2
	StateReadLength
	StateReadInfo
	StateReadPixels
	StateReadChecksum
	StateResyncScan
)

func (s State) String() string {
	switch s {
	case StateWaitHeader1:
		return "wait-header-1"
	case StateWaitHeader2:
		return "wait-header-2"
	case StateReadLength:
		return "read-length"
	case StateReadInfo:
		return "read-info"
	case StateReadPixels:
		return "read-pixels"
	case StateReadChecksum:
		return "read-checksum"
	case StateResyncScan:
		return "resync-scan"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Stats is a snapshot of the decoder's cumulative counters.
type Stats struct {
	BytesConsumed    uint64 `json:"bytes_consumed"`
	FramesEmitted    uint64 `json:"frames_emitted"`
	ChecksumFailures uint64 `json:"checksum_failures"`
	BadLengths       uint64 `json:"bad_lengths"`
	BadGeometry      uint64 `json:"bad_geometry"`
	Duplicates       uint64 `json:"duplicates"`
	ResyncDiscarded  uint64 `json:"resync_discarded"`
}

type counters struct {
	bytesConsumed    atomic.Uint64
	framesEmitted    atomic.Uint64
	checksumFailures atomic.Uint64
	badLengths       atomic.Uint64
	badGeometry      atomic.Uint64
	duplicates       atomic.Uint64
	resyncDiscarded  atomic.Uint64
}

// Decoder is the packet reception state machine. It is not safe for
// concurrent use: exactly one goroutine may feed it bytes at a time. Stats
// may be read from any goroutine.
type Decoder struct {
	sink  FrameSink
	state State
	debug bool

	length     [LengthSize]byte
	lengthFill int

	info     [InfoSize]byte
	infoFill int

	pixels    []byte
	pixelFill int

	checksum byte

	staged frame.Metadata
	rows   int
	cols   int

	lastID   uint16
	haveLast bool

	stats counters
}

// NewDecoder returns a decoder waiting for the first header byte. sink may be
// nil, in which case valid frames are decoded and dropped.
func NewDecoder(sink FrameSink) *Decoder {
	return &Decoder{sink: sink, state: StateWaitHeader1}
}

// Connect replaces the frame sink. Passing nil disconnects it.
func (d *Decoder) Connect(sink FrameSink) {
	d.sink = sink
}

// SetDebug enables logging of discarded packets.
func (d *Decoder) SetDebug(enabled bool) {
	d.debug = enabled
}

// State returns the current reception state.
func (d *Decoder) State() State { return d.state }

// Stats returns a snapshot of the decoder counters.
func (d *Decoder) Stats() Stats {
	return Stats{
		BytesConsumed:    d.stats.bytesConsumed.Load(),
		FramesEmitted:    d.stats.framesEmitted.Load(),
		ChecksumFailures: d.stats.checksumFailures.Load(),
		BadLengths:       d.stats.badLengths.Load(),
		BadGeometry:      d.stats.badGeometry.Load(),
		Duplicates:       d.stats.duplicates.Load(),
		ResyncDiscarded:  d.stats.resyncDiscarded.Load(),
	}
}

// Update consumes buf[start:stop], advancing the state machine as far as the
// bytes allow. A packet may span any number of calls.
func (d *Decoder) Update(buf []byte, start, stop int) error {
	if stop <= start || start < 0 || stop > len(buf) {
		return fmt.Errorf("%w: start=%d stop=%d len=%d", ErrInvalidRange, start, stop, len(buf))
	}
	for start < stop {
		start += d.step(buf[start:stop])
	}
	return nil
}

// Process consumes all of p. Empty chunks are ignored.
func (d *Decoder) Process(p []byte) {
	if len(p) == 0 {
		return
	}
	_ = d.Update(p, 0, len(p))
}

// Write implements io.Writer so a byte source can be copied straight into the
// decoder.
func (d *Decoder) Write(p []byte) (int, error) {
	d.Process(p)
	return len(p), nil
}

// step performs one state transition on a non-empty input and returns the
// number of bytes it consumed, which is always at least one.
func (d *Decoder) step(in []byte) int {
	var n int
	switch d.state {
	case StateWaitHeader1:
		n = d.waitHeader1(in[0])
	case StateWaitHeader2:
		n = d.waitHeader2(in[0])
	case StateReadLength:
		n = d.readLength(in)
	case StateReadInfo:
		n = d.readInfo(in)
	case StateReadPixels:
		n = d.readPixels(in)
	case StateReadChecksum:
		n = d.readChecksum(in[0])
	case StateResyncScan:
		n = d.resync(in)
	default:
		d.state = StateResyncScan
		n = d.resync(in)
	}
	d.stats.bytesConsumed.Add(uint64(n))
	return n
}

func (d *Decoder) waitHeader1(b byte) int {
	if b == HeaderByte1 {
		d.state = StateWaitHeader2
	} else {
		d.state = StateResyncScan
	}
	return 1
}

func (d *Decoder) waitHeader2(b byte) int {
	if b != HeaderByte2 {
		d.state = StateResyncScan
		return 1
	}
	d.checksum = HeaderByte2
	d.lengthFill = 0
	d.state = StateReadLength
	return 1
}

func (d *Decoder) readLength(in []byte) int {
	n := copy(d.length[d.lengthFill:], in)
	d.lengthFill += n
	if d.lengthFill < LengthSize {
		return n
	}

	length := int(binary.LittleEndian.Uint16(d.length[:]))
	count := length - InfoSize
	if count < frame.MinPixels || count > frame.MaxPixels {
		d.stats.badLengths.Add(1)
		d.discard("length %d gives %d pixels", length, count)
		return n
	}
	if cap(d.pixels) >= count {
		d.pixels = d.pixels[:count]
	} else {
		d.pixels = make([]byte, count)
	}
	d.checksum += d.length[0] + d.length[1]
	d.infoFill = 0
	d.state = StateReadInfo
	return n
}

func (d *Decoder) readInfo(in []byte) int {
	n := copy(d.info[d.infoFill:], in)
	d.infoFill += n
	if d.infoFill < InfoSize {
		return n
	}

	info := d.info[:]
	id := binary.LittleEndian.Uint16(info[infoFrameID:])
	if d.haveLast && id == d.lastID {
		d.stats.duplicates.Add(1)
		d.discard("duplicate frame id %d", id)
		return n
	}

	d.staged = frame.Metadata{
		FrameID:        id,
		ExposureMicros: binary.LittleEndian.Uint32(info[infoExposure:]),
		SensorTemp:     int8(info[infoSensorTemp]),
		DriverTemp:     int8(info[infoDriverTemp]),
		ErrorCode:      info[infoErrorCode],
		Command:        info[infoCommand],
		OutputMode:     info[infoOutputMode],
		ISPVersion:     info[infoISPVersion],
	}
	d.rows = int(info[infoRows])
	d.cols = int(info[infoCols])

	for _, b := range info {
		d.checksum += b
	}
	d.pixelFill = 0
	d.state = StateReadPixels
	return n
}

func (d *Decoder) readPixels(in []byte) int {
	n := copy(d.pixels[d.pixelFill:], in)
	for _, b := range d.pixels[d.pixelFill : d.pixelFill+n] {
		d.checksum += b
	}
	d.pixelFill += n
	if d.pixelFill == len(d.pixels) {
		d.state = StateReadChecksum
	}
	return n
}

func (d *Decoder) readChecksum(b byte) int {
	d.state = StateResyncScan
	if b != d.checksum {
		d.stats.checksumFailures.Add(1)
		if d.debug {
			monitoring.Logf("protocol: checksum mismatch on frame %d: got 0x%02x want 0x%02x", d.staged.FrameID, b, d.checksum)
		}
		return 1
	}

	f, err := frame.New(d.rows, d.cols, d.pixels, d.staged)
	if err != nil {
		d.stats.badGeometry.Add(1)
		if d.debug {
			monitoring.Logf("protocol: dropping frame %d: %v", d.staged.FrameID, err)
		}
		return 1
	}

	d.lastID = d.staged.FrameID
	d.haveLast = true
	d.stats.framesEmitted.Add(1)
	if d.sink != nil {
		d.sink.Add(f)
	}
	return 1
}

func (d *Decoder) resync(in []byte) int {
	for i, b := range in {
		if b == TailByte {
			d.state = StateWaitHeader1
			d.stats.resyncDiscarded.Add(uint64(i))
			return i + 1
		}
	}
	d.stats.resyncDiscarded.Add(uint64(len(in)))
	return len(in)
}

func (d *Decoder) discard(format string, args ...interface{}) {
	d.state = StateResyncScan
	if d.debug {
		monitoring.Logf("protocol: discarding packet: "+format, args...)
	}
}
