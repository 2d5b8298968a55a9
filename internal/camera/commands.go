// Package camera builds and sends the camera's textual AT configuration
// commands.
package camera

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/banshee-data/depthcam/internal/monitoring"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrInvalidValue   = errors.New("invalid command value")
)

// Command is a rendered AT command without the trailing carriage return,
// e.g. "AT+FPS=20". The transport appends the terminator.
type Command string

func (c Command) String() string { return string(c) }

// Name returns the command name, e.g. "FPS".
func (c Command) Name() string {
	s := strings.TrimPrefix(string(c), "AT+")
	if i := strings.IndexByte(s, '='); i >= 0 {
		return s[:i]
	}
	return s
}

// Value returns the numeric argument of a settable command. ok is false for
// commands without one, such as AT+SAVE.
func (c Command) Value() (v int, ok bool) {
	i := strings.IndexByte(string(c), '=')
	if i < 0 {
		return 0, false
	}
	v, err := strconv.Atoi(string(c)[i+1:])
	return v, err == nil
}

func set(name string, value int) Command {
	return Command("AT+" + name + "=" + strconv.Itoa(value))
}

func flag(on bool) int {
	if on {
		return 1
	}
	return 0
}

// Binning selects the output resolution.
type Binning int

const (
	Binning100x100 Binning = 1
	Binning50x50   Binning = 2
	Binning25x25   Binning = 4
)

// Side returns the image width and height produced by b, or 0 if b is not a
// supported binning.
func (b Binning) Side() int {
	switch b {
	case Binning100x100:
		return 100
	case Binning50x50:
		return 50
	case Binning25x25:
		return 25
	default:
		return 0
	}
}

// BinningForSide maps an image side length (100, 50 or 25) to a Binning.
func BinningForSide(side int) (Binning, error) {
	for _, b := range []Binning{Binning100x100, Binning50x50, Binning25x25} {
		if b.Side() == side {
			return b, nil
		}
	}
	return 0, fmt.Errorf("%w: binning for %dx%d", ErrInvalidValue, side, side)
}

// UART baud rates by AT+BAUD code.
var baudCodes = map[int]int{
	9600:    0,
	57600:   1,
	115200:  2,
	230400:  3,
	460800:  4,
	921600:  5,
	1000000: 6,
	2000000: 7,
	3000000: 8,
}

// Frame rate and quantization unit bounds.
const (
	MinFPS  = 1
	MaxFPS  = 20
	MinUnit = 0
	MaxUnit = 9
)

// ISP turns the image signal processor on or off.
func ISP(on bool) Command { return set("ISP", flag(on)) }

// Binn sets the binning. The ISP must be on for it to take effect.
func Binn(b Binning) Command { return set("BINN", int(b)) }

// Disp sets the display outputs.
func Disp(d Display) Command { return set("DISP", int(d.Mask())) }

// Baud sets the UART baud rate. Only the rates the camera supports are
// accepted.
func Baud(rate int) (Command, error) {
	code, ok := baudCodes[rate]
	if !ok {
		return "", fmt.Errorf("%w: baud rate %d", ErrInvalidValue, rate)
	}
	return set("BAUD", code), nil
}

// Unit sets the quantization unit. Values outside [0,9] become 0. The ISP
// must be on for it to take effect.
func Unit(u int) Command {
	if u < MinUnit || u > MaxUnit {
		monitoring.Logf("camera: quantization unit %d outside [%d,%d], using 0", u, MinUnit, MaxUnit)
		u = 0
	}
	return set("UNIT", u)
}

// FPS sets the frame rate, clamped to [1,20]. The ISP must be off for it to
// take effect.
func FPS(fps int) Command {
	switch {
	case fps < MinFPS:
		monitoring.Logf("camera: fps %d below %d, using %d", fps, MinFPS, MinFPS)
		fps = MinFPS
	case fps > MaxFPS:
		monitoring.Logf("camera: fps %d above %d, using %d", fps, MaxFPS, MaxFPS)
		fps = MaxFPS
	}
	return set("FPS", fps)
}

// AntiMMI toggles anti multi-machine interference.
func AntiMMI(on bool) Command { return set("ANTIMMI", flag(on)) }

// AutoExposure toggles automatic exposure.
func AutoExposure(on bool) Command { return set("AE", flag(on)) }

// Save persists the current configuration on the camera.
func Save() Command { return "AT+SAVE" }

// valueRange lists the accepted values for each settable command; a nil
// entry takes no value.
var valueRange = map[string]*[2]int{
	"ISP":     {0, 1},
	"BINN":    {1, 4},
	"DISP":    {0, 7},
	"BAUD":    {0, 8},
	"UNIT":    {MinUnit, MaxUnit},
	"FPS":     {MinFPS, MaxFPS},
	"ANTIMMI": {0, 1},
	"AE":      {0, 1},
	"SAVE":    nil,
}

// Names returns the commands accepted by Parse, sorted.
func Names() []string {
	names := make([]string, 0, len(valueRange))
	for n := range valueRange {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Parse validates a command name and value, as typed by an operator, against
// the commands the camera understands.
func Parse(name, value string) (Command, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	value = strings.TrimSpace(value)

	bounds, ok := valueRange[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	if bounds == nil {
		if value != "" {
			return "", fmt.Errorf("%w: %s takes no value", ErrInvalidValue, name)
		}
		return Command("AT+" + name), nil
	}

	v, err := strconv.Atoi(value)
	if err != nil {
		return "", fmt.Errorf("%w: %s=%q", ErrInvalidValue, name, value)
	}
	if v < bounds[0] || v > bounds[1] {
		return "", fmt.Errorf("%w: %s=%d outside [%d,%d]", ErrInvalidValue, name, v, bounds[0], bounds[1])
	}
	if name == "BINN" && Binning(v).Side() == 0 {
		return "", fmt.Errorf("%w: BINN=%d", ErrInvalidValue, v)
	}
	return set(name, v), nil
}
