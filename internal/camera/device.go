package camera

import (
	"fmt"
	"sync"

	"github.com/banshee-data/depthcam/internal/monitoring"
)

// Sender writes a single command to the camera. serialmux.SerialMux
// satisfies it.
type Sender interface {
	SendCommand(command string) error
}

// CommandLogger records every command sent, with the send error if any.
type CommandLogger interface {
	RecordCommand(command string, sendErr error) error
}

// Settings is a full camera configuration.
type Settings struct {
	Display      Display
	Binning      Binning
	FPS          int
	Unit         int
	AntiMMI      bool
	AutoExposure bool
	Save         bool

	// DisableISP leaves the depth ISP off once the sequence is done.
	DisableISP bool
}

// DefaultSettings streams 100x100 frames at 20 fps over USB.
func DefaultSettings() Settings {
	return Settings{
		Display:      DefaultDisplay().WithLCD(false).WithUSB(true),
		Binning:      Binning100x100,
		FPS:          MaxFPS,
		Unit:         0,
		AntiMMI:      false,
		AutoExposure: true,
	}
}

// Commands returns the ordered command sequence that applies s. The ISP is
// switched on before binning and unit changes and off before the frame rate
// change, which is what the camera requires.
func (s Settings) Commands() []Command {
	cmds := []Command{
		ISP(true),
		s.Display.Command(),
		ISP(true),
		Binn(s.Binning),
		ISP(false),
		FPS(s.FPS),
		ISP(true),
		Unit(s.Unit),
		AntiMMI(s.AntiMMI),
		AutoExposure(s.AutoExposure),
	}
	if s.DisableISP {
		cmds = append(cmds, ISP(false))
	}
	if s.Save {
		cmds = append(cmds, Save())
	}
	return cmds
}

// Device sends commands to a camera and tracks its display state.
type Device struct {
	tx  Sender
	log CommandLogger

	mu      sync.Mutex
	display Display
}

// NewDevice returns a device writing to tx. log may be nil.
func NewDevice(tx Sender, log CommandLogger) *Device {
	return &Device{tx: tx, log: log, display: DefaultDisplay()}
}

// Send writes c to the camera. DISP commands go through UpdateDisplay so the
// tracked display state follows what the camera was told.
func (d *Device) Send(c Command) error {
	if c.Name() == "DISP" {
		if mask, ok := c.Value(); ok {
			return d.UpdateDisplay(func(Display) Display { return DisplayFromMask(uint8(mask)) })
		}
	}
	return d.send(c)
}

func (d *Device) send(c Command) error {
	err := d.tx.SendCommand(c.String())
	if d.log != nil {
		if logErr := d.log.RecordCommand(c.String(), err); logErr != nil {
			monitoring.Logf("camera: failed to record %s: %v", c, logErr)
		}
	}
	if err != nil {
		return fmt.Errorf("send %s: %w", c, err)
	}
	return nil
}

// Apply sends the command sequence for s, stopping at the first failure.
func (d *Device) Apply(s Settings) error {
	if s.Binning.Side() == 0 {
		return fmt.Errorf("%w: binning %d", ErrInvalidValue, s.Binning)
	}
	for _, c := range s.Commands() {
		if err := d.Send(c); err != nil {
			return err
		}
	}
	return nil
}

// Display returns the last display configuration the camera accepted.
func (d *Device) Display() Display {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.display
}

// UpdateDisplay derives a new display configuration from the current one and
// sends it as a single command.
func (d *Device) UpdateDisplay(change func(Display) Display) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	next := change(d.display)
	if err := d.send(next.Command()); err != nil {
		return err
	}
	d.display = next
	return nil
}
