package camera

import "strings"

// Display output bits.
const (
	DisplayLCD  uint8 = 1 << 0
	DisplayUSB  uint8 = 1 << 1
	DisplayUART uint8 = 1 << 2
)

// Display is the set of outputs the camera streams frames to. Values are
// immutable; the With methods return a modified copy.
type Display struct {
	mask uint8
}

// DefaultDisplay is the camera's power-on state: LCD only.
func DefaultDisplay() Display { return Display{mask: DisplayLCD} }

// NewDisplay builds a Display from individual flags.
func NewDisplay(lcd, usb, uart bool) Display {
	return Display{}.WithLCD(lcd).WithUSB(usb).WithUART(uart)
}

// DisplayFromMask decodes an AT+DISP bitmask. Unknown bits are dropped.
func DisplayFromMask(mask uint8) Display {
	return Display{mask: mask & (DisplayLCD | DisplayUSB | DisplayUART)}
}

func (d Display) with(bit uint8, on bool) Display {
	if on {
		d.mask |= bit
	} else {
		d.mask &^= bit
	}
	return d
}

func (d Display) WithLCD(on bool) Display  { return d.with(DisplayLCD, on) }
func (d Display) WithUSB(on bool) Display  { return d.with(DisplayUSB, on) }
func (d Display) WithUART(on bool) Display { return d.with(DisplayUART, on) }

func (d Display) LCD() bool  { return d.mask&DisplayLCD != 0 }
func (d Display) USB() bool  { return d.mask&DisplayUSB != 0 }
func (d Display) UART() bool { return d.mask&DisplayUART != 0 }

// Mask returns the AT+DISP bitmask.
func (d Display) Mask() uint8 { return d.mask }

// Command renders the AT+DISP command for d.
func (d Display) Command() Command { return Disp(d) }

func (d Display) String() string {
	var on []string
	if d.LCD() {
		on = append(on, "lcd")
	}
	if d.USB() {
		on = append(on, "usb")
	}
	if d.UART() {
		on = append(on, "uart")
	}
	if len(on) == 0 {
		return "none"
	}
	return strings.Join(on, "+")
}
