// Package input implements controller handling for the NES.
package input

import "fmt"

// Button represents NES controller buttons
type Button uint8

const (
	ButtonA Button = 1 << iota
	ButtonB
	ButtonSelect
	ButtonStart
	ButtonUp
	ButtonDown
	ButtonLeft
	ButtonRight
)

// Convenience constants for shorter names used in SDL integration
const (
	A      = ButtonA
	B      = ButtonB
	Select = ButtonSelect
	Start  = ButtonStart
	Up     = ButtonUp
	Down   = ButtonDown
	Left   = ButtonLeft
	Right  = ButtonRight
)

// Controller represents a NES controller
type Controller struct {
	// Current button states (8 buttons: A, B, Select, Start, Up, Down, Left, Right)
	buttons uint8

	// Shift register for serial reading
	shiftRegister uint8
	strobe        bool

	// Snapshot of button states when strobe was activated
	buttonSnapshot uint8

	// Bit position tracking for proper NES controller protocol
	bitPosition uint8 // Tracks which bit we're reading (0-7 for buttons, 8+ for extended reads)

	// traceHook, when set, receives a one-line description of each
	// state-changing event (button change, strobe edge, register access).
	// Nil by default so the controller stays silent in production paths.
	traceHook func(event string)
}

// New creates a new Controller instance
func New() *Controller {
	return &Controller{}
}

// SetTraceHook installs (or clears, with nil) the per-event trace callback.
func (c *Controller) SetTraceHook(hook func(event string)) {
	c.traceHook = hook
}

func (c *Controller) trace(format string, args ...interface{}) {
	if c.traceHook == nil {
		return
	}
	c.traceHook(fmt.Sprintf(format, args...))
}

// SetButton sets the state of a button (simplified approach like other NES emulators)
func (c *Controller) SetButton(button Button, pressed bool) {
	if pressed {
		c.buttons |= uint8(button)
	} else {
		c.buttons &^= uint8(button)
	}
	c.trace("SetButton: button=%d pressed=%t buttons=0x%02X", uint8(button), pressed, c.buttons)
}

// SetButtons sets all button states at once (array approach like ChibiNES/Fogleman NES)
func (c *Controller) SetButtons(buttons [8]bool) {
	// NES button order: A, B, Select, Start, Up, Down, Left, Right
	c.buttons = 0
	if buttons[0] {
		c.buttons |= uint8(ButtonA)
	}
	if buttons[1] {
		c.buttons |= uint8(ButtonB)
	}
	if buttons[2] {
		c.buttons |= uint8(ButtonSelect)
	}
	if buttons[3] {
		c.buttons |= uint8(ButtonStart)
	}
	if buttons[4] {
		c.buttons |= uint8(ButtonUp)
	}
	if buttons[5] {
		c.buttons |= uint8(ButtonDown)
	}
	if buttons[6] {
		c.buttons |= uint8(ButtonLeft)
	}
	if buttons[7] {
		c.buttons |= uint8(ButtonRight)
	}
	c.trace("SetButtons: buttons=0x%02X", c.buttons)
}

// IsPressed returns true if the button is currently pressed
func (c *Controller) IsPressed(button Button) bool {
	return (c.buttons & uint8(button)) != 0
}

// Write handles writes to the controller register ($4016)
func (c *Controller) Write(value uint8) {
	wasStrobe := c.strobe
	c.strobe = (value & 1) != 0

	if c.strobe {
		// Strobe is active - capture current button state immediately
		c.buttonSnapshot = c.buttons
		c.shiftRegister = c.buttons // Set shift register immediately for compatibility
		c.bitPosition = 0          // Reset bit position for new read sequence
		c.trace("strobe activated: buttons=0x%02X", c.buttons)
	} else if wasStrobe {
		// Strobe was just deactivated - capture current button state and load into shift register
		c.buttonSnapshot = c.buttons // Update snapshot with current button state
		c.shiftRegister = c.buttonSnapshot
		c.bitPosition = 0 // Reset bit position for new read sequence
		c.trace("strobe deactivated: shiftRegister=0x%02X", c.shiftRegister)
	}
}

// Read handles reads from the controller register ($4016/$4017). Bit 0
// carries the button data; bit 6 is always set, approximating the open-bus
// value ($40, the high byte of the port address) on the upper bits.
func (c *Controller) Read() uint8 {
	if c.strobe {
		// When strobe is active, always return button A state and reset to position 0.
		// Matches rgnes/fogleman behavior: reset index during read if strobe is high.
		c.bitPosition = 0
		result := uint8(c.buttonSnapshot&1) | 0x40 // Only bit 0 contains button data
		c.trace("read during strobe: result=0x%02X", result)
		return result
	}

	var result uint8
	if c.bitPosition < 8 {
		// Reading bits 0-7: Normal button sequence
		result = uint8(c.shiftRegister&1) | 0x40 // Only bit 0 contains button data
		c.shiftRegister >>= 1
		c.bitPosition++
		c.trace("read bit %d: result=0x%02X", c.bitPosition-1, result)
	} else {
		// Reading bit 8+: no button data (0, as in rgnes/fogleman), only the open-bus bit 6
		result = 0x40
		c.bitPosition++
		c.trace("extended read (bit %d): result=0x%02X", c.bitPosition, result)
	}

	return result
}

// Reset resets the controller state
func (c *Controller) Reset() {
	c.buttons = 0
	c.shiftRegister = 0
	c.strobe = false
	c.buttonSnapshot = 0
	c.bitPosition = 0
}

// GetBitPosition returns the current bit position (for testing)
func (c *Controller) GetBitPosition() uint8 {
	return c.bitPosition
}

// InputState represents the state of all input devices
type InputState struct {
	Controller1 *Controller
	Controller2 *Controller
}

// NewInputState creates a new input state with two controllers
func NewInputState() *InputState {
	return &InputState{
		Controller1: New(),
		Controller2: New(),
	}
}

// Reset resets all input devices
func (is *InputState) Reset() {
	is.Controller1.Reset()
	is.Controller2.Reset()
}

// SetTraceHook installs the same trace callback on both controller ports.
func (is *InputState) SetTraceHook(hook func(event string)) {
	is.Controller1.SetTraceHook(hook)
	is.Controller2.SetTraceHook(hook)
}

// SetButtons1 sets all button states for controller 1 (array approach)
func (is *InputState) SetButtons1(buttons [8]bool) {
	is.Controller1.SetButtons(buttons)
}

// SetButtons2 sets all button states for controller 2 (array approach)
func (is *InputState) SetButtons2(buttons [8]bool) {
	is.Controller2.SetButtons(buttons)
}

// Read reads from controller ports
func (is *InputState) Read(address uint16) uint8 {
	switch address {
	case 0x4016:
		return is.Controller1.Read()
	case 0x4017:
		// Controller.Read already sets the open-bus bit 6 on both ports.
		return is.Controller2.Read()
	default:
		return 0
	}
}

// Write writes to controller ports
func (is *InputState) Write(address uint16, value uint8) {
	if address == 0x4016 {
		// Both controllers receive strobe signals.
		is.Controller1.Write(value)
		is.Controller2.Write(value)
	}
}
