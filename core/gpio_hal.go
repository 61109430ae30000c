package core

// GPIOPin identifies a pin as port*16 + line, port A = 0.
type GPIOPin uint8

// Discovery board pins
const (
	PA0  GPIOPin = 0*16 + 0
	PD12 GPIOPin = 3*16 + 12
	PD13 GPIOPin = 3*16 + 13
	PD14 GPIOPin = 3*16 + 14
	PD15 GPIOPin = 3*16 + 15

	LED_GREEN   = PD12
	LED_ORANGE  = PD13
	LED_RED     = PD14
	LED_BLUE    = PD15
	BUTTON_USER = PA0
)

// LEDs lists the four user LEDs in channel order (TIM4 CH1..CH4).
var LEDs = [4]GPIOPin{LED_GREEN, LED_ORANGE, LED_RED, LED_BLUE}

// Port returns the port index, 0 for A.
func (p GPIOPin) Port() uint8 { return uint8(p) >> 4 }

// Line returns the pin number within its port.
func (p GPIOPin) Line() uint8 { return uint8(p) & 0xF }

func (p GPIOPin) String() string {
	return "P" + string(rune('A'+p.Port())) + utoa(uint32(p.Line()))
}

// GPIODriver is the line-level GPIO interface the demos use.
// Platform-specific implementations handle actual hardware control.
type GPIODriver interface {
	// SetPin drives the pin high (true) or low (false)
	SetPin(pin GPIOPin, value bool) error

	// ReadPin samples the input level
	ReadPin(pin GPIOPin) bool

	// Toggle inverts the output level
	Toggle(pin GPIOPin) error
}

// Global singleton used by core code.
var gpioDriver GPIODriver

// SetGPIODriver is called by target-specific code to register its driver.
func SetGPIODriver(d GPIODriver) {
	gpioDriver = d
}

// MustGPIO returns the configured driver or panics if missing.
func MustGPIO() GPIODriver {
	if gpioDriver == nil {
		panic("GPIO driver not configured")
	}
	return gpioDriver
}
