// GPIO support
// Register-backed GPIODriver plus the fixed pin setups the discovery board
// needs: LED outputs, user button input and LED routing to TIM4.
package core

// GPIO mode and alternate function encodings
const (
	GPIO_MODE_INPUT  = 0
	GPIO_MODE_OUTPUT = 1
	GPIO_MODE_AF     = 2
	GPIO_MODE_ANALOG = 3

	GPIO_SPEED_LOW    = 0
	GPIO_SPEED_MEDIUM = 1
	GPIO_SPEED_FAST   = 2
	GPIO_SPEED_HIGH   = 3

	GPIO_PULL_NONE = 0

	// TIM3..TIM5 on AF2
	GPIO_AF2_TIM4 = 2
)

// PortGPIO implements GPIODriver on top of the port registers. Output writes
// go through the atomic set/reset halves, never through ODR.
type PortGPIO struct {
	ports [16]*GPIO
}

// NewPortGPIO maps each port by its base address.
func NewPortGPIO(ports ...*GPIO) *PortGPIO {
	d := &PortGPIO{}
	for _, p := range ports {
		d.ports[(p.Base-GPIOABase)/0x400&0xF] = p
	}
	return d
}

func (d *PortGPIO) port(pin GPIOPin) (*GPIO, error) {
	p := d.ports[pin.Port()]
	if p == nil {
		return nil, ErrUnknownPort
	}
	return p, nil
}

func (d *PortGPIO) SetPin(pin GPIOPin, value bool) error {
	p, err := d.port(pin)
	if err != nil {
		return err
	}
	if value {
		p.BSRRL.Set(1 << pin.Line())
	} else {
		p.BSRRH.Set(1 << pin.Line())
	}
	return nil
}

func (d *PortGPIO) ReadPin(pin GPIOPin) bool {
	p, err := d.port(pin)
	if err != nil {
		return false
	}
	return p.IDR.HasBits(1 << pin.Line())
}

func (d *PortGPIO) Toggle(pin GPIOPin) error {
	p, err := d.port(pin)
	if err != nil {
		return err
	}
	return d.SetPin(pin, !p.ODR.HasBits(1<<pin.Line()))
}

// ledMask is the ODR/BSRR mask of PD12..PD15.
const ledMask = 0xF000

// pinPairs spreads a per-pin 2-bit value over the given pins.
func pinPairs(pins []GPIOPin, v uint32) (mask, bits uint32) {
	for _, p := range pins {
		shift := uint32(p.Line()) * 2
		mask |= 3 << shift
		bits |= v << shift
	}
	return mask, bits
}

// EnableClocks gates on every peripheral the firmware touches: GPIOA, GPIOD
// and DMA1 on AHB1, TIM3 and TIM4 on APB1.
func EnableClocks(rcc *RCC) {
	rcc.AHB1ENR.SetBits(RCC_AHB1ENR_GPIOAEN | RCC_AHB1ENR_GPIODEN | RCC_AHB1ENR_DMA1EN)
	rcc.APB1ENR.SetBits(RCC_APB1ENR_TIM3EN | RCC_APB1ENR_TIM4EN)
}

// ConfigureLEDOutputs makes PD12..PD15 push-pull outputs, all off.
func ConfigureLEDOutputs(gpiod *GPIO) {
	mask, bits := pinPairs(LEDs[:], GPIO_MODE_OUTPUT)
	gpiod.MODER.Set(gpiod.MODER.Get()&^mask | bits)
	gpiod.OTYPER.ClearBits(ledMask)
	_, speed := pinPairs(LEDs[:], GPIO_SPEED_MEDIUM)
	gpiod.OSPEEDR.Set(gpiod.OSPEEDR.Get()&^mask | speed)
	gpiod.PUPDR.ClearBits(mask)
	gpiod.BSRRH.Set(ledMask)
}

// ConfigureButtonInput makes PA0 a floating input; the board has an external
// pull-down on the user button.
func ConfigureButtonInput(gpioa *GPIO) {
	mask, _ := pinPairs([]GPIOPin{BUTTON_USER}, 0)
	gpioa.MODER.ClearBits(mask)
	gpioa.PUPDR.ClearBits(mask)
}

// RouteLEDsToTIM4 hands PD12..PD15 to TIM4 CH1..CH4 (AF2, fast edges).
func RouteLEDsToTIM4(gpiod *GPIO) {
	mask, af := pinPairs(LEDs[:], GPIO_MODE_AF)
	gpiod.MODER.Set(gpiod.MODER.Get()&^mask | af)
	_, speed := pinPairs(LEDs[:], GPIO_SPEED_FAST)
	gpiod.OSPEEDR.Set(gpiod.OSPEEDR.Get()&^mask | speed)
	gpiod.OTYPER.ClearBits(ledMask)
	for _, p := range LEDs {
		// AFRH holds lines 8..15, four bits each
		gpiod.AFRH.ReplaceBits(GPIO_AF2_TIM4, 0xF, (p.Line()-8)*4)
	}
}
