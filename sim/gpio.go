package sim

// gpio models one port. BSRR reads as zero; its low half sets ODR bits and
// its high half clears them, set winning when both name a pin.
type gpio struct {
	base uintptr
	idr  uint32
	odr  uint32
	regs *regfile
}

func newGPIO(base uintptr) *gpio {
	return &gpio{base: base, regs: newRegfile()}
}

const (
	gpioIDR  = 0x10
	gpioODR  = 0x14
	gpioBSRR = 0x18
)

func (g *gpio) read(off uintptr) uint32 {
	switch off {
	case gpioIDR:
		return g.idr
	case gpioODR:
		return g.odr
	case gpioBSRR:
		return 0
	}
	return g.regs.read(off)
}

func (g *gpio) write(off uintptr, value, mask uint32) {
	switch off {
	case gpioIDR:
	case gpioODR:
		g.odr = (g.odr&^mask | value&mask) & 0xFFFF
	case gpioBSRR:
		v := value & mask
		g.odr = g.odr&^(v>>16) | v&0xFFFF
	default:
		g.regs.write(off, value, mask)
	}
}
