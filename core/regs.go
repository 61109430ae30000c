package core

import (
	"unsafe"

	"golang.org/x/exp/constraints"
)

// Bus is the memory-mapped register capability handed to every peripheral
// driver. Targets back it with volatile MMIO, tests with a simulated
// register file.
type Bus interface {
	Load16(addr uintptr) uint16
	Store16(addr uintptr, value uint16)
	Load32(addr uintptr) uint32
	Store32(addr uintptr, value uint32)
}

// Word is the set of register widths the peripherals use.
type Word interface {
	constraints.Unsigned
	~uint16 | ~uint32
}

// Register is a single hardware register of width T at a fixed address.
// Every access goes through the bus, nothing is cached.
type Register[T Word] struct {
	bus  Bus
	addr uintptr
}

// NewRegister binds a register at addr on bus.
func NewRegister[T Word](bus Bus, addr uintptr) Register[T] {
	return Register[T]{bus: bus, addr: addr}
}

// Addr returns the physical address of the register.
func (r Register[T]) Addr() uintptr {
	return r.addr
}

func (r Register[T]) Get() T {
	var zero T
	if unsafe.Sizeof(zero) == 2 {
		return T(r.bus.Load16(r.addr))
	}
	return T(r.bus.Load32(r.addr))
}

func (r Register[T]) Set(value T) {
	var zero T
	if unsafe.Sizeof(zero) == 2 {
		r.bus.Store16(r.addr, uint16(value))
		return
	}
	r.bus.Store32(r.addr, uint32(value))
}

// SetBits is a read-modify-write setting every bit in mask.
func (r Register[T]) SetBits(mask T) {
	r.Set(r.Get() | mask)
}

// ClearBits is a read-modify-write clearing every bit in mask.
func (r Register[T]) ClearBits(mask T) {
	r.Set(r.Get() &^ mask)
}

// HasBits reports whether any bit of mask is set.
func (r Register[T]) HasBits(mask T) bool {
	return r.Get()&mask != 0
}

// ReplaceBits writes value into the mask-wide slot at pos.
func (r Register[T]) ReplaceBits(value, mask T, pos uint8) {
	r.Set(r.Get()&^(mask<<pos) | (value&mask)<<pos)
}

// Field is a named bit range inside a register.
type Field struct {
	Pos   uint8
	Width uint8
}

// Mask returns the in-place mask of the field.
func (f Field) Mask() uint32 {
	return (uint32(1)<<f.Width - 1) << f.Pos
}

// Fits reports whether v can be stored in the field without truncation.
func (f Field) Fits(v uint32) bool {
	return v <= uint32(1)<<f.Width-1
}

// Encode shifts v into place, rejecting values wider than the field.
func (f Field) Encode(v uint32) (uint32, error) {
	if !f.Fits(v) {
		return 0, ErrFieldRange
	}
	return v << f.Pos, nil
}

// Decode extracts the field from a full register value.
func (f Field) Decode(reg uint32) uint32 {
	return (reg & f.Mask()) >> f.Pos
}

// Put writes v into field f of the register with a single read-modify-write.
func (r Register[T]) Put(f Field, v uint32) error {
	bits, err := f.Encode(v)
	if err != nil {
		return err
	}
	r.Set(T(uint32(r.Get())&^f.Mask() | bits))
	return nil
}

// Assign writes v into field f without a range check; bits above the
// field width are dropped. Only for values already validated.
func (r Register[T]) Assign(f Field, v uint32) {
	r.Set(T(uint32(r.Get())&^f.Mask() | v<<f.Pos&f.Mask()))
}

// Field reads field f of the register.
func (r Register[T]) Field(f Field) uint32 {
	return f.Decode(uint32(r.Get()))
}
