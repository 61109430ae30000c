package core

import (
	"errors"
	"testing"
)

// memBus is a flat word-addressed register file with no side effects
type memBus struct {
	words  map[uintptr]uint32
	stores int
}

func newMemBus() *memBus {
	return &memBus{words: make(map[uintptr]uint32)}
}

func (b *memBus) Load32(addr uintptr) uint32 { return b.words[addr&^3] }

func (b *memBus) Load16(addr uintptr) uint16 {
	return uint16(b.words[addr&^3] >> ((addr & 2) * 8))
}

func (b *memBus) Store32(addr uintptr, v uint32) {
	b.stores++
	b.words[addr&^3] = v
}

func (b *memBus) Store16(addr uintptr, v uint16) {
	b.stores++
	shift := (addr & 2) * 8
	w := b.words[addr&^3]
	b.words[addr&^3] = w&^(0xFFFF<<shift) | uint32(v)<<shift
}

func TestRegisterWidths(t *testing.T) {
	bus := newMemBus()
	lo := NewRegister[uint16](bus, 0x1000)
	hi := NewRegister[uint16](bus, 0x1002)
	word := NewRegister[uint32](bus, 0x1000)

	lo.Set(0xBEEF)
	hi.Set(0xDEAD)
	if got := word.Get(); got != 0xDEADBEEF {
		t.Errorf("Expected 0xDEADBEEF, got 0x%08X", got)
	}

	lo.ClearBits(0x00FF)
	if got := word.Get(); got != 0xDEADBE00 {
		t.Errorf("Expected 0xDEADBE00 after ClearBits, got 0x%08X", got)
	}
	if !hi.HasBits(0x8000) || hi.HasBits(0x0010) {
		t.Errorf("HasBits wrong for 0x%04X", hi.Get())
	}
}

func TestRegisterReplaceBits(t *testing.T) {
	bus := newMemBus()
	r := NewRegister[uint32](bus, 0x2000)
	r.Set(0xFFFFFFFF)
	r.ReplaceBits(0x2, 0xF, 16)
	if got := r.Get(); got != 0xFFF2FFFF {
		t.Errorf("Expected 0xFFF2FFFF, got 0x%08X", got)
	}
}

func TestFieldEncode(t *testing.T) {
	f := Field{Pos: 6, Width: 9}
	if f.Mask() != 0x7FC0 {
		t.Errorf("Expected mask 0x7FC0, got 0x%X", f.Mask())
	}
	bits, err := f.Encode(168)
	if err != nil {
		t.Fatalf("Encode(168) failed: %v", err)
	}
	if bits != 168<<6 {
		t.Errorf("Expected %d, got %d", 168<<6, bits)
	}
	if got := f.Decode(bits | 0x3F); got != 168 {
		t.Errorf("Expected decode 168, got %d", got)
	}
	if _, err := f.Encode(512); !errors.Is(err, ErrFieldRange) {
		t.Errorf("Expected ErrFieldRange for 512, got %v", err)
	}
}

func TestRegisterPutRejectsWithoutWriting(t *testing.T) {
	bus := newMemBus()
	r := NewRegister[uint32](bus, 0x3000)
	r.Set(0x1234)
	before := bus.stores

	if err := r.Put(Field{Pos: 0, Width: 2}, 4); !errors.Is(err, ErrFieldRange) {
		t.Fatalf("Expected ErrFieldRange, got %v", err)
	}
	if bus.stores != before {
		t.Errorf("Rejected Put still wrote the register")
	}

	if err := r.Put(Field{Pos: 4, Width: 4}, 0xA); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if got := r.Get(); got != 0x12A4 {
		t.Errorf("Expected 0x12A4, got 0x%X", got)
	}
	if got := r.Field(Field{Pos: 4, Width: 4}); got != 0xA {
		t.Errorf("Expected field 0xA, got 0x%X", got)
	}
}

func TestRegisterAssign(t *testing.T) {
	bus := newMemBus()
	r := NewRegister[uint32](bus, 0x3000)
	r.Set(0xFFFF0000)

	r.Assign(Field{Pos: 16, Width: 5}, 8)
	if got := r.Get(); got != 0xFFE80000 {
		t.Errorf("Expected 0xFFE80000, got 0x%08X", got)
	}
	// wider values are cut to the field, neighbours untouched
	r.Assign(Field{Pos: 0, Width: 2}, 0x7)
	if got := r.Get(); got != 0xFFE80003 {
		t.Errorf("Expected 0xFFE80003, got 0x%08X", got)
	}
}

func TestTimerCCMRLayout(t *testing.T) {
	tim := NewTimer(newMemBus(), TIM4Base)
	cases := []struct {
		ch    int
		addr  uintptr
		shift uint8
	}{
		{1, TIM4Base + TimCCMR1, 0},
		{2, TIM4Base + TimCCMR1, 8},
		{3, TIM4Base + TimCCMR2, 0},
		{4, TIM4Base + TimCCMR2, 8},
	}
	for _, c := range cases {
		reg, shift := tim.CCMR(c.ch)
		if reg.Addr() != c.addr || shift != c.shift {
			t.Errorf("CH%d: expected 0x%X<<%d, got 0x%X<<%d", c.ch, c.addr, c.shift, reg.Addr(), shift)
		}
	}
	if got := tim.CCR[3].Addr(); got != 0x40000840 {
		t.Errorf("Expected TIM4 CCR4 at 0x40000840, got 0x%X", got)
	}
}

func TestDMAStreamAddresses(t *testing.T) {
	d := NewDMA(newMemBus(), DMA1Base)
	if got := d.Streams[2].CR.Addr(); got != 0x40026040 {
		t.Errorf("Expected stream 2 CR at 0x40026040, got 0x%X", got)
	}
	if got := d.Streams[7].M0AR.Addr(); got != DMAStreamAddr(DMA1Base, 7)+0x0C {
		t.Errorf("Stream 7 M0AR mismatch: 0x%X", got)
	}
	if DMAStreamFlagShift(2) != 16 || DMAStreamFlagShift(7) != 22 {
		t.Errorf("Unexpected flag shifts %d/%d", DMAStreamFlagShift(2), DMAStreamFlagShift(7))
	}
}
