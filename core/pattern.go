package core

import "sync/atomic"

// DefaultBreath is one breathing cycle for a 0..1000 PWM period: ascending
// then descending intensity.
var DefaultBreath = []uint16{
	5, 15, 30, 60, 150, 500, 750, 995,
	995, 750, 500, 150, 60, 30, 15, 5,
}

// PatternTable is an immutable, power-of-two long sequence of duty values.
type PatternTable struct {
	values []uint16
}

// NewPatternTable copies values into a table. The length must be a power of
// two of at least 2 so cursor wrap-around reduces to a mask.
func NewPatternTable(values []uint16) (PatternTable, error) {
	n := len(values)
	if n < 2 || n&(n-1) != 0 || n > 0x8000 {
		return PatternTable{}, ErrTableLength
	}
	v := make([]uint16, n)
	copy(v, values)
	return PatternTable{values: v}, nil
}

// MustPatternTable is NewPatternTable for package-level tables.
func MustPatternTable(values []uint16) PatternTable {
	t, err := NewPatternTable(values)
	if err != nil {
		panic(err)
	}
	return t
}

func (t PatternTable) Len() int { return len(t.values) }

// Mask is Len-1; index&Mask == index%Len.
func (t PatternTable) Mask() uint32 { return uint32(len(t.values) - 1) }

// PhaseOffset is the distance between the two cursors, half a cycle.
func (t PatternTable) PhaseOffset() int { return len(t.values) / 2 }

func (t PatternTable) At(i uint32) uint16 { return t.values[i&t.Mask()] }

// Max returns the largest duty value in the table.
func (t PatternTable) Max() uint16 {
	var m uint16
	for _, v := range t.values {
		if v > m {
			m = v
		}
	}
	return m
}

// Values returns a copy of the table.
func (t PatternTable) Values() []uint16 {
	v := make([]uint16, len(t.values))
	copy(v, t.values)
	return v
}

// Circular lays the table out for a DMA stream reading Len consecutive
// entries from any start in [0, offset]: the table followed by its first
// offset entries. A stream starting at offset walks the same cycle shifted
// by offset without reading past the end.
func (t PatternTable) Circular(offset int) []uint16 {
	out := make([]uint16, 0, len(t.values)+offset)
	out = append(out, t.values...)
	for i := 0; i < offset; i++ {
		out = append(out, t.values[i%len(t.values)])
	}
	return out
}

// Cursors are the two read positions into a pattern table, held half a
// cycle apart. Both live in one atomic word so the interrupt handler and the
// main context always agree on a consistent pair.
type Cursors struct {
	packed atomic.Uint32 // A in the low half, B in the high half
}

// NewCursors places A at 0 and B half a cycle ahead.
func NewCursors(t PatternTable) *Cursors {
	c := &Cursors{}
	c.Reset(0, uint32(t.PhaseOffset()))
	return c
}

// Reset sets both cursors.
func (c *Cursors) Reset(a, b uint32) {
	c.packed.Store(a&0xFFFF | b<<16)
}

// Load returns both cursors.
func (c *Cursors) Load() (a, b uint32) {
	v := c.packed.Load()
	return v & 0xFFFF, v >> 16
}

// Advance moves both cursors one entry forward, wrapping with mask.
// Only the owning context (the timer interrupt) calls Advance.
func (c *Cursors) Advance(mask uint32) (a, b uint32) {
	a, b = c.Load()
	a = (a + 1) & mask
	b = (b + 1) & mask
	c.packed.Store(a | b<<16)
	return a, b
}

// Phase returns (B - A) mod length.
func (c *Cursors) Phase(length int) int {
	a, b := c.Load()
	return int((b - a) & uint32(length-1))
}
