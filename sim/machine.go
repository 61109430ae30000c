// Package sim is a register-level model of the STM32F407 peripherals the
// firmware touches. A Machine implements core.Bus, so the firmware packages
// run against it unchanged; time only advances when the caller runs it.
package sim

import (
	"time"

	"m4led/core"

	"periph.io/x/conn/v3/physic"
)

// RAMBase is where Place puts DMA source tables.
const RAMBase uintptr = 0x20000000

// Options selects hardware behaviour and injected faults.
type Options struct {
	HSE           physic.Frequency // external crystal, 8 MHz when zero
	HSENeverReady bool             // HSERDY never asserts
	PLLNeverLocks bool             // PLLRDY never asserts
	ReadyLatency  int              // CR reads before a ready bit follows its enable
	DMADrainPolls int              // CR reads for which EN stays set after a disable request
	PostedWrites  bool             // a store lands only at the next bus access
}

// Access is one CPU store seen by the bus.
type Access struct {
	Addr  uintptr
	Value uint32
	Mask  uint32 // byte lanes written, in word position
}

// device is a peripheral block; offsets are word aligned, value and mask in
// word position.
type device interface {
	read(off uintptr) uint32
	write(off uintptr, value, mask uint32)
}

type mapping struct {
	base, size uintptr
	dev        device
}

// Machine is the simulated microcontroller.
type Machine struct {
	opts Options

	rcc   *rcc
	tim3  *timer
	tim4  *timer
	dma1  *dma
	gpioa *gpio
	gpiod *gpio
	nvic  *nvic
	other *regfile

	devices []mapping

	ram     []byte
	regions [][2]uintptr

	pending *Access
	history []Access
	writes  map[uintptr]int

	disp       *core.Dispatcher
	dispatches map[core.IRQ]int
	reentries  int
	inHandler  bool

	cycles uint64 // timer kernel cycles elapsed
}

// New returns a machine in its reset state.
func New(opts Options) *Machine {
	if opts.HSE == 0 {
		opts.HSE = 8 * physic.MegaHertz
	}
	m := &Machine{
		opts:       opts,
		other:      newRegfile(),
		writes:     make(map[uintptr]int),
		dispatches: make(map[core.IRQ]int),
	}
	m.rcc = newRCC(m)
	m.tim3 = newTimer(m, core.TIM3Base, core.IRQ_TIM3)
	m.tim4 = newTimer(m, core.TIM4Base, core.IRQ_TIM4)
	m.dma1 = newDMA(m, core.DMA1Base)
	m.gpioa = newGPIO(core.GPIOABase)
	m.gpiod = newGPIO(core.GPIODBase)
	m.nvic = &nvic{}
	m.devices = []mapping{
		{core.TIM3Base, 0x400, m.tim3},
		{core.TIM4Base, 0x400, m.tim4},
		{core.GPIOABase, 0x400, m.gpioa},
		{core.GPIODBase, 0x400, m.gpiod},
		{core.RCCBase, 0x400, m.rcc},
		{core.DMA1Base, 0x400, m.dma1},
		{core.NVICBase, 0x100, m.nvic},
	}
	return m
}

// AttachInterrupts routes timer interrupt lines to d.
func (m *Machine) AttachInterrupts(d *core.Dispatcher) {
	m.disp = d
}

func (m *Machine) lookup(addr uintptr) (device, uintptr) {
	for _, d := range m.devices {
		if addr >= d.base && addr < d.base+d.size {
			return d.dev, addr - d.base
		}
	}
	return m.other, addr
}

func (m *Machine) inRAM(addr uintptr, n uintptr) bool {
	return addr >= RAMBase && addr+n <= RAMBase+uintptr(len(m.ram))
}

// read returns the word containing addr without draining posted writes.
func (m *Machine) read(addr uintptr) uint32 {
	a := addr &^ 3
	if m.inRAM(a, 4) {
		off := a - RAMBase
		return uint32(m.ram[off]) | uint32(m.ram[off+1])<<8 |
			uint32(m.ram[off+2])<<16 | uint32(m.ram[off+3])<<24
	}
	dev, off := m.lookup(a)
	return dev.read(off)
}

// commit applies a store to the model.
func (m *Machine) commit(a Access) {
	w := a.Addr &^ 3
	if m.inRAM(w, 4) {
		off := w - RAMBase
		for i := uintptr(0); i < 4; i++ {
			if a.Mask>>(8*i)&0xFF != 0 {
				m.ram[off+i] = byte(a.Value >> (8 * i))
			}
		}
		return
	}
	dev, off := m.lookup(w)
	dev.write(off, a.Value, a.Mask)
}

func (m *Machine) drain() {
	if m.pending != nil {
		p := *m.pending
		m.pending = nil
		m.commit(p)
	}
}

func (m *Machine) store(a Access) {
	m.drain()
	m.history = append(m.history, a)
	m.writes[a.Addr&^3]++
	if m.opts.PostedWrites {
		m.pending = &a
		return
	}
	m.commit(a)
}

func (m *Machine) Load32(addr uintptr) uint32 {
	m.drain()
	return m.read(addr)
}

func (m *Machine) Load16(addr uintptr) uint16 {
	m.drain()
	return uint16(m.read(addr) >> ((addr & 2) * 8))
}

func (m *Machine) Store32(addr uintptr, value uint32) {
	m.store(Access{Addr: addr &^ 3, Value: value, Mask: 0xFFFFFFFF})
}

func (m *Machine) Store16(addr uintptr, value uint16) {
	shift := (addr & 2) * 8
	m.store(Access{Addr: addr &^ 3, Value: uint32(value) << shift, Mask: 0xFFFF << shift})
}

// Peek reads a register without side effects on posted writes.
func (m *Machine) Peek(addr uintptr) uint32 {
	return m.read(addr)
}

// Writes returns how many CPU stores hit the word at addr.
func (m *Machine) Writes(addr uintptr) int {
	return m.writes[addr&^3]
}

// History returns every CPU store in program order.
func (m *Machine) History() []Access {
	return m.history
}

// Place copies values into simulated RAM and returns their address.
func (m *Machine) Place(values []uint16) uintptr {
	addr := RAMBase + uintptr(len(m.ram))
	for _, v := range values {
		m.ram = append(m.ram, byte(v), byte(v>>8))
	}
	// pad to a word so the next table starts aligned
	for len(m.ram)%4 != 0 {
		m.ram = append(m.ram, 0)
	}
	m.regions = append(m.regions, [2]uintptr{addr, addr + uintptr(len(values))*2})
	return addr
}

// placed reports whether n bytes at addr lie inside one Place'd table.
func (m *Machine) placed(addr, n uintptr) bool {
	for _, r := range m.regions {
		if addr >= r[0] && addr+n <= r[1] {
			return true
		}
	}
	return false
}

// SetInput drives the input level of a pin.
func (m *Machine) SetInput(pin core.GPIOPin, level bool) {
	g := m.port(pin)
	if g == nil {
		return
	}
	if level {
		g.idr |= 1 << pin.Line()
	} else {
		g.idr &^= 1 << pin.Line()
	}
}

// Output returns the ODR level of a pin once pending stores have landed.
func (m *Machine) Output(pin core.GPIOPin) bool {
	m.drain()
	g := m.port(pin)
	return g != nil && g.odr&(1<<pin.Line()) != 0
}

func (m *Machine) port(pin core.GPIOPin) *gpio {
	switch pin.Port() {
	case 0:
		return m.gpioa
	case 3:
		return m.gpiod
	}
	return nil
}

func (m *Machine) timerAt(base uintptr) *timer {
	switch base {
	case core.TIM3Base:
		return m.tim3
	case core.TIM4Base:
		return m.tim4
	}
	return nil
}

// EffectiveCompare returns the compare value timer base is actually
// comparing against on channel ch (1..4), the shadow behind CCRx.
func (m *Machine) EffectiveCompare(base uintptr, ch int) uint32 {
	t := m.timerAt(base)
	if t == nil || ch < 1 || ch > 4 {
		return 0
	}
	return t.ccrShadow[ch-1]
}

// LEDDuty returns the effective TIM4 compare value of each LED channel.
func (m *Machine) LEDDuty() [4]uint16 {
	var d [4]uint16
	for i := range d {
		d[i] = uint16(m.tim4.ccrShadow[i])
	}
	return d
}

// TimerClock derives the APB1 timer kernel clock from the RCC registers.
func (m *Machine) TimerClock() physic.Frequency {
	return m.rcc.timerClock()
}

// Cycles returns the timer kernel cycles elapsed.
func (m *Machine) Cycles() uint64 {
	return m.cycles
}

// RunFor advances both timers by n kernel cycles, moving DMA data and
// delivering interrupts as events occur.
func (m *Machine) RunFor(n uint64) {
	m.drain()
	m.serviceInterrupts()
	for n > 0 {
		d := n
		for _, t := range []*timer{m.tim3, m.tim4} {
			if e, ok := t.untilEvent(); ok && e < d {
				d = e
			}
		}
		m.tim3.advance(d)
		m.tim4.advance(d)
		m.cycles += d
		n -= d
		m.serviceInterrupts()
	}
}

// Run advances simulated time by d at the current timer clock.
func (m *Machine) Run(d time.Duration) {
	hz := uint64(m.TimerClock() / physic.Hertz)
	m.RunFor(hz * uint64(d) / uint64(time.Second))
}

// TimedWait returns a waiter that lets step kernel cycles pass per poll, for
// code that polls a timer from the main context.
func (m *Machine) TimedWait(step uint64) core.Waiter {
	return func(ready func() bool) {
		for !ready() {
			m.RunFor(step)
		}
	}
}

// Stall is the panic value of a StallAfter waiter.
type Stall struct {
	Polls int
}

// StallAfter returns a waiter that gives up with a Stall panic after limit
// polls. Production waiters never give up; tests use this to observe a hang.
func StallAfter(limit int) core.Waiter {
	return func(ready func() bool) {
		for i := 0; i < limit; i++ {
			if ready() {
				return
			}
		}
		panic(Stall{Polls: limit})
	}
}

// serviceInterrupts dispatches every asserted and enabled timer line. After
// a handler returns the line is sampled on committed state, before any
// posted write has landed; a flag clear still in flight re-enters the
// handler once.
func (m *Machine) serviceInterrupts() {
	if m.disp == nil || m.inHandler {
		return
	}
	for _, t := range []*timer{m.tim3, m.tim4} {
		if !t.line() || !m.nvic.enabled(t.irq) {
			continue
		}
		m.inHandler = true
		m.dispatch(t.irq)
		if t.line() && m.nvic.enabled(t.irq) {
			m.reentries++
			m.dispatch(t.irq)
		}
		m.inHandler = false
		m.drain()
	}
}

func (m *Machine) dispatch(irq core.IRQ) {
	m.dispatches[irq]++
	m.disp.Dispatch(irq)
}

// Dispatches returns how many times irq was delivered.
func (m *Machine) Dispatches(irq core.IRQ) int {
	return m.dispatches[irq]
}

// Reentries counts handler entries caused by a flag clear that had not
// reached the peripheral when the handler returned.
func (m *Machine) Reentries() int {
	return m.reentries
}

// regfile is plain read/write storage for registers without behaviour.
type regfile struct {
	words map[uintptr]uint32
}

func newRegfile() *regfile {
	return &regfile{words: make(map[uintptr]uint32)}
}

func (r *regfile) read(off uintptr) uint32 {
	return r.words[off]
}

func (r *regfile) write(off uintptr, value, mask uint32) {
	r.words[off] = r.words[off]&^mask | value&mask
}

// nvic models the set/clear enable arrays.
type nvic struct {
	enable [core.NVICWords]uint32
}

func (n *nvic) read(off uintptr) uint32 {
	i := (off & 0x7F) >> 2
	if i >= core.NVICWords {
		return 0
	}
	return n.enable[i]
}

func (n *nvic) write(off uintptr, value, mask uint32) {
	i := (off & 0x7F) >> 2
	if i >= core.NVICWords {
		return
	}
	if off < 0x80 {
		n.enable[i] |= value & mask
	} else {
		n.enable[i] &^= value & mask
	}
}

func (n *nvic) enabled(irq core.IRQ) bool {
	return n.enable[irq>>5]&(1<<(irq&0x1F)) != 0
}
