package core

import "sync/atomic"

// TickConfig describes the pattern clock: a second timer whose update (or
// compare) events step through the table.
type TickConfig struct {
	Prescaler  uint16 // counter clock = timer clock / (Prescaler+1)
	CycleTicks uint32 // counter ticks per full breathing cycle
}

// DiscoveryTick steps a 16-entry table over roughly one second from an
// 84 MHz timer clock.
var DiscoveryTick = TickConfig{Prescaler: 8400, CycleTicks: 10000}

// StepPeriod returns the auto-reload value for one table entry.
func (c TickConfig) StepPeriod(length int) (uint32, error) {
	if length <= 0 {
		return 0, ErrTableLength
	}
	step := c.CycleTicks / uint32(length)
	if step < 2 || step > 0xFFFF {
		return 0, &PlanError{Param: "tick step", Got: int64(step), Min: 2, Max: 0xFFFF}
	}
	return step, nil
}

// startTick resets tim to a plain up-counter with the given period and
// interrupt/DMA enables, forces an update and starts it.
func startTick(tim *Timer, psc uint16, arr uint32, dier uint16) {
	tim.CR1.ClearBits(TIM_CR1_CEN)
	tim.CR1.Set(tim.CR1.Get() & TIM_CR1_BASELINE)
	tim.PSC.Set(psc)
	tim.ARR.Set(arr)
	tim.DIER.Set(dier)
	tim.EGR.SetBits(TIM_EGR_UG)
	tim.CR1.SetBits(TIM_CR1_CEN)
	RecordTrace(TraceTickArmed, tim.Base, arr)
}

// clearUpdate acknowledges the update flag and reads SR back so the write
// has landed before the handler returns. SR flags are write-zero-to-clear;
// writing ones leaves any other pending flag alone.
func clearUpdate(tim *Timer, sink *atomic.Uint32) {
	tim.SR.Set(^uint16(TIM_SR_UIF))
	sink.Store(uint32(tim.SR.Get()))
}

// InterruptConfig gathers what the interrupt-driven pattern needs.
type InterruptConfig struct {
	PWM        *PWMTimer
	Tick       *Timer
	Table      PatternTable
	Clock      TickConfig
	Dispatcher *Dispatcher
	IRQ        IRQ
}

// BreathIRQ walks the pattern from the tick timer's update interrupt.
// Odd channels follow cursor A, even channels cursor B.
type BreathIRQ struct {
	pwm     *PWMTimer
	tick    *Timer
	table   PatternTable
	irq     IRQ
	disp    *Dispatcher
	cursors *Cursors
	updates atomic.Uint32
	sr      atomic.Uint32 // SR read-back
}

// ArmInterruptDriven registers the update handler, unmasks the interrupt
// and starts the tick timer. The PWM timer must already be running.
func ArmInterruptDriven(cfg InterruptConfig) (*BreathIRQ, error) {
	if cfg.PWM == nil || len(cfg.PWM.Channels) < 2 {
		return nil, ErrChannelCount
	}
	if cfg.Table.Len() == 0 {
		return nil, ErrTableLength
	}
	if cfg.Table.Max() > cfg.PWM.Config.Period {
		return nil, ErrDutyRange
	}
	step, err := cfg.Clock.StepPeriod(cfg.Table.Len())
	if err != nil {
		return nil, err
	}

	b := &BreathIRQ{
		pwm:     cfg.PWM,
		tick:    cfg.Tick,
		table:   cfg.Table,
		irq:     cfg.IRQ,
		disp:    cfg.Dispatcher,
		cursors: NewCursors(cfg.Table),
	}
	cfg.Dispatcher.Register(cfg.IRQ, b.handle)
	cfg.Dispatcher.Enable(cfg.IRQ)
	startTick(cfg.Tick, cfg.Clock.Prescaler, step, TIM_DIER_UIE)

	DebugPrintln("[BREATH] irq mode, step=" + utoa(step) + " len=" + itoa(cfg.Table.Len()))
	return b, nil
}

// handle runs in interrupt context: two table reads, four compare writes,
// cursor advance, flag clear.
func (b *BreathIRQ) handle(IRQ) {
	a, c := b.cursors.Load()
	va, vb := b.table.At(a), b.table.At(c)
	for _, ch := range b.pwm.Channels {
		if ch.Index&1 == 1 {
			ch.SetDuty(va)
		} else {
			ch.SetDuty(vb)
		}
	}
	b.cursors.Advance(b.table.Mask())
	b.updates.Add(1)
	clearUpdate(b.tick, &b.sr)
}

// Cursors returns the current read positions.
func (b *BreathIRQ) Cursors() (a, c uint32) {
	return b.cursors.Load()
}

// Updates returns how many update interrupts have been serviced.
func (b *BreathIRQ) Updates() uint32 {
	return b.updates.Load()
}

// Stop masks the interrupt and halts the tick timer. The LEDs hold their
// last duty.
func (b *BreathIRQ) Stop() {
	b.disp.Disable(b.irq)
	b.tick.CR1.ClearBits(TIM_CR1_CEN)
	b.tick.DIER.Set(0)
}
