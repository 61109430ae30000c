package core

import "sync/atomic"

// IRQ is a Cortex-M external interrupt number.
type IRQ uint8

// STM32F407 interrupt numbers used by the firmware
const (
	IRQ_TIM3 IRQ = 29
	IRQ_TIM4 IRQ = 30

	IRQCount = NVICWords * 32
)

// Handler services one interrupt source.
type Handler func(IRQ)

// Dispatcher replaces symbol-name vector dispatch with an explicit table.
// The target's vector stub calls Dispatch; tests call it directly.
type Dispatcher struct {
	nvic     *NVIC
	handlers [IRQCount]Handler
	spurious atomic.Uint32
}

func NewDispatcher(bus Bus) *Dispatcher {
	return &Dispatcher{nvic: NewNVIC(bus)}
}

// Register installs h for irq. Interrupts are masked while the table changes.
func (d *Dispatcher) Register(irq IRQ, h Handler) {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	d.handlers[irq] = h
}

// Enable unmasks irq at the NVIC.
func (d *Dispatcher) Enable(irq IRQ) {
	// ISER is write-one-to-set, no read-modify-write needed
	d.nvic.ISER[irq>>5].Set(1 << (irq & 0x1F))
}

// Disable masks irq at the NVIC.
func (d *Dispatcher) Disable(irq IRQ) {
	d.nvic.ICER[irq>>5].Set(1 << (irq & 0x1F))
}

// Enabled reports whether irq is unmasked.
func (d *Dispatcher) Enabled(irq IRQ) bool {
	return d.nvic.ISER[irq>>5].HasBits(1 << (irq & 0x1F))
}

// Dispatch runs the handler registered for irq. An interrupt without a
// handler is counted and otherwise ignored.
func (d *Dispatcher) Dispatch(irq IRQ) {
	if int(irq) >= len(d.handlers) {
		d.spurious.Add(1)
		return
	}
	h := d.handlers[irq]
	if h == nil {
		d.spurious.Add(1)
		return
	}
	h(irq)
}

// Spurious returns how many dispatches found no handler.
func (d *Dispatcher) Spurious() uint32 {
	return d.spurious.Load()
}
