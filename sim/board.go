package sim

import "m4led/core"

// Board is a simulated discovery board: the machine plus the firmware
// objects bound to it.
type Board struct {
	*Machine
	Periph *core.Peripherals
	Clock  *core.ClockTree
	IRQ    *core.Dispatcher
	GPIO   *core.PortGPIO

	// PWM is the LED timer setup used by the Arm methods.
	PWM core.PWMConfig
}

// NewBoard returns a board at reset with interrupts routed to its
// dispatcher.
func NewBoard(opts Options, clock ...core.ClockOption) *Board {
	m := New(opts)
	b := &Board{
		Machine: m,
		Periph:  core.Map(m),
		Clock:   core.NewClockTree(m, clock...),
		IRQ:     core.NewDispatcher(m),
		PWM:     core.DiscoveryPWM,
	}
	b.GPIO = core.NewPortGPIO(b.Periph.GPIOA, b.Periph.GPIOD)
	m.AttachInterrupts(b.IRQ)
	return b
}

// Boot runs the firmware start-up: clock bring-up, peripheral clock gates,
// button input and LED outputs.
func (b *Board) Boot(plan core.ClockPlan) error {
	if _, err := b.Clock.BringUp(plan); err != nil {
		return err
	}
	core.EnableClocks(b.Periph.RCC)
	core.ConfigureButtonInput(b.Periph.GPIOA)
	core.ConfigureLEDOutputs(b.Periph.GPIOD)
	return nil
}

// StartPWM routes the LEDs to TIM4 and starts it with cfg.
func (b *Board) StartPWM(cfg core.PWMConfig) (*core.PWMTimer, error) {
	core.RouteLEDsToTIM4(b.Periph.GPIOD)
	return core.ConfigurePWM(b.Periph.TIM4, cfg)
}

// ArmInterruptDriven starts b.PWM and the TIM3 update interrupt pattern.
func (b *Board) ArmInterruptDriven(table core.PatternTable, tick core.TickConfig) (*core.BreathIRQ, error) {
	pwm, err := b.StartPWM(b.PWM)
	if err != nil {
		return nil, err
	}
	return core.ArmInterruptDriven(core.InterruptConfig{
		PWM:        pwm,
		Tick:       b.Periph.TIM3,
		Table:      table,
		Clock:      tick,
		Dispatcher: b.IRQ,
		IRQ:        core.IRQ_TIM3,
	})
}

// ArmDMAChained starts b.PWM and the TIM3 compare driven DMA pattern.
func (b *Board) ArmDMAChained(table core.PatternTable, tick core.TickConfig) (*core.BreathDMA, error) {
	pwm, err := b.StartPWM(b.PWM)
	if err != nil {
		return nil, err
	}
	return core.ArmDMAChained(core.DMAConfig{
		PWM:    pwm,
		Tick:   b.Periph.TIM3,
		DMA:    b.Periph.DMA1,
		Table:  table,
		Clock:  tick,
		Routes: core.DiscoveryRoutes,
		Placer: b.Machine,
	})
}
