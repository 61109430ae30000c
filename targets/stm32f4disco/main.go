//go:build stm32f4disco

package main

import (
	"device/stm32"
	"runtime/interrupt"
	"time"

	"m4led/core"
)

var (
	bus    mmio
	periph *core.Peripherals
	irqs   *core.Dispatcher
	placer ramPlacer
)

func main() {
	InitDebugUART()
	core.SetDebugWriter(DebugPrintln)

	periph = core.Map(bus)
	irqs = core.NewDispatcher(bus)

	// The UART baud divider assumes the final clock, so debug output stays
	// off until the bring-up is over; the trace ring holds the states.
	clock := core.NewClockTree(bus)
	if _, err := clock.BringUp(core.Discovery168MHz); err != nil {
		halt(err)
	}
	core.SetDebugEnabled(true)
	core.DumpTrace()

	core.EnableClocks(periph.RCC)
	core.ConfigureButtonInput(periph.GPIOA)
	core.ConfigureLEDOutputs(periph.GPIOD)
	core.SetGPIODriver(core.NewPortGPIO(periph.GPIOA, periph.GPIOD))

	// The vector table entry is fixed at compile time and forwards to the
	// dispatcher; the NVIC bit is set by whichever program registers a
	// handler.
	tim3 := interrupt.New(stm32.IRQ_TIM3, func(interrupt.Interrupt) {
		irqs.Dispatch(core.IRQ_TIM3)
	})
	tim3.SetPriority(0xC0)

	switch GetMode() {
	case ModeButton:
		runButton()
	case ModePolledBlink:
		runPolledBlink()
	case ModeBlinkIRQ:
		runBlinkIRQ()
	case ModeBreathIRQ:
		runBreathIRQ()
	case ModeBreathDMA:
		runBreathDMA()
	}
}

func runButton() {
	gpio := core.MustGPIO()
	for {
		core.MirrorButton(gpio)
	}
}

func runPolledBlink() {
	p, err := core.StartPolledBlink(periph.TIM3, core.MustGPIO(), core.PolledBlinkTiming, core.SpinWait)
	if err != nil {
		halt(err)
	}
	for {
		p.Step()
	}
}

func runBlinkIRQ() {
	b, err := core.ArmBlinkIRQ(periph.TIM3, core.MustGPIO(), core.IRQBlinkTiming, irqs, core.IRQ_TIM3)
	if err != nil {
		halt(err)
	}
	for {
		time.Sleep(10 * time.Second)
		DebugPrintln("[BLINK] toggles=" + utoa(b.Toggles()) + " failures=" + utoa(b.Failures()))
	}
}

func startPWM() *core.PWMTimer {
	core.RouteLEDsToTIM4(periph.GPIOD)
	pwm, err := core.ConfigurePWM(periph.TIM4, core.DiscoveryPWM)
	if err != nil {
		halt(err)
	}
	return pwm
}

func runBreathIRQ() {
	b, err := core.ArmInterruptDriven(core.InterruptConfig{
		PWM:        startPWM(),
		Tick:       periph.TIM3,
		Table:      core.MustPatternTable(core.DefaultBreath),
		Clock:      core.DiscoveryTick,
		Dispatcher: irqs,
		IRQ:        core.IRQ_TIM3,
	})
	if err != nil {
		halt(err)
	}
	for {
		time.Sleep(10 * time.Second)
		a, c := b.Cursors()
		DebugPrintln("[BREATH] updates=" + utoa(b.Updates()) + " a=" + utoa(a) + " b=" + utoa(c))
	}
}

func runBreathDMA() {
	b, err := core.ArmDMAChained(core.DMAConfig{
		PWM:    startPWM(),
		Tick:   periph.TIM3,
		DMA:    periph.DMA1,
		Table:  core.MustPatternTable(core.DefaultBreath),
		Clock:  core.DiscoveryTick,
		Routes: core.DiscoveryRoutes,
		Placer: &placer,
	})
	if err != nil {
		halt(err)
	}
	// The CPU has nothing left to do; the streams run on their own.
	for {
		time.Sleep(10 * time.Second)
		for _, s := range b.Streams {
			if s.Flags()&core.DMA_TEIF != 0 {
				DebugPrintln("[BREATH] stream " + utoa(uint32(s.Number())) + " transfer error")
			}
		}
	}
}

// halt reports err and lights the red LED forever.
func halt(err error) {
	DebugPrintln("[FATAL] " + err.Error())
	core.EnableClocks(periph.RCC)
	core.ConfigureLEDOutputs(periph.GPIOD)
	periph.GPIOD.BSRRL.Set(1 << core.LED_RED.Line())
	for {
	}
}

func utoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
