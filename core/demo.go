// Board demos
// The simpler programs that precede the PWM pattern: button mirror, a
// polled timer blink and an interrupt-driven blink.
package core

import "sync/atomic"

// BlinkConfig is the timer setup of the blink demos.
type BlinkConfig struct {
	Prescaler uint16
	Period    uint32
}

// PolledBlinkTiming counts one second at 10 kHz; the LEDs toggle at the
// overflow and again at mid-period.
var PolledBlinkTiming = BlinkConfig{Prescaler: 8400, Period: 10000}

// IRQBlinkTiming toggles every half second.
var IRQBlinkTiming = BlinkConfig{Prescaler: 8400, Period: 5000}

// MirrorButton copies the user button onto all four LEDs once. The main
// loop calls it continuously.
func MirrorButton(drv GPIODriver) error {
	on := drv.ReadPin(BUTTON_USER)
	for _, led := range LEDs {
		if err := drv.SetPin(led, on); err != nil {
			return err
		}
	}
	return nil
}

// alternate lights the orange and blue LEDs and darkens green and red, the
// start state of both blink demos.
func alternate(drv GPIODriver) error {
	for i, led := range LEDs {
		if err := drv.SetPin(led, i&1 == 1); err != nil {
			return err
		}
	}
	return nil
}

func toggleAll(drv GPIODriver) error {
	for _, led := range LEDs {
		if err := drv.Toggle(led); err != nil {
			return err
		}
	}
	return nil
}

// PolledBlink blinks the LEDs by polling the timer from the main loop.
type PolledBlink struct {
	tim  *Timer
	drv  GPIODriver
	cfg  BlinkConfig
	wait Waiter
}

// StartPolledBlink starts tim as a free-running counter with no interrupt
// and sets the LEDs to their start pattern.
func StartPolledBlink(tim *Timer, drv GPIODriver, cfg BlinkConfig, wait Waiter) (*PolledBlink, error) {
	if wait == nil {
		wait = SpinWait
	}
	startTick(tim, cfg.Prescaler, cfg.Period, 0)
	if err := alternate(drv); err != nil {
		return nil, err
	}
	return &PolledBlink{tim: tim, drv: drv, cfg: cfg, wait: wait}, nil
}

// Step runs one period: wait for the overflow, toggle, wait for mid-period,
// toggle again.
func (p *PolledBlink) Step() error {
	p.wait(func() bool { return p.tim.SR.HasBits(TIM_SR_UIF) })
	p.tim.SR.Set(^uint16(TIM_SR_UIF))
	if err := toggleAll(p.drv); err != nil {
		return err
	}
	half := p.cfg.Period / 2
	p.wait(func() bool { return p.tim.CNT.Get() >= half })
	return toggleAll(p.drv)
}

// BlinkIRQ toggles the LEDs from the tick timer's update interrupt.
type BlinkIRQ struct {
	tim      *Timer
	drv      GPIODriver
	toggles  atomic.Uint32
	failures atomic.Uint32
	sr       atomic.Uint32
}

// ArmBlinkIRQ unmasks irq, registers the toggle handler and starts tim.
func ArmBlinkIRQ(tim *Timer, drv GPIODriver, cfg BlinkConfig, d *Dispatcher, irq IRQ) (*BlinkIRQ, error) {
	if err := alternate(drv); err != nil {
		return nil, err
	}
	b := &BlinkIRQ{tim: tim, drv: drv}
	d.Register(irq, b.handle)
	d.Enable(irq)
	startTick(tim, cfg.Prescaler, cfg.Period, TIM_DIER_UIE)
	return b, nil
}

// handle acknowledges the update even when the toggle fails; an
// unacknowledged flag would re-enter forever.
func (b *BlinkIRQ) handle(IRQ) {
	if err := toggleAll(b.drv); err != nil {
		RecordTrace(TraceGPIOFault, b.tim.Base, b.failures.Add(1))
	} else {
		b.toggles.Add(1)
	}
	clearUpdate(b.tim, &b.sr)
}

// Toggles returns how many times the handler toggled the LEDs.
func (b *BlinkIRQ) Toggles() uint32 {
	return b.toggles.Load()
}

// Failures returns how many handler runs could not toggle the LEDs.
func (b *BlinkIRQ) Failures() uint32 {
	return b.failures.Load()
}
