// PWM (Pulse Width Modulation) support
// Configures a general purpose timer as a free-running up-counter with up
// to four output-compare channels in PWM mode 1.
package core

import "periph.io/x/conn/v3/physic"

// Polarity of a compare output
type Polarity uint8

const (
	ActiveHigh Polarity = 0
	ActiveLow  Polarity = 1
)

// PWMConfig describes the carrier of a PWM timer.
type PWMConfig struct {
	Prescaler uint16 // counter clock = timer clock / (Prescaler+1)
	Period    uint16 // auto-reload value, duty range is 0..Period
	Channels  int    // compare channels used, 1..4
	Initial   uint16 // compare value loaded before the counter starts
	Polarity  Polarity
}

// DiscoveryPWM drives the four discovery LEDs from TIM4 at roughly 2 kHz
// with an 84 MHz timer clock.
var DiscoveryPWM = PWMConfig{
	Prescaler: 42,
	Period:    1000,
	Channels:  4,
	Initial:   5,
}

// CarrierFrequency returns the PWM frequency produced from timerClock. The
// counter runs 0..Period inclusive, so one cycle is Period+1 counts.
func (c PWMConfig) CarrierFrequency(timerClock physic.Frequency) physic.Frequency {
	return timerClock / physic.Frequency(uint32(c.Prescaler)+1) / physic.Frequency(uint32(c.Period)+1)
}

// PWMChannel is one output-compare unit of a configured PWM timer.
type PWMChannel struct {
	Index     int // 1..4
	Period    uint16
	Prescaler uint16
	Polarity  Polarity
	ccr       Register[uint32]
}

// SetDuty loads a new compare value, clamped to the period. The compare
// register is preloaded: the output changes at the next counter overflow,
// never mid-cycle.
func (ch *PWMChannel) SetDuty(value uint16) {
	if value > ch.Period {
		value = ch.Period
	}
	ch.ccr.Set(uint32(value))
}

// Duty returns the compare value most recently written.
func (ch *PWMChannel) Duty() uint16 {
	return uint16(ch.ccr.Get())
}

// CCRAddr returns the address of the compare register, the destination of
// DMA transfers that feed this channel.
func (ch *PWMChannel) CCRAddr() uintptr {
	return ch.ccr.Addr()
}

// PWMTimer is a running PWM timer and its channels.
type PWMTimer struct {
	Timer    *Timer
	Config   PWMConfig
	Channels []*PWMChannel
}

// ConfigurePWM stops tim, resets it to a plain up-counter, programs the
// carrier and every requested channel, forces an update event so prescaler
// and period apply immediately, and starts the counter.
func ConfigurePWM(tim *Timer, cfg PWMConfig) (*PWMTimer, error) {
	if cfg.Channels < 1 || cfg.Channels > 4 {
		return nil, ErrChannelCount
	}
	// A zero period leaves the counter stuck at 0 with no duty range.
	if cfg.Period == 0 || cfg.Initial > cfg.Period {
		return nil, ErrDutyRange
	}

	tim.CR1.ClearBits(TIM_CR1_CEN)
	tim.CR1.Set(tim.CR1.Get() & TIM_CR1_BASELINE)

	tim.PSC.Set(cfg.Prescaler)
	tim.ARR.Set(uint32(cfg.Period))

	tim.CCMR1.Set(0)
	tim.CCMR2.Set(0)
	tim.CCER.Set(tim.CCER.Get() & TIM_CCER_KEEP)

	pwm := &PWMTimer{Timer: tim, Config: cfg}
	var ccer uint16
	for i := 1; i <= cfg.Channels; i++ {
		ccmr, shift := tim.CCMR(i)
		ccmr.SetBits(TIM_CCMR_PWM1_PRELOAD << shift)
		ccer |= TIM_CCER_CCE << (4 * (i - 1))
		if cfg.Polarity == ActiveLow {
			ccer |= TIM_CCER_CCP << (4 * (i - 1))
		}
		ch := &PWMChannel{
			Index:     i,
			Period:    cfg.Period,
			Prescaler: cfg.Prescaler,
			Polarity:  cfg.Polarity,
			ccr:       tim.CCR[i-1],
		}
		ch.SetDuty(cfg.Initial)
		pwm.Channels = append(pwm.Channels, ch)
	}
	tim.CCER.SetBits(ccer)

	tim.EGR.SetBits(TIM_EGR_UG)
	tim.CR1.SetBits(TIM_CR1_CEN)

	RecordTrace(TracePWMArmed, tim.Base, uint32(cfg.Period))
	DebugPrintln("[PWM] timer " + hex32(uint32(tim.Base)) +
		" psc=" + utoa(uint32(cfg.Prescaler)) +
		" arr=" + utoa(uint32(cfg.Period)) +
		" ch=" + itoa(cfg.Channels))
	return pwm, nil
}

// Channel returns channel n (1..4), or nil when it was not configured.
func (p *PWMTimer) Channel(n int) *PWMChannel {
	if n < 1 || n > len(p.Channels) {
		return nil
	}
	return p.Channels[n-1]
}

// Stop disables the counter. Outputs freeze at their current level.
func (p *PWMTimer) Stop() {
	p.Timer.CR1.ClearBits(TIM_CR1_CEN)
}
