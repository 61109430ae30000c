package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"m4led/core"
	"m4led/host/config"
	"m4led/sim"

	"periph.io/x/conn/v3/physic"
)

var errArmed = errors.New("pattern already armed, reset first")

// session is one simulated board running the firmware.
type session struct {
	profile *config.Profile
	plan    core.ClockPlan
	board   *sim.Board
	states  []core.ClockState

	variant config.Variant
	irq     *core.BreathIRQ
	dma     *core.BreathDMA
	blink   *core.BlinkIRQ
}

// faultOptions maps a --fault name onto simulator fault injection. Stores
// are posted, as on the real bus.
func faultOptions(fault string) (sim.Options, error) {
	opts := sim.Options{PostedWrites: true, ReadyLatency: 3, DMADrainPolls: 2}
	switch fault {
	case "", "none":
	case "hse":
		opts.HSENeverReady = true
	case "pll":
		opts.PLLNeverLocks = true
	default:
		return opts, fmt.Errorf("unknown fault %q (hse, pll)", fault)
	}
	return opts, nil
}

// newSession boots a simulated board with the profile's clock plan. A
// positive maxPolls bounds every hardware wait; a bring-up that would hang
// on real silicon comes back as an error naming the state it stopped in.
func newSession(p *config.Profile, opts sim.Options, maxPolls int) (_ *session, err error) {
	plan, err := p.ClockPlan()
	if err != nil {
		return nil, err
	}
	opts.HSE = plan.HSE
	s := &session{profile: p, plan: plan}

	clockOpts := []core.ClockOption{
		core.WithObserver(func(st core.ClockState) { s.states = append(s.states, st) }),
	}
	if maxPolls > 0 {
		clockOpts = append(clockOpts, core.WithWaiter(sim.StallAfter(maxPolls)))
	}
	s.board = sim.NewBoard(opts, clockOpts...)
	s.board.PWM = p.PWMConfig()

	defer func() {
		if r := recover(); r != nil {
			stall, ok := r.(sim.Stall)
			if !ok {
				panic(r)
			}
			err = fmt.Errorf("clock bring-up stuck after %s (%d polls)", s.board.Clock.State(), stall.Polls)
		}
	}()
	if err := s.board.Boot(plan); err != nil {
		return nil, fmt.Errorf("boot: %w", err)
	}
	return s, nil
}

// arm starts one pattern variant. A session runs a single variant.
func (s *session) arm(v config.Variant) error {
	if s.variant != "" {
		return errArmed
	}
	table, err := s.profile.Table()
	if err != nil {
		return err
	}
	tick := s.profile.Tick()
	switch v {
	case config.VariantIRQ:
		s.irq, err = s.board.ArmInterruptDriven(table, tick)
	case config.VariantDMA:
		s.dma, err = s.board.ArmDMAChained(table, tick)
	case config.VariantBlink:
		s.blink, err = core.ArmBlinkIRQ(s.board.Periph.TIM3, s.board.GPIO, core.IRQBlinkTiming, s.board.IRQ, core.IRQ_TIM3)
	default:
		return fmt.Errorf("unknown variant %q", v)
	}
	if err != nil {
		return fmt.Errorf("arm %s: %w", v, err)
	}
	s.variant = v
	return nil
}

// elapsed is the simulated time since boot at the current timer clock.
func (s *session) elapsed() time.Duration {
	hz := uint64(s.board.TimerClock() / physic.Hertz)
	if hz == 0 {
		return 0
	}
	return time.Duration(float64(s.board.Cycles()) / float64(hz) * float64(time.Second))
}

// sample writes one line with the LED state: compare values for the PWM
// variants, on/off for the rest.
func (s *session) sample(w io.Writer) {
	var cols []string
	if s.variant == config.VariantIRQ || s.variant == config.VariantDMA {
		for _, d := range s.board.LEDDuty() {
			cols = append(cols, fmt.Sprintf("%5d", d))
		}
	} else {
		for _, led := range core.LEDs {
			state := "  off"
			if s.board.Output(led) {
				state = "   on"
			}
			cols = append(cols, state)
		}
	}
	fmt.Fprintf(w, "%10s %s\n", s.elapsed().Round(time.Microsecond), strings.Join(cols, " "))
}

func sampleHeader(w io.Writer) {
	fmt.Fprintf(w, "%10s %5s %5s %5s %5s\n", "time", "green", "orang", "red", "blue")
}

// status describes the armed pattern.
func (s *session) status(w io.Writer) {
	fmt.Fprintf(w, "clock %s, timers at %s, elapsed %s\n", s.board.Clock.State(), s.board.TimerClock(), s.elapsed())
	switch s.variant {
	case config.VariantIRQ:
		a, b := s.irq.Cursors()
		fmt.Fprintf(w, "irq: %d updates, cursors A=%d B=%d, re-entries %d\n",
			s.irq.Updates(), a, b, s.board.Reentries())
	case config.VariantDMA:
		for _, st := range s.dma.Streams {
			fmt.Fprintf(w, "dma stream %d: remaining %d, transfers %d\n",
				st.Number(), st.Remaining(), len(s.board.Transfers(st.Number())))
		}
	case config.VariantBlink:
		fmt.Fprintf(w, "blink: %d toggles, %d failures\n", s.blink.Toggles(), s.blink.Failures())
	default:
		fmt.Fprintln(w, "no pattern armed")
	}
}

type regRow struct {
	name  string
	value uint32
}

// registers dumps the registers the firmware programs.
func (s *session) registers(w io.Writer) {
	p := s.board.Periph
	rows := []regRow{
		{"RCC_CR", p.RCC.CR.Get()},
		{"RCC_PLLCFGR", p.RCC.PLLCFGR.Get()},
		{"RCC_CFGR", p.RCC.CFGR.Get()},
		{"FLASH_ACR", p.Flash.ACR.Get()},
		{"TIM3_ARR", p.TIM3.ARR.Get()},
		{"TIM3_DIER", uint32(p.TIM3.DIER.Get())},
		{"TIM4_ARR", p.TIM4.ARR.Get()},
		{"TIM4_CCER", uint32(p.TIM4.CCER.Get())},
	}
	for i := range p.TIM4.CCR {
		rows = append(rows, regRow{fmt.Sprintf("TIM4_CCR%d", i+1), p.TIM4.CCR[i].Get()})
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%-12s 0x%08X\n", r.name, r.value)
	}
}
