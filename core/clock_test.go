package core_test

import (
	"errors"
	"testing"

	"m4led/core"
	"m4led/sim"

	"periph.io/x/conn/v3/physic"
)

const (
	rccCR      = core.RCCBase + 0x00
	rccPLLCFGR = core.RCCBase + 0x04
	rccCFGR    = core.RCCBase + 0x08
)

func TestClockStateString(t *testing.T) {
	if core.PllLocked.String() != "PllLocked" {
		t.Errorf("Expected PllLocked, got %s", core.PllLocked)
	}
	if core.ClockState(42).String() != "ClockState(42)" {
		t.Errorf("Unexpected name %s", core.ClockState(42))
	}
}

func TestBringUpReachesStable(t *testing.T) {
	var states []core.ClockState
	b := sim.NewBoard(sim.Options{}, core.WithObserver(func(s core.ClockState) {
		states = append(states, s)
	}))

	state, err := b.Clock.BringUp(core.Discovery168MHz)
	if err != nil {
		t.Fatalf("BringUp failed: %v", err)
	}
	if state != core.Stable {
		t.Errorf("Expected Stable, got %s", state)
	}

	want := []core.ClockState{
		core.HsiSelected, core.HseEnabled, core.HseStable, core.PllConfigured,
		core.PllEnabled, core.PllLocked, core.SysclkOnPll, core.Stable,
	}
	if len(states) != len(want) {
		t.Fatalf("Expected %d transitions, got %v", len(want), states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("Transition %d: expected %s, got %s", i, want[i], states[i])
		}
		if i > 0 && states[i] <= states[i-1] {
			t.Errorf("Transition %d goes backwards: %s after %s", i, states[i], states[i-1])
		}
	}

	if got := b.Peek(rccPLLCFGR); got != 0x27402A04 {
		t.Errorf("Expected PLLCFGR 0x27402A04, got 0x%08X", got)
	}
	if got := b.Peek(rccCFGR); got != 0x0008940A {
		t.Errorf("Expected CFGR 0x0008940A, got 0x%08X", got)
	}
	if got := b.Peek(core.FlashBase) & 7; got != 5 {
		t.Errorf("Expected 5 flash wait states, got %d", got)
	}
	if got := b.TimerClock(); got != 84*physic.MegaHertz {
		t.Errorf("Expected 84 MHz timer clock, got %s", got)
	}
}

// Flash latency must be raised before the core runs fast, and the PLL must
// be configured while it is off.
func TestBringUpWriteOrder(t *testing.T) {
	b := sim.NewBoard(sim.Options{})
	if _, err := b.Clock.BringUp(core.Discovery168MHz); err != nil {
		t.Fatalf("BringUp failed: %v", err)
	}

	first := func(match func(sim.Access) bool) int {
		for i, a := range b.History() {
			if match(a) {
				return i
			}
		}
		return -1
	}
	flash := first(func(a sim.Access) bool { return a.Addr == core.FlashBase })
	pllcfg := first(func(a sim.Access) bool { return a.Addr == rccPLLCFGR })
	hseOn := first(func(a sim.Access) bool { return a.Addr == rccCR && a.Value&core.RCC_CR_HSEON != 0 })
	pllOn := first(func(a sim.Access) bool { return a.Addr == rccCR && a.Value&core.RCC_CR_PLLON != 0 })
	swPLL := first(func(a sim.Access) bool {
		return a.Addr == rccCFGR && core.RCC_CFGR_SW.Decode(a.Value) == core.RCC_CFGR_SW_PLL
	})

	if flash < 0 || pllcfg < 0 || hseOn < 0 || pllOn < 0 || swPLL < 0 {
		t.Fatalf("Missing writes: flash=%d pllcfgr=%d hseon=%d pllon=%d sw=%d", flash, pllcfg, hseOn, pllOn, swPLL)
	}
	if !(flash < swPLL) {
		t.Errorf("Flash latency (%d) written after the switch to PLL (%d)", flash, swPLL)
	}
	if !(hseOn < pllcfg && pllcfg < pllOn && pllOn < swPLL) {
		t.Errorf("Unexpected order: hseon=%d pllcfgr=%d pllon=%d sw=%d", hseOn, pllcfg, pllOn, swPLL)
	}
}

func TestBringUpHSENeverReady(t *testing.T) {
	var states []core.ClockState
	b := sim.NewBoard(sim.Options{HSENeverReady: true},
		core.WithWaiter(sim.StallAfter(1000)),
		core.WithObserver(func(s core.ClockState) { states = append(states, s) }),
	)

	func() {
		defer func() {
			r := recover()
			if _, ok := r.(sim.Stall); !ok {
				t.Fatalf("Expected a stall, got %v", r)
			}
		}()
		b.Clock.BringUp(core.Discovery168MHz)
		t.Fatal("BringUp returned although HSE never became ready")
	}()

	if b.Clock.State() != core.HseEnabled {
		t.Errorf("Expected to hang in HseEnabled, got %s", b.Clock.State())
	}
	if n := b.Writes(rccPLLCFGR); n != 0 {
		t.Errorf("PLLCFGR written %d times while HSE was not ready", n)
	}
	if b.Peek(rccCR)&core.RCC_CR_PLLON != 0 {
		t.Error("PLL enabled while HSE was not ready")
	}
	if sws := core.RCC_CFGR_SWS.Decode(b.Peek(rccCFGR)); sws != core.RCC_CFGR_SW_HSI {
		t.Errorf("Expected SYSCLK to stay on HSI, got source %d", sws)
	}
	for _, s := range states {
		if s > core.HseEnabled {
			t.Errorf("Reached %s without a ready HSE", s)
		}
	}
}

func TestBringUpPLLNeverLocks(t *testing.T) {
	b := sim.NewBoard(sim.Options{PLLNeverLocks: true}, core.WithWaiter(sim.StallAfter(1000)))
	func() {
		defer func() { recover() }()
		b.Clock.BringUp(core.Discovery168MHz)
	}()
	if b.Clock.State() != core.PllEnabled {
		t.Errorf("Expected to hang in PllEnabled, got %s", b.Clock.State())
	}
	if sw := core.RCC_CFGR_SW.Decode(b.Peek(rccCFGR)); sw == core.RCC_CFGR_SW_PLL {
		t.Error("Switched to an unlocked PLL")
	}
}

func TestBringUpWithReadyLatency(t *testing.T) {
	polls := 0
	b := sim.NewBoard(sim.Options{ReadyLatency: 7}, core.WithWaiter(func(ready func() bool) {
		for !ready() {
			polls++
		}
	}))
	if state, err := b.Clock.BringUp(core.Discovery168MHz); err != nil || state != core.Stable {
		t.Fatalf("Expected Stable, got %s (%v)", state, err)
	}
	if polls == 0 {
		t.Error("Ready bits asserted without any polling")
	}
}

func TestBringUpIdempotent(t *testing.T) {
	b := sim.NewBoard(sim.Options{})
	if _, err := b.Clock.BringUp(core.Discovery168MHz); err != nil {
		t.Fatalf("BringUp failed: %v", err)
	}
	writes := len(b.History())

	state, err := b.Clock.BringUp(core.Discovery168MHz)
	if err != nil || state != core.Stable {
		t.Fatalf("Second BringUp: expected Stable, got %s (%v)", state, err)
	}
	if len(b.History()) != writes {
		t.Errorf("Second BringUp wrote %d registers", len(b.History())-writes)
	}
}

func TestBringUpRepairsDrift(t *testing.T) {
	b := sim.NewBoard(sim.Options{})
	if _, err := b.Clock.BringUp(core.Discovery168MHz); err != nil {
		t.Fatalf("BringUp failed: %v", err)
	}
	// something switched SYSCLK back to HSI behind our back
	b.Periph.RCC.CFGR.Put(core.RCC_CFGR_SW, core.RCC_CFGR_SW_HSI)

	state, err := b.Clock.BringUp(core.Discovery168MHz)
	if err != nil || state != core.Stable {
		t.Fatalf("Expected Stable, got %s (%v)", state, err)
	}
	if sws := core.RCC_CFGR_SWS.Decode(b.Peek(rccCFGR)); sws != core.RCC_CFGR_SW_PLL {
		t.Errorf("Expected SYSCLK back on PLL, got source %d", sws)
	}
}

func TestBringUpRefusesNewPlan(t *testing.T) {
	b := sim.NewBoard(sim.Options{})
	if _, err := b.Clock.BringUp(core.Discovery168MHz); err != nil {
		t.Fatalf("BringUp failed: %v", err)
	}
	slow, err := core.NewClockPlan(8*physic.MegaHertz, 84*physic.MegaHertz)
	if err != nil {
		t.Fatalf("NewClockPlan failed: %v", err)
	}
	writes := len(b.History())
	if _, err := b.Clock.BringUp(slow); !errors.Is(err, core.ErrClockLocked) {
		t.Errorf("Expected ErrClockLocked, got %v", err)
	}
	if len(b.History()) != writes {
		t.Error("Refused plan still wrote registers")
	}
}

func TestBringUpInvalidPlanTouchesNothing(t *testing.T) {
	b := sim.NewBoard(sim.Options{})
	bad := core.Discovery168MHz
	bad.PLLN = 300

	state, err := b.Clock.BringUp(bad)
	if !errors.Is(err, core.ErrMisconfigured) {
		t.Fatalf("Expected ErrMisconfigured, got %v", err)
	}
	if state != core.ResetDefault {
		t.Errorf("Expected ResetDefault, got %s", state)
	}
	if n := len(b.History()); n != 0 {
		t.Errorf("Invalid plan wrote %d registers", n)
	}
}
