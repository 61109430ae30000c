package core

// ClockState is a stage of the clock tree bring-up. Stages are reached
// strictly in declaration order.
type ClockState uint8

const (
	ResetDefault ClockState = iota
	HsiSelected
	HseEnabled
	HseStable
	PllConfigured
	PllEnabled
	PllLocked
	SysclkOnPll
	Stable
)

var clockStateNames = [...]string{
	ResetDefault:  "ResetDefault",
	HsiSelected:   "HsiSelected",
	HseEnabled:    "HseEnabled",
	HseStable:     "HseStable",
	PllConfigured: "PllConfigured",
	PllEnabled:    "PllEnabled",
	PllLocked:     "PllLocked",
	SysclkOnPll:   "SysclkOnPll",
	Stable:        "Stable",
}

func (s ClockState) String() string {
	if int(s) < len(clockStateNames) {
		return clockStateNames[s]
	}
	return "ClockState(" + utoa(uint32(s)) + ")"
}

// Waiter blocks until ready reports true. The hardware offers no timeout:
// an oscillator that never starts keeps the caller here forever, which is
// the intended failure mode.
type Waiter func(ready func() bool)

// SpinWait polls ready without bound.
func SpinWait(ready func() bool) {
	for !ready() {
	}
}

// ClockOption customises a ClockTree.
type ClockOption func(*ClockTree)

// WithWaiter replaces the busy-poll used at every hardware-confirmed step.
func WithWaiter(w Waiter) ClockOption {
	return func(c *ClockTree) { c.wait = w }
}

// WithObserver registers a callback invoked on every state transition.
func WithObserver(fn func(ClockState)) ClockOption {
	return func(c *ClockTree) { c.observe = fn }
}

// ClockTree runs the one-shot clock bring-up on the initializing context.
type ClockTree struct {
	rcc     *RCC
	flash   *Flash
	wait    Waiter
	observe func(ClockState)

	state   ClockState
	applied ClockPlan
}

func NewClockTree(bus Bus, opts ...ClockOption) *ClockTree {
	c := &ClockTree{
		rcc:   NewRCC(bus),
		flash: NewFlash(bus),
		wait:  SpinWait,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the last stage reached.
func (c *ClockTree) State() ClockState {
	return c.state
}

func (c *ClockTree) enter(s ClockState) {
	c.state = s
	RecordTrace(TraceClockState, 0, uint32(s))
	DebugPrintln("[RCC] " + s.String())
	if c.observe != nil {
		c.observe(s)
	}
}

// BringUp switches the system clock from the reset HSI to the PLL described
// by plan. The plan is validated before any register is written. Every wait
// on a hardware status bit is unbounded; there is no rollback.
//
// Calling BringUp again with the same plan once Stable leaves the running
// clock untouched. A different plan is refused with ErrClockLocked.
func (c *ClockTree) BringUp(plan ClockPlan) (ClockState, error) {
	if err := plan.Validate(); err != nil {
		return c.state, err
	}
	if c.state == Stable {
		if plan != c.applied {
			return c.state, ErrClockLocked
		}
		if c.matches(plan) {
			return Stable, nil
		}
		DebugPrintln("[RCC] clock drifted from plan, re-running bring-up")
	}
	c.state = ResetDefault

	rcc := c.rcc

	// Fall back to HSI before the PLL is touched.
	rcc.CR.SetBits(RCC_CR_HSION)
	c.wait(func() bool { return rcc.CR.HasBits(RCC_CR_HSIRDY) })
	rcc.CFGR.Assign(RCC_CFGR_SW, RCC_CFGR_SW_HSI)
	c.wait(func() bool { return rcc.CFGR.Field(RCC_CFGR_SWS) == RCC_CFGR_SW_HSI })
	c.enter(HsiSelected)

	// Flash latency first so the core never outruns the flash.
	c.flash.ACR.Assign(FLASH_ACR_LATENCY, plan.WaitStates)

	// Validate guaranteed every field value below.
	rcc.CFGR.Assign(RCC_CFGR_RTCPRE, plan.RTCPrescaler())
	hpre, _ := hpreBits(plan.AHBDiv)
	rcc.CFGR.Assign(RCC_CFGR_HPRE, hpre)
	ppre1, _ := ppreBits(plan.APB1Div)
	ppre2, _ := ppreBits(plan.APB2Div)
	rcc.CFGR.Assign(RCC_CFGR_PPRE1, ppre1)
	rcc.CFGR.Assign(RCC_CFGR_PPRE2, ppre2)

	// Main PLL and PLLI2S share the input stage.
	rcc.CR.ClearBits(RCC_CR_PLLON | RCC_CR_PLLI2SON)

	rcc.CR.SetBits(RCC_CR_HSEON)
	c.enter(HseEnabled)
	c.wait(func() bool { return rcc.CR.HasBits(RCC_CR_HSERDY) })
	c.enter(HseStable)

	pllp, _ := pllpBits(plan.PLLP)
	rcc.PLLCFGR.Set(c.pllcfgr(plan, pllp))
	c.enter(PllConfigured)

	rcc.CR.SetBits(RCC_CR_PLLON)
	c.enter(PllEnabled)
	c.wait(func() bool { return rcc.CR.HasBits(RCC_CR_PLLRDY) })
	c.enter(PllLocked)

	rcc.CFGR.Assign(RCC_CFGR_SW, RCC_CFGR_SW_PLL)
	c.wait(func() bool { return rcc.CFGR.Field(RCC_CFGR_SWS) == RCC_CFGR_SW_PLL })
	c.enter(SysclkOnPll)

	c.applied = plan
	c.enter(Stable)
	return c.state, nil
}

// pllcfgr builds the PLL configuration word, keeping the bits this firmware
// does not own (PLLR on later parts, reserved bits).
func (c *ClockTree) pllcfgr(plan ClockPlan, pllp uint32) uint32 {
	v := c.rcc.PLLCFGR.Get()
	v &^= RCC_PLLCFGR_PLLM.Mask() | RCC_PLLCFGR_PLLN.Mask() |
		RCC_PLLCFGR_PLLP.Mask() | RCC_PLLCFGR_PLLQ.Mask()
	v |= RCC_PLLCFGR_PLLSRC_HSE
	v |= plan.PLLM << RCC_PLLCFGR_PLLM.Pos
	v |= plan.PLLN << RCC_PLLCFGR_PLLN.Pos
	v |= pllp << RCC_PLLCFGR_PLLP.Pos
	v |= plan.PLLQ << RCC_PLLCFGR_PLLQ.Pos
	return v
}

// matches reports whether the hardware still runs the given plan.
func (c *ClockTree) matches(plan ClockPlan) bool {
	rcc := c.rcc
	if rcc.CFGR.Field(RCC_CFGR_SWS) != RCC_CFGR_SW_PLL || !rcc.CR.HasBits(RCC_CR_PLLRDY) {
		return false
	}
	pll := rcc.PLLCFGR.Get()
	pllp, _ := pllpBits(plan.PLLP)
	hpre, _ := hpreBits(plan.AHBDiv)
	ppre1, _ := ppreBits(plan.APB1Div)
	ppre2, _ := ppreBits(plan.APB2Div)
	cfgr := rcc.CFGR.Get()
	return RCC_PLLCFGR_PLLM.Decode(pll) == plan.PLLM &&
		RCC_PLLCFGR_PLLN.Decode(pll) == plan.PLLN &&
		RCC_PLLCFGR_PLLP.Decode(pll) == pllp &&
		RCC_PLLCFGR_PLLQ.Decode(pll) == plan.PLLQ &&
		pll&RCC_PLLCFGR_PLLSRC_HSE != 0 &&
		RCC_CFGR_HPRE.Decode(cfgr) == hpre &&
		RCC_CFGR_PPRE1.Decode(cfgr) == ppre1 &&
		RCC_CFGR_PPRE2.Decode(cfgr) == ppre2 &&
		c.flash.ACR.Field(FLASH_ACR_LATENCY) == plan.WaitStates
}
