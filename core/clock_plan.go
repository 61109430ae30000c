package core

import "periph.io/x/conn/v3/physic"

// Hardware limits of the STM32F405/407 clock tree (RM0090 6.3.2, DS8626 table 14)
const (
	MaxSYSCLK = 168 * physic.MegaHertz
	MaxHCLK   = 168 * physic.MegaHertz
	MaxPCLK1  = 42 * physic.MegaHertz
	MaxPCLK2  = 84 * physic.MegaHertz
	MaxPLL48  = 48 * physic.MegaHertz

	MinVCOInput  = 1 * physic.MegaHertz
	MaxVCOInput  = 2 * physic.MegaHertz
	MinVCOOutput = 100 * physic.MegaHertz
	MaxVCOOutput = 432 * physic.MegaHertz

	MinHSE = 4 * physic.MegaHertz
	MaxHSE = 26 * physic.MegaHertz

	// RTC input after the HSE prescaler.
	RTCInput = 1 * physic.MegaHertz

	// HCLK per flash wait state at 2.7 V - 3.6 V (RM0090 table 10)
	flashStep = 30 * physic.MegaHertz

	HSIFrequency = 16 * physic.MegaHertz
)

// ClockPlan is the derived clock tree configuration applied by BringUp.
// It is a plain value; nothing changes it once built.
type ClockPlan struct {
	HSE physic.Frequency

	PLLM uint32 // VCO input divider, 2..63
	PLLN uint32 // VCO multiplier, 50..432
	PLLP uint32 // SYSCLK divider, 2/4/6/8
	PLLQ uint32 // 48 MHz domain divider, 2..15

	AHBDiv  uint32 // 1, 2, 4 ... 512 except 32
	APB1Div uint32 // 1, 2, 4, 8, 16
	APB2Div uint32 // 1, 2, 4, 8, 16

	WaitStates uint32
}

// Discovery168MHz is the plan of the STM32F4-discovery board: 8 MHz crystal,
// 2 MHz VCO input, 336 MHz VCO, 168 MHz core, 42/84 MHz peripheral buses.
var Discovery168MHz = ClockPlan{
	HSE:        8 * physic.MegaHertz,
	PLLM:       4,
	PLLN:       168,
	PLLP:       2,
	PLLQ:       7,
	AHBDiv:     1,
	APB1Div:    4,
	APB2Div:    2,
	WaitStates: 5,
}

// NewClockPlan derives a plan reaching sysclk from an external crystal of hse.
// The VCO input is placed at 2 MHz when hse allows it (least jitter), P is
// the smallest divider giving an in-range VCO with an integer N, and the
// buses get the smallest dividers keeping them within their limits. A
// sysclk the PLL cannot produce exactly is rejected.
func NewClockPlan(hse, sysclk physic.Frequency) (ClockPlan, error) {
	p := ClockPlan{HSE: hse, PLLP: 2, AHBDiv: 1}
	if hse%MaxVCOInput == 0 {
		p.PLLM = uint32(hse / MaxVCOInput)
	} else {
		p.PLLM = uint32(hse / MinVCOInput)
	}
	if p.PLLM == 0 {
		return p, &PlanError{Param: "HSE", Got: int64(hse), Min: int64(MinHSE), Max: int64(MaxHSE)}
	}
	in := hse / physic.Frequency(p.PLLM)
	for _, pllp := range []uint32{2, 4, 6, 8} {
		vco := sysclk * physic.Frequency(pllp)
		if vco%in == 0 && vco >= MinVCOOutput && vco <= MaxVCOOutput {
			p.PLLP = pllp
			break
		}
	}
	p.PLLN = uint32(sysclk * physic.Frequency(p.PLLP) / in)
	p.PLLQ = uint32((p.VCO() + MaxPLL48 - 1) / MaxPLL48)
	p.APB1Div = busDivider(p.HCLK(), MaxPCLK1)
	p.APB2Div = busDivider(p.HCLK(), MaxPCLK2)
	p.WaitStates = FlashWaitStates(p.HCLK())
	if err := p.Validate(); err != nil {
		return p, err
	}
	if got := p.SYSCLK(); got != sysclk {
		return p, &PlanError{Param: "SYSCLK", Got: int64(got), Min: int64(sysclk), Max: int64(sysclk)}
	}
	return p, nil
}

func busDivider(hclk, limit physic.Frequency) uint32 {
	div := uint32(1)
	for div < 16 && hclk/physic.Frequency(div) > limit {
		div <<= 1
	}
	return div
}

// FlashWaitStates returns the wait states the flash needs at hclk for a
// 2.7 V - 3.6 V supply.
func FlashWaitStates(hclk physic.Frequency) uint32 {
	if hclk <= 0 {
		return 0
	}
	return uint32((hclk - 1) / flashStep)
}

func (p ClockPlan) VCOInput() physic.Frequency {
	if p.PLLM == 0 {
		return 0
	}
	return p.HSE / physic.Frequency(p.PLLM)
}

func (p ClockPlan) VCO() physic.Frequency {
	return p.VCOInput() * physic.Frequency(p.PLLN)
}

func (p ClockPlan) SYSCLK() physic.Frequency {
	if p.PLLP == 0 {
		return 0
	}
	return p.VCO() / physic.Frequency(p.PLLP)
}

func (p ClockPlan) PLL48() physic.Frequency {
	if p.PLLQ == 0 {
		return 0
	}
	return p.VCO() / physic.Frequency(p.PLLQ)
}

func (p ClockPlan) HCLK() physic.Frequency {
	if p.AHBDiv == 0 {
		return 0
	}
	return p.SYSCLK() / physic.Frequency(p.AHBDiv)
}

func (p ClockPlan) PCLK1() physic.Frequency {
	if p.APB1Div == 0 {
		return 0
	}
	return p.HCLK() / physic.Frequency(p.APB1Div)
}

func (p ClockPlan) PCLK2() physic.Frequency {
	if p.APB2Div == 0 {
		return 0
	}
	return p.HCLK() / physic.Frequency(p.APB2Div)
}

// TimerClock1 is the kernel clock of the APB1 timers (TIM2..TIM7, TIM12..14),
// doubled by hardware whenever APB1 is divided.
func (p ClockPlan) TimerClock1() physic.Frequency {
	if p.APB1Div == 1 {
		return p.PCLK1()
	}
	return 2 * p.PCLK1()
}

// RTCPrescaler divides HSE down to the 1 MHz RTC input.
func (p ClockPlan) RTCPrescaler() uint32 {
	return uint32(p.HSE / RTCInput)
}

// Validate checks every derived frequency against the hardware limits. It
// touches no register, so a rejected plan leaves the chip on its reset clock.
func (p ClockPlan) Validate() error {
	checks := []struct {
		param    string
		got      int64
		min, max int64
	}{
		{"HSE", int64(p.HSE), int64(MinHSE), int64(MaxHSE)},
		{"PLLM", int64(p.PLLM), 2, 63},
		{"PLLN", int64(p.PLLN), 50, 432},
		{"PLLQ", int64(p.PLLQ), 2, 15},
		{"VCO input", int64(p.VCOInput()), int64(MinVCOInput), int64(MaxVCOInput)},
		{"VCO output", int64(p.VCO()), int64(MinVCOOutput), int64(MaxVCOOutput)},
		{"SYSCLK", int64(p.SYSCLK()), 1, int64(MaxSYSCLK)},
		{"HCLK", int64(p.HCLK()), 1, int64(MaxHCLK)},
		{"PCLK1", int64(p.PCLK1()), 1, int64(MaxPCLK1)},
		{"PCLK2", int64(p.PCLK2()), 1, int64(MaxPCLK2)},
		{"PLL48", int64(p.PLL48()), 1, int64(MaxPLL48)},
		{"RTC prescaler", int64(p.RTCPrescaler()), 2, 31},
	}
	for _, c := range checks {
		if c.got < c.min || c.got > c.max {
			return &PlanError{Param: c.param, Got: c.got, Min: c.min, Max: c.max}
		}
	}
	if p.HSE%RTCInput != 0 {
		return &PlanError{Param: "HSE", Got: int64(p.HSE), Min: int64(MinHSE), Max: int64(MaxHSE)}
	}
	if _, ok := pllpBits(p.PLLP); !ok {
		return &PlanError{Param: "PLLP", Got: int64(p.PLLP), Min: 2, Max: 8}
	}
	if _, ok := hpreBits(p.AHBDiv); !ok {
		return &PlanError{Param: "AHB divider", Got: int64(p.AHBDiv), Min: 1, Max: 512}
	}
	if _, ok := ppreBits(p.APB1Div); !ok {
		return &PlanError{Param: "APB1 divider", Got: int64(p.APB1Div), Min: 1, Max: 16}
	}
	if _, ok := ppreBits(p.APB2Div); !ok {
		return &PlanError{Param: "APB2 divider", Got: int64(p.APB2Div), Min: 1, Max: 16}
	}
	if want := FlashWaitStates(p.HCLK()); p.WaitStates != want {
		return &PlanError{Param: "flash wait states", Got: int64(p.WaitStates), Min: int64(want), Max: int64(want)}
	}
	return nil
}

// pllpBits encodes P = 2, 4, 6, 8 as 0..3.
func pllpBits(p uint32) (uint32, bool) {
	if p < 2 || p > 8 || p&1 != 0 {
		return 0, false
	}
	return p/2 - 1, true
}

// hpreBits encodes the AHB divider: 0xxx is /1, 1000../2 up to 1111../512, /32 absent.
func hpreBits(div uint32) (uint32, bool) {
	switch div {
	case 1:
		return 0, true
	case 2, 4, 8, 16:
		return 0x8 | (log2(div) - 1), true
	case 64, 128, 256, 512:
		return 0x8 | (log2(div) - 2), true
	}
	return 0, false
}

// ppreBits encodes an APB divider: 0xx is /1, 100../2 up to 111../16.
func ppreBits(div uint32) (uint32, bool) {
	switch div {
	case 1:
		return 0, true
	case 2, 4, 8, 16:
		return 0x4 | (log2(div) - 1), true
	}
	return 0, false
}

func log2(v uint32) uint32 {
	n := uint32(0)
	for v > 1 {
		v >>= 1
		n++
	}
	return n
}
