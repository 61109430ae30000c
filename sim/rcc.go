package sim

import (
	"m4led/core"

	"periph.io/x/conn/v3/physic"
)

// Reset values (RM0090 7.3)
const (
	rccCRReset      = core.RCC_CR_HSION | core.RCC_CR_HSIRDY | 0x80
	rccPLLCFGRReset = 0x24003010
)

const (
	offCR      = 0x00
	offPLLCFGR = 0x04
	offCFGR    = 0x08
)

// oscillator ties an enable bit to its ready bit.
type oscillator struct {
	on, rdy uint32
	broken  bool
	delay   int // CR reads left before rdy follows on
}

// rcc models oscillator start-up and the system clock switch. Ready bits
// are read-only and follow their enable bits after ReadyLatency CR reads;
// SWS follows SW once the selected source is ready.
type rcc struct {
	m    *Machine
	cr   uint32
	oscs []*oscillator
	sws  uint32
	regs *regfile
}

func newRCC(m *Machine) *rcc {
	r := &rcc{m: m, cr: rccCRReset, regs: newRegfile()}
	r.regs.words[offPLLCFGR] = rccPLLCFGRReset
	r.oscs = []*oscillator{
		{on: core.RCC_CR_HSION, rdy: core.RCC_CR_HSIRDY},
		{on: core.RCC_CR_HSEON, rdy: core.RCC_CR_HSERDY, broken: m.opts.HSENeverReady},
		{on: core.RCC_CR_PLLON, rdy: core.RCC_CR_PLLRDY, broken: m.opts.PLLNeverLocks},
		{on: core.RCC_CR_PLLI2SON, rdy: core.RCC_CR_PLLI2SRDY},
	}
	return r
}

func (r *rcc) ready(bit uint32) bool {
	return r.cr&bit != 0
}

// selected reports whether the clock source encoded sw is ready.
func (r *rcc) selected(sw uint32) bool {
	switch sw {
	case core.RCC_CFGR_SW_HSI:
		return r.ready(core.RCC_CR_HSIRDY)
	case core.RCC_CFGR_SW_HSE:
		return r.ready(core.RCC_CR_HSERDY)
	case core.RCC_CFGR_SW_PLL:
		return r.ready(core.RCC_CR_PLLRDY)
	}
	return false
}

func (r *rcc) read(off uintptr) uint32 {
	switch off {
	case offCR:
		for _, o := range r.oscs {
			if r.cr&o.on == 0 || r.cr&o.rdy != 0 || o.broken {
				continue
			}
			if o.delay > 0 {
				o.delay--
				continue
			}
			r.cr |= o.rdy
		}
		return r.cr
	case offCFGR:
		cfgr := r.regs.words[offCFGR]
		if sw := core.RCC_CFGR_SW.Decode(cfgr); sw != r.sws && r.selected(sw) {
			r.sws = sw
		}
		return cfgr&^core.RCC_CFGR_SWS.Mask() | r.sws<<core.RCC_CFGR_SWS.Pos
	}
	return r.regs.read(off)
}

func (r *rcc) write(off uintptr, value, mask uint32) {
	switch off {
	case offCR:
		var rdy uint32
		for _, o := range r.oscs {
			rdy |= o.rdy
		}
		next := (r.cr&^mask | value&mask) &^ rdy
		// HSI cannot be stopped while it drives SYSCLK
		if r.sws == core.RCC_CFGR_SW_HSI {
			next |= core.RCC_CR_HSION
		}
		for _, o := range r.oscs {
			switch {
			case next&o.on == 0:
				// ready drops with the enable
			case r.cr&o.on == 0:
				o.delay = r.m.opts.ReadyLatency
			default:
				next |= r.cr & o.rdy
			}
		}
		r.cr = next
	case offCFGR:
		// SWS is read-only
		mask &^= core.RCC_CFGR_SWS.Mask()
		r.regs.write(off, value, mask)
	default:
		r.regs.write(off, value, mask)
	}
}

// sysclk returns the frequency of the source SWS reports.
func (r *rcc) sysclk() physic.Frequency {
	switch r.sws {
	case core.RCC_CFGR_SW_HSE:
		return r.m.opts.HSE
	case core.RCC_CFGR_SW_PLL:
		pll := r.regs.words[offPLLCFGR]
		in := core.HSIFrequency
		if pll&core.RCC_PLLCFGR_PLLSRC_HSE != 0 {
			in = r.m.opts.HSE
		}
		pllm := core.RCC_PLLCFGR_PLLM.Decode(pll)
		plln := core.RCC_PLLCFGR_PLLN.Decode(pll)
		pllp := core.RCC_PLLCFGR_PLLP.Decode(pll)*2 + 2
		if pllm == 0 {
			return 0
		}
		return in / physic.Frequency(pllm) * physic.Frequency(plln) / physic.Frequency(pllp)
	}
	return core.HSIFrequency
}

// timerClock follows RM0090 figure 21: APB1 timers run at twice PCLK1
// whenever the APB1 prescaler divides.
func (r *rcc) timerClock() physic.Frequency {
	cfgr := r.regs.words[offCFGR]
	hclk := r.sysclk() / physic.Frequency(ahbDivider(core.RCC_CFGR_HPRE.Decode(cfgr)))
	apb1 := apbDivider(core.RCC_CFGR_PPRE1.Decode(cfgr))
	if apb1 == 1 {
		return hclk
	}
	return hclk / physic.Frequency(apb1) * 2
}

func ahbDivider(hpre uint32) uint32 {
	if hpre < 8 {
		return 1
	}
	return [...]uint32{2, 4, 8, 16, 64, 128, 256, 512}[hpre-8]
}

func apbDivider(ppre uint32) uint32 {
	if ppre < 4 {
		return 1
	}
	return 1 << (ppre - 3)
}
