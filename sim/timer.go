package sim

import "m4led/core"

const timerCR1ARPE = 1 << 7

// timer models a 16-bit general purpose up-counter: preloaded PSC, ARR
// (when ARPE) and CCRx (when OCxPE) move to their shadows on an update
// event; compare matches set CCxIF and raise the channel's DMA request.
type timer struct {
	m    *Machine
	base uintptr
	irq  core.IRQ

	cr1, dier, sr, ccmr1, ccmr2, ccer uint16

	psc, pscShadow uint16
	arr, arrShadow uint32
	ccr, ccrShadow [4]uint32

	cnt    uint32
	pscCnt uint64 // kernel cycles into the current prescaler period
}

func newTimer(m *Machine, base uintptr, irq core.IRQ) *timer {
	return &timer{m: m, base: base, irq: irq, arr: 0xFFFF, arrShadow: 0xFFFF}
}

func (t *timer) read(off uintptr) uint32 {
	switch off {
	case core.TimCR1:
		return uint32(t.cr1)
	case core.TimDIER:
		return uint32(t.dier)
	case core.TimSR:
		return uint32(t.sr)
	case core.TimCCMR1:
		return uint32(t.ccmr1)
	case core.TimCCMR2:
		return uint32(t.ccmr2)
	case core.TimCCER:
		return uint32(t.ccer)
	case core.TimCNT:
		return t.cnt
	case core.TimPSC:
		return uint32(t.psc)
	case core.TimARR:
		return t.arr
	}
	if ch, ok := ccrIndex(off); ok {
		return t.ccr[ch]
	}
	return 0
}

func ccrIndex(off uintptr) (int, bool) {
	if off >= core.TimCCR1 && off < core.TimCCR1+16 {
		return int(off-core.TimCCR1) / 4, true
	}
	return 0, false
}

func merge16(old uint16, value, mask uint32) uint16 {
	return uint16(uint32(old)&^mask | value&mask)
}

func (t *timer) write(off uintptr, value, mask uint32) {
	switch off {
	case core.TimCR1:
		t.cr1 = merge16(t.cr1, value, mask)
	case core.TimDIER:
		t.dier = merge16(t.dier, value, mask)
	case core.TimSR:
		// rc_w0: zeros clear, ones leave the flag as it is
		t.sr &= uint16(value | ^mask)
	case core.TimEGR:
		if value&mask&core.TIM_EGR_UG != 0 {
			t.cnt = 0
			t.pscCnt = 0
			t.update()
		}
	case core.TimCCMR1:
		t.ccmr1 = merge16(t.ccmr1, value, mask)
	case core.TimCCMR2:
		t.ccmr2 = merge16(t.ccmr2, value, mask)
	case core.TimCCER:
		t.ccer = merge16(t.ccer, value, mask)
	case core.TimCNT:
		t.cnt = (t.cnt&^mask | value&mask) & 0xFFFF
	case core.TimPSC:
		t.psc = merge16(t.psc, value, mask)
	case core.TimARR:
		t.arr = (t.arr&^mask | value&mask) & 0xFFFF
		if t.cr1&timerCR1ARPE == 0 {
			t.arrShadow = t.arr
		}
	default:
		if ch, ok := ccrIndex(off); ok {
			t.ccr[ch] = (t.ccr[ch]&^mask | value&mask) & 0xFFFF
			if !t.preloaded(ch) {
				t.ccrShadow[ch] = t.ccr[ch]
			}
		}
	}
}

// preloaded reports whether OCxPE buffers channel ch (0..3).
func (t *timer) preloaded(ch int) bool {
	ccmr := t.ccmr1
	if ch >= 2 {
		ccmr = t.ccmr2
	}
	return ccmr>>(8*(ch&1))&core.TIM_CCMR_OCPE != 0
}

func (t *timer) running() bool {
	return t.cr1&core.TIM_CR1_CEN != 0
}

// update is the update event: shadows reload, UIF sets, the update DMA
// request fires when enabled.
func (t *timer) update() {
	t.pscShadow = t.psc
	t.arrShadow = t.arr
	t.ccrShadow = t.ccr
	t.sr |= core.TIM_SR_UIF
	if t.dier&core.TIM_DIER_UDE != 0 {
		t.m.dmaRequest(t.base, 0)
	}
}

func (t *timer) match(ch int) {
	t.sr |= core.TIM_SR_CC1IF << ch
	if t.dier&(core.TIM_DIER_CC1DE<<ch) != 0 {
		t.m.dmaRequest(t.base, ch+1)
	}
}

// ticksToEvent is the number of counter increments until the next
// overflow or compare match.
func (t *timer) ticksToEvent() uint64 {
	top := t.arrShadow
	if t.cnt > top {
		top = 0xFFFF
	}
	ticks := uint64(top-t.cnt) + 1
	for _, c := range t.ccrShadow {
		if c > t.cnt && c <= top && uint64(c-t.cnt) < ticks {
			ticks = uint64(c - t.cnt)
		}
	}
	return ticks
}

// untilEvent returns the kernel cycles until the next event.
func (t *timer) untilEvent() (uint64, bool) {
	if !t.running() {
		return 0, false
	}
	div := uint64(t.pscShadow) + 1
	return div - t.pscCnt + (t.ticksToEvent()-1)*div, true
}

// advance lets n kernel cycles pass. n never crosses the next event; when
// it lands on it the event is processed.
func (t *timer) advance(n uint64) {
	if !t.running() {
		return
	}
	div := uint64(t.pscShadow) + 1
	total := t.pscCnt + n
	ticks := total / div
	t.pscCnt = total % div
	if ticks == 0 {
		return
	}
	t.cnt += uint32(ticks - 1)
	t.tick()
}

// tick is one counter increment.
func (t *timer) tick() {
	top := t.arrShadow
	if t.cnt > top {
		top = 0xFFFF
	}
	if t.cnt >= top {
		t.cnt = 0
		t.update()
	} else {
		t.cnt++
	}
	for ch, c := range t.ccrShadow {
		if t.cnt == c {
			t.match(ch)
		}
	}
}

// line reports whether any enabled interrupt flag is pending.
func (t *timer) line() bool {
	return t.sr&t.dier&0x1F != 0
}
