package sim

import "m4led/core"

// Transfer is one element moved by a stream.
type Transfer struct {
	Stream int
	Src    uintptr
	Dst    uintptr
	Value  uint32
}

// stream is one DMA stream. Address and count registers are latched when EN
// goes high; while EN is set only EN itself is writable.
type stream struct {
	cr, ndtr, par, m0ar, m1ar, fcr uint32

	curN         uint32
	curM, curP   uintptr
	startM       uintptr
	startP       uintptr
	drain        int
	draining     bool
	ignoredWhile int // register writes dropped while enabled
}

func (s *stream) enabled() bool {
	return s.cr&core.DMA_SxCR_EN != 0
}

// dma models one controller with its request handling.
type dma struct {
	m       *Machine
	base    uintptr
	isr     [2]uint32 // LISR, HISR
	streams [core.DMAStreams]stream

	log    []Transfer
	badSrc int
}

func newDMA(m *Machine, base uintptr) *dma {
	return &dma{m: m, base: base}
}

func (d *dma) streamAt(off uintptr) (*stream, uintptr, bool) {
	if off < core.DMAStreamBase {
		return nil, 0, false
	}
	rel := off - core.DMAStreamBase
	n := rel / core.DMAStreamStride
	if n >= core.DMAStreams {
		return nil, 0, false
	}
	return &d.streams[n], rel % core.DMAStreamStride, true
}

func (d *dma) read(off uintptr) uint32 {
	switch off {
	case 0x00:
		return d.isr[0]
	case 0x04:
		return d.isr[1]
	case 0x08, 0x0C:
		return 0
	}
	s, reg, ok := d.streamAt(off)
	if !ok {
		return 0
	}
	switch reg {
	case 0x00:
		if s.draining {
			if s.drain > 0 {
				s.drain--
			} else {
				s.cr &^= core.DMA_SxCR_EN
				s.draining = false
			}
		}
		return s.cr
	case 0x04:
		if s.enabled() {
			return s.curN
		}
		return s.ndtr
	case 0x08:
		return s.par
	case 0x0C:
		return s.m0ar
	case 0x10:
		return s.m1ar
	case 0x14:
		return s.fcr
	}
	return 0
}

func (d *dma) write(off uintptr, value, mask uint32) {
	value &= mask
	switch off {
	case 0x00, 0x04:
		// status registers are read-only
		return
	case 0x08:
		d.isr[0] &^= value
		return
	case 0x0C:
		d.isr[1] &^= value
		return
	}
	s, reg, ok := d.streamAt(off)
	if !ok {
		return
	}
	if reg == 0x00 {
		d.writeCR(s, value, mask)
		return
	}
	if s.enabled() {
		s.ignoredWhile++
		return
	}
	switch reg {
	case 0x04:
		s.ndtr = value & 0xFFFF
	case 0x08:
		s.par = value
	case 0x0C:
		s.m0ar = value
	case 0x10:
		s.m1ar = value
	case 0x14:
		s.fcr = value
	}
}

func (d *dma) writeCR(s *stream, value, mask uint32) {
	en := value&core.DMA_SxCR_EN != 0
	switch {
	case s.enabled() && !en:
		if s.draining {
			return
		}
		if d.m.opts.DMADrainPolls > 0 {
			s.draining = true
			s.drain = d.m.opts.DMADrainPolls
			return
		}
		s.cr &^= core.DMA_SxCR_EN
	case s.enabled():
		if value&^core.DMA_SxCR_EN != s.cr&mask&^core.DMA_SxCR_EN {
			s.ignoredWhile++
		}
	case en:
		s.cr = s.cr&^mask | value
		s.curN = s.ndtr
		s.curM = uintptr(s.m0ar)
		s.curP = uintptr(s.par)
		s.startM, s.startP = s.curM, s.curP
	default:
		s.cr = s.cr&^mask | value
	}
}

func (d *dma) setFlag(n int, flag uint32) {
	d.isr[n/4] |= flag << core.DMAStreamFlagShift(n)
}

// request services one peripheral request on stream n, channel ch.
func (d *dma) request(n int, ch uint8) {
	s := &d.streams[n]
	if !s.enabled() || s.draining || core.DMA_SxCR_CHSEL.Decode(s.cr) != uint32(ch) {
		return
	}
	msize := uintptr(1) << core.DMA_SxCR_MSIZE.Decode(s.cr)
	psize := uintptr(1) << core.DMA_SxCR_PSIZE.Decode(s.cr)

	src, dst := s.curM, s.curP
	srcSize, dstSize := msize, psize
	if core.DMA_SxCR_DIR.Decode(s.cr) == uint32(core.PeriphToMem) {
		src, dst = s.curP, s.curM
		srcSize, dstSize = psize, msize
	}
	if !d.m.placed(src, srcSize) && !d.m.isPeripheral(src) {
		d.badSrc++
		d.setFlag(n, core.DMA_TEIF)
		s.cr &^= core.DMA_SxCR_EN
		return
	}
	v := d.m.read(src) >> ((src & 3) * 8)
	v &= uint32(1)<<(8*srcSize) - 1
	lane := (dst & 3) * 8
	d.m.commit(Access{Addr: dst &^ 3, Value: v << lane, Mask: (uint32(1)<<(8*dstSize) - 1) << lane})
	d.log = append(d.log, Transfer{Stream: n, Src: src, Dst: dst, Value: v})

	if s.cr&core.DMA_SxCR_MINC != 0 {
		s.curM += msize
	}
	if s.cr&core.DMA_SxCR_PINC != 0 {
		s.curP += psize
	}
	s.curN--
	if s.curN == s.ndtr/2 {
		d.setFlag(n, core.DMA_HTIF)
	}
	if s.curN == 0 {
		d.setFlag(n, core.DMA_TCIF)
		if s.cr&core.DMA_SxCR_CIRC != 0 {
			s.curN = s.ndtr
			s.curM, s.curP = s.startM, s.startP
		} else {
			s.cr &^= core.DMA_SxCR_EN
		}
	}
}

// dmaRequest routes a timer event through the DMA1 request map.
func (m *Machine) dmaRequest(timer uintptr, event int) {
	r, ok := core.LookupDMARequest(timer, event)
	if !ok {
		return
	}
	m.dma1.request(r.Stream, r.Channel)
}

func (m *Machine) isPeripheral(addr uintptr) bool {
	return addr >= 0x40000000 && addr < 0x60000000
}

// Transfers returns every element stream n has moved, in order.
func (m *Machine) Transfers(n int) []Transfer {
	var out []Transfer
	for _, t := range m.dma1.log {
		if t.Stream == n {
			out = append(out, t)
		}
	}
	return out
}

// BadReads counts DMA source reads outside any placed table.
func (m *Machine) BadReads() int {
	return m.dma1.badSrc
}

// IgnoredStreamWrites counts stream register writes dropped because the
// stream was still enabled.
func (m *Machine) IgnoredStreamWrites(n int) int {
	return m.dma1.streams[n].ignoredWhile
}

// StreamSource returns the address stream n reads next.
func (m *Machine) StreamSource(n int) uintptr {
	return m.dma1.streams[n].curM
}
