package core

// Direction of a DMA stream transfer
type Direction uint8

const (
	PeriphToMem Direction = 0
	MemToPeriph Direction = 1
	MemToMem    Direction = 2
)

// Width of one transferred element
type Width uint8

const (
	Byte     Width = 0
	HalfWord Width = 1
	FullWord Width = 2
)

// Bytes returns the element size in bytes.
func (w Width) Bytes() uintptr {
	return 1 << w
}

// StreamDescriptor is the complete configuration of one DMA stream. For
// memory-to-peripheral transfers Source is the memory side (M0AR) and Dest
// the peripheral register (PAR).
type StreamDescriptor struct {
	Channel   uint8 // request multiplexer input, 0..7
	Dir       Direction
	Source    uintptr
	Dest      uintptr
	Count     uint16 // elements before completion or circular reload
	Width     Width  // used for both memory and peripheral side
	MemInc    bool
	PeriphInc bool
	Circular  bool
	Priority  uint8 // 0 low .. 3 very high
}

// CR encodes the descriptor into a stream configuration word, EN clear.
func (d StreamDescriptor) CR() (uint32, error) {
	var cr uint32
	fields := []struct {
		f Field
		v uint32
	}{
		{DMA_SxCR_CHSEL, uint32(d.Channel)},
		{DMA_SxCR_PL, uint32(d.Priority)},
		{DMA_SxCR_MSIZE, uint32(d.Width)},
		{DMA_SxCR_PSIZE, uint32(d.Width)},
		{DMA_SxCR_DIR, uint32(d.Dir)},
	}
	for _, fv := range fields {
		bits, err := fv.f.Encode(fv.v)
		if err != nil {
			return 0, err
		}
		cr |= bits
	}
	if d.MemInc {
		cr |= DMA_SxCR_MINC
	}
	if d.PeriphInc {
		cr |= DMA_SxCR_PINC
	}
	if d.Circular {
		cr |= DMA_SxCR_CIRC
	}
	return cr, nil
}

// DMAStream drives one stream of a DMA controller.
type DMAStream struct {
	dma  *DMA
	n    int
	regs *DMAStreamRegs
	wait Waiter
}

// Stream returns stream n (0..7). wait is used when polling for the stream
// to quiesce; nil means SpinWait.
func (d *DMA) Stream(n int, wait Waiter) *DMAStream {
	if wait == nil {
		wait = SpinWait
	}
	return &DMAStream{dma: d, n: n, regs: &d.Streams[n], wait: wait}
}

// Number returns the stream index.
func (s *DMAStream) Number() int {
	return s.n
}

// Disable requests the stream off and blocks until the hardware reports EN
// clear. A transfer in flight completes first; until then the stream
// registers must not be written.
func (s *DMAStream) Disable() {
	s.regs.CR.ClearBits(DMA_SxCR_EN)
	s.wait(func() bool { return !s.regs.CR.HasBits(DMA_SxCR_EN) })
	RecordTrace(TraceStreamOff, s.regs.CR.Addr(), uint32(s.n))
}

// Enabled reports whether the stream is active.
func (s *DMAStream) Enabled() bool {
	return s.regs.CR.HasBits(DMA_SxCR_EN)
}

// flagRegs returns the status and clear registers holding this stream's flags.
func (s *DMAStream) flagRegs() (Register[uint32], Register[uint32]) {
	if s.n < 4 {
		return s.dma.LISR, s.dma.LIFCR
	}
	return s.dma.HISR, s.dma.HIFCR
}

// Flags returns the stream's interrupt flags (DMA_TCIF etc).
func (s *DMAStream) Flags() uint32 {
	isr, _ := s.flagRegs()
	return (isr.Get() >> DMAStreamFlagShift(s.n)) & DMA_ALLIF
}

// ClearFlags clears every event flag of the stream. The status registers are
// read-only; clearing goes through the write-one-to-clear IFCR.
func (s *DMAStream) ClearFlags() {
	_, ifcr := s.flagRegs()
	ifcr.Set(DMA_ALLIF << DMAStreamFlagShift(s.n))
}

// Configure disables the stream, waits for it to quiesce, clears its flags
// and programs desc. The stream stays disabled until Enable.
func (s *DMAStream) Configure(desc StreamDescriptor) error {
	cr, err := desc.CR()
	if err != nil {
		return err
	}
	if s.Enabled() {
		s.Disable()
	}
	s.ClearFlags()
	switch desc.Dir {
	case MemToPeriph:
		s.regs.PAR.Set(uint32(desc.Dest))
		s.regs.M0AR.Set(uint32(desc.Source))
	default:
		s.regs.PAR.Set(uint32(desc.Source))
		s.regs.M0AR.Set(uint32(desc.Dest))
	}
	s.regs.NDTR.Set(uint32(desc.Count))
	s.regs.CR.Set(cr)
	return nil
}

// Enable arms the stream; it then moves one element per request.
func (s *DMAStream) Enable() {
	s.regs.CR.SetBits(DMA_SxCR_EN)
	RecordTrace(TraceStreamOn, s.regs.CR.Addr(), s.regs.CR.Get())
}

// Remaining returns the elements left before completion or reload.
func (s *DMAStream) Remaining() uint32 {
	return s.regs.NDTR.Get()
}

// DMARequest is one entry of the DMA1 request mapping: the stream and
// channel a timer event is wired to.
type DMARequest struct {
	Timer   uintptr
	Event   int // compare channel 1..4, 0 for the update event
	Stream  int
	Channel uint8
}

// DMA1Requests is the subset of RM0090 table 42 for the timers used here.
var DMA1Requests = []DMARequest{
	{Timer: TIM3Base, Event: 1, Stream: 4, Channel: 5},
	{Timer: TIM3Base, Event: 2, Stream: 5, Channel: 5},
	{Timer: TIM3Base, Event: 3, Stream: 7, Channel: 5},
	{Timer: TIM3Base, Event: 4, Stream: 2, Channel: 5},
	{Timer: TIM3Base, Event: 0, Stream: 2, Channel: 5},
	{Timer: TIM4Base, Event: 1, Stream: 0, Channel: 2},
	{Timer: TIM4Base, Event: 2, Stream: 3, Channel: 2},
	{Timer: TIM4Base, Event: 3, Stream: 7, Channel: 2},
	{Timer: TIM4Base, Event: 0, Stream: 6, Channel: 2},
}

// LookupDMARequest finds where a timer event is routed.
func LookupDMARequest(timer uintptr, event int) (DMARequest, bool) {
	for _, r := range DMA1Requests {
		if r.Timer == timer && r.Event == event {
			return r, true
		}
	}
	return DMARequest{}, false
}
