package core

// Placer puts a table where the DMA controller can read it and returns the
// address of its first element. The memory must stay valid and unmoved for
// as long as the streams run.
type Placer interface {
	Place(values []uint16) uintptr
}

// DMARoute wires one compare event of the tick timer, through a DMA stream,
// to one PWM channel.
type DMARoute struct {
	Trigger int // tick timer compare channel 1..4
	Output  int // PWM channel 1..4 fed by the stream
}

// DiscoveryRoutes feeds TIM4 CH1..CH4 from TIM3 compare events CH4, CH1,
// CH2, CH3 (DMA1 streams 2, 4, 5, 7 on channel 5).
var DiscoveryRoutes = []DMARoute{
	{Trigger: 4, Output: 1},
	{Trigger: 1, Output: 2},
	{Trigger: 2, Output: 3},
	{Trigger: 3, Output: 4},
}

// DMAConfig gathers what the DMA-chained pattern needs.
type DMAConfig struct {
	PWM    *PWMTimer
	Tick   *Timer
	DMA    *DMA
	Table  PatternTable
	Clock  TickConfig
	Routes []DMARoute
	Placer Placer
	Wait   Waiter // stream quiesce poll, nil means SpinWait
}

// BreathDMA is an armed DMA-chained pattern. Nothing in it runs on the CPU;
// the fields describe what the hardware is doing.
type BreathDMA struct {
	Streams []*DMAStream
	Layout  []uint16 // table as placed in memory
	Source  uintptr  // address of Layout[0]
	Count   uint16   // transfers per circular cycle
}

// ArmDMAChained programs one circular memory-to-peripheral stream per route
// and starts the tick timer whose compare events pace them. Streams feeding
// odd PWM channels start at the table head, even ones half a cycle in, the
// same pairing the interrupt variant uses.
func ArmDMAChained(cfg DMAConfig) (*BreathDMA, error) {
	if cfg.PWM == nil || len(cfg.Routes) == 0 || len(cfg.Routes) > 4 {
		return nil, ErrChannelCount
	}
	if cfg.Table.Len() == 0 {
		return nil, ErrTableLength
	}
	if cfg.Table.Max() > cfg.PWM.Config.Period {
		return nil, ErrDutyRange
	}
	step, err := cfg.Clock.StepPeriod(cfg.Table.Len())
	if err != nil {
		return nil, err
	}

	type leg struct {
		route  DMARoute
		req    DMARequest
		stream *DMAStream
		out    *PWMChannel
	}
	legs := make([]leg, 0, len(cfg.Routes))
	var triggers uint16
	for _, r := range cfg.Routes {
		out := cfg.PWM.Channel(r.Output)
		if out == nil || r.Trigger < 1 || r.Trigger > 4 {
			return nil, ErrChannelCount
		}
		req, ok := LookupDMARequest(cfg.Tick.Base, r.Trigger)
		if !ok {
			return nil, ErrNoRoute
		}
		if triggers&(TIM_DIER_CC1DE<<(r.Trigger-1)) != 0 {
			return nil, ErrNoRoute
		}
		triggers |= TIM_DIER_CC1DE << (r.Trigger - 1)
		legs = append(legs, leg{route: r, req: req, stream: cfg.DMA.Stream(req.Stream, cfg.Wait), out: out})
	}

	offset := cfg.Table.PhaseOffset()
	layout := cfg.Table.Circular(offset)
	base := cfg.Placer.Place(layout)
	b := &BreathDMA{
		Layout: layout,
		Source: base,
		Count:  uint16(cfg.Table.Len()),
	}

	// Every stream is quiet before any of them is reprogrammed.
	for _, l := range legs {
		l.stream.Disable()
	}
	for _, l := range legs {
		start := 0
		if l.route.Output&1 == 0 {
			start = offset
		}
		desc := StreamDescriptor{
			Channel:  l.req.Channel,
			Dir:      MemToPeriph,
			Source:   base + uintptr(start)*HalfWord.Bytes(),
			Dest:     l.out.CCRAddr(),
			Count:    b.Count,
			Width:    HalfWord,
			MemInc:   true,
			Circular: true,
		}
		if err := l.stream.Configure(desc); err != nil {
			return nil, err
		}
		b.Streams = append(b.Streams, l.stream)
	}
	for _, s := range b.Streams {
		s.Enable()
	}

	// Compare units only raise requests; no output is driven.
	tim := cfg.Tick
	tim.CCMR1.Set(0)
	tim.CCMR2.Set(0)
	tim.CCER.Set(0)
	for _, l := range legs {
		tim.CCR[l.route.Trigger-1].Set(step / 2)
	}
	startTick(tim, cfg.Clock.Prescaler, step, triggers)

	DebugPrintln("[BREATH] dma mode, streams=" + itoa(len(b.Streams)) +
		" count=" + utoa(uint32(b.Count)) + " src=" + hex32(uint32(base)))
	return b, nil
}

// Stop halts the tick timer and disables every stream.
func (b *BreathDMA) Stop(tick *Timer) {
	tick.CR1.ClearBits(TIM_CR1_CEN)
	tick.DIER.Set(0)
	for _, s := range b.Streams {
		s.Disable()
	}
}
