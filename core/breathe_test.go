package core_test

import (
	"errors"
	"testing"

	"m4led/core"
	"m4led/sim"
)

// tickCycle is one pattern step: (ARR+1)*(PSC+1) kernel cycles with
// ARR = 10000/16 and PSC = 8400.
const tickCycle = (625 + 1) * (8400 + 1)

var breath = core.MustPatternTable(core.DefaultBreath)

func ccr(b *sim.Board, ch int) uint16 {
	return uint16(b.Periph.TIM4.CCR[ch-1].Get())
}

func TestInterruptDrivenSequence(t *testing.T) {
	b := bootBoard(t, sim.Options{})
	br, err := b.ArmInterruptDriven(breath, core.DiscoveryTick)
	if err != nil {
		t.Fatalf("ArmInterruptDriven failed: %v", err)
	}
	if got := b.Periph.TIM3.ARR.Get(); got != 625 {
		t.Errorf("Expected TIM3 ARR 625, got %d", got)
	}
	if got := b.Periph.TIM3.DIER.Get(); got != core.TIM_DIER_UIE {
		t.Errorf("Expected TIM3 DIER 0x0001, got 0x%04X", got)
	}
	if !b.IRQ.Enabled(core.IRQ_TIM3) {
		t.Fatal("TIM3 interrupt not enabled at the NVIC")
	}

	// the forced update event is serviced first
	b.RunFor(0)
	if br.Updates() != 1 {
		t.Fatalf("Expected 1 update, got %d", br.Updates())
	}
	if ccr(b, 1) != 5 || ccr(b, 2) != 995 || ccr(b, 3) != 5 || ccr(b, 4) != 995 {
		t.Errorf("Step 0: got %d %d %d %d", ccr(b, 1), ccr(b, 2), ccr(b, 3), ccr(b, 4))
	}

	for step := 1; step < 40; step++ {
		b.RunFor(tickCycle)
		a, c := br.Cursors()
		if int((c-a)&breath.Mask()) != breath.PhaseOffset() {
			t.Fatalf("Step %d: cursors %d/%d lost their phase", step, a, c)
		}
		wantA := breath.At(uint32(step))
		wantB := breath.At(uint32(step + 8))
		if ccr(b, 1) != wantA || ccr(b, 3) != wantA {
			t.Errorf("Step %d: pair A expected %d, got %d/%d", step, wantA, ccr(b, 1), ccr(b, 3))
		}
		if ccr(b, 2) != wantB || ccr(b, 4) != wantB {
			t.Errorf("Step %d: pair B expected %d, got %d/%d", step, wantB, ccr(b, 2), ccr(b, 4))
		}
	}
	if br.Updates() != 40 {
		t.Errorf("Expected 40 updates, got %d", br.Updates())
	}
	if b.Reentries() != 0 || b.IRQ.Spurious() != 0 {
		t.Errorf("Unexpected re-entries %d, spurious %d", b.Reentries(), b.IRQ.Spurious())
	}
}

// With posted writes the flag clear is still in flight when the handler
// returns unless SR is read back.
func TestInterruptReadBackPreventsReentry(t *testing.T) {
	b := bootBoard(t, sim.Options{PostedWrites: true})
	br, err := b.ArmInterruptDriven(breath, core.DiscoveryTick)
	if err != nil {
		t.Fatalf("ArmInterruptDriven failed: %v", err)
	}
	b.RunFor(16 * tickCycle)
	if b.Reentries() != 0 {
		t.Errorf("Expected no re-entry, got %d", b.Reentries())
	}
	if br.Updates() != 17 {
		t.Errorf("Expected 17 updates, got %d", br.Updates())
	}
	if a, _ := br.Cursors(); a != 17&15 {
		t.Errorf("Expected cursor A at %d, got %d", 17&15, a)
	}
}

func TestInterruptWithoutReadBackReenters(t *testing.T) {
	b := bootBoard(t, sim.Options{PostedWrites: true})
	tim := b.Periph.TIM3
	calls := 0
	b.IRQ.Register(core.IRQ_TIM3, func(core.IRQ) {
		calls++
		tim.SR.Set(^uint16(core.TIM_SR_UIF))
	})
	b.IRQ.Enable(core.IRQ_TIM3)
	tim.PSC.Set(8400)
	tim.ARR.Set(625)
	tim.DIER.Set(core.TIM_DIER_UIE)
	tim.EGR.Set(core.TIM_EGR_UG)
	tim.CR1.SetBits(core.TIM_CR1_CEN)

	b.RunFor(4 * tickCycle)
	if b.Reentries() != 5 {
		t.Errorf("Expected a re-entry for each of 5 updates, got %d", b.Reentries())
	}
	if calls != 10 {
		t.Errorf("Expected 10 handler calls, got %d", calls)
	}
}

func TestInterruptDrivenStop(t *testing.T) {
	b := bootBoard(t, sim.Options{})
	br, err := b.ArmInterruptDriven(breath, core.DiscoveryTick)
	if err != nil {
		t.Fatalf("ArmInterruptDriven failed: %v", err)
	}
	b.RunFor(3 * tickCycle)
	br.Stop()
	n := br.Updates()
	b.RunFor(3 * tickCycle)
	if br.Updates() != n {
		t.Errorf("Handler ran after Stop: %d -> %d", n, br.Updates())
	}
	if b.IRQ.Enabled(core.IRQ_TIM3) {
		t.Error("TIM3 still enabled at the NVIC")
	}
}

func TestArmRejectsTableAbovePeriod(t *testing.T) {
	b := bootBoard(t, sim.Options{})
	loud := core.MustPatternTable([]uint16{0, 2000})
	if _, err := b.ArmInterruptDriven(loud, core.DiscoveryTick); !errors.Is(err, core.ErrDutyRange) {
		t.Errorf("Expected ErrDutyRange, got %v", err)
	}
	if _, err := b.ArmDMAChained(loud, core.DiscoveryTick); !errors.Is(err, core.ErrDutyRange) {
		t.Errorf("Expected ErrDutyRange, got %v", err)
	}
}

func TestTickStepPeriod(t *testing.T) {
	step, err := core.DiscoveryTick.StepPeriod(16)
	if err != nil || step != 625 {
		t.Errorf("Expected 625, got %d (%v)", step, err)
	}
	if _, err := core.DiscoveryTick.StepPeriod(8192); !errors.Is(err, core.ErrMisconfigured) {
		t.Errorf("Expected ErrMisconfigured for a 1-tick step, got %v", err)
	}
}

func TestStreamDescriptorEncoding(t *testing.T) {
	desc := core.StreamDescriptor{
		Channel:  5,
		Dir:      core.MemToPeriph,
		Width:    core.HalfWord,
		MemInc:   true,
		Circular: true,
	}
	cr, err := desc.CR()
	if err != nil {
		t.Fatalf("CR failed: %v", err)
	}
	if cr != 0x0A002D40 {
		t.Errorf("Expected 0x0A002D40, got 0x%08X", cr)
	}
	desc.Width = core.FullWord
	if cr, _ := desc.CR(); cr != 0x0A005540 {
		t.Errorf("Expected 0x0A005540 for word transfers, got 0x%08X", cr)
	}
	if core.FullWord.Bytes() != 4 || core.HalfWord.Bytes() != 2 {
		t.Errorf("Expected 2 and 4 byte elements, got %d and %d", core.HalfWord.Bytes(), core.FullWord.Bytes())
	}
	desc.Channel = 8
	if _, err := desc.CR(); !errors.Is(err, core.ErrFieldRange) {
		t.Errorf("Expected ErrFieldRange for channel 8, got %v", err)
	}
}

func TestDMAChainedConfiguration(t *testing.T) {
	b := bootBoard(t, sim.Options{})
	br, err := b.ArmDMAChained(breath, core.DiscoveryTick)
	if err != nil {
		t.Fatalf("ArmDMAChained failed: %v", err)
	}
	if len(br.Layout) != 24 || br.Count != 16 {
		t.Errorf("Expected 24-entry layout and count 16, got %d/%d", len(br.Layout), br.Count)
	}

	dma := b.Periph.DMA1
	want := []struct {
		stream int
		src    uintptr
		dst    uintptr
	}{
		{2, br.Source, core.TIM4Base + core.TimCCR1},
		{4, br.Source + 16, core.TIM4Base + core.TimCCR1 + 4},
		{5, br.Source, core.TIM4Base + core.TimCCR1 + 8},
		{7, br.Source + 16, core.TIM4Base + core.TimCCR1 + 12},
	}
	for _, w := range want {
		s := dma.Streams[w.stream]
		if got := s.CR.Get(); got != 0x0A002D41 {
			t.Errorf("Stream %d: expected CR 0x0A002D41, got 0x%08X", w.stream, got)
		}
		if got := s.NDTR.Get(); got != 16 {
			t.Errorf("Stream %d: expected NDTR 16, got %d", w.stream, got)
		}
		if got := uintptr(s.M0AR.Get()); got != w.src {
			t.Errorf("Stream %d: expected source 0x%X, got 0x%X", w.stream, w.src, got)
		}
		if got := uintptr(s.PAR.Get()); got != w.dst {
			t.Errorf("Stream %d: expected destination 0x%X, got 0x%X", w.stream, w.dst, got)
		}
	}

	tim := b.Periph.TIM3
	if got := tim.DIER.Get(); got != 0x1E00 {
		t.Errorf("Expected TIM3 DIER 0x1E00, got 0x%04X", got)
	}
	for i := 0; i < 4; i++ {
		if got := tim.CCR[i].Get(); got != 312 {
			t.Errorf("TIM3 CCR%d: expected 312, got %d", i+1, got)
		}
	}
	if tim.CCER.Get() != 0 || tim.CCMR1.Get() != 0 || tim.CCMR2.Get() != 0 {
		t.Error("TIM3 compare channels drive outputs")
	}

	// flags were cleared through the clear registers, never the status ones
	if b.Writes(core.DMA1Base) != 0 || b.Writes(core.DMA1Base+4) != 0 {
		t.Error("DMA status registers written")
	}
	if b.Writes(core.DMA1Base+8) == 0 || b.Writes(core.DMA1Base+12) == 0 {
		t.Error("DMA flag clear registers never written")
	}
}

func TestDMAChainedCircularReload(t *testing.T) {
	b := bootBoard(t, sim.Options{})
	br, err := b.ArmDMAChained(breath, core.DiscoveryTick)
	if err != nil {
		t.Fatalf("ArmDMAChained failed: %v", err)
	}
	stream2 := b.Periph.DMA1.Stream(2, nil)

	// first compare match at CCR=312, then one per period
	b.RunFor(312*(8400+1) + 15*tickCycle)
	moved := b.Transfers(2)
	if len(moved) != 16 {
		t.Fatalf("Expected 16 transfers after 16 triggers, got %d", len(moved))
	}
	for i, tr := range moved {
		if uint16(tr.Value) != breath.At(uint32(i)) {
			t.Errorf("Transfer %d: expected %d, got %d", i, breath.At(uint32(i)), tr.Value)
		}
	}
	if b.StreamSource(2) != br.Source {
		t.Errorf("Source did not reload: 0x%X, want 0x%X", b.StreamSource(2), br.Source)
	}
	if stream2.Flags()&core.DMA_TCIF == 0 {
		t.Error("Transfer complete flag not set after a full cycle")
	}
	if stream2.Remaining() != 16 {
		t.Errorf("Expected NDTR reloaded to 16, got %d", stream2.Remaining())
	}

	b.RunFor(16 * tickCycle)
	moved = b.Transfers(2)
	if len(moved) != 32 {
		t.Fatalf("Expected 32 transfers, got %d", len(moved))
	}
	for i := 0; i < 16; i++ {
		if moved[i].Value != moved[i+16].Value || moved[i].Src != moved[i+16].Src {
			t.Errorf("Cycle 2 entry %d differs from cycle 1", i)
		}
	}

	// the phase-shifted stream walks the second half first
	shifted := b.Transfers(4)
	for i, tr := range shifted[:16] {
		if uint16(tr.Value) != breath.At(uint32(i+8)) {
			t.Errorf("Stream 4 transfer %d: expected %d, got %d", i, breath.At(uint32(i+8)), tr.Value)
		}
	}
	if b.BadReads() != 0 {
		t.Errorf("Expected no out-of-bounds reads, got %d", b.BadReads())
	}

	// what reached TIM4 after its next update matches the last transfers
	b.RunFor(pwmCycle)
	duty := b.LEDDuty()
	if duty[0] != uint16(moved[31].Value) || duty[1] != uint16(shifted[len(shifted)-1].Value) {
		t.Errorf("LED duty %v does not follow the streams", duty)
	}
}

func TestDMAReconfigureWaitsForStream(t *testing.T) {
	b := bootBoard(t, sim.Options{DMADrainPolls: 3})
	if _, err := b.ArmDMAChained(breath, core.DiscoveryTick); err != nil {
		t.Fatalf("ArmDMAChained failed: %v", err)
	}
	b.RunFor(4 * tickCycle)

	// re-arming disables every running stream before reprogramming it
	if _, err := b.ArmDMAChained(breath, core.DiscoveryTick); err != nil {
		t.Fatalf("Re-arm failed: %v", err)
	}
	for _, n := range []int{2, 4, 5, 7} {
		if got := b.IgnoredStreamWrites(n); got != 0 {
			t.Errorf("Stream %d: %d writes landed while enabled", n, got)
		}
	}

	// a write to a live stream is dropped by the hardware
	b.Periph.DMA1.Streams[2].NDTR.Set(3)
	if b.IgnoredStreamWrites(2) != 1 {
		t.Error("Write to an enabled stream was not dropped")
	}
}

func TestDMARouteValidation(t *testing.T) {
	b := bootBoard(t, sim.Options{})
	pwm, err := b.StartPWM(core.DiscoveryPWM)
	if err != nil {
		t.Fatalf("StartPWM failed: %v", err)
	}
	cfg := core.DMAConfig{
		PWM:    pwm,
		Tick:   b.Periph.TIM4,
		DMA:    b.Periph.DMA1,
		Table:  breath,
		Clock:  core.DiscoveryTick,
		Placer: b.Machine,
		Routes: []core.DMARoute{{Trigger: 4, Output: 1}},
	}
	if _, err := core.ArmDMAChained(cfg); !errors.Is(err, core.ErrNoRoute) {
		t.Errorf("TIM4 CH4 has no DMA1 request: expected ErrNoRoute, got %v", err)
	}

	cfg.Tick = b.Periph.TIM3
	cfg.Routes = []core.DMARoute{{Trigger: 1, Output: 1}, {Trigger: 1, Output: 2}}
	if _, err := core.ArmDMAChained(cfg); !errors.Is(err, core.ErrNoRoute) {
		t.Errorf("Shared trigger: expected ErrNoRoute, got %v", err)
	}
}

func TestDMAChainedStop(t *testing.T) {
	b := bootBoard(t, sim.Options{})
	br, err := b.ArmDMAChained(breath, core.DiscoveryTick)
	if err != nil {
		t.Fatalf("ArmDMAChained failed: %v", err)
	}
	b.RunFor(2 * tickCycle)
	br.Stop(b.Periph.TIM3)
	n := len(b.Transfers(2))
	b.RunFor(4 * tickCycle)
	if len(b.Transfers(2)) != n {
		t.Error("Stream kept moving after Stop")
	}
	for _, s := range br.Streams {
		if s.Enabled() {
			t.Errorf("Stream %d still enabled", s.Number())
		}
	}
}
