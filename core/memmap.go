package core

// STM32F407 memory map (RM0090 table 1)
const (
	TIM3Base  uintptr = 0x40000400
	TIM4Base  uintptr = 0x40000800
	GPIOABase uintptr = 0x40020000
	GPIODBase uintptr = 0x40020C00
	RCCBase   uintptr = 0x40023800
	FlashBase uintptr = 0x40023C00
	DMA1Base  uintptr = 0x40026000
	NVICBase  uintptr = 0xE000E100
)

// RCC register offsets and bits
const (
	rccCR      = 0x00
	rccPLLCFGR = 0x04
	rccCFGR    = 0x08
	rccAHB1ENR = 0x30
	rccAPB1ENR = 0x40

	RCC_CR_HSION     = 1 << 0
	RCC_CR_HSIRDY    = 1 << 1
	RCC_CR_HSEON     = 1 << 16
	RCC_CR_HSERDY    = 1 << 17
	RCC_CR_PLLON     = 1 << 24
	RCC_CR_PLLRDY    = 1 << 25
	RCC_CR_PLLI2SON  = 1 << 26
	RCC_CR_PLLI2SRDY = 1 << 27

	RCC_PLLCFGR_PLLSRC_HSE = 1 << 22

	RCC_CFGR_SW_HSI = 0
	RCC_CFGR_SW_HSE = 1
	RCC_CFGR_SW_PLL = 2

	RCC_AHB1ENR_GPIOAEN = 1 << 0
	RCC_AHB1ENR_GPIODEN = 1 << 3
	RCC_AHB1ENR_DMA1EN  = 1 << 21

	RCC_APB1ENR_TIM3EN = 1 << 1
	RCC_APB1ENR_TIM4EN = 1 << 2
)

// RCC bit fields
var (
	RCC_PLLCFGR_PLLM = Field{Pos: 0, Width: 6}
	RCC_PLLCFGR_PLLN = Field{Pos: 6, Width: 9}
	RCC_PLLCFGR_PLLP = Field{Pos: 16, Width: 2}
	RCC_PLLCFGR_PLLQ = Field{Pos: 24, Width: 4}

	RCC_CFGR_SW     = Field{Pos: 0, Width: 2}
	RCC_CFGR_SWS    = Field{Pos: 2, Width: 2}
	RCC_CFGR_HPRE   = Field{Pos: 4, Width: 4}
	RCC_CFGR_PPRE1  = Field{Pos: 10, Width: 3}
	RCC_CFGR_PPRE2  = Field{Pos: 13, Width: 3}
	RCC_CFGR_RTCPRE = Field{Pos: 16, Width: 5}

	FLASH_ACR_LATENCY = Field{Pos: 0, Width: 3}
)

// RCC is the reset and clock controller.
type RCC struct {
	CR      Register[uint32]
	PLLCFGR Register[uint32]
	CFGR    Register[uint32]
	AHB1ENR Register[uint32]
	APB1ENR Register[uint32]
}

func NewRCC(bus Bus) *RCC {
	return &RCC{
		CR:      NewRegister[uint32](bus, RCCBase+rccCR),
		PLLCFGR: NewRegister[uint32](bus, RCCBase+rccPLLCFGR),
		CFGR:    NewRegister[uint32](bus, RCCBase+rccCFGR),
		AHB1ENR: NewRegister[uint32](bus, RCCBase+rccAHB1ENR),
		APB1ENR: NewRegister[uint32](bus, RCCBase+rccAPB1ENR),
	}
}

// Flash is the flash interface; only the access control register is used.
type Flash struct {
	ACR Register[uint32]
}

func NewFlash(bus Bus) *Flash {
	return &Flash{ACR: NewRegister[uint32](bus, FlashBase)}
}

// GPIO register offsets
const (
	gpioMODER   = 0x00
	gpioOTYPER  = 0x04
	gpioOSPEEDR = 0x08
	gpioPUPDR   = 0x0C
	gpioIDR     = 0x10
	gpioODR     = 0x14
	gpioBSRRL   = 0x18
	gpioBSRRH   = 0x1A
	gpioLCKR    = 0x1C
	gpioAFRL    = 0x20
	gpioAFRH    = 0x24
)

// GPIO is one port. BSRRL/BSRRH are the 16-bit set and reset halves.
type GPIO struct {
	Base    uintptr
	MODER   Register[uint32]
	OTYPER  Register[uint32]
	OSPEEDR Register[uint32]
	PUPDR   Register[uint32]
	IDR     Register[uint32]
	ODR     Register[uint32]
	BSRRL   Register[uint16]
	BSRRH   Register[uint16]
	LCKR    Register[uint32]
	AFRL    Register[uint32]
	AFRH    Register[uint32]
}

func NewGPIO(bus Bus, base uintptr) *GPIO {
	return &GPIO{
		Base:    base,
		MODER:   NewRegister[uint32](bus, base+gpioMODER),
		OTYPER:  NewRegister[uint32](bus, base+gpioOTYPER),
		OSPEEDR: NewRegister[uint32](bus, base+gpioOSPEEDR),
		PUPDR:   NewRegister[uint32](bus, base+gpioPUPDR),
		IDR:     NewRegister[uint32](bus, base+gpioIDR),
		ODR:     NewRegister[uint32](bus, base+gpioODR),
		BSRRL:   NewRegister[uint16](bus, base+gpioBSRRL),
		BSRRH:   NewRegister[uint16](bus, base+gpioBSRRH),
		LCKR:    NewRegister[uint32](bus, base+gpioLCKR),
		AFRL:    NewRegister[uint32](bus, base+gpioAFRL),
		AFRH:    NewRegister[uint32](bus, base+gpioAFRH),
	}
}

// General purpose timer offsets (TIM2..TIM5 layout)
const (
	TimCR1   = 0x00
	TimDIER  = 0x0C
	TimSR    = 0x10
	TimEGR   = 0x14
	TimCCMR1 = 0x18
	TimCCMR2 = 0x1C
	TimCCER  = 0x20
	TimCNT   = 0x24
	TimPSC   = 0x28
	TimARR   = 0x2C
	TimCCR1  = 0x34

	TIM_CR1_CEN = 1 << 0
	// CR1 bits kept when the timer is reset to a plain up-counter.
	TIM_CR1_BASELINE = 0xFC00

	TIM_DIER_UIE   = 1 << 0
	TIM_DIER_CC1IE = 1 << 1
	TIM_DIER_UDE   = 1 << 8
	TIM_DIER_CC1DE = 1 << 9

	TIM_SR_UIF   = 1 << 0
	TIM_SR_CC1IF = 1 << 1

	TIM_EGR_UG = 1 << 0

	// OCxM = 110 (PWM mode 1) with OCxPE preload, per channel byte of CCMRx.
	TIM_CCMR_PWM1_PRELOAD = 0x68
	TIM_CCMR_OCPE         = 0x08

	TIM_CCER_CCE = 1 << 0
	TIM_CCER_CCP = 1 << 1
	// Reserved bits of CCER preserved while clearing the channel enables.
	TIM_CCER_KEEP = 0x4444
)

// Timer is a general purpose timer. Control registers are 16 bits wide on a
// 32-bit stride; CNT, ARR and the compare registers are 32-bit.
type Timer struct {
	Base  uintptr
	CR1   Register[uint16]
	DIER  Register[uint16]
	SR    Register[uint16]
	EGR   Register[uint16]
	CCMR1 Register[uint16]
	CCMR2 Register[uint16]
	CCER  Register[uint16]
	CNT   Register[uint32]
	PSC   Register[uint16]
	ARR   Register[uint32]
	CCR   [4]Register[uint32]
}

func NewTimer(bus Bus, base uintptr) *Timer {
	t := &Timer{
		Base:  base,
		CR1:   NewRegister[uint16](bus, base+TimCR1),
		DIER:  NewRegister[uint16](bus, base+TimDIER),
		SR:    NewRegister[uint16](bus, base+TimSR),
		EGR:   NewRegister[uint16](bus, base+TimEGR),
		CCMR1: NewRegister[uint16](bus, base+TimCCMR1),
		CCMR2: NewRegister[uint16](bus, base+TimCCMR2),
		CCER:  NewRegister[uint16](bus, base+TimCCER),
		CNT:   NewRegister[uint32](bus, base+TimCNT),
		PSC:   NewRegister[uint16](bus, base+TimPSC),
		ARR:   NewRegister[uint32](bus, base+TimARR),
	}
	for i := range t.CCR {
		t.CCR[i] = NewRegister[uint32](bus, base+TimCCR1+uintptr(i)*4)
	}
	return t
}

// CCMR returns the capture/compare mode register holding channel ch (1..4)
// and the bit shift of that channel's byte.
func (t *Timer) CCMR(ch int) (Register[uint16], uint8) {
	shift := uint8((ch-1)&1) * 8
	if ch <= 2 {
		return t.CCMR1, shift
	}
	return t.CCMR2, shift
}

// DMA controller offsets
const (
	dmaLISR  = 0x00
	dmaHISR  = 0x04
	dmaLIFCR = 0x08
	dmaHIFCR = 0x0C

	DMAStreamBase   = 0x10
	DMAStreamStride = 0x18

	dmaSxCR   = 0x00
	dmaSxNDTR = 0x04
	dmaSxPAR  = 0x08
	dmaSxM0AR = 0x0C
	dmaSxM1AR = 0x10
	dmaSxFCR  = 0x14

	DMAStreams = 8

	DMA_SxCR_EN    = 1 << 0
	DMA_SxCR_CIRC  = 1 << 8
	DMA_SxCR_PINC  = 1 << 9
	DMA_SxCR_MINC  = 1 << 10
	DMA_SxCR_TCIE  = 1 << 4
	DMA_SxCR_HTIE  = 1 << 3
	DMA_SxCR_TEIE  = 1 << 2
	DMA_SxCR_DMEIE = 1 << 1

	// Interrupt flag bits relative to a stream's flag group.
	DMA_FEIF  = 1 << 0
	DMA_DMEIF = 1 << 2
	DMA_TEIF  = 1 << 3
	DMA_HTIF  = 1 << 4
	DMA_TCIF  = 1 << 5
	DMA_ALLIF = DMA_FEIF | DMA_DMEIF | DMA_TEIF | DMA_HTIF | DMA_TCIF
)

// DMA stream CR fields
var (
	DMA_SxCR_DIR    = Field{Pos: 6, Width: 2}
	DMA_SxCR_PSIZE  = Field{Pos: 11, Width: 2}
	DMA_SxCR_MSIZE  = Field{Pos: 13, Width: 2}
	DMA_SxCR_PL     = Field{Pos: 16, Width: 2}
	DMA_SxCR_PBURST = Field{Pos: 21, Width: 2}
	DMA_SxCR_MBURST = Field{Pos: 23, Width: 2}
	DMA_SxCR_CHSEL  = Field{Pos: 25, Width: 3}
)

// dmaFlagShift is the bit offset of each stream's flag group inside
// LISR/HISR (streams 0-3) or the same position in the high registers (4-7).
var dmaFlagShift = [4]uint8{0, 6, 16, 22}

// DMAStreamFlagShift returns the flag group offset for stream n.
func DMAStreamFlagShift(n int) uint8 {
	return dmaFlagShift[n&3]
}

// DMAStreamRegs is the register block of one stream.
type DMAStreamRegs struct {
	CR   Register[uint32]
	NDTR Register[uint32]
	PAR  Register[uint32]
	M0AR Register[uint32]
	M1AR Register[uint32]
	FCR  Register[uint32]
}

// DMA is one DMA controller.
type DMA struct {
	Base    uintptr
	LISR    Register[uint32]
	HISR    Register[uint32]
	LIFCR   Register[uint32]
	HIFCR   Register[uint32]
	Streams [DMAStreams]DMAStreamRegs
}

func NewDMA(bus Bus, base uintptr) *DMA {
	d := &DMA{
		Base:  base,
		LISR:  NewRegister[uint32](bus, base+dmaLISR),
		HISR:  NewRegister[uint32](bus, base+dmaHISR),
		LIFCR: NewRegister[uint32](bus, base+dmaLIFCR),
		HIFCR: NewRegister[uint32](bus, base+dmaHIFCR),
	}
	for i := range d.Streams {
		s := base + DMAStreamBase + uintptr(i)*DMAStreamStride
		d.Streams[i] = DMAStreamRegs{
			CR:   NewRegister[uint32](bus, s+dmaSxCR),
			NDTR: NewRegister[uint32](bus, s+dmaSxNDTR),
			PAR:  NewRegister[uint32](bus, s+dmaSxPAR),
			M0AR: NewRegister[uint32](bus, s+dmaSxM0AR),
			M1AR: NewRegister[uint32](bus, s+dmaSxM1AR),
			FCR:  NewRegister[uint32](bus, s+dmaSxFCR),
		}
	}
	return d
}

// DMAStreamAddr returns the CR address of stream n of the controller at base.
func DMAStreamAddr(base uintptr, n int) uintptr {
	return base + DMAStreamBase + uintptr(n)*DMAStreamStride
}

// NVIC enable arrays
const (
	nvicISER     = 0x000
	nvicICER     = 0x080
	NVICISERAddr = NVICBase + nvicISER
	NVICICERAddr = NVICBase + nvicICER
	NVICWords    = 3
)

// NVIC holds the set-enable and clear-enable bit arrays.
type NVIC struct {
	ISER [NVICWords]Register[uint32]
	ICER [NVICWords]Register[uint32]
}

func NewNVIC(bus Bus) *NVIC {
	n := &NVIC{}
	for i := 0; i < NVICWords; i++ {
		n.ISER[i] = NewRegister[uint32](bus, NVICISERAddr+uintptr(i)*4)
		n.ICER[i] = NewRegister[uint32](bus, NVICICERAddr+uintptr(i)*4)
	}
	return n
}

// Peripherals is the full register map used by the firmware.
type Peripherals struct {
	RCC   *RCC
	Flash *Flash
	GPIOA *GPIO
	GPIOD *GPIO
	TIM3  *Timer
	TIM4  *Timer
	DMA1  *DMA
	NVIC  *NVIC
}

// Map binds every peripheral used by the firmware to bus.
func Map(bus Bus) *Peripherals {
	return &Peripherals{
		RCC:   NewRCC(bus),
		Flash: NewFlash(bus),
		GPIOA: NewGPIO(bus, GPIOABase),
		GPIOD: NewGPIO(bus, GPIODBase),
		TIM3:  NewTimer(bus, TIM3Base),
		TIM4:  NewTimer(bus, TIM4Base),
		DMA1:  NewDMA(bus, DMA1Base),
		NVIC:  NewNVIC(bus),
	}
}
