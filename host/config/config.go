// Package config loads the YAML board profile used by the host tools.
package config

import (
	"fmt"
	"os"

	"m4led/core"

	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"
)

// Variant selects how the breathing pattern is driven.
type Variant string

const (
	VariantIRQ   Variant = "irq"   // TIM3 update interrupt writes the duties
	VariantDMA   Variant = "dma"   // TIM3 compare events chain DMA into TIM4
	VariantBlink Variant = "blink" // TIM3 interrupt toggles the LEDs, no PWM
)

// Profile describes one board setup.
type Profile struct {
	HSEMHz    uint32  `yaml:"hse_mhz"`
	SysclkMHz uint32  `yaml:"sysclk_mhz"`
	Variant   Variant `yaml:"variant"`

	PWM     PWMProfile     `yaml:"pwm"`
	Pattern PatternProfile `yaml:"pattern"`
	Serial  SerialProfile  `yaml:"serial"`
}

type PWMProfile struct {
	Prescaler uint16 `yaml:"prescaler"`
	Period    uint16 `yaml:"period"`
	Channels  int    `yaml:"channels"`
	Initial   uint16 `yaml:"initial"`
	ActiveLow bool   `yaml:"active_low"`
}

type PatternProfile struct {
	Values     []uint16 `yaml:"values"`
	Prescaler  uint16   `yaml:"prescaler"`
	CycleTicks uint32   `yaml:"cycle_ticks"`
}

type SerialProfile struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

// Load parses a YAML profile and fills in defaults.
func Load(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	applyDefaults(&p)
	if err := p.Check(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadFile reads and parses the profile at path.
func LoadFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	return Load(data)
}

// Default returns the STM32F4-discovery profile.
func Default() *Profile {
	p := &Profile{}
	applyDefaults(p)
	return p
}

// applyDefaults fills in missing values with the discovery board setup
func applyDefaults(p *Profile) {
	if p.HSEMHz == 0 {
		p.HSEMHz = 8
	}
	if p.SysclkMHz == 0 {
		p.SysclkMHz = 168
	}
	if p.Variant == "" {
		p.Variant = VariantDMA
	}

	if p.PWM.Prescaler == 0 {
		p.PWM.Prescaler = core.DiscoveryPWM.Prescaler
	}
	if p.PWM.Period == 0 {
		p.PWM.Period = core.DiscoveryPWM.Period
	}
	if p.PWM.Channels == 0 {
		p.PWM.Channels = core.DiscoveryPWM.Channels
	}
	if p.PWM.Initial == 0 {
		p.PWM.Initial = core.DiscoveryPWM.Initial
	}

	if len(p.Pattern.Values) == 0 {
		p.Pattern.Values = append([]uint16(nil), core.DefaultBreath...)
	}
	if p.Pattern.Prescaler == 0 {
		p.Pattern.Prescaler = core.DiscoveryTick.Prescaler
	}
	if p.Pattern.CycleTicks == 0 {
		p.Pattern.CycleTicks = core.DiscoveryTick.CycleTicks
	}

	if p.Serial.Device == "" {
		p.Serial.Device = "/dev/ttyUSB0"
	}
	if p.Serial.Baud == 0 {
		p.Serial.Baud = 115200
	}
}

// Check validates the parts of the profile that do not need the clock plan.
func (p *Profile) Check() error {
	switch p.Variant {
	case VariantIRQ, VariantDMA, VariantBlink:
	default:
		return fmt.Errorf("unknown variant %q", p.Variant)
	}
	if _, err := p.Table(); err != nil {
		return err
	}
	return nil
}

// ClockPlan derives the clock tree configuration. The discovery values give
// the board's reference plan exactly.
func (p *Profile) ClockPlan() (core.ClockPlan, error) {
	plan, err := core.NewClockPlan(physic.Frequency(p.HSEMHz)*physic.MegaHertz,
		physic.Frequency(p.SysclkMHz)*physic.MegaHertz)
	if err != nil {
		return plan, fmt.Errorf("clock plan: %w", err)
	}
	return plan, nil
}

// PWMConfig returns the LED timer configuration.
func (p *Profile) PWMConfig() core.PWMConfig {
	cfg := core.PWMConfig{
		Prescaler: p.PWM.Prescaler,
		Period:    p.PWM.Period,
		Channels:  p.PWM.Channels,
		Initial:   p.PWM.Initial,
	}
	if p.PWM.ActiveLow {
		cfg.Polarity = core.ActiveLow
	}
	return cfg
}

// Table returns the breathing pattern.
func (p *Profile) Table() (core.PatternTable, error) {
	t, err := core.NewPatternTable(p.Pattern.Values)
	if err != nil {
		return t, fmt.Errorf("pattern: %w", err)
	}
	return t, nil
}

// Tick returns the pattern clock.
func (p *Profile) Tick() core.TickConfig {
	return core.TickConfig{Prescaler: p.Pattern.Prescaler, CycleTicks: p.Pattern.CycleTicks}
}
