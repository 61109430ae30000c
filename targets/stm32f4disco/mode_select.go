//go:build stm32f4disco

package main

// Mode selects which program the board runs after start-up
type Mode uint8

const (
	ModeButton      Mode = iota // LEDs follow the user button
	ModePolledBlink             // TIM3 polled, 1 s blink
	ModeBlinkIRQ                // TIM3 update interrupt, 0.5 s blink
	ModeBreathIRQ               // breathing pattern, duties written by the TIM3 interrupt
	ModeBreathDMA               // breathing pattern, duties moved by DMA1 paced by TIM3
)

// GetMode returns the mode to run. Change the value here to pick another
// program; there is no run-time switch because clocks and streams are
// configured once.
func GetMode() Mode {
	return ModeBreathDMA
}
