//go:build tinygo

package core

import "runtime/interrupt"

// disableInterrupts sets PRIMASK and returns the previous state
func disableInterrupts() interrupt.State {
	return interrupt.Disable()
}

// restoreInterrupts puts PRIMASK back as it was before disableInterrupts
func restoreInterrupts(state interrupt.State) {
	interrupt.Restore(state)
}
