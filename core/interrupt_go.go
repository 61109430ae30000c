//go:build !tinygo

package core

import "sync"

// State stands in for the saved PRIMASK on the host
type State uintptr

// hostMask serializes the critical sections the firmware guards by masking
// interrupts. Simulated interrupts are delivered synchronously by the
// simulator, so mutual exclusion between writers is all that is needed.
var hostMask sync.Mutex

func disableInterrupts() State {
	hostMask.Lock()
	return 0
}

func restoreInterrupts(state State) {
	hostMask.Unlock()
}
