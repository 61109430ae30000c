package core

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// TraceEvent captures one bring-up or arming step for post-mortem analysis
type TraceEvent struct {
	Kind  uint8   // Event kind code
	Addr  uintptr // Register touched, 0 if none
	Value uint32  // Context-dependent value
}

// Trace event kinds
const (
	TraceClockState = 1 // Value = ClockState reached
	TracePWMArmed   = 2 // Addr = timer base, Value = period
	TraceStreamOff  = 3 // Addr = stream CR, Value = stream number
	TraceStreamOn   = 4 // Addr = stream CR, Value = CR contents
	TraceTickArmed  = 5 // Addr = timer base, Value = auto-reload
	TraceGPIOFault  = 6 // Addr = timer base, Value = failures so far
)

const (
	TraceRingSize = 32 // Keep last 32 events for post-mortem
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {} // No-op by default

	// debugEnabled controls whether debug output is active
	debugEnabled bool = false

	traceRing     [TraceRingSize]TraceEvent
	traceRingHead uint8
)

// SetDebugWriter sets the platform-specific debug output function
// This allows platforms to redirect debug output to UART, a host log, etc.
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// DebugPrintln writes a debug message using the platform-specific writer
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// RecordTrace captures an event in the ring buffer. Safe from interrupt
// handlers: the slot update runs with interrupts masked.
func RecordTrace(kind uint8, addr uintptr, value uint32) {
	state := disableInterrupts()
	idx := traceRingHead
	traceRing[idx] = TraceEvent{Kind: kind, Addr: addr, Value: value}
	traceRingHead = (idx + 1) % TraceRingSize
	restoreInterrupts(state)
}

// TraceEvents returns the recorded events, oldest first.
func TraceEvents() []TraceEvent {
	events := make([]TraceEvent, 0, TraceRingSize)
	start := traceRingHead
	for i := uint8(0); i < TraceRingSize; i++ {
		evt := traceRing[(start+i)%TraceRingSize]
		if evt.Kind == 0 {
			continue
		}
		events = append(events, evt)
	}
	return events
}

// DumpTrace outputs the trace ring through the debug writer
func DumpTrace() {
	if debugPrintln == nil {
		return
	}

	debugPrintln("[TRACE] === Trace Ring Dump ===")
	for _, evt := range TraceEvents() {
		var name string
		switch evt.Kind {
		case TraceClockState:
			name = "CLOCK " + ClockState(evt.Value).String()
		case TracePWMArmed:
			name = "PWM_ARMED"
		case TraceStreamOff:
			name = "STREAM_OFF"
		case TraceStreamOn:
			name = "STREAM_ON"
		case TraceTickArmed:
			name = "TICK_ARMED"
		case TraceGPIOFault:
			name = "GPIO_FAULT"
		default:
			name = "UNKNOWN"
		}
		debugPrintln("[TRACE] " + name +
			" addr=" + hex32(uint32(evt.Addr)) +
			" v=" + utoa(evt.Value))
	}
	debugPrintln("[TRACE] === End Dump ===")
}

// ClearTrace clears the trace buffer
func ClearTrace() {
	for i := range traceRing {
		traceRing[i] = TraceEvent{}
	}
	traceRingHead = 0
}
