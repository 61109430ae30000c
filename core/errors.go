package core

import "errors"

var (
	// ErrMisconfigured is wrapped by every clock plan rejection.
	ErrMisconfigured = errors.New("parameter outside hardware range")
	ErrFieldRange    = errors.New("value does not fit register field")
	// ErrClockLocked is returned when a different plan is requested after
	// the clock tree reached Stable. Clocks are never reconfigured at run time.
	ErrClockLocked  = errors.New("clock tree already stable with another plan")
	ErrChannelCount = errors.New("timer supports 1 to 4 compare channels")
	ErrTableLength  = errors.New("pattern length must be a power of two")
	ErrDutyRange    = errors.New("duty value exceeds timer period")
	ErrNoRoute      = errors.New("no DMA stream routed for trigger")
	ErrUnknownPort  = errors.New("GPIO port not mapped")
)

// PlanError describes which clock plan parameter broke a hardware limit.
type PlanError struct {
	Param string
	Got   int64
	Min   int64
	Max   int64
}

func (e *PlanError) Error() string {
	return "clock plan: " + e.Param + " = " + i64toa(e.Got) +
		" outside [" + i64toa(e.Min) + ", " + i64toa(e.Max) + "]"
}

func (e *PlanError) Unwrap() error {
	return ErrMisconfigured
}
