package hal

import "time"

// GPIOInterruptController hands out external interrupt lines. fn runs in
// interrupt context with the line that fired.
type GPIOInterruptController interface {
	Register(pin uint8, fn func(line int)) (line int, err error)
	Unregister(line int)
	ConfigureEdge(port Port, pin uint8, line int, rising, falling, enabled bool)
}

// WatchdogConfig is applied by WatchdogTimer.Init.
type WatchdogConfig struct {
	Timeout       time.Duration
	ResetDisabled bool // interrupt instead of reset on expiry
	RunInSleep    bool
}

type WatchdogTimer interface {
	Init(cfg WatchdogConfig) error
	Enable(on bool)
	Feed()
	EnableInterrupt(on bool)
	ResetCauseWatchdog() bool
}
