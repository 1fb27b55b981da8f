// Package watchdog drives the hardware watchdog: reset on expiry by
// default, or an early-warning callback when one is attached.
package watchdog

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"periphcore/errcode"
	"periphcore/hal"
)

const DefaultTimeout = time.Second

type Option func(*Watchdog)

func WithLogger(l *slog.Logger) Option {
	return func(w *Watchdog) {
		if l != nil {
			w.log = l
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(w *Watchdog) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithOffWhileSleeping stops the counter in sleep modes by default.
func WithOffWhileSleeping(off bool) Option {
	return func(w *Watchdog) { w.offInSleep = off }
}

type Watchdog struct {
	hw         hal.WatchdogTimer
	log        *slog.Logger
	timeout    time.Duration
	offInSleep bool

	mu      sync.Mutex
	cfg     hal.WatchdogConfig
	running bool

	cb atomic.Pointer[func()]
}

func New(hw hal.WatchdogTimer, opts ...Option) *Watchdog {
	w := &Watchdog{
		hw:      hw,
		log:     slog.New(slog.DiscardHandler),
		timeout: DefaultTimeout,
	}
	for _, o := range opts {
		o(w)
	}
	w.log = w.log.With("svc", "watchdog")
	w.cfg = w.defaults()
	return w
}

func (w *Watchdog) defaults() hal.WatchdogConfig {
	return hal.WatchdogConfig{Timeout: w.timeout, RunInSleep: !w.offInSleep}
}

// Begin (re)initialises and starts the watchdog with the current settings.
func (w *Watchdog) Begin() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.applyLocked()
}

func (w *Watchdog) BeginWithTimeout(d time.Duration) error {
	if d <= 0 {
		return errcode.InvalidParams
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cfg.Timeout = d
	return w.applyLocked()
}

// SetTimeout changes the period and restarts the watchdog.
func (w *Watchdog) SetTimeout(d time.Duration) error { return w.BeginWithTimeout(d) }

func (w *Watchdog) applyLocked() error {
	if err := w.hw.Init(w.cfg); err != nil {
		return errcode.Wrap(errcode.Error, "watchdog.begin", err)
	}
	w.hw.Enable(true)
	w.running = true
	w.log.Debug("started", "timeout", w.cfg.Timeout, "reset_disabled", w.cfg.ResetDisabled, "run_in_sleep", w.cfg.RunInSleep)
	return nil
}

// End detaches any callback, stops the watchdog and restores defaults.
func (w *Watchdog) End() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cb.Store(nil)
	w.hw.EnableInterrupt(false)
	w.hw.Enable(false)
	w.cfg = w.defaults()
	w.running = false
}

func (w *Watchdog) Feed() { w.hw.Feed() }

// Attach makes expiry raise an interrupt calling fn instead of resetting.
func (w *Watchdog) Attach(fn func()) error {
	if fn == nil {
		return errcode.NilCallback
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cb.Store(&fn)
	w.cfg.ResetDisabled = true
	w.hw.EnableInterrupt(true)
	return w.applyLocked()
}

// Detach restores reset-on-expiry.
func (w *Watchdog) Detach() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cb.Store(nil)
	w.cfg.ResetDisabled = false
	w.hw.EnableInterrupt(false)
	return w.applyLocked()
}

// ResetHappened reports whether the last reset was caused by the watchdog.
func (w *Watchdog) ResetHappened() bool { return w.hw.ResetCauseWatchdog() }

func (w *Watchdog) SetOffWhileSleeping(off bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cfg.RunInSleep = !off
	return w.applyLocked()
}

// HandleIRQ is called by the controller on expiry with reset disabled.
func (w *Watchdog) HandleIRQ() {
	if fn := w.cb.Load(); fn != nil {
		(*fn)()
	}
}

func (w *Watchdog) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watchdog) Config() hal.WatchdogConfig {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg
}
