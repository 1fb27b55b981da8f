// Package pwm allocates the channels of one shared PWM timer. The pool
// runs either in duty-cycle mode (fixed carrier, analogWrite) or in
// frequency mode (50% duty, tone); switching modes stops every channel.
package pwm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/physic"

	"periphcore/errcode"
	"periphcore/hal"
	"periphcore/x/mathx"
	"periphcore/x/timex"
)

const (
	DefaultChannels      = 3
	DefaultDutyFrequency = physic.KiloHertz
	DefaultStabilization = 2 * time.Millisecond
	DefaultResolution    = 8
	MaxResolution        = 12

	unsetDuty = 101 // no duty programmed yet
	toneDuty  = 50
)

// Mode is the pool-wide signal generation mode.
type Mode uint8

const (
	DutyCycle Mode = iota
	Frequency
)

func (m Mode) String() string {
	if m == Frequency {
		return "frequency"
	}
	return "duty_cycle"
}

type slot struct {
	pin  hal.PinName // NotConnected when free
	duty uint8       // percent; unsetDuty until programmed
	freq physic.Frequency
}

type Option func(*Allocator)

func WithLogger(l *slog.Logger) Option {
	return func(a *Allocator) {
		if l != nil {
			a.log = l
		}
	}
}

func WithChannels(n int) Option {
	return func(a *Allocator) {
		if n > 0 {
			a.nch = n
		}
	}
}

func WithDutyFrequency(f physic.Frequency) Option {
	return func(a *Allocator) {
		if f > 0 {
			a.dutyFreq = f
		}
	}
}

// WithStabilization sets the minimum gap between duty updates.
func WithStabilization(d time.Duration) Option {
	return func(a *Allocator) {
		if d >= 0 {
			a.stabilize = d
		}
	}
}

type Allocator struct {
	timer hal.PWMTimer
	power hal.PowerManager
	pins  hal.PinLookup
	clock timex.Clock
	log   *slog.Logger

	nch       int
	dutyFreq  physic.Frequency
	stabilize time.Duration

	mu         sync.Mutex
	mode       Mode
	slots      []slot
	active     int
	autoDeinit bool
	res        uint8
	maxValue   int
	lastSet    time.Duration
	everSet    bool
}

// New builds the allocator; power may be nil on parts without energy modes.
func New(timer hal.PWMTimer, power hal.PowerManager, pins hal.PinLookup, clock timex.Clock, opts ...Option) *Allocator {
	a := &Allocator{
		timer:      timer,
		power:      power,
		pins:       pins,
		clock:      clock,
		log:        slog.New(slog.DiscardHandler),
		nch:        DefaultChannels,
		dutyFreq:   DefaultDutyFrequency,
		stabilize:  DefaultStabilization,
		autoDeinit: true,
	}
	for _, o := range opts {
		o(a)
	}
	a.slots = make([]slot, a.nch)
	for i := range a.slots {
		a.slots[i].pin = hal.NotConnected
	}
	a.setResolution(DefaultResolution)
	return a
}

func (a *Allocator) setResolution(bits uint8) {
	a.res = bits
	a.maxValue = 1<<bits - 1
}

// SetWriteResolution sets the bit width of DutyCycle values.
func (a *Allocator) SetWriteResolution(bits uint8) error {
	if !mathx.Between(bits, 1, MaxResolution) {
		return errcode.InvalidParams
	}
	a.mu.Lock()
	a.setResolution(bits)
	a.mu.Unlock()
	return nil
}

func (a *Allocator) WriteResolution() uint8 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.res
}

// SetAutoDeinit controls whether a 0% duty stops the channel.
func (a *Allocator) SetAutoDeinit(on bool) {
	a.mu.Lock()
	a.autoDeinit = on
	a.mu.Unlock()
}

func (a *Allocator) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// Active is the number of allocated channels.
func (a *Allocator) Active() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Duty returns the programmed duty percent of pin.
func (a *Allocator) Duty(pin hal.PinName) (uint8, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.find(pin)
	if i < 0 || a.slots[i].duty == unsetDuty {
		return 0, false
	}
	return a.slots[i].duty, true
}

func (a *Allocator) valid(pin hal.PinName) bool { return pin >= 0 && a.pins.Valid(pin) }

func (a *Allocator) find(pin hal.PinName) int {
	for i, s := range a.slots {
		if s.pin == pin {
			return i
		}
	}
	return -1
}

// DutyCycle programs value (0..2^res-1) on pin, allocating a channel on
// first use. Updates are spaced by the stabilisation time since each one
// disturbs the shared timer.
func (a *Allocator) DutyCycle(ctx context.Context, pin hal.PinName, value int) error {
	a.mu.Lock()
	maxValue := a.maxValue
	deadline, wait := a.lastSet+a.stabilize, a.everSet
	a.mu.Unlock()
	if value < 0 || value > maxValue {
		return errcode.InvalidParams
	}
	if !a.valid(pin) {
		return errcode.InvalidPin
	}
	if wait {
		if err := timex.WaitUntil(ctx, a.clock, deadline); err != nil {
			return errcode.Wrap(errcode.MapDriverErr(err), "pwm.duty_cycle", err)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mode != DutyCycle {
		a.stopAllLocked()
		a.mode = DutyCycle
	}
	i := a.find(pin)
	if i < 0 {
		var err error
		if i, err = a.initLocked(pin, a.dutyFreq); err != nil {
			return err
		}
	}
	percent := uint8(value * 100 / maxValue)
	if a.slots[i].duty == percent {
		return nil
	}
	a.slots[i].duty = percent
	if percent == 0 && a.autoDeinit {
		a.stopLocked(i)
		return nil
	}
	a.timer.SetDutyCycle(i, percent)
	a.lastSet, a.everSet = a.clock.Now(), true
	return nil
}

// Frequency outputs a 50% square wave of f on pin; f == 0 stops it.
// A pin already running is restarted at the new frequency.
func (a *Allocator) Frequency(pin hal.PinName, f physic.Frequency) error {
	if !a.valid(pin) {
		return errcode.InvalidPin
	}
	if f < 0 {
		return errcode.InvalidParams
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mode != Frequency {
		a.stopAllLocked()
		a.mode = Frequency
	}
	if i := a.find(pin); i >= 0 {
		a.stopLocked(i)
	}
	if f == 0 {
		return nil
	}
	i, err := a.initLocked(pin, f)
	if err != nil {
		return err
	}
	a.slots[i].duty = toneDuty
	a.timer.SetDutyCycle(i, toneDuty)
	return nil
}

// Stop releases pin's channel; the last one out shuts the timer down.
func (a *Allocator) Stop(pin hal.PinName) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.find(pin)
	if i < 0 {
		return errcode.NotFound
	}
	a.stopLocked(i)
	return nil
}

// Tone plays f on pin for d, yielding meanwhile, then stops it. A zero d
// leaves the tone running.
func (a *Allocator) Tone(ctx context.Context, pin hal.PinName, f physic.Frequency, d time.Duration) error {
	if err := a.Frequency(pin, f); err != nil {
		return err
	}
	if d <= 0 || f == 0 {
		return nil
	}
	err := timex.Sleep(ctx, a.clock, d)
	_ = a.NoTone(pin)
	if err != nil {
		return errcode.Wrap(errcode.MapDriverErr(err), "pwm.tone", err)
	}
	return nil
}

func (a *Allocator) NoTone(pin hal.PinName) error { return a.Frequency(pin, 0) }

func (a *Allocator) initLocked(pin hal.PinName, f physic.Frequency) (int, error) {
	i := a.find(hal.NotConnected)
	if i < 0 {
		a.log.Warn("no free pwm channel", "pin", pin)
		return -1, errcode.PoolExhausted
	}
	if err := a.timer.Init(i, a.pins.Port(pin), a.pins.Offset(pin), f); err != nil {
		return -1, errcode.Wrap(errcode.Error, "pwm.init", err)
	}
	a.timer.Start(i)
	if a.active == 0 && a.power != nil {
		a.power.Require()
	}
	a.active++
	a.slots[i] = slot{pin: pin, duty: unsetDuty, freq: f}
	a.log.Debug("channel up", "pin", pin, "ch", i, "freq", f)
	return i, nil
}

func (a *Allocator) stopLocked(i int) {
	a.timer.Stop(i)
	a.log.Debug("channel down", "pin", a.slots[i].pin, "ch", i)
	a.slots[i] = slot{pin: hal.NotConnected}
	a.active--
	if a.active == 0 {
		a.timer.Deinit()
		if a.power != nil {
			a.power.Release()
		}
	}
}

func (a *Allocator) stopAllLocked() {
	for i := range a.slots {
		if a.slots[i].pin != hal.NotConnected {
			a.stopLocked(i)
		}
	}
}
