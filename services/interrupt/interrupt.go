// Package interrupt maps external interrupt lines back to user callbacks.
// Attach and Detach run in task context; dispatch runs in interrupt
// context and reads an immutable snapshot of the table without locking.
package interrupt

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"periph.io/x/conn/v3/gpio"

	"periphcore/errcode"
	"periphcore/hal"
)

// Mode is the Arduino trigger mode.
type Mode uint8

const (
	Low Mode = iota
	High
	Change
	Falling
	Rising
)

func (m Mode) Valid() bool { return m <= Rising }

// Edge is the hardware edge selection for m. Level modes map to the
// matching edge since the controller is edge-triggered only.
func (m Mode) Edge() gpio.Edge {
	switch m {
	case Change:
		return gpio.BothEdges
	case Low, Falling:
		return gpio.FallingEdge
	case High, Rising:
		return gpio.RisingEdge
	}
	return gpio.NoEdge
}

func (m Mode) String() string {
	switch m {
	case Low:
		return "low"
	case High:
		return "high"
	case Change:
		return "change"
	case Falling:
		return "falling"
	case Rising:
		return "rising"
	}
	return fmt.Sprintf("Mode(%d)", m)
}

type entry struct {
	pin  hal.PinName
	line int
	fn   func()
}

type Option func(*Dispatcher)

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// WithReady gates Attach on system initialisation having finished.
func WithReady(ready func() bool) Option {
	return func(d *Dispatcher) { d.ready = ready }
}

// Dispatcher is the GPIO interrupt registry: at most one entry per pin.
type Dispatcher struct {
	ctl   hal.GPIOInterruptController
	pins  hal.PinLookup
	log   *slog.Logger
	ready func() bool

	mu    sync.Mutex // serialises writers
	table atomic.Pointer[[]entry]

	fired atomic.Uint32
}

func New(ctl hal.GPIOInterruptController, pins hal.PinLookup, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		ctl:   ctl,
		pins:  pins,
		log:   slog.New(slog.DiscardHandler),
		ready: func() bool { return true },
	}
	for _, o := range opts {
		o(d)
	}
	d.table.Store(&[]entry{})
	return d
}

// Attach installs fn for pin. Attaching an already attached pin replaces
// the previous entry and releases its line first.
func (d *Dispatcher) Attach(pin hal.PinName, fn func(), mode Mode) error {
	switch {
	case pin < 0 || !d.pins.Valid(pin):
		return errcode.InvalidPin
	case fn == nil:
		return errcode.NilCallback
	case !mode.Valid():
		return errcode.InvalidMode
	case !d.ready():
		return errcode.SystemNotReady
	}
	edge := mode.Edge()
	rising := edge == gpio.RisingEdge || edge == gpio.BothEdges
	falling := edge == gpio.FallingEdge || edge == gpio.BothEdges

	d.mu.Lock()
	defer d.mu.Unlock()
	d.removeLocked(pin)

	port, off := d.pins.Port(pin), d.pins.Offset(pin)
	line, err := d.ctl.Register(off, d.dispatch)
	if err != nil {
		d.log.Warn("no interrupt line", "pin", pin, "err", err)
		return errcode.Wrap(errcode.Unavailable, "interrupt.attach", err)
	}
	d.ctl.ConfigureEdge(port, off, line, rising, falling, true)

	old := *d.table.Load()
	next := make([]entry, len(old), len(old)+1)
	copy(next, old)
	next = append(next, entry{pin: pin, line: line, fn: fn})
	d.table.Store(&next)
	d.log.Debug("attach", "pin", pin, "line", line, "mode", mode)
	return nil
}

// Detach removes the entry for pin and releases its line.
func (d *Dispatcher) Detach(pin hal.PinName) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.removeLocked(pin) {
		return errcode.NotFound
	}
	return nil
}

func (d *Dispatcher) removeLocked(pin hal.PinName) bool {
	old := *d.table.Load()
	for i, e := range old {
		if e.pin != pin {
			continue
		}
		next := make([]entry, 0, len(old)-1)
		next = append(next, old[:i]...)
		next = append(next, old[i+1:]...)
		d.table.Store(&next)
		d.ctl.Unregister(e.line)
		d.ctl.ConfigureEdge(d.pins.Port(pin), d.pins.Offset(pin), e.line, false, false, false)
		d.log.Debug("detach", "pin", pin, "line", e.line)
		return true
	}
	return false
}

// AttachNumber and DetachNumber take board pin numbers.
func (d *Dispatcher) AttachNumber(n int, fn func(), mode Mode) error {
	pin := d.pins.PinName(n)
	if pin == hal.NotConnected {
		return errcode.InvalidPin
	}
	return d.Attach(pin, fn, mode)
}

func (d *Dispatcher) DetachNumber(n int) error {
	pin := d.pins.PinName(n)
	if pin == hal.NotConnected {
		return errcode.InvalidPin
	}
	return d.Detach(pin)
}

// dispatch runs every callback whose line matches.
func (d *Dispatcher) dispatch(line int) {
	for _, e := range *d.table.Load() {
		if e.line == line {
			d.fired.Add(1)
			e.fn()
		}
	}
}

func (d *Dispatcher) Attached(pin hal.PinName) bool {
	for _, e := range *d.table.Load() {
		if e.pin == pin {
			return true
		}
	}
	return false
}

func (d *Dispatcher) Len() int { return len(*d.table.Load()) }

// Fired counts callbacks run since start.
func (d *Dispatcher) Fired() uint32 { return d.fired.Load() }
