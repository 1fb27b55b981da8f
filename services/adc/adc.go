// Package adc arbitrates the single analog converter between one-shot
// reads and continuous DMA-fed scanning. Single and scan modes are
// mutually exclusive; a scan interrupted by a one-shot read is paused,
// not torn down.
package adc

import (
	"context"
	"log/slog"
	"sync"

	"periphcore/errcode"
	"periphcore/hal"
	"periphcore/x/mathx"
	"periphcore/x/timex"
)

const (
	SampleBits = 12

	DefaultResolution = 10
	DefaultReference  = hal.RefVDD
)

// Stats counts the expensive and cheap paths.
type Stats struct {
	SingleInits int
	ScanInits   int
	ScanResumes int
}

type Option func(*Controller)

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

func WithReference(r hal.ADCReference) Option {
	return func(c *Controller) {
		if r.Valid() {
			c.ref = r
		}
	}
}

func WithResolution(bits uint8) Option {
	return func(c *Controller) {
		if mathx.Between(bits, 1, SampleBits) {
			c.res = bits
		}
	}
}

type Controller struct {
	adc   hal.ADC
	dma   hal.DMA
	clock timex.Clock
	log   *slog.Logger

	mu    sync.Mutex
	st    state
	ref   hal.ADCReference
	res   uint8
	stats Stats
}

func New(adc hal.ADC, dma hal.DMA, clock timex.Clock, opts ...Option) *Controller {
	c := &Controller{
		adc:   adc,
		dma:   dma,
		clock: clock,
		log:   slog.New(slog.DiscardHandler),
		st:    uninitState{},
		ref:   DefaultReference,
		res:   DefaultResolution,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State reports the mode and the pin it is bound to.
func (c *Controller) State() (Kind, hal.PinName) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch st := c.st.(type) {
	case singleState:
		return Single, st.pin
	case scanState:
		return st.kind(), st.s.pin
	}
	return Uninitialized, hal.NotConnected
}

func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Controller) Reference() hal.ADCReference {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ref
}

func (c *Controller) Resolution() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.res
}

// Sample performs one blocking conversion on pin, pausing any active
// scan, and returns it scaled to the read resolution. The completion poll
// yields to the clock and stops when ctx ends.
func (c *Controller) Sample(ctx context.Context, pin hal.PinName) (uint16, error) {
	if pin < 0 {
		return 0, errcode.InvalidPin
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	switch st := c.st.(type) {
	case scanState:
		if !st.s.paused {
			st.s.ch.Pause()
			st.s.paused = true
		}
		if err := c.initSingleLocked(pin, st.s); err != nil {
			return 0, err
		}
	case singleState:
		if st.pin != pin {
			if err := c.initSingleLocked(pin, st.parked); err != nil {
				return 0, err
			}
		}
	case uninitState:
		c.adc.Reset()
		if err := c.initSingleLocked(pin, nil); err != nil {
			return 0, err
		}
	}

	c.adc.StartSingle()
	for !c.adc.SingleDone() {
		if err := ctx.Err(); err != nil {
			return 0, errcode.Wrap(errcode.MapDriverErr(err), "adc.sample", err)
		}
		c.clock.Yield()
	}
	raw := c.adc.ReadSingle() & (1<<SampleBits - 1)
	return raw >> (SampleBits - c.res), nil
}

func (c *Controller) initSingleLocked(pin hal.PinName, parked *session) error {
	if err := c.adc.InitSingle(pin, c.ref); err != nil {
		c.teardownLocked()
		return errcode.Wrap(errcode.Error, "adc.init_single", err)
	}
	c.stats.SingleInits++
	c.st = singleState{pin: pin, parked: parked}
	c.log.Debug("single mode", "pin", pin, "ref", c.ref)
	return nil
}

// ScanStart starts continuous acquisition of pin into buf; done runs in
// DMA completion context after every pass. Samples in buf are raw
// 12-bit values. A paused scan on the same pin and buffer is resumed.
func (c *Controller) ScanStart(pin hal.PinName, buf []uint32, done func()) error {
	switch {
	case pin < 0:
		return errcode.InvalidPin
	case len(buf) == 0:
		return errcode.InvalidParams
	case done == nil:
		return errcode.NilCallback
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var s *session
	switch st := c.st.(type) {
	case scanState:
		s = st.s
	case singleState:
		s = st.parked
	}
	if s != nil && s.matches(pin, buf) {
		s.cb.Store(&done)
		if s.paused {
			s.ch.Resume()
			s.paused = false
			c.stats.ScanResumes++
			c.log.Debug("scan resumed", "pin", pin)
		}
		c.st = scanState{s: s}
		return nil
	}
	return c.startScanLocked(pin, buf, done, nil)
}

// startScanLocked tears everything down and starts a fresh session,
// reusing ch when given.
func (c *Controller) startScanLocked(pin hal.PinName, buf []uint32, done func(), ch hal.DMAChannel) error {
	if ch == nil {
		c.teardownLocked()
	} else {
		ch.Stop()
		c.adc.Reset()
		c.st = uninitState{}
	}
	if err := c.adc.InitScan(pin, c.ref); err != nil {
		if ch != nil {
			ch.Free()
		}
		return errcode.Wrap(errcode.Error, "adc.init_scan", err)
	}
	if ch == nil {
		var err error
		if ch, err = c.dma.Allocate(); err != nil {
			c.adc.Reset()
			c.log.Warn("no dma channel", "err", err)
			return errcode.Wrap(errcode.Unavailable, "adc.scan_start", err)
		}
	}
	s := &session{pin: pin, buf: buf, ch: ch}
	s.cb.Store(&done)
	if err := ch.StartLinked(buf, s.done); err != nil {
		ch.Free()
		c.adc.Reset()
		return errcode.Wrap(errcode.Error, "adc.scan_start", err)
	}
	c.stats.ScanInits++
	c.st = scanState{s: s}
	c.log.Debug("scan started", "pin", pin, "words", len(buf), "ref", c.ref)
	return nil
}

// ScanStop pauses the scan, keeping its channel for a cheap resume.
func (c *Controller) ScanStop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.st.(scanState)
	if !ok {
		return errcode.NotInitialized
	}
	if !st.s.paused {
		st.s.ch.Pause()
		st.s.paused = true
	}
	return nil
}

// Deinit stops and frees any DMA channel and resets the converter.
func (c *Controller) Deinit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.st.(uninitState); ok {
		return
	}
	c.teardownLocked()
	c.log.Debug("deinit")
}

func (c *Controller) teardownLocked() {
	switch st := c.st.(type) {
	case scanState:
		st.s.release()
	case singleState:
		if st.parked != nil {
			st.parked.release()
		}
	}
	c.adc.Reset()
	c.st = uninitState{}
}

// SetReference changes the voltage reference, reinitialising the current
// mode. A parked scan is discarded since it was set up for the old
// reference.
func (c *Controller) SetReference(r hal.ADCReference) error {
	if !r.Valid() {
		return errcode.InvalidParams
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if r == c.ref {
		return nil
	}
	c.ref = r
	return c.reinitLocked()
}

// SetReadResolution sets how many of the 12 sample bits Sample returns,
// reinitialising the current mode.
func (c *Controller) SetReadResolution(bits uint8) error {
	if !mathx.Between(bits, 1, SampleBits) {
		return errcode.InvalidParams
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if bits == c.res {
		return nil
	}
	c.res = bits
	return c.reinitLocked()
}

func (c *Controller) reinitLocked() error {
	switch st := c.st.(type) {
	case singleState:
		if st.parked != nil {
			st.parked.release()
		}
		c.adc.Reset()
		return c.initSingleLocked(st.pin, nil)
	case scanState:
		s := st.s
		fn := s.cb.Load()
		if err := c.startScanLocked(s.pin, s.buf, *fn, s.ch); err != nil {
			return err
		}
		if s.paused {
			next := c.st.(scanState).s
			next.ch.Pause()
			next.paused = true
		}
	}
	return nil
}
