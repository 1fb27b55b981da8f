package runtime

import (
	"context"
	"math"
	"time"

	"periph.io/x/conn/v3/physic"

	"periphcore/errcode"
	"periphcore/hal"
	"periphcore/services/interrupt"
	"periphcore/x/mathx"
)

// The facade mirrors the Arduino core: pins are board numbers and
// failures are logged and dropped.

func (c *Core) drop(op string, err error) {
	if err != nil {
		c.log.Debug("call ignored", "op", op, "code", errcode.Of(err), "err", err)
	}
}

func (c *Core) pin(n int) (hal.PinName, bool) {
	p := c.pins.PinName(n)
	return p, p != hal.NotConnected
}

// AnalogRead samples pin at the current read resolution, or returns 0.
func (c *Core) AnalogRead(n int) int {
	p, ok := c.pin(n)
	if !ok || c.ADC == nil {
		return 0
	}
	v, err := c.ADC.Sample(context.Background(), p)
	if err != nil {
		c.drop("analog_read", err)
		return 0
	}
	return int(v)
}

func (c *Core) AnalogReference(ref hal.ADCReference) {
	if c.ADC != nil {
		c.drop("analog_reference", c.ADC.SetReference(ref))
	}
}

func (c *Core) AnalogReadResolution(bits int) {
	if c.ADC != nil && bits > 0 && bits <= 0xFF {
		c.drop("analog_read_resolution", c.ADC.SetReadResolution(uint8(bits)))
	}
}

// AnalogReadDMA starts continuous sampling of pin into buf, calling done
// from interrupt context each time buf is filled.
func (c *Core) AnalogReadDMA(n int, buf []uint32, done func()) {
	p, ok := c.pin(n)
	if !ok || c.ADC == nil {
		return
	}
	c.drop("analog_read_dma", c.ADC.ScanStart(p, buf, done))
}

func (c *Core) AnalogWrite(n int, value int) {
	p, ok := c.pin(n)
	if !ok || c.PWM == nil {
		return
	}
	c.drop("analog_write", c.PWM.DutyCycle(context.Background(), p, value))
}

func (c *Core) AnalogWriteResolution(bits int) {
	if c.PWM != nil && bits > 0 && bits <= 0xFF {
		c.drop("analog_write_resolution", c.PWM.SetWriteResolution(uint8(bits)))
	}
}

// Tone starts a square wave on pin. A non-zero d stops it from the run
// loop once d has elapsed.
func (c *Core) Tone(n int, hz uint32, d time.Duration) {
	p, ok := c.pin(n)
	if !ok || c.PWM == nil {
		return
	}
	if err := c.PWM.Frequency(p, physic.Frequency(hz)*physic.Hertz); err != nil {
		c.drop("tone", err)
		return
	}
	c.mu.Lock()
	if d > 0 && hz > 0 {
		c.tones[p] = c.clock.Now() + d
	} else {
		delete(c.tones, p)
	}
	c.mu.Unlock()
}

func (c *Core) NoTone(n int) {
	p, ok := c.pin(n)
	if !ok || c.PWM == nil {
		return
	}
	c.mu.Lock()
	delete(c.tones, p)
	c.mu.Unlock()
	c.drop("no_tone", c.PWM.NoTone(p))
}

func (c *Core) AttachInterrupt(n int, fn func(), mode interrupt.Mode) {
	if c.Interrupts != nil {
		c.drop("attach_interrupt", c.Interrupts.AttachNumber(n, fn, mode))
	}
}

func (c *Core) DetachInterrupt(n int) {
	if c.Interrupts != nil {
		c.drop("detach_interrupt", c.Interrupts.DetachNumber(n))
	}
}

// PulseIn returns the length in microseconds of a pulse at state on pin,
// or 0 if none completes within timeout.
func (c *Core) PulseIn(n int, state bool, timeout time.Duration) uint32 {
	p, ok := c.pin(n)
	if !ok || c.Pulse == nil {
		return 0
	}
	d, err := c.Pulse.Measure(context.Background(), p, state, timeout)
	if err != nil {
		c.drop("pulse_in", err)
		return 0
	}
	return uint32(mathx.Clamp(d/time.Microsecond, 0, math.MaxUint32))
}
