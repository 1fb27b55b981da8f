// Package pulse measures the width of a single pulse on a digital pin by
// cooperative polling.
package pulse

import (
	"context"
	"time"

	"periphcore/errcode"
	"periphcore/hal"
	"periphcore/x/timex"
)

type Meter struct {
	pins  hal.DigitalReader
	clock timex.Clock
}

func New(pins hal.DigitalReader, clock timex.Clock) *Meter {
	return &Meter{pins: pins, clock: clock}
}

// Measure waits for pin to reach state, then times how long it stays
// there. timeout bounds the whole operation; on expiry it returns 0 and
// errcode.Timeout.
func (m *Meter) Measure(ctx context.Context, pin hal.PinName, state bool, timeout time.Duration) (time.Duration, error) {
	deadline := m.clock.Now() + timeout
	if err := m.wait(ctx, pin, state, deadline); err != nil {
		return 0, err
	}
	start := m.clock.Now()
	if err := m.wait(ctx, pin, !state, deadline); err != nil {
		return 0, err
	}
	return m.clock.Now() - start, nil
}

func (m *Meter) wait(ctx context.Context, pin hal.PinName, state bool, deadline time.Duration) error {
	for m.pins.DigitalRead(pin) != state {
		if m.clock.Now() > deadline {
			return errcode.Timeout
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		m.clock.Yield()
	}
	return nil
}
