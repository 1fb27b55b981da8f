package runtime

import (
	"context"

	"periphcore/hal"
)

// Sketch is the user program: Setup runs once, Loop forever.
type Sketch struct {
	Setup func(ctx context.Context, c *Core) error
	Loop  func(ctx context.Context, c *Core)
}

// Run executes the sketch until ctx ends. Between loop iterations it
// delivers queued BLE events, runs serial event hooks, stops expired
// tones and yields.
func (c *Core) Run(ctx context.Context, sk Sketch) error {
	if c.escape != nil && c.escape(c) {
		c.log.Warn("escape hatch engaged, sketch not started")
		<-ctx.Done()
		return ctx.Err()
	}
	if sk.Setup != nil {
		if err := sk.Setup(ctx, c); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			c.log.Info("core stopped", "reason", ctx.Err())
			return ctx.Err()
		default:
		}
		c.dispatchBLE()
		if sk.Loop != nil {
			sk.Loop(ctx, c)
		}
		c.serialEvents()
		c.expireTones()
		c.clock.Yield()
	}
}

// PostBLEEvent queues a stack event for delivery from the run loop. It
// reports false when the queue is full.
func (c *Core) PostBLEEvent(ev hal.BLEEvent) bool {
	select {
	case c.bleEvents <- ev:
		return true
	default:
		c.log.Warn("ble event dropped", "kind", ev.Kind)
		return false
	}
}

func (c *Core) dispatchBLE() {
	for {
		select {
		case ev := <-c.bleEvents:
			if c.BLE != nil {
				c.BLE.HandleEvent(ev)
			}
		default:
			return
		}
	}
}

func (c *Core) serialEvents() {
	for _, p := range c.serials {
		p.Task()
		p.HandleEvent()
	}
}

func (c *Core) expireTones() {
	if c.PWM == nil {
		return
	}
	now := c.clock.Now()
	var due []hal.PinName
	c.mu.Lock()
	for pin, stop := range c.tones {
		if now >= stop {
			due = append(due, pin)
			delete(c.tones, pin)
		}
	}
	c.mu.Unlock()
	for _, pin := range due {
		c.drop("tone_expire", c.PWM.NoTone(pin))
	}
}
