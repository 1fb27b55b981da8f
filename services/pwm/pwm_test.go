package pwm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	"periphcore/config"
	"periphcore/errcode"
	"periphcore/hal"
	"periphcore/internal/sim"
	"periphcore/x/timex"
)

type rig struct {
	a     *Allocator
	timer *sim.PWMTimer
	power *sim.Power
	pins  *config.PinMap
	clock *timex.StepClock
}

func newRig(t *testing.T, opts ...Option) rig {
	t.Helper()
	pm, err := config.Default().PinMap()
	require.NoError(t, err)
	r := rig{timer: sim.NewPWMTimer(), power: &sim.Power{}, pins: pm, clock: timex.NewStepClock(100 * time.Microsecond)}
	r.a = New(r.timer, r.power, pm, r.clock, opts...)
	return r
}

func (r rig) pin(n int) hal.PinName { return r.pins.PinName(n) }

func TestDutyCycle(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	require.NoError(t, r.a.DutyCycle(ctx, r.pin(3), 127))

	ch, ok := r.timer.Channel(0)
	require.True(t, ok)
	assert.True(t, ch.Running)
	assert.Equal(t, uint8(49), ch.Duty)
	assert.Equal(t, physic.KiloHertz, ch.Freq)
	assert.Equal(t, hal.PortC, ch.Port)
	assert.Equal(t, uint8(3), ch.Pin)
	assert.Equal(t, 1, r.power.Held())

	d, ok := r.a.Duty(r.pin(3))
	require.True(t, ok)
	assert.Equal(t, uint8(49), d)
}

func TestDutyUnchangedSkipsUpdate(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	require.NoError(t, r.a.DutyCycle(ctx, r.pin(1), 255))
	require.NoError(t, r.a.DutyCycle(ctx, r.pin(1), 255))
	assert.Equal(t, 1, r.timer.Updates)
}

func TestStabilizationDelay(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	require.NoError(t, r.a.DutyCycle(ctx, r.pin(1), 10))
	start := r.clock.Now()
	require.NoError(t, r.a.DutyCycle(ctx, r.pin(1), 200))
	assert.GreaterOrEqual(t, r.clock.Now()-start, DefaultStabilization)
}

// yieldHook runs fn on the first Yield.
type yieldHook struct {
	*timex.StepClock
	fn func()
}

func (c *yieldHook) Yield() {
	if fn := c.fn; fn != nil {
		c.fn = nil
		fn()
	}
	c.StepClock.Yield()
}

func TestResolutionChangeDuringStabilization(t *testing.T) {
	r := newRig(t)
	clock := &yieldHook{StepClock: r.clock}
	a := New(r.timer, r.power, r.pins, clock)
	ctx := context.Background()
	require.NoError(t, a.DutyCycle(ctx, r.pin(1), 10))

	clock.fn = func() { require.NoError(t, a.SetWriteResolution(4)) }
	require.NoError(t, a.DutyCycle(ctx, r.pin(1), 255))

	ch, ok := r.timer.Channel(0)
	require.True(t, ok)
	assert.Equal(t, uint8(100), ch.Duty)
	assert.Equal(t, uint8(4), a.WriteResolution())
}

func TestStabilizationCancelled(t *testing.T) {
	r := newRig(t, WithStabilization(time.Hour))
	require.NoError(t, r.a.DutyCycle(context.Background(), r.pin(1), 10))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.a.DutyCycle(ctx, r.pin(1), 20)
	assert.Equal(t, errcode.NotReady, errcode.Of(err))
}

func TestPoolExhaustedKeepsOthers(t *testing.T) {
	r := newRig(t, WithStabilization(0))
	ctx := context.Background()
	for i, v := range []int{50, 100, 150} {
		require.NoError(t, r.a.DutyCycle(ctx, r.pin(i), v))
	}
	err := r.a.DutyCycle(ctx, r.pin(5), 200)
	assert.ErrorIs(t, err, errcode.PoolExhausted)
	assert.Equal(t, 3, r.a.Active())

	for i, want := range []uint8{19, 39, 58} {
		ch, ok := r.timer.Channel(i)
		require.True(t, ok)
		assert.True(t, ch.Running)
		assert.Equal(t, want, ch.Duty)
	}
}

func TestZeroDutyAutoDeinit(t *testing.T) {
	r := newRig(t, WithStabilization(0))
	ctx := context.Background()
	require.NoError(t, r.a.DutyCycle(ctx, r.pin(1), 100))
	require.NoError(t, r.a.DutyCycle(ctx, r.pin(1), 0))
	assert.Zero(t, r.a.Active())
	assert.Equal(t, 1, r.timer.Deinits)
	assert.Zero(t, r.power.Held())

	r.a.SetAutoDeinit(false)
	require.NoError(t, r.a.DutyCycle(ctx, r.pin(1), 0))
	assert.Equal(t, 1, r.a.Active())
	ch, _ := r.timer.Channel(0)
	assert.Zero(t, ch.Duty)
}

func TestLastChannelOutDeinits(t *testing.T) {
	r := newRig(t, WithStabilization(0))
	ctx := context.Background()
	require.NoError(t, r.a.DutyCycle(ctx, r.pin(1), 100))
	require.NoError(t, r.a.DutyCycle(ctx, r.pin(2), 100))
	assert.Equal(t, 1, r.power.Held(), "held once for the pool")

	require.NoError(t, r.a.Stop(r.pin(1)))
	assert.Zero(t, r.timer.Deinits)
	require.NoError(t, r.a.Stop(r.pin(2)))
	assert.Equal(t, 1, r.timer.Deinits)
	assert.Zero(t, r.power.Held())

	assert.ErrorIs(t, r.a.Stop(r.pin(2)), errcode.NotFound)
}

func TestModeSwitchTearsDown(t *testing.T) {
	r := newRig(t, WithStabilization(0))
	ctx := context.Background()
	require.NoError(t, r.a.DutyCycle(ctx, r.pin(1), 100))
	require.NoError(t, r.a.DutyCycle(ctx, r.pin(2), 100))

	require.NoError(t, r.a.Frequency(r.pin(4), 440*physic.Hertz))
	assert.Equal(t, Frequency, r.a.Mode())
	assert.Equal(t, 1, r.a.Active())
	ch, ok := r.timer.Channel(0)
	require.True(t, ok)
	assert.Equal(t, 440*physic.Hertz, ch.Freq)
	assert.Equal(t, uint8(50), ch.Duty)
	assert.Equal(t, uint8(4), ch.Pin)

	require.NoError(t, r.a.DutyCycle(ctx, r.pin(1), 100))
	assert.Equal(t, DutyCycle, r.a.Mode())
	assert.Equal(t, 1, r.a.Active())
}

func TestFrequencyRestartsPin(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.a.Frequency(r.pin(4), 440*physic.Hertz))
	require.NoError(t, r.a.Frequency(r.pin(4), 880*physic.Hertz))
	assert.Equal(t, 1, r.a.Active())
	ch, _ := r.timer.Channel(0)
	assert.Equal(t, 880*physic.Hertz, ch.Freq)

	require.NoError(t, r.a.NoTone(r.pin(4)))
	assert.Zero(t, r.a.Active())
}

func TestTone(t *testing.T) {
	r := newRig(t)
	start := r.clock.Now()
	require.NoError(t, r.a.Tone(context.Background(), r.pin(4), 1000*physic.Hertz, 5*time.Millisecond))
	assert.GreaterOrEqual(t, r.clock.Now()-start, 5*time.Millisecond)
	assert.Zero(t, r.a.Active())

	require.NoError(t, r.a.Tone(context.Background(), r.pin(4), 1000*physic.Hertz, 0))
	assert.Equal(t, 1, r.a.Active(), "zero duration keeps playing")
}

func TestWriteResolution(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.a.SetWriteResolution(12))
	assert.ErrorIs(t, r.a.DutyCycle(context.Background(), r.pin(1), 4096), errcode.InvalidParams)
	require.NoError(t, r.a.DutyCycle(context.Background(), r.pin(1), 4095))
	ch, _ := r.timer.Channel(0)
	assert.Equal(t, uint8(100), ch.Duty)

	assert.ErrorIs(t, r.a.SetWriteResolution(0), errcode.InvalidParams)
	assert.ErrorIs(t, r.a.SetWriteResolution(13), errcode.InvalidParams)
	assert.Equal(t, uint8(12), r.a.WriteResolution())
}

func TestInvalidInput(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	assert.ErrorIs(t, r.a.DutyCycle(ctx, hal.NotConnected, 1), errcode.InvalidPin)
	assert.ErrorIs(t, r.a.DutyCycle(ctx, r.pin(1), -1), errcode.InvalidParams)
	assert.ErrorIs(t, r.a.DutyCycle(ctx, r.pin(1), 256), errcode.InvalidParams)
	assert.ErrorIs(t, r.a.Frequency(hal.PinName(99), physic.Hertz), errcode.InvalidPin)
	assert.Zero(t, r.a.Active())
}
