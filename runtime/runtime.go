// Package runtime is the composition root: it owns one instance of every
// peripheral service, runs the sketch loop and exposes the Arduino-style
// facade over them.
package runtime

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"periphcore/config"
	"periphcore/hal"
	"periphcore/services/adc"
	"periphcore/services/ezble"
	"periphcore/services/interrupt"
	"periphcore/services/pulse"
	"periphcore/services/pwm"
	"periphcore/services/serial"
	spibus "periphcore/services/spi"
	"periphcore/services/watchdog"
	"periphcore/services/wire"
	"periphcore/x/timex"
)

// Peripherals are the hardware collaborators. Any may be nil; the
// matching service is then not built.
type Peripherals struct {
	UARTs       map[string]hal.UART // keyed by serial id
	I2C         hal.I2CBus
	I2CFollower hal.I2CFollower
	SPI         map[string]hal.SPIBus // keyed by spi id
	Interrupts  hal.GPIOInterruptController
	Digital     hal.DigitalReader
	ADC         hal.ADC
	DMA         hal.DMA
	PWM         hal.PWMTimer
	Power       hal.PowerManager
	BLE         hal.BLEStack
	Watchdog    hal.WatchdogTimer
	Clock       timex.Clock
}

const bleEventQueue = 32

type Option func(*Core)

func WithLogger(l *slog.Logger) Option {
	return func(c *Core) {
		if l != nil {
			c.log = l
		}
	}
}

// WithEscapeHatch registers a check run before Setup. When it returns
// true the sketch is not started and Run idles until its context ends,
// keeping the board reachable.
func WithEscapeHatch(fn func(c *Core) bool) Option {
	return func(c *Core) { c.escape = fn }
}

// Core owns every service for one board.
type Core struct {
	cfg    *config.Config
	log    *slog.Logger
	pins   *config.PinMap
	clock  timex.Clock
	escape func(*Core) bool

	serials  []*serial.Port
	serialBy map[string]*serial.Port
	spis     map[string]*spibus.Bus

	Wire       *wire.Bus
	Interrupts *interrupt.Dispatcher
	ADC        *adc.Controller
	PWM        *pwm.Allocator
	BLE        *ezble.Transport
	Watchdog   *watchdog.Watchdog
	Pulse      *pulse.Meter

	ready     atomic.Bool
	bleEvents chan hal.BLEEvent

	mu    sync.Mutex
	tones map[hal.PinName]time.Duration // pin -> stop time
}

// New builds every service the configuration and peripherals allow and
// marks the system ready.
func New(cfg *config.Config, p Peripherals, opts ...Option) (*Core, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pins, err := cfg.PinMap()
	if err != nil {
		return nil, err
	}
	c := &Core{
		cfg:       cfg,
		log:       slog.New(slog.DiscardHandler),
		pins:      pins,
		clock:     p.Clock,
		serialBy:  map[string]*serial.Port{},
		spis:      map[string]*spibus.Bus{},
		bleEvents: make(chan hal.BLEEvent, bleEventQueue),
		tones:     map[hal.PinName]time.Duration{},
	}
	for _, o := range opts {
		o(c)
	}
	if c.clock == nil {
		c.clock = timex.NewSystem()
	}

	c.buildTransports(p)
	if err := c.buildAnalog(p); err != nil {
		return nil, err
	}
	if p.Interrupts != nil {
		c.Interrupts = interrupt.New(p.Interrupts, pins,
			interrupt.WithLogger(c.log), interrupt.WithReady(c.SystemReady))
	}
	if p.Digital != nil {
		c.Pulse = pulse.New(p.Digital, c.clock)
	}
	if p.Watchdog != nil {
		c.Watchdog = watchdog.New(p.Watchdog,
			watchdog.WithLogger(c.log),
			watchdog.WithTimeout(cfg.Watchdog.Timeout),
			watchdog.WithOffWhileSleeping(cfg.Watchdog.OffWhileSleeping))
	}
	if err := c.buildBLE(p); err != nil {
		return nil, err
	}

	c.ready.Store(true)
	c.log.Info("core ready", "board", cfg.Board, "serials", len(c.serials), "spi", len(c.spis))
	return c, nil
}

func (c *Core) buildTransports(p Peripherals) {
	for _, sc := range c.cfg.Serial {
		hw := p.UARTs[sc.ID]
		if hw == nil {
			continue
		}
		port := serial.New(sc.ID, hw, serial.WithLogger(c.log), serial.WithRxBuffer(sc.RxBuffer))
		c.serials = append(c.serials, port)
		c.serialBy[sc.ID] = port
	}
	if p.I2C != nil {
		w := c.cfg.Wire
		c.Wire = wire.New(p.I2C, p.I2CFollower,
			wire.WithLogger(c.log),
			wire.WithClock(physic.Frequency(w.ClockHz)*physic.Hertz),
			wire.WithTimeout(w.Timeout, w.ResetOnTimeout),
			wire.WithFollowerBuffer(w.FollowerRxBuffer))
	}
	for _, sc := range c.cfg.SPI {
		hw := p.SPI[sc.ID]
		if hw == nil {
			continue
		}
		c.spis[sc.ID] = spibus.New(hw, spibus.WithLogger(c.log), spibus.WithSettings(spibus.Settings{
			Clock:    physic.Frequency(sc.ClockHz) * physic.Hertz,
			Mode:     spi.Mode(sc.Mode),
			LSBFirst: sc.LSBFirst,
		}))
	}
}

func (c *Core) buildAnalog(p Peripherals) error {
	if p.ADC != nil && p.DMA != nil {
		ref, err := hal.ParseADCReference(c.cfg.ADC.Reference)
		if err != nil {
			return err
		}
		c.ADC = adc.New(p.ADC, p.DMA, c.clock,
			adc.WithLogger(c.log),
			adc.WithReference(ref),
			adc.WithResolution(c.cfg.ADC.ReadResolution))
	}
	if p.PWM != nil {
		pc := c.cfg.PWM
		c.PWM = pwm.New(p.PWM, p.Power, c.pins, c.clock,
			pwm.WithLogger(c.log),
			pwm.WithChannels(pc.Channels),
			pwm.WithDutyFrequency(physic.Frequency(pc.DutyFrequencyHz)*physic.Hertz),
			pwm.WithStabilization(pc.Stabilization))
		if err := c.PWM.SetWriteResolution(pc.WriteResolution); err != nil {
			return fmt.Errorf("pwm: %w", err)
		}
		c.PWM.SetAutoDeinit(!pc.KeepZeroDuty)
	}
	return nil
}

func (c *Core) buildBLE(p Peripherals) error {
	if p.BLE == nil {
		return nil
	}
	bc := c.cfg.BLE
	c.BLE = ezble.New(p.BLE,
		ezble.WithLogger(c.log),
		ezble.WithTxBuffer(bc.TxBuffer),
		ezble.WithRxBuffer(bc.RxBuffer))
	if bc.Role == "" {
		return nil
	}
	role, err := ezble.ParseRole(bc.Role)
	if err != nil {
		return err
	}
	return c.BLE.Begin(role, bc.Name)
}

// SystemReady reports whether construction has completed.
func (c *Core) SystemReady() bool { return c.ready.Load() }

func (c *Core) Config() *config.Config { return c.cfg }

func (c *Core) Pins() hal.PinLookup { return c.pins }

func (c *Core) Clock() timex.Clock { return c.clock }

func (c *Core) Logger() *slog.Logger { return c.log }

// Serial returns the port with the given id, or nil.
func (c *Core) Serial(id string) *serial.Port { return c.serialBy[id] }

// BeginSerial opens a port at its configured baud rate.
func (c *Core) BeginSerial(id string) error {
	port := c.serialBy[id]
	if port == nil {
		return fmt.Errorf("runtime: no serial %q", id)
	}
	for _, sc := range c.cfg.Serial {
		if sc.ID == id {
			return port.Begin(sc.Baud)
		}
	}
	return nil
}

// SPI returns the bus with the given id, or nil.
func (c *Core) SPI(id string) *spibus.Bus { return c.spis[id] }
