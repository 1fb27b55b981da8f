// Command coredemo runs a small sketch against simulated peripherals,
// optionally with a real host serial device as the primary port.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"periphcore/config"
	"periphcore/hal"
	"periphcore/internal/platform"
	"periphcore/internal/sim"
	"periphcore/runtime"
	"periphcore/services/interrupt"
	"periphcore/x/timex"
)

func main() {
	cfgPath := flag.String("config", "coredemo.yaml", "configuration file")
	device := flag.String("device", "", "host serial device for the primary port")
	list := flag.Bool("list", false, "list host serial devices and exit")
	duration := flag.Duration("duration", 5*time.Second, "run time, 0 runs until interrupted")
	flag.Parse()

	if err := run(*cfgPath, *device, *list, *duration, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "coredemo:", err)
		os.Exit(1)
	}
}

func run(cfgPath, device string, list bool, duration time.Duration, out io.Writer) error {
	if list {
		ports, err := platform.ListPorts()
		if err != nil {
			return err
		}
		for _, p := range ports {
			fmt.Fprintln(out, p)
		}
		return nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if device != "" && len(cfg.Serial) > 0 {
		cfg.Serial[0].Device = device
	}
	log := newLogger(cfg.Log, out)

	board := newSimBoard(cfg)
	core, err := runtime.New(cfg, board.peripherals, runtime.WithLogger(log))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	err = core.Run(ctx, demoSketch(board, log))
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func newLogger(lc config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(lc.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// simBoard is the set of simulated collaborators the demo drives.
type simBoard struct {
	peripherals runtime.Peripherals
	gpio        *sim.GPIO
	adc         *sim.ADC
	ble         *sim.BLEStack
	uarts       map[string]*sim.UART
}

func newSimBoard(cfg *config.Config) *simBoard {
	b := &simBoard{
		gpio:  sim.NewGPIO(16),
		adc:   sim.NewADC(),
		ble:   sim.NewBLEStack(),
		uarts: map[string]*sim.UART{},
	}
	uarts := map[string]hal.UART{}
	for _, sc := range cfg.Serial {
		if sc.Device != "" {
			uarts[sc.ID] = platform.NewHostPort(sc.Device)
			continue
		}
		u := sim.NewUART()
		b.uarts[sc.ID] = u
		uarts[sc.ID] = u
	}
	spis := map[string]hal.SPIBus{}
	for _, sc := range cfg.SPI {
		spis[sc.ID] = &sim.SPIBus{}
	}
	b.peripherals = runtime.Peripherals{
		UARTs:       uarts,
		I2C:         sim.NewI2CBus(),
		I2CFollower: &sim.I2CFollower{},
		SPI:         spis,
		Interrupts:  b.gpio,
		Digital:     b.gpio,
		ADC:         b.adc,
		DMA:         &sim.DMA{Limit: 4},
		PWM:         sim.NewPWMTimer(),
		Power:       &sim.Power{},
		BLE:         b.ble,
		Watchdog:    sim.NewWatchdog(false),
		Clock:       timex.NewSystem(),
	}
	return b
}

const (
	buttonPin = 2
	sensorPin = 14
	ledPin    = 3
	period    = 500 * time.Millisecond
)

func demoSketch(b *simBoard, log *slog.Logger) runtime.Sketch {
	var (
		next    time.Duration
		level   uint16
		presses int
	)
	return runtime.Sketch{
		Setup: func(_ context.Context, c *runtime.Core) error {
			if err := c.BeginSerial("serial"); err != nil {
				return err
			}
			if c.Watchdog != nil {
				if err := c.Watchdog.Begin(); err != nil {
					return err
				}
			}
			c.AttachInterrupt(buttonPin, func() { presses++ }, interrupt.Falling)
			c.Serial("serial").Printf("coredemo on %s\r\n", c.Config().Board)
			if c.BLE != nil {
				c.PostBLEEvent(hal.BLEEvent{Kind: hal.BLEBoot})
			}
			return nil
		},
		Loop: func(_ context.Context, c *runtime.Core) {
			now := c.Clock().Now()
			if now < next {
				time.Sleep(time.Millisecond)
				return
			}
			next = now + period

			level = (level + 256) % 4096
			b.adc.SetLevel(c.Pins().PinName(sensorPin), level)
			b.gpio.Edge(c.Pins().PinName(buttonPin), level%1024 != 0)

			v := c.AnalogRead(sensorPin)
			c.AnalogWrite(ledPin, v*255/(1<<c.ADC.Resolution()-1))
			if c.Watchdog != nil {
				c.Watchdog.Feed()
			}
			ble := "off"
			if c.BLE != nil {
				ble = c.BLE.State().String()
			}
			log.Info("tick", "sensor", v, "presses", presses, "pwm_active", c.PWM.Active(), "ble", ble)
			c.Serial("serial").Printf("sensor=%d presses=%d\r\n", v, presses)
		},
	}
}
