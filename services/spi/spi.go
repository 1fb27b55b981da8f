// Package spi is the SPI transport driver. Transfers are serialised by a
// bus lock; BeginTransaction additionally reserves the bus for one caller
// until EndTransaction.
package spi

import (
	"log/slog"
	"sync"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"periphcore/errcode"
	"periphcore/hal"
)

// MaxChunk is the largest single transfer handed to the peripheral.
const MaxChunk = 2048

// Settings is the per-transaction bus configuration.
type Settings struct {
	Clock    physic.Frequency
	Mode     spi.Mode // Mode0..Mode3
	LSBFirst bool
}

var DefaultSettings = Settings{Clock: physic.MegaHertz, Mode: spi.Mode0}

func (s Settings) config() hal.SPIConfig {
	m := s.Mode &^ spi.LSBFirst
	if s.LSBFirst {
		m |= spi.LSBFirst
	}
	return hal.SPIConfig{Clock: s.Clock, Mode: m}
}

type Option func(*Bus)

func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.log = l
		}
	}
}

// WithSettings sets the configuration applied by Begin.
func WithSettings(s Settings) Option {
	return func(b *Bus) { b.settings = s }
}

type Bus struct {
	hw  hal.SPIBus
	log *slog.Logger

	txn sync.Mutex // BeginTransaction..EndTransaction

	mu          sync.Mutex // hardware access
	initialized bool
	inTxn       bool
	settings    Settings
}

func New(hw hal.SPIBus, opts ...Option) *Bus {
	b := &Bus{hw: hw, log: slog.New(slog.DiscardHandler), settings: DefaultSettings}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Begin enables the bus. A second Begin is a no-op.
func (b *Bus) Begin() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initialized {
		return nil
	}
	if err := b.hw.Configure(b.settings.config()); err != nil {
		return errcode.Wrap(errcode.Error, "spi.begin", err)
	}
	b.initialized = true
	b.log.Debug("begin", "clock", b.settings.Clock, "mode", b.settings.Mode)
	return nil
}

// End disables the bus. No-op when not begun.
func (b *Bus) End() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return nil
	}
	b.initialized = false
	if b.inTxn {
		b.inTxn = false
		b.txn.Unlock()
	}
	if err := b.hw.Deinit(); err != nil {
		return errcode.Wrap(errcode.Error, "spi.end", err)
	}
	return nil
}

// BeginTransaction reserves the bus, blocking while another caller holds
// it, and reconfigures the peripheral only when s differs from the
// settings in force.
func (b *Bus) BeginTransaction(s Settings) error {
	if !b.Initialized() {
		return errcode.NotInitialized
	}
	b.txn.Lock()
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		b.txn.Unlock()
		return errcode.NotInitialized
	}
	b.inTxn = true
	if s == b.settings {
		return nil
	}
	if err := b.hw.Configure(s.config()); err != nil {
		b.inTxn = false
		b.txn.Unlock()
		return errcode.Wrap(errcode.InvalidParams, "spi.begin_transaction", err)
	}
	b.settings = s
	return nil
}

func (b *Bus) EndTransaction() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.inTxn {
		return
	}
	b.inTxn = false
	b.txn.Unlock()
}

func (b *Bus) Initialized() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initialized
}

func (b *Bus) Settings() Settings {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.settings
}

// CurrentBusSpeed is the clock the peripheral actually runs at, 0 when
// the bus is off.
func (b *Bus) CurrentBusSpeed() physic.Frequency {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return 0
	}
	return b.hw.BusSpeed()
}
