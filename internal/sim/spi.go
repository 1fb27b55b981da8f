package sim

import (
	"sync"

	"periph.io/x/conn/v3/physic"

	"periphcore/hal"
)

// SPIBus is a loopback bus: whatever is clocked out is clocked back in,
// or 0xFF when nothing is written.
type SPIBus struct {
	mu       sync.Mutex
	cfg      hal.SPIConfig
	configs  int
	deinits  int
	chunks   []int // sizes of every Tx/StartTx call
	dmaCalls int
	sent     []byte
}

var _ hal.SPIBus = (*SPIBus)(nil)

func (b *SPIBus) Configure(cfg hal.SPIConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg = cfg
	b.configs++
	return nil
}

func (b *SPIBus) Deinit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deinits++
	return nil
}

func (b *SPIBus) Transfer(w byte) (byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, w)
	return w, nil
}

func (b *SPIBus) Tx(w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loop(w, r)
	return nil
}

func (b *SPIBus) loop(w, r []byte) {
	b.chunks = append(b.chunks, max(len(w), len(r)))
	b.sent = append(b.sent, w...)
	for i := range r {
		if i < len(w) {
			r[i] = w[i]
		} else {
			r[i] = 0xFF
		}
	}
}

// StartTx completes asynchronously on another goroutine, like a DMA
// completion interrupt.
func (b *SPIBus) StartTx(w, r []byte, done func(error)) error {
	b.mu.Lock()
	b.dmaCalls++
	b.mu.Unlock()
	go func() {
		b.mu.Lock()
		b.loop(w, r)
		b.mu.Unlock()
		done(nil)
	}()
	return nil
}

// BusSpeed rounds the requested clock down to a whole kHz.
func (b *SPIBus) BusSpeed() physic.Frequency {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg.Clock / physic.KiloHertz * physic.KiloHertz
}

func (b *SPIBus) Config() hal.SPIConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

// Counts returns how often Configure and Deinit ran.
func (b *SPIBus) Counts() (configs, deinits int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.configs, b.deinits
}

// Chunks returns the size of every transfer handed to the bus.
func (b *SPIBus) Chunks() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.chunks...)
}

func (b *SPIBus) DMACalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dmaCalls
}

// Sent returns and clears the bytes clocked out so far.
func (b *SPIBus) Sent() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.sent
	b.sent = nil
	return out
}
