// Package serial is the HardwareSerial transport driver: a UART behind a
// mutex, with a receive ring that the cooperative pump (Task) fills from
// the port in non-blocking reads.
package serial

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"periphcore/errcode"
	"periphcore/hal"
	"periphcore/x/ring"
)

const (
	DefaultRxBuffer = 128
	pumpChunk       = 64
	printfBuffer    = 128
)

type Option func(*Port)

func WithLogger(l *slog.Logger) Option {
	return func(p *Port) {
		if l != nil {
			p.log = l
		}
	}
}

// WithRxBuffer sets the receive ring size in slots (n-1 usable).
func WithRxBuffer(n int) Option {
	return func(p *Port) {
		if n > 1 {
			p.rxSize = n
		}
	}
}

// Port is one serial instance. Begin/End may be called repeatedly.
type Port struct {
	name   string
	hw     hal.UART
	log    *slog.Logger
	rxSize int

	mu          sync.Mutex
	rx          *ring.Buffer
	initialized bool
	baud        uint32
	scratch     [pumpChunk]byte

	onEvent atomic.Pointer[func()]
}

func New(name string, hw hal.UART, opts ...Option) *Port {
	p := &Port{
		name:   name,
		hw:     hw,
		log:    slog.New(slog.DiscardHandler),
		rxSize: DefaultRxBuffer,
	}
	for _, o := range opts {
		o(p)
	}
	p.rx = ring.New(p.rxSize)
	p.log = p.log.With("serial", name)
	return p
}

func (p *Port) Name() string { return p.name }

// Begin initialises the port at baud. A second Begin is a no-op.
func (p *Port) Begin(baud uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return nil
	}
	if err := p.hw.Init(baud); err != nil {
		return errcode.Wrap(errcode.Error, "serial.begin", err)
	}
	if err := p.hw.SetBaudRate(baud); err != nil {
		_ = p.hw.Deinit()
		return errcode.Wrap(errcode.InvalidParams, "serial.begin", err)
	}
	p.baud = baud
	p.initialized = true
	p.log.Debug("begin", "baud", baud)
	return nil
}

// End releases the port and drops buffered input. No-op when not begun.
func (p *Port) End() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return nil
	}
	p.initialized = false
	p.rx.Clear()
	p.log.Debug("end")
	if err := p.hw.Deinit(); err != nil {
		return errcode.Wrap(errcode.Error, "serial.end", err)
	}
	return nil
}

func (p *Port) Initialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialized
}

func (p *Port) Baud() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.baud
}

// Task moves up to one chunk from the port into the receive ring.
// Bytes that do not fit are dropped.
func (p *Port) Task() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pumpLocked()
}

func (p *Port) pumpLocked() {
	if !p.initialized {
		return
	}
	n, err := p.hw.Read(p.scratch[:])
	if err != nil {
		p.log.Warn("read failed", "err", err)
	}
	if n <= 0 {
		return
	}
	if stored := p.rx.Write(p.scratch[:n]); stored < n {
		p.log.Debug("rx overflow", "dropped", n-stored)
	}
}

// Available pumps, then reports buffered bytes.
func (p *Port) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pumpLocked()
	return p.rx.Available()
}

// Read pumps, then returns the next byte or ring.Empty.
func (p *Port) Read() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pumpLocked()
	return p.rx.ReadChar()
}

// Peek returns the next buffered byte without pumping or consuming.
func (p *Port) Peek() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rx.Peek()
}

// Write sends b directly; there is no transmit ring.
func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return 0, errcode.NotInitialized
	}
	n, err := p.hw.Write(b)
	if err != nil {
		return n, errcode.Wrap(errcode.Error, "serial.write", err)
	}
	if n < len(b) {
		return n, errcode.BufferFull
	}
	return n, nil
}

func (p *Port) WriteByte(c byte) error {
	_, err := p.Write([]byte{c})
	return err
}

func (p *Port) WriteString(s string) (int, error) { return p.Write([]byte(s)) }

// Printf formats into a fixed buffer, truncating long output, and writes it.
func (p *Port) Printf(format string, args ...any) (int, error) {
	var buf [printfBuffer]byte
	out := fmt.Appendf(buf[:0], format, args...)
	if len(out) > printfBuffer-1 {
		out = out[:printfBuffer-1]
	}
	return p.Write(out)
}

// Flush is a no-op: writes complete before returning.
func (p *Port) Flush() {}

// OnEvent registers the handler HandleEvent runs when input is waiting.
// nil removes it.
func (p *Port) OnEvent(fn func()) {
	if fn == nil {
		p.onEvent.Store(nil)
		return
	}
	p.onEvent.Store(&fn)
}

// HandleEvent runs the registered handler if input is available. The
// handler runs without the port lock held.
func (p *Port) HandleEvent() {
	fn := p.onEvent.Load()
	if fn == nil || p.Available() == 0 {
		return
	}
	(*fn)()
}
