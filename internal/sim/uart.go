package sim

import (
	"errors"
	"sync"

	"periphcore/hal"
)

var ErrClosed = errors.New("sim: port closed")

// UART is a serial port whose receive side is fed by Inject.
type UART struct {
	mu      sync.Mutex
	open    bool
	baud    uint32
	rx      []byte
	tx      []byte
	inits   int
	deinits int

	// AcceptLimit caps how many bytes one Write accepts (0 = unlimited).
	AcceptLimit int
}

var _ hal.UART = (*UART)(nil)

func NewUART() *UART { return &UART{} }

func (u *UART) Init(baud uint32) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.open = true
	u.baud = baud
	u.inits++
	return nil
}

func (u *UART) Deinit() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.open = false
	u.deinits++
	return nil
}

func (u *UART) SetBaudRate(baud uint32) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.baud = baud
	return nil
}

func (u *UART) Read(p []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.open {
		return 0, ErrClosed
	}
	n := copy(p, u.rx)
	u.rx = u.rx[n:]
	return n, nil
}

func (u *UART) Write(p []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.open {
		return 0, ErrClosed
	}
	n := len(p)
	if u.AcceptLimit > 0 && n > u.AcceptLimit {
		n = u.AcceptLimit
	}
	u.tx = append(u.tx, p[:n]...)
	return n, nil
}

// Inject makes p arrive on the wire.
func (u *UART) Inject(p []byte) {
	u.mu.Lock()
	u.rx = append(u.rx, p...)
	u.mu.Unlock()
}

// Written returns and clears everything transmitted so far.
func (u *UART) Written() []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := u.tx
	u.tx = nil
	return out
}

// Pending is the number of injected bytes not yet read by the core.
func (u *UART) Pending() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.rx)
}

func (u *UART) Baud() uint32 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.baud
}

// Counts returns how often Init and Deinit ran.
func (u *UART) Counts() (inits, deinits int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.inits, u.deinits
}
