// Package wire is the TwoWire driver: an I²C leader with a fixed transmit
// and receive buffer, or a follower fed from interrupt context.
package wire

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3/physic"

	"periphcore/errcode"
	"periphcore/hal"
	"periphcore/x/ring"
)

const (
	BufferSize = 64

	DefaultClock = 100 * physic.KiloHertz
)

// Role is what Begin or BeginFollower made of the bus.
type Role uint8

const (
	RoleNone Role = iota
	RoleLeader
	RoleFollower
)

func (r Role) String() string {
	switch r {
	case RoleLeader:
		return "leader"
	case RoleFollower:
		return "follower"
	}
	return "none"
}

type Option func(*Bus)

func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.log = l
		}
	}
}

func WithClock(f physic.Frequency) Option {
	return func(b *Bus) {
		if f > 0 {
			b.clock = f
		}
	}
}

// WithTimeout sets the transfer timeout applied on Begin when the bus
// supports one, and whether a timeout resets the peripheral.
func WithTimeout(d time.Duration, resetOnTimeout bool) Option {
	return func(b *Bus) {
		b.timeout = d
		b.resetOnTimeout = resetOnTimeout
	}
}

// WithFollowerBuffer sizes the follower receive queue in slots.
func WithFollowerBuffer(n int) Option {
	return func(b *Bus) {
		if n > 1 {
			b.frxSize = n
		}
	}
}

// Bus is one I²C instance.
type Bus struct {
	hw       hal.I2CBus
	follower hal.I2CFollower
	log      *slog.Logger
	frxSize  int

	// txn is held from BeginTransmission until EndTransmission, and for
	// the duration of RequestFrom.
	txn sync.Mutex

	mu             sync.Mutex
	role           Role
	clock          physic.Frequency
	timeout        time.Duration
	resetOnTimeout bool
	timeoutFlag    bool
	addr           uint16
	inTx           bool
	tx             [BufferSize]byte
	txLen          int
	txOverflow     bool
	rx             [BufferSize]byte
	rxLen, rxPos   int

	frx          *ring.SPSC
	followerBusy atomic.Bool
	followerAddr uint8
	onReceive    atomic.Pointer[func(int)]
	onRequest    atomic.Pointer[func()]
}

// New wraps a leader bus and, optionally, the follower side of the same
// peripheral (nil when follower mode is unsupported).
func New(hw hal.I2CBus, follower hal.I2CFollower, opts ...Option) *Bus {
	b := &Bus{
		hw:       hw,
		follower: follower,
		log:      slog.New(slog.DiscardHandler),
		clock:    DefaultClock,
		frxSize:  BufferSize,
	}
	for _, o := range opts {
		o(b)
	}
	b.frx = ring.NewSPSC(b.frxSize)
	return b
}

func (b *Bus) Role() Role {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.role
}

// Begin joins the bus as leader. No-op when already begun in any role.
func (b *Bus) Begin() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.role != RoleNone {
		return nil
	}
	if err := b.hw.Configure(b.clock); err != nil {
		return errcode.Wrap(errcode.Error, "wire.begin", err)
	}
	if ts, ok := b.hw.(hal.I2CTimeoutSetter); ok && b.timeout > 0 {
		ts.SetTimeout(b.timeout)
	}
	b.role = RoleLeader
	b.log.Debug("begin", "role", b.role, "clock", b.clock)
	return nil
}

// BeginFollower joins the bus as a follower answering addr.
func (b *Bus) BeginFollower(addr uint8) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.role != RoleNone {
		return nil
	}
	if b.follower == nil {
		return errcode.Unsupported
	}
	b.frx.Clear()
	b.followerBusy.Store(false)
	if err := b.follower.Listen(addr, sink{b}); err != nil {
		return errcode.Wrap(errcode.Error, "wire.begin_follower", err)
	}
	b.followerAddr = addr
	b.role = RoleFollower
	b.log.Debug("begin", "role", b.role, "addr", addr)
	return nil
}

// End resets the peripheral and drops all buffered data. An open leader
// transaction is abandoned. No-op when not begun.
func (b *Bus) End() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.role == RoleNone {
		return nil
	}
	role := b.role
	b.role = RoleNone
	b.timeoutFlag = false
	b.addr, b.txLen, b.txOverflow = 0, 0, false
	b.rxLen, b.rxPos = 0, 0
	if b.inTx {
		b.inTx = false
		b.txn.Unlock()
	}

	var err error
	if role == RoleFollower {
		err = b.follower.Stop()
		b.followerBusy.Store(false)
		b.frx.Clear()
	} else {
		err = b.hw.Reset()
	}
	b.log.Debug("end", "role", role)
	if err != nil {
		return errcode.Wrap(errcode.Error, "wire.end", err)
	}
	return nil
}

// SetClock changes the leader bus frequency.
func (b *Bus) SetClock(f physic.Frequency) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if f <= 0 {
		return errcode.InvalidParams
	}
	b.clock = f
	switch b.role {
	case RoleNone:
		return errcode.NotInitialized
	case RoleFollower:
		return errcode.WrongRole
	}
	if err := b.hw.Configure(f); err != nil {
		return errcode.Wrap(errcode.Error, "wire.set_clock", err)
	}
	return nil
}

// SetWireTimeout applies d when the bus supports a timeout and records
// whether a timeout should reset the peripheral.
func (b *Bus) SetWireTimeout(d time.Duration, resetOnTimeout bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timeout = d
	b.resetOnTimeout = resetOnTimeout
	if ts, ok := b.hw.(hal.I2CTimeoutSetter); ok && d > 0 {
		ts.SetTimeout(d)
	}
}

func (b *Bus) WireTimeoutFlag() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.timeoutFlag
}

func (b *Bus) ClearWireTimeoutFlag() {
	b.mu.Lock()
	b.timeoutFlag = false
	b.mu.Unlock()
}

// OnReceive registers fn, called with the byte count after a successful
// RequestFrom (leader) or each received byte (follower, interrupt
// context). nil removes it.
func (b *Bus) OnReceive(fn func(n int)) {
	if fn == nil {
		b.onReceive.Store(nil)
		return
	}
	b.onReceive.Store(&fn)
}

// OnRequest registers fn, called from interrupt context when a leader
// wants data from this follower. fn answers with Write. nil removes it.
func (b *Bus) OnRequest(fn func()) {
	if fn == nil {
		b.onRequest.Store(nil)
		return
	}
	b.onRequest.Store(&fn)
}

func (b *Bus) notifyReceive(n int) {
	if fn := b.onReceive.Load(); fn != nil {
		(*fn)(n)
	}
}

func (b *Bus) notifyRequest() {
	if fn := b.onRequest.Load(); fn != nil {
		(*fn)()
	}
}

// failedLocked records a failed transfer and resets the peripheral when
// configured to on timeout.
func (b *Bus) failedLocked(op string, err error) Status {
	st := statusOf(err)
	if st == Timeout {
		b.timeoutFlag = true
		if b.resetOnTimeout {
			if rerr := b.hw.Reset(); rerr != nil {
				b.log.Warn("reset failed", "err", rerr)
			}
		}
	}
	b.log.Debug(op+" failed", "addr", b.addr, "status", st, "err", err)
	return st
}
