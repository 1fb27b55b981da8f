// Package ezble is a byte-stream transport over a single GATT
// characteristic. One side serves, the other scans for it by name; once
// both discover each other's data characteristic, writes are streamed in
// MTU-sized chunks with exactly one GATT write in flight.
package ezble

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
	MTU             = 250
	DefaultTxBuffer = 1024
	DefaultRxBuffer = 512
	printfBuffer    = 64
)

type Role uint8

const (
	Server Role = iota
	Client
)

func (r Role) String() string {
	if r == Client {
		return "client"
	}
	return "server"
}

func ParseRole(s string) (Role, error) {
	switch s {
	case "server":
		return Server, nil
	case "client":
		return Client, nil
	}
	return 0, fmt.Errorf("ezble: unknown role %q", s)
}

type State uint8

const (
	NotStarted State = iota
	Boot
	Disconnected
	DiscoverServices
	DiscoverCharacteristics
	Ready
	Busy
)

var stateNames = [...]string{"not_started", "boot", "disconnected", "discover_services",
	"discover_characteristics", "ready", "busy"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

type Option func(*Transport)

func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.log = l
		}
	}
}

// WithTxBuffer and WithRxBuffer set queue capacities in bytes.
func WithTxBuffer(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.txSize = n
		}
	}
}

func WithRxBuffer(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.rxSize = n
		}
	}
}

type Transport struct {
	stack  hal.BLEStack
	log    *slog.Logger
	txSize int
	rxSize int

	mu       sync.Mutex
	state    State
	role     Role
	name     string
	booted   bool
	db       localDB
	conn     uint8
	rService uint32
	rChar    uint16
	tx       *ring.Buffer
	inflight int // bytes of tx covered by the pending GATT write
	chunk    [MTU]byte

	rx *ring.SPSC // producer: HandleEvent; consumer: Read

	onReceive    atomic.Pointer[func(int)]
	onConnect    atomic.Pointer[func()]
	onDisconnect atomic.Pointer[func()]
}

func New(stack hal.BLEStack, opts ...Option) *Transport {
	t := &Transport{
		stack:  stack,
		log:    slog.New(slog.DiscardHandler),
		txSize: DefaultTxBuffer,
		rxSize: DefaultRxBuffer,
	}
	for _, o := range opts {
		o(t)
	}
	t.tx = ring.New(t.txSize + 1)
	t.rx = ring.NewSPSC(t.rxSize + 1)
	t.log = t.log.With("svc", "ezble")
	t.resetRemoteLocked()
	return t
}

func (t *Transport) resetRemoteLocked() {
	t.conn = hal.NoConnection
	t.rService = hal.NoServiceHandle
	t.rChar = hal.NoHandle
	t.inflight = 0
}

func (t *Transport) setStateLocked(s State) {
	if s == t.state {
		return
	}
	t.log.Debug("state changed", "from", t.state, "to", s)
	t.state = s
}

func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connected reports whether the link is up and the peer resolved.
func (t *Transport) Connected() bool {
	s := t.State()
	return s == Ready || s == Busy
}

func (t *Transport) Role() Role {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.role
}

// Begin starts the transport. The GATT database is built once; radio
// activity starts now if the stack has booted, otherwise on Boot.
// No-op unless NotStarted.
func (t *Transport) Begin(role Role, name string) error {
	if len(name) > MaxNameLen {
		return errcode.InvalidParams
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != NotStarted {
		return nil
	}
	t.role = role
	if err := t.setNameLocked(name); err != nil {
		return err
	}
	if !t.db.ready {
		if err := t.db.build(t.stack, name); err != nil {
			return errcode.Wrap(errcode.Error, "ezble.begin", err)
		}
	}
	t.log.Info("started", "role", role, "name", name)
	if t.booted {
		t.setStateLocked(Disconnected)
		t.startRadioLocked()
	} else {
		t.setStateLocked(Boot)
	}
	return nil
}

func (t *Transport) BeginServer(name string) error { return t.Begin(Server, name) }
func (t *Transport) BeginClient(name string) error { return t.Begin(Client, name) }

// End closes any connection, stops radio activity, drops both queues and
// the registered callbacks, and returns to NotStarted. A failed close is
// reported after the reset.
func (t *Transport) End() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == NotStarted {
		return nil
	}
	t.stopRadioLocked()
	var err error
	switch t.state {
	case DiscoverServices, DiscoverCharacteristics, Ready, Busy:
		if cerr := t.stack.CloseConnection(t.conn); cerr != nil {
			t.log.Warn("could not close connection", "err", cerr)
			err = errcode.Wrap(errcode.Error, "ezble.end", cerr)
		}
	}
	t.tx.Clear()
	t.rx.Clear()
	t.resetRemoteLocked()
	t.setStateLocked(NotStarted)
	t.onReceive.Store(nil)
	t.onConnect.Store(nil)
	t.onDisconnect.Store(nil)
	t.log.Info("ended")
	return err
}

func (t *Transport) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.name
}

// SetName changes the advertised name and, once the database exists,
// the Device Name attribute.
func (t *Transport) SetName(name string) error {
	if len(name) > MaxNameLen {
		return errcode.InvalidParams
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.setNameLocked(name)
}

func (t *Transport) setNameLocked(name string) error {
	t.name = name
	if !t.db.ready {
		return nil
	}
	if err := t.stack.WriteAttribute(t.db.nameChar, []byte(name)); err != nil {
		t.log.Warn("setting device name failed", "err", err)
		return errcode.Wrap(errcode.Error, "ezble.set_name", err)
	}
	return nil
}

func (t *Transport) startRadioLocked() {
	var err error
	if t.role == Server {
		err = t.stack.StartAdvertising()
	} else {
		err = t.stack.StartScanning()
	}
	if err != nil {
		t.log.Warn("radio start failed", "role", t.role, "err", err)
	}
}

func (t *Transport) stopRadioLocked() {
	var err error
	if t.role == Server {
		err = t.stack.StopAdvertising()
	} else {
		err = t.stack.StopScanning()
	}
	if err != nil {
		t.log.Debug("radio stop failed", "role", t.role, "err", err)
	}
}

// OnReceive, OnConnect and OnDisconnect register callbacks run from the
// event dispatch context after the transport's lock is released.
func (t *Transport) OnReceive(fn func(n int)) error {
	if fn == nil {
		return errcode.NilCallback
	}
	t.onReceive.Store(&fn)
	return nil
}

func (t *Transport) OnConnect(fn func()) error {
	if fn == nil {
		return errcode.NilCallback
	}
	t.onConnect.Store(&fn)
	return nil
}

func (t *Transport) OnDisconnect(fn func()) error {
	if fn == nil {
		return errcode.NilCallback
	}
	t.onDisconnect.Store(&fn)
	return nil
}
