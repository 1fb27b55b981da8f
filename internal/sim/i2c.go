package sim

import (
	"sync"
	"time"

	"periph.io/x/conn/v3/physic"

	"periphcore/hal"
)

// I2CDevice answers leader transfers addressed to it.
type I2CDevice func(w, r []byte) error

// I2CTx is one recorded leader transfer.
type I2CTx struct {
	Addr uint16
	W    []byte
	R    int
}

// I2CBus is a leader-mode bus with devices attached by address.
// Transfers to an address with no device fail with hal.ErrNackAddress.
type I2CBus struct {
	mu      sync.Mutex
	devices map[uint16]I2CDevice
	txs     []I2CTx
	clock   physic.Frequency
	timeout time.Duration
	resets  int
	configs int
}

var (
	_ hal.I2CBus           = (*I2CBus)(nil)
	_ hal.I2CTimeoutSetter = (*I2CBus)(nil)
)

func NewI2CBus() *I2CBus { return &I2CBus{devices: map[uint16]I2CDevice{}} }

// Attach places a device on the bus.
func (b *I2CBus) Attach(addr uint16, d I2CDevice) {
	b.mu.Lock()
	b.devices[addr] = d
	b.mu.Unlock()
}

// Memory attaches a device that echoes back a fixed register image:
// the first written byte selects the start register.
func (b *I2CBus) Memory(addr uint16, image []byte) {
	b.Attach(addr, func(w, r []byte) error {
		reg := 0
		if len(w) > 0 {
			reg = int(w[0])
		}
		for i := range r {
			r[i] = image[(reg+i)%len(image)]
		}
		return nil
	})
}

func (b *I2CBus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	b.txs = append(b.txs, I2CTx{Addr: addr, W: append([]byte(nil), w...), R: len(r)})
	d := b.devices[addr]
	b.mu.Unlock()
	if d == nil {
		return hal.ErrNackAddress
	}
	return d(w, r)
}

func (b *I2CBus) Configure(clock physic.Frequency) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clock = clock
	b.configs++
	return nil
}

func (b *I2CBus) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resets++
	return nil
}

func (b *I2CBus) SetTimeout(d time.Duration) {
	b.mu.Lock()
	b.timeout = d
	b.mu.Unlock()
}

// Transfers returns the recorded transfers.
func (b *I2CBus) Transfers() []I2CTx {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]I2CTx(nil), b.txs...)
}

func (b *I2CBus) Clock() physic.Frequency {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clock
}

// Counts returns how often Configure and Reset ran.
func (b *I2CBus) Counts() (configs, resets int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.configs, b.resets
}

// I2CFollower plays the remote leader against a follower-mode core.
// LeaderWrite and LeaderRead call the sink synchronously, standing in for
// the peripheral interrupt.
type I2CFollower struct {
	mu     sync.Mutex
	sink   hal.I2CFollowerSink
	addr   uint8
	out    []byte
	stops  int
	active bool
}

var _ hal.I2CFollower = (*I2CFollower)(nil)

func (f *I2CFollower) Listen(addr uint8, sink hal.I2CFollowerSink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addr, f.sink, f.active = addr, sink, true
	return nil
}

func (f *I2CFollower) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sink, f.active = nil, false
	f.stops++
	return nil
}

func (f *I2CFollower) WriteByte(b byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, b)
	return nil
}

func (f *I2CFollower) Address() uint8 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addr
}

func (f *I2CFollower) current() hal.I2CFollowerSink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sink
}

// LeaderWrite delivers data as a leader write and returns how many bytes
// were acked.
func (f *I2CFollower) LeaderWrite(data []byte) int {
	s := f.current()
	if s == nil {
		return 0
	}
	s.OnAddress(false)
	acked := 0
	for _, b := range data {
		if !s.OnData(b) {
			break
		}
		acked++
	}
	s.OnStop()
	return acked
}

// LeaderRead clocks n bytes out of the follower.
func (f *I2CFollower) LeaderRead(n int) []byte {
	s := f.current()
	if s == nil {
		return nil
	}
	f.mu.Lock()
	f.out = nil
	f.mu.Unlock()

	s.OnAddress(true)
	for i := 1; i < n; i++ {
		s.OnRequest()
	}
	s.OnStop()

	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.out
	f.out = nil
	return out
}

// Fault injects a bus error.
func (f *I2CFollower) Fault() {
	if s := f.current(); s != nil {
		s.OnFault()
	}
}
