package sim

import (
	"sync"

	"periph.io/x/conn/v3/physic"

	"periphcore/hal"
	"periphcore/x/timex"
)

// ADC converts the level set with SetLevel. A conversion completes after
// PollsPerConversion calls to SingleDone.
type ADC struct {
	mu         sync.Mutex
	levels     map[hal.PinName]uint16
	singlePin  hal.PinName
	scanPin    hal.PinName
	ref        hal.ADCReference
	running    bool
	polls      int
	conversion uint16

	SingleInits int
	ScanInits   int
	Resets      int

	PollsPerConversion int
}

var _ hal.ADC = (*ADC)(nil)

func NewADC() *ADC {
	return &ADC{levels: map[hal.PinName]uint16{}, singlePin: hal.NotConnected, scanPin: hal.NotConnected, PollsPerConversion: 3}
}

// SetLevel sets the raw 12-bit value seen on pin.
func (a *ADC) SetLevel(pin hal.PinName, raw uint16) {
	a.mu.Lock()
	a.levels[pin] = raw & 0x0FFF
	a.mu.Unlock()
}

func (a *ADC) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.singlePin, a.scanPin, a.running = hal.NotConnected, hal.NotConnected, false
	a.Resets++
}

func (a *ADC) InitSingle(pin hal.PinName, ref hal.ADCReference) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.singlePin, a.ref = pin, ref
	a.SingleInits++
	return nil
}

func (a *ADC) InitScan(pin hal.PinName, ref hal.ADCReference) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scanPin, a.ref = pin, ref
	a.ScanInits++
	return nil
}

func (a *ADC) StartSingle() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = true
	a.polls = 0
	a.conversion = a.levels[a.singlePin]
}

func (a *ADC) SingleDone() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return false
	}
	a.polls++
	return a.polls >= a.PollsPerConversion
}

func (a *ADC) ReadSingle() uint16 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = false
	return a.conversion
}

func (a *ADC) Reference() hal.ADCReference {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ref
}

// Scan returns the level the scan queue would sample.
func (a *ADC) Scan() uint16 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.levels[a.scanPin]
}

// DMA hands out channels until Limit is reached (0 = unlimited).
type DMA struct {
	mu       sync.Mutex
	channels []*DMAChannel
	Limit    int
}

var _ hal.DMA = (*DMA)(nil)

func (d *DMA) Allocate() (hal.DMAChannel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	live := 0
	for _, c := range d.channels {
		if !c.freed {
			live++
		}
	}
	if d.Limit > 0 && live >= d.Limit {
		return nil, hal.ErrUnavailable
	}
	c := &DMAChannel{id: len(d.channels)}
	d.channels = append(d.channels, c)
	return c, nil
}

// Last returns the most recently allocated channel, or nil.
func (d *DMA) Last() *DMAChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.channels) == 0 {
		return nil
	}
	return d.channels[len(d.channels)-1]
}

// DMAChannel records its lifecycle; Complete stands in for the transfer
// done interrupt.
type DMAChannel struct {
	mu      sync.Mutex
	id      int
	dst     []uint32
	done    func()
	running bool
	paused  bool
	freed   bool

	Starts  int
	Resumes int
}

func (c *DMAChannel) StartLinked(dst []uint32, done func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dst, c.done = dst, done
	c.running, c.paused = true, false
	c.Starts++
	return nil
}

func (c *DMAChannel) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

func (c *DMAChannel) Resume() {
	c.mu.Lock()
	c.paused = false
	c.Resumes++
	c.mu.Unlock()
}

func (c *DMAChannel) Stop() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

func (c *DMAChannel) Free() {
	c.mu.Lock()
	c.freed = true
	c.mu.Unlock()
}

// Complete fills dst with v and fires done when the channel is running.
func (c *DMAChannel) Complete(v uint32) bool {
	c.mu.Lock()
	if !c.running || c.paused || c.freed {
		c.mu.Unlock()
		return false
	}
	for i := range c.dst {
		c.dst[i] = v
	}
	done := c.done
	c.mu.Unlock()
	if done != nil {
		done()
	}
	return true
}

// State reports running, paused and freed.
func (c *DMAChannel) State() (running, paused, freed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running, c.paused, c.freed
}

// PWMChannel is the observable state of one timer channel.
type PWMChannel struct {
	Port    hal.Port
	Pin     uint8
	Freq    physic.Frequency
	Period  uint64 // ns
	Duty    uint8
	Running bool
	Inited  bool
}

// PWMTimer is a shared timer with a handful of channels.
type PWMTimer struct {
	mu       sync.Mutex
	channels map[int]*PWMChannel
	Deinits  int
	Updates  int
}

var _ hal.PWMTimer = (*PWMTimer)(nil)

func NewPWMTimer() *PWMTimer { return &PWMTimer{channels: map[int]*PWMChannel{}} }

func (t *PWMTimer) Init(ch int, port hal.Port, pin uint8, freq physic.Frequency) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channels[ch] = &PWMChannel{Port: port, Pin: pin, Freq: freq,
		Period: timex.PeriodFromHz(uint32(freq / physic.Hertz)), Inited: true}
	return nil
}

func (t *PWMTimer) Start(ch int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c := t.channels[ch]; c != nil {
		c.Running = true
	}
}

func (t *PWMTimer) SetDutyCycle(ch int, percent uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c := t.channels[ch]; c != nil {
		c.Duty = percent
		t.Updates++
	}
}

func (t *PWMTimer) Stop(ch int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c := t.channels[ch]; c != nil {
		c.Running = false
	}
}

func (t *PWMTimer) Deinit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channels = map[int]*PWMChannel{}
	t.Deinits++
}

// Channel returns a copy of channel ch's state.
func (t *PWMTimer) Channel(ch int) (PWMChannel, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.channels[ch]
	if !ok {
		return PWMChannel{}, false
	}
	return *c, true
}

// Power counts outstanding stay-awake requirements.
type Power struct {
	mu   sync.Mutex
	held int
}

var _ hal.PowerManager = (*Power)(nil)

func (p *Power) Require() { p.mu.Lock(); p.held++; p.mu.Unlock() }
func (p *Power) Release() { p.mu.Lock(); p.held--; p.mu.Unlock() }

func (p *Power) Held() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.held
}
