package sim

import (
	"sync"
	"time"

	"periphcore/hal"
	"periphcore/x/timex"
)

type extLine struct {
	pin     uint8
	port    hal.Port
	fn      func(line int)
	rising  bool
	falling bool
	enabled bool
}

// GPIO is an external interrupt controller with a fixed number of lines
// plus a pin level table for DigitalRead.
type GPIO struct {
	mu     sync.Mutex
	lines  []*extLine
	levels map[hal.PinName]bool
	script func(p hal.PinName, now time.Duration) bool
	clock  timex.Clock
}

var (
	_ hal.GPIOInterruptController = (*GPIO)(nil)
	_ hal.DigitalReader           = (*GPIO)(nil)
)

func NewGPIO(lines int) *GPIO {
	return &GPIO{lines: make([]*extLine, lines), levels: map[hal.PinName]bool{}}
}

func (g *GPIO) Register(pin uint8, fn func(line int)) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, l := range g.lines {
		if l == nil {
			g.lines[i] = &extLine{pin: pin, fn: fn}
			return i, nil
		}
	}
	return -1, hal.ErrUnavailable
}

func (g *GPIO) Unregister(line int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if line >= 0 && line < len(g.lines) {
		g.lines[line] = nil
	}
}

func (g *GPIO) ConfigureEdge(port hal.Port, pin uint8, line int, rising, falling, enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if line < 0 || line >= len(g.lines) || g.lines[line] == nil {
		return
	}
	l := g.lines[line]
	l.port, l.pin, l.rising, l.falling, l.enabled = port, pin, rising, falling, enabled
}

// Edge drives pin p to level and fires any line configured for that edge.
// It returns how many lines fired.
func (g *GPIO) Edge(p hal.PinName, level bool) int {
	g.mu.Lock()
	prev := g.levels[p]
	g.levels[p] = level
	var fire []func(int)
	var ids []int
	if prev != level {
		for i, l := range g.lines {
			if l == nil || !l.enabled || l.port != p.Port() || l.pin != p.Offset() {
				continue
			}
			if (level && l.rising) || (!level && l.falling) {
				fire = append(fire, l.fn)
				ids = append(ids, i)
			}
		}
	}
	g.mu.Unlock()
	for i, fn := range fire {
		fn(ids[i])
	}
	return len(fire)
}

// InUse is the number of allocated lines.
func (g *GPIO) InUse() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, l := range g.lines {
		if l != nil {
			n++
		}
	}
	return n
}

// Script makes DigitalRead follow fn, evaluated against clock.
func (g *GPIO) Script(clock timex.Clock, fn func(p hal.PinName, now time.Duration) bool) {
	g.mu.Lock()
	g.clock, g.script = clock, fn
	g.mu.Unlock()
}

func (g *GPIO) DigitalRead(p hal.PinName) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.script != nil {
		return g.script(p, g.clock.Now())
	}
	return g.levels[p]
}

// Watchdog records its configuration; Expire stands in for the timeout.
type Watchdog struct {
	mu        sync.Mutex
	cfg       hal.WatchdogConfig
	enabled   bool
	irq       bool
	feeds     int
	inits     int
	resetSeen bool
	resets    int
}

var _ hal.WatchdogTimer = (*Watchdog)(nil)

// NewWatchdog reports resetCause from ResetCauseWatchdog.
func NewWatchdog(resetCause bool) *Watchdog { return &Watchdog{resetSeen: resetCause} }

func (w *Watchdog) Init(cfg hal.WatchdogConfig) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cfg = cfg
	w.inits++
	return nil
}

func (w *Watchdog) Enable(on bool) {
	w.mu.Lock()
	w.enabled = on
	w.mu.Unlock()
}

func (w *Watchdog) Feed() {
	w.mu.Lock()
	w.feeds++
	w.mu.Unlock()
}

func (w *Watchdog) EnableInterrupt(on bool) {
	w.mu.Lock()
	w.irq = on
	w.mu.Unlock()
}

func (w *Watchdog) ResetCauseWatchdog() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.resetSeen
}

// Expire simulates a timeout. It returns true when the interrupt path
// should run (reset disabled and interrupt enabled); otherwise it counts
// a reset.
func (w *Watchdog) Expire() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.enabled {
		return false
	}
	if w.cfg.ResetDisabled && w.irq {
		return true
	}
	w.resets++
	return false
}

func (w *Watchdog) Config() (cfg hal.WatchdogConfig, enabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg, w.enabled
}

// Counts returns Init, Feed and reset counts.
func (w *Watchdog) Counts() (inits, feeds, resets int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inits, w.feeds, w.resets
}
