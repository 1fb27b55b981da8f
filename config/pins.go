package config

import (
	"fmt"

	"periphcore/hal"
)

// PinMap implements hal.PinLookup from the board's pin table.
type PinMap struct {
	names map[int]hal.PinName
	max   hal.PinName
}

var _ hal.PinLookup = (*PinMap)(nil)

// PinMap builds the lookup for the configured board.
func (c *Config) PinMap() (*PinMap, error) {
	m := &PinMap{names: make(map[int]hal.PinName, len(c.Pins)), max: hal.PinName(c.PinNameMax)}
	for n, s := range c.Pins {
		if n < 0 {
			return nil, fmt.Errorf("pins: negative pin number %d", n)
		}
		p, err := hal.ParsePinName(s)
		if err != nil {
			return nil, fmt.Errorf("pins[%d]: %w", n, err)
		}
		if p != hal.NotConnected && p >= m.max {
			return nil, fmt.Errorf("pins[%d]: %s beyond pin_name_max", n, s)
		}
		m.names[n] = p
	}
	return m, nil
}

func (m *PinMap) PinName(n int) hal.PinName {
	p, ok := m.names[n]
	if !ok {
		return hal.NotConnected
	}
	return p
}

func (m *PinMap) Port(p hal.PinName) hal.Port { return p.Port() }
func (m *PinMap) Offset(p hal.PinName) uint8  { return p.Offset() }
func (m *PinMap) Valid(p hal.PinName) bool    { return p >= 0 && p < m.max }
