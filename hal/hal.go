// Package hal declares the collaborator contracts the peripheral core is
// built against. Vendor register libraries, RTOS primitives and radio stacks
// sit behind these interfaces; the core never touches hardware directly.
//
// Callbacks handed to a collaborator (DMA done, interrupt lines, follower
// bus events) may run in interrupt context. They must not block.
package hal

import (
	"errors"
	"fmt"
)

// Collaborator failures the core knows how to classify.
var (
	ErrNack        = errors.New("hal: nack")
	ErrNackAddress = errors.New("hal: address nack")
	ErrNackData    = errors.New("hal: data nack")
	ErrTimeout     = errors.New("hal: timeout")
	ErrUnavailable = errors.New("hal: resource unavailable")
)

// PinName is a vendor pin identifier: port*16 + offset (PA0 = 0, PD15 = 63).
type PinName int

const (
	NotConnected PinName = -1
	PinsPerPort          = 16
)

// Port is a GPIO port letter.
type Port uint8

const (
	PortA Port = iota
	PortB
	PortC
	PortD
)

func (p Port) String() string { return string(rune('A' + p)) }

// MakePinName builds a PinName from a port and offset.
func MakePinName(port Port, offset uint8) PinName {
	return PinName(int(port)*PinsPerPort + int(offset))
}

func (p PinName) Port() Port    { return Port(int(p) / PinsPerPort) }
func (p PinName) Offset() uint8 { return uint8(int(p) % PinsPerPort) }

func (p PinName) String() string {
	if p < 0 {
		return "NC"
	}
	return fmt.Sprintf("P%s%d", p.Port(), p.Offset())
}

// ParsePinName parses names of the form "PC3".
func ParsePinName(s string) (PinName, error) {
	if s == "NC" {
		return NotConnected, nil
	}
	if len(s) < 3 || len(s) > 4 || s[0] != 'P' || s[1] < 'A' || s[1] > 'D' {
		return NotConnected, fmt.Errorf("hal: bad pin name %q", s)
	}
	off := 0
	for _, c := range s[2:] {
		if c < '0' || c > '9' {
			return NotConnected, fmt.Errorf("hal: bad pin name %q", s)
		}
		off = off*10 + int(c-'0')
	}
	if off >= PinsPerPort {
		return NotConnected, fmt.Errorf("hal: bad pin name %q", s)
	}
	return MakePinName(Port(s[1]-'A'), uint8(off)), nil
}

// PinLookup maps board (Arduino) pin numbers to vendor pins.
type PinLookup interface {
	PinName(n int) PinName // NotConnected when unmapped
	Port(p PinName) Port
	Offset(p PinName) uint8
	Valid(p PinName) bool // below the board's highest pin name
}

// DigitalReader samples a pin level.
type DigitalReader interface {
	DigitalRead(p PinName) bool
}
