// Package platform adapts real serial drivers to the hal contracts.
package platform

import (
	"errors"
	"fmt"
	"sync"

	"go.bug.st/serial"

	"periphcore/hal"
)

var ErrNotOpen = errors.New("platform: port not open")

// HostPort is a hal.UART backed by an operating-system serial device.
// Reads never block.
type HostPort struct {
	device string

	mu   sync.Mutex
	port serial.Port
	baud uint32
}

var _ hal.UART = (*HostPort)(nil)

func NewHostPort(device string) *HostPort { return &HostPort{device: device} }

func (h *HostPort) Device() string { return h.device }

func (h *HostPort) Init(baud uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.port != nil {
		return h.setBaudLocked(baud)
	}
	p, err := serial.Open(h.device, &serial.Mode{BaudRate: int(baud)})
	if err != nil {
		return fmt.Errorf("open %s: %w", h.device, err)
	}
	if err := p.SetReadTimeout(0); err != nil {
		_ = p.Close()
		return fmt.Errorf("set read timeout %s: %w", h.device, err)
	}
	h.port, h.baud = p, baud
	return nil
}

func (h *HostPort) Deinit() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.port == nil {
		return nil
	}
	err := h.port.Close()
	h.port = nil
	return err
}

func (h *HostPort) SetBaudRate(baud uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.port == nil {
		return ErrNotOpen
	}
	return h.setBaudLocked(baud)
}

func (h *HostPort) setBaudLocked(baud uint32) error {
	if err := h.port.SetMode(&serial.Mode{BaudRate: int(baud)}); err != nil {
		return fmt.Errorf("set baud %s: %w", h.device, err)
	}
	h.baud = baud
	return nil
}

func (h *HostPort) Read(p []byte) (int, error) {
	h.mu.Lock()
	port := h.port
	h.mu.Unlock()
	if port == nil {
		return 0, ErrNotOpen
	}
	return port.Read(p)
}

func (h *HostPort) Write(p []byte) (int, error) {
	h.mu.Lock()
	port := h.port
	h.mu.Unlock()
	if port == nil {
		return 0, ErrNotOpen
	}
	return port.Write(p)
}

// ListPorts returns the serial devices present on the host.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}
