//go:build rp2040 || rp2350

package platform

import (
	"github.com/jangala-dev/tinygo-uartx/uartx"

	"periphcore/hal"
)

// UARTX is a hal.UART over the interrupt-driven uartx driver.
type UARTX struct{ u *uartx.UART }

var _ hal.UART = (*UARTX)(nil)

func NewUARTX(u *uartx.UART) *UARTX { return &UARTX{u: u} }

// Serial0 and Serial1 wrap the two on-chip ports.
func Serial0() *UARTX { return NewUARTX(uartx.UART0) }
func Serial1() *UARTX { return NewUARTX(uartx.UART1) }

func (x *UARTX) Init(baud uint32) error {
	return x.u.Configure(uartx.UARTConfig{BaudRate: baud})
}

func (x *UARTX) Deinit() error { return x.u.Close() }

func (x *UARTX) SetBaudRate(baud uint32) error {
	x.u.SetBaudRate(baud)
	return nil
}

func (x *UARTX) Read(p []byte) (int, error)  { return x.u.Read(p) }
func (x *UARTX) Write(p []byte) (int, error) { return x.u.Write(p) }
