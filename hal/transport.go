package hal

import (
	"time"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"tinygo.org/x/drivers"
)

// UART is a serial port. Read never blocks: it returns what the port has
// buffered, possibly nothing.
type UART interface {
	Init(baud uint32) error
	Deinit() error
	SetBaudRate(baud uint32) error
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}

// I2CBus is a leader-mode I²C peripheral. Tx follows the TinyGo drivers
// contract: write w, then read len(r) bytes with a repeated start.
// A Tx with empty w and r is an address-only probe.
type I2CBus interface {
	drivers.I2C
	Configure(clock physic.Frequency) error
	Reset() error
}

// I2CTimeoutSetter is implemented by buses whose transfer timeout can be tuned.
type I2CTimeoutSetter interface {
	SetTimeout(d time.Duration)
}

// I2CFollowerSink receives follower-mode bus events from interrupt context.
type I2CFollowerSink interface {
	OnAddress(read bool)
	OnData(b byte) (ack bool)
	OnRequest() // leader acked the previous byte and wants another
	OnStop()
	OnFault() // bus error or arbitration lost
}

// I2CFollower is the follower-mode side of the same peripheral.
type I2CFollower interface {
	Listen(addr uint8, sink I2CFollowerSink) error
	Stop() error
	WriteByte(b byte) error
}

// SPIConfig is applied by SPIBus.Configure. Bit order travels in Mode
// (spi.LSBFirst).
type SPIConfig struct {
	Clock physic.Frequency
	Mode  spi.Mode
}

// SPIBus is a leader-mode SPI peripheral with blocking transfers (drivers.SPI)
// and a DMA path whose completion runs in interrupt context.
type SPIBus interface {
	drivers.SPI
	Configure(cfg SPIConfig) error
	Deinit() error
	StartTx(w, r []byte, done func(error)) error
	BusSpeed() physic.Frequency // actual clock after divider rounding
}
