package hal

import (
	"fmt"

	"periph.io/x/conn/v3/physic"
)

// ADCReference selects the converter's voltage reference.
type ADCReference uint8

const (
	RefInternal1V2 ADCReference = iota
	RefExternal1V25
	RefVDD
	RefVDD0p8
	refMax
)

func (r ADCReference) Valid() bool { return r < refMax }

// Millivolts is the full-scale voltage of the reference.
func (r ADCReference) Millivolts() int {
	switch r {
	case RefInternal1V2:
		return 1200
	case RefExternal1V25:
		return 1250
	case RefVDD:
		return 3300
	case RefVDD0p8:
		return 2640
	}
	return 0
}

var refNames = [...]string{"internal1v2", "external1v25", "vdd", "vdd0p8"}

func (r ADCReference) String() string {
	if !r.Valid() {
		return fmt.Sprintf("ADCReference(%d)", r)
	}
	return refNames[r]
}

func ParseADCReference(s string) (ADCReference, error) {
	for i, n := range refNames {
		if n == s {
			return ADCReference(i), nil
		}
	}
	return 0, fmt.Errorf("hal: unknown adc reference %q", s)
}

// ADC is a converter with independent single and scan queues.
// Readings are 12-bit.
type ADC interface {
	Reset()
	InitSingle(pin PinName, ref ADCReference) error
	InitScan(pin PinName, ref ADCReference) error
	StartSingle()
	SingleDone() bool
	ReadSingle() uint16
}

// DMA allocates channels.
type DMA interface {
	Allocate() (DMAChannel, error)
}

// DMAChannel runs a self-linking descriptor that keeps refilling dst and
// calls done from interrupt context after each pass.
type DMAChannel interface {
	StartLinked(dst []uint32, done func()) error
	Pause()
	Resume()
	Stop()
	Free()
}

// PWMTimer drives the channels of one shared timer.
type PWMTimer interface {
	Init(ch int, port Port, pin uint8, freq physic.Frequency) error
	Start(ch int)
	SetDutyCycle(ch int, percent uint8)
	Stop(ch int)
	Deinit()
}

// PowerManager holds the "stay awake" energy-mode requirement.
type PowerManager interface {
	Require()
	Release()
}
