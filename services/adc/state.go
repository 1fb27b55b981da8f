package adc

import (
	"sync/atomic"

	"periphcore/hal"
)

// Kind is the externally visible converter mode.
type Kind uint8

const (
	Uninitialized Kind = iota
	Single
	ScanActive
	ScanPaused
)

func (k Kind) String() string {
	switch k {
	case Single:
		return "single"
	case ScanActive:
		return "scan_active"
	case ScanPaused:
		return "scan_paused"
	}
	return "uninitialized"
}

// state is one of uninitState, singleState or scanState.
type state interface{ kind() Kind }

type uninitState struct{}

// singleState may park a paused scan session so that a later ScanStart
// on the same pin and buffer resumes it instead of reinitialising.
type singleState struct {
	pin    hal.PinName
	parked *session
}

type scanState struct{ s *session }

func (uninitState) kind() Kind { return Uninitialized }
func (singleState) kind() Kind { return Single }
func (st scanState) kind() Kind {
	if st.s.paused {
		return ScanPaused
	}
	return ScanActive
}

// session is one DMA scan: a channel refilling buf from pin.
type session struct {
	pin    hal.PinName
	buf    []uint32
	ch     hal.DMAChannel
	paused bool
	cb     atomic.Pointer[func()]
}

// done runs in DMA completion context.
func (s *session) done() {
	if fn := s.cb.Load(); fn != nil {
		(*fn)()
	}
}

func (s *session) matches(pin hal.PinName, buf []uint32) bool {
	return s.pin == pin && len(s.buf) == len(buf) && &s.buf[0] == &buf[0]
}

func (s *session) release() {
	s.ch.Stop()
	s.ch.Free()
}
