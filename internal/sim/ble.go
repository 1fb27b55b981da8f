package sim

import (
	"errors"
	"sync"

	"tinygo.org/x/bluetooth"

	"periphcore/hal"
)

var ErrNoAttribute = errors.New("sim: no such attribute")

// BLECall is one recorded stack command.
type BLECall struct {
	Op      string
	Conn    uint8
	Handle  uint32
	UUID    bluetooth.UUID
	Data    []byte
	Address bluetooth.MAC
}

// BLEStack records commands; events are pushed into the core by the test
// or demo through HandleEvent, never from inside a command.
type BLEStack struct {
	mu          sync.Mutex
	next        uint16
	attrs       map[uint16][]byte
	uuids       map[uint16]bluetooth.UUID
	calls       []BLECall
	advertising bool
	scanning    bool
	committed   bool

	// FailWrites makes WriteCharacteristic fail.
	FailWrites bool
	// FailClose makes CloseConnection fail.
	FailClose bool
}

var _ hal.BLEStack = (*BLEStack)(nil)

func NewBLEStack() *BLEStack {
	return &BLEStack{next: 1, attrs: map[uint16][]byte{}, uuids: map[uint16]bluetooth.UUID{}}
}

func (s *BLEStack) record(c BLECall) {
	s.calls = append(s.calls, c)
}

func (s *BLEStack) AddService(uuid bluetooth.UUID) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.next
	s.next++
	s.uuids[h] = uuid
	s.record(BLECall{Op: "add_service", Handle: uint32(h), UUID: uuid})
	return h, nil
}

func (s *BLEStack) AddCharacteristic(service uint16, uuid bluetooth.UUID, props hal.CharProps, maxLen int, value []byte) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.next
	s.next++
	s.uuids[h] = uuid
	s.attrs[h] = append([]byte(nil), value...)
	s.record(BLECall{Op: "add_characteristic", Handle: uint32(h), UUID: uuid, Data: value})
	return h, nil
}

func (s *BLEStack) WriteAttribute(handle uint16, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attrs[handle]; !ok {
		return ErrNoAttribute
	}
	s.attrs[handle] = append([]byte(nil), value...)
	return nil
}

func (s *BLEStack) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = true
	s.record(BLECall{Op: "commit"})
	return nil
}

func (s *BLEStack) StartAdvertising() error { return s.flag("start_advertising", &s.advertising, true) }
func (s *BLEStack) StopAdvertising() error  { return s.flag("stop_advertising", &s.advertising, false) }
func (s *BLEStack) StartScanning() error    { return s.flag("start_scanning", &s.scanning, true) }
func (s *BLEStack) StopScanning() error     { return s.flag("stop_scanning", &s.scanning, false) }

func (s *BLEStack) flag(op string, f *bool, v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	*f = v
	s.record(BLECall{Op: op})
	return nil
}

func (s *BLEStack) Connect(addr bluetooth.MAC, addrType uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(BLECall{Op: "connect", Address: addr})
	return nil
}

func (s *BLEStack) CloseConnection(conn uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(BLECall{Op: "close", Conn: conn})
	if s.FailClose {
		return errors.New("sim: close failed")
	}
	return nil
}

func (s *BLEStack) DiscoverServices(conn uint8, uuid bluetooth.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(BLECall{Op: "discover_services", Conn: conn, UUID: uuid})
	return nil
}

func (s *BLEStack) DiscoverCharacteristics(conn uint8, service uint32, uuid bluetooth.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(BLECall{Op: "discover_characteristics", Conn: conn, Handle: service, UUID: uuid})
	return nil
}

func (s *BLEStack) WriteCharacteristic(conn uint8, char uint16, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return hal.ErrUnavailable
	}
	s.record(BLECall{Op: "write", Conn: conn, Handle: uint32(char), Data: append([]byte(nil), data...)})
	return nil
}

// Calls returns the recorded commands, optionally filtered by op.
func (s *BLEStack) Calls(op string) []BLECall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []BLECall
	for _, c := range s.calls {
		if op == "" || c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Attribute returns the current value of a local attribute.
func (s *BLEStack) Attribute(h uint16) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.attrs[h]...)
}

// HandleFor returns the handle registered for uuid.
func (s *BLEStack) HandleFor(uuid bluetooth.UUID) (uint16, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, u := range s.uuids {
		if u == uuid {
			return h, true
		}
	}
	return 0, false
}

// Radio reports whether advertising and scanning are on.
func (s *BLEStack) Radio() (advertising, scanning bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advertising, s.scanning
}
