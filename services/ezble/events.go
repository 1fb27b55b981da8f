package ezble

import (
	"periphcore/hal"
)

// HandleEvent advances the state machine for one stack event. It must be
// called from a single dispatch context. Each event causes at most one
// transition; callbacks run after the transition is complete.
func (t *Transport) HandleEvent(ev hal.BLEEvent) {
	var after []func()

	t.mu.Lock()
	switch ev.Kind {
	case hal.BLEBoot:
		t.booted = true
		if t.state == Boot {
			t.setStateLocked(Disconnected)
			t.startRadioLocked()
		}

	case hal.BLEConnectionOpened:
		if t.state == NotStarted {
			break
		}
		t.conn = ev.Connection
		t.setStateLocked(DiscoverServices)
		if err := t.stack.DiscoverServices(t.conn, ServiceUUID); err != nil {
			t.log.Warn("service discovery failed", "conn", t.conn, "err", err)
		}

	case hal.BLEConnectionClosed:
		if t.state == NotStarted {
			break
		}
		t.resetRemoteLocked()
		t.setStateLocked(Disconnected)
		if fn := t.onDisconnect.Load(); fn != nil {
			after = append(after, *fn)
		}
		t.startRadioLocked()

	case hal.BLEScanReport:
		if t.role != Client || t.state != Disconnected {
			break
		}
		if !completeLocalName(ev.Data, t.name) {
			break
		}
		t.log.Info("peer found", "addr", ev.Address.String())
		t.stopRadioLocked()
		if err := t.stack.Connect(ev.Address, ev.AddressType); err != nil {
			t.log.Warn("connect failed", "err", err)
			t.startRadioLocked()
		}

	case hal.BLEServiceDiscovered:
		if t.state == DiscoverServices {
			t.rService = ev.Service
		}

	case hal.BLECharacteristicDiscovered:
		if t.state == DiscoverCharacteristics {
			t.rChar = ev.Characteristic
		}

	case hal.BLEProcedureCompleted:
		after = t.procedureCompletedLocked(ev, after)

	case hal.BLEAttributeWritten:
		if t.state == NotStarted || ev.Attribute != t.db.dataChar {
			break
		}
		n := t.rx.Write(ev.Data)
		if n < len(ev.Data) {
			t.log.Warn("rx buffer overflow", "dropped", len(ev.Data)-n)
		}
		if fn := t.onReceive.Load(); fn != nil && n > 0 {
			cb := *fn
			after = append(after, func() { cb(n) })
		}

	default:
		t.log.Debug("event ignored", "kind", ev.Kind)
	}
	t.mu.Unlock()

	for _, fn := range after {
		fn()
	}
}

func (t *Transport) procedureCompletedLocked(ev hal.BLEEvent, after []func()) []func() {
	switch t.state {
	case DiscoverServices:
		if t.rService == hal.NoServiceHandle {
			t.log.Warn("peer has no ezble service", "conn", t.conn)
			break
		}
		t.setStateLocked(DiscoverCharacteristics)
		if err := t.stack.DiscoverCharacteristics(t.conn, t.rService, DataCharacteristicUUID); err != nil {
			t.log.Warn("characteristic discovery failed", "conn", t.conn, "err", err)
		}

	case DiscoverCharacteristics:
		if t.rChar == hal.NoHandle {
			t.log.Warn("peer has no data characteristic", "conn", t.conn)
			break
		}
		t.setStateLocked(Ready)
		t.log.Info("connected", "conn", t.conn)
		if fn := t.onConnect.Load(); fn != nil {
			after = append(after, *fn)
		}
		t.kickLocked()

	case Busy:
		if ev.Result == 0 {
			t.tx.Discard(t.inflight)
		} else {
			t.log.Warn("gatt write rejected, retrying", "result", ev.Result, "bytes", t.inflight)
		}
		t.inflight = 0
		t.setStateLocked(Ready)
		t.kickLocked()
	}
	return after
}

func (t *Transport) kickLocked() {
	if t.tx.Available() == 0 {
		return
	}
	if err := t.transferLocked(); err != nil {
		t.log.Warn("gatt write failed", "err", err)
	}
}
