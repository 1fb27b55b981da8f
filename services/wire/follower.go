package wire

import "periphcore/errcode"

// sink receives follower bus events in interrupt context. It touches only
// the SPSC receive queue and atomics, never b.mu.
type sink struct{ b *Bus }

func (s sink) OnAddress(read bool) {
	s.b.followerBusy.Store(true)
	if read {
		s.b.notifyRequest()
	}
}

// OnData queues b, nacking it when the queue is full.
func (s sink) OnData(c byte) bool {
	if !s.b.frx.Store(c) {
		return false
	}
	s.b.notifyReceive(s.b.frx.Available())
	return true
}

func (s sink) OnRequest() { s.b.notifyRequest() }
func (s sink) OnStop()    { s.b.followerBusy.Store(false) }
func (s sink) OnFault()   { s.b.followerBusy.Store(false) }

// writeFollower answers a leader read; valid only inside its transaction.
func (b *Bus) writeFollower(p []byte) (int, error) {
	if !b.followerBusy.Load() {
		return 0, errcode.NoTransaction
	}
	for i, c := range p {
		if err := b.follower.WriteByte(c); err != nil {
			return i, errcode.Wrap(errcode.Error, "wire.write", err)
		}
	}
	return len(p), nil
}

// FollowerAddress is the address passed to BeginFollower.
func (b *Bus) FollowerAddress() uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.followerAddr
}
