package wire

import (
	"periphcore/errcode"
	"periphcore/x/ring"
)

// BeginTransmission opens a write transaction to addr and holds the bus
// until EndTransmission. It blocks while another transaction is open.
func (b *Bus) BeginTransmission(addr uint16) error {
	if b.Role() != RoleLeader {
		return errcode.NotInitialized
	}
	b.txn.Lock()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.role != RoleLeader {
		b.txn.Unlock()
		return errcode.NotInitialized
	}
	b.addr = addr
	b.inTx = true
	b.txLen = 0
	b.txOverflow = false
	return nil
}

// Write queues p in the transmit buffer (leader) or clocks it out to the
// leader that is reading us (follower). A full transmit buffer accepts
// what fits; the rest is refused with errcode.BufferFull.
func (b *Bus) Write(p []byte) (int, error) {
	b.mu.Lock()
	role := b.role
	if role != RoleLeader {
		b.mu.Unlock()
		if role == RoleFollower {
			return b.writeFollower(p)
		}
		return 0, errcode.NotInitialized
	}
	defer b.mu.Unlock()
	if !b.inTx {
		return 0, errcode.NoTransaction
	}
	n := copy(b.tx[b.txLen:], p)
	b.txLen += n
	if n < len(p) {
		b.txOverflow = true
		return n, errcode.BufferFull
	}
	return n, nil
}

func (b *Bus) WriteByte(c byte) error {
	_, err := b.Write([]byte{c})
	return err
}

// EndTransmission closes the transaction. With stop it sends the buffered
// bytes (an address-only probe when empty); without stop the bytes are
// kept for a following RequestFrom. The bus is released either way.
func (b *Bus) EndTransmission(stop bool) Status {
	b.mu.Lock()
	if b.role != RoleLeader || !b.inTx {
		b.mu.Unlock()
		return OtherError
	}
	b.inTx = false
	if !stop {
		b.mu.Unlock()
		b.txn.Unlock()
		return Success
	}
	addr := b.addr
	w := append([]byte(nil), b.tx[:b.txLen]...)
	overflow := b.txOverflow
	b.txLen, b.txOverflow = 0, false
	b.mu.Unlock()

	err := b.hw.Tx(addr, w, nil)

	b.mu.Lock()
	st := Success
	if err != nil {
		st = b.failedLocked("write", err)
	} else if overflow {
		st = DataTooLong
	}
	b.addr = 0
	b.mu.Unlock()
	b.txn.Unlock()
	return st
}

// RequestFrom reads n bytes from addr, first writing any bytes left by
// EndTransmission(false) with a repeated start. It returns the count now
// available to Read, 0 on failure or when n exceeds the receive buffer.
// stop is accepted for API parity; the transfer always ends with a stop.
// It must not be called while this task holds an open transaction.
func (b *Bus) RequestFrom(addr uint16, n int, stop bool) int {
	_ = stop
	if b.Role() != RoleLeader {
		return 0
	}
	b.txn.Lock()
	b.mu.Lock()
	if b.role != RoleLeader {
		b.mu.Unlock()
		b.txn.Unlock()
		return 0
	}
	w := append([]byte(nil), b.tx[:b.txLen]...)
	b.txLen, b.txOverflow = 0, false
	b.rxLen, b.rxPos = 0, 0
	if n <= 0 || n > BufferSize {
		b.mu.Unlock()
		b.txn.Unlock()
		return 0
	}
	b.mu.Unlock()

	var r [BufferSize]byte
	err := b.hw.Tx(addr, w, r[:n])

	b.mu.Lock()
	if err != nil {
		b.addr = addr
		b.failedLocked("read", err)
		b.mu.Unlock()
		b.txn.Unlock()
		return 0
	}
	copy(b.rx[:], r[:n])
	b.rxLen = n
	b.mu.Unlock()
	b.txn.Unlock()

	b.notifyReceive(n)
	return n
}

// Available is the number of unread received bytes.
func (b *Bus) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.role {
	case RoleLeader:
		return b.rxLen - b.rxPos
	case RoleFollower:
		return b.frx.Available()
	}
	return 0
}

// Read returns the next received byte or ring.Empty.
func (b *Bus) Read() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.role {
	case RoleLeader:
		if b.rxPos >= b.rxLen {
			return ring.Empty
		}
		c := b.rx[b.rxPos]
		b.rxPos++
		return int(c)
	case RoleFollower:
		return b.frx.ReadChar()
	}
	return ring.Empty
}

func (b *Bus) Peek() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.role {
	case RoleLeader:
		if b.rxPos >= b.rxLen {
			return ring.Empty
		}
		return int(b.rx[b.rxPos])
	case RoleFollower:
		return b.frx.Peek()
	}
	return ring.Empty
}
