package ezble

import (
	"fmt"

	"periphcore/errcode"
)

// Write queues p for transmission and starts a transfer if the link is
// idle. Data written before the link is ready is sent once it is. When
// the queue fills, what fit is kept and errcode.BufferFull is returned.
func (t *Transport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.tx.Write(p)
	if err := t.transferLocked(); err != nil && errcode.Of(err) == errcode.Error {
		t.log.Warn("gatt write failed", "err", err)
	}
	if n < len(p) {
		t.log.Warn("tx buffer overflow", "dropped", len(p)-n)
		return n, errcode.BufferFull
	}
	return n, nil
}

func (t *Transport) WriteByte(c byte) error {
	_, err := t.Write([]byte{c})
	return err
}

func (t *Transport) WriteString(s string) (int, error) { return t.Write([]byte(s)) }

// Printf formats into a small fixed buffer, truncating, and writes it.
func (t *Transport) Printf(format string, args ...any) (int, error) {
	var buf [printfBuffer]byte
	out := fmt.Appendf(buf[:0], format, args...)
	if len(out) > printfBuffer-1 {
		out = out[:printfBuffer-1]
	}
	return t.Write(out)
}

// Flush tries to start a transfer now. It reports errcode.NotReady when
// the link is not up and errcode.Busy while a write is in flight; queued
// data is sent automatically in both cases.
func (t *Transport) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transferLocked()
}

// Pending is the number of queued outbound bytes.
func (t *Transport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tx.Available()
}

// transferLocked issues one GATT write of up to MTU queued bytes. The
// bytes stay queued until the write completes successfully.
func (t *Transport) transferLocked() error {
	switch {
	case t.state == Busy:
		return errcode.Busy
	case t.state != Ready:
		return errcode.NotReady
	case t.tx.Available() == 0:
		return nil
	}
	n := t.tx.PeekInto(t.chunk[:])
	if err := t.stack.WriteCharacteristic(t.conn, t.rChar, t.chunk[:n]); err != nil {
		return errcode.Wrap(errcode.Error, "ezble.transfer", err)
	}
	t.inflight = n
	t.setStateLocked(Busy)
	t.log.Debug("sent", "bytes", n)
	return nil
}

// Read returns the next received byte or ring.Empty.
func (t *Transport) Read() int { return t.rx.ReadChar() }

func (t *Transport) Peek() int { return t.rx.Peek() }

func (t *Transport) Available() int { return t.rx.Available() }

// ReadBytes drains up to len(p) received bytes.
func (t *Transport) ReadBytes(p []byte) int { return t.rx.ReadInto(p) }
