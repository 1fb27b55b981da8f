package ring

import "sync/atomic"

// SPSC has the same observable contract as Buffer but is safe for one
// producer (typically an interrupt or event context) and one consumer
// running concurrently. The producer only writes head, the consumer only
// writes tail; both are published atomically after the slot is touched.
type SPSC struct {
	buf  []byte
	head atomic.Uint32 // producer index
	tail atomic.Uint32 // consumer index

	readable chan struct{} // empty -> non-empty edge
}

// NewSPSC returns a queue with n slots (n-1 usable). n is raised to 2.
func NewSPSC(n int) *SPSC {
	if n < 2 {
		n = 2
	}
	return &SPSC{
		buf:      make([]byte, n),
		readable: make(chan struct{}, 1),
	}
}

func (q *SPSC) size() uint32 { return uint32(len(q.buf)) }

func (q *SPSC) next(i uint32) uint32 {
	i++
	if i == q.size() {
		return 0
	}
	return i
}

// Producer side

// Store appends b, reporting false when full. Never blocks.
func (q *SPSC) Store(b byte) bool {
	h := q.head.Load()
	t := q.tail.Load() // acquire
	n := q.next(h)
	if n == t {
		return false
	}
	q.buf[h] = b
	q.head.Store(n) // release
	if h == t {
		select {
		case q.readable <- struct{}{}:
		default:
		}
	}
	return true
}

// Write stores as much of p as fits and returns the count stored.
func (q *SPSC) Write(p []byte) int {
	n := 0
	for _, b := range p {
		if !q.Store(b) {
			break
		}
		n++
	}
	return n
}

// Consumer side

func (q *SPSC) ReadChar() int {
	t := q.tail.Load()
	if t == q.head.Load() { // acquire
		return Empty
	}
	b := q.buf[t]
	q.tail.Store(q.next(t)) // release
	return int(b)
}

// ReadInto drains up to len(p) bytes into p.
func (q *SPSC) ReadInto(p []byte) int {
	n := 0
	for n < len(p) {
		c := q.ReadChar()
		if c == Empty {
			break
		}
		p[n] = byte(c)
		n++
	}
	return n
}

func (q *SPSC) Peek() int {
	t := q.tail.Load()
	if t == q.head.Load() {
		return Empty
	}
	return int(q.buf[t])
}

// Clear discards everything published so far. Consumer side only.
func (q *SPSC) Clear() { q.tail.Store(q.head.Load()) }

// Either side

func (q *SPSC) Available() int {
	h := q.head.Load()
	t := q.tail.Load()
	return int((h + q.size() - t) % q.size())
}

func (q *SPSC) IsFull() bool { return q.next(q.head.Load()) == q.tail.Load() }

func (q *SPSC) Cap() int { return len(q.buf) - 1 }

// Readable signals (coalesced) whenever the queue goes from empty to non-empty.
func (q *SPSC) Readable() <-chan struct{} { return q.readable }
