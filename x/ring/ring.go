// Package ring holds the fixed-capacity byte queues shared by the transport
// drivers. Buffer needs external locking; SPSC is safe for exactly one
// producer context and one consumer context without a lock.
package ring

// Empty is returned by ReadChar and Peek when nothing is buffered.
const Empty = -1

// Queue is the contract both ring flavours satisfy.
type Queue interface {
	Store(b byte) bool
	Write(p []byte) int
	ReadChar() int
	Peek() int
	Available() int
	IsFull() bool
	Clear()
	Cap() int
}

var (
	_ Queue = (*Buffer)(nil)
	_ Queue = (*SPSC)(nil)
)

// Buffer is a circular byte buffer of n slots holding at most n-1 bytes.
// When full, new bytes are dropped and the oldest data is kept.
// Buffer performs no locking of its own.
type Buffer struct {
	buf  []byte
	head int // next write slot
	tail int // next read slot
}

// New returns a Buffer with n slots (n-1 usable). n is raised to 2.
func New(n int) *Buffer {
	if n < 2 {
		n = 2
	}
	return &Buffer{buf: make([]byte, n)}
}

func (r *Buffer) next(i int) int { return (i + 1) % len(r.buf) }

// Store appends b, reporting false when the buffer was full and b was dropped.
func (r *Buffer) Store(b byte) bool {
	i := r.next(r.head)
	if i == r.tail {
		return false
	}
	r.buf[r.head] = b
	r.head = i
	return true
}

// Write stores as much of p as fits and returns the count stored.
func (r *Buffer) Write(p []byte) int {
	n := 0
	for _, b := range p {
		if !r.Store(b) {
			break
		}
		n++
	}
	return n
}

// ReadChar consumes one byte, or returns Empty.
func (r *Buffer) ReadChar() int {
	if r.head == r.tail {
		return Empty
	}
	b := r.buf[r.tail]
	r.tail = r.next(r.tail)
	return int(b)
}

// Peek returns the next byte without consuming it, or Empty.
func (r *Buffer) Peek() int {
	if r.head == r.tail {
		return Empty
	}
	return int(r.buf[r.tail])
}

// PeekInto copies up to len(p) unread bytes into p without consuming them.
func (r *Buffer) PeekInto(p []byte) int {
	n := min(len(p), r.Available())
	t := r.tail
	for i := 0; i < n; i++ {
		p[i] = r.buf[t]
		t = r.next(t)
	}
	return n
}

// Discard drops up to n unread bytes and returns how many were dropped.
func (r *Buffer) Discard(n int) int {
	n = min(n, r.Available())
	r.tail = (r.tail + n) % len(r.buf)
	return n
}

// Available is the number of unread bytes.
func (r *Buffer) Available() int {
	return (r.head - r.tail + len(r.buf)) % len(r.buf)
}

// Free is the number of bytes that can still be stored.
func (r *Buffer) Free() int { return r.Cap() - r.Available() }

func (r *Buffer) IsFull() bool { return r.next(r.head) == r.tail }

// Cap is the usable capacity, one less than the slot count.
func (r *Buffer) Cap() int { return len(r.buf) - 1 }

func (r *Buffer) Clear() {
	r.head = 0
	r.tail = 0
}
