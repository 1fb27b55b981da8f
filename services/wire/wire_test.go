package wire

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	"periphcore/errcode"
	"periphcore/hal"
	"periphcore/internal/sim"
	"periphcore/x/ring"
)

func newLeader(t *testing.T, opts ...Option) (*Bus, *sim.I2CBus) {
	t.Helper()
	hw := sim.NewI2CBus()
	b := New(hw, &sim.I2CFollower{}, opts...)
	require.NoError(t, b.Begin())
	return b, hw
}

func TestBeginIsIdempotent(t *testing.T) {
	b, hw := newLeader(t, WithClock(400*physic.KiloHertz))
	require.NoError(t, b.Begin())
	require.NoError(t, b.BeginFollower(0x10))

	configs, _ := hw.Counts()
	assert.Equal(t, 1, configs)
	assert.Equal(t, 400*physic.KiloHertz, hw.Clock())
	assert.Equal(t, RoleLeader, b.Role())
}

func TestEndWithoutBeginIsNoop(t *testing.T) {
	hw := sim.NewI2CBus()
	b := New(hw, nil)
	require.NoError(t, b.End())
	_, resets := hw.Counts()
	assert.Zero(t, resets)
	assert.Equal(t, ring.Empty, b.Read())
}

func TestWriteOutsideTransaction(t *testing.T) {
	b, _ := newLeader(t)
	n, err := b.Write([]byte{1, 2})
	assert.Zero(t, n)
	assert.ErrorIs(t, err, errcode.NoTransaction)

	nb := New(sim.NewI2CBus(), nil)
	_, err = nb.Write([]byte{1})
	assert.ErrorIs(t, err, errcode.NotInitialized)
}

func TestTransmission(t *testing.T) {
	b, hw := newLeader(t)
	var got []byte
	hw.Attach(0x42, func(w, r []byte) error {
		got = append([]byte(nil), w...)
		return nil
	})

	require.NoError(t, b.BeginTransmission(0x42))
	n, err := b.Write([]byte{0xA0, 0xA1})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, b.WriteByte(0xA2))
	assert.Equal(t, Success, b.EndTransmission(true))
	assert.Equal(t, []byte{0xA0, 0xA1, 0xA2}, got)

	// bus released
	require.NoError(t, b.BeginTransmission(0x42))
	assert.Equal(t, Success, b.EndTransmission(true))
}

func TestTransmitOverflowKeepsBufferedBytes(t *testing.T) {
	b, hw := newLeader(t)
	hw.Attach(0x42, func(w, r []byte) error { return nil })

	require.NoError(t, b.BeginTransmission(0x42))
	payload := bytes.Repeat([]byte{7}, 60)
	n, err := b.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, 60, n)

	n, err = b.Write([]byte{1, 2, 3, 4, 5, 6})
	assert.Equal(t, 4, n)
	assert.ErrorIs(t, err, errcode.BufferFull)

	n, err = b.Write([]byte{9})
	assert.Zero(t, n)
	assert.ErrorIs(t, err, errcode.BufferFull)

	assert.Equal(t, DataTooLong, b.EndTransmission(true))
	txs := hw.Transfers()
	require.Len(t, txs, 1)
	assert.Len(t, txs[0].W, BufferSize)
	assert.Equal(t, append(payload, 1, 2, 3, 4), txs[0].W)
}

func TestEndTransmissionStatus(t *testing.T) {
	b, hw := newLeader(t)
	hw.Attach(0x20, func(w, r []byte) error { return hal.ErrNackData })
	hw.Attach(0x21, func(w, r []byte) error { return hal.ErrTimeout })
	hw.Attach(0x22, func(w, r []byte) error { return assert.AnError })

	for addr, want := range map[uint16]Status{0x10: NackAddress, 0x20: NackData, 0x21: Timeout, 0x22: OtherError} {
		require.NoError(t, b.BeginTransmission(addr))
		require.NoError(t, b.WriteByte(1))
		assert.Equal(t, want, b.EndTransmission(true), "addr %#x", addr)
	}
	assert.True(t, b.WireTimeoutFlag())
	b.ClearWireTimeoutFlag()
	assert.False(t, b.WireTimeoutFlag())

	assert.Equal(t, OtherError, b.EndTransmission(true), "no open transaction")
}

func TestProbe(t *testing.T) {
	b, hw := newLeader(t)
	hw.Attach(0x50, func(w, r []byte) error { return nil })

	require.NoError(t, b.BeginTransmission(0x50))
	assert.Equal(t, Success, b.EndTransmission(true))
	require.NoError(t, b.BeginTransmission(0x51))
	assert.Equal(t, NackAddress, b.EndTransmission(true))

	txs := hw.Transfers()
	require.Len(t, txs, 2)
	assert.Empty(t, txs[0].W)
	assert.Zero(t, txs[0].R)
}

func TestRegisterRead(t *testing.T) {
	b, hw := newLeader(t)
	hw.Memory(0x68, []byte{10, 11, 12, 13, 14, 15})

	var received []int
	b.OnReceive(func(n int) { received = append(received, n) })

	require.NoError(t, b.BeginTransmission(0x68))
	require.NoError(t, b.WriteByte(2))
	require.Equal(t, Success, b.EndTransmission(false))

	require.Equal(t, 3, b.RequestFrom(0x68, 3, true))
	assert.Equal(t, []int{3}, received)
	assert.Equal(t, 3, b.Available())
	assert.Equal(t, 12, b.Peek())
	assert.Equal(t, 12, b.Read())
	assert.Equal(t, 13, b.Read())
	assert.Equal(t, 14, b.Read())
	assert.Equal(t, ring.Empty, b.Read())

	txs := hw.Transfers()
	require.Len(t, txs, 1)
	assert.Equal(t, []byte{2}, txs[0].W)
	assert.Equal(t, 3, txs[0].R)

	// the register byte was consumed by the repeated start
	require.Equal(t, 2, b.RequestFrom(0x68, 2, true))
	assert.Equal(t, 10, b.Read())
}

func TestRequestFromLimits(t *testing.T) {
	b, hw := newLeader(t)
	hw.Memory(0x68, []byte{1})
	assert.Zero(t, b.RequestFrom(0x68, BufferSize+1, true))
	assert.Zero(t, b.RequestFrom(0x68, 0, true))
	assert.Zero(t, b.RequestFrom(0x69, 1, true))
	assert.Len(t, hw.Transfers(), 1)
	assert.Zero(t, b.Available())
}

func TestResetOnTimeout(t *testing.T) {
	b, hw := newLeader(t, WithTimeout(5*time.Millisecond, true))
	hw.Attach(0x30, func(w, r []byte) error { return hal.ErrTimeout })

	assert.Zero(t, b.RequestFrom(0x30, 1, true))
	assert.True(t, b.WireTimeoutFlag())
	_, resets := hw.Counts()
	assert.Equal(t, 1, resets)

	b.SetWireTimeout(0, false)
	assert.Zero(t, b.RequestFrom(0x30, 1, true))
	_, resets = hw.Counts()
	assert.Equal(t, 1, resets)
}

func TestSetClock(t *testing.T) {
	hw := sim.NewI2CBus()
	b := New(hw, nil)
	assert.ErrorIs(t, b.SetClock(400*physic.KiloHertz), errcode.NotInitialized)
	require.NoError(t, b.Begin())
	assert.Equal(t, 400*physic.KiloHertz, hw.Clock())
	require.NoError(t, b.SetClock(physic.MegaHertz))
	assert.Equal(t, physic.MegaHertz, hw.Clock())
	assert.ErrorIs(t, b.SetClock(0), errcode.InvalidParams)
}

func TestTransactionsSerialize(t *testing.T) {
	b, hw := newLeader(t)
	var mu sync.Mutex
	var frames [][]byte
	hw.Attach(0x42, func(w, r []byte) error {
		mu.Lock()
		frames = append(frames, append([]byte(nil), w...))
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for g := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 25 {
				if b.BeginTransmission(0x42) != nil {
					return
				}
				for range 8 {
					_ = b.WriteByte(byte(g))
				}
				b.EndTransmission(true)
			}
		}()
	}
	wg.Wait()

	require.Len(t, frames, 100)
	for _, f := range frames {
		require.Len(t, f, 8)
		assert.Equal(t, bytes.Repeat(f[:1], 8), f, "frames must not interleave")
	}
}

func TestEndAbandonsOpenTransaction(t *testing.T) {
	b, _ := newLeader(t)
	require.NoError(t, b.BeginTransmission(0x42))
	require.NoError(t, b.End())
	require.NoError(t, b.Begin())
	require.NoError(t, b.BeginTransmission(0x42))
	b.EndTransmission(false)
}

func TestFollowerReceive(t *testing.T) {
	f := &sim.I2CFollower{}
	b := New(sim.NewI2CBus(), f, WithFollowerBuffer(4))
	require.NoError(t, b.BeginFollower(0x33))
	assert.Equal(t, uint8(0x33), f.Address())
	assert.Equal(t, RoleFollower, b.Role())

	var counts []int
	b.OnReceive(func(n int) { counts = append(counts, n) })

	assert.Equal(t, 3, f.LeaderWrite([]byte{1, 2, 3, 4, 5}), "full queue nacks")
	assert.Equal(t, []int{1, 2, 3}, counts)
	assert.Equal(t, 3, b.Available())
	assert.Equal(t, 1, b.Read())
	assert.Equal(t, 2, b.Peek())
}

func TestFollowerRequest(t *testing.T) {
	f := &sim.I2CFollower{}
	b := New(sim.NewI2CBus(), f)
	require.NoError(t, b.BeginFollower(0x33))

	next := byte(0x80)
	b.OnRequest(func() {
		_ = b.WriteByte(next)
		next++
	})
	assert.Equal(t, []byte{0x80, 0x81, 0x82}, f.LeaderRead(3))

	// outside a leader read the follower cannot transmit
	_, err := b.Write([]byte{1})
	assert.ErrorIs(t, err, errcode.NoTransaction)

	f.LeaderWrite(nil)
	f.Fault()
	_, err = b.Write([]byte{1})
	assert.ErrorIs(t, err, errcode.NoTransaction)
}

func TestFollowerUnsupported(t *testing.T) {
	b := New(sim.NewI2CBus(), nil)
	assert.ErrorIs(t, b.BeginFollower(1), errcode.Unsupported)
}

func TestFollowerEnd(t *testing.T) {
	f := &sim.I2CFollower{}
	b := New(sim.NewI2CBus(), f)
	require.NoError(t, b.BeginFollower(0x33))
	f.LeaderWrite([]byte{1, 2})
	require.NoError(t, b.End())
	assert.Zero(t, b.Available())
	assert.Zero(t, f.LeaderWrite([]byte{1}))
}

func TestStatusErr(t *testing.T) {
	assert.NoError(t, Success.Err())
	assert.Equal(t, errcode.BufferFull, errcode.Of(DataTooLong.Err()))
	assert.Equal(t, errcode.Timeout, errcode.Of(Timeout.Err()))
	assert.Equal(t, errcode.Error, errcode.Of(NackData.Err()))
	assert.Equal(t, "nack_address", NackAddress.String())
}
