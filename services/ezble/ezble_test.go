package ezble

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/bluetooth"

	"periphcore/errcode"
	"periphcore/hal"
	"periphcore/internal/sim"
	"periphcore/x/ring"
)

const (
	testConn    uint8  = 1
	testService uint32 = 0x00010020
	testChar    uint16 = 42
)

func started(t *testing.T, role Role, opts ...Option) (*Transport, *sim.BLEStack) {
	t.Helper()
	stack := sim.NewBLEStack()
	tr := New(stack, opts...)
	tr.HandleEvent(hal.BLEEvent{Kind: hal.BLEBoot})
	require.NoError(t, tr.Begin(role, "periph"))
	require.Equal(t, Disconnected, tr.State())
	return tr, stack
}

func connect(tr *Transport) {
	tr.HandleEvent(hal.BLEEvent{Kind: hal.BLEConnectionOpened, Connection: testConn})
	tr.HandleEvent(hal.BLEEvent{Kind: hal.BLEServiceDiscovered, Connection: testConn, Service: testService})
	tr.HandleEvent(hal.BLEEvent{Kind: hal.BLEProcedureCompleted, Connection: testConn})
	tr.HandleEvent(hal.BLEEvent{Kind: hal.BLECharacteristicDiscovered, Connection: testConn, Characteristic: testChar})
	tr.HandleEvent(hal.BLEEvent{Kind: hal.BLEProcedureCompleted, Connection: testConn})
}

func complete(tr *Transport, result uint16) {
	tr.HandleEvent(hal.BLEEvent{Kind: hal.BLEProcedureCompleted, Connection: testConn, Result: result})
}

func sent(stack *sim.BLEStack) [][]byte {
	var out [][]byte
	for _, c := range stack.Calls("write") {
		out = append(out, c.Data)
	}
	return out
}

func TestBeginBeforeBootWaits(t *testing.T) {
	stack := sim.NewBLEStack()
	tr := New(stack)

	require.NoError(t, tr.BeginServer("periph"))
	assert.Equal(t, Boot, tr.State())
	adv, _ := stack.Radio()
	assert.False(t, adv)

	h, ok := stack.HandleFor(DeviceNameUUID)
	require.True(t, ok)
	assert.Equal(t, []byte("periph"), stack.Attribute(h))
	h, ok = stack.HandleFor(DataCharacteristicUUID)
	require.True(t, ok)
	assert.Equal(t, []byte{0}, stack.Attribute(h))
	assert.Len(t, stack.Calls("commit"), 1)

	tr.HandleEvent(hal.BLEEvent{Kind: hal.BLEBoot})
	assert.Equal(t, Disconnected, tr.State())
	adv, _ = stack.Radio()
	assert.True(t, adv)
}

func TestBeginAfterBootStartsRadio(t *testing.T) {
	tr, stack := started(t, Client)
	_, scanning := stack.Radio()
	assert.True(t, scanning)
	assert.Equal(t, Client, tr.Role())

	require.NoError(t, tr.Begin(Server, "other"))
	assert.Equal(t, Client, tr.Role(), "begin is a no-op once started")
	assert.Equal(t, "periph", tr.Name())
}

func TestConnectionHandshake(t *testing.T) {
	tr, stack := started(t, Server)
	connects := 0
	require.NoError(t, tr.OnConnect(func() { connects++ }))

	connect(tr)

	assert.Equal(t, Ready, tr.State())
	assert.True(t, tr.Connected())
	assert.Equal(t, 1, connects)

	ds := stack.Calls("discover_services")
	require.Len(t, ds, 1)
	assert.Equal(t, ServiceUUID, ds[0].UUID)
	dc := stack.Calls("discover_characteristics")
	require.Len(t, dc, 1)
	assert.Equal(t, testService, dc[0].Handle)
	assert.Equal(t, DataCharacteristicUUID, dc[0].UUID)
}

func TestMissingServiceStalls(t *testing.T) {
	tr, stack := started(t, Server)
	tr.HandleEvent(hal.BLEEvent{Kind: hal.BLEConnectionOpened, Connection: testConn})
	complete(tr, 0)

	assert.Equal(t, DiscoverServices, tr.State())
	assert.Empty(t, stack.Calls("discover_characteristics"))
}

func TestLargeWriteIsChunked(t *testing.T) {
	tr, stack := started(t, Server)
	connect(tr)

	payload := bytes.Repeat([]byte("0123456789"), 60)
	n, err := tr.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, 600, n)
	assert.Equal(t, Busy, tr.State())
	require.Len(t, sent(stack), 1, "one write in flight")

	complete(tr, 0)
	require.Len(t, sent(stack), 2)
	complete(tr, 0)
	require.Len(t, sent(stack), 3)
	complete(tr, 0)

	chunks := sent(stack)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 250)
	assert.Len(t, chunks[1], 250)
	assert.Len(t, chunks[2], 100)
	assert.Equal(t, payload, bytes.Join(chunks, nil))
	assert.Equal(t, uint32(testChar), stack.Calls("write")[0].Handle)
	assert.Equal(t, Ready, tr.State())
	assert.Zero(t, tr.Pending())
}

func TestWriteWhileDisconnectedIsQueued(t *testing.T) {
	tr, stack := started(t, Server)

	n, err := tr.WriteString("early")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.ErrorIs(t, tr.Flush(), errcode.NotReady)
	assert.Empty(t, sent(stack))

	connect(tr)
	require.Len(t, sent(stack), 1)
	assert.Equal(t, []byte("early"), sent(stack)[0])
}

func TestQueuedPayloadDrainsOnCompletions(t *testing.T) {
	tr, stack := started(t, Server)

	payload := bytes.Repeat([]byte("abcdefghij"), 60)
	n, err := tr.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, 600, n)
	assert.Equal(t, 600, tr.Pending())
	assert.Empty(t, sent(stack))

	connect(tr)
	assert.Equal(t, Busy, tr.State())
	require.Len(t, sent(stack), 1)
	complete(tr, 0)
	require.Len(t, sent(stack), 2)
	complete(tr, 0)
	require.Len(t, sent(stack), 3)
	complete(tr, 0)

	chunks := sent(stack)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 250)
	assert.Len(t, chunks[1], 250)
	assert.Len(t, chunks[2], 100)
	assert.Equal(t, payload, bytes.Join(chunks, nil))
	assert.Equal(t, Ready, tr.State())
	assert.Zero(t, tr.Pending())
}

func TestWriteWhileBusyIsNotLost(t *testing.T) {
	tr, stack := started(t, Server)
	connect(tr)

	_, err := tr.WriteString("first")
	require.NoError(t, err)
	_, err = tr.WriteString("second")
	require.NoError(t, err)
	assert.ErrorIs(t, tr.Flush(), errcode.Busy)

	complete(tr, 0)
	require.Len(t, sent(stack), 2)
	assert.Equal(t, []byte("second"), sent(stack)[1])
}

func TestRejectedWriteIsRetried(t *testing.T) {
	tr, stack := started(t, Server)
	connect(tr)

	_, err := tr.WriteString("again")
	require.NoError(t, err)
	complete(tr, 0x0401)

	chunks := sent(stack)
	require.Len(t, chunks, 2)
	assert.Equal(t, chunks[0], chunks[1])
	complete(tr, 0)
	assert.Zero(t, tr.Pending())
}

func TestFailedIssueKeepsData(t *testing.T) {
	tr, stack := started(t, Server)
	connect(tr)

	stack.FailWrites = true
	n, err := tr.WriteString("keep")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, Ready, tr.State())
	assert.Equal(t, 4, tr.Pending())

	stack.FailWrites = false
	require.NoError(t, tr.Flush())
	assert.Equal(t, Busy, tr.State())
	assert.Equal(t, []byte("keep"), sent(stack)[0])
}

func TestTxOverflow(t *testing.T) {
	tr, _ := started(t, Server, WithTxBuffer(10))
	n, err := tr.WriteString("0123456789AB")
	assert.Equal(t, 10, n)
	assert.ErrorIs(t, err, errcode.BufferFull)
}

func TestPrintfTruncates(t *testing.T) {
	tr, _ := started(t, Server)
	n, err := tr.Printf("%s", strings.Repeat("x", 100))
	require.NoError(t, err)
	assert.Equal(t, printfBuffer-1, n)
}

func TestReceive(t *testing.T) {
	tr, stack := started(t, Server, WithRxBuffer(4))
	var got []int
	require.NoError(t, tr.OnReceive(func(n int) { got = append(got, n) }))
	connect(tr)

	dataChar, ok := stack.HandleFor(DataCharacteristicUUID)
	require.True(t, ok)

	tr.HandleEvent(hal.BLEEvent{Kind: hal.BLEAttributeWritten, Attribute: dataChar + 100, Data: []byte("no")})
	assert.Zero(t, tr.Available(), "foreign attribute ignored")

	tr.HandleEvent(hal.BLEEvent{Kind: hal.BLEAttributeWritten, Attribute: dataChar, Data: []byte("hello")})
	assert.Equal(t, []int{4}, got)
	assert.Equal(t, 4, tr.Available())
	assert.Equal(t, int('h'), tr.Peek())

	buf := make([]byte, 8)
	assert.Equal(t, 4, tr.ReadBytes(buf))
	assert.Equal(t, "hell", string(buf[:4]))
	assert.Equal(t, ring.Empty, tr.Read())
}

func TestDisconnectRestartsRadio(t *testing.T) {
	tr, stack := started(t, Server)
	disconnects := 0
	require.NoError(t, tr.OnDisconnect(func() { disconnects++ }))
	connect(tr)

	_, err := tr.WriteString("pending")
	require.NoError(t, err)
	tr.HandleEvent(hal.BLEEvent{Kind: hal.BLEConnectionClosed, Connection: testConn})

	assert.Equal(t, Disconnected, tr.State())
	assert.Equal(t, 1, disconnects)
	assert.Len(t, stack.Calls("start_advertising"), 2)
	assert.Equal(t, 7, tr.Pending(), "unacknowledged data is kept")

	connect(tr)
	chunks := sent(stack)
	require.Len(t, chunks, 2)
	assert.Equal(t, []byte("pending"), chunks[1])
}

func TestClientConnectsOnMatchingName(t *testing.T) {
	tr, stack := started(t, Client)
	addr := bluetooth.MAC{1, 2, 3, 4, 5, 6}

	other := []byte{0x02, 0x01, 0x06, 0x06, adCompleteLocalName, 'o', 't', 'h', 'e', 'r'}
	tr.HandleEvent(hal.BLEEvent{Kind: hal.BLEScanReport, Address: addr, Data: other})
	assert.Empty(t, stack.Calls("connect"))

	match := []byte{0x02, 0x01, 0x06, 0x07, adCompleteLocalName, 'p', 'e', 'r', 'i', 'p', 'h'}
	tr.HandleEvent(hal.BLEEvent{Kind: hal.BLEScanReport, Address: addr, Data: match})
	conns := stack.Calls("connect")
	require.Len(t, conns, 1)
	assert.Equal(t, addr, conns[0].Address)
	_, scanning := stack.Radio()
	assert.False(t, scanning)
}

func TestServerIgnoresScanReports(t *testing.T) {
	tr, stack := started(t, Server)
	match := []byte{0x07, adCompleteLocalName, 'p', 'e', 'r', 'i', 'p', 'h'}
	tr.HandleEvent(hal.BLEEvent{Kind: hal.BLEScanReport, Data: match})
	assert.Empty(t, stack.Calls("connect"))
}

func TestEndResets(t *testing.T) {
	tr, stack := started(t, Server)
	called := false
	require.NoError(t, tr.OnDisconnect(func() { called = true }))
	connect(tr)
	_, err := tr.WriteString("x")
	require.NoError(t, err)

	require.NoError(t, tr.End())
	assert.Equal(t, NotStarted, tr.State())
	assert.Len(t, stack.Calls("close"), 1)
	assert.Zero(t, tr.Pending())
	adv, _ := stack.Radio()
	assert.False(t, adv)

	tr.HandleEvent(hal.BLEEvent{Kind: hal.BLEConnectionClosed, Connection: testConn})
	assert.False(t, called)
	assert.Equal(t, NotStarted, tr.State())

	require.NoError(t, tr.BeginServer("periph"))
	assert.Equal(t, Disconnected, tr.State(), "stack already booted")
	assert.Len(t, stack.Calls("commit"), 1, "database is built once")
}

func TestEndResetsWhenCloseFails(t *testing.T) {
	tr, stack := started(t, Server)
	connect(tr)
	_, err := tr.WriteString("x")
	require.NoError(t, err)
	stack.FailClose = true

	err = tr.End()
	assert.Equal(t, errcode.Error, errcode.Of(err))
	assert.Equal(t, NotStarted, tr.State())
	assert.False(t, tr.Connected())
	assert.Zero(t, tr.Pending())

	stack.FailClose = false
	require.NoError(t, tr.BeginServer("periph"))
	assert.Equal(t, Disconnected, tr.State())
}

func TestSetName(t *testing.T) {
	tr, stack := started(t, Server)
	require.NoError(t, tr.SetName("renamed"))
	h, _ := stack.HandleFor(DeviceNameUUID)
	assert.Equal(t, []byte("renamed"), stack.Attribute(h))
	assert.ErrorIs(t, tr.SetName(strings.Repeat("n", MaxNameLen+1)), errcode.InvalidParams)
}

func TestNilCallbacks(t *testing.T) {
	tr := New(sim.NewBLEStack())
	assert.ErrorIs(t, tr.OnReceive(nil), errcode.NilCallback)
	assert.ErrorIs(t, tr.OnConnect(nil), errcode.NilCallback)
	assert.ErrorIs(t, tr.OnDisconnect(nil), errcode.NilCallback)
}

func TestCompleteLocalName(t *testing.T) {
	tests := []struct {
		name string
		adv  []byte
		want bool
	}{
		{"match", []byte{0x03, 0x09, 'a', 'b'}, true},
		{"prefix only", []byte{0x04, 0x09, 'a', 'b', 'c'}, false},
		{"short name type", []byte{0x03, 0x08, 'a', 'b'}, false},
		{"truncated", []byte{0x09, 0x09, 'a', 'b'}, false},
		{"zero length", []byte{0x00, 0x09}, false},
		{"empty", nil, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, completeLocalName(tc.adv, "ab"))
		})
	}
}
