package platform

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"periphcore/services/serial"
)

func TestHostPortNotOpen(t *testing.T) {
	h := NewHostPort("/dev/does-not-exist")

	n, err := h.Read(make([]byte, 4))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, ErrNotOpen)
	_, err = h.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.ErrorIs(t, h.SetBaudRate(9600), ErrNotOpen)
	assert.NoError(t, h.Deinit())
}

func TestHostPortOpenFailure(t *testing.T) {
	dev := filepath.Join(t.TempDir(), "tty-missing")
	h := NewHostPort(dev)
	err := h.Init(115200)
	require.Error(t, err)
	assert.Contains(t, err.Error(), dev)
}

func TestSerialOverMissingHostPort(t *testing.T) {
	p := serial.New("serial", NewHostPort(filepath.Join(t.TempDir(), "none")))
	assert.Error(t, p.Begin(115200))
	assert.False(t, p.Initialized())
}
