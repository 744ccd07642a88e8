package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimReadEchoesCommandAndAutoIncrements(t *testing.T) {
	dev := NewSimDevice()
	dev.Poke(0x10, 0xAA)
	dev.Poke(0x11, 0xBB)
	dev.Poke(0x12, 0xCC)

	conn, err := dev.Open("")
	require.NoError(t, err)
	defer conn.Close()

	tx := []byte{0x10 | 0x80, 0, 0, 0}
	rx := make([]byte, len(tx))
	require.NoError(t, conn.Transfer(tx, rx))

	assert.Equal(t, []byte{0x90, 0xAA, 0xBB, 0xCC}, rx)
	assert.Equal(t, 1, dev.Stats().Reads)
}

func TestSimWriteStoresPayload(t *testing.T) {
	dev := NewSimDevice()
	conn, err := dev.Open("")
	require.NoError(t, err)
	defer conn.Close()

	tx := []byte{0x20, 1, 2}
	rx := make([]byte, len(tx))
	require.NoError(t, conn.Transfer(tx, rx))

	assert.Equal(t, byte(1), dev.Peek(0x20))
	assert.Equal(t, byte(2), dev.Peek(0x21))
	assert.Equal(t, 1, dev.Stats().Writes)
}

func TestSimFaultInjection(t *testing.T) {
	dev := NewSimDevice()
	conn, err := dev.Open("")
	require.NoError(t, err)
	defer conn.Close()

	dev.CorruptWrites(1)
	rx := make([]byte, 2)
	require.NoError(t, conn.Transfer([]byte{0x01, 0x0F}, rx))
	assert.Equal(t, byte(0xF0), dev.Peek(0x01), "first write should be inverted")
	require.NoError(t, conn.Transfer([]byte{0x01, 0x0F}, rx))
	assert.Equal(t, byte(0x0F), dev.Peek(0x01), "second write should be stored as is")

	dev.FailTransfers(2)
	assert.ErrorIs(t, conn.Transfer([]byte{0x81, 0}, rx), ErrSimFault)
	assert.ErrorIs(t, conn.Transfer([]byte{0x81, 0}, rx), ErrSimFault)
	assert.NoError(t, conn.Transfer([]byte{0x81, 0}, rx))

	dev.SetReadOnly(0x02, true)
	require.NoError(t, conn.Transfer([]byte{0x02, 0x55}, rx))
	assert.Equal(t, byte(0), dev.Peek(0x02))

	stats := dev.Stats()
	assert.Equal(t, 6, stats.Transfers)
	assert.Equal(t, 2, stats.Failed)
	assert.Equal(t, 1, stats.Corrupted)
}

func TestSimExclusiveOwnership(t *testing.T) {
	hub := NewSimHub()
	conn, err := hub.Open("bus0")
	require.NoError(t, err)

	_, err = hub.Open("bus0")
	assert.ErrorIs(t, err, ErrBusy)

	other, err := hub.Open("bus1")
	require.NoError(t, err)
	require.NoError(t, other.Close())

	require.NoError(t, conn.Close())
	assert.False(t, hub.Device("bus0").IsOpen())
	assert.ErrorIs(t, conn.Transfer([]byte{0x80, 0}, make([]byte, 2)), ErrClosed)

	conn, err = hub.Open("bus0")
	require.NoError(t, err)
	assert.NoError(t, conn.Close())
}

func TestSimConfigureAndFrequency(t *testing.T) {
	dev := NewSimDevice()
	conn, err := dev.Open("")
	require.NoError(t, err)
	defer conn.Close()

	cfg := DefaultBusConfig()
	require.NoError(t, conn.Configure(cfg))
	assert.Equal(t, cfg, dev.Stats().Configured)
	assert.Equal(t, int64(DefaultFrequency), dev.Stats().Frequency)

	require.NoError(t, conn.SetFrequency(8000000))
	assert.Equal(t, int64(8000000), dev.Stats().Frequency)
}

func TestTransferLengthMismatch(t *testing.T) {
	dev := NewSimDevice()
	conn, err := dev.Open("")
	require.NoError(t, err)
	defer conn.Close()

	err = conn.Transfer([]byte{0x80, 0}, make([]byte, 1))
	assert.ErrorIs(t, err, ErrLengthMismatch)
	assert.Equal(t, 0, dev.Stats().Transfers)
}
