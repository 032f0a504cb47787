package internal_test

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxenran/chops-net-ip/netip/internal"
)

func TestIOBaseStartStop(t *testing.T) {
	var b internal.IOBase

	assert.False(t, b.IsIOStarted())
	assert.False(t, b.IsWriteInProgress())
	qs := b.OutputQueueStats()
	assert.Equal(t, 0, qs.Size)
	assert.Equal(t, uint64(0), qs.Bytes)

	require.True(t, b.SetIOStarted())
	assert.True(t, b.IsIOStarted())
	assert.False(t, b.SetIOStarted())

	require.True(t, b.SetIOStopped())
	assert.False(t, b.IsIOStarted())
	assert.False(t, b.SetIOStopped())
}

func TestIOBaseWriteSetupBeforeStart(t *testing.T) {
	var b internal.IOBase

	assert.False(t, b.StartWriteSetup([]byte{1, 2, 3}, nil))
	assert.False(t, b.IsWriteInProgress())
	assert.Equal(t, 0, b.OutputQueueStats().Size)
}

func TestIOBaseFirstWriteNotQueued(t *testing.T) {
	var b internal.IOBase
	require.True(t, b.SetIOStarted())

	require.True(t, b.StartWriteSetup([]byte{1, 2, 3}, nil))
	assert.True(t, b.IsWriteInProgress())
	assert.Equal(t, 0, b.OutputQueueStats().Size)

	assert.False(t, b.StartWriteSetup([]byte{1, 2, 3}, nil))
	assert.True(t, b.IsWriteInProgress())
	assert.Equal(t, 1, b.OutputQueueStats().Size)
}

func TestIOBaseQueueAccounting(t *testing.T) {
	const numBufs = 20
	buf := []byte{0x20, 0x21, 0x22, 0x23, 0x24}
	endp := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 45678}

	var b internal.IOBase
	require.True(t, b.SetIOStarted())

	for i := 0; i < numBufs; i++ {
		b.StartWriteSetup(buf, endp)
	}
	qs := b.OutputQueueStats()
	assert.Equal(t, numBufs-1, qs.Size)
	assert.Equal(t, uint64((numBufs-1)*len(buf)), qs.Bytes)
	assert.True(t, b.IsWriteInProgress())

	for i := 0; i < numBufs-2; i++ {
		_, ok := b.GetNextElement()
		require.True(t, ok)
	}
	qs = b.OutputQueueStats()
	assert.Equal(t, 1, qs.Size)
	assert.Equal(t, uint64(len(buf)), qs.Bytes)

	e, ok := b.GetNextElement()
	require.True(t, ok)
	assert.Equal(t, buf, e.Buf)
	assert.Equal(t, endp, e.Dest)
	assert.True(t, b.IsWriteInProgress())
	qs = b.OutputQueueStats()
	assert.Equal(t, 0, qs.Size)
	assert.Equal(t, uint64(0), qs.Bytes)

	_, ok = b.GetNextElement()
	assert.False(t, ok)
	assert.False(t, b.IsWriteInProgress())
}
