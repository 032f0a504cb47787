package netip_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxenran/chops-net-ip/netip"
)

func TestVariableLenFrame(t *testing.T) {
	frame := netip.VariableLenFrame()

	msg := netip.MakeVariableLenMsg([]byte{0x20, 0x21, 0x22, 0x23, 0x24})
	require.Len(t, msg, 7)

	// Header read first: the framer asks for the body.
	assert.Equal(t, 5, frame(msg[:2]))
	// Full accumulation: message complete.
	assert.Equal(t, 0, frame(msg))

	assert.Equal(t, []byte{0x20, 0x21, 0x22, 0x23, 0x24}, netip.VariableLenBody(msg))
}

func TestVariableLenFrameEmptyBody(t *testing.T) {
	frame := netip.VariableLenFrame()

	msg := netip.MakeVariableLenMsg(nil)
	require.Len(t, msg, netip.VariableLenHeaderSize)
	assert.Equal(t, 0, frame(msg))
	assert.Empty(t, netip.VariableLenBody(msg))
}

func TestMakeVariableLenMsgTooLarge(t *testing.T) {
	assert.Panics(t, func() {
		netip.MakeVariableLenMsg(make([]byte, 0x10000))
	})
}
