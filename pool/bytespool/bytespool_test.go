package bytespool_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oxenran/chops-net-ip/pool/bytespool"
)

func TestGetLengthAndClass(t *testing.T) {
	for _, size := range []int{1, 100, 512, 513, 4096, 65536, 1 << 20} {
		b := bytespool.Get(size)
		assert.Len(t, b, size)
		assert.GreaterOrEqual(t, cap(b), size)
		bytespool.Put(b)
	}
}

func TestGetOutOfRange(t *testing.T) {
	assert.Nil(t, bytespool.Get(0))
	b := bytespool.Get(1<<20 + 1)
	assert.Len(t, b, 1<<20+1)
	bytespool.Put(b) // dropped, not pooled
}

func TestRecycleRoundTrip(t *testing.T) {
	b := bytespool.Get(1000)
	b[0] = 0x42
	bytespool.Put(b)
	c := bytespool.Get(1024)
	assert.Len(t, c, 1024)
	bytespool.Put(c)
}
