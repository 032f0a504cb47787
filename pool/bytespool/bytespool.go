// Package bytespool provides size-classed []byte pools for I/O buffers.
// Classes are powers of two from 512 B to 1 MiB; requests outside the range
// fall back to plain allocation.
package bytespool

import (
	"math/bits"
	"sync"
)

const (
	minShift = 9  // 512
	maxShift = 20 // 1 MiB
)

var classes [maxShift - minShift + 1]sync.Pool

func init() {
	for i := range classes {
		size := 1 << (minShift + i)
		classes[i].New = func() any {
			return make([]byte, size)
		}
	}
}

func pos(size int) int {
	shift := bits.Len(uint(size - 1))
	if shift < minShift {
		shift = minShift
	}
	return shift - minShift
}

// Get returns a slice of length size, capacity the next size class up.
func Get(size int) []byte {
	if size <= 0 {
		return nil
	}
	if size > 1<<maxShift {
		return make([]byte, size)
	}
	return classes[pos(size)].Get().([]byte)[:size]
}

// Put recycles a slice obtained from Get. Slices whose capacity is not a
// pooled class size are dropped.
func Put(b []byte) {
	c := cap(b)
	if c < 1<<minShift || c > 1<<maxShift || c&(c-1) != 0 {
		return
	}
	classes[pos(c)].Put(b[:c])
}
