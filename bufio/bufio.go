package bufio

import (
	"bufio"

	"github.com/pkg/errors"
)

// PopReader returns the next n bytes from b and consumes them. The returned
// slice aliases b's internal buffer and is only valid until the next read.
func PopReader(b *bufio.Reader, n int) ([]byte, error) {
	buf, err := b.Peek(n)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if _, err = b.Discard(n); err != nil {
		return nil, errors.WithStack(err)
	}
	return buf, nil
}

// PopReaderInto consumes the next len(dst) bytes from b into dst. Unlike
// PopReader the result does not alias b's buffer, so it can accumulate
// across reads.
func PopReaderInto(b *bufio.Reader, dst []byte) error {
	src, err := PopReader(b, len(dst))
	if err != nil {
		return err
	}
	copy(dst, src)
	return nil
}
