package addon

import (
	"errors"
	"io"
)

// ErrReadBeyondLimit is returned when an addon response body is larger than the configured bound.
var ErrReadBeyondLimit = errors.New("read beyond limit")

// boundedReader reads from r and fails with ErrReadBeyondLimit as soon as
// more than limit bytes are available. A body of exactly limit bytes is accepted.
type boundedReader struct {
	r         io.Reader
	remaining int64
}

func newBoundedReader(r io.Reader, limit int64) *boundedReader {
	return &boundedReader{r: r, remaining: limit + 1}
}

func (b *boundedReader) Read(p []byte) (int, error) {
	if b.remaining <= 0 {
		return 0, ErrReadBeyondLimit
	}
	if int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}
	n, err := b.r.Read(p)
	b.remaining -= int64(n)
	if b.remaining <= 0 {
		// the extra probe byte arrived, the body is over the limit
		return n - 1, ErrReadBeyondLimit
	}
	return n, err
}

// readAllBounded reads the whole body, or fails when it exceeds limit bytes. A non-positive limit disables the bound.
func readAllBounded(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	return io.ReadAll(newBoundedReader(r, limit))
}
