package addon

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadAllBounded(t *testing.T) {
	data := []byte("Hello, World!")

	t.Run("below limit", func(t *testing.T) {
		b, err := readAllBounded(bytes.NewReader(data), 20)
		assert.NoError(t, err)
		assert.Equal(t, "Hello, World!", string(b))
	})

	t.Run("exact limit", func(t *testing.T) {
		b, err := readAllBounded(bytes.NewReader(data), int64(len(data)))
		assert.NoError(t, err)
		assert.Equal(t, "Hello, World!", string(b))
	})

	t.Run("beyond limit", func(t *testing.T) {
		_, err := readAllBounded(bytes.NewReader(data), 5)
		assert.ErrorIs(t, err, ErrReadBeyondLimit)
	})

	t.Run("unbounded", func(t *testing.T) {
		b, err := readAllBounded(bytes.NewReader(data), 0)
		assert.NoError(t, err)
		assert.Len(t, b, len(data))
	})
}
