package ringbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeadBufferAcceptsUpToCapacity(t *testing.T) {
	h := NewHeadBuffer(10)

	n := h.Append([]byte("hello"))
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("hello"), h.View())

	n = h.Append([]byte("world!!"))
	assert.Equal(t, 5, n) // only 5 bytes of room left
	assert.Equal(t, []byte("helloworld"), h.View())

	// Buffer is now full; further appends are silently dropped.
	n = h.Append([]byte("more"))
	assert.Equal(t, 0, n)
	assert.Equal(t, []byte("helloworld"), h.View())
}

func TestHeadBufferZeroCapacity(t *testing.T) {
	h := NewHeadBuffer(0)
	n := h.Append([]byte("anything"))
	assert.Equal(t, 0, n)
	assert.Empty(t, h.View())
}

func TestHeadBufferMonotonic(t *testing.T) {
	h := NewHeadBuffer(100)
	last := 0
	for _, chunk := range [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")} {
		h.Append(chunk)
		assert.GreaterOrEqual(t, h.Len(), last)
		assert.LessOrEqual(t, h.Len(), h.Cap())
		last = h.Len()
	}
}

func TestHeadBufferIsPrefix(t *testing.T) {
	h := NewHeadBuffer(6)
	h.Append([]byte("abc"))
	h.Append([]byte("defgh"))
	assert.Equal(t, []byte("abcdef"), h.View())
}
