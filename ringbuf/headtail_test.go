package ringbuf

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAllThrough(t *testing.T, b *HeadTailBuffer, payload []byte) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	done := make(chan error, 1)
	go func() {
		_, err := w.Write(payload)
		w.Close()
		done <- err
	}()

	for {
		status, err := b.AppendFromFd(int(r.Fd()))
		require.NoError(t, err)
		if status == StreamEOF {
			break
		}
	}
	require.NoError(t, <-done)
}

// S1: head + tail together exactly cover the input, no gap.
func TestHeadTailBufferNoGap(t *testing.T) {
	b, err := NewHeadTailBuffer(40, 60)
	require.NoError(t, err)

	payload := make([]byte, 100)
	for i := range payload {
		payload[i] = byte(i)
	}
	writeAllThrough(t, b, payload)

	head, tail, discarded := b.View()
	assert.Equal(t, payload[:40], head)
	assert.Equal(t, payload[40:], concatView(tail))
	assert.Equal(t, 0, discarded)
}

// S2: head + tail leave a 30-byte gap that must be counted, not stored.
func TestHeadTailBufferWithGap(t *testing.T) {
	b, err := NewHeadTailBuffer(40, 30)
	require.NoError(t, err)

	payload := make([]byte, 100)
	for i := range payload {
		payload[i] = byte(i)
	}
	writeAllThrough(t, b, payload)

	head, tail, discarded := b.View()
	assert.Equal(t, payload[:40], head)
	assert.Equal(t, payload[70:], concatView(tail))
	assert.Equal(t, 30, discarded)
}

func TestHeadTailBufferConservation(t *testing.T) {
	cases := []struct {
		headCap, tailCap, total int
	}{
		{10, 10, 5},    // N <= H
		{10, 10, 15},   // H < N <= H+T
		{10, 10, 1000}, // N > H+T
		{0, 5, 12},     // zero-capacity head
	}

	for _, tc := range cases {
		b, err := NewHeadTailBuffer(tc.headCap, tc.tailCap)
		require.NoError(t, err)

		payload := make([]byte, tc.total)
		for i := range payload {
			payload[i] = byte(i)
		}
		writeAllThrough(t, b, payload)

		head, tail, discarded := b.View()
		tailLen := 0
		for _, c := range tail {
			tailLen += len(c)
		}
		assert.Equal(t, tc.total, len(head)+discarded+tailLen, "case %+v", tc)
		assert.LessOrEqual(t, len(head), tc.headCap)
		assert.LessOrEqual(t, tailLen, tc.tailCap)
	}
}

func TestHeadTailBufferRejectsZeroTailCapacity(t *testing.T) {
	_, err := NewHeadTailBuffer(10, 0)
	assert.Error(t, err)
}
