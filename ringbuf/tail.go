package ringbuf

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/wine-bar/log-capturing-runner/internal/constants"
)

// TailBuffer keeps only the last N bytes read from a descriptor,
// possibly across many reads. Think of the Unix "tail" utility. It is
// implemented as a ring buffer so that old data never has to be
// memmove'd out of the way; the stored bytes are therefore not
// generally contiguous.
type TailBuffer struct {
	data     []byte
	capacity int

	// begin is where the stored data starts, relative to data. Always
	// in [0, capacity).
	begin int

	// size is the number of bytes currently stored. begin+size may
	// exceed capacity, which indicates the data wraps around.
	size int
}

// NewTailBuffer allocates a ring of the given capacity. A capacity of
// zero doesn't make sense for a ring buffer and is rejected.
func NewTailBuffer(capacity int) (*TailBuffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ringbuf: tail buffer capacity must be positive, got %d", capacity)
	}
	return &TailBuffer{
		data:     make([]byte, capacity),
		capacity: capacity,
	}, nil
}

// View returns the buffer's logical content as one or two byte slices
// (none when the buffer is empty), ordered oldest-first. There are
// never more than two: the first spans
// from begin to the end of the stored data or the end of the backing
// array, whichever comes first; the second, present only when the data
// wraps, spans from offset zero to the logical end.
func (t *TailBuffer) View() [][]byte {
	var chunks [][]byte

	firstLen := min(t.size, t.capacity-t.begin)
	if firstLen > 0 {
		chunks = append(chunks, t.data[t.begin:t.begin+firstLen])
	}

	secondLen := t.begin + t.size - t.capacity
	if secondLen > 0 {
		chunks = append(chunks, t.data[:secondLen])
	}

	return chunks
}

// reservedSpace is a set of writable byte slices inside the ring, good
// for exactly one vectored read, plus the total number of bytes they
// span.
type reservedSpace struct {
	chunks [][]byte
	total  int
}

func (r *reservedSpace) add(data []byte) {
	if len(data) == 0 {
		return
	}
	r.chunks = append(r.chunks, data)
	r.total += len(data)
}

// copyInto copies src into the chunks of r in order, stopping once src
// is exhausted. Used on the scratch-buffer path, where data has already
// been read into a temporary buffer and now needs to land in the
// reserved ring positions.
func (r *reservedSpace) copyInto(src []byte) {
	for _, chunk := range r.chunks {
		if len(src) == 0 {
			return
		}
		n := copy(chunk, src)
		src = src[n:]
	}
}

// reserveForAppend reserves up to maxBytes of writable space for an
// upcoming append, evicting the oldest stored bytes if free space runs
// out. Evicted bytes are handed to sink (if non-nil) before the space
// they occupied is reused, so the sink can copy them out first.
//
// When maxBytes <= capacity, the full maxBytes is always reserved:
// free space plus the entire existing data (at most two chunks) together
// span the whole buffer.
func (t *TailBuffer) reserveForAppend(maxBytes int, sink Sink) reservedSpace {
	var rs reservedSpace

	// Free chunk 1: from the end of the data to either the end of the
	// buffer or the beginning of the data, whichever comes first.
	freeBegin := (t.begin + t.size) % t.capacity
	var freeEnd int
	if t.begin+t.size == freeBegin {
		freeEnd = t.capacity
	} else {
		freeEnd = t.begin
	}
	if size := min(freeEnd-freeBegin, maxBytes-rs.total); size > 0 {
		rs.add(t.data[freeBegin : freeBegin+size])
	}

	// Free chunk 2: from the beginning of the buffer to the beginning
	// of the data, only applicable when the existing data ends before
	// the end of the buffer (when it ends exactly there, free chunk 1
	// already starts at offset zero and covers this region).
	if t.begin+t.size < t.capacity {
		if size := min(t.begin, maxBytes-rs.total); size > 0 {
			rs.add(t.data[:size])
		}
	}

	// Still short: evict from the logical front. At most two data
	// chunks can exist, so at most two iterations are needed.
	for i := 0; i < 2 && rs.total < maxBytes; i++ {
		dataChunkLen := min(t.size, t.capacity-t.begin)
		if dataChunkLen <= 0 {
			continue
		}

		discard := min(dataChunkLen, maxBytes-rs.total)
		discarded := t.data[t.begin : t.begin+discard]

		if sink != nil {
			sink.Absorb(discarded)
		}

		t.begin = (t.begin + discard) % t.capacity
		t.size -= discard

		rs.add(discarded)
	}

	return rs
}

// AppendFromFd reads whatever is currently available from fd and stores
// it, evicting the oldest bytes through sink as needed. The returned
// StreamStatus classifies the outcome; on StreamError the returned error
// should be checked with IsTransient.
func (t *TailBuffer) AppendFromFd(fd int, sink Sink) (StreamStatus, error) {
	available, err := unix.IoctlGetInt(fd, unix.FIONREAD)
	if err != nil {
		return StreamError, err
	}

	if available > 0 {
		rs := t.reserveForAppend(available, sink)

		n, err := unix.Readv(fd, rs.chunks)
		if err != nil {
			return StreamError, err
		}
		if n == 0 {
			return StreamEOF, nil
		}

		t.size += n
		return StreamAlive, nil
	}

	// bytesAvailableForReading == 0 is ambiguous between EOF, error, and
	// "nothing ready yet" (a spurious wakeup). Read into a scratch
	// buffer to disambiguate, then copy whatever came back into
	// newly-reserved ring space.
	scratchLen := constants.ScratchReadSize
	if t.capacity < scratchLen {
		scratchLen = t.capacity
	}
	scratch := make([]byte, scratchLen)

	n, err := unix.Read(fd, scratch)
	if err != nil {
		return StreamError, err
	}
	if n == 0 {
		return StreamEOF, nil
	}

	rs := t.reserveForAppend(n, sink)
	rs.copyInto(scratch[:n])
	t.size += n

	return StreamAlive, nil
}
