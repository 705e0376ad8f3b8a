// Package signalfd arms a signalfd for a fixed set of signals and
// blocks them in the calling thread's signal mask so delivery only
// ever happens through the fd, never through an asynchronous handler.
package signalfd

import (
	"io"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Source is an armed signalfd together with the signal mask state
// needed to undo the blocking on Close.
type Source struct {
	fd    int
	saved unix.Sigset_t
}

// Open blocks signals in the current thread's signal mask and returns
// a Source backed by a non-blocking, close-on-exec signalfd for
// exactly that set. The caller is responsible for calling Close to
// restore the prior mask.
func Open(signals ...unix.Signal) (*Source, error) {
	var set unix.Sigset_t
	for _, sig := range signals {
		addSignal(&set, sig)
	}

	var saved unix.Sigset_t
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &set, &saved); err != nil {
		return nil, err
	}

	fd, err := unix.Signalfd(-1, &set, unix.SFD_CLOEXEC|unix.SFD_NONBLOCK)
	if err != nil {
		unix.PthreadSigmask(unix.SIG_SETMASK, &saved, nil)
		return nil, err
	}

	return &Source{fd: fd, saved: saved}, nil
}

func addSignal(set *unix.Sigset_t, sig unix.Signal) {
	bit := uint(sig) - 1
	set.Val[bit/64] |= 1 << (bit % 64)
}

// Fd returns the underlying descriptor, suitable for poll(2).
func (s *Source) Fd() int {
	return s.fd
}

// Read consumes one pending signalfd_siginfo record. Callers should
// only call this once poll has reported the fd readable; it does not
// block on its own since the fd was opened non-blocking.
func (s *Source) Read() (unix.SignalfdSiginfo, error) {
	var info unix.SignalfdSiginfo
	buf := (*[unsafe.Sizeof(info)]byte)(unsafe.Pointer(&info))[:]

	n, err := unix.Read(s.fd, buf)
	if err != nil {
		return info, err
	}
	if n != len(buf) {
		return info, io.ErrUnexpectedEOF
	}
	return info, nil
}

// Close closes the signalfd and restores the signal mask saved by
// Open.
func (s *Source) Close() error {
	err := unix.Close(s.fd)
	unix.PthreadSigmask(unix.SIG_SETMASK, &s.saved, nil)
	return err
}
