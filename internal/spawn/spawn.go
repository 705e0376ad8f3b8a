// Package spawn starts a target process with optional pipe-backed
// stdio, handing the caller raw, non-blocking file descriptors instead
// of io.Reader/Writer wrappers so they can be driven through a poll
// loop.
package spawn

import (
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"

	"github.com/wine-bar/log-capturing-runner/internal/logging"
)

// Stdio selects how a single standard stream of the spawned process is
// wired up.
type Stdio int

const (
	// StdioDefault inherits the supervisor's own descriptor.
	StdioDefault Stdio = iota

	// StdioPipe creates a pipe; the parent-side end is returned in the
	// matching Spawned field.
	StdioPipe
)

// Spawned describes a process that was successfully started.
type Spawned struct {
	Pid int

	// StdinFd, StdoutFd, StderrFd are the parent-side ends of any pipes
	// requested via StdioPipe, or -1 where StdioDefault was used.
	StdinFd, StdoutFd, StderrFd int
}

// Process starts argv[0] with argv as its arguments and the requested
// stdio wiring. oldMask is accepted for interface symmetry with the
// process being asked to see default signal disposition; os/exec
// already resets the child's signal mask to the one captured at this
// program's startup before calling execve, so no separate restore is
// performed here.
func Process(argv []string, stdin, stdout, stderr Stdio, oldMask *unix.Sigset_t, log *logging.Logger) (Spawned, error) {
	ret := Spawned{Pid: -1, StdinFd: -1, StdoutFd: -1, StderrFd: -1}

	if len(argv) == 0 {
		return ret, fmt.Errorf("spawn: empty argv")
	}

	cmd := exec.Command(argv[0], argv[1:]...)

	var opened []*os.File
	closeOpened := func() {
		for _, f := range opened {
			f.Close()
		}
	}

	childStdin, parentStdinFd, isPipe, err := wireStdio(stdin, true, os.Stdin)
	if err != nil {
		closeOpened()
		return ret, err
	}
	cmd.Stdin = childStdin
	if isPipe {
		opened = append(opened, childStdin)
	}

	childStdout, parentStdoutFd, isPipe, err := wireStdio(stdout, false, os.Stdout)
	if err != nil {
		closeOpened()
		return ret, err
	}
	cmd.Stdout = childStdout
	if isPipe {
		opened = append(opened, childStdout)
	}

	childStderr, parentStderrFd, isPipe, err := wireStdio(stderr, false, os.Stderr)
	if err != nil {
		closeOpened()
		return ret, err
	}
	cmd.Stderr = childStderr
	if isPipe {
		opened = append(opened, childStderr)
	}

	if err := cmd.Start(); err != nil {
		closeOpened()
		releaseFd(parentStdinFd)
		releaseFd(parentStdoutFd)
		releaseFd(parentStderrFd)
		log.Errorf("spawn: starting %v failed: %v", argv, err)
		return ret, fmt.Errorf("spawn: start %v: %w", argv, err)
	}

	// The child has its own copy of the pipe ends now; close ours.
	closeOpened()

	for _, fd := range []int{parentStdinFd, parentStdoutFd, parentStderrFd} {
		if fd >= 0 {
			if err := unix.SetNonblock(fd, true); err != nil {
				log.Warnf("spawn: SetNonblock failed for fd %d: %v", fd, err)
			}
		}
	}

	return Spawned{
		Pid:      cmd.Process.Pid,
		StdinFd:  parentStdinFd,
		StdoutFd: parentStdoutFd,
		StderrFd: parentStderrFd,
	}, nil
}

// wireStdio creates a pipe when requested and returns the child-side
// *os.File to hand to exec.Cmd plus the parent-side raw fd to keep
// (-1 if StdioDefault). forRead selects which end becomes the child's:
// true means the child reads (stdin), false means the child writes
// (stdout/stderr). For StdioDefault, defaultFile is handed to the child
// as-is so it inherits the supervisor's own descriptor rather than
// falling through to os/exec's own default of /dev/null.
func wireStdio(mode Stdio, forRead bool, defaultFile *os.File) (childSide *os.File, parentFd int, isPipe bool, err error) {
	if mode == StdioDefault {
		return defaultFile, -1, false, nil
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, -1, false, fmt.Errorf("spawn: pipe: %w", err)
	}

	if forRead {
		return r, dupCloexec(w), true, nil
	}

	return w, dupCloexec(r), true, nil
}

// dupCloexec duplicates f's descriptor with the close-on-exec flag set
// and closes f, returning the duplicate (or -1 if the duplication
// fails). f is the parent-side pipe end, which is never handed to
// exec.Cmd; duplicating it gives the caller a raw descriptor that is
// not owned by an *os.File, so it stays open after f is closed.
func dupCloexec(f *os.File) int {
	fd, err := unix.FcntlInt(f.Fd(), unix.F_DUPFD_CLOEXEC, 0)
	f.Close()
	if err != nil {
		return -1
	}
	return fd
}

func releaseFd(fd int) {
	if fd >= 0 {
		unix.Close(fd)
	}
}
