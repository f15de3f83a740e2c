package sco

import (
	"testing"

	"golang.org/x/sys/unix"
)

// socketpair creates a connected, non-blocking AF_UNIX SOCK_STREAM pair to
// stand in for a real SCO/PCM file descriptor in tests: a loopback fd
// instead of real hardware.
func socketpair(t *testing.T) (a, b int, err error) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, -1, err
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			closeFDQuiet(fds[0])
			closeFDQuiet(fds[1])
			return -1, -1, err
		}
	}
	return fds[0], fds[1], nil
}

func closeFDQuiet(fd int) {
	if fd >= 0 {
		_ = unix.Close(fd)
	}
}
