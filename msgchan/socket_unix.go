//go:build linux || darwin

package msgchan

import (
	"errors"

	"golang.org/x/sys/unix"
)

// errWouldBlock is the sentinel sockRead/sockWrite return for EAGAIN,
// kept platform-neutral so transport.go never imports unix directly.
var errWouldBlock = errors.New("msgchan: operation would block")

// newSocketPair opens a kernel socket pair ("Opens a kernel socket
// pair", spec §4.F step 1), both ends already set non-blocking.
func newSocketPair() (fd0, fd1 int, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, -1, err
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fds[0])
			_ = unix.Close(fds[1])
			return -1, -1, err
		}
	}
	return fds[0], fds[1], nil
}

func sockRead(fd int, buf []byte) (int, error) {
	n, err := unix.Read(fd, buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, errWouldBlock
		}
		return 0, err
	}
	return n, nil
}

func sockWrite(fd int, buf []byte) (int, error) {
	n, err := unix.Write(fd, buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, errWouldBlock
		}
		return 0, err
	}
	return n, nil
}

func sockClose(fd int) error { return unix.Close(fd) }
