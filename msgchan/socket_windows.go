//go:build windows

package msgchan

import "errors"

// errWouldBlock mirrors socket_unix.go's sentinel; kept distinct per
// platform file so neither side needs a shared build-tagged const.
var errWouldBlock = errors.New("msgchan: operation would block")

// newSocketPair: AF_UNIX socketpair has no Windows kernel equivalent.
// internal/reactor already carries the same split (its IOCP poller
// takes a materially different fd model from epoll/kqueue); msgchan
// inherits that boundary rather than papering over it with a fake pipe
// that wouldn't expose a child-process-joinable "fd://" descriptor.
func newSocketPair() (fd0, fd1 int, err error) {
	return -1, -1, errors.New("msgchan: kernel socket pairs are not supported on windows")
}

func sockRead(fd int, buf []byte) (int, error) {
	return 0, errors.New("msgchan: unsupported on windows")
}

func sockWrite(fd int, buf []byte) (int, error) {
	return 0, errors.New("msgchan: unsupported on windows")
}

func sockClose(fd int) error { return nil }
