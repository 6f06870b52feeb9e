//go:build darwin

package reactor

import (
	"syscall"

	"golang.org/x/sys/unix"
)

const (
	EFD_CLOEXEC  = unix.O_CLOEXEC
	EFD_NONBLOCK = unix.O_NONBLOCK
)

// createWakeFd creates a self-pipe for wake-up notifications; kqueue
// has no eventfd equivalent so Darwin mirrors Linux's wake semantics
// over a plain pipe instead.
func createWakeFd(initval uint, flags int) (int, int, error) {
	_ = initval
	_ = flags

	var fds [2]int
	if err := syscall.Pipe(fds[:]); err != nil {
		return 0, 0, err
	}
	cleanup := func() {
		syscall.Close(fds[0])
		syscall.Close(fds[1])
	}
	syscall.CloseOnExec(fds[0])
	syscall.CloseOnExec(fds[1])
	if err := syscall.SetNonblock(fds[0], true); err != nil {
		cleanup()
		return 0, 0, err
	}
	if err := syscall.SetNonblock(fds[1], true); err != nil {
		cleanup()
		return 0, 0, err
	}
	return fds[0], fds[1], nil
}

func drainWakeUpPipe(fd int) error {
	var buf [512]byte
	for {
		if _, err := syscall.Read(fd, buf[:]); err != nil {
			return nil
		}
	}
}

func closeWakeFd(wakeFd, wakeWriteFd int) error {
	if wakeFd >= 0 {
		_ = syscall.Close(wakeFd)
	}
	if wakeWriteFd >= 0 && wakeWriteFd != wakeFd {
		_ = syscall.Close(wakeWriteFd)
	}
	return nil
}

func submitGenericWakeup(_ uintptr) error { return nil }

func (l *Loop) wakeHandle() uintptr { return 0 }
