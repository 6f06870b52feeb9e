//go:build linux

package reactor

import "golang.org/x/sys/unix"

const (
	EFD_CLOEXEC  = unix.EFD_CLOEXEC
	EFD_NONBLOCK = unix.EFD_NONBLOCK
)

// createWakeFd creates an eventfd used to wake Run out of a blocking
// poll when Submit or Stop is called from another goroutine.
func createWakeFd(initval uint, flags int) (int, int, error) {
	fd, err := unix.Eventfd(initval, flags)
	return fd, fd, err
}

func closeWakeFd(wakeFd, wakeWriteFd int) error {
	if wakeFd >= 0 {
		return unix.Close(wakeFd)
	}
	return nil
}

// drainWakeUpPipe consumes the eventfd counter so the watcher does not
// fire again until the next wake.
func drainWakeUpPipe(fd int) error {
	var buf [8]byte
	for {
		if _, err := unix.Read(fd, buf[:]); err != nil {
			return nil
		}
	}
}

// submitGenericWakeup exists for API symmetry with Windows; Linux
// always wakes via the eventfd write path in Loop.wake.
func submitGenericWakeup(_ uintptr) error { return nil }

func (l *Loop) wakeHandle() uintptr { return 0 }
