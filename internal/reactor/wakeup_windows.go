//go:build windows

package reactor

import "golang.org/x/sys/windows"

// EFD_CLOEXEC and EFD_NONBLOCK are unused on Windows but must exist so
// reactor.go's createWakeFd(0, EFD_CLOEXEC|EFD_NONBLOCK) call compiles
// on every platform.
const (
	EFD_CLOEXEC  = 0
	EFD_NONBLOCK = 0
)

// createWakeFd reports no wake fd: IOCP wakes via PostQueuedCompletionStatus
// instead of a readable fd, so Loop skips fd-based wake registration
// whenever the read end is negative.
func createWakeFd(initval uint, flags int) (int, int, error) {
	return -1, -1, nil
}

func closeWakeFd(wakeFd, wakeWriteFd int) error { return nil }

func drainWakeUpPipe(fd int) error { return nil }

// submitGenericWakeup posts a NULL completion to the IOCP handle, which
// causes GetQueuedCompletionStatus to return immediately.
func submitGenericWakeup(iocpHandle uintptr) error {
	return windows.PostQueuedCompletionStatus(windows.Handle(iocpHandle), 0, 0, nil)
}

func (l *Loop) wakeHandle() uintptr {
	return l.poller.(*iocpPoller).handle()
}
