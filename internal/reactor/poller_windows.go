//go:build windows

package reactor

import (
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/windows"
)

const maxFDs = 65536

// iocpPoller drives readiness notification with an I/O completion port.
//
// Unlike epoll/kqueue, IOCP does not report readiness for arbitrary fds
// directly; real use requires overlapped reads/writes per handle. Loop
// registers no wake fd here: a wake-up is a NULL completion posted to
// the port, which makes Poll return. Registered fds are associated with
// the port and their callbacks tracked, but no readiness is reported
// for them.
type iocpPoller struct {
	iocp   windows.Handle
	fds    []fdInfo
	fdMu   sync.RWMutex
	closed bool
}

type fdInfo struct {
	callback IOCallback
	events   IOEvent
	active   bool
}

func newPoller() poller { return &iocpPoller{iocp: windows.InvalidHandle} }

func (p *iocpPoller) Init() error {
	iocp, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return err
	}
	p.iocp = iocp
	p.fds = make([]fdInfo, maxFDs)
	return nil
}

func (p *iocpPoller) Close() error {
	p.closed = true
	if p.iocp != 0 {
		return windows.CloseHandle(p.iocp)
	}
	return nil
}

func (p *iocpPoller) RegisterFD(fd int, events IOEvent, cb IOCallback) error {
	if fd < 0 || fd >= maxFDs {
		return ErrFDOutOfRange
	}
	p.fdMu.Lock()
	if p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrFDAlreadyRegistered
	}
	p.fds[fd] = fdInfo{callback: cb, events: events, active: true}
	p.fdMu.Unlock()
	_, err := windows.CreateIoCompletionPort(windows.Handle(fd), p.iocp, 0, 0)
	return err
}

func (p *iocpPoller) UnregisterFD(fd int) error {
	if fd < 0 || fd >= maxFDs {
		return ErrFDOutOfRange
	}
	p.fdMu.Lock()
	if !p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrFDNotRegistered
	}
	p.fds[fd] = fdInfo{}
	p.fdMu.Unlock()
	return nil
}

func (p *iocpPoller) ModifyFD(fd int, events IOEvent) error {
	if fd < 0 || fd >= maxFDs {
		return ErrFDOutOfRange
	}
	p.fdMu.Lock()
	if !p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrFDNotRegistered
	}
	p.fds[fd].events = events
	p.fdMu.Unlock()
	return nil
}

func (p *iocpPoller) Poll(timeout time.Duration) error {
	var timeoutMs *uint32
	if timeout >= 0 {
		t := uint32(timeout / time.Millisecond)
		timeoutMs = &t
	}
	var bytes uint32
	var key uintptr
	var overlapped *windows.Overlapped
	err := windows.GetQueuedCompletionStatus(p.iocp, &bytes, &key, &overlapped, timeoutMs)
	if err != nil {
		if errno, ok := err.(syscall.Errno); ok && errno == windows.WAIT_TIMEOUT {
			return nil
		}
		return err
	}
	if overlapped == nil {
		// A wake-up notification via PostQueuedCompletionStatus. Poll
		// returns; a callback registered on fd 0, if any, is invoked
		// with PollIn.
		p.fdMu.RLock()
		info := p.fds[0]
		p.fdMu.RUnlock()
		if info.active && info.callback != nil {
			info.callback(PollIn)
		}
	}
	return nil
}

func (p *iocpPoller) handle() uintptr { return uintptr(p.iocp) }
