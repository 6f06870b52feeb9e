//go:build darwin

package reactor

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const maxFDs = 65536

// kqueuePoller drives readiness notification with kqueue.
type kqueuePoller struct {
	kq       int
	eventBuf [256]unix.Kevent_t
	fds      []fdInfo
	fdMu     sync.RWMutex
	closed   bool
}

type fdInfo struct {
	callback IOCallback
	events   IOEvent
	active   bool
}

func newPoller() poller { return &kqueuePoller{kq: -1} }

func (p *kqueuePoller) Init() error {
	kq, err := unix.Kqueue()
	if err != nil {
		return err
	}
	unix.CloseOnExec(kq)
	p.kq = kq
	p.fds = make([]fdInfo, maxFDs)
	return nil
}

func (p *kqueuePoller) Close() error {
	p.closed = true
	if p.kq >= 0 {
		return unix.Close(p.kq)
	}
	return nil
}

func (p *kqueuePoller) grow(fd int) {
	if fd < len(p.fds) {
		return
	}
	newFds := make([]fdInfo, fd*2+1)
	copy(newFds, p.fds)
	p.fds = newFds
}

func (p *kqueuePoller) RegisterFD(fd int, events IOEvent, cb IOCallback) error {
	if fd < 0 {
		return ErrFDOutOfRange
	}
	p.fdMu.Lock()
	p.grow(fd)
	if p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrFDAlreadyRegistered
	}
	p.fds[fd] = fdInfo{callback: cb, events: events, active: true}
	p.fdMu.Unlock()

	kevents := eventsToKevents(fd, events, unix.EV_ADD|unix.EV_ENABLE)
	if len(kevents) > 0 {
		if _, err := unix.Kevent(p.kq, kevents, nil, nil); err != nil {
			p.fdMu.Lock()
			p.fds[fd] = fdInfo{}
			p.fdMu.Unlock()
			return err
		}
	}
	return nil
}

func (p *kqueuePoller) UnregisterFD(fd int) error {
	if fd < 0 {
		return ErrFDOutOfRange
	}
	p.fdMu.Lock()
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrFDNotRegistered
	}
	events := p.fds[fd].events
	p.fds[fd] = fdInfo{}
	p.fdMu.Unlock()

	kevents := eventsToKevents(fd, events, unix.EV_DELETE)
	if len(kevents) > 0 {
		_, _ = unix.Kevent(p.kq, kevents, nil, nil)
	}
	return nil
}

func (p *kqueuePoller) ModifyFD(fd int, events IOEvent) error {
	if fd < 0 {
		return ErrFDOutOfRange
	}
	p.fdMu.Lock()
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrFDNotRegistered
	}
	old := p.fds[fd].events
	p.fds[fd].events = events
	p.fdMu.Unlock()

	if old&^events != 0 {
		_, _ = unix.Kevent(p.kq, eventsToKevents(fd, old&^events, unix.EV_DELETE), nil, nil)
	}
	if events&^old != 0 {
		if _, err := unix.Kevent(p.kq, eventsToKevents(fd, events&^old, unix.EV_ADD|unix.EV_ENABLE), nil, nil); err != nil {
			return err
		}
	}
	return nil
}

func (p *kqueuePoller) Poll(timeout time.Duration) error {
	var ts *unix.Timespec
	if timeout >= 0 {
		ts = &unix.Timespec{Sec: int64(timeout / time.Second), Nsec: int64(timeout % time.Second)}
	}
	n, err := unix.Kevent(p.kq, nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Ident)
		if fd < 0 {
			continue
		}
		p.fdMu.RLock()
		var info fdInfo
		if fd < len(p.fds) {
			info = p.fds[fd]
		}
		p.fdMu.RUnlock()
		if info.active && info.callback != nil {
			info.callback(keventToEvents(&p.eventBuf[i]))
		}
	}
	return nil
}

func eventsToKevents(fd int, events IOEvent, flags uint16) []unix.Kevent_t {
	var kevents []unix.Kevent_t
	if events.Has(PollIn) {
		kevents = append(kevents, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if events.Has(PollOut) {
		kevents = append(kevents, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	return kevents
}

func keventToEvents(kev *unix.Kevent_t) IOEvent {
	var events IOEvent
	switch kev.Filter {
	case unix.EVFILT_READ:
		events |= PollIn
	case unix.EVFILT_WRITE:
		events |= PollOut
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		events |= PollErr
	}
	if kev.Flags&unix.EV_EOF != 0 {
		events |= PollHup
	}
	return events
}
