//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// kqueuePoller implements Poller over BSD/Darwin kqueue. Read and write
// interest are tracked as independent filters (EVFILT_READ/EVFILT_WRITE)
// since kqueue, unlike epoll, has no single combined event mask per fd.
type kqueuePoller struct {
	kq      int
	events  []unix.Kevent_t
	wantR   map[int]bool
	wantW   map[int]bool
}

// New returns the platform readiness driver — kqueue on Darwin/BSD.
func New() (Poller, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(fd)
	return &kqueuePoller{
		kq:     fd,
		events: make([]unix.Kevent_t, 256),
		wantR:  make(map[int]bool),
		wantW:  make(map[int]bool),
	}, nil
}

func (p *kqueuePoller) apply(fd int, interest Interest) error {
	var changes []unix.Kevent_t

	wasR, wasW := p.wantR[fd], p.wantW[fd]
	if interest.Read != wasR {
		flag := uint16(unix.EV_ADD | unix.EV_ENABLE)
		if !interest.Read {
			flag = unix.EV_DELETE
		}
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flag})
	}
	if interest.Write != wasW {
		flag := uint16(unix.EV_ADD | unix.EV_ENABLE)
		if !interest.Write {
			flag = unix.EV_DELETE
		}
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flag})
	}
	if len(changes) == 0 {
		return nil
	}
	if _, err := unix.Kevent(p.kq, changes, nil, nil); err != nil {
		return err
	}
	p.wantR[fd] = interest.Read
	p.wantW[fd] = interest.Write
	return nil
}

func (p *kqueuePoller) Add(fd int, interest Interest) error {
	return p.apply(fd, interest)
}

func (p *kqueuePoller) Modify(fd int, interest Interest) error {
	return p.apply(fd, interest)
}

func (p *kqueuePoller) Remove(fd int) error {
	delete(p.wantR, fd)
	delete(p.wantW, fd)
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	// Deleting a filter that was never added returns ENOENT; that's fine.
	unix.Kevent(p.kq, changes, nil, nil)
	return nil
}

func (p *kqueuePoller) Wait(timeout time.Duration) ([]Event, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}
	n, err := unix.Kevent(p.kq, nil, p.events, ts)
	if err == unix.EINTR {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	byFD := make(map[int]*Event, n)
	order := make([]int, 0, n)
	for i := 0; i < n; i++ {
		kv := p.events[i]
		fd := int(kv.Ident)
		ev, ok := byFD[fd]
		if !ok {
			ev = &Event{FD: fd}
			byFD[fd] = ev
			order = append(order, fd)
		}
		if kv.Flags&unix.EV_EOF != 0 {
			ev.HangUp = true
		}
		switch kv.Filter {
		case unix.EVFILT_READ:
			ev.Readable = true
		case unix.EVFILT_WRITE:
			ev.Writable = true
		}
	}
	out := make([]Event, 0, len(order))
	for _, fd := range order {
		out = append(out, *byFD[fd])
	}
	return out, nil
}

func (p *kqueuePoller) Close() error {
	return unix.Close(p.kq)
}
