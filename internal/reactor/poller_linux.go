//go:build linux

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller implements Poller over Linux epoll.
type epollPoller struct {
	epfd   int
	events []unix.EpollEvent
}

// New returns the platform readiness driver — epoll on Linux.
func New() (Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{epfd: fd, events: make([]unix.EpollEvent, 256)}, nil
}

func toEpollEvents(i Interest) uint32 {
	var ev uint32 = unix.EPOLLHUP | unix.EPOLLERR
	if i.Read {
		ev |= unix.EPOLLIN
	}
	if i.Write {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (p *epollPoller) Add(fd int, interest Interest) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: toEpollEvents(interest),
		Fd:     int32(fd),
	})
}

func (p *epollPoller) Modify(fd int, interest Interest) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: toEpollEvents(interest),
		Fd:     int32(fd),
	})
}

func (p *epollPoller) Remove(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT || err == unix.EBADF {
		return nil
	}
	return err
}

func (p *epollPoller) Wait(timeout time.Duration) ([]Event, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	n, err := unix.EpollWait(p.epfd, p.events, ms)
	if err == unix.EINTR {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		e := p.events[i]
		out = append(out, Event{
			FD:       int(e.Fd),
			Readable: e.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			Writable: e.Events&unix.EPOLLOUT != 0,
			HangUp:   e.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0,
		})
	}
	return out, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}
