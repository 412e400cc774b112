//go:build linux

package poller

import (
	"runtime"
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller 使用水平触发的 epoll；注册状态按每次传入的集合做差量同步。
type epollPoller struct {
	efd    int
	regs   map[FD]uint8
	want   map[FD]uint8
	events []unix.EpollEvent
	evs    map[FD]*Event
	close  bool
}

// New 返回当前平台的默认实现（linux 下为 epoll）。
func New() (Poller, error) {
	efd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{
		efd:    efd,
		regs:   make(map[FD]uint8),
		want:   make(map[FD]uint8),
		events: make([]unix.EpollEvent, 256),
		evs:    make(map[FD]*Event),
	}, nil
}

func epollFlags(m uint8) uint32 {
	var flag uint32
	if m&maskRead != 0 {
		flag |= unix.EPOLLIN
	}
	if m&maskWrite != 0 {
		flag |= unix.EPOLLOUT
	}
	return flag
}

func (p *epollPoller) sync(read, write []FD) error {
	interest(p.want, read, write)
	for fd := range p.regs {
		if _, ok := p.want[fd]; !ok {
			_ = unix.EpollCtl(p.efd, unix.EPOLL_CTL_DEL, fd, nil)
			delete(p.regs, fd)
		}
	}
	for fd, m := range p.want {
		old, ok := p.regs[fd]
		if ok && old == m {
			continue
		}
		ev := &unix.EpollEvent{Events: epollFlags(m), Fd: int32(fd)}
		op := unix.EPOLL_CTL_ADD
		if ok {
			op = unix.EPOLL_CTL_MOD
		}
		err := unix.EpollCtl(p.efd, op, fd, ev)
		switch {
		case err == unix.EEXIST:
			err = unix.EpollCtl(p.efd, unix.EPOLL_CTL_MOD, fd, ev)
		case err == unix.ENOENT:
			err = unix.EpollCtl(p.efd, unix.EPOLL_CTL_ADD, fd, ev)
		}
		if err != nil {
			return err
		}
		p.regs[fd] = m
	}
	return nil
}

func (p *epollPoller) Poll(read, write []FD, timeout time.Duration, dst []Event) ([]Event, error) {
	defer runtime.KeepAlive(p)
	if p.close {
		return dst, ErrClosed
	}
	if err := p.sync(read, write); err != nil {
		return dst, err
	}
	if len(p.regs) == 0 {
		return dst, nil
	}
	n, err := unix.EpollWait(p.efd, p.events, timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, err
	}
	clear(p.evs)
	for i := 0; i < n; i++ {
		ev := p.events[i]
		fd := int(ev.Fd)
		e := p.evs[fd]
		if e == nil {
			e = &Event{FD: fd}
			p.evs[fd] = e
		}
		e.Readable = e.Readable || ev.Events&unix.EPOLLIN != 0
		e.Writable = e.Writable || ev.Events&unix.EPOLLOUT != 0
		e.Err = e.Err || ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0
	}
	return merge(dst, p.evs), nil
}

func (p *epollPoller) Remove(fd FD) error {
	if _, ok := p.regs[fd]; !ok {
		return nil
	}
	delete(p.regs, fd)
	return unix.EpollCtl(p.efd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) Close() error {
	if p.close {
		return nil
	}
	p.close = true
	return unix.Close(p.efd)
}
