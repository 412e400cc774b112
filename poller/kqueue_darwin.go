//go:build darwin

package poller

import (
	"runtime"
	"time"

	"golang.org/x/sys/unix"
)

// kqueuePoller 不使用 EV_CLEAR，保持水平触发语义。
// 过滤器变更与事件查询在同一次 kevent 调用中完成。
type kqueuePoller struct {
	kq      int
	regs    map[FD]uint8
	want    map[FD]uint8
	changes []unix.Kevent_t
	events  []unix.Kevent_t
	evs     map[FD]*Event
	close   bool
}

func New() (Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	return &kqueuePoller{
		kq:     kq,
		regs:   make(map[FD]uint8),
		want:   make(map[FD]uint8),
		events: make([]unix.Kevent_t, 256),
		evs:    make(map[FD]*Event),
	}, nil
}

func (p *kqueuePoller) change(fd FD, filter int16, flags uint16) {
	p.changes = append(p.changes, unix.Kevent_t{Ident: uint64(fd), Filter: filter, Flags: flags})
}

func (p *kqueuePoller) diff(fd FD, old, m uint8) {
	if old&maskRead != m&maskRead {
		if m&maskRead != 0 {
			p.change(fd, unix.EVFILT_READ, unix.EV_ADD)
		} else {
			p.change(fd, unix.EVFILT_READ, unix.EV_DELETE)
		}
	}
	if old&maskWrite != m&maskWrite {
		if m&maskWrite != 0 {
			p.change(fd, unix.EVFILT_WRITE, unix.EV_ADD)
		} else {
			p.change(fd, unix.EVFILT_WRITE, unix.EV_DELETE)
		}
	}
}

func (p *kqueuePoller) Poll(read, write []FD, timeout time.Duration, dst []Event) ([]Event, error) {
	defer runtime.KeepAlive(p)
	if p.close {
		return dst, ErrClosed
	}
	interest(p.want, read, write)
	p.changes = p.changes[:0]
	for fd, old := range p.regs {
		if _, ok := p.want[fd]; !ok {
			p.diff(fd, old, 0)
			delete(p.regs, fd)
		}
	}
	for fd, m := range p.want {
		p.diff(fd, p.regs[fd], m)
		p.regs[fd] = m
	}
	if len(p.regs) == 0 && len(p.changes) == 0 {
		return dst, nil
	}
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(int64(timeout))
		ts = &t
	}
	// 变更出错时内核以 EV_ERROR 事件返回，需要留出足够空间
	if need := len(p.changes) + len(p.regs)*2; need > len(p.events) {
		p.events = make([]unix.Kevent_t, need)
	}
	n, err := unix.Kevent(p.kq, p.changes, p.events, ts)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, err
	}
	clear(p.evs)
	for i := 0; i < n; i++ {
		ev := p.events[i]
		if ev.Flags&unix.EV_ERROR != 0 {
			continue
		}
		fd := int(ev.Ident)
		e := p.evs[fd]
		if e == nil {
			e = &Event{FD: fd}
			p.evs[fd] = e
		}
		switch ev.Filter {
		case unix.EVFILT_READ:
			e.Readable = true
		case unix.EVFILT_WRITE:
			e.Writable = true
		}
		// EOF 带 fflags 表示套接字错误（例如 connect 被拒绝）
		if ev.Flags&unix.EV_EOF != 0 && ev.Fflags != 0 {
			e.Err = true
		}
	}
	return merge(dst, p.evs), nil
}

func (p *kqueuePoller) Remove(fd FD) error {
	m, ok := p.regs[fd]
	if !ok {
		return nil
	}
	delete(p.regs, fd)
	var changes []unix.Kevent_t
	if m&maskRead != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE})
	}
	if m&maskWrite != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE})
	}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

func (p *kqueuePoller) Close() error {
	if p.close {
		return nil
	}
	p.close = true
	return unix.Close(p.kq)
}
