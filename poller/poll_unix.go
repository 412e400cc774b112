//go:build linux || darwin

package poller

import (
	"slices"
	"time"

	"golang.org/x/sys/unix"
)

// pollPoller 基于 poll(2)，每次调用携带完整集合，无内核侧注册状态。
type pollPoller struct {
	want   map[FD]uint8
	fds    []unix.PollFd
	closed bool
}

// NewPoll 返回基于 poll(2) 的可移植实现。
func NewPoll() Poller {
	return &pollPoller{want: make(map[FD]uint8)}
}

func (p *pollPoller) Poll(read, write []FD, timeout time.Duration, dst []Event) ([]Event, error) {
	if p.closed {
		return dst, ErrClosed
	}
	interest(p.want, read, write)
	p.fds = p.fds[:0]
	for fd, m := range p.want {
		var ev int16
		if m&maskRead != 0 {
			ev |= unix.POLLIN
		}
		if m&maskWrite != 0 {
			ev |= unix.POLLOUT
		}
		p.fds = append(p.fds, unix.PollFd{Fd: int32(fd), Events: ev})
	}
	slices.SortFunc(p.fds, func(a, b unix.PollFd) int { return int(a.Fd - b.Fd) })
	if len(p.fds) == 0 {
		return dst, nil
	}
	n, err := unix.Poll(p.fds, timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, err
	}
	if n == 0 {
		return dst, nil
	}
	for _, pfd := range p.fds {
		if pfd.Revents == 0 {
			continue
		}
		dst = append(dst, Event{
			FD:       FD(pfd.Fd),
			Readable: pfd.Revents&unix.POLLIN != 0,
			Writable: pfd.Revents&unix.POLLOUT != 0,
			Err:      pfd.Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0,
		})
	}
	return dst, nil
}

func (p *pollPoller) Remove(fd FD) error { return nil }

func (p *pollPoller) Close() error {
	p.closed = true
	return nil
}
