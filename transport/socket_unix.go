//go:build linux || darwin

package transport

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/legamerdc/lobbynet/internal/netutil"
	"github.com/legamerdc/lobbynet/poller"
	"golang.org/x/sys/unix"
)

// Socket 是基于 x/sys/unix 原始 fd 的 Transport 实现，Handle 即 fd。
type Socket struct {
	p    poller.Poller
	rfds []int
	wfds []int
	evs  []poller.Event
}

var _ Transport = (*Socket)(nil)

// NewSocket 使用平台默认的 poller（linux: epoll, darwin: kqueue）。
func NewSocket() (*Socket, error) {
	p, err := poller.New()
	if err != nil {
		return nil, err
	}
	return &Socket{p: p}, nil
}

// NewSocketWithPoller 使用指定的 poller，例如 poller.NewPoll()。
func NewSocketWithPoller(p poller.Poller) *Socket {
	return &Socket{p: p}
}

// classify 把 errno 映射为 Kind。
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	k := KindFailed
	switch err {
	case unix.EAGAIN:
		k = KindWouldBlock
	case unix.EINPROGRESS, unix.EALREADY:
		k = KindInProgress
	case unix.EINTR:
		k = KindInterrupted
	}
	return &Error{Op: op, Kind: k, Err: err}
}

// connectAddr 只接受 IP 字面量与 localhost：域名解析会阻塞帧循环。
func connectAddr(a Address) (netip.AddrPort, error) {
	host := a.Host
	if host == "localhost" {
		host = "127.0.0.1"
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("host %q is not an ip literal", a.Host)
	}
	if a.Port <= 0 || a.Port > 65535 {
		return netip.AddrPort{}, fmt.Errorf("invalid port %d", a.Port)
	}
	return netip.AddrPortFrom(ip, uint16(a.Port)), nil
}

func listenAddr(a Address) (netip.AddrPort, error) {
	host := a.Host
	if host == "*" {
		host = ""
	}
	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(host, strconv.Itoa(a.Port)))
	if err != nil {
		return netip.AddrPort{}, err
	}
	ap := addr.AddrPort()
	if !ap.Addr().IsValid() {
		ap = netip.AddrPortFrom(netip.IPv4Unspecified(), ap.Port())
	}
	return ap, nil
}

func toAddress(sa unix.Sockaddr) (Address, error) {
	ap, err := netutil.FromSockaddr(sa)
	if err != nil {
		return Address{}, err
	}
	return Address{Host: ap.Addr().String(), Port: int(ap.Port())}, nil
}

func (s *Socket) Listen(a Address) (Handle, error) {
	ap, err := listenAddr(a)
	if err != nil {
		return InvalidHandle, &Error{Op: "listen", Kind: KindFailed, Err: err}
	}
	fd, err := unix.Socket(netutil.Family(ap), unix.SOCK_STREAM, 0)
	if err != nil {
		return InvalidHandle, classify("socket", err)
	}
	unix.CloseOnExec(fd)
	_ = netutil.SetReuseAddr(fd, true)
	if err := netutil.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return InvalidHandle, classify("listen", err)
	}
	sa, err := netutil.ToSockaddr(ap)
	if err != nil {
		unix.Close(fd)
		return InvalidHandle, &Error{Op: "listen", Kind: KindFailed, Err: err}
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return InvalidHandle, classify("bind", err)
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return InvalidHandle, classify("listen", err)
	}
	return Handle(fd), nil
}

func (s *Socket) Connect(a Address) (Handle, error) {
	ap, err := connectAddr(a)
	if err != nil {
		return InvalidHandle, &Error{Op: "connect", Kind: KindFailed, Err: err}
	}
	sa, err := netutil.ToSockaddr(ap)
	if err != nil {
		return InvalidHandle, &Error{Op: "connect", Kind: KindFailed, Err: err}
	}
	fd, err := unix.Socket(netutil.Family(ap), unix.SOCK_STREAM, 0)
	if err != nil {
		return InvalidHandle, classify("socket", err)
	}
	unix.CloseOnExec(fd)
	if err := netutil.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return InvalidHandle, classify("connect", err)
	}
	prepare(fd)
	err = unix.Connect(fd, sa)
	switch err {
	case nil:
		return Handle(fd), nil
	case unix.EINPROGRESS, unix.EINTR, unix.EAGAIN:
		// EINTR 时连接在内核中继续进行，与 EINPROGRESS 同样处理
		return Handle(fd), &Error{Op: "connect", Kind: KindInProgress, Err: err}
	}
	unix.Close(fd)
	return InvalidHandle, &Error{Op: "connect", Kind: KindFailed, Err: err}
}

func (s *Socket) Accept(l Handle) (Handle, Address, error) {
	fd, sa, err := accept(int(l))
	if err != nil {
		if err == unix.ECONNABORTED {
			return InvalidHandle, Address{}, &Error{Op: "accept", Kind: KindInterrupted, Err: err}
		}
		return InvalidHandle, Address{}, classify("accept", err)
	}
	prepare(fd)
	addr, err := toAddress(sa)
	if err != nil {
		unix.Close(fd)
		return InvalidHandle, Address{}, &Error{Op: "accept", Kind: KindFailed, Err: err}
	}
	return Handle(fd), addr, nil
}

func (s *Socket) Read(h Handle, p []byte) (int, error) {
	n, err := unix.Read(int(h), p)
	if err != nil {
		return 0, classify("read", err)
	}
	return n, nil
}

func (s *Socket) Write(h Handle, p []byte) (int, error) {
	n, err := write(int(h), p)
	if err != nil {
		return 0, classify("write", err)
	}
	return n, nil
}

func (s *Socket) PendingError(h Handle) error {
	errno, err := netutil.SocketError(int(h))
	if err != nil {
		return classify("getsockopt", err)
	}
	if errno == 0 {
		return nil
	}
	return classify("connect", errno)
}

func (s *Socket) PeerAddress(h Handle) (Address, error) {
	sa, err := unix.Getpeername(int(h))
	if err != nil {
		return Address{}, classify("getpeername", err)
	}
	return toAddress(sa)
}

func (s *Socket) LocalAddress(h Handle) (Address, error) {
	sa, err := unix.Getsockname(int(h))
	if err != nil {
		return Address{}, classify("getsockname", err)
	}
	return toAddress(sa)
}

func (s *Socket) Poll(read, write []Handle, r *Readiness) error {
	r.Reset()
	s.rfds = s.rfds[:0]
	for _, h := range read {
		s.rfds = append(s.rfds, int(h))
	}
	s.wfds = s.wfds[:0]
	for _, h := range write {
		s.wfds = append(s.wfds, int(h))
	}
	evs, err := s.p.Poll(s.rfds, s.wfds, 0, s.evs[:0])
	s.evs = evs
	if err != nil {
		return classify("poll", err)
	}
	for _, ev := range evs {
		r.Mark(Handle(ev.FD), ev.Readable, ev.Writable, ev.Err)
	}
	return nil
}

func (s *Socket) Close(h Handle) error {
	_ = s.p.Remove(int(h))
	return unix.Close(int(h))
}

func (s *Socket) Shutdown() error {
	return s.p.Close()
}
