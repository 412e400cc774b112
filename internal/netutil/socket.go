//go:build linux || darwin

package netutil

import (
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"
)

func SetNonblock(fd int, nonblock bool) error {
	return unix.SetNonblock(fd, nonblock)
}

func SetReuseAddr(fd int, enable bool) error {
	v := 0
	if enable {
		v = 1
	}
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, v)
}

func SetNoDelay(fd int, enable bool) error {
	v := 0
	if enable {
		v = 1
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v)
}

// SocketError 读取 SO_ERROR，用于判定非阻塞 connect 的最终结果。
func SocketError(fd int) (unix.Errno, error) {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return 0, err
	}
	return unix.Errno(v), nil
}

// Family 返回地址对应的 AF_INET / AF_INET6。
func Family(ap netip.AddrPort) int {
	if ap.Addr().Is4() || ap.Addr().Is4In6() {
		return unix.AF_INET
	}
	return unix.AF_INET6
}

// ToSockaddr 将 netip.AddrPort 转换为 unix.Sockaddr。
func ToSockaddr(ap netip.AddrPort) (unix.Sockaddr, error) {
	addr := ap.Addr()
	switch {
	case addr.Is4() || addr.Is4In6():
		sa := &unix.SockaddrInet4{Port: int(ap.Port())}
		sa.Addr = addr.Unmap().As4()
		return sa, nil
	case addr.Is6():
		sa := &unix.SockaddrInet6{Port: int(ap.Port())}
		sa.Addr = addr.As16()
		return sa, nil
	}
	return nil, fmt.Errorf("netutil: invalid address %v", ap)
}

// FromSockaddr 将 unix.Sockaddr 转换为 netip.AddrPort。
func FromSockaddr(sa unix.Sockaddr) (netip.AddrPort, error) {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(v.Addr), uint16(v.Port)), nil
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(v.Addr).Unmap(), uint16(v.Port)), nil
	}
	return netip.AddrPort{}, fmt.Errorf("netutil: unsupported sockaddr %T", sa)
}
