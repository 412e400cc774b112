//go:build linux

package transport

import (
	"github.com/legamerdc/lobbynet/internal/netutil"
	"golang.org/x/sys/unix"
)

func accept(lfd int) (int, unix.Sockaddr, error) {
	return unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
}

func prepare(fd int) {
	_ = netutil.SetNoDelay(fd, true)
}

// write 使用 MSG_NOSIGNAL，对端已关闭时得到 EPIPE 而不是 SIGPIPE。
func write(fd int, p []byte) (int, error) {
	return unix.SendmsgN(fd, p, nil, nil, unix.MSG_NOSIGNAL)
}
