//go:build darwin

package transport

import (
	"github.com/legamerdc/lobbynet/internal/netutil"
	"golang.org/x/sys/unix"
)

func accept(lfd int) (int, unix.Sockaddr, error) {
	fd, sa, err := unix.Accept(lfd)
	if err != nil {
		return -1, nil, err
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, nil, err
	}
	return fd, sa, nil
}

// prepare 在 darwin 上用 SO_NOSIGPIPE 代替 MSG_NOSIGNAL。
func prepare(fd int) {
	_ = netutil.SetNoDelay(fd, true)
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_NOSIGPIPE, 1)
}

func write(fd int, p []byte) (int, error) {
	n, err := unix.Write(fd, p)
	if err != nil {
		return 0, err
	}
	return n, nil
}
