// Package poller 提供单次系统调用的就绪探测（水平触发）。
//
// 调用方每个 tick 传入完整的读/写候选集合，实现负责与内核侧的注册状态同步，
// 然后以给定超时（通常为 0）查询一次，从不阻塞帧循环。
package poller

import (
	"errors"
	"slices"
	"time"
)

// FD 表示文件描述符。
type FD = int

// Event 是单个 fd 的就绪结果。
type Event struct {
	FD       FD
	Readable bool
	Writable bool
	// Err 表示 ERR/HUP 一类的异常状态，具体原因由调用方通过读或 SO_ERROR 获取。
	Err bool
}

// Poller 提供就绪查询。
// 在同一逻辑线程中调用，不要求并发安全。

type Poller interface {
	// Poll 以 read/write 作为本次的兴趣集合查询一次就绪状态，结果追加到 dst。
	// timeout 为 0 时立即返回；负数表示无限等待。
	Poll(read, write []FD, timeout time.Duration, dst []Event) ([]Event, error)
	// Remove 在关闭 fd 之前调用，清除内核侧与本地缓存的注册，避免 fd 复用后状态错乱。
	Remove(fd FD) error
	Close() error
}

var ErrClosed = errors.New("poller: closed")

const (
	maskRead  = 1 << 0
	maskWrite = 1 << 1
)

// interest 合并读/写集合为 fd -> mask。
func interest(dst map[FD]uint8, read, write []FD) {
	clear(dst)
	for _, fd := range read {
		dst[fd] |= maskRead
	}
	for _, fd := range write {
		dst[fd] |= maskWrite
	}
}

func timeoutMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	return int(d / time.Millisecond)
}

// merge 把同一 fd 的多条事件合并，并按 fd 排序，保证调用方遍历顺序确定。
func merge(dst []Event, evs map[FD]*Event) []Event {
	start := len(dst)
	for _, ev := range evs {
		dst = append(dst, *ev)
	}
	slices.SortFunc(dst[start:], func(a, b Event) int { return a.FD - b.FD })
	return dst
}
