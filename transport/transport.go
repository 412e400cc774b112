// Package transport 定义多路复用器所需的最小套接字能力。
//
// 所有操作均为非阻塞；操作系统相关的错误码在实现内部归类为 Kind，
// 上层只根据 Kind 决定状态迁移，不接触原始 errno。
package transport

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
)

// Handle 是传输端点的不透明引用；在端点打开期间唯一。
type Handle int

const InvalidHandle Handle = -1

// Address 标识一个对端：(host, port)。host 按字面比较，不做 DNS 归一化。
type Address struct {
	Host string
	Port int
}

func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// ParseAddress 解析 "host:port"；"*:9999" 与 ":9999" 都表示任意地址。
func ParseAddress(s string) (Address, error) {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return Address{}, err
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 0 || p > 65535 {
		return Address{}, fmt.Errorf("transport: invalid port %q", port)
	}
	return Address{Host: host, Port: p}, nil
}

// Kind 是错误的归类。
type Kind uint8

const (
	// KindNone 表示没有错误。
	KindNone Kind = iota
	// KindWouldBlock 资源暂不可用（EAGAIN），下个 tick 再试。
	KindWouldBlock
	// KindInProgress 非阻塞 connect 已发起但尚未完成。
	KindInProgress
	// KindInterrupted 被信号打断，不算失败。
	KindInterrupted
	// KindFailed 确定性失败：拒绝、超时、复位、不可达等。
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindWouldBlock:
		return "would-block"
	case KindInProgress:
		return "in-progress"
	case KindInterrupted:
		return "interrupted"
	case KindFailed:
		return "failed"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Error 携带操作名与归类。
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "transport: " + e.Op + ": " + e.Kind.String()
	}
	return "transport: " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf 返回 err 的归类；nil 为 KindNone，未归类的错误视为 KindFailed。
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindFailed
}

var ErrPlatformNotSupported = errors.New("transport: platform not supported (requires linux or darwin)")

// Readiness 是一次就绪查询的三组结果：可读、可写、出错。
type Readiness struct {
	flags map[Handle]uint8
}

const (
	readyRead = 1 << iota
	readyWrite
	readyErr
)

// Reset 清空上一轮结果。
func (r *Readiness) Reset() {
	if r.flags == nil {
		r.flags = make(map[Handle]uint8)
		return
	}
	clear(r.flags)
}

// Mark 由实现调用，记录一个句柄的就绪状态。
func (r *Readiness) Mark(h Handle, readable, writable, errored bool) {
	if r.flags == nil {
		r.flags = make(map[Handle]uint8)
	}
	var f uint8
	if readable {
		f |= readyRead
	}
	if writable {
		f |= readyWrite
	}
	if errored {
		f |= readyErr
	}
	if f != 0 {
		r.flags[h] |= f
	}
}

func (r *Readiness) Readable(h Handle) bool { return r.flags[h]&readyRead != 0 }
func (r *Readiness) Writable(h Handle) bool { return r.flags[h]&readyWrite != 0 }
func (r *Readiness) Errored(h Handle) bool  { return r.flags[h]&readyErr != 0 }

// Len 返回有任一就绪状态的句柄数。
func (r *Readiness) Len() int { return len(r.flags) }

// Handles 按升序把所有就绪句柄追加到 dst。
func (r *Readiness) Handles(dst []Handle) []Handle {
	start := len(dst)
	for h := range r.flags {
		dst = append(dst, h)
	}
	slices.Sort(dst[start:])
	return dst
}

// Transport 是套接字能力的抽象。实现不要求并发安全。
type Transport interface {
	// Listen 打开监听端点。允许阻塞（只在初始化时调用）。
	Listen(addr Address) (Handle, error)
	// Connect 发起非阻塞连接。err 为 nil 表示立即成功；KindInProgress 表示待定，
	// 句柄有效；其它归类表示确定性失败，句柄已由实现释放。
	Connect(addr Address) (Handle, error)
	// Accept 从监听端点取出一个已完成握手的连接；没有时返回 KindWouldBlock。
	Accept(l Handle) (Handle, Address, error)
	// Read 读取一块数据；(0, nil) 表示对端已关闭。
	Read(h Handle, p []byte) (int, error)
	// Write 尽量写入；可能只写出一部分，写不出时返回 KindWouldBlock。
	Write(h Handle, p []byte) (int, error)
	// PendingError 查询待定连接的结果：nil 成功，KindInterrupted/KindInProgress 尚未确定，其余为失败。
	PendingError(h Handle) error
	PeerAddress(h Handle) (Address, error)
	LocalAddress(h Handle) (Address, error)
	// Poll 以零超时查询一次就绪状态，结果写入 r（先 Reset）。
	Poll(read, write []Handle, r *Readiness) error
	Close(h Handle) error
	// Shutdown 释放实现自身持有的资源（例如 epoll 实例）。
	Shutdown() error
}
