// Package fake 提供确定性的内存传输层，用于驱动多路复用器的状态机测试。
//
// 一个 Network 上可以挂多个 Transport（每个代表一台主机）。连接建立、拒绝、
// 中断、背压都由测试显式控制，不依赖真实套接字与时序。
package fake

import (
	"errors"
	"fmt"

	"github.com/legamerdc/lobbynet/transport"
)

var (
	ErrRefused  = errors.New("fake: connection refused")
	ErrReset    = errors.New("fake: connection reset by peer")
	ErrBadFD    = errors.New("fake: bad handle")
	ErrInUse    = errors.New("fake: address already in use")
	ErrShutdown = errors.New("fake: transport shut down")
)

// Network 是所有假主机共享的“网络”。
type Network struct {
	listeners map[transport.Address]*socket
	blackhole map[transport.Address]bool
	// RefuseImmediately 为 true 时，连接无监听者的地址会在 Connect 中立即失败；
	// 否则先返回待定，在下一次 Poll 时以可写+错误的形式暴露拒绝。
	RefuseImmediately bool
	// ConnectImmediately 为 true 时，连接有监听者的地址会在 Connect 中立即成功。
	ConnectImmediately bool
}

func NewNetwork() *Network {
	return &Network{
		listeners: make(map[transport.Address]*socket),
		blackhole: make(map[transport.Address]bool),
	}
}

// Blackhole 让发往 addr 的连接永远停留在待定状态（模拟丢包的防火墙）。
func (n *Network) Blackhole(addr transport.Address) { n.blackhole[addr] = true }

// Host 创建一台主机；host 用作其出站连接的本地地址。
func (n *Network) Host(host string) *Transport {
	return &Transport{
		net:       n,
		host:      host,
		handles:   make(map[transport.Handle]*socket),
		next:      3,
		port:      40000,
		interrupt: make(map[transport.Address]int),
	}
}

type sockState uint8

const (
	stListening sockState = iota
	stPending
	stRefusing
	stConnected
	stClosed
)

type socket struct {
	owner      *Transport
	h          transport.Handle
	state      sockState
	local      transport.Address
	remote     transport.Address
	target     transport.Address
	peer       *socket
	in         []byte
	peerClosed bool
	backlog    []*socket
	budget     int
}

// Transport 是一台假主机的 transport.Transport 实现。
type Transport struct {
	net     *Network
	host    string
	handles map[transport.Handle]*socket
	next    transport.Handle
	port    int
	down    bool

	interrupt map[transport.Address]int

	// ReadChunk 限制单次 Read 返回的字节数（0 表示不限制），用于制造半包。
	ReadChunk int
	// WriteBudget 限制每个 tick（两次 Poll 之间）每个连接可写出的字节数，0 表示不限制。
	WriteBudget int

	// Polls 统计 Poll 调用次数。
	Polls int
	// LastRead/LastWrite 是最近一次 Poll 的兴趣集合。
	LastRead, LastWrite []transport.Handle
}

var _ transport.Transport = (*Transport)(nil)

// InterruptNext 让发往 addr 的下 n 次 PendingError 返回 KindInterrupted。
func (t *Transport) InterruptNext(addr transport.Address, n int) { t.interrupt[addr] = n }

// Open 返回当前打开的句柄数。
func (t *Transport) Open() int { return len(t.handles) }

func (t *Transport) alloc(s *socket) transport.Handle {
	h := t.next
	t.next++
	s.owner = t
	s.h = h
	t.handles[h] = s
	return h
}

func (t *Transport) get(h transport.Handle) (*socket, error) {
	s, ok := t.handles[h]
	if !ok {
		return nil, &transport.Error{Op: "fd", Kind: transport.KindFailed, Err: ErrBadFD}
	}
	return s, nil
}

func (t *Transport) Listen(addr transport.Address) (transport.Handle, error) {
	if t.down {
		return transport.InvalidHandle, ErrShutdown
	}
	if addr.Host == "" || addr.Host == "*" {
		addr.Host = t.host
	}
	if addr.Port == 0 {
		t.port++
		addr.Port = t.port
	}
	if _, ok := t.net.listeners[addr]; ok {
		return transport.InvalidHandle, &transport.Error{Op: "bind", Kind: transport.KindFailed, Err: ErrInUse}
	}
	s := &socket{state: stListening, local: addr}
	h := t.alloc(s)
	t.net.listeners[addr] = s
	return h, nil
}

func (t *Transport) Connect(addr transport.Address) (transport.Handle, error) {
	if t.down {
		return transport.InvalidHandle, ErrShutdown
	}
	t.port++
	s := &socket{local: transport.Address{Host: t.host, Port: t.port}, target: addr}
	if t.net.blackhole[addr] {
		s.state = stPending
		h := t.alloc(s)
		return h, &transport.Error{Op: "connect", Kind: transport.KindInProgress}
	}
	l, ok := t.net.listeners[addr]
	if !ok {
		if t.net.RefuseImmediately {
			return transport.InvalidHandle, &transport.Error{Op: "connect", Kind: transport.KindFailed, Err: ErrRefused}
		}
		s.state = stRefusing
		h := t.alloc(s)
		return h, &transport.Error{Op: "connect", Kind: transport.KindInProgress}
	}
	// 握手在“内核”中完成：服务端一侧立即进入 backlog
	srv := &socket{state: stConnected, local: addr, remote: s.local, peer: s}
	s.peer = srv
	s.remote = addr
	l.backlog = append(l.backlog, srv)
	h := t.alloc(s)
	if t.net.ConnectImmediately {
		s.state = stConnected
		return h, nil
	}
	s.state = stPending
	return h, &transport.Error{Op: "connect", Kind: transport.KindInProgress}
}

func (t *Transport) Accept(l transport.Handle) (transport.Handle, transport.Address, error) {
	ls, err := t.get(l)
	if err != nil {
		return transport.InvalidHandle, transport.Address{}, err
	}
	for len(ls.backlog) > 0 {
		s := ls.backlog[0]
		ls.backlog = ls.backlog[1:]
		if s.state == stClosed {
			continue
		}
		h := t.alloc(s)
		return h, s.remote, nil
	}
	return transport.InvalidHandle, transport.Address{}, &transport.Error{Op: "accept", Kind: transport.KindWouldBlock}
}

func (t *Transport) Read(h transport.Handle, p []byte) (int, error) {
	s, err := t.get(h)
	if err != nil {
		return 0, err
	}
	if len(s.in) == 0 {
		if s.peerClosed {
			return 0, nil
		}
		return 0, &transport.Error{Op: "read", Kind: transport.KindWouldBlock}
	}
	lim := p
	if t.ReadChunk > 0 && len(lim) > t.ReadChunk {
		lim = lim[:t.ReadChunk]
	}
	n := copy(lim, s.in)
	s.in = s.in[n:]
	return n, nil
}

func (t *Transport) Write(h transport.Handle, p []byte) (int, error) {
	s, err := t.get(h)
	if err != nil {
		return 0, err
	}
	if s.state != stConnected || s.peer == nil {
		return 0, &transport.Error{Op: "write", Kind: transport.KindFailed, Err: ErrBadFD}
	}
	if s.peerClosed || s.peer.state == stClosed {
		return 0, &transport.Error{Op: "write", Kind: transport.KindFailed, Err: ErrReset}
	}
	n := len(p)
	if t.WriteBudget > 0 {
		if s.budget <= 0 {
			return 0, &transport.Error{Op: "write", Kind: transport.KindWouldBlock}
		}
		n = min(n, s.budget)
		s.budget -= n
	}
	s.peer.in = append(s.peer.in, p[:n]...)
	return n, nil
}

func (t *Transport) PendingError(h transport.Handle) error {
	s, err := t.get(h)
	if err != nil {
		return err
	}
	if c := t.interrupt[s.target]; c > 0 {
		t.interrupt[s.target] = c - 1
		return &transport.Error{Op: "connect", Kind: transport.KindInterrupted}
	}
	switch s.state {
	case stConnected:
		return nil
	case stRefusing:
		return &transport.Error{Op: "connect", Kind: transport.KindFailed, Err: ErrRefused}
	case stPending:
		return &transport.Error{Op: "connect", Kind: transport.KindInProgress}
	}
	return &transport.Error{Op: "connect", Kind: transport.KindFailed, Err: ErrBadFD}
}

func (t *Transport) PeerAddress(h transport.Handle) (transport.Address, error) {
	s, err := t.get(h)
	if err != nil {
		return transport.Address{}, err
	}
	if s.state != stConnected {
		return transport.Address{}, &transport.Error{Op: "getpeername", Kind: transport.KindFailed, Err: fmt.Errorf("fake: not connected")}
	}
	return s.remote, nil
}

func (t *Transport) LocalAddress(h transport.Handle) (transport.Address, error) {
	s, err := t.get(h)
	if err != nil {
		return transport.Address{}, err
	}
	return s.local, nil
}

func (t *Transport) Poll(read, write []transport.Handle, r *transport.Readiness) error {
	r.Reset()
	t.Polls++
	t.LastRead = append(t.LastRead[:0], read...)
	t.LastWrite = append(t.LastWrite[:0], write...)
	for _, h := range read {
		s, ok := t.handles[h]
		if !ok {
			r.Mark(h, false, false, true)
			continue
		}
		switch s.state {
		case stListening:
			r.Mark(h, len(s.backlog) > 0, false, false)
		case stConnected:
			r.Mark(h, len(s.in) > 0 || s.peerClosed, false, false)
		}
	}
	for _, h := range write {
		s, ok := t.handles[h]
		if !ok {
			r.Mark(h, false, false, true)
			continue
		}
		switch s.state {
		case stPending:
			if t.net.blackhole[s.target] {
				continue
			}
			// 握手在一次 Poll 之后完成
			if s.peer != nil {
				s.state = stConnected
			}
			r.Mark(h, false, true, false)
		case stRefusing:
			r.Mark(h, false, true, true)
		case stConnected:
			s.budget = t.WriteBudget
			r.Mark(h, false, true, s.peerClosed)
		}
	}
	return nil
}

func (t *Transport) Close(h transport.Handle) error {
	s, err := t.get(h)
	if err != nil {
		return err
	}
	delete(t.handles, h)
	switch s.state {
	case stListening:
		delete(t.net.listeners, s.local)
		for _, b := range s.backlog {
			b.state = stClosed
			if b.peer != nil {
				b.peer.peerClosed = true
			}
		}
		s.backlog = nil
	default:
		if s.peer != nil {
			s.peer.peerClosed = true
		}
	}
	s.state = stClosed
	return nil
}

func (t *Transport) Shutdown() error {
	for h := range t.handles {
		_ = t.Close(h)
	}
	t.down = true
	return nil
}
