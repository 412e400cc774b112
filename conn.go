package lobbynet

import (
	"strconv"
	"time"

	"github.com/legamerdc/lobbynet/internal/ring"
	"github.com/legamerdc/lobbynet/transport"
)

// Address 标识一个对端。两个地址当且仅当 host 字符串与端口完全一致时相等。
type Address = transport.Address

// ParseAddress 解析 "host:port"。
var ParseAddress = transport.ParseAddress

// ConnID 在 Mux 生命周期内单调递增、永不复用；底层 fd 可能被系统复用，ConnID 不会。
type ConnID uint64

// State 是连接所处的生命周期阶段。
type State uint8

const (
	StateConnecting State = iota
	StateOpen
	StateClosingDrain
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosingDrain:
		return "closing-drain"
	case StateClosed:
		return "closed"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// Conn 是一条连接的被动记录，只由 Mux.Update 修改。
type Conn struct {
	ID ConnID
	// Addr 是登记用的键：出站为调用方请求的地址，入站为解析出的对端地址。
	Addr Address
	// Peer 是建立后由内核给出的对端地址；出站连接在完成前为零值。
	Peer     Address
	Outbound bool

	handle transport.Handle
	state  State

	in     *ring.Buffer
	frames [][]byte

	// 发送队列：每项是一条完整编码（含分隔符）的帧；wq[wpos] 可能已被部分写出并重切片
	wq   [][]byte
	wpos int

	deadline  time.Time // 仅待定连接使用
	lingerEnd uint64    // 残留帧的过期 tick，0 表示不过期
}

func newConn(id ConnID, h transport.Handle, addr Address, outbound bool, maxFrame int) *Conn {
	return &Conn{
		ID:       id,
		Addr:     addr,
		Outbound: outbound,
		handle:   h,
		in:       ring.New(maxFrame),
	}
}

func (c *Conn) State() State { return c.state }

func (c *Conn) Handle() transport.Handle { return c.handle }

// Queued 返回尚未完全写出的出站消息数。
func (c *Conn) Queued() int { return len(c.wq) - c.wpos }

// Buffered 返回尚未被消费的完整入站帧数。
func (c *Conn) Buffered() int { return len(c.frames) }

// Partial 返回入站缓冲中尚未成帧的字节数。
func (c *Conn) Partial() int { return c.in.Len() }

func (c *Conn) enqueue(frame []byte) {
	c.wq = append(c.wq, frame)
}

// compact 回收已写出的队首空间。
func (c *Conn) compact() {
	if c.wpos == 0 {
		return
	}
	if c.wpos == len(c.wq) {
		clear(c.wq)
		c.wq = c.wq[:0]
	} else {
		c.wq = append(c.wq[:0], c.wq[c.wpos:]...)
	}
	c.wpos = 0
}

func (c *Conn) takeFrames() [][]byte {
	out := c.frames
	c.frames = nil
	return out
}
