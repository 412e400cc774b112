package lobbynet

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/legamerdc/lobbynet/protocol"
	"github.com/legamerdc/lobbynet/transport"
)

// Mux 是非阻塞的对端连接多路复用器。
//
// 所有方法都应在同一逻辑线程（通常是游戏主循环）中调用；Mux 本身不启动任何 goroutine，
// 也不加锁。每帧调用一次 Update，Update 只做一次零超时的就绪查询。
type Mux struct {
	cfg     Config
	tr      transport.Transport
	codec   *protocol.Codec
	log     *zap.Logger
	clock   clock.Clock
	obs     Observer
	metrics *metrics

	reg       *registry
	listening bool
	local     Address

	connectQ []Address
	refused  []Address
	closing  []*Conn
	opened   []ConnID

	lingering map[ConnID]*Conn
	lingerBy  map[Address][]*Conn

	nextID ConnID
	tick   uint64
	down   bool

	ready  transport.Readiness
	rbuf   []byte
	rset   []transport.Handle
	wset   []transport.Handle
	handls []transport.Handle
}

// New 构造未监听的 Mux。tr 通常是 transport.NewSocket() 的结果，测试中可用 fake。
func New(cfg Config, tr transport.Transport) (*Mux, error) {
	if tr == nil {
		return nil, ErrInvalidArgument
	}
	cfg = cfg.withDefaults()
	opts := []protocol.Option{protocol.WithDelimiter(cfg.Delimiter)}
	if cfg.Escape {
		opts = append(opts, protocol.WithEscape())
	}
	if cfg.Compress {
		opts = append(opts, protocol.WithCompression())
	}
	codec, err := protocol.NewCodec(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return &Mux{
		cfg:       cfg,
		tr:        tr,
		codec:     codec,
		log:       cfg.Logger.Named("mux"),
		clock:     cfg.Clock,
		obs:       cfg.Observer,
		metrics:   newMetrics(cfg.Registerer, cfg.Namespace),
		reg:       newRegistry(),
		lingering: make(map[ConnID]*Conn),
		lingerBy:  make(map[Address][]*Conn),
		rbuf:      make([]byte, cfg.ReadChunk),
	}, nil
}

// Init 打开监听端点。失败时返回包装了 ErrBind 的错误，不在内部重试。
func (m *Mux) Init(bind Address) error {
	if m.down {
		return ErrShutdown
	}
	if m.listening {
		return ErrAlreadyListening
	}
	h, err := m.tr.Listen(bind)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBind, bind, err)
	}
	local, err := m.tr.LocalAddress(h)
	if err != nil {
		local = bind
	}
	m.reg.setListener(h)
	m.listening = true
	m.local = local
	m.log.Info("listening", zap.Stringer("addr", local))
	return nil
}

// ListenAddr 返回监听端点的本地地址；未监听时为零值。
func (m *Mux) ListenAddr() Address { return m.local }

// Codec 返回当前使用的成帧编解码器。
func (m *Mux) Codec() *protocol.Codec { return m.codec }

// RequestConnect 排队一个出站连接请求，在下一次 Update 中发起。不去重。
func (m *Mux) RequestConnect(addr Address) {
	if m.down {
		return
	}
	m.connectQ = append(m.connectQ, addr)
}

// IsConnected 报告 addr 下是否登记了已建立（含正在排空）的连接。
func (m *Mux) IsConnected(addr Address) bool {
	c, ok := m.reg.lookup(addr)
	return ok && (c.state == StateOpen || c.state == StateClosingDrain)
}

// IsPending 报告 addr 是否有排队中或发起中的连接请求。
func (m *Mux) IsPending(addr Address) bool {
	for _, a := range m.connectQ {
		if a == addr {
			return true
		}
	}
	return m.reg.pendingTo(addr)
}

// Conn 按 ID 查找已登记的连接。
func (m *Mux) Conn(id ConnID) (*Conn, bool) { return m.reg.get(id) }

// Lookup 按地址查找已登记的连接。
func (m *Mux) Lookup(addr Address) (*Conn, bool) { return m.reg.lookup(addr) }

// Conns 按 ID 升序返回当前已登记连接的快照。
func (m *Mux) Conns() []*Conn { return m.reg.open() }

// Opened 返回上一次 Update 中新建立的连接。
func (m *Mux) Opened() []ConnID {
	out := make([]ConnID, len(m.opened))
	copy(out, m.opened)
	return out
}

// Send 把 msg 编码为一帧放入发送队列；直到后续 Update 观察到可写才真正发出。
func (m *Mux) Send(id ConnID, msg []byte) error {
	c, ok := m.reg.get(id)
	if !ok {
		return ErrNotConnected
	}
	return m.send(c, msg)
}

// SendTo 同 Send，按地址定位连接。
func (m *Mux) SendTo(addr Address, msg []byte) error {
	c, ok := m.reg.lookup(addr)
	if !ok {
		return ErrNotConnected
	}
	return m.send(c, msg)
}

func (m *Mux) send(c *Conn, msg []byte) error {
	switch c.state {
	case StateOpen:
	case StateClosingDrain:
		return ErrClosing
	default:
		return ErrNotConnected
	}
	frame, err := m.codec.Encode(nil, msg)
	if err != nil {
		return err
	}
	c.enqueue(frame)
	m.reg.armWrite(c)
	return nil
}

// Frames 取走 id 上自上次调用以来完成的全部帧（FIFO）。没有时返回 nil。
// 对端关闭后残留的帧在被取走前一直可用（除非配置了 LingerTicks）。
func (m *Mux) Frames(id ConnID) [][]byte {
	if c, ok := m.reg.get(id); ok {
		return c.takeFrames()
	}
	if c, ok := m.lingering[id]; ok {
		m.dropLinger(c)
		return c.takeFrames()
	}
	return nil
}

// FramesFrom 同 Frames，按地址定位；同时取走该地址下残留的帧，按连接先后排列。
func (m *Mux) FramesFrom(addr Address) [][]byte {
	var out [][]byte
	if old := m.lingerBy[addr]; len(old) > 0 {
		for _, c := range old {
			out = append(out, c.takeFrames()...)
			delete(m.lingering, c.ID)
		}
		delete(m.lingerBy, addr)
	}
	if c, ok := m.reg.lookup(addr); ok {
		out = append(out, c.takeFrames()...)
	}
	return out
}

// RequestClose 把连接转入排空状态：已排队的消息发完后才真正关闭。重复调用无副作用。
func (m *Mux) RequestClose(id ConnID) error {
	c, ok := m.reg.get(id)
	if !ok {
		return ErrNotConnected
	}
	return m.requestClose(c)
}

// RequestCloseAddr 同 RequestClose，按地址定位。
func (m *Mux) RequestCloseAddr(addr Address) error {
	c, ok := m.reg.lookup(addr)
	if !ok {
		return ErrNotConnected
	}
	return m.requestClose(c)
}

func (m *Mux) requestClose(c *Conn) error {
	if c.state != StateOpen {
		return nil
	}
	c.state = StateClosingDrain
	m.closing = append(m.closing, c)
	m.log.Debug("close requested", connFields(c, zap.Int("queued", c.Queued()))...)
	return nil
}

// Refused 返回并清空连接失败的地址列表（一次性信号）。
func (m *Mux) Refused() []Address {
	out := m.refused
	m.refused = nil
	return out
}

// Shutdown 关闭监听端点、所有连接与待定连接。只应调用一次；之后 Update 为空操作。
func (m *Mux) Shutdown() error {
	if m.down {
		return nil
	}
	m.down = true
	var errs error
	for _, c := range m.reg.pendingSorted() {
		m.reg.unregister(c)
		c.state = StateClosed
		errs = multierr.Append(errs, m.tr.Close(c.handle))
	}
	for _, c := range m.reg.open() {
		m.reg.unregister(c)
		c.state = StateClosed
		errs = multierr.Append(errs, m.tr.Close(c.handle))
		m.metrics.closes.WithLabelValues(reasonShutdown).Inc()
	}
	if m.listening {
		errs = multierr.Append(errs, m.tr.Close(m.reg.listener))
		m.reg.setListener(transport.InvalidHandle)
		m.listening = false
	}
	errs = multierr.Append(errs, m.tr.Shutdown())
	m.connectQ = nil
	m.closing = nil
	clear(m.lingering)
	clear(m.lingerBy)
	m.metrics.open.Set(0)
	m.metrics.pending.Set(0)
	m.log.Info("shut down", zap.Error(errs))
	return errs
}
