package lobbynet

import (
	"go.uber.org/zap"

	"github.com/legamerdc/lobbynet/transport"
)

// Update 推进一个 tick。顺序固定：
//
//	1 排空检查  2 发起排队的连接  3 一次零超时就绪查询
//	4 完成待定连接（4b 过期）  5 accept  6 写出  7 读取并成帧
//
// 不返回错误：单个连接的失败在内部消化为状态迁移；就绪查询失败时本 tick 在第 3 步结束。
func (m *Mux) Update() {
	if m.down {
		return
	}
	m.opened = m.opened[:0]
	m.tick++
	m.metrics.ticks.Inc()
	m.expireLingering()

	m.drainClosing()
	m.dialQueued()
	if !m.poll() {
		m.updateGauges()
		return
	}
	m.resolvePending()
	m.expirePending()
	m.acceptReady()
	m.flushWrites()
	m.readFrames()
	m.updateGauges()
}

func (m *Mux) updateGauges() {
	m.metrics.open.Set(float64(m.reg.size()))
	m.metrics.pending.Set(float64(len(m.reg.pending)))
}

func connFields(c *Conn, extra ...zap.Field) []zap.Field {
	return append([]zap.Field{zap.Uint64("conn", uint64(c.ID)), zap.Stringer("addr", c.Addr)}, extra...)
}

// 1
func (m *Mux) drainClosing() {
	if len(m.closing) == 0 {
		return
	}
	keep := m.closing[:0]
	for _, c := range m.closing {
		if c.state != StateClosingDrain {
			continue
		}
		if c.Queued() > 0 {
			keep = append(keep, c)
			continue
		}
		m.closeConn(c, reasonLocal, nil)
	}
	clear(m.closing[len(keep):])
	m.closing = keep
}

// 2
func (m *Mux) dialQueued() {
	if len(m.connectQ) == 0 {
		return
	}
	q := m.connectQ
	m.connectQ = nil
	for _, addr := range q {
		h, err := m.tr.Connect(addr)
		switch transport.KindOf(err) {
		case transport.KindNone:
			m.nextID++
			c := newConn(m.nextID, h, addr, true, m.cfg.MaxFrameSize)
			m.establish(c)
		case transport.KindInProgress, transport.KindInterrupted, transport.KindWouldBlock:
			if h == transport.InvalidHandle {
				m.failConnect(addr, err, resultRefused)
				continue
			}
			m.nextID++
			c := newConn(m.nextID, h, addr, true, m.cfg.MaxFrameSize)
			c.state = StateConnecting
			if m.cfg.ConnectTimeout > 0 {
				c.deadline = m.clock.Now().Add(m.cfg.ConnectTimeout)
			}
			m.reg.addPending(c)
			m.metrics.connects.WithLabelValues(resultPending).Inc()
			m.log.Debug("connect pending", connFields(c)...)
		default:
			m.failConnect(addr, err, resultRefused)
		}
	}
}

// 3
func (m *Mux) poll() bool {
	m.rset, m.wset = m.reg.candidates(m.rset[:0], m.wset[:0])
	if err := m.tr.Poll(m.rset, m.wset, &m.ready); err != nil {
		m.ready.Reset()
		m.handls = m.handls[:0]
		m.log.Warn("poll failed", zap.Int("read", len(m.rset)), zap.Int("write", len(m.wset)), zap.Error(err))
		return false
	}
	m.handls = m.ready.Handles(m.handls[:0])
	return true
}

// 4
func (m *Mux) resolvePending() {
	for _, h := range m.handls {
		if !m.ready.Writable(h) && !m.ready.Errored(h) {
			continue
		}
		c := m.reg.pendingConn(h)
		if c == nil {
			continue
		}
		err := m.tr.PendingError(h)
		switch transport.KindOf(err) {
		case transport.KindNone:
			m.establish(c)
		case transport.KindInProgress, transport.KindInterrupted, transport.KindWouldBlock:
			m.log.Debug("connect still pending", connFields(c, zap.Error(err))...)
		default:
			m.failPending(c, err, resultRefused)
		}
	}
}

// 4b
func (m *Mux) expirePending() {
	if m.cfg.ConnectTimeout <= 0 || len(m.reg.pending) == 0 {
		return
	}
	now := m.clock.Now()
	for _, c := range m.reg.pendingSorted() {
		if c.deadline.IsZero() || now.Before(c.deadline) {
			continue
		}
		m.failPending(c, ErrConnectTimeout, resultTimeout)
	}
}

// 5
func (m *Mux) acceptReady() {
	if !m.listening || !m.ready.Readable(m.reg.listener) {
		return
	}
	for i := 0; i < m.cfg.AcceptBurst; i++ {
		h, peer, err := m.tr.Accept(m.reg.listener)
		switch transport.KindOf(err) {
		case transport.KindNone:
		case transport.KindWouldBlock, transport.KindInterrupted:
			return
		default:
			m.log.Warn("accept failed", zap.Error(err))
			return
		}
		m.nextID++
		c := newConn(m.nextID, h, peer, false, m.cfg.MaxFrameSize)
		m.establish(c)
	}
}

// 6
func (m *Mux) flushWrites() {
	for _, h := range m.handls {
		if !m.ready.Writable(h) {
			continue
		}
		c := m.reg.handle(h)
		if c == nil || (c.state != StateOpen && c.state != StateClosingDrain) {
			continue
		}
		m.flush(c)
	}
}

// flush 写出队列直到清空或遇到背压；部分写出的帧留在队首，下次从断点继续。
func (m *Mux) flush(c *Conn) {
	for c.wpos < len(c.wq) {
		buf := c.wq[c.wpos]
		n, err := m.tr.Write(c.handle, buf)
		if n > 0 {
			m.metrics.bytesSent.Add(float64(n))
		}
		if n == len(buf) {
			c.wq[c.wpos] = nil
			c.wpos++
			m.metrics.framesSent.Inc()
			continue
		}
		if n > 0 {
			c.wq[c.wpos] = buf[n:]
		}
		switch transport.KindOf(err) {
		case transport.KindNone, transport.KindWouldBlock, transport.KindInterrupted:
			c.compact()
		default:
			m.closeConn(c, reasonError, err)
		}
		return
	}
	c.compact()
	m.reg.disarmWrite(c)
}

// 7
func (m *Mux) readFrames() {
	for _, h := range m.handls {
		if h == m.reg.listener || (!m.ready.Readable(h) && !m.ready.Errored(h)) {
			continue
		}
		c := m.reg.handle(h)
		if c == nil || (c.state != StateOpen && c.state != StateClosingDrain) {
			continue
		}
		m.read(c)
	}
}

func (m *Mux) read(c *Conn) {
	n, err := m.tr.Read(c.handle, m.rbuf)
	if err != nil {
		switch transport.KindOf(err) {
		case transport.KindWouldBlock, transport.KindInterrupted:
			return
		}
		m.closeConn(c, reasonError, err)
		return
	}
	if n == 0 {
		m.closeConn(c, reasonPeer, nil)
		return
	}
	m.metrics.bytesReceived.Add(float64(n))
	data := m.rbuf[:n]
	for len(data) > 0 {
		data = data[c.in.Fill(data):]
		if !m.extract(c) {
			return
		}
		if c.in.Len() >= m.cfg.MaxFrameSize {
			m.closeConn(c, reasonOverflow, ErrFrameTooLarge)
			return
		}
	}
}

// extract 从入站缓冲切出所有完整帧；帧超长或解码失败时关闭连接并返回 false。
func (m *Mux) extract(c *Conn) bool {
	delim := m.codec.Delimiter()
	for {
		i := c.in.IndexByte(delim)
		if i < 0 {
			return true
		}
		if i >= m.cfg.MaxFrameSize {
			m.closeConn(c, reasonOverflow, ErrFrameTooLarge)
			return false
		}
		msg, err := m.codec.Decode(c.in.View(i))
		c.in.Skip(i + 1)
		if err != nil {
			m.closeConn(c, reasonBadFrame, err)
			return false
		}
		c.frames = append(c.frames, msg)
		m.metrics.framesReceived.Inc()
	}
}

// establish 把握手完成的连接登记为 Open。
func (m *Mux) establish(c *Conn) {
	peer, err := m.tr.PeerAddress(c.handle)
	if err != nil {
		if c.Outbound {
			m.failPending(c, err, resultRefused)
			return
		}
		m.log.Warn("accepted connection has no peer", zap.Error(err))
		_ = m.tr.Close(c.handle)
		return
	}
	c.Peer = peer
	c.state = StateOpen
	if old, ok := m.reg.lookup(c.Addr); ok && old != c {
		m.log.Debug("address rebound", connFields(c, zap.Uint64("previous", uint64(old.ID)))...)
	}
	m.reg.promote(c)
	m.opened = append(m.opened, c.ID)
	if c.Outbound {
		m.metrics.connects.WithLabelValues(resultOpen).Inc()
	} else {
		m.metrics.connects.WithLabelValues(resultAccept).Inc()
	}
	m.log.Debug("connection open", connFields(c, zap.Stringer("peer", peer), zap.Bool("outbound", c.Outbound))...)
	m.obs.OnOpen(c)
}

func (m *Mux) failPending(c *Conn, err error, result string) {
	m.reg.unregister(c)
	_ = m.tr.Close(c.handle)
	c.state = StateClosed
	m.failConnect(c.Addr, err, result)
}

// failConnect 记录一次失败的出站连接；地址出现在下一次 Refused 的结果中。
func (m *Mux) failConnect(addr Address, err error, result string) {
	m.refused = append(m.refused, addr)
	m.metrics.connects.WithLabelValues(result).Inc()
	m.log.Debug("connect failed", zap.Stringer("addr", addr), zap.String("result", result), zap.Error(err))
	m.obs.OnRefused(addr, err)
}

// closeConn 注销并释放连接。已收到但未取走的帧保留到被取走，配置了 LingerTicks 时最多保留这么多个 tick。
func (m *Mux) closeConn(c *Conn, reason string, cause error) {
	if c.state == StateClosed {
		return
	}
	m.reg.unregister(c)
	if err := m.tr.Close(c.handle); err != nil {
		m.log.Debug("close handle", connFields(c, zap.Error(err))...)
	}
	c.state = StateClosed
	clear(c.wq)
	c.wq, c.wpos = nil, 0
	c.in.Reset()
	if len(c.frames) > 0 {
		if m.cfg.LingerTicks > 0 {
			c.lingerEnd = m.tick + uint64(m.cfg.LingerTicks)
		}
		m.lingering[c.ID] = c
		m.lingerBy[c.Addr] = append(m.lingerBy[c.Addr], c)
	}
	m.metrics.closes.WithLabelValues(reason).Inc()
	switch reason {
	case reasonLocal, reasonPeer, reasonShutdown:
		m.log.Debug("connection closed", connFields(c, zap.String("reason", reason))...)
	default:
		m.log.Warn("connection closed", connFields(c, zap.String("reason", reason), zap.Error(cause))...)
	}
	m.obs.OnClose(c, cause)
}

func (m *Mux) expireLingering() {
	for _, c := range m.lingering {
		if c.lingerEnd > 0 && m.tick >= c.lingerEnd {
			m.dropLinger(c)
		}
	}
}

func (m *Mux) dropLinger(c *Conn) {
	delete(m.lingering, c.ID)
	list := m.lingerBy[c.Addr]
	for i, o := range list {
		if o == c {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(m.lingerBy, c.Addr)
		return
	}
	m.lingerBy[c.Addr] = list
}
