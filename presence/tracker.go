package presence

import (
	"go.uber.org/zap"

	"github.com/legamerdc/lobbynet"
)

// Change 是一次状态变化。
type Change struct {
	Addr  lobbynet.Address
	State State
}

type peer struct {
	addr      lobbynet.Address
	state     State
	requested bool // 已发起连接
	asked     bool // 已在当前连接上发送询问
}

// Tracker 查询一组对端的状态。必须在 Mux.Update 之后、同一线程中调用 Update。
//
// Tracker 消费 Network.Refused()：同一个 Mux 上不应再有其它 Refused 的使用者。
type Tracker struct {
	net   Network
	log   *zap.Logger
	peers map[lobbynet.Address]*peer
	order []*peer
}

func NewTracker(n Network, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		net:   n,
		log:   log.Named("presence"),
		peers: make(map[lobbynet.Address]*peer),
	}
}

// Watch 开始跟踪 addr；重复调用无副作用。连接在下一次 Update 中发起。
func (t *Tracker) Watch(addr lobbynet.Address) {
	if _, ok := t.peers[addr]; ok {
		return
	}
	p := &peer{addr: addr}
	t.peers[addr] = p
	t.order = append(t.order, p)
}

// Unwatch 停止跟踪 addr，若连接仍在则请求关闭。
func (t *Tracker) Unwatch(addr lobbynet.Address) {
	p, ok := t.peers[addr]
	if !ok {
		return
	}
	delete(t.peers, addr)
	for i, o := range t.order {
		if o == p {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	if t.net.IsConnected(addr) {
		_ = t.net.RequestCloseAddr(addr)
	}
}

// State 返回 addr 的已知状态；未跟踪或尚无结果时为 Unknown。
func (t *Tracker) State(addr lobbynet.Address) State {
	if p, ok := t.peers[addr]; ok {
		return p.state
	}
	return Unknown
}

// Refresh 丢弃 addr 的结果，在后续 Update 中用新连接重新询问。
func (t *Tracker) Refresh(addr lobbynet.Address) {
	p, ok := t.peers[addr]
	if !ok {
		return
	}
	p.state = Unknown
	p.requested = false
	p.asked = false
}

// Resolved 报告是否所有被跟踪的对端都已有结果。
func (t *Tracker) Resolved() bool {
	for _, p := range t.order {
		if p.state == Unknown {
			return false
		}
	}
	return true
}

// Update 推进询问流程，按 Watch 顺序返回本次发生的状态变化。
func (t *Tracker) Update() []Change {
	var changes []Change
	for _, addr := range t.net.Refused() {
		p, ok := t.peers[addr]
		if !ok || p.state != Unknown {
			continue
		}
		p.state = Offline
		changes = append(changes, Change{Addr: addr, State: Offline})
		t.log.Debug("peer unreachable", zap.Stringer("addr", addr))
	}
	for _, p := range t.order {
		if p.state != Unknown {
			continue
		}
		if s, ok := t.receive(p); ok {
			p.state = s
			changes = append(changes, Change{Addr: p.addr, State: s})
			continue
		}
		t.ask(p)
	}
	return changes
}

func (t *Tracker) ask(p *peer) {
	if !t.net.IsConnected(p.addr) {
		if !p.requested && !t.net.IsPending(p.addr) {
			t.net.RequestConnect(p.addr)
			p.requested = true
			p.asked = false
		}
		return
	}
	if p.asked {
		return
	}
	if err := t.net.SendTo(p.addr, []byte(QueryToken)); err != nil {
		t.log.Debug("query not sent", zap.Stringer("addr", p.addr), zap.Error(err))
		return
	}
	p.asked = true
}

// receive 取走 addr 上的帧，返回第一个状态 token；其余帧被丢弃。
func (t *Tracker) receive(p *peer) (State, bool) {
	for _, f := range t.net.FramesFrom(p.addr) {
		s, ok := ParseState(f)
		if !ok {
			t.log.Debug("ignoring unexpected frame", zap.Stringer("addr", p.addr), zap.ByteString("frame", f))
			continue
		}
		if t.net.IsConnected(p.addr) {
			_ = t.net.RequestCloseAddr(p.addr)
		}
		return s, true
	}
	return Unknown, false
}
