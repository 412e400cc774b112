package presence

import (
	"go.uber.org/zap"

	"github.com/legamerdc/lobbynet"
)

// Responder 用本地状态应答询问，应答后请求关闭连接。
//
// 默认只处理入站连接：出站连接是本地 Tracker 发起的查询，其上的帧留给 Tracker。
// 同一 Mux 上没有 Tracker 时，可用 WithOutbound 让每条连接上的询问都得到应答。
type Responder struct {
	net      Network
	log      *zap.Logger
	state    State
	outbound bool
}

type ResponderOption func(*Responder)

// WithOutbound 让 Responder 也处理出站连接。它会取走这些连接上的全部帧，
// 因此不能与同一 Mux 上的 Tracker 共用。
func WithOutbound() ResponderOption {
	return func(r *Responder) { r.outbound = true }
}

func NewResponder(n Network, s State, log *zap.Logger, opts ...ResponderOption) *Responder {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Responder{net: n, log: log.Named("presence"), state: s}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Responder) State() State { return r.state }

func (r *Responder) SetState(s State) { r.state = s }

// Update 处理入站连接（WithOutbound 时为全部连接）上的帧，返回本次应答的询问数。
func (r *Responder) Update() int {
	token := r.state.Token()
	answered := 0
	for _, c := range r.net.Conns() {
		if (c.Outbound && !r.outbound) || c.State() != lobbynet.StateOpen {
			continue
		}
		for _, f := range r.net.Frames(c.ID) {
			if !IsQuery(f) {
				r.log.Debug("ignoring unexpected frame", zap.Uint64("conn", uint64(c.ID)), zap.ByteString("frame", f))
				continue
			}
			if token == nil {
				_ = r.net.RequestClose(c.ID)
				break
			}
			if err := r.net.Send(c.ID, token); err != nil {
				r.log.Debug("reply not sent", zap.Uint64("conn", uint64(c.ID)), zap.Error(err))
				break
			}
			_ = r.net.RequestClose(c.ID)
			answered++
			break
		}
	}
	return answered
}
