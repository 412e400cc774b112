package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legamerdc/lobbynet"
	"github.com/legamerdc/lobbynet/transport/fake"
)

var (
	hostA = lobbynet.Address{Host: "10.0.0.1", Port: 9999}
	hostB = lobbynet.Address{Host: "10.0.0.2", Port: 9999}
	hostC = lobbynet.Address{Host: "10.0.0.3", Port: 9999}
)

func newMux(t *testing.T, n *fake.Network, addr lobbynet.Address) *lobbynet.Mux {
	t.Helper()
	m, err := lobbynet.New(lobbynet.DefaultConfig(), n.Host(addr.Host))
	require.NoError(t, err)
	require.NoError(t, m.Init(addr))
	return m
}

// lobby 把若干 Mux 与其上的 presence 组件按帧驱动。
type lobby struct {
	muxes      []*lobbynet.Mux
	trackers   []*Tracker
	responders []*Responder
}

func (l *lobby) tick() []Change {
	var changes []Change
	for _, m := range l.muxes {
		m.Update()
	}
	for _, r := range l.responders {
		r.Update()
	}
	for _, tr := range l.trackers {
		changes = append(changes, tr.Update()...)
	}
	return changes
}

func (l *lobby) run(t *testing.T, max int, done func() bool) []Change {
	t.Helper()
	var changes []Change
	for i := 0; i < max; i++ {
		changes = append(changes, l.tick()...)
		if done() {
			return changes
		}
	}
	require.Fail(t, "lobby did not settle")
	return changes
}

func TestStateTokens(t *testing.T) {
	for _, s := range []State{Online, Playing, Offline} {
		got, ok := ParseState(s.Token())
		require.True(t, ok)
		assert.Equal(t, s, got)
		named, ok := ParseName(s.String())
		require.True(t, ok)
		assert.Equal(t, s, named)
	}
	assert.Nil(t, Unknown.Token())
	_, ok := ParseState([]byte("state_online "))
	assert.False(t, ok)
	_, ok = ParseName("away")
	assert.False(t, ok)

	assert.True(t, IsQuery([]byte("get_state")))
	assert.True(t, IsQuery([]byte("get_state\n")))
	assert.False(t, IsQuery([]byte("get")))
}

func TestQueryOnline(t *testing.T) {
	n := fake.NewNetwork()
	a := newMux(t, n, hostA)
	b := newMux(t, n, hostB)
	trk := NewTracker(a, nil)
	l := &lobby{
		muxes:      []*lobbynet.Mux{a, b},
		trackers:   []*Tracker{trk},
		responders: []*Responder{NewResponder(b, Online, nil)},
	}

	trk.Watch(hostB)
	trk.Watch(hostB)
	assert.Equal(t, Unknown, trk.State(hostB))
	changes := l.run(t, 20, trk.Resolved)

	assert.Equal(t, []Change{{Addr: hostB, State: Online}}, changes)
	assert.Equal(t, Online, trk.State(hostB))

	// 双方在应答后都关闭连接
	l.run(t, 10, func() bool { return len(a.Conns()) == 0 && len(b.Conns()) == 0 })
}

func TestUnreachablePeerIsOffline(t *testing.T) {
	n := fake.NewNetwork()
	a := newMux(t, n, hostA)
	trk := NewTracker(a, nil)
	l := &lobby{muxes: []*lobbynet.Mux{a}, trackers: []*Tracker{trk}}

	trk.Watch(hostC)
	changes := l.run(t, 10, trk.Resolved)
	assert.Equal(t, []Change{{Addr: hostC, State: Offline}}, changes)
}

func TestMixedLobby(t *testing.T) {
	n := fake.NewNetwork()
	n.RefuseImmediately = true
	a := newMux(t, n, hostA)
	b := newMux(t, n, hostB)
	c := newMux(t, n, hostC)
	trk := NewTracker(a, nil)
	l := &lobby{
		muxes:    []*lobbynet.Mux{a, b, c},
		trackers: []*Tracker{trk},
		responders: []*Responder{
			NewResponder(b, Playing, nil),
			NewResponder(c, Offline, nil),
		},
	}
	ghost := lobbynet.Address{Host: "10.0.0.4", Port: 9999}
	trk.Watch(hostB)
	trk.Watch(hostC)
	trk.Watch(ghost)
	l.run(t, 30, trk.Resolved)

	assert.Equal(t, Playing, trk.State(hostB))
	assert.Equal(t, Offline, trk.State(hostC))
	assert.Equal(t, Offline, trk.State(ghost))
	assert.Equal(t, Unknown, trk.State(hostA))
}

func TestRefreshRequeries(t *testing.T) {
	n := fake.NewNetwork()
	a := newMux(t, n, hostA)
	b := newMux(t, n, hostB)
	trk := NewTracker(a, nil)
	resp := NewResponder(b, Online, nil)
	l := &lobby{muxes: []*lobbynet.Mux{a, b}, trackers: []*Tracker{trk}, responders: []*Responder{resp}}

	trk.Watch(hostB)
	l.run(t, 20, trk.Resolved)
	require.Equal(t, Online, trk.State(hostB))

	resp.SetState(Playing)
	assert.Equal(t, Playing, resp.State())
	trk.Refresh(hostB)
	assert.False(t, trk.Resolved())
	changes := l.run(t, 30, trk.Resolved)
	assert.Equal(t, []Change{{Addr: hostB, State: Playing}}, changes)
}

func TestBothSidesQueryEachOther(t *testing.T) {
	n := fake.NewNetwork()
	a := newMux(t, n, hostA)
	b := newMux(t, n, hostB)
	ta, tb := NewTracker(a, nil), NewTracker(b, nil)
	l := &lobby{
		muxes:      []*lobbynet.Mux{a, b},
		trackers:   []*Tracker{ta, tb},
		responders: []*Responder{NewResponder(a, Playing, nil), NewResponder(b, Online, nil)},
	}
	ta.Watch(hostB)
	tb.Watch(hostA)
	l.run(t, 30, func() bool { return ta.Resolved() && tb.Resolved() })

	assert.Equal(t, Online, ta.State(hostB))
	assert.Equal(t, Playing, tb.State(hostA))
}

func TestResponderIgnoresOtherFrames(t *testing.T) {
	n := fake.NewNetwork()
	a := newMux(t, n, hostA)
	b := newMux(t, n, hostB)
	resp := NewResponder(b, Online, nil)

	a.RequestConnect(hostB)
	a.Update()
	b.Update()
	require.NoError(t, a.SendTo(hostB, []byte("hello")))
	a.Update()
	b.Update()
	assert.Zero(t, resp.Update())
	require.Len(t, b.Conns(), 1)
	assert.Equal(t, lobbynet.StateOpen, b.Conns()[0].State())

	require.NoError(t, a.SendTo(hostB, []byte(QueryToken)))
	a.Update()
	b.Update()
	assert.Equal(t, 1, resp.Update())
	assert.Equal(t, lobbynet.StateClosingDrain, b.Conns()[0].State())
}

func TestResponderOutbound(t *testing.T) {
	n := fake.NewNetwork()
	a := newMux(t, n, hostA)
	b := newMux(t, n, hostB)
	plain := NewResponder(a, Playing, nil)
	all := NewResponder(a, Playing, nil, WithOutbound())

	// a 主动连接 b，b 在入站连接上反向询问
	a.RequestConnect(hostB)
	a.Update()
	b.Update()
	require.Len(t, b.Conns(), 1)
	in := b.Conns()[0]
	require.NoError(t, b.Send(in.ID, []byte(QueryToken)))
	b.Update()
	a.Update()

	assert.Zero(t, plain.Update())
	assert.True(t, a.IsConnected(hostB))
	assert.Equal(t, 1, all.Update())
	out, ok := a.Lookup(hostB)
	require.True(t, ok)
	assert.Equal(t, lobbynet.StateClosingDrain, out.State())

	a.Update()
	b.Update()
	got, ok := ParseState(firstFrame(b.Frames(in.ID)))
	require.True(t, ok)
	assert.Equal(t, Playing, got)
}

func firstFrame(frames [][]byte) []byte {
	if len(frames) == 0 {
		return nil
	}
	return frames[0]
}

func TestUnknownStateClosesWithoutAnswer(t *testing.T) {
	n := fake.NewNetwork()
	a := newMux(t, n, hostA)
	b := newMux(t, n, hostB)
	trk := NewTracker(a, nil)
	l := &lobby{
		muxes:      []*lobbynet.Mux{a, b},
		trackers:   []*Tracker{trk},
		responders: []*Responder{NewResponder(b, Unknown, nil)},
	}
	trk.Watch(hostB)
	l.run(t, 20, func() bool { return len(b.Conns()) == 0 && len(a.Conns()) == 0 && trk.asked(hostB) })
	assert.Equal(t, Unknown, trk.State(hostB))
}

func TestUnwatch(t *testing.T) {
	n := fake.NewNetwork()
	n.Blackhole(hostB)
	a := newMux(t, n, hostA)
	trk := NewTracker(a, nil)
	trk.Watch(hostB)
	trk.Update()
	trk.Unwatch(hostB)
	trk.Unwatch(hostB)
	assert.True(t, trk.Resolved())
	assert.Equal(t, Unknown, trk.State(hostB))
}

func (t *Tracker) asked(addr lobbynet.Address) bool {
	p, ok := t.peers[addr]
	return ok && p.asked
}
