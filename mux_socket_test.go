//go:build linux || darwin

package lobbynet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legamerdc/lobbynet/poller"
	"github.com/legamerdc/lobbynet/transport"
)

func newSocketMux(t *testing.T, tr transport.Transport) *Mux {
	t.Helper()
	m, err := New(DefaultConfig(), tr)
	require.NoError(t, err)
	require.NoError(t, m.Init(Address{Host: "127.0.0.1", Port: 0}))
	t.Cleanup(func() { _ = m.Shutdown() })
	return m
}

// spin 推进所有 Mux 直到 cond 成立或超时。
func spin(t *testing.T, cond func() bool, muxes ...*Mux) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		require.True(t, time.Now().Before(deadline), "condition not reached")
		for _, m := range muxes {
			m.Update()
		}
		time.Sleep(time.Millisecond)
	}
}

func testLoopbackExchange(t *testing.T, newTransport func() transport.Transport) {
	a := newSocketMux(t, newTransport())
	b := newSocketMux(t, newTransport())
	bAddr := b.ListenAddr()
	require.NotZero(t, bAddr.Port)

	a.RequestConnect(bAddr)
	spin(t, func() bool { return a.IsConnected(bAddr) && len(b.Conns()) == 1 }, a, b)
	in := b.Conns()[0]

	require.NoError(t, a.SendTo(bAddr, []byte("get_state")))
	var got [][]byte
	spin(t, func() bool {
		got = append(got, b.Frames(in.ID)...)
		return len(got) == 1
	}, a, b)
	assert.Equal(t, "get_state", string(got[0]))

	require.NoError(t, b.Send(in.ID, []byte("state_playing")))
	require.NoError(t, b.RequestClose(in.ID))
	got = nil
	spin(t, func() bool {
		got = append(got, a.FramesFrom(bAddr)...)
		return !a.IsConnected(bAddr)
	}, a, b)
	got = append(got, a.FramesFrom(bAddr)...)
	assert.Equal(t, [][]byte{[]byte("state_playing")}, got)
	assert.Empty(t, b.Conns())
}

func TestLoopbackExchange(t *testing.T) {
	testLoopbackExchange(t, func() transport.Transport {
		tr, err := transport.NewSocket()
		require.NoError(t, err)
		return tr
	})
}

func TestLoopbackExchangePoll(t *testing.T) {
	testLoopbackExchange(t, func() transport.Transport {
		return transport.NewSocketWithPoller(poller.NewPoll())
	})
}

func TestLoopbackRefused(t *testing.T) {
	// 先占用再释放一个端口，得到一个大概率无人监听的地址
	probe := newSocketMux(t, mustSocket(t))
	dead := probe.ListenAddr()
	require.NoError(t, probe.Shutdown())

	a := newSocketMux(t, mustSocket(t))
	a.RequestConnect(dead)
	var refused []Address
	spin(t, func() bool {
		refused = append(refused, a.Refused()...)
		return len(refused) > 0
	}, a)
	assert.Equal(t, []Address{dead}, refused)
	assert.False(t, a.IsConnected(dead))
}

func TestLoopbackRejectsHostname(t *testing.T) {
	a := newSocketMux(t, mustSocket(t))
	target := Address{Host: "example.invalid", Port: 9999}
	a.RequestConnect(target)
	a.Update()
	assert.Equal(t, []Address{target}, a.Refused())
}

func TestBindConflict(t *testing.T) {
	a := newSocketMux(t, mustSocket(t))
	m, err := New(DefaultConfig(), mustSocket(t))
	require.NoError(t, err)
	defer m.Shutdown()
	require.ErrorIs(t, m.Init(a.ListenAddr()), ErrBind)
}

func mustSocket(t *testing.T) *transport.Socket {
	t.Helper()
	tr, err := transport.NewSocket()
	require.NoError(t, err)
	return tr
}
