//go:build linux || darwin

package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/legamerdc/lobbynet"
	"github.com/legamerdc/lobbynet/transport"
)

func newLoopbackMux(t *testing.T) *lobbynet.Mux {
	t.Helper()
	tr, err := transport.NewSocket()
	require.NoError(t, err)
	cfg := lobbynet.DefaultConfig()
	cfg.Logger = zaptest.NewLogger(t)
	m, err := lobbynet.New(cfg, tr)
	require.NoError(t, err)
	require.NoError(t, m.Init(lobbynet.Address{Host: "127.0.0.1", Port: 0}))
	t.Cleanup(func() { _ = m.Shutdown() })
	return m
}

func TestLoopbackPresence(t *testing.T) {
	a := newLoopbackMux(t)
	b := newLoopbackMux(t)
	c := newLoopbackMux(t)
	dead := c.ListenAddr()
	require.NoError(t, c.Shutdown())

	trk := NewTracker(a, zaptest.NewLogger(t))
	resp := NewResponder(b, Playing, zaptest.NewLogger(t))
	trk.Watch(b.ListenAddr())
	trk.Watch(dead)

	deadline := time.Now().Add(3 * time.Second)
	for !trk.Resolved() {
		require.True(t, time.Now().Before(deadline), "presence query did not finish")
		a.Update()
		b.Update()
		resp.Update()
		trk.Update()
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, Playing, trk.State(b.ListenAddr()))
	assert.Equal(t, Offline, trk.State(dead))
}
