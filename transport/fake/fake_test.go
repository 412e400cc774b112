package fake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legamerdc/lobbynet/transport"
)

var srvAddr = transport.Address{Host: "10.0.0.2", Port: 9999}

func TestHandshakeCompletesOnPoll(t *testing.T) {
	n := NewNetwork()
	srv, cli := n.Host("10.0.0.2"), n.Host("10.0.0.1")
	l, err := srv.Listen(srvAddr)
	require.NoError(t, err)

	h, err := cli.Connect(srvAddr)
	require.Equal(t, transport.KindInProgress, transport.KindOf(err))
	assert.Equal(t, transport.KindInProgress, transport.KindOf(cli.PendingError(h)))

	var r transport.Readiness
	require.NoError(t, cli.Poll(nil, []transport.Handle{h}, &r))
	assert.True(t, r.Writable(h))
	assert.NoError(t, cli.PendingError(h))
	peer, err := cli.PeerAddress(h)
	require.NoError(t, err)
	assert.Equal(t, srvAddr, peer)

	require.NoError(t, srv.Poll([]transport.Handle{l}, nil, &r))
	assert.True(t, r.Readable(l))
	sh, from, err := srv.Accept(l)
	require.NoError(t, err)
	local, _ := cli.LocalAddress(h)
	assert.Equal(t, local, from)
	_, _, err = srv.Accept(l)
	assert.Equal(t, transport.KindWouldBlock, transport.KindOf(err))

	n2, err := cli.Write(h, []byte("ping\x00"))
	require.NoError(t, err)
	assert.Equal(t, 5, n2)
	buf := make([]byte, 16)
	got, err := srv.Read(sh, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping\x00", string(buf[:got]))
	_, err = srv.Read(sh, buf)
	assert.Equal(t, transport.KindWouldBlock, transport.KindOf(err))
}

func TestRefusal(t *testing.T) {
	n := NewNetwork()
	cli := n.Host("10.0.0.1")
	h, err := cli.Connect(srvAddr)
	require.Equal(t, transport.KindInProgress, transport.KindOf(err))

	var r transport.Readiness
	require.NoError(t, cli.Poll(nil, []transport.Handle{h}, &r))
	assert.True(t, r.Writable(h))
	assert.True(t, r.Errored(h))
	assert.ErrorIs(t, cli.PendingError(h), ErrRefused)

	n.RefuseImmediately = true
	h, err = cli.Connect(srvAddr)
	assert.Equal(t, transport.InvalidHandle, h)
	assert.ErrorIs(t, err, ErrRefused)
}

func TestWriteBudgetAndReadChunk(t *testing.T) {
	n := NewNetwork()
	n.ConnectImmediately = true
	srv, cli := n.Host("10.0.0.2"), n.Host("10.0.0.1")
	l, err := srv.Listen(srvAddr)
	require.NoError(t, err)
	h, err := cli.Connect(srvAddr)
	require.NoError(t, err)
	sh, _, err := srv.Accept(l)
	require.NoError(t, err)

	cli.WriteBudget = 3
	srv.ReadChunk = 2
	var r transport.Readiness
	require.NoError(t, cli.Poll(nil, []transport.Handle{h}, &r))
	w, err := cli.Write(h, []byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 3, w)
	_, err = cli.Write(h, []byte("def"))
	assert.Equal(t, transport.KindWouldBlock, transport.KindOf(err))

	buf := make([]byte, 8)
	got, err := srv.Read(sh, buf)
	require.NoError(t, err)
	assert.Equal(t, "ab", string(buf[:got]))
}

func TestCloseSignalsPeer(t *testing.T) {
	n := NewNetwork()
	n.ConnectImmediately = true
	srv, cli := n.Host("10.0.0.2"), n.Host("10.0.0.1")
	l, err := srv.Listen(srvAddr)
	require.NoError(t, err)
	h, err := cli.Connect(srvAddr)
	require.NoError(t, err)
	sh, _, err := srv.Accept(l)
	require.NoError(t, err)

	require.NoError(t, cli.Close(h))
	assert.ErrorIs(t, cli.Close(h), ErrBadFD)

	var r transport.Readiness
	require.NoError(t, srv.Poll([]transport.Handle{sh}, nil, &r))
	assert.True(t, r.Readable(sh))
	got, err := srv.Read(sh, make([]byte, 4))
	assert.NoError(t, err)
	assert.Zero(t, got)
	_, err = srv.Write(sh, []byte("x"))
	assert.ErrorIs(t, err, ErrReset)
}

func TestListenConflictAndShutdown(t *testing.T) {
	n := NewNetwork()
	a, b := n.Host("10.0.0.2"), n.Host("10.0.0.2")
	_, err := a.Listen(srvAddr)
	require.NoError(t, err)
	_, err = b.Listen(srvAddr)
	assert.ErrorIs(t, err, ErrInUse)

	require.NoError(t, a.Shutdown())
	assert.Zero(t, a.Open())
	_, err = b.Listen(srvAddr)
	assert.NoError(t, err, "listener released on shutdown")
	_, err = a.Connect(srvAddr)
	assert.ErrorIs(t, err, ErrShutdown)
}
