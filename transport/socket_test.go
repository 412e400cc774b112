//go:build linux || darwin

package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legamerdc/lobbynet/poller"
)

func pollUntil(t *testing.T, s *Socket, read, write []Handle, cond func(*Readiness) bool) {
	t.Helper()
	var r Readiness
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, s.Poll(read, write, &r))
		if cond(&r) {
			return
		}
		require.True(t, time.Now().Before(deadline), "readiness not reached")
		time.Sleep(time.Millisecond)
	}
}

func sockets(t *testing.T) map[string]*Socket {
	t.Helper()
	def, err := NewSocket()
	require.NoError(t, err)
	t.Cleanup(func() { _ = def.Shutdown() })
	return map[string]*Socket{
		"default": def,
		"poll":    NewSocketWithPoller(poller.NewPoll()),
	}
}

func TestSocketRoundTrip(t *testing.T) {
	for name, s := range sockets(t) {
		t.Run(name, func(t *testing.T) {
			l, err := s.Listen(Address{Host: "127.0.0.1", Port: 0})
			require.NoError(t, err)
			defer s.Close(l)
			la, err := s.LocalAddress(l)
			require.NoError(t, err)
			require.NotZero(t, la.Port)

			c, err := s.Connect(la)
			if err != nil {
				require.Equal(t, KindInProgress, KindOf(err))
				pollUntil(t, s, nil, []Handle{c}, func(r *Readiness) bool { return r.Writable(c) })
			}
			require.NoError(t, s.PendingError(c))
			peer, err := s.PeerAddress(c)
			require.NoError(t, err)
			assert.Equal(t, la, peer)

			pollUntil(t, s, []Handle{l}, nil, func(r *Readiness) bool { return r.Readable(l) })
			a, from, err := s.Accept(l)
			require.NoError(t, err)
			defer s.Close(a)
			local, err := s.LocalAddress(c)
			require.NoError(t, err)
			assert.Equal(t, local, from)

			_, _, err = s.Accept(l)
			assert.Equal(t, KindWouldBlock, KindOf(err))

			n, err := s.Write(c, []byte("get_state\x00"))
			require.NoError(t, err)
			assert.Equal(t, 10, n)

			pollUntil(t, s, []Handle{a}, nil, func(r *Readiness) bool { return r.Readable(a) })
			buf := make([]byte, 64)
			n, err = s.Read(a, buf)
			require.NoError(t, err)
			assert.Equal(t, "get_state\x00", string(buf[:n]))

			_, err = s.Read(a, buf)
			assert.Equal(t, KindWouldBlock, KindOf(err))

			require.NoError(t, s.Close(c))
			pollUntil(t, s, []Handle{a}, nil, func(r *Readiness) bool { return r.Readable(a) || r.Errored(a) })
			n, err = s.Read(a, buf)
			require.NoError(t, err)
			assert.Zero(t, n, "peer close reads as zero bytes")
		})
	}
}

func TestSocketConnectRejectsHostname(t *testing.T) {
	s, err := NewSocket()
	require.NoError(t, err)
	defer s.Shutdown()
	h, err := s.Connect(Address{Host: "lobby.example", Port: 9999})
	assert.Equal(t, InvalidHandle, h)
	assert.Equal(t, KindFailed, KindOf(err))
}

func TestSocketBindConflict(t *testing.T) {
	s, err := NewSocket()
	require.NoError(t, err)
	defer s.Shutdown()
	l, err := s.Listen(Address{Host: "127.0.0.1", Port: 0})
	require.NoError(t, err)
	defer s.Close(l)
	la, err := s.LocalAddress(l)
	require.NoError(t, err)
	_, err = s.Listen(la)
	assert.Equal(t, KindFailed, KindOf(err))
}

func TestParseAddress(t *testing.T) {
	a, err := ParseAddress("192.168.0.7:9999")
	require.NoError(t, err)
	assert.Equal(t, Address{Host: "192.168.0.7", Port: 9999}, a)
	assert.Equal(t, "192.168.0.7:9999", a.String())

	a, err = ParseAddress(":9999")
	require.NoError(t, err)
	assert.Equal(t, "", a.Host)

	_, err = ParseAddress("host:99999")
	assert.Error(t, err)
	_, err = ParseAddress("nohost")
	assert.Error(t, err)
}

func TestReadinessHandlesSorted(t *testing.T) {
	var r Readiness
	r.Reset()
	r.Mark(9, true, false, false)
	r.Mark(3, false, true, false)
	r.Mark(5, false, false, false)
	r.Mark(3, false, false, true)
	assert.Equal(t, []Handle{3, 9}, r.Handles(nil))
	assert.True(t, r.Writable(3))
	assert.True(t, r.Errored(3))
	assert.False(t, r.Readable(5))
	assert.Equal(t, 2, r.Len())
}
