package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mendebian/p2p-game/internal/transport"
)

func next(t *testing.T, e *Endpoint) transport.Event {
	t.Helper()
	select {
	case ev := <-e.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatalf("no event on %s", e.ID())
		return transport.Event{}
	}
}

func TestEndpointIDs(t *testing.T) {
	n := NewNetwork()
	a, err := n.Endpoint("")
	require.NoError(t, err)
	b, err := n.Endpoint("")
	require.NoError(t, err)
	assert.Equal(t, "peer-1", a.ID())
	assert.Equal(t, "peer-2", b.ID())

	_, err = n.Endpoint("peer-1")
	assert.ErrorIs(t, err, transport.ErrIDTaken)
}

func TestConnectAndExchange(t *testing.T) {
	n := NewNetwork()
	a, _ := n.Endpoint("a")
	b, _ := n.Endpoint("b")

	ch, err := a.Connect(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, "b", ch.Peer())
	assert.True(t, ch.Open())

	ev := next(t, b)
	require.Equal(t, transport.EventConnection, ev.Kind)
	assert.Equal(t, "a", ev.Channel.Peer())
	inbound := ev.Channel

	for _, msg := range []string{"one", "two", "three"} {
		require.NoError(t, ch.Send([]byte(msg)))
	}
	for _, want := range []string{"one", "two", "three"} {
		ev := next(t, b)
		require.Equal(t, transport.EventData, ev.Kind)
		assert.Equal(t, want, string(ev.Data))
	}

	require.NoError(t, inbound.Send([]byte("back")))
	ev = next(t, a)
	assert.Equal(t, "back", string(ev.Data))
	assert.Same(t, ch, ev.Channel)
}

func TestSendCopiesPayload(t *testing.T) {
	n := NewNetwork()
	a, _ := n.Endpoint("a")
	b, _ := n.Endpoint("b")
	ch, _ := a.Connect(context.Background(), "b")
	next(t, b)

	buf := []byte("abc")
	require.NoError(t, ch.Send(buf))
	buf[0] = 'z'
	assert.Equal(t, "abc", string(next(t, b).Data))
}

func TestConnectUnknownPeer(t *testing.T) {
	n := NewNetwork()
	a, _ := n.Endpoint("a")
	_, err := a.Connect(context.Background(), "ghost")
	assert.ErrorIs(t, err, transport.ErrPeerUnavailable)

	_, err = a.Connect(context.Background(), "a")
	assert.ErrorIs(t, err, transport.ErrPeerUnavailable)
}

func TestConnectBlockedTimesOut(t *testing.T) {
	n := NewNetwork()
	a, _ := n.Endpoint("a")
	n.Endpoint("b")
	n.Block("b")

	_, err := transport.ConnectTimeout(context.Background(), a, "b", 20*time.Millisecond)
	assert.ErrorIs(t, err, transport.ErrJoinTimeout)
}

func TestCloseNotifiesRemoteOnly(t *testing.T) {
	n := NewNetwork()
	a, _ := n.Endpoint("a")
	b, _ := n.Endpoint("b")
	ch, _ := a.Connect(context.Background(), "b")
	inbound := next(t, b).Channel

	require.NoError(t, ch.Close())
	ev := next(t, b)
	assert.Equal(t, transport.EventClose, ev.Kind)
	assert.False(t, inbound.Open())
	assert.ErrorIs(t, ch.Send([]byte("x")), transport.ErrChannelClosed)

	select {
	case ev := <-a.Events():
		t.Fatalf("unexpected event on closer: %v", ev.Kind)
	default:
	}

	require.NoError(t, ch.Close(), "second close is a no-op")
}

func TestDisconnect(t *testing.T) {
	n := NewNetwork()
	a, _ := n.Endpoint("a")
	b, _ := n.Endpoint("b")
	c, _ := n.Endpoint("c")
	_, err := b.Connect(context.Background(), "a")
	require.NoError(t, err)
	_, err = c.Connect(context.Background(), "a")
	require.NoError(t, err)
	next(t, a)
	next(t, a)

	a.Disconnect()

	assert.Equal(t, transport.EventClose, next(t, b).Kind)
	assert.Equal(t, transport.EventClose, next(t, c).Kind)
	assert.Equal(t, transport.EventDisconnected, next(t, a).Kind)

	_, err = b.Connect(context.Background(), "a")
	assert.ErrorIs(t, err, transport.ErrPeerUnavailable)
}

func TestCloseReleasesID(t *testing.T) {
	n := NewNetwork()
	a, _ := n.Endpoint("a")
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, err := n.Endpoint("a")
	assert.NoError(t, err)

	_, err = a.Connect(context.Background(), "a")
	assert.ErrorIs(t, err, transport.ErrClosed)
}
