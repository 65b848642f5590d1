package node

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mendebian/p2p-game/internal/config"
	"github.com/mendebian/p2p-game/internal/session"
	"github.com/mendebian/p2p-game/internal/transport"
	"github.com/mendebian/p2p-game/internal/transport/memory"
)

const (
	waitFor = 3 * time.Second
	poll    = 10 * time.Millisecond
)

func testConfig() config.SessionConfig {
	cfg := config.Default().Session
	cfg.Collision = "none"
	cfg.JoinTimeout = 150 * time.Millisecond
	cfg.RejoinGrace = 200 * time.Millisecond
	cfg.SyncInterval = 20 * time.Millisecond
	return cfg
}

type peer struct {
	*Node
	ep *memory.Endpoint
}

func startPeer(t *testing.T, net *memory.Network, id string, cfg config.SessionConfig, x, y float64) *peer {
	t.Helper()
	ep, err := net.Endpoint(id)
	require.NoError(t, err)
	n, err := New(ep, cfg, Options{Name: id, Spawn: &session.Vec{X: x, Y: y}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go n.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-n.Done()
		ep.Close()
	})
	return &peer{Node: n, ep: ep}
}

// view reads the node state without failing from inside Eventually.
func view(n *Node) View {
	v, _ := n.View()
	return v
}

func playerIDs(v View) []string {
	return sortedKeys(v.Players)
}

func joined(t *testing.T, p *peer, host string) {
	t.Helper()
	require.NoError(t, p.Join(context.Background(), host))
}

func TestCreateRoom(t *testing.T) {
	net := memory.NewNetwork()
	a := startPeer(t, net, "A", testConfig(), 100, 100)

	require.NoError(t, a.CreateRoom())
	v := view(a.Node)
	assert.True(t, v.IsHost)
	assert.Equal(t, "A", v.HostID)
	assert.Equal(t, StatusHosting, v.Status)
	assert.Equal(t, uint64(1), v.Epoch)
	assert.Equal(t, []string{"A"}, playerIDs(v))

	assert.ErrorIs(t, a.CreateRoom(), ErrInRoom)
}

func TestJoinConverges(t *testing.T) {
	net := memory.NewNetwork()
	a := startPeer(t, net, "A", testConfig(), 100, 100)
	b := startPeer(t, net, "B", testConfig(), 0, 0)

	require.NoError(t, a.CreateRoom())
	joined(t, b, "A")

	require.Eventually(t, func() bool {
		va, vb := view(a.Node), view(b.Node)
		return len(va.Players) == 2 && va.Digest == vb.Digest
	}, waitFor, poll)

	va, vb := view(a.Node), view(b.Node)
	pb, ok := va.Player("B")
	require.True(t, ok)
	assert.Equal(t, "B", pb.ID)
	assert.Equal(t, 0.0, pb.X)
	assert.Equal(t, 0.0, pb.Y)
	assert.Equal(t, va.Players, vb.Players)

	assert.Equal(t, "A", vb.HostID)
	assert.False(t, vb.IsHost)
	assert.Equal(t, StatusJoined, vb.Status)
}

// lateEndpoint returns from Connect only after the host has had time to
// answer on the new channel.
type lateEndpoint struct {
	*memory.Endpoint
	delay time.Duration
}

func (l lateEndpoint) Connect(ctx context.Context, remoteID string) (transport.Channel, error) {
	ch, err := l.Endpoint.Connect(ctx, remoteID)
	if err == nil {
		time.Sleep(l.delay)
	}
	return ch, err
}

func TestJoinWithSlowConnectKeepsInit(t *testing.T) {
	net := memory.NewNetwork()
	a := startPeer(t, net, "A", testConfig(), 0, 0)
	require.NoError(t, a.CreateRoom())
	require.NoError(t, a.AwardPoint(session.SideHome))

	ep, err := net.Endpoint("B")
	require.NoError(t, err)
	b, err := New(lateEndpoint{Endpoint: ep, delay: 50 * time.Millisecond}, testConfig(),
		Options{Spawn: &session.Vec{X: 100, Y: 0}})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-b.Done()
		ep.Close()
	})

	require.NoError(t, b.Join(context.Background(), "A"))
	require.Eventually(t, func() bool {
		v := view(b)
		return len(v.Players) == 2 && v.Score == session.Score{Home: 1}
	}, waitFor, poll)
	assert.Equal(t, uint64(1), view(b).Epoch)

	// B saw init, so losing the host starts an election rather than
	// ending the session.
	require.NoError(t, a.ep.Close())
	require.Eventually(t, func() bool {
		v := view(b)
		return v.IsHost && v.Status == StatusHosting
	}, waitFor, poll)
	assert.Equal(t, session.Score{Home: 1}, view(b).Score)
}

func TestJoinUnknownPeer(t *testing.T) {
	net := memory.NewNetwork()
	b := startPeer(t, net, "B", testConfig(), 0, 0)

	err := b.Join(context.Background(), "nobody")
	assert.ErrorIs(t, err, transport.ErrPeerUnavailable)

	v := view(b.Node)
	assert.Equal(t, StatusIdle, v.Status)
	assert.Empty(t, v.HostID)

	select {
	case a := <-b.Alerts():
		assert.ErrorIs(t, a.Err, transport.ErrPeerUnavailable)
	case <-time.After(waitFor):
		t.Fatal("no alert")
	}
}

func TestJoinTimesOut(t *testing.T) {
	net := memory.NewNetwork()
	startPeer(t, net, "A", testConfig(), 0, 0)
	b := startPeer(t, net, "B", testConfig(), 0, 0)
	net.Block("A")

	start := time.Now()
	err := b.Join(context.Background(), "A")
	assert.ErrorIs(t, err, transport.ErrJoinTimeout)
	assert.Less(t, time.Since(start), waitFor)
	assert.Equal(t, StatusIdle, view(b.Node).Status)
}

func TestJoinSelfRejected(t *testing.T) {
	net := memory.NewNetwork()
	b := startPeer(t, net, "B", testConfig(), 0, 0)
	assert.ErrorIs(t, b.Join(context.Background(), "B"), transport.ErrPeerUnavailable)
}

func TestMovesReachEveryPeer(t *testing.T) {
	net := memory.NewNetwork()
	a := startPeer(t, net, "A", testConfig(), 100, 100)
	b := startPeer(t, net, "B", testConfig(), 0, 0)
	c := startPeer(t, net, "C", testConfig(), 300, 300)
	require.NoError(t, a.CreateRoom())
	joined(t, b, "A")
	joined(t, c, "A")

	require.Eventually(t, func() bool { return len(view(c.Node).Players) == 3 }, waitFor, poll)

	require.NoError(t, b.Move(5, -2))
	require.NoError(t, a.MoveTo(50, 60))

	require.Eventually(t, func() bool {
		vc := view(c.Node)
		pb, okB := vc.Player("B")
		pa, okA := vc.Player("A")
		return okA && okB && pb.X == 5 && pb.Y == -2 && pa.X == 50 && pa.Y == 60
	}, waitFor, poll)

	require.Eventually(t, func() bool {
		return view(a.Node).Digest == view(b.Node).Digest
	}, waitFor, poll)
}

func TestMembershipFollowsChannels(t *testing.T) {
	net := memory.NewNetwork()
	a := startPeer(t, net, "A", testConfig(), 0, 0)
	b := startPeer(t, net, "B", testConfig(), 50, 0)
	c := startPeer(t, net, "C", testConfig(), 100, 0)
	d := startPeer(t, net, "D", testConfig(), 150, 0)
	require.NoError(t, a.CreateRoom())
	for _, p := range []*peer{b, c, d} {
		joined(t, p, "A")
	}
	require.Eventually(t, func() bool { return len(view(a.Node).Players) == 4 }, waitFor, poll)

	c.ep.Disconnect()

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"A", "B", "D"}, playerIDs(view(a.Node))) &&
			assert.ObjectsAreEqual([]string{"A", "B", "D"}, playerIDs(view(b.Node))) &&
			assert.ObjectsAreEqual([]string{"A", "B", "D"}, playerIDs(view(d.Node)))
	}, waitFor, poll)

	select {
	case alert := <-c.Alerts():
		assert.ErrorIs(t, alert.Err, ErrOffline)
	case <-time.After(waitFor):
		t.Fatal("disconnected peer got no alert")
	}
	vc := view(c.Node)
	assert.Equal(t, StatusOffline, vc.Status)
	assert.Equal(t, []string{"C"}, playerIDs(vc))
}

func TestHostMigrationElectsSmallestID(t *testing.T) {
	net := memory.NewNetwork()
	a := startPeer(t, net, "A", testConfig(), 0, 0)
	b := startPeer(t, net, "B", testConfig(), 100, 0)
	c := startPeer(t, net, "C", testConfig(), 200, 0)
	require.NoError(t, a.CreateRoom())
	joined(t, b, "A")
	joined(t, c, "A")
	require.Eventually(t, func() bool {
		return len(view(b.Node).Players) == 3 && len(view(c.Node).Players) == 3
	}, waitFor, poll)

	require.NoError(t, a.ep.Close())

	require.Eventually(t, func() bool {
		vb, vc := view(b.Node), view(c.Node)
		return vb.IsHost && vc.HostID == "B" && vc.Status == StatusJoined &&
			vb.Digest == vc.Digest && len(vb.Players) == 2
	}, waitFor, poll)

	vb, vc := view(b.Node), view(c.Node)
	assert.Equal(t, "B", vb.HostID)
	assert.False(t, vc.IsHost, "C must not promote itself")
	assert.Equal(t, []string{"B", "C"}, playerIDs(vb))
	assert.Equal(t, vb.Epoch, vc.Epoch)
	assert.Equal(t, uint64(2), vb.Epoch)

	// The new host resolves actions.
	require.NoError(t, c.Move(1, 1))
	require.Eventually(t, func() bool {
		p, ok := view(b.Node).Player("C")
		return ok && p.X == 201 && p.Y == 1
	}, waitFor, poll)
}

func TestHostMigrationDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.HostMigration = false

	net := memory.NewNetwork()
	a := startPeer(t, net, "A", cfg, 0, 0)
	b := startPeer(t, net, "B", cfg, 100, 0)
	require.NoError(t, a.CreateRoom())
	joined(t, b, "A")
	require.Eventually(t, func() bool { return len(view(b.Node).Players) == 2 }, waitFor, poll)

	require.NoError(t, a.ep.Close())

	select {
	case alert := <-b.Alerts():
		assert.ErrorIs(t, alert.Err, ErrHostLost)
	case <-time.After(waitFor):
		t.Fatal("no host-lost alert")
	}
	require.Eventually(t, func() bool {
		v := view(b.Node)
		return v.Status == StatusIdle && !v.IsHost && len(v.Players) == 1
	}, waitFor, poll)
}

func TestRejoinGracePrunesMissingPlayers(t *testing.T) {
	net := memory.NewNetwork()
	a := startPeer(t, net, "A", testConfig(), 0, 0)
	b := startPeer(t, net, "B", testConfig(), 100, 0)
	c := startPeer(t, net, "C", testConfig(), 200, 0)
	require.NoError(t, a.CreateRoom())
	joined(t, b, "A")
	joined(t, c, "A")
	require.Eventually(t, func() bool { return len(view(c.Node).Players) == 3 }, waitFor, poll)

	// C cannot reach the successor, so B never hears from it again.
	net.Block("B")
	require.NoError(t, a.ep.Close())

	require.Eventually(t, func() bool {
		v := view(b.Node)
		return v.IsHost && assert.ObjectsAreEqual([]string{"B"}, playerIDs(v))
	}, waitFor, poll)

	// C gives up on B, drops it and ends up hosting alone.
	require.Eventually(t, func() bool {
		v := view(c.Node)
		return v.IsHost && assert.ObjectsAreEqual([]string{"C"}, playerIDs(v))
	}, waitFor, poll)
}

func TestAwardPoint(t *testing.T) {
	net := memory.NewNetwork()
	a := startPeer(t, net, "A", testConfig(), 0, 0)
	b := startPeer(t, net, "B", testConfig(), 100, 0)
	require.NoError(t, a.CreateRoom())
	joined(t, b, "A")

	assert.ErrorIs(t, b.AwardPoint(session.SideHome), ErrNotHost)

	require.NoError(t, a.AwardPoint(session.SideHome))
	require.NoError(t, a.AwardPoint(session.SideAway))
	require.NoError(t, a.AwardPoint(session.SideHome))

	require.Eventually(t, func() bool {
		return view(b.Node).Score == session.Score{Home: 2, Away: 1}
	}, waitFor, poll)
}

func TestHostResolvesCollisions(t *testing.T) {
	cfg := testConfig()
	cfg.Collision = "analytic"

	net := memory.NewNetwork()
	a := startPeer(t, net, "A", cfg, 100, 100)
	b := startPeer(t, net, "B", cfg, 110, 100)
	require.NoError(t, a.CreateRoom())
	joined(t, b, "A")

	separated := func(v View) bool {
		pa, okA := v.Player("A")
		pb, okB := v.Player("B")
		return okA && okB && pb.X-pa.X > 2*cfg.PlayerRadius-1
	}
	require.Eventually(t, func() bool { return separated(view(a.Node)) }, waitFor, poll)
	require.Eventually(t, func() bool { return separated(view(b.Node)) }, waitFor, poll)
}

func TestSubscribeDeliversViews(t *testing.T) {
	net := memory.NewNetwork()
	a := startPeer(t, net, "A", testConfig(), 0, 0)

	sub := a.Subscribe()
	defer sub.Done()

	select {
	case v := <-sub.Recv():
		assert.Equal(t, "A", v.Self)
	case <-time.After(waitFor):
		t.Fatal("no initial view")
	}

	require.NoError(t, a.CreateRoom())
	deadline := time.After(waitFor)
	for {
		select {
		case v := <-sub.Recv():
			if v.IsHost {
				return
			}
		case <-deadline:
			t.Fatal("no hosting view published")
		}
	}
}

func TestStoppedNode(t *testing.T) {
	net := memory.NewNetwork()
	ep, err := net.Endpoint("A")
	require.NoError(t, err)
	n, err := New(ep, testConfig(), Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()
	cancel()
	assert.True(t, errors.Is(<-done, context.Canceled))

	assert.ErrorIs(t, n.CreateRoom(), ErrNodeStopped)
	_, err = n.View()
	assert.ErrorIs(t, err, ErrNodeStopped)
}

func TestNewRejectsBadModes(t *testing.T) {
	net := memory.NewNetwork()
	ep, _ := net.Endpoint("A")

	cfg := testConfig()
	cfg.Score = "golf"
	_, err := New(ep, cfg, Options{})
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Collision = "soft"
	_, err = New(ep, cfg, Options{})
	assert.Error(t, err)
}

func TestRandomSpawnInsideCanvas(t *testing.T) {
	net := memory.NewNetwork()
	ep, _ := net.Endpoint("A")
	cfg := testConfig()
	n, err := New(ep, cfg, Options{})
	require.NoError(t, err)

	p, ok := n.dir.Get("A")
	require.True(t, ok)
	assert.GreaterOrEqual(t, p.X, cfg.PlayerRadius)
	assert.LessOrEqual(t, p.X, cfg.CanvasWidth-cfg.PlayerRadius)
	assert.GreaterOrEqual(t, p.Y, cfg.PlayerRadius)
	assert.LessOrEqual(t, p.Y, cfg.CanvasHeight-cfg.PlayerRadius)
}
