// Package node runs one peer of a room. A single goroutine owns the session
// directory and the authority controller and serialises everything that
// touches them: transport events, local input, timers and election results.
// Other goroutines talk to it through commands and read it through View
// snapshots.
package node

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/mendebian/p2p-game/internal/authority"
	"github.com/mendebian/p2p-game/internal/config"
	"github.com/mendebian/p2p-game/internal/logging"
	"github.com/mendebian/p2p-game/internal/physics"
	"github.com/mendebian/p2p-game/internal/protocol"
	"github.com/mendebian/p2p-game/internal/reconcile"
	"github.com/mendebian/p2p-game/internal/session"
	"github.com/mendebian/p2p-game/internal/transport"
)

const (
	inboxSize   = 64
	alertBuffer = 16
	parkedLimit = 64
)

type Options struct {
	Name string
	// Spawn fixes the local player's starting position. When nil the player
	// starts somewhere random on the canvas.
	Spawn *session.Vec
}

type parked struct {
	ch    transport.Channel
	queue []protocol.Message
}

type Node struct {
	tr   transport.Transport
	cfg  config.SessionConfig
	self string
	log  zerolog.Logger

	// Owned by the Run goroutine.
	auth       *authority.Controller
	dir        *session.Directory
	rec        *reconcile.Reconciler
	status     Status
	host       transport.Channel
	peers      map[string]transport.Channel
	parked     map[string]*parked
	early      *parked // host data that beat the dial result
	synced     bool
	dirty      bool
	regrouping bool
	dialSeq    uint64
	ctx        context.Context

	inbox    chan any
	views    *Topic[View]
	lastView atomic.Pointer[View]
	alerts   chan Alert
	stopped  chan struct{}
}

func New(tr transport.Transport, cfg config.SessionConfig, opts Options) (*Node, error) {
	scoreMode, err := session.ParseScoreMode(cfg.Score)
	if err != nil {
		return nil, err
	}
	collision, err := reconcile.ParseMode(cfg.Collision)
	if err != nil {
		return nil, err
	}

	self := tr.ID()
	bounds := &physics.Rect{MaxX: cfg.CanvasWidth, MaxY: cfg.CanvasHeight}

	n := &Node{
		tr:      tr,
		cfg:     cfg,
		self:    self,
		log:     logging.Component("node").With().Str("peer", self).Logger(),
		auth:    authority.New(self),
		dir:     session.NewDirectory(scoreMode),
		rec:     reconcile.New(collision, cfg.PlayerRadius, cfg.PushStrength, bounds),
		peers:   make(map[string]transport.Channel),
		parked:  make(map[string]*parked),
		ctx:     context.Background(),
		inbox:   make(chan any, inboxSize),
		views:   NewTopic[View](),
		alerts:  make(chan Alert, alertBuffer),
		stopped: make(chan struct{}),
	}

	spawn := opts.Spawn
	if spawn == nil {
		r := cfg.PlayerRadius
		spawn = &session.Vec{
			X: r + rand.Float64()*(cfg.CanvasWidth-2*r),
			Y: r + rand.Float64()*(cfg.CanvasHeight-2*r),
		}
	}
	n.dir.Add(session.PlayerState{ID: self, Name: opts.Name, X: spawn.X, Y: spawn.Y})
	n.storeView(n.view())
	return n, nil
}

func (n *Node) ID() string {
	return n.self
}

// Run drives the node until ctx is cancelled. It must be called once.
func (n *Node) Run(ctx context.Context) error {
	n.ctx = ctx
	tick := time.NewTicker(n.cfg.TickInterval())
	sync := time.NewTicker(n.cfg.SyncInterval)
	defer func() {
		tick.Stop()
		sync.Stop()
		n.closeAll()
		close(n.stopped)
	}()

	n.log.Info().
		Str("collision", n.rec.Mode().String()).
		Str("score", n.dir.Mode().String()).
		Msg("node running")

	events := n.tr.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			n.handleEvent(ev)
		case cmd := <-n.inbox:
			n.handleCommand(cmd)
		case <-tick.C:
			n.tick()
		case <-sync.C:
			n.flush()
		}
		n.publish()
	}
}

type (
	createRoomCmd struct{ reply chan error }
	joinCmd       struct {
		ctx    context.Context
		hostID string
		reply  chan error
	}
	actionCmd   struct{ action protocol.PlayerAction }
	awardCmd    struct {
		side  session.Side
		reply chan error
	}
	dialResult struct {
		seq    uint64
		hostID string
		ch     transport.Channel
		err    error
		reply  chan error
	}
	graceExpired struct{ epoch uint64 }
	viewRequest  struct{ reply chan View }
)

func (n *Node) post(cmd any) error {
	select {
	case n.inbox <- cmd:
		return nil
	case <-n.stopped:
		return ErrNodeStopped
	}
}

func (n *Node) await(ctx context.Context, reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-n.stopped:
		return ErrNodeStopped
	}
}

// CreateRoom makes this peer the host of a new room whose id is the peer id.
func (n *Node) CreateRoom() error {
	reply := make(chan error, 1)
	if err := n.post(createRoomCmd{reply: reply}); err != nil {
		return err
	}
	return n.await(context.Background(), reply)
}

// Join connects to the host hostID and announces the local player. It
// returns once the channel is open or the attempt failed; failures are
// transport.ErrJoinTimeout or transport.ErrPeerUnavailable.
func (n *Node) Join(ctx context.Context, hostID string) error {
	reply := make(chan error, 1)
	if err := n.post(joinCmd{ctx: ctx, hostID: hostID, reply: reply}); err != nil {
		return err
	}
	return n.await(ctx, reply)
}

// Move displaces the local player by (dx, dy).
func (n *Node) Move(dx, dy float64) error {
	return n.post(actionCmd{action: protocol.Move(n.self, dx, dy)})
}

// MoveTo places the local player at (x, y).
func (n *Node) MoveTo(x, y float64) error {
	return n.post(actionCmd{action: protocol.MoveTo(n.self, x, y)})
}

// AwardPoint adds a point for side. Only the host may do this.
func (n *Node) AwardPoint(side session.Side) error {
	reply := make(chan error, 1)
	if err := n.post(awardCmd{side: side, reply: reply}); err != nil {
		return err
	}
	return n.await(context.Background(), reply)
}

// View returns the node's current state.
func (n *Node) View() (View, error) {
	reply := make(chan View, 1)
	if err := n.post(viewRequest{reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-n.stopped:
		return View{}, ErrNodeStopped
	}
}

// Subscribe delivers a View whenever the state changes. The latest view is
// delivered immediately.
func (n *Node) Subscribe() *Subscriber[View] {
	sub := n.views.Subscribe()
	if v := n.lastView.Load(); v != nil {
		select {
		case sub.channel <- *v:
		default:
		}
	}
	return sub
}

func (n *Node) Alerts() <-chan Alert {
	return n.alerts
}

// Done is closed when Run returns.
func (n *Node) Done() <-chan struct{} {
	return n.stopped
}

func (n *Node) handleCommand(cmd any) {
	switch c := cmd.(type) {
	case createRoomCmd:
		c.reply <- n.createRoom()
	case joinCmd:
		if err := n.join(c.ctx, c.hostID, c.reply); err != nil {
			c.reply <- err
		}
	case actionCmd:
		n.act(c.action)
	case awardCmd:
		c.reply <- n.award(c.side)
	case dialResult:
		n.onDialed(c)
	case graceExpired:
		n.pruneStale(c.epoch)
	case viewRequest:
		c.reply <- n.view()
	default:
		n.log.Error().Str("command", fmt.Sprintf("%T", cmd)).Msg("unknown command")
	}
}

func (n *Node) createRoom() error {
	if n.inRoom() {
		return ErrInRoom
	}
	n.auth.CreateRoom()
	n.status = StatusHosting
	n.synced = true
	n.log.Info().Msg("room created")
	return nil
}

func (n *Node) join(ctx context.Context, hostID string, reply chan error) error {
	if n.inRoom() {
		return ErrInRoom
	}
	if hostID == "" || hostID == n.self {
		return fmt.Errorf("%w: %q", transport.ErrPeerUnavailable, hostID)
	}
	n.auth.Follow(hostID)
	n.status = StatusJoining
	n.synced = false
	n.log.Info().Str("host", hostID).Msg("joining room")
	n.dial(ctx, hostID, reply)
	return nil
}

func (n *Node) inRoom() bool {
	switch n.status {
	case StatusIdle, StatusOffline:
		return false
	}
	return true
}

// dial connects to hostID off the loop and posts the outcome back.
func (n *Node) dial(ctx context.Context, hostID string, reply chan error) {
	n.dialSeq++
	n.early = nil
	seq := n.dialSeq
	go func() {
		ch, err := transport.ConnectTimeout(ctx, n.tr, hostID, n.cfg.JoinTimeout)
		res := dialResult{seq: seq, hostID: hostID, ch: ch, err: err, reply: reply}
		if n.post(res) != nil && ch != nil {
			ch.Close()
		}
	}()
}

func (n *Node) onDialed(r dialResult) {
	respond := func(err error) {
		if r.reply != nil {
			r.reply <- err
		}
	}

	if r.seq != n.dialSeq || r.hostID != n.auth.HostID() {
		if r.ch != nil {
			n.dropEarly(r.ch)
			r.ch.Close()
		}
		respond(fmt.Errorf("connection to %s superseded", r.hostID))
		return
	}

	if r.err != nil {
		n.log.Warn().Err(r.err).Str("host", r.hostID).Msg("could not reach host")
		if n.status == StatusElecting {
			// The successor is gone too; drop it and elect again.
			n.hostLost()
			respond(r.err)
			return
		}
		n.auth.Follow("")
		n.status = StatusIdle
		n.alert(r.err)
		respond(r.err)
		return
	}

	n.host = r.ch
	n.status = StatusJoined
	n.synced = false
	if local, ok := n.dir.Get(n.self); ok {
		n.send(r.ch, protocol.NewPlayer{Player: *local})
	}
	n.log.Info().Str("host", r.hostID).Msg("channel to host open")

	if e := n.early; e != nil && e.ch == r.ch {
		n.early = nil
		for _, msg := range e.queue {
			if n.host != r.ch {
				break
			}
			n.handleFromHost(r.ch, msg)
		}
	}
	respond(nil)

	// A close that arrived before this result was not recognised as the
	// host's.
	if n.host == r.ch && !r.ch.Open() {
		n.hostLost()
	}
}

// holdEarly queues a message from the host we are dialling until the dial
// result is handled.
func (n *Node) holdEarly(ch transport.Channel, msg protocol.Message) bool {
	if (n.status != StatusJoining && n.status != StatusElecting) || ch.Peer() != n.auth.HostID() {
		return false
	}
	if n.early == nil || n.early.ch != ch {
		n.early = &parked{ch: ch}
	}
	if len(n.early.queue) >= parkedLimit {
		n.log.Warn().Str("host", ch.Peer()).Msg("early queue full, dropping message")
		return true
	}
	n.early.queue = append(n.early.queue, msg)
	return true
}

func (n *Node) dropEarly(ch transport.Channel) {
	if n.early != nil && n.early.ch == ch {
		n.early = nil
	}
}

func (n *Node) act(a protocol.PlayerAction) {
	a.PlayerID = n.self
	switch n.status {
	case StatusHosting:
		if n.apply(a) {
			n.broadcastPlayers()
		}
	case StatusJoined:
		// Local prediction; the host's next snapshot replaces it.
		n.apply(a)
		n.send(n.host, a)
	default:
		n.apply(a)
	}
}

func (n *Node) award(side session.Side) error {
	if !n.auth.IsHost() {
		return ErrNotHost
	}
	if n.dir.Award(side) {
		n.broadcast(protocol.UpdateScore{Score: n.dir.Score()})
	}
	return nil
}

// apply performs a player action on the directory. An action carrying an
// absolute x and y sets the position whatever its tag. Actions for absent
// players do nothing.
func (n *Node) apply(a protocol.PlayerAction) bool {
	if a.X != nil && a.Y != nil {
		return n.dir.MoveTo(a.PlayerID, *a.X, *a.Y)
	}
	if a.Action == protocol.ActionMoveTo {
		return false
	}
	if n.rec.Mode() == reconcile.ModeRigidBody {
		// The physics step turns velocity into displacement.
		return n.dir.Update(a.PlayerID, func(p *session.PlayerState) {
			p.Velocity = &session.Vec{X: a.DeltaX, Y: a.DeltaY}
		})
	}
	return n.dir.Move(a.PlayerID, a.DeltaX, a.DeltaY)
}

func (n *Node) tick() {
	host := n.auth.IsHost()
	if n.rec.Tick(n.dir, n.self, host) && host {
		n.dirty = true
	}
}

// flush broadcasts positions that changed without an action, such as
// collision corrections.
func (n *Node) flush() {
	if n.dirty && n.auth.IsHost() {
		n.broadcastPlayers()
	}
}

func (n *Node) send(ch transport.Channel, m protocol.Message) {
	data, err := protocol.Encode(m)
	if err != nil {
		n.log.Error().Err(err).Str("type", string(m.Type())).Msg("encode")
		return
	}
	transport.SendIfOpen(ch, data)
}

func (n *Node) broadcast(m protocol.Message) {
	data, err := protocol.Encode(m)
	if err != nil {
		n.log.Error().Err(err).Str("type", string(m.Type())).Msg("encode")
		return
	}
	for _, id := range sortedKeys(n.peers) {
		transport.SendIfOpen(n.peers[id], data)
	}
}

func (n *Node) broadcastPlayers() {
	n.broadcast(protocol.UpdatePlayers{Players: n.dir.Players()})
	n.dirty = false
}

func (n *Node) alert(err error) {
	select {
	case n.alerts <- Alert{Err: err, At: time.Now()}:
	default:
		n.log.Warn().Err(err).Msg("alert dropped")
	}
}

func (n *Node) view() View {
	return View{
		Self:      n.self,
		HostID:    n.auth.HostID(),
		IsHost:    n.auth.IsHost(),
		Epoch:     n.auth.Epoch(),
		Status:    n.status,
		Players:   n.dir.Players(),
		Score:     n.dir.Score(),
		ScoreMode: n.dir.Mode(),
		Digest:    n.dir.Digest(),
	}
}

func (n *Node) storeView(v View) {
	n.lastView.Store(&v)
}

// publish hands a new View to subscribers when anything visible changed.
func (n *Node) publish() {
	last := n.lastView.Load()
	v := n.view()
	if last != nil && last.Digest == v.Digest && last.HostID == v.HostID &&
		last.Status == v.Status && last.Epoch == v.Epoch {
		return
	}
	n.storeView(v)
	n.views.Publish(v)
}

func (n *Node) closeAll() {
	if n.host != nil {
		n.host.Close()
		n.host = nil
	}
	for id, ch := range n.peers {
		ch.Close()
		delete(n.peers, id)
	}
	n.closeParked()
}

func (n *Node) closeParked() {
	for id, p := range n.parked {
		p.ch.Close()
		delete(n.parked, id)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
