// Package broker is the rendezvous service peers connect to. It hands out
// peer ids and forwards relay frames between peers that have opened a
// channel to each other. It never inspects game traffic.
package broker

import (
	"errors"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sasha-s/go-deadlock"
	"golang.org/x/time/rate"

	"github.com/mendebian/p2p-game/internal/logging"
	"github.com/mendebian/p2p-game/internal/transport/relay"
)

const (
	sendBuffer   = 256
	writeTimeout = 10 * time.Second
)

var (
	ErrIDTaken   = errors.New("broker: id already taken")
	ErrInvalidID = errors.New("broker: invalid id")
)

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

type client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	limiter *rate.Limiter
}

func (c *client) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

type link struct{ a, b string }

// route is one direction of a link.
type route struct{ src, dst string }

func linkOf(x, y string) link {
	if x > y {
		x, y = y, x
	}
	return link{x, y}
}

type outbound struct {
	to    *client
	frame relay.Frame
}

// Hub tracks connected peers and the channels open between them. Each
// direction of a channel has its own relay budget, so a host's allowance
// grows with the number of peers it serves. A channel that exceeds its
// budget is closed on both ends rather than losing frames.
type Hub struct {
	mu      deadlock.RWMutex
	peers   map[string]*client
	links   map[link]struct{}
	budgets map[route]*rate.Limiter

	rate         rate.Limit
	burst        int
	pingInterval time.Duration
	started      time.Time
	log          zerolog.Logger
}

func NewHub(relayRate float64, burst int, pingInterval time.Duration) *Hub {
	return &Hub{
		peers:        make(map[string]*client),
		links:        make(map[link]struct{}),
		budgets:      make(map[route]*rate.Limiter),
		rate:         rate.Limit(relayRate),
		burst:        burst,
		pingInterval: pingInterval,
		started:      time.Now(),
		log:          logging.Component("broker"),
	}
}

// Register adds conn under requested, or under a generated id when requested
// is empty. The peer is told its id before Register returns.
func (h *Hub) Register(conn *websocket.Conn, requested string) (*client, error) {
	if requested != "" && !validID.MatchString(requested) {
		return nil, ErrInvalidID
	}

	h.mu.Lock()
	id := requested
	if id == "" {
		id = h.newIDLocked()
	} else if _, taken := h.peers[id]; taken {
		h.mu.Unlock()
		return nil, ErrIDTaken
	}
	c := &client{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(h.rate, h.burst),
	}
	h.peers[id] = c
	h.mu.Unlock()

	go c.writePump(h.pingInterval)
	h.deliver([]outbound{{to: c, frame: relay.Frame{Op: relay.OpOpen, Dst: id}}})

	h.log.Info().Str("peer", id).Msg("peer registered")
	return c, nil
}

func (h *Hub) newIDLocked() string {
	for {
		id := strings.SplitN(uuid.NewString(), "-", 2)[0]
		if _, taken := h.peers[id]; !taken {
			return id
		}
	}
}

// Unregister removes c and closes every channel it had open.
func (h *Hub) Unregister(c *client) {
	h.mu.Lock()
	if h.peers[c.id] != c {
		h.mu.Unlock()
		return
	}
	delete(h.peers, c.id)
	close(c.done)

	var out []outbound
	for l := range h.links {
		if l.a != c.id && l.b != c.id {
			continue
		}
		h.unlinkLocked(l)
		other := l.a
		if other == c.id {
			other = l.b
		}
		if oc, ok := h.peers[other]; ok {
			out = append(out, outbound{to: oc, frame: relay.Frame{Op: relay.OpClose, Src: c.id, Dst: other}})
		}
	}
	h.mu.Unlock()

	h.deliver(out)
	h.log.Info().Str("peer", c.id).Int("channels", len(out)).Msg("peer unregistered")
}

// Handle routes one frame received from c. Connect requests spend the
// peer's own budget; data spends the budget of the channel it travels on.
func (h *Hub) Handle(c *client, f relay.Frame) {
	f.Src = c.id

	var out []outbound
	switch f.Op {
	case relay.OpConnect:
		if !c.limiter.Allow() {
			h.log.Warn().Str("peer", c.id).Str("to", f.Dst).Msg("connect rate limited")
			out = []outbound{{to: c, frame: relay.Frame{Op: relay.OpError, Src: f.Dst, Error: relay.CodeRateLimited}}}
			break
		}
		out = h.connect(c, f.Dst)
	case relay.OpData:
		out = h.forward(c, f)
	case relay.OpClose:
		out = h.disconnect(c, f.Dst)
	default:
		out = []outbound{{to: c, frame: relay.Frame{Op: relay.OpError, Src: f.Dst, Error: relay.CodeBadFrame}}}
	}
	h.deliver(out)
}

func (h *Hub) connect(c *client, dst string) []outbound {
	h.mu.Lock()
	defer h.mu.Unlock()

	target, ok := h.peers[dst]
	if !ok || dst == c.id {
		return []outbound{{to: c, frame: relay.Frame{Op: relay.OpError, Src: dst, Error: relay.CodePeerUnavailable}}}
	}
	h.links[linkOf(c.id, dst)] = struct{}{}
	h.budgets[route{c.id, dst}] = rate.NewLimiter(h.rate, h.burst)
	h.budgets[route{dst, c.id}] = rate.NewLimiter(h.rate, h.burst)
	h.log.Debug().Str("from", c.id).Str("to", dst).Msg("channel opened")
	return []outbound{
		{to: target, frame: relay.Frame{Op: relay.OpConnection, Src: c.id, Dst: dst}},
		{to: c, frame: relay.Frame{Op: relay.OpOpened, Src: dst, Dst: c.id}},
	}
}

func (h *Hub) forward(c *client, f relay.Frame) []outbound {
	h.mu.RLock()
	_, linked := h.links[linkOf(c.id, f.Dst)]
	target, ok := h.peers[f.Dst]
	budget := h.budgets[route{c.id, f.Dst}]
	h.mu.RUnlock()

	if !linked || !ok {
		return []outbound{{to: c, frame: relay.Frame{Op: relay.OpError, Src: f.Dst, Error: relay.CodeNoLink}}}
	}
	if budget != nil && !budget.Allow() {
		return h.overBudget(c, f.Dst)
	}
	return []outbound{{to: target, frame: relay.Frame{Op: relay.OpData, Src: c.id, Dst: f.Dst, Data: f.Data}}}
}

// overBudget closes the channel between c and dst. Both ends see it close,
// and c is told why.
func (h *Hub) overBudget(c *client, dst string) []outbound {
	h.mu.Lock()
	l := linkOf(c.id, dst)
	if _, linked := h.links[l]; !linked {
		h.mu.Unlock()
		return nil
	}
	h.unlinkLocked(l)
	target := h.peers[dst]
	h.mu.Unlock()

	h.log.Warn().Str("from", c.id).Str("to", dst).Msg("relay budget exceeded, closing channel")
	out := []outbound{
		{to: c, frame: relay.Frame{Op: relay.OpError, Src: dst, Error: relay.CodeRateLimited}},
		{to: c, frame: relay.Frame{Op: relay.OpClose, Src: dst, Dst: c.id}},
	}
	if target != nil {
		out = append(out, outbound{to: target, frame: relay.Frame{Op: relay.OpClose, Src: c.id, Dst: dst}})
	}
	return out
}

func (h *Hub) unlinkLocked(l link) {
	delete(h.links, l)
	delete(h.budgets, route{l.a, l.b})
	delete(h.budgets, route{l.b, l.a})
}

func (h *Hub) disconnect(c *client, dst string) []outbound {
	h.mu.Lock()
	defer h.mu.Unlock()

	l := linkOf(c.id, dst)
	if _, linked := h.links[l]; !linked {
		return nil
	}
	h.unlinkLocked(l)
	if target, ok := h.peers[dst]; ok {
		return []outbound{{to: target, frame: relay.Frame{Op: relay.OpClose, Src: c.id, Dst: dst}}}
	}
	return nil
}

func (h *Hub) deliver(out []outbound) {
	for _, o := range out {
		data, err := relay.EncodeFrame(o.frame)
		if err != nil {
			h.log.Error().Err(err).Msg("encode frame")
			continue
		}
		select {
		case o.to.send <- data:
		case <-o.to.done:
		default:
			// Peer can't keep up, disconnect it
			h.log.Warn().Str("peer", o.to.id).Msg("peer too slow, disconnecting")
			h.Unregister(o.to)
		}
	}
}

// Peers returns the registered ids in order.
func (h *Hub) Peers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.peers))
	for id := range h.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (h *Hub) Has(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.peers[id]
	return ok
}

func (h *Hub) LinkCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.links)
}

func (h *Hub) Uptime() time.Duration {
	return time.Since(h.started)
}
