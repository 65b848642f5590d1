// Package memory is an in-process transport. Every endpoint of a Network can
// reach every other one; delivery is reliable and ordered per channel.
package memory

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sasha-s/go-deadlock"

	"github.com/mendebian/p2p-game/internal/transport"
)

const eventBuffer = 1024

type Network struct {
	mu        deadlock.Mutex
	endpoints map[string]*Endpoint
	blocked   map[string]bool
	nextID    int
}

func NewNetwork() *Network {
	return &Network{
		endpoints: make(map[string]*Endpoint),
		blocked:   make(map[string]bool),
	}
}

// Endpoint registers a new endpoint. An empty id is replaced by a generated
// one; a duplicate id fails with transport.ErrIDTaken.
func (n *Network) Endpoint(id string) (*Endpoint, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if id == "" {
		for {
			n.nextID++
			id = fmt.Sprintf("peer-%d", n.nextID)
			if _, exists := n.endpoints[id]; !exists {
				break
			}
		}
	}
	if _, exists := n.endpoints[id]; exists {
		return nil, fmt.Errorf("%w: %s", transport.ErrIDTaken, id)
	}

	e := &Endpoint{
		net:      n,
		id:       id,
		events:   make(chan transport.Event, eventBuffer),
		done:     make(chan struct{}),
		channels: make(map[*channel]struct{}),
	}
	n.endpoints[id] = e
	return e, nil
}

// Block makes connection attempts to id hang until their context ends,
// the way an unreachable host behaves.
func (n *Network) Block(id string) {
	n.mu.Lock()
	n.blocked[id] = true
	n.mu.Unlock()
}

func (n *Network) lookup(id string) (*Endpoint, bool, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	e, ok := n.endpoints[id]
	return e, ok, n.blocked[id]
}

func (n *Network) remove(id string) {
	n.mu.Lock()
	delete(n.endpoints, id)
	n.mu.Unlock()
}

type Endpoint struct {
	net    *Network
	id     string
	events chan transport.Event
	done   chan struct{}

	mu       deadlock.Mutex
	channels map[*channel]struct{}
	closed   bool
}

var _ transport.Transport = (*Endpoint)(nil)

func (e *Endpoint) ID() string {
	return e.id
}

func (e *Endpoint) Events() <-chan transport.Event {
	return e.events
}

func (e *Endpoint) Connect(ctx context.Context, remoteID string) (transport.Channel, error) {
	if e.isClosed() {
		return nil, transport.ErrClosed
	}

	remote, ok, blocked := e.net.lookup(remoteID)
	if blocked {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if !ok || remoteID == e.id {
		return nil, fmt.Errorf("%w: %s", transport.ErrPeerUnavailable, remoteID)
	}

	local := &channel{owner: e, peer: remoteID}
	far := &channel{owner: remote, peer: e.id}
	local.remote, far.remote = far, local
	local.open.Store(true)
	far.open.Store(true)

	if !remote.attach(far) {
		return nil, fmt.Errorf("%w: %s", transport.ErrPeerUnavailable, remoteID)
	}
	if !e.attach(local) {
		far.Close()
		return nil, transport.ErrClosed
	}
	remote.emit(transport.Event{Kind: transport.EventConnection, Channel: far})
	return local, nil
}

// Disconnect simulates losing the transport: every channel closes, the
// remote ends are told, and the endpoint leaves the network. The endpoint
// reports EventDisconnected to its own consumer.
func (e *Endpoint) Disconnect() {
	e.shutdown()
	e.emit(transport.Event{Kind: transport.EventDisconnected, Err: transport.ErrClosed})
}

func (e *Endpoint) Close() error {
	e.shutdown()
	e.mu.Lock()
	select {
	case <-e.done:
	default:
		close(e.done)
	}
	e.mu.Unlock()
	return nil
}

func (e *Endpoint) shutdown() {
	e.net.remove(e.id)

	e.mu.Lock()
	e.closed = true
	channels := make([]*channel, 0, len(e.channels))
	for c := range e.channels {
		channels = append(channels, c)
	}
	e.mu.Unlock()

	for _, c := range channels {
		c.Close()
	}
}

func (e *Endpoint) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Endpoint) attach(c *channel) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.channels[c] = struct{}{}
	return true
}

func (e *Endpoint) detach(c *channel) {
	e.mu.Lock()
	delete(e.channels, c)
	e.mu.Unlock()
}

func (e *Endpoint) emit(ev transport.Event) {
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

type channel struct {
	owner  *Endpoint
	peer   string
	remote *channel
	open   atomic.Bool
}

func (c *channel) Peer() string {
	return c.peer
}

func (c *channel) Open() bool {
	return c.open.Load()
}

func (c *channel) Send(b []byte) error {
	if !c.open.Load() {
		return transport.ErrChannelClosed
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	c.remote.owner.emit(transport.Event{Kind: transport.EventData, Channel: c.remote, Data: cp})
	return nil
}

// Close shuts both ends. Only the remote end is notified.
func (c *channel) Close() error {
	if !c.open.CompareAndSwap(true, false) {
		return nil
	}
	c.owner.detach(c)
	if c.remote.open.CompareAndSwap(true, false) {
		c.remote.owner.detach(c.remote)
		c.remote.owner.emit(transport.Event{Kind: transport.EventClose, Channel: c.remote})
	}
	return nil
}
