package relay

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sasha-s/go-deadlock"

	"github.com/mendebian/p2p-game/internal/logging"
	"github.com/mendebian/p2p-game/internal/transport"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultPongTimeout  = 60 * time.Second
	defaultPingInterval = 30 * time.Second
	eventBuffer         = 256
)

type Options struct {
	// ID is the identifier to request from the broker. Empty lets the
	// broker assign one.
	ID           string
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
}

func (o *Options) defaults() {
	if o.PingInterval <= 0 {
		o.PingInterval = defaultPingInterval
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = defaultPongTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
}

// Client is a transport.Transport backed by a broker connection.
type Client struct {
	conn *websocket.Conn
	id   string
	opts Options
	log  zerolog.Logger

	writeMu deadlock.Mutex // serialises all conn writes

	mu       deadlock.Mutex
	channels map[string]*channel
	pending  map[string]chan error

	events  chan transport.Event
	done    chan struct{}
	closing atomic.Bool
}

var _ transport.Transport = (*Client)(nil)

// Dial connects to the broker at rawURL and waits for it to assign an id.
func Dial(ctx context.Context, rawURL string, opts Options) (*Client, error) {
	opts.defaults()

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("broker url: %w", err)
	}
	if opts.ID != "" {
		q := u.Query()
		q.Set("id", opts.ID)
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	id, err := awaitOpen(ctx, conn, opts.PongTimeout)
	if err != nil {
		conn.Close()
		return nil, err
	}

	c := &Client{
		conn:     conn,
		id:       id,
		opts:     opts,
		log:      logging.Component("relay").With().Str("peer", id).Logger(),
		channels: make(map[string]*channel),
		pending:  make(map[string]chan error),
		events:   make(chan transport.Event, eventBuffer),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	go c.pingLoop()

	c.log.Info().Str("broker", u.Host).Msg("connected to broker")
	return c, nil
}

func awaitOpen(ctx context.Context, conn *websocket.Conn, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("await id: %w", err)
	}
	f, err := DecodeFrame(data)
	if err != nil {
		return "", err
	}
	switch f.Op {
	case OpOpen:
		if f.Dst == "" {
			return "", fmt.Errorf("%w: empty id", ErrBadFrame)
		}
		return f.Dst, nil
	case OpError:
		if f.Error == CodeIDTaken {
			return "", transport.ErrIDTaken
		}
		return "", fmt.Errorf("broker refused: %s", f.Error)
	}
	return "", fmt.Errorf("%w: expected open, got %s", ErrBadFrame, f.Op)
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) Events() <-chan transport.Event {
	return c.events
}

func (c *Client) Connect(ctx context.Context, remoteID string) (transport.Channel, error) {
	if remoteID == c.id {
		return nil, fmt.Errorf("%w: %s", transport.ErrPeerUnavailable, remoteID)
	}

	wait := make(chan error, 1)
	c.mu.Lock()
	if c.closing.Load() {
		c.mu.Unlock()
		return nil, transport.ErrClosed
	}
	if _, busy := c.pending[remoteID]; busy {
		c.mu.Unlock()
		return nil, fmt.Errorf("connect to %s already in progress", remoteID)
	}
	c.pending[remoteID] = wait
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.pending[remoteID] == wait {
			delete(c.pending, remoteID)
		}
		c.mu.Unlock()
	}()

	if err := c.write(Frame{Op: OpConnect, Src: c.id, Dst: remoteID}); err != nil {
		return nil, err
	}

	select {
	case err := <-wait:
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		ch := c.channels[remoteID]
		c.mu.Unlock()
		if ch == nil {
			return nil, transport.ErrChannelClosed
		}
		return ch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, transport.ErrClosed
	}
}

func (c *Client) Close() error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *Client) readLoop() {
	defer close(c.done)

	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
		return nil
	})
	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.dropAll()
			if !c.closing.Load() {
				c.log.Warn().Err(err).Msg("broker connection lost")
				c.emit(transport.Event{Kind: transport.EventDisconnected, Err: err})
			}
			c.conn.Close()
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))

		f, err := DecodeFrame(data)
		if err != nil {
			c.log.Debug().Err(err).Msg("dropping frame")
			continue
		}
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f Frame) {
	switch f.Op {
	case OpOpened:
		ch := c.register(f.Src)
		c.mu.Lock()
		wait := c.pending[f.Src]
		c.mu.Unlock()
		if wait == nil {
			// Connect gave up before the broker answered.
			ch.Close()
			return
		}
		wait <- nil

	case OpConnection:
		ch := c.register(f.Src)
		c.log.Debug().Str("remote", f.Src).Msg("inbound channel")
		c.emit(transport.Event{Kind: transport.EventConnection, Channel: ch})

	case OpData:
		c.mu.Lock()
		ch := c.channels[f.Src]
		c.mu.Unlock()
		if ch == nil {
			return
		}
		c.emit(transport.Event{Kind: transport.EventData, Channel: ch, Data: f.Data})

	case OpClose:
		c.mu.Lock()
		ch := c.channels[f.Src]
		delete(c.channels, f.Src)
		c.mu.Unlock()
		if ch == nil || !ch.open.CompareAndSwap(true, false) {
			return
		}
		c.emit(transport.Event{Kind: transport.EventClose, Channel: ch})

	case OpError:
		c.mu.Lock()
		wait := c.pending[f.Src]
		c.mu.Unlock()
		if wait != nil && f.Error == CodePeerUnavailable {
			wait <- fmt.Errorf("%w: %s", transport.ErrPeerUnavailable, f.Src)
			return
		}
		if wait != nil && f.Error == CodeRateLimited {
			wait <- fmt.Errorf("%w: connect to %s", ErrRateLimited, f.Src)
			return
		}
		c.log.Warn().Str("remote", f.Src).Str("code", f.Error).Msg("broker error")
	}
}

// register installs a fresh channel to remote, closing any stale one.
func (c *Client) register(remote string) *channel {
	ch := &channel{client: c, peer: remote}
	ch.open.Store(true)

	c.mu.Lock()
	old := c.channels[remote]
	c.channels[remote] = ch
	c.mu.Unlock()

	if old != nil && old.open.CompareAndSwap(true, false) {
		c.emit(transport.Event{Kind: transport.EventClose, Channel: old})
	}
	return ch
}

func (c *Client) dropAll() {
	c.mu.Lock()
	channels := c.channels
	c.channels = make(map[string]*channel)
	c.mu.Unlock()

	for _, ch := range channels {
		ch.open.Store(false)
	}
}

func (c *Client) forget(ch *channel) {
	c.mu.Lock()
	if c.channels[ch.peer] == ch {
		delete(c.channels, ch.peer)
	}
	c.mu.Unlock()
}

func (c *Client) emit(ev transport.Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Client) write(f Frame) error {
	data, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closing.Load() {
		return transport.ErrClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", f.Op, err)
	}
	return nil
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

type channel struct {
	client *Client
	peer   string
	open   atomic.Bool
}

func (ch *channel) Peer() string {
	return ch.peer
}

func (ch *channel) Open() bool {
	return ch.open.Load()
}

func (ch *channel) Send(b []byte) error {
	if !ch.open.Load() {
		return transport.ErrChannelClosed
	}
	err := ch.client.write(Frame{Op: OpData, Src: ch.client.id, Dst: ch.peer, Data: b})
	if errors.Is(err, transport.ErrClosed) {
		return transport.ErrChannelClosed
	}
	return err
}

func (ch *channel) Close() error {
	if !ch.open.CompareAndSwap(true, false) {
		return nil
	}
	ch.client.forget(ch)
	err := ch.client.write(Frame{Op: OpClose, Src: ch.client.id, Dst: ch.peer})
	if errors.Is(err, transport.ErrClosed) {
		return nil
	}
	return err
}
