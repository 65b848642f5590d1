// Package transport defines the peer-to-peer channel contract the session
// node is written against: reliable, ordered channels between peers that are
// addressed by opaque identifiers.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrPeerUnavailable = errors.New("transport: peer unavailable")
	ErrJoinTimeout     = errors.New("transport: join timed out")
	ErrIDTaken         = errors.New("transport: id already taken")
	ErrClosed          = errors.New("transport: closed")
	ErrChannelClosed   = errors.New("transport: channel closed")
)

type EventKind int

const (
	// EventConnection: a remote peer opened a channel to us. The channel is
	// already open when the event is delivered.
	EventConnection EventKind = iota
	EventData
	// EventClose: the remote side of a channel went away.
	EventClose
	// EventDisconnected: the local endpoint lost the transport itself.
	// Every channel is closed when this is delivered.
	EventDisconnected
)

var eventNames = map[EventKind]string{
	EventConnection:   "connection",
	EventData:         "data",
	EventClose:        "close",
	EventDisconnected: "disconnected",
}

func (k EventKind) String() string {
	if s, ok := eventNames[k]; ok {
		return s
	}
	return "unknown"
}

type Event struct {
	Kind    EventKind
	Channel Channel
	Data    []byte
	Err     error
}

// Channel is one end of a point-to-point link.
type Channel interface {
	// Peer is the identifier of the remote end.
	Peer() string
	// Open reports whether Send can currently deliver.
	Open() bool
	Send(b []byte) error
	Close() error
}

type Transport interface {
	// ID is the identifier other peers use to reach this one.
	ID() string
	Events() <-chan Event
	// Connect opens a channel to remoteID and blocks until it is open, the
	// peer is known to be unreachable, or ctx is done.
	Connect(ctx context.Context, remoteID string) (Channel, error)
	Close() error
}

// ConnectTimeout is Connect bounded by timeout. An expired deadline is
// reported as ErrJoinTimeout.
func ConnectTimeout(ctx context.Context, t Transport, remoteID string, timeout time.Duration) (Channel, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch, err := t.Connect(ctx, remoteID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s after %s", ErrJoinTimeout, remoteID, timeout)
		}
		return nil, err
	}
	return ch, nil
}

// SendIfOpen delivers b when ch is open and silently drops it otherwise.
func SendIfOpen(ch Channel, b []byte) bool {
	if ch == nil || !ch.Open() {
		return false
	}
	return ch.Send(b) == nil
}
