// Package relay carries peer channels over a single WebSocket to a broker,
// which forwards frames between peers by id.
package relay

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

type Op string

const (
	// OpOpen: broker to peer, Dst holds the id assigned to the socket.
	OpOpen Op = "open"
	// OpConnect: peer to broker, asks for a channel to Dst.
	OpConnect Op = "connect"
	// OpConnection: broker to Dst, Src opened a channel.
	OpConnection Op = "connection"
	// OpOpened: broker to the connecting peer, the channel to Src is open.
	OpOpened Op = "opened"
	OpData   Op = "data"
	OpClose  Op = "close"
	OpError  Op = "error"
)

// Error codes carried in Frame.Error.
const (
	CodePeerUnavailable = "peer-unavailable"
	CodeIDTaken         = "id-taken"
	CodeNoLink          = "no-link"
	CodeBadFrame        = "bad-frame"
	CodeRateLimited     = "rate-limited"
)

// Frame is the only message type on the wire. Src is always rewritten by the
// broker to the sender's id.
type Frame struct {
	Op    Op     `cbor:"op"`
	Src   string `cbor:"src,omitempty"`
	Dst   string `cbor:"dst,omitempty"`
	Data  []byte `cbor:"data,omitempty"`
	Error string `cbor:"error,omitempty"`
}

var (
	ErrBadFrame    = errors.New("relay: bad frame")
	ErrRateLimited = errors.New("relay: rate limited")
)

func EncodeFrame(f Frame) ([]byte, error) {
	return cbor.Marshal(f)
}

func DecodeFrame(b []byte) (Frame, error) {
	var f Frame
	if err := cbor.Unmarshal(b, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	if f.Op == "" {
		return Frame{}, fmt.Errorf("%w: missing op", ErrBadFrame)
	}
	return f, nil
}
