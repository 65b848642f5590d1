package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrEmptyMessage = errors.New("protocol: empty message")
	ErrUnknownType  = errors.New("protocol: unknown message type")
	ErrInvalid      = errors.New("protocol: invalid message")
)

type header struct {
	Type Type `json:"type"`
}

// Encode renders m as a flat JSON record whose "type" field names the variant.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("trying to encode nil message")
	}
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("%w: %s does not encode as an object", ErrInvalid, m.Type())
	}

	tag, err := json.Marshal(header{Type: m.Type()})
	if err != nil {
		return nil, err
	}
	// tag is `{"type":"..."}`; splice the remaining fields in after it.
	var buf bytes.Buffer
	buf.Grow(len(tag) + len(body))
	buf.Write(tag[:len(tag)-1])
	if len(body) > 2 {
		buf.WriteByte(',')
		buf.Write(body[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// Decode parses a record produced by Encode. Unrecognised tags are reported
// as ErrUnknownType so callers can log them instead of dropping them quietly.
func Decode(b []byte) (Message, error) {
	if len(b) == 0 {
		return nil, ErrEmptyMessage
	}
	var h header
	if err := json.Unmarshal(b, &h); err != nil {
		return nil, err
	}

	var (
		m   Message
		err error
	)
	switch h.Type {
	case TypeNewPlayer:
		m, err = decodeAs[NewPlayer](b)
	case TypePlayerAction:
		m, err = decodeAs[PlayerAction](b)
	case TypeUpdatePlayers:
		m, err = decodeAs[UpdatePlayers](b)
	case TypeUpdateScore:
		m, err = decodeAs[UpdateScore](b)
	case TypePlayerDisconnected:
		m, err = decodeAs[PlayerDisconnected](b)
	case TypeInit:
		m, err = decodeAs[Init](b)
	case TypeHostChange:
		m, err = decodeAs[HostChange](b)
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrUnknownType)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, h.Type)
	}
	if err != nil {
		return nil, err
	}
	if err := Validate(m); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeAs[T Message](b []byte) (T, error) {
	var out T
	err := json.Unmarshal(b, &out)
	return out, err
}

// Validate checks the fields each variant cannot do without.
func Validate(m Message) error {
	switch msg := m.(type) {
	case NewPlayer:
		if msg.Player.ID == "" {
			return fmt.Errorf("%w: newPlayer without player id", ErrInvalid)
		}
	case PlayerAction:
		if msg.PlayerID == "" {
			return fmt.Errorf("%w: playerAction without playerId", ErrInvalid)
		}
		switch msg.Action {
		case ActionMove, "":
		case ActionMoveTo:
			if msg.X == nil || msg.Y == nil {
				return fmt.Errorf("%w: moveTo without x/y", ErrInvalid)
			}
		default:
			return fmt.Errorf("%w: unknown action %q", ErrInvalid, msg.Action)
		}
	case PlayerDisconnected:
		if msg.PlayerID == "" {
			return fmt.Errorf("%w: playerDisconnected without playerId", ErrInvalid)
		}
	case HostChange:
		if msg.HostID == "" {
			return fmt.Errorf("%w: hostChange without hostId", ErrInvalid)
		}
	case UpdatePlayers, UpdateScore, Init:
	}
	return nil
}
