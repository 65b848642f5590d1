package protocol

import (
	"github.com/mendebian/p2p-game/internal/session"
)

// Type is the tag carried in the "type" field of every message.
type Type string

const (
	TypeNewPlayer          Type = "newPlayer"
	TypePlayerAction       Type = "playerAction"
	TypeUpdatePlayers      Type = "updatePlayers"
	TypeUpdateScore        Type = "updateScore"
	TypePlayerDisconnected Type = "playerDisconnected"
	TypeInit               Type = "init"
	TypeHostChange         Type = "hostChange"
)

// Message is one of the message structs below. The set is closed: the
// unexported method keeps other packages from adding variants, so a type
// switch over these seven is exhaustive.
type Message interface {
	Type() Type
	message()
}

// NewPlayer is sent by a joining peer to the host once its channel opens.
type NewPlayer struct {
	Player session.PlayerState `json:"player"`
}

type Action string

const (
	ActionMove   Action = "move"
	ActionMoveTo Action = "moveTo"
)

// PlayerAction moves a player by a delta, or to the absolute point X, Y
// when both are present. ActionMoveTo requires them.
type PlayerAction struct {
	PlayerID string   `json:"playerId"`
	Action   Action   `json:"action"`
	DeltaX   float64  `json:"deltaX"`
	DeltaY   float64  `json:"deltaY"`
	X        *float64 `json:"x,omitempty"`
	Y        *float64 `json:"y,omitempty"`
}

// UpdatePlayers replaces the receiver's whole player mapping.
type UpdatePlayers struct {
	Players map[string]*session.PlayerState `json:"players"`
}

type UpdateScore struct {
	Score session.Score `json:"score"`
}

// PlayerDisconnected tells peers a player left. Hosts raise it locally when
// a channel closes.
type PlayerDisconnected struct {
	PlayerID string `json:"playerId"`
}

// Init is the one-time snapshot the host sends on a newly opened channel.
type Init struct {
	Players map[string]*session.PlayerState `json:"players"`
	Score   session.Score                   `json:"score"`
	HostID  string                          `json:"hostId,omitempty"`
	Epoch   uint64                          `json:"epoch,omitempty"`
}

// HostChange announces the winner of an election.
type HostChange struct {
	HostID string `json:"hostId"`
	Epoch  uint64 `json:"epoch,omitempty"`
}

func (NewPlayer) Type() Type          { return TypeNewPlayer }
func (PlayerAction) Type() Type       { return TypePlayerAction }
func (UpdatePlayers) Type() Type      { return TypeUpdatePlayers }
func (UpdateScore) Type() Type        { return TypeUpdateScore }
func (PlayerDisconnected) Type() Type { return TypePlayerDisconnected }
func (Init) Type() Type               { return TypeInit }
func (HostChange) Type() Type         { return TypeHostChange }

func (NewPlayer) message()          {}
func (PlayerAction) message()       {}
func (UpdatePlayers) message()      {}
func (UpdateScore) message()        {}
func (PlayerDisconnected) message() {}
func (Init) message()               {}
func (HostChange) message()         {}

// Move builds a delta action.
func Move(playerID string, dx, dy float64) PlayerAction {
	return PlayerAction{PlayerID: playerID, Action: ActionMove, DeltaX: dx, DeltaY: dy}
}

// MoveTo builds an absolute-position action.
func MoveTo(playerID string, x, y float64) PlayerAction {
	return PlayerAction{PlayerID: playerID, Action: ActionMoveTo, X: &x, Y: &y}
}
