package node

import (
	"errors"
	"time"

	"github.com/mendebian/p2p-game/internal/session"
)

type Status int

const (
	StatusIdle Status = iota
	StatusJoining
	StatusJoined
	StatusHosting
	// StatusElecting: the host went away and a successor has not been
	// reached yet.
	StatusElecting
	StatusOffline
)

var statusNames = map[Status]string{
	StatusIdle:     "idle",
	StatusJoining:  "joining",
	StatusJoined:   "joined",
	StatusHosting:  "hosting",
	StatusElecting: "electing",
	StatusOffline:  "offline",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

// View is a copy of the node's state handed to the renderer.
type View struct {
	Self      string
	HostID    string
	IsHost    bool
	Epoch     uint64
	Status    Status
	Players   map[string]*session.PlayerState
	Score     session.Score
	ScoreMode session.ScoreMode
	Digest    uint64
}

// Player returns the entry for id, if present.
func (v View) Player(id string) (*session.PlayerState, bool) {
	p, ok := v.Players[id]
	return p, ok
}

var (
	ErrHostLost    = errors.New("host disconnected")
	ErrOffline     = errors.New("lost connection to the broker")
	ErrNotHost     = errors.New("only the host can change the score")
	ErrInRoom      = errors.New("already in a room")
	ErrNodeStopped = errors.New("node stopped")
)

// Alert is a user-facing notice. Err is one of the errors above or a
// transport error.
type Alert struct {
	Err error
	At  time.Time
}

func (a Alert) String() string {
	return a.Err.Error()
}
