package session

import (
	"encoding/json"
	"fmt"
)

// Vec is a 2D vector in canvas space.
type Vec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PlayerState is one entry of the session directory. Whether a player is the
// host is not stored here; it is derived from the directory's host id.
type PlayerState struct {
	ID       string  `json:"id"`
	Name     string  `json:"name,omitempty"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Velocity *Vec    `json:"velocity,omitempty"`
}

// Clone returns a deep copy of the PlayerState, duplicating the velocity
// pointer so the copy can be mutated independently of the original.
func (p *PlayerState) Clone() *PlayerState {
	c := *p
	if p.Velocity != nil {
		v := *p.Velocity
		c.Velocity = &v
	}
	return &c
}

func (p *PlayerState) Position() Vec {
	return Vec{X: p.X, Y: p.Y}
}

type ScoreMode int

const (
	ScoreNone ScoreMode = iota
	ScoreSingle
	ScoreHomeAway
)

var scoreModeNames = map[ScoreMode]string{
	ScoreNone:     "none",
	ScoreSingle:   "single",
	ScoreHomeAway: "home-away",
}

var scoreModeFromName = map[string]ScoreMode{
	"none":      ScoreNone,
	"single":    ScoreSingle,
	"home-away": ScoreHomeAway,
}

func (m ScoreMode) String() string {
	if s, ok := scoreModeNames[m]; ok {
		return s
	}
	return "unknown"
}

func ParseScoreMode(s string) (ScoreMode, error) {
	if m, ok := scoreModeFromName[s]; ok {
		return m, nil
	}
	return ScoreNone, fmt.Errorf("unknown score mode %q", s)
}

// Side names who a point is awarded to.
type Side string

const (
	SideHome Side = "home"
	SideAway Side = "away"
)

// Score is either a single counter (Total) or a home/away pair, depending on
// the room's ScoreMode.
type Score struct {
	Home  int `json:"home"`
	Away  int `json:"away"`
	Total int `json:"total,omitempty"`
}

// Award adds one point according to mode. It reports whether the score changed.
func (s *Score) Award(mode ScoreMode, side Side) bool {
	switch mode {
	case ScoreSingle:
		s.Total++
		return true
	case ScoreHomeAway:
		switch side {
		case SideHome:
			s.Home++
			return true
		case SideAway:
			s.Away++
			return true
		}
	}
	return false
}

// Format renders the score for display; it is empty in ScoreNone rooms.
func (s Score) Format(mode ScoreMode) string {
	switch mode {
	case ScoreSingle:
		return fmt.Sprintf("%d", s.Total)
	case ScoreHomeAway:
		return fmt.Sprintf("%d - %d", s.Home, s.Away)
	default:
		return ""
	}
}

func (m ScoreMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *ScoreMode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if v, ok := scoreModeFromName[s]; ok {
		*m = v
	}
	return nil
}
