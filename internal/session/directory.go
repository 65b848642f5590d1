package session

import (
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Snapshot is the full replicated session state: every known player plus
// the score. Peers replace their directory with it wholesale.
type Snapshot struct {
	Players map[string]*PlayerState `json:"players"`
	Score   Score                   `json:"score"`
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{Players: clonePlayers(s.Players), Score: s.Score}
}

// Directory maps player ids to their state for one room. It belongs to a
// single event loop and does no locking of its own; callers that hand state
// to other goroutines do so through Snapshot, which copies.
type Directory struct {
	players map[string]*PlayerState
	score   Score
	mode    ScoreMode
}

func NewDirectory(mode ScoreMode) *Directory {
	return &Directory{
		players: make(map[string]*PlayerState),
		mode:    mode,
	}
}

// Add inserts or overwrites the entry for p.ID.
func (d *Directory) Add(p PlayerState) {
	d.players[p.ID] = p.Clone()
}

// Remove deletes id and reports whether it was present.
func (d *Directory) Remove(id string) bool {
	if _, ok := d.players[id]; !ok {
		return false
	}
	delete(d.players, id)
	return true
}

func (d *Directory) Get(id string) (*PlayerState, bool) {
	p, ok := d.players[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

func (d *Directory) Has(id string) bool {
	_, ok := d.players[id]
	return ok
}

// Move displaces a player by (dx, dy) and records that as its velocity.
// Unknown ids are ignored and reported as false.
func (d *Directory) Move(id string, dx, dy float64) bool {
	return d.Update(id, func(p *PlayerState) {
		p.Velocity = &Vec{X: dx, Y: dy}
		p.X += dx
		p.Y += dy
	})
}

// MoveTo places a player at an absolute position and stops it.
func (d *Directory) MoveTo(id string, x, y float64) bool {
	return d.Update(id, func(p *PlayerState) {
		p.Velocity = &Vec{}
		p.X = x
		p.Y = y
	})
}

// Update applies fn to the stored entry for id, if any.
func (d *Directory) Update(id string, fn func(*PlayerState)) bool {
	p, ok := d.players[id]
	if !ok {
		return false
	}
	fn(p)
	return true
}

// Replace discards the current mapping and installs a copy of players.
// This is the receiving side of a full-state broadcast; nothing is merged.
func (d *Directory) Replace(players map[string]*PlayerState) {
	d.players = clonePlayers(players)
}

// Players returns a copy of the mapping.
func (d *Directory) Players() map[string]*PlayerState {
	return clonePlayers(d.players)
}

// IDs returns every player id in lexicographic order.
func (d *Directory) IDs() []string {
	ids := make([]string, 0, len(d.players))
	for id := range d.players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (d *Directory) Len() int {
	return len(d.players)
}

func (d *Directory) Mode() ScoreMode {
	return d.mode
}

func (d *Directory) Score() Score {
	return d.score
}

func (d *Directory) SetScore(s Score) {
	d.score = s
}

// Award adds a point for side and reports whether the score changed.
func (d *Directory) Award(side Side) bool {
	return d.score.Award(d.mode, side)
}

func (d *Directory) Snapshot() Snapshot {
	return Snapshot{Players: d.Players(), Score: d.score}
}

// Clear removes every player except keep, if keep is present.
func (d *Directory) Clear(keep string) {
	for id := range d.players {
		if id != keep {
			delete(d.players, id)
		}
	}
}

// Digest hashes the mapping in id order so two peers can cheaply check they
// converged on the same snapshot.
func (d *Directory) Digest() uint64 {
	h := xxhash.New()
	buf := make([]byte, 0, 64)
	for _, id := range d.IDs() {
		p := d.players[id]
		buf = buf[:0]
		buf = append(buf, id...)
		buf = append(buf, ':')
		buf = strconv.AppendFloat(buf, p.X, 'g', -1, 64)
		buf = append(buf, ',')
		buf = strconv.AppendFloat(buf, p.Y, 'g', -1, 64)
		buf = append(buf, ';')
		_, _ = h.Write(buf)
	}
	buf = buf[:0]
	buf = strconv.AppendInt(buf, int64(d.score.Home), 10)
	buf = append(buf, '/')
	buf = strconv.AppendInt(buf, int64(d.score.Away), 10)
	buf = append(buf, '/')
	buf = strconv.AppendInt(buf, int64(d.score.Total), 10)
	_, _ = h.Write(buf)
	return h.Sum64()
}

func clonePlayers(in map[string]*PlayerState) map[string]*PlayerState {
	out := make(map[string]*PlayerState, len(in))
	for id, p := range in {
		if p == nil {
			continue
		}
		c := p.Clone()
		if c.ID == "" {
			c.ID = id
		}
		out[id] = c
	}
	return out
}
