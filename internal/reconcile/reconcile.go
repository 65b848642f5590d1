// Package reconcile corrects locally held positions between snapshots.
// Only the host's corrections are authoritative; whatever a non-host peer
// computes is cosmetic and is overwritten by the next full-state replace.
package reconcile

import (
	"fmt"
	"math"
	"sort"

	"github.com/mendebian/p2p-game/internal/physics"
	"github.com/mendebian/p2p-game/internal/session"
)

type Mode int

const (
	ModeNone Mode = iota
	ModeAnalytic
	ModeRigidBody
)

var modeNames = map[Mode]string{
	ModeNone:      "none",
	ModeAnalytic:  "analytic",
	ModeRigidBody: "rigid-body",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return "unknown"
}

func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return ModeNone, fmt.Errorf("unknown collision mode %q", s)
}

// Correction is the displacement applied to one overlapping pair. DA and DB
// point away from each other along the contact normal and each has length
// Push/2.
type Correction struct {
	A, B    string
	DA, DB  session.Vec
	Overlap float64
	Push    float64
}

// Pairwise finds every pair closer than 2*radius and computes the repulsion
// for it, with push = k*overlap split evenly between the two players. Ids
// are sorted first so the result does not depend on map iteration order.
func Pairwise(players map[string]*session.PlayerState, radius, k float64) []Correction {
	ids := make([]string, 0, len(players))
	for id := range players {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []Correction
	for i := 0; i < len(ids); i++ {
		a := players[ids[i]]
		for j := i + 1; j < len(ids); j++ {
			b := players[ids[j]]
			dx, dy := b.X-a.X, b.Y-a.Y
			dist := math.Hypot(dx, dy)
			if dist >= 2*radius {
				continue
			}
			nx, ny := 1.0, 0.0
			if dist > 0 {
				nx, ny = dx/dist, dy/dist
			}
			overlap := 2*radius - dist
			push := k * overlap
			half := push / 2
			out = append(out, Correction{
				A:       ids[i],
				B:       ids[j],
				DA:      session.Vec{X: -nx * half, Y: -ny * half},
				DB:      session.Vec{X: nx * half, Y: ny * half},
				Overlap: overlap,
				Push:    push,
			})
		}
	}
	return out
}

// Reconciler applies the room's collision mode to a directory once per tick.
type Reconciler struct {
	mode   Mode
	radius float64
	push   float64

	world  *physics.World
	engine *physics.Engine
}

func New(mode Mode, radius, push float64, bounds *physics.Rect) *Reconciler {
	r := &Reconciler{mode: mode, radius: radius, push: push}
	if mode == ModeRigidBody {
		r.world = physics.NewWorld(bounds)
		r.engine = physics.NewEngine(r.world)
	}
	return r
}

func (r *Reconciler) Mode() Mode {
	return r.mode
}

// Tick runs one reconciliation pass. authoritative is true on the host.
// It reports whether any position in dir changed.
func (r *Reconciler) Tick(dir *session.Directory, localID string, authoritative bool) bool {
	switch r.mode {
	case ModeAnalytic:
		return len(r.Separate(dir, localID, authoritative)) > 0
	case ModeRigidBody:
		if authoritative {
			return r.Simulate(dir)
		}
		r.Mirror(dir)
	}
	return false
}

// Separate applies pairwise repulsion. The host corrects both players of
// every pair. A non-host only looks at pairs involving its own player and
// stores only its own half; the remote half is left to the host's next
// snapshot.
func (r *Reconciler) Separate(dir *session.Directory, localID string, authoritative bool) []Correction {
	all := Pairwise(dir.Players(), r.radius, r.push)
	applied := all[:0]
	for _, c := range all {
		if !authoritative && c.A != localID && c.B != localID {
			continue
		}
		if authoritative || c.A == localID {
			dir.Update(c.A, func(p *session.PlayerState) {
				p.X += c.DA.X
				p.Y += c.DA.Y
			})
		}
		if authoritative || c.B == localID {
			dir.Update(c.B, func(p *session.PlayerState) {
				p.X += c.DB.X
				p.Y += c.DB.Y
			})
		}
		applied = append(applied, c)
	}
	return applied
}

// Simulate loads the directory into the physics world, steps it once and
// writes positions and velocities back. Host only.
func (r *Reconciler) Simulate(dir *session.Directory) bool {
	r.syncBodies(dir)
	before := dir.Digest()

	for _, b := range r.world.Bodies() {
		p, _ := dir.Get(b.ID)
		b.SetPosition(physics.Vec{X: p.X, Y: p.Y})
		if p.Velocity != nil {
			b.SetVelocity(physics.Vec{X: p.Velocity.X, Y: p.Velocity.Y})
		}
	}
	r.engine.Step()
	for _, b := range r.world.Bodies() {
		dir.Update(b.ID, func(p *session.PlayerState) {
			p.X, p.Y = b.Position.X, b.Position.Y
			p.Velocity = &session.Vec{X: b.Velocity.X, Y: b.Velocity.Y}
		})
	}
	return dir.Digest() != before
}

// Mirror copies snapshot positions into the bodies without stepping, so a
// non-host's world matches what the host last broadcast.
func (r *Reconciler) Mirror(dir *session.Directory) {
	r.syncBodies(dir)
	for _, b := range r.world.Bodies() {
		p, _ := dir.Get(b.ID)
		b.SetPosition(physics.Vec{X: p.X, Y: p.Y})
		if p.Velocity != nil {
			b.SetVelocity(physics.Vec{X: p.Velocity.X, Y: p.Velocity.Y})
		}
	}
}

// Body exposes the physics body for a player in rigid-body mode.
func (r *Reconciler) Body(id string) (*physics.Body, bool) {
	if r.world == nil {
		return nil, false
	}
	return r.world.Body(id)
}

func (r *Reconciler) syncBodies(dir *session.Directory) {
	for _, b := range r.world.Bodies() {
		if !dir.Has(b.ID) {
			r.world.Remove(b.ID)
		}
	}
	for _, id := range dir.IDs() {
		if _, ok := r.world.Body(id); ok {
			continue
		}
		p, _ := dir.Get(id)
		r.world.Add(physics.CreateBody(id, p.X, p.Y, r.radius, physics.DefaultParams))
	}
}
