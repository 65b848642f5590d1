package physics

import (
	"math"
	"sort"
)

// Rect bounds the world; bodies bounce off its edges.
type Rect struct {
	MinX, MinY, MaxX, MaxY float64
}

type World struct {
	bodies map[string]*Body
	Bounds *Rect
}

func NewWorld(bounds *Rect) *World {
	return &World{
		bodies: make(map[string]*Body),
		Bounds: bounds,
	}
}

// Add puts b in the world, replacing any body with the same id.
func (w *World) Add(b *Body) {
	w.bodies[b.ID] = b
}

func (w *World) Remove(id string) {
	delete(w.bodies, id)
}

func (w *World) Body(id string) (*Body, bool) {
	b, ok := w.bodies[id]
	return b, ok
}

func (w *World) Len() int {
	return len(w.bodies)
}

// Bodies returns the bodies ordered by id so a step is reproducible.
func (w *World) Bodies() []*Body {
	out := make([]*Body, 0, len(w.bodies))
	for _, b := range w.bodies {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Engine advances a World one fixed step at a time.
type Engine struct {
	World      *World
	Iterations int
}

func NewEngine(w *World) *Engine {
	return &Engine{World: w, Iterations: 4}
}

// Step integrates velocities, applies air friction, then separates
// overlapping bodies and reflects them off the bounds.
func (e *Engine) Step() {
	bodies := e.World.Bodies()
	for _, b := range bodies {
		if b.Static {
			continue
		}
		b.Position = b.Position.Add(b.Velocity)
		b.Velocity = b.Velocity.Scale(1 - b.FrictionAir)
	}

	iterations := e.Iterations
	if iterations < 1 {
		iterations = 1
	}
	for it := 0; it < iterations; it++ {
		for i := 0; i < len(bodies); i++ {
			for j := i + 1; j < len(bodies); j++ {
				resolve(bodies[i], bodies[j])
			}
		}
	}

	if e.World.Bounds != nil {
		for _, b := range bodies {
			confine(b, *e.World.Bounds)
		}
	}
}

func resolve(a, b *Body) {
	invA, invB := a.inverseMass(), b.inverseMass()
	if invA+invB == 0 {
		return
	}
	delta := b.Position.Sub(a.Position)
	dist := delta.Len()
	minDist := a.Radius + b.Radius
	if dist >= minDist {
		return
	}

	normal := Vec{X: 1}
	if dist > 0 {
		normal = delta.Scale(1 / dist)
	}
	overlap := minDist - dist
	share := overlap / (invA + invB)
	a.Position = a.Position.Sub(normal.Scale(share * invA))
	b.Position = b.Position.Add(normal.Scale(share * invB))

	closing := b.Velocity.Sub(a.Velocity).Dot(normal)
	if closing >= 0 {
		return
	}
	e := math.Min(a.Restitution, b.Restitution)
	impulse := -(1 + e) * closing / (invA + invB)
	a.Velocity = a.Velocity.Sub(normal.Scale(impulse * invA))
	b.Velocity = b.Velocity.Add(normal.Scale(impulse * invB))
}

func confine(b *Body, r Rect) {
	if b.Static {
		return
	}
	if b.Position.X-b.Radius < r.MinX {
		b.Position.X = r.MinX + b.Radius
		b.Velocity.X = math.Abs(b.Velocity.X) * b.Restitution
	}
	if b.Position.X+b.Radius > r.MaxX {
		b.Position.X = r.MaxX - b.Radius
		b.Velocity.X = -math.Abs(b.Velocity.X) * b.Restitution
	}
	if b.Position.Y-b.Radius < r.MinY {
		b.Position.Y = r.MinY + b.Radius
		b.Velocity.Y = math.Abs(b.Velocity.Y) * b.Restitution
	}
	if b.Position.Y+b.Radius > r.MaxY {
		b.Position.Y = r.MaxY - b.Radius
		b.Velocity.Y = -math.Abs(b.Velocity.Y) * b.Restitution
	}
}
