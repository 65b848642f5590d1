// Package physics is a small rigid-body simulation of circular bodies. It
// plays the role of the physics engine in rigid-body rooms: the host steps it
// and reads body positions back into the session directory.
package physics

import "math"

type Vec struct {
	X, Y float64
}

func (v Vec) Add(o Vec) Vec       { return Vec{v.X + o.X, v.Y + o.Y} }
func (v Vec) Sub(o Vec) Vec       { return Vec{v.X - o.X, v.Y - o.Y} }
func (v Vec) Scale(k float64) Vec { return Vec{v.X * k, v.Y * k} }
func (v Vec) Dot(o Vec) float64   { return v.X*o.X + v.Y*o.Y }
func (v Vec) Len() float64        { return math.Hypot(v.X, v.Y) }

// Params are the material properties of a body.
type Params struct {
	Mass        float64
	Restitution float64
	FrictionAir float64
	Static      bool
}

// DefaultParams matches a light, slightly bouncy player disc.
var DefaultParams = Params{
	Mass:        1,
	Restitution: 0.4,
	FrictionAir: 0.1,
}

// Body is a circle. Velocity is in canvas units per step.
type Body struct {
	ID       string
	Position Vec
	Velocity Vec
	Radius   float64
	Params
}

func CreateBody(id string, x, y, radius float64, p Params) *Body {
	if p.Mass <= 0 {
		p.Mass = 1
	}
	return &Body{
		ID:       id,
		Position: Vec{X: x, Y: y},
		Radius:   radius,
		Params:   p,
	}
}

func (b *Body) SetVelocity(v Vec) {
	b.Velocity = v
}

func (b *Body) SetPosition(p Vec) {
	b.Position = p
}

func (b *Body) inverseMass() float64 {
	if b.Static {
		return 0
	}
	return 1 / b.Mass
}
