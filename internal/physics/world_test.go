package physics

import (
	"math"
	"testing"
)

func TestStepMovesBodyByVelocity(t *testing.T) {
	w := NewWorld(nil)
	b := CreateBody("p1", 0, 0, 10, Params{Mass: 1})
	w.Add(b)
	b.SetVelocity(Vec{X: 2, Y: 1})

	NewEngine(w).Step()

	if b.Position != (Vec{X: 2, Y: 1}) {
		t.Fatalf("position after 1 step = %+v, want {2 1}", b.Position)
	}
}

func TestStepAppliesAirFriction(t *testing.T) {
	w := NewWorld(nil)
	b := CreateBody("p1", 0, 0, 10, Params{Mass: 1, FrictionAir: 0.5})
	w.Add(b)
	b.SetVelocity(Vec{X: 4})

	e := NewEngine(w)
	e.Step()
	if b.Velocity.X != 2 {
		t.Fatalf("velocity after friction = %f, want 2", b.Velocity.X)
	}
	x1 := b.Position.X
	e.Step()
	if b.Position.X <= x1 {
		t.Fatalf("expected body to keep moving: x1=%f x2=%f", x1, b.Position.X)
	}
}

func TestStepSeparatesOverlappingBodies(t *testing.T) {
	w := NewWorld(nil)
	a := CreateBody("a", 0, 0, 20, DefaultParams)
	b := CreateBody("b", 10, 0, 20, DefaultParams)
	w.Add(a)
	w.Add(b)

	NewEngine(w).Step()

	d := b.Position.Sub(a.Position).Len()
	if d < 40-1e-9 {
		t.Fatalf("bodies still overlap after step: distance=%f want>=40", d)
	}
	// Equal masses share the correction.
	if math.Abs(a.Position.X+b.Position.X-10) > 1e-9 {
		t.Fatalf("centre of mass moved: a=%f b=%f", a.Position.X, b.Position.X)
	}
}

func TestStepCoincidentBodiesDoNotProduceNaN(t *testing.T) {
	w := NewWorld(nil)
	a := CreateBody("a", 5, 5, 10, DefaultParams)
	b := CreateBody("b", 5, 5, 10, DefaultParams)
	w.Add(a)
	w.Add(b)

	NewEngine(w).Step()

	for _, body := range []*Body{a, b} {
		if math.IsNaN(body.Position.X) || math.IsNaN(body.Position.Y) {
			t.Fatalf("body %s position is NaN", body.ID)
		}
	}
	if a.Position == b.Position {
		t.Fatalf("coincident bodies were not separated")
	}
}

func TestStepStaticBodyDoesNotMove(t *testing.T) {
	w := NewWorld(nil)
	wall := CreateBody("wall", 0, 0, 20, Params{Static: true, Restitution: 1})
	ball := CreateBody("ball", 30, 0, 20, DefaultParams)
	w.Add(wall)
	w.Add(ball)
	ball.SetVelocity(Vec{X: -5})

	NewEngine(w).Step()

	if wall.Position != (Vec{}) {
		t.Fatalf("static body moved to %+v", wall.Position)
	}
	if ball.Position.X < 40-1e-9 {
		t.Fatalf("ball penetrates static body: x=%f", ball.Position.X)
	}
	if ball.Velocity.X <= 0 {
		t.Fatalf("expected ball to bounce back, vx=%f", ball.Velocity.X)
	}
}

func TestStepConfinesToBounds(t *testing.T) {
	w := NewWorld(&Rect{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100})
	b := CreateBody("p1", 95, 50, 10, DefaultParams)
	w.Add(b)
	b.SetVelocity(Vec{X: 10})

	NewEngine(w).Step()

	if b.Position.X != 90 {
		t.Fatalf("x = %f, want 90 (clamped to bound minus radius)", b.Position.X)
	}
	if b.Velocity.X >= 0 {
		t.Fatalf("expected reflected velocity, got %f", b.Velocity.X)
	}
}

func TestRemove(t *testing.T) {
	w := NewWorld(nil)
	w.Add(CreateBody("a", 0, 0, 1, DefaultParams))
	w.Remove("a")
	if _, ok := w.Body("a"); ok {
		t.Fatalf("body still present after Remove")
	}
	if w.Len() != 0 {
		t.Fatalf("Len = %d, want 0", w.Len())
	}
}

func TestBodiesSortedByID(t *testing.T) {
	w := NewWorld(nil)
	for _, id := range []string{"c", "a", "b"} {
		w.Add(CreateBody(id, 0, 0, 1, DefaultParams))
	}
	got := w.Bodies()
	for i, want := range []string{"a", "b", "c"} {
		if got[i].ID != want {
			t.Fatalf("Bodies()[%d] = %s, want %s", i, got[i].ID, want)
		}
	}
}

func TestCreateBodyDefaultsMass(t *testing.T) {
	b := CreateBody("a", 0, 0, 1, Params{})
	if b.Mass != 1 {
		t.Fatalf("Mass = %f, want 1", b.Mass)
	}
}
