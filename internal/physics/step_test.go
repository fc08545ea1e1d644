package physics

import (
	"math"
	"testing"
)

func TestStepMovesWithInput(t *testing.T) {
	p := DefaultParams()
	b := CenteredBounds(800, 500)
	s := State{}

	s = Step(s, Vector{X: 1}, 1, b, nil, p)
	if s.X <= 0 || s.VX <= 0 {
		t.Fatalf("expected +x movement after 1 step, got %+v", s)
	}
	x1 := s.X
	for i := 0; i < 4; i++ {
		s = Step(s, Vector{X: 1}, 1, b, nil, p)
	}
	if s.X <= x1 {
		t.Fatalf("expected x to keep increasing: x1=%f x=%f", x1, s.X)
	}
}

func TestStepDeceleratesToRest(t *testing.T) {
	p := DefaultParams()
	b := CenteredBounds(100000, 100000)
	s := State{VX: 5, VY: -3}
	for i := 0; i < 2000; i++ {
		s = Step(s, Vector{}, 1, b, nil, p)
	}
	if Speed(s) > 1e-6 {
		t.Fatalf("expected marble to come to rest, speed=%g", Speed(s))
	}
}

func TestStepSpeedCapPreservesDirection(t *testing.T) {
	p := DefaultParams()
	p.Friction = 1
	b := CenteredBounds(100000, 100000)
	s := State{VX: 30, VY: 40}
	s = Step(s, Vector{}, 1, b, nil, p)
	if got := Speed(s); math.Abs(got-p.MaxSpeed) > 1e-9 {
		t.Fatalf("speed = %f, want %f", got, p.MaxSpeed)
	}
	if math.Abs(s.VX/s.VY-0.75) > 1e-9 {
		t.Fatalf("direction changed: vx=%f vy=%f", s.VX, s.VY)
	}
}

func TestStepDiagonalInputCapped(t *testing.T) {
	p := DefaultParams()
	b := CenteredBounds(1000, 1000)
	axis := Step(State{}, Vector{X: 1}, 1, b, nil, p)
	diag := Step(State{}, Vector{X: 1, Y: 1}, 1, b, nil, p)
	if Speed(diag) > Speed(axis)+1e-9 {
		t.Fatalf("diagonal input should not accelerate faster: %f > %f", Speed(diag), Speed(axis))
	}
}

func TestStepWallBounceLosesEnergy(t *testing.T) {
	p := DefaultParams()
	p.Friction = 1
	b := CenteredBounds(200, 200)
	s := State{X: 80, VX: 8}
	before := Speed(s)
	s = Step(s, Vector{}, 1, b, nil, p)
	if s.VX >= 0 {
		t.Fatalf("expected reflected velocity, got %f", s.VX)
	}
	if Speed(s) > before {
		t.Fatalf("speed grew on collision: %f > %f", Speed(s), before)
	}
	if s.X != b.MaxX-p.Radius {
		t.Fatalf("expected clamp to wall, x=%f", s.X)
	}
}

func TestStepObstacleBounce(t *testing.T) {
	p := DefaultParams()
	p.Friction = 1
	b := CenteredBounds(1000, 1000)
	obs := []Obstacle{{X: 30, Y: 0, Radius: 10}}
	s := State{X: 0, VX: 8}
	before := Speed(s)
	s = Step(s, Vector{}, 1, b, obs, p)

	if d := math.Hypot(s.X-30, s.Y); d < p.Radius+10-1e-9 {
		t.Fatalf("marble still overlaps obstacle: dist=%f", d)
	}
	if s.VX >= 0 {
		t.Fatalf("expected velocity reflected off obstacle, got %f", s.VX)
	}
	if Speed(s) > before {
		t.Fatalf("speed grew on obstacle collision: %f > %f", Speed(s), before)
	}
	if math.Abs(Speed(s)-before*p.ObstacleRestitution) > 1e-9 {
		t.Fatalf("head-on hit should scale speed by restitution: %f", Speed(s))
	}
}

func TestStepContainment(t *testing.T) {
	p := DefaultParams()
	b := CenteredBounds(300, 200)
	obs := []Obstacle{{X: 0, Y: 0, Radius: 40}, {X: 140, Y: 90, Radius: 30}}
	s := State{X: -100, Y: 50}
	inputs := []Vector{{1, 1}, {-1, 0.3}, {0.2, -1}, {1, -1}, {-0.7, 0.7}}
	for i := 0; i < 3000; i++ {
		s = Step(s, inputs[(i/37)%len(inputs)], 1, b, obs, p)
		if !b.Contains(s.X, s.Y, p.Radius) {
			t.Fatalf("tick %d: marble escaped bounds: %+v", i, s)
		}
	}
}

func TestStepDeterministic(t *testing.T) {
	p := DefaultParams()
	b := CenteredBounds(400, 300)
	obs := []Obstacle{{X: 50, Y: 20, Radius: 25}}
	run := func() State {
		s := State{X: -10, Y: 5}
		for i := 0; i < 500; i++ {
			s = Step(s, Vector{X: math.Sin(float64(i) / 10), Y: 0.4}, 0.75, b, obs, p)
		}
		return s
	}
	a, c := run(), run()
	if a != c {
		t.Fatalf("non-deterministic: %+v vs %+v", a, c)
	}
}

func TestStepIgnoresBadInput(t *testing.T) {
	p := DefaultParams()
	b := CenteredBounds(400, 300)
	s := State{X: 1, Y: 2, VX: 3, VY: 4}
	if got := Step(s, Vector{X: math.NaN()}, 1, b, nil, p); got != s {
		t.Fatalf("NaN input should keep state, got %+v", got)
	}
	if got := Step(s, Vector{X: 1}, math.Inf(1), b, nil, p); got != s {
		t.Fatalf("infinite dt should keep state, got %+v", got)
	}
	if got := Step(s, Vector{X: 1}, 0, b, nil, p); got != s {
		t.Fatalf("zero dt should keep state, got %+v", got)
	}
}

func TestBoundsClampDegenerate(t *testing.T) {
	b := CenteredBounds(10, 10)
	x, y := b.Clamp(100, -100, 20)
	if x != 0 || y != 0 {
		t.Fatalf("degenerate bounds should collapse to centre, got (%f,%f)", x, y)
	}
}
