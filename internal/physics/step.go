// Package physics is a minimal deterministic 2D integrator for a single rigid circle.
package physics

import "math"

// State is a marble's kinematic state. Velocity is in units per tick.
type State struct {
	X, Y, VX, VY float64
}

type Vector struct {
	X, Y float64
}

// Bounds is the playable rectangle. Room-local coordinates put the origin at the centre.
type Bounds struct {
	MinX, MinY, MaxX, MaxY float64
}

// CenteredBounds returns a w×h rectangle centred on the origin.
func CenteredBounds(w, h float64) Bounds {
	return Bounds{MinX: -w / 2, MinY: -h / 2, MaxX: w / 2, MaxY: h / 2}
}

// Clamp pulls (x, y) inside the bounds shrunk by r. A degenerate rectangle collapses to its centre.
func (b Bounds) Clamp(x, y, r float64) (float64, float64) {
	return clampAxis(x, b.MinX+r, b.MaxX-r), clampAxis(y, b.MinY+r, b.MaxY-r)
}

// Contains reports whether a circle of radius r at (x, y) lies fully inside.
func (b Bounds) Contains(x, y, r float64) bool {
	cx, cy := b.Clamp(x, y, r)
	return cx == x && cy == y
}

func clampAxis(v, lo, hi float64) float64 {
	if lo > hi {
		return (lo + hi) / 2
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Obstacle is a static circle.
type Obstacle struct {
	X, Y, Radius float64
}

func Speed(s State) float64 {
	return math.Hypot(s.VX, s.VY)
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Step advances s by dt ticks. The same arguments always produce the same result.
// Non-finite input leaves the state unchanged.
func Step(s State, in Vector, dt float64, b Bounds, obs []Obstacle, p Params) State {
	if dt <= 0 || !finite(in.X, in.Y, dt, s.X, s.Y, s.VX, s.VY) {
		return s
	}

	// force: input magnitude is capped at 1 so diagonal tilt is no faster
	if mag := math.Hypot(in.X, in.Y); mag > 1 {
		in.X /= mag
		in.Y /= mag
	}
	s.VX += in.X * p.Accel * dt
	s.VY += in.Y * p.Accel * dt

	// friction applies every tick, input or not
	f := math.Pow(p.Friction, dt)
	s.VX *= f
	s.VY *= f

	if speed := math.Hypot(s.VX, s.VY); speed > p.MaxSpeed && speed > 0 {
		scale := p.MaxSpeed / speed
		s.VX *= scale
		s.VY *= scale
	}

	s.X += s.VX * dt
	s.Y += s.VY * dt

	s = collideBounds(s, b, p)
	for _, o := range obs {
		s = collideObstacle(s, o, p)
	}
	// obstacle push-out may cross a wall
	s.X, s.Y = b.Clamp(s.X, s.Y, p.Radius)
	return s
}

func collideBounds(s State, b Bounds, p Params) State {
	r := p.Radius
	e := p.WallRestitution
	if s.X < b.MinX+r {
		s.X = b.MinX + r
		if s.VX < 0 {
			s.VX = -s.VX * e
		}
	} else if s.X > b.MaxX-r {
		s.X = b.MaxX - r
		if s.VX > 0 {
			s.VX = -s.VX * e
		}
	}
	if s.Y < b.MinY+r {
		s.Y = b.MinY + r
		if s.VY < 0 {
			s.VY = -s.VY * e
		}
	} else if s.Y > b.MaxY-r {
		s.Y = b.MaxY - r
		if s.VY > 0 {
			s.VY = -s.VY * e
		}
	}
	s.X, s.Y = b.Clamp(s.X, s.Y, r)
	return s
}

func collideObstacle(s State, o Obstacle, p Params) State {
	dx := s.X - o.X
	dy := s.Y - o.Y
	minDist := p.Radius + o.Radius
	dist := math.Hypot(dx, dy)
	if dist >= minDist {
		return s
	}

	nx, ny := 1.0, 0.0
	if dist > 0 {
		nx, ny = dx/dist, dy/dist
	}
	s.X = o.X + nx*minDist
	s.Y = o.Y + ny*minDist

	// only reflect when moving into the obstacle
	vn := s.VX*nx + s.VY*ny
	if vn < 0 {
		k := (1 + p.ObstacleRestitution) * vn
		s.VX -= k * nx
		s.VY -= k * ny
	}
	return s
}
