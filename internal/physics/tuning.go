package physics

const (
	TickHz              = 60
	MarbleRadius        = 15.0
	AccelPerTick        = 0.5
	FrictionPerTick     = 0.985 // multiplier applied every tick
	MaxSpeed            = 10.0  // units per tick
	WallRestitution     = 0.6
	ObstacleRestitution = 0.7
)

// Params are the integrator tunables. Restitution factors must stay below 1.
type Params struct {
	Radius              float64
	Accel               float64
	Friction            float64
	MaxSpeed            float64
	WallRestitution     float64
	ObstacleRestitution float64
}

func DefaultParams() Params {
	return Params{
		Radius:              MarbleRadius,
		Accel:               AccelPerTick,
		Friction:            FrictionPerTick,
		MaxSpeed:            MaxSpeed,
		WallRestitution:     WallRestitution,
		ObstacleRestitution: ObstacleRestitution,
	}
}
