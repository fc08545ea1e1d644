package client

import (
	"context"
	"time"

	"github.com/sakshamg567/tiltmarble/internal/physics"
	"github.com/sakshamg567/tiltmarble/internal/roster"
	"github.com/sakshamg567/tiltmarble/internal/shop"
	"github.com/sakshamg567/tiltmarble/internal/tilt"
)

// Frame is what a renderer sees after each tick.
type Frame struct {
	Tick    uint64
	Ready   bool
	Local   physics.State
	Remotes []roster.Player
	Picked  []shop.Item
}

// Loop drives one marble at a fixed rate: input, physics, publish, pickups.
type Loop struct {
	Client    *Client
	Input     tilt.ManualInput
	Bounds    physics.Bounds
	Obstacles []physics.Obstacle
	Params    physics.Params
	Tracker   *shop.Tracker // optional
	TickHz    int
	OnFrame   func(Frame)

	tick uint64
}

// Run ticks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	hz := l.TickHz
	if hz <= 0 {
		hz = physics.TickHz
	}
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			f := l.Step()
			if l.OnFrame != nil {
				l.OnFrame(f)
			}
		}
	}
}

// Step advances one tick.
func (l *Loop) Step() Frame {
	l.tick++
	var in physics.Vector
	if l.Input != nil {
		v := l.Input.Vector()
		in = physics.Vector{X: v.X, Y: v.Y}
	}
	st := physics.Step(l.Client.Local(), in, 1, l.Bounds, l.Obstacles, l.Params)
	l.Client.OnLocalTick(st)

	f := Frame{Tick: l.tick, Ready: l.Client.Ready(), Local: st, Remotes: l.Client.Remotes()}
	if l.Tracker != nil {
		for _, it := range l.Tracker.Touch(st.X, st.Y) {
			if err := l.Client.AddToCart(it); err != nil {
				l.Client.log.Errorf("client %s: cart %s: %v", l.Client.cfg.PlayerID, it.ID, err)
				continue
			}
			f.Picked = append(f.Picked, it)
		}
	}
	return f
}
