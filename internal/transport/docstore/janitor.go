package docstore

import (
	"context"
	"time"

	"github.com/sakshamg567/tiltmarble/internal/roster"
	"github.com/sakshamg567/tiltmarble/logger"
)

// Reaper expires idle documents.
type Reaper interface {
	Reap(ctx context.Context) ([]roster.Reaped, error)
}

// Janitor runs a Reaper on a fixed interval until ctx is done.
type Janitor struct {
	r        Reaper
	interval time.Duration
	log      logger.Logger
}

func NewJanitor(r Reaper, interval time.Duration, l logger.Logger) *Janitor {
	if l == nil {
		l = logger.Default()
	}
	return &Janitor{r: r, interval: interval, log: l}
}

func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reaped, err := j.r.Reap(ctx)
			if err != nil && ctx.Err() == nil {
				j.log.Errorf("janitor: %v", err)
			}
			for _, r := range reaped {
				if r.Purged {
					j.log.Infof("janitor: purged %s from %s", r.Player.ID, r.RoomID)
				} else {
					j.log.Infof("janitor: %s idle in %s, marked disconnected", r.Player.ID, r.RoomID)
				}
			}
		}
	}
}
