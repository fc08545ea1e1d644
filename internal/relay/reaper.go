package relay

import (
	"context"
	"time"
)

// RunReaper expires idle players every interval and tells their hubs.
func (s *Server) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if reaped := s.mgr.Reap(); len(reaped) > 0 {
				s.NotifyReaped(reaped)
			}
		}
	}
}
