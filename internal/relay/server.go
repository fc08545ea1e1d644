// Package relay is the room relay server: websocket and Socket.IO sockets share one hub per room,
// and every roster write goes through a single roster.Manager.
package relay

import (
	"sync"
	"time"

	"github.com/sakshamg567/tiltmarble/internal/roster"
	"github.com/sakshamg567/tiltmarble/logger"
)

type Config struct {
	ResyncInterval time.Duration // periodic full snapshot, 0 disables
	SendBuffer     int
}

func DefaultConfig() Config {
	return Config{ResyncInterval: 5 * time.Second, SendBuffer: 256}
}

// Server owns the hubs, one per room with at least one socket.
type Server struct {
	mgr *roster.Manager
	cfg Config
	log logger.Logger

	mu   sync.RWMutex
	hubs map[string]*Hub
	wg   sync.WaitGroup
}

func NewServer(mgr *roster.Manager, cfg Config, l logger.Logger) *Server {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultConfig().SendBuffer
	}
	if l == nil {
		l = logger.Default()
	}
	return &Server{mgr: mgr, cfg: cfg, log: l, hubs: make(map[string]*Hub)}
}

func (s *Server) Manager() *roster.Manager { return s.mgr }

// hub returns the running hub for roomID, starting one if needed.
func (s *Server) hub(roomID string) *Hub {
	s.mu.RLock()
	h, ok := s.hubs[roomID]
	s.mu.RUnlock()
	if ok {
		return h
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.hubs[roomID]; ok {
		return h
	}
	s.mgr.EnsureRoom(roomID)
	h = newHub(roomID, s.mgr, s.cfg.ResyncInterval, s.log)
	s.hubs[roomID] = h
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		h.Run(s.remove)
	}()
	s.log.Infof("hub %s started", roomID)
	return h
}

func (s *Server) remove(h *Hub) {
	s.mu.Lock()
	if s.hubs[h.ID] == h {
		delete(s.hubs, h.ID)
	}
	s.mu.Unlock()
}

// Attach registers p with the room's hub, retrying if that hub stopped in the meantime.
func (s *Server) Attach(roomID string, p Peer) *Hub {
	for {
		h := s.hub(roomID)
		select {
		case h.Register <- p:
			return h
		case <-h.Done():
		}
	}
}

func (s *Server) Hubs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.hubs)
}

// NotifyReaped tells the affected hubs which players the reaper expired.
func (s *Server) NotifyReaped(reaped []roster.Reaped) {
	for _, r := range reaped {
		s.mu.RLock()
		h, ok := s.hubs[r.RoomID]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		select {
		case h.reaped <- r:
		case <-h.Done():
		default:
			s.log.Errorf("hub %s: reap notice dropped", r.RoomID)
		}
	}
}

// Wait blocks until every hub has stopped.
func (s *Server) Wait() { s.wg.Wait() }
