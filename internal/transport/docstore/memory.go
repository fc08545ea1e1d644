package docstore

import (
	"context"

	"github.com/sakshamg567/tiltmarble/internal/roster"
)

// MemoryStore is a Store backed by an in-process roster manager.
type MemoryStore struct {
	m *roster.Manager
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(m *roster.Manager) *MemoryStore {
	return &MemoryStore{m: m}
}

func (s *MemoryStore) Manager() *roster.Manager { return s.m }

func (s *MemoryStore) Join(_ context.Context, roomID, id, name string) (roster.Player, error) {
	return s.m.Join(roomID, id, name)
}

func (s *MemoryStore) Leave(_ context.Context, roomID, id string) error {
	return s.m.Leave(roomID, id)
}

func (s *MemoryStore) Disconnect(_ context.Context, roomID, id string) error {
	return s.m.Disconnect(roomID, id)
}

func (s *MemoryStore) UpdatePosition(_ context.Context, roomID, id string, u roster.Update) (roster.Player, error) {
	return s.m.UpdatePosition(roomID, id, u)
}

func (s *MemoryStore) AddCartItem(_ context.Context, roomID, id string, item roster.CartItem) (roster.Player, error) {
	return s.m.AddCartItem(roomID, id, item)
}

func (s *MemoryStore) Players(_ context.Context, roomID string) ([]roster.Player, error) {
	snap, err := s.m.Snapshot(roomID)
	if err != nil {
		return nil, err
	}
	return snap.Players, nil
}

func (s *MemoryStore) Room(_ context.Context, roomID string) (roster.Room, error) {
	snap, err := s.m.Snapshot(roomID)
	if err != nil {
		return roster.Room{}, err
	}
	return snap.Room, nil
}

func (s *MemoryStore) Watch(ctx context.Context, roomID string, fn func([]roster.Player)) error {
	cancel := s.m.Subscribe(roomID, func(snap roster.Snapshot) { fn(snap.Players) })
	defer cancel()
	<-ctx.Done()
	return ctx.Err()
}

func (s *MemoryStore) Reap(context.Context) ([]roster.Reaped, error) {
	return s.m.Reap(), nil
}
