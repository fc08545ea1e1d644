// Package docstore is the shared-document backend of the transport contract. Each marble is a
// document keyed by (room, player); clients write their own document and watch the room.
package docstore

import (
	"context"

	"github.com/sakshamg567/tiltmarble/internal/roster"
)

// Store is an upsert-merge document store with a per-room change feed. Errors follow the roster
// sentinels: ErrAlreadyActive, ErrNotFound, ErrStaleWrite.
type Store interface {
	Join(ctx context.Context, roomID, id, name string) (roster.Player, error)
	Leave(ctx context.Context, roomID, id string) error
	Disconnect(ctx context.Context, roomID, id string) error
	UpdatePosition(ctx context.Context, roomID, id string, u roster.Update) (roster.Player, error)
	AddCartItem(ctx context.Context, roomID, id string, item roster.CartItem) (roster.Player, error)
	// Players returns every document in the room sorted by id and heals the room's player count.
	Players(ctx context.Context, roomID string) ([]roster.Player, error)
	Room(ctx context.Context, roomID string) (roster.Room, error)
	// Watch calls fn with the full roster once subscribed and after every change. It blocks until
	// ctx is done or the feed fails.
	Watch(ctx context.Context, roomID string, fn func([]roster.Player)) error
}
