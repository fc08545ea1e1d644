// Package transport is the contract between the sync client and whatever carries roster changes:
// a socket relay or a shared document store.
package transport

import (
	"errors"

	"github.com/sakshamg567/tiltmarble/internal/protocol"
	"github.com/sakshamg567/tiltmarble/internal/roster"
)

var (
	ErrDisconnected = errors.New("transport: disconnected")
	ErrBackpressure = errors.New("transport: send queue full")
	ErrClosed       = errors.New("transport: closed")
)

type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Transport delivers full room rosters to subscribers and accepts outbound frames.
//
// Publish never blocks: it queues the frame or fails with ErrBackpressure or ErrDisconnected.
// Subscribe delivers the current roster as soon as one is known and again after every change.
// The returned unsubscribe is synchronous: once it returns fn is not called again.
type Transport interface {
	Subscribe(roomID string, fn func([]roster.Player)) (unsubscribe func(), err error)
	Publish(roomID string, msg protocol.Message) error
	Close() error
}

// StatusNotifier is implemented by transports that report connection state.
type StatusNotifier interface {
	OnStatus(fn func(Status))
}
