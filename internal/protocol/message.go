// Package protocol holds the frames exchanged between sync clients and the relay.
package protocol

import (
	"fmt"

	"github.com/sakshamg567/tiltmarble/internal/roster"
)

const (
	MsgJoin     = "join"
	MsgLeave    = "leave"
	MsgUpdate   = "update"
	MsgSnapshot = "snapshot"
	MsgCart     = "cart"
	MsgSync     = "sync" // ask for a full snapshot
	MsgError    = "error"
)

// Message is a flat frame; which fields are set depends on Type.
type Message struct {
	Type     string           `json:"type" msgpack:"type"`
	RoomID   string           `json:"roomId,omitempty" msgpack:"roomId,omitempty"`
	PlayerID string           `json:"playerId,omitempty" msgpack:"playerId,omitempty"`
	Name     string           `json:"name,omitempty" msgpack:"name,omitempty"`
	Marble   *roster.Player   `json:"marble,omitempty" msgpack:"marble,omitempty"`
	X        float64          `json:"x" msgpack:"x"`
	Y        float64          `json:"y" msgpack:"y"`
	VX       float64          `json:"vx" msgpack:"vx"`
	VY       float64          `json:"vy" msgpack:"vy"`
	At       int64            `json:"at,omitempty" msgpack:"at,omitempty"` // unix ms
	Players  []roster.Player  `json:"players,omitempty" msgpack:"players,omitempty"`
	Item     *roster.CartItem `json:"item,omitempty" msgpack:"item,omitempty"`
	Error    string           `json:"error,omitempty" msgpack:"error,omitempty"`
}

func Join(roomID, playerID, name string) Message {
	return Message{Type: MsgJoin, RoomID: roomID, PlayerID: playerID, Name: name}
}

func Leave(roomID, playerID string) Message {
	return Message{Type: MsgLeave, RoomID: roomID, PlayerID: playerID}
}

func Update(roomID, playerID string, u roster.Update) Message {
	return Message{Type: MsgUpdate, RoomID: roomID, PlayerID: playerID, X: u.X, Y: u.Y, VX: u.VX, VY: u.VY, At: u.At}
}

func Cart(roomID, playerID string, item roster.CartItem) Message {
	return Message{Type: MsgCart, RoomID: roomID, PlayerID: playerID, Item: &item}
}

func Snapshot(roomID string, players []roster.Player) Message {
	if players == nil {
		players = []roster.Player{}
	}
	return Message{Type: MsgSnapshot, RoomID: roomID, Players: players}
}

// Marble wraps a single roster entry, used for join and update deltas.
func Marble(typ string, p roster.Player) Message {
	return Message{Type: typ, RoomID: p.RoomID, PlayerID: p.ID, Name: p.Name, Marble: &p,
		X: p.X, Y: p.Y, VX: p.VX, VY: p.VY, At: p.LastUpdated}
}

func Errorf(format string, v ...any) Message {
	return Message{Type: MsgError, Error: fmt.Sprintf(format, v...)}
}

// PositionUpdate extracts the position write carried by an update frame.
func (m Message) PositionUpdate() roster.Update {
	return roster.Update{X: m.X, Y: m.Y, VX: m.VX, VY: m.VY, At: m.At}
}

// Validate rejects frames the relay cannot act on.
func (m Message) Validate() error {
	switch m.Type {
	case MsgJoin, MsgLeave, MsgUpdate, MsgSync:
	case MsgCart:
		if m.Item == nil {
			return fmt.Errorf("cart message without item")
		}
	case MsgSnapshot, MsgError:
	case "":
		return fmt.Errorf("message without type")
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	return nil
}
