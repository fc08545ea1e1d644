package roster

import (
	"errors"
	"time"

	"github.com/sakshamg567/tiltmarble/pkg/utils"
)

var (
	ErrAlreadyActive = errors.New("roster: player already active in another room")
	ErrNotFound      = errors.New("roster: no active player")
	ErrStaleWrite    = errors.New("roster: update older than stored state")
	ErrRoomNotFound  = errors.New("roster: room not found")
)

// Status is the per-player session state. Disconnected and Left end a session; the same id may join again.
type Status string

const (
	StatusUnjoined     Status = "unjoined"
	StatusJoining      Status = "joining"
	StatusActive       Status = "active"
	StatusDisconnected Status = "disconnected"
	StatusLeft         Status = "left"
)

type CartItem struct {
	ItemID   string  `json:"itemId" msgpack:"itemId" redis:"itemId"`
	Name     string  `json:"name" msgpack:"name" redis:"name"`
	Price    float64 `json:"price" msgpack:"price" redis:"price"`
	Quantity int     `json:"quantity" msgpack:"quantity" redis:"quantity"`
}

// Player is one marble document.
type Player struct {
	ID          string     `json:"id" msgpack:"id" redis:"id"`
	RoomID      string     `json:"roomId" msgpack:"roomId" redis:"roomId"`
	Name        string     `json:"name" msgpack:"name" redis:"name"`
	Color       string     `json:"color" msgpack:"color" redis:"color"`
	X           float64    `json:"x" msgpack:"x" redis:"x"`
	Y           float64    `json:"y" msgpack:"y" redis:"y"`
	VX          float64    `json:"vx" msgpack:"vx" redis:"vx"`
	VY          float64    `json:"vy" msgpack:"vy" redis:"vy"`
	Connected   bool       `json:"connected" msgpack:"connected" redis:"connected"`
	Status      Status     `json:"status" msgpack:"status" redis:"status"`
	Cart        []CartItem `json:"cart" msgpack:"cart" redis:"-"`
	LastUpdated int64      `json:"lastUpdated" msgpack:"lastUpdated" redis:"lastUpdated"` // unix ms
}

// Clone returns a deep copy so callers never share the cart slice with the manager.
func (p Player) Clone() Player {
	if p.Cart != nil {
		cart := make([]CartItem, len(p.Cart))
		copy(cart, p.Cart)
		p.Cart = cart
	}
	return p
}

type Room struct {
	ID          string    `json:"id" msgpack:"id"`
	Name        string    `json:"name" msgpack:"name"`
	CreatedAt   time.Time `json:"createdAt" msgpack:"createdAt"`
	Active      bool      `json:"active" msgpack:"active"`
	PlayerCount int       `json:"playerCount" msgpack:"playerCount"`
}

// Update is a position write. At is the writer's timestamp in unix ms; zero lets the manager assign one.
type Update struct {
	X, Y, VX, VY float64
	At           int64
}

// Palette is the fixed set of marble colours.
var Palette = []string{
	"#2196F3", // blue
	"#F44336", // red
	"#4CAF50", // green
	"#FF9800", // orange
	"#9C27B0", // purple
	"#00BCD4", // cyan
	"#FFEB3B", // yellow
	"#795548", // brown
}

// PickColor returns the first palette colour not in use, or a colour derived from id when all are taken.
func PickColor(id string, inUse map[string]bool) string {
	for _, c := range Palette {
		if !inUse[c] {
			return c
		}
	}
	var h uint32 = 2166136261
	for i := 0; i < len(id); i++ {
		h ^= uint32(id[i])
		h *= 16777619
	}
	return Palette[h%uint32(len(Palette))]
}

// DefaultName is used when a player joins without one.
func DefaultName(id string) string {
	return utils.Label("Player", id)
}
