// Package client is the per-player sync client: it owns the locally predicted marble, throttles
// what it publishes, and mirrors everyone else from transport snapshots.
package client

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/sakshamg567/tiltmarble/internal/physics"
	"github.com/sakshamg567/tiltmarble/internal/protocol"
	"github.com/sakshamg567/tiltmarble/internal/roster"
	"github.com/sakshamg567/tiltmarble/internal/shop"
	"github.com/sakshamg567/tiltmarble/internal/transport"
	"github.com/sakshamg567/tiltmarble/logger"
)

type Config struct {
	RoomID   string
	PlayerID string
	Name     string
	// A position is published only when MinInterval has passed and it moved more than MinDistance.
	MinInterval time.Duration
	MinDistance float64
	Clock       func() time.Time
	Logger      logger.Logger
}

func DefaultConfig() Config {
	return Config{
		MinInterval: 100 * time.Millisecond,
		MinDistance: 1,
		Clock:       time.Now,
		Logger:      logger.Default(),
	}
}

type Client struct {
	cfg Config
	tr  transport.Transport
	log logger.Logger

	remotes *roster.Replica

	mu        sync.Mutex
	local     physics.State
	self      roster.Player
	seeded    bool
	ready     bool
	published bool
	lastAt    time.Time
	lastX     float64
	lastY     float64
	lastStamp int64
	unsub     func()
}

func New(cfg Config, tr transport.Transport) *Client {
	def := DefaultConfig()
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = def.MinInterval
	}
	if cfg.MinDistance <= 0 {
		cfg.MinDistance = def.MinDistance
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	return &Client{
		cfg:     cfg,
		tr:      tr,
		log:     cfg.Logger,
		remotes: roster.NewReplica(cfg.PlayerID),
		self:    roster.Player{ID: cfg.PlayerID, RoomID: cfg.RoomID, Name: cfg.Name, Connected: true, Status: roster.StatusJoining},
	}
}

// Start subscribes to the room and announces the player. Delivery stops when ctx is done or Stop is called.
func (c *Client) Start(ctx context.Context) error {
	if n, ok := c.tr.(transport.StatusNotifier); ok {
		n.OnStatus(c.OnStatus)
	}
	unsub, err := c.tr.Subscribe(c.cfg.RoomID, c.OnRemoteSnapshot)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.unsub = unsub
	c.mu.Unlock()

	if err := c.tr.Publish(c.cfg.RoomID, protocol.Join(c.cfg.RoomID, c.cfg.PlayerID, c.cfg.Name)); err != nil {
		c.log.Errorf("client %s: join: %v", c.cfg.PlayerID, err)
	}
	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	return nil
}

// Stop unsubscribes and announces the leave. Safe to call more than once.
func (c *Client) Stop() {
	c.mu.Lock()
	unsub := c.unsub
	c.unsub = nil
	c.ready = false
	c.mu.Unlock()
	if unsub == nil {
		return
	}
	unsub()
	if err := c.tr.Publish(c.cfg.RoomID, protocol.Leave(c.cfg.RoomID, c.cfg.PlayerID)); err != nil {
		c.log.Debugf("client %s: leave: %v", c.cfg.PlayerID, err)
	}
}

// OnLocalTick records the predicted state and publishes it if the throttle allows. It never blocks
// on the network and reports whether a publish was queued.
func (c *Client) OnLocalTick(s physics.State) bool {
	c.mu.Lock()
	c.local = s
	c.seeded = true
	now := c.cfg.Clock()
	if c.published {
		if now.Sub(c.lastAt) < c.cfg.MinInterval {
			c.mu.Unlock()
			return false
		}
		if math.Hypot(s.X-c.lastX, s.Y-c.lastY) <= c.cfg.MinDistance {
			c.mu.Unlock()
			return false
		}
	}
	u := roster.Update{X: s.X, Y: s.Y, VX: s.VX, VY: s.VY}
	if c.published {
		u.VX, u.VY = s.X-c.lastX, s.Y-c.lastY
	}
	u.At = max(now.UnixMilli(), c.lastStamp+1)
	c.mu.Unlock()

	if err := c.tr.Publish(c.cfg.RoomID, protocol.Update(c.cfg.RoomID, c.cfg.PlayerID, u)); err != nil {
		if errors.Is(err, transport.ErrDisconnected) || errors.Is(err, transport.ErrBackpressure) {
			c.log.Debugf("client %s: publish deferred: %v", c.cfg.PlayerID, err)
		} else {
			c.log.Errorf("client %s: publish: %v", c.cfg.PlayerID, err)
		}
		return false
	}

	c.mu.Lock()
	c.published = true
	c.lastAt = now
	c.lastX, c.lastY = s.X, s.Y
	c.lastStamp = u.At
	c.self.X, c.self.Y, c.self.VX, c.self.VY = s.X, s.Y, u.VX, u.VY
	c.self.LastUpdated = u.At
	c.mu.Unlock()
	return true
}

// OnRemoteSnapshot merges a full roster. The local player's own entry only contributes fields the
// server owns, such as colour; its position stays local.
func (c *Client) OnRemoteSnapshot(players []roster.Player) {
	for _, p := range players {
		if p.ID != c.cfg.PlayerID {
			continue
		}
		c.mu.Lock()
		c.self.Color, c.self.Name, c.self.Cart, c.self.Status = p.Color, p.Name, p.Cart, p.Status
		if !c.seeded {
			c.local = physics.State{X: p.X, Y: p.Y}
			c.self.X, c.self.Y = p.X, p.Y
			c.seeded = true
		}
		c.mu.Unlock()
	}
	c.remotes.Apply(players)

	c.mu.Lock()
	c.ready = true
	c.mu.Unlock()
}

// OnStatus drops readiness on disconnect; it comes back with the next full snapshot.
func (c *Client) OnStatus(s transport.Status) {
	c.mu.Lock()
	if s != transport.StatusConnected {
		c.ready = false
	}
	c.mu.Unlock()
	if s == transport.StatusConnected {
		if err := c.tr.Publish(c.cfg.RoomID, protocol.Message{Type: protocol.MsgSync, RoomID: c.cfg.RoomID, PlayerID: c.cfg.PlayerID}); err != nil {
			c.log.Debugf("client %s: sync request: %v", c.cfg.PlayerID, err)
		}
	}
}

// AddToCart publishes a store pickup.
func (c *Client) AddToCart(item shop.Item) error {
	return c.tr.Publish(c.cfg.RoomID, protocol.Cart(c.cfg.RoomID, c.cfg.PlayerID, roster.CartItem{
		ItemID:   item.ID,
		Name:     item.Name,
		Price:    item.Price,
		Quantity: 1,
	}))
}

// Ready is false until a full roster has arrived since the last (re)connect. Nothing should be
// rendered before.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *Client) Local() physics.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

// Remotes returns the other connected players.
func (c *Client) Remotes() []roster.Player {
	all := c.remotes.Players()
	out := all[:0]
	for _, p := range all {
		if p.Connected {
			out = append(out, p)
		}
	}
	return out
}

// Roster returns every known entry, with self built from local prediction.
func (c *Client) Roster() []roster.Player {
	c.mu.Lock()
	self := c.self.Clone()
	self.X, self.Y = c.local.X, c.local.Y
	c.mu.Unlock()

	out := append(c.remotes.Players(), self)
	for i := len(out) - 1; i > 0 && out[i].ID < out[i-1].ID; i-- {
		out[i], out[i-1] = out[i-1], out[i]
	}
	return out
}
