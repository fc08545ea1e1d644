// Package roster owns the per-room mapping of player id to marble state. Every roster
// write goes through Manager; everything else reads snapshots.
package roster

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sakshamg567/tiltmarble/internal/fanout"
	"github.com/sakshamg567/tiltmarble/internal/physics"
	"github.com/sakshamg567/tiltmarble/logger"
	"github.com/sakshamg567/tiltmarble/pkg/utils"
)

type Config struct {
	Bounds      physics.Bounds
	Radius      float64
	IdleTimeout time.Duration // connected players silent this long are marked disconnected
	PurgeAfter  time.Duration // disconnected entries older than this are removed
}

func DefaultConfig() Config {
	return Config{
		Bounds:      physics.CenteredBounds(800, 500),
		Radius:      physics.MarbleRadius,
		IdleTimeout: 45 * time.Second,
		PurgeAfter:  2 * time.Minute,
	}
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithLogger(l logger.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// Snapshot is a full roster transfer for one room.
type Snapshot struct {
	Room    Room
	Players []Player
}

type roomState struct {
	mu      sync.Mutex
	info    Room
	players map[string]*Player
	version uint64
	feed    *fanout.Fanout[Snapshot]
}

type Manager struct {
	cfg Config
	now func() time.Time
	log logger.Logger

	mu     sync.RWMutex
	rooms  map[string]*roomState
	active map[string]string // player id -> room id while connected
}

func NewManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg,
		now:    time.Now,
		log:    logger.Default(),
		rooms:  make(map[string]*roomState),
		active: make(map[string]string),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) Config() Config { return m.cfg }

func (m *Manager) nowMillis() int64 { return m.now().UnixMilli() }

// CreateRoom makes a room with a fresh short id.
func (m *Manager) CreateRoom(name string) Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		id := utils.GenShortID()
		if id == "" {
			id = uuid.NewString()
		}
		if _, exists := m.rooms[id]; exists {
			continue
		}
		return m.newRoomLocked(id, name).info
	}
}

// EnsureRoom returns the room with id, creating it on first use.
func (m *Manager) EnsureRoom(id string) Room {
	return m.room(id, true).snapshotInfo()
}

func (m *Manager) newRoomLocked(id, name string) *roomState {
	if name == "" {
		name = utils.Label("Game", id)
	}
	rs := &roomState{
		info:    Room{ID: id, Name: name, CreatedAt: m.now(), Active: true},
		players: make(map[string]*Player),
		feed:    fanout.New[Snapshot](),
	}
	m.rooms[id] = rs
	return rs
}

func (m *Manager) room(id string, create bool) *roomState {
	m.mu.RLock()
	rs, ok := m.rooms[id]
	m.mu.RUnlock()
	if ok || !create {
		return rs
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if rs, ok := m.rooms[id]; ok {
		return rs
	}
	return m.newRoomLocked(id, "")
}

func (rs *roomState) snapshotInfo() Room {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.info
}

// Room returns room metadata.
func (m *Manager) Room(id string) (Room, error) {
	rs := m.room(id, false)
	if rs == nil {
		return Room{}, fmt.Errorf("%w: %s", ErrRoomNotFound, id)
	}
	return rs.snapshotInfo(), nil
}

// Rooms lists active rooms, newest first.
func (m *Manager) Rooms() []Room {
	m.mu.RLock()
	list := make([]*roomState, 0, len(m.rooms))
	for _, rs := range m.rooms {
		list = append(list, rs)
	}
	m.mu.RUnlock()

	out := make([]Room, 0, len(list))
	for _, rs := range list {
		info := rs.snapshotInfo()
		if info.Active {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Join creates or revives the player's entry in roomID. Joining again while already active in
// the same room returns the existing entry unchanged.
func (m *Manager) Join(roomID, id, name string) (Player, error) {
	if roomID == "" || id == "" {
		return Player{}, fmt.Errorf("%w: empty room or player id", ErrNotFound)
	}

	m.mu.RLock()
	other, busy := m.active[id]
	m.mu.RUnlock()
	if busy && other != roomID {
		return Player{}, fmt.Errorf("%w: %s is in %s", ErrAlreadyActive, id, other)
	}
	rs := m.room(roomID, true)

	rs.mu.Lock()
	p, exists := rs.players[id]
	if exists && p.Connected {
		out := p.Clone()
		rs.mu.Unlock()
		return out, nil
	}
	// claim and revive share the room lock with every release for this room
	if other, ok := m.claim(id, roomID); !ok {
		rs.mu.Unlock()
		return Player{}, fmt.Errorf("%w: %s is in %s", ErrAlreadyActive, id, other)
	}
	if !exists {
		p = &Player{ID: id, RoomID: roomID, Cart: []CartItem{}}
		p.X, p.Y = m.cfg.Bounds.Clamp(0, 0, m.cfg.Radius)
		rs.players[id] = p
	}
	p.Status = StatusJoining
	if name != "" {
		p.Name = name
	} else if p.Name == "" {
		p.Name = DefaultName(id)
	}
	if p.Color == "" {
		p.Color = PickColor(id, rs.colorsInUse())
	}
	p.Connected = true
	p.Status = StatusActive
	p.LastUpdated = max(m.nowMillis(), p.LastUpdated+1)
	rs.info.PlayerCount++
	out := p.Clone()
	snap := rs.bumpLocked()
	rs.mu.Unlock()

	m.log.Infof("player %s joined room %s (%s)", id, roomID, out.Color)
	rs.feed.Publish(snap.version, snap.Snapshot)
	return out, nil
}

func (rs *roomState) colorsInUse() map[string]bool {
	used := make(map[string]bool, len(rs.players))
	for _, p := range rs.players {
		if p.Connected {
			used[p.Color] = true
		}
	}
	return used
}

// Leave removes the player from roomID. Unknown players are ignored.
func (m *Manager) Leave(roomID, id string) error {
	rs := m.room(roomID, false)
	if rs == nil {
		return nil
	}
	rs.mu.Lock()
	p, ok := rs.players[id]
	if !ok {
		rs.mu.Unlock()
		return nil
	}
	if p.Connected {
		rs.info.PlayerCount = max(0, rs.info.PlayerCount-1)
	}
	p.Connected = false
	p.Status = StatusLeft
	delete(rs.players, id)
	m.releaseLocked(id, roomID)
	snap := rs.bumpLocked()
	rs.mu.Unlock()

	m.log.Infof("player %s left room %s", id, roomID)
	rs.feed.Publish(snap.version, snap.Snapshot)
	return nil
}

// Disconnect marks the player as gone without removing the entry; the reaper purges it later.
func (m *Manager) Disconnect(roomID, id string) error {
	rs := m.room(roomID, false)
	if rs == nil {
		return nil
	}
	rs.mu.Lock()
	p, ok := rs.players[id]
	if !ok || !p.Connected {
		rs.mu.Unlock()
		return nil
	}
	m.markDisconnectedLocked(rs, p)
	m.releaseLocked(id, roomID)
	snap := rs.bumpLocked()
	rs.mu.Unlock()

	m.log.Infof("player %s disconnected from room %s", id, roomID)
	rs.feed.Publish(snap.version, snap.Snapshot)
	return nil
}

func (m *Manager) markDisconnectedLocked(rs *roomState, p *Player) {
	p.Connected = false
	p.Status = StatusDisconnected
	p.LastUpdated = max(m.nowMillis(), p.LastUpdated+1)
	rs.info.PlayerCount = max(0, rs.info.PlayerCount-1)
}

// claim records id as active in roomID unless it is active elsewhere. Callers hold the room lock;
// lock order is room lock, then m.mu.
func (m *Manager) claim(id, roomID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if other, ok := m.active[id]; ok && other != roomID {
		return other, false
	}
	m.active[id] = roomID
	return roomID, true
}

// releaseLocked drops the active record for id in roomID. Callers hold the room lock and have
// just disconnected or removed the entry.
func (m *Manager) releaseLocked(id, roomID string) {
	m.mu.Lock()
	if m.active[id] == roomID {
		delete(m.active, id)
	}
	m.mu.Unlock()
}

// UpdatePosition merges a position write. Writes older than the stored state return ErrStaleWrite
// and change nothing.
func (m *Manager) UpdatePosition(roomID, id string, u Update) (Player, error) {
	rs := m.room(roomID, false)
	if rs == nil {
		return Player{}, fmt.Errorf("%w: room %s", ErrNotFound, roomID)
	}
	rs.mu.Lock()
	p, ok := rs.players[id]
	if !ok || !p.Connected {
		rs.mu.Unlock()
		return Player{}, fmt.Errorf("%w: %s in %s", ErrNotFound, id, roomID)
	}
	at := u.At
	if at == 0 {
		at = max(m.nowMillis(), p.LastUpdated+1)
	}
	if at < p.LastUpdated {
		stored := p.Clone()
		rs.mu.Unlock()
		m.log.Debugf("stale write for %s in %s: %d < %d", id, roomID, at, stored.LastUpdated)
		return stored, ErrStaleWrite
	}
	p.X, p.Y = m.cfg.Bounds.Clamp(u.X, u.Y, m.cfg.Radius)
	p.VX, p.VY = u.VX, u.VY
	p.LastUpdated = at
	out := p.Clone()
	snap := rs.bumpLocked()
	rs.mu.Unlock()

	rs.feed.Publish(snap.version, snap.Snapshot)
	return out, nil
}

// AddCartItem appends item to the player's cart under the room lock, so concurrent additions never lose writes.
func (m *Manager) AddCartItem(roomID, id string, item CartItem) (Player, error) {
	rs := m.room(roomID, false)
	if rs == nil {
		return Player{}, fmt.Errorf("%w: room %s", ErrNotFound, roomID)
	}
	if item.ItemID == "" {
		item.ItemID = uuid.NewString()
	}
	if item.Quantity <= 0 {
		item.Quantity = 1
	}

	rs.mu.Lock()
	p, ok := rs.players[id]
	if !ok || !p.Connected {
		rs.mu.Unlock()
		return Player{}, fmt.Errorf("%w: %s in %s", ErrNotFound, id, roomID)
	}
	p.Cart = append(p.Cart, item)
	p.LastUpdated = max(m.nowMillis(), p.LastUpdated+1)
	out := p.Clone()
	snap := rs.bumpLocked()
	rs.mu.Unlock()

	m.log.Infof("player %s added %s to cart in %s", id, item.Name, roomID)
	rs.feed.Publish(snap.version, snap.Snapshot)
	return out, nil
}

// Snapshot returns the room and its players sorted by id. PlayerCount is recomputed from the
// connected entries so any drift heals here.
func (m *Manager) Snapshot(roomID string) (Snapshot, error) {
	rs := m.room(roomID, false)
	if rs == nil {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.snapshotLocked(), nil
}

func (rs *roomState) snapshotLocked() Snapshot {
	players := make([]Player, 0, len(rs.players))
	connected := 0
	for _, p := range rs.players {
		if p.Connected {
			connected++
		}
		players = append(players, p.Clone())
	}
	sort.Slice(players, func(i, j int) bool { return players[i].ID < players[j].ID })
	rs.info.PlayerCount = connected
	return Snapshot{Room: rs.info, Players: players}
}

type versioned struct {
	Snapshot
	version uint64
}

func (rs *roomState) bumpLocked() versioned {
	rs.version++
	return versioned{Snapshot: rs.snapshotLocked(), version: rs.version}
}

// Subscribe delivers the room's full roster now and after every change. The returned func stops
// delivery synchronously and may be called more than once.
func (m *Manager) Subscribe(roomID string, fn func(Snapshot)) (cancel func()) {
	rs := m.room(roomID, true)
	return rs.feed.Subscribe(fn, func() (uint64, Snapshot) {
		rs.mu.Lock()
		defer rs.mu.Unlock()
		return rs.version, rs.snapshotLocked()
	})
}

// Reaped is one player expired by Reap.
type Reaped struct {
	RoomID string
	Player Player
	Purged bool
}

// Reap marks idle connected players as disconnected and drops disconnected entries past PurgeAfter.
func (m *Manager) Reap() []Reaped {
	now := m.nowMillis()
	m.mu.RLock()
	rooms := make([]*roomState, 0, len(m.rooms))
	for _, rs := range m.rooms {
		rooms = append(rooms, rs)
	}
	m.mu.RUnlock()

	var out []Reaped
	for _, rs := range rooms {
		rs.mu.Lock()
		var changed []Reaped
		for id, p := range rs.players {
			idle := time.Duration(now-p.LastUpdated) * time.Millisecond
			switch {
			case p.Connected && m.cfg.IdleTimeout > 0 && idle > m.cfg.IdleTimeout:
				m.markDisconnectedLocked(rs, p)
				m.releaseLocked(id, rs.info.ID)
				changed = append(changed, Reaped{RoomID: rs.info.ID, Player: p.Clone()})
			case !p.Connected && m.cfg.PurgeAfter > 0 && idle > m.cfg.PurgeAfter:
				delete(rs.players, id)
				changed = append(changed, Reaped{RoomID: rs.info.ID, Player: p.Clone(), Purged: true})
			}
		}
		if len(changed) == 0 {
			rs.mu.Unlock()
			continue
		}
		snap := rs.bumpLocked()
		rs.mu.Unlock()

		for _, r := range changed {
			if !r.Purged {
				m.log.Infof("reaped idle player %s in room %s", r.Player.ID, r.RoomID)
			}
		}
		rs.feed.Publish(snap.version, snap.Snapshot)
		out = append(out, changed...)
	}
	return out
}
