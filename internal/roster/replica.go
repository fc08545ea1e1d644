package roster

import (
	"sort"
	"sync"
)

// Replica is a client-side mirror of a room roster. Single-entry merges are per player and keyed
// by LastUpdated, so applying the same set of entries in any order converges. Full rosters arrive
// in version order from the transport and replace membership outright.
type Replica struct {
	mu      sync.RWMutex
	self    string
	players map[string]Player
}

// NewReplica mirrors a roster. Entries for self are never taken from the network.
func NewReplica(self string) *Replica {
	return &Replica{self: self, players: make(map[string]Player)}
}

// ApplyOne merges p and reports whether the stored entry changed.
func (r *Replica) ApplyOne(p Player) bool {
	if p.ID == "" || p.ID == r.self {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applyLocked(p)
}

func (r *Replica) applyLocked(p Player) bool {
	cur, ok := r.players[p.ID]
	if ok && p.LastUpdated < cur.LastUpdated {
		return false
	}
	r.players[p.ID] = p.Clone()
	return true
}

// Apply merges a full roster. The roster decides membership: entries missing from players are
// dropped whatever their timestamps. Entries present merge by LastUpdated.
func (r *Replica) Apply(players []Player) (changed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(players))
	for _, p := range players {
		if p.ID == "" || p.ID == r.self {
			continue
		}
		seen[p.ID] = true
		if r.applyLocked(p) {
			changed = true
		}
	}
	for id := range r.players {
		if !seen[id] {
			delete(r.players, id)
			changed = true
		}
	}
	return changed
}

func (r *Replica) Remove(id string) {
	r.mu.Lock()
	delete(r.players, id)
	r.mu.Unlock()
}

func (r *Replica) Get(id string) (Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.players[id]
	return p.Clone(), ok
}

// Players returns copies sorted by id.
func (r *Replica) Players() []Player {
	r.mu.RLock()
	out := make([]Player, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
