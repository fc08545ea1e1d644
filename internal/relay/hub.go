package relay

import (
	"errors"
	"time"

	"github.com/sakshamg567/tiltmarble/internal/protocol"
	"github.com/sakshamg567/tiltmarble/internal/roster"
	"github.com/sakshamg567/tiltmarble/logger"
)

// Peer is one connected socket. Send must not block; it reports false when the frame was dropped.
type Peer interface {
	Send(m protocol.Message) bool
}

type inbound struct {
	peer Peer
	msg  protocol.Message
}

// Hub serialises everything that happens in one room. All roster writes for the room's sockets
// go through its Run loop.
type Hub struct {
	ID  string
	mgr *roster.Manager
	log logger.Logger

	Register   chan Peer
	Unregister chan Peer
	Inbound    chan inbound
	reaped     chan roster.Reaped
	done       chan struct{}

	resync time.Duration
	peers  map[Peer]string // peer -> joined player id, "" until join
}

func newHub(id string, mgr *roster.Manager, resync time.Duration, l logger.Logger) *Hub {
	return &Hub{
		ID:         id,
		mgr:        mgr,
		log:        logger.Prefix(l, "[hub "+id+"] "),
		Register:   make(chan Peer),
		Unregister: make(chan Peer),
		Inbound:    make(chan inbound, 256),
		reaped:     make(chan roster.Reaped, 64),
		done:       make(chan struct{}),
		resync:     resync,
		peers:      make(map[Peer]string),
	}
}

// Done is closed once the hub has stopped. A hub stops when its last peer leaves.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Handle queues a frame from p. It reports false if the hub is gone.
func (h *Hub) Handle(p Peer, m protocol.Message) bool {
	select {
	case h.Inbound <- inbound{peer: p, msg: m}:
		return true
	case <-h.done:
		return false
	}
}

// Leave unregisters p unless the hub already stopped.
func (h *Hub) Leave(p Peer) {
	select {
	case h.Unregister <- p:
	case <-h.done:
	}
}

func (h *Hub) Run(onEmpty func(*Hub)) {
	defer close(h.done)

	var tick <-chan time.Time
	if h.resync > 0 {
		t := time.NewTicker(h.resync)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case p := <-h.Register:
			h.peers[p] = ""
			h.sendSnapshot(p)
			h.log.Debugf("peer registered (%d peers)", len(h.peers))

		case p := <-h.Unregister:
			pid, ok := h.peers[p]
			if !ok {
				continue
			}
			delete(h.peers, p)
			if pid != "" && !h.joinedElsewhere(pid) {
				if err := h.mgr.Disconnect(h.ID, pid); err != nil {
					h.log.Errorf("disconnect %s: %v", pid, err)
				}
				h.broadcast(nil, protocol.Leave(h.ID, pid))
			}
			if len(h.peers) == 0 {
				// drain frames queued by peers that are already gone
				for len(h.Inbound) > 0 {
					<-h.Inbound
				}
				if onEmpty != nil {
					onEmpty(h)
				}
				h.log.Infof("empty, stopping")
				return
			}

		case in := <-h.Inbound:
			if _, ok := h.peers[in.peer]; !ok {
				continue
			}
			h.handle(in.peer, in.msg)

		case r := <-h.reaped:
			if r.Purged {
				continue
			}
			h.broadcast(nil, protocol.Leave(h.ID, r.Player.ID))

		case <-tick:
			snap, err := h.mgr.Snapshot(h.ID)
			if err != nil {
				continue
			}
			h.broadcast(nil, protocol.Snapshot(h.ID, snap.Players))
		}
	}
}

func (h *Hub) joinedElsewhere(pid string) bool {
	for _, other := range h.peers {
		if other == pid {
			return true
		}
	}
	return false
}

func (h *Hub) handle(p Peer, m protocol.Message) {
	if err := m.Validate(); err != nil {
		p.Send(protocol.Errorf("%v", err))
		return
	}
	joined := h.peers[p]

	switch m.Type {
	case protocol.MsgJoin:
		if m.PlayerID == "" {
			p.Send(protocol.Errorf("join without playerId"))
			return
		}
		player, err := h.mgr.Join(h.ID, m.PlayerID, m.Name)
		if err != nil {
			p.Send(protocol.Errorf("join: %v", err))
			return
		}
		h.peers[p] = player.ID
		h.sendSnapshot(p)
		h.broadcast(p, protocol.Marble(protocol.MsgJoin, player))

	case protocol.MsgLeave:
		if joined == "" {
			return
		}
		_ = h.mgr.Leave(h.ID, joined)
		h.peers[p] = ""
		h.broadcast(nil, protocol.Leave(h.ID, joined))

	case protocol.MsgUpdate:
		if joined == "" {
			p.Send(protocol.Errorf("update before join"))
			return
		}
		player, err := h.mgr.UpdatePosition(h.ID, joined, m.PositionUpdate())
		if errors.Is(err, roster.ErrNotFound) {
			// reaped while idle; the socket is still alive so bring the player back
			if player, err = h.rejoin(p, joined, m); err != nil {
				return
			}
		}
		if errors.Is(err, roster.ErrStaleWrite) {
			return
		}
		if err != nil {
			p.Send(protocol.Errorf("update: %v", err))
			return
		}
		h.broadcast(p, protocol.Marble(protocol.MsgUpdate, player))

	case protocol.MsgCart:
		if joined == "" {
			p.Send(protocol.Errorf("cart before join"))
			return
		}
		player, err := h.mgr.AddCartItem(h.ID, joined, *m.Item)
		if err != nil {
			p.Send(protocol.Errorf("cart: %v", err))
			return
		}
		h.broadcast(nil, protocol.Marble(protocol.MsgCart, player))

	case protocol.MsgSync:
		h.sendSnapshot(p)

	default:
		p.Send(protocol.Errorf("unexpected %q from client", m.Type))
	}
}

func (h *Hub) rejoin(p Peer, pid string, m protocol.Message) (roster.Player, error) {
	player, err := h.mgr.Join(h.ID, pid, "")
	if err != nil {
		p.Send(protocol.Errorf("rejoin: %v", err))
		return roster.Player{}, err
	}
	h.log.Infof("rejoined idle player %s", pid)
	h.broadcast(p, protocol.Marble(protocol.MsgJoin, player))
	return h.mgr.UpdatePosition(h.ID, pid, m.PositionUpdate())
}

func (h *Hub) sendSnapshot(p Peer) {
	snap, err := h.mgr.Snapshot(h.ID)
	if err != nil {
		p.Send(protocol.Snapshot(h.ID, nil))
		return
	}
	if !p.Send(protocol.Snapshot(h.ID, snap.Players)) {
		h.log.Errorf("snapshot dropped, send buffer full")
	}
}

// broadcast sends m to every peer except skip.
func (h *Hub) broadcast(skip Peer, m protocol.Message) {
	for p := range h.peers {
		if p == skip {
			continue
		}
		if !p.Send(m) {
			h.log.Debugf("dropped %s for slow peer", m.Type)
		}
	}
}
