package relay

import (
	"sync"

	socketio "github.com/googollee/go-socket.io"

	"github.com/sakshamg567/tiltmarble/internal/protocol"
	"github.com/sakshamg567/tiltmarble/logger"
)

// sioPeer adapts a Socket.IO connection to the hub. Frames go out as "message" events.
type sioPeer struct {
	conn socketio.Conn

	mu     sync.Mutex
	hub    *Hub
	roomID string
	player string
}

func (p *sioPeer) Send(m protocol.Message) bool {
	p.conn.Emit("message", m)
	return true
}

func (p *sioPeer) state() (*Hub, string, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hub, p.roomID, p.player
}

// SocketIO serves the Socket.IO dialect: joinRoom(roomId) attaches the socket to a room, then
// join/update/cart/sync/leave carry protocol messages.
type SocketIO struct {
	*socketio.Server
	srv *Server
	log logger.Logger

	mu    sync.Mutex
	peers map[string]*sioPeer
}

func NewSocketIO(srv *Server, l logger.Logger) *SocketIO {
	if l == nil {
		l = logger.Default()
	}
	s := &SocketIO{
		Server: socketio.NewServer(nil),
		srv:    srv,
		log:    logger.Prefix(l, "[socket.io] "),
		peers:  make(map[string]*sioPeer),
	}

	s.OnConnect("/", s.connect)
	s.OnEvent("/", "joinRoom", s.joinRoom)
	s.OnEvent("/", "leaveRoom", s.leaveRoom)
	for _, typ := range []string{protocol.MsgJoin, protocol.MsgLeave, protocol.MsgUpdate, protocol.MsgCart, protocol.MsgSync} {
		typ := typ // per-iteration copy (go1.22 loopvar semantics)
		s.OnEvent("/", typ, func(c socketio.Conn, m protocol.Message) {
			s.forward(c, typ, m)
		})
	}
	s.OnError("/", func(c socketio.Conn, err error) {
		s.log.Errorf("socket error: %v", err)
	})
	s.OnDisconnect("/", s.disconnect)

	return s
}

func (s *SocketIO) connect(c socketio.Conn) error {
	s.mu.Lock()
	s.peers[c.ID()] = &sioPeer{conn: c}
	s.mu.Unlock()
	s.log.Infof("client connected: %s", c.ID())
	return nil
}

// joinRoom moves the socket to roomID, leaving any room it was in.
func (s *SocketIO) joinRoom(c socketio.Conn, roomID string) {
	p := s.peer(c)
	if p == nil || roomID == "" {
		return
	}
	s.detach(p)
	h := s.srv.Attach(roomID, p)
	p.mu.Lock()
	p.hub, p.roomID = h, roomID
	p.mu.Unlock()
	c.Join(roomID)
	s.log.Infof("client %s joined room %s", c.ID(), roomID)
}

func (s *SocketIO) leaveRoom(c socketio.Conn, roomID string) {
	p := s.peer(c)
	if p == nil {
		return
	}
	s.detach(p)
	c.Leave(roomID)
	s.log.Infof("client %s left room %s", c.ID(), roomID)
}

func (s *SocketIO) disconnect(c socketio.Conn, reason string) {
	s.mu.Lock()
	p := s.peers[c.ID()]
	delete(s.peers, c.ID())
	s.mu.Unlock()
	if p != nil {
		s.detach(p)
	}
	s.log.Infof("client disconnected: %s (%s)", c.ID(), reason)
}

func (s *SocketIO) peer(c socketio.Conn) *sioPeer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peers[c.ID()]
}

// detach unregisters p from its current room, which disconnects its player there.
func (s *SocketIO) detach(p *sioPeer) {
	p.mu.Lock()
	h := p.hub
	p.hub, p.roomID, p.player = nil, "", ""
	p.mu.Unlock()
	if h != nil {
		h.Leave(p)
	}
}

func (s *SocketIO) forward(c socketio.Conn, typ string, m protocol.Message) {
	p := s.peer(c)
	if p == nil {
		return
	}
	h, roomID, player := p.state()
	if h == nil {
		c.Emit("message", protocol.Errorf("%s before joinRoom", typ))
		return
	}
	m.Type = typ
	m.RoomID = roomID
	switch {
	case typ == protocol.MsgJoin:
		p.mu.Lock()
		p.player = m.PlayerID
		p.mu.Unlock()
	case player != "":
		m.PlayerID = player
	}
	if !h.Handle(p, m) {
		s.detach(p)
	}
}
