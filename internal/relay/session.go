package relay

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/sakshamg567/tiltmarble/internal/protocol"
	"github.com/sakshamg567/tiltmarble/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 1 << 16
)

// Session is one websocket peer. The player id comes from the URL and overrides whatever the
// client puts in its frames.
type Session struct {
	RoomID   string
	PlayerID string
	Name     string

	conn   *websocket.Conn
	codec  protocol.Codec
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	log    logger.Logger
}

func NewSession(roomID, playerID, name string, c *websocket.Conn, codec protocol.Codec, buf int, l logger.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		RoomID:   roomID,
		PlayerID: playerID,
		Name:     name,
		conn:     c,
		codec:    codec,
		send:     make(chan []byte, buf),
		ctx:      ctx,
		cancel:   cancel,
		log:      logger.Prefix(l, "[session "+playerID+"] "),
	}
}

func (s *Session) Send(m protocol.Message) bool {
	b, err := s.codec.Encode(m)
	if err != nil {
		s.log.Errorf("encode %s: %v", m.Type, err)
		return false
	}
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	select {
	case s.send <- b:
		return true
	default:
		return false
	}
}

func (s *Session) cleanup() {
	s.once.Do(func() {
		s.cancel()
		s.conn.Close()
	})
}

// Serve attaches the session to its room and pumps until the socket closes.
func (s *Server) Serve(sess *Session) {
	h := s.Attach(sess.RoomID, sess)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		sess.ReadPump(h)
	}()
	sess.WritePump()
	// the conn is recycled once the handler returns
	<-readDone
}

func (s *Session) ReadPump(h *Hub) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("readPump panic: %v", r)
		}
		s.cleanup()
		h.Leave(s)
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, b, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Errorf("read: %v", err)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		m, err := s.codec.Decode(b)
		if err != nil {
			s.log.Debugf("invalid frame: %v", err)
			s.Send(protocol.Errorf("invalid frame: %v", err))
			continue
		}
		m.RoomID = s.RoomID
		m.PlayerID = s.PlayerID
		if m.Type == protocol.MsgJoin && m.Name == "" {
			m.Name = s.Name
		}
		if !h.Handle(s, m) {
			return
		}
	}
}

func (s *Session) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.cleanup()
	}()

	typ := websocket.TextMessage
	if s.codec.Binary() {
		typ = websocket.BinaryMessage
	}

	for {
		select {
		case <-s.ctx.Done():
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(typ, msg); err != nil {
				s.log.Errorf("write: %v", err)
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.log.Errorf("ping: %v", err)
				return
			}
		}
	}
}
