// Package relay is the socket-relay backend of the transport contract: one websocket per room,
// rosters rebuilt locally from snapshot and delta frames.
package relay

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/sakshamg567/tiltmarble/internal/fanout"
	"github.com/sakshamg567/tiltmarble/internal/protocol"
	"github.com/sakshamg567/tiltmarble/internal/roster"
	"github.com/sakshamg567/tiltmarble/internal/transport"
	"github.com/sakshamg567/tiltmarble/logger"
)

const (
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
)

type Config struct {
	URL       string // base url, e.g. ws://localhost:3000
	PlayerID  string
	Name      string
	Codec     protocol.Codec
	QueueSize int
	Dialer    *websocket.Dialer
	// NewBackOff builds the redial schedule for each room connection.
	NewBackOff func() backoff.BackOff
	Logger     logger.Logger
}

func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	return b
}

type Client struct {
	cfg Config
	log logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	rooms    map[string]*roomConn
	statusFn []func(transport.Status)
	closed   bool
}

var _ transport.Transport = (*Client)(nil)

func New(cfg Config) *Client {
	if cfg.Codec == nil {
		cfg.Codec = protocol.JSON
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.NewBackOff == nil {
		cfg.NewBackOff = DefaultBackOff
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:    cfg,
		log:    cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
		rooms:  make(map[string]*roomConn),
	}
}

// OnStatus registers fn for connection state changes of any room.
func (c *Client) OnStatus(fn func(transport.Status)) {
	c.mu.Lock()
	c.statusFn = append(c.statusFn, fn)
	c.mu.Unlock()
}

func (c *Client) notify(s transport.Status) {
	c.mu.Lock()
	fns := append([]func(transport.Status){}, c.statusFn...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

// Subscribe opens the room connection on first use.
func (c *Client) Subscribe(roomID string, fn func([]roster.Player)) (func(), error) {
	rc, err := c.room(roomID)
	if err != nil {
		return nil, err
	}
	return rc.feed.Subscribe(fn, rc.initial()), nil
}

// Publish queues msg on the room connection. A join is remembered and replayed after every reconnect,
// so publishing one while the socket is still dialing succeeds.
func (c *Client) Publish(roomID string, msg protocol.Message) error {
	rc, err := c.room(roomID)
	if err != nil {
		return err
	}
	if msg.RoomID == "" {
		msg.RoomID = roomID
	}
	switch msg.Type {
	case protocol.MsgJoin:
		rc.lastJoin.Store(&msg)
		if !rc.connected.Load() {
			return nil
		}
	case protocol.MsgLeave:
		rc.lastJoin.Store(nil)
	}
	if !rc.connected.Load() {
		return transport.ErrDisconnected
	}
	select {
	case rc.queue <- msg:
		return nil
	default:
		return transport.ErrBackpressure
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	return nil
}

func (c *Client) room(roomID string) (*roomConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, transport.ErrClosed
	}
	if rc, ok := c.rooms[roomID]; ok {
		return rc, nil
	}
	rc := &roomConn{
		client:  c,
		roomID:  roomID,
		replica: roster.NewReplica(""),
		feed:    fanout.New[[]roster.Player](),
		queue:   make(chan protocol.Message, c.cfg.QueueSize),
		log:     logger.Prefix(c.log, fmt.Sprintf("[relay %s] ", roomID)),
	}
	c.rooms[roomID] = rc
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		rc.run(c.ctx)
	}()
	return rc, nil
}

func (c *Client) endpoint(roomID string) string {
	q := url.Values{}
	if c.cfg.Name != "" {
		q.Set("name", c.cfg.Name)
	}
	q.Set("codec", c.cfg.Codec.Name())
	return fmt.Sprintf("%s/ws/%s/%s?%s", strings.TrimRight(c.cfg.URL, "/"),
		url.PathEscape(roomID), url.PathEscape(c.cfg.PlayerID), q.Encode())
}

type roomConn struct {
	client  *Client
	roomID  string
	replica *roster.Replica
	feed    *fanout.Fanout[[]roster.Player]
	queue   chan protocol.Message
	log     logger.Logger

	version   atomic.Uint64
	synced    atomic.Bool
	connected atomic.Bool
	lastJoin  atomic.Pointer[protocol.Message]
}

func (rc *roomConn) initial() func() (uint64, []roster.Player) {
	if !rc.synced.Load() {
		return nil
	}
	return func() (uint64, []roster.Player) {
		return rc.version.Load(), rc.replica.Players()
	}
}

// run dials, serves and redials until ctx is done.
func (rc *roomConn) run(ctx context.Context) {
	bo := rc.client.cfg.NewBackOff()
	for {
		rc.client.notify(transport.StatusConnecting)
		conn, _, err := rc.client.cfg.Dialer.DialContext(ctx, rc.client.endpoint(rc.roomID), nil)
		if err == nil {
			bo.Reset()
			rc.serve(ctx, conn)
		} else if ctx.Err() == nil {
			rc.log.Errorf("dial: %v", err)
		}
		rc.client.notify(transport.StatusDisconnected)

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			rc.log.Errorf("giving up reconnecting")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (rc *roomConn) serve(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	rc.synced.Store(false)

	// connected is raised before lastJoin is read so a concurrent join is either replayed here or queued
	rc.connected.Store(true)
	if j := rc.lastJoin.Load(); j != nil {
		if err := rc.write(conn, *j); err != nil {
			rc.connected.Store(false)
			rc.log.Errorf("replay join: %v", err)
			return
		}
	}
	rc.client.notify(transport.StatusConnected)
	rc.log.Infof("connected as %s", rc.client.cfg.PlayerID)

	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		rc.writePump(conn, stop)
	}()
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	rc.readPump(conn)

	rc.connected.Store(false)
	close(stop)
	<-writerDone
	// drop frames queued for the dead socket; the client republishes from current state
	for {
		select {
		case <-rc.queue:
		default:
			return
		}
	}
}

func (rc *roomConn) write(conn *websocket.Conn, m protocol.Message) error {
	b, err := rc.client.cfg.Codec.Encode(m)
	if err != nil {
		return err
	}
	typ := websocket.TextMessage
	if rc.client.cfg.Codec.Binary() {
		typ = websocket.BinaryMessage
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(typ, b)
}

func (rc *roomConn) writePump(conn *websocket.Conn, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case m := <-rc.queue:
			if err := rc.write(conn, m); err != nil {
				rc.log.Errorf("write: %v", err)
				conn.Close()
				return
			}
		}
	}
}

func (rc *roomConn) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				rc.log.Errorf("read: %v", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		m, err := rc.client.cfg.Codec.Decode(b)
		if err != nil {
			rc.log.Errorf("decode: %v", err)
			continue
		}
		rc.handle(m)
	}
}

func (rc *roomConn) handle(m protocol.Message) {
	changed := false
	switch m.Type {
	case protocol.MsgSnapshot:
		rc.replica.Apply(m.Players)
		rc.synced.Store(true)
		changed = true
	case protocol.MsgJoin, protocol.MsgUpdate, protocol.MsgCart:
		if m.Marble != nil {
			changed = rc.replica.ApplyOne(*m.Marble)
		}
	case protocol.MsgLeave:
		if _, ok := rc.replica.Get(m.PlayerID); ok {
			rc.replica.Remove(m.PlayerID)
			changed = true
		}
	case protocol.MsgError:
		rc.log.Errorf("server: %s", m.Error)
	default:
		rc.log.Debugf("ignoring %q frame", m.Type)
	}
	if changed && rc.synced.Load() {
		rc.feed.Publish(rc.version.Add(1), rc.replica.Players())
	}
}
