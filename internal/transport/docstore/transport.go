package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sakshamg567/tiltmarble/internal/fanout"
	"github.com/sakshamg567/tiltmarble/internal/protocol"
	"github.com/sakshamg567/tiltmarble/internal/roster"
	"github.com/sakshamg567/tiltmarble/internal/transport"
	"github.com/sakshamg567/tiltmarble/logger"
)

type Config struct {
	QueueSize  int
	OpTimeout  time.Duration
	NewBackOff func() backoff.BackOff
	Logger     logger.Logger
}

func DefaultConfig() Config {
	return Config{
		QueueSize: 64,
		OpTimeout: 5 * time.Second,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
		Logger: logger.Default(),
	}
}

type op struct {
	roomID string
	msg    protocol.Message
}

// Transport adapts a Store to the transport contract. Writes go through a single queued writer
// so Publish never waits on the store.
type Transport struct {
	store Store
	cfg   Config
	log   logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	queue  chan op

	healthy atomic.Bool

	mu       sync.Mutex
	rooms    map[string]*roomWatch
	joins    map[string]protocol.Message
	statusFn []func(transport.Status)
	closed   bool
}

var _ transport.Transport = (*Transport)(nil)

func NewTransport(store Store, cfg Config) *Transport {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = def.OpTimeout
	}
	if cfg.NewBackOff == nil {
		cfg.NewBackOff = def.NewBackOff
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		store:  store,
		cfg:    cfg,
		log:    cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
		queue:  make(chan op, cfg.QueueSize),
		rooms:  make(map[string]*roomWatch),
		joins:  make(map[string]protocol.Message),
	}
	t.healthy.Store(true)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.writer()
	}()
	return t
}

func (t *Transport) OnStatus(fn func(transport.Status)) {
	t.mu.Lock()
	t.statusFn = append(t.statusFn, fn)
	t.mu.Unlock()
}

func (t *Transport) setHealthy(ok bool) {
	if t.healthy.Swap(ok) == ok {
		return
	}
	s := transport.StatusDisconnected
	if ok {
		s = transport.StatusConnected
	}
	t.mu.Lock()
	fns := append([]func(transport.Status){}, t.statusFn...)
	t.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (t *Transport) Subscribe(roomID string, fn func([]roster.Player)) (func(), error) {
	w, err := t.watch(roomID)
	if err != nil {
		return nil, err
	}
	return w.feed.Subscribe(fn, w.initial()), nil
}

// Publish queues msg for the writer. Joins are accepted while the store is unreachable and
// replayed once it is back.
func (t *Transport) Publish(roomID string, msg protocol.Message) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}
	if msg.RoomID == "" {
		msg.RoomID = roomID
	}
	if !t.healthy.Load() && msg.Type != protocol.MsgJoin {
		return transport.ErrDisconnected
	}
	select {
	case t.queue <- op{roomID: roomID, msg: msg}:
		return nil
	default:
		return transport.ErrBackpressure
	}
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	t.cancel()
	t.wg.Wait()
	return nil
}

func (t *Transport) writer() {
	for {
		select {
		case <-t.ctx.Done():
			return
		case o := <-t.queue:
			t.apply(o)
		}
	}
}

func (t *Transport) apply(o op) {
	ctx, cancel := context.WithTimeout(t.ctx, t.cfg.OpTimeout)
	defer cancel()

	var err error
	m := o.msg
	switch m.Type {
	case protocol.MsgJoin:
		t.mu.Lock()
		t.joins[o.roomID] = m
		t.mu.Unlock()
		_, err = t.store.Join(ctx, o.roomID, m.PlayerID, m.Name)
	case protocol.MsgLeave:
		t.mu.Lock()
		delete(t.joins, o.roomID)
		t.mu.Unlock()
		err = t.store.Leave(ctx, o.roomID, m.PlayerID)
	case protocol.MsgUpdate:
		_, err = t.store.UpdatePosition(ctx, o.roomID, m.PlayerID, m.PositionUpdate())
		if errors.Is(err, roster.ErrNotFound) {
			// expired by the reaper while we were away
			err = t.rejoin(ctx, o.roomID)
		}
	case protocol.MsgCart:
		if m.Item == nil {
			return
		}
		_, err = t.store.AddCartItem(ctx, o.roomID, m.PlayerID, *m.Item)
	case protocol.MsgSync:
		if w := t.existingWatch(o.roomID); w != nil {
			err = w.refresh(ctx)
		}
	default:
		t.log.Debugf("docstore: ignoring %q", m.Type)
		return
	}

	switch {
	case err == nil:
		t.setHealthy(true)
	case errors.Is(err, roster.ErrStaleWrite):
		t.log.Debugf("docstore: %v", err)
	case errors.Is(err, roster.ErrAlreadyActive), errors.Is(err, roster.ErrNotFound):
		t.log.Errorf("docstore: %s in %s: %v", m.Type, o.roomID, err)
	case t.ctx.Err() != nil:
	default:
		t.log.Errorf("docstore: %s in %s: %v", m.Type, o.roomID, err)
		t.setHealthy(false)
	}
}

func (t *Transport) rejoin(ctx context.Context, roomID string) error {
	t.mu.Lock()
	j, ok := t.joins[roomID]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: not joined to %s", roster.ErrNotFound, roomID)
	}
	_, err := t.store.Join(ctx, roomID, j.PlayerID, j.Name)
	return err
}

func (t *Transport) existingWatch(roomID string) *roomWatch {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rooms[roomID]
}

func (t *Transport) watch(roomID string) (*roomWatch, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, transport.ErrClosed
	}
	if w, ok := t.rooms[roomID]; ok {
		return w, nil
	}
	w := &roomWatch{t: t, roomID: roomID, feed: fanout.New[[]roster.Player]()}
	t.rooms[roomID] = w
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		w.run(t.ctx)
	}()
	return w, nil
}

type roomWatch struct {
	t      *Transport
	roomID string
	feed   *fanout.Fanout[[]roster.Player]

	version atomic.Uint64
	mu      sync.Mutex
	last    []roster.Player
	synced  bool
}

func (w *roomWatch) initial() func() (uint64, []roster.Player) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.synced {
		return nil
	}
	return func() (uint64, []roster.Player) {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.version.Load(), w.last
	}
}

func (w *roomWatch) deliver(v uint64, players []roster.Player) {
	w.mu.Lock()
	w.last, w.synced = players, true
	w.mu.Unlock()
	w.feed.Publish(v, players)
}

func (w *roomWatch) refresh(ctx context.Context) error {
	v := w.version.Add(1)
	players, err := w.t.store.Players(ctx, w.roomID)
	if err != nil {
		return err
	}
	w.deliver(v, players)
	return nil
}

// run keeps a watch open on the room, re-watching with backoff after store errors.
func (w *roomWatch) run(ctx context.Context) {
	bo := w.t.cfg.NewBackOff()
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.replayJoin()
		}
		err := w.t.store.Watch(ctx, w.roomID, func(players []roster.Player) {
			bo.Reset()
			w.t.setHealthy(true)
			w.deliver(w.version.Add(1), players)
		})
		if ctx.Err() != nil {
			return
		}
		w.t.log.Errorf("docstore: watch %s: %v", w.roomID, err)
		w.t.setHealthy(false)

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (w *roomWatch) replayJoin() {
	w.t.mu.Lock()
	j, ok := w.t.joins[w.roomID]
	w.t.mu.Unlock()
	if !ok {
		return
	}
	select {
	case w.t.queue <- op{roomID: w.roomID, msg: j}:
	default:
	}
}
