package docstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gomodule/redigo/redis"

	"github.com/sakshamg567/tiltmarble/internal/roster"
	"github.com/sakshamg567/tiltmarble/logger"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis, *clock) {
	t.Helper()
	mr := miniredis.RunT(t)
	pool := &redis.Pool{
		MaxIdle: 4,
		Dial:    func() (redis.Conn, error) { return redis.Dial("tcp", mr.Addr()) },
	}
	t.Cleanup(func() { pool.Close() })
	clk := &clock{t: time.UnixMilli(50)}
	cfg := roster.DefaultConfig()
	cfg.IdleTimeout = 10 * time.Second
	cfg.PurgeAfter = 30 * time.Second
	s := NewRedisStore(pool, cfg, WithRedisClock(clk.Now), WithRedisLogger(logger.Nop()))
	return s, mr, clk
}

func TestRedisJoinUpdateDisconnect(t *testing.T) {
	s, mr, _ := newRedisStore(t)
	ctx := context.Background()

	p, err := s.Join(ctx, "r1", "p1", "Alice")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if p.Name != "Alice" || !p.Connected || p.Status != roster.StatusActive || p.Color != roster.Palette[0] {
		t.Fatalf("unexpected player %+v", p)
	}

	if _, err := s.UpdatePosition(ctx, "r1", "p1", roster.Update{X: 50, Y: -20, At: 100}); err != nil {
		t.Fatalf("update: %v", err)
	}
	stored, err := s.UpdatePosition(ctx, "r1", "p1", roster.Update{X: 1, Y: 1, At: 90})
	if !errors.Is(err, roster.ErrStaleWrite) {
		t.Fatalf("expected stale write, got %v", err)
	}
	if stored.X != 50 || stored.LastUpdated != 100 {
		t.Fatalf("stale write should return stored state, got %+v", stored)
	}

	room, err := s.Room(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if room.PlayerCount != 1 || !room.Active {
		t.Fatalf("expected one connected player, got %+v", room)
	}

	if err := s.Disconnect(ctx, "r1", "p1"); err != nil {
		t.Fatal(err)
	}
	if got := mr.HGet("tm:room:r1", "playerCount"); got != "0" {
		t.Fatalf("expected count 0, got %q", got)
	}
	players, err := s.Players(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(players) != 1 || players[0].Connected || players[0].X != 50 || players[0].Y != -20 {
		t.Fatalf("unexpected players %+v", players)
	}
}

func TestRedisJoinRules(t *testing.T) {
	s, _, _ := newRedisStore(t)
	ctx := context.Background()

	a, _ := s.Join(ctx, "r1", "a", "")
	again, err := s.Join(ctx, "r1", "a", "renamed")
	if err != nil {
		t.Fatal(err)
	}
	if again.Name != a.Name || again.Name != roster.DefaultName("a") {
		t.Fatalf("idempotent join should not change the entry: %+v", again)
	}
	if _, err := s.Join(ctx, "r2", "a", ""); !errors.Is(err, roster.ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
	b, _ := s.Join(ctx, "r1", "b", "")
	if b.Color == a.Color {
		t.Fatalf("second player should get a different colour")
	}
	room, _ := s.Room(ctx, "r1")
	if room.PlayerCount != 2 {
		t.Fatalf("expected 2, got %d", room.PlayerCount)
	}

	if err := s.Leave(ctx, "r1", "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Leave(ctx, "r1", "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Join(ctx, "r2", "a", ""); err != nil {
		t.Fatalf("join after leave: %v", err)
	}
	room, _ = s.Room(ctx, "r1")
	if room.PlayerCount != 1 {
		t.Fatalf("expected 1 after leave, got %d", room.PlayerCount)
	}
}

func TestRedisPlayersHealsCount(t *testing.T) {
	s, mr, _ := newRedisStore(t)
	ctx := context.Background()
	s.Join(ctx, "r1", "a", "")
	mr.HSet("tm:room:r1", "playerCount", "7")

	if _, err := s.Players(ctx, "r1"); err != nil {
		t.Fatal(err)
	}
	if got := mr.HGet("tm:room:r1", "playerCount"); got != "1" {
		t.Fatalf("expected healed count 1, got %q", got)
	}
}

func TestRedisConcurrentCart(t *testing.T) {
	s, _, _ := newRedisStore(t)
	ctx := context.Background()
	s.Join(ctx, "r1", "a", "")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.AddCartItem(ctx, "r1", "a", roster.CartItem{Name: "Trail", Price: 1.25}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	players, err := s.Players(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(players[0].Cart) != 20 {
		t.Fatalf("expected 20 items, got %d", len(players[0].Cart))
	}
	if _, err := s.AddCartItem(ctx, "r1", "ghost", roster.CartItem{Name: "x"}); !errors.Is(err, roster.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedisWatch(t *testing.T) {
	s, _, _ := newRedisStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rosters := make(chan []roster.Player, 8)
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, "r1", func(ps []roster.Player) { rosters <- ps })
	}()

	select {
	case ps := <-rosters:
		if len(ps) != 0 {
			t.Fatalf("expected empty initial roster, got %+v", ps)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no initial roster")
	}

	if _, err := s.Join(context.Background(), "r1", "a", "Ann"); err != nil {
		t.Fatal(err)
	}
	select {
	case ps := <-rosters:
		if len(ps) != 1 || ps[0].Name != "Ann" {
			t.Fatalf("unexpected roster %+v", ps)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no change delivered")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop on cancel")
	}
}

func TestRedisReap(t *testing.T) {
	s, _, clk := newRedisStore(t)
	ctx := context.Background()
	s.Join(ctx, "r1", "idle", "")
	s.Join(ctx, "r1", "busy", "")

	clk.Advance(8 * time.Second)
	s.UpdatePosition(ctx, "r1", "busy", roster.Update{X: 1})
	clk.Advance(3 * time.Second)

	reaped, err := s.Reap(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(reaped) != 1 || reaped[0].Player.ID != "idle" || reaped[0].Purged {
		t.Fatalf("expected idle disconnected, got %+v", reaped)
	}

	clk.Advance(31 * time.Second)
	s.UpdatePosition(ctx, "r1", "busy", roster.Update{X: 2})
	reaped, err = s.Reap(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(reaped) != 1 || !reaped[0].Purged {
		t.Fatalf("expected idle purged, got %+v", reaped)
	}
	players, _ := s.Players(ctx, "r1")
	if len(players) != 1 || players[0].ID != "busy" {
		t.Fatalf("expected only busy, got %+v", players)
	}
}
