package relay

import (
	"testing"
	"time"

	"github.com/sakshamg567/tiltmarble/internal/protocol"
	"github.com/sakshamg567/tiltmarble/internal/roster"
	"github.com/sakshamg567/tiltmarble/logger"
)

type fakePeer struct {
	ch chan protocol.Message
}

func newFakePeer() *fakePeer { return &fakePeer{ch: make(chan protocol.Message, 64)} }

func (f *fakePeer) Send(m protocol.Message) bool {
	select {
	case f.ch <- m:
		return true
	default:
		return false
	}
}

// next waits for the next frame of type typ, skipping others.
func (f *fakePeer) next(t *testing.T, typ string) protocol.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m := <-f.ch:
			if m.Type == typ {
				return m
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", typ)
			return protocol.Message{}
		}
	}
}

func (f *fakePeer) quiet(t *testing.T, typ string) {
	t.Helper()
	deadline := time.After(50 * time.Millisecond)
	for {
		select {
		case m := <-f.ch:
			if m.Type == typ {
				t.Fatalf("unexpected %q frame: %+v", typ, m)
			}
		case <-deadline:
			return
		}
	}
}

func newTestServer() *Server {
	mgr := roster.NewManager(roster.DefaultConfig(), roster.WithLogger(logger.Nop()))
	return NewServer(mgr, Config{}, logger.Nop())
}

func TestHubJoinUpdateLeave(t *testing.T) {
	s := newTestServer()
	alice, bob := newFakePeer(), newFakePeer()

	h := s.Attach("r1", alice)
	if snap := alice.next(t, protocol.MsgSnapshot); len(snap.Players) != 0 {
		t.Fatalf("expected empty room, got %+v", snap.Players)
	}
	s.Attach("r1", bob)
	bob.next(t, protocol.MsgSnapshot)

	h.Handle(alice, protocol.Join("r1", "alice", "Alice"))
	if snap := alice.next(t, protocol.MsgSnapshot); len(snap.Players) != 1 || snap.Players[0].Name != "Alice" {
		t.Fatalf("joiner should get a snapshot with itself, got %+v", snap.Players)
	}
	if j := bob.next(t, protocol.MsgJoin); j.Marble == nil || j.Marble.ID != "alice" {
		t.Fatalf("bob should see alice join, got %+v", j)
	}

	h.Handle(alice, protocol.Update("r1", "alice", roster.Update{X: 50, Y: -20, At: time.Now().UnixMilli() + 1000}))
	up := bob.next(t, protocol.MsgUpdate)
	if up.Marble == nil || up.Marble.X != 50 || up.Marble.Y != -20 {
		t.Fatalf("unexpected update %+v", up)
	}
	alice.quiet(t, protocol.MsgUpdate)

	// older write is dropped without a broadcast
	h.Handle(alice, protocol.Update("r1", "alice", roster.Update{X: 1, At: 1}))
	bob.quiet(t, protocol.MsgUpdate)

	h.Leave(alice)
	if l := bob.next(t, protocol.MsgLeave); l.PlayerID != "alice" {
		t.Fatalf("expected leave for alice, got %+v", l)
	}
	snap, _ := s.Manager().Snapshot("r1")
	if snap.Room.PlayerCount != 0 || snap.Players[0].Connected {
		t.Fatalf("closing the socket should disconnect the player, got %+v", snap)
	}
}

func TestHubRejectsUpdateBeforeJoin(t *testing.T) {
	s := newTestServer()
	p := newFakePeer()
	h := s.Attach("r1", p)
	p.next(t, protocol.MsgSnapshot)

	h.Handle(p, protocol.Update("r1", "ghost", roster.Update{X: 1}))
	if e := p.next(t, protocol.MsgError); e.Error == "" {
		t.Fatalf("expected error text")
	}
	h.Handle(p, protocol.Message{Type: "draw"})
	p.next(t, protocol.MsgError)
}

func TestHubAlreadyActiveElsewhere(t *testing.T) {
	s := newTestServer()
	a, b := newFakePeer(), newFakePeer()
	h1 := s.Attach("r1", a)
	h2 := s.Attach("r2", b)
	h1.Handle(a, protocol.Join("r1", "p1", ""))
	a.next(t, protocol.MsgSnapshot)
	a.next(t, protocol.MsgSnapshot)

	h2.Handle(b, protocol.Join("r2", "p1", ""))
	if e := b.next(t, protocol.MsgError); e.Error == "" {
		t.Fatalf("expected already-active error")
	}
}

func TestHubCartAndSync(t *testing.T) {
	s := newTestServer()
	p := newFakePeer()
	h := s.Attach("r1", p)
	h.Handle(p, protocol.Join("r1", "p1", ""))
	h.Handle(p, protocol.Cart("r1", "p1", roster.CartItem{Name: "Shield", Price: 2}))
	c := p.next(t, protocol.MsgCart)
	if c.Marble == nil || len(c.Marble.Cart) != 1 {
		t.Fatalf("cart broadcast should reach the sender too, got %+v", c)
	}

	for len(p.ch) > 0 {
		<-p.ch
	}
	h.Handle(p, protocol.Message{Type: protocol.MsgSync})
	if snap := p.next(t, protocol.MsgSnapshot); len(snap.Players) != 1 || len(snap.Players[0].Cart) != 1 {
		t.Fatalf("unexpected sync snapshot %+v", snap)
	}
}

func TestHubReapedBroadcastsLeaveAndRejoinsOnUpdate(t *testing.T) {
	s := newTestServer()
	a, b := newFakePeer(), newFakePeer()
	h := s.Attach("r1", a)
	s.Attach("r1", b)
	h.Handle(a, protocol.Join("r1", "idle", ""))
	b.next(t, protocol.MsgJoin)

	_ = s.Manager().Disconnect("r1", "idle")
	s.NotifyReaped([]roster.Reaped{{RoomID: "r1", Player: roster.Player{ID: "idle"}}})
	if l := b.next(t, protocol.MsgLeave); l.PlayerID != "idle" {
		t.Fatalf("expected leave, got %+v", l)
	}

	h.Handle(a, protocol.Update("r1", "idle", roster.Update{X: 3}))
	b.next(t, protocol.MsgJoin)
	if up := b.next(t, protocol.MsgUpdate); up.Marble == nil || up.Marble.X != 3 || !up.Marble.Connected {
		t.Fatalf("expected player back with the update, got %+v", up)
	}
}

func TestHubStopsWhenEmptyAndRestarts(t *testing.T) {
	s := newTestServer()
	p := newFakePeer()
	h := s.Attach("r1", p)
	p.next(t, protocol.MsgSnapshot)
	h.Leave(p)

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
	if s.Hubs() != 0 {
		t.Fatalf("stopped hub still registered")
	}

	q := newFakePeer()
	h2 := s.Attach("r1", q)
	if h2 == h {
		t.Fatalf("expected a fresh hub")
	}
	q.next(t, protocol.MsgSnapshot)
	h2.Leave(q)
	s.Wait()
}

func TestHubPeriodicResync(t *testing.T) {
	mgr := roster.NewManager(roster.DefaultConfig(), roster.WithLogger(logger.Nop()))
	s := NewServer(mgr, Config{ResyncInterval: 20 * time.Millisecond}, logger.Nop())
	p := newFakePeer()
	s.Attach("r1", p)
	p.next(t, protocol.MsgSnapshot)
	p.next(t, protocol.MsgSnapshot)
}
