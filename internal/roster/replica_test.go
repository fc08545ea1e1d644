package roster

import "testing"

func TestReplicaIgnoresSelfAndStale(t *testing.T) {
	r := NewReplica("me")
	if r.ApplyOne(Player{ID: "me", X: 9, LastUpdated: 10}) {
		t.Fatalf("self must never be applied from the network")
	}
	r.ApplyOne(Player{ID: "a", X: 1, LastUpdated: 10})
	if r.ApplyOne(Player{ID: "a", X: 2, LastUpdated: 5}) {
		t.Fatalf("older entry should be rejected")
	}
	if p, _ := r.Get("a"); p.X != 1 {
		t.Fatalf("expected x=1, got %v", p.X)
	}
}

func TestReplicaOrderIndependent(t *testing.T) {
	updates := []Player{
		{ID: "a", X: 1, LastUpdated: 1},
		{ID: "b", X: 10, LastUpdated: 4},
		{ID: "a", X: 3, LastUpdated: 3},
		{ID: "b", X: 20, LastUpdated: 2},
	}
	forward, backward := NewReplica(""), NewReplica("")
	for _, p := range updates {
		forward.ApplyOne(p)
	}
	for i := len(updates) - 1; i >= 0; i-- {
		backward.ApplyOne(updates[i])
	}
	f, b := forward.Players(), backward.Players()
	if len(f) != 2 || len(b) != 2 {
		t.Fatalf("expected two players each, got %d and %d", len(f), len(b))
	}
	for i := range f {
		if f[i].ID != b[i].ID || f[i].X != b[i].X {
			t.Fatalf("replicas diverged: %+v vs %+v", f, b)
		}
	}
	if f[0].X != 3 || f[1].X != 10 {
		t.Fatalf("expected newest values, got %+v", f)
	}
}

func TestReplicaApplyDropsMissing(t *testing.T) {
	r := NewReplica("me")
	r.Apply([]Player{{ID: "a", LastUpdated: 5}, {ID: "b", LastUpdated: 6}})
	r.Apply([]Player{{ID: "a", LastUpdated: 7}})
	got := r.Players()
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("expected b dropped, got %+v", got)
	}
}

func TestReplicaApplyDropsNewestWriter(t *testing.T) {
	r := NewReplica("me")
	r.Apply([]Player{{ID: "a", LastUpdated: 100}, {ID: "b", LastUpdated: 200}})
	if changed := r.Apply([]Player{{ID: "a", LastUpdated: 100}}); !changed {
		t.Fatalf("dropping b should report a change")
	}
	if _, ok := r.Get("b"); ok {
		t.Fatalf("b survives a roster that no longer contains it")
	}

	// same for a delta-applied entry newer than anything in the next roster
	r.ApplyOne(Player{ID: "c", LastUpdated: 500})
	r.Apply([]Player{{ID: "a", LastUpdated: 100}})
	if _, ok := r.Get("c"); ok {
		t.Fatalf("c should follow the roster")
	}
}

func TestReplicaApplyEmptyRoster(t *testing.T) {
	r := NewReplica("me")
	r.Apply([]Player{{ID: "a", LastUpdated: 100}, {ID: "me", LastUpdated: 300}})
	r.Apply(nil)
	if got := r.Players(); len(got) != 0 {
		t.Fatalf("expected empty replica, got %+v", got)
	}
}

func TestCloneDoesNotShareCart(t *testing.T) {
	p := Player{ID: "a", Cart: []CartItem{{Name: "x"}}}
	c := p.Clone()
	c.Cart[0].Name = "y"
	if p.Cart[0].Name != "x" {
		t.Fatalf("clone shares cart backing array")
	}
}
