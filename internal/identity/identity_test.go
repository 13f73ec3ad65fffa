package identity

import (
	"context"
	"testing"
)

func TestContextRoundTrip(t *testing.T) {
	if FromContext(context.Background()).Present() {
		t.Error("empty context has an identity")
	}
	ctx := WithIdentity(context.Background(), Identity{UserID: "u1", Token: "t"})
	if got := FromContext(ctx); got.UserID != "u1" || got.Token != "t" {
		t.Errorf("FromContext() = %+v", got)
	}
}

func TestSignal_WatchTransitions(t *testing.T) {
	s := NewSignal(Identity{})

	type transition struct{ prev, next Identity }
	var seen []transition
	cancel := s.Watch(func(prev, next Identity) {
		seen = append(seen, transition{prev, next})
	})

	s.Set(Identity{UserID: "u1"})
	s.Set(Identity{UserID: "u1"}) // unchanged, no event
	s.Clear()

	if len(seen) != 2 {
		t.Fatalf("transitions = %d, want 2", len(seen))
	}
	if seen[0].prev.Present() || seen[0].next.UserID != "u1" {
		t.Errorf("first transition = %+v, want absent -> u1", seen[0])
	}
	if seen[1].prev.UserID != "u1" || seen[1].next.Present() {
		t.Errorf("second transition = %+v, want u1 -> absent", seen[1])
	}

	cancel()
	s.Set(Identity{UserID: "u2"})
	if len(seen) != 2 {
		t.Errorf("transitions after cancel = %d, want 2", len(seen))
	}
	if s.Current().UserID != "u2" {
		t.Errorf("Current() = %+v, want u2", s.Current())
	}
}
