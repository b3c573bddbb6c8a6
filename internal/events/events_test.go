package events

import (
	"testing"
	"time"
)

func TestLog_EmitFillsIdentity(t *testing.T) {
	log := NewLog(8)
	log.Emit(Event{Type: TokenMinted, To: "alice", Amount: "5"})

	recent := log.Recent(1)
	if len(recent) != 1 {
		t.Fatalf("expected one event, got %d", len(recent))
	}
	if recent[0].ID == "" {
		t.Fatal("event ID not assigned")
	}
	if recent[0].Timestamp.IsZero() {
		t.Fatal("timestamp not assigned")
	}
	if recent[0].To != "alice" || recent[0].Amount != "5" {
		t.Fatalf("payload mangled: %+v", recent[0])
	}
}

func TestLog_RingOverwritesOldest(t *testing.T) {
	log := NewLog(4)
	for i := 0; i < 6; i++ {
		log.Emit(Event{Type: TokenMinted, Reason: string(rune('a' + i))})
	}

	if log.Count() != 4 {
		t.Fatalf("count: got %d want 4", log.Count())
	}
	recent := log.Recent(10)
	if len(recent) != 4 {
		t.Fatalf("recent: got %d events want 4", len(recent))
	}
	// Newest first: f, e, d, c.
	want := []string{"f", "e", "d", "c"}
	for i, ev := range recent {
		if ev.Reason != want[i] {
			t.Fatalf("event %d: got %q want %q", i, ev.Reason, want[i])
		}
	}
}

func TestLog_RecentByType(t *testing.T) {
	log := NewLog(16)
	log.Emit(Event{Type: TokenMinted})
	log.Emit(Event{Type: InsightPurchased, InsightID: 1})
	log.Emit(Event{Type: TokenMinted})
	log.Emit(Event{Type: InsightPurchased, InsightID: 2})

	purchases := log.RecentByType(InsightPurchased, 10)
	if len(purchases) != 2 {
		t.Fatalf("expected 2 purchase events, got %d", len(purchases))
	}
	if purchases[0].InsightID != 2 || purchases[1].InsightID != 1 {
		t.Fatalf("wrong order: %+v", purchases)
	}
	if got := log.RecentByType(InsightPurchased, 1); len(got) != 1 || got[0].InsightID != 2 {
		t.Fatalf("limit not honoured: %+v", got)
	}
}

func TestLog_SubscribeAndUnsubscribe(t *testing.T) {
	log := NewLog(8)

	var seen []Type
	unsubscribe := log.Subscribe(func(ev Event) { seen = append(seen, ev.Type) })

	log.Emit(Event{Type: TokenMinted})
	log.Emit(Event{Type: TokenBurned})
	unsubscribe()
	log.Emit(Event{Type: TokenTransferred})

	if len(seen) != 2 || seen[0] != TokenMinted || seen[1] != TokenBurned {
		t.Fatalf("unexpected deliveries: %v", seen)
	}
}

func TestLog_SubscribeFiltered(t *testing.T) {
	log := NewLog(8)

	var seen int
	unsubscribe := log.SubscribeFiltered(
		func(ev Event) bool { return ev.Type == CreatorPromoted },
		func(Event) { seen++ },
	)
	defer unsubscribe()

	log.Emit(Event{Type: TokenMinted})
	log.Emit(Event{Type: CreatorPromoted})
	log.Emit(Event{Type: CreatorDemoted})
	log.Emit(Event{Type: CreatorPromoted})

	if seen != 2 {
		t.Fatalf("filtered deliveries: got %d want 2", seen)
	}
}

// A handler emitting into the log it subscribes to must not deadlock.
func TestLog_HandlerMayEmit(t *testing.T) {
	log := NewLog(8)

	done := make(chan struct{})
	var reentered bool
	log.Subscribe(func(ev Event) {
		if ev.Type == TokenMinted && !reentered {
			reentered = true
			log.Emit(Event{Type: TokenBurned})
		}
	})

	go func() {
		log.Emit(Event{Type: TokenMinted})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emit from handler deadlocked")
	}
	if log.Count() != 2 {
		t.Fatalf("count: got %d want 2", log.Count())
	}
}

func TestAmt(t *testing.T) {
	if got := Amt(nil); got != "0" {
		t.Fatalf("nil amount: got %q want \"0\"", got)
	}
}
