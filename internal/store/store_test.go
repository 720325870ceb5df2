package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/pacific-gateway/tripbot/internal/models"
)

func TestInMemoryStore_SessionLifecycle(t *testing.T) {
	s := NewInMemoryStore()

	got, err := s.GetSession("u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil session before save, got %+v", got)
	}

	sess := models.NewSession("u1")
	sess.Destination = "LAE"
	if err := s.SaveSession(*sess); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err = s.GetSession("u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.Destination != "LAE" {
		t.Fatalf("expected saved session back, got %+v", got)
	}

	if err := s.DeleteSession("u1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	got, _ = s.GetSession("u1")
	if got != nil {
		t.Errorf("expected session gone after delete, got %+v", got)
	}
}

func TestInMemoryStore_SessionTTLEviction(t *testing.T) {
	s := NewInMemoryStore(WithSessionTTL(time.Minute))

	sess := models.NewSession("stale")
	sess.UpdatedAt = time.Now().Add(-2 * time.Minute)
	if err := s.SaveSession(*sess); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := s.GetSession("stale")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected idle session evicted, got %+v", got)
	}
	count, _ := s.ActiveSessionCount()
	if count != 0 {
		t.Errorf("expected 0 active sessions, got %d", count)
	}
}

func TestInMemoryStore_DedupDuplicate(t *testing.T) {
	s := NewInMemoryStore()

	fresh, err := s.RecordInbound("mid-1", "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fresh {
		t.Fatal("first record should be fresh")
	}

	fresh, err = s.RecordInbound("mid-1", "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fresh {
		t.Error("replayed message id should be reported as duplicate")
	}
}

func TestInMemoryStore_DedupCapacityBound(t *testing.T) {
	s := NewInMemoryStore(WithDedupCapacity(2))

	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.RecordInbound(id, "u1"); err != nil {
			t.Fatalf("record %s failed: %v", id, err)
		}
	}

	// "a" was evicted to make room, so it is treated as fresh again.
	fresh, err := s.RecordInbound("a", "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fresh {
		t.Error("evicted id should be accepted as fresh")
	}
	// "c" is still inside the window.
	fresh, _ = s.RecordInbound("c", "u1")
	if fresh {
		t.Error("id inside capacity window should still be a duplicate")
	}
}

func TestInMemoryStore_DedupTTLPrune(t *testing.T) {
	s := NewInMemoryStore()
	if _, err := s.RecordInbound("old", "u1"); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	dropped, err := s.PruneDedup(time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if dropped != 1 {
		t.Errorf("expected 1 dropped record, got %d", dropped)
	}
	fresh, _ := s.RecordInbound("old", "u1")
	if !fresh {
		t.Error("pruned id should be accepted as fresh")
	}
}

func TestInMemoryStore_Tickets(t *testing.T) {
	s := NewInMemoryStore()
	if err := s.AddTicket(models.PricedTicket{Quote: models.Quote{Airline: "626", TotalFare: 800}}); err != nil {
		t.Fatalf("add ticket failed: %v", err)
	}
	tickets, err := s.GetTickets()
	if err != nil {
		t.Fatalf("get tickets failed: %v", err)
	}
	if len(tickets) != 1 || tickets[0].Airline != "626" {
		t.Errorf("unexpected tickets: %+v", tickets)
	}
}

func TestSQLiteStore_SessionRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tripbot.db")
	s, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	defer s.Close()

	sess := models.NewSession("u42")
	sess.Step = models.StepAirline
	sess.Intent = models.IntentBooking
	sess.Origin = "POM"
	sess.Destination = "LAE"
	sess.ChildBirthDates = []string{"2018-04-01"}
	if err := s.SaveSession(*sess); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := s.GetSession("u42")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected session back")
	}
	if got.Step != models.StepAirline || got.Origin != "POM" || len(got.ChildBirthDates) != 1 {
		t.Errorf("session did not round-trip: %+v", got)
	}

	count, err := s.ActiveSessionCount()
	if err != nil || count != 1 {
		t.Errorf("expected 1 active session, got %d (err %v)", count, err)
	}

	if err := s.DeleteSession("u42"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	got, _ = s.GetSession("u42")
	if got != nil {
		t.Errorf("expected session gone after delete, got %+v", got)
	}
}

func TestSQLiteStore_DedupAndPrune(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tripbot.db")
	s, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	defer s.Close()

	fresh, err := s.RecordInbound("mid-9", "u1")
	if err != nil || !fresh {
		t.Fatalf("first record should be fresh, got fresh=%v err=%v", fresh, err)
	}
	fresh, err = s.RecordInbound("mid-9", "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fresh {
		t.Error("replay should be duplicate")
	}
	if err := s.MarkProcessed("mid-9"); err != nil {
		t.Fatalf("mark processed failed: %v", err)
	}

	dropped, err := s.PruneDedup(time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if dropped != 1 {
		t.Errorf("expected 1 dropped, got %d", dropped)
	}
}

func TestSQLiteStore_Tickets(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tripbot.db")
	s, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	defer s.Close()

	in := models.PricedTicket{
		Quote:         models.Quote{Airline: "656", TotalFare: 500, Tax: 100},
		CustomerTotal: 544,
	}
	if err := s.AddTicket(in); err != nil {
		t.Fatalf("add ticket failed: %v", err)
	}
	tickets, err := s.GetTickets()
	if err != nil {
		t.Fatalf("get tickets failed: %v", err)
	}
	if len(tickets) != 1 || tickets[0].Airline != "656" || tickets[0].CustomerTotal != 544 {
		t.Errorf("ticket did not round-trip: %+v", tickets)
	}
}

func TestDetectDSNType(t *testing.T) {
	cases := []struct {
		dsn  string
		want string
	}{
		{"", "memory"},
		{"postgres://u:p@localhost/db", "postgres"},
		{"postgresql://u:p@localhost/db", "postgres"},
		{"host=localhost user=u dbname=db", "postgres"},
		{"/var/lib/tripbot/tripbot.db", "sqlite"},
	}
	for _, c := range cases {
		if got := DetectDSNType(c.dsn); got != c.want {
			t.Errorf("DetectDSNType(%q) = %q, want %q", c.dsn, got, c.want)
		}
	}
}
