package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pacific-gateway/tripbot/internal/crm"
	"github.com/pacific-gateway/tripbot/internal/messaging"
	"github.com/pacific-gateway/tripbot/internal/models"
	"github.com/pacific-gateway/tripbot/internal/observability"
	"github.com/pacific-gateway/tripbot/internal/store"
)

// fakeSyncer counts pipeline invocations and can fail a number of times.
type fakeSyncer struct {
	syncCalls int
	failTimes int
	lost      []string

	contacts int
	deals    int
	notes    int
}

func (f *fakeSyncer) Sync(_ context.Context, s *models.Session, _ []models.PricedTicket) error {
	f.syncCalls++
	if s.Sync.BookingRef == "" {
		s.Sync.BookingRef = crm.NewBookingRef("ET")
	}
	if s.Sync.ContactID == "" {
		s.Sync.ContactID = "c-1"
		f.contacts++
	}
	if s.Sync.DealID == "" {
		s.Sync.DealID = "d-1"
		f.deals++
	}
	if f.failTimes > 0 {
		f.failTimes--
		return errors.New("note service unavailable")
	}
	if s.Sync.NoteID == "" {
		s.Sync.NoteID = "n-1"
		f.notes++
	}
	s.Sync.PriceUpdated = true
	return nil
}

func (f *fakeSyncer) MarkLost(_ context.Context, s *models.Session) error {
	if s.Sync.DealID != "" {
		f.lost = append(f.lost, s.Sync.DealID)
	}
	return nil
}

func newTestEngine(sy Syncer) (*Engine, *store.InMemoryStore, *messaging.MockService) {
	st := store.NewInMemoryStore()
	msgSvc := messaging.NewMockService()
	e := NewEngine(WithStore(st), WithMessaging(msgSvc), WithSyncer(sy))
	return e, st, msgSvc
}

func say(t *testing.T, e *Engine, userID, text string) {
	t.Helper()
	if err := e.HandleMessage(context.Background(), userID, text); err != nil {
		t.Fatalf("HandleMessage(%q) failed: %v", text, err)
	}
}

func TestEngineGreetsNewUserWithoutConsumingText(t *testing.T) {
	e, st, msgSvc := newTestEngine(nil)
	say(t, e, "user-1", "I need a flight")

	if msgSvc.Count() != 1 {
		t.Fatalf("expected exactly one greeting, got %d", msgSvc.Count())
	}
	if len(msgSvc.Last().Buttons) == 0 {
		t.Error("greeting should offer intent buttons")
	}
	s, err := st.GetSession("user-1")
	if err != nil || s == nil {
		t.Fatalf("session not created: %v", err)
	}
	if s.Step != models.StepIntent {
		t.Errorf("expected intent step, got %q", s.Step)
	}
}

func TestEngineEndToEndBooking(t *testing.T) {
	sy := &fakeSyncer{}
	e, st, msgSvc := newTestEngine(sy)

	const user = "user-42"
	script := []string{
		"hi",         // greeting
		"2",          // intent: booking
		"LAE",        // destination
		"POM",        // origin
		"2026-10-01", // depart
		"1",          // one-way
		"John Smith", // name
		"yes",        // confirm
		"+67570000001",
		"2", // total pax
		"2", // adults
		"0", // children
		"0", // infants
		"0", // students
		"any",
	}
	for _, msg := range script {
		say(t, e, user, msg)
	}

	if sy.contacts != 1 || sy.deals != 1 || sy.notes != 1 {
		t.Errorf("expected exactly one contact/deal/note, got %d/%d/%d", sy.contacts, sy.deals, sy.notes)
	}

	final := msgSvc.Last()
	if final == nil {
		t.Fatal("no final message sent")
	}
	if !strings.Contains(final.Body, "ET-") {
		t.Errorf("final message missing booking reference: %q", final.Body)
	}
	// 2 adults on the stub fare: 1600.00 fare + 140.80 convenience fee.
	if !strings.Contains(final.Body, "1740.80") {
		t.Errorf("final message missing customer total: %q", final.Body)
	}

	s, err := st.GetSession(user)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if s != nil {
		t.Errorf("completed session not cleared: %+v", s)
	}

	tickets, err := st.GetTickets()
	if err != nil {
		t.Fatalf("GetTickets failed: %v", err)
	}
	if len(tickets) != 1 {
		t.Errorf("expected 1 recorded ticket, got %d", len(tickets))
	}
}

func TestEnginePriceOnlySkipsContactAndCRM(t *testing.T) {
	sy := &fakeSyncer{}
	e, st, msgSvc := newTestEngine(sy)

	const user = "user-7"
	script := []string{
		"hello",
		"1", // price only
		"LAE",
		"POM",
		"2026-10-01",
		"2",          // round trip
		"2026-10-08", // return
		"1",          // total pax
		"1",          // adults
		"0", "0", "0",
		"any",
	}
	for _, msg := range script {
		say(t, e, user, msg)
	}

	if sy.syncCalls != 0 {
		t.Errorf("price-only flow must not touch the CRM, got %d sync calls", sy.syncCalls)
	}
	final := msgSvc.Last()
	if !strings.Contains(final.Body, "870.40") {
		t.Errorf("estimate missing customer total: %q", final.Body)
	}
	if !strings.Contains(strings.ToLower(final.Body), "book") {
		t.Errorf("estimate should invite booking: %q", final.Body)
	}
	if s, _ := st.GetSession(user); s != nil {
		t.Error("completed price-only session not cleared")
	}
}

func TestEngineCancelClearsSessionWithOneConfirmation(t *testing.T) {
	sy := &fakeSyncer{}
	e, st, msgSvc := newTestEngine(sy)

	say(t, e, "user-9", "hi")
	say(t, e, "user-9", "1")
	say(t, e, "user-9", "LAE")

	before := msgSvc.Count()
	say(t, e, "user-9", "cancel")
	if msgSvc.Count() != before+1 {
		t.Errorf("cancel should produce exactly one confirmation, got %d", msgSvc.Count()-before)
	}
	if s, _ := st.GetSession("user-9"); s != nil {
		t.Error("cancelled session not cleared")
	}

	// Cancel with nothing in progress still confirms once.
	before = msgSvc.Count()
	say(t, e, "user-9", "cancel")
	if msgSvc.Count() != before+1 {
		t.Errorf("idle cancel should still confirm once, got %d", msgSvc.Count()-before)
	}
}

func TestEngineCancelMarksSyncedDealLost(t *testing.T) {
	sy := &fakeSyncer{}
	e, st, _ := newTestEngine(sy)

	s := models.NewSession("user-10")
	s.Step = models.StepSyncPending
	s.Sync.DealID = "d-55"
	if err := st.SaveSession(*s); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	say(t, e, "user-10", "cancel")
	if len(sy.lost) != 1 || sy.lost[0] != "d-55" {
		t.Errorf("expected deal d-55 marked lost, got %v", sy.lost)
	}
}

func TestEngineBookSwitchesIntentAndJumpsToContact(t *testing.T) {
	sy := &fakeSyncer{}
	e, st, msgSvc := newTestEngine(sy)

	const user = "user-11"
	for _, msg := range []string{"hi", "1", "LAE", "POM", "2026-10-01", "1", "2"} {
		say(t, e, user, msg)
	}
	// Session is now price-only, sitting at the adults question.
	say(t, e, user, "book")

	s, err := st.GetSession(user)
	if err != nil || s == nil {
		t.Fatalf("session missing: %v", err)
	}
	if s.Intent != models.IntentBooking {
		t.Errorf("intent not switched, got %q", s.Intent)
	}
	if s.Step != models.StepName {
		t.Errorf("expected jump to name step, got %q", s.Step)
	}
	if !strings.Contains(strings.ToLower(msgSvc.Last().Body), "name") {
		t.Errorf("expected name prompt, got %q", msgSvc.Last().Body)
	}
}

func TestEngineRestartDiscardsProgress(t *testing.T) {
	e, st, _ := newTestEngine(nil)

	for _, msg := range []string{"hi", "1", "LAE", "POM"} {
		say(t, e, "user-12", msg)
	}
	say(t, e, "user-12", "start")

	s, _ := st.GetSession("user-12")
	if s == nil {
		t.Fatal("restart should create a fresh session")
	}
	if s.Step != models.StepIntent || s.Destination != "" {
		t.Errorf("restart kept old progress: step=%q dest=%q", s.Step, s.Destination)
	}
}

func TestEngineSyncFailureParksSessionAndRetries(t *testing.T) {
	sy := &fakeSyncer{failTimes: 1}
	e, st, msgSvc := newTestEngine(sy)

	const user = "user-13"
	script := []string{
		"hi", "2", "LAE", "POM", "2026-10-01", "1",
		"John Smith", "yes", "+67570000001",
		"1", "1", "0", "0", "0", "any",
	}
	for _, msg := range script {
		say(t, e, user, msg)
	}

	// First sync attempt failed: session parked, failure message carries the ref.
	s, err := st.GetSession(user)
	if err != nil || s == nil {
		t.Fatalf("parked session missing: %v", err)
	}
	if s.Step != models.StepSyncPending {
		t.Fatalf("expected sync-pending step, got %q", s.Step)
	}
	if ref := s.Sync.BookingRef; ref == "" || !strings.Contains(msgSvc.Last().Body, ref) {
		t.Errorf("failure message missing booking ref %q: %q", ref, msgSvc.Last().Body)
	}
	if tickets, _ := st.GetTickets(); len(tickets) != 0 {
		t.Errorf("failed sync must not record tickets yet, got %d", len(tickets))
	}

	// Any next message retries the sync, which now succeeds.
	say(t, e, user, "hello?")
	if sy.syncCalls != 2 {
		t.Errorf("expected retry sync call, got %d", sy.syncCalls)
	}
	if sy.contacts != 1 || sy.deals != 1 {
		t.Errorf("retry repeated completed steps: %d contacts, %d deals", sy.contacts, sy.deals)
	}
	if s, _ := st.GetSession(user); s != nil {
		t.Error("session not cleared after successful retry")
	}
	if !strings.Contains(msgSvc.Last().Body, "ET-") {
		t.Errorf("confirmation missing booking ref: %q", msgSvc.Last().Body)
	}
	// One booking, one ticket, no matter how many sync attempts it took.
	if tickets, _ := st.GetTickets(); len(tickets) != 1 {
		t.Errorf("expected exactly 1 recorded ticket after retry, got %d", len(tickets))
	}
}

func TestEngineCountsSyncOutcomes(t *testing.T) {
	sy := &fakeSyncer{failTimes: 1}
	st := store.NewInMemoryStore()
	m := observability.NewMetrics()
	e := NewEngine(WithStore(st), WithMessaging(messaging.NewMockService()), WithSyncer(sy), WithMetrics(m))

	const user = "user-18"
	script := []string{
		"hi", "2", "LAE", "POM", "2026-10-01", "1",
		"John Smith", "yes", "+67570000001",
		"1", "1", "0", "0", "0", "any",
	}
	for _, msg := range script {
		say(t, e, user, msg)
	}
	if got := testutil.ToFloat64(m.SyncOutcomes.WithLabelValues("failure")); got != 1 {
		t.Errorf("expected 1 failure outcome, got %v", got)
	}

	say(t, e, user, "retry please")
	if got := testutil.ToFloat64(m.SyncOutcomes.WithLabelValues("success")); got != 1 {
		t.Errorf("expected 1 success outcome, got %v", got)
	}

	// Cancelling a session with a synced deal counts as lost.
	s := models.NewSession("user-19")
	s.Step = models.StepSyncPending
	s.Sync.DealID = "d-77"
	if err := st.SaveSession(*s); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	say(t, e, "user-19", "cancel")
	if got := testutil.ToFloat64(m.SyncOutcomes.WithLabelValues("lost")); got != 1 {
		t.Errorf("expected 1 lost outcome, got %v", got)
	}
}

func TestEngineOneReplyPerMessage(t *testing.T) {
	e, _, msgSvc := newTestEngine(nil)

	script := []string{"hi", "1", "LAE", "POM", "not-a-date", "2026-10-01"}
	for i, msg := range script {
		say(t, e, "user-14", msg)
		if msgSvc.Count() != i+1 {
			t.Fatalf("message %d (%q): expected %d replies, got %d", i, msg, i+1, msgSvc.Count())
		}
	}
}

func TestEngineValidationKeepsSessionUnchanged(t *testing.T) {
	e, st, _ := newTestEngine(nil)

	for _, msg := range []string{"hi", "1", "LAE", "POM"} {
		say(t, e, "user-15", msg)
	}
	before, _ := st.GetSession("user-15")
	say(t, e, "user-15", "next tuesday")
	after, _ := st.GetSession("user-15")

	if before.Step != after.Step || after.DepartDate != "" {
		t.Errorf("invalid input mutated session: before=%q after=%q date=%q",
			before.Step, after.Step, after.DepartDate)
	}
}

func TestEngineChildDOBFlow(t *testing.T) {
	sy := &fakeSyncer{}
	e, _, msgSvc := newTestEngine(sy)

	const user = "user-16"
	script := []string{
		"hi", "1", "LAE", "POM", "2026-10-01", "1",
		"3", "1", "1", "1", "0", // counts: 1 adult, 1 child, 1 infant
		"2020-05-04", // child dob
		"2025-06-01", // infant dob
		"px",
	}
	for _, msg := range script {
		say(t, e, user, msg)
	}
	if !strings.Contains(msgSvc.Last().Body, "estimate") {
		t.Errorf("flow with dependants did not complete: %q", msgSvc.Last().Body)
	}
}

func TestEngineDistinctUsersKeepDistinctSessions(t *testing.T) {
	e, st, _ := newTestEngine(nil)

	say(t, e, "user-a", "hi")
	say(t, e, "user-b", "hi")
	say(t, e, "user-a", "1")
	say(t, e, "user-b", "2")

	sa, _ := st.GetSession("user-a")
	sb, _ := st.GetSession("user-b")
	if sa.Intent != models.IntentPriceOnly || sb.Intent != models.IntentBooking {
		t.Errorf("sessions bled across users: a=%q b=%q", sa.Intent, sb.Intent)
	}

	n, err := st.ActiveSessionCount()
	if err != nil || n != 2 {
		t.Errorf("expected 2 active sessions, got %d (%v)", n, err)
	}
}

func TestClosingMessagePassengerCount(t *testing.T) {
	s := models.NewSession("user-17")
	s.Intent = models.IntentPriceOnly
	s.Origin = "POM"
	s.Destination = "LAE"
	s.DepartDate = "2026-10-01"
	s.Adults = 2
	s.Children = 1
	s.Students = 1

	r := closingMessage(s, []models.PricedTicket{{CustomerTotal: 1000}})
	if !strings.Contains(r.Text, fmt.Sprintf("%d passenger", 4)) {
		t.Errorf("expected 4 passengers in %q", r.Text)
	}
}
