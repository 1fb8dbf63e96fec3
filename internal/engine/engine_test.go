package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"caretaker/internal/config"
	"caretaker/internal/db"
	"caretaker/internal/domain"
	"caretaker/internal/engine"
	"caretaker/internal/migrate"
	"caretaker/internal/repo"
	"caretaker/internal/workflow"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("bld-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitBuilding(ctx, "bld-1", "Riverside House", "1 Quay St", "manager"); err != nil {
		t.Fatalf("init building: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func mustTicket(t *testing.T, env testEnv) domain.Ticket {
	t.Helper()
	tk, err := env.Engine.CreateTicket(env.Ctx, domain.Ticket{
		BuildingID:  "bld-1",
		Title:       "Leaking tap",
		Urgency:     "Medium",
		RequesterID: "occupant-7",
	}, "occupant-7")
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return tk
}

func entityLogCount(t *testing.T, env testEnv, kind, id string) int {
	t.Helper()
	n, err := env.Engine.Repo.CountActivity(env.Ctx, kind, id)
	if err != nil {
		t.Fatalf("count activity: %v", err)
	}
	return n
}

func TestTicketLifecycle(t *testing.T) {
	env := newTestEnv(t)
	tk := mustTicket(t, env)
	if tk.Status != "New Ticket" {
		t.Fatalf("new ticket status = %q", tk.Status)
	}
	for _, target := range []string{"Manager Review", "Quote Management", "Work Order", "Complete"} {
		var err error
		tk, err = env.Engine.TransitionTicket(env.Ctx, tk.ID, target, "manager")
		if err != nil {
			t.Fatalf("to %s: %v", target, err)
		}
		if tk.Status != target {
			t.Fatalf("status = %q, want %q", tk.Status, target)
		}
	}
	if tk.CompletedDate == nil {
		t.Fatalf("completed ticket should carry a completion date")
	}
	// creation + four transitions
	if n := entityLogCount(t, env, "ticket", tk.ID); n != 5 {
		t.Fatalf("activity entries = %d, want 5", n)
	}
}

func TestTicketSkipAheadRejected(t *testing.T) {
	env := newTestEnv(t)
	tk := mustTicket(t, env)
	before := entityLogCount(t, env, "ticket", tk.ID)

	_, err := env.Engine.TransitionTicket(env.Ctx, tk.ID, "Work Order", "manager")
	var ite workflow.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if ite.From != "New Ticket" || ite.To != "Work Order" {
		t.Fatalf("error edge = %s -> %s", ite.From, ite.To)
	}

	got, err := env.Engine.Repo.GetTicket(env.Ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "New Ticket" {
		t.Fatalf("rejected transition mutated status to %q", got.Status)
	}
	if after := entityLogCount(t, env, "ticket", tk.ID); after != before {
		t.Fatalf("rejected transition appended to the log: %d -> %d", before, after)
	}
}

func TestTicketClosedFromAnywhere(t *testing.T) {
	env := newTestEnv(t)
	tk := mustTicket(t, env)
	if _, err := env.Engine.TransitionTicket(env.Ctx, tk.ID, "Manager Review", "manager"); err != nil {
		t.Fatal(err)
	}
	tk, err := env.Engine.TransitionTicket(env.Ctx, tk.ID, "Closed", "manager")
	if err != nil {
		t.Fatalf("close from Manager Review: %v", err)
	}
	if _, err := env.Engine.TransitionTicket(env.Ctx, tk.ID, "Manager Review", "manager"); err == nil {
		t.Fatalf("closed ticket should be terminal")
	}
}

func TestQuoteAcceptanceRejectsSiblings(t *testing.T) {
	env := newTestEnv(t)
	tk := mustTicket(t, env)
	q1, err := env.Engine.AddQuote(env.Ctx, domain.Quote{ParentKind: "ticket", ParentID: tk.ID, SupplierID: "plumbco", Amount: 12500}, "manager")
	if err != nil {
		t.Fatal(err)
	}
	q2, err := env.Engine.AddQuote(env.Ctx, domain.Quote{ParentKind: "ticket", ParentID: tk.ID, SupplierID: "fixit", Amount: 9800}, "manager")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AcceptQuote(env.Ctx, q2.ID, "manager"); err != nil {
		t.Fatalf("accept quote: %v", err)
	}
	quotes, err := env.Engine.Repo.ListQuotes(env.Ctx, "ticket", tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	statuses := map[string]string{}
	for _, q := range quotes {
		statuses[q.ID] = q.Status
	}
	if statuses[q2.ID] != "accepted" || statuses[q1.ID] != "rejected" {
		t.Fatalf("quote statuses = %v", statuses)
	}
	// accepting twice is rejected
	if _, err := env.Engine.AcceptQuote(env.Ctx, q2.ID, "manager"); err == nil {
		t.Fatalf("expected second accept to fail")
	}
}

func TestWorkOrderFromTicketRoutesPriority(t *testing.T) {
	env := newTestEnv(t)
	tk, err := env.Engine.CreateTicket(env.Ctx, domain.Ticket{
		BuildingID:  "bld-1",
		Title:       "Gas smell in lobby",
		Urgency:     "Critical",
		RequesterID: "occupant-7",
	}, "occupant-7")
	if err != nil {
		t.Fatal(err)
	}
	w, err := env.Engine.CreateWorkOrder(env.Ctx, domain.WorkOrder{
		BuildingID: "bld-1",
		Title:      "Investigate gas smell",
		TicketID:   &tk.ID,
	}, "manager")
	if err != nil {
		t.Fatal(err)
	}
	if w.Priority != "Urgent" {
		t.Fatalf("priority = %q, want Urgent for a Critical ticket", w.Priority)
	}
	if w.Status != "Triage" {
		t.Fatalf("new work order status = %q", w.Status)
	}
}

func TestWorkOrderCancelFromScheduled(t *testing.T) {
	env := newTestEnv(t)
	w, err := env.Engine.CreateWorkOrder(env.Ctx, domain.WorkOrder{BuildingID: "bld-1", Title: "Repaint hallway"}, "manager")
	if err != nil {
		t.Fatal(err)
	}
	for _, target := range []string{"Quoting", "Awaiting User Feedback", "Scheduled"} {
		if w, err = env.Engine.TransitionWorkOrder(env.Ctx, w.ID, target, "manager"); err != nil {
			t.Fatalf("to %s: %v", target, err)
		}
	}
	before := entityLogCount(t, env, "workorder", w.ID)
	w, err = env.Engine.TransitionWorkOrder(env.Ctx, w.ID, "Cancelled", "manager")
	if err != nil {
		t.Fatalf("cancel from Scheduled: %v", err)
	}
	if w.Status != "Cancelled" {
		t.Fatalf("status = %q", w.Status)
	}
	if after := entityLogCount(t, env, "workorder", w.ID); after != before+1 {
		t.Fatalf("cancel appended %d entries, want 1", after-before)
	}
	// Resolved is not reachable from Cancelled
	if _, err := env.Engine.TransitionWorkOrder(env.Ctx, w.ID, "Resolved", "manager"); err == nil {
		t.Fatalf("cancelled work order should be terminal")
	}
}

func TestFeedbackOnlyWhileAwaiting(t *testing.T) {
	env := newTestEnv(t)
	w, err := env.Engine.CreateWorkOrder(env.Ctx, domain.WorkOrder{BuildingID: "bld-1", Title: "Fix door"}, "manager")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RecordFeedback(env.Ctx, w.ID, 4, "great", "occupant-7"); err == nil {
		t.Fatalf("feedback should be rejected in Triage")
	}
	if _, err := env.Engine.RecordFeedback(env.Ctx, w.ID, 9, "", "occupant-7"); err == nil {
		t.Fatalf("rating outside 1..5 should be rejected")
	}
	w, _ = env.Engine.TransitionWorkOrder(env.Ctx, w.ID, "Quoting", "manager")
	w, _ = env.Engine.TransitionWorkOrder(env.Ctx, w.ID, "Awaiting User Feedback", "manager")
	w, err = env.Engine.RecordFeedback(env.Ctx, w.ID, 4, "great", "occupant-7")
	if err != nil {
		t.Fatalf("record feedback: %v", err)
	}
	if w.FeedbackRating == nil || *w.FeedbackRating != 4 {
		t.Fatalf("rating not stored: %v", w.FeedbackRating)
	}
}

func TestResolveCapturesCost(t *testing.T) {
	env := newTestEnv(t)
	w, err := env.Engine.CreateWorkOrder(env.Ctx, domain.WorkOrder{BuildingID: "bld-1", Title: "Replace lock"}, "manager")
	if err != nil {
		t.Fatal(err)
	}
	for _, target := range []string{"Quoting", "Awaiting User Feedback", "Scheduled"} {
		w, _ = env.Engine.TransitionWorkOrder(env.Ctx, w.ID, target, "manager")
	}
	cost := int64(4500)
	w, err = env.Engine.ResolveWorkOrder(env.Ctx, w.ID, "lock swapped", &cost, "contractor-2")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if w.Status != "Resolved" || w.ResolutionCost == nil || *w.ResolutionCost != 4500 {
		t.Fatalf("resolution not recorded: %+v", w)
	}
}

func TestEventWindowValidatedBeforePersist(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateEvent(env.Ctx, domain.Event{
		BuildingID: "bld-1",
		Title:      "Boiler service",
		StartsAt:   "2024-03-11T08:00:00Z",
		EndsAt:     "2024-03-11T07:00:00Z",
	}, "manager")
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	events, err := env.Engine.Repo.ListEvents(env.Ctx, repo.EventFilters{BuildingID: "bld-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("rejected event was persisted: %+v", events)
	}
}

func TestEventReopenAndReschedule(t *testing.T) {
	env := newTestEnv(t)
	ev, err := env.Engine.CreateEvent(env.Ctx, domain.Event{
		BuildingID: "bld-1",
		Title:      "Fire alarm test",
		StartsAt:   "2024-03-11T08:00:00Z",
		EndsAt:     "2024-03-11T09:00:00Z",
	}, "manager")
	if err != nil {
		t.Fatal(err)
	}
	ev, err = env.Engine.TransitionEvent(env.Ctx, ev.ID, "cancelled", "manager")
	if err != nil {
		t.Fatal(err)
	}
	ev, err = env.Engine.TransitionEvent(env.Ctx, ev.ID, "scheduled", "manager")
	if err != nil {
		t.Fatalf("reschedule cancelled event: %v", err)
	}
	for _, target := range []string{"in-progress", "completed"} {
		if ev, err = env.Engine.TransitionEvent(env.Ctx, ev.ID, target, "manager"); err != nil {
			t.Fatalf("to %s: %v", target, err)
		}
	}
	if _, err := env.Engine.TransitionEvent(env.Ctx, ev.ID, "scheduled", "manager"); err != nil {
		t.Fatalf("reopen completed event: %v", err)
	}
	// completed -> in-progress is not an edge
	ev, _ = env.Engine.Repo.GetEvent(env.Ctx, ev.ID)
	if ev.Status != "scheduled" {
		t.Fatalf("status after reopen = %q", ev.Status)
	}
}

func TestActivityTimestampsFollowEngineClock(t *testing.T) {
	env := newTestEnv(t)
	tk := mustTicket(t, env)
	entries, err := env.Engine.Repo.ListActivity(env.Ctx, 10, 0, "bld-1", "", "ticket", tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 {
		t.Fatal("no activity entries for ticket")
	}
	// log entry and the row it describes share the injected clock
	if entries[0].TS != tk.CreatedAt {
		t.Fatalf("activity ts %q, ticket created_at %q", entries[0].TS, tk.CreatedAt)
	}
}

func TestActivityLogIsAppendOnlyPerTransition(t *testing.T) {
	env := newTestEnv(t)
	tk := mustTicket(t, env)
	first, err := env.Engine.Repo.ListActivity(env.Ctx, 50, 0, "bld-1", "", "ticket", tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.TransitionTicket(env.Ctx, tk.ID, "Manager Review", "manager"); err != nil {
		t.Fatal(err)
	}
	second, err := env.Engine.Repo.ListActivity(env.Ctx, 50, 0, "bld-1", "", "ticket", tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != len(first)+1 {
		t.Fatalf("log grew by %d, want 1", len(second)-len(first))
	}
	// earlier entries are untouched
	for i, e := range first {
		prev := second[len(second)-len(first)+i]
		if e.ID != prev.ID || e.Action != prev.Action || e.TS != prev.TS {
			t.Fatalf("existing entry changed: %+v vs %+v", e, prev)
		}
	}
}
