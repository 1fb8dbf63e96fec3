package workflow

import (
	"errors"
	"testing"
)

func TestTicketForwardPath(t *testing.T) {
	path := []TicketStatus{TicketNew, TicketManagerReview, TicketQuoteManagement, TicketWorkOrder, TicketComplete}
	for i := 0; i < len(path)-1; i++ {
		if err := EnsureTicketTransition(path[i], path[i+1]); err != nil {
			t.Fatalf("%s -> %s: %v", path[i], path[i+1], err)
		}
	}
}

func TestTicketSkipRejected(t *testing.T) {
	err := EnsureTicketTransition(TicketNew, TicketWorkOrder)
	if err == nil {
		t.Fatalf("expected rejection for New Ticket -> Work Order")
	}
	var ite InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %T", err)
	}
	if ite.From != string(TicketNew) || ite.To != string(TicketWorkOrder) {
		t.Fatalf("unexpected error detail: %+v", ite)
	}
}

func TestTicketClosedFromAnyNonTerminal(t *testing.T) {
	for _, s := range []TicketStatus{TicketNew, TicketManagerReview, TicketQuoteManagement, TicketWorkOrder} {
		if err := EnsureTicketTransition(s, TicketClosed); err != nil {
			t.Fatalf("%s -> Closed: %v", s, err)
		}
	}
	for _, s := range []TicketStatus{TicketComplete, TicketClosed} {
		if err := EnsureTicketTransition(s, TicketClosed); err == nil {
			t.Fatalf("expected %s terminal", s)
		}
	}
}

func TestWorkOrderEdges(t *testing.T) {
	valid := [][2]WorkOrderStatus{
		{WorkOrderTriage, WorkOrderQuoting},
		{WorkOrderQuoting, WorkOrderFeedback},
		{WorkOrderFeedback, WorkOrderScheduled},
		{WorkOrderScheduled, WorkOrderFeedback},
		{WorkOrderScheduled, WorkOrderResolved},
		{WorkOrderResolved, WorkOrderClosed},
		{WorkOrderTriage, WorkOrderCancelled},
		{WorkOrderQuoting, WorkOrderCancelled},
		{WorkOrderScheduled, WorkOrderCancelled},
	}
	for _, pair := range valid {
		if err := EnsureWorkOrderTransition(pair[0], pair[1]); err != nil {
			t.Fatalf("%s -> %s: %v", pair[0], pair[1], err)
		}
	}
	invalid := [][2]WorkOrderStatus{
		{WorkOrderTriage, WorkOrderScheduled},
		{WorkOrderFeedback, WorkOrderCancelled},
		{WorkOrderResolved, WorkOrderCancelled},
		{WorkOrderClosed, WorkOrderTriage},
		{WorkOrderCancelled, WorkOrderQuoting},
	}
	for _, pair := range invalid {
		if err := EnsureWorkOrderTransition(pair[0], pair[1]); err == nil {
			t.Fatalf("expected rejection for %s -> %s", pair[0], pair[1])
		}
	}
}

func TestEventBackEdges(t *testing.T) {
	if err := EnsureEventTransition(EventCompleted, EventScheduled); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := EnsureEventTransition(EventCancelled, EventScheduled); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if err := EnsureEventTransition(EventCompleted, EventInProgress); err == nil {
		t.Fatalf("expected rejection for completed -> in-progress")
	}
}

func TestExhaustiveInvalidPairsRejected(t *testing.T) {
	for _, from := range TicketStatuses() {
		allowed := map[TicketStatus]bool{}
		for _, a := range ticketEdges[from] {
			allowed[a] = true
		}
		for _, to := range TicketStatuses() {
			err := EnsureTicketTransition(from, to)
			if allowed[to] && err != nil {
				t.Fatalf("%s -> %s should be allowed: %v", from, to, err)
			}
			if !allowed[to] && err == nil {
				t.Fatalf("%s -> %s should be rejected", from, to)
			}
		}
	}
}

func TestActionLookupsTotalAndConsistent(t *testing.T) {
	for _, s := range TicketStatuses() {
		actions := TicketActions(s)
		if actions == nil {
			t.Fatalf("ticket actions for %s is nil", s)
		}
		for _, a := range actions {
			if err := EnsureTicketTransition(s, a.Target); err != nil {
				t.Fatalf("ticket action %q targets invalid edge %s -> %s", a.Label, s, a.Target)
			}
		}
	}
	for _, s := range WorkOrderStatuses() {
		actions := WorkOrderActions(s)
		if actions == nil {
			t.Fatalf("workorder actions for %s is nil", s)
		}
		for _, a := range actions {
			if err := EnsureWorkOrderTransition(s, a.Target); err != nil {
				t.Fatalf("workorder action %q targets invalid edge %s -> %s", a.Label, s, a.Target)
			}
		}
	}
	for _, s := range EventStatuses() {
		actions := EventActions(s)
		if actions == nil {
			t.Fatalf("event actions for %s is nil", s)
		}
		if s == EventScheduled || s == EventInProgress || s == EventCompleted || s == EventCancelled {
			if len(actions) == 0 {
				t.Fatalf("event status %s should expose at least one action", s)
			}
		}
		for _, a := range actions {
			if err := EnsureEventTransition(s, a.Target); err != nil {
				t.Fatalf("event action %q targets invalid edge %s -> %s", a.Label, s, a.Target)
			}
		}
	}
}

func TestUnknownStatusRejected(t *testing.T) {
	if err := EnsureTicketTransition(TicketStatus("Bogus"), TicketManagerReview); err == nil {
		t.Fatalf("expected unknown source status rejected")
	}
	if err := EnsureEventTransition(EventScheduled, EventStatus("paused")); err == nil {
		t.Fatalf("expected unknown target status rejected")
	}
	if TicketStatus("Bogus").Valid() {
		t.Fatalf("bogus status must not be valid")
	}
}
