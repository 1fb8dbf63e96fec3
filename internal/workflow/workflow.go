// Package workflow holds the status state machines for tickets, work orders,
// calendar events and service-charge demands. It is pure: transition checks
// mutate nothing and touch no storage, so callers validate first and commit
// the status change plus its activity entry together.
package workflow

import "fmt"

type TicketStatus string

const (
	TicketNew             TicketStatus = "New Ticket"
	TicketManagerReview   TicketStatus = "Manager Review"
	TicketQuoteManagement TicketStatus = "Quote Management"
	TicketWorkOrder       TicketStatus = "Work Order"
	TicketComplete        TicketStatus = "Complete"
	TicketClosed          TicketStatus = "Closed"
)

type WorkOrderStatus string

const (
	WorkOrderTriage    WorkOrderStatus = "Triage"
	WorkOrderQuoting   WorkOrderStatus = "Quoting"
	WorkOrderFeedback  WorkOrderStatus = "Awaiting User Feedback"
	WorkOrderScheduled WorkOrderStatus = "Scheduled"
	WorkOrderResolved  WorkOrderStatus = "Resolved"
	WorkOrderClosed    WorkOrderStatus = "Closed"
	WorkOrderCancelled WorkOrderStatus = "Cancelled"
)

type EventStatus string

const (
	EventScheduled  EventStatus = "scheduled"
	EventInProgress EventStatus = "in-progress"
	EventCompleted  EventStatus = "completed"
	EventCancelled  EventStatus = "cancelled"
)

type ChargeStatus string

const (
	ChargeIssued        ChargeStatus = "Issued"
	ChargePartiallyPaid ChargeStatus = "Partially Paid"
	ChargePaid          ChargeStatus = "Paid"
	ChargeOverdue       ChargeStatus = "Overdue"
)

// InvalidTransitionError reports a requested target status that is not in the
// allowed-edges set for the current status. The request is rejected before
// any mutation.
type InvalidTransitionError struct {
	Kind string
	From string
	To   string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s status transition %s -> %s", e.Kind, e.From, e.To)
}

// ticketEdges includes the forward pipeline, one back-edge per forward edge,
// and Closed from every non-terminal status. Complete and Closed are terminal.
var ticketEdges = map[TicketStatus][]TicketStatus{
	TicketNew:             {TicketManagerReview, TicketClosed},
	TicketManagerReview:   {TicketQuoteManagement, TicketNew, TicketClosed},
	TicketQuoteManagement: {TicketWorkOrder, TicketManagerReview, TicketClosed},
	TicketWorkOrder:       {TicketComplete, TicketQuoteManagement, TicketClosed},
	TicketComplete:        {},
	TicketClosed:          {},
}

var workOrderEdges = map[WorkOrderStatus][]WorkOrderStatus{
	WorkOrderTriage:    {WorkOrderQuoting, WorkOrderCancelled},
	WorkOrderQuoting:   {WorkOrderFeedback, WorkOrderCancelled},
	WorkOrderFeedback:  {WorkOrderScheduled},
	WorkOrderScheduled: {WorkOrderFeedback, WorkOrderResolved, WorkOrderCancelled},
	WorkOrderResolved:  {WorkOrderClosed},
	WorkOrderClosed:    {},
	WorkOrderCancelled: {},
}

var eventEdges = map[EventStatus][]EventStatus{
	EventScheduled:  {EventInProgress, EventCancelled},
	EventInProgress: {EventCompleted, EventCancelled},
	EventCompleted:  {EventScheduled},
	EventCancelled:  {EventScheduled},
}

// Charge transitions are derived from payments and the penalty clock, not
// requested by actors, but the edge table is kept for the same validation law.
var chargeEdges = map[ChargeStatus][]ChargeStatus{
	ChargeIssued:        {ChargePartiallyPaid, ChargePaid, ChargeOverdue},
	ChargePartiallyPaid: {ChargePaid, ChargeOverdue},
	ChargeOverdue:       {ChargePaid},
	ChargePaid:          {},
}

func (s TicketStatus) Valid() bool {
	_, ok := ticketEdges[s]
	return ok
}

func (s WorkOrderStatus) Valid() bool {
	_, ok := workOrderEdges[s]
	return ok
}

func (s EventStatus) Valid() bool {
	_, ok := eventEdges[s]
	return ok
}

func (s ChargeStatus) Valid() bool {
	_, ok := chargeEdges[s]
	return ok
}

func contains[S comparable](set []S, v S) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// EnsureTicketTransition rejects targets outside the allowed-edges set.
func EnsureTicketTransition(from, to TicketStatus) error {
	if !from.Valid() || !to.Valid() || !contains(ticketEdges[from], to) {
		return InvalidTransitionError{Kind: "ticket", From: string(from), To: string(to)}
	}
	return nil
}

func EnsureWorkOrderTransition(from, to WorkOrderStatus) error {
	if !from.Valid() || !to.Valid() || !contains(workOrderEdges[from], to) {
		return InvalidTransitionError{Kind: "workorder", From: string(from), To: string(to)}
	}
	return nil
}

func EnsureEventTransition(from, to EventStatus) error {
	if !from.Valid() || !to.Valid() || !contains(eventEdges[from], to) {
		return InvalidTransitionError{Kind: "event", From: string(from), To: string(to)}
	}
	return nil
}

func EnsureChargeTransition(from, to ChargeStatus) error {
	if !from.Valid() || !to.Valid() || !contains(chargeEdges[from], to) {
		return InvalidTransitionError{Kind: "charge", From: string(from), To: string(to)}
	}
	return nil
}

// TicketStatuses enumerates every ticket status. The other enumerations below
// exist so action lookups can be checked for totality.
func TicketStatuses() []TicketStatus {
	return []TicketStatus{TicketNew, TicketManagerReview, TicketQuoteManagement, TicketWorkOrder, TicketComplete, TicketClosed}
}

func WorkOrderStatuses() []WorkOrderStatus {
	return []WorkOrderStatus{WorkOrderTriage, WorkOrderQuoting, WorkOrderFeedback, WorkOrderScheduled, WorkOrderResolved, WorkOrderClosed, WorkOrderCancelled}
}

func EventStatuses() []EventStatus {
	return []EventStatus{EventScheduled, EventInProgress, EventCompleted, EventCancelled}
}

func ChargeStatuses() []ChargeStatus {
	return []ChargeStatus{ChargeIssued, ChargePartiallyPaid, ChargePaid, ChargeOverdue}
}
