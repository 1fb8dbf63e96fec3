package workflow

// TicketAction is one UI-exposed next step for a ticket in a given status.
type TicketAction struct {
	Label  string       `json:"label"`
	Target TicketStatus `json:"target_status"`
}

type WorkOrderAction struct {
	Label  string          `json:"label"`
	Target WorkOrderStatus `json:"target_status"`
}

type EventAction struct {
	Label  string      `json:"label"`
	Target EventStatus `json:"target_status"`
}

var ticketActions = map[TicketStatus][]TicketAction{
	TicketNew: {
		{Label: "Send to Manager Review", Target: TicketManagerReview},
		{Label: "Close Ticket", Target: TicketClosed},
	},
	TicketManagerReview: {
		{Label: "Request Quotes", Target: TicketQuoteManagement},
		{Label: "Return to New Ticket", Target: TicketNew},
		{Label: "Close Ticket", Target: TicketClosed},
	},
	TicketQuoteManagement: {
		{Label: "Raise Work Order", Target: TicketWorkOrder},
		{Label: "Back to Manager Review", Target: TicketManagerReview},
		{Label: "Close Ticket", Target: TicketClosed},
	},
	TicketWorkOrder: {
		{Label: "Mark Complete", Target: TicketComplete},
		{Label: "Back to Quote Management", Target: TicketQuoteManagement},
		{Label: "Close Ticket", Target: TicketClosed},
	},
	TicketComplete: {},
	TicketClosed:   {},
}

var workOrderActions = map[WorkOrderStatus][]WorkOrderAction{
	WorkOrderTriage: {
		{Label: "Start Quoting", Target: WorkOrderQuoting},
		{Label: "Cancel", Target: WorkOrderCancelled},
	},
	WorkOrderQuoting: {
		{Label: "Request User Feedback", Target: WorkOrderFeedback},
		{Label: "Cancel", Target: WorkOrderCancelled},
	},
	WorkOrderFeedback: {
		{Label: "Schedule Work", Target: WorkOrderScheduled},
	},
	WorkOrderScheduled: {
		{Label: "Request User Feedback", Target: WorkOrderFeedback},
		{Label: "Mark Resolved", Target: WorkOrderResolved},
		{Label: "Cancel", Target: WorkOrderCancelled},
	},
	WorkOrderResolved: {
		{Label: "Close", Target: WorkOrderClosed},
	},
	WorkOrderClosed:    {},
	WorkOrderCancelled: {},
}

var eventActions = map[EventStatus][]EventAction{
	EventScheduled: {
		{Label: "Start Event", Target: EventInProgress},
		{Label: "Cancel", Target: EventCancelled},
	},
	EventInProgress: {
		{Label: "Complete", Target: EventCompleted},
		{Label: "Cancel", Target: EventCancelled},
	},
	EventCompleted: {
		{Label: "Reopen", Target: EventScheduled},
	},
	EventCancelled: {
		{Label: "Reschedule", Target: EventScheduled},
	},
}

// TicketActions is total over the ticket status set: terminal statuses map to
// an explicit empty list, never nil for a known status.
func TicketActions(s TicketStatus) []TicketAction {
	if a, ok := ticketActions[s]; ok {
		if a == nil {
			return []TicketAction{}
		}
		return a
	}
	return []TicketAction{}
}

func WorkOrderActions(s WorkOrderStatus) []WorkOrderAction {
	if a, ok := workOrderActions[s]; ok {
		if a == nil {
			return []WorkOrderAction{}
		}
		return a
	}
	return []WorkOrderAction{}
}

func EventActions(s EventStatus) []EventAction {
	if a, ok := eventActions[s]; ok {
		if a == nil {
			return []EventAction{}
		}
		return a
	}
	return []EventAction{}
}
