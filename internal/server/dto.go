package server

import (
	"encoding/json"

	"caretaker/internal/domain"
	"caretaker/internal/workflow"
)

// Request payloads

type CreateBuildingRequest struct {
	ID      string  `json:"id"`
	Name    *string `json:"name,omitempty"`
	Address *string `json:"address,omitempty"`
}

type CreateFlatRequest struct {
	Label      string  `json:"label"`
	Floor      *int    `json:"floor,omitempty"`
	OccupantID *string `json:"occupant_id,omitempty"`
}

type CreateTicketRequest struct {
	Title       string   `json:"title"`
	Description *string  `json:"description,omitempty"`
	Location    *string  `json:"location,omitempty"`
	Urgency     *string  `json:"urgency,omitempty" enum:"Low,Medium,High,Critical"`
	RequesterID *string  `json:"requester_id,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

type TransitionRequest struct {
	Status string `json:"status"`
}

type AssignTicketRequest struct {
	AssigneeID *string `json:"assignee_id"`
}

type CreateQuoteRequest struct {
	SupplierID  string  `json:"supplier_id"`
	Amount      int64   `json:"amount" minimum:"1"`
	Description *string `json:"description,omitempty"`
}

type CreateCommentRequest struct {
	Body string `json:"body"`
}

type CreateWorkOrderRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Priority    *string `json:"priority,omitempty" enum:"Low,Medium,High,Urgent"`
	FlatID      *string `json:"flat_id,omitempty"`
	TicketID    *string `json:"ticket_id,omitempty"`
	SupplierID  *string `json:"supplier_id,omitempty"`
}

type FeedbackRequest struct {
	Rating  int     `json:"rating" minimum:"1" maximum:"5"`
	Comment *string `json:"comment,omitempty"`
}

type ResolveRequest struct {
	Notes *string `json:"notes,omitempty"`
	Cost  *int64  `json:"cost,omitempty"`
}

type CreateEventRequest struct {
	Title       string   `json:"title"`
	Description *string  `json:"description,omitempty"`
	Location    *string  `json:"location,omitempty"`
	StartsAt    string   `json:"starts_at" format:"date-time"`
	EndsAt      string   `json:"ends_at" format:"date-time"`
	TicketID    *string  `json:"ticket_id,omitempty"`
	Assignees   []string `json:"assignees,omitempty"`
}

type RescheduleEventRequest struct {
	StartsAt string `json:"starts_at" format:"date-time"`
	EndsAt   string `json:"ends_at" format:"date-time"`
}

type IssueDemandRequest struct {
	FlatID           string                `json:"flat_id"`
	Period           string                `json:"period"`
	BaseAmount       int64                 `json:"base_amount" minimum:"1"`
	GroundRentAmount *int64                `json:"ground_rent_amount,omitempty"`
	AmountPaid       *int64                `json:"amount_paid,omitempty"`
	Rate             *float64              `json:"rate,omitempty" minimum:"0" doc:"Apportionment rate for the flat, e.g. percentage of the building total"`
	DueDate          string                `json:"due_date" format:"date-time"`
	Penalty          *domain.PenaltyConfig `json:"penalty,omitempty"`
}

type RecordPaymentRequest struct {
	Amount    int64   `json:"amount" minimum:"1"`
	Reference *string `json:"reference,omitempty"`
}

type PenaltyRunRequest struct {
	AsOf *string `json:"as_of,omitempty" format:"date-time"`
}

// Response payloads

type ActionResponse struct {
	Label  string `json:"label"`
	Target string `json:"target"`
}

type ActionsResponse struct {
	Status  string           `json:"status"`
	Actions []ActionResponse `json:"actions"`
}

type ActivityResponse struct {
	ID          int64          `json:"id"`
	TS          string         `json:"ts" format:"date-time"`
	Action      string         `json:"action"`
	Description string         `json:"description,omitempty"`
	BuildingID  string         `json:"building_id,omitempty"`
	EntityKind  string         `json:"entity_kind"`
	EntityID    string         `json:"entity_id,omitempty"`
	PerformedBy string         `json:"performed_by"`
	Payload     map[string]any `json:"payload,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

func activityResponse(e domain.ActivityEntry) ActivityResponse {
	var payload map[string]any
	if e.Payload != "" {
		_ = json.Unmarshal([]byte(e.Payload), &payload)
	}
	return ActivityResponse{
		ID:          e.ID,
		TS:          e.TS,
		Action:      e.Action,
		Description: e.Description,
		BuildingID:  e.BuildingID,
		EntityKind:  e.EntityKind,
		EntityID:    e.EntityID,
		PerformedBy: e.PerformedBy,
		Payload:     payload,
	}
}

func mapActivity(entries []domain.ActivityEntry) []ActivityResponse {
	out := make([]ActivityResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, activityResponse(e))
	}
	return out
}

func ticketActionsResponse(status string) ActionsResponse {
	actions := workflow.TicketActions(workflow.TicketStatus(status))
	out := make([]ActionResponse, 0, len(actions))
	for _, a := range actions {
		out = append(out, ActionResponse{Label: a.Label, Target: string(a.Target)})
	}
	return ActionsResponse{Status: status, Actions: out}
}

func workOrderActionsResponse(status string) ActionsResponse {
	actions := workflow.WorkOrderActions(workflow.WorkOrderStatus(status))
	out := make([]ActionResponse, 0, len(actions))
	for _, a := range actions {
		out = append(out, ActionResponse{Label: a.Label, Target: string(a.Target)})
	}
	return ActionsResponse{Status: status, Actions: out}
}

func eventActionsResponse(status string) ActionsResponse {
	actions := workflow.EventActions(workflow.EventStatus(status))
	out := make([]ActionResponse, 0, len(actions))
	for _, a := range actions {
		out = append(out, ActionResponse{Label: a.Label, Target: string(a.Target)})
	}
	return ActionsResponse{Status: status, Actions: out}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt64(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
