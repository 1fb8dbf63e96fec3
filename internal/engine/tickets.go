package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"caretaker/internal/activity"
	"caretaker/internal/domain"
	"caretaker/internal/notify"
	"caretaker/internal/workflow"
)

// CreateTicket opens a ticket in the New Ticket status.
func (e Engine) CreateTicket(ctx context.Context, t domain.Ticket, actorID string) (domain.Ticket, error) {
	if t.BuildingID == "" {
		return t, validationErrorf("building is required")
	}
	if t.Title == "" {
		return t, validationErrorf("title is required")
	}
	if t.Urgency == "" {
		t.Urgency = "Medium"
	}
	if _, ok := e.Config.Tickets.UrgencyPriority[t.Urgency]; !ok {
		return t, validationErrorf("unknown urgency %q", t.Urgency)
	}
	if _, err := e.Repo.GetBuilding(ctx, t.BuildingID); err != nil {
		return t, err
	}
	if t.RequesterID == "" {
		t.RequesterID = actorID
	}
	t.ID = uuid.New().String()
	t.Status = string(workflow.TicketNew)
	t.CreatedAt = e.nowString()
	t.UpdatedAt = t.CreatedAt

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTicket(ctx, tx, t); err != nil {
		return t, fmt.Errorf("insert ticket: %w", err)
	}
	err = e.activityWriter().Append(ctx, tx, "ticket.created", fmt.Sprintf("Ticket %q opened", t.Title),
		t.BuildingID, "ticket", t.ID, actorID, activity.Payload{"urgency": t.Urgency, "status": t.Status})
	if err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

// TransitionTicket moves a ticket to target, rejecting anything outside the
// edge set before touching the row. The status change and its activity entry
// commit together.
func (e Engine) TransitionTicket(ctx context.Context, ticketID, target, actorID string) (domain.Ticket, error) {
	t, err := e.Repo.GetTicket(ctx, ticketID)
	if err != nil {
		return t, err
	}
	from := workflow.TicketStatus(t.Status)
	to := workflow.TicketStatus(target)
	if err := workflow.EnsureTicketTransition(from, to); err != nil {
		return t, err
	}

	now := e.nowString()
	t.Status = string(to)
	t.UpdatedAt = now
	if to == workflow.TicketComplete {
		t.CompletedDate = &now
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTicket(ctx, tx, t); err != nil {
		return t, err
	}
	err = e.activityWriter().Append(ctx, tx, "ticket.transitioned",
		fmt.Sprintf("Ticket moved from %s to %s", from, to),
		t.BuildingID, "ticket", t.ID, actorID, activity.Payload{"from": string(from), "to": string(to)})
	if err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}

	if t.RequesterID != actorID {
		e.notify(ctx, t.RequesterID, notify.Notification{
			Kind:    "ticket.transitioned",
			Title:   "Ticket update",
			Message: fmt.Sprintf("Ticket %q is now %s", t.Title, to),
		})
	}
	return t, nil
}

// AssignTicket sets or clears the assignee.
func (e Engine) AssignTicket(ctx context.Context, ticketID string, assigneeID *string, actorID string) (domain.Ticket, error) {
	t, err := e.Repo.GetTicket(ctx, ticketID)
	if err != nil {
		return t, err
	}
	t.AssigneeID = assigneeID
	t.UpdatedAt = e.nowString()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTicket(ctx, tx, t); err != nil {
		return t, err
	}
	desc := "Ticket unassigned"
	payload := activity.Payload{}
	if assigneeID != nil {
		desc = fmt.Sprintf("Ticket assigned to %s", *assigneeID)
		payload["assignee_id"] = *assigneeID
	}
	if err := e.activityWriter().Append(ctx, tx, "ticket.assigned", desc, t.BuildingID, "ticket", t.ID, actorID, payload); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	if assigneeID != nil && *assigneeID != actorID {
		e.notify(ctx, *assigneeID, notify.Notification{
			Kind:    "ticket.assigned",
			Title:   "Ticket assigned",
			Message: fmt.Sprintf("You were assigned ticket %q", t.Title),
		})
	}
	return t, nil
}

// AddQuote attaches a supplier quote to a ticket or work order.
func (e Engine) AddQuote(ctx context.Context, q domain.Quote, actorID string) (domain.Quote, error) {
	if q.Amount <= 0 {
		return q, validationErrorf("quote amount must be positive")
	}
	if q.SupplierID == "" {
		return q, validationErrorf("supplier is required")
	}
	var buildingID string
	switch q.ParentKind {
	case "ticket":
		t, err := e.Repo.GetTicket(ctx, q.ParentID)
		if err != nil {
			return q, err
		}
		buildingID = t.BuildingID
	case "workorder":
		w, err := e.Repo.GetWorkOrder(ctx, q.ParentID)
		if err != nil {
			return q, err
		}
		buildingID = w.BuildingID
	default:
		return q, validationErrorf("unknown quote parent kind %q", q.ParentKind)
	}
	q.ID = uuid.New().String()
	q.Status = "submitted"
	q.CreatedAt = e.nowString()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return q, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertQuote(ctx, tx, q); err != nil {
		return q, err
	}
	err = e.activityWriter().Append(ctx, tx, "quote.submitted",
		fmt.Sprintf("Quote submitted by %s", q.SupplierID),
		buildingID, q.ParentKind, q.ParentID, actorID, activity.Payload{"quote_id": q.ID, "amount": q.Amount})
	if err != nil {
		return q, err
	}
	if err := tx.Commit(); err != nil {
		return q, err
	}
	return q, nil
}

// AcceptQuote accepts one quote and rejects its submitted siblings under the
// same parent, atomically.
func (e Engine) AcceptQuote(ctx context.Context, quoteID, actorID string) (domain.Quote, error) {
	q, err := e.Repo.GetQuote(ctx, quoteID)
	if err != nil {
		return q, err
	}
	if q.Status != "submitted" {
		return q, validationErrorf("quote is already %s", q.Status)
	}
	buildingID := ""
	switch q.ParentKind {
	case "ticket":
		t, err := e.Repo.GetTicket(ctx, q.ParentID)
		if err != nil {
			return q, err
		}
		buildingID = t.BuildingID
	case "workorder":
		w, err := e.Repo.GetWorkOrder(ctx, q.ParentID)
		if err != nil {
			return q, err
		}
		buildingID = w.BuildingID
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return q, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetQuoteStatus(ctx, tx, q.ID, "accepted"); err != nil {
		return q, err
	}
	if err := e.Repo.RejectSiblingQuotes(ctx, tx, q.ParentKind, q.ParentID, q.ID); err != nil {
		return q, err
	}
	err = e.activityWriter().Append(ctx, tx, "quote.accepted",
		fmt.Sprintf("Quote from %s accepted", q.SupplierID),
		buildingID, q.ParentKind, q.ParentID, actorID, activity.Payload{"quote_id": q.ID, "amount": q.Amount})
	if err != nil {
		return q, err
	}
	if err := tx.Commit(); err != nil {
		return q, err
	}
	q.Status = "accepted"
	return q, nil
}

// AddComment appends a comment to a ticket thread.
func (e Engine) AddComment(ctx context.Context, ticketID, body, actorID string) (domain.Comment, error) {
	if body == "" {
		return domain.Comment{}, validationErrorf("comment body is required")
	}
	t, err := e.Repo.GetTicket(ctx, ticketID)
	if err != nil {
		return domain.Comment{}, err
	}
	c := domain.Comment{
		ID:        uuid.New().String(),
		TicketID:  ticketID,
		AuthorID:  actorID,
		Body:      body,
		CreatedAt: e.nowString(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
		return c, err
	}
	err = e.activityWriter().Append(ctx, tx, "ticket.commented", "Comment added",
		t.BuildingID, "ticket", t.ID, actorID, activity.Payload{"comment_id": c.ID})
	if err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	if t.RequesterID != actorID {
		e.notify(ctx, t.RequesterID, notify.Notification{
			Kind:    "ticket.commented",
			Title:   "New comment",
			Message: fmt.Sprintf("New comment on ticket %q", t.Title),
		})
	}
	return c, nil
}
