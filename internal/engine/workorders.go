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

// CreateWorkOrder opens a work order in Triage. When TicketID is set the
// ticket must exist, and an unset priority is derived from the ticket's
// urgency through the configured mapping.
func (e Engine) CreateWorkOrder(ctx context.Context, w domain.WorkOrder, actorID string) (domain.WorkOrder, error) {
	if w.BuildingID == "" {
		return w, validationErrorf("building is required")
	}
	if w.Title == "" {
		return w, validationErrorf("title is required")
	}
	if _, err := e.Repo.GetBuilding(ctx, w.BuildingID); err != nil {
		return w, err
	}
	if w.TicketID != nil {
		t, err := e.Repo.GetTicket(ctx, *w.TicketID)
		if err != nil {
			return w, err
		}
		if t.BuildingID != w.BuildingID {
			return w, validationErrorf("ticket %s belongs to another building", t.ID)
		}
		if w.Priority == "" {
			w.Priority = e.Config.Tickets.UrgencyPriority[t.Urgency]
		}
	}
	if w.Priority == "" {
		w.Priority = "Medium"
	}
	if w.FlatID != nil {
		if _, err := e.Repo.GetFlat(ctx, *w.FlatID); err != nil {
			return w, err
		}
	}
	w.ID = uuid.New().String()
	w.Status = string(workflow.WorkOrderTriage)
	w.CreatedAt = e.nowString()
	w.UpdatedAt = w.CreatedAt

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return w, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertWorkOrder(ctx, tx, w); err != nil {
		return w, fmt.Errorf("insert work order: %w", err)
	}
	payload := activity.Payload{"priority": w.Priority, "status": w.Status}
	if w.TicketID != nil {
		payload["ticket_id"] = *w.TicketID
	}
	err = e.activityWriter().Append(ctx, tx, "workorder.created", fmt.Sprintf("Work order %q opened", w.Title),
		w.BuildingID, "workorder", w.ID, actorID, payload)
	if err != nil {
		return w, err
	}
	if err := tx.Commit(); err != nil {
		return w, err
	}
	return w, nil
}

// TransitionWorkOrder moves a work order along its edges.
func (e Engine) TransitionWorkOrder(ctx context.Context, workOrderID, target, actorID string) (domain.WorkOrder, error) {
	w, err := e.Repo.GetWorkOrder(ctx, workOrderID)
	if err != nil {
		return w, err
	}
	from := workflow.WorkOrderStatus(w.Status)
	to := workflow.WorkOrderStatus(target)
	if err := workflow.EnsureWorkOrderTransition(from, to); err != nil {
		return w, err
	}
	w.Status = string(to)
	w.UpdatedAt = e.nowString()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return w, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateWorkOrder(ctx, tx, w); err != nil {
		return w, err
	}
	err = e.activityWriter().Append(ctx, tx, "workorder.transitioned",
		fmt.Sprintf("Work order moved from %s to %s", from, to),
		w.BuildingID, "workorder", w.ID, actorID, activity.Payload{"from": string(from), "to": string(to)})
	if err != nil {
		return w, err
	}
	if err := tx.Commit(); err != nil {
		return w, err
	}

	if w.SupplierID != nil && to == workflow.WorkOrderScheduled {
		e.notify(ctx, *w.SupplierID, notify.Notification{
			Kind:    "workorder.scheduled",
			Title:   "Work order scheduled",
			Message: fmt.Sprintf("Work order %q moved to Scheduled", w.Title),
		})
	}
	return w, nil
}

// RecordFeedback stores occupant feedback on a work order awaiting it. A
// rating outside 1..5 is rejected.
func (e Engine) RecordFeedback(ctx context.Context, workOrderID string, rating int, comment, actorID string) (domain.WorkOrder, error) {
	if rating < 1 || rating > 5 {
		return domain.WorkOrder{}, validationErrorf("rating must be between 1 and 5")
	}
	w, err := e.Repo.GetWorkOrder(ctx, workOrderID)
	if err != nil {
		return w, err
	}
	if w.Status != string(workflow.WorkOrderFeedback) {
		return w, validationErrorf("work order is %s, feedback is only recorded while Awaiting User Feedback", w.Status)
	}
	w.FeedbackRating = &rating
	w.FeedbackComment = optionalString(comment)
	w.UpdatedAt = e.nowString()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return w, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateWorkOrder(ctx, tx, w); err != nil {
		return w, err
	}
	err = e.activityWriter().Append(ctx, tx, "workorder.feedback", fmt.Sprintf("Feedback recorded (%d/5)", rating),
		w.BuildingID, "workorder", w.ID, actorID, activity.Payload{"rating": rating})
	if err != nil {
		return w, err
	}
	if err := tx.Commit(); err != nil {
		return w, err
	}
	return w, nil
}

// ResolveWorkOrder transitions a scheduled work order to Resolved while
// capturing resolution notes and cost in the same commit.
func (e Engine) ResolveWorkOrder(ctx context.Context, workOrderID, notes string, cost *int64, actorID string) (domain.WorkOrder, error) {
	w, err := e.Repo.GetWorkOrder(ctx, workOrderID)
	if err != nil {
		return w, err
	}
	from := workflow.WorkOrderStatus(w.Status)
	if err := workflow.EnsureWorkOrderTransition(from, workflow.WorkOrderResolved); err != nil {
		return w, err
	}
	if cost != nil && *cost < 0 {
		return w, validationErrorf("resolution cost cannot be negative")
	}
	w.Status = string(workflow.WorkOrderResolved)
	w.ResolutionNotes = optionalString(notes)
	w.ResolutionCost = cost
	w.UpdatedAt = e.nowString()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return w, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateWorkOrder(ctx, tx, w); err != nil {
		return w, err
	}
	payload := activity.Payload{"from": string(from), "to": w.Status}
	if cost != nil {
		payload["resolution_cost"] = *cost
	}
	err = e.activityWriter().Append(ctx, tx, "workorder.resolved", "Work order resolved",
		w.BuildingID, "workorder", w.ID, actorID, payload)
	if err != nil {
		return w, err
	}
	if err := tx.Commit(); err != nil {
		return w, err
	}
	return w, nil
}

// ScheduleEventForWorkOrder creates a calendar event linked to the work
// order's ticket, if any, and records the visit date on the work order.
func (e Engine) ScheduleEventForWorkOrder(ctx context.Context, workOrderID, title, startsAt, endsAt, actorID string) (domain.Event, error) {
	w, err := e.Repo.GetWorkOrder(ctx, workOrderID)
	if err != nil {
		return domain.Event{}, err
	}
	if title == "" {
		title = w.Title
	}
	ev, err := e.CreateEvent(ctx, domain.Event{
		BuildingID: w.BuildingID,
		Title:      title,
		StartsAt:   startsAt,
		EndsAt:     endsAt,
		TicketID:   w.TicketID,
	}, actorID)
	if err != nil {
		return ev, err
	}

	w.ScheduledDate = &startsAt
	w.UpdatedAt = e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ev, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateWorkOrder(ctx, tx, w); err != nil {
		return ev, err
	}
	err = e.activityWriter().Append(ctx, tx, "workorder.visit_scheduled", "Visit scheduled",
		w.BuildingID, "workorder", w.ID, actorID, activity.Payload{"event_id": ev.ID, "starts_at": startsAt})
	if err != nil {
		return ev, err
	}
	if err := tx.Commit(); err != nil {
		return ev, err
	}
	return ev, nil
}
