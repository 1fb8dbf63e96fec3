package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"caretaker/internal/activity"
	"caretaker/internal/domain"
	"caretaker/internal/workflow"
)

func parseEventWindow(startsAt, endsAt string) (time.Time, time.Time, error) {
	start, err := time.Parse(time.RFC3339, startsAt)
	if err != nil {
		return time.Time{}, time.Time{}, validationErrorf("invalid starts_at %q", startsAt)
	}
	end, err := time.Parse(time.RFC3339, endsAt)
	if err != nil {
		return time.Time{}, time.Time{}, validationErrorf("invalid ends_at %q", endsAt)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, validationErrorf("ends_at must be after starts_at")
	}
	return start, end, nil
}

// CreateEvent schedules a calendar event. The time window is validated before
// anything is persisted; a rejected event leaves no trace.
func (e Engine) CreateEvent(ctx context.Context, ev domain.Event, actorID string) (domain.Event, error) {
	if ev.BuildingID == "" {
		return ev, validationErrorf("building is required")
	}
	if ev.Title == "" {
		return ev, validationErrorf("title is required")
	}
	if _, _, err := parseEventWindow(ev.StartsAt, ev.EndsAt); err != nil {
		return ev, err
	}
	if _, err := e.Repo.GetBuilding(ctx, ev.BuildingID); err != nil {
		return ev, err
	}
	if ev.TicketID != nil {
		if _, err := e.Repo.GetTicket(ctx, *ev.TicketID); err != nil {
			return ev, err
		}
	}
	ev.ID = uuid.New().String()
	ev.Status = string(workflow.EventScheduled)
	ev.CreatedAt = e.nowString()
	ev.UpdatedAt = ev.CreatedAt

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ev, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertEvent(ctx, tx, ev); err != nil {
		return ev, fmt.Errorf("insert event: %w", err)
	}
	err = e.activityWriter().Append(ctx, tx, "event.created", fmt.Sprintf("Event %q scheduled", ev.Title),
		ev.BuildingID, "event", ev.ID, actorID, activity.Payload{"starts_at": ev.StartsAt, "ends_at": ev.EndsAt})
	if err != nil {
		return ev, err
	}
	if err := tx.Commit(); err != nil {
		return ev, err
	}
	return ev, nil
}

// UpdateEventSchedule moves an event's time window. Cancelled and completed
// events keep their window; use the Reschedule/Reopen transition first.
func (e Engine) UpdateEventSchedule(ctx context.Context, eventID, startsAt, endsAt, actorID string) (domain.Event, error) {
	ev, err := e.Repo.GetEvent(ctx, eventID)
	if err != nil {
		return ev, err
	}
	if ev.Status != string(workflow.EventScheduled) {
		return ev, validationErrorf("event is %s, only scheduled events can be moved", ev.Status)
	}
	if _, _, err := parseEventWindow(startsAt, endsAt); err != nil {
		return ev, err
	}
	prevStart := ev.StartsAt
	ev.StartsAt = startsAt
	ev.EndsAt = endsAt
	ev.UpdatedAt = e.nowString()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ev, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateEvent(ctx, tx, ev); err != nil {
		return ev, err
	}
	err = e.activityWriter().Append(ctx, tx, "event.rescheduled", "Event window moved",
		ev.BuildingID, "event", ev.ID, actorID,
		activity.Payload{"previous_starts_at": prevStart, "starts_at": startsAt, "ends_at": endsAt})
	if err != nil {
		return ev, err
	}
	if err := tx.Commit(); err != nil {
		return ev, err
	}
	return ev, nil
}

// TransitionEvent moves an event along its lifecycle, including the
// completed->scheduled reopen and cancelled->scheduled reschedule edges.
func (e Engine) TransitionEvent(ctx context.Context, eventID, target, actorID string) (domain.Event, error) {
	ev, err := e.Repo.GetEvent(ctx, eventID)
	if err != nil {
		return ev, err
	}
	from := workflow.EventStatus(ev.Status)
	to := workflow.EventStatus(target)
	if err := workflow.EnsureEventTransition(from, to); err != nil {
		return ev, err
	}
	ev.Status = string(to)
	ev.UpdatedAt = e.nowString()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ev, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateEvent(ctx, tx, ev); err != nil {
		return ev, err
	}
	err = e.activityWriter().Append(ctx, tx, "event.transitioned",
		fmt.Sprintf("Event moved from %s to %s", from, to),
		ev.BuildingID, "event", ev.ID, actorID, activity.Payload{"from": string(from), "to": string(to)})
	if err != nil {
		return ev, err
	}
	if err := tx.Commit(); err != nil {
		return ev, err
	}
	return ev, nil
}
