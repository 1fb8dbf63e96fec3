package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"caretaker/internal/activity"
	"caretaker/internal/domain"
	"caretaker/internal/notify"
	"caretaker/internal/workflow"
)

// ReminderLimitError is returned when a demand has already received the
// configured maximum number of reminders.
type ReminderLimitError struct {
	DemandID string
	Limit    int
}

func (e ReminderLimitError) Error() string {
	return fmt.Sprintf("demand %s already received %d reminders", e.DemandID, e.Limit)
}

// IssueDemand creates a service-charge demand in the Issued status. Totals
// are computed here, never trusted from the caller: total due is base plus
// ground rent, outstanding is total due minus anything already paid.
func (e Engine) IssueDemand(ctx context.Context, d domain.ServiceChargeDemand, actorID string) (domain.ServiceChargeDemand, error) {
	if d.FlatID == "" {
		return d, validationErrorf("flat is required")
	}
	if d.Period == "" {
		return d, validationErrorf("period is required")
	}
	if d.BaseAmount <= 0 {
		return d, validationErrorf("base amount must be positive")
	}
	if d.GroundRentAmount < 0 || d.AmountPaid < 0 {
		return d, validationErrorf("amounts cannot be negative")
	}
	if d.Rate < 0 {
		return d, validationErrorf("rate cannot be negative")
	}
	if _, err := time.Parse(time.RFC3339, d.DueDate); err != nil {
		return d, validationErrorf("invalid due date %q", d.DueDate)
	}
	flat, err := e.Repo.GetFlat(ctx, d.FlatID)
	if err != nil {
		return d, err
	}
	d.BuildingID = flat.BuildingID
	if d.Penalty == (domain.PenaltyConfig{}) {
		p := e.Config.ServiceCharges.Penalty
		d.Penalty = domain.PenaltyConfig{
			FlatAmount: p.FlatAmount,
			Percent:    p.Percent,
			GraceDays:  p.GraceDays,
			MaxAmount:  p.MaxAmount,
		}
	}
	d.ID = uuid.New().String()
	d.PenaltyAmount = 0
	d.TotalDue = d.BaseAmount + d.GroundRentAmount
	d.Outstanding = d.TotalDue - d.AmountPaid
	d.Status = string(workflow.ChargeIssued)
	d.RemindersSent = 0
	d.CreatedAt = e.nowString()
	d.UpdatedAt = d.CreatedAt

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return d, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertDemand(ctx, tx, d); err != nil {
		return d, fmt.Errorf("insert demand: %w", err)
	}
	err = e.activityWriter().Append(ctx, tx, "charge.issued",
		fmt.Sprintf("Service charge demand issued for %s", d.Period),
		d.BuildingID, "charge", d.ID, actorID,
		activity.Payload{"flat_id": d.FlatID, "total_due": d.TotalDue, "due_date": d.DueDate})
	if err != nil {
		return d, err
	}
	if err := tx.Commit(); err != nil {
		return d, err
	}

	if flat.OccupantID != nil {
		e.notify(ctx, *flat.OccupantID, notify.Notification{
			Kind:    "charge.issued",
			Title:   "Service charge demand",
			Message: fmt.Sprintf("A demand for %s is due by %s", d.Period, d.DueDate),
		})
	}
	return d, nil
}

// RecordPayment applies a payment to a demand and re-derives its status.
// Clearing the balance moves any status to Paid; a partial payment moves
// Issued to Partially Paid but leaves Overdue as it stands.
func (e Engine) RecordPayment(ctx context.Context, demandID string, amount int64, reference, actorID string) (domain.ServiceChargeDemand, error) {
	if amount <= 0 {
		return domain.ServiceChargeDemand{}, validationErrorf("payment amount must be positive")
	}
	d, err := e.Repo.GetDemand(ctx, demandID)
	if err != nil {
		return d, err
	}
	if d.Status == string(workflow.ChargePaid) {
		return d, validationErrorf("demand is already paid in full")
	}
	if amount > d.Outstanding {
		return d, validationErrorf("payment %d exceeds outstanding balance %d", amount, d.Outstanding)
	}

	from := workflow.ChargeStatus(d.Status)
	d.AmountPaid += amount
	d.Outstanding = d.TotalDue - d.AmountPaid
	to := from
	switch {
	case d.Outstanding == 0:
		to = workflow.ChargePaid
	case from == workflow.ChargeIssued:
		to = workflow.ChargePartiallyPaid
	}
	if to != from {
		if err := workflow.EnsureChargeTransition(from, to); err != nil {
			return d, err
		}
		d.Status = string(to)
	}
	d.UpdatedAt = e.nowString()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return d, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateDemand(ctx, tx, d); err != nil {
		return d, err
	}
	payload := activity.Payload{"amount": amount, "outstanding": d.Outstanding, "status": d.Status}
	if reference != "" {
		payload["reference"] = reference
	}
	err = e.activityWriter().Append(ctx, tx, "charge.payment_recorded",
		fmt.Sprintf("Payment of %d received", amount),
		d.BuildingID, "charge", d.ID, actorID, payload)
	if err != nil {
		return d, err
	}
	if err := tx.Commit(); err != nil {
		return d, err
	}
	return d, nil
}

// CheckAndApplyPenalties scans a building's unpaid demands as of the given
// time and applies the late penalty to each demand whose grace period has
// lapsed. The penalty is flat amount plus percent of the outstanding balance,
// capped at the configured maximum, and is applied at most once per demand;
// a second run over the same demands changes nothing. Returns the demands
// penalised on this run.
func (e Engine) CheckAndApplyPenalties(ctx context.Context, buildingID string, asOf time.Time, actorID string) ([]domain.ServiceChargeDemand, error) {
	demands, err := e.Repo.ListOutstandingDemands(ctx, buildingID)
	if err != nil {
		return nil, err
	}
	var applied []domain.ServiceChargeDemand
	for _, d := range demands {
		if d.PenaltyAppliedAt != nil {
			continue
		}
		due, err := time.Parse(time.RFC3339, d.DueDate)
		if err != nil {
			return applied, fmt.Errorf("demand %s: bad due date %q", d.ID, d.DueDate)
		}
		// The grace period lapses at due+grace inclusive: a run at exactly
		// the deadline applies the penalty.
		deadline := due.AddDate(0, 0, d.Penalty.GraceDays)
		if asOf.Before(deadline) {
			continue
		}

		penalty := d.Penalty.FlatAmount + int64(float64(d.Outstanding)*d.Penalty.Percent/100)
		if d.Penalty.MaxAmount > 0 && penalty > d.Penalty.MaxAmount {
			penalty = d.Penalty.MaxAmount
		}
		if penalty == 0 {
			continue
		}

		from := workflow.ChargeStatus(d.Status)
		d.PenaltyAmount += penalty
		d.TotalDue += penalty
		d.Outstanding = d.TotalDue - d.AmountPaid
		if from != workflow.ChargeOverdue {
			if err := workflow.EnsureChargeTransition(from, workflow.ChargeOverdue); err != nil {
				return applied, err
			}
			d.Status = string(workflow.ChargeOverdue)
		}
		appliedAt := asOf.UTC().Format(time.RFC3339)
		d.PenaltyAppliedAt = &appliedAt
		d.UpdatedAt = e.nowString()

		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return applied, err
		}
		if err := e.applyPenaltyTx(ctx, tx, d, penalty, actorID); err != nil {
			tx.Rollback()
			return applied, err
		}
		if err := tx.Commit(); err != nil {
			return applied, err
		}
		applied = append(applied, d)
	}
	return applied, nil
}

func (e Engine) applyPenaltyTx(ctx context.Context, tx *sql.Tx, d domain.ServiceChargeDemand, penalty int64, actorID string) error {
	if err := e.Repo.UpdateDemand(ctx, tx, d); err != nil {
		return err
	}
	return e.activityWriter().Append(ctx, tx, "charge.penalty_applied",
		fmt.Sprintf("Late penalty of %d applied", penalty),
		d.BuildingID, "charge", d.ID, actorID,
		activity.Payload{"penalty": penalty, "total_due": d.TotalDue, "outstanding": d.Outstanding})
}

// SendReminder records a payment reminder against an unpaid demand and
// notifies the flat occupant. Once the configured cap is reached further
// requests fail with ReminderLimitError.
func (e Engine) SendReminder(ctx context.Context, demandID, actorID string) (domain.ServiceChargeDemand, error) {
	d, err := e.Repo.GetDemand(ctx, demandID)
	if err != nil {
		return d, err
	}
	if d.Status == string(workflow.ChargePaid) {
		return d, validationErrorf("demand is already paid in full")
	}
	limit := e.Config.ServiceCharges.Reminders.MaxReminders
	if limit > 0 && d.RemindersSent >= limit {
		return d, ReminderLimitError{DemandID: d.ID, Limit: limit}
	}
	d.RemindersSent++
	d.UpdatedAt = e.nowString()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return d, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateDemand(ctx, tx, d); err != nil {
		return d, err
	}
	err = e.activityWriter().Append(ctx, tx, "charge.reminder_sent",
		fmt.Sprintf("Payment reminder %d sent", d.RemindersSent),
		d.BuildingID, "charge", d.ID, actorID,
		activity.Payload{"reminders_sent": d.RemindersSent, "outstanding": d.Outstanding})
	if err != nil {
		return d, err
	}
	if err := tx.Commit(); err != nil {
		return d, err
	}

	if flat, err := e.Repo.GetFlat(ctx, d.FlatID); err == nil && flat.OccupantID != nil {
		e.notify(ctx, *flat.OccupantID, notify.Notification{
			Kind:    "charge.reminder",
			Title:   "Payment reminder",
			Message: fmt.Sprintf("Reminder: %d outstanding on the %s service charge", d.Outstanding, d.Period),
		})
	}
	return d, nil
}
