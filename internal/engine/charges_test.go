package engine_test

import (
	"errors"
	"testing"
	"time"

	"caretaker/internal/domain"
	"caretaker/internal/engine"
)

func mustFlat(t *testing.T, env testEnv) domain.Flat {
	t.Helper()
	occupant := "occupant-7"
	f, err := env.Engine.CreateFlat(env.Ctx, domain.Flat{
		BuildingID: "bld-1",
		Label:      "Flat 3B",
		OccupantID: &occupant,
	}, "manager")
	if err != nil {
		t.Fatalf("create flat: %v", err)
	}
	return f
}

func issueDemand(t *testing.T, env testEnv, flatID string, base, groundRent, paid int64) domain.ServiceChargeDemand {
	t.Helper()
	d, err := env.Engine.IssueDemand(env.Ctx, domain.ServiceChargeDemand{
		FlatID:           flatID,
		Period:           "2024-H1",
		BaseAmount:       base,
		GroundRentAmount: groundRent,
		AmountPaid:       paid,
		Rate:             1.5,
		DueDate:          "2024-03-31T00:00:00Z",
		Penalty:          domain.PenaltyConfig{FlatAmount: 25, Percent: 5, GraceDays: 14},
	}, "manager")
	if err != nil {
		t.Fatalf("issue demand: %v", err)
	}
	return d
}

func TestDemandTotals(t *testing.T) {
	env := newTestEnv(t)
	f := mustFlat(t, env)
	d := issueDemand(t, env, f.ID, 3000, 500, 2000)
	if d.TotalDue != 3500 {
		t.Fatalf("total due = %d, want 3500", d.TotalDue)
	}
	if d.Outstanding != 1500 {
		t.Fatalf("outstanding = %d, want 1500", d.Outstanding)
	}
	if d.Status != "Issued" {
		t.Fatalf("status = %q", d.Status)
	}
	got, err := env.Engine.Repo.GetDemand(env.Ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Rate != 1.5 {
		t.Fatalf("stored rate = %v, want 1.5", got.Rate)
	}
	if _, err := env.Engine.IssueDemand(env.Ctx, domain.ServiceChargeDemand{
		FlatID:     f.ID,
		Period:     "2024-H2",
		BaseAmount: 100,
		Rate:       -1,
		DueDate:    "2024-09-30T00:00:00Z",
	}, "manager"); err == nil {
		t.Fatalf("negative rate accepted")
	}
}

func TestPaymentsDeriveStatus(t *testing.T) {
	env := newTestEnv(t)
	f := mustFlat(t, env)
	d := issueDemand(t, env, f.ID, 3000, 500, 0)

	d, err := env.Engine.RecordPayment(env.Ctx, d.ID, 2000, "BACS-1", "manager")
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != "Partially Paid" || d.Outstanding != 1500 {
		t.Fatalf("after partial payment: status=%q outstanding=%d", d.Status, d.Outstanding)
	}

	// overpayment is rejected, nothing changes
	if _, err := env.Engine.RecordPayment(env.Ctx, d.ID, 2000, "", "manager"); err == nil {
		t.Fatalf("expected overpayment rejection")
	}
	d, _ = env.Engine.Repo.GetDemand(env.Ctx, d.ID)
	if d.Outstanding != 1500 {
		t.Fatalf("rejected payment mutated outstanding to %d", d.Outstanding)
	}

	d, err = env.Engine.RecordPayment(env.Ctx, d.ID, 1500, "BACS-2", "manager")
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != "Paid" || d.Outstanding != 0 {
		t.Fatalf("after clearing balance: status=%q outstanding=%d", d.Status, d.Outstanding)
	}
	if _, err := env.Engine.RecordPayment(env.Ctx, d.ID, 100, "", "manager"); err == nil {
		t.Fatalf("paid demand should not accept payments")
	}
}

func TestPenaltyAppliedAfterGrace(t *testing.T) {
	env := newTestEnv(t)
	f := mustFlat(t, env)
	d := issueDemand(t, env, f.ID, 3000, 500, 2000)

	// inside grace: due 2024-03-31 + 14 days
	applied, err := env.Engine.CheckAndApplyPenalties(env.Ctx, "bld-1", time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC), "system")
	if err != nil {
		t.Fatal(err)
	}
	if len(applied) != 0 {
		t.Fatalf("penalty applied inside grace period")
	}

	applied, err = env.Engine.CheckAndApplyPenalties(env.Ctx, "bld-1", time.Date(2024, 4, 20, 0, 0, 0, 0, time.UTC), "system")
	if err != nil {
		t.Fatal(err)
	}
	if len(applied) != 1 {
		t.Fatalf("applied to %d demands, want 1", len(applied))
	}
	got := applied[0]
	// 25 flat + 5% of 1500 outstanding
	if got.PenaltyAmount != 100 {
		t.Fatalf("penalty = %d, want 100", got.PenaltyAmount)
	}
	if got.TotalDue != 3600 || got.Outstanding != 1600 {
		t.Fatalf("totals after penalty: due=%d outstanding=%d", got.TotalDue, got.Outstanding)
	}
	if got.ID != d.ID {
		t.Fatalf("penalised demand %s, want %s", got.ID, d.ID)
	}
	if got.Status != "Overdue" {
		t.Fatalf("status = %q, want Overdue", got.Status)
	}
}

func TestPenaltyAppliesExactlyAtGraceDeadline(t *testing.T) {
	env := newTestEnv(t)
	f := mustFlat(t, env)
	d := issueDemand(t, env, f.ID, 3000, 500, 2000)

	// due 2024-03-31 + 14 grace days lands on 2024-04-14; a run at that
	// instant is already past grace, not still inside it
	applied, err := env.Engine.CheckAndApplyPenalties(env.Ctx, "bld-1", time.Date(2024, 4, 14, 0, 0, 0, 0, time.UTC), "system")
	if err != nil {
		t.Fatal(err)
	}
	if len(applied) != 1 {
		t.Fatalf("applied to %d demands at the deadline, want 1", len(applied))
	}
	if applied[0].ID != d.ID || applied[0].PenaltyAmount != 100 {
		t.Fatalf("penalty = %d on %s, want 100 on %s", applied[0].PenaltyAmount, applied[0].ID, d.ID)
	}
}

func TestPenaltyRunIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	f := mustFlat(t, env)
	d := issueDemand(t, env, f.ID, 3000, 500, 2000)
	asOf := time.Date(2024, 4, 20, 0, 0, 0, 0, time.UTC)

	if _, err := env.Engine.CheckAndApplyPenalties(env.Ctx, "bld-1", asOf, "system"); err != nil {
		t.Fatal(err)
	}
	applied, err := env.Engine.CheckAndApplyPenalties(env.Ctx, "bld-1", asOf.AddDate(0, 0, 30), "system")
	if err != nil {
		t.Fatal(err)
	}
	if len(applied) != 0 {
		t.Fatalf("second run re-applied the penalty")
	}
	got, err := env.Engine.Repo.GetDemand(env.Ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalDue != 3600 || got.PenaltyAmount != 100 {
		t.Fatalf("second run changed totals: due=%d penalty=%d", got.TotalDue, got.PenaltyAmount)
	}
	if n := entityLogCount(t, env, "charge", d.ID); n != 2 {
		// issue + one penalty entry
		t.Fatalf("activity entries = %d, want 2", n)
	}
}

func TestPenaltyCap(t *testing.T) {
	env := newTestEnv(t)
	f := mustFlat(t, env)
	d, err := env.Engine.IssueDemand(env.Ctx, domain.ServiceChargeDemand{
		FlatID:     f.ID,
		Period:     "2024-H2",
		BaseAmount: 100000,
		DueDate:    "2024-03-31T00:00:00Z",
		Penalty:    domain.PenaltyConfig{FlatAmount: 500, Percent: 10, GraceDays: 0, MaxAmount: 2000},
	}, "manager")
	if err != nil {
		t.Fatal(err)
	}
	applied, err := env.Engine.CheckAndApplyPenalties(env.Ctx, "bld-1", time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC), "system")
	if err != nil {
		t.Fatal(err)
	}
	if len(applied) != 1 {
		t.Fatalf("applied to %d demands", len(applied))
	}
	// uncapped would be 500 + 10000
	if applied[0].ID != d.ID || applied[0].PenaltyAmount != 2000 {
		t.Fatalf("penalty = %d, want capped 2000", applied[0].PenaltyAmount)
	}
}

func TestOverduePartialPaymentStaysOverdue(t *testing.T) {
	env := newTestEnv(t)
	f := mustFlat(t, env)
	d := issueDemand(t, env, f.ID, 3000, 500, 2000)
	if _, err := env.Engine.CheckAndApplyPenalties(env.Ctx, "bld-1", time.Date(2024, 4, 20, 0, 0, 0, 0, time.UTC), "system"); err != nil {
		t.Fatal(err)
	}
	d, err := env.Engine.RecordPayment(env.Ctx, d.ID, 600, "", "manager")
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != "Overdue" {
		t.Fatalf("partial payment moved status to %q", d.Status)
	}
	d, err = env.Engine.RecordPayment(env.Ctx, d.ID, d.Outstanding, "", "manager")
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != "Paid" {
		t.Fatalf("clearing balance left status %q", d.Status)
	}
}

func TestReminderCap(t *testing.T) {
	env := newTestEnv(t)
	f := mustFlat(t, env)
	d := issueDemand(t, env, f.ID, 3000, 0, 0)
	for i := 1; i <= 3; i++ {
		got, err := env.Engine.SendReminder(env.Ctx, d.ID, "manager")
		if err != nil {
			t.Fatalf("reminder %d: %v", i, err)
		}
		if got.RemindersSent != i {
			t.Fatalf("reminders sent = %d, want %d", got.RemindersSent, i)
		}
	}
	_, err := env.Engine.SendReminder(env.Ctx, d.ID, "manager")
	var rle engine.ReminderLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("expected ReminderLimitError, got %v", err)
	}
	if rle.Limit != 3 {
		t.Fatalf("limit = %d", rle.Limit)
	}
	got, _ := env.Engine.Repo.GetDemand(env.Ctx, d.ID)
	if got.RemindersSent != 3 {
		t.Fatalf("rejected reminder still incremented the counter")
	}
}
