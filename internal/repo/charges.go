package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"caretaker/internal/domain"
)

const demandColumns = `id,building_id,flat_id,period,rate,base_amount,ground_rent_amount,penalty_amount,total_due,amount_paid,outstanding,due_date,status,reminders_sent,penalty_config_json,penalty_applied_at,created_at,updated_at`

func (r Repo) InsertDemand(ctx context.Context, tx *sql.Tx, d domain.ServiceChargeDemand) error {
	penaltyJSON, err := json.Marshal(d.Penalty)
	if err != nil {
		return fmt.Errorf("marshal penalty config: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO service_charge_demands(`+demandColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.BuildingID, d.FlatID, d.Period, d.Rate, d.BaseAmount, d.GroundRentAmount, d.PenaltyAmount,
		d.TotalDue, d.AmountPaid, d.Outstanding, d.DueDate, d.Status, d.RemindersSent,
		string(penaltyJSON), nullableStringPtr(d.PenaltyAppliedAt), d.CreatedAt, d.UpdatedAt)
	return err
}

func (r Repo) UpdateDemand(ctx context.Context, tx *sql.Tx, d domain.ServiceChargeDemand) error {
	penaltyJSON, err := json.Marshal(d.Penalty)
	if err != nil {
		return fmt.Errorf("marshal penalty config: %w", err)
	}
	_, err = tx.ExecContext(ctx, `UPDATE service_charge_demands SET penalty_amount=?, total_due=?, amount_paid=?, outstanding=?, status=?, reminders_sent=?, penalty_config_json=?, penalty_applied_at=?, updated_at=? WHERE id=?`,
		d.PenaltyAmount, d.TotalDue, d.AmountPaid, d.Outstanding, d.Status, d.RemindersSent,
		string(penaltyJSON), nullableStringPtr(d.PenaltyAppliedAt), d.UpdatedAt, d.ID)
	return err
}

func scanDemand(scan func(dest ...any) error) (domain.ServiceChargeDemand, error) {
	var d domain.ServiceChargeDemand
	var rate sql.NullFloat64
	var penaltyJSON string
	var appliedAt sql.NullString
	err := scan(&d.ID, &d.BuildingID, &d.FlatID, &d.Period, &rate, &d.BaseAmount, &d.GroundRentAmount,
		&d.PenaltyAmount, &d.TotalDue, &d.AmountPaid, &d.Outstanding, &d.DueDate, &d.Status,
		&d.RemindersSent, &penaltyJSON, &appliedAt, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	if rate.Valid {
		d.Rate = rate.Float64
	}
	if err := json.Unmarshal([]byte(penaltyJSON), &d.Penalty); err != nil {
		return d, fmt.Errorf("unmarshal penalty config: %w", err)
	}
	d.PenaltyAppliedAt = strPtr(appliedAt)
	return d, nil
}

func (r Repo) GetDemand(ctx context.Context, id string) (domain.ServiceChargeDemand, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+demandColumns+` FROM service_charge_demands WHERE id=?`, id)
	return scanDemand(row.Scan)
}

type DemandFilters struct {
	BuildingID string
	FlatID     string
	Status     string
	Period     string
	Limit      int
}

func (r Repo) ListDemands(ctx context.Context, f DemandFilters) ([]domain.ServiceChargeDemand, error) {
	var clauses []string
	var args []any
	if f.BuildingID != "" {
		clauses = append(clauses, "building_id=?")
		args = append(args, f.BuildingID)
	}
	if f.FlatID != "" {
		clauses = append(clauses, "flat_id=?")
		args = append(args, f.FlatID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Period != "" {
		clauses = append(clauses, "period=?")
		args = append(args, f.Period)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + demandColumns + ` FROM service_charge_demands ` + where + ` ORDER BY due_date ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ServiceChargeDemand
	for rows.Next() {
		d, err := scanDemand(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// ListOutstandingDemands returns every demand in the building that is not yet
// fully paid, for the penalty sweep.
func (r Repo) ListOutstandingDemands(ctx context.Context, buildingID string) ([]domain.ServiceChargeDemand, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+demandColumns+` FROM service_charge_demands WHERE building_id=? AND status != 'Paid' ORDER BY due_date ASC, id ASC`, buildingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ServiceChargeDemand
	for rows.Next() {
		d, err := scanDemand(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}
