package repo

import (
	"context"
	"database/sql"
	"strings"

	"caretaker/internal/domain"
)

const workOrderColumns = `id,building_id,flat_id,ticket_id,title,description,priority,status,scheduled_date,supplier_id,feedback_rating,feedback_comment,resolution_notes,resolution_cost,created_at,updated_at`

func (r Repo) InsertWorkOrder(ctx context.Context, tx *sql.Tx, w domain.WorkOrder) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO work_orders(`+workOrderColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		w.ID, w.BuildingID, nullableStringPtr(w.FlatID), nullableStringPtr(w.TicketID), w.Title, nullable(w.Description),
		w.Priority, w.Status, nullableStringPtr(w.ScheduledDate), nullableStringPtr(w.SupplierID),
		nullableIntPtr(w.FeedbackRating), nullableStringPtr(w.FeedbackComment),
		nullableStringPtr(w.ResolutionNotes), nullableInt64Ptr(w.ResolutionCost), w.CreatedAt, w.UpdatedAt)
	return err
}

func (r Repo) UpdateWorkOrder(ctx context.Context, tx *sql.Tx, w domain.WorkOrder) error {
	_, err := tx.ExecContext(ctx, `UPDATE work_orders SET flat_id=?, title=?, description=?, priority=?, status=?, scheduled_date=?, supplier_id=?, feedback_rating=?, feedback_comment=?, resolution_notes=?, resolution_cost=?, updated_at=? WHERE id=?`,
		nullableStringPtr(w.FlatID), w.Title, nullable(w.Description), w.Priority, w.Status,
		nullableStringPtr(w.ScheduledDate), nullableStringPtr(w.SupplierID),
		nullableIntPtr(w.FeedbackRating), nullableStringPtr(w.FeedbackComment),
		nullableStringPtr(w.ResolutionNotes), nullableInt64Ptr(w.ResolutionCost), w.UpdatedAt, w.ID)
	return err
}

func scanWorkOrder(scan func(dest ...any) error) (domain.WorkOrder, error) {
	var w domain.WorkOrder
	var flatID, ticketID, description, scheduled, supplier, feedbackComment, notes sql.NullString
	var rating sql.NullInt64
	var cost sql.NullInt64
	err := scan(&w.ID, &w.BuildingID, &flatID, &ticketID, &w.Title, &description, &w.Priority, &w.Status,
		&scheduled, &supplier, &rating, &feedbackComment, &notes, &cost, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	w.FlatID = strPtr(flatID)
	w.TicketID = strPtr(ticketID)
	if description.Valid {
		w.Description = description.String
	}
	w.ScheduledDate = strPtr(scheduled)
	w.SupplierID = strPtr(supplier)
	if rating.Valid {
		v := int(rating.Int64)
		w.FeedbackRating = &v
	}
	w.FeedbackComment = strPtr(feedbackComment)
	w.ResolutionNotes = strPtr(notes)
	if cost.Valid {
		v := cost.Int64
		w.ResolutionCost = &v
	}
	return w, nil
}

func (r Repo) GetWorkOrder(ctx context.Context, id string) (domain.WorkOrder, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE id=?`, id)
	return scanWorkOrder(row.Scan)
}

type WorkOrderFilters struct {
	BuildingID      string
	Status          string
	Priority        string
	SupplierID      string
	TicketID        string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListWorkOrders(ctx context.Context, f WorkOrderFilters) ([]domain.WorkOrder, error) {
	var clauses []string
	var args []any
	if f.BuildingID != "" {
		clauses = append(clauses, "building_id=?")
		args = append(args, f.BuildingID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, f.Priority)
	}
	if f.SupplierID != "" {
		clauses = append(clauses, "supplier_id=?")
		args = append(args, f.SupplierID)
	}
	if f.TicketID != "" {
		clauses = append(clauses, "ticket_id=?")
		args = append(args, f.TicketID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + workOrderColumns + ` FROM work_orders ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkOrder
	for rows.Next() {
		w, err := scanWorkOrder(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func (r Repo) CountWorkOrdersByStatus(ctx context.Context, buildingID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM work_orders WHERE building_id=? GROUP BY status`, buildingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}
