package repo

import (
	"context"
	"database/sql"
	"strings"

	"caretaker/internal/domain"
)

const ticketColumns = `id,building_id,title,description,location,urgency,status,requester_id,assignee_id,attachments_json,scheduled_date,completed_date,created_at,updated_at`

func (r Repo) InsertTicket(ctx context.Context, tx *sql.Tx, t domain.Ticket) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tickets(`+ticketColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.BuildingID, t.Title, nullable(t.Description), nullable(t.Location), t.Urgency, t.Status,
		t.RequesterID, nullableStringPtr(t.AssigneeID), marshalStrings(t.Attachments),
		nullableStringPtr(t.ScheduledDate), nullableStringPtr(t.CompletedDate), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateTicket(ctx context.Context, tx *sql.Tx, t domain.Ticket) error {
	_, err := tx.ExecContext(ctx, `UPDATE tickets SET title=?, description=?, location=?, urgency=?, status=?, assignee_id=?, attachments_json=?, scheduled_date=?, completed_date=?, updated_at=? WHERE id=?`,
		t.Title, nullable(t.Description), nullable(t.Location), t.Urgency, t.Status,
		nullableStringPtr(t.AssigneeID), marshalStrings(t.Attachments),
		nullableStringPtr(t.ScheduledDate), nullableStringPtr(t.CompletedDate), t.UpdatedAt, t.ID)
	return err
}

func scanTicket(scan func(dest ...any) error) (domain.Ticket, error) {
	var t domain.Ticket
	var description, location, assignee, attachments, scheduled, completed sql.NullString
	err := scan(&t.ID, &t.BuildingID, &t.Title, &description, &location, &t.Urgency, &t.Status,
		&t.RequesterID, &assignee, &attachments, &scheduled, &completed, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if description.Valid {
		t.Description = description.String
	}
	if location.Valid {
		t.Location = location.String
	}
	t.AssigneeID = strPtr(assignee)
	t.Attachments = unmarshalStrings(attachments)
	t.ScheduledDate = strPtr(scheduled)
	t.CompletedDate = strPtr(completed)
	return t, nil
}

func (r Repo) GetTicket(ctx context.Context, id string) (domain.Ticket, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id=?`, id)
	return scanTicket(row.Scan)
}

type TicketFilters struct {
	BuildingID      string
	Status          string
	Urgency         string
	RequesterID     string
	AssigneeID      string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListTickets(ctx context.Context, f TicketFilters) ([]domain.Ticket, error) {
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
	if f.Urgency != "" {
		clauses = append(clauses, "urgency=?")
		args = append(args, f.Urgency)
	}
	if f.RequesterID != "" {
		clauses = append(clauses, "requester_id=?")
		args = append(args, f.RequesterID)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + ticketColumns + ` FROM tickets ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) CountTicketsByStatus(ctx context.Context, buildingID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tickets WHERE building_id=? GROUP BY status`, buildingID)
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

func (r Repo) InsertQuote(ctx context.Context, tx *sql.Tx, q domain.Quote) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO quotes(id,parent_kind,parent_id,supplier_id,amount,description,status,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		q.ID, q.ParentKind, q.ParentID, q.SupplierID, q.Amount, nullable(q.Description), q.Status, q.CreatedAt)
	return err
}

func (r Repo) GetQuote(ctx context.Context, id string) (domain.Quote, error) {
	var q domain.Quote
	var description sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,parent_kind,parent_id,supplier_id,amount,description,status,created_at FROM quotes WHERE id=?`, id).
		Scan(&q.ID, &q.ParentKind, &q.ParentID, &q.SupplierID, &q.Amount, &description, &q.Status, &q.CreatedAt)
	if err == sql.ErrNoRows {
		return q, ErrNotFound
	}
	if err != nil {
		return q, err
	}
	if description.Valid {
		q.Description = description.String
	}
	return q, nil
}

func (r Repo) SetQuoteStatus(ctx context.Context, tx *sql.Tx, id, status string) error {
	_, err := tx.ExecContext(ctx, `UPDATE quotes SET status=? WHERE id=?`, status, id)
	return err
}

// RejectSiblingQuotes marks every other submitted quote on the same parent
// rejected; accepting one quote settles the round.
func (r Repo) RejectSiblingQuotes(ctx context.Context, tx *sql.Tx, parentKind, parentID, acceptedID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE quotes SET status='rejected' WHERE parent_kind=? AND parent_id=? AND id != ? AND status='submitted'`,
		parentKind, parentID, acceptedID)
	return err
}

func (r Repo) ListQuotes(ctx context.Context, parentKind, parentID string) ([]domain.Quote, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,parent_kind,parent_id,supplier_id,amount,description,status,created_at FROM quotes WHERE parent_kind=? AND parent_id=? ORDER BY created_at ASC`, parentKind, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Quote
	for rows.Next() {
		var q domain.Quote
		var description sql.NullString
		if err := rows.Scan(&q.ID, &q.ParentKind, &q.ParentID, &q.SupplierID, &q.Amount, &description, &q.Status, &q.CreatedAt); err != nil {
			return nil, err
		}
		if description.Valid {
			q.Description = description.String
		}
		res = append(res, q)
	}
	return res, rows.Err()
}

func (r Repo) InsertComment(ctx context.Context, tx *sql.Tx, c domain.Comment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO comments(id,ticket_id,author_id,body,created_at) VALUES (?,?,?,?,?)`,
		c.ID, c.TicketID, c.AuthorID, c.Body, c.CreatedAt)
	return err
}

func (r Repo) ListComments(ctx context.Context, ticketID string) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ticket_id,author_id,body,created_at FROM comments WHERE ticket_id=? ORDER BY created_at ASC`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.TicketID, &c.AuthorID, &c.Body, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
