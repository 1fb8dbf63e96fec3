package repo

import (
	"context"
	"database/sql"
	"strings"

	"caretaker/internal/domain"
)

const eventColumns = `id,building_id,title,description,location,starts_at,ends_at,ticket_id,assignees_json,status,created_at,updated_at`

func (r Repo) InsertEvent(ctx context.Context, tx *sql.Tx, e domain.Event) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO events(`+eventColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.BuildingID, e.Title, nullable(e.Description), nullable(e.Location), e.StartsAt, e.EndsAt,
		nullableStringPtr(e.TicketID), marshalStrings(e.Assignees), e.Status, e.CreatedAt, e.UpdatedAt)
	return err
}

func (r Repo) UpdateEvent(ctx context.Context, tx *sql.Tx, e domain.Event) error {
	_, err := tx.ExecContext(ctx, `UPDATE events SET title=?, description=?, location=?, starts_at=?, ends_at=?, assignees_json=?, status=?, updated_at=? WHERE id=?`,
		e.Title, nullable(e.Description), nullable(e.Location), e.StartsAt, e.EndsAt,
		marshalStrings(e.Assignees), e.Status, e.UpdatedAt, e.ID)
	return err
}

func scanEvent(scan func(dest ...any) error) (domain.Event, error) {
	var e domain.Event
	var description, location, ticketID, assignees sql.NullString
	err := scan(&e.ID, &e.BuildingID, &e.Title, &description, &location, &e.StartsAt, &e.EndsAt,
		&ticketID, &assignees, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if description.Valid {
		e.Description = description.String
	}
	if location.Valid {
		e.Location = location.String
	}
	e.TicketID = strPtr(ticketID)
	e.Assignees = unmarshalStrings(assignees)
	return e, nil
}

func (r Repo) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id=?`, id)
	return scanEvent(row.Scan)
}

type EventFilters struct {
	BuildingID string
	Status     string
	TicketID   string
	From       string
	To         string
	Limit      int
}

func (r Repo) ListEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
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
	if f.TicketID != "" {
		clauses = append(clauses, "ticket_id=?")
		args = append(args, f.TicketID)
	}
	if f.From != "" {
		clauses = append(clauses, "ends_at >= ?")
		args = append(args, f.From)
	}
	if f.To != "" {
		clauses = append(clauses, "starts_at <= ?")
		args = append(args, f.To)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + eventColumns + ` FROM events ` + where + ` ORDER BY starts_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
