package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"caretaker/internal/domain"
)

// ListActivity returns entries newest first, filtered and keyset-paginated by
// the autoincrement id. Activity rows are read-only from here: no update or
// delete path exists anywhere in the repo.
func (r Repo) ListActivity(ctx context.Context, limit int, cursor int64, buildingID, action, entityKind, entityID string) ([]domain.ActivityEntry, error) {
	clauses := []string{"1=1"}
	var args []any
	if buildingID != "" {
		clauses = append(clauses, "building_id=?")
		args = append(args, buildingID)
	}
	if action != "" {
		clauses = append(clauses, "action=?")
		args = append(args, action)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,action,description,building_id,entity_kind,entity_id,performed_by,payload_json FROM activity %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryActivity(ctx, query, args...)
}

// ActivityAfter returns entries with IDs greater than the cursor in ascending
// order, for the webhook dispatcher.
func (r Repo) ActivityAfter(ctx context.Context, limit int, cursor int64, buildingID string) ([]domain.ActivityEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if buildingID != "" {
		clauses = append(clauses, "building_id=?")
		args = append(args, buildingID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,action,description,building_id,entity_kind,entity_id,performed_by,payload_json FROM activity %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryActivity(ctx, query, args...)
}

func (r Repo) queryActivity(ctx context.Context, query string, args ...any) ([]domain.ActivityEntry, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActivityEntry
	for rows.Next() {
		var e domain.ActivityEntry
		var description, buildingID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Action, &description, &buildingID, &e.EntityKind, &entityID, &e.PerformedBy, &payload); err != nil {
			return nil, err
		}
		if description.Valid {
			e.Description = description.String
		}
		if buildingID.Valid {
			e.BuildingID = buildingID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestActivityID returns the most recent activity ID for a building.
func (r Repo) LatestActivityID(ctx context.Context, buildingID string) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM activity WHERE building_id=?`, buildingID)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// CountActivity counts entries for one entity, used by the append-only tests
// and the building status summary.
func (r Repo) CountActivity(ctx context.Context, entityKind, entityID string) (int, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM activity WHERE entity_kind=? AND entity_id=?`, entityKind, entityID)
	var n int
	err := row.Scan(&n)
	return n, err
}

func (r Repo) InsertNotification(ctx context.Context, n domain.Notification) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO notifications(id,user_id,title,message,kind,building_id,created_at,delivered_at) VALUES (?,?,?,?,?,?,?,?)`,
		n.ID, n.UserID, n.Title, n.Message, n.Kind, nullable(n.BuildingID), n.CreatedAt, nullableStringPtr(n.DeliveredAt))
	return err
}

func (r Repo) ListNotifications(ctx context.Context, buildingID, userID string, limit int) ([]domain.Notification, error) {
	clauses := []string{"1=1"}
	var args []any
	if buildingID != "" {
		clauses = append(clauses, "building_id=?")
		args = append(args, buildingID)
	}
	if userID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, userID)
	}
	query := `SELECT id,user_id,title,message,kind,building_id,created_at,delivered_at FROM notifications WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var buildingID, deliveredAt sql.NullString
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Kind, &buildingID, &n.CreatedAt, &deliveredAt); err != nil {
			return nil, err
		}
		if buildingID.Valid {
			n.BuildingID = buildingID.String
		}
		n.DeliveredAt = strPtr(deliveredAt)
		res = append(res, n)
	}
	return res, rows.Err()
}
