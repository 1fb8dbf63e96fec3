package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"caretaker/internal/config"
	"caretaker/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertBuilding(ctx context.Context, tx *sql.Tx, b domain.Building) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO buildings(id,name,address,status,created_at) VALUES (?,?,?,?,?)`,
		b.ID, b.Name, nullable(b.Address), b.Status, b.CreatedAt)
	return err
}

func (r Repo) GetBuilding(ctx context.Context, id string) (domain.Building, error) {
	var b domain.Building
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,COALESCE(address,''),status,created_at FROM buildings WHERE id=?`, id).
		Scan(&b.ID, &b.Name, &b.Address, &b.Status, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	return b, err
}

func (r Repo) ListBuildings(ctx context.Context) ([]domain.Building, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,COALESCE(address,''),status,created_at FROM buildings ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Building
	for rows.Next() {
		var b domain.Building
		if err := rows.Scan(&b.ID, &b.Name, &b.Address, &b.Status, &b.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

// SingleBuilding returns the only building in the workspace, or an error
// when there are zero or several.
func (r Repo) SingleBuilding(ctx context.Context) (domain.Building, error) {
	items, err := r.ListBuildings(ctx)
	if err != nil {
		return domain.Building{}, err
	}
	if len(items) == 0 {
		return domain.Building{}, ErrNotFound
	}
	if len(items) > 1 {
		return domain.Building{}, fmt.Errorf("multiple buildings exist; specify --building")
	}
	return items[0], nil
}

func (r Repo) UpdateBuilding(ctx context.Context, id, status string, name *string) error {
	var (
		fields []string
		args   []any
	)
	if status != "" {
		fields = append(fields, "status=?")
		args = append(args, status)
	}
	if name != nil {
		fields = append(fields, "name=?")
		args = append(args, *name)
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE buildings SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpsertBuildingConfig(ctx context.Context, buildingID string, cfg *config.Config) error {
	return upsertBuildingConfig(ctx, r.DB, nil, buildingID, cfg)
}

func (r Repo) UpsertBuildingConfigTx(ctx context.Context, tx *sql.Tx, buildingID string, cfg *config.Config) error {
	return upsertBuildingConfig(ctx, nil, tx, buildingID, cfg)
}

func upsertBuildingConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, buildingID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Building.ID = buildingID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO building_configs(building_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(building_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, buildingID, string(payload), now, now)
	return err
}

func (r Repo) GetBuildingConfig(ctx context.Context, buildingID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM building_configs WHERE building_id=?`, buildingID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Building.ID == "" {
		cfg.Building.ID = buildingID
	}
	return &cfg, cfg.Validate()
}

func (r Repo) InsertFlat(ctx context.Context, tx *sql.Tx, f domain.Flat) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO flats(id,building_id,label,floor,occupant_id,created_at) VALUES (?,?,?,?,?,?)`,
		f.ID, f.BuildingID, f.Label, nullableIntPtr(f.Floor), nullableStringPtr(f.OccupantID), f.CreatedAt)
	return err
}

func (r Repo) GetFlat(ctx context.Context, id string) (domain.Flat, error) {
	var f domain.Flat
	var floor sql.NullInt64
	var occupant sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,building_id,label,floor,occupant_id,created_at FROM flats WHERE id=?`, id).
		Scan(&f.ID, &f.BuildingID, &f.Label, &floor, &occupant, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	if err != nil {
		return f, err
	}
	if floor.Valid {
		v := int(floor.Int64)
		f.Floor = &v
	}
	if occupant.Valid {
		f.OccupantID = &occupant.String
	}
	return f, nil
}

func (r Repo) ListFlats(ctx context.Context, buildingID string) ([]domain.Flat, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,building_id,label,floor,occupant_id,created_at FROM flats WHERE building_id=? ORDER BY label ASC`, buildingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Flat
	for rows.Next() {
		var f domain.Flat
		var floor sql.NullInt64
		var occupant sql.NullString
		if err := rows.Scan(&f.ID, &f.BuildingID, &f.Label, &floor, &occupant, &f.CreatedAt); err != nil {
			return nil, err
		}
		if floor.Valid {
			v := int(floor.Int64)
			f.Floor = &v
		}
		if occupant.Valid {
			f.OccupantID = &occupant.String
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

// --- scan/bind helpers shared across the repo files ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func marshalStrings(in []string) any {
	if len(in) == 0 {
		return nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil
	}
	return string(b)
}

func unmarshalStrings(ns sql.NullString) []string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(ns.String), &out)
	return out
}
