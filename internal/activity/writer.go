package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends activity entries. Append runs inside the caller's
// transaction so the status change and its log entry commit together.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Payload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, action, description, buildingID, entityKind, entityID, performedBy string, payload Payload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal activity payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO activity(ts,action,description,building_id,entity_kind,entity_id,performed_by,payload_json) VALUES (?,?,?,?,?,?,?,?)`,
		ts, action, nullable(description), nullable(buildingID), entityKind, nullable(entityID), performedBy, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
