package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"caretaker/internal/activity"
	"caretaker/internal/config"
	"caretaker/internal/domain"
	"caretaker/internal/notify"
	"caretaker/internal/repo"
)

// Engine orchestrates workflow mutations. Each operation validates first,
// then commits the record change and its activity entry in one transaction;
// nothing is partially applied. Notification dispatch is fire-and-forget and
// happens after commit.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Activity activity.Writer
	Config   *config.Config
	Notifier notify.Notifier
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Activity: activity.Writer{DB: db},
		Config:   cfg,
		Notifier: notify.LogNotifier{},
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

// activityWriter binds the log writer to the engine clock so activity
// timestamps agree with the entity timestamps written in the same
// transaction.
func (e Engine) activityWriter() activity.Writer {
	w := e.Activity
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

// ValidationError rejects bad input before any state mutation or persistence
// call.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

func validationErrorf(format string, args ...any) error {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// InitBuilding creates a building and seeds its config.
func (e Engine) InitBuilding(ctx context.Context, buildingID, name, address, actorID string) (domain.Building, error) {
	if buildingID == "" {
		return domain.Building{}, validationErrorf("building id is required")
	}
	if name == "" {
		name = buildingID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Building{}, err
	}
	defer tx.Rollback()

	b := domain.Building{
		ID:        buildingID,
		Name:      name,
		Address:   address,
		Status:    "active",
		CreatedAt: e.nowString(),
	}
	if err := e.Repo.InsertBuilding(ctx, tx, b); err != nil {
		return domain.Building{}, fmt.Errorf("insert building: %w", err)
	}
	if err := e.Repo.UpsertBuildingConfigTx(ctx, tx, b.ID, config.Default(b.ID)); err != nil {
		return domain.Building{}, fmt.Errorf("insert building config: %w", err)
	}
	if err := e.activityWriter().Append(ctx, tx, "building.created", "Building registered", b.ID, "building", b.ID, actorID, activity.Payload{"name": b.Name}); err != nil {
		return domain.Building{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Building{}, err
	}
	return b, nil
}

// CreateFlat registers a flat under a building.
func (e Engine) CreateFlat(ctx context.Context, f domain.Flat, actorID string) (domain.Flat, error) {
	if f.BuildingID == "" {
		return f, validationErrorf("building is required")
	}
	if f.Label == "" {
		return f, validationErrorf("label is required")
	}
	if _, err := e.Repo.GetBuilding(ctx, f.BuildingID); err != nil {
		return f, err
	}
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	f.CreatedAt = e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return f, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertFlat(ctx, tx, f); err != nil {
		return f, err
	}
	if err := e.activityWriter().Append(ctx, tx, "flat.created", "Flat registered", f.BuildingID, "flat", f.ID, actorID, activity.Payload{"label": f.Label}); err != nil {
		return f, err
	}
	if err := tx.Commit(); err != nil {
		return f, err
	}
	return f, nil
}

func (e Engine) notify(ctx context.Context, userID string, n notify.Notification) {
	if e.Notifier == nil || userID == "" {
		return
	}
	// Fire-and-forget: delivery failure never unwinds a committed mutation.
	_ = e.Notifier.Notify(ctx, userID, n)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
