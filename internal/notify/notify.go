// Package notify is the notification collaborator boundary. The engine calls
// Notify fire-and-forget; delivery mechanics live behind the interface.
package notify

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"caretaker/internal/domain"
	"caretaker/internal/repo"
)

type Notification struct {
	Title   string
	Message string
	Kind    string
}

type Notifier interface {
	Notify(ctx context.Context, userID string, n Notification) error
}

// LogNotifier prints notifications, for the CLI and tests.
type LogNotifier struct {
	Logger *log.Logger
}

func (l LogNotifier) Notify(_ context.Context, userID string, n Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("notify %s [%s] %s: %s", userID, n.Kind, n.Title, n.Message)
	return nil
}

// OutboxNotifier persists notifications as rows; a delivery process (or the
// UI polling its inbox) picks them up later.
type OutboxNotifier struct {
	Repo       repo.Repo
	BuildingID string
	Now        func() time.Time
}

func (o OutboxNotifier) Notify(ctx context.Context, userID string, n Notification) error {
	now := time.Now
	if o.Now != nil {
		now = o.Now
	}
	return o.Repo.InsertNotification(ctx, domain.Notification{
		ID:         uuid.New().String(),
		UserID:     userID,
		Title:      n.Title,
		Message:    n.Message,
		Kind:       n.Kind,
		BuildingID: o.BuildingID,
		CreatedAt:  now().UTC().Format(time.RFC3339),
	})
}
