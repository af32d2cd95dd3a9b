package engine

import (
	"context"
	"net/http"
	"time"
)

// Logger defines the logging interface for the engine.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// RecordStore is the ERP record collaborator the record actions delegate to.
type RecordStore interface {
	CreateRecord(ctx context.Context, entityType string, data map[string]any) (string, error)
	UpdateRecord(ctx context.Context, entityType, entityID string, updates map[string]any) error
}

// EntityLoader fetches the entity snapshot seeded into an execution's scope.
type EntityLoader interface {
	LoadEntity(ctx context.Context, entityType, entityID, tenantID string) (map[string]any, error)
}

// Mailer sends workflow emails. Fire-and-forget; an error fails the action.
type Mailer interface {
	SendEmail(ctx context.Context, to []string, subject, body string) error
}

// Notifier delivers in-app notifications.
type Notifier interface {
	Notify(ctx context.Context, recipients []string, subject, message string) error
}

// Clock is an injectable time source so delays and schedules are testable.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock returns the real wall clock.
func SystemClock() Clock { return systemClock{} }

// Collaborators bundles every external dependency the handlers reach through.
// Any nil field fails the corresponding action at execution time rather than
// at wiring time, so partial deployments (no mailer configured) stay usable.
type Collaborators struct {
	Records    RecordStore
	Entities   EntityLoader
	Mailer     Mailer
	Notifier   Notifier
	Clock      Clock
	HTTPClient *http.Client
}
