// Package audit writes the append-only narrative of every analysis. Audit
// failures are logged and swallowed: a broken audit pipe must never fail the
// pipeline it narrates.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/voltaudit/voltaudit/pkg/models"
	"github.com/voltaudit/voltaudit/pkg/storage"
)

// Logger appends typed events to an analysis's audit trail.
type Logger struct {
	repo   *storage.AuditRepository
	logger logr.Logger
	now    func() time.Time
}

// NewLogger builds the audit logger over the audit repository.
func NewLogger(repo *storage.AuditRepository, logger logr.Logger) *Logger {
	return &Logger{
		repo:   repo,
		logger: logger.WithName("audit"),
		now:    time.Now,
	}
}

// Event is the optional metadata attached to an audit entry. Timestamp
// overrides the wall clock for retroactive events; zero means now.
type Event struct {
	Timestamp     time.Time
	ModelVersion  string
	PromptVersion string
	RuleID        string
	Confidence    *float64
	Details       any
}

// Log appends one event. Marshal or insert failures are reported as
// warnings on the structured log and otherwise ignored.
func (l *Logger) Log(ctx context.Context, analysisID uuid.UUID, eventType models.AuditEventType, ev Event) {
	details, err := json.Marshal(ev.Details)
	if err != nil || ev.Details == nil {
		details = json.RawMessage(`{}`)
	}

	timestamp := ev.Timestamp
	if timestamp.IsZero() {
		timestamp = l.now()
	}

	event := &models.AuditEvent{
		ID:             uuid.New(),
		AnalysisID:     analysisID,
		EventType:      eventType,
		EventTimestamp: timestamp,
		Details:        details,
		Confidence:     ev.Confidence,
	}
	if ev.ModelVersion != "" {
		event.ModelVersion = models.StringPtr(ev.ModelVersion)
	}
	if ev.PromptVersion != "" {
		event.PromptVersion = models.StringPtr(ev.PromptVersion)
	}
	if ev.RuleID != "" {
		event.RuleID = models.StringPtr(ev.RuleID)
	}

	if err := l.repo.Insert(ctx, event); err != nil {
		l.logger.Error(err, "audit event dropped",
			"analysis_id", analysisID, "event_type", eventType)
	}
}
