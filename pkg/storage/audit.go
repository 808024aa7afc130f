package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/voltaudit/voltaudit/pkg/models"
)

// AuditRepository persists the append-only audit trail. It deliberately
// exposes no update or delete operation; the audit_logs table additionally
// enforces immutability with triggers.
type AuditRepository struct {
	db *sqlx.DB
}

// Insert appends one audit event.
func (r *AuditRepository) Insert(ctx context.Context, event *models.AuditEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, analysis_id, event_type, event_timestamp,
		     model_version, prompt_version, rule_id, confidence, details)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		event.ID, event.AnalysisID, event.EventType, event.EventTimestamp,
		event.ModelVersion, event.PromptVersion, event.RuleID, event.Confidence,
		event.Details,
	)
	if err != nil {
		return models.Wrap(models.KindInternal, "VALD_500", "failed to insert audit event", err)
	}
	return nil
}

// ListByAnalysis returns the full audit narrative of an analysis in
// timestamp order.
func (r *AuditRepository) ListByAnalysis(ctx context.Context, analysisID uuid.UUID) ([]models.AuditEvent, error) {
	events := []models.AuditEvent{}
	err := r.db.SelectContext(ctx, &events,
		`SELECT id, analysis_id, event_type, event_timestamp,
		        model_version, prompt_version, rule_id, confidence, details
		 FROM audit_logs
		 WHERE analysis_id = $1
		 ORDER BY event_timestamp, id`,
		analysisID)
	if err != nil {
		return nil, models.Wrap(models.KindInternal, "VALD_500", "failed to list audit events", err)
	}
	return events, nil
}
