package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/voltaudit/voltaudit/pkg/models"
)

// FindingRepository persists findings with their evidence flattened into
// columns (extracted_value, threshold, standard_reference).
type FindingRepository struct {
	db *sqlx.DB
}

// CreateBatch inserts findings inside the given transaction.
func (r *FindingRepository) CreateBatch(ctx context.Context, tx *sqlx.Tx, findings []models.Finding) error {
	for _, f := range findings {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO findings (id, analysis_id, severity, rule_id, message,
			     extracted_value, threshold, standard_reference, remediation, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			f.ID, f.AnalysisID, f.Severity, f.RuleID, f.Message,
			f.Evidence.ExtractedValue, f.Evidence.Threshold, f.Evidence.StandardReference,
			f.Remediation, f.CreatedAt,
		)
		if err != nil {
			return models.Wrap(models.KindInternal, "VALD_500", "failed to insert finding", err)
		}
	}
	return nil
}

// DeleteByAnalysis clears the findings of an analysis inside the given
// transaction. Finalization replaces findings wholesale, so a resumed task
// never accumulates duplicate rows.
func (r *FindingRepository) DeleteByAnalysis(ctx context.Context, tx *sqlx.Tx, analysisID uuid.UUID) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM findings WHERE analysis_id = $1`, analysisID); err != nil {
		return models.Wrap(models.KindInternal, "VALD_500", "failed to clear findings", err)
	}
	return nil
}

// ListByAnalysis returns all findings of an analysis, severest first, then by
// insertion time.
func (r *FindingRepository) ListByAnalysis(ctx context.Context, analysisID uuid.UUID) ([]models.Finding, error) {
	rows, err := r.db.QueryxContext(ctx,
		`SELECT id, analysis_id, severity, rule_id, message,
		        extracted_value, threshold, standard_reference, remediation, created_at
		 FROM findings
		 WHERE analysis_id = $1
		 ORDER BY CASE severity
		     WHEN 'CRITICAL' THEN 0 WHEN 'MAJOR' THEN 1 WHEN 'MINOR' THEN 2 ELSE 3
		 END, created_at`,
		analysisID)
	if err != nil {
		return nil, models.Wrap(models.KindInternal, "VALD_500", "failed to list findings", err)
	}
	defer rows.Close()

	findings := []models.Finding{}
	for rows.Next() {
		var f models.Finding
		err := rows.Scan(&f.ID, &f.AnalysisID, &f.Severity, &f.RuleID, &f.Message,
			&f.Evidence.ExtractedValue, &f.Evidence.Threshold, &f.Evidence.StandardReference,
			&f.Remediation, &f.CreatedAt)
		if err != nil {
			return nil, models.Wrap(models.KindInternal, "VALD_500", "failed to scan finding", err)
		}
		findings = append(findings, f)
	}
	return findings, rows.Err()
}
