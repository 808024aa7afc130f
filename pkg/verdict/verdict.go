// Package verdict turns a validation result into the persisted compliance
// outcome: the 0-100 score, the three-way verdict, and the finding rows.
package verdict

import (
	"github.com/google/uuid"

	"github.com/voltaudit/voltaudit/pkg/models"
	"github.com/voltaudit/voltaudit/pkg/validation"
)

// ConfidenceFloor routes low-confidence extractions to human review even
// when the findings alone would approve.
const ConfidenceFloor = 0.7

// ScoreFloor is the minimum score an analysis can auto-approve with.
const ScoreFloor = 95

// Severity deductions per finding.
const (
	criticalDeduction = 25
	majorDeduction    = 10
	minorDeduction    = 2
)

// ComputeScore applies the fixed per-severity deductions, floored at zero.
// INFO findings never move the score.
func ComputeScore(critical, major, minor int) int {
	score := 100 - criticalDeduction*critical - majorDeduction*major - minorDeduction*minor
	if score < 0 {
		return 0
	}
	return score
}

// ComputeVerdict decides the three-way outcome. Any critical finding rejects
// outright; otherwise a low score or a low extraction confidence routes the
// analysis to human review.
func ComputeVerdict(criticalCount, score int, overallConfidence float64) models.Verdict {
	if criticalCount > 0 {
		return models.VerdictRejected
	}
	if score < ScoreFloor || overallConfidence < ConfidenceFloor {
		return models.VerdictReview
	}
	return models.VerdictApproved
}

// ToPersisted converts engine findings into persistable rows for an
// analysis. Evidence fields default to "N/A" rather than empty strings so
// the report adapter never renders blanks.
func ToPersisted(analysisID uuid.UUID, findings []validation.Finding) []*models.Finding {
	rows := make([]*models.Finding, 0, len(findings))
	for _, f := range findings {
		row := &models.Finding{
			ID:         uuid.New(),
			AnalysisID: analysisID,
			Severity:   f.Severity,
			RuleID:     f.RuleID,
			Message:    f.Message,
			Evidence: models.Evidence{
				ExtractedValue:    orNA(f.Evidence.ExtractedValue),
				Threshold:         orNA(f.Evidence.Threshold),
				StandardReference: orNA(f.Evidence.StandardReference),
			},
		}
		if f.Remediation != "" {
			row.Remediation = models.StringPtr(f.Remediation)
		}
		rows = append(rows, row)
	}
	return rows
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
