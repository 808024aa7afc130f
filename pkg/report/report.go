// Package report assembles the external-facing compliance report from a
// finished analysis: summary, findings grouped by severity, and the audit
// narrative. The bundle is a pure projection; it reads persisted rows and
// computes nothing new.
package report

import (
	"time"

	"github.com/google/uuid"

	"github.com/voltaudit/voltaudit/pkg/models"
)

// FindingView is one finding as rendered in the report.
type FindingView struct {
	Severity          models.Severity `json:"severity"`
	RuleID            string          `json:"rule_id"`
	Message           string          `json:"message"`
	ExtractedValue    string          `json:"extracted_value"`
	Threshold         string          `json:"threshold"`
	StandardReference string          `json:"standard_reference"`
	Remediation       string          `json:"remediation,omitempty"`
}

// AuditEntryView is one audit event as rendered in the report.
type AuditEntryView struct {
	EventType models.AuditEventType `json:"event_type"`
	Timestamp time.Time             `json:"timestamp"`
	RuleID    string                `json:"rule_id,omitempty"`
}

// Bundle is the complete report for one analysis.
type Bundle struct {
	AnalysisID      uuid.UUID            `json:"analysis_id"`
	TaskID          uuid.UUID            `json:"task_id"`
	Filename        string               `json:"filename"`
	TestType        models.TestType      `json:"test_type"`
	EquipmentTag    string               `json:"equipment_tag"`
	EquipmentType   models.EquipmentType `json:"equipment_type"`
	Verdict         string               `json:"verdict"`
	ComplianceScore float64              `json:"compliance_score"`
	Confidence      float64              `json:"confidence"`
	RejectionReason string               `json:"rejection_reason,omitempty"`
	GeneratedAt     time.Time            `json:"generated_at"`

	Summary struct {
		TotalFindings int `json:"total_findings"`
		Critical      int `json:"critical"`
		Major         int `json:"major"`
		Minor         int `json:"minor"`
		Info          int `json:"info"`
	} `json:"summary"`

	Findings struct {
		Critical []FindingView `json:"critical"`
		Major    []FindingView `json:"major"`
		Minor    []FindingView `json:"minor"`
		Info     []FindingView `json:"info"`
	} `json:"findings"`

	AuditTrail []AuditEntryView `json:"audit_trail"`
}

// Build assembles the bundle from persisted rows. The verdict renders as
// "PENDING" while the analysis awaits review routing.
func Build(task *models.Task, analysis *models.Analysis, findings []models.Finding, events []models.AuditEvent) *Bundle {
	b := &Bundle{
		AnalysisID:      analysis.ID,
		TaskID:          task.ID,
		Filename:        task.Filename,
		TestType:        analysis.TestType,
		EquipmentTag:    analysis.EquipmentTag,
		EquipmentType:   analysis.EquipmentType,
		Verdict:         "PENDING",
		ComplianceScore: analysis.ComplianceScore,
		Confidence:      analysis.Confidence,
		GeneratedAt:     time.Now().UTC(),
	}
	if analysis.Verdict != nil {
		b.Verdict = string(*analysis.Verdict)
	}
	if analysis.RejectionReason != nil {
		b.RejectionReason = *analysis.RejectionReason
	}

	b.Findings.Critical = []FindingView{}
	b.Findings.Major = []FindingView{}
	b.Findings.Minor = []FindingView{}
	b.Findings.Info = []FindingView{}

	for _, f := range findings {
		view := FindingView{
			Severity:          f.Severity,
			RuleID:            f.RuleID,
			Message:           f.Message,
			ExtractedValue:    f.Evidence.ExtractedValue,
			Threshold:         f.Evidence.Threshold,
			StandardReference: f.Evidence.StandardReference,
		}
		if f.Remediation != nil {
			view.Remediation = *f.Remediation
		}
		switch f.Severity {
		case models.SeverityCritical:
			b.Findings.Critical = append(b.Findings.Critical, view)
			b.Summary.Critical++
		case models.SeverityMajor:
			b.Findings.Major = append(b.Findings.Major, view)
			b.Summary.Major++
		case models.SeverityMinor:
			b.Findings.Minor = append(b.Findings.Minor, view)
			b.Summary.Minor++
		case models.SeverityInfo:
			b.Findings.Info = append(b.Findings.Info, view)
			b.Summary.Info++
		}
		b.Summary.TotalFindings++
	}

	b.AuditTrail = make([]AuditEntryView, 0, len(events))
	for _, ev := range events {
		entry := AuditEntryView{
			EventType: ev.EventType,
			Timestamp: ev.EventTimestamp,
		}
		if ev.RuleID != nil {
			entry.RuleID = *ev.RuleID
		}
		b.AuditTrail = append(b.AuditTrail, entry)
	}

	return b
}
