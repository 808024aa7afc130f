package report_test

import (
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/voltaudit/voltaudit/pkg/models"
	"github.com/voltaudit/voltaudit/pkg/report"
)

var _ = Describe("Build", func() {
	var (
		task     *models.Task
		analysis *models.Analysis
	)

	BeforeEach(func() {
		task = &models.Task{
			ID:       uuid.New(),
			UserID:   uuid.New(),
			Filename: "grounding-report.pdf",
			Status:   models.TaskCompleted,
		}
		analysis = &models.Analysis{
			ID:              uuid.New(),
			TaskID:          task.ID,
			TestType:        models.TestGrounding,
			EquipmentType:   models.EquipmentPanel,
			EquipmentTag:    "PNL-DH2-01",
			ComplianceScore: 80,
			Confidence:      0.91,
		}
	})

	finding := func(severity models.Severity, ruleID string) models.Finding {
		return models.Finding{
			ID:         uuid.New(),
			AnalysisID: analysis.ID,
			Severity:   severity,
			RuleID:     ruleID,
			Message:    "message for " + ruleID,
			Evidence: models.Evidence{
				ExtractedValue:    "12.4 Ω",
				Threshold:         "5.0 Ω",
				StandardReference: "NETA ATS-2025 Table 100.1",
			},
		}
	}

	It("groups findings by severity and tallies the summary", func() {
		findings := []models.Finding{
			finding(models.SeverityCritical, "GND-02"),
			finding(models.SeverityMajor, "GND-01"),
			finding(models.SeverityMajor, "MEG-02"),
			finding(models.SeverityMinor, "GND-03"),
		}

		bundle := report.Build(task, analysis, findings, nil)

		Expect(bundle.Summary.TotalFindings).To(Equal(4))
		Expect(bundle.Summary.Critical).To(Equal(1))
		Expect(bundle.Summary.Major).To(Equal(2))
		Expect(bundle.Summary.Minor).To(Equal(1))
		Expect(bundle.Summary.Info).To(BeZero())

		Expect(bundle.Findings.Critical).To(HaveLen(1))
		Expect(bundle.Findings.Critical[0].RuleID).To(Equal("GND-02"))
		Expect(bundle.Findings.Major).To(HaveLen(2))
		Expect(bundle.Findings.Info).To(BeEmpty())
	})

	It("carries the evidence triplet onto each finding view", func() {
		bundle := report.Build(task, analysis, []models.Finding{finding(models.SeverityMajor, "GND-01")}, nil)

		view := bundle.Findings.Major[0]
		Expect(view.ExtractedValue).To(Equal("12.4 Ω"))
		Expect(view.Threshold).To(Equal("5.0 Ω"))
		Expect(view.StandardReference).To(Equal("NETA ATS-2025 Table 100.1"))
	})

	It("renders PENDING while the verdict is unset", func() {
		bundle := report.Build(task, analysis, nil, nil)
		Expect(bundle.Verdict).To(Equal("PENDING"))
	})

	It("renders the stored verdict and rejection reason when present", func() {
		verdict := models.VerdictRejected
		reason := "hygrometer photo contradicts the recorded humidity"
		analysis.Verdict = &verdict
		analysis.RejectionReason = &reason

		bundle := report.Build(task, analysis, nil, nil)

		Expect(bundle.Verdict).To(Equal("REJECTED"))
		Expect(bundle.RejectionReason).To(Equal(reason))
	})

	It("projects the audit narrative in storage order", func() {
		ruleID := "GND-01"
		events := []models.AuditEvent{
			{EventType: models.AuditExtractionStarted, EventTimestamp: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)},
			{EventType: models.AuditValidationRuleApplied, EventTimestamp: time.Date(2026, 3, 10, 9, 0, 5, 0, time.UTC), RuleID: &ruleID},
		}

		bundle := report.Build(task, analysis, nil, events)

		Expect(bundle.AuditTrail).To(HaveLen(2))
		Expect(bundle.AuditTrail[0].EventType).To(Equal(models.AuditExtractionStarted))
		Expect(bundle.AuditTrail[1].RuleID).To(Equal("GND-01"))
	})
})
