// Package models defines the persistent entities and shared enumerations for
// the commissioning-report audit pipeline: users, tasks, analyses, findings
// and audit events, plus the task and verdict state machines.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of an ingested document.
// Transitions are monotonic: QUEUED -> PROCESSING -> {COMPLETED | FAILED}.
type TaskStatus string

const (
	TaskQueued     TaskStatus = "QUEUED"
	TaskProcessing TaskStatus = "PROCESSING"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Verdict is the compliance outcome of an analysis. A nil *Verdict means the
// analysis has not been scored yet.
type Verdict string

const (
	VerdictApproved Verdict = "APPROVED"
	VerdictReview   Verdict = "REVIEW"
	VerdictRejected Verdict = "REJECTED"
)

// Severity classifies a finding. Only CRITICAL, MAJOR and MINOR affect the
// compliance score; INFO is narrative.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityMajor    Severity = "MAJOR"
	SeverityMinor    Severity = "MINOR"
	SeverityInfo     Severity = "INFO"
)

// TestType is the detected flavor of commissioning test.
type TestType string

const (
	TestGrounding    TestType = "grounding"
	TestMegger       TestType = "megger"
	TestThermography TestType = "thermography"
	TestUnknown      TestType = "unknown"
)

// EquipmentType is the detected class of equipment under test.
type EquipmentType string

const (
	EquipmentPanel EquipmentType = "PANEL"
	EquipmentUPS   EquipmentType = "UPS"
	EquipmentATS   EquipmentType = "ATS"
	EquipmentGen   EquipmentType = "GEN"
	EquipmentXfmr  EquipmentType = "XFMR"
	EquipmentOther EquipmentType = "other"
)

// User owns tasks. Passwords are stored as bcrypt hashes only.
type User struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Task is the unit of ingestion: one uploaded artifact, one durable job.
type Task struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	UserID       uuid.UUID  `db:"user_id" json:"user_id"`
	Filename     string     `db:"filename" json:"filename"`
	ObjectKey    string     `db:"object_key" json:"object_key"`
	SizeBytes    int64      `db:"size_bytes" json:"size_bytes"`
	Status       TaskStatus `db:"status" json:"status"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Analysis is the unit of result, one-to-one with a completed task.
// ExtractionData and ValidationData are the test-type-specific payloads,
// stored as JSONB.
type Analysis struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	TaskID          uuid.UUID       `db:"task_id" json:"task_id"`
	TestType        TestType        `db:"test_type" json:"test_type"`
	EquipmentType   EquipmentType   `db:"equipment_type" json:"equipment_type"`
	EquipmentTag    string          `db:"equipment_tag" json:"equipment_tag"`
	ComplianceScore float64         `db:"compliance_score" json:"compliance_score"`
	Confidence      float64         `db:"confidence" json:"confidence"`
	Verdict         *Verdict        `db:"verdict" json:"verdict"`
	RejectionReason *string         `db:"rejection_reason" json:"rejection_reason,omitempty"`
	ExtractionData  json.RawMessage `db:"extraction_data" json:"extraction_data"`
	ValidationData  json.RawMessage `db:"validation_data" json:"validation_data"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// Evidence records what a finding saw, what it expected, and which clause of
// which standard says so. StandardReference is never empty; "N/A" when unknown.
type Evidence struct {
	ExtractedValue    string `json:"extracted_value"`
	Threshold         string `json:"threshold"`
	StandardReference string `json:"standard_reference"`
}

// Finding is a single persisted validation outcome at rule granularity.
type Finding struct {
	ID          uuid.UUID `db:"id" json:"id"`
	AnalysisID  uuid.UUID `db:"analysis_id" json:"analysis_id"`
	Severity    Severity  `db:"severity" json:"severity"`
	RuleID      string    `db:"rule_id" json:"rule_id"`
	Message     string    `db:"message" json:"message"`
	Evidence    Evidence  `db:"-" json:"evidence"`
	Remediation *string   `db:"remediation" json:"remediation,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// AuditEventType enumerates the append-only audit narrative vocabulary.
type AuditEventType string

const (
	AuditExtractionStarted     AuditEventType = "extraction_started"
	AuditExtractionCompleted   AuditEventType = "extraction_completed"
	AuditExtractionFailed      AuditEventType = "extraction_failed"
	AuditValidationRuleApplied AuditEventType = "validation_rule_applied"
	AuditFindingGenerated      AuditEventType = "finding_generated"
	AuditValidationCompleted   AuditEventType = "validation_completed"
	AuditHumanReviewApproved   AuditEventType = "human_review_approved"
	AuditHumanReviewRejected   AuditEventType = "human_review_rejected"
)

// AuditEvent is one append-only row in the audit trail of an analysis.
// The store offers no update or delete; the table enforces the same.
type AuditEvent struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	AnalysisID     uuid.UUID       `db:"analysis_id" json:"analysis_id"`
	EventType      AuditEventType  `db:"event_type" json:"event_type"`
	EventTimestamp time.Time       `db:"event_timestamp" json:"event_timestamp"`
	ModelVersion   *string         `db:"model_version" json:"model_version,omitempty"`
	PromptVersion  *string         `db:"prompt_version" json:"prompt_version,omitempty"`
	RuleID         *string         `db:"rule_id" json:"rule_id,omitempty"`
	Confidence     *float64        `db:"confidence" json:"confidence,omitempty"`
	Details        json.RawMessage `db:"details" json:"details"`
}

// VerdictPtr is a convenience for building optional verdicts.
func VerdictPtr(v Verdict) *Verdict { return &v }

// StringPtr is a convenience for optional text columns.
func StringPtr(s string) *string { return &s }
