// Package extraction turns documents into structured, confidence-annotated
// records through the LLM adapter. Every leaf field is wrapped in a
// FieldConfidence carrying the value, a confidence in [0,1] and the literal
// source span the model cited. This package is the only one permitted to
// call the external provider; everything downstream is deterministic.
package extraction

import (
	"time"
)

// ConfidenceThreshold marks a leaf as needing review below this value.
const ConfidenceThreshold = 0.7

// CalibrationConfidenceThreshold is the stricter bar for calibration
// expiration dates.
const CalibrationConfidenceThreshold = 0.8

// FieldConfidence wraps an extracted leaf value with the model's confidence
// and the cited source text.
type FieldConfidence[T any] struct {
	Value      T       `json:"value"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
	SourceText string  `json:"source_text"`
}

// Leaf is one confidence observation used for needs_review and overall
// confidence computation.
type Leaf struct {
	Path        string
	Confidence  float64
	Calibration bool // held to the stricter calibration threshold
}

// BelowThreshold reports whether this leaf alone forces review.
func (l Leaf) BelowThreshold() bool {
	if l.Calibration {
		return l.Confidence < CalibrationConfidenceThreshold
	}
	return l.Confidence < ConfidenceThreshold
}

// Equipment identifies the asset under test.
type Equipment struct {
	Tag  FieldConfidence[string] `json:"tag"`
	Type FieldConfidence[string] `json:"type"` // PANEL|UPS|ATS|GEN|XFMR|other
}

// Calibration is the optional instrument calibration block.
type Calibration struct {
	CertificateSerial FieldConfidence[string] `json:"certificate_serial"`
	ExpirationDate    FieldConfidence[string] `json:"expiration_date"` // YYYY-MM-DD
}

// TestConditions are the shared when/who/what of a test session.
type TestConditions struct {
	Date       FieldConfidence[string] `json:"date"` // YYYY-MM-DD
	Tester     FieldConfidence[string] `json:"tester"`
	Instrument FieldConfidence[string] `json:"instrument"`
}

// ParseDate parses the extraction date format. Extractions carry dates as
// strings so the LLM schema stays flat; validators parse on demand.
func ParseDate(s string) (time.Time, bool) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Result is the common envelope around a typed extraction payload.
type Result[T any] struct {
	Payload           T
	OverallConfidence float64
	NeedsReview       bool
	Metadata          Metadata
}

// Metadata describes the provider call that produced an extraction.
type Metadata struct {
	Model         string `json:"model"`
	PromptVersion string `json:"prompt_version"`
	InputTokens   int64  `json:"input_tokens"`
	OutputTokens  int64  `json:"output_tokens"`
	StopReason    string `json:"stop_reason"`
}

// summarize computes the overall confidence (mean over leaves) and the
// needs_review flag (any leaf under its threshold).
func summarize(leaves []Leaf) (float64, bool) {
	if len(leaves) == 0 {
		return 0, true
	}
	sum := 0.0
	needsReview := false
	for _, leaf := range leaves {
		sum += leaf.Confidence
		if leaf.BelowThreshold() {
			needsReview = true
		}
	}
	return sum / float64(len(leaves)), needsReview
}
