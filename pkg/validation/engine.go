package validation

import (
	"fmt"
	"strings"

	"github.com/go-logr/logr"

	"github.com/voltaudit/voltaudit/pkg/extraction"
	"github.com/voltaudit/voltaudit/pkg/models"
)

// Finding is one rule outcome before persistence.
type Finding struct {
	Severity    models.Severity `json:"severity"`
	RuleID      string          `json:"rule_id"`
	Message     string          `json:"message"`
	Evidence    models.Evidence `json:"evidence"`
	Remediation string          `json:"remediation,omitempty"`
}

// Result is the full outcome of validating one analysis: the ordered finding
// list plus severity counts. Findings appear in rule-application order, so
// two runs over the same extraction produce identical results.
type Result struct {
	EquipmentTag  string    `json:"equipment_tag"`
	Profile       string    `json:"profile"`
	Findings      []Finding `json:"findings"`
	RulesApplied  []string  `json:"rules_applied"`
	CriticalCount int       `json:"critical_count"`
	MajorCount    int       `json:"major_count"`
	MinorCount    int       `json:"minor_count"`
	InfoCount     int       `json:"info_count"`
	IsValid       bool      `json:"is_valid"`
}

func (r *Result) add(f Finding) {
	r.Findings = append(r.Findings, f)
	switch f.Severity {
	case models.SeverityCritical:
		r.CriticalCount++
	case models.SeverityMajor:
		r.MajorCount++
	case models.SeverityMinor:
		r.MinorCount++
	case models.SeverityInfo:
		r.InfoCount++
	}
}

func (r *Result) applied(ruleID string) {
	r.RulesApplied = append(r.RulesApplied, ruleID)
}

func (r *Result) finish() {
	r.IsValid = r.CriticalCount == 0
	if r.Findings == nil {
		r.Findings = []Finding{}
	}
	if r.RulesApplied == nil {
		r.RulesApplied = []string{}
	}
}

// ComplementaryInput carries the cross-document evidence for the
// complementary checks: OCR reads of the calibration certificate and the
// thermo-hygrometer, plus an optional expected-phase override from the
// submitter. Any part may be absent; checks that need absent evidence are
// skipped, never failed.
type ComplementaryInput struct {
	Certificate           *extraction.CertificateOCR
	CertificateConfidence float64
	Hygrometer            *extraction.HygrometerOCR
	ExpectedPhases        []string
}

// Engine runs the deterministic rule stack against typed extractions. One
// engine serves all profiles; the profile is resolved per call and cached by
// the registry.
type Engine struct {
	registry *Registry
	logger   logr.Logger
}

// NewEngine builds the validation engine.
func NewEngine(logger logr.Logger) *Engine {
	return &Engine{
		registry: NewRegistry(),
		logger:   logger.WithName("validation"),
	}
}

// Profile resolves a named profile, falling back to NETA.
func (e *Engine) Profile(name string) *Profile {
	return e.registry.Resolve(name)
}

// Grounding validates a ground-resistance extraction.
func (e *Engine) Grounding(profileName string, g *extraction.GroundingExtraction) *Result {
	p := e.registry.Resolve(profileName)
	r := &Result{EquipmentTag: g.Equipment.Tag.Value, Profile: p.Name}

	e.checkEquipmentTag(p, r, g.Equipment.Tag.Value)
	e.checkGrounding(p, r, g)
	e.checkCalibration(p, r, "CALIB-EXP", g.Calibration, g.TestConditions.Date.Value)

	r.finish()
	e.logResult(r)
	return r
}

// Megger validates an insulation-resistance extraction.
func (e *Engine) Megger(profileName string, m *extraction.MeggerExtraction) *Result {
	p := e.registry.Resolve(profileName)
	r := &Result{EquipmentTag: m.Equipment.Tag.Value, Profile: p.Name}

	e.checkEquipmentTag(p, r, m.Equipment.Tag.Value)
	e.checkMegger(p, r, m)
	e.checkCalibration(p, r, "CALIB-EXP", m.Calibration, m.TestConditions.Date.Value)

	r.finish()
	e.logResult(r)
	return r
}

// Thermography validates a thermal-survey extraction together with its
// complementary evidence. All complementary checks run regardless of earlier
// failures; a report can accumulate several critical findings in one pass.
func (e *Engine) Thermography(profileName string, t *extraction.ThermographyExtraction, comp ComplementaryInput) *Result {
	p := e.registry.Resolve(profileName)
	r := &Result{EquipmentTag: t.Equipment.Tag.Value, Profile: p.Name}

	e.checkEquipmentTag(p, r, t.Equipment.Tag.Value)
	e.checkHotspots(p, r, t)
	e.checkEmissivity(p, r, t)
	e.checkComplementary(p, r, t, comp)

	r.finish()
	e.logResult(r)
	return r
}

// checkEquipmentTag is the cross-field identification check shared by all
// test types.
func (e *Engine) checkEquipmentTag(p *Profile, r *Result, tag string) {
	r.applied("XF-01")
	if strings.TrimSpace(tag) != "" {
		return
	}
	r.add(Finding{
		Severity: models.SeverityMajor,
		RuleID:   "XF-01",
		Message:  "equipment tag is missing; the report cannot be traced to an asset",
		Evidence: models.Evidence{
			ExtractedValue:    "",
			Threshold:         "non-empty equipment tag",
			StandardReference: p.Reference("XF-01"),
		},
		Remediation: "Identify the equipment tag on the report cover sheet and resubmit",
	})
}

func (e *Engine) logResult(r *Result) {
	e.logger.V(1).Info("validation completed",
		"equipment_tag", r.EquipmentTag,
		"profile", r.Profile,
		"findings", len(r.Findings),
		"critical", r.CriticalCount,
		"major", r.MajorCount,
		"minor", r.MinorCount,
		"is_valid", r.IsValid,
	)
}

// equipmentType normalizes an extracted type string to the model enum.
func equipmentType(s string) models.EquipmentType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PANEL":
		return models.EquipmentPanel
	case "UPS":
		return models.EquipmentUPS
	case "ATS":
		return models.EquipmentATS
	case "GEN", "GENERATOR":
		return models.EquipmentGen
	case "XFMR", "TRANSFORMER":
		return models.EquipmentXfmr
	default:
		return models.EquipmentOther
	}
}

func formatOhms(v float64) string   { return fmt.Sprintf("%.2f Ω", v) }
func formatMohms(v float64) string  { return fmt.Sprintf("%.1f MΩ", v) }
func formatDeltaT(v float64) string { return fmt.Sprintf("ΔT %.1f °C", v) }
