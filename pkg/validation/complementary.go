package validation

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/voltaudit/voltaudit/pkg/extraction"
	"github.com/voltaudit/voltaudit/pkg/models"
)

// checkComplementary runs the cross-document checks for a thermography
// analysis. Every check runs regardless of what the earlier ones found;
// a report that fails three of them carries three findings.
//
//	COMP-001  camera calibration expired on the inspection date
//	COMP-002  certificate serial does not match the report
//	COMP-006  certificate serial illegible (replaces COMP-002)
//	COMP-003  reflected temperature disagrees with the hygrometer
//	COMP-004  phase coverage incomplete for the equipment type
//	COMP-005  high delta-T without component inspection commentary
func (e *Engine) checkComplementary(p *Profile, r *Result, t *extraction.ThermographyExtraction, comp ComplementaryInput) {
	e.checkCalibration(p, r, "COMP-001", t.Calibration, t.TestConditions.InspectionDate.Value)
	e.checkSerialMatch(p, r, t, comp)
	e.checkTempAgreement(p, r, t, comp)
	e.checkPhaseCoverage(p, r, t, comp)
	e.checkSpecCommentary(p, r, t)
}

// checkSerialMatch compares the OCR read of the calibration certificate
// against the serial stated on the report. An illegible certificate is its
// own, softer finding: a mismatch asserts the wrong instrument was used,
// while illegibility only means nobody can tell.
func (e *Engine) checkSerialMatch(p *Profile, r *Result, t *extraction.ThermographyExtraction, comp ComplementaryInput) {
	if comp.Certificate == nil || t.Calibration == nil {
		return
	}

	if comp.CertificateConfidence < p.SerialConfidenceThreshold {
		r.applied("COMP-006")
		r.add(Finding{
			Severity: models.SeverityMajor,
			RuleID:   "COMP-006",
			Message: fmt.Sprintf("calibration certificate serial is illegible (OCR confidence %.2f); instrument identity could not be confirmed",
				comp.CertificateConfidence),
			Evidence: models.Evidence{
				ExtractedValue:    fmt.Sprintf("OCR confidence %.2f", comp.CertificateConfidence),
				Threshold:         fmt.Sprintf("confidence >= %.2f", p.SerialConfidenceThreshold),
				StandardReference: p.Reference("COMP-006"),
			},
			Remediation: "Photograph the calibration certificate again with the serial number legible",
		})
		return
	}
	r.applied("COMP-002")

	reported := normalizeSerial(t.Calibration.CertificateSerial.Value)
	read := normalizeSerial(comp.Certificate.SerialNumber.Value)
	if reported == read {
		return
	}
	r.add(Finding{
		Severity: models.SeverityCritical,
		RuleID:   "COMP-002",
		Message: fmt.Sprintf("certificate serial %q does not match the serial %q stated on the report",
			comp.Certificate.SerialNumber.Value, t.Calibration.CertificateSerial.Value),
		Evidence: models.Evidence{
			ExtractedValue:    fmt.Sprintf("certificate %q, report %q", comp.Certificate.SerialNumber.Value, t.Calibration.CertificateSerial.Value),
			Threshold:         "serials match (case-insensitive)",
			StandardReference: p.Reference("COMP-002"),
		},
		Remediation: "Attach the calibration certificate for the camera actually used, or correct the report",
	})
}

func normalizeSerial(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// checkTempAgreement verifies the reflected temperature entered into the
// camera against the independent thermo-hygrometer reading.
func (e *Engine) checkTempAgreement(p *Profile, r *Result, t *extraction.ThermographyExtraction, comp ComplementaryInput) {
	if comp.Hygrometer == nil {
		return
	}
	r.applied("COMP-003")

	reflected := t.ThermalParams.ReflectedTempC.Value
	measured := comp.Hygrometer.TemperatureC.Value
	diff := math.Abs(reflected - measured)
	if diff <= p.TempMatchTolerance {
		return
	}
	r.add(Finding{
		Severity: models.SeverityCritical,
		RuleID:   "COMP-003",
		Message: fmt.Sprintf("reflected temperature %.1f °C disagrees with the hygrometer reading %.1f °C by %.1f °C",
			reflected, measured, diff),
		Evidence: models.Evidence{
			ExtractedValue:    fmt.Sprintf("reflected %.1f °C vs hygrometer %.1f °C", reflected, measured),
			Threshold:         fmt.Sprintf("difference <= %.1f °C", p.TempMatchTolerance),
			StandardReference: p.Reference("COMP-003"),
		},
		Remediation: "Re-measure ambient conditions and repeat the survey with corrected camera parameters",
	})
}

// checkPhaseCoverage verifies that the survey inspected every phase the
// equipment type requires. Hotspot locations use A/B/C/N designators; the
// R/S/T alias set maps onto A/B/C before comparison.
func (e *Engine) checkPhaseCoverage(p *Profile, r *Result, t *extraction.ThermographyExtraction, comp ComplementaryInput) {
	expected := comp.ExpectedPhases
	if len(expected) == 0 {
		expected = p.ExpectedPhaseSet(equipmentType(t.Equipment.Type.Value))
	}
	r.applied("COMP-004")

	observed := make(map[string]bool, len(t.Hotspots))
	for _, h := range t.Hotspots {
		if phase := normalizePhase(h.Location.Value); phase != "" {
			observed[phase] = true
		}
	}

	var missing []string
	for _, phase := range expected {
		if !observed[normalizePhase(phase)] {
			missing = append(missing, phase)
		}
	}
	if len(missing) == 0 {
		return
	}
	sort.Strings(missing)

	r.add(Finding{
		Severity: models.SeverityCritical,
		RuleID:   "COMP-004",
		Message: fmt.Sprintf("survey does not cover phase(s) %s required for %s equipment",
			strings.Join(missing, ", "), equipmentType(t.Equipment.Type.Value)),
		Evidence: models.Evidence{
			ExtractedValue:    fmt.Sprintf("observed phases: %s", joinSet(observed)),
			Threshold:         fmt.Sprintf("phases %s inspected", strings.Join(expected, ", ")),
			StandardReference: p.Reference("COMP-004"),
		},
		Remediation: "Re-survey the equipment covering every phase and the neutral where required",
	})
}

// normalizePhase maps the R/S/T phase alias set onto A/B/C and uppercases.
func normalizePhase(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "R", "A":
		return "A"
	case "S", "B":
		return "B"
	case "T", "C":
		return "C"
	case "N":
		return "N"
	default:
		return strings.ToUpper(strings.TrimSpace(s))
	}
}

func joinSet(set map[string]bool) string {
	if len(set) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}

// checkSpecCommentary requires that surveys reporting a significant delta-T
// also document inspection of the usual failure sites. The keyword list
// covers English and Portuguese report vocabularies.
func (e *Engine) checkSpecCommentary(p *Profile, r *Result, t *extraction.ThermographyExtraction) {
	r.applied("COMP-005")
	if t.MaxDeltaT <= p.SpecDeltaTThreshold {
		return
	}

	var comments string
	if t.ReportComments != nil {
		comments = strings.ToLower(t.ReportComments.Value)
	}
	for _, keyword := range p.SpecRequiredKeywords {
		if strings.Contains(comments, keyword) {
			return
		}
	}

	r.add(Finding{
		Severity: models.SeverityCritical,
		RuleID:   "COMP-005",
		Message: fmt.Sprintf("max delta-T %.1f °C exceeds %.1f °C but the report comments do not document inspection of terminals, insulators, torque or conductors",
			t.MaxDeltaT, p.SpecDeltaTThreshold),
		Evidence: models.Evidence{
			ExtractedValue:    fmt.Sprintf("max ΔT %.1f °C, comments lack required coverage", t.MaxDeltaT),
			Threshold:         fmt.Sprintf("component inspection documented when ΔT > %.1f °C", p.SpecDeltaTThreshold),
			StandardReference: p.Reference("COMP-005"),
		},
		Remediation: "Document the inspection of terminals, insulators, torque marks and conductors, or re-inspect",
	})
}
