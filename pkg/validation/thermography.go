package validation

import (
	"fmt"
	"math"
	"strings"

	"github.com/voltaudit/voltaudit/pkg/extraction"
	"github.com/voltaudit/voltaudit/pkg/models"
)

// checkHotspots maps each classified hotspot to a finding (THERM-01). The
// delta-T band fixes the severity: SERIOUS and CRITICAL bands both produce
// critical findings, INTERMEDIATE major, ATTENTION minor. NORMAL hotspots
// produce nothing.
func (e *Engine) checkHotspots(p *Profile, r *Result, t *extraction.ThermographyExtraction) {
	r.applied("THERM-01")
	for _, h := range t.Hotspots {
		severity, ok := findingSeverityForBand(h.Severity)
		if !ok {
			continue
		}
		location := strings.TrimSpace(h.Location.Value)
		if location == "" {
			location = "unspecified location"
		}
		component := strings.TrimSpace(h.Component.Value)
		if component == "" {
			component = "component"
		}
		r.add(Finding{
			Severity: severity,
			RuleID:   "THERM-01",
			Message: fmt.Sprintf("%s band hotspot on %s (%s): %s against reference %.1f °C",
				h.Severity, component, location, formatDeltaT(h.DeltaT), h.RefTempC.Value),
			Evidence: models.Evidence{
				ExtractedValue:    formatDeltaT(h.DeltaT),
				Threshold:         bandThreshold(p, h.Severity),
				StandardReference: p.Reference("THERM-01"),
			},
			Remediation: remediationForBand(h.Severity),
		})
	}
}

// findingSeverityForBand maps a delta-T band to the finding severity, false
// for NORMAL.
func findingSeverityForBand(band extraction.HotspotSeverity) (models.Severity, bool) {
	switch band {
	case extraction.HotspotCritical, extraction.HotspotSerious:
		return models.SeverityCritical, true
	case extraction.HotspotIntermediate:
		return models.SeverityMajor, true
	case extraction.HotspotAttention:
		return models.SeverityMinor, true
	default:
		return "", false
	}
}

func bandThreshold(p *Profile, band extraction.HotspotSeverity) string {
	b := p.DeltaTBands
	switch band {
	case extraction.HotspotCritical:
		return fmt.Sprintf("ΔT >= %.0f °C", b[3])
	case extraction.HotspotSerious:
		return fmt.Sprintf("ΔT in [%.0f, %.0f) °C", b[2], b[3])
	case extraction.HotspotIntermediate:
		return fmt.Sprintf("ΔT in [%.0f, %.0f) °C", b[1], b[2])
	case extraction.HotspotAttention:
		return fmt.Sprintf("ΔT in [%.0f, %.0f) °C", b[0], b[1])
	default:
		return fmt.Sprintf("ΔT < %.0f °C", b[0])
	}
}

func remediationForBand(band extraction.HotspotSeverity) string {
	switch band {
	case extraction.HotspotCritical:
		return "De-energize and repair immediately"
	case extraction.HotspotSerious:
		return "Repair as soon as possible"
	case extraction.HotspotIntermediate:
		return "Schedule repair at the next available outage"
	default:
		return "Monitor at the next scheduled survey"
	}
}

// checkEmissivity flags camera setups that deviate from the expected
// emissivity for electrical equipment surveys (THERM-02).
func (e *Engine) checkEmissivity(p *Profile, r *Result, t *extraction.ThermographyExtraction) {
	r.applied("THERM-02")
	emissivity := t.ThermalParams.Emissivity.Value
	if emissivity == 0 {
		// Not stated on the report; the OCR contract omits absent values.
		return
	}
	if math.Abs(emissivity-p.EmissivityExpected) <= p.EmissivityTolerance {
		return
	}
	r.add(Finding{
		Severity: models.SeverityMinor,
		RuleID:   "THERM-02",
		Message: fmt.Sprintf("camera emissivity %.2f deviates from the expected %.2f for electrical surveys",
			emissivity, p.EmissivityExpected),
		Evidence: models.Evidence{
			ExtractedValue:    fmt.Sprintf("emissivity %.2f", emissivity),
			Threshold:         fmt.Sprintf("%.2f ± %.2f", p.EmissivityExpected, p.EmissivityTolerance),
			StandardReference: p.Reference("THERM-02"),
		},
		Remediation: "Verify the camera emissivity setting; temperatures may be misreported",
	})
}
