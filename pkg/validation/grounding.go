package validation

import (
	"fmt"
	"strings"

	"github.com/voltaudit/voltaudit/pkg/extraction"
	"github.com/voltaudit/voltaudit/pkg/models"
)

// checkGrounding applies the ground-resistance rules to every measurement:
//
//	GND-01  reading above the per-equipment ceiling
//	GND-02  physically impossible negative reading
//	GND-03  reading reported without a unit
func (e *Engine) checkGrounding(p *Profile, r *Result, g *extraction.GroundingExtraction) {
	eq := equipmentType(g.Equipment.Type.Value)
	ceiling := p.GroundingCeiling(eq)

	r.applied("GND-01")
	r.applied("GND-02")
	r.applied("GND-03")

	for _, m := range g.Measurements {
		point := strings.TrimSpace(m.TestPoint.Value)
		if point == "" {
			point = "unnamed test point"
		}
		v := m.ResistanceOhms.Value

		if v < 0 {
			r.add(Finding{
				Severity: models.SeverityCritical,
				RuleID:   "GND-02",
				Message:  fmt.Sprintf("%s reports a negative resistance of %s; the measurement is invalid", point, formatOhms(v)),
				Evidence: models.Evidence{
					ExtractedValue:    formatOhms(v),
					Threshold:         ">= 0 Ω",
					StandardReference: p.Reference("GND-02"),
				},
				Remediation: "Repeat the ground resistance test; negative readings indicate an instrument or transcription fault",
			})
			// A negative reading cannot also meaningfully exceed the ceiling.
			continue
		}

		if v > ceiling {
			r.add(Finding{
				Severity: models.SeverityMajor,
				RuleID:   "GND-01",
				Message: fmt.Sprintf("%s measured %s, above the %s ceiling of %s for %s equipment",
					point, formatOhms(v), p.Name, formatOhms(ceiling), eq),
				Evidence: models.Evidence{
					ExtractedValue:    formatOhms(v),
					Threshold:         fmt.Sprintf("<= %s", formatOhms(ceiling)),
					StandardReference: p.Reference("GND-01"),
				},
				Remediation: "Inspect the grounding electrode and bonding connections, then retest",
			})
		}

		if m.Unit == nil || strings.TrimSpace(m.Unit.Value) == "" {
			r.add(Finding{
				Severity: models.SeverityMinor,
				RuleID:   "GND-03",
				Message:  fmt.Sprintf("%s reports a resistance without a unit; ohms were assumed", point),
				Evidence: models.Evidence{
					ExtractedValue:    fmt.Sprintf("%.2f (no unit)", v),
					Threshold:         "unit stated on the report",
					StandardReference: p.Reference("GND-03"),
				},
				Remediation: "Record the measurement unit on the test sheet",
			})
		}
	}
}
