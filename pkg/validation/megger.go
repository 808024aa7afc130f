package validation

import (
	"fmt"

	"github.com/voltaudit/voltaudit/pkg/extraction"
	"github.com/voltaudit/voltaudit/pkg/models"
)

// checkMegger applies the insulation-resistance rules:
//
//	MEG-01  reading below the IEEE 43 minimum for the test voltage class
//	MEG-02  polarization index below the profile minimum, when reported
func (e *Engine) checkMegger(p *Profile, r *Result, m *extraction.MeggerExtraction) {
	minimum := p.MeggerMinimum(m.TestVoltage.Value)

	r.applied("MEG-01")
	for _, reading := range m.Readings {
		if reading.ResistanceMohm.Value >= minimum {
			continue
		}
		r.add(Finding{
			Severity: models.SeverityCritical,
			RuleID:   "MEG-01",
			Message: fmt.Sprintf("insulation resistance %s on %s is below the %s minimum for a %.0f V test",
				formatMohms(reading.ResistanceMohm.Value), reading.Phase.Value, formatMohms(minimum), m.TestVoltage.Value),
			Evidence: models.Evidence{
				ExtractedValue:    formatMohms(reading.ResistanceMohm.Value),
				Threshold:         fmt.Sprintf(">= %s at %.0f V", formatMohms(minimum), m.TestVoltage.Value),
				StandardReference: p.Reference("MEG-01"),
			},
			Remediation: "Investigate insulation degradation on the failing phase before energization",
		})
	}

	if m.PolarizationIndex != nil {
		r.applied("MEG-02")
		if pi := m.PolarizationIndex.Value; pi < p.PolarizationIndexMin {
			r.add(Finding{
				Severity: models.SeverityMajor,
				RuleID:   "MEG-02",
				Message: fmt.Sprintf("polarization index %.2f is below the minimum of %.1f",
					pi, p.PolarizationIndexMin),
				Evidence: models.Evidence{
					ExtractedValue:    fmt.Sprintf("PI %.2f", pi),
					Threshold:         fmt.Sprintf(">= %.1f", p.PolarizationIndexMin),
					StandardReference: p.Reference("MEG-02"),
				},
				Remediation: "Dry out or recondition the insulation and repeat the polarization index test",
			})
		}
	}
}
