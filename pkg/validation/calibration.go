package validation

import (
	"fmt"

	"github.com/voltaudit/voltaudit/pkg/extraction"
	"github.com/voltaudit/voltaudit/pkg/models"
)

// checkCalibration verifies that the instrument's calibration certificate was
// still valid on the day of the test. The comparison uses the report's own
// test date, never the wall clock, so re-validating an old report gives the
// same answer. Emitted under the given rule id: CALIB-EXP for the test-type
// validators, COMP-001 when run as a complementary check.
func (e *Engine) checkCalibration(p *Profile, r *Result, ruleID string, cal *extraction.Calibration, testDate string) {
	if cal == nil {
		// No calibration block on the report; nothing to verify.
		return
	}
	r.applied(ruleID)

	expiration, okExp := extraction.ParseDate(cal.ExpirationDate.Value)
	tested, okTest := extraction.ParseDate(testDate)
	if !okExp || !okTest {
		r.add(Finding{
			Severity: models.SeverityMinor,
			RuleID:   ruleID,
			Message:  "calibration expiration or test date is unreadable; calibration validity could not be verified",
			Evidence: models.Evidence{
				ExtractedValue:    fmt.Sprintf("expiration %q, test date %q", cal.ExpirationDate.Value, testDate),
				Threshold:         "parseable YYYY-MM-DD dates",
				StandardReference: p.Reference(ruleID),
			},
			Remediation: "Attach a legible calibration certificate",
		})
		return
	}

	if expiration.Before(tested) {
		r.add(Finding{
			Severity: models.SeverityCritical,
			RuleID:   ruleID,
			Message: fmt.Sprintf("instrument calibration expired %s, before the test on %s",
				expiration.Format("2006-01-02"), tested.Format("2006-01-02")),
			Evidence: models.Evidence{
				ExtractedValue:    fmt.Sprintf("expired %s", expiration.Format("2006-01-02")),
				Threshold:         fmt.Sprintf("valid through %s", tested.Format("2006-01-02")),
				StandardReference: p.Reference(ruleID),
			},
			Remediation: "Repeat the test with an instrument holding a current calibration certificate",
		})
	}
}
