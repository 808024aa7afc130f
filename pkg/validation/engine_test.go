package validation_test

import (
	"encoding/json"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/voltaudit/voltaudit/pkg/extraction"
	"github.com/voltaudit/voltaudit/pkg/models"
	"github.com/voltaudit/voltaudit/pkg/validation"
)

func fc[T any](v T) extraction.FieldConfidence[T] {
	return extraction.FieldConfidence[T]{Value: v, Confidence: 0.95, SourceText: "report"}
}

func fcp[T any](v T) *extraction.FieldConfidence[T] {
	f := fc(v)
	return &f
}

func groundingFixture() *extraction.GroundingExtraction {
	g := &extraction.GroundingExtraction{
		Equipment: extraction.Equipment{
			Tag:  fc("PNL-DH2-01"),
			Type: fc("PANEL"),
		},
		Calibration: &extraction.Calibration{
			CertificateSerial: fc("CAL-2026-001"),
			ExpirationDate:    fc("2027-01-01"),
		},
		TestConditions: extraction.TestConditions{
			Date:       fc("2026-03-10"),
			Tester:     fc("J. Silva"),
			Instrument: fc("Fluke 1625-2"),
		},
		Measurements: []extraction.GroundingMeasurement{
			{TestPoint: fc("TP-1"), ResistanceOhms: fc(2.1), Unit: fcp("Ω")},
			{TestPoint: fc("TP-2"), ResistanceOhms: fc(3.0), Unit: fcp("Ω")},
			{TestPoint: fc("TP-3"), ResistanceOhms: fc(4.8), Unit: fcp("Ω")},
		},
	}
	g.ComputeDerived()
	return g
}

func thermographyFixture() *extraction.ThermographyExtraction {
	t := &extraction.ThermographyExtraction{
		Equipment: extraction.Equipment{
			Tag:  fc("PNL-DH2-01"),
			Type: fc("PANEL"),
		},
		Calibration: &extraction.Calibration{
			CertificateSerial: fc("FLIR-42X"),
			ExpirationDate:    fc("2027-06-01"),
		},
		TestConditions: extraction.ThermographyConditions{
			InspectionDate: fc("2026-03-10"),
			Inspector:      fc("M. Costa"),
			LoadPercent:    fc(80.0),
			CameraModel:    fc("FLIR E96"),
			CameraSerial:   fc("FLIR-42X"),
		},
		ThermalParams: extraction.ThermalParams{
			Emissivity:     fc(0.95),
			AmbientTempC:   fc(24.0),
			ReflectedTempC: fc(24.0),
			DistanceM:      fc(1.5),
			HumidityPct:    fc(55.0),
		},
		Hotspots: []extraction.Hotspot{
			{Location: fc("A"), Component: fc("breaker lug"), MaxTempC: fc(31.0), RefTempC: fc(30.0)},
			{Location: fc("B"), Component: fc("breaker lug"), MaxTempC: fc(31.0), RefTempC: fc(30.0)},
			{Location: fc("C"), Component: fc("breaker lug"), MaxTempC: fc(31.0), RefTempC: fc(30.0)},
			{Location: fc("N"), Component: fc("neutral bar"), MaxTempC: fc(30.5), RefTempC: fc(30.0)},
		},
		ReportComments: fcp("All terminals and conductors inspected, torque verified."),
	}
	t.ComputeDerived()
	return t
}

func ruleIDs(r *validation.Result) []string {
	ids := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		ids = append(ids, f.RuleID)
	}
	return ids
}

var _ = Describe("Validation Engine", func() {
	var engine *validation.Engine

	BeforeEach(func() {
		engine = validation.NewEngine(logr.Discard())
	})

	Describe("grounding validation", func() {
		It("passes a compliant PANEL report with no findings", func() {
			result := engine.Grounding("NETA", groundingFixture())

			Expect(result.Findings).To(BeEmpty())
			Expect(result.CriticalCount).To(BeZero())
			Expect(result.IsValid).To(BeTrue())
			Expect(result.EquipmentTag).To(Equal("PNL-DH2-01"))
		})

		It("flags a reading above the PANEL ceiling as MAJOR GND-01", func() {
			g := groundingFixture()
			g.Measurements[1].ResistanceOhms = fc(12.4)
			g.ComputeDerived()

			result := engine.Grounding("NETA", g)

			Expect(result.Findings).To(HaveLen(1))
			finding := result.Findings[0]
			Expect(finding.RuleID).To(Equal("GND-01"))
			Expect(finding.Severity).To(Equal(models.SeverityMajor))
			Expect(finding.Evidence.ExtractedValue).To(ContainSubstring("12.40"))
			Expect(finding.Evidence.Threshold).To(ContainSubstring("5.00"))
			Expect(finding.Evidence.StandardReference).To(Equal("NETA ATS-2021 §7.13"))
			Expect(result.MajorCount).To(Equal(1))
			Expect(result.IsValid).To(BeTrue())
		})

		It("applies the UPS ceiling of 1 ohm", func() {
			g := groundingFixture()
			g.Equipment.Type = fc("UPS")

			result := engine.Grounding("NETA", g)

			// 2.1, 3.0 and 4.8 all exceed 1.0.
			Expect(result.MajorCount).To(Equal(3))
		})

		It("accepts up to 10 ohms for generators", func() {
			g := groundingFixture()
			g.Equipment.Type = fc("GEN")
			g.Measurements[0].ResistanceOhms = fc(9.9)

			result := engine.Grounding("NETA", g)

			Expect(result.Findings).To(BeEmpty())
		})

		It("flags a negative reading as CRITICAL GND-02", func() {
			g := groundingFixture()
			g.Measurements[0].ResistanceOhms = fc(-0.4)

			result := engine.Grounding("NETA", g)

			Expect(ruleIDs(result)).To(ContainElement("GND-02"))
			Expect(result.CriticalCount).To(Equal(1))
			Expect(result.IsValid).To(BeFalse())
		})

		It("flags a missing unit as MINOR GND-03", func() {
			g := groundingFixture()
			g.Measurements[2].Unit = nil

			result := engine.Grounding("NETA", g)

			Expect(result.Findings).To(HaveLen(1))
			Expect(result.Findings[0].RuleID).To(Equal("GND-03"))
			Expect(result.Findings[0].Severity).To(Equal(models.SeverityMinor))
		})

		It("flags a missing equipment tag as MAJOR XF-01", func() {
			g := groundingFixture()
			g.Equipment.Tag = fc("")

			result := engine.Grounding("NETA", g)

			Expect(ruleIDs(result)).To(ContainElement("XF-01"))
		})

		It("flags expired calibration as CRITICAL CALIB-EXP citing ISO/IEC 17025", func() {
			g := groundingFixture()
			g.Calibration.ExpirationDate = fc("2025-12-01")
			g.TestConditions.Date = fc("2026-01-15")

			result := engine.Grounding("NETA", g)

			Expect(result.Findings).To(HaveLen(1))
			finding := result.Findings[0]
			Expect(finding.RuleID).To(Equal("CALIB-EXP"))
			Expect(finding.Severity).To(Equal(models.SeverityCritical))
			Expect(finding.Evidence.StandardReference).To(Equal("ISO/IEC 17025"))
		})

		It("tolerates a report without a calibration block", func() {
			g := groundingFixture()
			g.Calibration = nil

			result := engine.Grounding("NETA", g)

			Expect(result.Findings).To(BeEmpty())
			Expect(result.RulesApplied).NotTo(ContainElement("CALIB-EXP"))
		})

		It("is stricter under the MICROSOFT profile", func() {
			g := groundingFixture()
			g.Measurements[2].ResistanceOhms = fc(4.0)

			Expect(engine.Grounding("NETA", g).Findings).To(BeEmpty())
			Expect(engine.Grounding("MICROSOFT", g).MajorCount).To(Equal(1))
		})

		It("falls back to NETA for an unknown profile name", func() {
			result := engine.Grounding("ANSI", groundingFixture())
			Expect(result.Profile).To(Equal("NETA"))
		})
	})

	Describe("megger validation", func() {
		var m *extraction.MeggerExtraction

		BeforeEach(func() {
			m = &extraction.MeggerExtraction{
				Equipment: extraction.Equipment{
					Tag:  fc("XFMR-DH2-02"),
					Type: fc("XFMR"),
				},
				TestConditions: extraction.TestConditions{
					Date:       fc("2026-03-10"),
					Tester:     fc("J. Silva"),
					Instrument: fc("Megger MIT1025"),
				},
				TestVoltage: fc(500.0),
				Readings: []extraction.PhaseReading{
					{Phase: fc("A-GND"), ResistanceMohm: fc(1500.0)},
					{Phase: fc("B-GND"), ResistanceMohm: fc(1800.0)},
				},
				PolarizationIndex: fcp(2.4),
			}
		})

		It("passes readings above the voltage-class minimum", func() {
			result := engine.Megger("NETA", m)
			Expect(result.Findings).To(BeEmpty())
		})

		It("flags a reading below the IEEE 43 minimum as CRITICAL MEG-01", func() {
			m.Readings[0].ResistanceMohm = fc(40.0)

			result := engine.Megger("NETA", m)

			Expect(result.Findings).To(HaveLen(1))
			finding := result.Findings[0]
			Expect(finding.RuleID).To(Equal("MEG-01"))
			Expect(finding.Severity).To(Equal(models.SeverityCritical))
			Expect(finding.Evidence.StandardReference).To(Equal("IEEE 43-2000"))
			Expect(result.IsValid).To(BeFalse())
		})

		It("flags a polarization index below 2.0 as MAJOR MEG-02", func() {
			m.PolarizationIndex = fcp(1.4)

			result := engine.Megger("NETA", m)

			Expect(result.Findings).To(HaveLen(1))
			Expect(result.Findings[0].RuleID).To(Equal("MEG-02"))
			Expect(result.Findings[0].Severity).To(Equal(models.SeverityMajor))
		})

		It("skips the polarization check when the report omits PI", func() {
			m.PolarizationIndex = nil

			result := engine.Megger("NETA", m)

			Expect(result.Findings).To(BeEmpty())
			Expect(result.RulesApplied).NotTo(ContainElement("MEG-02"))
		})
	})

	Describe("thermography validation", func() {
		It("passes a cool, fully covered survey", func() {
			result := engine.Thermography("NETA", thermographyFixture(), validation.ComplementaryInput{})

			Expect(result.Findings).To(BeEmpty())
			Expect(result.IsValid).To(BeTrue())
		})

		It("maps a 90 degree delta to one CRITICAL finding", func() {
			t := thermographyFixture()
			t.Hotspots[0].MaxTempC = fc(120.0)
			t.Hotspots[0].RefTempC = fc(30.0)
			t.ComputeDerived()

			result := engine.Thermography("NETA", t, validation.ComplementaryInput{})

			Expect(result.CriticalCount).To(Equal(1))
			Expect(result.Findings[0].RuleID).To(Equal("THERM-01"))
			Expect(t.MaxSeverity).To(Equal(extraction.HotspotCritical))
			Expect(result.IsValid).To(BeFalse())
		})

		It("maps each delta-T band to its finding severity", func() {
			t := thermographyFixture()
			t.Hotspots = []extraction.Hotspot{
				{Location: fc("A"), Component: fc("lug"), MaxTempC: fc(33.0), RefTempC: fc(30.0)},  // 3: NORMAL
				{Location: fc("B"), Component: fc("lug"), MaxTempC: fc(36.0), RefTempC: fc(30.0)},  // 6: ATTENTION
				{Location: fc("C"), Component: fc("lug"), MaxTempC: fc(50.0), RefTempC: fc(30.0)},  // 20: INTERMEDIATE
				{Location: fc("N"), Component: fc("bar"), MaxTempC: fc(70.0), RefTempC: fc(30.0)},  // 40: SERIOUS
				{Location: fc("A"), Component: fc("bus"), MaxTempC: fc(105.0), RefTempC: fc(30.0)}, // 75: CRITICAL
			}
			t.ComputeDerived()

			result := engine.Thermography("NETA", t, validation.ComplementaryInput{})

			severities := make([]models.Severity, 0)
			for _, f := range result.Findings {
				if f.RuleID == "THERM-01" {
					severities = append(severities, f.Severity)
				}
			}
			// NORMAL is suppressed; the other four map in band order.
			Expect(severities).To(Equal([]models.Severity{
				models.SeverityMinor,
				models.SeverityMajor,
				models.SeverityCritical,
				models.SeverityCritical,
			}))
		})

		It("flags an off-nominal emissivity as MINOR THERM-02", func() {
			t := thermographyFixture()
			t.ThermalParams.Emissivity = fc(0.7)

			result := engine.Thermography("NETA", t, validation.ComplementaryInput{})

			Expect(ruleIDs(result)).To(ContainElement("THERM-02"))
		})
	})

	Describe("complementary checks", func() {
		It("emits COMP-006 instead of COMP-002 when the certificate is illegible", func() {
			t := thermographyFixture()
			comp := validation.ComplementaryInput{
				Certificate: &extraction.CertificateOCR{
					SerialNumber: extraction.FieldConfidence[string]{Value: "FLI", Confidence: 0.55},
				},
				CertificateConfidence: 0.55,
			}

			result := engine.Thermography("NETA", t, comp)

			Expect(ruleIDs(result)).To(ContainElement("COMP-006"))
			Expect(ruleIDs(result)).NotTo(ContainElement("COMP-002"))
			Expect(result.RulesApplied).To(ContainElement("COMP-006"))
			Expect(result.RulesApplied).NotTo(ContainElement("COMP-002"))
			Expect(result.MajorCount).To(Equal(1))
			Expect(result.CriticalCount).To(BeZero())
		})

		It("emits CRITICAL COMP-002 on a serial mismatch", func() {
			t := thermographyFixture()
			comp := validation.ComplementaryInput{
				Certificate: &extraction.CertificateOCR{
					SerialNumber: extraction.FieldConfidence[string]{Value: "FLIR-99Z", Confidence: 0.96},
				},
				CertificateConfidence: 0.96,
			}

			result := engine.Thermography("NETA", t, comp)

			Expect(ruleIDs(result)).To(ContainElement("COMP-002"))
			Expect(result.RulesApplied).To(ContainElement("COMP-002"))
			Expect(result.CriticalCount).To(Equal(1))
		})

		It("matches serials case-insensitively", func() {
			t := thermographyFixture()
			comp := validation.ComplementaryInput{
				Certificate: &extraction.CertificateOCR{
					SerialNumber: extraction.FieldConfidence[string]{Value: "flir-42x", Confidence: 0.96},
				},
				CertificateConfidence: 0.96,
			}

			result := engine.Thermography("NETA", t, comp)

			Expect(ruleIDs(result)).NotTo(ContainElement("COMP-002"))
		})

		It("emits CRITICAL COMP-003 when the hygrometer disagrees beyond tolerance", func() {
			t := thermographyFixture()
			comp := validation.ComplementaryInput{
				Hygrometer: &extraction.HygrometerOCR{
					TemperatureC: fc(27.5), // reflected is 24.0
					HumidityPct:  fc(55.0),
				},
			}

			result := engine.Thermography("NETA", t, comp)

			Expect(ruleIDs(result)).To(ContainElement("COMP-003"))
		})

		It("accepts a hygrometer reading within 2 degrees", func() {
			t := thermographyFixture()
			comp := validation.ComplementaryInput{
				Hygrometer: &extraction.HygrometerOCR{
					TemperatureC: fc(25.9),
					HumidityPct:  fc(55.0),
				},
			}

			result := engine.Thermography("NETA", t, comp)

			Expect(ruleIDs(result)).NotTo(ContainElement("COMP-003"))
		})

		It("emits CRITICAL COMP-004 for incomplete phase coverage", func() {
			t := thermographyFixture()
			t.Hotspots = t.Hotspots[:2] // phases A and B only
			t.ComputeDerived()

			result := engine.Thermography("NETA", t, validation.ComplementaryInput{})

			Expect(ruleIDs(result)).To(ContainElement("COMP-004"))
			Expect(result.CriticalCount).To(Equal(1))
		})

		It("treats R/S/T as aliases of A/B/C", func() {
			t := thermographyFixture()
			t.Hotspots[0].Location = fc("R")
			t.Hotspots[1].Location = fc("S")
			t.Hotspots[2].Location = fc("T")

			result := engine.Thermography("NETA", t, validation.ComplementaryInput{})

			Expect(ruleIDs(result)).NotTo(ContainElement("COMP-004"))
		})

		It("honors an expected-phase override from the submitter", func() {
			t := thermographyFixture()
			t.Hotspots = t.Hotspots[:1] // phase A only
			comp := validation.ComplementaryInput{ExpectedPhases: []string{"A"}}

			result := engine.Thermography("NETA", t, comp)

			Expect(ruleIDs(result)).NotTo(ContainElement("COMP-004"))
		})

		It("emits CRITICAL COMP-005 for a hot survey without component commentary", func() {
			t := thermographyFixture()
			t.Hotspots[0].MaxTempC = fc(45.0) // delta 15
			t.ReportComments = fcp("No anomalies observed.")
			t.ComputeDerived()

			result := engine.Thermography("NETA", t, validation.ComplementaryInput{})

			Expect(ruleIDs(result)).To(ContainElement("COMP-005"))
		})

		It("accepts Portuguese commentary keywords", func() {
			t := thermographyFixture()
			t.Hotspots[0].MaxTempC = fc(45.0)
			t.ReportComments = fcp("Inspecionados terminais e condutores.")
			t.ComputeDerived()

			result := engine.Thermography("NETA", t, validation.ComplementaryInput{})

			Expect(ruleIDs(result)).NotTo(ContainElement("COMP-005"))
		})

		It("runs every complementary check without short-circuiting", func() {
			t := thermographyFixture()
			t.Calibration.ExpirationDate = fc("2025-01-01") // COMP-001
			t.Hotspots[0].MaxTempC = fc(45.0)               // delta 15 for COMP-005
			t.ReportComments = fcp("ok")                    // COMP-005
			t.ComputeDerived()
			comp := validation.ComplementaryInput{
				Certificate: &extraction.CertificateOCR{
					SerialNumber: extraction.FieldConfidence[string]{Value: "OTHER-1", Confidence: 0.96},
				},
				CertificateConfidence: 0.96, // COMP-002
				Hygrometer: &extraction.HygrometerOCR{
					TemperatureC: fc(30.0), // COMP-003 (reflected 24.0)
					HumidityPct:  fc(55.0),
				},
			}

			result := engine.Thermography("NETA", t, comp)

			ids := ruleIDs(result)
			Expect(ids).To(ContainElements("COMP-001", "COMP-002", "COMP-003", "COMP-005"))
		})
	})

	Describe("determinism", func() {
		It("produces byte-identical results for the same extraction", func() {
			g := groundingFixture()
			g.Measurements[1].ResistanceOhms = fc(12.4)
			g.Measurements[2].Unit = nil

			first, err := json.Marshal(engine.Grounding("NETA", g))
			Expect(err).NotTo(HaveOccurred())
			second, err := json.Marshal(engine.Grounding("NETA", g))
			Expect(err).NotTo(HaveOccurred())

			Expect(first).To(Equal(second))
		})

		It("produces byte-identical thermography results including complementary checks", func() {
			t := thermographyFixture()
			t.Hotspots = t.Hotspots[:2]
			t.ComputeDerived()
			comp := validation.ComplementaryInput{
				Certificate: &extraction.CertificateOCR{
					SerialNumber: extraction.FieldConfidence[string]{Value: "FLIR-42X", Confidence: 0.9},
				},
				CertificateConfidence: 0.9,
			}

			first, err := json.Marshal(engine.Thermography("NETA", t, comp))
			Expect(err).NotTo(HaveOccurred())
			second, err := json.Marshal(engine.Thermography("NETA", t, comp))
			Expect(err).NotTo(HaveOccurred())

			Expect(first).To(Equal(second))
		})
	})
})
