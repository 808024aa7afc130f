// Package validation is the deterministic rule engine. Validators read an
// extraction and nothing else: no external calls, no wall clock (expiration
// checks use the extraction's inspection date), no shared state. Same input,
// same result, byte for byte.
package validation

import (
	"sync"

	"github.com/voltaudit/voltaudit/pkg/models"
)

// VoltageClassMinimum is one row of the IEEE 43 insulation-resistance
// minimums: readings at or below MaxVoltage must meet MinMegohms.
type VoltageClassMinimum struct {
	MaxVoltage float64
	MinMegohms float64
}

// Profile is an immutable bundle of thresholds and canonical citations for a
// named standard. Profiles are selected per task and never mutated.
type Profile struct {
	Name string

	// Grounding ceilings in ohms per equipment type.
	GroundingCeilings       map[models.EquipmentType]float64
	GroundingDefaultCeiling float64

	// Megger minimums per voltage class, ascending by MaxVoltage.
	MeggerMinimums       []VoltageClassMinimum
	PolarizationIndexMin float64

	// Thermography delta-T band edges in ascending order:
	// ATTENTION, INTERMEDIATE, SERIOUS, CRITICAL.
	DeltaTBands [4]float64

	EmissivityExpected  float64
	EmissivityTolerance float64

	// Complementary (cross-document) thresholds.
	SerialConfidenceThreshold float64
	TempMatchTolerance        float64
	SpecDeltaTThreshold       float64
	SpecRequiredKeywords      []string

	// Expected phase coverage per equipment type (A/B/C/N designators;
	// R/S/T aliases are normalized before comparison).
	ExpectedPhases map[models.EquipmentType][]string

	// Canonical standard reference per rule id.
	References map[string]string
}

// Reference returns the canonical citation for a rule, "N/A" when the
// profile has none.
func (p *Profile) Reference(ruleID string) string {
	if ref, ok := p.References[ruleID]; ok {
		return ref
	}
	return "N/A"
}

// GroundingCeiling returns the resistance ceiling for an equipment type.
func (p *Profile) GroundingCeiling(eq models.EquipmentType) float64 {
	if ceiling, ok := p.GroundingCeilings[eq]; ok {
		return ceiling
	}
	return p.GroundingDefaultCeiling
}

// MeggerMinimum returns the insulation-resistance floor for a test voltage.
func (p *Profile) MeggerMinimum(testVoltage float64) float64 {
	for _, row := range p.MeggerMinimums {
		if testVoltage <= row.MaxVoltage {
			return row.MinMegohms
		}
	}
	// Above the table: the last (highest) class applies.
	return p.MeggerMinimums[len(p.MeggerMinimums)-1].MinMegohms
}

// ExpectedPhaseSet returns the phase designators a complete survey of the
// equipment type must cover.
func (p *Profile) ExpectedPhaseSet(eq models.EquipmentType) []string {
	if phases, ok := p.ExpectedPhases[eq]; ok {
		return phases
	}
	return []string{"A", "B", "C"}
}

var netaProfile = &Profile{
	Name: "NETA",
	GroundingCeilings: map[models.EquipmentType]float64{
		models.EquipmentPanel: 5.0,
		models.EquipmentUPS:   1.0,
		models.EquipmentATS:   5.0,
		models.EquipmentGen:   10.0,
		models.EquipmentXfmr:  5.0,
	},
	GroundingDefaultCeiling: 25.0,
	MeggerMinimums: []VoltageClassMinimum{
		{MaxVoltage: 250, MinMegohms: 25},
		{MaxVoltage: 600, MinMegohms: 100},
		{MaxVoltage: 1000, MinMegohms: 100},
		{MaxVoltage: 2500, MinMegohms: 500},
		{MaxVoltage: 5000, MinMegohms: 1000},
	},
	PolarizationIndexMin:      2.0,
	DeltaTBands:               [4]float64{5, 15, 35, 70},
	EmissivityExpected:        0.95,
	EmissivityTolerance:       0.05,
	SerialConfidenceThreshold: 0.7,
	TempMatchTolerance:        2.0,
	SpecDeltaTThreshold:       10.0,
	SpecRequiredKeywords: []string{
		"terminals", "insulators", "torque", "conductors",
		"terminais", "isoladores", "condutores",
	},
	ExpectedPhases: map[models.EquipmentType][]string{
		models.EquipmentPanel: {"A", "B", "C", "N"},
		models.EquipmentATS:   {"A", "B", "C", "N"},
		models.EquipmentGen:   {"A", "B", "C", "N"},
		models.EquipmentXfmr:  {"A", "B", "C", "N"},
		models.EquipmentUPS:   {"A", "B", "C"},
	},
	References: map[string]string{
		"GND-01":    "NETA ATS-2021 §7.13",
		"GND-02":    "NETA ATS-2021 §7.13",
		"GND-03":    "NETA ATS-2021 §7.13",
		"MEG-01":    "IEEE 43-2000",
		"MEG-02":    "IEEE 43-2000",
		"THERM-01":  "NETA MTS-2019 Table 100.18",
		"THERM-02":  "NETA MTS-2019 §9.1",
		"CALIB-EXP": "ISO/IEC 17025",
		"XF-01":     "NETA ATS-2021 §7",
		"COMP-001":  "ISO/IEC 17025",
		"COMP-002":  "ISO/IEC 17025",
		"COMP-003":  "NETA MTS-2019 §9.1",
		"COMP-004":  "Microsoft SPEC 26 05 00",
		"COMP-005":  "Microsoft SPEC 26 05 00",
		"COMP-006":  "ISO/IEC 17025",
	},
}

// The Microsoft profile tightens the grounding ceilings and the spec
// compliance thresholds; citations move to the Microsoft specification
// where it governs.
var microsoftProfile = &Profile{
	Name: "MICROSOFT",
	GroundingCeilings: map[models.EquipmentType]float64{
		models.EquipmentPanel: 3.0,
		models.EquipmentUPS:   1.0,
		models.EquipmentATS:   3.0,
		models.EquipmentGen:   5.0,
		models.EquipmentXfmr:  3.0,
	},
	GroundingDefaultCeiling: 10.0,
	MeggerMinimums: []VoltageClassMinimum{
		{MaxVoltage: 250, MinMegohms: 50},
		{MaxVoltage: 600, MinMegohms: 100},
		{MaxVoltage: 1000, MinMegohms: 200},
		{MaxVoltage: 2500, MinMegohms: 500},
		{MaxVoltage: 5000, MinMegohms: 1000},
	},
	PolarizationIndexMin:      2.0,
	DeltaTBands:               [4]float64{5, 15, 35, 70},
	EmissivityExpected:        0.95,
	EmissivityTolerance:       0.05,
	SerialConfidenceThreshold: 0.7,
	TempMatchTolerance:        2.0,
	SpecDeltaTThreshold:       10.0,
	SpecRequiredKeywords: []string{
		"terminals", "insulators", "torque", "conductors",
		"terminais", "isoladores", "condutores",
	},
	ExpectedPhases: map[models.EquipmentType][]string{
		models.EquipmentPanel: {"A", "B", "C", "N"},
		models.EquipmentATS:   {"A", "B", "C", "N"},
		models.EquipmentGen:   {"A", "B", "C", "N"},
		models.EquipmentXfmr:  {"A", "B", "C", "N"},
		models.EquipmentUPS:   {"A", "B", "C"},
	},
	References: map[string]string{
		"GND-01":    "Microsoft SPEC 26 05 00",
		"GND-02":    "Microsoft SPEC 26 05 00",
		"GND-03":    "Microsoft SPEC 26 05 00",
		"MEG-01":    "IEEE 43-2000",
		"MEG-02":    "IEEE 43-2000",
		"THERM-01":  "NETA MTS-2019 Table 100.18",
		"THERM-02":  "Microsoft SPEC 26 05 00",
		"CALIB-EXP": "ISO/IEC 17025",
		"XF-01":     "Microsoft SPEC 26 05 00",
		"COMP-001":  "ISO/IEC 17025",
		"COMP-002":  "ISO/IEC 17025",
		"COMP-003":  "Microsoft SPEC 26 05 00",
		"COMP-004":  "Microsoft SPEC 26 05 00",
		"COMP-005":  "Microsoft SPEC 26 05 00",
		"COMP-006":  "ISO/IEC 17025",
	},
}

// Registry resolves named profiles. Profiles are static; Resolve caches the
// lookup per engine lifetime.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewRegistry builds the registry with the built-in profiles.
func NewRegistry() *Registry {
	return &Registry{
		profiles: map[string]*Profile{
			netaProfile.Name:      netaProfile,
			microsoftProfile.Name: microsoftProfile,
		},
	}
}

// Resolve returns the named profile, or the NETA default for unknown names.
func (r *Registry) Resolve(name string) *Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.profiles[name]; ok {
		return p
	}
	return r.profiles["NETA"]
}
