package extraction

import "fmt"

// The five extraction flavors. Derived fields (min/max/avg resistance,
// delta-T, hotspot severity, analysis-level aggregates) are computed here
// after extraction, never requested from the model.

// GroundingMeasurement is one ordered test-point reading.
type GroundingMeasurement struct {
	TestPoint      FieldConfidence[string]   `json:"test_point"`
	ResistanceOhms FieldConfidence[float64]  `json:"resistance_ohms"`
	Method         *FieldConfidence[string]  `json:"method,omitempty"`
	Unit           *FieldConfidence[string]  `json:"unit,omitempty"`
}

// GroundingExtraction is the structured form of a ground-resistance report.
type GroundingExtraction struct {
	Equipment      Equipment              `json:"equipment"`
	Calibration    *Calibration           `json:"calibration,omitempty"`
	TestConditions TestConditions         `json:"test_conditions"`
	Measurements   []GroundingMeasurement `json:"measurements" validate:"min=1,dive"`

	// Derived, computed post-extraction.
	MinResistance float64 `json:"min_resistance"`
	MaxResistance float64 `json:"max_resistance"`
	AvgResistance float64 `json:"avg_resistance"`
}

// ComputeDerived fills the resistance aggregates from the measurement list.
func (g *GroundingExtraction) ComputeDerived() {
	if len(g.Measurements) == 0 {
		return
	}
	min, max, sum := g.Measurements[0].ResistanceOhms.Value, g.Measurements[0].ResistanceOhms.Value, 0.0
	for _, m := range g.Measurements {
		v := m.ResistanceOhms.Value
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}
	g.MinResistance = min
	g.MaxResistance = max
	g.AvgResistance = sum / float64(len(g.Measurements))
}

// Leaves lists all confidence observations.
func (g *GroundingExtraction) Leaves() []Leaf {
	leaves := []Leaf{
		{Path: "equipment.tag", Confidence: g.Equipment.Tag.Confidence},
		{Path: "equipment.type", Confidence: g.Equipment.Type.Confidence},
		{Path: "test_conditions.date", Confidence: g.TestConditions.Date.Confidence},
		{Path: "test_conditions.tester", Confidence: g.TestConditions.Tester.Confidence},
		{Path: "test_conditions.instrument", Confidence: g.TestConditions.Instrument.Confidence},
	}
	leaves = appendCalibrationLeaves(leaves, g.Calibration)
	for i, m := range g.Measurements {
		leaves = append(leaves,
			Leaf{Path: leafPath("measurements", i, "test_point"), Confidence: m.TestPoint.Confidence},
			Leaf{Path: leafPath("measurements", i, "resistance_ohms"), Confidence: m.ResistanceOhms.Confidence},
		)
	}
	return leaves
}

// PhaseReading is one per-phase insulation resistance reading.
type PhaseReading struct {
	Phase          FieldConfidence[string]  `json:"phase"`
	ResistanceMohm FieldConfidence[float64] `json:"resistance_megohms"`
}

// MeggerExtraction is the structured form of an insulation-resistance report.
type MeggerExtraction struct {
	Equipment         Equipment                 `json:"equipment"`
	Calibration       *Calibration              `json:"calibration,omitempty"`
	TestConditions    TestConditions            `json:"test_conditions"`
	TestVoltage       FieldConfidence[float64]  `json:"test_voltage"` // volts DC
	Readings          []PhaseReading            `json:"readings" validate:"min=1,dive"`
	PolarizationIndex *FieldConfidence[float64] `json:"polarization_index,omitempty"`
}

// Leaves lists all confidence observations.
func (m *MeggerExtraction) Leaves() []Leaf {
	leaves := []Leaf{
		{Path: "equipment.tag", Confidence: m.Equipment.Tag.Confidence},
		{Path: "equipment.type", Confidence: m.Equipment.Type.Confidence},
		{Path: "test_conditions.date", Confidence: m.TestConditions.Date.Confidence},
		{Path: "test_voltage", Confidence: m.TestVoltage.Confidence},
	}
	leaves = appendCalibrationLeaves(leaves, m.Calibration)
	for i, r := range m.Readings {
		leaves = append(leaves,
			Leaf{Path: leafPath("readings", i, "phase"), Confidence: r.Phase.Confidence},
			Leaf{Path: leafPath("readings", i, "resistance_megohms"), Confidence: r.ResistanceMohm.Confidence},
		)
	}
	if m.PolarizationIndex != nil {
		leaves = append(leaves, Leaf{Path: "polarization_index", Confidence: m.PolarizationIndex.Confidence})
	}
	return leaves
}

// HotspotSeverity bands per the NETA MTS delta-T table.
type HotspotSeverity string

const (
	HotspotNormal       HotspotSeverity = "NORMAL"
	HotspotAttention    HotspotSeverity = "ATTENTION"
	HotspotIntermediate HotspotSeverity = "INTERMEDIATE"
	HotspotSerious      HotspotSeverity = "SERIOUS"
	HotspotCritical     HotspotSeverity = "CRITICAL"
)

// SeverityForDeltaT maps a delta-T to its NETA MTS band. Boundaries are
// inclusive-low, exclusive-high: [5,15) ATTENTION, [15,35) INTERMEDIATE,
// [35,70) SERIOUS, >=70 CRITICAL.
func SeverityForDeltaT(deltaT float64) HotspotSeverity {
	switch {
	case deltaT >= 70:
		return HotspotCritical
	case deltaT >= 35:
		return HotspotSerious
	case deltaT >= 15:
		return HotspotIntermediate
	case deltaT >= 5:
		return HotspotAttention
	default:
		return HotspotNormal
	}
}

// severityRank orders hotspot severities for max aggregation.
func severityRank(s HotspotSeverity) int {
	switch s {
	case HotspotCritical:
		return 4
	case HotspotSerious:
		return 3
	case HotspotIntermediate:
		return 2
	case HotspotAttention:
		return 1
	default:
		return 0
	}
}

// Hotspot is one thermographic anomaly.
type Hotspot struct {
	Location  FieldConfidence[string]  `json:"location"` // phase designator: A/B/C/N or R/S/T
	Component FieldConfidence[string]  `json:"component"`
	MaxTempC  FieldConfidence[float64] `json:"max_temp_c"`
	RefTempC  FieldConfidence[float64] `json:"ref_temp_c"`

	// Derived.
	DeltaT   float64         `json:"delta_t"`
	Severity HotspotSeverity `json:"severity"`
}

// ThermographyConditions extends the shared test conditions with the
// inspection specifics of a thermal survey.
type ThermographyConditions struct {
	InspectionDate FieldConfidence[string]  `json:"inspection_date"` // YYYY-MM-DD
	Inspector      FieldConfidence[string]  `json:"inspector"`
	LoadPercent    FieldConfidence[float64] `json:"load_percent"`
	CameraModel    FieldConfidence[string]  `json:"camera_model"`
	CameraSerial   FieldConfidence[string]  `json:"camera_serial"`
}

// ThermalParams are the camera setup values declared on the report.
type ThermalParams struct {
	Emissivity     FieldConfidence[float64] `json:"emissivity"`
	AmbientTempC   FieldConfidence[float64] `json:"ambient_temp_c"`
	ReflectedTempC FieldConfidence[float64] `json:"reflected_temp_c"`
	DistanceM      FieldConfidence[float64] `json:"distance_m"`
	HumidityPct    FieldConfidence[float64] `json:"humidity_pct"`
}

// ThermographyExtraction is the structured form of a thermal survey report.
type ThermographyExtraction struct {
	Equipment      Equipment               `json:"equipment"`
	Calibration    *Calibration            `json:"calibration,omitempty"`
	TestConditions ThermographyConditions  `json:"test_conditions"`
	ThermalParams  ThermalParams           `json:"thermal_params"`
	Hotspots       []Hotspot               `json:"hotspots" validate:"dive"`
	ReportComments *FieldConfidence[string] `json:"report_comments,omitempty"`

	// Derived.
	MaxDeltaT     float64         `json:"max_delta_t"`
	MaxSeverity   HotspotSeverity `json:"max_severity"`
	CriticalCount int             `json:"critical_count"`
	SeriousCount  int             `json:"serious_count"`
}

// ComputeDerived fills per-hotspot delta-T/severity and the analysis-level
// aggregates.
func (t *ThermographyExtraction) ComputeDerived() {
	t.MaxDeltaT = 0
	t.MaxSeverity = HotspotNormal
	t.CriticalCount = 0
	t.SeriousCount = 0

	for i := range t.Hotspots {
		h := &t.Hotspots[i]
		h.DeltaT = h.MaxTempC.Value - h.RefTempC.Value
		h.Severity = SeverityForDeltaT(h.DeltaT)

		if h.DeltaT > t.MaxDeltaT {
			t.MaxDeltaT = h.DeltaT
		}
		if severityRank(h.Severity) > severityRank(t.MaxSeverity) {
			t.MaxSeverity = h.Severity
		}
		switch h.Severity {
		case HotspotCritical:
			t.CriticalCount++
		case HotspotSerious:
			t.SeriousCount++
		}
	}
}

// Merge concatenates another batch's hotspots and recomputes aggregates.
// Identification blocks from the first batch win.
func (t *ThermographyExtraction) Merge(other *ThermographyExtraction) {
	t.Hotspots = append(t.Hotspots, other.Hotspots...)
	if t.ReportComments == nil {
		t.ReportComments = other.ReportComments
	}
	t.ComputeDerived()
}

// Leaves lists all confidence observations.
func (t *ThermographyExtraction) Leaves() []Leaf {
	leaves := []Leaf{
		{Path: "equipment.tag", Confidence: t.Equipment.Tag.Confidence},
		{Path: "equipment.type", Confidence: t.Equipment.Type.Confidence},
		{Path: "test_conditions.inspection_date", Confidence: t.TestConditions.InspectionDate.Confidence},
		{Path: "thermal_params.emissivity", Confidence: t.ThermalParams.Emissivity.Confidence},
		{Path: "thermal_params.reflected_temp_c", Confidence: t.ThermalParams.ReflectedTempC.Confidence},
	}
	leaves = appendCalibrationLeaves(leaves, t.Calibration)
	for i, h := range t.Hotspots {
		leaves = append(leaves,
			Leaf{Path: leafPath("hotspots", i, "location"), Confidence: h.Location.Confidence},
			Leaf{Path: leafPath("hotspots", i, "max_temp_c"), Confidence: h.MaxTempC.Confidence},
			Leaf{Path: leafPath("hotspots", i, "ref_temp_c"), Confidence: h.RefTempC.Confidence},
		)
	}
	return leaves
}

// CertificateOCR is the structured read of a calibration certificate image.
type CertificateOCR struct {
	SerialNumber FieldConfidence[string]  `json:"serial_number"`
	Lab          *FieldConfidence[string] `json:"lab,omitempty"`
}

// Leaves lists all confidence observations.
func (c *CertificateOCR) Leaves() []Leaf {
	leaves := []Leaf{{Path: "serial_number", Confidence: c.SerialNumber.Confidence}}
	if c.Lab != nil {
		leaves = append(leaves, Leaf{Path: "lab", Confidence: c.Lab.Confidence})
	}
	return leaves
}

// HygrometerOCR is the structured read of a thermo-hygrometer display image.
type HygrometerOCR struct {
	TemperatureC FieldConfidence[float64] `json:"temperature_c"`
	HumidityPct  FieldConfidence[float64] `json:"humidity_pct"`
}

// Leaves lists all confidence observations.
func (h *HygrometerOCR) Leaves() []Leaf {
	return []Leaf{
		{Path: "temperature_c", Confidence: h.TemperatureC.Confidence},
		{Path: "humidity_pct", Confidence: h.HumidityPct.Confidence},
	}
}

func appendCalibrationLeaves(leaves []Leaf, c *Calibration) []Leaf {
	if c == nil {
		return leaves
	}
	return append(leaves,
		Leaf{Path: "calibration.certificate_serial", Confidence: c.CertificateSerial.Confidence},
		Leaf{Path: "calibration.expiration_date", Confidence: c.ExpirationDate.Confidence, Calibration: true},
	)
}

func leafPath(list string, idx int, field string) string {
	return fmt.Sprintf("%s[%d].%s", list, idx, field)
}
