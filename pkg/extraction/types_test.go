package extraction

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func field[T any](v T, confidence float64) FieldConfidence[T] {
	return FieldConfidence[T]{Value: v, Confidence: confidence, SourceText: "span"}
}

var _ = Describe("Delta-T severity bands", func() {
	DescribeTable("boundaries are inclusive-low, exclusive-high",
		func(deltaT float64, expected HotspotSeverity) {
			Expect(SeverityForDeltaT(deltaT)).To(Equal(expected))
		},
		Entry("zero", 0.0, HotspotNormal),
		Entry("just under attention", 4.99, HotspotNormal),
		Entry("attention lower edge", 5.0, HotspotAttention),
		Entry("just under intermediate", 14.99, HotspotAttention),
		Entry("intermediate lower edge", 15.0, HotspotIntermediate),
		Entry("just under serious", 34.99, HotspotIntermediate),
		Entry("serious lower edge", 35.0, HotspotSerious),
		Entry("just under critical", 69.99, HotspotSerious),
		Entry("critical lower edge", 70.0, HotspotCritical),
		Entry("far past critical", 250.0, HotspotCritical),
		Entry("negative delta", -3.0, HotspotNormal),
	)
})

var _ = Describe("Grounding derived fields", func() {
	It("computes min, max and average over the measurements", func() {
		g := &GroundingExtraction{
			Measurements: []GroundingMeasurement{
				{TestPoint: field("TP-1", 0.9), ResistanceOhms: field(2.0, 0.9)},
				{TestPoint: field("TP-2", 0.9), ResistanceOhms: field(4.0, 0.9)},
				{TestPoint: field("TP-3", 0.9), ResistanceOhms: field(6.0, 0.9)},
			},
		}
		g.ComputeDerived()

		Expect(g.MinResistance).To(Equal(2.0))
		Expect(g.MaxResistance).To(Equal(6.0))
		Expect(g.AvgResistance).To(Equal(4.0))
	})

	It("leaves the aggregates zero for an empty measurement list", func() {
		g := &GroundingExtraction{}
		g.ComputeDerived()
		Expect(g.MaxResistance).To(BeZero())
	})
})

var _ = Describe("Thermography derived fields", func() {
	hotspot := func(maxT, refT float64) Hotspot {
		return Hotspot{
			Location:  field("A", 0.9),
			Component: field("lug", 0.9),
			MaxTempC:  field(maxT, 0.9),
			RefTempC:  field(refT, 0.9),
		}
	}

	It("computes per-hotspot delta and severity plus the aggregates", func() {
		t := &ThermographyExtraction{
			Hotspots: []Hotspot{
				hotspot(36.0, 30.0),  // 6: ATTENTION
				hotspot(70.0, 30.0),  // 40: SERIOUS
				hotspot(120.0, 30.0), // 90: CRITICAL
			},
		}
		t.ComputeDerived()

		Expect(t.Hotspots[0].DeltaT).To(Equal(6.0))
		Expect(t.Hotspots[0].Severity).To(Equal(HotspotAttention))
		Expect(t.MaxDeltaT).To(Equal(90.0))
		Expect(t.MaxSeverity).To(Equal(HotspotCritical))
		Expect(t.CriticalCount).To(Equal(1))
		Expect(t.SeriousCount).To(Equal(1))
	})

	It("merges batches by concatenating hotspots and recomputing", func() {
		first := &ThermographyExtraction{Hotspots: []Hotspot{hotspot(36.0, 30.0)}}
		first.ComputeDerived()
		second := &ThermographyExtraction{Hotspots: []Hotspot{hotspot(110.0, 30.0)}}
		second.ComputeDerived()

		first.Merge(second)

		Expect(first.Hotspots).To(HaveLen(2))
		Expect(first.MaxDeltaT).To(Equal(80.0))
		Expect(first.MaxSeverity).To(Equal(HotspotCritical))
	})

	It("keeps the first batch's comments on merge", func() {
		comments := field("terminals checked", 0.9)
		first := &ThermographyExtraction{ReportComments: &comments}
		other := field("other", 0.9)
		second := &ThermographyExtraction{ReportComments: &other}

		first.Merge(second)

		Expect(first.ReportComments.Value).To(Equal("terminals checked"))
	})
})

var _ = Describe("Confidence summary", func() {
	It("averages leaf confidences", func() {
		overall, needsReview := summarize([]Leaf{
			{Path: "a", Confidence: 0.8},
			{Path: "b", Confidence: 1.0},
		})
		Expect(overall).To(BeNumerically("~", 0.9, 1e-9))
		Expect(needsReview).To(BeFalse())
	})

	It("flags review when any leaf is below the threshold", func() {
		_, needsReview := summarize([]Leaf{
			{Path: "a", Confidence: 0.95},
			{Path: "b", Confidence: 0.69},
		})
		Expect(needsReview).To(BeTrue())
	})

	It("holds calibration leaves to the stricter 0.8 bar", func() {
		_, needsReview := summarize([]Leaf{
			{Path: "calibration.expiration_date", Confidence: 0.75, Calibration: true},
		})
		Expect(needsReview).To(BeTrue())

		_, needsReview = summarize([]Leaf{
			{Path: "other", Confidence: 0.75},
		})
		Expect(needsReview).To(BeFalse())
	})

	It("forces review for an empty leaf set", func() {
		overall, needsReview := summarize(nil)
		Expect(overall).To(BeZero())
		Expect(needsReview).To(BeTrue())
	})
})
