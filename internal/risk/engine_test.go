package risk

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// oilNearMachine is the reference production-line oil spill.
func oilNearMachine() (Detection, Context) {
	return Detection{
			ID:            "det_1",
			Label:         "spill",
			SubstancePred: "oil",
			Confidence:    0.93,
			AreaRatio:     0.30,
		}, Context{
			SiteID:                 "SITE_001",
			ZoneID:                 "Z1",
			ZoneType:               "production",
			ProximityToMachines:    "near_machine",
			FloorType:              "non_absorbent",
			ProductionValuePerHour: 8000,
		}
}

func factorValues(t *testing.T, r RiskResult) map[FactorName]float64 {
	t.Helper()
	out := make(map[FactorName]float64, len(r.Factors))
	for _, f := range r.Factors {
		out[f.Name] = f.Value
	}
	return out
}

// ---------------------------------------------------------------------------
// Reference scenario
// ---------------------------------------------------------------------------

func TestBuildRiskResult_OilNearMachine(t *testing.T) {
	det, ctx := oilNearMachine()

	r := BuildRiskResult("img_001", []Detection{det}, ctx)

	assert.Equal(t, "img_001", r.ImageID)
	assert.Equal(t, 43.1, r.GlobalSeverityScore)
	assert.Equal(t, LevelMedium, r.GlobalSeverityLevel)
	assert.Equal(t, "EUR", r.Currency)

	values := factorValues(t, r)
	assert.Equal(t, 44.0, values[FactorPhysical])
	assert.Equal(t, 40.0, values[FactorElectrical])
	assert.Equal(t, 40.0, values[FactorHumanSafety])
	assert.Equal(t, 16.0, values[FactorBusiness])
	assert.Equal(t, 93.0, values[FactorModelConfidence])

	contributions := make([]float64, 0, 5)
	for _, f := range r.Factors {
		contributions = append(contributions, f.Contribution)
	}
	assert.Equal(t, []float64{15.4, 8, 8, 2.4, 9.3}, contributions)

	// hours = 1.2, damage 1.0, severity x0.931
	assert.Equal(t, 8937.6, r.EstimatedCost)

	// Mitigated: 0.35*22 + 0.2*20 + 0.2*24 + 0.15*11.2 + 0.1*93
	assert.Equal(t, 27.48, r.MitigatedSeverityScore)
	assert.Equal(t, LevelMedium, r.MitigatedSeverityLevel)
	assert.Equal(t, 36.24, r.RiskReductionPct)
	assert.InDelta(t, 8937.6*27.48/43.1, r.MitigatedCost, 0.006)

	assert.Equal(t, []string{RecIsolateArea, RecOilCleanup, RecLogOnly}, r.Recommendations)
	assert.Equal(t,
		"Incident classified MEDIUM (score 43.1/100). Detected substance: oil. "+
			"Zone: production, proximity to equipment: near_machine. "+
			"The detailed scores (physical, electrical, human safety, business, model confidence) "+
			"each contribute to the global score according to their weight.",
		r.Explanation)
}

func TestBuildRiskResult_FactorOrderAndWeights(t *testing.T) {
	det, ctx := oilNearMachine()
	r := BuildRiskResult("img", []Detection{det}, ctx)

	require.Len(t, r.Factors, 5)
	for i, name := range FactorOrder {
		assert.Equal(t, name, r.Factors[i].Name)
		assert.Equal(t, Weights[name], r.Factors[i].Weight)
	}
}

func TestWeightsSumToOne(t *testing.T) {
	var sum float64
	for _, name := range FactorOrder {
		sum += Weights[name]
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

// ---------------------------------------------------------------------------
// Edge cases
// ---------------------------------------------------------------------------

func TestBuildRiskResult_EmptyDetections(t *testing.T) {
	for _, dets := range [][]Detection{nil, {}} {
		r := BuildRiskResult("img_empty", dets, Context{SiteID: "SITE_001", ProductionValuePerHour: 50000})

		assert.Equal(t, "img_empty", r.ImageID)
		assert.Zero(t, r.GlobalSeverityScore)
		assert.Equal(t, LevelLow, r.GlobalSeverityLevel)
		assert.Zero(t, r.EstimatedCost)
		assert.Empty(t, r.Factors)
		assert.NotNil(t, r.Factors)
		assert.Empty(t, r.Recommendations)
		assert.NotNil(t, r.Recommendations)
		assert.Equal(t, NoDetectionExplanation, r.Explanation)
		assert.Zero(t, r.MitigatedSeverityScore)
		assert.Equal(t, LevelLow, r.MitigatedSeverityLevel)
		assert.Zero(t, r.MitigatedCost)
		assert.Zero(t, r.RiskReductionPct)
	}
}

func TestBuildRiskResult_OnlyFirstDetectionScored(t *testing.T) {
	det, ctx := oilNearMachine()
	other := Detection{ID: "det_2", SubstancePred: "chemical", Confidence: 1, AreaRatio: 1}

	single := BuildRiskResult("img", []Detection{det}, ctx)
	multi := BuildRiskResult("img", []Detection{det, other}, ctx)

	assert.Equal(t, single, multi)
}

func TestElectricalScore_ClampedInElectricalRoom(t *testing.T) {
	det := Detection{SubstancePred: "chemical", Confidence: 0.8, AreaRatio: 0.5}
	ctx := Context{SiteID: "S", ZoneType: "electrical_room", ProximityToMachines: "critical_machine"}

	assert.Equal(t, 100.0, ElectricalScore(det, ctx))

	r := BuildRiskResult("img", []Detection{det}, ctx)
	f, ok := r.Factor(FactorElectrical)
	require.True(t, ok)
	assert.Equal(t, 100.0, f.Value)
	assert.Equal(t, 20.0, f.Contribution)
	assert.Contains(t, r.Recommendations, RecPowerCutoff)
}

func TestUnknownSubstanceFallsBack(t *testing.T) {
	det := Detection{SubstancePred: "sand", Confidence: 0.5, AreaRatio: 0.3}
	ctx := Context{SiteID: "S", ZoneType: "production", ProximityToMachines: "near_machine", ProductionValuePerHour: 1000}

	assert.InDelta(t, 33.0, PhysicalScore(det, ctx), 1e-9)
	assert.Equal(t, 30.0, HumanSafetyScore(det, ctx))
	assert.Zero(t, ElectricalScore(det, ctx))
	assert.Zero(t, ElectricalScore(det, Context{ZoneType: "electrical_room"}))

	// 1000 * 1.2h * 0.8 damage * (0.5 + score/100)
	r := BuildRiskResult("img", []Detection{det}, ctx)
	assert.InDelta(t, 960*(0.5+r.GlobalSeverityScore/100), r.EstimatedCost, 0.005)
	assert.Equal(t, []string{RecIsolateArea, RecLogOnly}, r.Recommendations)
}

func TestSubstanceIsCaseInsensitive(t *testing.T) {
	ctx := Context{SiteID: "S"}
	assert.Equal(t,
		PhysicalScore(Detection{SubstancePred: "oil"}, ctx),
		PhysicalScore(Detection{SubstancePred: " OIL "}, ctx))
}

func TestModelConfidenceScore_Clamped(t *testing.T) {
	assert.Equal(t, 100.0, ModelConfidenceScore(Detection{Confidence: 1.7}))
	assert.Zero(t, ModelConfidenceScore(Detection{Confidence: -0.2}))
	assert.Zero(t, ModelConfidenceScore(Detection{Confidence: math.NaN()}))
	assert.Equal(t, 50.0, ModelConfidenceScore(Detection{Confidence: 0.5}))
}

func TestBusinessScore_CappedAndClamped(t *testing.T) {
	det := Detection{AreaRatio: 0.9}
	// min(1e9/500, 100) * 1.3 * 1.0 = 130 -> 100
	assert.Equal(t, 100.0, BusinessScore(det, Context{ZoneType: "production", ProductionValuePerHour: 1e9}))
	assert.Zero(t, BusinessScore(det, Context{ProductionValuePerHour: -500}))
	// corridor uses the default multiplier
	assert.InDelta(t, 6.5, BusinessScore(det, Context{ZoneType: "corridor", ProductionValuePerHour: 5000}), 1e-9)
}

// ---------------------------------------------------------------------------
// Lookup tables
// ---------------------------------------------------------------------------

func TestAreaFactor(t *testing.T) {
	tests := []struct {
		area float64
		want float64
	}{
		{0, 0.6},
		{0.15, 0.6},
		{0.1501, 1.0},
		{0.35, 1.0},
		{0.3501, 1.3},
		{1, 1.3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AreaFactor(tt.area), "area %v", tt.area)
	}
}

func TestSeverityLevel_Boundaries(t *testing.T) {
	tests := []struct {
		score float64
		want  Level
	}{
		{0, LevelLow},
		{24.999, LevelLow},
		{25, LevelMedium},
		{49.999, LevelMedium},
		{50, LevelHigh},
		{74.999, LevelHigh},
		{75, LevelCritical},
		{100, LevelCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SeverityLevel(tt.score), "score %v", tt.score)
	}
}

func TestPhysicalScore_FloorType(t *testing.T) {
	det := Detection{SubstancePred: "water", AreaRatio: 0.3}

	tests := []struct {
		floor string
		want  float64
	}{
		{"absorbent", 16},
		{"absorbent_mat", 16},
		{"Absorbent concrete", 16},
		{"non_absorbent", 22},
		{"non-absorbent", 22},
		{"epoxy", 22},
		{"", 22},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, PhysicalScore(det, Context{FloorType: tt.floor}), 1e-9, "floor %q", tt.floor)
	}
}

func TestElectricalScore_Branches(t *testing.T) {
	tests := []struct {
		name      string
		substance string
		zone      string
		proximity string
		want      float64
	}{
		{"electrical room water", "water", "electrical_room", "far", 60},
		{"electrical room oil", "oil", "electrical_room", "", 40},
		{"production near machine chemical", "chemical", "production", "near_machine", 50},
		{"storage critical machine water", "water", "storage", "critical_machine", 25},
		{"production far", "oil", "production", "far", 0},
		{"corridor near machine", "oil", "corridor", "near_machine", 0},
		{"unknown zone", "chemical", "office", "critical_machine", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det := Detection{SubstancePred: tt.substance, AreaRatio: 0.3}
			ctx := Context{ZoneType: tt.zone, ProximityToMachines: tt.proximity}
			assert.Equal(t, tt.want, ElectricalScore(det, ctx))
		})
	}
}

func TestHumanSafetyScore_Proximity(t *testing.T) {
	det := Detection{SubstancePred: "oil", AreaRatio: 0.3}

	assert.InDelta(t, 28.0, HumanSafetyScore(det, Context{ProximityToMachines: "far"}), 1e-9)
	assert.InDelta(t, 40.0, HumanSafetyScore(det, Context{ProximityToMachines: "near_machine"}), 1e-9)
	assert.InDelta(t, 48.0, HumanSafetyScore(det, Context{ProximityToMachines: "critical_machine"}), 1e-9)
	assert.InDelta(t, 40.0, HumanSafetyScore(det, Context{ProximityToMachines: "somewhere"}), 1e-9)
}

func TestEstimateCost(t *testing.T) {
	ctx := Context{ProductionValuePerHour: 10000}

	// Area 2.0 caps downtime at 4h.
	assert.InDelta(t, 10000*4*2.0*1.5, EstimateCost(100, Detection{SubstancePred: "chemical", AreaRatio: 2}, ctx), 1e-6)
	assert.InDelta(t, 10000*0.4*0.6*0.5, EstimateCost(0, Detection{SubstancePred: "water", AreaRatio: 0.1}, ctx), 1e-6)
	assert.Zero(t, EstimateCost(50, Detection{SubstancePred: "oil", AreaRatio: 0.3}, Context{ProductionValuePerHour: -1}))
	assert.Zero(t, EstimateCost(50, Detection{SubstancePred: "oil"}, ctx))
}

// ---------------------------------------------------------------------------
// Invariants
// ---------------------------------------------------------------------------

func invariantInputs() []struct {
	det Detection
	ctx Context
} {
	substances := []string{"water", "oil", "chemical", "sand", ""}
	zones := []string{"production", "electrical_room", "storage", "corridor", "lab"}
	proximities := []string{"far", "near_machine", "critical_machine", ""}
	areas := []float64{0, 0.1, 0.3, 0.5, 1.5}
	confidences := []float64{0, 0.37, 0.93, 1.4}
	floors := []string{"absorbent", "non_absorbent"}

	var out []struct {
		det Detection
		ctx Context
	}
	for i, s := range substances {
		for j, z := range zones {
			for k, p := range proximities {
				for l, a := range areas {
					out = append(out, struct {
						det Detection
						ctx Context
					}{
						det: Detection{ID: "d", SubstancePred: s, Confidence: confidences[(i+l)%len(confidences)], AreaRatio: a},
						ctx: Context{
							SiteID:                 "S",
							ZoneType:               z,
							ProximityToMachines:    p,
							FloorType:              floors[(j+k)%len(floors)],
							ProductionValuePerHour: float64(1+i*j*k) * 3333.33,
						},
					})
				}
			}
		}
	}
	return out
}

func TestInvariants(t *testing.T) {
	for _, in := range invariantInputs() {
		r := BuildRiskResult("img", []Detection{in.det}, in.ctx)

		var sum float64
		for _, f := range r.Factors {
			assert.GreaterOrEqual(t, f.Value, 0.0)
			assert.LessOrEqual(t, f.Value, 100.0)
			assert.Equal(t, round(f.Value*f.Weight), f.Contribution)
			sum += f.Contribution
		}
		assert.Equal(t, round(sum), r.GlobalSeverityScore)
		assert.GreaterOrEqual(t, r.GlobalSeverityScore, 0.0)
		assert.LessOrEqual(t, r.GlobalSeverityScore, 100.0)
		assert.Equal(t, SeverityLevel(r.GlobalSeverityScore), r.GlobalSeverityLevel)
		assert.Equal(t, SeverityLevel(r.MitigatedSeverityScore), r.MitigatedSeverityLevel)
		assert.LessOrEqual(t, r.MitigatedSeverityScore, r.GlobalSeverityScore)
		assert.GreaterOrEqual(t, r.EstimatedCost, 0.0)

		if r.GlobalSeverityScore > 0 {
			assert.InDelta(t, r.EstimatedCost*r.MitigatedSeverityScore/r.GlobalSeverityScore, r.MitigatedCost, 0.006)
			assert.InDelta(t, (r.GlobalSeverityScore-r.MitigatedSeverityScore)/r.GlobalSeverityScore*100, r.RiskReductionPct, 0.006)
		} else {
			assert.Zero(t, r.MitigatedCost)
			assert.Zero(t, r.RiskReductionPct)
		}
	}
}

func TestBuildRiskResult_NoProductionValueMeansNoCost(t *testing.T) {
	r := BuildRiskResult("img", []Detection{{SubstancePred: "water", Confidence: -1}}, Context{})

	require.Greater(t, r.GlobalSeverityScore, 0.0)
	assert.Zero(t, r.EstimatedCost)
	assert.Zero(t, r.MitigatedCost)
	assert.Greater(t, r.RiskReductionPct, 0.0)
}

func TestBuildRiskResult_Idempotent(t *testing.T) {
	det, ctx := oilNearMachine()

	first := BuildRiskResult("img", []Detection{det}, ctx)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, BuildRiskResult("img", []Detection{det}, ctx))
	}
}

func TestBuildRiskResult_ConcurrentCallsAgree(t *testing.T) {
	det, ctx := oilNearMachine()
	want := BuildRiskResult("img", []Detection{det}, ctx)

	var wg sync.WaitGroup
	results := make([]RiskResult, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = BuildRiskResult("img", []Detection{det}, ctx)
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, want, r)
	}
}

// ---------------------------------------------------------------------------
// Text
// ---------------------------------------------------------------------------

func TestBuildRecommendations_Order(t *testing.T) {
	tests := []struct {
		name      string
		level     Level
		substance string
		zone      string
		want      []string
	}{
		{"low water corridor", LevelLow, "water", "corridor",
			[]string{RecIsolateArea, RecWaterDry, RecLogOnly}},
		{"high chemical electrical room", LevelHigh, "chemical", "electrical_room",
			[]string{RecIsolateArea, RecChemicalProcess, RecPowerCutoff, RecNotifyHSE, RecLogRootCause}},
		{"critical unknown production", LevelCritical, "sand", "production",
			[]string{RecIsolateArea, RecNotifyHSE, RecLogRootCause}},
		{"medium oil electrical room", LevelMedium, "oil", "electrical_room",
			[]string{RecIsolateArea, RecOilCleanup, RecPowerCutoff, RecLogOnly}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildRecommendations(tt.level, Detection{SubstancePred: tt.substance}, Context{ZoneType: tt.zone})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildExplanation_UnknownFields(t *testing.T) {
	got := BuildExplanation(LevelLow, 12.345, Detection{}, Context{})
	assert.Contains(t, got, "Incident classified LOW (score 12.3/100).")
	assert.Contains(t, got, "Detected substance: unknown.")
	assert.Contains(t, got, "Zone: unknown, proximity to equipment: unknown.")
}

// ---------------------------------------------------------------------------
// Result helpers
// ---------------------------------------------------------------------------

func TestRiskResult_Savings(t *testing.T) {
	r := RiskResult{EstimatedCost: 1000, MitigatedCost: 600}
	saved, pct, ok := r.Savings()
	require.True(t, ok)
	assert.Equal(t, 400.0, saved)
	assert.Equal(t, 40.0, pct)

	_, _, ok = (&RiskResult{}).Savings()
	assert.False(t, ok)
}

func TestRiskResult_Factor(t *testing.T) {
	det, ctx := oilNearMachine()
	r := BuildRiskResult("img", []Detection{det}, ctx)

	f, ok := r.Factor(FactorBusiness)
	require.True(t, ok)
	assert.Equal(t, 16.0, f.Value)

	_, ok = r.Factor("unknown")
	assert.False(t, ok)
}

func TestLevel_Helpers(t *testing.T) {
	assert.False(t, LevelLow.IsEscalated())
	assert.False(t, LevelMedium.IsEscalated())
	assert.True(t, LevelHigh.IsEscalated())
	assert.True(t, LevelCritical.IsEscalated())
	assert.Equal(t, "#16a34a", LevelLow.Color())
	assert.Equal(t, "#111827", Level("").Color())

	assert.True(t, LevelCritical.AtLeast(LevelHigh))
	assert.True(t, LevelHigh.AtLeast(LevelHigh))
	assert.False(t, LevelMedium.AtLeast(LevelHigh))
	assert.False(t, Level("SEVERE").AtLeast(LevelLow))

	l, ok := ParseLevel(" critical ")
	assert.True(t, ok)
	assert.Equal(t, LevelCritical, l)
	_, ok = ParseLevel("severe")
	assert.False(t, ok)
}

func TestEngine_Currency(t *testing.T) {
	det, ctx := oilNearMachine()

	assert.Equal(t, DefaultCurrency, NewEngine("").Currency())

	r := NewEngine("USD").Analyze("img", []Detection{det}, ctx)
	assert.Equal(t, "USD", r.Currency)
	assert.Equal(t, 43.1, r.GlobalSeverityScore)

	assert.Equal(t, "USD", NewEngine("USD").Analyze("img", nil, ctx).Currency)
}

func TestParse_NormalizesCaseAndWhitespace(t *testing.T) {
	assert.Equal(t, SubstanceOil, ParseSubstance(" Oil "))
	assert.Equal(t, SubstanceChemical, ParseSubstance("CHEMICAL\n"))
	assert.Equal(t, SubstanceUnknown, ParseSubstance(""))
	assert.Equal(t, SubstanceUnknown, ParseSubstance("sand"))

	assert.Equal(t, ZoneElectricalRoom, ParseZoneType("\tElectrical_Room"))
	assert.Equal(t, ZoneOther, ParseZoneType("office"))

	assert.Equal(t, ProximityCriticalMachine, ParseProximity(" critical_machine"))
	assert.Equal(t, ProximityUnspecified, ParseProximity(""))

	d := Detection{ID: "d", SubstancePred: " oil", Confidence: 0.9, AreaRatio: 0.3}
	assert.Equal(t, PhysicalScore(Detection{ID: "d", SubstancePred: "oil", Confidence: 0.9, AreaRatio: 0.3}, Context{}),
		PhysicalScore(d, Context{}))
}
