package risk

import (
	"math"
	"strings"
)

const (
	// Reported scores, contributions and costs are rounded to 2 decimals.
	precision = 100

	areaSmall  = 0.15
	areaMedium = 0.35

	levelMediumFrom   = 25
	levelHighFrom     = 50
	levelCriticalFrom = 75
)

// NoDetectionExplanation is the explanation of a result built without any
// detection.
const NoDetectionExplanation = "No detection supplied. Risk score is zero."

// SubScores holds the five raw (pre-weight) sub-scores, each in [0, 100].
type SubScores struct {
	Physical        float64
	Electrical      float64
	HumanSafety     float64
	Business        float64
	ModelConfidence float64
}

// Get returns the sub-score for a factor name.
func (s SubScores) Get(name FactorName) float64 {
	switch name {
	case FactorPhysical:
		return s.Physical
	case FactorElectrical:
		return s.Electrical
	case FactorHumanSafety:
		return s.HumanSafety
	case FactorBusiness:
		return s.Business
	case FactorModelConfidence:
		return s.ModelConfidence
	default:
		return 0
	}
}

// Mitigated applies MitigationCoefficients to every sub-score.
func (s SubScores) Mitigated() SubScores {
	return SubScores{
		Physical:        s.Physical * MitigationCoefficients[FactorPhysical],
		Electrical:      s.Electrical * MitigationCoefficients[FactorElectrical],
		HumanSafety:     s.HumanSafety * MitigationCoefficients[FactorHumanSafety],
		Business:        s.Business * MitigationCoefficients[FactorBusiness],
		ModelConfidence: s.ModelConfidence * MitigationCoefficients[FactorModelConfidence],
	}
}

// Factors weights the sub-scores into the ordered factor list. Values and
// contributions are rounded before reporting.
func (s SubScores) Factors() []RiskFactor {
	factors := make([]RiskFactor, 0, len(FactorOrder))
	for _, name := range FactorOrder {
		value := round(s.Get(name))
		weight := Weights[name]
		factors = append(factors, RiskFactor{
			Name:         name,
			Value:        value,
			Weight:       weight,
			Contribution: round(value * weight),
		})
	}
	return factors
}

// WeightedSum returns the unrounded global score of the sub-scores.
func (s SubScores) WeightedSum() float64 {
	var sum float64
	for _, name := range FactorOrder {
		sum += s.Get(name) * Weights[name]
	}
	return sum
}

// BuildRiskResult scores the first detection against the context. Remaining
// detections are ignored. An empty list yields a zero result.
func BuildRiskResult(imageID string, detections []Detection, ctx Context) RiskResult {
	if len(detections) == 0 {
		return emptyResult(imageID)
	}

	det := detections[0]
	scores := ComputeSubScores(det, ctx)

	factors := scores.Factors()
	globalScore := sumContributions(factors)
	globalLevel := SeverityLevel(globalScore)
	estimatedCost := round(EstimateCost(globalScore, det, ctx))

	mitigatedScore := round(scores.Mitigated().WeightedSum())
	mitigatedLevel := SeverityLevel(mitigatedScore)

	var mitigatedCost, reductionPct float64
	if globalScore > 0 {
		mitigatedCost = round(estimatedCost * (mitigatedScore / globalScore))
		reductionPct = round((globalScore - mitigatedScore) / globalScore * 100)
	}

	return RiskResult{
		ImageID:                imageID,
		GlobalSeverityScore:    globalScore,
		GlobalSeverityLevel:    globalLevel,
		EstimatedCost:          estimatedCost,
		Currency:               DefaultCurrency,
		Factors:                factors,
		Explanation:            BuildExplanation(globalLevel, globalScore, det, ctx),
		Recommendations:        BuildRecommendations(globalLevel, det, ctx),
		MitigatedSeverityScore: mitigatedScore,
		MitigatedSeverityLevel: mitigatedLevel,
		MitigatedCost:          mitigatedCost,
		RiskReductionPct:       reductionPct,
	}
}

func emptyResult(imageID string) RiskResult {
	return RiskResult{
		ImageID:                imageID,
		GlobalSeverityLevel:    LevelLow,
		Currency:               DefaultCurrency,
		Factors:                []RiskFactor{},
		Explanation:            NoDetectionExplanation,
		Recommendations:        []string{},
		MitigatedSeverityLevel: LevelLow,
	}
}

// sumContributions adds the reported contributions, so the global score
// matches the factor list exactly.
func sumContributions(factors []RiskFactor) float64 {
	var sum float64
	for _, f := range factors {
		sum += f.Contribution
	}
	return round(sum)
}

// ComputeSubScores evaluates the five sub-scores for one detection.
func ComputeSubScores(det Detection, ctx Context) SubScores {
	return SubScores{
		Physical:        PhysicalScore(det, ctx),
		Electrical:      ElectricalScore(det, ctx),
		HumanSafety:     HumanSafetyScore(det, ctx),
		Business:        BusinessScore(det, ctx),
		ModelConfidence: ModelConfidenceScore(det),
	}
}

// AreaFactor scales scores by affected area: small (<=0.15) 0.6, medium
// (<=0.35) 1.0, large 1.3.
func AreaFactor(areaRatio float64) float64 {
	switch {
	case areaRatio <= areaSmall:
		return 0.6
	case areaRatio <= areaMedium:
		return 1.0
	default:
		return 1.3
	}
}

// PhysicalScore rates toxicity, flammability and spread. Absorbent floors
// reduce it.
func PhysicalScore(det Detection, ctx Context) float64 {
	base := SubstanceBase[ParseSubstance(det.SubstancePred)]

	floorFactor := nonAbsorbentFloorFactor
	if isAbsorbent(ctx.FloorType) {
		floorFactor = absorbentFloorFactor
	}

	return clamp(base * AreaFactor(det.AreaRatio) * floorFactor)
}

// isAbsorbent matches the "absorbent" substring of a free-text floor
// description, except in its negated forms ("non_absorbent").
func isAbsorbent(floorType string) bool {
	floor := strings.ToLower(floorType)
	return strings.Contains(floor, "absorbent") && !strings.Contains(floor, "non_absorbent") &&
		!strings.Contains(floor, "non-absorbent") && !strings.Contains(floor, "nonabsorbent")
}

// ElectricalScore rates short-circuit, arc and fire hazard.
func ElectricalScore(det Detection, ctx Context) float64 {
	substance := ParseSubstance(det.SubstancePred)

	var base float64
	switch ParseZoneType(ctx.ZoneType) {
	case ZoneElectricalRoom:
		base = ElectricalRoomBase[substance]
	case ZoneProduction, ZoneStorage:
		if ParseProximity(ctx.ProximityToMachines).nearMachine() {
			base = MachineZoneBase[substance]
		}
	}

	return clamp(base * AreaFactor(det.AreaRatio))
}

// HumanSafetyScore rates slip, burn and intoxication risk.
func HumanSafetyScore(det Detection, ctx Context) float64 {
	base := SubstanceBase[ParseSubstance(det.SubstancePred)]

	pf, ok := ProximityFactor[ParseProximity(ctx.ProximityToMachines)]
	if !ok {
		pf = defaultProximityFactor
	}

	return clamp(base * AreaFactor(det.AreaRatio) * pf)
}

// BusinessScore rates production downtime cost.
func BusinessScore(det Detection, ctx Context) float64 {
	zoneMult, ok := ZoneBusinessMultiplier[ParseZoneType(ctx.ZoneType)]
	if !ok {
		zoneMult = defaultZoneMultiplier
	}

	base := math.Min(ctx.ProductionValuePerHour/productionValuePerPoint, 100)
	return clamp(base * AreaFactor(det.AreaRatio) * zoneMult)
}

// ModelConfidenceScore reflects trust in the detection, not a hazard.
func ModelConfidenceScore(det Detection) float64 {
	return clamp(det.Confidence * 100)
}

// SeverityLevel classifies a score: <25 LOW, <50 MEDIUM, <75 HIGH, else
// CRITICAL.
func SeverityLevel(score float64) Level {
	switch {
	case score < levelMediumFrom:
		return LevelLow
	case score < levelHighFrom:
		return LevelMedium
	case score < levelCriticalFrom:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// EstimateCost returns an order-of-magnitude incident cost: production lost
// during downtime (proportional to area, capped at 4h), scaled by substance
// damage and amplified by global severity (x0.5 to x1.5). Never negative.
func EstimateCost(globalScore float64, det Detection, ctx Context) float64 {
	hoursLost := math.Min(hoursLostPerRatio*det.AreaRatio, maxHoursLost)
	damage := DamageFactor[ParseSubstance(det.SubstancePred)]

	baseLoss := ctx.ProductionValuePerHour * hoursLost * damage
	severityFactor := 0.5 + globalScore/100

	return math.Max(0, baseLoss*severityFactor)
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(v, 100))
}

func round(v float64) float64 {
	return math.Round(v*precision) / precision
}

// Engine scores incidents and tags costs with a configured currency.
type Engine struct {
	currency string
}

// NewEngine creates an engine reporting costs in currency. An empty currency
// means DefaultCurrency.
func NewEngine(currency string) *Engine {
	if currency == "" {
		currency = DefaultCurrency
	}
	return &Engine{currency: currency}
}

// Currency returns the currency tag of produced results.
func (e *Engine) Currency() string {
	return e.currency
}

// Analyze is BuildRiskResult with the engine currency.
func (e *Engine) Analyze(imageID string, detections []Detection, ctx Context) RiskResult {
	result := BuildRiskResult(imageID, detections, ctx)
	result.Currency = e.currency
	return result
}
