// Package risk implements incident risk scoring for visual spill detections.
//
// A detection (substance, confidence, affected area) is combined with the
// site context (zone type, proximity to machines, floor type, production
// value) into five weighted sub-scores: physical, electrical, human safety,
// business and model confidence. Scores range from 0 (harmless) to 100
// (critical). The engine also estimates the monetary cost of the incident and
// simulates the effect of a standard mitigation (cleanup, isolation, power
// cutoff) to produce a before/after comparison.
//
// Scoring is pure: no I/O, no shared state, safe for concurrent use.
package risk

import "strings"

// DefaultCurrency tags every estimated cost.
const DefaultCurrency = "EUR"

// Detection is one candidate incident observation supplied by a vision model.
type Detection struct {
	ID            string  `json:"id"`
	Label         string  `json:"label"`
	SubstancePred string  `json:"substance_pred"`
	Confidence    float64 `json:"confidence"`
	AreaRatio     float64 `json:"area_ratio,omitempty"` // absent = 0
}

// Context carries the site and zone attributes used for scoring.
type Context struct {
	SiteID                 string  `json:"site_id"`
	ZoneID                 string  `json:"zone_id,omitempty"`
	ZoneType               string  `json:"zone_type,omitempty"`
	ProximityToMachines    string  `json:"proximity_to_machines,omitempty"`
	FloorType              string  `json:"floor_type,omitempty"`
	ProductionValuePerHour float64 `json:"production_value_per_hour,omitempty"`
}

// Level is the severity classification of a score.
type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// IsEscalated reports whether the level requires notifying the HSE manager.
func (l Level) IsEscalated() bool {
	return l == LevelHigh || l == LevelCritical
}

// AtLeast reports whether l is as severe as min. Unknown levels rank below
// LOW.
func (l Level) AtLeast(min Level) bool {
	return l.rank() >= min.rank()
}

func (l Level) rank() int {
	switch l {
	case LevelLow:
		return 1
	case LevelMedium:
		return 2
	case LevelHigh:
		return 3
	case LevelCritical:
		return 4
	default:
		return 0
	}
}

// ParseLevel returns the level named by s (case-insensitive).
func ParseLevel(s string) (Level, bool) {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	return l, l.rank() > 0
}

// Color returns the display color (hex) used by dashboards and reports.
func (l Level) Color() string {
	switch l {
	case LevelLow:
		return "#16a34a"
	case LevelMedium:
		return "#ea580c"
	case LevelHigh:
		return "#b91c1c"
	case LevelCritical:
		return "#7f1d1d"
	default:
		return "#111827"
	}
}

// FactorName identifies one of the five sub-scores.
type FactorName string

const (
	FactorPhysical        FactorName = "physical"
	FactorElectrical      FactorName = "electrical"
	FactorHumanSafety     FactorName = "human_safety"
	FactorBusiness        FactorName = "business"
	FactorModelConfidence FactorName = "model_confidence"
)

// FactorOrder is the fixed order of factors in every RiskResult.
var FactorOrder = [...]FactorName{
	FactorPhysical,
	FactorElectrical,
	FactorHumanSafety,
	FactorBusiness,
	FactorModelConfidence,
}

// RiskFactor is one named contribution to the global score.
type RiskFactor struct {
	Name         FactorName `json:"name"`
	Value        float64    `json:"value"`
	Weight       float64    `json:"weight"`
	Contribution float64    `json:"contribution"`
}

// RiskResult is the outcome of one analysis. It is built once and never
// mutated afterwards.
type RiskResult struct {
	ImageID string `json:"image_id"`

	GlobalSeverityScore float64 `json:"global_severity_score"`
	GlobalSeverityLevel Level   `json:"global_severity_level"`
	EstimatedCost       float64 `json:"estimated_cost"`
	Currency            string  `json:"currency"`

	Factors     []RiskFactor `json:"factors"`
	Explanation string       `json:"explanation"`

	MitigatedSeverityScore float64 `json:"mitigated_severity_score"`
	MitigatedSeverityLevel Level   `json:"mitigated_severity_level"`
	MitigatedCost          float64 `json:"mitigated_cost"`
	RiskReductionPct       float64 `json:"risk_reduction_pct"`

	Recommendations []string `json:"recommendations"`
}

// Factor returns the factor with the given name, if present.
func (r *RiskResult) Factor(name FactorName) (RiskFactor, bool) {
	for _, f := range r.Factors {
		if f.Name == name {
			return f, true
		}
	}
	return RiskFactor{}, false
}

// Savings returns the cost avoided by applying the mitigation plan and its
// share of the estimated cost. ok is false when mitigation saves nothing.
func (r *RiskResult) Savings() (saved, pct float64, ok bool) {
	if r.MitigatedCost >= r.EstimatedCost {
		return 0, 0, false
	}
	saved = r.EstimatedCost - r.MitigatedCost
	if r.EstimatedCost > 0 {
		pct = saved / r.EstimatedCost * 100
	}
	return saved, pct, true
}

// -----------------------------------------------------------------------------
// Lookup tables
// -----------------------------------------------------------------------------

// Substance is a recognized spill substance. Anything else scores as
// SubstanceUnknown.
type Substance string

const (
	SubstanceWater    Substance = "water"
	SubstanceOil      Substance = "oil"
	SubstanceChemical Substance = "chemical"
	SubstanceUnknown  Substance = "unknown"
)

// ParseSubstance normalizes a predicted substance. Never fails.
func ParseSubstance(s string) Substance {
	switch sub := Substance(strings.ToLower(strings.TrimSpace(s))); sub {
	case SubstanceWater, SubstanceOil, SubstanceChemical:
		return sub
	default:
		return SubstanceUnknown
	}
}

// ZoneType is a recognized zone category. Unrecognized zones score as
// ZoneOther.
type ZoneType string

const (
	ZoneProduction     ZoneType = "production"
	ZoneElectricalRoom ZoneType = "electrical_room"
	ZoneStorage        ZoneType = "storage"
	ZoneCorridor       ZoneType = "corridor"
	ZoneOther          ZoneType = "other"
)

// ParseZoneType normalizes a zone type. Never fails.
func ParseZoneType(s string) ZoneType {
	switch z := ZoneType(strings.ToLower(strings.TrimSpace(s))); z {
	case ZoneProduction, ZoneElectricalRoom, ZoneStorage, ZoneCorridor:
		return z
	default:
		return ZoneOther
	}
}

// Proximity describes how close the spill is to machinery.
type Proximity string

const (
	ProximityFar             Proximity = "far"
	ProximityNearMachine     Proximity = "near_machine"
	ProximityCriticalMachine Proximity = "critical_machine"
	ProximityUnspecified     Proximity = "unspecified"
)

// ParseProximity normalizes a proximity value. Never fails.
func ParseProximity(s string) Proximity {
	switch p := Proximity(strings.ToLower(strings.TrimSpace(s))); p {
	case ProximityFar, ProximityNearMachine, ProximityCriticalMachine:
		return p
	default:
		return ProximityUnspecified
	}
}

// nearMachine reports whether the proximity exposes machinery.
func (p Proximity) nearMachine() bool {
	return p == ProximityNearMachine || p == ProximityCriticalMachine
}

// Weights of each factor in the global score. They sum to 1.
var Weights = map[FactorName]float64{
	FactorPhysical:        0.35,
	FactorElectrical:      0.20,
	FactorHumanSafety:     0.20,
	FactorBusiness:        0.15,
	FactorModelConfidence: 0.10,
}

// MitigationCoefficients scale each pre-weight sub-score to model the effect
// of isolation, cleanup and power cutoff. Model confidence does not change.
var MitigationCoefficients = map[FactorName]float64{
	FactorPhysical:        0.5,
	FactorElectrical:      0.5,
	FactorHumanSafety:     0.6,
	FactorBusiness:        0.7,
	FactorModelConfidence: 1.0,
}

// SubstanceBase is the base physical and human-safety severity (toxicity,
// flammability, slip hazard).
var SubstanceBase = map[Substance]float64{
	SubstanceWater:    20,
	SubstanceOil:      40,
	SubstanceChemical: 70,
	SubstanceUnknown:  30,
}

// ElectricalRoomBase is the electrical base inside an electrical room. Water
// ranks above oil because it conducts. Unknown substances have no entry.
var ElectricalRoomBase = map[Substance]float64{
	SubstanceChemical: 80,
	SubstanceWater:    60,
	SubstanceOil:      40,
}

// MachineZoneBase is the electrical base in production or storage zones when
// the spill is near a machine.
var MachineZoneBase = map[Substance]float64{
	SubstanceChemical: 50,
	SubstanceOil:      40,
	SubstanceWater:    25,
}

// ProximityFactor scales human-safety risk. Missing entries use 1.0.
var ProximityFactor = map[Proximity]float64{
	ProximityFar:             0.7,
	ProximityNearMachine:     1.0,
	ProximityCriticalMachine: 1.2,
}

// ZoneBusinessMultiplier weights the economic value of a zone. Missing
// entries (corridor, offices...) use 0.5.
var ZoneBusinessMultiplier = map[ZoneType]float64{
	ZoneProduction:     1.0,
	ZoneElectricalRoom: 0.8,
	ZoneStorage:        0.7,
}

// DamageFactor scales the production loss by substance when estimating cost.
var DamageFactor = map[Substance]float64{
	SubstanceWater:    0.6,
	SubstanceOil:      1.0,
	SubstanceChemical: 2.0,
	SubstanceUnknown:  0.8,
}

const (
	defaultProximityFactor = 1.0
	defaultZoneMultiplier  = 0.5

	absorbentFloorFactor    = 0.8
	nonAbsorbentFloorFactor = 1.1

	// Production value per hour that maps to a business base of 1 point.
	productionValuePerPoint = 500.0

	maxHoursLost      = 4.0
	hoursLostPerRatio = 4.0
)
