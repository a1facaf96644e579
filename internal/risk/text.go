package risk

import "fmt"

// Recommendation texts, in the order they may appear.
const (
	RecIsolateArea     = "Isolate the area and mark off access (cones, barrier tape)."
	RecOilCleanup      = "Urgent cleanup with an absorbent kit suited to oil."
	RecWaterDry        = "Dry and clean the area to prevent slips and falls."
	RecChemicalProcess = "Trigger the chemical spill procedure (PPE, SDS, ventilation)."
	RecPowerCutoff     = "Cut electrical power to the area if it is possible and safe."
	RecNotifyHSE       = "Notify the site HSE / safety manager immediately."
	RecLogRootCause    = "Record the incident in the HSE register and analyse root causes."
	RecLogOnly         = "Record the incident in the HSE register."
)

var substanceRecommendation = map[Substance]string{
	SubstanceOil:      RecOilCleanup,
	SubstanceWater:    RecWaterDry,
	SubstanceChemical: RecChemicalProcess,
}

// BuildRecommendations returns the ordered action list for an incident:
// isolation, substance handling, power cutoff in electrical rooms, then
// escalation or logging depending on level.
func BuildRecommendations(level Level, det Detection, ctx Context) []string {
	recs := []string{RecIsolateArea}

	if rec, ok := substanceRecommendation[ParseSubstance(det.SubstancePred)]; ok {
		recs = append(recs, rec)
	}

	if ParseZoneType(ctx.ZoneType) == ZoneElectricalRoom {
		recs = append(recs, RecPowerCutoff)
	}

	if level.IsEscalated() {
		recs = append(recs, RecNotifyHSE, RecLogRootCause)
	} else {
		recs = append(recs, RecLogOnly)
	}

	return recs
}

// BuildExplanation renders the fixed explanation template. The output is
// byte-for-byte reproducible for identical inputs.
func BuildExplanation(level Level, score float64, det Detection, ctx Context) string {
	return fmt.Sprintf(
		"Incident classified %s (score %.1f/100). "+
			"Detected substance: %s. "+
			"Zone: %s, proximity to equipment: %s. "+
			"The detailed scores (physical, electrical, human safety, business, model confidence) "+
			"each contribute to the global score according to their weight.",
		level, score,
		orUnknown(det.SubstancePred),
		orUnknown(ctx.ZoneType),
		orUnknown(ctx.ProximityToMachines),
	)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
