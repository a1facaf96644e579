package scenario

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/treloxai/riskops/internal/risk"
)

// Params are the knobs of a demo payload.
type Params struct {
	ImageID                string
	SiteID                 string
	ZoneID                 string
	ZoneType               string
	Proximity              string
	FloorType              string
	ProductionValuePerHour float64
	Substance              string
	Confidence             float64
	AreaRatio              float64
}

// DefaultParams is the reference oil spill near a production machine.
func DefaultParams() Params {
	return Params{
		ImageID:                "img_demo",
		SiteID:                 "SITE_001",
		ZoneID:                 "Z1",
		ZoneType:               "production",
		Proximity:              "near_machine",
		FloorType:              "non_absorbent",
		ProductionValuePerHour: 8000,
		Substance:              "oil",
		Confidence:             0.9,
		AreaRatio:              0.3,
	}
}

// Context returns the site context described by p.
func (p Params) Context() risk.Context {
	return risk.Context{
		SiteID:                 p.SiteID,
		ZoneID:                 p.ZoneID,
		ZoneType:               p.ZoneType,
		ProximityToMachines:    p.Proximity,
		FloorType:              p.FloorType,
		ProductionValuePerHour: p.ProductionValuePerHour,
	}
}

// Detection returns the single demo detection described by p.
func (p Params) Detection() risk.Detection {
	return risk.Detection{
		ID:            "det_1",
		Label:         "spill",
		SubstancePred: p.Substance,
		Confidence:    p.Confidence,
		AreaRatio:     p.AreaRatio,
	}
}

// BuildDemoPayload builds an analysis request with one detection.
func BuildDemoPayload(p Params) risk.AnalyzeRequest {
	return risk.NewAnalyzeRequest(p.ImageID, []risk.Detection{p.Detection()}, p.Context())
}

// ModelOutput is the raw output of the spill segmentation model.
type ModelOutput struct {
	Spills []Spill `json:"spills"`
}

// Spill is one raw model detection. Every field is optional.
type Spill struct {
	ID         SpillID  `json:"id"`
	Class      *string  `json:"class"`
	Substance  *string  `json:"substance"`
	Confidence *float64 `json:"confidence"`
	AreaRatio  *float64 `json:"area_ratio"`
}

// SpillID accepts both string and numeric identifiers.
type SpillID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *SpillID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = SpillID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("spill id: %w", err)
	}
	*id = SpillID(n.String())
	return nil
}

// ParseModelOutput decodes raw model output JSON.
func ParseModelOutput(data []byte) (ModelOutput, error) {
	var out ModelOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return ModelOutput{}, fmt.Errorf("scenario: decode model output: %w", err)
	}
	return out, nil
}

// DetectionsFromModelOutput maps model spills to detections: class defaults
// to "spill", substance to "unknown", numbers to 0. Spills without an id are
// numbered from 1 in order.
func DetectionsFromModelOutput(out ModelOutput) []risk.Detection {
	detections := make([]risk.Detection, 0, len(out.Spills))
	for i, s := range out.Spills {
		id := string(s.ID)
		if id == "" {
			id = strconv.Itoa(i + 1)
		}
		detections = append(detections, risk.Detection{
			ID:            id,
			Label:         strOr(s.Class, "spill"),
			SubstancePred: strOr(s.Substance, string(risk.SubstanceUnknown)),
			Confidence:    floatOr(s.Confidence, 0),
			AreaRatio:     floatOr(s.AreaRatio, 0),
		})
	}
	return detections
}

func strOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}

func floatOr(f *float64, def float64) float64 {
	if f == nil {
		return def
	}
	return *f
}
