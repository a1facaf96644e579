// Package scenario provides demo incident presets and the adapters that turn
// presets or raw vision-model output into analysis requests.
package scenario

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed scenarios.yaml
var defaultCatalogYAML []byte

// DefaultScenario is used when a requested preset does not exist.
const DefaultScenario = "oil_machine"

// Scenario is a named demo preset: a site context plus the substance spilled.
type Scenario struct {
	Name                   string  `yaml:"name" json:"name"`
	Description            string  `yaml:"description" json:"description"`
	ZoneType               string  `yaml:"zone_type" json:"zone_type"`
	Substance              string  `yaml:"substance" json:"substance"`
	ProximityToMachines    string  `yaml:"proximity_to_machines" json:"proximity_to_machines"`
	FloorType              string  `yaml:"floor_type" json:"floor_type"`
	ProductionValuePerHour float64 `yaml:"production_value_per_hour" json:"production_value_per_hour"`
}

// Params returns demo payload parameters for the preset, leaving detection
// fields (confidence, area) at their defaults.
func (s Scenario) Params() Params {
	p := DefaultParams()
	p.ZoneType = s.ZoneType
	p.Substance = s.Substance
	p.Proximity = s.ProximityToMachines
	p.FloorType = s.FloorType
	p.ProductionValuePerHour = s.ProductionValuePerHour
	return p
}

type catalogFile struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// Catalog is an ordered, read-only set of presets.
type Catalog struct {
	scenarios []Scenario
	byName    map[string]int
	fallback  string
}

// Parse decodes a YAML catalog. Names must be unique and non-empty.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("scenario: parse catalog: %w", err)
	}
	if len(f.Scenarios) == 0 {
		return nil, fmt.Errorf("scenario: catalog is empty")
	}

	c := &Catalog{
		scenarios: f.Scenarios,
		byName:    make(map[string]int, len(f.Scenarios)),
		fallback:  f.Scenarios[0].Name,
	}
	for i, s := range f.Scenarios {
		if s.Name == "" {
			return nil, fmt.Errorf("scenario: entry %d has no name", i)
		}
		if _, dup := c.byName[s.Name]; dup {
			return nil, fmt.Errorf("scenario: duplicate name %q", s.Name)
		}
		c.byName[s.Name] = i
	}
	if _, ok := c.byName[DefaultScenario]; ok {
		c.fallback = DefaultScenario
	}
	return c, nil
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalogYAML)
	if err != nil {
		panic(err) // embedded file is validated by tests
	}
	return c
}

// Lookup returns the named preset.
func (c *Catalog) Lookup(name string) (Scenario, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Scenario{}, false
	}
	return c.scenarios[i], true
}

// Get returns the named preset, or the fallback preset when the name is
// unknown.
func (c *Catalog) Get(name string) Scenario {
	if s, ok := c.Lookup(name); ok {
		return s
	}
	s, _ := c.Lookup(c.fallback)
	return s
}

// All returns the presets in catalog order.
func (c *Catalog) All() []Scenario {
	return append([]Scenario(nil), c.scenarios...)
}

// Names returns preset names in catalog order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.scenarios))
	for i, s := range c.scenarios {
		names[i] = s.Name
	}
	return names
}
