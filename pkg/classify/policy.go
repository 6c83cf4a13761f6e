package classify

import (
	"fmt"
	"sort"
	"strings"
)

// Policy holds the tunables that differ between import presets.
type Policy struct {
	Name string
	// DefaultBuildingHeightMM is used when a building carries no height tags.
	DefaultBuildingHeightMM int
	// LevelHeightMM converts building:levels to a height.
	LevelHeightMM int
}

// BuildingHeightMM returns the extrusion height for a classified building.
// It is never zero.
func (p Policy) BuildingHeightMM(c Classification) int {
	if c.HeightMM > 0 {
		return c.HeightMM
	}
	return p.DefaultBuildingHeightMM
}

var (
	// PolicyGIS is the default preset.
	PolicyGIS = Policy{Name: "gis", DefaultBuildingHeightMM: 2800, LevelHeightMM: 3000}
	// PolicyGeodata uses a full storey as the default building height.
	PolicyGeodata = Policy{Name: "geodata", DefaultBuildingHeightMM: 3000, LevelHeightMM: 3000}
)

var presets = map[string]Policy{
	PolicyGIS.Name:     PolicyGIS,
	PolicyGeodata.Name: PolicyGeodata,
}

// PolicyByName looks up a preset case-insensitively. An empty name selects PolicyGIS.
func PolicyByName(name string) (Policy, error) {
	if name == "" {
		return PolicyGIS, nil
	}
	p, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Policy{}, fmt.Errorf("unknown policy preset %q (known: %s)", name, strings.Join(PresetNames(), ", "))
	}
	return p, nil
}

// PresetNames lists the preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
