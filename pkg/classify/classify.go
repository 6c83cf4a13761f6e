// Package classify turns a way's tags into a semantic type, display name and
// building height.
package classify

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/NERVsystems/osmscene/pkg/core"
	"github.com/NERVsystems/osmscene/pkg/osm"
)

// SemanticType is the bucket that drives height policy and styling.
type SemanticType int

const (
	Path SemanticType = iota
	Road
	Landuse
	Building
)

// priority orders the types; a key may only replace a type of equal or lower priority.
var priority = map[SemanticType]int{
	Path:     0,
	Road:     1,
	Landuse:  2,
	Building: 3,
}

// String returns the lower-case type name.
func (t SemanticType) String() string {
	switch t {
	case Building:
		return "building"
	case Road:
		return "road"
	case Landuse:
		return "landuse"
	default:
		return "path"
	}
}

// Group is the scene group name the type's objects are collected in.
func (t SemanticType) Group() string {
	switch t {
	case Building:
		return "Buildings"
	case Road:
		return "Roads"
	case Landuse:
		return "Landuse"
	default:
		return "Paths"
	}
}

// Tag keys the classifier understands.
const (
	KeyBuilding       = "building"
	KeyLanduse        = "landuse"
	KeyHighway        = "highway"
	KeyName           = "name"
	KeyRef            = "ref"
	KeyStreet         = "addr:street"
	KeyHouseNumber    = "addr:housenumber"
	KeyBuildingLevels = "building:levels"
	KeyBuildingHeight = "building:height"
)

// Classification is the result of classifying one way.
type Classification struct {
	DisplayName string
	Type        SemanticType
	UseSubtype  string
	Street      string
	HouseNumber string
	// HeightMM is the extrusion height from tags, 0 if none was given.
	HeightMM int
}

// Warning describes a tag that was skipped.
type Warning struct {
	Key   string
	Value string
	Err   error
}

func (w Warning) Error() string {
	return fmt.Sprintf("%s: tag %s=%q skipped: %v", core.ErrTagParse, w.Key, w.Value, w.Err)
}

// Unwrap returns the parse error.
func (w Warning) Unwrap() error { return w.Err }

// state accumulates the fold over tags.
type state struct {
	c         Classification
	label     string
	name      string
	ref       string
	explicitH bool
	warnings  []Warning
}

// Classify folds over tags once, in order. It never fails; malformed values
// are reported as warnings and otherwise ignored.
func Classify(tags osm.Tags, p Policy) (Classification, []Warning) {
	s := state{c: Classification{Type: Path}}

	for _, t := range tags {
		switch t.Key {
		case KeyBuilding:
			if s.setType(Building) && s.label == "" {
				s.label = "building"
			}
		case KeyLanduse:
			if s.setType(Landuse) {
				s.label = "landuse"
				s.c.UseSubtype = t.Value
			}
		case KeyHighway:
			if s.setType(Road) {
				s.label = "highway"
			}
		case KeyName:
			s.name = t.Value
		case KeyRef:
			s.ref = t.Value
		case KeyStreet:
			s.c.Street = t.Value
		case KeyHouseNumber:
			s.c.HouseNumber = t.Value
		case KeyBuildingLevels:
			levels, err := parseLevels(t.Value)
			if err != nil {
				s.warn(t, err)
				continue
			}
			if !s.explicitH {
				s.c.HeightMM = levels * p.LevelHeightMM
			}
		case KeyBuildingHeight:
			mm, err := ParseHeightMM(t.Value)
			if err != nil {
				s.warn(t, err)
				continue
			}
			s.c.HeightMM = mm
			s.explicitH = true
		}
	}

	s.c.DisplayName = s.displayName()
	return s.c, s.warnings
}

// setType applies typ if its priority is not below the current type's.
func (s *state) setType(typ SemanticType) bool {
	if priority[typ] < priority[s.c.Type] {
		return false
	}
	s.c.Type = typ
	return true
}

func (s *state) warn(t osm.Tag, err error) {
	s.warnings = append(s.warnings, Warning{Key: t.Key, Value: t.Value, Err: err})
}

func (s *state) displayName() string {
	name := strings.TrimSpace(s.name)
	if name == "" {
		parts := make([]string, 0, 3)
		for _, p := range []string{s.label, s.c.Street, s.c.HouseNumber} {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		name = strings.Join(parts, " ")
	}
	if s.ref != "" {
		name = strings.TrimSpace(name + " /" + s.ref)
	}
	if name == "" {
		name = s.c.Type.String()
	}
	return name
}

// Upper bounds for height tags. Values above them are tagging errors.
const (
	MaxLevels   = 1000
	MaxHeightMM = 1_000_000
)

func parseLevels(v string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("levels must be an integer: %w", err)
	}
	if n < 0 {
		return 0, fmt.Errorf("levels must not be negative, got %d", n)
	}
	if n > MaxLevels {
		return 0, fmt.Errorf("levels out of range, got %d (max %d)", n, MaxLevels)
	}
	return n, nil
}

// ParseHeightMM converts a building:height value in metres, such as "12",
// "7.5" or "7.5 m", to millimetres.
func ParseHeightMM(v string) (int, error) {
	s := strings.TrimSpace(v)
	s = strings.TrimSpace(strings.TrimSuffix(s, "m"))
	m, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("height must be a number of metres: %w", err)
	}
	if math.IsNaN(m) || math.IsInf(m, 0) || m < 0 {
		return 0, fmt.Errorf("height out of range: %s", v)
	}
	mm := math.Round(m * 1000)
	if mm > MaxHeightMM {
		return 0, fmt.Errorf("height out of range: %s (max %d m)", v, MaxHeightMM/1000)
	}
	return int(mm), nil
}
