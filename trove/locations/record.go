package locations

import "time"

// Category classifies a resolved location.
type Category string

const (
	CategoryStation       Category = "station"
	CategorySolarSystem   Category = "solar_system"
	CategoryRegion        Category = "region"
	CategoryConstellation Category = "constellation"
	CategoryStructure     Category = "structure"
)

// EVE location id ranges. Everything below the structure floor is a public
// entity resolvable offline from the SDE.
const (
	regionIDMin        int64 = 10_000_000
	regionIDMax        int64 = 11_000_000
	constellationIDMin int64 = 20_000_000
	constellationIDMax int64 = 30_000_000
	solarSystemIDMin   int64 = 30_000_000
	solarSystemIDMax   int64 = 40_000_000
	stationIDMin       int64 = 60_000_000
	stationIDMax       int64 = 70_000_000
	structureIDMin     int64 = 1_000_000_000_000
)

// Record is one resolved (or placeholder) location.
type Record struct {
	LocationID  int64
	Name        string
	Category    Category
	LastChecked time.Time
	// OwnerID is the character the record was resolved for. Structure
	// visibility is scoped per character, so it doubles as the access scope.
	OwnerID int64
	// ESIName is the name reported by the external lookup, set only for
	// successfully resolved structures.
	ESIName string
	// CustomName is a user-defined override; it wins over Name for display.
	CustomName string
	// IsPlaceholder is true when the most recent resolution attempt failed
	// or no resolution has succeeded yet.
	IsPlaceholder bool
	SolarSystemID int64
	// Metadata carries free-form resolution details, e.g. deny reasons.
	Metadata map[string]string
}

// DisplayName returns the name to render, preferring the custom name.
func (r Record) DisplayName() string {
	if r.CustomName != "" {
		return r.CustomName
	}
	return r.Name
}

// HasConflict reports whether the record carries both a custom name and a
// different externally resolved name.
func (r Record) HasConflict() bool {
	return r.CustomName != "" && r.Name != "" && r.CustomName != r.Name
}

// IsStructureID reports whether id falls in the player-structure range.
func IsStructureID(id int64) bool {
	return id >= structureIDMin
}
