package sde

import (
	"time"

	"github.com/google/uuid"
)

// Type is one entry of the SDE type index.
type Type struct {
	ID            int64
	GroupID       int64
	MarketGroupID int64 // 0 when the type is not on the market
	Name          string
	Published     bool
	BasePrice     float64
	Volume        float64
	PortionSize   int
}

// Category is one entry of the SDE category index.
type Category struct {
	ID        int64
	Name      string
	Published bool
}

// Group is one entry of the SDE group index.
type Group struct {
	ID         int64
	CategoryID int64
	Name       string
	Published  bool
}

// MarketGroup is one entry of the SDE market group index.
type MarketGroup struct {
	ID            int64
	ParentGroupID int64 // 0 for top-level market groups
	Name          string
	HasTypes      bool
}

// Station is one entry of the NPC station index.
type Station struct {
	ID       int64
	Name     string
	SystemID int64
}

// Constellation carries the name and region topology for one constellation.
type Constellation struct {
	ID       int64
	Name     string
	RegionID int64
}

// SolarSystem carries the name and constellation topology for one solar system.
type SolarSystem struct {
	ID              int64
	Name            string
	ConstellationID int64
}

// FileSignature is the change-detection signature of one tracked source file.
// Two signatures are equal iff the file has the same size and modification
// time; content is never hashed.
type FileSignature struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Equal reports whether two signatures describe the same on-disk state.
func (s FileSignature) Equal(other FileSignature) bool {
	return s.Path == other.Path && s.Size == other.Size && s.ModTime.Equal(other.ModTime)
}

// Metadata describes the last completed cache build.
type Metadata struct {
	BuildID    uuid.UUID
	ComputedAt time.Time
	// Signatures holds, per source file name, the signature observed for the
	// indexes that built successfully. Files of a failed index are absent so
	// the next build retries them.
	Signatures map[string]FileSignature
	// Counts holds the number of records per index name.
	Counts map[string]int
}
