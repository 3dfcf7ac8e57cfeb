package locations

import (
	"context"
	"errors"
)

// Typed lookup failures. The resolver branches on these: every one yields a
// placeholder record, but AccessDenied starts a longer backoff window than
// Transient and is flagged so consumers can tell "will never succeed" from
// "might succeed later".
var (
	ErrStructureNotFound     = errors.New("structure not found")
	ErrStructureAccessDenied = errors.New("structure access denied")
	ErrStructureTransient    = errors.New("structure lookup temporarily unavailable")
)

// StructureInfo is the payload of a successful structure lookup.
type StructureInfo struct {
	Name          string
	OwnerID       int64
	SolarSystemID int64
	TypeID        int64
}

// StructureLookup resolves a structure id on behalf of a character. The
// upstream source enforces per-character visibility, so the same structure
// looked up for two characters is logically two independent lookups.
// Implementations own their transport, timeouts and retries; the resolver
// adds only backoff-gated re-attempts on later calls.
type StructureLookup interface {
	StructureInfo(ctx context.Context, structureID, characterID int64, useCache bool) (StructureInfo, error)
}
