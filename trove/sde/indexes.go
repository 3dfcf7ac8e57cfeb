package sde

import (
	"sort"

	roaring "github.com/RoaringBitmap/roaring/roaring64"
)

// derivedIndexes are the lookup tables recomputed from the primary indexes
// after every build. They are never persisted; deriving them is cheap
// relative to parsing and keeps the snapshot format small.
type derivedIndexes struct {
	typesByGroup       map[int64][]int64
	typesByCategory    map[int64][]int64
	typesByMarketGroup map[int64][]int64
	groupsByCategory   map[int64][]int64
	published          *roaring.Bitmap
	blueprints         *roaring.Bitmap
	systemNames        *nameIndex
}

func deriveIndexes(
	types map[int64]Type,
	groups map[int64]Group,
	blueprintIDs []int64,
	systems map[int64]SolarSystem,
) *derivedIndexes {
	d := &derivedIndexes{
		typesByGroup:       make(map[int64][]int64),
		typesByCategory:    make(map[int64][]int64),
		typesByMarketGroup: make(map[int64][]int64),
		groupsByCategory:   make(map[int64][]int64),
		published:          roaring.New(),
		blueprints:         roaring.New(),
	}

	// All type indexes in a single pass. The category index goes through the
	// group table, so a type whose group is unknown is indexed by group only.
	for id, t := range types {
		d.typesByGroup[t.GroupID] = append(d.typesByGroup[t.GroupID], id)
		if g, ok := groups[t.GroupID]; ok {
			d.typesByCategory[g.CategoryID] = append(d.typesByCategory[g.CategoryID], id)
		}
		if t.MarketGroupID != 0 {
			d.typesByMarketGroup[t.MarketGroupID] = append(d.typesByMarketGroup[t.MarketGroupID], id)
		}
		if t.Published {
			d.published.Add(uint64(id))
		}
	}

	for id, g := range groups {
		d.groupsByCategory[g.CategoryID] = append(d.groupsByCategory[g.CategoryID], id)
	}

	for _, id := range blueprintIDs {
		d.blueprints.Add(uint64(id))
	}

	// Deterministic ordering for consumers that render lists directly.
	for _, index := range []map[int64][]int64{
		d.typesByGroup, d.typesByCategory, d.typesByMarketGroup, d.groupsByCategory,
	} {
		for _, ids := range index {
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		}
	}

	d.systemNames = newNameIndex(systems)
	return d
}
