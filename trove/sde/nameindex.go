package sde

import (
	"sort"
	"strings"

	"github.com/armon/go-radix"
)

// NameMatch is one hit of a prefix search over solar system names.
type NameMatch struct {
	ID   int64
	Name string
}

// nameIndex provides O(k) case-insensitive prefix lookups over solar system
// names using a compressed trie (patricia tree). It is built once per cache
// state and never mutated afterwards, so reads need no locking.
type nameIndex struct {
	tree *radix.Tree // lowercased name -> []NameMatch (duplicate names share a key)
}

func newNameIndex(systems map[int64]SolarSystem) *nameIndex {
	tree := radix.New()
	for id, sys := range systems {
		if sys.Name == "" {
			continue
		}
		key := strings.ToLower(sys.Name)
		match := NameMatch{ID: id, Name: sys.Name}
		if existing, ok := tree.Get(key); ok {
			tree.Insert(key, append(existing.([]NameMatch), match))
			continue
		}
		tree.Insert(key, []NameMatch{match})
	}
	return &nameIndex{tree: tree}
}

// byPrefix returns every system whose name starts with prefix, sorted by name
// then id, capped at limit (0 means unlimited).
func (idx *nameIndex) byPrefix(prefix string, limit int) []NameMatch {
	var out []NameMatch
	idx.tree.WalkPrefix(strings.ToLower(prefix), func(_ string, v interface{}) bool {
		out = append(out, v.([]NameMatch)...)
		return limit > 0 && len(out) >= limit
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
