package locations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	internal "github.com/halcek/evetrove/trove"
	"github.com/halcek/evetrove/trove/flight"
	"github.com/halcek/evetrove/trove/sde"
)

// Config tunes the resolver's freshness and retry behavior. Zero values fall
// back to the package defaults.
type Config struct {
	// FreshnessWindow is how long a successfully resolved structure record is
	// served without re-resolution when a refresh is requested.
	FreshnessWindow time.Duration
	// BackoffInitial is the first retry delay after a transient failure.
	BackoffInitial time.Duration
	// BackoffDenied is the first retry delay after an access-denied failure.
	// Denials are sticky upstream, so this is typically much longer.
	BackoffDenied time.Duration
	// BackoffMax caps the retry delay for either failure kind.
	BackoffMax time.Duration
	// LookupUseCache is passed through to the structure lookup.
	LookupUseCache bool
}

func (c Config) withDefaults() Config {
	if c.FreshnessWindow <= 0 {
		c.FreshnessWindow = time.Duration(internal.DefaultFreshnessWindowHours) * time.Hour
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = time.Duration(internal.DefaultBackoffInitialSec) * time.Second
	}
	if c.BackoffDenied <= 0 {
		c.BackoffDenied = time.Duration(internal.DefaultBackoffDeniedSec) * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = time.Duration(internal.DefaultBackoffMaxSec) * time.Second
	}
	return c
}

// flightKey scopes in-flight structure resolution per character, matching the
// upstream visibility model.
type flightKey struct {
	LocationID  int64
	CharacterID int64
}

// keyBackoff tracks the retry schedule for one failing (structure, character)
// pair.
type keyBackoff struct {
	bo    *backoff.ExponentialBackOff
	until time.Time
}

// Resolver turns location ids into named records. Public entities (stations,
// systems, constellations, regions) resolve offline from the static data
// cache; player structures go through the external lookup with coalescing,
// freshness windows and per-key backoff.
type Resolver struct {
	sde    *sde.Cache
	lookup StructureLookup
	store  *Store
	cfg    Config
	clock  func() time.Time

	mu       sync.RWMutex
	records  map[int64]Record
	backoffs map[flightKey]*keyBackoff

	flights *flight.Group[flightKey, Record]
}

// NewResolver builds a resolver over the given static data cache and
// structure lookup. store may be nil to run without persistence; when
// present, previously resolved records are loaded from it.
func NewResolver(sdeCache *sde.Cache, lookup StructureLookup, store *Store, cfg Config) (*Resolver, error) {
	if sdeCache == nil {
		return nil, errors.New("resolver requires a static data cache")
	}
	if lookup == nil {
		return nil, errors.New("resolver requires a structure lookup")
	}

	r := &Resolver{
		sde:      sdeCache,
		lookup:   lookup,
		store:    store,
		cfg:      cfg.withDefaults(),
		clock:    time.Now,
		records:  make(map[int64]Record),
		backoffs: make(map[flightKey]*keyBackoff),
		flights:  flight.New[flightKey, Record](),
	}

	if store != nil {
		persisted, err := store.All()
		if err != nil {
			return nil, fmt.Errorf("failed to load persisted locations: %w", err)
		}
		for _, rec := range persisted {
			r.records[rec.LocationID] = rec
		}
		slog.Debug("Loaded persisted locations", "count", len(persisted))
	}
	return r, nil
}

// Resolve resolves a single location id. See ResolveBulk.
func (r *Resolver) Resolve(ctx context.Context, id, characterID int64, refreshStale bool) Record {
	return r.ResolveBulk(ctx, []int64{id}, characterID, refreshStale)[id]
}

// ResolveBulk resolves a batch of location ids for one character and returns
// a record per unique id. With refreshStale false any cached record,
// placeholder or not, is returned as-is. With refreshStale true, placeholders
// and structure records older than the freshness window are re-resolved,
// subject to per-key backoff. Concurrent callers asking for the same
// (structure, character) pair share a single upstream call.
func (r *Resolver) ResolveBulk(ctx context.Context, ids []int64, characterID int64, refreshStale bool) map[int64]Record {
	out := make(map[int64]Record, len(ids))
	var pending []int64

	r.mu.RLock()
	now := r.clock()
	for _, id := range ids {
		if _, dup := out[id]; dup {
			continue
		}
		rec, ok := r.records[id]
		if ok && r.servable(rec, now, refreshStale) {
			out[id] = rec
			continue
		}
		out[id] = Record{}
		pending = append(pending, id)
	}
	r.mu.RUnlock()

	for _, id := range pending {
		out[id] = r.resolveOne(ctx, id, characterID)
	}
	return out
}

// servable reports whether a cached record satisfies this request without any
// resolution work.
func (r *Resolver) servable(rec Record, now time.Time, refreshStale bool) bool {
	if !refreshStale {
		return true
	}
	if rec.IsPlaceholder {
		return false
	}
	// Offline records are authoritative for as long as the static data is.
	if rec.Category != CategoryStructure {
		return true
	}
	return now.Sub(rec.LastChecked) < r.cfg.FreshnessWindow
}

// resolveOne routes public-range ids to the static data cache; everything
// else (structures and unclassifiable ids) goes through the scoped lookup.
func (r *Resolver) resolveOne(ctx context.Context, id, characterID int64) Record {
	if rec, ok := r.resolveOffline(id); ok {
		r.commit(rec)
		return rec
	}
	return r.resolveStructure(ctx, id, characterID)
}

// resolveOffline names a public entity from the static data cache. ok is
// false for ids outside every public range; an in-range id missing from the
// static data yields a placeholder rather than a lookup attempt.
func (r *Resolver) resolveOffline(id int64) (Record, bool) {
	rec := Record{LocationID: id, LastChecked: r.clock()}

	switch {
	case id >= stationIDMin && id < stationIDMax:
		rec.Category = CategoryStation
		if name, ok := r.sde.StationName(id); ok {
			rec.Name = name
			if sysID, ok := r.sde.StationSystemID(id); ok {
				rec.SolarSystemID = sysID
			}
			return rec, true
		}
	case id >= solarSystemIDMin && id < solarSystemIDMax:
		rec.Category = CategorySolarSystem
		if name, ok := r.sde.SolarSystemName(id); ok {
			rec.Name = name
			rec.SolarSystemID = id
			return rec, true
		}
	case id >= constellationIDMin && id < constellationIDMax:
		rec.Category = CategoryConstellation
		if name, ok := r.sde.ConstellationName(id); ok {
			rec.Name = name
			return rec, true
		}
	case id >= regionIDMin && id < regionIDMax:
		rec.Category = CategoryRegion
		if name, ok := r.sde.RegionName(id); ok {
			rec.Name = name
			return rec, true
		}
	default:
		return Record{}, false
	}

	slog.Debug("Location id in a public range but absent from static data", "location_id", id)
	rec.Name = fmt.Sprintf("Location %d", id)
	rec.IsPlaceholder = true
	return rec, true
}

func (r *Resolver) resolveStructure(ctx context.Context, id, characterID int64) Record {
	key := flightKey{LocationID: id, CharacterID: characterID}

	if rec, ok := r.backoffActive(key); ok {
		return rec
	}

	rec, err, _ := r.flights.Do(ctx, key, func(ctx context.Context) (Record, error) {
		return r.fetchStructure(ctx, id, characterID), nil
	})
	if err != nil {
		// The joiner's context expired while the shared call was still
		// running. Serve whatever we have; the call completes detached and
		// updates the cache for the next request.
		if cached, ok := r.CachedRecord(id); ok {
			return cached
		}
		return r.placeholder(id, characterID, nil)
	}
	return rec
}

// backoffActive returns the placeholder to serve when the key is inside its
// retry window.
func (r *Resolver) backoffActive(key flightKey) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kb, ok := r.backoffs[key]
	if !ok || !r.clock().Before(kb.until) {
		return Record{}, false
	}
	if rec, ok := r.records[key.LocationID]; ok {
		return rec, true
	}
	return r.placeholderLocked(key.LocationID, key.CharacterID, nil), true
}

// fetchStructure performs one upstream lookup and folds the result into the
// cache. It never returns an error: failures become placeholder records so
// every joiner of the shared call gets something renderable.
func (r *Resolver) fetchStructure(ctx context.Context, id, characterID int64) Record {
	info, err := r.lookup.StructureInfo(ctx, id, characterID, r.cfg.LookupUseCache)
	if err != nil {
		return r.recordFailure(id, characterID, err)
	}

	r.mu.Lock()
	rec := Record{
		LocationID:    id,
		Name:          info.Name,
		Category:      CategoryStructure,
		LastChecked:   r.clock(),
		OwnerID:       characterID,
		ESIName:       info.Name,
		SolarSystemID: info.SolarSystemID,
	}
	if prev, ok := r.records[id]; ok {
		rec.CustomName = prev.CustomName
		if prev.LastChecked.After(rec.LastChecked) {
			rec.LastChecked = prev.LastChecked
		}
	}
	r.records[id] = rec
	delete(r.backoffs, flightKey{LocationID: id, CharacterID: characterID})
	r.mu.Unlock()

	r.persist(rec)
	return rec
}

func (r *Resolver) recordFailure(id, characterID int64, err error) Record {
	denied := errors.Is(err, ErrStructureAccessDenied)
	slog.Debug("Structure resolution failed",
		"structure_id", id, "character_id", characterID,
		"denied", denied, "error", err)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.noteFailureLocked(flightKey{LocationID: id, CharacterID: characterID}, denied)

	// A previously resolved name outlives a failed refresh.
	if prev, ok := r.records[id]; ok && !prev.IsPlaceholder {
		prev.LastChecked = r.laterOf(prev.LastChecked)
		r.records[id] = prev
		return prev
	}

	var meta map[string]string
	if denied {
		meta = map[string]string{"deny": "access denied"}
	}
	rec := r.placeholderLocked(id, characterID, meta)
	r.records[id] = rec
	return rec
}

// noteFailureLocked advances the backoff schedule for key. Denied failures
// start from the longer denied interval.
func (r *Resolver) noteFailureLocked(key flightKey, denied bool) {
	kb, ok := r.backoffs[key]
	if !ok {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = r.cfg.BackoffInitial
		if denied {
			bo.InitialInterval = r.cfg.BackoffDenied
		}
		bo.MaxInterval = r.cfg.BackoffMax
		bo.RandomizationFactor = 0
		bo.MaxElapsedTime = 0
		bo.Reset()
		kb = &keyBackoff{bo: bo}
		r.backoffs[key] = kb
	}
	kb.until = r.clock().Add(kb.bo.NextBackOff())
}

func (r *Resolver) placeholder(id, characterID int64, meta map[string]string) Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.placeholderLocked(id, characterID, meta)
}

func (r *Resolver) placeholderLocked(id, characterID int64, meta map[string]string) Record {
	name := fmt.Sprintf("Structure %d", id)
	if !IsStructureID(id) {
		name = fmt.Sprintf("Location %d", id)
	}
	rec := Record{
		LocationID:    id,
		Name:          name,
		Category:      CategoryStructure,
		LastChecked:   r.clock(),
		OwnerID:       characterID,
		IsPlaceholder: true,
		Metadata:      meta,
	}
	if prev, ok := r.records[id]; ok {
		rec.CustomName = prev.CustomName
		if prev.LastChecked.After(rec.LastChecked) {
			rec.LastChecked = prev.LastChecked
		}
	}
	return rec
}

// laterOf returns the later of t and now, so LastChecked never moves
// backwards.
func (r *Resolver) laterOf(t time.Time) time.Time {
	if now := r.clock(); now.After(t) {
		return now
	}
	return t
}

// commit stores an offline-resolved record.
func (r *Resolver) commit(rec Record) {
	r.mu.Lock()
	if prev, ok := r.records[rec.LocationID]; ok {
		rec.CustomName = prev.CustomName
	}
	r.records[rec.LocationID] = rec
	r.mu.Unlock()
}

func (r *Resolver) persist(rec Record) {
	if r.store == nil {
		return
	}
	if err := r.store.Upsert(rec); err != nil {
		slog.Debug("Failed to persist location", "location_id", rec.LocationID, "error", err)
	}
}

// CachedRecord returns the cached record for id without triggering any
// resolution.
func (r *Resolver) CachedRecord(id int64) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	return rec, ok
}

// SetCustomName sets or clears (empty name) the user-defined display name
// for a location. The override survives later re-resolution.
func (r *Resolver) SetCustomName(id int64, name string) error {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		// Naming an unseen location creates a placeholder; the real record
		// fills in on the next resolution.
		rec = Record{
			LocationID:    id,
			Category:      CategoryStructure,
			LastChecked:   r.clock(),
			IsPlaceholder: true,
		}
	}
	rec.CustomName = name
	r.records[id] = rec
	r.mu.Unlock()

	r.persist(rec)
	return nil
}

// DisplayName returns the best available name for id, preferring a custom
// name, then a resolved name. Unknown ids get a generic label without
// triggering resolution.
func (r *Resolver) DisplayName(id int64) string {
	if rec, ok := r.CachedRecord(id); ok {
		return rec.DisplayName()
	}
	if IsStructureID(id) {
		return fmt.Sprintf("Structure %d", id)
	}
	return fmt.Sprintf("Location %d", id)
}

// Conflicts lists records whose custom name disagrees with the externally
// resolved name, ordered by id.
func (r *Resolver) Conflicts() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Record
	for _, rec := range r.records {
		if rec.HasConflict() {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocationID < out[j].LocationID })
	return out
}

// StaleLocations returns structure ids worth refreshing, most urgent first:
// ids with no record at all, then placeholders, then stale records with the
// oldest last.
func (r *Resolver) StaleLocations(ids []int64) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.clock()
	var unknown, placeholders []int64
	var stale []Record
	seen := make(map[int64]bool, len(ids))

	for _, id := range ids {
		if !IsStructureID(id) || seen[id] {
			continue
		}
		seen[id] = true

		rec, ok := r.records[id]
		switch {
		case !ok:
			unknown = append(unknown, id)
		case rec.IsPlaceholder:
			placeholders = append(placeholders, id)
		case now.Sub(rec.LastChecked) >= r.cfg.FreshnessWindow:
			stale = append(stale, rec)
		}
	}

	sort.Slice(stale, func(i, j int) bool {
		return stale[i].LastChecked.After(stale[j].LastChecked)
	})

	out := make([]int64, 0, len(unknown)+len(placeholders)+len(stale))
	out = append(out, unknown...)
	out = append(out, placeholders...)
	for _, rec := range stale {
		out = append(out, rec.LocationID)
	}
	return out
}

// ClearBackoffs drops all retry schedules, allowing immediate re-resolution.
func (r *Resolver) ClearBackoffs() {
	r.mu.Lock()
	r.backoffs = make(map[flightKey]*keyBackoff)
	r.mu.Unlock()
}
