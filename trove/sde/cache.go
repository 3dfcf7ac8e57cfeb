package sde

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	internal "github.com/halcek/evetrove/trove"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
)

// Options configures a Cache.
type Options struct {
	// DataDir is the SDE directory holding the tracked source files.
	DataDir string
	// SnapshotPath is the file the built indexes are persisted to.
	SnapshotPath string
	// BackgroundBuild runs the first build on a worker; readers block until
	// it completes, bounded by BuildTimeout.
	BackgroundBuild bool
	// BuildTimeout bounds how long readers wait for an in-progress build.
	BuildTimeout time.Duration
	// WatchSources enables the fsnotify source watcher; a settled change in
	// the data directory triggers a partial rebuild.
	WatchSources  bool
	WatchDebounce time.Duration
}

// state is the published view of the cache: primary indexes plus everything
// derived from them. It is immutable after publication; readers observe
// either the fully-old or the fully-new state, never a partial mix.
type state struct {
	payload *snapshotPayload
	derived *derivedIndexes
}

// Cache serves O(1) lookups over the SDE, amortizing parse cost across runs
// by persisting built indexes and rebuilding only indexes whose source files
// changed. At most one build runs at a time; state is published by a single
// atomic pointer swap.
type Cache struct {
	parser   Parser
	detector *ChangeDetector
	opts     Options

	current atomic.Pointer[state]

	buildMu   sync.Mutex
	readyOnce sync.Once
	readyCh   chan struct{}

	errMu    sync.Mutex
	buildErr error

	watcher *sourceWatcher
}

// New constructs the cache. With BackgroundBuild the constructor returns
// immediately and readers block per BuildTimeout; otherwise the first build
// runs synchronously and its error (failed indexes, failed persist) is
// returned directly. Even on error the cache serves whatever built.
func New(parser Parser, opts Options) (*Cache, error) {
	if parser == nil {
		return nil, errors.New("parser cannot be nil")
	}
	if opts.BuildTimeout <= 0 {
		opts.BuildTimeout = time.Duration(internal.DefaultBuildTimeoutSec) * time.Second
	}
	if opts.WatchDebounce <= 0 {
		opts.WatchDebounce = time.Duration(internal.DefaultWatchDebounceMillis) * time.Millisecond
	}

	c := &Cache{
		parser:   parser,
		detector: NewChangeDetector(opts.DataDir),
		opts:     opts,
		readyCh:  make(chan struct{}),
	}
	c.current.Store(&state{
		payload: &snapshotPayload{},
		derived: deriveIndexes(nil, nil, nil, nil),
	})

	var buildErr error
	if opts.BackgroundBuild {
		go func() {
			if err := c.build(context.Background()); err != nil {
				slog.Warn("Background SDE build finished with errors", "error", err)
			}
		}()
	} else {
		buildErr = c.build(context.Background())
	}

	if opts.WatchSources {
		w, err := newSourceWatcher(opts.DataDir, opts.WatchDebounce, func() {
			if err := c.Rebuild(context.Background()); err != nil {
				slog.Warn("Watcher-triggered rebuild finished with errors", "error", err)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("failed to start SDE source watcher: %w", err)
		}
		c.watcher = w
	}

	return c, buildErr
}

// Rebuild re-runs the signature diff and rebuilds only the indexes whose
// source files changed. Safe to call concurrently; builds are serialized.
func (c *Cache) Rebuild(ctx context.Context) error {
	return c.build(ctx)
}

// build parses what changed, merges with what didn't, persists the merged
// payload and publishes it as one atomic swap.
func (c *Cache) build(ctx context.Context) error {
	c.buildMu.Lock()
	defer c.buildMu.Unlock()
	defer c.readyOnce.Do(func() { close(c.readyCh) })

	start := time.Now()
	currentSigs := c.detector.Signatures(TrackedFiles())
	prev := c.previousPayload()

	next := &snapshotPayload{}
	var (
		mu       sync.Mutex
		idxErrs  = make(map[string]error)
		rebuilt  []string
		reused   []string
		succeeds = make(map[string]bool)
	)

	needsRebuild := func(index string) bool {
		if prev == nil {
			return true
		}
		return !signaturesMatch(currentSigs, prev.Meta.Signatures, indexFiles[index])
	}

	// One job per primary index. Jobs write disjoint fields of next, the
	// mutex only guards the bookkeeping slices/maps.
	type job struct {
		name  string
		reuse func()
		parse func() error
	}
	jobs := []job{
		{
			name:  IndexTypes,
			reuse: func() { next.Types = prev.Types },
			parse: func() error {
				m, err := c.parser.Types()
				if err != nil {
					if prev != nil {
						next.Types = prev.Types
					}
					return err
				}
				next.Types = m
				return nil
			},
		},
		{
			name:  IndexCategories,
			reuse: func() { next.Categories = prev.Categories },
			parse: func() error {
				m, err := c.parser.Categories()
				if err != nil {
					if prev != nil {
						next.Categories = prev.Categories
					}
					return err
				}
				next.Categories = m
				return nil
			},
		},
		{
			name:  IndexGroups,
			reuse: func() { next.Groups = prev.Groups },
			parse: func() error {
				m, err := c.parser.Groups()
				if err != nil {
					if prev != nil {
						next.Groups = prev.Groups
					}
					return err
				}
				next.Groups = m
				return nil
			},
		},
		{
			name:  IndexMarketGroups,
			reuse: func() { next.MarketGroups = prev.MarketGroups },
			parse: func() error {
				m, err := c.parser.MarketGroups()
				if err != nil {
					if prev != nil {
						next.MarketGroups = prev.MarketGroups
					}
					return err
				}
				next.MarketGroups = m
				return nil
			},
		},
		{
			name:  IndexBlueprints,
			reuse: func() { next.BlueprintTypeIDs = prev.BlueprintTypeIDs },
			parse: func() error {
				ids, err := c.parser.BlueprintTypeIDs()
				if err != nil {
					if prev != nil {
						next.BlueprintTypeIDs = prev.BlueprintTypeIDs
					}
					return err
				}
				next.BlueprintTypeIDs = ids
				return nil
			},
		},
		{
			name:  IndexStations,
			reuse: func() { next.Stations = prev.Stations },
			parse: func() error {
				m, err := c.parser.Stations()
				if err != nil {
					if prev != nil {
						next.Stations = prev.Stations
					}
					return err
				}
				next.Stations = m
				return nil
			},
		},
		{
			name:  IndexRegions,
			reuse: func() { next.RegionNames = prev.RegionNames },
			parse: func() error {
				m, err := c.parser.RegionNames()
				if err != nil {
					if prev != nil {
						next.RegionNames = prev.RegionNames
					}
					return err
				}
				next.RegionNames = m
				return nil
			},
		},
		{
			name:  IndexConstellations,
			reuse: func() { next.Constellations = prev.Constellations },
			parse: func() error {
				m, err := c.parser.Constellations()
				if err != nil {
					if prev != nil {
						next.Constellations = prev.Constellations
					}
					return err
				}
				next.Constellations = m
				return nil
			},
		},
		{
			name:  IndexSolarSystems,
			reuse: func() { next.SolarSystems = prev.SolarSystems },
			parse: func() error {
				m, err := c.parser.SolarSystems()
				if err != nil {
					if prev != nil {
						next.SolarSystems = prev.SolarSystems
					}
					return err
				}
				next.SolarSystems = m
				return nil
			},
		},
	}

	// Reuse is cheap and races with nothing; do it up front.
	var parseJobs []job
	for _, j := range jobs {
		if needsRebuild(j.name) {
			parseJobs = append(parseJobs, j)
			continue
		}
		j.reuse()
		mu.Lock()
		reused = append(reused, j.name)
		succeeds[j.name] = true
		mu.Unlock()
	}

	// Re-derive only the stale indexes, in parallel.
	p := pool.New().WithMaxGoroutines(4).WithContext(ctx)
	for _, j := range parseJobs {
		j := j
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := j.parse()
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				idxErrs[j.name] = &ParseError{Index: j.name, File: indexFiles[j.name][0], Err: err}
				slog.Warn("SDE index rebuild failed, serving previous data",
					"index", j.name,
					"error", err)
				return nil
			}
			rebuilt = append(rebuilt, j.name)
			succeeds[j.name] = true
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		c.setBuildErr(err)
		return err
	}

	next.Meta = c.computeMetadata(next, currentSigs, succeeds)
	derived := deriveIndexes(next.Types, next.Groups, next.BlueprintTypeIDs, next.SolarSystems)

	var persistErr error
	if c.opts.SnapshotPath != "" {
		if persistErr = persistSnapshot(c.opts.SnapshotPath, next); persistErr != nil {
			slog.Warn("Failed to persist SDE snapshot", "path", c.opts.SnapshotPath, "error", persistErr)
		}
	}

	// Single-writer snapshot publish: readers switch atomically to the new
	// state, the old one is garbage collected once the last reader drops it.
	c.current.Store(&state{payload: next, derived: derived})

	errs := make([]error, 0, len(idxErrs)+1)
	for _, name := range IndexNames() {
		if err, ok := idxErrs[name]; ok {
			errs = append(errs, err)
		}
	}
	if persistErr != nil {
		errs = append(errs, persistErr)
	}
	buildErr := errors.Join(errs...)
	c.setBuildErr(buildErr)

	slog.Info("SDE cache build completed",
		"build_id", next.Meta.BuildID,
		"rebuilt", len(rebuilt),
		"reused", len(reused),
		"failed", len(idxErrs),
		"duration", time.Since(start))

	return buildErr
}

// previousPayload returns the best prior state to merge against: the live
// state once a build has completed, otherwise the persisted snapshot.
func (c *Cache) previousPayload() *snapshotPayload {
	if s := c.current.Load(); s != nil && s.payload.Meta.Signatures != nil {
		return s.payload
	}
	if c.opts.SnapshotPath == "" {
		return nil
	}
	payload, err := loadSnapshot(c.opts.SnapshotPath)
	if err != nil {
		if errors.Is(err, ErrCorruptSnapshot) {
			slog.Warn("Discarding corrupt SDE snapshot, rebuilding from source",
				"path", c.opts.SnapshotPath, "error", err)
		}
		return nil
	}
	slog.Info("Loaded persisted SDE snapshot",
		"path", c.opts.SnapshotPath,
		"build_id", payload.Meta.BuildID,
		"computed_at", payload.Meta.ComputedAt)
	return payload
}

// computeMetadata records current signatures for the indexes that succeeded.
// Files of a failed index are left out so the next build retries them.
func (c *Cache) computeMetadata(next *snapshotPayload, sigs map[string]FileSignature, succeeded map[string]bool) Metadata {
	kept := make(map[string]FileSignature)
	for index, files := range indexFiles {
		if !succeeded[index] {
			continue
		}
		for _, f := range files {
			if sig, ok := sigs[f]; ok {
				kept[f] = sig
			}
		}
	}
	return Metadata{
		BuildID:    uuid.New(),
		ComputedAt: time.Now().UTC(),
		Signatures: kept,
		Counts: map[string]int{
			IndexTypes:          len(next.Types),
			IndexCategories:     len(next.Categories),
			IndexGroups:         len(next.Groups),
			IndexMarketGroups:   len(next.MarketGroups),
			IndexBlueprints:     len(next.BlueprintTypeIDs),
			IndexStations:       len(next.Stations),
			IndexRegions:        len(next.RegionNames),
			IndexConstellations: len(next.Constellations),
			IndexSolarSystems:   len(next.SolarSystems),
		},
	}
}

func (c *Cache) setBuildErr(err error) {
	c.errMu.Lock()
	c.buildErr = err
	c.errMu.Unlock()
}

// BuildErr returns the per-index and persistence errors of the last build,
// joined, or nil when everything built cleanly.
func (c *Cache) BuildErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.buildErr
}

// WaitUntilReady blocks until the first build completes or timeout elapses.
func (c *Cache) WaitUntilReady(timeout time.Duration) bool {
	select {
	case <-c.readyCh:
		return true
	case <-time.After(timeout):
		return false
	}
}

// EnsureReady is WaitUntilReady with the timeout reported as ErrNotReady.
func (c *Cache) EnsureReady(timeout time.Duration) error {
	if !c.WaitUntilReady(timeout) {
		return ErrNotReady
	}
	return nil
}

// Ready reports whether the first build has completed.
func (c *Cache) Ready() bool {
	select {
	case <-c.readyCh:
		return true
	default:
		return false
	}
}

// Close stops the source watcher if one is running.
func (c *Cache) Close() error {
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}

// waitReady blocks readers during the first build, bounded by BuildTimeout.
func (c *Cache) waitReady() bool {
	return c.WaitUntilReady(c.opts.BuildTimeout)
}

func (c *Cache) snapshot() *state {
	return c.current.Load()
}

// Metadata returns the last completed build's metadata. The second return is
// false until the first build completes.
func (c *Cache) Metadata() (Metadata, bool) {
	if !c.waitReady() {
		return Metadata{}, false
	}
	s := c.snapshot()
	if s.payload.Meta.Signatures == nil {
		return Metadata{}, false
	}
	return s.payload.Meta, true
}

// Stats returns the record count per index of the current state.
func (c *Cache) Stats() map[string]int {
	meta, ok := c.Metadata()
	if !ok {
		return map[string]int{}
	}
	counts := make(map[string]int, len(meta.Counts))
	for k, v := range meta.Counts {
		counts[k] = v
	}
	return counts
}

// TypeByID returns a type record by id.
func (c *Cache) TypeByID(id int64) (Type, bool) {
	if !c.waitReady() {
		return Type{}, false
	}
	t, ok := c.snapshot().payload.Types[id]
	return t, ok
}

// AllTypes returns every type record, sorted by id.
func (c *Cache) AllTypes() []Type {
	if !c.waitReady() {
		return nil
	}
	return sortedValues(c.snapshot().payload.Types, func(t Type) int64 { return t.ID })
}

// CategoryByID returns a category record by id.
func (c *Cache) CategoryByID(id int64) (Category, bool) {
	if !c.waitReady() {
		return Category{}, false
	}
	cat, ok := c.snapshot().payload.Categories[id]
	return cat, ok
}

// AllCategories returns every category record, sorted by id.
func (c *Cache) AllCategories() []Category {
	if !c.waitReady() {
		return nil
	}
	return sortedValues(c.snapshot().payload.Categories, func(cat Category) int64 { return cat.ID })
}

// GroupByID returns a group record by id.
func (c *Cache) GroupByID(id int64) (Group, bool) {
	if !c.waitReady() {
		return Group{}, false
	}
	g, ok := c.snapshot().payload.Groups[id]
	return g, ok
}

// AllGroups returns every group record, sorted by id.
func (c *Cache) AllGroups() []Group {
	if !c.waitReady() {
		return nil
	}
	return sortedValues(c.snapshot().payload.Groups, func(g Group) int64 { return g.ID })
}

// MarketGroupByID returns a market group record by id.
func (c *Cache) MarketGroupByID(id int64) (MarketGroup, bool) {
	if !c.waitReady() {
		return MarketGroup{}, false
	}
	mg, ok := c.snapshot().payload.MarketGroups[id]
	return mg, ok
}

// TypesByGroup returns all types in a group, ordered by id.
func (c *Cache) TypesByGroup(groupID int64) []Type {
	return c.typesFromIndex(func(d *derivedIndexes) []int64 { return d.typesByGroup[groupID] })
}

// TypesByCategory returns all types whose group belongs to a category.
func (c *Cache) TypesByCategory(categoryID int64) []Type {
	return c.typesFromIndex(func(d *derivedIndexes) []int64 { return d.typesByCategory[categoryID] })
}

// TypesByMarketGroup returns all types listed under a market group.
func (c *Cache) TypesByMarketGroup(marketGroupID int64) []Type {
	return c.typesFromIndex(func(d *derivedIndexes) []int64 { return d.typesByMarketGroup[marketGroupID] })
}

func (c *Cache) typesFromIndex(pick func(*derivedIndexes) []int64) []Type {
	if !c.waitReady() {
		return nil
	}
	s := c.snapshot()
	ids := pick(s.derived)
	out := make([]Type, 0, len(ids))
	for _, id := range ids {
		if t, ok := s.payload.Types[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// GroupsByCategory returns all groups in a category, ordered by id.
func (c *Cache) GroupsByCategory(categoryID int64) []Group {
	if !c.waitReady() {
		return nil
	}
	s := c.snapshot()
	ids := s.derived.groupsByCategory[categoryID]
	out := make([]Group, 0, len(ids))
	for _, id := range ids {
		if g, ok := s.payload.Groups[id]; ok {
			out = append(out, g)
		}
	}
	return out
}

// PublishedTypes returns every published type, sorted by id.
func (c *Cache) PublishedTypes() []Type {
	if !c.waitReady() {
		return nil
	}
	s := c.snapshot()
	out := make([]Type, 0, s.derived.published.GetCardinality())
	it := s.derived.published.Iterator()
	for it.HasNext() {
		if t, ok := s.payload.Types[int64(it.Next())]; ok {
			out = append(out, t)
		}
	}
	return out
}

// IsBlueprint reports whether a type id is a blueprint.
func (c *Cache) IsBlueprint(typeID int64) bool {
	if !c.waitReady() {
		return false
	}
	return c.snapshot().derived.blueprints.Contains(uint64(typeID))
}

// IsNPCStation reports whether a station id belongs to an NPC station.
func (c *Cache) IsNPCStation(stationID int64) bool {
	if !c.waitReady() {
		return false
	}
	_, ok := c.snapshot().payload.Stations[stationID]
	return ok
}

// StationName returns an NPC station name by id.
func (c *Cache) StationName(stationID int64) (string, bool) {
	if !c.waitReady() {
		return "", false
	}
	st, ok := c.snapshot().payload.Stations[stationID]
	if !ok {
		return "", false
	}
	return st.Name, true
}

// StationSystemID returns the solar system an NPC station sits in.
func (c *Cache) StationSystemID(stationID int64) (int64, bool) {
	if !c.waitReady() {
		return 0, false
	}
	st, ok := c.snapshot().payload.Stations[stationID]
	if !ok {
		return 0, false
	}
	return st.SystemID, true
}

// RegionName returns a region name by id.
func (c *Cache) RegionName(regionID int64) (string, bool) {
	if !c.waitReady() {
		return "", false
	}
	name, ok := c.snapshot().payload.RegionNames[regionID]
	return name, ok
}

// ConstellationName returns a constellation name by id.
func (c *Cache) ConstellationName(constellationID int64) (string, bool) {
	if !c.waitReady() {
		return "", false
	}
	con, ok := c.snapshot().payload.Constellations[constellationID]
	if !ok {
		return "", false
	}
	return con.Name, true
}

// ConstellationRegionID returns the region a constellation belongs to.
func (c *Cache) ConstellationRegionID(constellationID int64) (int64, bool) {
	if !c.waitReady() {
		return 0, false
	}
	con, ok := c.snapshot().payload.Constellations[constellationID]
	if !ok {
		return 0, false
	}
	return con.RegionID, true
}

// SolarSystemName returns a solar system name by id.
func (c *Cache) SolarSystemName(systemID int64) (string, bool) {
	if !c.waitReady() {
		return "", false
	}
	sys, ok := c.snapshot().payload.SolarSystems[systemID]
	if !ok {
		return "", false
	}
	return sys.Name, true
}

// SystemConstellationID returns the constellation a solar system belongs to.
func (c *Cache) SystemConstellationID(systemID int64) (int64, bool) {
	if !c.waitReady() {
		return 0, false
	}
	sys, ok := c.snapshot().payload.SolarSystems[systemID]
	if !ok {
		return 0, false
	}
	return sys.ConstellationID, true
}

// AllSolarSystems returns the full system id to name mapping.
func (c *Cache) AllSolarSystems() map[int64]string {
	if !c.waitReady() {
		return nil
	}
	systems := c.snapshot().payload.SolarSystems
	out := make(map[int64]string, len(systems))
	for id, sys := range systems {
		out[id] = sys.Name
	}
	return out
}

// SystemsByNamePrefix returns solar systems whose name starts with prefix,
// case-insensitively, capped at limit (0 means unlimited).
func (c *Cache) SystemsByNamePrefix(prefix string, limit int) []NameMatch {
	if !c.waitReady() {
		return nil
	}
	return c.snapshot().derived.systemNames.byPrefix(prefix, limit)
}

func sortedValues[V any](m map[int64]V, key func(V) int64) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return key(out[i]) < key(out[j]) })
	return out
}
