package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	internal "github.com/halcek/evetrove/trove"
	"github.com/halcek/evetrove/trove/config"
	"github.com/halcek/evetrove/trove/locations"
	"github.com/halcek/evetrove/trove/sde"

	"github.com/ZanzyTHEbar/assert-lib"
)

// Service is the top-level data layer: the static data cache plus the
// location resolver, wired from application configuration.
type Service struct {
	sdeCache *sde.Cache
	resolver *locations.Resolver
	store    *locations.Store

	assertHandler *assert.AssertHandler
	config        *config.EvetroveConfig
}

// New builds the full data layer from config. lookup resolves player
// structures; pass a stub in tests or offline tooling.
func New(lookup locations.StructureLookup) (*Service, error) {
	cfg := &config.AppConfig.Evetrove

	dataDir := cfg.SDE.DataDir
	if dataDir == "" {
		dataDir = internal.DefaultDataDir
	}
	snapshotPath := cfg.SDE.SnapshotPath
	if snapshotPath == "" {
		snapshotPath = internal.DefaultSnapshotPath
	}

	if err := os.MkdirAll(filepath.Dir(snapshotPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory %s: %w", filepath.Dir(snapshotPath), err)
	}

	assertHandler := assert.NewAssertHandler()

	parser := sde.NewJSONLParser(dataDir)
	cache, err := sde.New(parser, sde.Options{
		DataDir:         dataDir,
		SnapshotPath:    snapshotPath,
		BackgroundBuild: cfg.SDE.BackgroundBuild,
		BuildTimeout:    cfg.SDE.BuildTimeout(),
		WatchSources:    cfg.SDE.WatchSources,
		WatchDebounce:   cfg.SDE.WatchDebounce(),
	})
	if err != nil {
		if cache == nil {
			return nil, fmt.Errorf("failed to initialize static data cache: %w", err)
		}
		// A synchronous build can fail per index; the cache still serves
		// whatever built and retries failed indexes on the next rebuild.
		slog.Warn("Static data cache built with errors", "error", err)
	}

	dsn := cfg.Locations.Database.DSN
	if dsn == "" {
		dsn = internal.DefaultLocationDBDSN
	}
	store, err := locations.OpenStore(dsn)
	if err != nil {
		cache.Close()
		return nil, fmt.Errorf("failed to open location store: %w", err)
	}

	resolver, err := locations.NewResolver(cache, lookup, store, locations.Config{
		FreshnessWindow: cfg.Locations.FreshnessWindow(),
		BackoffInitial:  cfg.Locations.BackoffInitial(),
		BackoffDenied:   cfg.Locations.BackoffDenied(),
		BackoffMax:      cfg.Locations.BackoffMax(),
		LookupUseCache:  cfg.Locations.LookupUseCache,
	})
	if err != nil {
		store.Close()
		cache.Close()
		return nil, fmt.Errorf("failed to initialize location resolver: %w", err)
	}

	slog.Info("Data layer initialized",
		"dataDir", dataDir,
		"snapshotPath", snapshotPath,
		"backgroundBuild", cfg.SDE.BackgroundBuild)

	return &Service{
		sdeCache:      cache,
		resolver:      resolver,
		store:         store,
		assertHandler: assertHandler,
		config:        cfg,
	}, nil
}

// SDE returns the static data cache.
func (s *Service) SDE() *sde.Cache {
	return s.sdeCache
}

// Locations returns the location resolver.
func (s *Service) Locations() *locations.Resolver {
	return s.resolver
}

// WaitUntilReady blocks until the static data cache has published its first
// build, or the timeout elapses.
func (s *Service) WaitUntilReady(timeout time.Duration) bool {
	return s.sdeCache.WaitUntilReady(timeout)
}

// ResolveLocations resolves location ids for a character. See
// locations.Resolver.ResolveBulk.
func (s *Service) ResolveLocations(ctx context.Context, ids []int64, characterID int64, refreshStale bool) map[int64]locations.Record {
	return s.resolver.ResolveBulk(ctx, ids, characterID, refreshStale)
}

// Close releases the cache and store.
func (s *Service) Close() error {
	err := s.sdeCache.Close()
	if s.store != nil {
		if cerr := s.store.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
