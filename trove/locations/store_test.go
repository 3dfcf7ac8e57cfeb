package locations

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcek/evetrove/trove/sde"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore("file:" + filepath.Join(t.TempDir(), "locations.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)

	rec := Record{
		LocationID:    testStructureID,
		Name:          "P-ZMLQ - Pure Blind Trade Hub",
		Category:      CategoryStructure,
		LastChecked:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		OwnerID:       testCharacterID,
		ESIName:       "P-ZMLQ - Pure Blind Trade Hub",
		CustomName:    "Trade Hub",
		SolarSystemID: 30002080,
	}
	require.NoError(t, store.Upsert(rec))

	loaded, err := store.All()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, rec, loaded[0])
}

func TestStoreUpsertReplaces(t *testing.T) {
	store := newTestStore(t)

	rec := Record{
		LocationID:  testStructureID,
		Name:        "Old Name",
		Category:    CategoryStructure,
		LastChecked: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.Upsert(rec))

	rec.Name = "New Name"
	rec.LastChecked = rec.LastChecked.Add(time.Hour)
	require.NoError(t, store.Upsert(rec))

	loaded, err := store.All()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "New Name", loaded[0].Name)
	assert.Equal(t, rec.LastChecked, loaded[0].LastChecked)
}

func TestStoreSkipsPlaceholders(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Upsert(Record{
		LocationID:    testStructureID,
		Name:          "Structure 1030000000001",
		Category:      CategoryStructure,
		IsPlaceholder: true,
	}))

	loaded, err := store.All()
	require.NoError(t, err)
	assert.Empty(t, loaded, "Placeholders are never persisted")
}

func TestStoreDelete(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Upsert(Record{
		LocationID:  testStructureID,
		Name:        "Short-lived Astrahus",
		Category:    CategoryStructure,
		LastChecked: time.Now().UTC(),
	}))
	require.NoError(t, store.Delete(testStructureID))

	loaded, err := store.All()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestResolverLoadsPersistedRecords(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "locations.db")

	store, err := OpenStore(dsn)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(Record{
		LocationID:  testStructureID,
		Name:        "Persisted Fortizar",
		Category:    CategoryStructure,
		LastChecked: time.Now().UTC(),
	}))
	require.NoError(t, store.Close())

	reopened, err := OpenStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	cache, err := sde.New(staticParser{}, sde.Options{
		DataDir:      t.TempDir(),
		BuildTimeout: 10 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	lookup := newStubLookup()
	r, err := NewResolver(cache, lookup, reopened, Config{})
	require.NoError(t, err)

	rec, ok := r.CachedRecord(testStructureID)
	require.True(t, ok)
	assert.Equal(t, "Persisted Fortizar", rec.Name)
	assert.Zero(t, lookup.callCount())
}
