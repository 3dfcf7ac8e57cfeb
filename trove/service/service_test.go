package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcek/evetrove/trove/config"
	"github.com/halcek/evetrove/trove/locations"
)

var sdeFixtures = map[string]string{
	"types.jsonl":             `{"_key": 587, "groupID": 25, "name": "Rifter", "published": true}`,
	"categories.jsonl":        `{"_key": 6, "name": "Ship", "published": true}`,
	"groups.jsonl":            `{"_key": 25, "categoryID": 6, "name": "Frigate", "published": true}`,
	"marketGroups.jsonl":      `{"_key": 61, "name": "Frigates", "hasTypes": true}`,
	"blueprints.jsonl":        `{"blueprintTypeID": 691}`,
	"npcStations.jsonl":       `{"_key": 60003760, "name": "Jita IV - Moon 4", "solarSystemID": 30000142}`,
	"mapRegions.jsonl":        `{"_key": 10000002, "name": "The Forge"}`,
	"mapConstellations.jsonl": `{"_key": 20000020, "name": "Kimotoro", "regionID": 10000002}`,
	"mapSolarSystems.jsonl":   `{"_key": 30000142, "name": "Jita", "constellationID": 20000020}`,
}

type fixedLookup struct{}

func (fixedLookup) StructureInfo(ctx context.Context, structureID, characterID int64, useCache bool) (locations.StructureInfo, error) {
	return locations.StructureInfo{Name: "Test Fortizar", SolarSystemID: 30000142}, nil
}

func TestServiceEndToEnd(t *testing.T) {
	dataDir := t.TempDir()
	for name, line := range sdeFixtures {
		require.NoError(t, os.WriteFile(filepath.Join(dataDir, name), []byte(line+"\n"), 0o644))
	}

	stateDir := t.TempDir()
	config.AppConfig = config.Config{}
	config.AppConfig.Evetrove.SDE.DataDir = dataDir
	config.AppConfig.Evetrove.SDE.SnapshotPath = filepath.Join(stateDir, "indices.snap")
	config.AppConfig.Evetrove.Locations.Database.DSN = "file:" + filepath.Join(stateDir, "locations.db")

	svc, err := New(fixedLookup{})
	require.NoError(t, err)
	defer svc.Close()

	require.True(t, svc.WaitUntilReady(5*time.Second))

	rifter, ok := svc.SDE().TypeByID(587)
	require.True(t, ok)
	assert.Equal(t, "Rifter", rifter.Name)

	out := svc.ResolveLocations(context.Background(),
		[]int64{30000142, 1_030_000_000_001}, 90000001, true)
	assert.Equal(t, "Jita", out[30000142].Name)
	assert.Equal(t, "Test Fortizar", out[1_030_000_000_001].Name)
	assert.Equal(t, locations.CategoryStructure, out[1_030_000_000_001].Category)

	_, err = os.Stat(config.AppConfig.Evetrove.SDE.SnapshotPath)
	assert.NoError(t, err, "Snapshot should be written by the first build")
}
