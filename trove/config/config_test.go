package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	internal "github.com/halcek/evetrove/trove"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ConfigTestSuite tests the config package functionality
type ConfigTestSuite struct {
	suite.Suite
	tempDir string
	origDir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) SetupTest() {
	// Save original directory
	var err error
	suite.origDir, err = os.Getwd()
	require.NoError(suite.T(), err)

	// Create temporary directory for testing
	tempDir, err := os.MkdirTemp("", "evetrove-config-test-*")
	require.NoError(suite.T(), err)
	suite.tempDir = tempDir

	// Change to temp directory so no stray config.yaml is picked up
	err = os.Chdir(tempDir)
	require.NoError(suite.T(), err)
}

func (suite *ConfigTestSuite) TearDownTest() {
	if suite.origDir != "" {
		os.Chdir(suite.origDir)
	}
	if suite.tempDir != "" {
		os.RemoveAll(suite.tempDir)
	}
}

func (suite *ConfigTestSuite) TestLoadConfigWithDefaults() {
	cfg, err := LoadConfig("")

	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), internal.DefaultDataDir, cfg.Evetrove.SDE.DataDir)
	assert.Equal(suite.T(), internal.DefaultSnapshotPath, cfg.Evetrove.SDE.SnapshotPath)
	assert.True(suite.T(), cfg.Evetrove.SDE.BackgroundBuild)
	assert.Equal(suite.T(), internal.DefaultBuildTimeoutSec, cfg.Evetrove.SDE.BuildTimeoutSeconds)
	assert.False(suite.T(), cfg.Evetrove.SDE.WatchSources)

	assert.Equal(suite.T(), internal.DefaultLocationDBDSN, cfg.Evetrove.Locations.Database.DSN)
	assert.Equal(suite.T(), "libsql", cfg.Evetrove.Locations.Database.Type)
	assert.Equal(suite.T(), internal.DefaultFreshnessWindowHours, cfg.Evetrove.Locations.FreshnessWindowHours)
	assert.Equal(suite.T(), internal.DefaultBackoffInitialSec, cfg.Evetrove.Locations.BackoffInitialSeconds)
	assert.True(suite.T(), cfg.Evetrove.Locations.LookupUseCache)
}

func (suite *ConfigTestSuite) TestLoadConfigWithFile() {
	configContent := `
evetrove:
  sde:
    dataDir: "./test-sde"
    snapshotPath: "./test-sde/indices.snap"
    backgroundBuild: false
    buildTimeoutSeconds: 30
    watchSources: true
    watchDebounceMillis: 500
  locations:
    database:
      dsn: "file:test-locations.db"
      type: "libsql"
    freshnessWindowHours: 48
    backoffInitialSeconds: 60
    backoffDeniedSeconds: 7200
    backoffMaxSeconds: 14400
    lookupUseCache: false
`

	configFile := filepath.Join(suite.tempDir, "config.yaml")
	err := os.WriteFile(configFile, []byte(configContent), 0o644)
	require.NoError(suite.T(), err)

	cfg, err := LoadConfig(configFile)

	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), "./test-sde", cfg.Evetrove.SDE.DataDir)
	assert.False(suite.T(), cfg.Evetrove.SDE.BackgroundBuild)
	assert.True(suite.T(), cfg.Evetrove.SDE.WatchSources)
	assert.Equal(suite.T(), 30*time.Second, cfg.Evetrove.SDE.BuildTimeout())
	assert.Equal(suite.T(), 500*time.Millisecond, cfg.Evetrove.SDE.WatchDebounce())

	assert.Equal(suite.T(), "file:test-locations.db", cfg.Evetrove.Locations.Database.DSN)
	assert.Equal(suite.T(), 48*time.Hour, cfg.Evetrove.Locations.FreshnessWindow())
	assert.Equal(suite.T(), time.Minute, cfg.Evetrove.Locations.BackoffInitial())
	assert.Equal(suite.T(), 2*time.Hour, cfg.Evetrove.Locations.BackoffDenied())
	assert.Equal(suite.T(), 4*time.Hour, cfg.Evetrove.Locations.BackoffMax())
	assert.False(suite.T(), cfg.Evetrove.Locations.LookupUseCache)
}

func (suite *ConfigTestSuite) TestLoadConfigInvalidFile() {
	cfg, err := LoadConfig("/nonexistent/path/config.yaml")

	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestLoadConfigMalformedFile() {
	malformedContent := `
evetrove:
  sde:
    dataDir: "./test-sde"
  invalid_yaml: [unclosed bracket
`

	configFile := filepath.Join(suite.tempDir, "config.yaml")
	err := os.WriteFile(configFile, []byte(malformedContent), 0o644)
	require.NoError(suite.T(), err)

	cfg, err := LoadConfig(configFile)

	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}
