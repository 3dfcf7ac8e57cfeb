package config

import (
	"fmt"
	"strings"
	"time"

	internal "github.com/halcek/evetrove/trove"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Evetrove EvetroveConfig `mapstructure:"evetrove"`
}

// EvetroveConfig stores the data-layer configuration.
type EvetroveConfig struct {
	SDE       SDEConfig      `mapstructure:"sde"`
	Locations LocationConfig `mapstructure:"locations"`
}

// SDEConfig configures the static data cache.
type SDEConfig struct {
	DataDir             string `mapstructure:"dataDir"`
	SnapshotPath        string `mapstructure:"snapshotPath"`
	BackgroundBuild     bool   `mapstructure:"backgroundBuild"`
	BuildTimeoutSeconds int    `mapstructure:"buildTimeoutSeconds"`
	WatchSources        bool   `mapstructure:"watchSources"`
	WatchDebounceMillis int    `mapstructure:"watchDebounceMillis"`
}

// LocationConfig configures the location resolver and its store.
type LocationConfig struct {
	Database              DatabaseConfig `mapstructure:"database"`
	FreshnessWindowHours  int            `mapstructure:"freshnessWindowHours"`
	BackoffInitialSeconds int            `mapstructure:"backoffInitialSeconds"`
	BackoffDeniedSeconds  int            `mapstructure:"backoffDeniedSeconds"`
	BackoffMaxSeconds     int            `mapstructure:"backoffMaxSeconds"`
	LookupUseCache        bool           `mapstructure:"lookupUseCache"`
}

// DatabaseConfig stores database connection details.
type DatabaseConfig struct {
	DSN  string `mapstructure:"dsn"`
	Type string `mapstructure:"type"`
}

// BuildTimeout returns the cache build timeout as a duration.
func (c SDEConfig) BuildTimeout() time.Duration {
	return time.Duration(c.BuildTimeoutSeconds) * time.Second
}

// WatchDebounce returns the source watcher debounce delay.
func (c SDEConfig) WatchDebounce() time.Duration {
	return time.Duration(c.WatchDebounceMillis) * time.Millisecond
}

// FreshnessWindow returns the record freshness window as a duration.
func (c LocationConfig) FreshnessWindow() time.Duration {
	return time.Duration(c.FreshnessWindowHours) * time.Hour
}

// BackoffInitial returns the initial backoff interval for transient failures.
func (c LocationConfig) BackoffInitial() time.Duration {
	return time.Duration(c.BackoffInitialSeconds) * time.Second
}

// BackoffDenied returns the initial backoff interval for access-denied failures.
func (c LocationConfig) BackoffDenied() time.Duration {
	return time.Duration(c.BackoffDeniedSeconds) * time.Second
}

// BackoffMax returns the upper bound on any backoff interval.
func (c LocationConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxSeconds) * time.Second
}

var AppConfig Config

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("..")
		viper.AddConfigPath(internal.DefaultConfigPath)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// Set default values
	viper.SetDefault("evetrove.sde.dataDir", internal.DefaultDataDir)
	viper.SetDefault("evetrove.sde.snapshotPath", internal.DefaultSnapshotPath)
	viper.SetDefault("evetrove.sde.backgroundBuild", true)
	viper.SetDefault("evetrove.sde.buildTimeoutSeconds", internal.DefaultBuildTimeoutSec)
	viper.SetDefault("evetrove.sde.watchSources", false)
	viper.SetDefault("evetrove.sde.watchDebounceMillis", internal.DefaultWatchDebounceMillis)
	viper.SetDefault("evetrove.locations.database.dsn", internal.DefaultLocationDBDSN)
	viper.SetDefault("evetrove.locations.database.type", "libsql")
	viper.SetDefault("evetrove.locations.freshnessWindowHours", internal.DefaultFreshnessWindowHours)
	viper.SetDefault("evetrove.locations.backoffInitialSeconds", internal.DefaultBackoffInitialSec)
	viper.SetDefault("evetrove.locations.backoffDeniedSeconds", internal.DefaultBackoffDeniedSec)
	viper.SetDefault("evetrove.locations.backoffMaxSeconds", internal.DefaultBackoffMaxSec)
	viper.SetDefault("evetrove.locations.lookupUseCache", internal.DefaultLookupUseUpstreamCache)

	viper.AutomaticEnv()                                   // Read in environment variables that match
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // e.g. evetrove.sde.dataDir becomes EVETROVE_SDE_DATADIR

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; defaults will be used. This is not an error for the application to halt on.
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	err := viper.Unmarshal(&AppConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	return &AppConfig, nil
}
