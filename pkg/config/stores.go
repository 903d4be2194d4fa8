package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/driftfs/driftfs/pkg/store/metadata"
	"github.com/driftfs/driftfs/pkg/store/metadata/badger"
	metadatamemory "github.com/driftfs/driftfs/pkg/store/metadata/memory"
	"github.com/driftfs/driftfs/pkg/store/metadata/sqlite"
)

// badgerYAMLConfig represents BadgerDB configuration loaded from YAML
// files.
type badgerYAMLConfig struct {
	Path       string `mapstructure:"path"`
	InMemory   bool   `mapstructure:"in_memory"`
	SyncWrites bool   `mapstructure:"sync_writes"`
}

// sqliteYAMLConfig represents SQLite configuration loaded from YAML files.
type sqliteYAMLConfig struct {
	Path string `mapstructure:"path"`
}

// NewMetadataStore creates the metadata store selected by cfg.Type.
func NewMetadataStore(cfg MetadataConfig) (metadata.Store, error) {
	switch cfg.Type {
	case "memory":
		return metadatamemory.New(), nil
	case "badger":
		return newBadgerStore(cfg)
	case "sqlite":
		return newSQLiteStore(cfg)
	default:
		return nil, fmt.Errorf("unknown metadata store type: %q", cfg.Type)
	}
}

func newBadgerStore(cfg MetadataConfig) (metadata.Store, error) {
	var yamlCfg badgerYAMLConfig
	if err := mapstructure.Decode(cfg.Badger, &yamlCfg); err != nil {
		return nil, fmt.Errorf("invalid badger config: %w", err)
	}

	store, err := badger.New(badger.Config{
		Path:       yamlCfg.Path,
		InMemory:   yamlCfg.InMemory,
		SyncWrites: yamlCfg.SyncWrites,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return store, nil
}

func newSQLiteStore(cfg MetadataConfig) (metadata.Store, error) {
	var yamlCfg sqliteYAMLConfig
	if err := mapstructure.Decode(cfg.SQLite, &yamlCfg); err != nil {
		return nil, fmt.Errorf("invalid sqlite config: %w", err)
	}
	if yamlCfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	store, err := sqlite.New(sqlite.Config{Path: yamlCfg.Path})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	return store, nil
}
