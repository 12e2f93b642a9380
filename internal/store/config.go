package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mrc-ide/outpack-server/internal/hash"
)

// Config is the repository configuration stored in .outpack/config.json
type Config struct {
	Core     Core       `json:"core"`
	Location []Location `json:"location"`
}

// Core holds the settings that fix how the repository stores packets
type Core struct {
	HashAlgorithm       hash.Algorithm `json:"hash_algorithm"`
	PathArchive         *string        `json:"path_archive"`
	UseFileStore        bool           `json:"use_file_store"`
	RequireCompleteTree bool           `json:"require_complete_tree"`
}

// Location is a place packets can be known to exist
type Location struct {
	Name string                 `json:"name"`
	Type string                 `json:"type"`
	Args map[string]interface{} `json:"args"`
}

// LocalLocation is the name of the location for packets unpacked in this repository
const LocalLocation = "local"

// NewConfig builds the configuration for a new repository
func NewConfig(pathArchive *string, useFileStore, requireCompleteTree bool) (Config, error) {
	if !useFileStore && pathArchive == nil {
		return Config{}, errors.New("If 'path_archive' is None, then use_file_store must be true")
	}

	return Config{
		Core: Core{
			HashAlgorithm:       hash.SHA256,
			PathArchive:         pathArchive,
			UseFileStore:        useFileStore,
			RequireCompleteTree: requireCompleteTree,
		},
		Location: []Location{
			{Name: LocalLocation, Type: LocalLocation, Args: map[string]interface{}{}},
		},
	}, nil
}

// Equal compares the settings of two cores
func (c Core) Equal(o Core) bool {
	if (c.PathArchive == nil) != (o.PathArchive == nil) {
		return false
	}
	if c.PathArchive != nil && *c.PathArchive != *o.PathArchive {
		return false
	}
	return c.HashAlgorithm == o.HashAlgorithm &&
		c.UseFileStore == o.UseFileStore &&
		c.RequireCompleteTree == o.RequireCompleteTree
}

// ReadConfig reads .outpack/config.json under root
func ReadConfig(root string) (Config, error) {
	data, err := os.ReadFile(filepath.Join(root, outpackDir, "config.json"))
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid outpack config: %w", err)
	}
	return cfg, nil
}

// WriteConfig writes .outpack/config.json under root; .outpack must exist
func WriteConfig(root string, cfg Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(root, outpackDir, "config.json"), data, 0o644)
}

// CheckConfig verifies the repository is configured the way the server
// requires
func CheckConfig(cfg Config) error {
	if !cfg.Core.UseFileStore {
		return errors.New("Outpack must be configured to use a file store")
	}
	if !cfg.Core.RequireCompleteTree {
		return errors.New("Outpack must be configured to require a complete tree")
	}
	if cfg.Core.HashAlgorithm != hash.SHA256 {
		return fmt.Errorf("Outpack must be configured to use hash algorithm 'sha256', but you are using '%s'", cfg.Core.HashAlgorithm)
	}
	if cfg.Core.PathArchive != nil {
		return fmt.Errorf("Outpack must be configured to *not* use an archive, but your path_archive is '%s'", *cfg.Core.PathArchive)
	}
	return nil
}
