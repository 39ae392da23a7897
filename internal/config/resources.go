package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/example/realtime-docstore/internal/storage"
)

// Resources bundles the on-disk state used by the server so that its
// lifecycle can be managed in a single place.
type Resources struct {
	Settings storage.KV
	cfg      Config
}

// NewResources prepares the data directory and opens the settings keyspace.
func NewResources(cfg Config) (*Resources, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	settings, err := storage.OpenKV(filepath.Join(cfg.DataDir, "settings"))
	if err != nil {
		return nil, fmt.Errorf("open settings keyspace: %w", err)
	}

	return &Resources{Settings: settings, cfg: cfg}, nil
}

// DatabaseDir returns the directory a named database keeps its keyspaces in.
func (r *Resources) DatabaseDir(name string) string {
	return filepath.Join(r.cfg.DataDir, "databases", name)
}

// Close releases the settings keyspace.
func (r *Resources) Close() error {
	return r.Settings.Close()
}
