// Package backend opens the storage implementation named in the config.
package backend

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gyaneshwarpardhi/chronicle/internal/config"
	"github.com/gyaneshwarpardhi/chronicle/internal/storage"
	"github.com/gyaneshwarpardhi/chronicle/internal/storage/bbolt"
	"github.com/gyaneshwarpardhi/chronicle/internal/storage/sqlite"
)

// Open returns the store selected by cfg.Backend, creating the parent
// directory of a file-backed store if needed.
func Open(cfg config.StorageConf) (storage.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return storage.NewMemory(), nil
	case config.BackendBolt, config.BackendSQLite:
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", storage.ErrStoreUnavailable, cfg.Backend)
	}

	if cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: create storage dir: %w", storage.ErrStoreUnavailable, err)
		}
	}
	if cfg.Backend == config.BackendSQLite {
		return sqlite.Open(cfg.Path)
	}
	return bbolt.Open(cfg.Path)
}
