package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks the config for:
//   - Required fields
//   - A known storage backend, with a path for the durable ones
//   - A parseable log level
func Validate(cfg *Config) error {
	if cfg.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	var errs []string

	if cfg.Server.Addr == "" {
		errs = append(errs, "server.addr is required")
	}
	switch cfg.Storage.Backend {
	case BackendBolt, BackendSQLite:
		if cfg.Storage.Path == "" {
			errs = append(errs, fmt.Sprintf("storage.path is required for backend %q", cfg.Storage.Backend))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Sprintf("storage.backend %q is not one of %s, %s, %s",
			cfg.Storage.Backend, BackendBolt, BackendSQLite, BackendMemory))
	}
	if cfg.Replay.Workers < 1 {
		errs = append(errs, fmt.Sprintf("replay.workers must be positive, got %d", cfg.Replay.Workers))
	}
	if _, err := ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ParseLevel maps a log.level value onto a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", s, err)
	}
	return level, nil
}
