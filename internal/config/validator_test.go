package config_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/chronicle/internal/config"
)

func validConfig() *config.Config {
	return &config.Config{
		Version: "v1",
		Server:  config.ServerConf{Addr: ":3000"},
		Storage: config.StorageConf{Backend: config.BackendBolt, Path: "./db"},
		Replay:  config.ReplayConf{Workers: 4},
		Log:     config.LogConf{Level: "info"},
	}
}

func TestValidateAcceptsEveryBackend(t *testing.T) {
	for _, backend := range []string{config.BackendBolt, config.BackendSQLite, config.BackendMemory} {
		cfg := validConfig()
		cfg.Storage.Backend = backend
		require.NoError(t, config.Validate(cfg), backend)
	}

	cfg := validConfig()
	cfg.Storage = config.StorageConf{Backend: config.BackendMemory}
	require.NoError(t, config.Validate(cfg))
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Addr = ""
	cfg.Storage.Backend = "postgres"
	cfg.Replay.Workers = 0
	cfg.Log.Level = "chatty"

	err := config.Validate(cfg)
	require.Error(t, err)
	for _, want := range []string{"server.addr", "storage.backend", "replay.workers", "log.level"} {
		require.ErrorContains(t, err, want)
	}
}

func TestValidateRequiresPathForDurableBackends(t *testing.T) {
	cfg := validConfig()
	cfg.Storage = config.StorageConf{Backend: config.BackendSQLite}
	require.ErrorContains(t, config.Validate(cfg), "storage.path")
}

func TestValidateRequiresVersion(t *testing.T) {
	cfg := validConfig()
	cfg.Version = ""
	require.ErrorContains(t, config.Validate(cfg), "version is required")
}

func TestParseLevel(t *testing.T) {
	level, err := config.ParseLevel("warn")
	require.NoError(t, err)
	require.Equal(t, slog.LevelWarn, level)

	_, err = config.ParseLevel("verbose")
	require.Error(t, err)
}
