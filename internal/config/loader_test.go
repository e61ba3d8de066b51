package config_test

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/chronicle/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chronicle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFileWithDefaults(t *testing.T) {
	path := writeConfig(t, `
version: v1
storage:
  backend: sqlite
  path: /tmp/chronicle.sqlite
`)
	l, err := config.NewLoader(path)
	require.NoError(t, err)

	cfg := l.Config()
	require.Equal(t, config.BackendSQLite, cfg.Storage.Backend)
	require.Equal(t, "/tmp/chronicle.sqlite", cfg.Storage.Path)
	require.Equal(t, config.DefaultAddr, cfg.Server.Addr)
	require.Equal(t, config.DefaultWorkers, cfg.Replay.Workers)
	require.Equal(t, config.DefaultLevel, cfg.Log.Level)
	require.NoError(t, config.Validate(cfg))
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
version: v1
server:
  addr: ":9000"
replay:
  workers: 2
`)
	t.Setenv("CHRONICLE_ADDR", ":7000")
	t.Setenv("CHRONICLE_STORAGE_BACKEND", "memory")
	t.Setenv("CHRONICLE_REPLAY_WORKERS", "8")

	l, err := config.NewLoader(path)
	require.NoError(t, err)

	cfg := l.Config()
	require.Equal(t, ":7000", cfg.Server.Addr)
	require.Equal(t, config.BackendMemory, cfg.Storage.Backend)
	require.Empty(t, cfg.Storage.Path)
	require.Equal(t, 8, cfg.Replay.Workers)
}

func TestLoadWithoutFile(t *testing.T) {
	l, err := config.NewLoader("")
	require.NoError(t, err)
	require.Equal(t, config.DefaultBackend, l.Config().Storage.Backend)
	require.Equal(t, config.DefaultPath, l.Config().Storage.Path)

	_, err = l.Watch()
	require.Error(t, err)
}

func TestLoadErrors(t *testing.T) {
	_, err := config.NewLoader(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")

	_, err = config.NewLoader(writeConfig(t, "server: [unclosed"))
	require.ErrorContains(t, err, "parse config")

	t.Setenv("CHRONICLE_REPLAY_WORKERS", "many")
	_, err = config.NewLoader(writeConfig(t, "version: v1"))
	require.ErrorContains(t, err, "parse env")
}

func TestReloadKeepsPreviousOnInvalidConfig(t *testing.T) {
	path := writeConfig(t, "version: v1\nlog:\n  level: info\n")
	l, err := config.NewLoader(path)
	require.NoError(t, err)

	var calls atomic.Int32
	l.OnChange(func(*config.Config) { calls.Add(1) })

	require.NoError(t, os.WriteFile(path, []byte("version: v1\nlog:\n  level: loud\n"), 0o644))
	_, err = l.Reload()
	require.Error(t, err)
	require.Equal(t, "info", l.Config().Log.Level)
	require.Zero(t, calls.Load())

	require.NoError(t, os.WriteFile(path, []byte("version: v1\nlog:\n  level: debug\n"), 0o644))
	cfg, err := l.Reload()
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, int32(1), calls.Load())
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "version: v1\nlog:\n  level: info\n")
	l, err := config.NewLoader(path)
	require.NoError(t, err)

	var calls atomic.Int32
	l.OnChange(func(*config.Config) { calls.Add(1) })

	stop, err := l.Watch()
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte("version: v1\nlog:\n  level: warn\n"), 0o644))

	require.Eventually(t, func() bool {
		return l.Config().Log.Level == "warn" && calls.Load() > 0
	}, 5*time.Second, 10*time.Millisecond)
}
