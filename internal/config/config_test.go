package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
listen_addr: ":9090"
database_path: /var/lib/fieldsync/data.db
remote_base_url: https://api.example.org
autosave_interval: 45s
sync:
  drain_interval: 1m
  max_attempts: 3
  initial_backoff: 5s
  max_backoff: 2m
  backoff_factor: 3.0
  backoff_jitter: 0.1
connectivity:
  probe_interval: 20
  probe_path: /ping
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.ListenAddr)
	require.Equal(t, "https://api.example.org", cfg.RemoteBaseURL)
	require.Equal(t, 45*time.Second, cfg.AutosaveInterval.Std())
	require.Equal(t, time.Minute, cfg.Sync.DrainInterval.Std())
	require.Equal(t, 3, cfg.Sync.MaxAttempts)
	require.Equal(t, 5*time.Second, cfg.Sync.InitialBackoff.Std())
	require.Equal(t, 3.0, cfg.Sync.BackoffFactor)
	// Bare numbers parse as seconds.
	require.Equal(t, 20*time.Second, cfg.Connectivity.ProbeInterval.Std())
	require.Equal(t, "/ping", cfg.Connectivity.ProbePath)

	// Fields the file omits keep their defaults.
	require.Equal(t, 10*time.Second, cfg.Sync.RequestTimeout.Std())
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault("")
	require.NoError(t, err)
	require.Equal(t, Default().ListenAddr, cfg.ListenAddr)

	cfg, err = LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default().Sync.MaxAttempts, cfg.Sync.MaxAttempts)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"bad duration":   "autosave_interval: soon\n",
		"empty addr":     "listen_addr: \"\"\n",
		"negative cap":   "sync:\n  max_attempts: -1\n",
		"factor below 1": "sync:\n  backoff_factor: 0.5\n",
		"jitter above 1": "sync:\n  backoff_jitter: 1.5\n",
		"malformed yaml": "sync: [\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			require.Error(t, err)
		})
	}
}

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().validate())
}
