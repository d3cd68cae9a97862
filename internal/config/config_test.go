package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/cadence/internal/notify"
)

func writeConfig(t *testing.T, projectDir, body string) {
	t.Helper()
	dir := filepath.Join(projectDir, CadenceDir)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(strings.TrimSpace(body)), 0o644))
}

func TestNewConfigDefaultsWhenMissing(t *testing.T) {
	projectDir := t.TempDir()
	cfg, err := NewConfig(projectDir)
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Project.Version)
	assert.Equal(t, DriverSQLite, cfg.Project.Store.Driver)
	assert.Equal(t, filepath.Join(projectDir, CadenceDir, "state", "history.db"), cfg.StoreDSN())
	assert.Equal(t, filepath.Join(projectDir, CadenceDir, "routines"), cfg.RoutinesDir())
	assert.Equal(t, time.Second, cfg.Project.Engine.TickInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.Project.Engine.TransitionDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.Project.Engine.ReentrancyWindow)
	assert.Equal(t, 5, cfg.Project.Engine.MaxQueueSize)
	assert.True(t, cfg.Project.Engine.AdvancesAutomatically())
	assert.True(t, cfg.Project.Notifications.BellEnabled())
	assert.Equal(t, notify.Default, cfg.Project.Notifications.Default())
}

func TestInitCadenceDirWritesParsableDefaults(t *testing.T) {
	projectDir := t.TempDir()
	require.NoError(t, InitCadenceDir(projectDir))
	for _, dir := range []string{"logs", "state", "routines"} {
		info, err := os.Stat(filepath.Join(projectDir, CadenceDir, dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	cfg, err := NewConfig(projectDir)
	require.NoError(t, err)
	require.NotNil(t, cfg.Project.Bridge.Enabled)
	assert.False(t, *cfg.Project.Bridge.Enabled)
	assert.Equal(t, 8766, cfg.Project.Bridge.Port)

	// A second init must keep user edits.
	writeConfig(t, projectDir, "version: 1\nroutines_dir: custom\n")
	require.NoError(t, InitCadenceDir(projectDir))
	data, err := os.ReadFile(filepath.Join(projectDir, CadenceDir, "config.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "custom")
}

func TestNewConfigParsesYaml(t *testing.T) {
	projectDir := t.TempDir()
	writeConfig(t, projectDir, `
version: 1
routines_dir: ../routines
store:
  driver: Postgres
  dsn: postgres://localhost/cadence
engine:
  tick_interval: 250ms
  auto_advance: false
notifications:
  bell: false
  kind: all
  intensity: prominent
`)
	cfg, err := NewConfig(projectDir)
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Project.Store.Driver)
	assert.Equal(t, "postgres://localhost/cadence", cfg.StoreDSN())
	assert.Equal(t, filepath.Join(projectDir, "routines"), cfg.RoutinesDir())
	assert.Equal(t, 250*time.Millisecond, cfg.Project.Engine.TickInterval)
	assert.False(t, cfg.Project.Engine.AdvancesAutomatically())
	assert.False(t, cfg.Project.Notifications.BellEnabled())
	assert.Equal(t, notify.Notification{Kind: notify.KindAll, Intensity: notify.IntensityProminent}, cfg.Project.Notifications.Default())
}

func TestNewConfigValidation(t *testing.T) {
	cases := map[string]string{
		"driver":    "store:\n  driver: mongo\n",
		"postgres":  "store:\n  driver: postgres\n",
		"queue":     "engine:\n  max_queue_size: -1\n",
		"kind":      "notifications:\n  kind: smoke\n",
		"intensity": "notifications:\n  intensity: loud\n",
		"port":      "bridge:\n  port: 70000\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			projectDir := t.TempDir()
			writeConfig(t, projectDir, body)
			_, err := NewConfig(projectDir)
			assert.Error(t, err)
		})
	}
}

func TestEnvOverridesStore(t *testing.T) {
	projectDir := t.TempDir()
	t.Setenv("CADENCE_STORE_DRIVER", "postgres")
	t.Setenv("CADENCE_STORE_DSN", "")
	t.Setenv("DATABASE_URL", "postgres://db/cadence")
	cfg, err := NewConfig(projectDir)
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Project.Store.Driver)
	assert.Equal(t, "postgres://db/cadence", cfg.StoreDSN())

	t.Setenv("CADENCE_STORE_DRIVER", "none")
	cfg, err = NewConfig(projectDir)
	require.NoError(t, err)
	assert.Equal(t, DriverNone, cfg.Project.Store.Driver)
}

func TestEnvOverridesBridge(t *testing.T) {
	projectDir := t.TempDir()
	writeConfig(t, projectDir, `
version: 1
bridge:
  enabled: true
  host: 127.0.0.1
  port: 8766
  heartbeat: 5s
`)
	t.Setenv("CADENCE_BRIDGE_ENABLED", "false")
	t.Setenv("CADENCE_BRIDGE_HOST", " 0.0.0.0 ")
	t.Setenv("CADENCE_BRIDGE_PORT", "9001")
	t.Setenv("CADENCE_BRIDGE_BUFFER", "8")
	cfg, err := NewConfig(projectDir)
	require.NoError(t, err)
	bridge := cfg.Project.Bridge
	require.NotNil(t, bridge.Enabled)
	assert.False(t, *bridge.Enabled)
	assert.Equal(t, "0.0.0.0", bridge.Host)
	assert.Equal(t, 9001, bridge.Port)
	assert.Equal(t, 8, bridge.Buffer)
	assert.Equal(t, 5*time.Second, bridge.Heartbeat)

	t.Setenv("CADENCE_BRIDGE_PORT", "not-a-port")
	t.Setenv("CADENCE_BRIDGE_BUFFER", "0")
	cfg, err = NewConfig(projectDir)
	require.NoError(t, err)
	assert.Equal(t, 8766, cfg.Project.Bridge.Port)
	assert.Zero(t, cfg.Project.Bridge.Buffer)
}

func TestSaveRoundTrips(t *testing.T) {
	projectDir := t.TempDir()
	cfg, err := NewConfig(projectDir)
	require.NoError(t, err)
	cfg.Project.Engine.TickInterval = 2 * time.Second
	cfg.Project.Store.Driver = DriverNone
	require.NoError(t, cfg.Save())

	reloaded, err := NewConfig(projectDir)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, reloaded.Project.Engine.TickInterval)
	assert.Equal(t, DriverNone, reloaded.Project.Store.Driver)
}
