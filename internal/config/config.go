// internal/config/config.go
//
// This package handles configuration and the .cadence directory structure.
// Every project that runs routines with cadence gets a .cadence/ folder.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/cadence/internal/notify"
)

const (
	// CadenceDir is the name of the directory we create in each project
	CadenceDir = ".cadence"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNone     = "none"

	defaultRoutinesDir = "routines"
	defaultSQLiteDSN   = "state/history.db"
)

const defaultProjectConfigYAML = `# cadence project configuration
version: 1

# Directory (relative to .cadence/) holding routine definitions (*.yaml, *.json).
routines_dir: routines

# Execution history. driver: sqlite | postgres | none
store:
  driver: sqlite
  dsn: state/history.db

# Local HTTP control bridge used by "cadence serve".
bridge:
  enabled: false
  host: 127.0.0.1
  port: 8766

engine:
  tick_interval: 1s
  transition_delay: 100ms
  max_queue_size: 5
  reentrancy_window: 500ms
  auto_advance: true

# Default end-of-step notification when a step does not configure one.
notifications:
  bell: true
  kind: visual
  intensity: normal
`

// StoreConfig selects where execution history is written.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn,omitempty"`
}

// BridgeConfig holds the control bridge settings after CADENCE_BRIDGE_*
// overrides. Zero values mean "use the bridge default".
type BridgeConfig struct {
	Enabled   *bool         `yaml:"enabled,omitempty"`
	Host      string        `yaml:"host,omitempty"`
	Port      int           `yaml:"port,omitempty"`
	Heartbeat time.Duration `yaml:"heartbeat,omitempty"`
	Buffer    int           `yaml:"buffer,omitempty"`
}

// EngineConfig tunes the execution engine.
type EngineConfig struct {
	TickInterval     time.Duration `yaml:"tick_interval"`
	TransitionDelay  time.Duration `yaml:"transition_delay"`
	MaxQueueSize     int           `yaml:"max_queue_size"`
	ReentrancyWindow time.Duration `yaml:"reentrancy_window"`
	AutoAdvance      *bool         `yaml:"auto_advance,omitempty"`
}

// AdvancesAutomatically reports whether queued cues present on their own.
func (e EngineConfig) AdvancesAutomatically() bool {
	return e.AutoAdvance == nil || *e.AutoAdvance
}

// NotificationConfig is the project-wide notification preference.
type NotificationConfig struct {
	Bell      *bool            `yaml:"bell,omitempty"`
	Kind      notify.Kind      `yaml:"kind,omitempty"`
	Intensity notify.Intensity `yaml:"intensity,omitempty"`
}

// BellEnabled reports whether the terminal bell stands in for audio.
func (n NotificationConfig) BellEnabled() bool {
	return n.Bell == nil || *n.Bell
}

// Default returns the notification used for steps without their own.
func (n NotificationConfig) Default() notify.Notification {
	return notify.Notification{Kind: n.Kind, Intensity: n.Intensity}.Normalized()
}

// ProjectConfig models .cadence/config.yaml.
type ProjectConfig struct {
	Version       int                `yaml:"version"`
	RoutinesDir   string             `yaml:"routines_dir"`
	Store         StoreConfig        `yaml:"store"`
	Bridge        BridgeConfig       `yaml:"bridge"`
	Engine        EngineConfig       `yaml:"engine"`
	Notifications NotificationConfig `yaml:"notifications"`
}

// Config holds the runtime configuration for cadence.
type Config struct {
	// ProjectDir is the directory where the user ran `cadence` from
	ProjectDir string

	// CadenceProjectDir is ProjectDir/.cadence
	CadenceProjectDir string

	Project ProjectConfig
}

// InitCadenceDir creates the .cadence directory structure in the given
// project directory.
//
// Structure created:
// .cadence/
// ├── logs/      <- cadence.log and journey.log
// ├── state/     <- active execution snapshot and history.db
// ├── routines/  <- routine definitions
// └── config.yaml
func InitCadenceDir(projectDir string) error {
	cadenceDir := filepath.Join(projectDir, CadenceDir)
	dirs := []string{
		filepath.Join(cadenceDir, "logs"),
		filepath.Join(cadenceDir, "state"),
		filepath.Join(cadenceDir, defaultRoutinesDir),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return ensureProjectConfig(filepath.Join(cadenceDir, "config.yaml"))
}

// NewConfig loads .cadence/config.yaml (defaults when missing) and applies
// environment overrides.
func NewConfig(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:        projectDir,
		CadenceProjectDir: filepath.Join(projectDir, CadenceDir),
		Project:           defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	cfg.Project.applyEnvOverrides()
	if err := cfg.Project.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.CadenceProjectDir, "logs")
}

// StateDir returns the path to the state directory
func (c *Config) StateDir() string {
	return filepath.Join(c.CadenceProjectDir, "state")
}

// RoutinesDir returns the resolved routine definitions directory.
func (c *Config) RoutinesDir() string {
	return resolvePath(c.CadenceProjectDir, c.Project.RoutinesDir)
}

// ActiveSnapshotPath is where the running execution is mirrored.
func (c *Config) ActiveSnapshotPath() string {
	return filepath.Join(c.StateDir(), "active.json")
}

// StoreDSN resolves the store DSN. SQLite paths are relative to .cadence/.
func (c *Config) StoreDSN() string {
	dsn := strings.TrimSpace(c.Project.Store.DSN)
	if c.Project.Store.Driver == DriverSQLite {
		if dsn == "" {
			dsn = defaultSQLiteDSN
		}
		if dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
			return dsn
		}
		return resolvePath(c.CadenceProjectDir, dsn)
	}
	return dsn
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.CadenceProjectDir, "config.yaml")
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func defaultProjectConfig() ProjectConfig {
	pc := ProjectConfig{}
	pc.applyDefaults()
	return pc
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if strings.TrimSpace(pc.RoutinesDir) == "" {
		pc.RoutinesDir = defaultRoutinesDir
	}
	if strings.TrimSpace(pc.Store.Driver) == "" {
		pc.Store.Driver = DriverSQLite
	}
	if pc.Store.Driver == DriverSQLite && strings.TrimSpace(pc.Store.DSN) == "" {
		pc.Store.DSN = defaultSQLiteDSN
	}
	if pc.Engine.TickInterval == 0 {
		pc.Engine.TickInterval = time.Second
	}
	if pc.Engine.TransitionDelay == 0 {
		pc.Engine.TransitionDelay = 100 * time.Millisecond
	}
	if pc.Engine.MaxQueueSize == 0 {
		pc.Engine.MaxQueueSize = 5
	}
	if pc.Engine.ReentrancyWindow == 0 {
		pc.Engine.ReentrancyWindow = 500 * time.Millisecond
	}
}

func (pc *ProjectConfig) normalize() {
	pc.RoutinesDir = strings.TrimSpace(pc.RoutinesDir)
	pc.Store.Driver = strings.ToLower(strings.TrimSpace(pc.Store.Driver))
	pc.Store.DSN = strings.TrimSpace(pc.Store.DSN)
	pc.Bridge.Host = strings.TrimSpace(pc.Bridge.Host)
	pc.Notifications.Kind = notify.Kind(strings.ToLower(strings.TrimSpace(string(pc.Notifications.Kind))))
	pc.Notifications.Intensity = notify.Intensity(strings.ToLower(strings.TrimSpace(string(pc.Notifications.Intensity))))
}

// applyEnvOverrides lets deployments point the store and bridge elsewhere
// without editing config.yaml. Unparseable values are ignored.
func (pc *ProjectConfig) applyEnvOverrides() {
	if driver := strings.TrimSpace(os.Getenv("CADENCE_STORE_DRIVER")); driver != "" {
		pc.Store.Driver = strings.ToLower(driver)
	}
	if dsn := strings.TrimSpace(os.Getenv("CADENCE_STORE_DSN")); dsn != "" {
		pc.Store.DSN = dsn
	} else if url := strings.TrimSpace(os.Getenv("DATABASE_URL")); url != "" && pc.Store.Driver == DriverPostgres {
		pc.Store.DSN = url
	}
	if value := strings.TrimSpace(os.Getenv("CADENCE_BRIDGE_ENABLED")); value != "" {
		if enabled, err := strconv.ParseBool(value); err == nil {
			pc.Bridge.Enabled = &enabled
		}
	}
	if host := strings.TrimSpace(os.Getenv("CADENCE_BRIDGE_HOST")); host != "" {
		pc.Bridge.Host = host
	}
	if port, ok := envInt("CADENCE_BRIDGE_PORT"); ok && port > 0 && port <= 65535 {
		pc.Bridge.Port = port
	}
	if buffer, ok := envInt("CADENCE_BRIDGE_BUFFER"); ok && buffer > 0 {
		pc.Bridge.Buffer = buffer
	}
}

func envInt(key string) (int, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return 0, false
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	switch pc.Store.Driver {
	case DriverSQLite, DriverNone:
	case DriverPostgres:
		if pc.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver must be one of sqlite, postgres, none")
	}
	if pc.Bridge.Port < 0 || pc.Bridge.Port > 65535 {
		return fmt.Errorf("bridge.port must be between 1 and 65535")
	}
	if pc.Bridge.Heartbeat < 0 || pc.Bridge.Buffer < 0 {
		return fmt.Errorf("bridge.heartbeat and bridge.buffer must not be negative")
	}
	if pc.Engine.TickInterval < 0 || pc.Engine.TransitionDelay < 0 || pc.Engine.ReentrancyWindow < 0 {
		return fmt.Errorf("engine durations must not be negative")
	}
	if pc.Engine.MaxQueueSize < 1 {
		return fmt.Errorf("engine.max_queue_size must be >= 1")
	}
	switch pc.Notifications.Kind {
	case "", notify.KindVisual, notify.KindAudio, notify.KindVibration, notify.KindAll:
	default:
		return fmt.Errorf("notifications.kind %q is not supported", pc.Notifications.Kind)
	}
	switch pc.Notifications.Intensity {
	case "", notify.IntensitySubtle, notify.IntensityNormal, notify.IntensityProminent:
	default:
		return fmt.Errorf("notifications.intensity %q is not supported", pc.Notifications.Intensity)
	}
	return nil
}

// Save writes the project config back to .cadence/config.yaml.
func (c *Config) Save() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.Project.applyDefaults()
	c.Project.normalize()
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.CadenceProjectDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure cadence dir: %w", err)
	}
	data, err := yaml.Marshal(c.Project)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("config: write project config: %w", err)
	}
	return nil
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}
