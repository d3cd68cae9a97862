package eventbridge

import (
	"net"
	"strconv"
	"time"

	"github.com/kingrea/cadence/internal/config"
)

// Bridge defaults. The read timeout guards hung clients; event streams clear
// their own write deadline.
const (
	DefaultHost               = "127.0.0.1"
	DefaultPort               = 8766
	DefaultMaxBodyBytes int64 = 1 << 20
	DefaultReadTimeout        = 15 * time.Second
	DefaultWriteTimeout       = 15 * time.Second
	DefaultIdleTimeout        = 60 * time.Second
	DefaultHeartbeat          = 15 * time.Second
)

// Settings is what NewServer needs to listen and stream.
type Settings struct {
	Enabled      bool
	Host         string
	Port         int
	MaxBodyBytes int64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// Heartbeat keeps idle /events streams alive through proxies.
	Heartbeat time.Duration
	// Buffer bounds each event stream subscriber.
	Buffer int
}

// SettingsFromConfig fills bridge defaults around whatever the project config
// resolved. Environment overrides are already folded in by config.NewConfig.
func SettingsFromConfig(cfg *config.Config) Settings {
	var bridge config.BridgeConfig
	if cfg != nil {
		bridge = cfg.Project.Bridge
	}
	settings := Settings{
		Enabled:   bridge.Enabled == nil || *bridge.Enabled,
		Host:      orString(bridge.Host, DefaultHost),
		Port:      DefaultPort,
		Heartbeat: orDuration(bridge.Heartbeat, DefaultHeartbeat),
		Buffer:    defaultSubscriberCapacity,
	}
	if bridge.Port > 0 && bridge.Port <= 65535 {
		settings.Port = bridge.Port
	}
	if bridge.Buffer > 0 {
		settings.Buffer = bridge.Buffer
	}
	settings.MaxBodyBytes = DefaultMaxBodyBytes
	settings.ReadTimeout = DefaultReadTimeout
	settings.WriteTimeout = DefaultWriteTimeout
	settings.IdleTimeout = DefaultIdleTimeout
	return settings
}

// Address returns the TCP bind address in host:port form.
func (s Settings) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// URL returns the HTTP base URL for the server.
func (s Settings) URL() string {
	return "http://" + s.Address()
}

func orString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func orDuration(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}
