package config

// Config is the full service configuration tree.
//
// The file may be JSON or YAML; both are decoded strictly, so unknown keys
// are rejected early instead of being silently ignored.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Gateway   GatewayConfig   `json:"gateway"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Events    EventsConfig    `json:"events,omitempty"`

	// Storage controls the transition journal. Nil means driver "none".
	Storage *StorageConfig `json:"storage,omitempty"`

	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`

	// Notifier controls optional operator alerts. Nil means disabled.
	Notifier *NotifierConfig `json:"notifier,omitempty"`

	Pprof   PprofConfig   `json:"pprof,omitempty"`
	Logging LoggingConfig `json:"logging"`

	// WatchConfig enables hot reload of this file.
	WatchConfig bool `json:"watch_config,omitempty"`
}

// ServerConfig controls the REST listener.
//
// All timeouts are Go duration strings (e.g. "5s", "1m").
type ServerConfig struct {
	Addr            string `json:"addr"` // default: ":8080"
	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

// GatewayConfig controls the WebSocket event gateway.
type GatewayConfig struct {
	Enabled bool `json:"enabled"`
	// Path is the upgrade endpoint, served by the REST listener.
	Path string `json:"path,omitempty"` // default: "/ws"
	// SendBuffer is the per-connection outbound queue; a connection that
	// falls this far behind is dropped.
	SendBuffer   int    `json:"send_buffer,omitempty"` // default: 64
	WriteTimeout string `json:"write_timeout,omitempty"`
}

// SchedulerConfig fixes the worker pool sizes. Both are admission-time
// constants: a reload cannot resize running pools.
type SchedulerConfig struct {
	PoolSizeStandard      int `json:"pool_size_standard"`       // default: 4
	PoolSizeTimeConsuming int `json:"pool_size_time_consuming"` // default: 2

	// StartupProbe admits one trivial job per pool at boot to prove the
	// admission path end to end. Omitted means enabled.
	StartupProbe *bool `json:"startup_probe,omitempty"`
}

// EventsConfig controls the in-process transition event bus.
type EventsConfig struct {
	// BusBuffer is the per-subscriber channel buffer. Slow subscribers
	// drop events rather than stall transitions.
	BusBuffer int `json:"bus_buffer,omitempty"` // default: 256
}

// StorageConfig controls the transition journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./msa.db" }
type StorageConfig struct {
	Driver      string `json:"driver"` // "none", "file" or "sqlite"
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// MaintenanceConfig controls the periodic housekeeping sweep.
//
// Schedule is a standard 5-field cron spec. Retentions are Go duration
// strings; zero disables the respective sweep.
type MaintenanceConfig struct {
	Enabled          bool   `json:"enabled"`
	Schedule         string `json:"schedule,omitempty"` // default: "*/5 * * * *"
	ExpungeRetention string `json:"expunge_retention,omitempty"`
	JournalRetention string `json:"journal_retention,omitempty"`
}

// NotifierConfig controls Telegram operator alerts.
type NotifierConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token"`
	ChatID     int64  `json:"chat_id"`
	RatePerSec int    `json:"rate_per_sec,omitempty"` // default: 1
	// States selects which terminal transitions are alerted.
	// Omitted means ["interrupted"].
	States []string `json:"states,omitempty"`
}

// PprofConfig controls the optional pprof HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StartupProbeEnabled resolves the tri-state startup_probe field.
func (c SchedulerConfig) StartupProbeEnabled() bool {
	if c.StartupProbe == nil {
		return true
	}
	return *c.StartupProbe
}

// StorageDriver returns the effective journal driver name.
func (c *Config) StorageDriver() string {
	if c == nil || c.Storage == nil {
		return "none"
	}
	if c.Storage.Driver == "" {
		return "none"
	}
	return c.Storage.Driver
}
