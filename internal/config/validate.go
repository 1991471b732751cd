package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Defaults applied by Normalize.
const (
	DefaultServerAddr       = ":8080"
	DefaultGatewayPath      = "/ws"
	DefaultGatewaySendBuf   = 64
	DefaultBusBuffer        = 256
	DefaultPoolStandard     = 4
	DefaultPoolTimeConsum   = 2
	DefaultMaintenanceSpec  = "*/5 * * * *"
	DefaultNotifierRate     = 1
	DefaultNotifierStateSet = "interrupted"
)

var validLevels = map[string]struct{}{
	"": {}, "trace": {}, "debug": {}, "info": {}, "warn": {}, "warning": {}, "error": {},
}

// Terminal and non-terminal state names accepted in notifier.states.
// Kept as plain strings so the config layer stays independent of the
// scheduler packages; the job package tests cross-check the set.
var validStates = map[string]struct{}{
	"scheduled": {}, "running": {}, "completed": {}, "canceled": {}, "interrupted": {},
}

// Normalize fills defaults in place. It never fails; Validate reports
// whatever remains wrong afterwards.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		cfg.Server.Addr = DefaultServerAddr
	}
	if strings.TrimSpace(cfg.Gateway.Path) == "" {
		cfg.Gateway.Path = DefaultGatewayPath
	}
	if cfg.Gateway.SendBuffer == 0 {
		cfg.Gateway.SendBuffer = DefaultGatewaySendBuf
	}
	if cfg.Scheduler.PoolSizeStandard == 0 {
		cfg.Scheduler.PoolSizeStandard = DefaultPoolStandard
	}
	if cfg.Scheduler.PoolSizeTimeConsuming == 0 {
		cfg.Scheduler.PoolSizeTimeConsuming = DefaultPoolTimeConsum
	}
	if cfg.Events.BusBuffer == 0 {
		cfg.Events.BusBuffer = DefaultBusBuffer
	}
	if cfg.Maintenance.Enabled && strings.TrimSpace(cfg.Maintenance.Schedule) == "" {
		cfg.Maintenance.Schedule = DefaultMaintenanceSpec
	}
	if cfg.Notifier != nil {
		if cfg.Notifier.RatePerSec <= 0 {
			cfg.Notifier.RatePerSec = DefaultNotifierRate
		}
		if len(cfg.Notifier.States) == 0 {
			cfg.Notifier.States = []string{DefaultNotifierStateSet}
		}
	}
}

// Validate checks a normalized config. The returned error names the field
// that failed so reload rejections are actionable.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if cfg.Scheduler.PoolSizeStandard < 1 {
		return fmt.Errorf("scheduler.pool_size_standard: must be >= 1")
	}
	if cfg.Scheduler.PoolSizeTimeConsuming < 1 {
		return fmt.Errorf("scheduler.pool_size_time_consuming: must be >= 1")
	}
	if cfg.Events.BusBuffer < 1 {
		return fmt.Errorf("events.bus_buffer: must be >= 1")
	}

	if _, err := ParseDurationField("server.read_timeout", cfg.Server.ReadTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("server.write_timeout", cfg.Server.WriteTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("server.shutdown_timeout", cfg.Server.ShutdownTimeout); err != nil {
		return err
	}

	if cfg.Gateway.Enabled {
		if !strings.HasPrefix(cfg.Gateway.Path, "/") {
			return fmt.Errorf("gateway.path: must start with '/'")
		}
		if cfg.Gateway.SendBuffer < 1 {
			return fmt.Errorf("gateway.send_buffer: must be >= 1")
		}
		if _, err := ParseDurationField("gateway.write_timeout", cfg.Gateway.WriteTimeout); err != nil {
			return err
		}
	}

	switch driver := cfg.StorageDriver(); driver {
	case "none":
	case "file", "sqlite":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return fmt.Errorf("storage.path: required for driver %s", driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", driver)
	}

	if cfg.Maintenance.Enabled {
		if _, err := cron.ParseStandard(cfg.Maintenance.Schedule); err != nil {
			return fmt.Errorf("maintenance.schedule: invalid cron spec %q: %w", cfg.Maintenance.Schedule, err)
		}
		if _, err := ParseDurationField("maintenance.expunge_retention", cfg.Maintenance.ExpungeRetention); err != nil {
			return err
		}
		if _, err := ParseDurationField("maintenance.journal_retention", cfg.Maintenance.JournalRetention); err != nil {
			return err
		}
	}

	if cfg.Notifier != nil && cfg.Notifier.Enabled {
		if strings.TrimSpace(cfg.Notifier.Token) == "" {
			return fmt.Errorf("notifier.token: required when notifier is enabled")
		}
		if cfg.Notifier.ChatID == 0 {
			return fmt.Errorf("notifier.chat_id: required when notifier is enabled")
		}
		for _, st := range cfg.Notifier.States {
			if _, ok := validStates[strings.ToLower(strings.TrimSpace(st))]; !ok {
				return fmt.Errorf("notifier.states: unknown state %q", st)
			}
		}
	}

	if cfg.Pprof.Enabled {
		if _, err := ParseDurationField("pprof.read_timeout", cfg.Pprof.ReadTimeout); err != nil {
			return err
		}
		if _, err := ParseDurationField("pprof.write_timeout", cfg.Pprof.WriteTimeout); err != nil {
			return err
		}
		if _, err := ParseDurationField("pprof.idle_timeout", cfg.Pprof.IdleTimeout); err != nil {
			return err
		}
	}

	if _, ok := validLevels[strings.ToLower(strings.TrimSpace(cfg.Logging.Level))]; !ok {
		return fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level)
	}

	return nil
}
