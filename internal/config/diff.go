package config

import (
	"reflect"
	"sort"
	"strings"

	logx "github.com/OCR4all/ocr4all-app-msa/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging. Secrets (tokens) are never included; only
// whether they are set.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Server != newCfg.Server {
		changed = append(changed, "server")
		attrs = append(attrs, logx.String("server.addr", strings.TrimSpace(newCfg.Server.Addr)))
	}

	if oldCfg.Gateway != newCfg.Gateway {
		changed = append(changed, "gateway")
		attrs = append(attrs,
			logx.Bool("gateway.enabled", newCfg.Gateway.Enabled),
			logx.String("gateway.path", strings.TrimSpace(newCfg.Gateway.Path)),
			logx.Int("gateway.send_buffer", newCfg.Gateway.SendBuffer),
		)
	}

	// Pool sizes are construction-time constants; surface the change so the
	// app can warn that it is ignored until restart.
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Int("scheduler.pool_size_standard", newCfg.Scheduler.PoolSizeStandard),
			logx.Int("scheduler.pool_size_time_consuming", newCfg.Scheduler.PoolSizeTimeConsuming),
			logx.Bool("scheduler.startup_probe", newCfg.Scheduler.StartupProbeEnabled()),
		)
	}

	if oldCfg.Events != newCfg.Events {
		changed = append(changed, "events")
		attrs = append(attrs, logx.Int("events.bus_buffer", newCfg.Events.BusBuffer))
	}

	// Storage: nil means driver none.
	oldDriver := oldCfg.StorageDriver()
	newDriver := newCfg.StorageDriver()
	var oldPath, newPath, oldBusy, newBusy string
	if oldCfg.Storage != nil {
		oldPath = strings.TrimSpace(oldCfg.Storage.Path)
		oldBusy = strings.TrimSpace(oldCfg.Storage.BusyTimeout)
	}
	if newCfg.Storage != nil {
		newPath = strings.TrimSpace(newCfg.Storage.Path)
		newBusy = strings.TrimSpace(newCfg.Storage.BusyTimeout)
	}
	if oldDriver != newDriver || oldPath != newPath || oldBusy != newBusy {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newDriver),
			logx.Bool("storage.path_set", newPath != ""),
		)
	}

	if oldCfg.Maintenance != newCfg.Maintenance {
		changed = append(changed, "maintenance")
		attrs = append(attrs,
			logx.Bool("maintenance.enabled", newCfg.Maintenance.Enabled),
			logx.String("maintenance.schedule", strings.TrimSpace(newCfg.Maintenance.Schedule)),
			logx.String("maintenance.expunge_retention", strings.TrimSpace(newCfg.Maintenance.ExpungeRetention)),
		)
	}

	// Notifier: nil means disabled. Never log the token itself.
	oldN := oldCfg.Notifier
	newN := newCfg.Notifier
	if (oldN == nil) != (newN == nil) || (oldN != nil && newN != nil && !reflect.DeepEqual(*oldN, *newN)) {
		changed = append(changed, "notifier")
		if newN != nil {
			attrs = append(attrs,
				logx.Bool("notifier.enabled", newN.Enabled),
				logx.Bool("notifier.token_set", strings.TrimSpace(newN.Token) != ""),
				logx.Int("notifier.rate_per_sec", newN.RatePerSec),
				logx.Int("notifier.state_count", len(newN.States)),
			)
		} else {
			attrs = append(attrs, logx.Bool("notifier.enabled", false))
		}
	}

	// Pprof (never log token)
	if oldCfg.Pprof != newCfg.Pprof {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(newCfg.Pprof.Addr)),
			logx.Bool("pprof.token_set", strings.TrimSpace(newCfg.Pprof.Token) != ""),
			logx.Bool("pprof.allow_insecure", newCfg.Pprof.AllowInsecure),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
