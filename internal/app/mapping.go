package app

import (
	"github.com/OCR4all/ocr4all-app-msa/internal/api"
	"github.com/OCR4all/ocr4all-app-msa/internal/config"
	"github.com/OCR4all/ocr4all-app-msa/internal/gateway"
	"github.com/OCR4all/ocr4all-app-msa/internal/maintenance"
	"github.com/OCR4all/ocr4all-app-msa/internal/notifier"
	"github.com/OCR4all/ocr4all-app-msa/internal/observability/pprof"
	"github.com/OCR4all/ocr4all-app-msa/internal/storage"
)

// The config file carries durations as strings; these mappings parse them
// into each component's typed config.

func mapServerConfig(cfg *config.Config) (api.Config, error) {
	rt, err := config.ParseDurationField("server.read_timeout", cfg.Server.ReadTimeout)
	if err != nil {
		return api.Config{}, err
	}
	wt, err := config.ParseDurationField("server.write_timeout", cfg.Server.WriteTimeout)
	if err != nil {
		return api.Config{}, err
	}
	return api.Config{Addr: cfg.Server.Addr, ReadTimeout: rt, WriteTimeout: wt}, nil
}

func mapGatewayConfig(cfg *config.Config) (gateway.Config, error) {
	wt, err := config.ParseDurationField("gateway.write_timeout", cfg.Gateway.WriteTimeout)
	if err != nil {
		return gateway.Config{}, err
	}
	return gateway.Config{
		SendBuffer:   cfg.Gateway.SendBuffer,
		WriteTimeout: wt,
		BusBuffer:    cfg.Events.BusBuffer,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{}, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func mapMaintenanceConfig(cfg *config.Config) (maintenance.Config, error) {
	er, err := config.ParseDurationField("maintenance.expunge_retention", cfg.Maintenance.ExpungeRetention)
	if err != nil {
		return maintenance.Config{}, err
	}
	jr, err := config.ParseDurationField("maintenance.journal_retention", cfg.Maintenance.JournalRetention)
	if err != nil {
		return maintenance.Config{}, err
	}
	return maintenance.Config{
		Enabled:          cfg.Maintenance.Enabled,
		Schedule:         cfg.Maintenance.Schedule,
		ExpungeRetention: er,
		JournalRetention: jr,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	n := cfg.Notifier
	if n == nil {
		return notifier.Config{}
	}
	return notifier.Config{
		Enabled:    n.Enabled,
		Token:      n.Token,
		ChatID:     n.ChatID,
		RatePerSec: n.RatePerSec,
		States:     append([]string(nil), n.States...),
	}
}

func mapPprofConfig(cfg *config.Config) (pprof.Config, error) {
	p := cfg.Pprof
	rt, err := config.ParseDurationField("pprof.read_timeout", p.ReadTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	wt, err := config.ParseDurationField("pprof.write_timeout", p.WriteTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	it, err := config.ParseDurationField("pprof.idle_timeout", p.IdleTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	return pprof.Config{
		Enabled:              p.Enabled,
		Addr:                 p.Addr,
		Prefix:               p.Prefix,
		Token:                p.Token,
		AllowInsecure:        p.AllowInsecure,
		ReadTimeout:          rt,
		WriteTimeout:         wt,
		IdleTimeout:          it,
		MutexProfileFraction: p.MutexProfileFraction,
		BlockProfileRate:     p.BlockProfileRate,
		MemProfileRate:       p.MemProfileRate,
	}, nil
}
