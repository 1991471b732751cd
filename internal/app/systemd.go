package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "github.com/OCR4all/ocr4all-app-msa/pkg/logx"
)

// sd_notify glue. Every call is a no-op outside a Type=notify systemd
// unit, so nothing here needs to be conditional.

func notifyReady(log logx.Logger) {
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("sd_notify READY failed", logx.Err(err))
	} else if ok {
		log.Debug("sd_notify READY sent")
	}
}

func notifyStopping(log logx.Logger) {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		log.Warn("sd_notify STOPPING failed", logx.Err(err))
	}
}

// startWatchdog feeds the systemd watchdog at half the configured
// interval for the lifetime of the app supervisor.
func (a *App) startWatchdog() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		a.log.Warn("systemd watchdog probe failed", logx.Err(err))
		return
	}
	half := interval / 2
	if half <= 0 {
		return
	}
	a.log.Debug("systemd watchdog enabled", logx.Duration("interval", interval))
	a.sup.Go0("systemd.watchdog", func(ctx context.Context) {
		t := time.NewTicker(half)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	})
}
