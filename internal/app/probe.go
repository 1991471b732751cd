package app

import (
	"context"

	"github.com/OCR4all/ocr4all-app-msa/internal/job"
	logx "github.com/OCR4all/ocr4all-app-msa/pkg/logx"
)

// startupProbe admits one trivial job per pool, proving the admission
// path and the event pipeline end to end. The probes complete immediately
// and stay visible in the done listing until expunged.
func (a *App) startupProbe() {
	for _, p := range []job.Pool{job.Standard, job.TimeConsuming} {
		j := job.New(
			job.UnitFunc(func(context.Context, *job.Job) (string, error) {
				return "ok", nil
			}),
			job.WithKey("msa"),
			job.WithDescription("startup probe"),
			job.WithPool(p),
		)
		if !a.sched.Start(j) {
			a.log.Warn("startup probe not admitted", logx.String("pool", p.DisplayName()))
			continue
		}
		a.log.Debug("startup probe admitted",
			logx.Int64("job", j.ID()),
			logx.String("pool", p.DisplayName()))
	}
}
