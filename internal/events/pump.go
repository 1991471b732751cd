// Package events bridges scheduler transition notifications from the
// in-process bus to the persistent journal.
package events

import (
	"context"
	"sync/atomic"

	"github.com/OCR4all/ocr4all-app-msa/internal/eventbus"
	"github.com/OCR4all/ocr4all-app-msa/internal/job"
	"github.com/OCR4all/ocr4all-app-msa/internal/storage"
	logx "github.com/OCR4all/ocr4all-app-msa/pkg/logx"
)

// Pump copies every notification the bus delivers into the journal.
// It is a passive consumer: a failed write is counted and logged, never
// surfaced back to the scheduler.
type Pump struct {
	log     logx.Logger
	journal storage.Journal
	ch      <-chan job.Notification

	written atomic.Uint64
	failed  atomic.Uint64
}

// New subscribes right away when a journal is configured, so transitions
// between construction and Run buffer in the subscription instead of
// getting dropped. The subscription is never taken back; it lives until
// the bus closes at shutdown. A nil journal leaves the pump inert.
func New(log logx.Logger, bus eventbus.Bus, journal storage.Journal, buffer int) *Pump {
	p := &Pump{log: log, journal: journal}
	if journal != nil {
		p.ch, _ = bus.Subscribe("events.journal", buffer)
	}
	return p
}

// Written reports how many notifications reached the journal.
func (p *Pump) Written() uint64 { return p.written.Load() }

// Failed reports how many journal writes were lost.
func (p *Pump) Failed() uint64 { return p.failed.Load() }

// Run drains the subscription until ctx is canceled or the bus closes.
// It is meant to run under a supervisor restart loop; a panic inside a
// journal driver surfaces there and the pump resumes on the same
// subscription, losing nothing across the restart.
func (p *Pump) Run(ctx context.Context) error {
	if p.journal == nil {
		return nil
	}
	p.log.Debug("journal pump started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-p.ch:
			if !ok {
				p.log.Debug("journal pump stopped, bus closed")
				return nil
			}
			p.record(ctx, n)
		}
	}
}

func (p *Pump) record(ctx context.Context, n job.Notification) {
	err := p.journal.Record(ctx, storage.Entry{
		JobID:   n.JobID,
		State:   n.State.String(),
		Key:     n.Key,
		Message: n.Message,
		At:      n.Time,
	})
	if err != nil {
		if f := p.failed.Add(1); f == 1 || f%100 == 0 {
			p.log.Warn("journal write lost",
				logx.Int64("job", n.JobID),
				logx.Uint64("lost", f),
				logx.Err(err))
		}
		return
	}
	p.written.Add(1)
	p.log.Debug("transition journaled",
		logx.Int64("job", n.JobID),
		logx.String("state", n.State.String()))
}
