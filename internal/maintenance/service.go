// Package maintenance runs the periodic housekeeping sweep: aged done jobs
// are expunged from the registry and old journal rows are pruned.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/OCR4all/ocr4all-app-msa/internal/job"
	"github.com/OCR4all/ocr4all-app-msa/internal/storage"
	logx "github.com/OCR4all/ocr4all-app-msa/pkg/logx"
)

// ErrDisabled is returned by Start when the sweep is configured off.
var ErrDisabled = errors.New("maintenance disabled")

// DefaultSchedule runs the sweep every five minutes.
const DefaultSchedule = "*/5 * * * *"

const sweepTimeout = 30 * time.Second

// Config holds the sweep settings. A non-positive retention disables the
// respective half of the sweep.
type Config struct {
	Enabled          bool
	Schedule         string
	ExpungeRetention time.Duration
	JournalRetention time.Duration
}

// Scheduler is the slice of the job scheduler the sweeper drives.
type Scheduler interface {
	JobsDone() []*job.Job
	Expunge(id int64) bool
}

// Service owns the cron instance. journal may be nil; the journal half of
// the sweep is skipped then.
type Service struct {
	mu sync.Mutex

	log       logx.Logger
	cfg       Config
	scheduler Scheduler
	journal   storage.Journal

	parser cron.Parser
	c      *cron.Cron

	sweeps atomic.Uint64
}

func New(cfg Config, log logx.Logger, scheduler Scheduler, journal storage.Journal) *Service {
	return &Service{
		cfg:       cfg,
		log:       log,
		scheduler: scheduler,
		journal:   journal,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Running reports whether the cron is ticking.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

// Sweeps counts completed sweep passes.
func (s *Service) Sweeps() uint64 { return s.sweeps.Load() }

// Start begins ticking on the configured schedule. ErrDisabled when the
// sweep is configured off; a second Start is a no-op.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	if !s.cfg.Enabled {
		return ErrDisabled
	}
	return s.startLocked()
}

func (s *Service) startLocked() error {
	spec := strings.TrimSpace(s.cfg.Schedule)
	if spec == "" {
		spec = DefaultSchedule
	}
	c := cron.New(cron.WithParser(s.parser))
	if _, err := c.AddFunc(spec, s.Sweep); err != nil {
		return fmt.Errorf("maintenance schedule %q: %w", spec, err)
	}
	s.c = c
	c.Start()
	s.log.Info("maintenance started",
		logx.String("schedule", spec),
		logx.Duration("expunge_retention", s.cfg.ExpungeRetention),
		logx.Duration("journal_retention", s.cfg.JournalRetention))
	return nil
}

// Stop halts the cron and waits for an in-flight sweep to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Service) stopLocked() {
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
	s.log.Info("maintenance stopped")
}

// Apply installs a reloaded config. Retentions take effect on the next
// sweep; a schedule change restarts the cron; toggling enabled starts or
// stops it.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg

	switch {
	case s.c == nil && cfg.Enabled:
		return s.startLocked()
	case s.c != nil && !cfg.Enabled:
		s.stopLocked()
	case s.c != nil && old.Schedule != cfg.Schedule:
		s.stopLocked()
		return s.startLocked()
	}
	return nil
}

// Sweep runs one housekeeping pass immediately. The cron calls it on
// schedule; callers may trigger it by hand.
func (s *Service) Sweep() {
	s.mu.Lock()
	expungeRetention := s.cfg.ExpungeRetention
	journalRetention := s.cfg.JournalRetention
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	expunged := s.expungeAged(expungeRetention)
	pruned := s.pruneJournal(ctx, journalRetention)
	if expunged > 0 || pruned > 0 {
		s.log.Info("maintenance sweep",
			logx.Int("expunged", expunged),
			logx.Int64("pruned", pruned))
	}
	s.sweeps.Add(1)
}

func (s *Service) expungeAged(retention time.Duration) int {
	if retention <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-retention)
	n := 0
	for _, j := range s.scheduler.JobsDone() {
		snap := j.Snapshot()
		if snap.End.IsZero() || !snap.End.Before(cutoff) {
			continue
		}
		if s.scheduler.Expunge(snap.ID) {
			n++
		}
	}
	return n
}

func (s *Service) pruneJournal(ctx context.Context, retention time.Duration) int64 {
	if retention <= 0 || s.journal == nil {
		return 0
	}
	removed, err := s.journal.PruneBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		s.log.Warn("journal prune failed", logx.Err(err))
		return 0
	}
	return removed
}
