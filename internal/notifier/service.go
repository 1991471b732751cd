package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/OCR4all/ocr4all-app-msa/internal/eventbus"
	"github.com/OCR4all/ocr4all-app-msa/internal/job"
	logx "github.com/OCR4all/ocr4all-app-msa/pkg/logx"
)

// ErrDisabled is returned by Start when the notifier is configured off or
// has no token.
var ErrDisabled = errors.New("notifier disabled")

const sendTimeout = 10 * time.Second

// Config controls the alert pipeline.
type Config struct {
	Enabled    bool
	Token      string
	ChatID     int64
	RatePerSec int
	// States selects the alerted transitions by wire name. Empty means
	// interrupted only.
	States []string
}

// Service filters bus notifications and forwards the configured states.
// Safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	bus eventbus.Bus

	cfg     Config
	limiter *rate.Limiter
	states  map[job.State]struct{}
	sender  Sender

	buffer int

	received atomic.Uint64
	sent     atomic.Uint64
	limited  atomic.Uint64
	failed   atomic.Uint64
}

// New builds the service. sender may be nil; Start then constructs the
// Telegram sender from the config.
func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus, buffer int) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, bus: bus, sender: sender, buffer: buffer}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Received counts notifications taken off the bus, wanted or not.
func (s *Service) Received() uint64 { return s.received.Load() }

// Sent counts delivered alerts.
func (s *Service) Sent() uint64 { return s.sent.Load() }

// Limited counts alerts dropped by the rate gate.
func (s *Service) Limited() uint64 { return s.limited.Load() }

// Failed counts alerts the transport rejected.
func (s *Service) Failed() uint64 { return s.failed.Load() }

// Apply installs a reloaded config. States, rate and the enabled flag take
// effect on the next notification; the transport is fixed at Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wasOff := !s.cfg.Enabled
	s.applyLocked(cfg)
	if cfg.Enabled && wasOff && s.sender == nil {
		s.log.Warn("notifier enabled by reload but transport never started; restart required")
	}
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if len(cfg.States) == 0 {
		cfg.States = []string{"interrupted"}
	}
	s.cfg = cfg
	// Burst equals the per-second rate so short spikes pass whole.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.states = parseStates(cfg.States)
}

// Start validates the config and readies the transport. ErrDisabled when
// the notifier is off or has no token; that is a clean skip, not a failure.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || strings.TrimSpace(s.cfg.Token) == "" {
		return ErrDisabled
	}
	if s.sender == nil {
		sender, err := NewTelegramSender(s.cfg.Token, s.cfg.ChatID)
		if err != nil {
			return fmt.Errorf("telegram transport: %w", err)
		}
		s.sender = sender
	}
	return nil
}

// Run forwards bus notifications until ctx is canceled or the bus closes.
func (s *Service) Run(ctx context.Context) error {
	ch, unsub := s.bus.Subscribe("notifier.alerts", s.buffer)
	defer unsub()
	s.log.Debug("notifier started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-ch:
			if !ok {
				return nil
			}
			s.alert(ctx, n)
		}
	}
}

func (s *Service) alert(ctx context.Context, n job.Notification) {
	s.received.Add(1)

	s.mu.Lock()
	enabled := s.cfg.Enabled
	_, wanted := s.states[n.State]
	limiter := s.limiter
	sender := s.sender
	s.mu.Unlock()

	if !enabled || !wanted || sender == nil {
		return
	}
	if !limiter.Allow() {
		if l := s.limited.Add(1); l == 1 || l%100 == 0 {
			s.log.Warn("alerts rate-limited", logx.Uint64("dropped", l))
		}
		return
	}

	sctx, cancel := context.WithTimeout(ctx, sendTimeout)
	err := sender.Send(sctx, formatAlert(n))
	cancel()
	if err != nil {
		s.failed.Add(1)
		s.log.Warn("alert send failed",
			logx.Int64("job", n.JobID),
			logx.String("state", n.State.String()),
			logx.Err(err))
		return
	}
	s.sent.Add(1)
	s.log.Debug("alert sent",
		logx.Int64("job", n.JobID),
		logx.String("state", n.State.String()))
}

func formatAlert(n job.Notification) string {
	var b strings.Builder
	b.WriteString(statePrefix(n.State))
	fmt.Fprintf(&b, "job %d %s", n.JobID, n.State)
	if n.Key != "" {
		fmt.Fprintf(&b, " [%s]", n.Key)
	}
	if n.Message != "" {
		b.WriteString(": ")
		b.WriteString(n.Message)
	}
	return b.String()
}

func statePrefix(st job.State) string {
	switch st {
	case job.Interrupted:
		return "🚨 "
	case job.Canceled:
		return "⚠️ "
	case job.Completed:
		return "✅ "
	default:
		return "ℹ️ "
	}
}

// parseStates maps wire names onto states, skipping unknown names; config
// validation rejects them before a reload reaches Apply.
func parseStates(names []string) map[job.State]struct{} {
	out := make(map[job.State]struct{}, len(names))
	for _, raw := range names {
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "scheduled":
			out[job.Scheduled] = struct{}{}
		case "running":
			out[job.Running] = struct{}{}
		case "completed":
			out[job.Completed] = struct{}{}
		case "canceled":
			out[job.Canceled] = struct{}{}
		case "interrupted":
			out[job.Interrupted] = struct{}{}
		}
	}
	return out
}
