// Package pprof runs the runtime profiling endpoints on their own
// listener so profiles never share a port with the public API.
package pprof

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"runtime"
	"strings"
	"sync"
	"time"

	supervisor "github.com/OCR4all/ocr4all-app-msa/internal/runtime/supervisor"
	logx "github.com/OCR4all/ocr4all-app-msa/pkg/logx"
)

// ErrDisabled is returned by Start when the listener is configured off.
var ErrDisabled = errors.New("pprof disabled")

const (
	DefaultAddr   = "127.0.0.1:6060"
	DefaultPrefix = "/debug/pprof/"
)

// Config controls the debug listener.
//
// A non-loopback Addr is refused unless a Token is set or AllowInsecure
// opts in explicitly.
type Config struct {
	Enabled       bool
	Addr          string
	Prefix        string
	Token         string
	AllowInsecure bool

	// WriteTimeout should stay zero: /profile holds the response open for
	// the full sample window.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Runtime sampling rates. Zero keeps the defaults.
	MutexProfileFraction int
	BlockProfileRate     int
	MemProfileRate       int
}

// Service owns the debug HTTP server. The serve loop runs under a
// supervisor restart loop so a dropped listener re-binds on its own.
type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config

	ln  net.Listener
	srv *http.Server
	sup *supervisor.Supervisor
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Addr reports the bound listen address, or "" while the server is down.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Start brings the listener up. Idempotent; returns ErrDisabled when the
// config has the listener off. Config errors are permanent, so they are
// reported here instead of being retried by the serve loop.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx)
}

func (s *Service) startLocked(ctx context.Context) error {
	if s.sup != nil {
		return nil
	}
	cfg := s.cfg
	if !cfg.Enabled {
		return ErrDisabled
	}
	applyRuntimeRates(cfg)

	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = DefaultAddr
	}
	if !loopback(addr) && strings.TrimSpace(cfg.Token) == "" {
		if !cfg.AllowInsecure {
			return fmt.Errorf("pprof addr %q is not loopback: set a token or allow_insecure", addr)
		}
		s.log.Warn("pprof reachable without a token", logx.String("addr", addr))
	}

	s.sup = supervisor.New(ctx,
		supervisor.WithLogger(s.log.With(logx.String("comp", "pprof"))),
		supervisor.WithCancelOnError(false),
	)
	s.sup.GoRestart("pprof.serve", func(c context.Context) error {
		return s.serve(c, cfg, addr)
	}, supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	return nil
}

// Stop shuts the server down and waits for the serve loop, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	sup, srv, ln := s.sup, s.srv, s.ln
	s.sup, s.srv, s.ln = nil, nil, nil
	s.mu.Unlock()
	if sup == nil {
		return
	}

	// Cancel first so the restart loop cannot re-bind behind the shutdown.
	sup.Cancel()
	if srv != nil {
		_ = srv.Shutdown(ctx)
		_ = srv.Close()
	}
	if ln != nil {
		_ = ln.Close()
	}
	_ = sup.Wait(ctx)
	s.log.Info("pprof stopped")
}

// Apply reacts to a config reload: profiling rates take effect in place,
// the server starts, stops, or restarts as the listener identity demands.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	applyRuntimeRates(cfg)

	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.sup != nil
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
		return nil
	case !running:
		return s.Start(ctx)
	case identityChanged(prev, cfg):
		s.Stop(ctx)
		return s.Start(ctx)
	}
	return nil
}

func identityChanged(a, b Config) bool {
	return a.Addr != b.Addr ||
		normalizePrefix(a.Prefix) != normalizePrefix(b.Prefix) ||
		a.Token != b.Token ||
		a.AllowInsecure != b.AllowInsecure ||
		a.ReadTimeout != b.ReadTimeout ||
		a.WriteTimeout != b.WriteTimeout ||
		a.IdleTimeout != b.IdleTimeout
}

// Zero is a real value for mutex and block profiling (off, the runtime
// default). MemProfileRate treats zero as unset instead, since writing
// zero would turn heap profiling off entirely.
func applyRuntimeRates(cfg Config) {
	if cfg.MutexProfileFraction >= 0 {
		runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)
	}
	if cfg.BlockProfileRate >= 0 {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}
	if cfg.MemProfileRate > 0 {
		runtime.MemProfileRate = cfg.MemProfileRate
	}
}

// serve binds, serves until the context is canceled, and reports anything
// else as an error so the supervisor re-runs it.
func (s *Service) serve(ctx context.Context, cfg Config, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		s.log.Error("pprof listen failed", logx.String("addr", addr), logx.Err(err))
		return err
	}
	defer func() { _ = ln.Close() }()

	prefix := normalizePrefix(cfg.Prefix)
	srv := &http.Server{
		Handler:      s.handler(cfg, prefix),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	defer func() { _ = srv.Close() }()

	s.mu.Lock()
	s.ln, s.srv = ln, srv
	s.mu.Unlock()

	// Stop does the deadline-bound shutdown; this hook only covers the
	// supervisor context dying on its own.
	unhook := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	})
	defer unhook()

	s.log.Info("pprof listening",
		logx.String("addr", ln.Addr().String()),
		logx.String("prefix", prefix),
		logx.Bool("token_set", strings.TrimSpace(cfg.Token) != ""),
	)

	err = srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.ln, s.srv = nil, nil
	}
	s.mu.Unlock()

	if ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("pprof server closed unexpectedly")
	}
	return err
}

// handler mounts the profile endpoints under the configured prefix. The
// token guard wraps the whole mux, unknown paths included.
func (s *Service) handler(cfg Config, prefix string) http.Handler {
	base := strings.TrimSuffix(prefix, "/")

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle(prefix, indexAt(prefix))
	mux.HandleFunc(base+"/cmdline", hpprof.Cmdline)
	mux.HandleFunc(base+"/profile", hpprof.Profile)
	mux.HandleFunc(base+"/symbol", hpprof.Symbol)
	mux.HandleFunc(base+"/trace", hpprof.Trace)
	mux.HandleFunc(base, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, prefix, http.StatusPermanentRedirect)
	})
	return withToken(cfg.Token, mux)
}

func withToken(token string, next http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") == tok || bearerToken(r) == tok {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}

func bearerToken(r *http.Request) string {
	const scheme = "Bearer "
	ah := r.Header.Get("Authorization")
	if !strings.HasPrefix(ah, scheme) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(ah, scheme))
}

// Index resolves profile names relative to /debug/pprof/; a custom prefix
// is mapped back before delegating so the links keep working.
func indexAt(prefix string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, prefix)
		clone := r.Clone(r.Context())
		clone.URL.Path = "/debug/pprof/" + rest
		hpprof.Index(w, clone)
	})
}

func normalizePrefix(p string) string {
	p = strings.TrimSpace(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	// Mounting at the root would leave no pattern for the redirect.
	if p == "/" {
		return DefaultPrefix
	}
	return p
}

func loopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
