package pprof

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	logx "github.com/OCR4all/ocr4all-app-msa/pkg/logx"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startService(t *testing.T, cfg Config) *Service {
	t.Helper()
	s := New(cfg, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	waitFor(t, "listener up", func() bool { return s.Addr() != "" })
	return s
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		t.Fatalf("GET %s: read body: %v", url, err)
	}
	return resp.StatusCode, string(body)
}

func TestStartDisabled(t *testing.T) {
	s := New(Config{}, logx.Nop())
	if err := s.Start(context.Background()); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Start = %v, want ErrDisabled", err)
	}
}

func TestStartRefusesNonLoopbackWithoutToken(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, logx.Nop())
	err := s.Start(context.Background())
	if err == nil || errors.Is(err, ErrDisabled) {
		t.Fatalf("Start = %v, want insecure bind refusal", err)
	}
	if s.Addr() != "" {
		t.Fatal("listener came up despite the refusal")
	}
}

func TestEndpoints(t *testing.T) {
	s := startService(t, Config{Enabled: true, Addr: "127.0.0.1:0"})
	base := "http://" + s.Addr()

	status, body := get(t, base+"/healthz")
	if status != http.StatusOK || body != "ok" {
		t.Fatalf("healthz = %d %q", status, body)
	}

	status, body = get(t, base+"/debug/pprof/")
	if status != http.StatusOK {
		t.Fatalf("index status = %d", status)
	}
	if !strings.Contains(body, "goroutine") {
		t.Fatalf("index missing profile listing: %q", body)
	}

	// A named profile goes through the prefix rewrite.
	status, body = get(t, base+"/debug/pprof/goroutine?debug=1")
	if status != http.StatusOK {
		t.Fatalf("goroutine profile status = %d", status)
	}
	if !strings.Contains(body, "goroutine") {
		t.Fatalf("goroutine profile body: %q", body)
	}

	status, _ = get(t, base+"/debug/pprof/cmdline")
	if status != http.StatusOK {
		t.Fatalf("cmdline status = %d", status)
	}
}

func TestCustomPrefix(t *testing.T) {
	s := startService(t, Config{Enabled: true, Addr: "127.0.0.1:0", Prefix: "prof"})
	base := "http://" + s.Addr()

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Get(base + "/prof")
	if err != nil {
		t.Fatalf("GET /prof: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusPermanentRedirect {
		t.Fatalf("bare prefix status = %d, want %d", resp.StatusCode, http.StatusPermanentRedirect)
	}
	if loc := resp.Header.Get("Location"); loc != "/prof/" {
		t.Fatalf("redirect location = %q", loc)
	}

	status, body := get(t, base+"/prof/")
	if status != http.StatusOK || !strings.Contains(body, "goroutine") {
		t.Fatalf("index under custom prefix = %d %q", status, body)
	}
}

func TestTokenAuth(t *testing.T) {
	s := startService(t, Config{Enabled: true, Addr: "127.0.0.1:0", Token: "s3cret"})
	base := "http://" + s.Addr()

	resp, err := http.Get(base + "/debug/pprof/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token status = %d, want 401", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") != "Bearer" {
		t.Fatalf("WWW-Authenticate = %q", resp.Header.Get("WWW-Authenticate"))
	}

	// The guard covers every path, liveness included.
	if status, _ := get(t, base+"/healthz"); status != http.StatusUnauthorized {
		t.Fatalf("healthz without token = %d, want 401", status)
	}

	if status, _ := get(t, base+"/debug/pprof/?token=s3cret"); status != http.StatusOK {
		t.Fatalf("query token status = %d, want 200", status)
	}
	if status, _ := get(t, base+"/debug/pprof/?token=nope"); status != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d, want 401", status)
	}

	req, err := http.NewRequest(http.MethodGet, base+"/healthz", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("bearer request: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bearer status = %d, want 200", resp.StatusCode)
	}
}

func TestApplyLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New(Config{}, logx.Nop())
	t.Cleanup(func() {
		c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(c)
	})

	if err := s.Start(ctx); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Start = %v, want ErrDisabled", err)
	}

	on := Config{Enabled: true, Addr: "127.0.0.1:0"}
	if err := s.Apply(ctx, on); err != nil {
		t.Fatalf("Apply enable: %v", err)
	}
	waitFor(t, "listener up", func() bool { return s.Addr() != "" })
	first := s.Addr()

	if err := s.Apply(ctx, on); err != nil {
		t.Fatalf("Apply unchanged: %v", err)
	}
	if got := s.Addr(); got != first {
		t.Fatalf("restarted on identical config: %s -> %s", first, got)
	}

	if err := s.Apply(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", Prefix: "prof"}); err != nil {
		t.Fatalf("Apply reprefix: %v", err)
	}
	waitFor(t, "listener back up", func() bool { return s.Addr() != "" })
	if status, _ := get(t, "http://"+s.Addr()+"/prof/"); status != http.StatusOK {
		t.Fatalf("new prefix status = %d, want 200", status)
	}

	if err := s.Apply(ctx, Config{}); err != nil {
		t.Fatalf("Apply disable: %v", err)
	}
	waitFor(t, "listener down", func() bool { return s.Addr() == "" })
}

func TestNormalizePrefix(t *testing.T) {
	cases := map[string]string{
		"":        DefaultPrefix,
		"/":       DefaultPrefix,
		"prof":    "/prof/",
		"/prof":   "/prof/",
		"prof/":   "/prof/",
		" /dbg/ ": "/dbg/",
	}
	for in, want := range cases {
		if got := normalizePrefix(in); got != want {
			t.Errorf("normalizePrefix(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoopback(t *testing.T) {
	yes := []string{"127.0.0.1:0", "localhost:6060", "[::1]:9"}
	for _, addr := range yes {
		if !loopback(addr) {
			t.Errorf("loopback(%q) = false, want true", addr)
		}
	}
	no := []string{"0.0.0.0:1", ":6060", "example.com:80", "garbage"}
	for _, addr := range no {
		if loopback(addr) {
			t.Errorf("loopback(%q) = true, want false", addr)
		}
	}
}
