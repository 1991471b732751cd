package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/OCR4all/ocr4all-app-msa/internal/eventbus"
	"github.com/OCR4all/ocr4all-app-msa/internal/job"
	"github.com/OCR4all/ocr4all-app-msa/internal/storage"
	logx "github.com/OCR4all/ocr4all-app-msa/pkg/logx"
)

type fakeJournal struct {
	mu      sync.Mutex
	entries []storage.Entry
	fail    bool
}

func (f *fakeJournal) Record(_ context.Context, e storage.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("disk full")
	}
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeJournal) History(context.Context, int64, int) ([]storage.Entry, error) {
	return nil, nil
}

func (f *fakeJournal) PruneBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func (f *fakeJournal) Close() error { return nil }

func (f *fakeJournal) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

func (f *fakeJournal) snapshot() []storage.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]storage.Entry, len(f.entries))
	copy(out, f.entries)
	return out
}

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

func startPump(t *testing.T, p *Pump) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	ch := make(chan error, 1)
	go func() { ch <- p.Run(ctx) }()
	t.Cleanup(stop)
	return stop, ch
}

func TestPumpWritesNotifications(t *testing.T) {
	t.Parallel()
	bus := eventbus.New(logx.Nop())
	jr := &fakeJournal{}
	p := New(logx.Nop(), bus, jr, 8)
	cancel, done := startPump(t, p)
	waitFor(t, "subscription", func() bool { return bus.Subscribers() == 1 })

	at := time.Now()
	bus.Publish(job.Notification{JobID: 7, State: job.Scheduled, Key: "ocr", Time: at})
	bus.Publish(job.Notification{JobID: 7, State: job.Running, Key: "ocr", Time: at})
	bus.Publish(job.Notification{JobID: 7, State: job.Completed, Key: "ocr", Message: "done", Time: at})

	waitFor(t, "journal writes", func() bool { return len(jr.snapshot()) == 3 })
	got := jr.snapshot()
	if got[0].State != "scheduled" || got[1].State != "running" || got[2].State != "completed" {
		t.Fatalf("states = %q %q %q", got[0].State, got[1].State, got[2].State)
	}
	for i, e := range got {
		if e.JobID != 7 || e.Key != "ocr" || !e.At.Equal(at) {
			t.Fatalf("entry %d = %+v", i, e)
		}
	}
	if got[2].Message != "done" {
		t.Fatalf("terminal message = %q", got[2].Message)
	}
	if p.Written() != 3 || p.Failed() != 0 {
		t.Fatalf("written %d failed %d", p.Written(), p.Failed())
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("run returned %v", err)
	}
}

func TestPumpDisabledWithoutJournal(t *testing.T) {
	t.Parallel()
	bus := eventbus.New(logx.Nop())
	p := New(logx.Nop(), bus, nil, 8)
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run without journal: %v", err)
	}
}

func TestPumpStopsWhenBusCloses(t *testing.T) {
	t.Parallel()
	bus := eventbus.New(logx.Nop())
	p := New(logx.Nop(), bus, &fakeJournal{}, 8)
	_, done := startPump(t, p)
	waitFor(t, "subscription", func() bool { return bus.Subscribers() == 1 })

	bus.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not stop on bus close")
	}
}

func TestPumpSurvivesWriteFailures(t *testing.T) {
	t.Parallel()
	bus := eventbus.New(logx.Nop())
	jr := &fakeJournal{}
	jr.setFail(true)
	p := New(logx.Nop(), bus, jr, 8)
	startPump(t, p)
	waitFor(t, "subscription", func() bool { return bus.Subscribers() == 1 })

	bus.Publish(job.Notification{JobID: 1, State: job.Scheduled})
	bus.Publish(job.Notification{JobID: 1, State: job.Running})
	waitFor(t, "failed writes", func() bool { return p.Failed() == 2 })
	if len(jr.snapshot()) != 0 {
		t.Fatalf("entries written despite failures: %d", len(jr.snapshot()))
	}

	jr.setFail(false)
	bus.Publish(job.Notification{JobID: 1, State: job.Completed})
	waitFor(t, "recovery write", func() bool { return p.Written() == 1 })
}
