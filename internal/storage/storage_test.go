package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "github.com/OCR4all/ocr4all-app-msa/pkg/logx"
)

func openTestJournal(t *testing.T, driver string) Journal {
	t.Helper()
	cfg := Config{
		Driver:      driver,
		Path:        filepath.Join(t.TempDir(), "journal.db"),
		BusyTimeout: time.Second,
	}
	j, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("open %s journal: %v", driver, err)
	}
	if j == nil {
		t.Fatalf("open %s journal: got nil", driver)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " None "} {
		j, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || j != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", driver, j, err)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
}

func TestJournalRoundTrip(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			j := openTestJournal(t, driver)
			ctx := context.Background()

			base := time.Now().Add(-time.Hour).Truncate(time.Millisecond)
			states := []string{"scheduled", "running", "completed"}
			for i, st := range states {
				e := Entry{JobID: 7, State: st, Key: "ocr", At: base.Add(time.Duration(i) * time.Minute)}
				if st == "completed" {
					e.Message = "done"
				}
				if err := j.Record(ctx, e); err != nil {
					t.Fatalf("record %s: %v", st, err)
				}
			}
			if err := j.Record(ctx, Entry{JobID: 9, State: "scheduled", At: base}); err != nil {
				t.Fatalf("record: %v", err)
			}

			got, err := j.History(ctx, 7, 10)
			if err != nil {
				t.Fatalf("history: %v", err)
			}
			if len(got) != 3 {
				t.Fatalf("history rows = %d, want 3", len(got))
			}
			want := []string{"completed", "running", "scheduled"}
			for i, st := range want {
				if got[i].State != st || got[i].JobID != 7 || got[i].Key != "ocr" {
					t.Fatalf("row %d = %+v, want state %s of job 7", i, got[i], st)
				}
			}
			if got[0].Message != "done" {
				t.Fatalf("terminal message = %q", got[0].Message)
			}
			if !got[0].At.After(got[2].At) {
				t.Fatal("rows not newest first")
			}

			limited, err := j.History(ctx, 7, 2)
			if err != nil || len(limited) != 2 || limited[0].State != "completed" || limited[1].State != "running" {
				t.Fatalf("limited history = %+v, %v", limited, err)
			}

			none, err := j.History(ctx, 42, 10)
			if err != nil || len(none) != 0 {
				t.Fatalf("history of unknown job = %+v, %v", none, err)
			}

			// Everything older than base+90s goes: two early rows of job 7
			// plus the only row of job 9.
			removed, err := j.PruneBefore(ctx, base.Add(90*time.Second))
			if err != nil {
				t.Fatalf("prune: %v", err)
			}
			if removed != 3 {
				t.Fatalf("pruned %d rows, want 3", removed)
			}
			rest, err := j.History(ctx, 7, 10)
			if err != nil || len(rest) != 1 || rest[0].State != "completed" {
				t.Fatalf("history after prune = %+v, %v", rest, err)
			}
		})
	}
}

func TestFileJournalResumesIDs(t *testing.T) {
	t.Parallel()
	cfg := Config{Driver: "file", Path: filepath.Join(t.TempDir(), "journal.jsonl")}
	ctx := context.Background()

	j, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := j.Record(ctx, Entry{JobID: 1, State: "scheduled"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := j.Record(ctx, Entry{JobID: 1, State: "running"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	hist, err := j.History(ctx, 1, 10)
	if err != nil || len(hist) != 2 {
		t.Fatalf("history = %+v, %v", hist, err)
	}
	lastID := hist[0].ID
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	j2, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j2.Close()
	if err := j2.Record(ctx, Entry{JobID: 1, State: "completed"}); err != nil {
		t.Fatalf("record after reopen: %v", err)
	}
	hist, err = j2.History(ctx, 1, 10)
	if err != nil || len(hist) != 3 {
		t.Fatalf("history after reopen = %+v, %v", hist, err)
	}
	if hist[0].ID != lastID+1 {
		t.Fatalf("row id %d after reopen, want %d", hist[0].ID, lastID+1)
	}
}

func TestRecordStampsZeroTime(t *testing.T) {
	t.Parallel()
	j := openTestJournal(t, "file")
	ctx := context.Background()
	if err := j.Record(ctx, Entry{JobID: 3, State: "scheduled"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	hist, err := j.History(ctx, 3, 1)
	if err != nil || len(hist) != 1 {
		t.Fatalf("history = %+v, %v", hist, err)
	}
	if hist[0].At.IsZero() {
		t.Fatal("zero At not stamped")
	}
}
