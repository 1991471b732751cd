package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "github.com/OCR4all/ocr4all-app-msa/pkg/logx"
)

// fileJournal is a dependency-free journal backend: one JSON document per
// line, appended in transition order. Reads scan the whole file, which fits
// the journal's write-mostly profile; large archives belong on the sqlite
// driver.
type fileJournal struct {
	log  logx.Logger
	path string

	mu  sync.Mutex
	f   *os.File
	seq int64
}

type fileRecord struct {
	ID      int64  `json:"id"`
	JobID   int64  `json:"job-id"`
	State   string `json:"state"`
	Key     string `json:"key,omitempty"`
	Message string `json:"message,omitempty"`
	At      int64  `json:"at"` // unix milli
}

func openFile(cfg Config, log logx.Logger) (Journal, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	j := &fileJournal{log: log, path: path, f: f}

	// Resume row ids across restarts.
	seq, err := scanLastID(path)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	j.seq = seq

	log.Info("journal opened", logx.String("driver", "file"), logx.String("path", path))
	return j, nil
}

func (j *fileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}

func (j *fileJournal) Record(ctx context.Context, e Entry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return errors.New("journal file closed")
	}
	j.seq++
	rec := fileRecord{
		ID:      j.seq,
		JobID:   e.JobID,
		State:   e.State,
		Key:     e.Key,
		Message: e.Message,
		At:      e.At.UnixMilli(),
	}
	if err := json.NewEncoder(j.f).Encode(rec); err != nil {
		j.seq--
		return err
	}
	return nil
}

func (j *fileJournal) History(ctx context.Context, jobID int64, limit int) ([]Entry, error) {
	_ = ctx
	if limit <= 0 {
		limit = 100
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil, errors.New("journal file closed")
	}

	var matches []Entry
	err := scanRecords(j.path, func(r fileRecord) {
		if r.JobID == jobID {
			matches = append(matches, entryOf(r))
		}
	})
	if err != nil {
		return nil, err
	}

	// Newest first, trimmed to limit.
	if len(matches) > limit {
		matches = matches[len(matches)-limit:]
	}
	for l, r := 0, len(matches)-1; l < r; l, r = l+1, r-1 {
		matches[l], matches[r] = matches[r], matches[l]
	}
	return matches, nil
}

func (j *fileJournal) PruneBefore(ctx context.Context, t time.Time) (int64, error) {
	_ = ctx
	cutoff := t.UnixMilli()

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return 0, errors.New("journal file closed")
	}

	// Rewrite retained lines to a sibling file, then swap it in.
	tmp := j.path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(out)
	var removed int64
	var encErr error
	err = scanRecords(j.path, func(r fileRecord) {
		if r.At < cutoff {
			removed++
			return
		}
		if e := enc.Encode(r); e != nil && encErr == nil {
			encErr = e
		}
	})
	if err == nil {
		err = encErr
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}

	if err := j.f.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp, j.path); err != nil {
		j.f = nil
		return 0, err
	}
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		j.f = nil
		return 0, err
	}
	j.f = f
	return removed, nil
}

func entryOf(r fileRecord) Entry {
	return Entry{
		ID:      r.ID,
		JobID:   r.JobID,
		State:   r.State,
		Key:     r.Key,
		Message: r.Message,
		At:      time.UnixMilli(r.At),
	}
}

// scanRecords streams every well-formed line; torn or foreign lines are
// skipped.
func scanRecords(path string, fn func(fileRecord)) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	for s.Scan() {
		var r fileRecord
		if err := json.Unmarshal(s.Bytes(), &r); err != nil {
			continue
		}
		if r.ID == 0 && r.JobID == 0 {
			continue
		}
		fn(r)
	}
	return s.Err()
}

func scanLastID(path string) (int64, error) {
	var last int64
	err := scanRecords(path, func(r fileRecord) {
		if r.ID > last {
			last = r.ID
		}
	})
	return last, err
}
