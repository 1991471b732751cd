package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "github.com/OCR4all/ocr4all-app-msa/pkg/logx"
)

// Journal is the persistence API for transition history.
type Journal interface {
	// Record appends one transition. A zero At is stamped with now.
	Record(ctx context.Context, e Entry) error
	// History lists the rows of one job, newest first, at most limit rows
	// (a non-positive limit means a driver default).
	History(ctx context.Context, jobID int64, limit int) ([]Entry, error)
	// PruneBefore removes rows older than t, reporting how many went.
	PruneBefore(ctx context.Context, t time.Time) (int64, error)
	Close() error
}

// Open initializes the configured journal.
// It returns (nil, nil) if the journal is disabled.
func Open(cfg Config, log logx.Logger) (Journal, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown journal driver: " + driver)
	}
}
