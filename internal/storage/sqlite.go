package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "github.com/OCR4all/ocr4all-app-msa/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteJournal struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Journal, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	j := &sqliteJournal{db: db, log: log}
	if err := j.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("journal opened", logx.String("driver", "sqlite"), logx.String("path", cfg.Path))
	return j, nil
}

func (j *sqliteJournal) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = j.db.ExecContext(ctx, string(b))
	return err
}

func (j *sqliteJournal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *sqliteJournal) Record(ctx context.Context, e Entry) error {
	if j == nil || j.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO job_events(job_id, state, key, message, at) VALUES(?,?,?,?,?)`,
		e.JobID, e.State, nullStr(e.Key), nullStr(e.Message), e.At.UnixMilli(),
	)
	return err
}

func (j *sqliteJournal) History(ctx context.Context, jobID int64, limit int) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, job_id, state, COALESCE(key,''), COALESCE(message,''), at
		 FROM job_events WHERE job_id = ? ORDER BY id DESC LIMIT ?`,
		jobID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ms int64
		if err := rows.Scan(&e.ID, &e.JobID, &e.State, &e.Key, &e.Message, &ms); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (j *sqliteJournal) PruneBefore(ctx context.Context, t time.Time) (int64, error) {
	if j == nil || j.db == nil {
		return 0, ErrDisabled
	}
	res, err := j.db.ExecContext(ctx, `DELETE FROM job_events WHERE at < ?`, t.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
