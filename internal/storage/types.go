package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("journal disabled")

// Config configures the transition journal.
//
// Driver values:
//   - "file": dependency-free JSON Lines journal
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", the journal is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Entry is one journal row: a single job state transition.
// Keep it compact and schema-stable.
type Entry struct {
	ID      int64 // row id, assigned by the driver
	JobID   int64
	State   string
	Key     string
	Message string
	At      time.Time
}
