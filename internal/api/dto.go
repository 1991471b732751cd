package api

import (
	"time"
)

// JobResponse is the wire form of one job. Key names follow the upstream
// kebab-case contract; start and end are omitted until the job reaches them.
type JobResponse struct {
	ID          int64      `json:"id"`
	State       string     `json:"state"`
	Created     time.Time  `json:"created-time"`
	Start       *time.Time `json:"start-time,omitempty"`
	End         *time.Time `json:"end-time,omitempty"`
	Pool        string     `json:"thread-pool"`
	Key         string     `json:"key"`
	Description string     `json:"description"`
	Message     string     `json:"message"`
}

type InformationResponse struct {
	Start time.Time      `json:"start-time"`
	Pools []PoolResponse `json:"thread-pools"`
}

type PoolResponse struct {
	Name     string `json:"name"`
	Prefix   string `json:"prefix"`
	Active   int    `json:"active-threads"`
	CoreSize int    `json:"core-pool-size"`
}

// HistoryRow is one journal entry of a job, newest first in responses.
type HistoryRow struct {
	ID      int64     `json:"id"`
	JobID   int64     `json:"job-id"`
	State   string    `json:"state"`
	Key     string    `json:"key"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}
