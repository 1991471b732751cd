// Package api serves the scheduler REST surface. Every operation rides GET,
// mutating ones included; that is the upstream contract and clients depend
// on it.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/OCR4all/ocr4all-app-msa/internal/job"
	"github.com/OCR4all/ocr4all-app-msa/internal/storage"
	logx "github.com/OCR4all/ocr4all-app-msa/pkg/logx"
)

// BasePath prefixes every scheduler route.
const BasePath = "/api/v1.0/scheduler"

// Scheduler is the slice of the job scheduler the API needs.
type Scheduler interface {
	Job(id int64) (*job.Job, error)
	Jobs() []*job.Job
	JobsKey(key string) []*job.Job
	JobsRunning() []*job.Job
	JobsDone() []*job.Job
	Cancel(id int64) bool
	CancelKey(key string) int
	Expunge(id int64) bool
	ExpungeKey(key string) int
	ExpungeDone() int
	Information() (job.Information, error)
}

// API holds the route handlers. journal may be nil when the transition
// journal is disabled; history then answers with an empty list.
type API struct {
	log       logx.Logger
	scheduler Scheduler
	journal   storage.Journal
}

func NewAPI(log logx.Logger, scheduler Scheduler, journal storage.Journal) *API {
	return &API{log: log, scheduler: scheduler, journal: journal}
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+BasePath+"/ping", a.ping)
	mux.HandleFunc("GET "+BasePath+"/information", a.information)
	mux.HandleFunc("GET "+BasePath+"/job/{id}", a.job)
	mux.HandleFunc("GET "+BasePath+"/job/{id}/history", a.jobHistory)
	mux.HandleFunc("GET "+BasePath+"/jobs", a.jobsKey)
	mux.HandleFunc("GET "+BasePath+"/jobs/all", a.jobsAll)
	mux.HandleFunc("GET "+BasePath+"/jobs/running", a.jobsRunning)
	mux.HandleFunc("GET "+BasePath+"/jobs/done", a.jobsDone)
	mux.HandleFunc("GET "+BasePath+"/cancel", a.cancelKey)
	mux.HandleFunc("GET "+BasePath+"/cancel/{id}", a.cancel)
	mux.HandleFunc("GET "+BasePath+"/expunge", a.expungeKey)
	mux.HandleFunc("GET "+BasePath+"/expunge/done", a.expungeDone)
	mux.HandleFunc("GET "+BasePath+"/expunge/{id}", a.expunge)
}

func (a *API) ping(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (a *API) information(w http.ResponseWriter, r *http.Request) {
	info, err := a.scheduler.Information()
	if err != nil {
		a.respondError(w, http.StatusServiceUnavailable, "scheduler information unavailable", err.Error())
		return
	}
	a.respondJSON(w, http.StatusOK, toInformationResponse(info))
}

// job handles GET /job/{id}. An unknown id is a client error here, matching
// the upstream behavior.
func (a *API) job(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid job id", err.Error())
		return
	}
	j, err := a.scheduler.Job(id)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "unknown job", err.Error())
		return
	}
	a.respondJSON(w, http.StatusOK, toJobResponse(j))
}

// jobHistory handles GET /job/{id}/history. The job must still be
// registered; rows of expunged jobs are reachable only through the journal
// files themselves.
func (a *API) jobHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid job id", err.Error())
		return
	}
	if _, err := a.scheduler.Job(id); err != nil {
		a.respondError(w, http.StatusBadRequest, "unknown job", err.Error())
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			a.respondError(w, http.StatusBadRequest, "invalid limit", fmt.Sprintf("limit %q: want a non-negative integer", raw))
			return
		}
	}

	if a.journal == nil {
		a.respondJSON(w, http.StatusOK, []HistoryRow{})
		return
	}
	entries, err := a.journal.History(r.Context(), id, limit)
	if err != nil {
		a.log.Error("history query failed", logx.Int64("job", id), logx.Err(err))
		a.respondError(w, http.StatusInternalServerError, "history query failed", "")
		return
	}
	a.respondJSON(w, http.StatusOK, toHistoryRows(entries))
}

func (a *API) jobsAll(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, http.StatusOK, toJobResponses(a.scheduler.Jobs()))
}

func (a *API) jobsRunning(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, http.StatusOK, toJobResponses(a.scheduler.JobsRunning()))
}

func (a *API) jobsDone(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, http.StatusOK, toJobResponses(a.scheduler.JobsDone()))
}

func (a *API) jobsKey(w http.ResponseWriter, r *http.Request) {
	key, ok := queryKey(r)
	if !ok {
		a.respondError(w, http.StatusBadRequest, "key parameter required", "")
		return
	}
	a.respondJSON(w, http.StatusOK, toJobResponses(a.scheduler.JobsKey(key)))
}

// cancel handles GET /cancel/{id}. Absent and already-done jobs are a
// silent no-op: the response is 200 either way.
func (a *API) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid job id", err.Error())
		return
	}
	a.scheduler.Cancel(id)
	w.WriteHeader(http.StatusOK)
}

func (a *API) cancelKey(w http.ResponseWriter, r *http.Request) {
	key, ok := queryKey(r)
	if !ok {
		a.respondError(w, http.StatusBadRequest, "key parameter required", "")
		return
	}
	a.scheduler.CancelKey(key)
	w.WriteHeader(http.StatusOK)
}

func (a *API) expunge(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid job id", err.Error())
		return
	}
	a.scheduler.Expunge(id)
	w.WriteHeader(http.StatusOK)
}

func (a *API) expungeKey(w http.ResponseWriter, r *http.Request) {
	key, ok := queryKey(r)
	if !ok {
		a.respondError(w, http.StatusBadRequest, "key parameter required", "")
		return
	}
	a.scheduler.ExpungeKey(key)
	w.WriteHeader(http.StatusOK)
}

func (a *API) expungeDone(w http.ResponseWriter, r *http.Request) {
	a.scheduler.ExpungeDone()
	w.WriteHeader(http.StatusOK)
}

// pathID parses the {id} segment. Ids are positive by construction, so
// anything else is rejected before touching the scheduler.
func pathID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("job id %q: want a positive integer", raw)
	}
	return id, nil
}

// queryKey reads the required key parameter. An empty value counts as
// provided; only a missing parameter fails.
func queryKey(r *http.Request) (string, bool) {
	q := r.URL.Query()
	if !q.Has("key") {
		return "", false
	}
	return q.Get("key"), true
}

func (a *API) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.log.Debug("response write failed", logx.Err(err))
	}
}

func (a *API) respondError(w http.ResponseWriter, statusCode int, error string, message string) {
	a.respondJSON(w, statusCode, ErrorResponse{
		Error:   error,
		Message: message,
		Code:    statusCode,
	})
}

// Config holds the listener settings. Zero timeouts fall back to defaults.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

const (
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 15 * time.Second
	idleTimeout         = 60 * time.Second
)

// Mount attaches an extra handler at its own path, the WebSocket gateway in
// practice.
type Mount struct {
	Path    string
	Handler http.Handler
}

// NewServer wires routes, mounts and middleware into an http.Server. The
// caller owns ListenAndServe and Shutdown.
func NewServer(cfg Config, a *API, log logx.Logger, mounts ...Mount) *http.Server {
	mux := http.NewServeMux()
	a.RegisterRoutes(mux)
	for _, m := range mounts {
		mux.Handle("GET "+m.Path, m.Handler)
	}

	handler := ChainMiddleware(
		mux,
		RecoveryMiddleware(log),
		LoggingMiddleware(log),
	)

	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  idleTimeout,
	}
}
