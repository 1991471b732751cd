package job

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Unit is the execution contract of a job. Execute runs on a pool worker.
// The context is canceled when the job is canceled or the scheduler shuts
// down; units that may run long should watch it, or poll Job.Canceled, and
// return promptly. The returned message becomes the job's final status
// message.
type Unit interface {
	Execute(ctx context.Context, j *Job) (message string, err error)
}

// UnitFunc adapts a plain function to the Unit interface.
type UnitFunc func(ctx context.Context, j *Job) (string, error)

func (f UnitFunc) Execute(ctx context.Context, j *Job) (string, error) { return f(ctx, j) }

// Notification describes one state transition. Field values are captured
// while the job lock is held, so per-job notifications carry consistent
// payloads in transition order.
type Notification struct {
	JobID   int64
	State   State
	Key     string
	Message string
	Time    time.Time
}

// NotifyFunc receives one Notification per transition. It runs on the
// transitioning goroutine with the job lock held: it must return quickly
// and must not call back into the job or the scheduler. Panics are
// recovered and discarded.
type NotifyFunc func(Notification)

// CancelToken is the advisory cancellation indicator, owned 1:1 by its job.
// Canceled is a lock-free poll with a single writer; Done unblocks
// select-based units. The token never resets.
type CancelToken struct {
	canceled atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
}

func newCancelToken() *CancelToken {
	ctx, cancel := context.WithCancel(context.Background())
	return &CancelToken{ctx: ctx, cancel: cancel}
}

// Canceled reports whether cancellation has been requested.
func (t *CancelToken) Canceled() bool { return t.canceled.Load() }

// Done is closed the first time the job is canceled.
func (t *CancelToken) Done() <-chan struct{} { return t.ctx.Done() }

func (t *CancelToken) trigger() {
	if t.canceled.CompareAndSwap(false, true) {
		t.cancel()
	}
}

// Job is one schedulable unit of asynchronous work. The registry owns set
// membership; the job owns its state, timestamps and message, mutated only
// through transition methods guarded by the job lock. key, description,
// pool, created and the unit are immutable after New.
type Job struct {
	mu sync.Mutex

	id      int64
	state   State
	start   time.Time
	end     time.Time
	message string
	notify  NotifyFunc

	key         string
	description string
	pool        Pool
	created     time.Time
	unit        Unit
	token       *CancelToken
}

// Option configures a job at construction.
type Option func(*Job)

// WithKey attaches the caller-supplied grouping key. Keys are not unique;
// cancel and expunge can address every job sharing one.
func WithKey(key string) Option { return func(j *Job) { j.key = key } }

// WithDescription attaches a human-readable description.
func WithDescription(desc string) Option { return func(j *Job) { j.description = desc } }

// WithPool selects the executing pool. Unknown values keep Standard.
func WithPool(p Pool) Option {
	return func(j *Job) {
		if p.valid() {
			j.pool = p
		}
	}
}

// New creates a job in state initialized. It becomes schedulable through
// Scheduler.Start, which assigns its id.
func New(unit Unit, opts ...Option) *Job {
	j := &Job{
		state:   Initialized,
		pool:    Standard,
		created: time.Now(),
		unit:    unit,
		token:   newCancelToken(),
	}
	for _, o := range opts {
		o(j)
	}
	return j
}

// ID is the registry-assigned id, 0 until the job is admitted.
func (j *Job) ID() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.id
}

func (j *Job) Key() string         { return j.key }
func (j *Job) Description() string { return j.description }
func (j *Job) Pool() Pool          { return j.pool }
func (j *Job) Created() time.Time  { return j.created }

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Start is the running-transition timestamp, zero until the unit begins.
func (j *Job) Start() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.start
}

// End is the terminal-transition timestamp, zero while the job is live.
func (j *Job) End() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.end
}

// Message is the latest human-readable status.
func (j *Job) Message() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.message
}

// SetMessage records a status message. Units may call it while running to
// publish progress; it does not emit a notification.
func (j *Job) SetMessage(m string) {
	j.mu.Lock()
	j.message = m
	j.mu.Unlock()
}

// Admitted reports whether the job is under scheduler control, meaning it
// has left the initialized state.
func (j *Job) Admitted() bool { return j.State() != Initialized }

// Done reports whether the job reached a terminal state.
func (j *Job) Done() bool { return j.State().Terminal() }

// Canceled reports whether cancellation has been requested.
func (j *Job) Canceled() bool { return j.token.Canceled() }

// Token returns the job's cancellation token.
func (j *Job) Token() *CancelToken { return j.token }

// Snapshot is a point-in-time copy of a job's externally visible fields.
// Zero Start/End mean the respective transition has not happened.
type Snapshot struct {
	ID          int64
	Key         string
	Description string
	Pool        Pool
	State       State
	Created     time.Time
	Start       time.Time
	End         time.Time
	Message     string
}

// Snapshot copies the visible fields under one lock acquisition.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Snapshot{
		ID:          j.id,
		Key:         j.key,
		Description: j.description,
		Pool:        j.pool,
		State:       j.state,
		Created:     j.created,
		Start:       j.start,
		End:         j.end,
		Message:     j.message,
	}
}

// Cancel requests cooperative cancellation: from scheduled or running the
// job becomes canceled, its end is stamped and the token fires. Terminal
// and unadmitted jobs are left untouched. The unit, if already running,
// keeps its worker until it observes the token and returns.
func (j *Job) Cancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != Scheduled && j.state != Running {
		return false
	}
	j.state = Canceled
	j.end = time.Now()
	j.token.trigger()
	emit(j.notify, j.notificationLocked())
	return true
}

// admit stamps the id and moves initialized→scheduled. The registry calls
// this with its coarse lock held, so the admission notification is returned
// for delivery after that lock is released instead of being emitted here.
func (j *Job) admit(id int64, notify NotifyFunc) (Notification, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != Initialized {
		return Notification{}, false
	}
	j.id = id
	j.state = Scheduled
	j.notify = notify
	return j.notificationLocked(), true
}

// begin moves scheduled→running and stamps start. False when the job was
// canceled while queued; the worker then skips the unit.
func (j *Job) begin() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != Scheduled {
		return false
	}
	j.state = Running
	j.start = time.Now()
	emit(j.notify, j.notificationLocked())
	return true
}

// complete moves running→completed and stamps end. An empty message keeps
// the last status in place. False when the job is not running anymore,
// typically because it was canceled mid-run.
func (j *Job) complete(message string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != Running {
		return false
	}
	j.state = Completed
	j.end = time.Now()
	if message != "" {
		j.message = message
	}
	emit(j.notify, j.notificationLocked())
	return true
}

// interrupt records a unit failure: from scheduled or running the job
// becomes interrupted with the failure message and a stamped end.
func (j *Job) interrupt(message string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != Scheduled && j.state != Running {
		return false
	}
	j.state = Interrupted
	j.end = time.Now()
	j.message = message
	emit(j.notify, j.notificationLocked())
	return true
}

func (j *Job) notificationLocked() Notification {
	return Notification{
		JobID:   j.id,
		State:   j.state,
		Key:     j.key,
		Message: j.message,
		Time:    time.Now(),
	}
}

// emit delivers one notification. Sink panics are swallowed here so a
// faulty sink can never fail or roll back a transition.
func emit(fn NotifyFunc, n Notification) {
	if fn == nil {
		return
	}
	defer func() { _ = recover() }()
	fn(n)
}
