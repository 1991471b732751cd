package job

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	logx "github.com/OCR4all/ocr4all-app-msa/pkg/logx"
)

// Scheduler is the facade over the registry and the two worker pools. It is
// an explicit context object: construct one per process and pass it by
// reference, there is no package-level instance.
type Scheduler struct {
	log    logx.Logger
	reg    *registry
	std    *workerPool
	tc     *workerPool
	notify NotifyFunc

	ctx      context.Context
	cancel   context.CancelFunc
	started  time.Time
	stopOnce sync.Once
}

// Information is the scheduler metrics snapshot: when the scheduler came up
// plus per-pool statistics, standard pool first.
type Information struct {
	Start time.Time
	Pools []Stats
}

// NewScheduler builds the registry and both pools and starts the workers.
// A pool size below one fails construction; nothing past construction is
// fatal. notify receives every transition of every admitted job and may be
// nil.
func NewScheduler(standardWorkers, timeConsumingWorkers int, log logx.Logger, notify NotifyFunc) (*Scheduler, error) {
	s := &Scheduler{
		log:     log,
		reg:     newRegistry(),
		notify:  guardNotify(log, notify),
		started: time.Now(),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	var err error
	if s.std, err = newWorkerPool(s.ctx, Standard, standardWorkers, s.execute, log); err != nil {
		s.cancel()
		return nil, err
	}
	if s.tc, err = newWorkerPool(s.ctx, TimeConsuming, timeConsumingWorkers, s.execute, log); err != nil {
		s.std.shutdown()
		s.cancel()
		return nil, err
	}
	s.log.Info("scheduler started",
		logx.Int("pool_standard", standardWorkers),
		logx.Int("pool_time_consuming", timeConsumingWorkers))
	return s, nil
}

// Start admits the job: the registry assigns its id, the admission
// notification goes out and the unit is enqueued on the declared pool. Nil
// and already-admitted jobs are silently ignored. Returns whether the job
// was newly admitted.
func (s *Scheduler) Start(j *Job) bool {
	if j == nil {
		return false
	}
	n, ok := s.reg.admit(j, s.notify)
	if !ok {
		return false
	}
	emit(s.notify, n)
	if !s.poolFor(j.Pool()).submit(j) {
		s.log.Warn("job admitted after shutdown, never executed", logx.Int64("id", n.JobID))
		return true
	}
	s.log.Info("job scheduled",
		logx.Int64("id", n.JobID),
		logx.String("pool", string(j.Pool())),
		logx.String("key", j.Key()))
	return true
}

// Job returns the job with the given id, or an error wrapping ErrNotFound
// when the id is non-positive or unknown.
func (s *Scheduler) Job(id int64) (*Job, error) {
	j, ok := s.reg.get(id)
	if !ok {
		return nil, fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	return j, nil
}

// Jobs lists every registered job ascending by id. Returned jobs are live
// objects; the list itself is an as-of copy.
func (s *Scheduler) Jobs() []*Job { return s.reg.snapshot(nil) }

// JobsKey lists the jobs whose key equals key, ascending by id.
func (s *Scheduler) JobsKey(key string) []*Job {
	return s.reg.snapshot(func(j *Job) bool { return j.Key() == key })
}

// JobsRunning lists every job not yet terminal, ascending by id.
func (s *Scheduler) JobsRunning() []*Job {
	return s.reg.snapshot(func(j *Job) bool { return !j.Done() })
}

// JobsDone lists every terminal job ascending by id.
func (s *Scheduler) JobsDone() []*Job {
	return s.reg.snapshot(func(j *Job) bool { return j.Done() })
}

// Cancel requests cancellation of one job. Unknown ids and done jobs are
// left alone. Returns whether the job changed state.
func (s *Scheduler) Cancel(id int64) bool {
	j, ok := s.reg.get(id)
	if !ok {
		return false
	}
	canceled := j.Cancel()
	if canceled {
		s.log.Info("job canceled", logx.Int64("id", id))
	}
	return canceled
}

// CancelKey cancels every non-done job with the key, reporting how many
// changed state. No-op when none match.
func (s *Scheduler) CancelKey(key string) int {
	n := 0
	for _, j := range s.JobsKey(key) {
		if j.Cancel() {
			n++
		}
	}
	if n > 0 {
		s.log.Info("jobs canceled by key", logx.String("key", key), logx.Int("count", n))
	}
	return n
}

// Expunge removes one job from the registry, true iff it was present and
// done at call time. Non-done jobs stay registered and queryable.
func (s *Scheduler) Expunge(id int64) bool { return s.reg.remove(id) }

// ExpungeKey removes every done job with the key, reporting how many were
// removed.
func (s *Scheduler) ExpungeKey(key string) int {
	n := 0
	for _, j := range s.JobsKey(key) {
		if s.reg.remove(j.ID()) {
			n++
		}
	}
	return n
}

// ExpungeDone removes every done job in one sweep.
func (s *Scheduler) ExpungeDone() int {
	n := s.reg.removeDone()
	if n > 0 {
		s.log.Info("done jobs expunged", logx.Int("count", n))
	}
	return n
}

// Information reports the scheduler start time and per-pool statistics.
// After Shutdown the snapshot is gone for good and an error is returned.
func (s *Scheduler) Information() (Information, error) {
	if s.ctx.Err() != nil {
		return Information{}, fmt.Errorf("scheduler stopped: %w", s.ctx.Err())
	}
	return Information{
		Start: s.started,
		Pools: []Stats{s.std.stats(), s.tc.stats()},
	}, nil
}

// Shutdown abandons both pools: workers stop picking up work, queued and
// in-flight units are not awaited. In-flight units observe a canceled
// context. Idempotent.
func (s *Scheduler) Shutdown() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.std.shutdown()
		s.tc.shutdown()
		s.log.Info("scheduler shut down")
	})
}

func (s *Scheduler) poolFor(p Pool) *workerPool {
	if p == TimeConsuming {
		return s.tc
	}
	return s.std
}

// execute drives one job from running to a terminal state. Unit panics are
// contained here; the worker survives every failure.
func (s *Scheduler) execute(ctx context.Context, j *Job) {
	if !j.begin() {
		// Canceled while queued.
		return
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	stop := context.AfterFunc(j.token.ctx, cancelRun)
	msg, err := s.runUnit(runCtx, j)
	stop()
	cancelRun()

	if err != nil {
		if j.interrupt(err.Error()) {
			s.log.Warn("job interrupted", logx.Int64("id", j.ID()), logx.Err(err))
		}
		return
	}
	if j.complete(msg) {
		s.log.Info("job completed", logx.Int64("id", j.ID()))
	}
}

func (s *Scheduler) runUnit(ctx context.Context, j *Job) (msg string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("job unit panicked",
				logx.Int64("id", j.ID()),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
		}
	}()
	if j.unit == nil {
		return "", nil
	}
	return j.unit.Execute(ctx, j)
}

// guardNotify wraps the injected sink so a panicking sink is logged and
// discarded instead of unwinding a transition.
func guardNotify(log logx.Logger, fn NotifyFunc) NotifyFunc {
	if fn == nil {
		return nil
	}
	return func(n Notification) {
		defer func() {
			if r := recover(); r != nil {
				log.Warn("notification sink panicked",
					logx.Int64("id", n.JobID),
					logx.String("state", string(n.State)),
					logx.Any("panic", r))
			}
		}()
		fn(n)
	}
}
