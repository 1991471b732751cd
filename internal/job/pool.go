package job

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	logx "github.com/OCR4all/ocr4all-app-msa/pkg/logx"
)

// Pool selects which worker pool executes a job. The constant values are
// wire names used in REST payloads and the journal.
type Pool string

const (
	// Standard runs short work.
	Standard Pool = "standard"
	// TimeConsuming runs long work such as recognition or training runs.
	TimeConsuming Pool = "timeConsuming"
)

func (p Pool) valid() bool { return p == Standard || p == TimeConsuming }

// Label is the compact pool tag used in worker names and logs.
func (p Pool) Label() string {
	if p == TimeConsuming {
		return "tc"
	}
	return "std"
}

// ThreadPrefix names pool workers: job-std-0, job-tc-1, ...
func (p Pool) ThreadPrefix() string { return "job-" + p.Label() + "-" }

// DisplayName is the human-readable pool name in information snapshots.
func (p Pool) DisplayName() string {
	if p == TimeConsuming {
		return "time consuming"
	}
	return "standard"
}

// Stats is a point-in-time pool snapshot. Active counts workers currently
// executing a unit; Queued is the backlog depth.
type Stats struct {
	Pool         Pool
	Name         string
	ThreadPrefix string
	Active       int
	CoreSize     int
	Queued       int
}

// workerPool runs jobs on a fixed set of workers fed from an unbounded FIFO
// backlog. submit never blocks and never rejects: sustained overload grows
// the backlog without bound, a deliberate capacity trade-off. shutdown
// abandons queued and in-flight work.
type workerPool struct {
	pool Pool
	size int
	run  func(ctx context.Context, j *Job)
	log  logx.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*Job
	head   int
	closed bool

	active int64
}

func newWorkerPool(ctx context.Context, p Pool, size int, run func(context.Context, *Job), log logx.Logger) (*workerPool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool %s: core size %d, want at least 1", p, size)
	}
	wp := &workerPool{pool: p, size: size, run: run, log: log}
	wp.cond = sync.NewCond(&wp.mu)
	for i := 0; i < size; i++ {
		go wp.worker(ctx, p.ThreadPrefix()+strconv.Itoa(i))
	}
	return wp, nil
}

func (p *workerPool) worker(ctx context.Context, name string) {
	log := p.log.With(logx.String("worker", name))
	log.Debug("worker started")
	for {
		j, ok := p.next()
		if !ok {
			log.Debug("worker stopped")
			return
		}
		atomic.AddInt64(&p.active, 1)
		p.run(ctx, j)
		atomic.AddInt64(&p.active, -1)
	}
}

// next blocks until work arrives or the pool closes. Closure wins over a
// non-empty backlog: abandoned work is never handed out.
func (p *workerPool) next() (*Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.closed && p.head >= len(p.queue) {
		p.cond.Wait()
	}
	if p.closed {
		return nil, false
	}
	j := p.queue[p.head]
	p.queue[p.head] = nil
	p.head++
	if p.head >= 64 && p.head*2 >= len(p.queue) {
		p.queue = append(p.queue[:0], p.queue[p.head:]...)
		p.head = 0
	}
	return j, true
}

// submit appends to the backlog and returns immediately, independent of
// backlog depth. After shutdown the job is dropped and false returned.
func (p *workerPool) submit(j *Job) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.queue = append(p.queue, j)
	p.mu.Unlock()
	p.cond.Signal()
	return true
}

// stats never blocks on in-flight work.
func (p *workerPool) stats() Stats {
	p.mu.Lock()
	queued := len(p.queue) - p.head
	p.mu.Unlock()
	return Stats{
		Pool:         p.pool,
		Name:         p.pool.DisplayName(),
		ThreadPrefix: p.pool.ThreadPrefix(),
		Active:       int(atomic.LoadInt64(&p.active)),
		CoreSize:     p.size,
		Queued:       queued,
	}
}

// shutdown stops the workers without draining the backlog or awaiting
// in-flight units. Idempotent.
func (p *workerPool) shutdown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
}
