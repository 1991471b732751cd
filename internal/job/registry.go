package job

import (
	"sort"
	"sync"
)

// registry is the single source of truth for job membership and id
// allocation. One coarse mutex serializes structural mutation and snapshot
// copying; job locks nest inside it. Ids start at 1 and strictly increase,
// never reused within the registry's lifetime.
type registry struct {
	mu   sync.Mutex
	seq  int64
	jobs map[int64]*Job
}

func newRegistry() *registry {
	return &registry{jobs: make(map[int64]*Job)}
}

// admit allocates the next id and inserts j. Already-admitted jobs are left
// untouched. The captured admission notification is returned for delivery
// outside the coarse lock.
func (r *registry) admit(j *Job, notify NotifyFunc) (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := j.admit(r.seq+1, notify)
	if !ok {
		return Notification{}, false
	}
	r.seq++
	r.jobs[r.seq] = j
	return n, true
}

func (r *registry) get(id int64) (*Job, bool) {
	if id <= 0 {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	return j, ok
}

// snapshot copies the current membership, ascending by id. The filter runs
// after the coarse lock is released. Returned jobs are live and may keep
// changing; callers get an as-of view, not a frozen one.
func (r *registry) snapshot(filter func(*Job) bool) []*Job {
	r.mu.Lock()
	all := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		all = append(all, j)
	}
	r.mu.Unlock()

	sort.Slice(all, func(i, k int) bool { return all[i].ID() < all[k].ID() })
	if filter == nil {
		return all
	}
	out := all[:0]
	for _, j := range all {
		if filter(j) {
			out = append(out, j)
		}
	}
	return out
}

// remove deletes the job iff it is terminal at call time.
func (r *registry) remove(id int64) bool {
	if id <= 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || !j.Done() {
		return false
	}
	delete(r.jobs, id)
	return true
}

// removeDone sweeps every currently terminal job in one pass, reporting how
// many were removed.
func (r *registry) removeDone() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, j := range r.jobs {
		if j.Done() {
			delete(r.jobs, id)
			n++
		}
	}
	return n
}
