package job

import (
	"sync"
	"testing"
)

func TestRegistryIDsIncrease(t *testing.T) {
	t.Parallel()
	r := newRegistry()
	for want := int64(1); want <= 5; want++ {
		j := New(nil)
		if _, ok := r.admit(j, nil); !ok {
			t.Fatal("admit refused")
		}
		if j.ID() != want {
			t.Fatalf("id = %d, want %d", j.ID(), want)
		}
	}
}

func TestRegistryConcurrentAdmission(t *testing.T) {
	t.Parallel()
	r := newRegistry()
	const n = 100
	jobs := make([]*Job, n)
	for i := range jobs {
		jobs[i] = New(nil)
	}

	// Two racers per job: exactly one admission per job may win.
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		for k := 0; k < 2; k++ {
			wg.Add(1)
			go func(j *Job) {
				defer wg.Done()
				r.admit(j, nil)
			}(jobs[i])
		}
	}
	wg.Wait()

	all := r.snapshot(nil)
	if len(all) != n {
		t.Fatalf("registered %d jobs, want %d", len(all), n)
	}
	seen := make(map[int64]bool, n)
	last := int64(0)
	for _, j := range all {
		id := j.ID()
		if id <= 0 {
			t.Fatalf("non-positive id %d", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
		if id <= last {
			t.Fatalf("ids not ascending: %d after %d", id, last)
		}
		last = id
	}
	if last != n {
		t.Fatalf("highest id %d, want %d (no id skipped)", last, n)
	}
}

func TestRegistryGet(t *testing.T) {
	t.Parallel()
	r := newRegistry()
	j := New(nil)
	r.admit(j, nil)

	if got, ok := r.get(j.ID()); !ok || got != j {
		t.Fatal("admitted job not found")
	}
	for _, id := range []int64{0, -1, 42} {
		if _, ok := r.get(id); ok {
			t.Errorf("get(%d) found a job", id)
		}
	}
}

func TestRegistryRemoveOnlyDone(t *testing.T) {
	t.Parallel()
	r := newRegistry()
	live := New(nil)
	r.admit(live, nil)
	done := New(nil)
	r.admit(done, nil)
	done.Cancel()

	if r.remove(live.ID()) {
		t.Fatal("removed a live job")
	}
	if _, ok := r.get(live.ID()); !ok {
		t.Fatal("live job gone after refused removal")
	}
	if !r.remove(done.ID()) {
		t.Fatal("refused to remove a done job")
	}
	if _, ok := r.get(done.ID()); ok {
		t.Fatal("removed job still present")
	}
	if r.remove(done.ID()) {
		t.Fatal("second removal succeeded")
	}
}

func TestRegistryRemoveDoneSweep(t *testing.T) {
	t.Parallel()
	r := newRegistry()
	var done [2]*Job
	for i := range done {
		done[i] = New(nil)
		r.admit(done[i], nil)
		done[i].Cancel()
	}
	live := New(nil)
	r.admit(live, nil)

	if n := r.removeDone(); n != 2 {
		t.Fatalf("swept %d jobs, want 2", n)
	}
	rest := r.snapshot(nil)
	if len(rest) != 1 || rest[0] != live {
		t.Fatalf("survivors = %d, want only the live job", len(rest))
	}
	if n := r.removeDone(); n != 0 {
		t.Fatalf("second sweep removed %d", n)
	}
}
