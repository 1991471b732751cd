package job

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	logx "github.com/OCR4all/ocr4all-app-msa/pkg/logx"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func waitState(t *testing.T, j *Job, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if j.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %d state %s, want %s", j.ID(), j.State(), want)
}

func newTestScheduler(t *testing.T, notify NotifyFunc) *Scheduler {
	t.Helper()
	s, err := NewScheduler(2, 1, logx.Nop(), notify)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	t.Cleanup(s.Shutdown)
	return s
}

func quickUnit(msg string) Unit {
	return UnitFunc(func(context.Context, *Job) (string, error) { return msg, nil })
}

// blockedUnit holds its worker until the job is canceled or the scheduler
// shuts down.
func blockedUnit() Unit {
	return UnitFunc(func(ctx context.Context, j *Job) (string, error) {
		<-ctx.Done()
		return "", nil
	})
}

func TestSchedulerRunsJob(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var states []State
	s := newTestScheduler(t, func(n Notification) {
		mu.Lock()
		states = append(states, n.State)
		mu.Unlock()
	})

	j := New(quickUnit("finished"), WithKey("probe"), WithDescription("smoke"))
	if !s.Start(j) {
		t.Fatal("admission refused")
	}
	waitState(t, j, Completed)

	if j.Message() != "finished" {
		t.Errorf("message = %q, want finished", j.Message())
	}
	if j.Start().IsZero() || j.End().IsZero() || j.End().Before(j.Start()) {
		t.Errorf("timestamps: start=%v end=%v", j.Start(), j.End())
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 3
	})
	mu.Lock()
	defer mu.Unlock()
	want := []State{Scheduled, Running, Completed}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("notification %d = %s, want %s", i, states[i], want[i])
		}
	}
}

func TestSchedulerIgnoresNilAndReadmission(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, nil)
	if s.Start(nil) {
		t.Fatal("admitted nil")
	}
	j := New(quickUnit(""))
	if !s.Start(j) {
		t.Fatal("admission refused")
	}
	id := j.ID()
	if s.Start(j) {
		t.Fatal("re-admission accepted")
	}
	if j.ID() != id {
		t.Fatalf("id changed to %d on re-admission", j.ID())
	}
	if got := len(s.Jobs()); got != 1 {
		t.Fatalf("registry holds %d jobs, want 1", got)
	}
}

func TestSchedulerLookup(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, nil)
	j := New(quickUnit(""))
	s.Start(j)

	got, err := s.Job(j.ID())
	if err != nil || got != j {
		t.Fatalf("Job(%d) = %v, %v", j.ID(), got, err)
	}
	for _, id := range []int64{0, -3, 99} {
		if _, err := s.Job(id); !errors.Is(err, ErrNotFound) {
			t.Errorf("Job(%d) err = %v, want ErrNotFound", id, err)
		}
	}
}

func TestListViews(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, nil)
	quick := New(quickUnit("ok"), WithKey("a"))
	liveA := New(blockedUnit(), WithKey("a"))
	liveB := New(blockedUnit(), WithKey("b"), WithPool(TimeConsuming))
	s.Start(quick)
	s.Start(liveA)
	s.Start(liveB)
	waitState(t, quick, Completed)
	waitState(t, liveA, Running)
	waitState(t, liveB, Running)

	all, running, done := s.Jobs(), s.JobsRunning(), s.JobsDone()
	if len(all) != 3 || len(running) != 2 || len(done) != 1 {
		t.Fatalf("all=%d running=%d done=%d", len(all), len(running), len(done))
	}
	for i := 1; i < len(all); i++ {
		if all[i].ID() <= all[i-1].ID() {
			t.Fatal("listing not ascending by id")
		}
	}

	// running and done partition the full listing.
	ids := map[int64]int{}
	for _, j := range running {
		ids[j.ID()]++
	}
	for _, j := range done {
		ids[j.ID()]++
	}
	if len(ids) != len(all) {
		t.Fatalf("running ∪ done covers %d of %d jobs", len(ids), len(all))
	}
	for id, count := range ids {
		if count != 1 {
			t.Fatalf("job %d appears in both views", id)
		}
	}

	keyed := s.JobsKey("a")
	if len(keyed) != 2 {
		t.Fatalf("JobsKey(a) = %d jobs, want 2", len(keyed))
	}
	for _, j := range keyed {
		if j.Key() != "a" {
			t.Fatalf("JobsKey returned key %q", j.Key())
		}
	}
}

func TestCancelKeyGroup(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, nil)
	a1 := New(blockedUnit(), WithKey("A"))
	a2 := New(blockedUnit(), WithKey("A"))
	b := New(blockedUnit(), WithKey("B"), WithPool(TimeConsuming))
	s.Start(a1)
	s.Start(a2)
	s.Start(b)
	waitState(t, a1, Running)
	waitState(t, a2, Running)
	waitState(t, b, Running)

	if n := s.CancelKey("A"); n != 2 {
		t.Fatalf("canceled %d jobs, want 2", n)
	}
	if a1.State() != Canceled || a2.State() != Canceled {
		t.Fatalf("key A jobs: %s, %s", a1.State(), a2.State())
	}
	if b.State() == Canceled {
		t.Fatal(`key "B" job canceled`)
	}
	if n := s.CancelKey("A"); n != 0 {
		t.Fatalf("second group cancel changed %d jobs", n)
	}
	if n := s.CancelKey("missing"); n != 0 {
		t.Fatalf("cancel of unknown key changed %d jobs", n)
	}
}

func TestCancelIsAdvisory(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, nil)
	release := make(chan struct{})
	var exited int64
	stubborn := UnitFunc(func(ctx context.Context, j *Job) (string, error) {
		<-release // ignores ctx and token
		atomic.AddInt64(&exited, 1)
		return "late", nil
	})
	j := New(stubborn)
	s.Start(j)
	waitState(t, j, Running)

	if !s.Cancel(j.ID()) {
		t.Fatal("cancel refused")
	}
	if j.State() != Canceled {
		t.Fatal("state not canceled immediately")
	}
	if atomic.LoadInt64(&exited) != 0 {
		t.Fatal("unit exited without being released")
	}
	end := j.End()
	if s.Cancel(j.ID()) {
		t.Fatal("second cancel reported a change")
	}
	if !j.End().Equal(end) {
		t.Fatal("end restamped by second cancel")
	}

	close(release)
	waitFor(t, func() bool { return atomic.LoadInt64(&exited) == 1 })
	if j.State() != Canceled {
		t.Fatalf("state %s after unit exit, want canceled kept", j.State())
	}
	if j.Message() == "late" {
		t.Fatal("completion message recorded on a canceled job")
	}

	// The worker survived the stubborn unit.
	next := New(quickUnit("ok"))
	s.Start(next)
	waitState(t, next, Completed)
}

func TestCanceledWhileQueuedNeverRuns(t *testing.T) {
	t.Parallel()
	s, err := NewScheduler(1, 1, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	t.Cleanup(s.Shutdown)

	blocker := New(blockedUnit())
	s.Start(blocker)
	waitState(t, blocker, Running)

	queued := New(quickUnit("never"))
	s.Start(queued)
	if queued.State() != Scheduled {
		t.Fatalf("queued job state %s, want scheduled", queued.State())
	}
	if !s.Cancel(queued.ID()) {
		t.Fatal("cancel of queued job refused")
	}

	s.Cancel(blocker.ID())
	waitFor(t, func() bool {
		info, err := s.Information()
		return err == nil && info.Pools[0].Active == 0
	})
	if queued.State() != Canceled {
		t.Fatalf("queued job state %s, want canceled", queued.State())
	}
	if !queued.Start().IsZero() {
		t.Fatal("canceled queued job was started")
	}
	if queued.Message() == "never" {
		t.Fatal("canceled queued job ran its unit")
	}
}

func TestExpunge(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, nil)
	done := New(quickUnit("ok"))
	live := New(blockedUnit(), WithPool(TimeConsuming))
	s.Start(done)
	s.Start(live)
	waitState(t, done, Completed)
	waitState(t, live, Running)

	if s.Expunge(live.ID()) {
		t.Fatal("expunged a live job")
	}
	if _, err := s.Job(live.ID()); err != nil {
		t.Fatal("live job gone after refused expunge")
	}
	if !s.Expunge(done.ID()) {
		t.Fatal("expunge refused a done job")
	}
	if _, err := s.Job(done.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expunged job still resolvable: %v", err)
	}
	if s.Expunge(done.ID()) {
		t.Fatal("second expunge succeeded")
	}
	if got := len(s.Jobs()); got != 1 {
		t.Fatalf("registry holds %d jobs, want 1", got)
	}
}

func TestExpungeDoneSweep(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, nil)
	j1 := New(quickUnit("one"))
	j2 := New(quickUnit("two"))
	hold := New(blockedUnit(), WithPool(TimeConsuming))
	s.Start(j1)
	s.Start(j2)
	s.Start(hold)
	waitState(t, j1, Completed)
	waitState(t, j2, Completed)
	waitState(t, hold, Running)

	if n := s.ExpungeDone(); n != 2 {
		t.Fatalf("swept %d jobs, want 2", n)
	}
	rest := s.Jobs()
	if len(rest) != 1 || rest[0] != hold {
		t.Fatalf("%d jobs left, want only the running one", len(rest))
	}
}

func TestExpungeKey(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, nil)
	a1 := New(quickUnit(""), WithKey("A"))
	a2 := New(blockedUnit(), WithKey("A"), WithPool(TimeConsuming))
	b := New(quickUnit(""), WithKey("B"))
	s.Start(a1)
	s.Start(a2)
	s.Start(b)
	waitState(t, a1, Completed)
	waitState(t, b, Completed)
	waitState(t, a2, Running)

	if n := s.ExpungeKey("A"); n != 1 {
		t.Fatalf("removed %d jobs, want only the done A", n)
	}
	if _, err := s.Job(a2.ID()); err != nil {
		t.Fatal("running A job removed")
	}
	if _, err := s.Job(b.ID()); err != nil {
		t.Fatal("key B job removed")
	}
}

func TestUnitErrorInterrupts(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, nil)
	j := New(UnitFunc(func(context.Context, *Job) (string, error) {
		return "", errors.New("page 3 unreadable")
	}))
	s.Start(j)
	waitState(t, j, Interrupted)
	if j.Message() != "page 3 unreadable" {
		t.Errorf("message = %q", j.Message())
	}
	if j.End().IsZero() {
		t.Error("end not stamped")
	}
}

func TestUnitPanicInterrupts(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, nil)
	j := New(UnitFunc(func(context.Context, *Job) (string, error) {
		panic("model blew up")
	}))
	s.Start(j)
	waitState(t, j, Interrupted)
	if !strings.Contains(j.Message(), "model blew up") {
		t.Errorf("message = %q, want panic text", j.Message())
	}

	// The worker survived the panic.
	next := New(quickUnit("ok"))
	s.Start(next)
	waitState(t, next, Completed)
}

func TestSinkPanicDoesNotBreakScheduling(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, func(Notification) { panic("sink offline") })
	j := New(quickUnit("fine"))
	s.Start(j)
	waitState(t, j, Completed)
	if j.Message() != "fine" {
		t.Errorf("message = %q", j.Message())
	}
}

func TestInformation(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, nil)
	info, err := s.Information()
	if err != nil {
		t.Fatalf("information: %v", err)
	}
	if info.Start.IsZero() {
		t.Error("start time not set")
	}
	if len(info.Pools) != 2 {
		t.Fatalf("%d pools, want 2", len(info.Pools))
	}
	std, tc := info.Pools[0], info.Pools[1]
	if std.Name != "standard" || std.ThreadPrefix != "job-std-" || std.CoreSize != 2 {
		t.Errorf("standard pool stats = %+v", std)
	}
	if tc.Name != "time consuming" || tc.ThreadPrefix != "job-tc-" || tc.CoreSize != 1 {
		t.Errorf("time-consuming pool stats = %+v", tc)
	}
}

func TestInformationAfterShutdown(t *testing.T) {
	t.Parallel()
	s, err := NewScheduler(1, 1, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	s.Shutdown()
	if _, err := s.Information(); err == nil {
		t.Fatal("information after shutdown succeeded")
	}
}

func TestNewSchedulerRejectsBadSizes(t *testing.T) {
	t.Parallel()
	if _, err := NewScheduler(0, 1, logx.Nop(), nil); err == nil {
		t.Fatal("accepted standard pool size 0")
	}
	if _, err := NewScheduler(1, -2, logx.Nop(), nil); err == nil {
		t.Fatal("accepted negative time-consuming pool size")
	}
}

func TestStartAfterShutdown(t *testing.T) {
	t.Parallel()
	s, err := NewScheduler(1, 1, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	s.Shutdown()

	j := New(quickUnit("x"))
	if !s.Start(j) {
		t.Fatal("admission refused after shutdown")
	}
	time.Sleep(30 * time.Millisecond)
	if j.State() != Scheduled {
		t.Fatalf("job state %s after shutdown, want scheduled forever", j.State())
	}
}

func TestConcurrentAdmissionAcrossPools(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, nil)
	const n = 60
	jobs := make([]*Job, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		p := Standard
		if i%2 == 1 {
			p = TimeConsuming
		}
		jobs[i] = New(quickUnit(""), WithPool(p))
		wg.Add(1)
		go func(j *Job) {
			defer wg.Done()
			s.Start(j)
		}(jobs[i])
	}
	wg.Wait()

	all := s.Jobs()
	if len(all) != n {
		t.Fatalf("registry holds %d jobs, want %d", len(all), n)
	}
	seen := make(map[int64]bool, n)
	for _, j := range all {
		id := j.ID()
		if id <= 0 || seen[id] {
			t.Fatalf("bad or duplicate id %d", id)
		}
		seen[id] = true
	}
	for _, j := range jobs {
		waitState(t, j, Completed)
	}
}
