package eventbus

import (
	"testing"
	"time"

	"github.com/OCR4all/ocr4all-app-msa/internal/job"
	logx "github.com/OCR4all/ocr4all-app-msa/pkg/logx"
)

func recvOne(t *testing.T, ch <-chan job.Notification) job.Notification {
	t.Helper()
	select {
	case n, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return n
	case <-time.After(time.Second):
		t.Fatal("no notification received")
	}
	return job.Notification{}
}

func TestPublishFanout(t *testing.T) {
	t.Parallel()
	b := New(logx.Nop())
	defer b.Close()

	ch1, unsub1 := b.Subscribe("one", 4)
	ch2, unsub2 := b.Subscribe("two", 4)
	defer unsub1()
	defer unsub2()
	if got := b.Subscribers(); got != 2 {
		t.Fatalf("subscribers = %d, want 2", got)
	}

	b.Publish(job.Notification{JobID: 7, State: job.Running, Key: "k"})

	for _, ch := range []<-chan job.Notification{ch1, ch2} {
		n := recvOne(t, ch)
		if n.JobID != 7 || n.State != job.Running || n.Key != "k" {
			t.Fatalf("got %+v", n)
		}
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()
	b := New(logx.Nop())
	defer b.Close()

	ch, unsub := b.Subscribe("slow", 1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			b.Publish(job.Notification{JobID: int64(i + 1)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	// Exactly the first publish fit the buffer.
	if n := recvOne(t, ch); n.JobID != 1 {
		t.Fatalf("buffered notification id = %d, want 1", n.JobID)
	}
	select {
	case n := <-ch:
		t.Fatalf("unexpected extra notification %+v", n)
	default:
	}
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()
	b := New(logx.Nop())
	defer b.Close()

	ch, unsub := b.Subscribe("gone", 1)
	unsub()
	unsub() // idempotent
	if got := b.Subscribers(); got != 0 {
		t.Fatalf("subscribers after unsubscribe = %d, want 0", got)
	}

	b.Publish(job.Notification{JobID: 1}) // must not panic on the closed channel
	if _, ok := <-ch; ok {
		t.Fatal("received on an unsubscribed channel")
	}
}

func TestCloseDetachesSubscribers(t *testing.T) {
	t.Parallel()
	b := New(logx.Nop())
	ch, _ := b.Subscribe("s", 1)

	b.Close()
	b.Close() // idempotent

	if _, ok := <-ch; ok {
		t.Fatal("channel not closed")
	}
	b.Publish(job.Notification{JobID: 1}) // no-op after close

	late, _ := b.Subscribe("late", 1)
	if _, ok := <-late; ok {
		t.Fatal("subscription after close stayed open")
	}
}
