package eventbus

import (
	"sync"
	"sync/atomic"

	"github.com/OCR4all/ocr4all-app-msa/internal/job"
	logx "github.com/OCR4all/ocr4all-app-msa/pkg/logx"
)

// Bus fans scheduler transition notifications out to in-process
// subscribers.
//
// Contract:
//   - Publish never blocks: it runs inside job transitions.
//   - Slow subscribers lose notifications rather than stall publishers.
//   - Dropped deliveries are counted per subscriber and logged.
type Bus interface {
	Publish(n job.Notification)
	Subscribe(name string, buffer int) (ch <-chan job.Notification, unsubscribe func())
	// Subscribers reports how many subscriptions are attached.
	Subscribers() int
	Close()
}

// New returns an in-memory fanout bus. It owns no background goroutines.
func New(log logx.Logger) Bus {
	return &memBus{log: log, subs: map[uint64]*subscriber{}}
}

type subscriber struct {
	name    string
	ch      chan job.Notification
	dropped atomic.Uint64
}

type memBus struct {
	log  logx.Logger
	mu   sync.RWMutex
	subs map[uint64]*subscriber
	seq  atomic.Uint64

	closed bool
}

func (b *memBus) Publish(n job.Notification) {
	// Snapshot subscribers so no lock is held while attempting sends.
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		// A concurrent unsubscribe may close the channel mid-send; the
		// recover turns that into a plain drop.
		func() {
			defer func() { _ = recover() }()
			select {
			case s.ch <- n:
			default:
				if d := s.dropped.Add(1); d == 1 || d%100 == 0 {
					b.log.Warn("subscriber lagging, notification dropped",
						logx.String("subscriber", s.name),
						logx.Uint64("dropped", d))
				}
			}
		}()
	}
}

func (b *memBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *memBus) Subscribe(name string, buffer int) (<-chan job.Notification, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	s := &subscriber{name: name, ch: make(chan job.Notification, buffer)}
	id := b.seq.Add(1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, unsub
}

// Close detaches every subscriber and closes their channels. Later
// publishes fan out to nobody; later subscriptions get a closed channel.
func (b *memBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = map[uint64]*subscriber{}
	b.mu.Unlock()

	for _, s := range subs {
		close(s.ch)
	}
}
