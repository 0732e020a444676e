package progress

import (
	"log/slog"
	"sync"

	"github.com/skald-labs/skald/domain/jobs"
	"github.com/skald-labs/skald/pkg/logger"
)

// SubscriberBuffer is the per-subscriber channel capacity. When a slow
// consumer falls this far behind, older updates are dropped in favor of
// newer ones and the next delivered update is flagged as lagging.
const SubscriberBuffer = 64

// Update is one progress notification for a job.
type Update struct {
	JobID    int64
	Status   jobs.Status
	Progress int
	Phase    string
	Message  string
	// Lagging is set on delivery when earlier updates for this
	// subscriber were dropped.
	Lagging bool
}

type subscriber struct {
	ch      chan Update
	lagging bool
}

// Bus is the in-process progress fan-out. Pipeline workers publish,
// SSE handlers subscribe per job. Publishing never blocks: a full
// subscriber buffer sheds its oldest update instead.
type Bus struct {
	log    *slog.Logger
	mu     sync.Mutex
	subs   map[int64]map[int]*subscriber
	nextID int
}

// NewBus creates the progress bus
func NewBus(log *slog.Logger) *Bus {
	return &Bus{
		log:  log.With(logger.Scope("progress.bus")),
		subs: make(map[int64]map[int]*subscriber),
	}
}

// Subscribe registers for a job's updates. The returned function
// removes the subscription; it is safe to call more than once.
func (b *Bus) Subscribe(jobID int64) (<-chan Update, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[int]*subscriber)
	}

	id := b.nextID
	b.nextID++

	sub := &subscriber{ch: make(chan Update, SubscriberBuffer)}
	b.subs[jobID][id] = sub

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			if m, ok := b.subs[jobID]; ok {
				delete(m, id)
				if len(m) == 0 {
					delete(b.subs, jobID)
				}
			}
		})
	}

	return sub.ch, unsubscribe
}

// Publish delivers an update to every subscriber of the job. It never
// blocks the caller: when a subscriber's buffer is full, the oldest
// buffered update is discarded and the subscriber is marked lagging
// until it catches up.
func (b *Bus) Publish(u Update) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs[u.JobID] {
		ev := u
		ev.Lagging = sub.lagging

		select {
		case sub.ch <- ev:
			sub.lagging = false
			continue
		default:
		}

		// Buffer full: shed the oldest update and retry once with the
		// lagging flag set.
		select {
		case <-sub.ch:
		default:
		}
		sub.lagging = true
		ev.Lagging = true

		select {
		case sub.ch <- ev:
		default:
			b.log.Warn("dropped progress update for saturated subscriber",
				slog.Int64("job_id", u.JobID))
		}
	}
}

// SubscriberCount returns the number of subscribers for a job
func (b *Bus) SubscriberCount(jobID int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[jobID])
}

// TotalSubscriberCount returns the number of subscribers across all jobs
func (b *Bus) TotalSubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := 0
	for _, m := range b.subs {
		total += len(m)
	}
	return total
}
