package progress

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skald-labs/skald/domain/jobs"
)

func newTestBus() *Bus {
	return NewBus(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})))
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	bus := newTestBus()

	_, unsub := bus.Subscribe(1)
	assert.Equal(t, 1, bus.SubscriberCount(1))
	assert.Equal(t, 1, bus.TotalSubscriberCount())

	unsub()
	assert.Equal(t, 0, bus.SubscriberCount(1))
	assert.Equal(t, 0, bus.TotalSubscriberCount())

	// Double unsubscribe must be safe.
	unsub()
	assert.Equal(t, 0, bus.TotalSubscriberCount())
}

func TestPublishDelivers(t *testing.T) {
	bus := newTestBus()

	ch, unsub := bus.Subscribe(7)
	defer unsub()

	bus.Publish(Update{JobID: 7, Status: jobs.StatusProcessing, Progress: 60, Phase: "transcribe"})

	u := <-ch
	assert.Equal(t, int64(7), u.JobID)
	assert.Equal(t, jobs.StatusProcessing, u.Status)
	assert.Equal(t, 60, u.Progress)
	assert.Equal(t, "transcribe", u.Phase)
	assert.False(t, u.Lagging)
}

func TestPublishOnlyReachesMatchingJob(t *testing.T) {
	bus := newTestBus()

	ch1, unsub1 := bus.Subscribe(1)
	defer unsub1()
	ch2, unsub2 := bus.Subscribe(2)
	defer unsub2()

	bus.Publish(Update{JobID: 1, Progress: 10})

	assert.Len(t, ch1, 1)
	assert.Len(t, ch2, 0)
}

func TestPublishMultipleSubscribers(t *testing.T) {
	bus := newTestBus()

	ch1, unsub1 := bus.Subscribe(1)
	defer unsub1()
	ch2, unsub2 := bus.Subscribe(1)
	defer unsub2()

	bus.Publish(Update{JobID: 1, Progress: 50})

	assert.Len(t, ch1, 1)
	assert.Len(t, ch2, 1)
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := newTestBus()

	ch, unsub := bus.Subscribe(1)
	defer unsub()

	// Publish far more than the buffer holds without consuming.
	for i := 0; i < SubscriberBuffer*3; i++ {
		bus.Publish(Update{JobID: 1, Progress: i})
	}

	assert.LessOrEqual(t, len(ch), SubscriberBuffer)
}

func TestOverflowDropsOldestAndFlagsLagging(t *testing.T) {
	bus := newTestBus()

	ch, unsub := bus.Subscribe(1)
	defer unsub()

	total := SubscriberBuffer + 10
	for i := 0; i < total; i++ {
		bus.Publish(Update{JobID: 1, Progress: i})
	}

	var received []Update
	for len(ch) > 0 {
		received = append(received, <-ch)
	}

	require.NotEmpty(t, received)

	// Newest update survives; the oldest were shed.
	last := received[len(received)-1]
	assert.Equal(t, total-1, last.Progress)
	assert.Greater(t, received[0].Progress, 0, "oldest updates should have been dropped")

	sawLagging := false
	for _, u := range received {
		if u.Lagging {
			sawLagging = true
		}
	}
	assert.True(t, sawLagging, "overflow must be surfaced via the lagging flag")
}

func TestLaggingFlagClearsAfterCatchUp(t *testing.T) {
	bus := newTestBus()

	ch, unsub := bus.Subscribe(1)
	defer unsub()

	for i := 0; i < SubscriberBuffer+5; i++ {
		bus.Publish(Update{JobID: 1, Progress: i})
	}

	// Drain completely: the consumer has caught up.
	for len(ch) > 0 {
		<-ch
	}

	// The first delivery after an overflow still carries the flag so
	// the client learns it missed updates.
	bus.Publish(Update{JobID: 1, Progress: 99})
	u := <-ch
	assert.True(t, u.Lagging)

	bus.Publish(Update{JobID: 1, Progress: 100})
	u = <-ch
	assert.False(t, u.Lagging)
}

func TestPublishWithNoSubscribers(t *testing.T) {
	bus := newTestBus()

	// Must not panic or block.
	bus.Publish(Update{JobID: 99, Progress: 10})

	assert.Equal(t, 0, bus.TotalSubscriberCount())
}
