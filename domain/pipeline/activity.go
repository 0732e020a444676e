package pipeline

import (
	"time"

	"github.com/skald-labs/skald/domain/jobs"
	jobsq "github.com/skald-labs/skald/internal/jobs"
)

// ActivityDef describes one pipeline activity: its execution timeout
// and how it is retried. Timeouts bound a single attempt; the retry
// policy governs attempts across claims, including reclaims after a
// worker crash.
type ActivityDef struct {
	Kind    Kind
	Timeout time.Duration
	Policy  jobsq.RetryPolicy

	// HeartbeatTimeout is how long a running task may go without a
	// heartbeat before the stale sweep reclaims it. Long activities get
	// a generous window so a busy worker is not reclaimed mid-flight.
	HeartbeatTimeout time.Duration

	// Milestone is the job progress reported once the activity's output
	// is durable.
	Milestone int

	// Phase names the activity on the progress stream.
	Phase string
}

// Definitions maps each activity kind to its definition. Transcription
// gets the long timeout because Whisper runtime scales with audio
// length; embedding is cheap and fails fast.
var Definitions = map[Kind]ActivityDef{
	KindTranscribe: {
		Kind:             KindTranscribe,
		Timeout:          60 * time.Minute,
		HeartbeatTimeout: 5 * time.Minute,
		Milestone:        jobs.ProgressTranscribed,
		Phase:            "transcribe",
		Policy: jobsq.RetryPolicy{
			MaxAttempts:       3,
			InitialBackoff:    time.Second,
			MaxBackoff:        time.Minute,
			BackoffMultiplier: 2.0,
		},
	},
	KindChunk: {
		Kind:             KindChunk,
		Timeout:          30 * time.Minute,
		HeartbeatTimeout: time.Minute,
		Milestone:        jobs.ProgressChunked,
		Phase:            "chunk",
		Policy: jobsq.RetryPolicy{
			MaxAttempts:       3,
			InitialBackoff:    time.Second,
			MaxBackoff:        time.Minute,
			BackoffMultiplier: 2.0,
		},
	},
	KindEmbed: {
		Kind:             KindEmbed,
		Timeout:          10 * time.Minute,
		HeartbeatTimeout: 30 * time.Second,
		Milestone:        jobs.ProgressCompleted,
		Phase:            "embed",
		Policy: jobsq.RetryPolicy{
			MaxAttempts:       3,
			InitialBackoff:    time.Second,
			MaxBackoff:        30 * time.Second,
			BackoffMultiplier: 2.0,
		},
	},
}
