package pipeline

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	jobsq "github.com/skald-labs/skald/internal/jobs"
)

// Kind identifies a pipeline activity.
type Kind string

const (
	KindTranscribe Kind = "transcribe"
	KindChunk      Kind = "chunk"
	KindEmbed      Kind = "embed"
)

// NextKind returns the activity that follows k, or "" after the last one.
func NextKind(k Kind) Kind {
	switch k {
	case KindTranscribe:
		return KindChunk
	case KindChunk:
		return KindEmbed
	}
	return ""
}

// Task is one queued pipeline activity in skald.pipeline_tasks. The
// queue columns (status, claimed_by, heartbeat_at, ...) are operated by
// the generic task queue; this model is for reads and enqueueing.
type Task struct {
	bun.BaseModel `bun:"table:skald.pipeline_tasks,alias:t"`

	ID           int64            `bun:"id,pk,autoincrement" json:"id"`
	JobID        int64            `bun:"job_id,notnull" json:"jobId"`
	RunID        uuid.UUID        `bun:"run_id,notnull,type:uuid" json:"runId"`
	Kind         Kind             `bun:"kind,notnull" json:"kind"`
	Status       jobsq.TaskStatus `bun:"status,notnull,default:'pending'" json:"status"`
	AttemptCount int              `bun:"attempt_count,notnull,default:0" json:"attemptCount"`
	LastError    string           `bun:"last_error,nullzero" json:"lastError,omitempty"`
	ClaimedBy    string           `bun:"claimed_by,nullzero" json:"claimedBy,omitempty"`
	ScheduledAt  *time.Time       `bun:"scheduled_at,nullzero" json:"scheduledAt,omitempty"`
	StartedAt    *time.Time       `bun:"started_at,nullzero" json:"startedAt,omitempty"`
	HeartbeatAt  *time.Time       `bun:"heartbeat_at,nullzero" json:"heartbeatAt,omitempty"`
	CompletedAt  *time.Time       `bun:"completed_at,nullzero" json:"completedAt,omitempty"`
	CreatedAt    time.Time        `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt    time.Time        `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
}

// Completion is an idempotency marker in skald.activity_completions.
// It is written in the same transaction as the activity's durable
// output, so a marker's existence proves the output landed exactly
// once per run. Unique on (run_id, activity). Payload carries a small
// summary of the output (segment count, chunk count, ...) for
// debugging a run after the fact.
type Completion struct {
	bun.BaseModel `bun:"table:skald.activity_completions,alias:ac"`

	ID          int64          `bun:"id,pk,autoincrement"`
	RunID       uuid.UUID      `bun:"run_id,notnull,type:uuid"`
	Activity    Kind           `bun:"activity,notnull"`
	JobID       int64          `bun:"job_id,notnull"`
	Payload     map[string]any `bun:"payload,type:jsonb,nullzero"`
	CompletedAt time.Time      `bun:"completed_at,notnull,default:now()"`
}
