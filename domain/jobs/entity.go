package jobs

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Status is the lifecycle state of a transcription job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// CancelledError is the error recorded on a job that was cancelled by
// its owner. Cancellation is a permanent failure: the job lands in
// StatusFailed with this reason.
const CancelledError = "cancelled"

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo enforces the job state machine. Terminal states are
// frozen; failure is reachable from any non-terminal state.
func (s Status) CanTransitionTo(next Status) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

// Progress milestones reported over the job's lifetime.
const (
	ProgressStarted     = 0
	ProgressTranscribed = 60
	ProgressChunked     = 80
	ProgressCompleted   = 100
)

// Segment is one timed span of the transcript, persisted as JSONB on
// the job row.
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Job represents an audio transcription job in the skald.jobs table
type Job struct {
	bun.BaseModel `bun:"table:skald.jobs,alias:j"`

	ID              int64      `bun:"id,pk,autoincrement" json:"id"`
	UserID          string     `bun:"user_id,notnull" json:"userId"`
	Filename        string     `bun:"filename,notnull" json:"filename"`
	FilePath        string     `bun:"file_path,notnull" json:"-"`
	Status          Status     `bun:"status,notnull,default:'pending'" json:"status"`
	Progress        int        `bun:"progress,notnull,default:0" json:"progress"`
	Error           string     `bun:"error,nullzero" json:"error,omitempty"`
	Transcript      string     `bun:"transcript,nullzero" json:"-"`
	Segments        []Segment  `bun:"segments,type:jsonb,nullzero" json:"-"`
	Language        string     `bun:"language,nullzero" json:"language,omitempty"`
	CancelRequested bool       `bun:"cancel_requested,notnull,default:false" json:"cancelRequested"`
	WorkflowRunID   *uuid.UUID `bun:"workflow_run_id,type:uuid,nullzero" json:"workflowRunId,omitempty"`
	ArchiveKey      string     `bun:"archive_key,nullzero" json:"-"`
	CreatedAt       time.Time  `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt       time.Time  `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
}

// JobDTO is the response format for jobs
type JobDTO struct {
	ID        int64  `json:"id"`
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	Error     string `json:"error,omitempty"`
	Language  string `json:"language,omitempty"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// ToDTO converts a Job to its response format
func (j *Job) ToDTO() *JobDTO {
	return &JobDTO{
		ID:        j.ID,
		Filename:  j.Filename,
		Status:    string(j.Status),
		Progress:  j.Progress,
		Error:     j.Error,
		Language:  j.Language,
		CreatedAt: j.CreatedAt.Format(time.RFC3339),
		UpdatedAt: j.UpdatedAt.Format(time.RFC3339),
	}
}

// JobDetailDTO additionally carries the transcript for detail views.
type JobDetailDTO struct {
	JobDTO
	Transcript string    `json:"transcript,omitempty"`
	Segments   []Segment `json:"segments,omitempty"`
}

// ToDetailDTO converts a Job to its detail response format
func (j *Job) ToDetailDTO() *JobDetailDTO {
	return &JobDetailDTO{
		JobDTO:     *j.ToDTO(),
		Transcript: j.Transcript,
		Segments:   j.Segments,
	}
}

// ListJobsResponse is the response for listing jobs
type ListJobsResponse struct {
	Data       []*JobDTO `json:"data"`
	TotalCount int       `json:"totalCount"`
}
