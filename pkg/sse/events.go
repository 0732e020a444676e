package sse

// EventType names the events on a job progress stream.
type EventType string

const (
	// EventSnapshot is the first event on a stream, carrying the job's
	// current state so late subscribers start from truth.
	EventSnapshot EventType = "snapshot"

	// EventProgress is emitted whenever a job's progress or phase changes.
	EventProgress EventType = "progress"

	// EventError is emitted when a job fails.
	EventError EventType = "error"

	// EventDone is the final event, emitted when a job reaches a
	// terminal status.
	EventDone EventType = "done"
)

// SnapshotEvent is the first event in a job stream.
type SnapshotEvent struct {
	Type     string `json:"type"`
	JobID    int64  `json:"jobId"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

// NewSnapshotEvent creates a snapshot event for the given job state.
func NewSnapshotEvent(jobID int64, status string, progress int) SnapshotEvent {
	return SnapshotEvent{
		Type:     string(EventSnapshot),
		JobID:    jobID,
		Status:   status,
		Progress: progress,
	}
}

// ProgressEvent is emitted on every progress update.
type ProgressEvent struct {
	Type     string `json:"type"`
	JobID    int64  `json:"jobId"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Phase    string `json:"phase,omitempty"`
	Message  string `json:"message,omitempty"`
	// Lagging is set when the subscriber's buffer overflowed and older
	// updates were dropped in favor of newer ones.
	Lagging bool `json:"lagging,omitempty"`
}

// NewProgressEvent creates a progress event.
func NewProgressEvent(jobID int64, status string, progress int, phase, message string) ProgressEvent {
	return ProgressEvent{
		Type:     string(EventProgress),
		JobID:    jobID,
		Status:   status,
		Progress: progress,
		Phase:    phase,
		Message:  message,
	}
}

// ErrorEvent is emitted when a job fails.
type ErrorEvent struct {
	Type  string `json:"type"`
	JobID int64  `json:"jobId"`
	Error string `json:"error"`
}

// NewErrorEvent creates an error event.
func NewErrorEvent(jobID int64, errMsg string) ErrorEvent {
	return ErrorEvent{
		Type:  string(EventError),
		JobID: jobID,
		Error: errMsg,
	}
}

// DoneEvent is the final event signaling the job reached a terminal
// status and the stream is about to close.
type DoneEvent struct {
	Type   string `json:"type"`
	JobID  int64  `json:"jobId"`
	Status string `json:"status"`
}

// NewDoneEvent creates a done event.
func NewDoneEvent(jobID int64, status string) DoneEvent {
	return DoneEvent{
		Type:   string(EventDone),
		JobID:  jobID,
		Status: status,
	}
}
