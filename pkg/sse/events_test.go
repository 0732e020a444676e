package sse

import (
	"encoding/json"
	"testing"
)

func TestNewSnapshotEvent(t *testing.T) {
	tests := []struct {
		name     string
		jobID    int64
		status   string
		progress int
	}{
		{"pending job", 1, "pending", 0},
		{"processing job", 42, "processing", 60},
		{"completed job", 7, "completed", 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := NewSnapshotEvent(tt.jobID, tt.status, tt.progress)

			if event.Type != string(EventSnapshot) {
				t.Errorf("Type = %q, want %q", event.Type, string(EventSnapshot))
			}
			if event.JobID != tt.jobID {
				t.Errorf("JobID = %d, want %d", event.JobID, tt.jobID)
			}
			if event.Status != tt.status {
				t.Errorf("Status = %q, want %q", event.Status, tt.status)
			}
			if event.Progress != tt.progress {
				t.Errorf("Progress = %d, want %d", event.Progress, tt.progress)
			}
		})
	}
}

func TestNewProgressEvent(t *testing.T) {
	event := NewProgressEvent(5, "processing", 80, "chunk", "chunking finished")

	if event.Type != string(EventProgress) {
		t.Errorf("Type = %q, want %q", event.Type, string(EventProgress))
	}
	if event.JobID != 5 {
		t.Errorf("JobID = %d, want 5", event.JobID)
	}
	if event.Phase != "chunk" {
		t.Errorf("Phase = %q, want %q", event.Phase, "chunk")
	}
	if event.Lagging {
		t.Error("Lagging should default to false")
	}
}

func TestProgressEventJSONOmitsEmptyFields(t *testing.T) {
	event := NewProgressEvent(9, "processing", 60, "", "")

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	for _, key := range []string{"phase", "message", "lagging"} {
		if _, ok := m[key]; ok {
			t.Errorf("field %q should be omitted when empty", key)
		}
	}
	if m["jobId"] != float64(9) {
		t.Errorf("jobId = %v, want 9", m["jobId"])
	}
}

func TestNewErrorEvent(t *testing.T) {
	event := NewErrorEvent(3, "transcription service unavailable")

	if event.Type != string(EventError) {
		t.Errorf("Type = %q, want %q", event.Type, string(EventError))
	}
	if event.Error != "transcription service unavailable" {
		t.Errorf("Error = %q", event.Error)
	}
}

func TestNewDoneEvent(t *testing.T) {
	tests := []struct {
		name   string
		status string
	}{
		{"completed", "completed"},
		{"failed", "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := NewDoneEvent(11, tt.status)

			if event.Type != string(EventDone) {
				t.Errorf("Type = %q, want %q", event.Type, string(EventDone))
			}
			if event.Status != tt.status {
				t.Errorf("Status = %q, want %q", event.Status, tt.status)
			}
		})
	}
}
