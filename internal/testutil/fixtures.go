package testutil

import (
	"context"

	"github.com/lib/pq"
	"github.com/uptrace/bun"

	"github.com/skald-labs/skald/pkg/pgutils"
)

// TestJob represents a job row fixture
type TestJob struct {
	UserID     string
	Filename   string
	FilePath   string
	Status     string
	Progress   int
	Transcript *string
	Language   *string
}

// CreateTestJob inserts a job row and returns its ID
func CreateTestJob(ctx context.Context, db bun.IDB, job TestJob) (int64, error) {
	if job.Status == "" {
		job.Status = "pending"
	}
	if job.Filename == "" {
		job.Filename = "test.mp3"
	}
	if job.FilePath == "" {
		job.FilePath = "/tmp/test.mp3"
	}

	var id int64
	err := db.NewRaw(`
		INSERT INTO skald.jobs (user_id, filename, file_path, status, progress, transcript, language)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, job.UserID, job.Filename, job.FilePath, job.Status, job.Progress,
		job.Transcript, job.Language).Scan(ctx, &id)
	return id, err
}

// TestChunk represents a job_chunks row fixture
type TestChunk struct {
	JobID        int64
	ChunkIndex   int
	Text         string
	TopicSummary *string
	Keywords     []string
	Confidence   float64
	StartTime    float64
	EndTime      float64
	StartCharPos int
	EndCharPos   int
	Embedding    []float32
}

// CreateTestChunk inserts a chunk row, with an optional embedding, and
// returns its ID
func CreateTestChunk(ctx context.Context, db bun.IDB, chunk TestChunk) (int64, error) {
	if chunk.Keywords == nil {
		chunk.Keywords = []string{}
	}
	if chunk.EndCharPos == 0 {
		chunk.EndCharPos = len(chunk.Text)
	}

	var embedding *string
	if chunk.Embedding != nil {
		v := pgutils.FormatVector(chunk.Embedding)
		embedding = &v
	}

	var id int64
	err := db.NewRaw(`
		INSERT INTO skald.job_chunks (
			job_id, chunk_index, text, topic_summary, keywords,
			confidence, start_time, end_time, start_char_pos, end_char_pos, embedding
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?::vector)
		RETURNING id
	`, chunk.JobID, chunk.ChunkIndex, chunk.Text, chunk.TopicSummary,
		pq.StringArray(chunk.Keywords), chunk.Confidence, chunk.StartTime, chunk.EndTime,
		chunk.StartCharPos, chunk.EndCharPos, embedding).Scan(ctx, &id)
	return id, err
}
