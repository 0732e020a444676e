package chunks

import (
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestChunkToDTO(t *testing.T) {
	chunk := &Chunk{
		ID:           3,
		JobID:        1,
		ChunkIndex:   0,
		Text:         "We discussed the quarterly roadmap.",
		TopicSummary: "Quarterly roadmap",
		Keywords:     pq.StringArray{"roadmap", "quarterly"},
		Confidence:   0.92,
		StartTime:    0,
		EndTime:      14.2,
		StartCharPos: 0,
		EndCharPos:   35,
		Embedding:    []byte("[0.1,0.2]"),
	}

	dto := chunk.ToDTO()

	assert.Equal(t, int64(3), dto.ID)
	assert.Equal(t, int64(1), dto.JobID)
	assert.Equal(t, 0, dto.Index)
	assert.Equal(t, "Quarterly roadmap", dto.TopicSummary)
	assert.Equal(t, []string{"roadmap", "quarterly"}, dto.Keywords)
	assert.Equal(t, 0.92, dto.Confidence)
	assert.Equal(t, 35, dto.EndCharPos)
	assert.True(t, dto.HasEmbedding)
}

func TestChunkToDTONilKeywords(t *testing.T) {
	chunk := &Chunk{ID: 1, JobID: 1}

	dto := chunk.ToDTO()

	assert.NotNil(t, dto.Keywords, "keywords should serialize as [] not null")
	assert.Empty(t, dto.Keywords)
	assert.False(t, dto.HasEmbedding)
}
