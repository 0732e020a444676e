package chunks

import (
	"time"

	"github.com/lib/pq"
	"github.com/uptrace/bun"
)

// Chunk represents a semantic chunk of a transcript in the
// skald.job_chunks table. Character positions are half-open offsets
// into the canonical transcript; times map the chunk back to audio.
type Chunk struct {
	bun.BaseModel `bun:"table:skald.job_chunks,alias:c"`

	ID           int64          `bun:"id,pk,autoincrement" json:"id"`
	JobID        int64          `bun:"job_id,notnull" json:"jobId"`
	ChunkIndex   int            `bun:"chunk_index,notnull" json:"chunkIndex"`
	Text         string         `bun:"text,notnull" json:"text"`
	TopicSummary string         `bun:"topic_summary,nullzero" json:"topicSummary,omitempty"`
	Keywords     pq.StringArray `bun:"keywords,type:text[],notnull,default:'{}'" json:"keywords"`
	Confidence   float64        `bun:"confidence,notnull,default:0" json:"confidence"`
	StartTime    float64        `bun:"start_time,notnull,default:0" json:"startTime"`
	EndTime      float64        `bun:"end_time,notnull,default:0" json:"endTime"`
	StartCharPos int            `bun:"start_char_pos,notnull" json:"startCharPos"`
	EndCharPos   int            `bun:"end_char_pos,notnull" json:"endCharPos"`
	Embedding    []byte         `bun:"embedding,type:vector(384),nullzero" json:"-"`
	CreatedAt    time.Time      `bun:"created_at,notnull,default:now()" json:"createdAt"`
}

// ChunkDTO is the response format for chunks
type ChunkDTO struct {
	ID           int64    `json:"id"`
	JobID        int64    `json:"jobId"`
	Index        int      `json:"index"`
	Text         string   `json:"text"`
	TopicSummary string   `json:"topicSummary,omitempty"`
	Keywords     []string `json:"keywords"`
	Confidence   float64  `json:"confidence"`
	StartTime    float64  `json:"startTime"`
	EndTime      float64  `json:"endTime"`
	StartCharPos int      `json:"startCharPos"`
	EndCharPos   int      `json:"endCharPos"`
	HasEmbedding bool     `json:"hasEmbedding"`
}

// ToDTO converts a Chunk to a ChunkDTO
func (c *Chunk) ToDTO() *ChunkDTO {
	keywords := []string(c.Keywords)
	if keywords == nil {
		keywords = []string{}
	}
	return &ChunkDTO{
		ID:           c.ID,
		JobID:        c.JobID,
		Index:        c.ChunkIndex,
		Text:         c.Text,
		TopicSummary: c.TopicSummary,
		Keywords:     keywords,
		Confidence:   c.Confidence,
		StartTime:    c.StartTime,
		EndTime:      c.EndTime,
		StartCharPos: c.StartCharPos,
		EndCharPos:   c.EndCharPos,
		HasEmbedding: len(c.Embedding) > 0,
	}
}

// ListChunksResponse is the response for listing a job's chunks
type ListChunksResponse struct {
	Data       []*ChunkDTO `json:"data"`
	TotalCount int         `json:"totalCount"`
}
