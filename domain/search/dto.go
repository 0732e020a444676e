package search

// Request are the query parameters for semantic search.
type Request struct {
	// Query is the natural-language search text
	Query string `query:"q"`

	// Limit caps the number of results (default 10, max 50)
	Limit int `query:"limit"`

	// JobID optionally restricts the search to one job
	JobID int64 `query:"jobId"`
}

// Result is one matching chunk.
type Result struct {
	ChunkID      int64    `json:"chunkId"`
	JobID        int64    `json:"jobId"`
	Filename     string   `json:"filename"`
	ChunkIndex   int      `json:"chunkIndex"`
	Text         string   `json:"text"`
	TopicSummary string   `json:"topicSummary,omitempty"`
	Keywords     []string `json:"keywords"`
	StartTime    float64  `json:"startTime"`
	EndTime      float64  `json:"endTime"`
	// Score is cosine similarity in [-1, 1]; 1 is an exact match.
	Score float64 `json:"score"`
}

// Response is the search result envelope.
type Response struct {
	Query   string    `json:"query"`
	Results []*Result `json:"results"`
	Count   int       `json:"count"`
}
