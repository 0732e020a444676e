package chunking

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	errOracleUnavailable = errors.New("chunking oracle not configured")
	errNoUsableChunks    = errors.New("no usable chunks after boundary repair")
)

// OracleChunk is one chunk boundary proposed by the LLM oracle.
// Positions are character offsets into the canonical transcript.
type OracleChunk struct {
	StartPos   int      `json:"start_pos"`
	EndPos     int      `json:"end_pos"`
	Topic      string   `json:"topic"`
	Keywords   []string `json:"keywords"`
	Confidence float64  `json:"confidence"`
}

type oracleResponse struct {
	Chunks []OracleChunk `json:"chunks"`
}

var thinkTagRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// buildPrompt asks the model for topical chunk boundaries as strict
// JSON. The transcript is embedded verbatim; offsets in the reply must
// index into exactly this string.
func buildPrompt(transcript string, maxTokens int) string {
	var sb strings.Builder
	sb.WriteString("Split the transcript below into topically coherent chunks.\n")
	sb.WriteString(fmt.Sprintf("Each chunk should cover roughly %d tokens or less and must not cut sentences in half.\n", maxTokens))
	sb.WriteString("Respond with ONLY a JSON object of this exact shape, no prose, no markdown fences:\n")
	sb.WriteString(`{"chunks":[{"start_pos":0,"end_pos":120,"topic":"short topic summary","keywords":["k1","k2"],"confidence":0.9}]}`)
	sb.WriteString("\n\nRules:\n")
	sb.WriteString("- start_pos and end_pos are character offsets into the transcript (end exclusive)\n")
	sb.WriteString("- chunks must be in order, non-overlapping, and together cover the whole transcript\n")
	sb.WriteString("- confidence is your 0..1 estimate that the boundary is a real topic change\n")
	sb.WriteString("\nTranscript:\n")
	sb.WriteString(transcript)
	return sb.String()
}

// parseOracleResponse extracts the chunk list from raw model output.
// Reasoning models wrap deliberation in <think> tags and some models
// add prose around the JSON object; both are stripped before decoding.
func parseOracleResponse(raw string) ([]OracleChunk, error) {
	cleaned := thinkTagRe.ReplaceAllString(raw, "")

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in oracle response")
	}

	var resp oracleResponse
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &resp); err != nil {
		return nil, fmt.Errorf("decode oracle response: %w", err)
	}
	if len(resp.Chunks) == 0 {
		return nil, fmt.Errorf("oracle returned no chunks")
	}

	return resp.Chunks, nil
}
