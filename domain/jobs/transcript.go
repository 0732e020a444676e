package jobs

import "strings"

// CanonicalTranscript builds the transcript string that chunk offsets
// refer to: each segment's text trimmed of surrounding whitespace,
// joined with a single space. Every consumer of character positions
// (chunking, search results, downloads) must derive the text this way
// or offsets stop lining up.
func CanonicalTranscript(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		trimmed := strings.TrimSpace(seg.Text)
		if trimmed == "" {
			continue
		}
		parts = append(parts, trimmed)
	}
	return strings.Join(parts, " ")
}

// SegmentSpan is the half-open character range a segment occupies in
// the canonical transcript.
type SegmentSpan struct {
	Segment Segment
	Start   int
	End     int
}

// SegmentSpans maps each non-empty segment to its character range in
// the canonical transcript. Empty segments are skipped, matching
// CanonicalTranscript.
func SegmentSpans(segments []Segment) []SegmentSpan {
	var spans []SegmentSpan
	pos := 0
	for _, seg := range segments {
		trimmed := strings.TrimSpace(seg.Text)
		if trimmed == "" {
			continue
		}
		if len(spans) > 0 {
			pos++ // joining space
		}
		spans = append(spans, SegmentSpan{
			Segment: seg,
			Start:   pos,
			End:     pos + len(trimmed),
		})
		pos += len(trimmed)
	}
	return spans
}
