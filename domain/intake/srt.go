package intake

import (
	"fmt"
	"strings"

	"github.com/skald-labs/skald/domain/jobs"
)

// FormatSRT renders transcript segments as SubRip subtitles: 1-based
// sequence numbers, HH:MM:SS,mmm timestamps, a blank line after every
// entry including the last. No BOM, LF line endings. Segments whose
// text trims to empty produce no entry; the survivors renumber so the
// sequence stays contiguous.
func FormatSRT(segments []jobs.Segment) string {
	var sb strings.Builder

	index := 1
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}

		fmt.Fprintf(&sb, "%d\n%s --> %s\n%s\n\n",
			index, formatTimestamp(seg.Start), formatTimestamp(seg.End), text)
		index++
	}

	return sb.String()
}

// formatTimestamp renders seconds as HH:MM:SS,mmm. SubRip uses a comma
// as the decimal separator.
func formatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}

	millis := int64(seconds*1000 + 0.5)
	h := millis / 3600000
	millis -= h * 3600000
	m := millis / 60000
	millis -= m * 60000
	s := millis / 1000
	ms := millis % 1000

	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
