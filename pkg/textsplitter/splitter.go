// Package textsplitter segments text into sentence-aligned spans while
// preserving byte offsets into the source string. Offsets matter here:
// downstream chunk records map character positions back to audio
// timestamps, so spans must tile the input exactly.
package textsplitter

import (
	"unicode"
	"unicode/utf8"
)

// Span is a half-open [Start, End) byte range into the source text.
type Span struct {
	Start int
	End   int
}

type Config struct {
	// TargetChars is the soft size limit when grouping sentences into
	// spans. A single sentence longer than the target is kept whole.
	TargetChars int
}

func DefaultConfig() Config {
	return Config{TargetChars: 2000}
}

// Sentences splits text into sentence spans. A sentence ends at '.',
// '!' or '?' followed by whitespace; the trailing whitespace run is
// attached to the sentence it follows, so spans are contiguous and
// cover the entire input.
func Sentences(text string) []Span {
	if len(text) == 0 {
		return nil
	}

	var spans []Span
	start := 0
	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size

		if r != '.' && r != '!' && r != '?' {
			continue
		}

		// Only break when the terminator is followed by whitespace,
		// so "3.14" or "e.g.x" stay intact.
		next, nextSize := utf8.DecodeRuneInString(text[i:])
		if nextSize == 0 || !unicode.IsSpace(next) {
			continue
		}

		// Consume the whitespace run into this sentence.
		for i < len(text) {
			ws, wsSize := utf8.DecodeRuneInString(text[i:])
			if !unicode.IsSpace(ws) {
				break
			}
			i += wsSize
		}

		spans = append(spans, Span{Start: start, End: i})
		start = i
	}

	if start < len(text) {
		spans = append(spans, Span{Start: start, End: len(text)})
	}

	return spans
}

// Group merges adjacent sentence spans into larger spans of roughly
// TargetChars characters. The result still tiles the input: the first
// span starts at 0, the last ends at len(text), and consecutive spans
// share boundaries.
func Group(text string, cfg Config) []Span {
	if len(text) == 0 {
		return nil
	}
	if cfg.TargetChars <= 0 {
		cfg.TargetChars = DefaultConfig().TargetChars
	}

	sentences := Sentences(text)
	if len(sentences) == 0 {
		return []Span{{Start: 0, End: len(text)}}
	}

	var groups []Span
	current := sentences[0]
	for _, s := range sentences[1:] {
		if s.End-current.Start > cfg.TargetChars {
			groups = append(groups, current)
			current = s
			continue
		}
		current.End = s.End
	}
	groups = append(groups, current)

	return groups
}
