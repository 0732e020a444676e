package chunking

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/skald-labs/skald/domain/chunks"
	"github.com/skald-labs/skald/domain/jobs"
	"github.com/skald-labs/skald/internal/config"
	"github.com/skald-labs/skald/pkg/llm"
	"github.com/skald-labs/skald/pkg/logger"
	"github.com/skald-labs/skald/pkg/textsplitter"
)

// Chunking methods recorded alongside the result.
const (
	MethodOracle           = "oracle"
	MethodSentenceFallback = "sentence_fallback"
)

// Service turns a transcript into semantic chunks. It asks the LLM
// oracle for topic boundaries first and falls back to deterministic
// sentence grouping when the oracle is unavailable, times out, or
// keeps returning garbage.
type Service struct {
	provider llm.Provider
	cfg      config.ChunkingConfig
	tpl      *promptTemplate
	log      *slog.Logger
}

// NewService creates the chunking service
func NewService(provider llm.Provider, cfg *config.Config, log *slog.Logger) *Service {
	s := &Service{
		provider: provider,
		cfg:      cfg.Chunking,
		log:      log.With(logger.Scope("chunking")),
	}

	if s.cfg.PromptFile != "" {
		tpl, err := loadPromptTemplate(s.cfg.PromptFile)
		if err != nil {
			s.log.Warn("ignoring oracle prompt template override", logger.Error(err))
		} else {
			s.tpl = tpl
		}
	}

	return s
}

// ChunkTranscript chunks the canonical transcript built from segments.
// It returns the chunk rows (indices and positions set, embeddings
// empty) plus the method that produced them.
func (s *Service) ChunkTranscript(ctx context.Context, transcript string, segments []jobs.Segment) ([]*chunks.Chunk, string, error) {
	if transcript == "" {
		return nil, MethodSentenceFallback, nil
	}

	spans := jobs.SegmentSpans(segments)

	oracleChunks, err := s.askOracle(ctx, transcript)
	if err == nil {
		return s.build(transcript, spans, oracleChunks), MethodOracle, nil
	}
	if ctx.Err() != nil {
		// Caller is gone; don't paper over cancellation with fallback output.
		return nil, "", ctx.Err()
	}

	s.log.Warn("oracle chunking failed, using sentence fallback", logger.Error(err))

	fallback := s.sentenceFallback(transcript)
	return s.build(transcript, spans, fallback), MethodSentenceFallback, nil
}

// askOracle runs the oracle attempt loop within the configured time
// budget. The budget covers all attempts together, not each one.
func (s *Service) askOracle(ctx context.Context, transcript string) ([]OracleChunk, error) {
	if s.provider == nil || !s.provider.IsConfigured() {
		return nil, errOracleUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OracleTimeout())
	defer cancel()

	prompt := buildPrompt(transcript, s.cfg.MaxTokens)
	if s.tpl != nil {
		prompt = s.tpl.render(transcript, s.cfg.MaxTokens)
	}

	var lastErr error
	attempts := s.cfg.OracleRetries
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		started := time.Now()

		raw, err := s.provider.Complete(ctx, prompt)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.log.Warn("oracle attempt failed",
				slog.Int("attempt", attempt), logger.Error(err))
			continue
		}

		parsed, err := parseOracleResponse(raw)
		if err != nil {
			lastErr = err
			s.log.Warn("oracle returned unparseable output",
				slog.Int("attempt", attempt), logger.Error(err))
			continue
		}

		repaired, err := repairBoundaries(parsed, len(transcript), s.cfg.SnapGapChars)
		if err != nil {
			lastErr = err
			s.log.Warn("oracle boundaries unusable",
				slog.Int("attempt", attempt), logger.Error(err))
			continue
		}

		s.log.Debug("oracle chunking succeeded",
			slog.Int("attempt", attempt),
			slog.Int("chunks", len(repaired)),
			slog.Duration("elapsed", time.Since(started)))
		return repaired, nil
	}

	return nil, lastErr
}

// sentenceFallback groups sentences up to roughly MaxTokens worth of
// text per chunk. It is fully deterministic: the same transcript always
// yields the same chunk set.
func (s *Service) sentenceFallback(transcript string) []OracleChunk {
	spans := textsplitter.Group(transcript, textsplitter.Config{
		TargetChars: s.cfg.MaxTokens * 4,
	})

	out := make([]OracleChunk, 0, len(spans))
	for _, span := range spans {
		out = append(out, OracleChunk{
			StartPos:   span.Start,
			EndPos:     span.End,
			Topic:      "",
			Keywords:   []string{},
			Confidence: 0,
		})
	}
	return out
}

// build materializes chunk rows from boundaries: slices the transcript,
// trims the text, and maps character positions back to audio times via
// the segment spans.
func (s *Service) build(transcript string, spans []jobs.SegmentSpan, boundaries []OracleChunk) []*chunks.Chunk {
	out := make([]*chunks.Chunk, 0, len(boundaries))
	var prevEnd float64
	for i, b := range boundaries {
		text := strings.TrimSpace(transcript[b.StartPos:b.EndPos])
		if text == "" {
			continue
		}

		keywords := b.Keywords
		if keywords == nil {
			keywords = []string{}
		}

		startTime, endTime, ok := mapTimes(spans, b.StartPos, b.EndPos)
		if !ok {
			// The range maps to no audio at all; pin the chunk where the
			// previous one ended so times stay monotonic.
			startTime, endTime = prevEnd, prevEnd
		}
		prevEnd = endTime

		out = append(out, &chunks.Chunk{
			ChunkIndex:   i,
			Text:         text,
			TopicSummary: b.Topic,
			Keywords:     pq.StringArray(keywords),
			Confidence:   b.Confidence,
			StartTime:    startTime,
			EndTime:      endTime,
			StartCharPos: b.StartPos,
			EndCharPos:   b.EndPos,
		})
	}

	// Dropped all-whitespace slices leave index holes; renumber.
	for i, c := range out {
		c.ChunkIndex = i
	}
	return out
}

// mapTimes finds the audio interval covering the character range
// [startPos, endPos). Start time comes from the segment containing
// startPos, end time from the segment containing the last character.
// When only one endpoint lands inside a segment the other clamps to the
// transcript's bounds; when neither does, ok is false and the caller
// decides what the range means.
func mapTimes(spans []jobs.SegmentSpan, startPos, endPos int) (startTime, endTime float64, ok bool) {
	if len(spans) == 0 {
		return 0, 0, false
	}

	var foundStart, foundEnd bool

	for _, span := range spans {
		if startPos >= span.Start && startPos < span.End {
			startTime = span.Segment.Start
			foundStart = true
			break
		}
	}
	last := endPos - 1
	for _, span := range spans {
		if last >= span.Start && last < span.End {
			endTime = span.Segment.End
			foundEnd = true
			break
		}
	}

	if !foundStart && !foundEnd {
		return 0, 0, false
	}
	if !foundStart {
		startTime = spans[0].Segment.Start
	}
	if !foundEnd {
		endTime = spans[len(spans)-1].Segment.End
	}
	return startTime, endTime, true
}

// repairBoundaries normalizes oracle output into a strictly ordered,
// gapless cover of [0, textLen):
//   - sort by start position, drop inverted or out-of-range chunks
//   - force the first chunk to start at 0
//   - snap small gaps shut by extending the previous chunk; larger
//     gaps extend the next chunk backwards so no text is lost
//   - clamp overlaps by moving the next chunk's start forward
//   - force the last chunk to end at textLen
//
// If nothing survives, the output is rejected and the caller retries
// or falls back.
func repairBoundaries(in []OracleChunk, textLen, snapGap int) ([]OracleChunk, error) {
	kept := make([]OracleChunk, 0, len(in))
	for _, c := range in {
		if c.StartPos < 0 {
			c.StartPos = 0
		}
		if c.EndPos > textLen {
			c.EndPos = textLen
		}
		if c.EndPos <= c.StartPos {
			continue
		}
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		return nil, errNoUsableChunks
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].StartPos < kept[j].StartPos
	})

	kept[0].StartPos = 0

	for i := 1; i < len(kept); i++ {
		prev := &kept[i-1]
		cur := &kept[i]

		switch {
		case cur.StartPos > prev.EndPos:
			gap := cur.StartPos - prev.EndPos
			if gap <= snapGap {
				prev.EndPos = cur.StartPos
			} else {
				cur.StartPos = prev.EndPos
			}
		case cur.StartPos < prev.EndPos:
			cur.StartPos = prev.EndPos
		}

		if cur.EndPos <= cur.StartPos {
			// Overlap clamping swallowed this chunk entirely.
			kept = append(kept[:i], kept[i+1:]...)
			i--
		}
	}

	kept[len(kept)-1].EndPos = textLen
	return kept, nil
}
