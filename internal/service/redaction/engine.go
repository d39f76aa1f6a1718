// Package redaction finds and masks PII in transcripts: credit cards, phone
// numbers and emails by pattern, person names by entity detection.
package redaction

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"speech-audit-pipeline/internal/models"
	"speech-audit-pipeline/internal/observability/logging"
	"speech-audit-pipeline/internal/observability/metrics"
)

// ErrMalformedText is returned for input that is not valid UTF-8.
var ErrMalformedText = errors.New("malformed text")

// Config controls pattern validation.
type Config struct {
	// RequireLuhn rejects card numbers that fail the Luhn checksum.
	RequireLuhn bool
}

// placeholders per kind; names use the shorter PERSON tag.
var placeholders = map[models.PIIKind]string{
	models.PIICreditCard: "[REDACTED_CREDIT_CARD]",
	models.PIIPhone:      "[REDACTED_PHONE]",
	models.PIIEmail:      "[REDACTED_EMAIL]",
	models.PIIPersonName: "[REDACTED_PERSON]",
}

// Placeholder returns the replacement text for kind.
func Placeholder(kind models.PIIKind) string {
	if p, ok := placeholders[kind]; ok {
		return p
	}
	return "[REDACTED]"
}

// tie-break order when two matches start at the same offset with equal length
var kindPriority = map[models.PIIKind]int{
	models.PIICreditCard: 0,
	models.PIIPhone:      1,
	models.PIIEmail:      2,
	models.PIIPersonName: 3,
}

// Engine redacts PII. It is stateless apart from its detectors and safe for concurrent use.
type Engine struct {
	cfg       Config
	detectors []EntityDetector
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// New creates an Engine. With no detectors only patterns are applied.
func New(cfg Config, m *metrics.Metrics, detectors ...EntityDetector) *Engine {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Engine{
		cfg:       cfg,
		detectors: detectors,
		metrics:   m,
		logger:    logging.WithComponent("redaction"),
	}
}

// Redact detects PII in text and replaces every retained span with its
// placeholder. Entity detector failures are reported in Warnings and do not
// fail the call.
func (e *Engine) Redact(ctx context.Context, text string) (models.RedactedTranscript, error) {
	if !utf8.ValidString(text) {
		return models.RedactedTranscript{}, fmt.Errorf("%w: input is not valid UTF-8", ErrMalformedText)
	}
	start := time.Now()
	defer func() { e.metrics.RecordRedactionLatency(time.Since(start).Seconds()) }()

	out := models.RedactedTranscript{
		OriginalText: text,
		RedactedText: text,
		Matches:      []models.PIIMatch{},
	}
	if strings.TrimSpace(text) == "" {
		return out, nil
	}

	candidates := e.patternMatches(text)

	for _, d := range e.detectors {
		ents, err := d.Entities(ctx, text)
		if err != nil {
			e.metrics.RecordNERFailure()
			e.logger.Warn().Err(err).Str("detector", d.Name()).Msg("Entity detection failed")
			out.Warnings = append(out.Warnings, fmt.Sprintf("entity detector %s failed: %v", d.Name(), err))
			continue
		}
		for _, ent := range ents {
			if ent.Label != labelPerson || !validSpan(text, ent.Span) {
				continue
			}
			candidates = append(candidates, models.PIIMatch{
				Kind:         models.PIIPersonName,
				Span:         ent.Span,
				OriginalText: text[ent.Span.Start:ent.Span.End],
				Detector:     models.DetectorNER,
			})
		}
	}

	out.Matches = toCharSpans(text, Merge(candidates))
	out.RedactedText = Apply(text, out.Matches)

	for _, m := range out.Matches {
		e.metrics.RecordRedaction(string(m.Kind))
	}
	return out, nil
}

// patternMatches runs the regex detectors on digit-normalized text and maps
// the hits back to source offsets.
func (e *Engine) patternMatches(text string) []models.PIIMatch {
	norm := normalizeSpokenDigits(text)
	hits := detectPatterns(norm.text, e.cfg.RequireLuhn)

	out := make([]models.PIIMatch, 0, len(hits))
	for _, h := range hits {
		span := norm.sourceSpan(h.start, h.end)
		if !validSpan(text, span) {
			continue
		}
		out = append(out, models.PIIMatch{
			Kind:         h.kind,
			Span:         span,
			OriginalText: text[span.Start:span.End],
			Detector:     models.DetectorRegex,
		})
	}
	return out
}

// Merge sorts candidates by start and keeps the earliest of any intersecting
// group. At equal starts the longer span wins, then CREDIT_CARD, PHONE,
// EMAIL, PERSON_NAME. The result is sorted and non-overlapping.
func Merge(candidates []models.PIIMatch) []models.PIIMatch {
	sorted := append([]models.PIIMatch(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Span.Start != b.Span.Start {
			return a.Span.Start < b.Span.Start
		}
		if a.Span.Len() != b.Span.Len() {
			return a.Span.Len() > b.Span.Len()
		}
		return kindPriority[a.Kind] < kindPriority[b.Kind]
	})

	kept := make([]models.PIIMatch, 0, len(sorted))
	lastEnd := -1
	for _, m := range sorted {
		if m.Span.Len() <= 0 || m.Span.Start < lastEnd {
			continue
		}
		kept = append(kept, m)
		lastEnd = m.Span.End
	}
	return kept
}

// Apply replaces non-overlapping matches, whose spans are character
// offsets, in descending start order so earlier offsets stay valid. Spans
// outside text are skipped.
func Apply(text string, matches []models.PIIMatch) string {
	if len(matches) == 0 {
		return text
	}
	ordered := append([]models.PIIMatch(nil), matches...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Span.Start > ordered[j].Span.Start })

	offsets := runeOffsets(text)
	chars := len(offsets) - 1
	result := text
	for _, m := range ordered {
		if m.Span.Start < 0 || m.Span.End > chars || m.Span.Start >= m.Span.End {
			continue
		}
		result = result[:offsets[m.Span.Start]] + Placeholder(m.Kind) + result[offsets[m.Span.End]:]
	}
	return result
}

// toCharSpans converts byte spans on rune boundaries to character offsets.
func toCharSpans(text string, matches []models.PIIMatch) []models.PIIMatch {
	index := make([]int, len(text)+1)
	n := 0
	for i := range text {
		index[i] = n
		n++
	}
	index[len(text)] = n

	for i := range matches {
		matches[i].Span = models.Span{
			Start: index[matches[i].Span.Start],
			End:   index[matches[i].Span.End],
		}
	}
	return matches
}

// CountByKind tallies matches per kind.
func CountByKind(matches []models.PIIMatch) map[models.PIIKind]int {
	counts := make(map[models.PIIKind]int)
	for _, m := range matches {
		counts[m.Kind]++
	}
	return counts
}

func validSpan(text string, s models.Span) bool {
	return s.Start >= 0 && s.End <= len(text) && s.Start < s.End &&
		utf8.RuneStart(text[s.Start]) && (s.End == len(text) || utf8.RuneStart(text[s.End]))
}
