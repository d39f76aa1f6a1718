package redaction

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speech-audit-pipeline/internal/models"
	"speech-audit-pipeline/internal/observability/metrics"
)

// stubDetector returns fixed entities located by substring.
type stubDetector struct {
	persons []string
	err     error
}

func (s stubDetector) Name() string { return "stub" }

func (s stubDetector) Entities(_ context.Context, text string) ([]Entity, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []Entity
	for _, p := range s.persons {
		if i := strings.Index(text, p); i >= 0 {
			out = append(out, Entity{Label: labelPerson, Span: models.Span{Start: i, End: i + len(p)}})
		}
	}
	return out, nil
}

func newEngine(detectors ...EntityDetector) (*Engine, *metrics.Metrics) {
	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	return New(Config{}, m, detectors...), m
}

func TestRedact_SpokenCreditCard(t *testing.T) {
	e, _ := newEngine()
	text := "four five three two one two three four five six seven eight nine zero one zero"

	got, err := e.Redact(context.Background(), text)
	require.NoError(t, err)

	require.Len(t, got.Matches, 1)
	m := got.Matches[0]
	assert.Equal(t, models.PIICreditCard, m.Kind)
	assert.Equal(t, models.DetectorRegex, m.Detector)
	assert.Equal(t, text, m.OriginalText)
	assert.Equal(t, "4532123456789010", normalizeSpokenDigits(m.OriginalText).text)
	assert.Equal(t, "[REDACTED_CREDIT_CARD]", got.RedactedText)
}

func TestRedact_EndToEndCardAndName(t *testing.T) {
	text := "AI is a set of technologies. My name is Anna and my card is 4532 1234 5678 9010"

	for _, tc := range []struct {
		name     string
		detector EntityDetector
	}{
		{"stub detector", stubDetector{persons: []string{"Anna"}}},
		{"gazetteer", NewGazetteerDetector()},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e, m := newEngine(tc.detector)
			got, err := e.Redact(context.Background(), text)
			require.NoError(t, err)

			assert.Equal(t, map[models.PIIKind]int{models.PIICreditCard: 1, models.PIIPersonName: 1}, CountByKind(got.Matches))
			assert.Equal(t,
				"AI is a set of technologies. My name is [REDACTED_PERSON] and my card is [REDACTED_CREDIT_CARD]",
				got.RedactedText)
			assertWellFormed(t, text, got.Matches)
			assert.Equal(t, 1.0, testutil.ToFloat64(m.Redactions.WithLabelValues("CREDIT_CARD")))
		})
	}
}

func TestRedact_NoPIIRoundTrip(t *testing.T) {
	e, _ := newEngine(NewGazetteerDetector())
	for _, text := range []string{"", "   ", "thank you for calling, how can I help you today", "I have one dog"} {
		got, err := e.Redact(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, text, got.RedactedText)
		assert.Equal(t, text, got.OriginalText)
		assert.NotNil(t, got.Matches)
		assert.Empty(t, got.Matches)
	}
}

func TestRedact_MalformedText(t *testing.T) {
	e, _ := newEngine()
	_, err := e.Redact(context.Background(), "card \xff\xfe 4532")
	assert.True(t, errors.Is(err, ErrMalformedText))
}

func TestRedact_DetectorFailureIsWarning(t *testing.T) {
	e, m := newEngine(stubDetector{err: errors.New("connection refused")})

	got, err := e.Redact(context.Background(), "email me at anna@example.com")
	require.NoError(t, err)

	assert.Equal(t, "email me at [REDACTED_EMAIL]", got.RedactedText)
	require.Len(t, got.Warnings, 1)
	assert.Contains(t, got.Warnings[0], "connection refused")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NERFailures))
}

func TestRedact_OverlapPrefersEarliestThenLongest(t *testing.T) {
	e, _ := newEngine(NewGazetteerDetector())

	got, err := e.Redact(context.Background(), "write to Anna.Lee@example.com please")
	require.NoError(t, err)

	require.Len(t, got.Matches, 1)
	assert.Equal(t, models.PIIEmail, got.Matches[0].Kind)
	assert.Equal(t, "write to [REDACTED_EMAIL] please", got.RedactedText)
}

func TestRedact_InvalidDetectorSpansDropped(t *testing.T) {
	bad := detectorFunc(func(text string) []Entity {
		return []Entity{
			{Label: labelPerson, Span: models.Span{Start: -1, End: 2}},
			{Label: labelPerson, Span: models.Span{Start: 3, End: 999}},
			{Label: labelPerson, Span: models.Span{Start: 5, End: 5}},
			{Label: "ORG", Span: models.Span{Start: 0, End: 4}},
		}
	})
	e, _ := newEngine(bad)

	got, err := e.Redact(context.Background(), "José works here")
	require.NoError(t, err)
	assert.Empty(t, got.Matches)
}

func TestRedact_MatchesAreSortedAndDisjoint(t *testing.T) {
	e, _ := newEngine(NewGazetteerDetector(), stubDetector{persons: []string{"Lee at", "555"}})
	inputs := []string{
		"hi this is Anna Lee at 555-123-4567 or anna.lee@example.com, card 4532-1234-5678-9010",
		"call five five five one two three four five six seven, ask for Maria",
		"David said four five three two one two three four five six seven eight nine zero one zero twice",
		"no pii at all",
	}

	for _, text := range inputs {
		got, err := e.Redact(context.Background(), text)
		require.NoError(t, err)
		assertWellFormed(t, text, got.Matches)
		assert.Equal(t, Apply(text, got.Matches), got.RedactedText)
	}
}

func TestMerge(t *testing.T) {
	span := func(s, e int) models.Span { return models.Span{Start: s, End: e} }
	candidates := []models.PIIMatch{
		{Kind: models.PIIPersonName, Span: span(10, 14)},
		{Kind: models.PIIPhone, Span: span(0, 12)},
		{Kind: models.PIICreditCard, Span: span(0, 12)},
		{Kind: models.PIIEmail, Span: span(0, 5)},
		{Kind: models.PIIPersonName, Span: span(12, 16)},
		{Kind: models.PIIPersonName, Span: span(20, 20)},
	}

	got := Merge(candidates)

	require.Len(t, got, 2)
	assert.Equal(t, models.PIICreditCard, got[0].Kind, "equal span ties go to the card")
	assert.Equal(t, span(12, 16), got[1].Span, "adjacent span is kept")
	assert.Len(t, candidates, 6, "input must not be modified")
}

func TestApply_DescendingReplacement(t *testing.T) {
	text := "Anna 555-123-4567"
	matches := []models.PIIMatch{
		{Kind: models.PIIPersonName, Span: models.Span{Start: 0, End: 4}},
		{Kind: models.PIIPhone, Span: models.Span{Start: 5, End: 17}},
	}
	assert.Equal(t, "[REDACTED_PERSON] [REDACTED_PHONE]", Apply(text, matches))
}

func assertWellFormed(t *testing.T, text string, matches []models.PIIMatch) {
	t.Helper()
	for i, m := range matches {
		assert.Equal(t, string([]rune(text)[m.Span.Start:m.Span.End]), m.OriginalText)
		if i > 0 {
			prev := matches[i-1]
			assert.LessOrEqual(t, prev.Span.End, m.Span.Start, "matches %d and %d overlap", i-1, i)
			assert.False(t, prev.Span.Overlaps(m.Span))
		}
	}
}

type detectorFunc func(text string) []Entity

func (f detectorFunc) Name() string { return "func" }

func (f detectorFunc) Entities(_ context.Context, text string) ([]Entity, error) {
	return f(text), nil
}

func TestRedact_SpansCountCharacters(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		persons  []string
		want     []models.Span
		redacted string
	}{
		{
			name:     "accented prefix before card",
			text:     "José paid with 4532 1234 5678 9010",
			want:     []models.Span{{Start: 15, End: 34}},
			redacted: "José paid with [REDACTED_CREDIT_CARD]",
		},
		{
			name:     "name and phone after multibyte rune",
			text:     "Zoë met Anna at 555-123-4567",
			persons:  []string{"Anna"},
			want:     []models.Span{{Start: 8, End: 12}, {Start: 16, End: 28}},
			redacted: "Zoë met [REDACTED_PERSON] at [REDACTED_PHONE]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newEngine(stubDetector{persons: tt.persons})

			got, err := e.Redact(context.Background(), tt.text)
			require.NoError(t, err)

			require.Len(t, got.Matches, len(tt.want))
			for i, m := range got.Matches {
				assert.Equal(t, tt.want[i], m.Span)
			}
			assertWellFormed(t, tt.text, got.Matches)
			assert.Equal(t, tt.redacted, got.RedactedText)
		})
	}
}

func TestApply_SkipsOutOfRangeSpans(t *testing.T) {
	text := "Zoë 555-123-4567"
	matches := []models.PIIMatch{
		{Kind: models.PIIPhone, Span: models.Span{Start: 4, End: 16}},
		{Kind: models.PIIPersonName, Span: models.Span{Start: 10, End: 40}},
	}
	assert.Equal(t, "Zoë [REDACTED_PHONE]", Apply(text, matches))
}

func TestRedact_KeepsOrganizationsAfterCues(t *testing.T) {
	e, _ := newEngine(NewGazetteerDetector())

	text := "Is this Google support? This is Visa calling"
	got, err := e.Redact(context.Background(), text)
	require.NoError(t, err)
	assert.Empty(t, got.Matches)
	assert.Equal(t, text, got.RedactedText)
}
