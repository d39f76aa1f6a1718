package models

// PIIKind is the category of a sensitive span.
type PIIKind string

const (
	PIICreditCard PIIKind = "CREDIT_CARD"
	PIIPhone      PIIKind = "PHONE"
	PIIEmail      PIIKind = "EMAIL"
	PIIPersonName PIIKind = "PERSON_NAME"
)

// Detector names the detector that produced a PIIMatch.
type Detector string

const (
	DetectorRegex Detector = "REGEX"
	DetectorNER   Detector = "NER"
)

// Span is a half-open range [Start, End) into the source text. PIIMatch spans
// count characters (Unicode code points), not bytes.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the length of the span in its own units.
func (s Span) Len() int { return s.End - s.Start }

// Overlaps reports whether two half-open spans intersect.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// PIIMatch is one detected sensitive span.
type PIIMatch struct {
	Kind         PIIKind  `json:"kind"`
	Span         Span     `json:"span"`
	OriginalText string   `json:"originalText"`
	Detector     Detector `json:"detector"`
}

// RedactedTranscript is the redaction engine's output.
type RedactedTranscript struct {
	OriginalText string     `json:"originalText"`
	RedactedText string     `json:"redactedText"`
	Matches      []PIIMatch `json:"matches"`
	Warnings     []string   `json:"warnings,omitempty"`
}
