// Package models defines the data structures passed between pipeline stages.
package models

// EngineID identifies which transcription engine produced a result.
type EngineID string

const (
	EnginePrimary  EngineID = "PRIMARY"
	EngineFallback EngineID = "FALLBACK"
	EngineNone     EngineID = "NONE"
)

// Tier is the reliability bucket of a ConfidenceScore.
type Tier string

const (
	TierHigh       Tier = "HIGH"
	TierMedium     Tier = "MEDIUM"
	TierLow        Tier = "LOW"
	TierUnreliable Tier = "UNRELIABLE"
)

// Component keys of ConfidenceScore.Components.
const (
	ComponentAPIConfidence = "apiConfidence"
	ComponentSNR           = "snr"
	ComponentPerplexity    = "perplexity"
)

// AudioQualityMetrics holds objective quality measurements of one input.
type AudioQualityMetrics struct {
	SNRDb           float64 `json:"snrDb"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// WordConfidence is one recognized word and the engine's confidence in it.
type WordConfidence struct {
	Word       string  `json:"word"`
	Confidence float64 `json:"confidence"`
}

// EngineOutcome is the raw output of a single engine call.
type EngineOutcome struct {
	Text              string           `json:"text"`
	Confidence        float64          `json:"confidence"` // per-utterance, 0 when unreported
	PerWordConfidence []WordConfidence `json:"perWordConfidence,omitempty"`
	EngineID          EngineID         `json:"engineId"`
	Succeeded         bool             `json:"succeeded"`
	FailureReason     string           `json:"failureReason,omitempty"`
}

// APIConfidence returns the engine-reported utterance confidence, falling back
// to the mean of the per-word confidences. The result is clamped to [0,1].
func (o EngineOutcome) APIConfidence() float64 {
	c := o.Confidence
	if c <= 0 && len(o.PerWordConfidence) > 0 {
		var sum float64
		for _, w := range o.PerWordConfidence {
			sum += w.Confidence
		}
		c = sum / float64(len(o.PerWordConfidence))
	}
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// ConfidenceScore is the combined reliability score of a transcript.
type ConfidenceScore struct {
	Value      float64            `json:"value" validate:"gte=0,lte=1"`
	Tier       Tier               `json:"tier" validate:"oneof=HIGH MEDIUM LOW UNRELIABLE"`
	Components map[string]float64 `json:"components"`
}

// Attempt records one engine invocation for provenance.
type Attempt struct {
	Engine    EngineID `json:"engine"`
	Number    int      `json:"number"`
	Succeeded bool     `json:"succeeded"`
	Error     string   `json:"error,omitempty"`
	LatencyMs int64    `json:"latencyMs"`
}

// TranscriptionResult is the orchestrator's final answer for one run.
type TranscriptionResult struct {
	Text          string          `json:"text"`
	Confidence    ConfidenceScore `json:"confidence"`
	APIConfidence float64         `json:"apiConfidence"`
	Perplexity    float64         `json:"perplexity"`
	EngineUsed    EngineID        `json:"engineUsed"`
	IsEmpty       bool            `json:"isEmpty"`
	Attempts      []Attempt       `json:"attempts,omitempty"`
	// States is the orchestrator path, INIT first and a terminal state last.
	States   []string `json:"states,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// TranscriptEvent is published for every completed run carrying the redacted text.
type TranscriptEvent struct {
	EventType    string   `json:"eventType"`
	RunID        string   `json:"runId"`
	InputFile    string   `json:"inputFile"`
	Timestamp    int64    `json:"timestamp"`
	EngineUsed   EngineID `json:"engineUsed"`
	Tier         Tier     `json:"tier"`
	RedactedText string   `json:"redactedText"`
	Summary      string   `json:"summary"`
}
