package models

import "time"

// AuditRecord is the structured record of one pipeline run.
// It is written exactly once and never mutated afterwards.
type AuditRecord struct {
	RunID                string          `json:"runId" validate:"required"`
	InputFile            string          `json:"inputFile"`
	TimestampUTC         time.Time       `json:"timestampUtc" validate:"required"`
	InputDurationSeconds float64         `json:"inputDurationSeconds" validate:"gte=0"`
	SNRDb                float64         `json:"snrDb"`
	Confidence           ConfidenceScore `json:"confidence"`
	APIConfidence        float64         `json:"apiConfidence" validate:"gte=0,lte=1"`
	Perplexity           float64         `json:"perplexity" validate:"gte=0"`
	EngineUsed           EngineID        `json:"engineUsed" validate:"oneof=PRIMARY FALLBACK NONE"`
	Attempts             []Attempt       `json:"attempts"`
	States               []string        `json:"states"`
	RedactionCount       int             `json:"redactionCount" validate:"gte=0"`
	RedactionsByKind     map[PIIKind]int `json:"redactionsByKind"`
	SummaryLength        int             `json:"summaryLength" validate:"gte=0"`
	Errors               []string        `json:"errors"`
}
