// Package mock provides a scripted STT engine for development and tests
// without cloud credentials or a local model.
package mock

import (
	"context"
	"sync"
	"time"

	"speech-audit-pipeline/internal/models"
	"speech-audit-pipeline/internal/service/stt"
)

// Step is the scripted response to one Transcribe call.
type Step struct {
	Text       string
	Confidence float64
	Err        error
	Delay      time.Duration // simulated processing time, honors ctx
}

// DefaultScript provides sample transcripts for local runs.
var DefaultScript = []Step{
	{Text: "I want to cancel my subscription", Confidence: 0.94},
	{Text: "Yes please go ahead", Confidence: 0.97},
	{Text: "Can you help me with my account", Confidence: 0.91},
	{Text: "I've been waiting for over an hour", Confidence: 0.89},
	{Text: "Thank you very much", Confidence: 0.98},
}

// Adapter implements stt.Engine with scripted responses.
// Calls consume steps in order; once exhausted the last step repeats.
type Adapter struct {
	name string

	mu     sync.Mutex
	script []Step
	calls  int
}

// New creates a scripted engine. With no steps it cycles through DefaultScript.
func New(name string, steps ...Step) *Adapter {
	return &Adapter{name: name, script: steps}
}

// Name implements stt.Engine.
func (a *Adapter) Name() string { return a.name }

// Transcribe returns the next scripted step.
func (a *Adapter) Transcribe(ctx context.Context, _ stt.Audio) (models.EngineOutcome, error) {
	a.mu.Lock()
	step := a.next()
	a.calls++
	a.mu.Unlock()

	if step.Delay > 0 {
		select {
		case <-time.After(step.Delay):
		case <-ctx.Done():
			return models.EngineOutcome{}, ctx.Err()
		}
	}

	if step.Err != nil {
		return models.EngineOutcome{}, step.Err
	}
	return models.EngineOutcome{
		Text:       step.Text,
		Confidence: step.Confidence,
		Succeeded:  true,
	}, nil
}

// Calls returns how many times Transcribe was invoked.
func (a *Adapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func (a *Adapter) next() Step {
	if len(a.script) == 0 {
		return DefaultScript[a.calls%len(DefaultScript)]
	}
	if a.calls < len(a.script) {
		return a.script[a.calls]
	}
	return a.script[len(a.script)-1]
}
