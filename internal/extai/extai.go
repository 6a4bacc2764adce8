// Package extai gates every call to an external AI provider behind scope
// policy, budget accounting, response caching, human approval and an
// append-only audit trail.
package extai

import (
	"context"
	"time"
)

// Request describes one proposed external AI call.
type Request struct {
	MissionID     string
	Provider      string
	Model         string
	Purpose       string
	Justification string
	Prompt        string

	// EstimatedCostUSD is checked against the budgets before the call.
	EstimatedCostUSD float64
}

// Response is the provider's answer plus usage accounting.
type Response struct {
	Text       string
	TokensUsed int
	CostUSD    float64

	// Cached is true when the response was served from the gate's cache.
	Cached bool
}

// Provider performs the actual external AI call once the gate allows it.
type Provider interface {
	// Name identifies the provider in audit records.
	Name() string

	// Call sends the prompt and returns the response with usage data.
	Call(ctx context.Context, model, prompt string) (Response, error)
}

// Clock abstracts time for budget-window and cache-expiry tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }
