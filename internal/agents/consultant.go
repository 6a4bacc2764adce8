package agents

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/missiond/internal/extai"
	"github.com/fyrsmithlabs/missiond/internal/mission"
)

// ExternalGate is the checkpoint consultant tasks go through. Satisfied by
// *extai.Gate.
type ExternalGate interface {
	Invoke(ctx context.Context, req extai.Request) (extai.Response, error)
}

// ConsultantAgent handles tasks that need a frontier model's judgment:
// design reviews, tricky debugging, architecture questions. Every call runs
// through the external AI gate; it never generates primary source.
type ConsultantAgent struct {
	gate   ExternalGate
	model  string
	logger *zap.Logger
}

// NewConsultantAgent creates the consultant. model is the external model to
// request.
func NewConsultantAgent(gate ExternalGate, model string, logger *zap.Logger) *ConsultantAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsultantAgent{gate: gate, model: model, logger: logger}
}

// Type returns the agent's type tag.
func (a *ConsultantAgent) Type() string { return "consultant" }

// Execute routes the task through the external AI gate.
func (a *ConsultantAgent) Execute(ctx context.Context, m *mission.Mission, t *mission.Task, memoryContext string) (string, error) {
	prompt := t.Prompt
	if memoryContext != "" {
		prompt = memoryContext + "\n" + prompt
	}

	resp, err := a.gate.Invoke(ctx, extai.Request{
		MissionID:     m.ID,
		Provider:      "openai",
		Model:         a.model,
		Purpose:       "consultation",
		Justification: fmt.Sprintf("task %q needs judgment beyond local models: %s", t.ID, t.Title),
		Prompt:        prompt,
	})
	if err != nil {
		return "", fmt.Errorf("consultation for task %s rejected: %w", t.ID, err)
	}

	a.logger.Info("consultation completed",
		zap.String("task_id", t.ID),
		zap.Bool("cached", resp.Cached),
		zap.Float64("cost_usd", resp.CostUSD),
	)
	return resp.Text, nil
}
