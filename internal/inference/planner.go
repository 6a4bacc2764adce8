package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/missiond/internal/mission"
)

// Generator produces text from a prompt. Satisfied by *Service.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// planPrompt instructs the model to emit a JSON task plan.
const planPrompt = `You are a software mission planner. Break the objective below into
concrete tasks for coding agents.

Respond with JSON only, in this shape:
{
  "tasks": [
    {
      "id": "short-slug",
      "title": "one line summary",
      "prompt": "full instructions for the agent",
      "agent_type": "coder",
      "depends_on": ["other-task-id"],
      "optional": false
    }
  ]
}

Rules:
- Task IDs must be unique short slugs.
- depends_on may only reference task IDs in this plan.
- Mark a task optional only if the mission can succeed without it.

Objective:
%s`

type planDocument struct {
	Tasks []planTask `json:"tasks"`
}

type planTask struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Prompt    string   `json:"prompt"`
	AgentType string   `json:"agent_type"`
	DependsOn []string `json:"depends_on"`
	Optional  bool     `json:"optional"`
}

// Planner turns a mission objective into a task plan.
type Planner struct {
	generator Generator
	logger    *zap.Logger
}

// NewPlanner creates a planner. A nil logger is replaced with a no-op logger.
func NewPlanner(generator Generator, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{generator: generator, logger: logger}
}

// Plan asks the model for a task breakdown of the objective. memoryContext,
// when non-empty, is appended to the prompt so prior decisions and playbooks
// inform the plan.
//
// If the model's output cannot be parsed as a plan, a single fallback task
// carrying the whole objective is returned so the mission can still proceed.
func (p *Planner) Plan(ctx context.Context, m *mission.Mission, memoryContext string) ([]*mission.Task, error) {
	prompt := fmt.Sprintf(planPrompt, m.Objective)
	if memoryContext != "" {
		prompt += "\n\n" + memoryContext
	}

	out, err := p.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("plan generation failed: %w", err)
	}

	tasks, parseErr := ParsePlan(m.ID, out)
	if parseErr != nil {
		p.logger.Warn("plan output unparseable, falling back to single task",
			zap.String("mission_id", m.ID),
			zap.Error(parseErr),
		)
		return []*mission.Task{fallbackTask(m)}, nil
	}
	return tasks, nil
}

// ParsePlan extracts the task plan from model output.
//
// The model may wrap JSON in code fences or prose; the first balanced JSON
// object is used. Validation rejects duplicate IDs and unknown dependencies.
func ParsePlan(missionID, output string) ([]*mission.Task, error) {
	raw, err := extractJSON(output)
	if err != nil {
		return nil, err
	}

	var doc planDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("invalid plan JSON: %w", err)
	}
	if len(doc.Tasks) == 0 {
		return nil, fmt.Errorf("plan contains no tasks")
	}

	seen := make(map[string]bool, len(doc.Tasks))
	for _, t := range doc.Tasks {
		if t.ID == "" {
			return nil, fmt.Errorf("plan task with empty id")
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("duplicate task id %q", t.ID)
		}
		seen[t.ID] = true
	}
	for _, t := range doc.Tasks {
		for _, dep := range t.DependsOn {
			if !seen[dep] {
				return nil, fmt.Errorf("task %q depends on unknown task %q", t.ID, dep)
			}
		}
	}

	tasks := make([]*mission.Task, len(doc.Tasks))
	for i, t := range doc.Tasks {
		agentType := t.AgentType
		if agentType == "" {
			agentType = "coder"
		}
		tasks[i] = &mission.Task{
			ID:        t.ID,
			MissionID: missionID,
			Title:     t.Title,
			Prompt:    t.Prompt,
			AgentType: agentType,
			DependsOn: t.DependsOn,
			Optional:  t.Optional,
			Status:    mission.TaskPending,
		}
	}
	return tasks, nil
}

func fallbackTask(m *mission.Mission) *mission.Task {
	return &mission.Task{
		ID:        "objective-" + uuid.NewString()[:8],
		MissionID: m.ID,
		Title:     m.Title,
		Prompt:    m.Objective,
		AgentType: "coder",
		Status:    mission.TaskPending,
	}
}

// extractJSON returns the first balanced top-level JSON object in s.
func extractJSON(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object in output")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object in output")
}
