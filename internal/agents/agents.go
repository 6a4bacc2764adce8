// Package agents resolves mission tasks to the agents that execute them.
package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/missiond/internal/inference"
	"github.com/fyrsmithlabs/missiond/internal/mission"
)

// Agent executes one task and returns its output.
type Agent interface {
	// Type is the agent type tag tasks reference.
	Type() string

	// Execute performs the task. memoryContext may be empty.
	Execute(ctx context.Context, m *mission.Mission, t *mission.Task, memoryContext string) (string, error)
}

// UnknownAgentError reports a task referencing an unregistered agent type.
type UnknownAgentError struct {
	AgentType string
	Known     []string
}

func (e *UnknownAgentError) Error() string {
	return fmt.Sprintf("unknown agent type %q (registered: %s)",
		e.AgentType, strings.Join(e.Known, ", "))
}

// Registry maps agent type tags to agents. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register adds an agent under its type tag, replacing any previous agent of
// the same type.
func (r *Registry) Register(agent Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[agent.Type()] = agent
}

// Resolve returns the agent for a type tag.
func (r *Registry) Resolve(agentType string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[agentType]
	if !ok {
		known := make([]string, 0, len(r.agents))
		for t := range r.agents {
			known = append(known, t)
		}
		sort.Strings(known)
		return nil, &UnknownAgentError{AgentType: agentType, Known: known}
	}
	return agent, nil
}

// Types returns the registered type tags, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.agents))
	for t := range r.agents {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// LLMAgent executes tasks by prompting a local model.
type LLMAgent struct {
	agentType string
	role      string
	generator inference.Generator
	logger    *zap.Logger
}

// NewLLMAgent creates an agent backed by the inference service. role is a
// short description of the agent's specialty included in its prompts.
func NewLLMAgent(agentType, role string, generator inference.Generator, logger *zap.Logger) *LLMAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMAgent{agentType: agentType, role: role, generator: generator, logger: logger}
}

// Type returns the agent's type tag.
func (a *LLMAgent) Type() string { return a.agentType }

// Execute prompts the model with the task, mission objective and any
// retrieved memory.
func (a *LLMAgent) Execute(ctx context.Context, m *mission.Mission, t *mission.Task, memoryContext string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a %s agent working on a software mission.\n\n", a.role)
	fmt.Fprintf(&b, "Mission objective:\n%s\n\n", m.Objective)
	if memoryContext != "" {
		b.WriteString(memoryContext)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Your task:\n%s\n", t.Prompt)

	out, err := a.generator.Generate(ctx, b.String())
	if err != nil {
		return "", fmt.Errorf("agent %s failed on task %s: %w", a.agentType, t.ID, err)
	}

	a.logger.Debug("agent task finished",
		zap.String("agent_type", a.agentType),
		zap.String("task_id", t.ID),
		zap.Int("output_len", len(out)),
	)
	return out, nil
}

// RegisterDefaults registers the standard agent set against a generator.
func RegisterDefaults(registry *Registry, generator inference.Generator, logger *zap.Logger) {
	registry.Register(NewLLMAgent("coder", "software engineering", generator, logger))
	registry.Register(NewLLMAgent("reviewer", "code review", generator, logger))
	registry.Register(NewLLMAgent("tester", "test authoring", generator, logger))
	registry.Register(NewLLMAgent("docs", "technical writing", generator, logger))
}
