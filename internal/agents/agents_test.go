package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/missiond/internal/mission"
)

type echoGenerator struct {
	lastPrompt string
}

func (g *echoGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.lastPrompt = prompt
	return "generated output", nil
}

func TestRegistryResolve(t *testing.T) {
	registry := NewRegistry()
	gen := &echoGenerator{}
	registry.Register(NewLLMAgent("coder", "software engineering", gen, nil))

	agent, err := registry.Resolve("coder")
	require.NoError(t, err)
	assert.Equal(t, "coder", agent.Type())
}

func TestRegistryUnknownType(t *testing.T) {
	registry := NewRegistry()
	registry.Register(NewLLMAgent("coder", "software engineering", &echoGenerator{}, nil))

	_, err := registry.Resolve("astrologer")
	var unknown *UnknownAgentError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "astrologer", unknown.AgentType)
	assert.Equal(t, []string{"coder"}, unknown.Known)
}

func TestRegisterDefaults(t *testing.T) {
	registry := NewRegistry()
	RegisterDefaults(registry, &echoGenerator{}, nil)

	assert.Equal(t, []string{"coder", "docs", "reviewer", "tester"}, registry.Types())
}

func TestLLMAgentPromptIncludesTaskAndMemory(t *testing.T) {
	gen := &echoGenerator{}
	agent := NewLLMAgent("coder", "software engineering", gen, nil)

	m := mission.New("Add caching", "Add a read-through cache")
	task := &mission.Task{ID: "t1", Prompt: "implement the cache layer"}

	out, err := agent.Execute(context.Background(), m, task, "Relevant memory:\n[adr] Use LRU\n")
	require.NoError(t, err)
	assert.Equal(t, "generated output", out)

	assert.Contains(t, gen.lastPrompt, "Add a read-through cache")
	assert.Contains(t, gen.lastPrompt, "implement the cache layer")
	assert.Contains(t, gen.lastPrompt, "[adr] Use LRU")
}

func TestLLMAgentOmitsEmptyMemory(t *testing.T) {
	gen := &echoGenerator{}
	agent := NewLLMAgent("coder", "software engineering", gen, nil)

	m := mission.New("t", "objective")
	task := &mission.Task{ID: "t1", Prompt: "do it"}

	_, err := agent.Execute(context.Background(), m, task, "")
	require.NoError(t, err)
	assert.NotContains(t, gen.lastPrompt, "Relevant memory")
}
