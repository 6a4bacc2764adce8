package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/missiond/internal/agents"
	"github.com/fyrsmithlabs/missiond/internal/logging"
	"github.com/fyrsmithlabs/missiond/internal/memory"
	"github.com/fyrsmithlabs/missiond/internal/mission"
	"github.com/fyrsmithlabs/missiond/internal/notify"
	"github.com/fyrsmithlabs/missiond/internal/scheduler"
)

type fakePlanner struct {
	mu         sync.Mutex
	tasks      []*mission.Task
	err        error
	gotContext string
}

func (f *fakePlanner) Plan(ctx context.Context, m *mission.Mission, memoryContext string) ([]*mission.Task, error) {
	f.mu.Lock()
	f.gotContext = memoryContext
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	tasks := make([]*mission.Task, len(f.tasks))
	for i, t := range f.tasks {
		clone := *t
		clone.MissionID = m.ID
		tasks[i] = &clone
	}
	return tasks, nil
}

type fakeMemory struct {
	context  string
	buildErr error
}

func (f *fakeMemory) BuildContext(ctx context.Context, query string) (string, error) {
	if f.buildErr != nil {
		return "", f.buildErr
	}
	return f.context, nil
}

type fakeValidator struct {
	report mission.ValidationReport
	err    error
}

func (f *fakeValidator) Validate(ctx context.Context, repoPath string) (mission.ValidationReport, error) {
	return f.report, f.err
}

func passingReport() mission.ValidationReport {
	return mission.ValidationReport{
		Lint:  mission.CheckResult{Passed: true},
		Test:  mission.CheckResult{Passed: true},
		Build: mission.CheckResult{Passed: true},
	}
}

type fakeIntegrator struct {
	branchErr error
	commitErr error
}

func (f *fakeIntegrator) CreateBranch(ctx context.Context, m *mission.Mission) (string, error) {
	if f.branchErr != nil {
		return "", f.branchErr
	}
	return "mission-" + m.ID[:8], nil
}

func (f *fakeIntegrator) Commit(ctx context.Context, m *mission.Mission) (string, error) {
	if f.commitErr != nil {
		return "", f.commitErr
	}
	return "abc123", nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) MissionStatusChanged(event notify.Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recordingNotifier) Close() {}

func (r *recordingNotifier) statuses() []mission.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]mission.Status, len(r.events))
	for i, e := range r.events {
		out[i] = e.Status
	}
	return out
}

type stubAgent struct {
	agentType string
	fn        func(ctx context.Context, t *mission.Task) (string, error)
}

func (a *stubAgent) Type() string { return a.agentType }

func (a *stubAgent) Execute(ctx context.Context, m *mission.Mission, t *mission.Task, memoryContext string) (string, error) {
	if a.fn != nil {
		return a.fn(ctx, t)
	}
	return "done", nil
}

type fixture struct {
	pipeline  *Pipeline
	store     *mission.Store
	notifier  *recordingNotifier
	memories  *fakeMemory
	planner   *fakePlanner
	validator *fakeValidator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	planner := &fakePlanner{tasks: []*mission.Task{
		{ID: "a", Title: "first", Prompt: "do first", AgentType: "coder", Status: mission.TaskPending},
		{ID: "b", Title: "second", Prompt: "do second", AgentType: "coder", DependsOn: []string{"a"}, Status: mission.TaskPending},
		{ID: "c", Title: "third", Prompt: "do third", AgentType: "coder", Status: mission.TaskPending},
	}}

	registry := agents.NewRegistry()
	registry.Register(&stubAgent{agentType: "coder"})

	store := mission.NewStore()
	notifier := &recordingNotifier{}
	memories := &fakeMemory{}
	validator := &fakeValidator{report: passingReport()}
	logger, _ := logging.NewTestLogger(zapcore.DebugLevel)

	p := New(
		Config{Scheduler: scheduler.Config{MaxConcurrent: 3}, RepoPath: t.TempDir()},
		store, planner, registry, memories, validator, &fakeIntegrator{}, notifier, logger,
	)

	return &fixture{
		pipeline:  p,
		store:     store,
		notifier:  notifier,
		memories:  memories,
		planner:   planner,
		validator: validator,
	}
}

func (f *fixture) launchAndWait(t *testing.T) *mission.Mission {
	t.Helper()
	m, err := f.pipeline.Launch(context.Background(), "test mission", "do the thing")
	require.NoError(t, err)
	f.pipeline.Wait()

	got, err := f.store.Get(m.ID)
	require.NoError(t, err)
	return got
}

func TestPipelineHappyPath(t *testing.T) {
	f := newFixture(t)
	m := f.launchAndWait(t)

	assert.Equal(t, mission.StatusCompleted, m.Status)
	assert.Equal(t, "abc123", m.CommitHash)
	assert.Contains(t, m.Branch, "mission-")
	require.NotNil(t, m.Validation)
	assert.True(t, m.Validation.Passed())

	for _, task := range m.Tasks {
		assert.Equal(t, mission.TaskCompleted, task.Status)
	}

	assert.Equal(t, []mission.Status{
		mission.StatusExecuting,
		mission.StatusValidating,
		mission.StatusIntegrating,
		mission.StatusCompleted,
	}, f.notifier.statuses())

	// The memory phase proposes an unapproved playbook candidate; nothing is
	// embedded until a curator approves it.
	require.Len(t, m.MemoryCandidates, 1)
	candidate := m.MemoryCandidates[0]
	assert.Equal(t, string(memory.TypePlaybook), candidate.Type)
	assert.Contains(t, candidate.Content, "do the thing")
	assert.False(t, candidate.Approved)
	assert.Empty(t, candidate.VectorID)
}

func TestPipelineSeedsPlannerWithMemory(t *testing.T) {
	f := newFixture(t)
	f.memories.context = "Relevant memory:\n\n[playbook] prior run\nuse waves\n"

	m := f.launchAndWait(t)
	assert.Equal(t, mission.StatusCompleted, m.Status)
	assert.Equal(t, f.memories.context, f.planner.gotContext)
}

func TestPipelinePlannerFailure(t *testing.T) {
	f := newFixture(t)
	f.planner.err = errors.New("ollama unreachable")

	m := f.launchAndWait(t)
	assert.Equal(t, mission.StatusFailed, m.Status)
	assert.Contains(t, m.Error, "planning failed")
}

func TestPipelineRejectsCyclicPlan(t *testing.T) {
	f := newFixture(t)
	f.planner.tasks = []*mission.Task{
		{ID: "a", AgentType: "coder", DependsOn: []string{"b"}, Status: mission.TaskPending},
		{ID: "b", AgentType: "coder", DependsOn: []string{"a"}, Status: mission.TaskPending},
	}

	m := f.launchAndWait(t)
	assert.Equal(t, mission.StatusFailed, m.Status)
	assert.Contains(t, m.Error, "plan rejected")
}

func TestPipelineRejectsUnknownAgent(t *testing.T) {
	f := newFixture(t)
	f.planner.tasks = []*mission.Task{
		{ID: "a", AgentType: "astrologer", Status: mission.TaskPending},
	}

	m := f.launchAndWait(t)
	assert.Equal(t, mission.StatusFailed, m.Status)
	assert.Contains(t, m.Error, "unknown agent type")
}

func TestPipelineTaskFailureFailsMission(t *testing.T) {
	f := newFixture(t)
	registry := agents.NewRegistry()
	registry.Register(&stubAgent{agentType: "coder", fn: func(ctx context.Context, tk *mission.Task) (string, error) {
		if tk.ID == "a" {
			return "", errors.New("agent crashed")
		}
		return "done", nil
	}})
	f.pipeline.registry = registry

	m := f.launchAndWait(t)
	assert.Equal(t, mission.StatusFailed, m.Status)
	assert.Equal(t, mission.TaskFailed, m.Task("a").Status)
	// b depends on a, so it is skipped; c is independent and completes.
	assert.Equal(t, mission.TaskSkipped, m.Task("b").Status)
	assert.Equal(t, mission.TaskCompleted, m.Task("c").Status)
}

func TestPipelineValidationFailureFailsMission(t *testing.T) {
	f := newFixture(t)
	f.validator.report = mission.ValidationReport{
		Lint:  mission.CheckResult{Passed: true},
		Test:  mission.CheckResult{Passed: false, Output: "2 tests failed"},
		Build: mission.CheckResult{Passed: true},
	}

	m := f.launchAndWait(t)
	assert.Equal(t, mission.StatusFailed, m.Status)
	assert.Contains(t, m.Error, "validation failed")
	require.NotNil(t, m.Validation)
	assert.Equal(t, "2 tests failed", m.Validation.Test.Output)
}

func TestPipelineIntegrationFailureFailsMission(t *testing.T) {
	f := newFixture(t)
	f.pipeline.integrator = &fakeIntegrator{commitErr: errors.New("dirty index")}

	m := f.launchAndWait(t)
	assert.Equal(t, mission.StatusFailed, m.Status)
	assert.Contains(t, m.Error, "integration failed")
}

func TestPipelineMemoryRetrievalFailureDoesNotBlockPlanning(t *testing.T) {
	f := newFixture(t)
	f.memories.buildErr = errors.New("vectorstore down")

	m := f.launchAndWait(t)
	assert.Equal(t, mission.StatusCompleted, m.Status)
	assert.Empty(t, f.planner.gotContext)
}

func TestPipelineCancel(t *testing.T) {
	f := newFixture(t)

	started := make(chan struct{})
	release := make(chan struct{})
	registry := agents.NewRegistry()
	var once sync.Once
	registry.Register(&stubAgent{agentType: "coder", fn: func(ctx context.Context, tk *mission.Task) (string, error) {
		once.Do(func() { close(started) })
		select {
		case <-release:
			return "done", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}})
	f.pipeline.registry = registry

	m, err := f.pipeline.Launch(context.Background(), "cancel me", "objective")
	require.NoError(t, err)

	<-started
	require.NoError(t, f.pipeline.Cancel(m.ID))
	close(release)
	f.pipeline.Wait()

	got, err := f.store.Get(m.ID)
	require.NoError(t, err)
	assert.Equal(t, mission.StatusCancelled, got.Status)

	// Tasks a and c were in flight when the cancel arrived; they ran to
	// completion instead of being aborted. Only the undispatched b is skipped.
	assert.Equal(t, mission.TaskCompleted, got.Task("a").Status)
	assert.Equal(t, "done", got.Task("a").Output)
	assert.Equal(t, mission.TaskCompleted, got.Task("c").Status)
	assert.Equal(t, mission.TaskSkipped, got.Task("b").Status)

	// Cancelling again reports the mission is no longer running.
	assert.ErrorIs(t, f.pipeline.Cancel(m.ID), ErrMissionNotRunning)
}

func TestPipelineCancelDoesNotAbortInFlightTask(t *testing.T) {
	f := newFixture(t)
	f.planner.tasks = []*mission.Task{
		{ID: "a", Title: "only", Prompt: "do it", AgentType: "coder", Status: mission.TaskPending},
	}

	started := make(chan struct{})
	registry := agents.NewRegistry()
	registry.Register(&stubAgent{agentType: "coder", fn: func(ctx context.Context, tk *mission.Task) (string, error) {
		close(started)
		// Honor the context the way a network call would.
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(50 * time.Millisecond):
			return "finished", nil
		}
	}})
	f.pipeline.registry = registry

	m, err := f.pipeline.Launch(context.Background(), "cancel me", "objective")
	require.NoError(t, err)

	<-started
	require.NoError(t, f.pipeline.Cancel(m.ID))
	f.pipeline.Wait()

	got, err := f.store.Get(m.ID)
	require.NoError(t, err)
	assert.Equal(t, mission.StatusCancelled, got.Status)
	assert.Equal(t, mission.TaskCompleted, got.Task("a").Status)
	assert.Equal(t, "finished", got.Task("a").Output)
}

func TestPipelineTaskTimeoutFailsTask(t *testing.T) {
	f := newFixture(t)
	f.pipeline.config.TaskTimeout = 20 * time.Millisecond
	f.planner.tasks = []*mission.Task{
		{ID: "a", Title: "slow", Prompt: "hang", AgentType: "coder", Status: mission.TaskPending},
	}

	registry := agents.NewRegistry()
	registry.Register(&stubAgent{agentType: "coder", fn: func(ctx context.Context, tk *mission.Task) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
			return "too late", nil
		}
	}})
	f.pipeline.registry = registry

	m := f.launchAndWait(t)
	assert.Equal(t, mission.StatusFailed, m.Status)
	assert.Equal(t, mission.TaskFailed, m.Task("a").Status)
	assert.Contains(t, m.Task("a").Error, context.DeadlineExceeded.Error())
}

func TestPipelineCancelUnknownMission(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.pipeline.Cancel("nope"), ErrMissionNotRunning)
}

func TestPipelineLaunchSurvivesParentContextCancel(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	m, err := f.pipeline.Launch(ctx, "detached", "objective")
	require.NoError(t, err)
	cancel()

	deadline := time.After(5 * time.Second)
	for {
		got, err := f.store.Get(m.ID)
		require.NoError(t, err)
		if got.Status.Terminal() {
			assert.Equal(t, mission.StatusCompleted, got.Status)
			return
		}
		select {
		case <-deadline:
			t.Fatal("mission did not finish")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
