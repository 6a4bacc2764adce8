// Package pipeline drives missions through the five phases: plan, execute,
// validate, integrate, memory.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/missiond/internal/agents"
	"github.com/fyrsmithlabs/missiond/internal/logging"
	"github.com/fyrsmithlabs/missiond/internal/memory"
	"github.com/fyrsmithlabs/missiond/internal/mission"
	"github.com/fyrsmithlabs/missiond/internal/notify"
	"github.com/fyrsmithlabs/missiond/internal/scheduler"
	"github.com/fyrsmithlabs/missiond/internal/validation"
)

// ErrMissionNotRunning is returned when cancelling a mission with no active
// run.
var ErrMissionNotRunning = errors.New("mission is not running")

// Planner produces a task plan for a mission. Satisfied by
// inference.Planner.
type Planner interface {
	Plan(ctx context.Context, m *mission.Mission, memoryContext string) ([]*mission.Task, error)
}

// MemoryService is the subset of the memory service the pipeline uses.
// The pipeline only reads memory; writes go through the curation path.
type MemoryService interface {
	BuildContext(ctx context.Context, query string) (string, error)
}

// GitIntegrator is the subset of the git integrator the pipeline uses.
type GitIntegrator interface {
	CreateBranch(ctx context.Context, m *mission.Mission) (string, error)
	Commit(ctx context.Context, m *mission.Mission) (string, error)
}

// Config controls the pipeline.
type Config struct {
	Scheduler scheduler.Config
	RepoPath  string

	// TaskTimeout bounds each task execution. Zero disables the bound.
	TaskTimeout time.Duration
}

// Pipeline owns the mission lifecycle.
type Pipeline struct {
	config     Config
	store      *mission.Store
	planner    Planner
	registry   *agents.Registry
	memories   MemoryService
	validator  validation.Runner
	integrator GitIntegrator
	notifier   notify.Notifier
	logger     *logging.Logger
	tracer     trace.Tracer
	metrics    *metrics

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New assembles a pipeline. notifier may be nil; logger must not be.
func New(config Config, store *mission.Store, planner Planner, registry *agents.Registry, memories MemoryService, validator validation.Runner, integrator GitIntegrator, notifier notify.Notifier, logger *logging.Logger) *Pipeline {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Pipeline{
		config:     config,
		store:      store,
		planner:    planner,
		registry:   registry,
		memories:   memories,
		validator:  validator,
		integrator: integrator,
		notifier:   notifier,
		logger:     logger,
		tracer:     otel.Tracer("missiond/pipeline"),
		metrics:    newMetrics(),
		running:    make(map[string]context.CancelFunc),
	}
}

// Launch creates a mission and starts it asynchronously.
func (p *Pipeline) Launch(ctx context.Context, title, objective string) (*mission.Mission, error) {
	m := mission.New(title, objective)
	p.store.Put(m)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	runCtx = logging.WithMissionID(runCtx, m.ID)

	p.mu.Lock()
	p.running[m.ID] = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			p.mu.Lock()
			delete(p.running, m.ID)
			p.mu.Unlock()
			cancel()
		}()
		p.run(runCtx, m.ID)
	}()

	return m, nil
}

// Cancel requests cancellation of a running mission. Tasks already in
// flight run to completion; the mission reaches the cancelled status once
// the next dispatch or phase boundary observes the request.
func (p *Pipeline) Cancel(missionID string) error {
	p.mu.Lock()
	cancel, ok := p.running[missionID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissionNotRunning, missionID)
	}
	cancel()
	return nil
}

// Wait blocks until all launched missions have finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// run drives one mission through all phases.
func (p *Pipeline) run(ctx context.Context, missionID string) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(attribute.String("mission.id", missionID)))
	defer span.End()

	p.metrics.missionsStarted.Add(ctx, 1)

	phases := []struct {
		name string
		fn   func(context.Context, string) error
	}{
		{"plan", p.phasePlan},
		{"execute", p.phaseExecute},
		{"validate", p.phaseValidate},
		{"integrate", p.phaseIntegrate},
		{"memory", p.phaseMemory},
	}

	for _, phase := range phases {
		if ctx.Err() != nil {
			p.finish(ctx, missionID, mission.StatusCancelled, "mission canceled", start)
			span.SetStatus(codes.Error, "canceled")
			return
		}

		phaseStart := time.Now()
		err := phase.fn(ctx, missionID)
		p.metrics.recordPhase(ctx, phase.name, time.Since(phaseStart))

		if err != nil {
			if errors.Is(err, context.Canceled) {
				p.finish(ctx, missionID, mission.StatusCancelled, "mission canceled", start)
				span.SetStatus(codes.Error, "canceled")
				return
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, phase.name+" failed")
			p.finish(ctx, missionID, mission.StatusFailed, err.Error(), start)
			return
		}
	}

	p.finish(ctx, missionID, mission.StatusCompleted, "", start)
}

// finish moves the mission to its terminal status and emits notifications
// and metrics.
func (p *Pipeline) finish(ctx context.Context, missionID string, status mission.Status, errMsg string, start time.Time) {
	if errMsg != "" {
		if _, err := p.store.Update(missionID, func(m *mission.Mission) error {
			m.Error = errMsg
			return nil
		}); err != nil {
			p.logger.Warn(ctx, "failed to record mission error", zap.Error(err))
		}
	}

	m, err := p.store.Transition(missionID, status)
	if err != nil {
		// Already terminal, e.g. a concurrent failure beat us.
		p.logger.Warn(ctx, "terminal transition rejected",
			zap.String("status", string(status)), zap.Error(err))
		return
	}

	p.metrics.recordFinished(ctx, string(status), time.Since(start))
	p.notifier.MissionStatusChanged(notify.Event{
		MissionID: missionID,
		Status:    status,
		Error:     errMsg,
	})

	p.logger.Info(ctx, "mission finished",
		zap.String("status", string(m.Status)),
		zap.Duration("elapsed", time.Since(start)),
	)
}

// transition advances the phase status and notifies.
func (p *Pipeline) transition(ctx context.Context, missionID string, to mission.Status) error {
	if _, err := p.store.Transition(missionID, to); err != nil {
		return err
	}
	p.notifier.MissionStatusChanged(notify.Event{MissionID: missionID, Status: to})
	p.logger.Info(ctx, "mission phase started", zap.String("status", string(to)))
	return nil
}

// phasePlan asks the planner for a task breakdown, seeded with any relevant
// memory.
func (p *Pipeline) phasePlan(ctx context.Context, missionID string) error {
	ctx, span := p.tracer.Start(ctx, "pipeline.plan")
	defer span.End()

	m, err := p.store.Get(missionID)
	if err != nil {
		return err
	}

	memoryContext, err := p.memories.BuildContext(ctx, m.Title+"\n"+m.Objective)
	if err != nil {
		// Absent memory never blocks planning.
		p.logger.Warn(ctx, "memory retrieval failed", zap.Error(err))
		memoryContext = ""
	}

	tasks, err := p.planner.Plan(ctx, m, memoryContext)
	if err != nil {
		return fmt.Errorf("planning failed: %w", err)
	}

	// Reject unusable plans before any task runs.
	if _, err := scheduler.Waves(tasks); err != nil {
		return fmt.Errorf("plan rejected: %w", err)
	}
	for _, t := range tasks {
		if _, err := p.registry.Resolve(t.AgentType); err != nil {
			return fmt.Errorf("plan rejected: %w", err)
		}
	}

	if _, err := p.store.Update(missionID, func(m *mission.Mission) error {
		m.Tasks = tasks
		return nil
	}); err != nil {
		return err
	}

	p.logger.Info(ctx, "plan ready", zap.Int("tasks", len(tasks)))
	return p.transition(ctx, missionID, mission.StatusExecuting)
}

// phaseExecute runs the task waves.
func (p *Pipeline) phaseExecute(ctx context.Context, missionID string) error {
	ctx, span := p.tracer.Start(ctx, "pipeline.execute")
	defer span.End()

	m, err := p.store.Get(missionID)
	if err != nil {
		return err
	}

	sched := scheduler.New(p.config.Scheduler, p.store, scheduler.TaskRunnerFunc(p.runTask), p.logger.Underlying())
	result, err := sched.Run(ctx, m)

	p.metrics.tasksByOutcome.Add(ctx, int64(result.Completed),
		taskOutcomeAttr("completed"))
	p.metrics.tasksByOutcome.Add(ctx, int64(result.Failed),
		taskOutcomeAttr("failed"))
	p.metrics.tasksByOutcome.Add(ctx, int64(result.Skipped),
		taskOutcomeAttr("skipped"))

	if err != nil {
		return err
	}
	if result.RequiredFailed {
		return fmt.Errorf("execution failed: %d task(s) failed, %d skipped", result.Failed, result.Skipped)
	}
	return p.transition(ctx, missionID, mission.StatusValidating)
}

// runTask resolves the task's agent and executes it with retrieved memory.
func (p *Pipeline) runTask(ctx context.Context, m *mission.Mission, t *mission.Task) (string, error) {
	ctx = logging.WithTaskID(ctx, t.ID)

	if p.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.TaskTimeout)
		defer cancel()
	}

	agent, err := p.registry.Resolve(t.AgentType)
	if err != nil {
		return "", err
	}

	memoryContext, err := p.memories.BuildContext(ctx, t.Title+"\n"+t.Prompt)
	if err != nil {
		// Retrieval failure degrades to no context rather than failing the task.
		p.logger.Warn(ctx, "memory retrieval failed", zap.Error(err))
		memoryContext = ""
	}

	return agent.Execute(ctx, m, t, memoryContext)
}

// phaseValidate runs lint, test and build and fails the mission on any
// failing check.
func (p *Pipeline) phaseValidate(ctx context.Context, missionID string) error {
	ctx, span := p.tracer.Start(ctx, "pipeline.validate")
	defer span.End()

	report, err := p.validator.Validate(ctx, p.config.RepoPath)
	if err != nil {
		return fmt.Errorf("validation run failed: %w", err)
	}

	if _, err := p.store.Update(missionID, func(m *mission.Mission) error {
		m.Validation = &report
		return nil
	}); err != nil {
		return err
	}

	if !report.Passed() {
		return &validation.FailureError{Report: report}
	}
	return p.transition(ctx, missionID, mission.StatusIntegrating)
}

// phaseIntegrate commits the mission's changes on its branch.
func (p *Pipeline) phaseIntegrate(ctx context.Context, missionID string) error {
	ctx, span := p.tracer.Start(ctx, "pipeline.integrate")
	defer span.End()

	m, err := p.store.Get(missionID)
	if err != nil {
		return err
	}

	branch, err := p.integrator.CreateBranch(ctx, m)
	if err != nil {
		return fmt.Errorf("integration failed: %w", err)
	}
	hash, err := p.integrator.Commit(ctx, m)
	if err != nil {
		return fmt.Errorf("integration failed: %w", err)
	}

	_, err = p.store.Update(missionID, func(m *mission.Mission) error {
		m.Branch = branch
		m.CommitHash = hash
		return nil
	})
	return err
}

// phaseMemory proposes what the mission learned as unapproved memory
// candidates on the mission record. Candidates are not embedded here;
// approval and embedding happen in the curation step outside the pipeline.
func (p *Pipeline) phaseMemory(ctx context.Context, missionID string) error {
	ctx, span := p.tracer.Start(ctx, "pipeline.memory")
	defer span.End()

	m, err := p.store.Get(missionID)
	if err != nil {
		return err
	}

	candidate := mission.MemoryCandidate{
		ID:        uuid.NewString(),
		Type:      string(memory.TypePlaybook),
		Title:     m.Title,
		Content:   missionSummary(m),
		Tags:      []string{"mission", m.ID},
		CreatedAt: time.Now().UTC(),
	}
	if _, err := p.store.Update(missionID, func(m *mission.Mission) error {
		m.MemoryCandidates = append(m.MemoryCandidates, candidate)
		return nil
	}); err != nil {
		return err
	}

	p.metrics.memoryCandidates.Add(ctx, 1)
	p.logger.Info(ctx, "memory candidate proposed",
		zap.String("candidate_id", candidate.ID),
		zap.String("type", candidate.Type),
	)
	return nil
}

func missionSummary(m *mission.Mission) string {
	summary := fmt.Sprintf("Objective: %s\n\nTasks:\n", m.Objective)
	for _, t := range m.Tasks {
		summary += fmt.Sprintf("- [%s] %s\n", t.Status, t.Title)
	}
	if m.Branch != "" {
		summary += fmt.Sprintf("\nBranch: %s\n", m.Branch)
	}
	return summary
}
