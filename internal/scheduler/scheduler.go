// Package scheduler orders mission tasks into dependency waves and executes
// them with bounded concurrency.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/missiond/internal/mission"
)

// CyclicDependencyError reports a dependency cycle in a task graph.
type CyclicDependencyError struct {
	// Remaining holds the task IDs that could not be placed in any wave.
	Remaining []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("dependency cycle involving tasks: %s", strings.Join(e.Remaining, ", "))
}

// UnknownDependencyError reports a dependency on a task ID not in the plan.
type UnknownDependencyError struct {
	TaskID    string
	DependsOn string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("task %s depends on unknown task %s", e.TaskID, e.DependsOn)
}

// Waves partitions tasks into execution waves.
//
// Wave n contains every task whose dependencies all appear in waves < n.
// Tasks within a wave keep their declaration order, so the result is
// deterministic for a given task ordering. A cycle yields a
// *CyclicDependencyError naming the tasks that could not be placed.
func Waves(tasks []*mission.Task) ([][]*mission.Task, error) {
	byID := make(map[string]*mission.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, &UnknownDependencyError{TaskID: t.ID, DependsOn: dep}
			}
		}
	}

	placed := make(map[string]bool, len(tasks))
	remaining := make([]*mission.Task, len(tasks))
	copy(remaining, tasks)

	var waves [][]*mission.Task
	for len(remaining) > 0 {
		var wave []*mission.Task
		var next []*mission.Task
		for _, t := range remaining {
			ready := true
			for _, dep := range t.DependsOn {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, t)
			} else {
				next = append(next, t)
			}
		}

		if len(wave) == 0 {
			ids := make([]string, len(next))
			for i, t := range next {
				ids[i] = t.ID
			}
			sort.Strings(ids)
			return nil, &CyclicDependencyError{Remaining: ids}
		}

		for _, t := range wave {
			placed[t.ID] = true
		}
		waves = append(waves, wave)
		remaining = next
	}

	return waves, nil
}

// TaskRunner executes a single task and returns its output.
type TaskRunner interface {
	RunTask(ctx context.Context, m *mission.Mission, t *mission.Task) (string, error)
}

// TaskRunnerFunc adapts a function to the TaskRunner interface.
type TaskRunnerFunc func(ctx context.Context, m *mission.Mission, t *mission.Task) (string, error)

func (f TaskRunnerFunc) RunTask(ctx context.Context, m *mission.Mission, t *mission.Task) (string, error) {
	return f(ctx, m, t)
}

// Config controls scheduler behavior.
type Config struct {
	// MaxConcurrent bounds simultaneous task executions within a wave.
	MaxConcurrent int
}

// Scheduler runs a mission's tasks wave by wave.
type Scheduler struct {
	config Config
	store  *mission.Store
	runner TaskRunner
	logger *zap.Logger
}

// New creates a scheduler. A nil logger is replaced with a no-op logger.
func New(config Config, store *mission.Store, runner TaskRunner, logger *zap.Logger) *Scheduler {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{config: config, store: store, runner: runner, logger: logger}
}

// Result summarizes a mission execution run.
type Result struct {
	Completed int
	Failed    int
	Skipped   int

	// RequiredFailed is true when a non-optional task failed or was skipped.
	RequiredFailed bool
}

// Run executes all tasks of m respecting dependency order.
//
// Tasks within a wave run concurrently, at most MaxConcurrent at a time.
// A task whose dependency did not complete is skipped without running.
// A failed optional task does not poison the run, but its dependents are
// still skipped. Once a required task fails, tasks already running finish
// and everything in later waves is skipped. Cancellation is consulted only
// at dispatch boundaries: no new task starts, but a task already dispatched
// runs to completion.
func (s *Scheduler) Run(ctx context.Context, m *mission.Mission) (Result, error) {
	waves, err := Waves(m.Tasks)
	if err != nil {
		return Result{}, err
	}

	var result Result
	var mu sync.Mutex
	outcomes := make(map[string]mission.TaskStatus, len(m.Tasks))

	sem := make(chan struct{}, s.config.MaxConcurrent)

	for i, wave := range waves {
		select {
		case <-ctx.Done():
			s.skipPending(m, outcomes, &result, "mission canceled")
			return result, ctx.Err()
		default:
		}

		if result.RequiredFailed {
			s.skipPending(m, outcomes, &result, "earlier required task failed")
			break
		}

		s.logger.Info("starting wave",
			zap.String("mission_id", m.ID),
			zap.Int("wave", i),
			zap.Int("tasks", len(wave)),
		)

		var wg sync.WaitGroup
		for _, t := range wave {
			depsOK := true
			mu.Lock()
			for _, dep := range t.DependsOn {
				if outcomes[dep] != mission.TaskCompleted {
					depsOK = false
					break
				}
			}
			mu.Unlock()

			if !depsOK {
				s.markSkipped(m, t, outcomes, &mu, &result, "dependency did not complete")
				continue
			}

			if ctx.Err() != nil {
				s.markSkipped(m, t, outcomes, &mu, &result, "mission canceled")
				continue
			}

			wg.Add(1)
			go func(t *mission.Task) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				s.runOne(ctx, m, t, outcomes, &mu, &result)
			}(t)
		}
		wg.Wait()
	}

	if err := ctx.Err(); err != nil {
		s.skipPending(m, outcomes, &result, "mission canceled")
		return result, err
	}
	return result, nil
}

func (s *Scheduler) runOne(ctx context.Context, m *mission.Mission, t *mission.Task, outcomes map[string]mission.TaskStatus, mu *sync.Mutex, result *Result) {
	if _, err := s.store.SetTaskStatus(m.ID, t.ID, mission.TaskRunning, "", ""); err != nil {
		s.logger.Warn("failed to mark task running",
			zap.String("task_id", t.ID), zap.Error(err))
	}

	// An in-flight task finishes or fails on its own terms even after the
	// mission is canceled; cancellation only gates dispatch.
	output, err := s.runner.RunTask(context.WithoutCancel(ctx), m, t)

	mu.Lock()
	defer mu.Unlock()

	if err != nil {
		outcomes[t.ID] = mission.TaskFailed
		result.Failed++
		if !t.Optional {
			result.RequiredFailed = true
		}
		if _, serr := s.store.SetTaskStatus(m.ID, t.ID, mission.TaskFailed, output, err.Error()); serr != nil {
			s.logger.Warn("failed to mark task failed",
				zap.String("task_id", t.ID), zap.Error(serr))
		}
		s.logger.Warn("task failed",
			zap.String("mission_id", m.ID),
			zap.String("task_id", t.ID),
			zap.Bool("optional", t.Optional),
			zap.Error(err),
		)
		return
	}

	outcomes[t.ID] = mission.TaskCompleted
	result.Completed++
	if _, serr := s.store.SetTaskStatus(m.ID, t.ID, mission.TaskCompleted, output, ""); serr != nil {
		s.logger.Warn("failed to mark task completed",
			zap.String("task_id", t.ID), zap.Error(serr))
	}
}

func (s *Scheduler) markSkipped(m *mission.Mission, t *mission.Task, outcomes map[string]mission.TaskStatus, mu *sync.Mutex, result *Result, reason string) {
	mu.Lock()
	outcomes[t.ID] = mission.TaskSkipped
	result.Skipped++
	if !t.Optional {
		result.RequiredFailed = true
	}
	mu.Unlock()

	if _, err := s.store.SetTaskStatus(m.ID, t.ID, mission.TaskSkipped, "", reason); err != nil {
		s.logger.Warn("failed to mark task skipped",
			zap.String("task_id", t.ID), zap.Error(err))
	}
}

// skipPending marks every task without an outcome as skipped, after a
// cancellation or a required-task failure.
func (s *Scheduler) skipPending(m *mission.Mission, outcomes map[string]mission.TaskStatus, result *Result, reason string) {
	for _, t := range m.Tasks {
		if _, done := outcomes[t.ID]; done {
			continue
		}
		outcomes[t.ID] = mission.TaskSkipped
		result.Skipped++
		if _, err := s.store.SetTaskStatus(m.ID, t.ID, mission.TaskSkipped, "", reason); err != nil {
			s.logger.Warn("failed to mark task skipped",
				zap.String("task_id", t.ID), zap.Error(err))
		}
	}
}
