// Package mission defines the mission and task model shared across the
// pipeline, scheduler and gates.
package mission

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a mission.
type Status string

// Mission statuses. The phase statuses advance strictly in order; completed,
// failed and cancelled are terminal.
const (
	StatusPlanning    Status = "planning"
	StatusExecuting   Status = "executing"
	StatusValidating  Status = "validating"
	StatusIntegrating Status = "integrating"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// phaseRank orders the non-terminal phases for monotonicity checks.
var phaseRank = map[Status]int{
	StatusPlanning:    0,
	StatusExecuting:   1,
	StatusValidating:  2,
	StatusIntegrating: 3,
	StatusCompleted:   4,
}

// CanTransition reports whether a mission may move from one status to another.
// Forward phase progression, failure and cancellation are allowed; moving
// backward or leaving a terminal status is not.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusFailed || to == StatusCancelled {
		return true
	}
	fromRank, ok := phaseRank[from]
	if !ok {
		return false
	}
	toRank, ok := phaseRank[to]
	if !ok {
		return false
	}
	return toRank == fromRank+1
}

// TaskStatus is the lifecycle state of a single task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskSkipped   TaskStatus = "skipped"
)

// Terminal reports whether a task status is final.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskSkipped:
		return true
	}
	return false
}

// Task is a single unit of work within a mission plan.
type Task struct {
	ID        string     `json:"id"`
	MissionID string     `json:"mission_id"`
	Title     string     `json:"title"`
	Prompt    string     `json:"prompt"`
	AgentType string     `json:"agent_type"`
	DependsOn []string   `json:"depends_on,omitempty"`
	Optional  bool       `json:"optional"`
	Status    TaskStatus `json:"status"`
	Attempts  int        `json:"attempts"`
	Output    string     `json:"output,omitempty"`
	Error     string     `json:"error,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// ValidationReport records the outcome of the validation phase.
type ValidationReport struct {
	Lint  CheckResult `json:"lint"`
	Test  CheckResult `json:"test"`
	Build CheckResult `json:"build"`
}

// CheckResult is the outcome of one validation check.
type CheckResult struct {
	Passed bool   `json:"passed"`
	Output string `json:"output,omitempty"`
}

// Passed reports whether every check in the report passed.
func (r ValidationReport) Passed() bool {
	return r.Lint.Passed && r.Test.Passed && r.Build.Passed
}

// MemoryCandidate is a memory item proposed by the memory phase. Candidates
// are stored unapproved and carry no vector; a curation step outside the
// pipeline approves and embeds them. No vector may exist for an unapproved
// candidate.
type MemoryCandidate struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	Approved  bool      `json:"approved"`
	VectorID  string    `json:"vector_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Mission is a high-level objective driven through the five-phase pipeline.
type Mission struct {
	ID               string            `json:"id"`
	Title            string            `json:"title"`
	Objective        string            `json:"objective"`
	Status           Status            `json:"status"`
	Tasks            []*Task           `json:"tasks"`
	Branch           string            `json:"branch,omitempty"`
	CommitHash       string            `json:"commit_hash,omitempty"`
	Validation       *ValidationReport `json:"validation,omitempty"`
	MemoryCandidates []MemoryCandidate `json:"memory_candidates,omitempty"`
	Error            string            `json:"error,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
}

// New creates a mission in the planning phase.
func New(title, objective string) *Mission {
	now := time.Now().UTC()
	return &Mission{
		ID:        uuid.NewString(),
		Title:     title,
		Objective: objective,
		Status:    StatusPlanning,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Task returns the task with the given ID, or nil.
func (m *Mission) Task(id string) *Task {
	for _, t := range m.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// TransitionError reports a disallowed status transition.
type TransitionError struct {
	MissionID string
	From      Status
	To        Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("mission %s: invalid transition %s -> %s", e.MissionID, e.From, e.To)
}
