package mission

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when a mission ID is unknown.
var ErrNotFound = errors.New("mission not found")

// Store holds missions in memory. Safe for concurrent use.
//
// All accessors return deep copies so callers never observe concurrent
// mutation of a stored mission.
type Store struct {
	mu       sync.RWMutex
	missions map[string]*Mission
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{missions: make(map[string]*Mission)}
}

// Put inserts or replaces a mission.
func (s *Store) Put(m *Mission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missions[m.ID] = cloneMission(m)
}

// Get returns a copy of the mission with the given ID.
func (s *Store) Get(id string) (*Mission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.missions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneMission(m), nil
}

// List returns copies of all missions ordered by creation time.
func (s *Store) List() []*Mission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Mission, 0, len(s.missions))
	for _, m := range s.missions {
		out = append(out, cloneMission(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Transition moves a mission to a new status, enforcing the transition rules.
func (s *Store) Transition(id string, to Status) (*Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !CanTransition(m.Status, to) {
		return nil, &TransitionError{MissionID: id, From: m.Status, To: to}
	}
	m.Status = to
	m.UpdatedAt = time.Now().UTC()
	if to.Terminal() {
		now := m.UpdatedAt
		m.CompletedAt = &now
	}
	return cloneMission(m), nil
}

// Update applies fn to the stored mission under the lock. The mission passed
// to fn is the stored instance; mutations are persisted.
func (s *Store) Update(id string, fn func(*Mission) error) (*Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := fn(m); err != nil {
		return nil, err
	}
	m.UpdatedAt = time.Now().UTC()
	return cloneMission(m), nil
}

// SetTaskStatus updates one task's status and bookkeeping fields.
// Terminal task statuses are never overwritten.
func (s *Store) SetTaskStatus(missionID, taskID string, status TaskStatus, output, errMsg string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[missionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, missionID)
	}
	t := m.Task(taskID)
	if t == nil {
		return nil, fmt.Errorf("task %s not found in mission %s", taskID, missionID)
	}
	if t.Status.Terminal() {
		return nil, fmt.Errorf("task %s already %s", taskID, t.Status)
	}

	now := time.Now().UTC()
	switch status {
	case TaskRunning:
		t.StartedAt = &now
		t.Attempts++
	case TaskCompleted, TaskFailed, TaskSkipped:
		t.EndedAt = &now
	}
	t.Status = status
	if output != "" {
		t.Output = output
	}
	if errMsg != "" {
		t.Error = errMsg
	}
	m.UpdatedAt = now

	clone := *t
	return &clone, nil
}

func cloneMission(m *Mission) *Mission {
	out := *m
	out.Tasks = make([]*Task, len(m.Tasks))
	for i, t := range m.Tasks {
		tc := *t
		tc.DependsOn = append([]string(nil), t.DependsOn...)
		out.Tasks[i] = &tc
	}
	if m.Validation != nil {
		v := *m.Validation
		out.Validation = &v
	}
	if m.MemoryCandidates != nil {
		out.MemoryCandidates = make([]MemoryCandidate, len(m.MemoryCandidates))
		for i, c := range m.MemoryCandidates {
			c.Tags = append([]string(nil), c.Tags...)
			out.MemoryCandidates[i] = c
		}
	}
	return &out
}
