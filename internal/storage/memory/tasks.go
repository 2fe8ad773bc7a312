// Package memory provides map-backed store implementations used when no
// database DSN is configured, and by tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/asolovev/wb-collector/internal/collector"
)

// TaskStore implements collector.TaskStore in memory.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]collector.Task
	clock collector.Clock
}

// NewTaskStore builds an empty TaskStore.
func NewTaskStore(clock collector.Clock) *TaskStore {
	return &TaskStore{
		tasks: make(map[string]collector.Task),
		clock: clock,
	}
}

// CreateTask inserts a new task row.
func (s *TaskStore) CreateTask(_ context.Context, task collector.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	s.tasks[task.ID] = task
	return nil
}

// MarkRunning claims a queued task. The queued precondition makes the
// claim exclusive across workers.
func (s *TaskStore) MarkRunning(_ context.Context, taskID string) error {
	return s.transition(taskID, collector.TaskStatusQueued, func(t *collector.Task) {
		t.Status = collector.TaskStatusRunning
	})
}

// MarkDone records the result of a running task.
func (s *TaskStore) MarkDone(_ context.Context, taskID string, result collector.Result) error {
	return s.transition(taskID, collector.TaskStatusRunning, func(t *collector.Task) {
		t.Status = collector.TaskStatusDone
		t.Result = &result
		t.RequestID = result.RequestID
	})
}

// MarkFailed records the failure of a queued or running task. The queued
// case covers submissions whose enqueue was rejected.
func (s *TaskStore) MarkFailed(_ context.Context, taskID string, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return collector.ErrTaskNotFound
	}
	if t.Status != collector.TaskStatusRunning && t.Status != collector.TaskStatusQueued {
		return fmt.Errorf("%w: task %s is %s", collector.ErrTaskConflict, taskID, t.Status)
	}
	t.Status = collector.TaskStatusFailed
	t.Error = errText
	t.UpdatedAt = s.clock.Now()
	s.tasks[taskID] = t
	return nil
}

// GetTask returns one task row.
func (s *TaskStore) GetTask(_ context.Context, taskID string) (collector.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return collector.Task{}, collector.ErrTaskNotFound
	}
	return t, nil
}

// CountByStatus returns the task population per status.
func (s *TaskStore) CountByStatus(_ context.Context) (map[collector.TaskStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[collector.TaskStatus]int, 4)
	for _, t := range s.tasks {
		out[t.Status]++
	}
	return out, nil
}

func (s *TaskStore) transition(taskID string, from collector.TaskStatus, apply func(*collector.Task)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return collector.ErrTaskNotFound
	}
	if t.Status != from {
		return fmt.Errorf("%w: task %s is %s, want %s", collector.ErrTaskConflict, taskID, t.Status, from)
	}
	apply(&t)
	t.UpdatedAt = s.clock.Now()
	s.tasks[taskID] = t
	return nil
}
