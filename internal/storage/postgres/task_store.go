package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/asolovev/wb-collector/internal/collector"
)

// TaskStore implements collector.TaskStore on the tasks table.
//
// Schema:
//
//	CREATE TABLE tasks (
//		id         TEXT PRIMARY KEY,
//		type       TEXT NOT NULL,
//		source     TEXT NOT NULL,
//		payload    JSONB NOT NULL,
//		priority   INT NOT NULL,
//		status     TEXT NOT NULL,
//		user_id    TEXT NOT NULL DEFAULT '',
//		request_id TEXT NOT NULL DEFAULT '',
//		result     JSONB,
//		error      TEXT NOT NULL DEFAULT '',
//		created_at TIMESTAMPTZ NOT NULL,
//		updated_at TIMESTAMPTZ NOT NULL
//	);
type TaskStore struct {
	pool dbConn
}

// NewTaskStore constructs a TaskStore from an existing pool or mock.
func NewTaskStore(pool dbConn) (*TaskStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &TaskStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *TaskStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateTask inserts the durable task row.
func (s *TaskStore) CreateTask(ctx context.Context, task collector.Task) error {
	payload, err := json.Marshal(task.Payload)
	if err != nil {
		return fmt.Errorf("marshal task payload: %w", err)
	}
	query := `
INSERT INTO tasks (id, type, source, payload, priority, status, user_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = s.pool.Exec(ctx, query,
		task.ID,
		string(task.Type),
		task.Source,
		payload,
		task.Priority,
		string(task.Status),
		task.UserID,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// MarkRunning claims a queued task. The status guard in the WHERE clause
// makes the claim exclusive: the second worker updates zero rows.
func (s *TaskStore) MarkRunning(ctx context.Context, taskID string) error {
	query := `
UPDATE tasks SET status = 'running', updated_at = now()
WHERE id = $1 AND status = 'queued'`
	tag, err := s.pool.Exec(ctx, query, taskID)
	if err != nil {
		return fmt.Errorf("claim task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: task %s not claimable", collector.ErrTaskConflict, taskID)
	}
	return nil
}

// MarkDone stores the result of a running task.
func (s *TaskStore) MarkDone(ctx context.Context, taskID string, result collector.Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal task result: %w", err)
	}
	query := `
UPDATE tasks SET status = 'done', result = $2, request_id = $3, updated_at = now()
WHERE id = $1 AND status = 'running'`
	tag, err := s.pool.Exec(ctx, query, taskID, payload, result.RequestID)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: task %s not running", collector.ErrTaskConflict, taskID)
	}
	return nil
}

// MarkFailed stores the failure reason of a queued or running task.
func (s *TaskStore) MarkFailed(ctx context.Context, taskID string, errText string) error {
	query := `
UPDATE tasks SET status = 'failed', error = $2, updated_at = now()
WHERE id = $1 AND status IN ('queued', 'running')`
	tag, err := s.pool.Exec(ctx, query, taskID, errText)
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: task %s not failable", collector.ErrTaskConflict, taskID)
	}
	return nil
}

// GetTask loads one task row.
func (s *TaskStore) GetTask(ctx context.Context, taskID string) (collector.Task, error) {
	query := `
SELECT id, type, source, payload, priority, status, user_id, request_id, result, error, created_at, updated_at
FROM tasks WHERE id = $1`

	var (
		task         collector.Task
		taskType     string
		status       string
		payloadBytes []byte
		resultBytes  []byte
	)
	err := s.pool.QueryRow(ctx, query, taskID).Scan(
		&task.ID,
		&taskType,
		&task.Source,
		&payloadBytes,
		&task.Priority,
		&status,
		&task.UserID,
		&task.RequestID,
		&resultBytes,
		&task.Error,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return collector.Task{}, collector.ErrTaskNotFound
		}
		return collector.Task{}, fmt.Errorf("get task: %w", err)
	}

	task.Type = collector.QueryKind(taskType)
	task.Status = collector.TaskStatus(status)
	if err := json.Unmarshal(payloadBytes, &task.Payload); err != nil {
		return collector.Task{}, fmt.Errorf("unmarshal task payload: %w", err)
	}
	if len(resultBytes) > 0 {
		var res collector.Result
		if err := json.Unmarshal(resultBytes, &res); err != nil {
			return collector.Task{}, fmt.Errorf("unmarshal task result: %w", err)
		}
		task.Result = &res
	}
	return task, nil
}

// CountByStatus returns the task population per status.
func (s *TaskStore) CountByStatus(ctx context.Context) (map[collector.TaskStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	out := make(map[collector.TaskStatus]int, 4)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan task count: %w", err)
		}
		out[collector.TaskStatus(status)] = count
	}
	return out, rows.Err()
}
