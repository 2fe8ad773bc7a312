package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/asolovev/wb-collector/internal/collector"
)

func newTaskStoreMock(t *testing.T) (*TaskStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewTaskStore(mock)
	require.NoError(t, err)
	return store, mock
}

func TestCreateTaskInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newTaskStoreMock(t)
	now := time.Unix(1700000000, 0).UTC()
	msg := collector.Message{Type: collector.KindSearch, Val: "куртка"}
	payload, err := json.Marshal(msg)
	require.NoError(t, err)

	task := collector.Task{
		ID:        "task-1",
		Type:      collector.KindSearch,
		Source:    collector.SourceWildberries,
		Payload:   msg,
		Priority:  3,
		Status:    collector.TaskStatusQueued,
		UserID:    "u1",
		CreatedAt: now,
		UpdatedAt: now,
	}

	mock.ExpectExec("INSERT INTO tasks").
		WithArgs("task-1", "search", "wildberries", payload, 3, "queued", "u1", now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateTask(context.Background(), task))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRunningClaimsQueuedRow(t *testing.T) {
	t.Parallel()

	store, mock := newTaskStoreMock(t)

	mock.ExpectExec("UPDATE tasks SET status = 'running'").
		WithArgs("task-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.MarkRunning(context.Background(), "task-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRunningConflictOnClaimedRow(t *testing.T) {
	t.Parallel()

	store, mock := newTaskStoreMock(t)

	mock.ExpectExec("UPDATE tasks SET status = 'running'").
		WithArgs("task-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.MarkRunning(context.Background(), "task-1")
	require.ErrorIs(t, err, collector.ErrTaskConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkDoneStoresResult(t *testing.T) {
	t.Parallel()

	store, mock := newTaskStoreMock(t)
	res := collector.Result{RequestID: "req-1", Type: collector.KindSearch, Data: map[string]any{"products": []any{}}}
	payload, err := json.Marshal(res)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE tasks SET status = 'done'").
		WithArgs("task-1", payload, "req-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.MarkDone(context.Background(), "task-1", res))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailedRequiresLiveRow(t *testing.T) {
	t.Parallel()

	store, mock := newTaskStoreMock(t)

	mock.ExpectExec("UPDATE tasks SET status = 'failed'").
		WithArgs("task-1", "boom").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.MarkFailed(context.Background(), "task-1", "boom")
	require.ErrorIs(t, err, collector.ErrTaskConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTaskScansRow(t *testing.T) {
	t.Parallel()

	store, mock := newTaskStoreMock(t)
	now := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows([]string{
		"id", "type", "source", "payload", "priority", "status",
		"user_id", "request_id", "result", "error", "created_at", "updated_at",
	}).AddRow(
		"task-1", "product", "wildberries", []byte(`{"type":"product","val":"123"}`), 3, "done",
		"u1", "req-1", []byte(`{"requestId":"req-1","type":"product","data":{}}`), "", now, now,
	)

	mock.ExpectQuery("SELECT (.+) FROM tasks WHERE id").
		WithArgs("task-1").
		WillReturnRows(rows)

	task, err := store.GetTask(context.Background(), "task-1")
	require.NoError(t, err)
	require.Equal(t, collector.TaskStatusDone, task.Status)
	require.Equal(t, collector.KindProduct, task.Type)
	require.Equal(t, "123", task.Payload.Val)
	require.NotNil(t, task.Result)
	require.Equal(t, "req-1", task.Result.RequestID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTaskNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newTaskStoreMock(t)

	mock.ExpectQuery("SELECT (.+) FROM tasks WHERE id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetTask(context.Background(), "missing")
	require.ErrorIs(t, err, collector.ErrTaskNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountByStatus(t *testing.T) {
	t.Parallel()

	store, mock := newTaskStoreMock(t)

	rows := pgxmock.NewRows([]string{"status", "count"}).
		AddRow("queued", 2).
		AddRow("done", 7)
	mock.ExpectQuery("SELECT status, count").WillReturnRows(rows)

	counts, err := store.CountByStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, counts[collector.TaskStatusQueued])
	require.Equal(t, 7, counts[collector.TaskStatusDone])
	require.NoError(t, mock.ExpectationsWereMet())
}
