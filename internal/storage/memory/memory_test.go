package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/asolovev/wb-collector/internal/collector"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTask(id string) collector.Task {
	return collector.Task{
		ID:       id,
		Type:     collector.KindSearch,
		Source:   collector.SourceWildberries,
		Priority: 3,
		Status:   collector.TaskStatusQueued,
	}
}

func TestTaskLifecycle(t *testing.T) {
	t.Parallel()

	s := NewTaskStore(fixedClock{now: time.Now()})
	ctx := context.Background()

	require.NoError(t, s.CreateTask(ctx, newTask("t1")))
	require.Error(t, s.CreateTask(ctx, newTask("t1")))

	require.NoError(t, s.MarkRunning(ctx, "t1"))
	require.NoError(t, s.MarkDone(ctx, "t1", collector.Result{RequestID: "r1", Type: collector.KindSearch, Data: "ok"}))

	task, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, collector.TaskStatusDone, task.Status)
	require.Equal(t, "r1", task.RequestID)
	require.NotNil(t, task.Result)
}

func TestStatusTransitionsAreMonotonic(t *testing.T) {
	t.Parallel()

	s := NewTaskStore(fixedClock{now: time.Now()})
	ctx := context.Background()
	require.NoError(t, s.CreateTask(ctx, newTask("t1")))

	// done and failed require a running predecessor
	require.ErrorIs(t, s.MarkDone(ctx, "t1", collector.Result{}), collector.ErrTaskConflict)

	require.NoError(t, s.MarkRunning(ctx, "t1"))
	require.ErrorIs(t, s.MarkRunning(ctx, "t1"), collector.ErrTaskConflict)

	require.NoError(t, s.MarkFailed(ctx, "t1", "boom"))
	require.ErrorIs(t, s.MarkRunning(ctx, "t1"), collector.ErrTaskConflict)
	require.ErrorIs(t, s.MarkDone(ctx, "t1", collector.Result{}), collector.ErrTaskConflict)

	task, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, collector.TaskStatusFailed, task.Status)
	require.Equal(t, "boom", task.Error)
}

func TestMarkFailedFromQueued(t *testing.T) {
	t.Parallel()

	s := NewTaskStore(fixedClock{now: time.Now()})
	ctx := context.Background()
	require.NoError(t, s.CreateTask(ctx, newTask("t1")))
	require.NoError(t, s.MarkFailed(ctx, "t1", "queue_full"))

	task, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, collector.TaskStatusFailed, task.Status)
}

func TestSingleClaimUnderConcurrency(t *testing.T) {
	t.Parallel()

	s := NewTaskStore(fixedClock{now: time.Now()})
	ctx := context.Background()
	require.NoError(t, s.CreateTask(ctx, newTask("t1")))

	var wg sync.WaitGroup
	var mu sync.Mutex
	claims := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.MarkRunning(ctx, "t1") == nil {
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, claims)
}

func TestGetTaskNotFound(t *testing.T) {
	t.Parallel()

	s := NewTaskStore(fixedClock{now: time.Now()})
	_, err := s.GetTask(context.Background(), "missing")
	require.ErrorIs(t, err, collector.ErrTaskNotFound)
}

func TestCountByStatus(t *testing.T) {
	t.Parallel()

	s := NewTaskStore(fixedClock{now: time.Now()})
	ctx := context.Background()
	require.NoError(t, s.CreateTask(ctx, newTask("a")))
	require.NoError(t, s.CreateTask(ctx, newTask("b")))
	require.NoError(t, s.MarkRunning(ctx, "a"))

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, counts[collector.TaskStatusQueued])
	require.Equal(t, 1, counts[collector.TaskStatusRunning])
}

func TestProxyStoreRoundTrip(t *testing.T) {
	t.Parallel()

	s := NewProxyStore([]collector.Proxy{
		{Host: "10.0.0.1", Port: 8080, Active: true},
		{Host: "10.0.0.2", Port: 8080, Active: false},
	})
	ctx := context.Background()

	active, err := s.ListActiveProxies(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	require.NoError(t, s.TouchProxy(ctx, active[0].ID, time.Now()))
	require.NoError(t, s.RecordProxyResult(ctx, active[0].ID, 5, false, 0))

	active, err = s.ListActiveProxies(ctx)
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestIdentityStoreRoundTrip(t *testing.T) {
	t.Parallel()

	s := NewIdentityStore()
	ctx := context.Background()

	id, err := s.InsertIdentity(ctx, collector.Identity{UserAgent: "ua", Session: "sess", Active: true})
	require.NoError(t, err)
	require.Positive(t, id)

	active, err := s.ListActiveIdentities(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	require.NoError(t, s.DisableIdentity(ctx, id, "blocked"))
	active, err = s.ListActiveIdentities(ctx)
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestCatalogUpsertConverges(t *testing.T) {
	t.Parallel()

	s := NewCatalogStore()
	ctx := context.Background()

	rec := collector.ProductRecord{NmID: 42, Title: "first"}
	require.NoError(t, s.UpsertProduct(ctx, rec))
	rec.Title = "second"
	require.NoError(t, s.UpsertProduct(ctx, rec))
	require.NoError(t, s.BatchUpsertProducts(ctx, []collector.ProductRecord{{NmID: 42, Title: "third"}, {NmID: 43}}))

	require.Equal(t, 2, s.ProductCount())
	got, ok := s.Product(42)
	require.True(t, ok)
	require.Equal(t, "third", got.Title)
}
