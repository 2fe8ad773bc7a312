// Package dispatcher owns task submission and the worker pool lifecycle.
package dispatcher

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/asolovev/wb-collector/internal/collector"
	"github.com/asolovev/wb-collector/internal/queue"
	"github.com/asolovev/wb-collector/internal/worker"
)

// ErrQueueFull is surfaced to callers when a submission cannot be queued.
var ErrQueueFull = queue.ErrQueueFull

// Dispatcher accepts task submissions and fans the worker pool out over
// the shared queue.
type Dispatcher struct {
	queue           collector.Queue
	tasks           collector.TaskStore
	ids             collector.IDGenerator
	clock           collector.Clock
	defaultPriority int
	workers         []*worker.Worker
	logger          *zap.Logger
}

// New builds a Dispatcher over an already-constructed worker pool.
func New(
	q collector.Queue,
	tasks collector.TaskStore,
	ids collector.IDGenerator,
	clock collector.Clock,
	defaultPriority int,
	workers []*worker.Worker,
	logger *zap.Logger,
) *Dispatcher {
	if defaultPriority <= 0 {
		defaultPriority = collector.DefaultPriority
	}
	return &Dispatcher{
		queue:           q,
		tasks:           tasks,
		ids:             ids,
		clock:           clock,
		defaultPriority: defaultPriority,
		workers:         workers,
		logger:          logger.Named("dispatcher"),
	}
}

// Submit validates msg, persists a durable task row, and enqueues a
// reference to it. The row always exists before the reference becomes
// visible to workers.
func (d *Dispatcher) Submit(ctx context.Context, user collector.User, msg collector.Message) (collector.Task, error) {
	if !msg.Type.Valid() {
		if msg.Type == "" {
			return collector.Task{}, collector.ErrInvalidMessage
		}
		return collector.Task{}, collector.ErrUnsupportedType
	}
	if msg.Source != "" && msg.Source != collector.SourceWildberries {
		return collector.Task{}, collector.ErrUnsupportedSource
	}

	id, err := d.ids.NewID()
	if err != nil {
		return collector.Task{}, collector.Infra("task id", err)
	}

	priority := msg.Priority
	if priority <= 0 {
		priority = d.defaultPriority
	}

	now := d.clock.Now()
	task := collector.Task{
		ID:        id,
		Type:      msg.Type,
		Source:    collector.SourceWildberries,
		Payload:   msg,
		Priority:  priority,
		Status:    collector.TaskStatusQueued,
		UserID:    user.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.tasks.CreateTask(ctx, task); err != nil {
		return collector.Task{}, collector.Infra("task create", err)
	}

	ref := collector.TaskRef{TaskID: id, UserID: user.ID, Priority: priority, Msg: msg}
	if err := d.queue.Enqueue(ctx, ref); err != nil {
		// The durable row must not stay queued forever when the reference
		// never made it into the queue.
		if markErr := d.tasks.MarkFailed(ctx, id, "queue_full"); markErr != nil {
			d.logger.Error("orphaned task row", zap.String("task_id", id), zap.Error(markErr))
		}
		if errors.Is(err, queue.ErrQueueFull) {
			return collector.Task{}, ErrQueueFull
		}
		return collector.Task{}, collector.Infra("task enqueue", err)
	}

	d.logger.Info("task queued",
		zap.String("task_id", id),
		zap.String("type", string(msg.Type)),
		zap.Int("priority", priority),
		zap.String("user_id", user.ID))
	return task, nil
}

// Run starts every worker and blocks until all of them exit.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("worker pool starting", zap.Int("workers", len(d.workers)))

	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			w.Run(ctx)
		}(w)
	}
	wg.Wait()

	d.logger.Info("worker pool stopped")
}
