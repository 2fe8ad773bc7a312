// Package worker implements the queue consumers.
//
// Every worker shares one token-bucket limiter, so the pool as a whole
// never starts more than the configured number of tasks per window no
// matter how many workers are idle.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/asolovev/wb-collector/internal/collector"
	"github.com/asolovev/wb-collector/internal/metrics"
)

// publishTimeout bounds the detached completion-event publish.
const publishTimeout = 5 * time.Second

// Router dispatches one message to its handler.
type Router interface {
	Route(ctx context.Context, user collector.User, msg collector.Message) (collector.Result, error)
}

// Worker consumes task references from the queue until its context ends.
type Worker struct {
	id        int
	queue     collector.Queue
	tasks     collector.TaskStore
	router    Router
	publisher collector.EventPublisher
	topic     string
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// New builds a worker. The limiter must be shared across the pool.
func New(
	id int,
	queue collector.Queue,
	tasks collector.TaskStore,
	router Router,
	publisher collector.EventPublisher,
	topic string,
	limiter *rate.Limiter,
	logger *zap.Logger,
) *Worker {
	return &Worker{
		id:        id,
		queue:     queue,
		tasks:     tasks,
		router:    router,
		publisher: publisher,
		topic:     topic,
		limiter:   limiter,
		logger:    logger.Named("worker").With(zap.Int("worker_id", id)),
	}
}

// Run blocks on the dequeue loop until the context finishes. The throttle
// wait happens before the dequeue, so a saturated pool holds tasks in the
// queue rather than in flight.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started")
	defer w.logger.Info("worker stopped")

	for {
		waitStart := time.Now()
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
		metrics.ObserveRateLimitDelay(time.Since(waitStart))

		ref, err := w.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		w.process(ctx, ref)
	}
}

func (w *Worker) process(ctx context.Context, ref collector.TaskRef) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	log := w.logger.With(zap.String("task_id", ref.TaskID), zap.String("type", string(ref.Msg.Type)))

	// The claim is the only gate against double execution; a reference
	// whose row is no longer queued belongs to someone else.
	if err := w.tasks.MarkRunning(ctx, ref.TaskID); err != nil {
		log.Warn("task claim rejected", zap.Error(err))
		return
	}
	log.Info("task started")

	res, err := w.router.Route(ctx, collector.User{ID: ref.UserID}, ref.Msg)
	if err != nil {
		if markErr := w.tasks.MarkFailed(ctx, ref.TaskID, err.Error()); markErr != nil {
			log.Error("task failure not recorded", zap.Error(markErr))
		}
		metrics.ObserveTask(string(collector.TaskStatusFailed))
		log.Warn("task failed", zap.Error(err))
		w.publish(ctx, ref, collector.TaskStatusFailed, res.RequestID, err)
		return
	}

	if markErr := w.tasks.MarkDone(ctx, ref.TaskID, res); markErr != nil {
		log.Error("task result not recorded", zap.Error(markErr))
	}
	metrics.ObserveTask(string(collector.TaskStatusDone))
	log.Info("task done", zap.String("request_id", res.RequestID))
	w.publish(ctx, ref, collector.TaskStatusDone, res.RequestID, nil)
}

// publish emits a completion event detached from the worker loop. Publish
// failures are logged and dropped.
func (w *Worker) publish(ctx context.Context, ref collector.TaskRef, status collector.TaskStatus, requestID string, taskErr error) {
	if w.publisher == nil {
		return
	}
	payload := map[string]any{
		"task_id":    ref.TaskID,
		"type":       string(ref.Msg.Type),
		"status":     string(status),
		"request_id": requestID,
		"user_id":    ref.UserID,
	}
	if taskErr != nil {
		payload["error"] = taskErr.Error()
	}

	log := w.logger
	topic := w.topic
	pub := w.publisher
	go func() {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		if _, err := pub.Publish(pctx, topic, payload); err != nil {
			log.Warn("completion event publish failed", zap.String("task_id", ref.TaskID), zap.Error(err))
		}
	}()
}
