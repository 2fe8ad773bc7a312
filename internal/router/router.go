// Package router validates inbound messages and dispatches them to the
// handler registered for their query kind.
package router

import (
	"context"

	"go.uber.org/zap"

	"github.com/asolovev/wb-collector/internal/collector"
)

// Router holds the kind registry. The registry is fixed at construction;
// there is no dynamic registration.
type Router struct {
	handlers map[collector.QueryKind]collector.Handler
	ids      collector.IDGenerator
	logger   *zap.Logger
}

// New builds a Router over the given handler registry.
func New(handlers map[collector.QueryKind]collector.Handler, ids collector.IDGenerator, logger *zap.Logger) *Router {
	return &Router{
		handlers: handlers,
		ids:      ids,
		logger:   logger.Named("router"),
	}
}

// Route validates msg, assigns a request id when the caller did not send
// one, and runs the matching handler. Validation failures surface as
// ValidationError before any handler work happens.
func (r *Router) Route(ctx context.Context, user collector.User, msg collector.Message) (collector.Result, error) {
	if msg.Type == "" {
		return collector.Result{}, collector.ErrInvalidMessage
	}

	source := msg.Source
	if source == "" {
		source = collector.SourceWildberries
	}
	if source != collector.SourceWildberries {
		return collector.Result{}, collector.ErrUnsupportedSource
	}

	handler, ok := r.handlers[msg.Type]
	if !ok {
		return collector.Result{}, collector.ErrUnsupportedType
	}

	requestID := msg.RequestID
	if requestID == "" {
		id, err := r.ids.NewID()
		if err != nil {
			return collector.Result{}, collector.Infra("request id", err)
		}
		requestID = id
	}

	log := r.logger.With(
		zap.String("request_id", requestID),
		zap.String("type", string(msg.Type)),
		zap.String("user_id", user.ID),
	)
	log.Info("route start")

	res, err := handler.Handle(ctx, requestID, user, msg)
	if err != nil {
		log.Warn("route failed", zap.Error(err))
		return collector.Result{}, err
	}
	res.RequestID = requestID
	res.Type = msg.Type

	log.Info("route done")
	return res, nil
}

// Kinds lists the query kinds this router can serve.
func (r *Router) Kinds() []collector.QueryKind {
	out := make([]collector.QueryKind, 0, len(r.handlers))
	for _, k := range collector.Kinds {
		if _, ok := r.handlers[k]; ok {
			out = append(out, k)
		}
	}
	return out
}
