package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/asolovev/wb-collector/internal/collector"
)

type stubHandler struct {
	gotRequestID string
	gotUser      collector.User
	result       collector.Result
	err          error
}

func (h *stubHandler) Handle(_ context.Context, requestID string, user collector.User, _ collector.Message) (collector.Result, error) {
	h.gotRequestID = requestID
	h.gotUser = user
	if h.err != nil {
		return collector.Result{}, h.err
	}
	return h.result, nil
}

type stubIDs struct {
	next string
	err  error
}

func (s *stubIDs) NewID() (string, error) { return s.next, s.err }

func newTestRouter(h collector.Handler) *Router {
	return New(map[collector.QueryKind]collector.Handler{
		collector.KindSuggest: h,
	}, &stubIDs{next: "generated-id"}, zap.NewNop())
}

func TestRouteAssignsRequestID(t *testing.T) {
	t.Parallel()

	h := &stubHandler{result: collector.Result{Data: []any{}}}
	r := newTestRouter(h)

	res, err := r.Route(context.Background(), collector.User{ID: "u1"}, collector.Message{Type: collector.KindSuggest, Val: "q"})
	require.NoError(t, err)
	require.Equal(t, "generated-id", res.RequestID)
	require.Equal(t, "generated-id", h.gotRequestID)
	require.Equal(t, collector.KindSuggest, res.Type)
	require.Equal(t, "u1", h.gotUser.ID)
}

func TestRouteKeepsCallerRequestID(t *testing.T) {
	t.Parallel()

	h := &stubHandler{result: collector.Result{Data: []any{}}}
	r := newTestRouter(h)

	res, err := r.Route(context.Background(), collector.User{}, collector.Message{
		Type:      collector.KindSuggest,
		Val:       "q",
		RequestID: "caller-id",
	})
	require.NoError(t, err)
	require.Equal(t, "caller-id", res.RequestID)
	require.Equal(t, "caller-id", h.gotRequestID)
}

func TestRouteValidation(t *testing.T) {
	t.Parallel()

	r := newTestRouter(&stubHandler{})

	_, err := r.Route(context.Background(), collector.User{}, collector.Message{})
	require.ErrorIs(t, err, collector.ErrInvalidMessage)

	_, err = r.Route(context.Background(), collector.User{}, collector.Message{Type: collector.KindSuggest, Source: "ozon"})
	require.ErrorIs(t, err, collector.ErrUnsupportedSource)

	_, err = r.Route(context.Background(), collector.User{}, collector.Message{Type: collector.QueryKind("catalog")})
	require.ErrorIs(t, err, collector.ErrUnsupportedType)
}

func TestRouteDefaultsSource(t *testing.T) {
	t.Parallel()

	h := &stubHandler{result: collector.Result{Data: []any{}}}
	r := newTestRouter(h)

	_, err := r.Route(context.Background(), collector.User{}, collector.Message{Type: collector.KindSuggest, Val: "q"})
	require.NoError(t, err)
}

func TestRoutePropagatesHandlerError(t *testing.T) {
	t.Parallel()

	boom := collector.Upstream(collector.KindSuggest, "failed")
	r := newTestRouter(&stubHandler{err: boom})

	_, err := r.Route(context.Background(), collector.User{}, collector.Message{Type: collector.KindSuggest, Val: "q"})
	require.True(t, collector.IsUpstream(err))
	require.False(t, errors.Is(err, collector.ErrInvalidMessage))
}
