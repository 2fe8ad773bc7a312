package dispatcher

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/asolovev/wb-collector/internal/cache"
	"github.com/asolovev/wb-collector/internal/clock/system"
	"github.com/asolovev/wb-collector/internal/collector"
	"github.com/asolovev/wb-collector/internal/config"
	"github.com/asolovev/wb-collector/internal/id/uuid"
	"github.com/asolovev/wb-collector/internal/queue"
	"github.com/asolovev/wb-collector/internal/router"
	"github.com/asolovev/wb-collector/internal/storage/memory"
	"github.com/asolovev/wb-collector/internal/wb"
	"github.com/asolovev/wb-collector/internal/worker"
)

type pipelineFetcher struct {
	mu     sync.Mutex
	status int
	body   []byte
	err    error
	calls  int
}

func (f *pipelineFetcher) Fetch(_ context.Context, _ collector.FetchRequest) (collector.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return collector.FetchResponse{}, f.err
	}
	return collector.FetchResponse{StatusCode: f.status, Body: f.body, Duration: time.Millisecond}, nil
}

type pipelineProxies struct{}

func (pipelineProxies) Get(context.Context) (collector.Proxy, error) {
	return collector.Proxy{ID: 1, Host: "proxy.local", Port: 8080, Active: true}, nil
}

func (pipelineProxies) ReportResult(context.Context, int64, bool, time.Duration) {}

type pipelineIdentities struct{}

func (pipelineIdentities) Get(context.Context) (collector.Identity, error) {
	return collector.Identity{ID: 1, UserAgent: "ua", Session: "sess", AppType: 1}, nil
}

type pipeline struct {
	dispatcher *Dispatcher
	tasks      *memory.TaskStore
	catalog    *memory.CatalogStore
}

func newPipeline(t *testing.T, fetcher *pipelineFetcher) *pipeline {
	t.Helper()

	clock := system.New()
	catalog := memory.NewCatalogStore()
	deps := wb.Deps{
		Fetcher:    fetcher,
		Proxies:    pipelineProxies{},
		Identities: pipelineIdentities{},
		Cache:      cache.New(clock, nil),
		Catalog:    catalog,
		Endpoints:  wb.EndpointsFromConfig(config.FetchConfig{}),
		Logger:     zap.NewNop(),
	}
	handlers := map[collector.QueryKind]collector.Handler{
		collector.KindSearch:  wb.NewSearchHandler(deps),
		collector.KindProduct: wb.NewProductHandler(deps),
	}
	rtr := router.New(handlers, uuid.New(), zap.NewNop())

	tasks := memory.NewTaskStore(clock)
	q := queue.NewMemory(16)
	limiter := rate.NewLimiter(rate.Inf, 1)
	workers := make([]*worker.Worker, 0, 2)
	for i := 0; i < 2; i++ {
		workers = append(workers, worker.New(i, q, tasks, rtr, nil, "", limiter, zap.NewNop()))
	}
	d := New(q, tasks, uuid.New(), clock, 0, workers, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go d.Run(ctx)

	return &pipeline{dispatcher: d, tasks: tasks, catalog: catalog}
}

func (p *pipeline) waitForStatus(t *testing.T, taskID string, want collector.TaskStatus) collector.Task {
	t.Helper()
	var task collector.Task
	require.Eventually(t, func() bool {
		got, err := p.tasks.GetTask(context.Background(), taskID)
		if err != nil {
			return false
		}
		task = got
		return got.Status == want
	}, 2*time.Second, 10*time.Millisecond)
	return task
}

func TestSearchTaskEndToEnd(t *testing.T) {
	t.Parallel()

	fetcher := &pipelineFetcher{
		status: 200,
		body: []byte(`{"products":[{"id":42,"root":1,"name":"Молоко","brand":"Домик",` +
			`"brandId":7,"priceU":250000,"salePriceU":199900,"reviewRating":4.5,"feedbacks":10}]}`),
	}
	p := newPipeline(t, fetcher)

	task, err := p.dispatcher.Submit(context.Background(), collector.User{ID: "u1"}, collector.Message{
		Type:  collector.KindSearch,
		Query: "молоко",
	})
	require.NoError(t, err)

	done := p.waitForStatus(t, task.ID, collector.TaskStatusDone)
	require.NotNil(t, done.Result)

	raw, ok := done.Result.Data.(json.RawMessage)
	require.True(t, ok)
	var page struct {
		Products []map[string]any `json:"products"`
	}
	require.NoError(t, json.Unmarshal(raw, &page))
	require.Len(t, page.Products, 1)

	require.Eventually(t, func() bool {
		return p.catalog.ProductCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSearchTaskSoftFailureStillCompletes(t *testing.T) {
	t.Parallel()

	fetcher := &pipelineFetcher{err: context.DeadlineExceeded}
	p := newPipeline(t, fetcher)

	task, err := p.dispatcher.Submit(context.Background(), collector.User{ID: "u1"}, collector.Message{
		Type:  collector.KindSearch,
		Query: "молоко",
	})
	require.NoError(t, err)

	done := p.waitForStatus(t, task.ID, collector.TaskStatusDone)
	require.NotNil(t, done.Result)

	data, ok := done.Result.Data.(map[string]any)
	require.True(t, ok)
	products, ok := data["products"].([]any)
	require.True(t, ok)
	require.Empty(t, products)
	require.Equal(t, 0, p.catalog.ProductCount())
}

func TestProductTaskHardFailure(t *testing.T) {
	t.Parallel()

	fetcher := &pipelineFetcher{status: 404, body: []byte("not found")}
	p := newPipeline(t, fetcher)

	task, err := p.dispatcher.Submit(context.Background(), collector.User{ID: "u1"}, collector.Message{
		Type: collector.KindProduct,
		Val:  "221501024",
	})
	require.NoError(t, err)

	failed := p.waitForStatus(t, task.ID, collector.TaskStatusFailed)
	require.Contains(t, failed.Error, "product_not_found")
	require.Equal(t, 0, p.catalog.ProductCount())
}
