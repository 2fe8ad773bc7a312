package collector

import (
	"context"
	"net/http"
	"time"
)

// TaskStore persists durable task records. Status transitions are monotonic;
// implementations must reject a transition from any state other than the
// expected predecessor so a claim is visible exactly once.
type TaskStore interface {
	CreateTask(ctx context.Context, task Task) error
	MarkRunning(ctx context.Context, taskID string) error
	MarkDone(ctx context.Context, taskID string, result Result) error
	MarkFailed(ctx context.Context, taskID string, errText string) error
	GetTask(ctx context.Context, taskID string) (Task, error)
	CountByStatus(ctx context.Context) (map[TaskStatus]int, error)
}

// Queue provides enqueue/dequeue semantics for task references.
// Dequeue blocks until an item is available or the context finishes.
type Queue interface {
	Enqueue(ctx context.Context, ref TaskRef) error
	Dequeue(ctx context.Context) (TaskRef, error)
}

// Handler answers one query kind.
type Handler interface {
	Handle(ctx context.Context, requestID string, user User, msg Message) (Result, error)
}

// ProxyStore persists proxy pool records.
type ProxyStore interface {
	ListActiveProxies(ctx context.Context) ([]Proxy, error)
	TouchProxy(ctx context.Context, proxyID int64, at time.Time) error
	RecordProxyResult(ctx context.Context, proxyID int64, failCount int, active bool, latency time.Duration) error
}

// IdentityStore persists synthetic identity records.
type IdentityStore interface {
	ListActiveIdentities(ctx context.Context) ([]Identity, error)
	TouchIdentity(ctx context.Context, identityID int64, at time.Time) error
	InsertIdentity(ctx context.Context, identity Identity) (int64, error)
	DisableIdentity(ctx context.Context, identityID int64, reason string) error
}

// CatalogStore upserts normalized catalog entities keyed by their natural id.
type CatalogStore interface {
	UpsertProduct(ctx context.Context, rec ProductRecord) error
	BatchUpsertProducts(ctx context.Context, recs []ProductRecord) error
	UpsertBrand(ctx context.Context, rec BrandRecord) error
	UpsertSeller(ctx context.Context, rec SellerRecord) error
}

// FetchRequest captures one outbound catalog call.
type FetchRequest struct {
	URL      string
	Headers  http.Header
	ProxyURL string
	Timeout  time.Duration
}

// FetchResponse is returned by a Fetcher. A non-2xx status is not an error;
// handlers classify the outcome by their own failure policy.
type FetchResponse struct {
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Fetcher performs a single outbound HTTP call.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// Authenticator verifies an opaque bearer credential presented at
// connection time and resolves the caller.
type Authenticator interface {
	Verify(ctx context.Context, token string) (User, error)
}

// EventPublisher pushes task lifecycle events to an external topic.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task and request IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
