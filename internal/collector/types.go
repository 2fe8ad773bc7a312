// Package collector defines core types shared across subsystems.
package collector

import (
	"encoding/json"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SourceWildberries is the only external catalog source this service talks to.
const SourceWildberries = "wildberries"

// QueryKind identifies one of the supported catalog query types.
type QueryKind string

// Supported query kinds. The router's registry covers exactly this set.
const (
	KindSuggest QueryKind = "suggest"
	KindSearch  QueryKind = "search"
	KindProduct QueryKind = "product"
	KindBrand   QueryKind = "brand"
	KindSeller  QueryKind = "seller"
)

// Kinds lists every supported query kind in a stable order.
var Kinds = []QueryKind{KindSuggest, KindSearch, KindProduct, KindBrand, KindSeller}

// Valid reports whether k is one of the supported kinds.
func (k QueryKind) Valid() bool {
	switch k {
	case KindSuggest, KindSearch, KindProduct, KindBrand, KindSeller:
		return true
	default:
		return false
	}
}

// TaskStatus represents the lifecycle state of a queued task.
// Transitions are monotonic: queued -> running -> done|failed.
type TaskStatus string

// Task status values persisted in the task store.
const (
	TaskStatusQueued  TaskStatus = "queued"
	TaskStatusRunning TaskStatus = "running"
	TaskStatusDone    TaskStatus = "done"
	TaskStatusFailed  TaskStatus = "failed"
)

// DefaultPriority is assigned when a submission carries no priority.
// Lower values are served first.
const DefaultPriority = 3

// Message is the inbound query envelope accepted by the router and the
// realtime channel. Val and Query are aliases; Val wins when both are set.
type Message struct {
	Type      QueryKind `json:"type"`
	Source    string    `json:"source,omitempty"`
	Val       string    `json:"val,omitempty"`
	Query     string    `json:"query,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
	Priority  int       `json:"priority,omitempty"`
	Queue     bool      `json:"queue,omitempty"`
}

// QueryValue returns the trimmed query string from either field.
func (m Message) QueryValue() string {
	if v := strings.TrimSpace(m.Val); v != "" {
		return v
	}
	return strings.TrimSpace(m.Query)
}

// Result is the normalized envelope returned by the router and handlers.
type Result struct {
	RequestID string    `json:"requestId"`
	Type      QueryKind `json:"type"`
	Data      any       `json:"data"`
}

// User is the ambient caller context attached to every dispatch.
type User struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// Task is the durable record of one unit of fetch work. It is owned by the
// task queue and mutated only by the worker that currently holds it.
type Task struct {
	ID        string     `json:"id"`
	Type      QueryKind  `json:"type"`
	Source    string     `json:"source"`
	Payload   Message    `json:"payload"`
	Priority  int        `json:"priority"`
	Status    TaskStatus `json:"status"`
	UserID    string     `json:"user_id"`
	RequestID string     `json:"request_id,omitempty"`
	Result    *Result    `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TaskRef is the lightweight queue entry pointing at a durable Task row.
type TaskRef struct {
	TaskID    string
	UserID    string
	Priority  int
	Msg       Message
	Submitted int64
}

// Proxy describes one outbound egress point owned by the proxy pool.
type Proxy struct {
	ID           int64         `json:"id"`
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	Protocol     string        `json:"protocol"`
	Username     string        `json:"username,omitempty"`
	Password     string        `json:"-"`
	RegionCode   string        `json:"region_code,omitempty"`
	Active       bool          `json:"active"`
	FailCount    int           `json:"fail_count"`
	UseCount     int64         `json:"use_count"`
	LastUsed     time.Time     `json:"last_used"`
	ResponseTime time.Duration `json:"response_time"`
}

// URL renders the proxy as a connection string usable by an HTTP transport.
func (p Proxy) URL() string {
	scheme := p.Protocol
	if scheme == "" {
		scheme = "http"
	}
	u := url.URL{Scheme: scheme, Host: net.JoinHostPort(p.Host, strconv.Itoa(p.Port))}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u.String()
}

// Identity is a synthetic browser profile rotated across outbound requests.
type Identity struct {
	ID        int64     `json:"id"`
	UserAgent string    `json:"user_agent"`
	Session   string    `json:"session"`
	AppType   int       `json:"app_type"`
	ClientID  string    `json:"client_id"`
	Active    bool      `json:"active"`
	LastUsed  time.Time `json:"last_used"`
	UseCount  int64     `json:"use_count"`
}

// ProductRecord is the canonical product shape written by the upsert layer,
// keyed by the platform's nm_id.
type ProductRecord struct {
	NmID          int64           `json:"nm_id"`
	ImtID         int64           `json:"imt_id,omitempty"`
	Title         string          `json:"title,omitempty"`
	Brand         string          `json:"brand,omitempty"`
	BrandID       int64           `json:"brand_id,omitempty"`
	Price         int64           `json:"price,omitempty"`
	PriceOld      int64           `json:"price_old,omitempty"`
	Rating        float64         `json:"rating,omitempty"`
	FeedbackCount int             `json:"feedback_count"`
	Raw           json.RawMessage `json:"raw_payload,omitempty"`
}

// BrandRecord is the canonical brand shape, keyed by brand_id.
type BrandRecord struct {
	BrandID     int64           `json:"brand_id"`
	Name        string          `json:"name,omitempty"`
	Site        string          `json:"site,omitempty"`
	Description string          `json:"description,omitempty"`
	Raw         json.RawMessage `json:"raw_payload,omitempty"`
}

// SellerRecord is the canonical seller shape, keyed by supplier_id.
// Error carries the degraded-fetch marker when the live lookup failed.
type SellerRecord struct {
	SupplierID   int64    `json:"supplier_id"`
	Name         string   `json:"name"`
	Rating       *float64 `json:"rating"`
	ReviewsCount int      `json:"reviews_count"`
	Error        string   `json:"error,omitempty"`
}
