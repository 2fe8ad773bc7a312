// Package collyfetcher implements the outbound Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/asolovev/wb-collector/internal/collector"
)

// defaultTimeout bounds requests that carry no per-call timeout.
const defaultTimeout = 15 * time.Second

// Fetcher implements collector.Fetcher using a cloned Colly collector per
// call. Cloning keeps the shared transport's connection pool while letting
// each request carry its own proxy, headers, and timeout.
type Fetcher struct {
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New() *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true

	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET. A response with a non-2xx status is
// returned as data, not as an error; only transport-level failures
// (dial, TLS, timeout) surface as errors.
func (f *Fetcher) Fetch(ctx context.Context, request collector.FetchRequest) (collector.FetchResponse, error) {
	var (
		result   collector.FetchResponse
		fetchErr error
	)
	start := time.Now()

	c, err := f.buildCollector(request, start, &result, &fetchErr)
	if err != nil {
		return collector.FetchResponse{}, err
	}
	if err := f.runCollector(ctx, c, request.URL, &fetchErr, &result); err != nil {
		return collector.FetchResponse{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	request collector.FetchRequest,
	start time.Time,
	result *collector.FetchResponse,
	fetchErr *error,
) (*colly.Collector, error) {
	c := f.baseCollector.Clone()
	c.IgnoreRobotsTxt = true

	timeout := request.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	c.SetRequestTimeout(timeout)

	// SetProxy mutates the transport's proxy function, so proxied requests
	// get a private transport instead of the shared pooled one.
	if request.ProxyURL != "" {
		c.WithTransport(newHTTPTransport())
		if err := c.SetProxy(request.ProxyURL); err != nil {
			return nil, fmt.Errorf("set proxy: %w", err)
		}
	} else {
		c.WithTransport(f.transport)
	}

	f.configureCollectorHooks(c, request, start, result, fetchErr)
	return c, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request collector.FetchRequest,
	start time.Time,
	result *collector.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = collector.FetchResponse{
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	// Colly reports non-2xx statuses through OnError. The status and body
	// are still meaningful to handlers, so they are captured as a normal
	// response; only transport failures (status 0) stay errors.
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			*result = collector.FetchResponse{
				StatusCode: r.StatusCode,
				Body:       append([]byte(nil), r.Body...),
				Duration:   time.Since(start),
			}
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(
	ctx context.Context,
	c *colly.Collector,
	url string,
	fetchErr *error,
	result *collector.FetchResponse,
) error {
	done := make(chan error, 1)
	go func() {
		done <- c.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("fetch failed: %w", *fetchErr)
		}
		if err != nil && result.StatusCode == 0 {
			return fmt.Errorf("fetch failed: %w", err)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(request collector.FetchRequest, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
