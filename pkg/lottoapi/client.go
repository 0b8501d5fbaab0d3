// Package lottoapi is a client for the lottery retailer search endpoint.
package lottoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/store-locator/internal/model"
	"github.com/sells-group/store-locator/internal/resilience"
)

// StoresPath is the search endpoint path.
const StoresPath = "/lotto-stores"

// maxErrorBody caps how much of an error response ends up in the error.
const maxErrorBody = 512

// Client defines the store search operations.
type Client interface {
	// Stores returns the retailers inside the query rectangle.
	Stores(ctx context.Context, q model.BoundsQuery) ([]model.StoreRecord, error)
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("lottoapi: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets the API origin.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
	}
}

// WithRetry sets the retry policy. The default is a single attempt.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.policy.Retry = cfg
	}
}

// WithCircuitBreaker guards the endpoint with cb.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *httpClient) {
		c.policy.Breaker = cb
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	policy  resilience.Policy
}

// NewClient creates a store search client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: "http://localhost:8080",
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		policy: resilience.Policy{Retry: resilience.DefaultRetryConfig()},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.policy.Retry.OnRetry == nil {
		c.policy.Retry.OnRetry = resilience.RetryLogger("lottoapi", "stores")
	}
	return c
}

func (c *httpClient) Stores(ctx context.Context, q model.BoundsQuery) ([]model.StoreRecord, error) {
	payload, err := json.Marshal(q)
	if err != nil {
		return nil, eris.Wrap(err, "lottoapi: marshal query")
	}

	records, err := resilience.Run(ctx, c.policy, func(ctx context.Context) ([]model.StoreRecord, error) {
		return c.post(ctx, payload)
	})
	if err != nil {
		return nil, eris.Wrap(err, "lottoapi: stores")
	}
	return records, nil
}

func (c *httpClient) post(ctx context.Context, payload []byte) ([]model.StoreRecord, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "lottoapi: rate limit wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+StoresPath, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "lottoapi: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "lottoapi: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "lottoapi: read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), maxErrorBody)}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	}

	var records []model.StoreRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, eris.Wrap(err, "lottoapi: unmarshal response")
	}
	return records, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
