// Package httpclient provides the retrying HTTP client shared by the
// dispatcher, orchestrator probes, and notification sinks.
package httpclient

import (
	"fmt"
	"math"
	"net/http"
	"time"
)

// RetryStrategy decides how a failed attempt is retried.
type RetryStrategy int

const (
	NoRetry RetryStrategy = iota
	BackoffRetry
)

// StrategyFunc maps a status code to a retry strategy.
type StrategyFunc func(statusCode int) RetryStrategy

// Client wraps http.Client with bounded exponential backoff on retryable
// status codes. Request deadlines come from the request context.
type Client struct {
	client       *http.Client
	maxRetries   int
	baseDelay    time.Duration
	maxDelay     time.Duration
	strategyFunc StrategyFunc
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying transport client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.client = client }
}

// WithMaxRetries bounds retry attempts.
func WithMaxRetries(max int) Option {
	return func(c *Client) { c.maxRetries = max }
}

// WithBaseDelay sets the first backoff interval.
func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) { c.baseDelay = delay }
}

// WithMaxDelay caps the backoff interval.
func WithMaxDelay(delay time.Duration) Option {
	return func(c *Client) { c.maxDelay = delay }
}

// WithStrategy replaces the retry decision function.
func WithStrategy(fn StrategyFunc) Option {
	return func(c *Client) { c.strategyFunc = fn }
}

// New builds a client with sane defaults.
func New(opts ...Option) *Client {
	c := &Client{
		client:       &http.Client{Timeout: 60 * time.Second},
		maxRetries:   3,
		baseDelay:    200 * time.Millisecond,
		maxDelay:     10 * time.Second,
		strategyFunc: DefaultStrategy,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultStrategy retries rate limits, timeouts, and 5xx responses.
func DefaultStrategy(statusCode int) RetryStrategy {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return BackoffRetry
	default:
		return NoRetry
	}
}

// Do executes the request, retrying per the strategy. The request body must
// have GetBody set for retries to replay it (true for bytes.Reader bodies).
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("failed to recreate request body for retry: %w", err)
				}
				req.Body = body
			}

			delay := c.delay(attempt)
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(delay):
			}
		}

		resp, err := c.client.Do(req)
		if err != nil {
			// Transport errors are terminal; the context deadline governs.
			return nil, err
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		if c.strategyFunc(resp.StatusCode) == NoRetry {
			return resp, nil
		}

		lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
		if attempt < c.maxRetries {
			resp.Body.Close()
			continue
		}
		return resp, nil
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}

func (c *Client) delay(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt-1))) * c.baseDelay
	if d > c.maxDelay {
		d = c.maxDelay
	}
	return d
}
