package assistant

import (
	"net/http"
	"strings"
	"time"
)

type Option func(c *Client)

// RetryPolicy controls request retry behavior.
type RetryPolicy struct {
	MaxAttempts   int
	Delay         time.Duration
	RetryStatuses map[int]struct{}
	RetryOnError  bool
}

func defaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 1,
		Delay:       250 * time.Millisecond,
		RetryStatuses: map[int]struct{}{
			http.StatusTooManyRequests:    {},
			http.StatusBadGateway:         {},
			http.StatusServiceUnavailable: {},
			http.StatusGatewayTimeout:     {},
		},
		RetryOnError: true,
	}
}

// WithHTTPClient supplies a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout bounds every request, including retries of it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithRetries allows n extra attempts on transport errors and 429/502/503/504.
func WithRetries(n int) Option {
	return func(c *Client) {
		c.retry.MaxAttempts = n + 1
	}
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) {
		c.retry = p
	}
}

// WithToken sends "Authorization: Bearer <token>" on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		if t := strings.TrimSpace(token); t != "" {
			c.setHeader("Authorization", "Bearer "+t)
		}
	}
}

// WithHeader sets a static header on all requests.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.setHeader(key, value)
	}
}
