// Package http builds the retrying HTTP client used to reach RPC backends.
// It wraps HashiCorp's retryablehttp.Client and exposes functional options for
// timeouts, retry behavior and connection pooling.
package http

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// config holds internal settings for the HTTP client.
type config struct {
	timeout             time.Duration // maximum duration for a single HTTP request
	retryWaitMin        time.Duration // minimum delay between retry attempts
	retryWaitMax        time.Duration // maximum delay between retry attempts
	retryMax            int           // maximum number of retry attempts
	maxIdleConnsPerHost int           // idle keep-alive connections kept per backend
}

// Option defines a functional option for configuring the HTTP client.
type Option func(*config)

// NewClient creates a retryablehttp.Client configured with the provided
// options. Defaults favour latency measurement over resilience, since every
// retry inflates the observed request time:
//
//   - timeout:             10 seconds
//   - retryWaitMin:        250 milliseconds
//   - retryWaitMax:        2 seconds
//   - retryMax:            0 retries
//   - maxIdleConnsPerHost: 16
func NewClient(opts ...Option) *retryablehttp.Client {
	cfg := config{
		timeout:             10 * time.Second,
		retryWaitMin:        250 * time.Millisecond,
		retryWaitMax:        2 * time.Second,
		retryMax:            0,
		maxIdleConnsPerHost: 16,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	client := retryablehttp.NewClient()
	client.Logger = nil
	client.HTTPClient.Timeout = cfg.timeout
	client.RetryWaitMin = cfg.retryWaitMin
	client.RetryWaitMax = cfg.retryWaitMax
	client.RetryMax = cfg.retryMax

	if transport, ok := client.HTTPClient.Transport.(*http.Transport); ok {
		transport.MaxIdleConnsPerHost = cfg.maxIdleConnsPerHost
	}

	return client
}

// WithTimeout sets the maximum duration allowed for a single HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithRetryWaitMin sets the minimum delay between retry attempts.
func WithRetryWaitMin(d time.Duration) Option {
	return func(c *config) {
		c.retryWaitMin = d
	}
}

// WithRetryWaitMax sets the maximum delay between retry attempts.
func WithRetryWaitMax(d time.Duration) Option {
	return func(c *config) {
		c.retryWaitMax = d
	}
}

// WithRetryMax sets the maximum number of retry attempts for failed requests.
func WithRetryMax(n int) Option {
	return func(c *config) {
		c.retryMax = n
	}
}

// WithMaxIdleConnsPerHost sets how many keep-alive connections are pooled per backend.
func WithMaxIdleConnsPerHost(n int) Option {
	return func(c *config) {
		c.maxIdleConnsPerHost = n
	}
}
