package evaguard

import (
	"log/slog"
	"net/http"
	"time"
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithServerAddr sets the evaguard server address.
// If not set, defaults to EVAGUARD_SERVER_ADDR or http://127.0.0.1:8090.
func WithServerAddr(addr string) Option {
	return func(c *Client) {
		c.serverAddr = addr
	}
}

// WithAPIKey sets the bearer key sent to the server.
// If not set, defaults to the EVAGUARD_API_KEY environment variable.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithSource sets the default source for check requests.
func WithSource(source string) Option {
	return func(c *Client) {
		c.source = source
	}
}

// WithFailMode sets the behavior when the server is unreachable.
// Valid values are FailOpen (allow) and FailClosed (return an error).
// If not set, defaults to EVAGUARD_FAIL_MODE or FailOpen.
func WithFailMode(mode string) Option {
	return func(c *Client) {
		c.failMode = mode
	}
}

// WithTimeout sets the HTTP request timeout. Defaults to 5 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithCacheTTL sets how long allowed responses are cached.
// 0 disables caching. Defaults to EVAGUARD_CACHE_TTL or 5 seconds.
func WithCacheTTL(d time.Duration) Option {
	return func(c *Client) {
		c.cacheTTL = d
	}
}

// WithCacheMaxSize sets the maximum number of cached responses. Defaults to 1000.
func WithCacheMaxSize(n int) Option {
	return func(c *Client) {
		c.cacheMaxSize = n
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger used for fail-open warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}
