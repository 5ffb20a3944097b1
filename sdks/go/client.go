package evaguard

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Fail modes for an unreachable server.
const (
	FailOpen   = "open"
	FailClosed = "closed"
)

// DefaultServerAddr is used when neither WithServerAddr nor
// EVAGUARD_SERVER_ADDR is set.
const DefaultServerAddr = "http://127.0.0.1:8090"

// Client checks messages against an evaguard server.
type Client struct {
	serverAddr string
	apiKey     string
	source     string
	failMode   string
	timeout    time.Duration
	httpClient *http.Client

	cacheMu      sync.Mutex
	cache        map[string]*cacheEntry
	cacheTTL     time.Duration
	cacheMaxSize int

	logger *slog.Logger
}

type cacheEntry struct {
	response  CheckResponse
	expiresAt time.Time
	createdAt time.Time
}

// NewClient creates a client. It reads EVAGUARD_* environment variables by
// default; options override them.
func NewClient(opts ...Option) *Client {
	c := &Client{
		serverAddr:   envOrDefault("EVAGUARD_SERVER_ADDR", DefaultServerAddr),
		apiKey:       os.Getenv("EVAGUARD_API_KEY"),
		source:       "sdk",
		failMode:     envOrDefault("EVAGUARD_FAIL_MODE", FailOpen),
		timeout:      parseDurationEnv("EVAGUARD_TIMEOUT", 5*time.Second),
		cacheTTL:     parseDurationEnv("EVAGUARD_CACHE_TTL", 5*time.Second),
		cacheMaxSize: 1000,
		cache:        make(map[string]*cacheEntry),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	return c
}

// Check sends a message to POST /v1/check.
//
// A violation the server enforces is returned as a *ViolationError; a
// violation in monitor mode is returned as a normal response with
// Decision.Allowed false. When the server is unreachable the client fails
// open (an allowed response with FailedOpen set) or closed
// (*ServerUnreachableError), depending on the fail mode.
func (c *Client) Check(ctx context.Context, req CheckRequest) (*CheckResponse, error) {
	if req.Message == "" {
		return nil, ErrEmptyMessage
	}
	if req.Source == "" {
		req.Source = c.source
	}

	key := cacheKey(req)
	if resp, ok := c.getFromCache(key); ok {
		return resp, nil
	}

	var resp CheckResponse
	if err := c.doRequest(ctx, http.MethodPost, "/v1/check", req, &resp); err != nil {
		if isConnectionError(err) && ctx.Err() == nil {
			if c.failMode == FailClosed {
				return nil, &ServerUnreachableError{Cause: err}
			}
			c.logger.Warn("evaguard server unreachable, failing open",
				"server_addr", c.serverAddr,
				"error", err,
			)
			return &CheckResponse{
				Decision: Decision{
					Allowed:       true,
					Confidence:    1.0,
					Reason:        "server unreachable, fail-open",
					ViolatedRules: []string{},
				},
				FailedOpen: true,
			}, nil
		}
		return nil, err
	}

	if resp.Enforced {
		return nil, &ViolationError{
			ViolatedRules:   resp.Decision.ViolatedRules,
			HighestPriority: resp.HighestPriority,
			Reason:          resp.Decision.Reason,
			RequestID:       resp.RequestID,
		}
	}
	c.putInCache(key, resp)
	return &resp, nil
}

// Allowed reports whether message may be used: true unless the server
// enforces a violation.
func (c *Client) Allowed(ctx context.Context, message string) (bool, error) {
	_, err := c.Check(ctx, CheckRequest{Message: message})
	if errors.Is(err, ErrViolation) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, result any) error {
	url := strings.TrimRight(c.serverAddr, "/") + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: httpResp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
		}
		return apiErr
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}

// cacheKey hashes source and message so cached entries never hold the text.
func cacheKey(req CheckRequest) string {
	h := sha256.New()
	h.Write([]byte(req.Source))
	h.Write([]byte{0})
	h.Write([]byte(req.Message))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Client) getFromCache(key string) (*CheckResponse, bool) {
	if c.cacheTTL <= 0 {
		return nil, false
	}
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	entry, ok := c.cache[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.cache, key)
		return nil, false
	}
	resp := entry.response
	resp.Decision.ViolatedRules = append([]string(nil), entry.response.Decision.ViolatedRules...)
	return &resp, true
}

func (c *Client) putInCache(key string, resp CheckResponse) {
	if c.cacheTTL <= 0 || c.cacheMaxSize <= 0 {
		return
	}
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	if len(c.cache) >= c.cacheMaxSize {
		now := time.Now()
		for k, e := range c.cache {
			if now.After(e.expiresAt) {
				delete(c.cache, k)
			}
		}
		// Still full: evict the oldest entry.
		if len(c.cache) >= c.cacheMaxSize {
			var oldestKey string
			var oldest time.Time
			for k, e := range c.cache {
				if oldest.IsZero() || e.createdAt.Before(oldest) {
					oldest, oldestKey = e.createdAt, k
				}
			}
			delete(c.cache, oldestKey)
		}
	}

	now := time.Now()
	c.cache[key] = &cacheEntry{
		response:  resp,
		expiresAt: now.Add(c.cacheTTL),
		createdAt: now,
	}
}

// isConnectionError reports transport-level failures. Server answers,
// including error statuses, are not connection errors.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	return !errors.As(err, &apiErr)
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// parseDurationEnv accepts integer seconds or a Go duration string.
func parseDurationEnv(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return defaultVal
}
