package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evaguard/evaguard/internal/domain/auth"
	"github.com/evaguard/evaguard/internal/domain/evidence"
	"github.com/evaguard/evaguard/internal/service"
)

// DefaultMaxBodyBytes is the request body limit when none is configured.
const DefaultMaxBodyBytes = 1 << 20

// HTTPTransport serves the evaguard API over HTTP.
type HTTPTransport struct {
	svc             *service.ComplianceService
	query           evidence.QueryStore
	keys            *auth.KeyRing
	server          *http.Server
	addr            string
	maxBodyBytes    int64
	shutdownTimeout time.Duration
	logger          *slog.Logger
	healthChecker   *HealthChecker
	registry        *prometheus.Registry

	buildOnce sync.Once
	handler   http.Handler
	metrics   *Metrics
}

// Option is a functional option for configuring HTTPTransport.
type Option func(*HTTPTransport)

// WithAddr sets the listen address. Default is "127.0.0.1:8090".
func WithAddr(addr string) Option {
	return func(t *HTTPTransport) {
		t.addr = addr
	}
}

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// WithKeyRing enables bearer authentication against ring.
func WithKeyRing(ring *auth.KeyRing) Option {
	return func(t *HTTPTransport) {
		t.keys = ring
	}
}

// WithQueryStore enables /v1/decisions and /v1/stats.
func WithQueryStore(query evidence.QueryStore) Option {
	return func(t *HTTPTransport) {
		t.query = query
	}
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(t *HTTPTransport) {
		t.maxBodyBytes = n
	}
}

// WithShutdownTimeout bounds graceful shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(t *HTTPTransport) {
		t.shutdownTimeout = d
	}
}

// WithHealthChecker sets the health checker for the /health endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(t *HTTPTransport) {
		t.healthChecker = hc
	}
}

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(t *HTTPTransport) {
		t.registry = reg
	}
}

// NewHTTPTransport creates an HTTP transport over svc.
func NewHTTPTransport(svc *service.ComplianceService, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		svc:             svc,
		addr:            "127.0.0.1:8090",
		maxBodyBytes:    DefaultMaxBodyBytes,
		shutdownTimeout: 10 * time.Second,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Handler returns the fully wired handler. It is built once.
func (t *HTTPTransport) Handler() http.Handler {
	t.buildOnce.Do(t.build)
	return t.handler
}

// Metrics returns the transport's Prometheus metrics.
func (t *HTTPTransport) Metrics() *Metrics {
	t.buildOnce.Do(t.build)
	return t.metrics
}

func (t *HTTPTransport) build() {
	reg := t.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	t.metrics = NewMetrics(reg)

	mux := http.NewServeMux()
	api := NewHandler(t.svc, t.query, t.metrics)
	api.Register(mux)

	if t.healthChecker != nil {
		mux.Handle("GET /health", t.healthChecker.Handler())
	} else {
		mux.Handle("GET /health", NewHealthChecker(t.svc, nil, nil, "").Handler())
	}
	// rules_enabled is refreshed per scrape; rule file reloads bypass the handler.
	promHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	mux.Handle("GET /metrics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.refreshRuleGauge()
		promHandler.ServeHTTP(w, r)
	}))

	// Outermost first: Metrics -> RequestID -> APIKey -> MaxBody -> mux.
	var handler http.Handler = mux
	handler = MaxBodyMiddleware(t.maxBodyBytes)(handler)
	handler = APIKeyMiddleware(t.keys, t.metrics)(handler)
	handler = RequestIDMiddleware(t.logger)(handler)
	handler = MetricsMiddleware(t.metrics)(handler)
	t.handler = handler
}

// Start listens on the configured address and serves until ctx is cancelled.
func (t *HTTPTransport) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return err
	}
	return t.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (t *HTTPTransport) Serve(ctx context.Context, ln net.Listener) error {
	t.server = &http.Server{
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		t.logger.Info("starting HTTP server", "addr", ln.Addr().String())
		if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

func (t *HTTPTransport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), t.shutdownTimeout)
	defer cancel()

	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}
	t.logger.Info("HTTP server shutdown complete")
	return nil
}
