package http

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/goleak"

	"github.com/evaguard/evaguard/internal/domain/auth"
	"github.com/evaguard/evaguard/internal/domain/compliance"
)

func newKeyRing(t *testing.T, rawKey string) *auth.KeyRing {
	t.Helper()
	ring, err := auth.NewKeyRing([]auth.APIKey{{Name: "ci", Hash: "sha256:" + auth.HashKey(rawKey)}})
	if err != nil {
		t.Fatalf("NewKeyRing() error = %v", err)
	}
	return ring
}

func TestTransport_Routes(t *testing.T) {
	transport := NewHTTPTransport(newComplianceService(t),
		WithLogger(discardLogger()),
		WithRegistry(prometheus.NewRegistry()),
	)
	srv := httptest.NewServer(transport.Handler())
	defer srv.Close()

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodPost, "/v1/check", `{"message":"hello"}`, http.StatusOK},
		{http.MethodGet, "/v1/rules", "", http.StatusOK},
		{http.MethodGet, "/v1/check", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(tt.body))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", tt.method, tt.path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("%s %s: status = %d, want %d", tt.method, tt.path, resp.StatusCode, tt.want)
		}
		if resp.Header.Get(RequestIDHeader) == "" {
			t.Errorf("%s %s: missing %s header", tt.method, tt.path, RequestIDHeader)
		}
	}
}

func TestTransport_MetricsEndpointExposesCounters(t *testing.T) {
	transport := NewHTTPTransport(newComplianceService(t), WithLogger(discardLogger()))
	srv := httptest.NewServer(transport.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/check", "application/json", strings.NewReader(`{"message":"bomb"}`))
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`evaguard_checks_total{decision="deny",enforced="true"} 1`,
		`evaguard_rule_violations_total{rule="no_harm"} 1`,
		`evaguard_requests_total{method="POST",status="ok"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("/metrics missing %q", want)
		}
	}
}

func TestTransport_MetricsReflectRuleChangesOutsideAPI(t *testing.T) {
	svc := newComplianceService(t)
	transport := NewHTTPTransport(svc, WithLogger(discardLogger()), WithRegistry(prometheus.NewRegistry()))
	srv := httptest.NewServer(transport.Handler())
	defer srv.Close()

	scrape := func() string {
		t.Helper()
		resp, err := http.Get(srv.URL + "/metrics")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return string(body)
	}

	if body := scrape(); !strings.Contains(body, "evaguard_rules_enabled 4") {
		t.Fatalf("/metrics before reload missing evaguard_rules_enabled 4")
	}

	// A rule file reload goes straight to the service.
	if err := svc.ReplaceRules(context.Background(), []compliance.Rule{
		compliance.NewRule("only", "", "x", 1),
	}); err != nil {
		t.Fatal(err)
	}
	if body := scrape(); !strings.Contains(body, "evaguard_rules_enabled 1") {
		t.Errorf("/metrics after reload missing evaguard_rules_enabled 1")
	}
}

func TestTransport_Auth(t *testing.T) {
	transport := NewHTTPTransport(newComplianceService(t),
		WithLogger(discardLogger()),
		WithRegistry(prometheus.NewRegistry()),
		WithKeyRing(newKeyRing(t, "s3cret")),
	)
	handler := transport.Handler()

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"no header", "/v1/rules", "", http.StatusUnauthorized},
		{"wrong scheme", "/v1/rules", "Basic s3cret", http.StatusUnauthorized},
		{"wrong key", "/v1/rules", "Bearer nope", http.StatusUnauthorized},
		{"valid key", "/v1/rules", "Bearer s3cret", http.StatusOK},
		{"health exempt", "/health", "", http.StatusOK},
		{"metrics exempt", "/metrics", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestTransport_BodyLimit(t *testing.T) {
	transport := NewHTTPTransport(newComplianceService(t),
		WithLogger(discardLogger()),
		WithRegistry(prometheus.NewRegistry()),
		WithMaxBodyBytes(32),
	)
	body := `{"message":"` + strings.Repeat("a", 64) + `"}`
	rec := httptest.NewRecorder()
	transport.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/check", strings.NewReader(body)))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestTransport_ServeShutsDownOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	transport := NewHTTPTransport(newComplianceService(t),
		WithLogger(discardLogger()),
		WithRegistry(prometheus.NewRegistry()),
		WithShutdownTimeout(time.Second),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- transport.Serve(ctx, ln) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	url := "http://" + ln.Addr().String() + "/health"
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := client.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}
