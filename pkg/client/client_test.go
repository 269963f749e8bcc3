package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/token-provisioner/pkg/ratelimit"
	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, mutate func(*Config)) *Client {
	t.Helper()

	cfg := DefaultConfig("TokenProvisioner-Test/1.0")
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		errorMsg string
	}{
		{
			name:   "valid config",
			config: DefaultConfig("TestApp/1.0"),
		},
		{
			name:     "empty user agent",
			config:   Config{AuthHeader: DefaultAuthHeader, Timeout: time.Second},
			errorMsg: "user-agent is required",
		},
		{
			name:     "empty auth header",
			config:   Config{UserAgent: "TestApp/1.0", Timeout: time.Second},
			errorMsg: "auth header name is required",
		},
		{
			name:     "zero timeout",
			config:   Config{UserAgent: "TestApp/1.0", AuthHeader: DefaultAuthHeader},
			errorMsg: "timeout must be positive (got 0s)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.config)
			if tt.errorMsg == "" {
				if err != nil {
					t.Fatalf("Unexpected error: %v", err)
				}
				if c == nil {
					t.Fatal("Client is nil")
				}
				return
			}
			if err == nil {
				t.Fatal("Expected error but got nil")
			}
			if err.Error() != tt.errorMsg {
				t.Errorf("Error message = %q, want %q", err.Error(), tt.errorMsg)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("TestApp/1.0")

	if cfg.Timeout != 15*time.Second {
		t.Errorf("Timeout = %v, want 15s", cfg.Timeout)
	}
	if cfg.AuthHeader != "x-api-key" {
		t.Errorf("AuthHeader = %q, want x-api-key", cfg.AuthHeader)
	}
}

func TestRequest_HeadersAndMethodSelection(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		body       any
		wantMethod string
		wantBody   string
	}{
		{name: "no body implies GET", wantMethod: http.MethodGet},
		{name: "body implies POST", body: map[string]string{"name": "Company 1"}, wantMethod: http.MethodPost, wantBody: `{"name":"Company 1"}`},
		{name: "explicit POST without body", method: http.MethodPost, wantMethod: http.MethodPost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *http.Request
			var gotBody string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.Clone(context.Background())
				b, _ := io.ReadAll(r.Body)
				gotBody = string(b)
				w.Write([]byte(`{"ok":true}`))
			}))
			defer server.Close()

			c := newTestClient(t, nil)
			raw, err := c.Request(context.Background(), tt.method, server.URL+"/x", "secret-key", tt.body)
			if err != nil {
				t.Fatalf("Request() error = %v", err)
			}
			if string(raw) != `{"ok":true}` {
				t.Errorf("body = %q", raw)
			}

			if got.Method != tt.wantMethod {
				t.Errorf("Method = %s, want %s", got.Method, tt.wantMethod)
			}
			if got.Header.Get("x-api-key") != "secret-key" {
				t.Errorf("auth header = %q, want secret-key", got.Header.Get("x-api-key"))
			}
			if got.Header.Get("User-Agent") != "TokenProvisioner-Test/1.0" {
				t.Errorf("User-Agent = %q", got.Header.Get("User-Agent"))
			}
			if got.Header.Get("X-Request-ID") == "" {
				t.Error("X-Request-ID header missing")
			}
			if tt.body != nil && got.Header.Get("Content-Type") != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", got.Header.Get("Content-Type"))
			}
			if gotBody != tt.wantBody {
				t.Errorf("request body = %q, want %q", gotBody, tt.wantBody)
			}
		})
	}
}

func TestRequest_CustomAuthHeader(t *testing.T) {
	var header string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("Authorization")
	}))
	defer server.Close()

	c := newTestClient(t, func(cfg *Config) { cfg.AuthHeader = "Authorization" })
	if _, err := c.Request(context.Background(), "", server.URL, "Bearer abc", nil); err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if header != "Bearer abc" {
		t.Errorf("Authorization = %q, want %q", header, "Bearer abc")
	}
}

func TestRequest_StatusError(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"client error", http.StatusBadRequest},
		{"unauthorized", http.StatusUnauthorized},
		{"server error", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":"nope"}`))
			}))
			defer server.Close()

			c := newTestClient(t, nil)
			raw, err := c.Request(context.Background(), "", server.URL, "k", nil)
			if raw != nil {
				t.Errorf("Expected nil body on error, got %q", raw)
			}

			var te *TransportError
			if !errors.As(err, &te) {
				t.Fatalf("Expected *TransportError, got %T: %v", err, err)
			}
			if te.Kind != KindStatus {
				t.Errorf("Kind = %s, want %s", te.Kind, KindStatus)
			}
			if te.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", te.StatusCode, tt.status)
			}
			if !strings.Contains(te.Cause, "nope") {
				t.Errorf("Cause = %q, want it to include response body", te.Cause)
			}
		})
	}
}

func TestRequest_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c := newTestClient(t, func(cfg *Config) { cfg.Timeout = 50 * time.Millisecond })

	start := time.Now()
	_, err := c.Request(context.Background(), "", server.URL, "k", nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Timeout not enforced, call took %v", elapsed)
	}
}

func TestRequest_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := newTestClient(t, nil)
	_, err := c.Request(context.Background(), "", url, "k", nil)

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Expected *TransportError, got %T", err)
	}
	if te.Kind != KindNetwork {
		t.Errorf("Kind = %s, want %s", te.Kind, KindNetwork)
	}
	if te.Cause == "" {
		t.Error("Expected human-readable cause")
	}
}

func TestRequest_EncodeError(t *testing.T) {
	c := newTestClient(t, nil)
	_, err := c.Request(context.Background(), "", "http://127.0.0.1:1", "k", map[string]any{"bad": make(chan int)})

	var te *TransportError
	if !errors.As(err, &te) || te.Kind != KindEncode {
		t.Fatalf("Expected KindEncode TransportError, got %v", err)
	}
}

func TestRequest_RateBudgetBlocks(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set(ratelimit.HeaderRemaining, "0")
		w.Header().Set(ratelimit.HeaderReset, "60")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	tracker := ratelimit.NewTracker(ratelimit.NewMemoryStore(), zerolog.Nop())
	c := newTestClient(t, func(cfg *Config) { cfg.Tracker = tracker })

	if _, err := c.Request(context.Background(), "", server.URL, "k", nil); err != nil {
		t.Fatalf("First request error = %v", err)
	}

	_, err := c.Request(context.Background(), "", server.URL, "k", nil)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Expected ErrRateLimited after exhausted budget, got %v", err)
	}
	if calls != 1 {
		t.Errorf("server calls = %d, want 1 (second call must not leave the process)", calls)
	}
}

func TestWithEndpoint(t *testing.T) {
	if got := endpointFrom(context.Background()); got != "other" {
		t.Errorf("endpointFrom(empty) = %q, want other", got)
	}
	ctx := WithEndpoint(context.Background(), "status")
	if got := endpointFrom(ctx); got != "status" {
		t.Errorf("endpointFrom = %q, want status", got)
	}
}

func TestRequest_JSONBodyRoundTrip(t *testing.T) {
	type createBody struct {
		Name          string `json:"name"`
		CanDistribute bool   `json:"canDistribute"`
	}

	var received createBody
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.Write([]byte(`{"jobId":"j-1"}`))
	}))
	defer server.Close()

	c := newTestClient(t, nil)
	if _, err := c.Request(context.Background(), "", server.URL, "k", createBody{Name: "Company 1", CanDistribute: true}); err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if received.Name != "Company 1" || !received.CanDistribute {
		t.Errorf("server received %+v", received)
	}
}
