// Package client provides the HTTP+JSON transport used to talk to the
// provisioning service: auth header injection, per-call timeouts, rate
// budget gating and typed transport errors. It never retries.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/token-provisioner/pkg/ratelimit"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for outbound calls.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provisioner_requests_total",
		Help: "Total provisioning service requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "provisioner_request_duration_seconds",
		Help:    "Provisioning service request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
	}, []string{"endpoint"})

	transportErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provisioner_transport_errors_total",
		Help: "Total transport errors by kind",
	}, []string{"kind"})
)

const (
	// DefaultTimeout is the hard per-call timeout.
	DefaultTimeout = 15 * time.Second

	// DefaultAuthHeader carries the API token.
	DefaultAuthHeader = "x-api-key"

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 4 << 20

	// maxCauseBytes caps how much of an error body is copied into TransportError.Cause.
	maxCauseBytes = 256
)

// Client issues authenticated requests to the provisioning service.
// It is safe for concurrent use and holds no workflow state.
type Client struct {
	httpClient *http.Client
	tracker    *ratelimit.Tracker
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// User-Agent header sent with every call.
	UserAgent string

	// AuthHeader names the header that carries the token.
	AuthHeader string

	// Timeout is the per-call limit; exceeding it yields a KindTimeout error.
	Timeout time.Duration

	// Tracker gates calls on the remote rate budget. Optional.
	Tracker *ratelimit.Tracker
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		UserAgent:  userAgent,
		AuthHeader: DefaultAuthHeader,
		Timeout:    DefaultTimeout,
	}
}

// New creates a new Client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.AuthHeader == "" {
		return nil, fmt.Errorf("auth header name is required")
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive (got %s)", cfg.Timeout)
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		tracker:    cfg.Tracker,
		config:     cfg,
		logger:     log.With().Str("component", "client").Logger(),
	}, nil
}

type endpointKey struct{}

// WithEndpoint labels calls made with ctx for metrics and logs.
func WithEndpoint(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, endpointKey{}, name)
}

func endpointFrom(ctx context.Context) string {
	if name, ok := ctx.Value(endpointKey{}).(string); ok && name != "" {
		return name
	}
	return "other"
}

// Request sends one call and returns the raw response body.
// An empty method means POST when body is non-nil and GET otherwise.
// Every failure is returned as a *TransportError.
func (c *Client) Request(ctx context.Context, method, url, token string, body any) ([]byte, error) {
	if method == "" {
		method = http.MethodGet
		if body != nil {
			method = http.MethodPost
		}
	}
	endpoint := endpointFrom(ctx)
	requestID := uuid.NewString()

	logger := c.logger.With().
		Str("endpoint", endpoint).
		Str("method", method).
		Str("request_id", requestID).
		Logger()

	fail := func(kind ErrorKind, status int, cause string, err error) error {
		transportErrorsTotal.WithLabelValues(string(kind)).Inc()
		if status == 0 {
			requestsTotal.WithLabelValues(endpoint, string(kind)).Inc()
		}
		return &TransportError{
			Kind:       kind,
			Method:     method,
			URL:        url,
			StatusCode: status,
			Cause:      cause,
			Err:        err,
		}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fail(KindEncode, 0, err.Error(), err)
		}
		reader = bytes.NewReader(payload)
	}

	if c.tracker != nil {
		allowed, err := c.tracker.ShouldAllowRequest(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("Rate budget check failed, sending anyway")
		} else if !allowed {
			return nil, fail(KindRateLimited, 0, ErrRateLimited.Error(), ErrRateLimited)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fail(KindNetwork, 0, fmt.Sprintf("create request: %v", err), err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(c.config.AuthHeader, token)
	}

	logger.Debug().Msg("Sending request")

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		kind := classifyError(err)
		logger.Warn().Err(err).Str("error_kind", string(kind)).Msg("Request failed")
		return nil, fail(kind, 0, err.Error(), err)
	}
	defer resp.Body.Close()

	if c.tracker != nil {
		if err := c.tracker.UpdateFromHeaders(ctx, resp.Header); err != nil {
			logger.Warn().Err(err).Msg("Failed to update rate budget from headers")
		}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		kind := classifyError(err)
		logger.Warn().Err(err).Str("error_kind", string(kind)).Msg("Reading response body failed")
		return nil, fail(kind, resp.StatusCode, fmt.Sprintf("read body: %v", err), err)
	}

	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Warn().
			Int("status_code", resp.StatusCode).
			Msg("Provisioning service returned an error status")
		return nil, fail(KindStatus, resp.StatusCode, snippet(raw, resp.Status), nil)
	}

	logger.Debug().
		Int("status_code", resp.StatusCode).
		Int("bytes", len(raw)).
		Dur("duration", time.Since(start)).
		Msg("Request completed")

	return raw, nil
}

// snippet returns a short printable cause for a failed response.
func snippet(body []byte, status string) string {
	if len(body) == 0 {
		return status
	}
	if len(body) > maxCauseBytes {
		body = body[:maxCauseBytes]
	}
	return status + ": " + string(body)
}
