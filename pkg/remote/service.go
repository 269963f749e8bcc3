package remote

import (
	"context"
	"fmt"

	"github.com/Sternrassler/token-provisioner/pkg/client"
	"github.com/Sternrassler/token-provisioner/pkg/decode"
	"github.com/rs/zerolog"
)

// JobHandle identifies a creation job. It is only meaningful to the poll
// sequence that received it.
type JobHandle string

// Requester sends one call. *client.Client implements it.
type Requester interface {
	Request(ctx context.Context, method, url, token string, body any) ([]byte, error)
}

// CreateRequest describes a resource to create.
type CreateRequest struct {
	Name    string
	Symbol  string
	Account string
}

// createBody is the wire form of CreateRequest. Both capability flags are
// always set.
type createBody struct {
	Name            string `json:"name"`
	Symbol          string `json:"symbol"`
	MerchantAddress string `json:"merchantAddress"`
	CanDistribute   bool   `json:"canDistribute"`
	CanLP           bool   `json:"canLP"`
}

// Service performs typed calls against an endpoint set.
type Service struct {
	requester Requester
	endpoints Endpoints
	logger    zerolog.Logger
}

// NewService creates a Service. Empty endpoint fields take their defaults.
func NewService(requester Requester, endpoints Endpoints, logger zerolog.Logger) *Service {
	return &Service{
		requester: requester,
		endpoints: endpoints.WithDefaults(),
		logger:    logger.With().Str("component", "remote").Logger(),
	}
}

// Endpoints returns the resolved endpoint set.
func (s *Service) Endpoints() Endpoints {
	return s.endpoints
}

// CreateResource submits a create request and returns the job to poll.
func (s *Service) CreateResource(ctx context.Context, token string, req CreateRequest) (JobHandle, error) {
	ep := s.endpoints.Create
	body := createBody{
		Name:            req.Name,
		Symbol:          req.Symbol,
		MerchantAddress: req.Account,
		CanDistribute:   true,
		CanLP:           true,
	}

	raw, err := s.requester.Request(client.WithEndpoint(ctx, "create"), ep.Method, ep.URL(s.endpoints.BaseURL, nil), token, body)
	if err != nil {
		return "", fmt.Errorf("create %q: %w", req.Symbol, err)
	}
	id, err := decode.DecodeJobID(raw)
	if err != nil {
		return "", fmt.Errorf("create %q: %w", req.Symbol, err)
	}

	s.logger.Debug().Str("symbol", req.Symbol).Str("job_id", id).Msg("Creation job submitted")
	return JobHandle(id), nil
}

// JobStatus performs one status check for job.
func (s *Service) JobStatus(ctx context.Context, token string, job JobHandle) (decode.JobStatus, error) {
	ep := s.endpoints.Status
	u := ep.URL(s.endpoints.BaseURL, map[string]string{"jobId": string(job)})

	raw, err := s.requester.Request(client.WithEndpoint(ctx, "status"), ep.Method, u, token, nil)
	if err != nil {
		return decode.JobStatus{}, fmt.Errorf("status of job %s: %w", job, err)
	}
	status, err := decode.DecodeJobStatus(raw)
	if err != nil {
		return decode.JobStatus{}, fmt.Errorf("status of job %s: %w", job, err)
	}
	return status, nil
}

// ListResources fetches every resource and keeps those owned by owner.
// Malformed entries naming owner are kept so the caller can report them per item.
func (s *Service) ListResources(ctx context.Context, token, owner string) ([]decode.Entry, error) {
	ep := s.endpoints.List

	raw, err := s.requester.Request(client.WithEndpoint(ctx, "list"), ep.Method, ep.URL(s.endpoints.BaseURL, nil), token, nil)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	entries, err := decode.DecodeResourceList(raw)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}

	owned := decode.FilterByOwner(entries, owner)
	s.logger.Debug().
		Int("listed", len(entries)).
		Int("owned", len(owned)).
		Msg("Resources listed")
	return owned, nil
}

// Activate calls the activation endpoint for address and returns the
// service's success flag.
func (s *Service) Activate(ctx context.Context, token, address string) (bool, error) {
	ep := s.endpoints.Activate
	u := ep.URL(s.endpoints.BaseURL, map[string]string{"address": address})

	raw, err := s.requester.Request(client.WithEndpoint(ctx, "activate"), ep.Method, u, token, nil)
	if err != nil {
		return false, fmt.Errorf("activate %s: %w", address, err)
	}
	ok, err := decode.DecodeActivation(raw)
	if err != nil {
		return false, fmt.Errorf("activate %s: %w", address, err)
	}
	return ok, nil
}
