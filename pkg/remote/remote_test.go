package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/Sternrassler/token-provisioner/internal/testutil"
	"github.com/Sternrassler/token-provisioner/pkg/client"
	"github.com/Sternrassler/token-provisioner/pkg/decode"
	"github.com/rs/zerolog"
)

func newTestService(t *testing.T, mock *testutil.MockService) *Service {
	t.Helper()
	c, err := client.New(client.DefaultConfig("TokenProvisioner-Test/1.0"))
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	return NewService(c, DefaultEndpoints(mock.URL()), zerolog.Nop())
}

func TestEndpoint_URL(t *testing.T) {
	tests := []struct {
		name   string
		ep     Endpoint
		base   string
		params map[string]string
		want   string
	}{
		{
			name: "plain path",
			ep:   Endpoint{Path: "/merchant/all-tokens"},
			base: "https://api.example.com/",
			want: "https://api.example.com/merchant/all-tokens",
		},
		{
			name:   "job placeholder",
			ep:     Endpoint{Path: "/merchant/create-token/status/{jobId}"},
			base:   "https://api.example.com",
			params: map[string]string{"jobId": "job-7"},
			want:   "https://api.example.com/merchant/create-token/status/job-7",
		},
		{
			name:   "escaped placeholder",
			ep:     Endpoint{Path: "token/{address}/liquidity"},
			base:   "https://api.example.com",
			params: map[string]string{"address": "a/b c"},
			want:   "https://api.example.com/token/a%2Fb%20c/liquidity",
		},
		{
			name: "endpoint base overrides",
			ep:   Endpoint{Path: "/merchant/all-tokens", BaseURL: "https://list.example.com"},
			base: "https://api.example.com",
			want: "https://list.example.com/merchant/all-tokens",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ep.URL(tt.base, tt.params); got != tt.want {
				t.Errorf("URL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEndpoints_WithDefaultsAndValidate(t *testing.T) {
	eps := Endpoints{List: Endpoint{Path: "/v2/tokens"}}.WithDefaults()

	if eps.BaseURL != DefaultBaseURL {
		t.Errorf("BaseURL = %q, want %q", eps.BaseURL, DefaultBaseURL)
	}
	if eps.List.Path != "/v2/tokens" || eps.List.Method != http.MethodGet {
		t.Errorf("List = %+v, want custom path with default method", eps.List)
	}
	if eps.Activate.Method != http.MethodPost {
		t.Errorf("Activate.Method = %q, want POST", eps.Activate.Method)
	}
	if err := eps.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	eps.BaseURL = "not a url"
	if err := eps.Validate(); err == nil {
		t.Error("Validate() accepted a relative base URL")
	}

	eps = DefaultEndpoints("https://api.example.com")
	eps.Status.Path = ""
	if err := eps.Validate(); err == nil {
		t.Error("Validate() accepted an empty path")
	}
}

func TestService_CreateResource(t *testing.T) {
	mock := testutil.NewMockService()
	defer mock.Close()
	svc := newTestService(t, mock)

	job, err := svc.CreateResource(context.Background(), "secret", CreateRequest{Name: "Company 1", Symbol: "CO1", Account: "0xme"})
	if err != nil {
		t.Fatalf("CreateResource() error = %v", err)
	}
	if job != "job-1" {
		t.Errorf("job = %q, want job-1", job)
	}

	reqs := mock.Requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	if reqs[0].APIKey != "secret" {
		t.Errorf("x-api-key = %q, want secret", reqs[0].APIKey)
	}

	var body map[string]any
	if err := json.Unmarshal(reqs[0].Body, &body); err != nil {
		t.Fatalf("request body: %v", err)
	}
	want := map[string]any{"name": "Company 1", "symbol": "CO1", "merchantAddress": "0xme", "canDistribute": true, "canLP": true}
	for k, v := range want {
		if body[k] != v {
			t.Errorf("body[%s] = %v, want %v", k, body[k], v)
		}
	}
}

func TestService_JobStatusLifecycle(t *testing.T) {
	mock := testutil.NewMockService()
	defer mock.Close()
	svc := newTestService(t, mock)
	ctx := context.Background()

	job, err := svc.CreateResource(ctx, "k", CreateRequest{Name: "Company 1", Symbol: "CO1", Account: "0xme"})
	if err != nil {
		t.Fatalf("CreateResource() error = %v", err)
	}

	first, err := svc.JobStatus(ctx, "k", job)
	if err != nil || first.State != decode.Pending {
		t.Fatalf("first JobStatus() = %+v, %v; want pending", first, err)
	}
	second, err := svc.JobStatus(ctx, "k", job)
	if err != nil || second.State != decode.Success {
		t.Fatalf("second JobStatus() = %+v, %v; want success", second, err)
	}
	if second.Resource == nil || second.Resource.Symbol != "CO1" || second.Resource.Owner != "0xme" {
		t.Errorf("Resource = %+v", second.Resource)
	}
}

func TestService_JobStatusUnknownJob(t *testing.T) {
	mock := testutil.NewMockService()
	defer mock.Close()
	svc := newTestService(t, mock)

	_, err := svc.JobStatus(context.Background(), "k", "job-404")
	var te *client.TransportError
	if !errors.As(err, &te) || te.StatusCode != http.StatusNotFound {
		t.Fatalf("JobStatus() error = %v, want 404 TransportError", err)
	}
}

func TestService_ListResourcesFiltersOwner(t *testing.T) {
	mock := testutil.NewMockService()
	defer mock.Close()
	mock.AddToken(decode.ResourceRecord{ID: "1", Address: "0x1", Owner: "0xme"})
	mock.AddToken(decode.ResourceRecord{ID: "2", Address: "0x2", Owner: "0xother"})
	mock.AddToken(decode.ResourceRecord{ID: "3", Address: "0x3", Owner: "0xme"})
	svc := newTestService(t, mock)

	entries, err := svc.ListResources(context.Background(), "k", "0xme")
	if err != nil {
		t.Fatalf("ListResources() error = %v", err)
	}
	if len(entries) != 2 || entries[0].Record.Address != "0x1" || entries[1].Record.Address != "0x3" {
		t.Errorf("ListResources() = %+v", entries)
	}
}

func TestService_ListResourcesDropsForeignMalformed(t *testing.T) {
	mock := testutil.NewMockService()
	defer mock.Close()
	mock.SetResponse("/merchant/all-tokens", testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body: `[{"id":"1","address":"0x1","merchantAddress":"0xother","price":-1},
		        {"id":"2","merchantAddress":"0xme"},
		        {"id":"3","address":"0x3"}]`,
	})
	svc := newTestService(t, mock)

	entries, err := svc.ListResources(context.Background(), "k", "0xme")
	if err != nil {
		t.Fatalf("ListResources() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Index != 1 || !decode.IsMissingField(entries[0].Err, "address") {
		t.Errorf("ListResources() = %+v, want only the malformed entry owned by 0xme", entries)
	}
}

func TestService_ListResourcesMalformed(t *testing.T) {
	mock := testutil.NewMockService()
	defer mock.Close()
	mock.SetMalformed(true)
	svc := newTestService(t, mock)

	_, err := svc.ListResources(context.Background(), "k", "0xme")
	if decode.KindOf(err) != decode.KindParse {
		t.Fatalf("ListResources() error = %v, want parse error", err)
	}
}

func TestService_Activate(t *testing.T) {
	mock := testutil.NewMockService()
	defer mock.Close()
	mock.SetActivation("0xbad", false)
	svc := newTestService(t, mock)
	ctx := context.Background()

	ok, err := svc.Activate(ctx, "k", "0xgood")
	if err != nil || !ok {
		t.Errorf("Activate(0xgood) = %v, %v; want true", ok, err)
	}
	ok, err = svc.Activate(ctx, "k", "0xbad")
	if err != nil || ok {
		t.Errorf("Activate(0xbad) = %v, %v; want false", ok, err)
	}

	reqs := mock.Requests()
	if reqs[0].Method != http.MethodPost || reqs[0].Path != "/token/0xgood/liquidity" {
		t.Errorf("request = %s %s", reqs[0].Method, reqs[0].Path)
	}
	if len(reqs[0].Body) != 0 {
		t.Errorf("activation body = %q, want empty", reqs[0].Body)
	}
}

func TestService_ServerError(t *testing.T) {
	mock := testutil.NewMockService()
	defer mock.Close()
	mock.SetResponse("/merchant/create-token", testutil.NewServerErrorResponse())
	svc := newTestService(t, mock)

	_, err := svc.CreateResource(context.Background(), "k", CreateRequest{Name: "n", Symbol: "s"})
	if !client.IsTransport(err) {
		t.Fatalf("CreateResource() error = %v, want TransportError", err)
	}
}
