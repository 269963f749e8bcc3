// Package testutil provides test doubles for the provisioning service.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/token-provisioner/pkg/decode"
)

// Call kinds recorded by MockService.
const (
	CallCreate   = "create"
	CallStatus   = "status"
	CallList     = "list"
	CallActivate = "activate"
)

// MockResponse is a canned response for one path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// RecordedRequest is one request seen by MockService.
type RecordedRequest struct {
	Kind   string
	Method string
	Path   string
	APIKey string
	Body   []byte
}

type mockJob struct {
	req      createRequest
	statuses []string
	polls    int
	reason   string
	resource decode.ResourceRecord
}

type createRequest struct {
	Name            string `json:"name"`
	Symbol          string `json:"symbol"`
	MerchantAddress string `json:"merchantAddress"`
	CanDistribute   bool   `json:"canDistribute"`
	CanLP           bool   `json:"canLP"`
}

// MockService is an in-memory provisioning service on an httptest server.
// Jobs walk through a status script; successful jobs add a token to the list.
type MockService struct {
	server *httptest.Server

	mu          sync.Mutex
	handlers    map[string]http.HandlerFunc
	requests    []RecordedRequest
	jobs        map[string]*mockJob
	nextJob     int
	script      []string
	failSymbols map[string]string
	tokens      []decode.ResourceRecord
	activation  map[string]bool
	malformed   bool
	failCalls   map[string]map[int]int
}

// NewMockService starts a mock service. New jobs report "pending" once and
// then "success".
func NewMockService() *MockService {
	m := &MockService{
		handlers:    make(map[string]http.HandlerFunc),
		jobs:        make(map[string]*mockJob),
		script:      []string{"pending", "success"},
		failSymbols: make(map[string]string),
		activation:  make(map[string]bool),
		failCalls:   make(map[string]map[int]int),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.serve))
	return m
}

// URL returns the mock server URL.
func (m *MockService) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockService) Close() {
	m.server.Close()
}

// SetHandler overrides the handler for an exact path.
func (m *MockService) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse serves resp for an exact path.
func (m *MockService) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetJobScript sets the status sequence for jobs created afterwards. The
// last status repeats once the script is exhausted.
func (m *MockService) SetJobScript(statuses ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append([]string(nil), statuses...)
}

// FailSymbol makes jobs for symbol end in "failed" with reason.
func (m *MockService) FailSymbol(symbol, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSymbols[symbol] = reason
}

// AddToken seeds the resource list.
func (m *MockService) AddToken(rec decode.ResourceRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = append(m.tokens, rec)
}

// SetActivation fixes the success flag returned when activating address.
// Unset addresses activate successfully.
func (m *MockService) SetActivation(address string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activation[address] = ok
}

// FailCall answers the nth (1-based) request of kind with status and an
// error body. Other requests of kind are served normally.
func (m *MockService) FailCall(kind string, n, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCalls[kind] == nil {
		m.failCalls[kind] = make(map[int]int)
	}
	m.failCalls[kind][n] = status
}

// SetMalformed makes every response body invalid JSON.
func (m *MockService) SetMalformed(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.malformed = on
}

// Requests returns a copy of every request received so far.
func (m *MockService) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// CallCount returns how many requests of kind were received.
func (m *MockService) CallCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countLocked(kind)
}

func (m *MockService) countLocked(kind string) int {
	n := 0
	for _, r := range m.requests {
		if r.Kind == kind {
			n++
		}
	}
	return n
}

// Tokens returns the current resource list.
func (m *MockService) Tokens() []decode.ResourceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]decode.ResourceRecord(nil), m.tokens...)
}

func classify(method, path string) string {
	switch {
	case method == http.MethodGet && strings.HasPrefix(path, "/merchant/create-token/status/"):
		return CallStatus
	case method == http.MethodPost && path == "/merchant/create-token":
		return CallCreate
	case method == http.MethodGet && path == "/merchant/all-tokens":
		return CallList
	case method == http.MethodPost && strings.HasPrefix(path, "/token/") && strings.HasSuffix(path, "/liquidity"):
		return CallActivate
	}
	return ""
}

func (m *MockService) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	kind := classify(r.Method, r.URL.Path)

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Kind:   kind,
		Method: r.Method,
		Path:   r.URL.Path,
		APIKey: r.Header.Get("x-api-key"),
		Body:   body,
	})
	handler, custom := m.handlers[r.URL.Path]
	malformed := m.malformed
	failStatus := m.failCalls[kind][m.countLocked(kind)]
	m.mu.Unlock()

	if custom {
		handler(w, r)
		return
	}
	if failStatus != 0 {
		writeJSON(w, failStatus, map[string]string{"error": http.StatusText(failStatus)})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-RateLimit-Remaining", "100")
	w.Header().Set("X-RateLimit-Reset", "60")

	if malformed {
		w.Write([]byte(`{"status": pending`))
		return
	}

	switch kind {
	case CallCreate:
		m.handleCreate(w, body)
	case CallStatus:
		m.handleStatus(w, strings.TrimPrefix(r.URL.Path, "/merchant/create-token/status/"))
	case CallList:
		m.handleList(w)
	case CallActivate:
		m.handleActivate(w, strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/token/"), "/liquidity"))
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	}
}

func (m *MockService) handleCreate(w http.ResponseWriter, body []byte) {
	var req createRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Name == "" || req.Symbol == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name and symbol are required"})
		return
	}

	m.mu.Lock()
	m.nextJob++
	id := fmt.Sprintf("job-%d", m.nextJob)
	job := &mockJob{req: req, statuses: append([]string(nil), m.script...)}
	if reason, fail := m.failSymbols[req.Symbol]; fail {
		job.statuses = []string{"pending", "failed"}
		job.reason = reason
	}
	m.jobs[id] = job
	m.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"jobId": id})
}

func (m *MockService) handleStatus(w http.ResponseWriter, id string) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown job"})
		return
	}

	i := job.polls
	if i >= len(job.statuses) {
		i = len(job.statuses) - 1
	}
	job.polls++
	status := job.statuses[i]

	resp := map[string]any{"status": status}
	switch decode.ParseJobState(status) {
	case decode.Success:
		if job.resource.ID == "" {
			n := len(m.tokens) + 1
			job.resource = decode.ResourceRecord{
				ID:                fmt.Sprintf("tok-%d", n),
				Address:           fmt.Sprintf("0x%040x", n),
				Name:              job.req.Name,
				Symbol:            job.req.Symbol,
				TotalSupply:       1_000_000,
				AllocatedSupply:   500_000,
				RemainingSupply:   500_000,
				CounterpartSupply: 500_000,
				Price:             0.01,
				Owner:             job.req.MerchantAddress,
			}
			m.tokens = append(m.tokens, job.resource)
		}
		resp["token"] = job.resource
	case decode.Failure:
		resp["error"] = job.reason
	}
	m.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func (m *MockService) handleList(w http.ResponseWriter) {
	m.mu.Lock()
	tokens := append([]decode.ResourceRecord{}, m.tokens...)
	m.mu.Unlock()

	writeJSON(w, http.StatusOK, tokens)
}

func (m *MockService) handleActivate(w http.ResponseWriter, address string) {
	m.mu.Lock()
	ok, set := m.activation[address]
	m.mu.Unlock()
	if !set {
		ok = true
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": ok})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// NewStatusResponse returns a job-status body with the given status.
func NewStatusResponse(status string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       fmt.Sprintf(`{"status":%q}`, status),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewServerErrorResponse returns a 500 response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}
