// Package remote issues typed calls to the provisioning service: create a
// resource, check a creation job, list an account's resources and activate
// one. Paths and methods come from a configurable Endpoints set.
package remote

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "https://api.metal.build"

// Endpoint is one remote call. BaseURL overrides Endpoints.BaseURL when set.
type Endpoint struct {
	Method  string `yaml:"method"`
	Path    string `yaml:"path"`
	BaseURL string `yaml:"base_url"`
}

// Endpoints is the full set of calls the workflows make.
// Paths may contain {jobId} and {address} placeholders.
type Endpoints struct {
	BaseURL  string   `yaml:"base_url"`
	Create   Endpoint `yaml:"create"`
	Status   Endpoint `yaml:"status"`
	List     Endpoint `yaml:"list"`
	Activate Endpoint `yaml:"activate"`
}

// DefaultEndpoints returns the stock endpoint set rooted at baseURL.
func DefaultEndpoints(baseURL string) Endpoints {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return Endpoints{
		BaseURL:  baseURL,
		Create:   Endpoint{Method: http.MethodPost, Path: "/merchant/create-token"},
		Status:   Endpoint{Method: http.MethodGet, Path: "/merchant/create-token/status/{jobId}"},
		List:     Endpoint{Method: http.MethodGet, Path: "/merchant/all-tokens"},
		Activate: Endpoint{Method: http.MethodPost, Path: "/token/{address}/liquidity"},
	}
}

// WithDefaults fills every empty method or path from DefaultEndpoints.
func (e Endpoints) WithDefaults() Endpoints {
	def := DefaultEndpoints(e.BaseURL)
	e.BaseURL = def.BaseURL
	fill := func(ep *Endpoint, d Endpoint) {
		if ep.Method == "" {
			ep.Method = d.Method
		}
		if ep.Path == "" {
			ep.Path = d.Path
		}
	}
	fill(&e.Create, def.Create)
	fill(&e.Status, def.Status)
	fill(&e.List, def.List)
	fill(&e.Activate, def.Activate)
	return e
}

// Validate checks that every endpoint resolves to an absolute URL.
func (e Endpoints) Validate() error {
	for name, ep := range map[string]Endpoint{
		"create":   e.Create,
		"status":   e.Status,
		"list":     e.List,
		"activate": e.Activate,
	} {
		if ep.Path == "" {
			return fmt.Errorf("endpoint %s: path is required", name)
		}
		base := ep.BaseURL
		if base == "" {
			base = e.BaseURL
		}
		u, err := url.Parse(base)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("endpoint %s: invalid base URL %q", name, base)
		}
	}
	return nil
}

// URL resolves ep against base, substituting path-escaped params.
func (ep Endpoint) URL(base string, params map[string]string) string {
	if ep.BaseURL != "" {
		base = ep.BaseURL
	}
	path := ep.Path
	for k, v := range params {
		path = strings.ReplaceAll(path, "{"+k+"}", url.PathEscape(v))
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
