// Package decode turns provisioning service response bodies into typed records.
//
// Every call shape has a Contract naming its fields and which of them are
// required. Decoding is all-or-nothing: on any error the zero value is
// returned together with a *DecodeError.
package decode

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ResourceRecord is a provisioned resource as reported by the service.
type ResourceRecord struct {
	ID                string  `json:"id"`
	Address           string  `json:"address"`
	Name              string  `json:"name"`
	Symbol            string  `json:"symbol"`
	TotalSupply       uint64  `json:"totalSupply"`
	AllocatedSupply   uint64  `json:"startingAppSupply"`
	RemainingSupply   uint64  `json:"remainingAppSupply"`
	CounterpartSupply uint64  `json:"merchantSupply"`
	Price             float64 `json:"price"`
	Owner             string  `json:"merchantAddress"`
}

// JobState is the normalized state of a remote creation job.
type JobState int

const (
	Unknown JobState = iota
	Pending
	Success
	Failure
)

// String returns the lower-case name of the state.
func (s JobState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

// ParseJobState maps a wire status string to a JobState.
func ParseJobState(s string) JobState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "queued", "processing":
		return Pending
	case "success", "completed":
		return Success
	case "failed", "failure", "error":
		return Failure
	default:
		return Unknown
	}
}

// JobStatus is one decoded job-status response.
type JobStatus struct {
	State    JobState
	Raw      string          // status string as sent
	Resource *ResourceRecord // set only when State is Success
	Reason   string          // failure reason, if any
}

// Entry is one element of a resource list. Err is set when the element does
// not satisfy ListContract; Record is then the zero value. Owner is the raw
// merchantAddress string, read before validation, and empty when absent or
// not a string.
type Entry struct {
	Index  int
	Owner  string
	Record ResourceRecord
	Err    error
}

// parse reads exactly one JSON value from raw, keeping numbers exact.
func parse(raw []byte, contract string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		var se *json.SyntaxError
		switch {
		case errors.As(err, &se):
			return nil, &DecodeError{Kind: KindParse, Contract: contract, Offset: se.Offset, Msg: se.Error(), Err: err}
		case errors.Is(err, io.EOF):
			return nil, &DecodeError{Kind: KindParse, Contract: contract, Msg: "empty body", Err: err}
		default:
			return nil, &DecodeError{Kind: KindParse, Contract: contract, Offset: dec.InputOffset(), Msg: err.Error(), Err: err}
		}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &DecodeError{Kind: KindParse, Contract: contract, Offset: dec.InputOffset(), Msg: "unexpected data after JSON value"}
	}
	return v, nil
}

// DecodeJobID decodes a create response and returns its job id.
func DecodeJobID(raw []byte) (string, error) {
	v, err := parse(raw, CreateContract.Name)
	if err != nil {
		return "", err
	}
	if err := CreateContract.Check(v); err != nil {
		return "", err
	}
	id := v.(map[string]any)["jobId"].(string)
	if id == "" {
		return "", &DecodeError{Kind: KindMissingField, Contract: CreateContract.Name, Field: "jobId"}
	}
	return id, nil
}

// DecodeJobStatus decodes a job-status response. A success status must carry
// a token satisfying CreatedContract; unrecognized statuses decode as Unknown.
func DecodeJobStatus(raw []byte) (JobStatus, error) {
	v, err := parse(raw, StatusContract.Name)
	if err != nil {
		return JobStatus{}, err
	}
	if err := StatusContract.Check(v); err != nil {
		return JobStatus{}, err
	}
	obj := v.(map[string]any)

	status := JobStatus{Raw: obj["status"].(string)}
	status.State = ParseJobState(status.Raw)

	switch status.State {
	case Success:
		token, ok := obj["token"]
		if !ok {
			return JobStatus{}, &DecodeError{Kind: KindMissingField, Contract: StatusContract.Name, Field: "token"}
		}
		rec, err := recordFrom(token, CreatedContract)
		if err != nil {
			return JobStatus{}, err
		}
		status.Resource = &rec
	case Failure:
		for _, key := range []string{"error", "message"} {
			if s, ok := obj[key].(string); ok && s != "" {
				status.Reason = s
				break
			}
		}
		if status.Reason == "" {
			status.Reason = "job reported " + status.Raw
		}
	}
	return status, nil
}

// DecodeResource decodes a single resource body against contract.
func DecodeResource(raw []byte, contract *Contract) (ResourceRecord, error) {
	v, err := parse(raw, contract.Name)
	if err != nil {
		return ResourceRecord{}, err
	}
	return recordFrom(v, contract)
}

// DecodeResourceList decodes a list response. The body must be an array or an
// object wrapping one under "tokens" or "data". Each element is checked on
// its own so that one bad element does not fail the list.
func DecodeResourceList(raw []byte) ([]Entry, error) {
	v, err := parse(raw, ListContract.Name)
	if err != nil {
		return nil, err
	}

	items, ok := v.([]any)
	if !ok {
		if obj, isObj := v.(map[string]any); isObj {
			for _, key := range []string{"tokens", "data"} {
				if inner, found := obj[key].([]any); found {
					items, ok = inner, true
					break
				}
			}
		}
	}
	if !ok {
		return nil, &DecodeError{Kind: KindTypeMismatch, Contract: ListContract.Name, Msg: fmt.Sprintf("expected array, got %s", jsonType(v))}
	}

	entries := make([]Entry, 0, len(items))
	for i, item := range items {
		rec, err := recordFrom(item, ListContract)
		entries = append(entries, Entry{Index: i, Owner: rawOwner(item), Record: rec, Err: err})
	}
	return entries, nil
}

// FilterByOwner returns the entries whose raw owner equals owner, preserving
// order. Malformed entries are kept only when they name owner; entries with
// no owner or another owner are dropped.
func FilterByOwner(entries []Entry, owner string) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if owner != "" && e.Owner == owner {
			out = append(out, e)
		}
	}
	return out
}

func rawOwner(item any) string {
	obj, ok := item.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := obj["merchantAddress"].(string)
	return s
}

// DecodeActivation decodes an activation response.
func DecodeActivation(raw []byte) (bool, error) {
	v, err := parse(raw, ActivateContract.Name)
	if err != nil {
		return false, err
	}
	if err := ActivateContract.Check(v); err != nil {
		return false, err
	}
	return v.(map[string]any)["success"].(bool), nil
}

// recordFrom builds a ResourceRecord from a parsed value that must satisfy contract.
func recordFrom(v any, contract *Contract) (ResourceRecord, error) {
	if err := contract.Check(v); err != nil {
		return ResourceRecord{}, err
	}
	obj := v.(map[string]any)

	var rec ResourceRecord
	rec.ID, _ = obj["id"].(string)
	rec.Address, _ = obj["address"].(string)
	rec.Name, _ = obj["name"].(string)
	rec.Symbol, _ = obj["symbol"].(string)
	rec.Owner, _ = obj["merchantAddress"].(string)

	uints := []struct {
		name string
		dst  *uint64
	}{
		{"totalSupply", &rec.TotalSupply},
		{"startingAppSupply", &rec.AllocatedSupply},
		{"remainingAppSupply", &rec.RemainingSupply},
		{"merchantSupply", &rec.CounterpartSupply},
	}
	for _, u := range uints {
		n, ok := obj[u.name].(json.Number)
		if !ok {
			continue
		}
		val, err := strconv.ParseUint(n.String(), 10, 64)
		if err != nil {
			return ResourceRecord{}, &DecodeError{Kind: KindTypeMismatch, Contract: contract.Name, Field: u.name, Msg: fmt.Sprintf("not a uint64: %s", n), Err: err}
		}
		*u.dst = val
	}

	if n, ok := obj["price"].(json.Number); ok {
		price, err := n.Float64()
		if err != nil {
			return ResourceRecord{}, &DecodeError{Kind: KindTypeMismatch, Contract: contract.Name, Field: "price", Msg: err.Error(), Err: err}
		}
		rec.Price = price
	}
	return rec, nil
}
