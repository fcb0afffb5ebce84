// Package api provides a Go client for the Salesforce REST API.
package api

import (
	"net/http"

	"github.com/open-cli-collective/salesforce-sync/api/record"
)

// APIVersion represents a Salesforce API version
type APIVersion struct {
	Label   string `json:"label"`
	URL     string `json:"url"`
	Version string `json:"version"`
}

// QueryResult represents the result of a SOQL query
type QueryResult struct {
	TotalSize      int             `json:"totalSize"`
	Done           bool            `json:"done"`
	NextRecordsURL string          `json:"nextRecordsUrl,omitempty"`
	Records        []record.Record `json:"records"`
}

// RecordResult represents the result of a record create/update operation
type RecordResult struct {
	ID      string        `json:"id,omitempty"`
	Success bool          `json:"success"`
	Errors  []RecordError `json:"errors,omitempty"`
	Created bool          `json:"created,omitempty"`
}

// RecordError represents an error from a record operation
type RecordError struct {
	StatusCode string   `json:"statusCode"`
	Message    string   `json:"message"`
	Fields     []string `json:"fields,omitempty"`
}

// Err converts an unsuccessful result into an *APIError so callers can use
// the same sentinels as for HTTP failures. It returns nil on success.
func (r *RecordResult) Err() error {
	if r.Success || len(r.Errors) == 0 {
		return nil
	}

	apiErr := &APIError{StatusCode: http.StatusBadRequest}
	for _, e := range r.Errors {
		apiErr.Errors = append(apiErr.Errors, SalesforceError{
			ErrorCode: e.StatusCode,
			Message:   e.Message,
			Fields:    e.Fields,
		})
	}
	return apiErr
}

// Limits maps limit names such as DataStorageMB to their usage.
type Limits map[string]LimitInfo

// LimitInfo is a single org limit.
type LimitInfo struct {
	Max       int `json:"Max"`
	Remaining int `json:"Remaining"`
}

// Used returns Max minus Remaining.
func (l LimitInfo) Used() int {
	return l.Max - l.Remaining
}

// stripAttributes removes the "attributes" metadata Salesforce attaches to
// every record and nested relationship in query results.
func stripAttributes(rec record.Record) record.Record {
	rec.Delete("attributes")
	for _, f := range rec.Fields() {
		if nested, ok := f.Value.(record.Record); ok {
			rec.Set(f.Name, stripAttributes(nested))
		}
	}
	return rec
}
