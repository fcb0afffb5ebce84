package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/open-cli-collective/salesforce-sync/api/record"
)

// DefaultAPIVersion is the default Salesforce API version
const DefaultAPIVersion = "v62.0"

// Client is a Salesforce REST API client
type Client struct {
	// HTTPClient is the underlying HTTP client (should have OAuth token)
	HTTPClient *http.Client

	// InstanceURL is the Salesforce instance URL (e.g., https://mycompany.my.salesforce.com)
	InstanceURL string

	// APIVersion is the API version to use (e.g., v62.0)
	APIVersion string

	// BaseURL is the full REST API base URL
	BaseURL string

	logger *slog.Logger
}

// ClientConfig contains configuration for creating a new client
type ClientConfig struct {
	// InstanceURL is the Salesforce instance URL
	InstanceURL string

	// HTTPClient is an authenticated HTTP client, usually auth.Authority.Client.
	HTTPClient *http.Client

	// APIVersion is the API version to use (optional, defaults to DefaultAPIVersion)
	APIVersion string

	// Logger receives one debug line per request. nil discards.
	Logger *slog.Logger
}

// New creates a new Salesforce API client
func New(cfg ClientConfig) (*Client, error) {
	if cfg.InstanceURL == "" {
		return nil, ErrInstanceURLRequired
	}
	if cfg.HTTPClient == nil {
		return nil, ErrHTTPClientRequired
	}

	instanceURL := normalizeURL(cfg.InstanceURL)

	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Client{
		HTTPClient:  cfg.HTTPClient,
		InstanceURL: instanceURL,
		APIVersion:  apiVersion,
		BaseURL:     fmt.Sprintf("%s/services/data/%s", instanceURL, apiVersion),
		logger:      logger,
	}, nil
}

// normalizeURL adds a missing https scheme and drops a trailing slash.
func normalizeURL(urlStr string) string {
	urlStr = strings.TrimSpace(urlStr)

	if !strings.HasPrefix(urlStr, "http://") && !strings.HasPrefix(urlStr, "https://") {
		urlStr = "https://" + urlStr
	}

	return strings.TrimSuffix(urlStr, "/")
}

// Get performs a GET request to the specified path
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	return c.send(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with a JSON body
func (c *Client) Post(ctx context.Context, path string, body any) ([]byte, error) {
	return c.send(ctx, http.MethodPost, path, body)
}

// Patch performs a PATCH request with a JSON body
func (c *Client) Patch(ctx context.Context, path string, body any) ([]byte, error) {
	return c.send(ctx, http.MethodPatch, path, body)
}

// Delete performs a DELETE request to the specified path
func (c *Client) Delete(ctx context.Context, path string) ([]byte, error) {
	return c.send(ctx, http.MethodDelete, path, nil)
}

// send issues one JSON request. Status codes of 400 and above come back as
// *APIError, network failures as *TransportError.
func (c *Client) send(ctx context.Context, method, path string, body any) ([]byte, error) {
	fullURL := c.buildURL(path)

	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.logger.Debug("salesforce request failed", "method", method, "path", req.URL.Path, "error", err)
		return nil, WrapTransportError(method, fullURL, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("salesforce request",
		"method", method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode >= 400 {
		return nil, ParseAPIError(resp)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return respBody, nil
}

// buildURL resolves path against BaseURL. Absolute URLs and /services/
// paths, such as nextRecordsUrl, are resolved against the instance instead.
func (c *Client) buildURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}

	if strings.HasPrefix(path, "/services/") {
		return c.InstanceURL + path
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.BaseURL + path
}

// GetAPIVersions returns available API versions
func (c *Client) GetAPIVersions(ctx context.Context) ([]APIVersion, error) {
	body, err := c.Get(ctx, c.InstanceURL+"/services/data/")
	if err != nil {
		return nil, err
	}

	var versions []APIVersion
	if err := json.Unmarshal(body, &versions); err != nil {
		return nil, fmt.Errorf("failed to parse API versions: %w", err)
	}
	return versions, nil
}

// GetLimits returns the org's limits
func (c *Client) GetLimits(ctx context.Context) (Limits, error) {
	body, err := c.Get(ctx, "/limits/")
	if err != nil {
		return nil, err
	}

	var limits Limits
	if err := json.Unmarshal(body, &limits); err != nil {
		return nil, fmt.Errorf("failed to parse limits response: %w", err)
	}
	return limits, nil
}

// Query runs soql and returns the first page.
func (c *Client) Query(ctx context.Context, soql string) (*QueryResult, error) {
	return c.fetchPage(ctx, "/query?q="+url.QueryEscape(soql))
}

// QueryIncludingDeleted runs soql against queryAll, which also returns
// deleted and archived rows. It returns the first page.
func (c *Client) QueryIncludingDeleted(ctx context.Context, soql string) (*QueryResult, error) {
	return c.fetchPage(ctx, "/queryAll?q="+url.QueryEscape(soql))
}

// QueryMore retrieves the page at nextRecordsURL.
func (c *Client) QueryMore(ctx context.Context, nextRecordsURL string) (*QueryResult, error) {
	return c.fetchPage(ctx, nextRecordsURL)
}

// QueryAll runs soql and follows nextRecordsUrl until the result is done.
func (c *Client) QueryAll(ctx context.Context, soql string) (*QueryResult, error) {
	result, err := c.Query(ctx, soql)
	if err != nil {
		return nil, err
	}

	for !result.Done && result.NextRecordsURL != "" {
		page, err := c.QueryMore(ctx, result.NextRecordsURL)
		if err != nil {
			return nil, err
		}
		result.Records = append(result.Records, page.Records...)
		result.Done = page.Done
		result.NextRecordsURL = page.NextRecordsURL
	}

	return result, nil
}

func (c *Client) fetchPage(ctx context.Context, path string) (*QueryResult, error) {
	body, err := c.Get(ctx, path)
	if err != nil {
		return nil, err
	}

	var result QueryResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse query result: %w", err)
	}
	for i := range result.Records {
		result.Records[i] = stripAttributes(result.Records[i])
	}
	return &result, nil
}

func sobjectPath(objectName string, parts ...string) string {
	path := "/sobjects/" + objectName + "/"
	for i, p := range parts {
		if i > 0 {
			path += "/"
		}
		path += url.PathEscape(p)
	}
	return path
}

// GetRecord retrieves a single record by ID. Fields keep the order
// Salesforce sends them in.
func (c *Client) GetRecord(ctx context.Context, objectName, recordID string, fields []string) (record.Record, error) {
	path := sobjectPath(objectName, recordID)
	if len(fields) > 0 {
		path += "?fields=" + url.QueryEscape(strings.Join(fields, ","))
	}

	body, err := c.Get(ctx, path)
	if err != nil {
		return record.Record{}, err
	}

	var rec record.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return record.Record{}, fmt.Errorf("failed to parse record: %w", err)
	}
	return stripAttributes(rec), nil
}

// CreateRecord creates a record. A 2xx answer with success=false is
// returned as an *APIError alongside the result.
func (c *Client) CreateRecord(ctx context.Context, objectName string, rec record.Record) (*RecordResult, error) {
	body, err := c.Post(ctx, sobjectPath(objectName), rec)
	if err != nil {
		return nil, err
	}
	return decodeResult(body, "create")
}

// UpdateRecord updates an existing record
func (c *Client) UpdateRecord(ctx context.Context, objectName, recordID string, rec record.Record) error {
	_, err := c.Patch(ctx, sobjectPath(objectName, recordID), rec)
	return err
}

// UpsertRecord creates or updates a record matched on an external ID field.
// Salesforce answers 201 with a body on create and 204 on update.
func (c *Client) UpsertRecord(ctx context.Context, objectName, externalIDField, externalID string, rec record.Record) (*RecordResult, error) {
	body, err := c.Patch(ctx, sobjectPath(objectName, externalIDField, externalID), rec)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return &RecordResult{Success: true}, nil
	}
	return decodeResult(body, "upsert")
}

// DeleteRecord deletes a record
func (c *Client) DeleteRecord(ctx context.Context, objectName, recordID string) error {
	_, err := c.Delete(ctx, sobjectPath(objectName, recordID))
	return err
}

func decodeResult(body []byte, op string) (*RecordResult, error) {
	var result RecordResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse %s result: %w", op, err)
	}
	if err := result.Err(); err != nil {
		return &result, err
	}
	return &result, nil
}

// RecordURL returns the web URL for a record
func (c *Client) RecordURL(recordID string) string {
	return fmt.Sprintf("%s/%s", c.InstanceURL, recordID)
}
