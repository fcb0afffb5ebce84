package bulk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/open-cli-collective/salesforce-sync/api"
)

// Client is a Salesforce Bulk API 2.0 client.
type Client struct {
	httpClient  *http.Client
	instanceURL string
	apiVersion  string
	baseURL     string
}

// ClientConfig contains configuration for creating a new Bulk API client.
type ClientConfig struct {
	InstanceURL string
	HTTPClient  *http.Client
	APIVersion  string
}

// New creates a new Bulk API client.
func New(cfg ClientConfig) (*Client, error) {
	if cfg.InstanceURL == "" {
		return nil, api.ErrInstanceURLRequired
	}
	if cfg.HTTPClient == nil {
		return nil, api.ErrHTTPClientRequired
	}

	instanceURL := strings.TrimSuffix(cfg.InstanceURL, "/")
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = api.DefaultAPIVersion
	}

	return &Client{
		httpClient:  cfg.HTTPClient,
		instanceURL: instanceURL,
		apiVersion:  apiVersion,
		baseURL:     fmt.Sprintf("%s/services/data/%s", instanceURL, apiVersion),
	}, nil
}

// BaseURL returns the versioned REST root the job paths hang off.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// resolve turns a job path or contentUrl into an absolute URL. Salesforce
// returns contentUrl relative to the API root ("services/data/v62.0/...").
func (c *Client) resolve(path string) string {
	switch {
	case strings.HasPrefix(path, "http://"), strings.HasPrefix(path, "https://"):
		return path
	case strings.HasPrefix(path, "services/"):
		return c.instanceURL + "/" + path
	case strings.HasPrefix(path, "/services/"):
		return c.instanceURL + path
	case !strings.HasPrefix(path, "/"):
		return c.baseURL + "/" + path
	}
	return c.baseURL + path
}

// doRequest performs an HTTP request and returns the response body.
// string and []byte bodies are sent as CSV, anything else as JSON.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	contentType := "application/json"

	if body != nil {
		switch v := body.(type) {
		case string:
			bodyReader = strings.NewReader(v)
			contentType = "text/csv"
		case []byte:
			bodyReader = bytes.NewReader(v)
			contentType = "text/csv"
		default:
			jsonBody, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal request body: %w", err)
			}
			bodyReader = bytes.NewReader(jsonBody)
		}
	}

	fullURL := c.resolve(path)

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, api.WrapTransportError(method, fullURL, err)
	}
	if resp.StatusCode >= 400 {
		return nil, api.ParseAPIError(resp)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return respBody, nil
}

// doCSVRequest performs a GET expecting a CSV body and returns it with the
// response headers.
func (c *Client) doCSVRequest(ctx context.Context, path string) ([]byte, http.Header, error) {
	fullURL := c.resolve(path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "text/csv")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, api.WrapTransportError(http.MethodGet, fullURL, err)
	}
	if resp.StatusCode >= 400 {
		return nil, nil, api.ParseAPIError(resp)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}

	return respBody, resp.Header, nil
}
