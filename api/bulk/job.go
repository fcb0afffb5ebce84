package bulk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrPollTimeout is returned when a job is still running at the poll deadline.
var ErrPollTimeout = errors.New("timeout waiting for job to complete")

// CreateJob creates a new bulk ingest job.
func (c *Client) CreateJob(ctx context.Context, cfg JobConfig) (*JobInfo, error) {
	contentType := cfg.ContentType
	if contentType == "" {
		contentType = ContentTypeCSV
	}

	req := CreateJobRequest{
		Object:              cfg.Object,
		Operation:           cfg.Operation,
		ExternalIDFieldName: cfg.ExternalID,
		ContentType:         contentType,
		LineEnding:          LineEndingLF,
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/jobs/ingest", req)
	if err != nil {
		return nil, err
	}

	var job JobInfo
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("failed to parse job response: %w", err)
	}

	return &job, nil
}

// UploadJobData uploads CSV data to a bulk job. It uses the job's contentUrl
// when Salesforce returned one.
func (c *Client) UploadJobData(ctx context.Context, job *JobInfo, data string) error {
	path := job.ContentURL
	if path == "" {
		path = fmt.Sprintf("/jobs/ingest/%s/batches", url.PathEscape(job.ID))
	}
	_, err := c.doRequest(ctx, http.MethodPut, path, data)
	return err
}

// CloseJob marks a job as UploadComplete to start processing.
func (c *Client) CloseJob(ctx context.Context, jobID string) (*JobInfo, error) {
	return c.setIngestState(ctx, jobID, StateUploadComplete)
}

// AbortJob aborts a bulk ingest job.
func (c *Client) AbortJob(ctx context.Context, jobID string) (*JobInfo, error) {
	return c.setIngestState(ctx, jobID, StateAborted)
}

func (c *Client) setIngestState(ctx context.Context, jobID string, state State) (*JobInfo, error) {
	body, err := c.doRequest(ctx, http.MethodPatch, ingestPath(jobID), UpdateJobRequest{State: state})
	if err != nil {
		return nil, err
	}

	var job JobInfo
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("failed to parse job response: %w", err)
	}

	return &job, nil
}

// GetJob retrieves information about a bulk ingest job.
func (c *Client) GetJob(ctx context.Context, jobID string) (*JobInfo, error) {
	body, err := c.doRequest(ctx, http.MethodGet, ingestPath(jobID), nil)
	if err != nil {
		return nil, err
	}

	var job JobInfo
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("failed to parse job response: %w", err)
	}

	return &job, nil
}

// DeleteJob deletes a bulk job.
func (c *Client) DeleteJob(ctx context.Context, jobID string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, ingestPath(jobID), nil)
	return err
}

// ListJobs lists bulk ingest jobs.
func (c *Client) ListJobs(ctx context.Context) (*JobsResponse, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/jobs/ingest", nil)
	if err != nil {
		return nil, err
	}

	var resp JobsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse jobs response: %w", err)
	}

	return &resp, nil
}

// GetSuccessfulResults retrieves successful results from a completed job.
// Each row carries sf__Id and sf__Created ahead of the submitted fields.
func (c *Client) GetSuccessfulResults(ctx context.Context, jobID string) ([]byte, error) {
	data, _, err := c.doCSVRequest(ctx, ingestPath(jobID)+"/successfulResults/")
	return data, err
}

// GetFailedResults retrieves failed results from a completed job.
// Each row carries sf__Id and sf__Error ahead of the submitted fields.
func (c *Client) GetFailedResults(ctx context.Context, jobID string) ([]byte, error) {
	data, _, err := c.doCSVRequest(ctx, ingestPath(jobID)+"/failedResults/")
	return data, err
}

// GetUnprocessedRecords retrieves unprocessed records from a job.
func (c *Client) GetUnprocessedRecords(ctx context.Context, jobID string) ([]byte, error) {
	data, _, err := c.doCSVRequest(ctx, ingestPath(jobID)+"/unprocessedrecords/")
	return data, err
}

// PollJob polls a job until it reaches a terminal state or timeout.
func (c *Client) PollJob(ctx context.Context, jobID string, cfg PollConfig) (*JobInfo, error) {
	var job *JobInfo
	err := poll(ctx, cfg, func(ctx context.Context) (bool, error) {
		var err error
		job, err = c.GetJob(ctx, jobID)
		if err != nil {
			return false, err
		}
		return job.State.IsTerminal(), nil
	})
	return job, err
}

// CreateQueryJob creates a new bulk query job.
func (c *Client) CreateQueryJob(ctx context.Context, cfg QueryConfig) (*QueryJobInfo, error) {
	contentType := cfg.ContentType
	if contentType == "" {
		contentType = ContentTypeCSV
	}
	op := cfg.Operation
	if op == "" {
		op = OperationQuery
	}

	req := CreateQueryJobRequest{
		Operation:   op,
		Query:       cfg.Query,
		ContentType: contentType,
		LineEnding:  LineEndingLF,
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/jobs/query", req)
	if err != nil {
		return nil, err
	}

	var job QueryJobInfo
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("failed to parse query job response: %w", err)
	}

	return &job, nil
}

// GetQueryJob retrieves information about a bulk query job.
func (c *Client) GetQueryJob(ctx context.Context, jobID string) (*QueryJobInfo, error) {
	body, err := c.doRequest(ctx, http.MethodGet, queryPath(jobID), nil)
	if err != nil {
		return nil, err
	}

	var job QueryJobInfo
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("failed to parse query job response: %w", err)
	}

	return &job, nil
}

// GetQueryResults retrieves one page of results from a bulk query job.
// Pass the previous page's Locator to continue; maxRecords <= 0 leaves the
// page size to Salesforce.
func (c *Client) GetQueryResults(ctx context.Context, jobID, locator string, maxRecords int) (*QueryResultsPage, error) {
	params := url.Values{}
	if locator != "" {
		params.Set("locator", locator)
	}
	if maxRecords > 0 {
		params.Set("maxRecords", strconv.Itoa(maxRecords))
	}

	path := queryPath(jobID) + "/results"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	data, header, err := c.doCSVRequest(ctx, path)
	if err != nil {
		return nil, err
	}

	next := header.Get("Sforce-Locator")
	if next == "null" {
		next = ""
	}
	return &QueryResultsPage{Data: data, Locator: next}, nil
}

// AbortQueryJob aborts a bulk query job.
func (c *Client) AbortQueryJob(ctx context.Context, jobID string) (*QueryJobInfo, error) {
	body, err := c.doRequest(ctx, http.MethodPatch, queryPath(jobID), UpdateJobRequest{State: StateAborted})
	if err != nil {
		return nil, err
	}

	var job QueryJobInfo
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("failed to parse query job response: %w", err)
	}

	return &job, nil
}

// DeleteQueryJob deletes a bulk query job.
func (c *Client) DeleteQueryJob(ctx context.Context, jobID string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, queryPath(jobID), nil)
	return err
}

// ListQueryJobs lists bulk query jobs.
func (c *Client) ListQueryJobs(ctx context.Context) (*QueryJobsResponse, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/jobs/query", nil)
	if err != nil {
		return nil, err
	}

	var resp QueryJobsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse query jobs response: %w", err)
	}

	return &resp, nil
}

// PollQueryJob polls a query job until it reaches a terminal state or timeout.
func (c *Client) PollQueryJob(ctx context.Context, jobID string, cfg PollConfig) (*QueryJobInfo, error) {
	var job *QueryJobInfo
	err := poll(ctx, cfg, func(ctx context.Context) (bool, error) {
		var err error
		job, err = c.GetQueryJob(ctx, jobID)
		if err != nil {
			return false, err
		}
		return job.State.IsTerminal(), nil
	})
	return job, err
}

// poll calls check every cfg.Interval until it reports done, fails, or
// cfg.Timeout elapses.
func poll(ctx context.Context, cfg PollConfig, check func(context.Context) (bool, error)) error {
	if cfg.Interval <= 0 {
		cfg = DefaultPollConfig()
	}

	deadline := time.Now().Add(cfg.Timeout)
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			done, err := check(ctx)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			if cfg.Timeout > 0 && time.Now().After(deadline) {
				return ErrPollTimeout
			}
		}
	}
}

func ingestPath(jobID string) string {
	return "/jobs/ingest/" + url.PathEscape(jobID)
}

func queryPath(jobID string) string {
	return "/jobs/query/" + url.PathEscape(jobID)
}
