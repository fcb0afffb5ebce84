package bulk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/open-cli-collective/salesforce-sync/api"
	"github.com/open-cli-collective/salesforce-sync/api/record"
)

// ErrJobNotComplete is returned by Results when the job has not reached
// JobComplete.
var ErrJobNotComplete = errors.New("job is not complete")

// DefaultAbortTimeout bounds the best-effort abort after a failed submission.
const DefaultAbortTimeout = 30 * time.Second

// IngestRequest describes one bulk DML submission.
type IngestRequest struct {
	Object          string
	Operation       Operation
	Records         []record.Record
	ExternalIDField string

	// FieldOrder fixes the CSV header. Empty means the first record's keys.
	FieldOrder []string
}

func (r IngestRequest) validate() error {
	if strings.TrimSpace(r.Object) == "" {
		return api.NewValidationError("object", "object name is required")
	}
	if !r.Operation.IsIngest() {
		return api.NewValidationError("operation", fmt.Sprintf("%q is not an ingest operation", r.Operation))
	}
	if r.Operation == OperationUpsert && strings.TrimSpace(r.ExternalIDField) == "" {
		return api.NewValidationError("external_id_field", "external ID field is required for upsert")
	}
	if len(r.Records) == 0 {
		return api.NewValidationError("records", "no records to process")
	}
	return nil
}

// JobStatus is the caller-facing view of an ingest or query job.
type JobStatus struct {
	ID                     string    `json:"id"`
	State                  State     `json:"state"`
	Operation              Operation `json:"operation"`
	Object                 string    `json:"object"`
	ErrorMessage           string    `json:"errorMessage"`
	NumberRecordsProcessed int       `json:"numberRecordsProcessed"`
	NumberRecordsFailed    int       `json:"numberRecordsFailed"`
}

func statusFromJob(j *JobInfo) *JobStatus {
	return &JobStatus{
		ID:                     j.ID,
		State:                  j.State,
		Operation:              j.Operation,
		Object:                 j.Object,
		ErrorMessage:           j.ErrorMessage,
		NumberRecordsProcessed: j.NumberRecordsProcessed,
		NumberRecordsFailed:    j.NumberRecordsFailed,
	}
}

func statusFromQueryJob(j *QueryJobInfo) *JobStatus {
	return &JobStatus{
		ID:                     j.ID,
		State:                  j.State,
		Operation:              j.Operation,
		Object:                 j.Object,
		ErrorMessage:           j.ErrorMessage,
		NumberRecordsProcessed: j.NumberRecordsProcessed,
	}
}

// ResultSet holds the partitions of a completed job. Ingest jobs fill the
// three named partitions; query jobs fill Records.
type ResultSet struct {
	Query       bool
	Successful  []record.Record
	Failed      []record.Record
	Unprocessed []record.Record
	Records     []record.Record
}

// MarshalJSON emits only the partitions that apply to the job kind.
func (rs ResultSet) MarshalJSON() ([]byte, error) {
	if rs.Query {
		return json.Marshal(struct {
			Records []record.Record `json:"records"`
		}{nonNil(rs.Records)})
	}
	return json.Marshal(struct {
		Successful  []record.Record `json:"successful_records"`
		Failed      []record.Record `json:"failed_records"`
		Unprocessed []record.Record `json:"unprocessed_records"`
	}{nonNil(rs.Successful), nonNil(rs.Failed), nonNil(rs.Unprocessed)})
}

func nonNil(recs []record.Record) []record.Record {
	if recs == nil {
		return []record.Record{}
	}
	return recs
}

// Coordinator drives bulk jobs through create, upload, close, poll and
// result retrieval. It never retries whole steps.
type Coordinator struct {
	client       *Client
	logger       *slog.Logger
	abortTimeout time.Duration
}

// NewCoordinator returns a Coordinator over client. A nil logger discards.
func NewCoordinator(client *Client, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Coordinator{
		client:       client,
		logger:       logger,
		abortTimeout: DefaultAbortTimeout,
	}
}

// SubmitIngest creates an ingest job, uploads the records as CSV and marks
// the upload complete. It returns as soon as Salesforce has accepted the
// job; processing continues server-side. If any step after creation fails
// the job is aborted before the error is returned.
func (co *Coordinator) SubmitIngest(ctx context.Context, req IngestRequest) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}

	payload, err := record.EncodeCSV(req.Records, req.FieldOrder)
	if err != nil {
		return "", fmt.Errorf("failed to encode records: %w", err)
	}
	if record.CountLines(payload) < 2 {
		return "", api.NewValidationError("records", "no records to process")
	}

	job, err := co.client.CreateJob(ctx, JobConfig{
		Object:     req.Object,
		Operation:  req.Operation,
		ExternalID: req.ExternalIDField,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create %s job for %s: %w", req.Operation, req.Object, err)
	}
	if job.ID == "" {
		return "", fmt.Errorf("failed to create %s job for %s: response has no job id", req.Operation, req.Object)
	}

	log := co.logger.With("job_id", job.ID, "object", req.Object, "operation", string(req.Operation))
	log.Info("bulk job created", "records", len(req.Records))

	if err := co.client.UploadJobData(ctx, job, payload); err != nil {
		co.abortAfterFailure(ctx, job.ID)
		return "", fmt.Errorf("failed to upload data for job %s: %w", job.ID, err)
	}

	if _, err := co.client.CloseJob(ctx, job.ID); err != nil {
		co.abortAfterFailure(ctx, job.ID)
		return "", fmt.Errorf("failed to close job %s: %w", job.ID, err)
	}

	log.Info("bulk job upload complete")
	return job.ID, nil
}

// SubmitQuery creates a query job for soql. op may be empty for a plain
// query.
func (co *Coordinator) SubmitQuery(ctx context.Context, soql string, op Operation) (string, error) {
	if strings.TrimSpace(soql) == "" {
		return "", api.NewValidationError("soql", "query is required")
	}
	if op == "" {
		op = OperationQuery
	}
	if !op.IsQuery() {
		return "", api.NewValidationError("operation", fmt.Sprintf("%q is not a query operation", op))
	}

	job, err := co.client.CreateQueryJob(ctx, QueryConfig{Query: soql, Operation: op})
	if err != nil {
		return "", fmt.Errorf("failed to create %s job: %w", op, err)
	}
	if job.ID == "" {
		return "", fmt.Errorf("failed to create %s job: response has no job id", op)
	}

	co.logger.Info("bulk query job created", "job_id", job.ID, "operation", string(op))
	return job.ID, nil
}

// Status fetches the current job metadata.
func (co *Coordinator) Status(ctx context.Context, jobID string, isQuery bool) (*JobStatus, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, api.NewValidationError("job_id", "job ID is required")
	}

	if isQuery {
		job, err := co.client.GetQueryJob(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("failed to get query job %s: %w", jobID, err)
		}
		return statusFromQueryJob(job), nil
	}

	job, err := co.client.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	return statusFromJob(job), nil
}

// Results fetches and parses the result partitions of a completed job.
// It returns an error wrapping ErrJobNotComplete for any other state.
func (co *Coordinator) Results(ctx context.Context, jobID string, isQuery bool) (*ResultSet, error) {
	status, err := co.Status(ctx, jobID, isQuery)
	if err != nil {
		return nil, err
	}
	if status.State != StateJobComplete {
		return nil, fmt.Errorf("job %s is %s: %w", jobID, status.State, ErrJobNotComplete)
	}

	if isQuery {
		return co.queryResults(ctx, jobID)
	}
	return co.ingestResults(ctx, jobID)
}

func (co *Coordinator) ingestResults(ctx context.Context, jobID string) (*ResultSet, error) {
	rs := &ResultSet{}
	partitions := []struct {
		name  string
		fetch func(context.Context, string) ([]byte, error)
		dst   *[]record.Record
	}{
		{"successful", co.client.GetSuccessfulResults, &rs.Successful},
		{"failed", co.client.GetFailedResults, &rs.Failed},
		{"unprocessed", co.client.GetUnprocessedRecords, &rs.Unprocessed},
	}

	for _, p := range partitions {
		data, err := p.fetch(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("failed to get %s results for job %s: %w", p.name, jobID, err)
		}
		recs, err := record.ParseCSV(string(data))
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s results for job %s: %w", p.name, jobID, err)
		}
		*p.dst = recs
	}

	return rs, nil
}

func (co *Coordinator) queryResults(ctx context.Context, jobID string) (*ResultSet, error) {
	rs := &ResultSet{Query: true}

	locator := ""
	for page := 1; ; page++ {
		res, err := co.client.GetQueryResults(ctx, jobID, locator, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to get results page %d for job %s: %w", page, jobID, err)
		}
		recs, err := record.ParseCSV(string(res.Data))
		if err != nil {
			return nil, fmt.Errorf("failed to parse results page %d for job %s: %w", page, jobID, err)
		}
		rs.Records = append(rs.Records, recs...)

		if res.Locator == "" {
			break
		}
		locator = res.Locator
	}

	co.logger.Debug("fetched bulk query results", "job_id", jobID, "records", len(rs.Records))
	return rs, nil
}

// Wait polls until the job is terminal. On timeout the last status seen is
// returned along with ErrPollTimeout.
func (co *Coordinator) Wait(ctx context.Context, jobID string, isQuery bool, cfg PollConfig) (*JobStatus, error) {
	if isQuery {
		job, err := co.client.PollQueryJob(ctx, jobID, cfg)
		if job == nil {
			return nil, err
		}
		return statusFromQueryJob(job), err
	}

	job, err := co.client.PollJob(ctx, jobID, cfg)
	if job == nil {
		return nil, err
	}
	return statusFromJob(job), err
}

// Abort transitions the job to Aborted.
func (co *Coordinator) Abort(ctx context.Context, jobID string, isQuery bool) (*JobStatus, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, api.NewValidationError("job_id", "job ID is required")
	}

	if isQuery {
		job, err := co.client.AbortQueryJob(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("failed to abort query job %s: %w", jobID, err)
		}
		return statusFromQueryJob(job), nil
	}

	job, err := co.client.AbortJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to abort job %s: %w", jobID, err)
	}
	return statusFromJob(job), nil
}

// Delete removes a finished job and its result data from Salesforce. Open
// or in-progress jobs are rejected by Salesforce.
func (co *Coordinator) Delete(ctx context.Context, jobID string, isQuery bool) error {
	if strings.TrimSpace(jobID) == "" {
		return api.NewValidationError("job_id", "job ID is required")
	}

	var err error
	if isQuery {
		err = co.client.DeleteQueryJob(ctx, jobID)
	} else {
		err = co.client.DeleteJob(ctx, jobID)
	}
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", jobID, err)
	}
	return nil
}

// abortAfterFailure aborts an ingest job that could not be submitted. It runs
// even if ctx is already cancelled and only logs its own failure.
func (co *Coordinator) abortAfterFailure(ctx context.Context, jobID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), co.abortTimeout)
	defer cancel()

	if _, err := co.client.AbortJob(ctx, jobID); err != nil {
		co.logger.Warn("failed to abort bulk job", "job_id", jobID, "error", err)
		return
	}
	co.logger.Info("aborted bulk job after failed submission", "job_id", jobID)
}
