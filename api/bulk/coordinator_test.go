package bulk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-cli-collective/salesforce-sync/api"
	"github.com/open-cli-collective/salesforce-sync/api/record"
)

const testRoot = "/services/data/v62.0"

// fakeBulk is an in-memory Bulk API 2.0 endpoint. Ingest jobs report
// InProgress once after close and JobComplete after that; every uploaded row
// succeeds.
type fakeBulk struct {
	t      *testing.T
	server *httptest.Server

	mu         sync.Mutex
	jobs       map[string]*JobInfo
	uploads    map[string]string
	calls      []string
	failUpload bool
	onUpload   func()
}

func newFakeBulk(t *testing.T) *fakeBulk {
	t.Helper()

	f := &fakeBulk{
		t:       t,
		jobs:    make(map[string]*JobInfo),
		uploads: make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+testRoot+"/jobs/ingest", f.createIngest)
	mux.HandleFunc("PUT "+testRoot+"/jobs/ingest/{id}/batches", f.upload)
	mux.HandleFunc("PATCH "+testRoot+"/jobs/ingest/{id}", f.setState)
	mux.HandleFunc("GET "+testRoot+"/jobs/ingest/{id}", f.getIngest)
	mux.HandleFunc("GET "+testRoot+"/jobs/ingest/{id}/successfulResults/", f.successful)
	mux.HandleFunc("GET "+testRoot+"/jobs/ingest/{id}/failedResults/", f.failed)
	mux.HandleFunc("GET "+testRoot+"/jobs/ingest/{id}/unprocessedrecords/", f.unprocessed)
	mux.HandleFunc("DELETE "+testRoot+"/jobs/ingest/{id}", f.deleteJob)
	mux.HandleFunc("DELETE "+testRoot+"/jobs/query/{id}", f.deleteJob)
	mux.HandleFunc("POST "+testRoot+"/jobs/query", f.createQuery)
	mux.HandleFunc("GET "+testRoot+"/jobs/query/{id}", f.getQuery)
	mux.HandleFunc("GET "+testRoot+"/jobs/query/{id}/results", f.queryResults)

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls = append(f.calls, r.Method+" "+strings.TrimPrefix(r.URL.Path, testRoot))
		f.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeBulk) coordinator() *Coordinator {
	client, err := New(ClientConfig{InstanceURL: f.server.URL, HTTPClient: f.server.Client()})
	require.NoError(f.t, err)
	return NewCoordinator(client, nil)
}

func (f *fakeBulk) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBulk) uploaded(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads[id]
}

func (f *fakeBulk) job(id string) JobInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.jobs[id]
}

func (f *fakeBulk) createIngest(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
	assert.Equal(f.t, ContentTypeCSV, req.ContentType)
	assert.Equal(f.t, LineEndingLF, req.LineEnding)

	f.mu.Lock()
	id := fmt.Sprintf("750%012d", len(f.jobs)+1)
	job := &JobInfo{
		ID:                  id,
		Object:              req.Object,
		Operation:           req.Operation,
		ExternalIDFieldName: req.ExternalIDFieldName,
		State:               StateOpen,
		ContentURL:          "services/data/v62.0/jobs/ingest/" + id + "/batches",
	}
	f.jobs[id] = job
	resp := *job
	f.mu.Unlock()

	writeJSON(w, resp)
}

func (f *fakeBulk) upload(w http.ResponseWriter, r *http.Request) {
	assert.Equal(f.t, "text/csv", r.Header.Get("Content-Type"))
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	fail, hook := f.failUpload, f.onUpload
	if !fail {
		f.uploads[r.PathValue("id")] = string(body)
	}
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if fail {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`[{"errorCode":"UNKNOWN_EXCEPTION","message":"upload failed"}]`))
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (f *fakeBulk) setState(w http.ResponseWriter, r *http.Request) {
	var req UpdateJobRequest
	assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))

	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[r.PathValue("id")]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch req.State {
	case StateUploadComplete:
		job.State = StateInProgress
	case StateAborted:
		job.State = StateAborted
	}
	writeJSON(w, *job)
}

func (f *fakeBulk) deleteJob(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := r.PathValue("id")
	if _, ok := f.jobs[id]; !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`[{"errorCode":"NOT_FOUND","message":"job not found"}]`))
		return
	}
	delete(f.jobs, id)
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeBulk) getIngest(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[r.PathValue("id")]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`[{"errorCode":"NOT_FOUND","message":"job not found"}]`))
		return
	}
	resp := *job
	if job.State == StateInProgress {
		job.State = StateJobComplete
		job.NumberRecordsProcessed = record.CountLines(f.uploads[job.ID]) - 1
	}
	writeJSON(w, resp)
}

func (f *fakeBulk) successful(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	payload := f.uploads[r.PathValue("id")]
	f.mu.Unlock()

	lines := strings.Split(strings.TrimSpace(payload), "\n")
	var b strings.Builder
	b.WriteString("sf__Id,sf__Created," + lines[0] + "\n")
	for i, line := range lines[1:] {
		fmt.Fprintf(&b, "001%015d,true,%s\n", i+1, line)
	}
	_, _ = w.Write([]byte(b.String()))
}

func (f *fakeBulk) failed(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	payload := f.uploads[r.PathValue("id")]
	f.mu.Unlock()

	header, _, _ := strings.Cut(payload, "\n")
	_, _ = w.Write([]byte("sf__Id,sf__Error," + header + "\n"))
}

func (f *fakeBulk) unprocessed(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	payload := f.uploads[r.PathValue("id")]
	f.mu.Unlock()

	header, _, _ := strings.Cut(payload, "\n")
	_, _ = w.Write([]byte(header + "\n"))
}

func (f *fakeBulk) createQuery(w http.ResponseWriter, r *http.Request) {
	var req CreateQueryJobRequest
	assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))

	writeJSON(w, QueryJobInfo{
		ID:        "750Q00000000001",
		Operation: req.Operation,
		Query:     req.Query,
		State:     StateUploadComplete,
	})
}

func (f *fakeBulk) getQuery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, QueryJobInfo{
		ID:                     r.PathValue("id"),
		Operation:              OperationQuery,
		Object:                 "Account",
		State:                  StateJobComplete,
		NumberRecordsProcessed: 3,
	})
}

func (f *fakeBulk) queryResults(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("locator") {
	case "":
		w.Header().Set("Sforce-Locator", "cGFnZTI")
		_, _ = w.Write([]byte("Id,Name\n001A,Acme\n001B,Globex\n"))
	case "cGFnZTI":
		w.Header().Set("Sforce-Locator", "null")
		_, _ = w.Write([]byte("Id,Name\n001C,Initech\n"))
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func acme() []record.Record {
	return []record.Record{record.New(
		record.Field{Name: "Name", Value: "Acme"},
		record.Field{Name: "AnnualRevenue", Value: "1000000"},
	)}
}

func TestCoordinator_SubmitIngestEndToEnd(t *testing.T) {
	f := newFakeBulk(t)
	co := f.coordinator()
	ctx := context.Background()

	jobID, err := co.SubmitIngest(ctx, IngestRequest{
		Object:    "Account",
		Operation: OperationInsert,
		Records:   acme(),
	})
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	assert.Equal(t, []string{
		"POST /jobs/ingest",
		"PUT /jobs/ingest/" + jobID + "/batches",
		"PATCH /jobs/ingest/" + jobID,
	}, f.callLog())
	assert.Equal(t, "Name,AnnualRevenue\nAcme,1000000\n", f.uploaded(jobID))

	status, err := co.Status(ctx, jobID, false)
	require.NoError(t, err)
	assert.Contains(t, []State{StateInProgress, StateJobComplete}, status.State)
	assert.Equal(t, "Account", status.Object)
	assert.Equal(t, OperationInsert, status.Operation)

	status, err = co.Wait(ctx, jobID, false, PollConfig{Interval: time.Millisecond, Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, StateJobComplete, status.State)
	assert.Equal(t, 1, status.NumberRecordsProcessed)

	rs, err := co.Results(ctx, jobID, false)
	require.NoError(t, err)
	require.Len(t, rs.Successful, 1)
	assert.Equal(t, "Acme", rs.Successful[0].String("Name"))
	assert.Equal(t, "true", rs.Successful[0].String("sf__Created"))
	assert.Empty(t, rs.Failed)
	assert.Empty(t, rs.Unprocessed)
}

func TestCoordinator_SubmitIngestFieldOrder(t *testing.T) {
	f := newFakeBulk(t)
	co := f.coordinator()

	jobID, err := co.SubmitIngest(context.Background(), IngestRequest{
		Object:     "Account",
		Operation:  OperationUpsert,
		Records:    acme(),
		FieldOrder: []string{"External_Id__c", "Name"},

		ExternalIDField: "External_Id__c",
	})
	require.NoError(t, err)

	assert.Equal(t, "External_Id__c,Name\n,Acme\n", f.uploaded(jobID))
	assert.Equal(t, "External_Id__c", f.job(jobID).ExternalIDFieldName)
}

func TestCoordinator_SubmitIngestValidation(t *testing.T) {
	tests := []struct {
		name      string
		req       IngestRequest
		wantField string
	}{
		{
			name:      "no object",
			req:       IngestRequest{Operation: OperationInsert, Records: acme()},
			wantField: "object",
		},
		{
			name:      "query is not ingest",
			req:       IngestRequest{Object: "Account", Operation: OperationQuery, Records: acme()},
			wantField: "operation",
		},
		{
			name:      "upsert without external id",
			req:       IngestRequest{Object: "Account", Operation: OperationUpsert, Records: acme()},
			wantField: "external_id_field",
		},
		{
			name:      "empty records",
			req:       IngestRequest{Object: "Account", Operation: OperationInsert},
			wantField: "records",
		},
		{
			name:      "records without fields",
			req:       IngestRequest{Object: "Account", Operation: OperationInsert, Records: []record.Record{record.New()}},
			wantField: "records",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeBulk(t)

			_, err := f.coordinator().SubmitIngest(context.Background(), tt.req)

			var vErr *api.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.wantField, vErr.Field)
			assert.True(t, api.IsValidation(err))
			assert.Empty(t, f.callLog(), "no request may reach Salesforce")
		})
	}
}

func TestCoordinator_SubmitIngestSingleEmptyColumn(t *testing.T) {
	f := newFakeBulk(t)

	jobID, err := f.coordinator().SubmitIngest(context.Background(), IngestRequest{
		Object:    "Task",
		Operation: OperationInsert,
		Records:   []record.Record{record.New(record.Field{Name: "Description", Value: nil})},
	})
	require.NoError(t, err)
	assert.Equal(t, "Description\n\"\"\n", f.uploaded(jobID))
}

func TestCoordinator_SubmitIngestAbortsOnUploadFailure(t *testing.T) {
	f := newFakeBulk(t)
	f.failUpload = true

	_, err := f.coordinator().SubmitIngest(context.Background(), IngestRequest{
		Object:    "Account",
		Operation: OperationInsert,
		Records:   acme(),
	})
	require.Error(t, err)
	assert.True(t, api.IsServerError(err))

	calls := f.callLog()
	require.Len(t, calls, 3)
	assert.Equal(t, "PATCH /jobs/ingest/750000000000001", calls[2])
	assert.Equal(t, StateAborted, f.job("750000000000001").State)
}

func TestCoordinator_AbortSurvivesCancelledContext(t *testing.T) {
	f := newFakeBulk(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.failUpload = true
	f.onUpload = cancel

	_, err := f.coordinator().SubmitIngest(ctx, IngestRequest{
		Object:    "Account",
		Operation: OperationDelete,
		Records:   []record.Record{record.New(record.Field{Name: "Id", Value: "001000000000001"})},
	})
	require.Error(t, err)
	assert.Equal(t, StateAborted, f.job("750000000000001").State)
}

func TestCoordinator_ResultsBeforeComplete(t *testing.T) {
	f := newFakeBulk(t)
	co := f.coordinator()

	jobID, err := co.SubmitIngest(context.Background(), IngestRequest{
		Object:    "Account",
		Operation: OperationInsert,
		Records:   acme(),
	})
	require.NoError(t, err)

	_, err = co.Results(context.Background(), jobID, false)
	assert.ErrorIs(t, err, ErrJobNotComplete)
	assert.Contains(t, err.Error(), string(StateInProgress))
}

func TestCoordinator_Query(t *testing.T) {
	f := newFakeBulk(t)
	co := f.coordinator()
	ctx := context.Background()

	jobID, err := co.SubmitQuery(ctx, "SELECT Id, Name FROM Account", "")
	require.NoError(t, err)
	assert.Equal(t, "750Q00000000001", jobID)

	rs, err := co.Results(ctx, jobID, true)
	require.NoError(t, err)
	require.Len(t, rs.Records, 3)
	assert.Equal(t, "Acme", rs.Records[0].String("Name"))
	assert.Equal(t, "Initech", rs.Records[2].String("Name"))
	assert.Nil(t, rs.Successful)
}

func TestCoordinator_SubmitQueryValidation(t *testing.T) {
	f := newFakeBulk(t)
	co := f.coordinator()

	_, err := co.SubmitQuery(context.Background(), "  ", OperationQuery)
	assert.True(t, api.IsValidation(err))

	_, err = co.SubmitQuery(context.Background(), "SELECT Id FROM Account", OperationInsert)
	assert.True(t, api.IsValidation(err))

	assert.Empty(t, f.callLog())
}

func TestCoordinator_Abort(t *testing.T) {
	f := newFakeBulk(t)
	co := f.coordinator()
	ctx := context.Background()

	jobID, err := co.SubmitIngest(ctx, IngestRequest{Object: "Account", Operation: OperationInsert, Records: acme()})
	require.NoError(t, err)

	status, err := co.Abort(ctx, jobID, false)
	require.NoError(t, err)
	assert.Equal(t, StateAborted, status.State)

	_, err = co.Abort(ctx, "", false)
	assert.True(t, api.IsValidation(err))
}

func TestCoordinator_Delete(t *testing.T) {
	f := newFakeBulk(t)
	co := f.coordinator()
	ctx := context.Background()

	jobID, err := co.SubmitIngest(ctx, IngestRequest{Object: "Account", Operation: OperationInsert, Records: acme()})
	require.NoError(t, err)

	require.NoError(t, co.Delete(ctx, jobID, false))
	assert.Contains(t, f.callLog(), "DELETE /jobs/ingest/"+jobID)

	err = co.Delete(ctx, jobID, false)
	assert.True(t, api.IsNotFound(err))

	assert.True(t, api.IsValidation(co.Delete(ctx, " ", true)))
}

func TestCoordinator_StatusNotFound(t *testing.T) {
	f := newFakeBulk(t)

	_, err := f.coordinator().Status(context.Background(), "750missing", false)
	assert.True(t, api.IsNotFound(err))
}

func TestResultSet_MarshalJSON(t *testing.T) {
	ingest, err := json.Marshal(&ResultSet{Successful: acme()})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"successful_records": [{"Name":"Acme","AnnualRevenue":"1000000"}],
		"failed_records": [],
		"unprocessed_records": []
	}`, string(ingest))

	query, err := json.Marshal(&ResultSet{Query: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"records": []}`, string(query))
}
