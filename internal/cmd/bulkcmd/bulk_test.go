package bulkcmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-cli-collective/salesforce-sync/api/bulk"
	"github.com/open-cli-collective/salesforce-sync/internal/cmd/root"
	"github.com/open-cli-collective/salesforce-sync/internal/store"
)

const (
	ingestBase = "/services/data/v62.0/jobs/ingest"
	queryBase  = "/services/data/v62.0/jobs/query"
)

// newTestOptions isolates config and the ledger in a temp dir and points the
// bulk client at handler.
func newTestOptions(t *testing.T, handler http.HandlerFunc) (*root.Options, *bytes.Buffer) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("SFDC_DATABASE_PATH", "")
	t.Setenv("SALESFORCE_DATABASE_PATH", "")

	prev := pollInterval
	pollInterval = 10 * time.Millisecond
	t.Cleanup(func() { pollInterval = prev })

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := bulk.New(bulk.ClientConfig{
		InstanceURL: server.URL,
		HTTPClient:  server.Client(),
	})
	require.NoError(t, err)

	stdout := &bytes.Buffer{}
	opts := &root.Options{
		Output: "table",
		Stdout: stdout,
		Stderr: &bytes.Buffer{},
	}
	opts.SetBulkClient(client)
	return opts, stdout
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func ledgerJob(t *testing.T, opts *root.Options, id string) store.Job {
	t.Helper()
	ledger, err := opts.Ledger()
	require.NoError(t, err)
	defer ledger.Close()

	job, err := ledger.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func ingestServer(t *testing.T, uploaded *string, final bulk.State) http.HandlerFunc {
	job := bulk.JobInfo{
		ID:        "750xx000000001",
		Operation: bulk.OperationInsert,
		Object:    "Account",
	}
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == ingestBase:
			job.State = bulk.StateOpen
			writeJSON(w, job)
		case r.Method == http.MethodPut && r.URL.Path == ingestBase+"/750xx000000001/batches":
			body, _ := io.ReadAll(r.Body)
			*uploaded = string(body)
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPatch:
			job.State = bulk.StateUploadComplete
			writeJSON(w, job)
		case r.Method == http.MethodGet && r.URL.Path == ingestBase+"/750xx000000001":
			job.State = final
			job.NumberRecordsProcessed = 1
			writeJSON(w, job)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func TestImportCommand(t *testing.T) {
	var uploaded string
	opts, stdout := newTestOptions(t, ingestServer(t, &uploaded, bulk.StateJobComplete))

	csvFile := filepath.Join(t.TempDir(), "accounts.csv")
	require.NoError(t, os.WriteFile(csvFile, []byte("Name,Industry\nAcme,Technology"), 0644))

	cmd := newImportCommand(opts)
	cmd.SetArgs([]string{"Account", "--file", csvFile, "--operation", "insert", "--field-order", "Industry,Name"})
	cmd.SetOut(stdout)

	require.NoError(t, cmd.Execute())

	output := stdout.String()
	assert.Contains(t, output, "Creating bulk insert job for Account with 1 record(s)")
	assert.Contains(t, output, "750xx000000001")
	assert.Equal(t, "Industry,Name\nTechnology,Acme\n", uploaded)

	job := ledgerJob(t, opts, "750xx000000001")
	assert.Equal(t, "Account", job.Object)
	assert.Equal(t, store.KindIngest, job.Kind)
	assert.Equal(t, "UploadComplete", job.State)
}

func TestImportCommand_JSONFileAndWait(t *testing.T) {
	var uploaded string
	opts, stdout := newTestOptions(t, ingestServer(t, &uploaded, bulk.StateJobComplete))

	jsonFile := filepath.Join(t.TempDir(), "accounts.json")
	require.NoError(t, os.WriteFile(jsonFile, []byte(`{"records":[{"Name":"Acme, Inc.","Phone":null}]}`), 0644))

	cmd := newImportCommand(opts)
	cmd.SetArgs([]string{"Account", "--file", jsonFile, "--wait"})
	cmd.SetOut(stdout)

	require.NoError(t, cmd.Execute())

	assert.Equal(t, "Name,Phone\n\"Acme, Inc.\",\n", uploaded)
	assert.Contains(t, stdout.String(), "JobComplete")
	assert.Contains(t, stdout.String(), "Records Processed: 1")
	assert.Equal(t, "JobComplete", ledgerJob(t, opts, "750xx000000001").State)
}

func TestImportCommand_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		args    []string
		wantErr string
	}{
		{
			name:    "upsert requires external id",
			content: "Email,Name\ntest@test.com,Test",
			args:    []string{"--operation", "upsert"},
			wantErr: "--external-id is required",
		},
		{
			name:    "query is not an import",
			content: "Name\nA",
			args:    []string{"--operation", "query"},
			wantErr: "invalid operation",
		},
		{
			name:    "header only",
			content: "Name\n",
			wantErr: "no records found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, stdout := newTestOptions(t, func(w http.ResponseWriter, r *http.Request) {
				t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			})

			csvFile := filepath.Join(t.TempDir(), "in.csv")
			require.NoError(t, os.WriteFile(csvFile, []byte(tt.content), 0644))

			cmd := newImportCommand(opts)
			cmd.SetArgs(append([]string{"Contact", "--file", csvFile}, tt.args...))
			cmd.SetOut(stdout)

			err := cmd.Execute()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExportCommand(t *testing.T) {
	expectedJob := bulk.QueryJobInfo{
		ID:                     "750xx000000002",
		Operation:              bulk.OperationQueryAll,
		Object:                 "Account",
		State:                  bulk.StateJobComplete,
		NumberRecordsProcessed: 2,
	}

	var created bulk.CreateQueryJobRequest
	opts, stdout := newTestOptions(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/services/data/v62.0/jobs/query":
			_ = json.NewDecoder(r.Body).Decode(&created)
			job := expectedJob
			job.State = bulk.StateUploadComplete
			writeJSON(w, job)
		case r.Method == http.MethodGet && r.URL.Path == "/services/data/v62.0/jobs/query/750xx000000002":
			writeJSON(w, expectedJob)
		case r.Method == http.MethodGet && r.URL.Path == "/services/data/v62.0/jobs/query/750xx000000002/results":
			w.Header().Set("Content-Type", "text/csv")
			w.Header().Set("Sforce-Locator", "null")
			_, _ = w.Write([]byte("Id,Name\n001xx000001,Acme\n001xx000002,Test\n"))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})

	outFile := filepath.Join(t.TempDir(), "accounts.json")
	cmd := newExportCommand(opts)
	cmd.SetArgs([]string{"SELECT Id, Name FROM Account", "--all", "--wait", "--output-file", outFile})
	cmd.SetOut(stdout)

	require.NoError(t, cmd.Execute())

	assert.Equal(t, bulk.OperationQueryAll, created.Operation)
	assert.Contains(t, stdout.String(), "Records: 2")

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"Id":"001xx000001","Name":"Acme"},{"Id":"001xx000002","Name":"Test"}]`, string(data))

	job := ledgerJob(t, opts, "750xx000000002")
	assert.Equal(t, store.KindQuery, job.Kind)
	assert.Equal(t, "JobComplete", job.State)
}

func TestExportCommand_NoWait(t *testing.T) {
	opts, stdout := newTestOptions(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		writeJSON(w, bulk.QueryJobInfo{ID: "750xx000000003", Operation: bulk.OperationQuery, State: bulk.StateUploadComplete})
	})

	cmd := newExportCommand(opts)
	cmd.SetArgs([]string{"SELECT Id FROM Account"})
	cmd.SetOut(stdout)

	require.NoError(t, cmd.Execute())
	assert.Contains(t, stdout.String(), "sfsync bulk job results 750xx000000003 --query")
}

func TestExportCommand_FailedJob(t *testing.T) {
	opts, stdout := newTestOptions(t, func(w http.ResponseWriter, r *http.Request) {
		job := bulk.QueryJobInfo{ID: "750xx000000004", Operation: bulk.OperationQuery, State: bulk.StateFailed, ErrorMessage: "MALFORMED_QUERY"}
		if r.Method == http.MethodPost {
			job.State = bulk.StateUploadComplete
		}
		writeJSON(w, job)
	})

	cmd := newExportCommand(opts)
	cmd.SetArgs([]string{"SELECT Nope FROM Account", "--wait"})
	cmd.SetOut(stdout)

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MALFORMED_QUERY")
}

func TestJobListCommand(t *testing.T) {
	opts, stdout := newTestOptions(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("ledger listing must not call Salesforce: %s", r.URL.Path)
	})

	ledger, err := opts.Ledger()
	require.NoError(t, err)
	for _, job := range []store.Job{
		{ID: "750xx000000001", Object: "Account", Operation: "insert", Kind: store.KindIngest, State: "JobComplete"},
		{ID: "750xx000000002", Object: "Contact", Operation: "update", Kind: store.KindIngest, State: "InProgress"},
	} {
		require.NoError(t, ledger.RecordJob(context.Background(), job))
	}
	require.NoError(t, ledger.Close())

	cmd := newJobListCommand(opts)
	cmd.SetArgs([]string{})
	cmd.SetOut(stdout)

	require.NoError(t, cmd.Execute())

	output := stdout.String()
	assert.Contains(t, output, "750xx000000001")
	assert.Contains(t, output, "Contact")
	assert.Contains(t, output, "2 job(s)")
}

func TestJobListCommand_Empty(t *testing.T) {
	opts, stdout := newTestOptions(t, nil)

	cmd := newJobListCommand(opts)
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, stdout.String(), "No bulk jobs found")
}

func TestJobListCommand_Remote(t *testing.T) {
	expected := bulk.JobsResponse{
		Done: true,
		Records: []bulk.JobInfo{
			{ID: "750xx000000001", Object: "Account", Operation: bulk.OperationInsert, State: bulk.StateJobComplete},
			{ID: "750xx000000002", Object: "Contact", Operation: bulk.OperationUpdate, State: bulk.StateInProgress},
		},
	}

	opts, stdout := newTestOptions(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, ingestBase, r.URL.Path)
		writeJSON(w, expected)
	})

	cmd := newJobListCommand(opts)
	cmd.SetArgs([]string{"--remote"})
	cmd.SetOut(stdout)

	require.NoError(t, cmd.Execute())

	output := stdout.String()
	assert.Contains(t, output, "750xx000000001")
	assert.Contains(t, output, "Account")
	assert.Contains(t, output, "2 job(s)")
}

func TestJobStatusCommand(t *testing.T) {
	expectedJob := bulk.JobInfo{
		ID:                     "750xx000000001",
		Object:                 "Account",
		Operation:              bulk.OperationInsert,
		State:                  bulk.StateJobComplete,
		NumberRecordsProcessed: 100,
		NumberRecordsFailed:    2,
	}

	opts, stdout := newTestOptions(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ingestBase+"/750xx000000001", r.URL.Path)
		writeJSON(w, expectedJob)
	})

	cmd := newJobStatusCommand(opts)
	cmd.SetArgs([]string{"750xx000000001"})
	cmd.SetOut(stdout)

	require.NoError(t, cmd.Execute())

	output := stdout.String()
	assert.Contains(t, output, "JobComplete")
	assert.Contains(t, output, "Records Processed: 100")
	assert.Contains(t, output, "Records Failed:    2")
	assert.Contains(t, output, "sfsync bulk job errors 750xx000000001")

	job := ledgerJob(t, opts, "750xx000000001")
	assert.Equal(t, 2, job.RecordsFailed)
}

func TestJobStatusCommand_Query(t *testing.T) {
	opts, stdout := newTestOptions(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/services/data/v62.0/jobs/query/750xx000000002", r.URL.Path)
		writeJSON(w, bulk.QueryJobInfo{ID: "750xx000000002", Operation: bulk.OperationQuery, State: bulk.StateInProgress})
	})
	opts.Output = "json"

	cmd := newJobStatusCommand(opts)
	cmd.SetArgs([]string{"750xx000000002", "--query"})

	require.NoError(t, cmd.Execute())

	var status bulk.JobStatus
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &status))
	assert.Equal(t, bulk.StateInProgress, status.State)
	assert.Equal(t, store.KindQuery, ledgerJob(t, opts, "750xx000000002").Kind)
}

func TestJobAbortCommand(t *testing.T) {
	opts, stdout := newTestOptions(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		var body bulk.UpdateJobRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, bulk.StateAborted, body.State)
		writeJSON(w, bulk.JobInfo{ID: "750xx000000001", Operation: bulk.OperationInsert, State: bulk.StateAborted})
	})

	cmd := newJobAbortCommand(opts)
	cmd.SetArgs([]string{"750xx000000001"})
	cmd.SetOut(stdout)

	require.NoError(t, cmd.Execute())

	assert.Contains(t, stdout.String(), "aborted")
	assert.Equal(t, "Aborted", ledgerJob(t, opts, "750xx000000001").State)
}

func TestJobDeleteCommand(t *testing.T) {
	opts, stdout := newTestOptions(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, queryBase+"/750xx000000002", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	ledger, err := opts.Ledger()
	require.NoError(t, err)
	require.NoError(t, ledger.RecordJob(context.Background(), store.Job{ID: "750xx000000002", Kind: store.KindQuery, Operation: "query", State: "JobComplete"}))
	require.NoError(t, ledger.Close())

	cmd := newJobDeleteCommand(opts)
	cmd.SetArgs([]string{"750xx000000002", "--query"})
	cmd.SetOut(stdout)

	require.NoError(t, cmd.Execute())
	assert.Contains(t, stdout.String(), "Job 750xx000000002 deleted")

	ledger, err = opts.Ledger()
	require.NoError(t, err)
	defer ledger.Close()
	_, err = ledger.GetJob(context.Background(), "750xx000000002")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func resultsServer(t *testing.T, state bulk.State) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case ingestBase + "/750xx000000001":
			writeJSON(w, bulk.JobInfo{ID: "750xx000000001", Operation: bulk.OperationInsert, Object: "Account", State: state})
		case ingestBase + "/750xx000000001/successfulResults/":
			_, _ = w.Write([]byte("sf__Id,sf__Created,Name\n001xx000001,true,Acme\n"))
		case ingestBase + "/750xx000000001/failedResults/":
			_, _ = w.Write([]byte("sf__Id,sf__Error,Name\n,REQUIRED_FIELD_MISSING,\n"))
		case ingestBase + "/750xx000000001/unprocessedrecords/":
			_, _ = w.Write([]byte("Name\n"))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}
}

func TestJobResultsCommand(t *testing.T) {
	opts, stdout := newTestOptions(t, resultsServer(t, bulk.StateJobComplete))

	cmd := newJobResultsCommand(opts)
	cmd.SetArgs([]string{"750xx000000001"})
	cmd.SetOut(stdout)

	require.NoError(t, cmd.Execute())

	assert.Equal(t, "sf__Id,sf__Created,Name\n001xx000001,true,Acme\n", stdout.String())
}

func TestJobResultsCommand_JSON(t *testing.T) {
	opts, stdout := newTestOptions(t, resultsServer(t, bulk.StateJobComplete))
	opts.Output = "json"

	cmd := newJobResultsCommand(opts)
	cmd.SetArgs([]string{"750xx000000001"})

	require.NoError(t, cmd.Execute())

	assert.JSONEq(t, `{
		"successful_records": [{"sf__Id":"001xx000001","sf__Created":"true","Name":"Acme"}],
		"failed_records": [{"sf__Id":null,"sf__Error":"REQUIRED_FIELD_MISSING","Name":null}],
		"unprocessed_records": []
	}`, stdout.String())
}

func TestJobResultsCommand_NotComplete(t *testing.T) {
	opts, _ := newTestOptions(t, resultsServer(t, bulk.StateInProgress))

	cmd := newJobResultsCommand(opts)
	cmd.SetArgs([]string{"750xx000000001"})

	err := cmd.Execute()
	require.ErrorIs(t, err, bulk.ErrJobNotComplete)
}

func TestJobErrorsCommand(t *testing.T) {
	opts, stdout := newTestOptions(t, resultsServer(t, bulk.StateJobComplete))

	cmd := newJobErrorsCommand(opts)
	cmd.SetArgs([]string{"750xx000000001"})
	cmd.SetOut(stdout)

	require.NoError(t, cmd.Execute())
	assert.Contains(t, stdout.String(), "REQUIRED_FIELD_MISSING")
}

func TestJobUnprocessedCommand(t *testing.T) {
	opts, stdout := newTestOptions(t, resultsServer(t, bulk.StateAborted))

	outFile := filepath.Join(t.TempDir(), "retry.csv")
	cmd := newJobUnprocessedCommand(opts)
	cmd.SetArgs([]string{"750xx000000001", "--output-file", outFile})
	cmd.SetOut(stdout)

	require.NoError(t, cmd.Execute())

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.Equal(t, "Name\n", string(data))
	assert.True(t, strings.HasPrefix(stdout.String(), "Records written to"))
}
