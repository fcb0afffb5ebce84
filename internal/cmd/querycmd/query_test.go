package querycmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-cli-collective/salesforce-sync/api"
	"github.com/open-cli-collective/salesforce-sync/api/record"
	"github.com/open-cli-collective/salesforce-sync/internal/cmd/root"
)

func newTestOptions(t *testing.T, output string, handler http.HandlerFunc) (*root.Options, *bytes.Buffer) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := api.New(api.ClientConfig{
		InstanceURL: server.URL,
		HTTPClient:  server.Client(),
	})
	require.NoError(t, err)

	stdout := &bytes.Buffer{}
	opts := &root.Options{
		Output: output,
		Stdout: stdout,
		Stderr: &bytes.Buffer{},
	}
	opts.SetAPIClient(client)
	return opts, stdout
}

func respond(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func TestQueryCommand(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantContains []string
	}{
		{
			name: "records keep column order",
			body: `{"totalSize":2,"done":true,"records":[
				{"attributes":{"type":"Account"},"Name":"Acme Corp","Id":"001xx000001"},
				{"attributes":{"type":"Account"},"Name":"Test Inc","Id":"001xx000002"}]}`,
			wantContains: []string{"Name", "001xx000001", "Acme Corp", "Test Inc", "2 record(s)"},
		},
		{
			name:         "no results",
			body:         `{"totalSize":0,"done":true,"records":[]}`,
			wantContains: []string{"No records found"},
		},
		{
			name: "pagination hint",
			body: `{"totalSize":1000,"done":false,"nextRecordsUrl":"/services/data/v62.0/query/01g-500",
				"records":[{"Id":"001xx000001"}]}`,
			wantContains: []string{"Showing 1 of 1000 records"},
		},
		{
			name:         "relationship shows name",
			body:         `{"totalSize":1,"done":true,"records":[{"Id":"003x","Account":{"attributes":{"type":"Account"},"Name":"Parent"}}]}`,
			wantContains: []string{"Parent"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, stdout := newTestOptions(t, "table", respond(tt.body))

			cmd := NewCommand(opts)
			cmd.SetArgs([]string{"SELECT Id, Name FROM Account"})
			require.NoError(t, cmd.Execute())

			for _, want := range tt.wantContains {
				assert.Contains(t, stdout.String(), want)
			}
		})
	}
}

func TestQueryCommand_TableHeaderOrder(t *testing.T) {
	opts, stdout := newTestOptions(t, "table", respond(`{"totalSize":1,"done":true,"records":[{"Name":"A","Id":"001"}]}`))

	cmd := NewCommand(opts)
	cmd.SetArgs([]string{"SELECT Name, Id FROM Account"})
	require.NoError(t, cmd.Execute())

	out := stdout.String()
	assert.Less(t, bytes.Index([]byte(out), []byte("Name")), bytes.Index([]byte(out), []byte("Id")))
}

func TestQueryCommand_JSONOutput(t *testing.T) {
	opts, stdout := newTestOptions(t, "json", respond(`{"totalSize":1,"done":true,"records":[{"attributes":{"type":"Account"},"Id":"001xx000001","Name":"Test"}]}`))

	cmd := NewCommand(opts)
	cmd.SetArgs([]string{"SELECT Id, Name FROM Account"})
	require.NoError(t, cmd.Execute())

	var result api.QueryResult
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &result))
	assert.Equal(t, 1, result.TotalSize)
	require.Len(t, result.Records, 1)
	assert.Equal(t, []string{"Id", "Name"}, result.Records[0].Keys())
}

func TestQueryCommand_AllFlag(t *testing.T) {
	var path string
	opts, stdout := newTestOptions(t, "table", func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		respond(`{"totalSize":1,"done":true,"records":[{"attributes":{"type":"Account"},"Id":"001xx000001","IsDeleted":true}]}`)(w, r)
	})

	cmd := NewCommand(opts)
	cmd.SetArgs([]string{"SELECT Id, IsDeleted FROM Account", "--all"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, path, "/queryAll")
	assert.NotContains(t, stdout.String(), "attributes")
	assert.Contains(t, stdout.String(), "true")
}

func TestQueryCommand_NoLimitFollowsPages(t *testing.T) {
	opts, stdout := newTestOptions(t, "table", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/services/data/v62.0/query/01g-2" {
			respond(`{"totalSize":2,"done":true,"records":[{"Id":"002"}]}`)(w, r)
			return
		}
		respond(`{"totalSize":2,"done":false,"nextRecordsUrl":"/services/data/v62.0/query/01g-2","records":[{"Id":"001"}]}`)(w, r)
	})

	cmd := NewCommand(opts)
	cmd.SetArgs([]string{"SELECT Id FROM Account", "--no-limit"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, stdout.String(), "001")
	assert.Contains(t, stdout.String(), "002")
	assert.NotContains(t, stdout.String(), "Showing")
}

func TestQueryCommand_OutputFile(t *testing.T) {
	opts, stdout := newTestOptions(t, "table", respond(`{"totalSize":2,"done":true,"records":[
		{"attributes":{"type":"Account"},"Name":"Acme, Inc.","Id":"001"},
		{"attributes":{"type":"Account"},"Name":"Beta","Id":"002"}]}`))

	path := filepath.Join(t.TempDir(), "accounts.csv")
	cmd := NewCommand(opts)
	cmd.SetArgs([]string{"SELECT Name, Id FROM Account", "--output-file", path})
	require.NoError(t, cmd.Execute())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Name,Id\n\"Acme, Inc.\",001\nBeta,002\n", string(data))
	assert.Contains(t, stdout.String(), "Wrote 2 record(s)")
}

func TestQueryCommand_OutputFileBadExtension(t *testing.T) {
	opts, _ := newTestOptions(t, "table", func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	cmd := NewCommand(opts)
	cmd.SetArgs([]string{"SELECT Id FROM Account", "--output-file", "out.txt"})
	err := cmd.Execute()
	assert.ErrorIs(t, err, record.ErrUnsupportedFormat)
}
