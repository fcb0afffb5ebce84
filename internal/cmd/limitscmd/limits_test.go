package limitscmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-cli-collective/salesforce-sync/api"
	"github.com/open-cli-collective/salesforce-sync/internal/cmd/root"
)

var orgLimits = api.Limits{
	"DataStorageMB":        {Max: 1000, Remaining: 20},
	"DailyApiRequests":     {Max: 100000, Remaining: 99500},
	"DailyBulkV2QueryJobs": {Max: 10000, Remaining: 9990},
	"HourlyODataCallout":   {Max: 20000, Remaining: 20000},
}

func newTestOptions(t *testing.T, output string) (*root.Options, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/limits")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(orgLimits)
	}))
	t.Cleanup(server.Close)

	client, err := api.New(api.ClientConfig{
		InstanceURL: server.URL,
		HTTPClient:  server.Client(),
	})
	require.NoError(t, err)

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	opts := &root.Options{
		Output:  output,
		NoColor: true,
		Stdout:  stdout,
		Stderr:  stderr,
	}
	opts.SetAPIClient(client)
	return opts, stdout, stderr
}

func TestLimitsCommand(t *testing.T) {
	opts, stdout, stderr := newTestOptions(t, "table")

	cmd := NewCommand(opts)
	cmd.SetArgs(nil)
	require.NoError(t, cmd.Execute())

	output := stdout.String()
	assert.Contains(t, output, "DailyApiRequests")
	assert.Contains(t, output, "99500")
	assert.Contains(t, output, "DataStorageMB")
	assert.Contains(t, output, "98.0%")
	assert.NotContains(t, output, "HourlyODataCallout")
	assert.Contains(t, stderr.String(), "Data storage is nearly full (20 MB left)")
}

func TestLimitsCommand_All(t *testing.T) {
	opts, stdout, _ := newTestOptions(t, "json")

	cmd := NewCommand(opts)
	cmd.SetArgs([]string{"--all"})
	require.NoError(t, cmd.Execute())

	var got api.Limits
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &got))
	assert.Len(t, got, len(orgLimits))
}

func TestLimitsCommand_ShowSpecific(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		show    string
		want    []string
		wantErr string
	}{
		{name: "table", output: "table", show: "DailyApiRequests", want: []string{"Max:       100000", "Remaining: 99500", "Used:      500 (0.5%)"}},
		{name: "json", output: "json", show: "DataStorageMB", want: []string{`"used": 980`, `"name": "DataStorageMB"`}},
		{name: "unknown", output: "table", show: "NoSuchLimit", wantErr: `limit "NoSuchLimit" not found`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, stdout, _ := newTestOptions(t, tt.output)

			cmd := NewCommand(opts)
			cmd.SetArgs([]string{"--show", tt.show})
			err := cmd.Execute()

			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			for _, want := range tt.want {
				assert.Contains(t, stdout.String(), want)
			}
		})
	}
}

func TestSelectLimits(t *testing.T) {
	got := selectLimits(orgLimits, []string{"DataStorageMB", "Missing"})
	assert.Equal(t, api.Limits{"DataStorageMB": {Max: 1000, Remaining: 20}}, got)
}
