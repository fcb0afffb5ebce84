package records

import (
	"io"
	"strconv"
	"time"

	"github.com/open-cli-collective/salesforce-sync/api/record"
)

// Columns appended to every failure report row.
var reportColumns = []string{"error_message", "error_code", "retry_count", "timestamp"}

// FailureReportName returns the conventional file name for a report written
// at t, e.g. failed_records_20260102_150405.csv.
func FailureReportName(t time.Time) string {
	return "failed_records_" + t.Format("20060102_150405") + ".csv"
}

// WriteFailureReport writes failures as CSV: the union of the original
// record fields in first-seen order, then the error columns.
func WriteFailureReport(w io.Writer, failures []FailedRecord) error {
	if len(failures) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var header []string
	for _, f := range failures {
		for _, k := range f.Record.Keys() {
			if !seen[k] {
				seen[k] = true
				header = append(header, k)
			}
		}
	}
	for _, c := range reportColumns {
		if !seen[c] {
			header = append(header, c)
		}
	}

	rows := make([]record.Record, 0, len(failures))
	for _, f := range failures {
		row := f.Record.Clone()
		row.Set("error_message", f.ErrorMessage)
		row.Set("error_code", f.ErrorCode)
		row.Set("retry_count", strconv.Itoa(f.RetryCount))
		row.Set("timestamp", f.Timestamp.Format(time.RFC3339))
		rows = append(rows, row)
	}

	return record.WriteCSV(w, rows, header)
}
