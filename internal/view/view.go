// Package view renders command output as tables, JSON or plain rows.
package view

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/open-cli-collective/salesforce-sync/api/record"
)

// Format represents an output format.
type Format string

// Output format constants.
const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatPlain Format = "plain"
)

// ValidFormats returns the list of valid output formats.
func ValidFormats() []string {
	return []string{string(FormatTable), string(FormatJSON), string(FormatPlain)}
}

// ValidateFormat checks a --output value. Empty means table.
func ValidateFormat(format string) error {
	switch Format(format) {
	case "", FormatTable, FormatJSON, FormatPlain:
		return nil
	default:
		return fmt.Errorf("invalid output format: %q (valid formats: %s)", format, strings.Join(ValidFormats(), ", "))
	}
}

// View handles output formatting.
type View struct {
	Format  Format
	NoColor bool
	Out     io.Writer
	Err     io.Writer
}

// New creates a View writing to stdout and stderr. noColor also turns off
// color globally.
func New(format Format, noColor bool) *View {
	if noColor {
		color.NoColor = true
	}

	return &View{
		Format:  format,
		NoColor: noColor,
		Out:     os.Stdout,
		Err:     os.Stderr,
	}
}

// NewWithFormat is New for a raw --output value.
func NewWithFormat(format string, noColor bool) *View {
	return New(Format(format), noColor)
}

// Table renders aligned columns. JSON output becomes an array of objects
// keyed by lowercased header; plain output drops the header.
func (v *View) Table(headers []string, rows [][]string) error {
	switch v.Format {
	case FormatJSON:
		return v.tableAsJSON(headers, rows)
	case FormatPlain:
		return v.plain(rows)
	}

	w := tabwriter.NewWriter(v.Out, 0, 0, 2, ' ', 0)

	headerLine := strings.Join(headers, "\t")
	if v.NoColor {
		_, _ = fmt.Fprintln(w, headerLine)
	} else {
		_, _ = fmt.Fprintln(w, color.New(color.Bold).Sprint(headerLine))
	}

	for _, row := range rows {
		_, _ = fmt.Fprintln(w, strings.Join(row, "\t"))
	}

	return w.Flush()
}

func (v *View) tableAsJSON(headers []string, rows [][]string) error {
	results := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		item := make(map[string]string, len(headers))
		for i, header := range headers {
			if i < len(row) {
				item[strings.ToLower(header)] = row[i]
			}
		}
		results = append(results, item)
	}
	return v.JSON(results)
}

func (v *View) plain(rows [][]string) error {
	for _, row := range rows {
		_, _ = fmt.Fprintln(v.Out, strings.Join(row, "\t"))
	}
	return nil
}

// JSON renders data as indented JSON.
func (v *View) JSON(data any) error {
	enc := json.NewEncoder(v.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// Records renders recs with one column per field, in first-seen order
// across all records. JSON output keeps each record's own field order.
func (v *View) Records(recs []record.Record) error {
	if v.Format == FormatJSON {
		if recs == nil {
			recs = []record.Record{}
		}
		return v.JSON(recs)
	}

	headers := Columns(recs)
	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		row := make([]string, len(headers))
		for i, h := range headers {
			val, _ := rec.Get(h)
			row[i] = Cell(val)
		}
		rows = append(rows, row)
	}
	return v.Table(headers, rows)
}

// Columns returns the union of field names across recs in first-seen order.
func Columns(recs []record.Record) []string {
	var cols []string
	seen := make(map[string]bool)
	for _, rec := range recs {
		for _, k := range rec.Keys() {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	return cols
}

// Cell renders one field value. A relationship shows its Name.
func Cell(val any) string {
	if nested, ok := val.(record.Record); ok {
		if name, ok := nested.Get("Name"); ok {
			return record.FormatValue(name)
		}
		return "[object]"
	}
	return record.FormatValue(val)
}

// State colors a bulk job state: green when complete, red when failed or
// aborted, yellow while the job is still moving.
func (v *View) State(state string) string {
	if v.NoColor {
		return state
	}
	switch state {
	case "JobComplete":
		return color.GreenString("%s", state)
	case "Failed", "Aborted":
		return color.RedString("%s", state)
	case "Open", "UploadComplete", "InProgress":
		return color.YellowString("%s", state)
	default:
		return state
	}
}

// Success prints a success message with a green checkmark.
func (v *View) Success(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if v.NoColor {
		_, _ = fmt.Fprintln(v.Out, "✓ "+msg)
	} else {
		_, _ = fmt.Fprintln(v.Out, color.GreenString("✓ %s", msg))
	}
}

// Warning prints a warning message to stderr.
func (v *View) Warning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if v.NoColor {
		_, _ = fmt.Fprintln(v.Err, "⚠ "+msg)
	} else {
		_, _ = fmt.Fprintln(v.Err, color.YellowString("⚠ %s", msg))
	}
}

// Info prints a line to stdout.
func (v *View) Info(format string, args ...any) {
	_, _ = fmt.Fprintln(v.Out, fmt.Sprintf(format, args...))
}

// Print prints without a trailing newline, for prompts.
func (v *View) Print(format string, args ...any) {
	_, _ = fmt.Fprintf(v.Out, format, args...)
}
