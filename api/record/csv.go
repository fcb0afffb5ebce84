package record

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

const utf8BOM = "\ufeff"

// Header returns the CSV column order for recs: fieldOrder when given,
// otherwise the keys of the first record.
func Header(recs []Record, fieldOrder []string) []string {
	if len(fieldOrder) > 0 {
		return fieldOrder
	}
	if len(recs) == 0 {
		return nil
	}
	return recs[0].Keys()
}

// EncodeCSV serializes recs to a comma-delimited, LF-terminated CSV string.
// Cells are quoted only when needed, nil values become empty cells, keys not
// in the header are dropped and missing keys become empty cells.
func EncodeCSV(recs []Record, fieldOrder []string) (string, error) {
	var buf strings.Builder
	if err := WriteCSV(&buf, recs, fieldOrder); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// WriteCSV streams recs to w using the same rules as EncodeCSV.
func WriteCSV(w io.Writer, recs []Record, fieldOrder []string) error {
	header := Header(recs, fieldOrder)
	if len(header) == 0 {
		return nil
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	row := make([]string, len(header))
	for i, rec := range recs {
		for j, name := range header {
			v, _ := rec.Get(name)
			row[j] = FormatValue(v)
		}
		if len(row) == 1 && row[0] == "" {
			// csv.Writer emits a blank line here, which readers skip.
			cw.Flush()
			if err := cw.Error(); err != nil {
				return fmt.Errorf("failed to write CSV row %d: %w", i+1, err)
			}
			if _, err := io.WriteString(w, "\"\"\n"); err != nil {
				return fmt.Errorf("failed to write CSV row %d: %w", i+1, err)
			}
			continue
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row %d: %w", i+1, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ParseCSV parses CSV text into records keyed by the header row.
func ParseCSV(s string) ([]Record, error) {
	return DecodeCSV(strings.NewReader(s))
}

// DecodeCSV reads CSV from r into records keyed by the header row. Empty
// cells become nil. Short rows are padded with nil and long rows truncated.
func DecodeCSV(r io.Reader) ([]Record, error) {
	br := bufio.NewReader(r)
	if prefix, err := br.Peek(len(utf8BOM)); err == nil && string(prefix) == utf8BOM {
		_, _ = br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	var recs []Record
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row %d: %w", len(recs)+1, err)
		}

		rec := Record{fields: make([]Field, 0, len(header))}
		for i, name := range header {
			var v any
			if i < len(row) && row[i] != "" {
				v = row[i]
			}
			rec.Set(name, v)
		}
		recs = append(recs, rec)
	}

	return recs, nil
}

// CountLines returns the number of lines in a CSV payload after
// trimming surrounding whitespace.
func CountLines(payload string) int {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return 0
	}
	return strings.Count(payload, "\n") + 1
}
