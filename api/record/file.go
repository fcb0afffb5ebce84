package record

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Format identifies a record file encoding.
type Format string

// Supported file formats
const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXML  Format = "xml"
)

// ErrUnsupportedFormat is returned for file extensions other than csv, json and xml.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	return ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
}

// ParseFormat parses a format name case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatXML:
		return FormatXML, nil
	default:
		return "", fmt.Errorf("%w: %q (expected csv, json or xml)", ErrUnsupportedFormat, s)
	}
}

// ReadFile loads records from path, choosing the decoder by extension.
func ReadFile(path string) ([]Record, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	recs, err := Read(f, format)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return recs, nil
}

// Read decodes records from r in the given format.
func Read(r io.Reader, format Format) ([]Record, error) {
	switch format {
	case FormatCSV:
		return ReadCSV(r)
	case FormatJSON:
		return ReadJSON(r)
	case FormatXML:
		return ReadXML(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// ReadCSV decodes UTF-8 CSV, falling back to latin-1 when the input is not
// valid UTF-8.
func ReadCSV(r io.Reader) ([]Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	if !utf8.Valid(data) {
		data, err = charmap.ISO8859_1.NewDecoder().Bytes(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode latin-1 input: %w", err)
		}
	}

	return DecodeCSV(bytes.NewReader(data))
}

// ReadJSON accepts either an array of objects or an object with a "records"
// array.
func ReadJSON(r io.Reader) ([]Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	switch trimmed[0] {
	case '[':
		var recs []Record
		if err := json.Unmarshal(trimmed, &recs); err != nil {
			return nil, fmt.Errorf("invalid JSON records: %w", err)
		}
		return recs, nil
	case '{':
		var wrapper struct {
			Records *[]Record `json:"records"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, fmt.Errorf("invalid JSON records: %w", err)
		}
		if wrapper.Records == nil {
			return nil, errors.New(`JSON object must contain a "records" array`)
		}
		return *wrapper.Records, nil
	default:
		return nil, errors.New("JSON input must be an array or an object with a records array")
	}
}

// ReadXML collects every <record> element regardless of depth. Each child
// element becomes a field named after its tag; empty text becomes nil.
func ReadXML(r io.Reader) ([]Record, error) {
	dec := xml.NewDecoder(r)

	var recs []Record
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid XML: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "record" {
			continue
		}

		rec, err := readXMLRecord(dec)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	return recs, nil
}

func readXMLRecord(dec *xml.Decoder) (Record, error) {
	var rec Record
	for {
		tok, err := dec.Token()
		if err != nil {
			return Record{}, fmt.Errorf("invalid XML record: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			var child struct {
				Text string `xml:",chardata"`
			}
			if err := dec.DecodeElement(&child, &t); err != nil {
				return Record{}, fmt.Errorf("invalid XML field %s: %w", t.Name.Local, err)
			}
			var v any
			if text := strings.TrimSpace(child.Text); text != "" {
				v = text
			}
			rec.Set(t.Name.Local, v)
		case xml.EndElement:
			return rec, nil
		}
	}
}

// WriteFile writes recs to path, choosing the encoder by extension.
func WriteFile(path string, recs []Record, fieldOrder []string) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	if err := Write(f, format, recs, fieldOrder); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// Write encodes recs to w in the given format. fieldOrder only applies to CSV.
func Write(w io.Writer, format Format, recs []Record, fieldOrder []string) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, recs, fieldOrder)
	case FormatJSON:
		return WriteJSON(w, recs)
	case FormatXML:
		return WriteXML(w, recs)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// WriteJSON writes recs as an indented JSON array.
func WriteJSON(w io.Writer, recs []Record) error {
	if recs == nil {
		recs = []Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(recs)
}

// WriteXML writes recs as <records><record><Field>value</Field>...</record></records>.
func WriteXML(w io.Writer, recs []Record) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}

	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")

	root := xml.StartElement{Name: xml.Name{Local: "records"}}
	if err := enc.EncodeToken(root); err != nil {
		return err
	}

	for _, rec := range recs {
		start := xml.StartElement{Name: xml.Name{Local: "record"}}
		if err := enc.EncodeToken(start); err != nil {
			return err
		}
		for _, f := range rec.fields {
			if err := enc.EncodeElement(FormatValue(f.Value), xml.StartElement{Name: xml.Name{Local: f.Name}}); err != nil {
				return fmt.Errorf("failed to encode field %s: %w", f.Name, err)
			}
		}
		if err := enc.EncodeToken(start.End()); err != nil {
			return err
		}
	}

	if err := enc.EncodeToken(root.End()); err != nil {
		return err
	}
	if err := enc.Flush(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
