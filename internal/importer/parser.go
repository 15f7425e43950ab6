package importer

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"ppmcore/internal/apperr"
	"ppmcore/internal/types"
)

// Format enumerates accepted upload formats.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
)

// ParseFile reads an upload incrementally and returns canonical rows. The
// reader is capped at maxBytes; exceeding the cap is a validation error.
// mapping may be nil, in which case headers are matched by synonym.
func ParseFile(r io.Reader, format Format, importType types.ImportType, mapping map[string]string, maxBytes int64) ([]RawRow, error) {
	limited := &cappedReader{r: r, remaining: maxBytes}

	switch format {
	case FormatCSV:
		return parseCSV(limited, importType, mapping)
	case FormatJSON:
		return parseJSON(limited, mapping)
	case FormatJSONL:
		return parseJSONL(limited, mapping)
	default:
		return nil, apperr.Validation("format", fmt.Sprintf("unsupported format %q (expected csv, json or jsonl)", format))
	}
}

// cappedReader errors once maxBytes have been consumed.
type cappedReader struct {
	r         io.Reader
	remaining int64
}

var errFileTooLarge = apperr.Validation("file", "file exceeds the size limit")

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.remaining <= 0 {
		return 0, errFileTooLarge
	}
	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	return n, err
}

func parseCSV(r io.Reader, importType types.ImportType, mapping map[string]string) ([]RawRow, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	headers, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Validation("file", fmt.Sprintf("failed to read CSV header: %v", err))
	}
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
	}
	if mapping == nil {
		mapping = SuggestMappings(headers, importType)
	}

	var rows []RawRow
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return rows, apperr.ValidationRow(len(rows)+1, "file", fmt.Sprintf("malformed CSV row: %v", err))
		}
		src := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(record) {
				src[h] = strings.TrimSpace(record[i])
			}
		}
		rows = append(rows, applyMapping(src, mapping))
	}
	return rows, nil
}

func parseJSON(r io.Reader, mapping map[string]string) ([]RawRow, error) {
	dec := json.NewDecoder(r)

	// Expect a top-level array; decode element-wise to keep memory bounded.
	tok, err := dec.Token()
	if err != nil {
		return nil, apperr.Validation("file", fmt.Sprintf("failed to read JSON: %v", err))
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, apperr.Validation("file", "expected a JSON array of row objects")
	}

	var rows []RawRow
	for dec.More() {
		var obj map[string]interface{}
		if err := dec.Decode(&obj); err != nil {
			return rows, apperr.ValidationRow(len(rows)+1, "file", fmt.Sprintf("malformed JSON row: %v", err))
		}
		rows = append(rows, rowFromObject(obj, mapping))
	}
	return rows, nil
}

func parseJSONL(r io.Reader, mapping map[string]string) ([]RawRow, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var rows []RawRow
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(text), &obj); err != nil {
			return rows, apperr.ValidationRow(line, "file", fmt.Sprintf("malformed JSONL row: %v", err))
		}
		rows = append(rows, rowFromObject(obj, mapping))
	}
	if err := scanner.Err(); err != nil {
		return rows, apperr.Validation("file", fmt.Sprintf("failed to read JSONL: %v", err))
	}
	return rows, nil
}

func rowFromObject(obj map[string]interface{}, mapping map[string]string) RawRow {
	src := make(map[string]string, len(obj))
	for k, v := range obj {
		src[k] = stringifyValue(v)
	}
	if mapping == nil {
		// JSON rows are assumed to carry canonical keys already.
		return applyMapping(src, nil)
	}
	return applyMapping(src, mapping)
}

func stringifyValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		// Preserve integer-looking numbers without an exponent.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case bool:
		return fmt.Sprintf("%t", t)
	default:
		data, _ := json.Marshal(t)
		return string(data)
	}
}
