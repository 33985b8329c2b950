package services

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/processlens/backend/internal/domain"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"gopkg.in/yaml.v3"
)

const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DetectFormat picks a parser from the file extension, falling back to the content type.
func DetectFormat(filename, contentType string) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".tsv", ".txt":
		return FormatCSV, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}

	ct := strings.ToLower(contentType)
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "text/csv", "text/plain", "application/csv", "text/tab-separated-values":
		return FormatCSV, nil
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return FormatXLSX, nil
	case "application/json":
		return FormatJSON, nil
	case "application/yaml", "application/x-yaml", "text/yaml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
}

// ParseDataset decodes an upload into a rectangular dataset.
func ParseDataset(filename, contentType string, data []byte) (*domain.Dataset, error) {
	if len(data) == 0 {
		return nil, ErrEmptyUpload
	}
	format, err := DetectFormat(filename, contentType)
	if err != nil {
		return nil, err
	}

	var header []string
	var rows [][]string
	switch format {
	case FormatCSV:
		header, rows, err = parseCSV(data)
	case FormatXLSX:
		header, rows, err = parseXLSX(data)
	case FormatJSON:
		header, rows, err = parseJSON(data)
	case FormatYAML:
		header, rows, err = parseYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", format, err)
	}

	ds := normalise(header, rows)
	ds.Format = format
	if len(ds.Rows) == 0 {
		return nil, ErrEmptyDataset
	}
	return ds, nil
}

// decodeText returns data as UTF-8, treating anything that is not valid UTF-8 as Latin-1.
func decodeText(data []byte) ([]byte, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return data, nil
	}
	return charmap.ISO8859_1.NewDecoder().Bytes(data)
}

func sniffDelimiter(text []byte) rune {
	line := text
	if i := bytes.IndexByte(text, '\n'); i >= 0 {
		line = text[:i]
	}
	best, bestCount := ',', 0
	for _, d := range []rune{',', ';', '\t', '|'} {
		if n := bytes.Count(line, []byte(string(d))); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func parseCSV(data []byte) ([]string, [][]string, error) {
	text, err := decodeText(data)
	if err != nil {
		return nil, nil, err
	}

	r := csv.NewReader(bytes.NewReader(text))
	r.Comma = sniffDelimiter(text)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var header []string
	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		if header == nil {
			header = rec
			continue
		}
		rows = append(rows, rec)
	}
	if header == nil {
		return nil, nil, ErrEmptyDataset
	}
	return header, rows, nil
}

func parseXLSX(data []byte) ([]string, [][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, ErrEmptyDataset
	}
	all, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, err
	}
	if len(all) == 0 {
		return nil, nil, ErrEmptyDataset
	}
	return all[0], all[1:], nil
}

// parseJSON accepts an array of flat objects. Columns are the union of keys, sorted.
func parseJSON(data []byte) ([]string, [][]string, error) {
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	dec.UseNumber()

	var records []map[string]any
	if err := dec.Decode(&records); err != nil {
		return nil, nil, fmt.Errorf("expected an array of objects: %w", err)
	}
	header, rows := tabulate(records)
	return header, rows, nil
}

// parseYAML accepts a sequence of mappings, the YAML equivalent of parseJSON.
func parseYAML(data []byte) ([]string, [][]string, error) {
	var records []map[string]any
	if err := yaml.Unmarshal(bytes.TrimPrefix(data, utf8BOM), &records); err != nil {
		return nil, nil, fmt.Errorf("expected a sequence of mappings: %w", err)
	}
	header, rows := tabulate(records)
	return header, rows, nil
}

func tabulate(records []map[string]any) ([]string, [][]string) {
	seen := make(map[string]struct{})
	var header []string
	for _, rec := range records {
		for k := range rec {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				header = append(header, k)
			}
		}
	}
	sort.Strings(header)

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		row := make([]string, len(header))
		for i, k := range header {
			row[i] = cell(rec[k])
		}
		rows = append(rows, row)
	}
	return header, rows
}

func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// normalise names blank or duplicate headers, pads or truncates rows to the
// header width and drops rows with no content.
func normalise(header []string, rows [][]string) *domain.Dataset {
	cols := make([]string, len(header))
	taken := make(map[string]bool, len(header))
	suffix := make(map[string]int)
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		if taken[name] {
			base := name
			n := suffix[base]
			if n < 2 {
				n = 2
			}
			for taken[fmt.Sprintf("%s_%d", base, n)] {
				n++
			}
			name = fmt.Sprintf("%s_%d", base, n)
			suffix[base] = n + 1
		}
		taken[name] = true
		cols[i] = name
	}

	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		cells := make([]string, len(cols))
		empty := true
		for i := range cols {
			if i < len(row) {
				cells[i] = strings.TrimSpace(row[i])
				if cells[i] != "" {
					empty = false
				}
			}
		}
		if !empty {
			out = append(out, cells)
		}
	}
	return &domain.Dataset{Columns: cols, Rows: out}
}
