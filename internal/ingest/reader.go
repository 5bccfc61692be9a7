package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/nlsql/nlsql/internal/errors"
)

// Format is a supported data file type.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatXLSX  Format = "xlsx"
)

// Flattening delimiters for nested JSON: {"user": {"name": "x"}} becomes
// user__name and {"tags": ["a"]} becomes tags_0.
const (
	NestedFieldDelimiter = "__"
	ArrayIndexDelimiter  = "_"
)

// DetectFormat picks the format from the file extension.
func DetectFormat(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	case ".jsonl", ".ndjson":
		return FormatJSONL, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", errors.E(errors.Op("ingest.DetectFormat"), errors.KindValidation,
			"unsupported file type; use .csv, .json, .jsonl or .xlsx")
	}
}

// table is parsed file content. A nil cell is NULL.
type table struct {
	headers []string
	rows    [][]*string
}

func parse(format Format, data []byte) (*table, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	switch format {
	case FormatCSV:
		return parseCSV(data)
	case FormatJSON:
		return parseJSON(data)
	case FormatJSONL:
		return parseJSONL(data)
	case FormatXLSX:
		return parseXLSX(data)
	default:
		return nil, errors.E(errors.Op("ingest.parse"), errors.KindValidation, "unsupported format "+string(format))
	}
}

func parseCSV(data []byte) (*table, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, errors.E(errors.Op("ingest.parseCSV"), errors.KindParse, err, "invalid CSV")
	}
	return fromRecords(records), nil
}

func parseXLSX(data []byte) (*table, error) {
	const op errors.Op = "ingest.parseXLSX"

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.E(op, errors.KindParse, err, "failed to open excel file")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.E(op, errors.KindValidation, "no sheets found in excel file")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errors.E(op, errors.KindParse, err, "failed to read sheet "+sheets[0])
	}
	return fromRecords(rows), nil
}

// fromRecords treats the first record as the header row. Short rows are
// padded with NULL and blank rows dropped.
func fromRecords(records [][]string) *table {
	t := &table{}
	if len(records) == 0 {
		return t
	}
	t.headers = records[0]
	for _, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		row := make([]*string, len(t.headers))
		for i := range row {
			if i < len(rec) && rec[i] != "" {
				v := rec[i]
				row[i] = &v
			}
		}
		t.rows = append(t.rows, row)
	}
	return t
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func parseJSON(data []byte) (*table, error) {
	const op errors.Op = "ingest.parseJSON"

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, errors.E(op, errors.KindParse, err, "invalid JSON")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.E(op, errors.KindParse, "unexpected data after JSON array")
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, errors.E(op, errors.KindValidation, "JSON must be an array of objects")
	}

	b := newBuilder()
	for i, item := range arr {
		obj, ok := item.(*object)
		if !ok {
			return nil, errors.E(op, errors.KindValidation, "JSON array element "+strconv.Itoa(i)+" is not an object")
		}
		b.add(obj)
	}
	return b.table(), nil
}

func parseJSONL(data []byte) (*table, error) {
	const op errors.Op = "ingest.parseJSONL"

	b := newBuilder()
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), len(data)+1)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(text))
		dec.UseNumber()
		v, err := decodeValue(dec)
		if err != nil {
			return nil, errors.E(op, errors.KindParse, err, "invalid JSON on line "+strconv.Itoa(line))
		}
		obj, ok := v.(*object)
		if !ok {
			return nil, errors.E(op, errors.KindValidation, "line "+strconv.Itoa(line)+" is not a JSON object")
		}
		b.add(obj)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.E(op, errors.KindParse, err)
	}
	return b.table(), nil
}

// object is a JSON object that remembers key order.
type object struct {
	keys []string
	vals map[string]any
}

// decodeValue reads one JSON value, keeping object key order.
func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}

	switch delim {
	case '{':
		obj := &object{vals: map[string]any{}}
		for dec.More() {
			kt, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, _ := kt.(string)
			v, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			if _, dup := obj.vals[key]; !dup {
				obj.keys = append(obj.keys, key)
			}
			obj.vals[key] = v
		}
		_, err := dec.Token()
		return obj, err
	case '[':
		arr := []any{}
		for dec.More() {
			v, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		_, err := dec.Token()
		return arr, err
	default:
		return nil, errors.New("unexpected delimiter " + delim.String())
	}
}

// builder collects flattened records, ordering columns by first appearance.
type builder struct {
	index   map[string]int
	headers []string
	records []map[string]*string
}

func newBuilder() *builder {
	return &builder{index: map[string]int{}}
}

func (b *builder) add(obj *object) {
	rec := map[string]*string{}
	b.flatten("", obj, rec)
	b.records = append(b.records, rec)
}

func (b *builder) set(rec map[string]*string, key string, v *string) {
	if _, ok := b.index[key]; !ok {
		b.index[key] = len(b.headers)
		b.headers = append(b.headers, key)
	}
	rec[key] = v
}

func (b *builder) flatten(prefix string, v any, rec map[string]*string) {
	switch x := v.(type) {
	case *object:
		for _, k := range x.keys {
			key := k
			if prefix != "" {
				key = prefix + NestedFieldDelimiter + k
			}
			b.flatten(key, x.vals[k], rec)
		}
	case []any:
		for i, e := range x {
			b.flatten(prefix+ArrayIndexDelimiter+strconv.Itoa(i), e, rec)
		}
	case nil:
		b.set(rec, prefix, nil)
	case string:
		if x == "" {
			b.set(rec, prefix, nil)
			return
		}
		b.set(rec, prefix, &x)
	case json.Number:
		s := x.String()
		b.set(rec, prefix, &s)
	case bool:
		s := "0"
		if x {
			s = "1"
		}
		b.set(rec, prefix, &s)
	}
}

func (b *builder) table() *table {
	t := &table{headers: b.headers}
	for _, rec := range b.records {
		row := make([]*string, len(b.headers))
		for k, v := range rec {
			row[b.index[k]] = v
		}
		t.rows = append(t.rows, row)
	}
	return t
}
