// Package ingest turns uploaded data files into SQLite tables. Every name
// it derives is validated and every statement goes through the executor.
package ingest

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nlsql/nlsql/internal/database"
	"github.com/nlsql/nlsql/internal/errors"
	"github.com/nlsql/nlsql/internal/metrics"
)

// maxBoundParams keeps multi-row INSERTs under SQLite's historical
// SQLITE_MAX_VARIABLE_NUMBER.
const maxBoundParams = 999

// Options bounds an upload.
type Options struct {
	MaxFileSize int64
	SampleRows  int
	BatchSize   int
	// Reserved names tables the application owns; uploads may not replace them.
	Reserved []string
}

// Result describes a loaded table.
type Result struct {
	TableName  string                      `json:"table_name"`
	Schema     map[string]string           `json:"table_schema"`
	Columns    []string                    `json:"columns"`
	RowCount   int                         `json:"row_count"`
	SampleData []map[string]database.Value `json:"sample_data"`
}

// Loader creates tables from data files.
type Loader struct {
	x    *database.Executor
	opts Options
	log  zerolog.Logger
}

// NewLoader returns a loader writing through x.
func NewLoader(x *database.Executor, opts Options, log zerolog.Logger) *Loader {
	if opts.SampleRows < 0 {
		opts.SampleRows = 0
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	return &Loader{x: x, opts: opts, log: log.With().Str("component", "ingest").Logger()}
}

// Load reads a data file and replaces the table named after it.
func (l *Loader) Load(ctx context.Context, filename string, r io.Reader) (res *Result, err error) {
	const op errors.Op = "ingest.Load"
	defer func() {
		status, rows := "ok", 0
		if err != nil {
			status = "error"
		} else {
			rows = res.RowCount
		}
		metrics.RecordUpload("data", status, rows)
	}()

	format, err := DetectFormat(filename)
	if err != nil {
		return nil, err
	}
	data, err := readLimited(r, l.opts.MaxFileSize)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	if len(data) == 0 {
		return nil, errors.E(op, errors.KindValidation, "file is empty")
	}

	t, err := parse(format, data)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	if len(t.headers) == 0 {
		return nil, errors.E(op, errors.KindValidation, "file has no columns")
	}
	if len(t.rows) == 0 {
		return nil, errors.E(op, errors.KindValidation, "file contains no data rows")
	}

	table, err := database.ValidateIdentifier(SanitizeTableName(filename), database.TableIdent)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	if l.reserved(table.String()) {
		return nil, errors.E(op, errors.KindConflict,
			fmt.Sprintf("table %s is used internally; rename the file", table))
	}
	names := SanitizeColumnNames(t.headers)
	cols := make([]database.Identifier, len(names))
	for i, n := range names {
		if cols[i], err = database.ValidateIdentifier(n, database.ColumnIdent); err != nil {
			return nil, errors.Wrap(op, err)
		}
	}
	types := inferTypes(t)

	if err := l.x.InTx(ctx, func(tx *database.Tx) error {
		return l.replaceTable(ctx, tx, table, cols, types, t.rows)
	}); err != nil {
		return nil, errors.WrapMsg(op, "failed to load "+table.String(), err)
	}

	res, err = l.describe(ctx, table, names)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	l.log.Info().
		Str("file", filename).
		Str("table", table.String()).
		Int("columns", len(names)).
		Int("rows", res.RowCount).
		Msg("data file loaded")
	return res, nil
}

func (l *Loader) reserved(name string) bool {
	for _, r := range l.opts.Reserved {
		if strings.EqualFold(r, name) {
			return true
		}
	}
	return false
}

func (l *Loader) replaceTable(ctx context.Context, tx *database.Tx, table database.Identifier, cols []database.Identifier, types []string, rows [][]*string) error {
	drop := database.Classify("DROP TABLE IF EXISTS "+database.Quote(table), table)
	if _, err := tx.Execute(ctx, drop, nil, true); err != nil {
		return err
	}

	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = database.Quote(c) + " " + types[i]
	}
	create := database.Classify(
		"CREATE TABLE "+database.Quote(table)+" ("+strings.Join(defs, ", ")+")",
		append([]database.Identifier{table}, cols...)...)
	if _, err := tx.Execute(ctx, create, nil, true); err != nil {
		return err
	}

	batch := l.opts.BatchSize
	if limit := maxBoundParams / len(cols); batch > limit {
		batch = limit
	}
	if batch < 1 {
		batch = 1
	}

	rowPlaceholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
	prefix := "INSERT INTO " + database.Quote(table) + " (" + database.QuoteAll(cols...) + ") VALUES "

	for start := 0; start < len(rows); start += batch {
		end := min(start+batch, len(rows))
		chunk := rows[start:end]

		args := make([]any, 0, len(chunk)*len(cols))
		for _, row := range chunk {
			for i, cell := range row {
				args = append(args, convert(cell, types[i]))
			}
		}
		placeholders := strings.TrimSuffix(strings.Repeat(rowPlaceholder+", ", len(chunk)), ", ")
		if _, err := tx.Write(ctx, prefix+placeholders, args...); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) describe(ctx context.Context, table database.Identifier, names []string) (*Result, error) {
	cols, err := l.x.TableColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	res := &Result{
		TableName:  table.String(),
		Schema:     make(map[string]string, len(cols)),
		Columns:    names,
		SampleData: []map[string]database.Value{},
	}
	for _, c := range cols {
		res.Schema[c.Name] = c.Type
	}

	count, err := l.x.Query(ctx, "SELECT COUNT(*) FROM "+database.Quote(table))
	if err != nil {
		return nil, err
	}
	res.RowCount = int(count.Rows[0][0].Int)

	if l.opts.SampleRows > 0 {
		sample, err := l.x.Query(ctx, "SELECT * FROM "+database.Quote(table)+" LIMIT ?", l.opts.SampleRows)
		if err != nil {
			return nil, err
		}
		res.SampleData = sample.Records()
	}
	return res, nil
}

// inferTypes assigns INTEGER when every value is an integer, REAL when
// every value is numeric and TEXT otherwise. All-NULL columns are TEXT.
func inferTypes(t *table) []string {
	types := make([]string, len(t.headers))
	for i := range types {
		kind, seen := "INTEGER", false
		for _, row := range t.rows {
			cell := row[i]
			if cell == nil {
				continue
			}
			seen = true
			v := strings.TrimSpace(*cell)
			if _, err := strconv.ParseInt(v, 10, 64); err == nil {
				continue
			}
			if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
				kind = "REAL"
				continue
			}
			kind = "TEXT"
			break
		}
		if !seen {
			kind = "TEXT"
		}
		types[i] = kind
	}
	return types
}

func convert(cell *string, typ string) any {
	if cell == nil {
		return nil
	}
	v := strings.TrimSpace(*cell)
	switch typ {
	case "INTEGER":
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	case "REAL":
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return *cell
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	const op errors.Op = "ingest.read"
	if limit <= 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, errors.E(op, errors.KindIO, err)
		}
		return data, nil
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, errors.E(op, errors.KindIO, err)
	}
	if int64(len(data)) > limit {
		return nil, errors.E(op, errors.KindValidation, fmt.Sprintf("file exceeds the %d byte limit", limit))
	}
	return data, nil
}
