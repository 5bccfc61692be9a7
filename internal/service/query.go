package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nlsql/nlsql/internal/database"
	"github.com/nlsql/nlsql/internal/errors"
	"github.com/nlsql/nlsql/internal/history"
	"github.com/nlsql/nlsql/internal/llm"
)

// QueryService turns questions into read-only SQL and runs it.
type QueryService struct {
	x       *database.Executor
	gen     llm.Generator
	history *history.Store
	log     zerolog.Logger
	now     func() time.Time
}

// NewQueryService creates a query service. gen may be nil when only raw
// SQL is run; hist may be nil to skip recording.
func NewQueryService(x *database.Executor, gen llm.Generator, hist *history.Store, log zerolog.Logger) *QueryService {
	return &QueryService{
		x:       x,
		gen:     gen,
		history: hist,
		log:     log.With().Str("component", "query").Logger(),
		now:     time.Now,
	}
}

// Ask generates SQL for req.Query from the current user schema and runs it.
// Only READ_QUERY and PRAGMA_READ statements are executed. Every attempt is
// recorded in history, failed ones with their error.
func (q *QueryService) Ask(ctx context.Context, req QueryRequest) (resp *QueryResponse, err error) {
	const op errors.Op = "service.Ask"

	question := strings.TrimSpace(req.Query)
	if question == "" {
		return nil, errors.E(op, errors.KindValidation, "query is required")
	}
	if q.gen == nil {
		return nil, errors.E(op, errors.KindConfig, "no language model is configured")
	}

	var sqlText string
	defer func() { q.record(ctx, question, sqlText, resp, err) }()

	tables, err := q.promptTables(ctx, req.Table)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	sqlText, err = q.gen.GenerateSQL(ctx, question, tables)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}

	resp, err = q.run(ctx, sqlText)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	q.log.Info().Str("sql", resp.SQL).Int("rows", resp.RowCount).Msg("question answered")
	return resp, nil
}

// RunSQL runs caller-supplied SQL under the same read-only rules as Ask.
func (q *QueryService) RunSQL(ctx context.Context, sqlText string) (resp *QueryResponse, err error) {
	const op errors.Op = "service.RunSQL"

	defer func() { q.record(ctx, "", sqlText, resp, err) }()

	resp, err = q.run(ctx, sqlText)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	return resp, nil
}

func (q *QueryService) run(ctx context.Context, sqlText string) (*QueryResponse, error) {
	const op errors.Op = "service.run"

	stmt := database.Classify(sqlText)
	switch cat := stmt.Category(); {
	case cat == database.Rejected:
		return nil, errors.Rejected(op, stmt.Reason())
	case !cat.IsRead():
		return nil, errors.Rejected(op, cat.String()+" statements cannot be run as queries")
	}

	start := q.now()
	rs, err := q.x.Execute(ctx, stmt, nil, false)
	if err != nil {
		return nil, err
	}
	return &QueryResponse{
		SQL:             stmt.Text(),
		Columns:         rs.Columns,
		Results:         rs.Records(),
		RowCount:        rs.RowCount,
		ExecutionTimeMs: float64(q.now().Sub(start).Microseconds()) / 1000,
	}, nil
}

// promptTables builds the schema description handed to the model. A
// non-empty table narrows it to that table.
func (q *QueryService) promptTables(ctx context.Context, table string) ([]llm.TableInfo, error) {
	const op errors.Op = "service.promptTables"

	tables, err := userTables(ctx, q.x)
	if err != nil {
		return nil, err
	}

	if table != "" {
		if _, err := database.ValidateIdentifier(table, database.TableIdent); err != nil {
			return nil, err
		}
		i := -1
		for j, t := range tables {
			if t.Name == table {
				i = j
				break
			}
		}
		if i < 0 {
			return nil, errors.E(op, errors.KindNotFound, "table "+table+" does not exist")
		}
		tables = tables[i : i+1]
	}

	out := make([]llm.TableInfo, len(tables))
	for i, t := range tables {
		out[i] = llm.TableInfo{Name: t.Name, Columns: t.Columns, RowCount: t.RowCount}
	}
	return out, nil
}

func (q *QueryService) record(ctx context.Context, question, sqlText string, resp *QueryResponse, err error) {
	if q.history == nil {
		return
	}
	e := history.Entry{Question: question, SQL: sqlText}
	if resp != nil {
		e.SQL = resp.SQL
		e.RowCount = resp.RowCount
		e.ExecutionTimeMs = resp.ExecutionTimeMs
	}
	if err != nil {
		e.Error = err.Error()
	}

	rec, herr := q.history.Record(context.WithoutCancel(ctx), e)
	if herr != nil {
		errors.LogAndContinue(q.log, "recording query history", herr)
		return
	}
	if resp != nil {
		resp.HistoryID = rec.ID
	}
}
