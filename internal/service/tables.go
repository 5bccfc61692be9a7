package service

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nlsql/nlsql/internal/database"
	"github.com/nlsql/nlsql/internal/errors"
)

// mostCommonLimit bounds the most-common-values list of an insight.
const mostCommonLimit = 5

// TableService inspects and drops user tables.
type TableService struct {
	x       *database.Executor
	log     zerolog.Logger
	started time.Time
	now     func() time.Time
}

// NewTableService creates a table service. Uptime is counted from now.
func NewTableService(x *database.Executor, log zerolog.Logger) *TableService {
	return &TableService{
		x:       x,
		log:     log.With().Str("component", "tables").Logger(),
		started: time.Now(),
		now:     time.Now,
	}
}

// ListTables returns every user table with its columns and row count.
func (s *TableService) ListTables(ctx context.Context) ([]TableInfo, error) {
	const op errors.Op = "service.ListTables"

	tables, err := userTables(ctx, s.x)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	return tables, nil
}

// DropTable removes a user table.
func (s *TableService) DropTable(ctx context.Context, name string) error {
	const op errors.Op = "service.DropTable"

	id, err := s.lookup(ctx, op, name)
	if err != nil {
		return err
	}
	stmt := database.Classify("DROP TABLE IF EXISTS "+database.Quote(id), id)
	if _, err := s.x.Execute(ctx, stmt, nil, true); err != nil {
		return errors.Wrap(op, err)
	}
	s.log.Info().Str("table", name).Msg("table dropped")
	return nil
}

// Insights profiles the requested columns of a table. Every column must
// exist in the table; an empty list profiles all of them.
func (s *TableService) Insights(ctx context.Context, req InsightsRequest) (*InsightsResponse, error) {
	const op errors.Op = "service.Insights"

	table, err := s.lookup(ctx, op, req.TableName)
	if err != nil {
		return nil, err
	}
	cols, err := s.x.TableColumns(ctx, table)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}

	targets := cols
	if len(req.ColumnNames) > 0 {
		targets = make([]database.Column, 0, len(req.ColumnNames))
		for _, name := range req.ColumnNames {
			if _, err := database.ValidateIdentifier(name, database.ColumnIdent); err != nil {
				return nil, errors.Wrap(op, err)
			}
			i := slices.IndexFunc(cols, func(c database.Column) bool { return c.Name == name })
			if i < 0 {
				return nil, errors.E(op, errors.KindValidation, "column "+name+" does not exist in table "+table.String())
			}
			targets = append(targets, cols[i])
		}
	}

	resp := &InsightsResponse{
		TableName:   table.String(),
		Insights:    make([]ColumnInsight, 0, len(targets)),
		GeneratedAt: s.now().UTC(),
	}
	for _, c := range targets {
		col, err := database.ValidateIdentifier(c.Name, database.ColumnIdent)
		if err != nil {
			errors.LogAndContinue(s.log, "profiling column", err)
			continue
		}
		in, err := s.profile(ctx, table, col, c.Type)
		if err != nil {
			return nil, errors.Wrap(op, err)
		}
		resp.Insights = append(resp.Insights, in)
	}
	return resp, nil
}

func (s *TableService) profile(ctx context.Context, table, col database.Identifier, typ string) (ColumnInsight, error) {
	t, c := database.Quote(table), database.Quote(col)
	in := ColumnInsight{ColumnName: col.String(), DataType: typ, MostCommon: []ValueCount{}}

	counts, err := s.x.Execute(ctx, database.Classify(
		"SELECT COUNT(DISTINCT "+c+"), COALESCE(SUM(CASE WHEN "+c+" IS NULL THEN 1 ELSE 0 END), 0) FROM "+t,
		table, col), nil, false)
	if err != nil {
		return in, err
	}
	if len(counts.Rows) == 1 {
		in.UniqueValues = counts.Rows[0][0].Int
		in.NullCount = counts.Rows[0][1].Int
	}

	if isNumericType(typ) {
		rng, err := s.x.Execute(ctx, database.Classify(
			"SELECT MIN("+c+"), MAX("+c+"), AVG("+c+") FROM "+t, table, col), nil, false)
		if err != nil {
			return in, err
		}
		if len(rng.Rows) == 1 {
			row := rng.Rows[0]
			in.MinValue, in.MaxValue = row[0], row[1]
			if avg, ok := row[2].AsFloat(); ok {
				in.AvgValue = &avg
			}
		}
	}

	top, err := s.x.Execute(ctx, database.Classify(
		"SELECT "+c+` AS "value", COUNT(*) AS "count" FROM `+t+" WHERE "+c+" IS NOT NULL GROUP BY "+c+" ORDER BY COUNT(*) DESC, "+c+" LIMIT ?",
		table, col), database.Params{mostCommonLimit}, false)
	if err != nil {
		return in, err
	}
	values, freq := top.Column("value"), top.Column("count")
	for i := range values {
		in.MostCommon = append(in.MostCommon, ValueCount{Value: values[i], Count: freq[i].Int})
	}
	return in, nil
}

// Health pings the database and counts user tables. It never fails; a
// broken database is reported in the response.
func (s *TableService) Health(ctx context.Context) *HealthResponse {
	resp := &HealthResponse{Status: "ok", Version: Version}

	if err := s.x.DB().Ping(ctx); err != nil {
		s.log.Error().Err(err).Msg("health check ping failed")
		resp.Status = "error"
		return resp
	}
	resp.DatabaseConnected = true

	schema, err := s.x.GetSchema(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("health check schema read failed")
		resp.Status = "degraded"
	} else {
		resp.TablesCount = len(schema.Without(InternalTables...))
	}
	resp.UptimeSeconds = s.now().Sub(s.started).Seconds()
	return resp
}

// lookup validates name and confirms it is an existing user table.
func (s *TableService) lookup(ctx context.Context, op errors.Op, name string) (database.Identifier, error) {
	id, err := database.ValidateIdentifier(name, database.TableIdent)
	if err != nil {
		return database.Identifier{}, errors.Wrap(op, err)
	}
	if slices.Contains(InternalTables, id.String()) {
		return database.Identifier{}, errors.E(op, errors.KindValidation, "table "+name+" is managed by the application")
	}
	if _, err := s.x.TableColumns(ctx, id); err != nil {
		return database.Identifier{}, errors.Wrap(op, err)
	}
	return id, nil
}

// userTables snapshots the schema without the internal tables and counts
// the rows of each table.
func userTables(ctx context.Context, x *database.Executor) ([]TableInfo, error) {
	schema, err := x.GetSchema(ctx)
	if err != nil {
		return nil, err
	}
	schema = schema.Without(InternalTables...)

	out := make([]TableInfo, 0, len(schema))
	for _, name := range schema.Names() {
		id, err := database.ValidateIdentifier(name, database.TableIdent)
		if err != nil {
			continue
		}
		n, err := x.Execute(ctx, database.Classify("SELECT COUNT(*) FROM "+database.Quote(id), id), nil, false)
		if err != nil {
			return nil, err
		}
		info := TableInfo{Name: name, Columns: schema[name]}
		if len(n.Rows) == 1 {
			info.RowCount = n.Rows[0][0].Int
		}
		out = append(out, info)
	}
	return out, nil
}

// isNumericType applies SQLite's affinity rules to a declared type.
func isNumericType(typ string) bool {
	t := strings.ToUpper(typ)
	for _, marker := range []string{"INT", "REAL", "FLOA", "DOUB", "NUM", "DEC"} {
		if strings.Contains(t, marker) {
			return true
		}
	}
	return false
}
