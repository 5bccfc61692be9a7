package database

import (
	"context"
	"sort"

	"github.com/nlsql/nlsql/internal/errors"
)

// Column is one column reported by table_info.
type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	NotNull    bool   `json:"not_null"`
	PrimaryKey bool   `json:"primary_key"`
}

// Schema maps table name to its columns in declaration order.
type Schema map[string][]Column

// Names returns the table names sorted.
func (s Schema) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasColumn reports whether table has a column named col.
func (s Schema) HasColumn(table, col string) bool {
	for _, c := range s[table] {
		if c.Name == col {
			return true
		}
	}
	return false
}

// Without returns a copy of s lacking the named tables.
func (s Schema) Without(tables ...string) Schema {
	skip := make(map[string]bool, len(tables))
	for _, t := range tables {
		skip[t] = true
	}
	out := make(Schema, len(s))
	for name, cols := range s {
		if !skip[name] {
			out[name] = cols
		}
	}
	return out
}

// GetSchema reports every user table and its columns. Each name read from
// sqlite_master is validated again before it is quoted into table_info;
// tables whose names fail are skipped. The result is a fresh snapshot.
func (x *Executor) GetSchema(ctx context.Context) (Schema, error) {
	const op errors.Op = "database.GetSchema"

	tables, err := x.Query(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite\\_%' ESCAPE '\\' ORDER BY name")
	if err != nil {
		return nil, errors.Wrap(op, err)
	}

	schema := make(Schema, tables.RowCount)
	for _, row := range tables.Rows {
		name := row[0].Text
		id, err := ValidateIdentifier(name, TableIdent)
		if err != nil {
			_, rule := errors.Details(err)
			x.log.Warn().Str("table", name).Str("rule", rule).Msg("skipping table with invalid name")
			continue
		}

		cols, err := x.tableInfo(ctx, id)
		if err != nil {
			return nil, errors.Wrap(op, err)
		}
		schema[name] = cols
	}
	return schema, nil
}

// TableColumns returns the columns of a single table, or a NotFound error.
func (x *Executor) TableColumns(ctx context.Context, table Identifier) ([]Column, error) {
	cols, err := x.tableInfo(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, errors.E(errors.Op("database.TableColumns"), errors.KindNotFound, "table "+table.String()+" does not exist")
	}
	return cols, nil
}

func (x *Executor) tableInfo(ctx context.Context, table Identifier) ([]Column, error) {
	info, err := x.Execute(ctx, Classify("PRAGMA table_info("+Quote(table)+")", table), nil, false)
	if err != nil {
		return nil, err
	}

	// cid, name, type, notnull, dflt_value, pk
	cols := make([]Column, 0, info.RowCount)
	for _, row := range info.Rows {
		if len(row) < 6 {
			continue
		}
		cols = append(cols, Column{
			Name:       row[1].Text,
			Type:       row[2].Text,
			NotNull:    row[3].Int != 0,
			PrimaryKey: row[5].Int != 0,
		})
	}
	return cols, nil
}
