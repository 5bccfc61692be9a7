// Package service provides the operations behind the HTTP API and the CLI:
// answering questions with generated SQL, and inspecting or dropping the
// tables users have loaded.
package service

import (
	"time"

	"github.com/nlsql/nlsql/internal/database"
	"github.com/nlsql/nlsql/internal/history"
	"github.com/nlsql/nlsql/internal/images"
)

// Version is reported by the health check.
const Version = "1.0.0"

// InternalTables are the bookkeeping tables never shown to users or to the
// model.
var InternalTables = []string{history.TableName, images.FilesTable, images.FoldersTable}

// QueryRequest asks a natural language question. Table optionally narrows
// the schema given to the model to a single table.
type QueryRequest struct {
	Query string `json:"query"`
	Table string `json:"table_name,omitempty"`
}

// QueryResponse is the outcome of a question or a raw statement.
type QueryResponse struct {
	SQL             string                      `json:"sql"`
	Columns         []string                    `json:"columns"`
	Results         []map[string]database.Value `json:"results"`
	RowCount        int                         `json:"row_count"`
	ExecutionTimeMs float64                     `json:"execution_time_ms"`
	HistoryID       int64                       `json:"history_id,omitempty"`
}

// TableInfo describes one user table.
type TableInfo struct {
	Name     string            `json:"name"`
	Columns  []database.Column `json:"columns"`
	RowCount int64             `json:"row_count"`
}

// SchemaResponse lists the user tables.
type SchemaResponse struct {
	Tables      []TableInfo `json:"tables"`
	TotalTables int         `json:"total_tables"`
}

// InsightsRequest names a table and, optionally, the columns to profile.
// An empty column list profiles every column.
type InsightsRequest struct {
	TableName   string   `json:"table_name"`
	ColumnNames []string `json:"column_names"`
}

// ValueCount is one entry of a most-common-values list.
type ValueCount struct {
	Value database.Value `json:"value"`
	Count int64          `json:"count"`
}

// ColumnInsight holds summary statistics for a column. Min, max and average
// are only computed for numeric declared types.
type ColumnInsight struct {
	ColumnName   string         `json:"column_name"`
	DataType     string         `json:"data_type"`
	UniqueValues int64          `json:"unique_values"`
	NullCount    int64          `json:"null_count"`
	MinValue     database.Value `json:"min_value"`
	MaxValue     database.Value `json:"max_value"`
	AvgValue     *float64       `json:"avg_value"`
	MostCommon   []ValueCount   `json:"most_common"`
}

// InsightsResponse carries the insights for one table.
type InsightsResponse struct {
	TableName   string          `json:"table_name"`
	Insights    []ColumnInsight `json:"insights"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// HealthResponse reports service status.
type HealthResponse struct {
	Status            string  `json:"status"`
	DatabaseConnected bool    `json:"database_connected"`
	TablesCount       int     `json:"tables_count"`
	Version           string  `json:"version"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}
