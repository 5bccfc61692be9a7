package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nlsql/nlsql/internal/database"
	"github.com/nlsql/nlsql/internal/ingest"
	"github.com/nlsql/nlsql/internal/service"
)

var uploadCmd = &cobra.Command{
	Use:   "upload FILE...",
	Short: "Load data files into tables",
	Long: `Load CSV, JSON, JSON Lines or Excel files. Each file replaces the table
named after it; column names are sanitized and types inferred.`,
	Example: `  nlsql upload sales.csv
  nlsql upload users.json events.jsonl`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpload,
}

var askCmd = &cobra.Command{
	Use:   "ask QUESTION",
	Short: "Ask a question about the loaded data",
	Example: `  nlsql ask "how many orders shipped last month"
  nlsql ask --table orders "average order value"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

var sqlCmd = &cobra.Command{
	Use:     "sql STATEMENT",
	Short:   "Run a read-only SQL statement",
	Example: `  nlsql sql "SELECT region, SUM(total) FROM sales GROUP BY region"`,
	Args:    cobra.ExactArgs(1),
	RunE:    runSQL,
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "List tables, columns and row counts",
	Args:  cobra.NoArgs,
	RunE:  runSchema,
}

var dropCmd = &cobra.Command{
	Use:   "drop TABLE",
	Short: "Delete a table",
	Args:  cobra.ExactArgs(1),
	RunE:  runDrop,
}

var insightsCmd = &cobra.Command{
	Use:   "insights TABLE [COLUMN...]",
	Short: "Show column statistics for a table",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runInsights,
}

var askTable string

func init() {
	askCmd.Flags().StringVarP(&askTable, "table", "t", "", "Limit the schema given to the model to one table")
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	loader := a.loader()
	var results []*ingest.Result
	for _, path := range args {
		var res *ingest.Result
		err := withSpinner("Loading "+filepath.Base(path), func() (err error) {
			res, err = loadFile(cmd, loader, path)
			return err
		})
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		results = append(results, res)
		if !jsonOutput() {
			printSuccess("Loaded %s into table %s (%d rows)", filepath.Base(path), res.TableName, res.RowCount)
		}
	}

	if jsonOutput() {
		return printJSON(os.Stdout, results)
	}
	if !quiet {
		for _, res := range results {
			fmt.Println(renderTable(res.Columns, resultRows(res.Columns, res.SampleData)))
		}
	}
	return nil
}

func loadFile(cmd *cobra.Command, loader *ingest.Loader, path string) (*ingest.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return loader.Load(cmd.Context(), filepath.Base(path), f)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	gen, err := a.generator(ctx)
	if err != nil {
		return err
	}
	var resp *service.QueryResponse
	err = withSpinner("Asking the model", func() (err error) {
		resp, err = a.queryService(gen).Ask(ctx, service.QueryRequest{
			Query: strings.Join(args, " "),
			Table: askTable,
		})
		return err
	})
	if err != nil {
		return err
	}
	return printQuery(resp)
}

func runSQL(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.queryService(nil).RunSQL(ctx, args[0])
	if err != nil {
		return err
	}
	return printQuery(resp)
}

func printQuery(resp *service.QueryResponse) error {
	if jsonOutput() {
		return printJSON(os.Stdout, resp)
	}
	printInfo("%s", resp.SQL)
	fmt.Println(renderTable(resp.Columns, resultRows(resp.Columns, resp.Results)))
	printInfo("%d rows in %.1fms", resp.RowCount, resp.ExecutionTimeMs)
	return nil
}

func runSchema(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	tables, err := a.tableService().ListTables(ctx)
	if err != nil {
		return err
	}
	if jsonOutput() {
		return printJSON(os.Stdout, service.SchemaResponse{Tables: tables, TotalTables: len(tables)})
	}
	if len(tables) == 0 {
		printInfo("No tables yet; load one with nlsql upload")
		return nil
	}

	rows := make([][]string, 0, len(tables))
	for _, t := range tables {
		cols := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			cols[i] = c.Name + " " + c.Type
		}
		rows = append(rows, []string{t.Name, strconv.FormatInt(t.RowCount, 10), strings.Join(cols, ", ")})
	}
	fmt.Println(renderTable([]string{"table", "rows", "columns"}, rows))
	return nil
}

func runDrop(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.tableService().DropTable(ctx, args[0]); err != nil {
		return err
	}
	printSuccess("Dropped table %s", args[0])
	return nil
}

func runInsights(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.tableService().Insights(ctx, service.InsightsRequest{TableName: args[0], ColumnNames: args[1:]})
	if err != nil {
		return err
	}
	if jsonOutput() {
		return printJSON(os.Stdout, resp)
	}

	rows := make([][]string, 0, len(resp.Insights))
	for _, in := range resp.Insights {
		avg := ""
		if in.AvgValue != nil {
			avg = strconv.FormatFloat(*in.AvgValue, 'f', 2, 64)
		}
		common := make([]string, len(in.MostCommon))
		for i, vc := range in.MostCommon {
			common[i] = fmt.Sprintf("%s (%d)", cell(vc.Value), vc.Count)
		}
		rows = append(rows, []string{
			in.ColumnName, in.DataType,
			strconv.FormatInt(in.UniqueValues, 10), strconv.FormatInt(in.NullCount, 10),
			optional(in.MinValue), optional(in.MaxValue), avg,
			strings.Join(common, ", "),
		})
	}
	fmt.Println(renderTable([]string{"column", "type", "distinct", "nulls", "min", "max", "avg", "most common"}, rows))
	return nil
}

// optional renders a statistic that may not apply to the column.
func optional(v database.Value) string {
	if v.IsNull() {
		return ""
	}
	return cell(v)
}
