package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nlsql/nlsql/internal/errors"
	"github.com/nlsql/nlsql/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse past questions",
	Long:  `List, search and clear the recorded questions and the SQL they produced.`,
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent entries",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historySearchCmd = &cobra.Command{
	Use:     "search TEXT",
	Short:   "Full-text search over questions and SQL",
	Example: `  nlsql history search revenue`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runHistorySearch,
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every entry",
	Args:  cobra.NoArgs,
	RunE:  runHistoryClear,
}

var (
	historyLimit  int
	historyOffset int
)

func init() {
	historyCmd.PersistentFlags().IntVarP(&historyLimit, "limit", "l", 0, "Maximum entries to show (default from config)")
	historyListCmd.Flags().IntVar(&historyOffset, "offset", 0, "Entries to skip")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historySearchCmd)
	historyCmd.AddCommand(historyClearCmd)
}

func openHistory(cmd *cobra.Command) (*app, error) {
	a, err := openApp(cmd.Context(), false)
	if err != nil {
		return nil, err
	}
	if a.history == nil {
		a.Close()
		return nil, errors.E(errors.KindConfig, "history is disabled in the configuration")
	}
	if historyLimit <= 0 {
		historyLimit = a.cfg.History.Limit
	}
	return a, nil
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	a, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.history.List(cmd.Context(), historyLimit, historyOffset)
	if err != nil {
		return err
	}
	return printEntries(entries)
}

func runHistorySearch(cmd *cobra.Command, args []string) error {
	a, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.history.Search(cmd.Context(), strings.Join(args, " "), historyLimit)
	if err != nil {
		return err
	}
	return printEntries(entries)
}

func runHistoryClear(cmd *cobra.Command, args []string) error {
	a, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.history.Clear(cmd.Context())
	if err != nil {
		return err
	}
	printSuccess("Deleted %d history entries", n)
	return nil
}

func printEntries(entries []history.Entry) error {
	if jsonOutput() {
		return printJSON(os.Stdout, entries)
	}
	if len(entries) == 0 {
		printInfo("No history entries")
		return nil
	}

	rows := make([][]string, len(entries))
	for i, e := range entries {
		status := strconv.Itoa(e.RowCount) + " rows"
		if e.Error != "" {
			status = "error"
		}
		rows[i] = []string{
			strconv.FormatInt(e.ID, 10),
			e.CreatedAt.Local().Format("2006-01-02 15:04"),
			truncate(e.Question),
			truncate(e.SQL),
			status,
		}
	}
	fmt.Println(renderTable([]string{"id", "when", "question", "sql", "result"}, rows))
	return nil
}

func truncate(s string) string {
	if r := []rune(s); len(r) > maxCellWidth {
		return string(r[:maxCellWidth-1]) + "…"
	}
	return s
}
