package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info
var (
	version = "1.0.0"
	commit  = "dev"
	date    = "unknown"
)

// Global flags
var (
	configPath string
	dbPath     string
	logLevel   string
	noColor    bool
	quiet      bool
	outFormat  string
)

// Root command
var rootCmd = &cobra.Command{
	Use:   "nlsql",
	Short: "Ask questions of your data in plain language",
	Long: `nlsql loads CSV, JSON, JSON Lines and Excel files into SQLite and answers
natural language questions about them with generated, read-only SQL.

Every statement passes through a single safety layer: identifiers are
validated and quoted, statements are classified, and only reads reach the
database on behalf of a question.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	Example: `  # Load a file
  nlsql upload sales.csv

  # Ask a question
  nlsql ask "total revenue by region"

  # Start the API server
  nlsql server --port 8000`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $NLSQL_CONFIG, ./nlsql.yaml or ~/.config/nlsql/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-error output")
	rootCmd.PersistentFlags().StringVarP(&outFormat, "format", "f", "table", "Output format (table|json)")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(sqlCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(dropCmd)
	rootCmd.AddCommand(insightsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
