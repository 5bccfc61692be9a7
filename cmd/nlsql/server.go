package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nlsql/nlsql/internal/api"
	"github.com/nlsql/nlsql/internal/llm"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the nlsql API server",
	Long: `Start the nlsql HTTP API.

The server provides:
- data file upload and table management
- natural language questions and read-only SQL
- query history with full-text search
- image uploads with duplicate detection and folders
- Prometheus metrics at /metrics`,
	Example: `  nlsql server
  nlsql server --port 3000 --host 0.0.0.0`,
	RunE: runServer,
}

var (
	serverPort int
	serverHost string
)

func init() {
	serverCmd.Flags().IntVarP(&serverPort, "port", "p", 0, "Port to listen on (default from config)")
	serverCmd.Flags().StringVar(&serverHost, "host", "", "Host to bind to (default from config)")
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if serverPort != 0 {
		a.cfg.Server.Port = serverPort
	}
	if serverHost != "" {
		a.cfg.Server.Host = serverHost
	}

	var gen llm.Generator
	if g, err := a.generator(ctx); err != nil {
		printWarning("SQL generation disabled: %v", err)
	} else {
		gen = g
	}

	server := api.NewServer(a.cfg, api.Deps{
		Query:   a.queryService(gen),
		Tables:  a.tableService(),
		Loader:  a.loader(),
		History: a.history,
		Images:  a.images,
	}, a.log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	printInfo("Database: %s", a.cfg.Database.Path)
	printSuccess("Server ready at http://%s", a.cfg.Server.Addr())

	select {
	case err := <-serverErr:
		return err
	case sig := <-sigChan:
		printInfo("Received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	printSuccess("Server stopped")
	return nil
}
