package main

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	"github.com/nlsql/nlsql/internal/config"
	"github.com/nlsql/nlsql/internal/database"
	"github.com/nlsql/nlsql/internal/errors"
	"github.com/nlsql/nlsql/internal/history"
	"github.com/nlsql/nlsql/internal/images"
	"github.com/nlsql/nlsql/internal/ingest"
	"github.com/nlsql/nlsql/internal/llm"
	"github.com/nlsql/nlsql/internal/logging"
	"github.com/nlsql/nlsql/internal/service"
)

// app holds the components a command needs, opened from the config.
type app struct {
	cfg    *config.Config
	log    zerolog.Logger
	closer io.Closer

	db      *database.DB
	x       *database.Executor
	history *history.Store
	images  *images.Store
}

// loadConfig reads the config file and applies the global flags.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.GetConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// openApp opens the database and the bookkeeping stores. Images are only
// opened when withImages is set.
func openApp(ctx context.Context, withImages bool) (*app, error) {
	const op errors.Op = "main.openApp"

	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, closer, err := logging.New(logging.Options{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Output:  cfg.Logging.Output,
		NoColor: noColor,
	})
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, closer: closer}

	if err := cfg.EnsureDirectories(); err != nil {
		a.Close()
		return nil, err
	}
	a.db, err = database.Open(cfg.Database.Path, database.Options{
		BusyTimeout: cfg.Database.BusyTimeout,
		JournalMode: cfg.Database.JournalMode,
	})
	if err != nil {
		a.Close()
		return nil, errors.Wrap(op, err)
	}
	a.x = database.NewExecutor(a.db, log)

	if cfg.History.Enabled {
		a.history, err = history.Open(ctx, a.x, cfg.History.IndexPath, log)
		if err != nil {
			a.Close()
			return nil, errors.Wrap(op, err)
		}
	}
	if withImages {
		a.images, err = images.Open(ctx, a.x, images.Options{
			Directory:           cfg.Images.Directory,
			MaxFileSize:         cfg.Images.MaxFileSize,
			SimilarityThreshold: cfg.Images.SimilarityThreshold,
			DefaultFolder:       cfg.Images.DefaultFolder,
		}, log)
		if err != nil {
			a.Close()
			return nil, errors.Wrap(op, err)
		}
	}
	return a, nil
}

// generator builds the SQL generator. A missing key is not fatal for the
// server; it is reported and questions fail with a config error.
func (a *app) generator(ctx context.Context) (llm.Generator, error) {
	gen, err := llm.New(ctx, a.cfg.LLM, a.log)
	if err != nil {
		return nil, err
	}
	return gen, nil
}

func (a *app) queryService(gen llm.Generator) *service.QueryService {
	return service.NewQueryService(a.x, gen, a.history, a.log)
}

func (a *app) tableService() *service.TableService {
	return service.NewTableService(a.x, a.log)
}

func (a *app) loader() *ingest.Loader {
	return ingest.NewLoader(a.x, ingest.Options{
		MaxFileSize: a.cfg.Upload.MaxFileSize,
		SampleRows:  a.cfg.Upload.SampleRows,
		BatchSize:   a.cfg.Upload.BatchSize,
		Reserved:    service.InternalTables,
	}, a.log)
}

// Close releases everything openApp opened.
func (a *app) Close() {
	if a.history != nil {
		errors.IgnoreError(a.log, a.history.Close(), "closing history index")
	}
	if a.db != nil {
		errors.IgnoreError(a.log, a.db.Close(), "closing database")
	}
	if a.closer != nil {
		a.closer.Close()
	}
}
