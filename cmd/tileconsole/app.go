package main

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vbonduro/tileconsole/internal/artifact/local"
	"github.com/vbonduro/tileconsole/internal/backend"
	"github.com/vbonduro/tileconsole/internal/bulk"
	"github.com/vbonduro/tileconsole/internal/config"
	"github.com/vbonduro/tileconsole/internal/db"
	"github.com/vbonduro/tileconsole/internal/ingest"
	"github.com/vbonduro/tileconsole/internal/logging"
	"github.com/vbonduro/tileconsole/internal/refdata"
	"github.com/vbonduro/tileconsole/internal/service"
	"github.com/vbonduro/tileconsole/internal/store"
	"github.com/vbonduro/tileconsole/internal/tiles"
	"github.com/vbonduro/tileconsole/internal/variant"
)

// app holds the wired console for the duration of one command.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	service *service.ConsoleService
	probe   *variant.Probe
	close   func()
}

func newApp(cmd *cobra.Command) (*app, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}

	logger, cleanupLog, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		cleanupLog()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	artifacts, err := local.NewStore(cfg.ArtifactPath)
	if err != nil {
		closeDB(database, logger)
		cleanupLog()
		return nil, fmt.Errorf("failed to initialize artifact store: %w", err)
	}

	client := backend.NewClient(backend.Options{
		BaseURL:      cfg.BackendURL,
		ImageBaseURL: cfg.ImageAPIURL,
		Timeout:      cfg.BackendTimeout,
	})
	runs := store.NewRunStore(database)
	directory := tiles.NewDirectory(client, artifacts, tiles.Options{
		BigBaseURL:   cfg.BigBaseURL,
		ThumbBaseURL: cfg.ThumbBaseURL,
		NoImageURL:   cfg.NoImageURL,
	}, logger)
	probe := variant.NewProbe(
		variant.NewHTTPLoader(cfg.ThumbBaseURL, cfg.BackendTimeout),
		variant.WithMax(cfg.VariantMax),
		variant.WithRate(cfg.VariantRPS),
	)

	svc := service.NewConsoleService(
		refdata.NewLoader(client),
		ingest.NewPipeline(client, artifacts, runs, logger),
		bulk.NewImporter(client, runs, logger),
		directory,
		probe,
		runs,
		artifacts,
		service.Options{
			RequestedBy:   cfg.RequestedBy,
			DefaultWidth:  cfg.DefaultWidth,
			DefaultHeight: cfg.DefaultHeight,
			FormTTL:       cfg.FormTTL,
			FormMax:       cfg.FormMax,
		},
		logger,
	)

	return &app{
		cfg:     cfg,
		logger:  logger,
		service: svc,
		probe:   probe,
		close: func() {
			closeDB(database, logger)
			cleanupLog()
		},
	}, nil
}

func closeDB(database *sql.DB, logger *slog.Logger) {
	if err := database.Close(); err != nil {
		logger.Error("failed to close database", "error", err)
	}
}
