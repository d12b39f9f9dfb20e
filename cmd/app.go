package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pathakanu/pillLens/internal/adherence"
	"github.com/pathakanu/pillLens/internal/config"
	"github.com/pathakanu/pillLens/internal/database"
	"github.com/pathakanu/pillLens/internal/events"
	"github.com/pathakanu/pillLens/internal/logging"
	"github.com/pathakanu/pillLens/internal/metrics"
	"go.uber.org/zap"
)

// app holds the pieces every subcommand needs.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   *database.Store
	bus     *events.Bus
	metrics *metrics.Metrics
	service *adherence.Service
}

func newApp(m *metrics.Metrics) (*app, error) {
	cfg := config.Load()

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	db, err := database.New(cfg.DatabaseURL, cfg.SQLitePath, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("database init failed: %w", err)
	}

	store := database.NewStore(db)
	bus := events.NewBus(logger)
	matcher := adherence.NewMatcher(cfg.LookAhead, cfg.CarryOver)
	service := adherence.NewService(store, bus, matcher, cfg.LocalTimezone, m, logger)

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		bus:     bus,
		metrics: m,
		service: service,
	}, nil
}

func (a *app) Close() {
	if sqlDB, err := a.store.DB().DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			a.logger.Warn("close database", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
