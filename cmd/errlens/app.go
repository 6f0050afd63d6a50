package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tinytelemetry/errlens/internal/adminapi"
	"github.com/tinytelemetry/errlens/internal/analysis"
	"github.com/tinytelemetry/errlens/internal/events"
	"github.com/tinytelemetry/errlens/internal/history"
	"github.com/tinytelemetry/errlens/internal/lineparse"
	"github.com/tinytelemetry/errlens/internal/model"
	"github.com/tinytelemetry/errlens/internal/pipeline"
	"github.com/tinytelemetry/errlens/internal/report"
	"github.com/tinytelemetry/errlens/internal/synthetic"
	"github.com/tinytelemetry/errlens/internal/telemetry"
)

// app holds the collaborators shared by server and one-shot mode.
type app struct {
	cfg     appConfig
	logger  *slog.Logger
	hub     *events.Hub
	events  model.EventSink
	store   *history.Store
	factory pipeline.Factory
	closers []func()
}

func newApp(ctx context.Context, cfg appConfig) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	tel, err := telemetry.Setup(ctx, cfg.OTel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.closers = append(a.closers, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(sctx)
	})

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger, cleanupLogger := telemetry.SetupLogger(telemetry.LogConfig{
		Path:  cfg.LogPath,
		Level: level,
		OTel:  cfg.OTel,
	})
	a.logger = logger
	a.closers = append(a.closers, cleanupLogger)

	a.hub = events.NewHub()
	a.closers = append(a.closers, a.hub.Close)
	a.events = events.Multi(events.LogSink{Logger: logger}, a.hub)

	a.store, err = history.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	a.closers = append(a.closers, func() { _ = a.store.Close() })

	if cleaner := history.NewRetentionCleaner(a.store, history.RetentionConfig{
		RetentionDays: cfg.RetentionDays,
	}); cleaner != nil {
		a.closers = append(a.closers, cleaner.Stop)
	}

	backup, err := history.NewBackup(a.store, cfg.Backup)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize backups: %w", err)
	}
	if backup != nil {
		a.closers = append(a.closers, backup.Stop)
	}

	fileSink, err := report.NewFileSink(report.FileConfig{
		Dir:    cfg.ReportDir,
		Format: strings.ToLower(cfg.ReportFormat),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize reports: %w", err)
	}

	// The file sink runs first so the history row records the report path.
	a.factory = newFactory(cfg, a.events, []model.ReportSink{fileSink, a.store})
	return a, nil
}

// Close releases everything newApp acquired, in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// newFactory builds one pipeline per run. Channels with a log-file read it
// locally; the rest go through the admin API with synthetic fallback.
func newFactory(cfg appConfig, sink model.EventSink, sinks []model.ReportSink) pipeline.Factory {
	return func(ch model.Channel) *pipeline.Pipeline {
		var client model.LogClient
		if ch.LogFile != "" {
			client = lineparse.NewFileClient(ch.LogFile, lineparse.FileConfig{Events: sink})
		} else {
			client = adminapi.NewClient(adminapi.Config{
				Timeout:    cfg.RequestTimeout,
				MaxRetries: cfg.MaxRetries,
				Generator: synthetic.New(synthetic.Config{
					Delay:   cfg.SyntheticDelay,
					NoDelay: cfg.SyntheticDelay < 0,
				}),
				Events: sink,
			})
		}

		var analyzer model.Analyzer
		if cfg.Analysis.URL != "" {
			analyzer = analysis.NewClient(analysis.Config{
				URL:            cfg.Analysis.URL,
				Authorization:  cfg.Analysis.Authorization,
				ContentType:    cfg.Analysis.ContentType,
				User:           cfg.Analysis.User,
				Query:          cfg.Analysis.Query,
				ConnectTimeout: cfg.Analysis.ConnectTimeout,
				ReadTimeout:    cfg.Analysis.ReadTimeout,
				Events:         sink,
			})
		}

		return pipeline.New(client, analyzer, pipeline.Config{
			Events:   sink,
			Sinks:    sinks,
			MaxPages: cfg.MaxPages,
		})
	}
}
