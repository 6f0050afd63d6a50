package main

import (
	"time"

	"github.com/tinytelemetry/errlens/internal/history"
	"github.com/tinytelemetry/errlens/internal/model"
	"github.com/tinytelemetry/errlens/internal/telemetry"
)

const (
	defaultBindHost       = "127.0.0.1"
	defaultAPIAddr        = defaultBindHost + ":3000"
	defaultReportFormat   = "json"
	defaultRetentionDays  = history.DefaultRetentionDays
	defaultRequestTimeout = model.DefaultRequestTimeout
	defaultMaxRetries     = 2
	defaultMaxPages       = model.MaxPages
	defaultLogLevel       = "info"
	defaultServiceName    = "errlens"
	defaultBackupInterval = 6 * time.Hour
	defaultBackupKeepLast = 7
)

// analysisConfig selects the streaming workflow backend. An empty URL
// disables analysis and every report carries the placeholder text.
type analysisConfig struct {
	URL            string        `mapstructure:"url"`
	Authorization  string        `mapstructure:"authorization"`
	ContentType    string        `mapstructure:"content-type"`
	User           string        `mapstructure:"user"`
	Query          string        `mapstructure:"query"`
	ConnectTimeout time.Duration `mapstructure:"connect-timeout"`
	ReadTimeout    time.Duration `mapstructure:"read-timeout"`
}

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	APIEnabled     bool                 `mapstructure:"api-enabled"`
	APIAddr        string               `mapstructure:"api-addr"`
	DBPath         string               `mapstructure:"db-path"`
	ReportDir      string               `mapstructure:"report-dir"`
	ReportFormat   string               `mapstructure:"report-format"`
	RetentionDays  int                  `mapstructure:"retention-days"`
	RequestTimeout time.Duration        `mapstructure:"request-timeout"`
	MaxRetries     int                  `mapstructure:"max-retries"`
	MaxPages       int                  `mapstructure:"max-pages"`
	SyntheticDelay time.Duration        `mapstructure:"synthetic-delay"` // negative disables
	LogLevel       string               `mapstructure:"log-level"`
	LogPath        string               `mapstructure:"log-path"`
	Analysis       analysisConfig       `mapstructure:"analysis"`
	OTel           telemetry.Config     `mapstructure:"otel"`
	Backup         history.BackupConfig `mapstructure:"history-backup"`
	Channels       []model.Channel      `mapstructure:"channels"`
	ConfigPath     string               `mapstructure:"-"` // not from config file
}
