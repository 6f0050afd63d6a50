package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/tinytelemetry/errlens/internal/analysis"
	"github.com/tinytelemetry/errlens/internal/model"
	"github.com/tinytelemetry/errlens/internal/report"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

const windowLayout = "2006-01-02 15:04:05"

func main() {
	var configPath, start, end string
	var showVersion, once bool

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/errlens/config.yml)")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.BoolVar(&once, "once", false, "run every channel once, print the reports and exit")
	flag.StringVar(&start, "start", "", "window start, YYYY-MM-DD HH:MM:SS (default today 00:00:00)")
	flag.StringVar(&end, "end", "", "window end, YYYY-MM-DD HH:MM:SS (default today 23:59:59)")
	flag.Parse()

	if showVersion {
		fmt.Printf("errlens - Error Log Monitor\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	_ = godotenv.Load()

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if once || !cfg.APIEnabled {
		window, err := parseWindow(start, end, time.Now())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		err = runOnce(cfg, window)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := runServer(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseWindow validates the flag values and fills the blanks from today.
func parseWindow(start, end string, now time.Time) (model.Window, error) {
	w := model.Window{Start: strings.TrimSpace(start), End: strings.TrimSpace(end)}.WithDefaults(now)
	s, err := time.ParseInLocation(windowLayout, w.Start, now.Location())
	if err != nil {
		return w, fmt.Errorf("invalid -start %q: want YYYY-MM-DD HH:MM:SS", w.Start)
	}
	e, err := time.ParseInLocation(windowLayout, w.End, now.Location())
	if err != nil {
		return w, fmt.Errorf("invalid -end %q: want YYYY-MM-DD HH:MM:SS", w.End)
	}
	if e.Before(s) {
		return w, fmt.Errorf("window end %s is before start %s", w.End, w.Start)
	}
	return w, nil
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	dataDir := filepath.Join(home, ".local", "share", "errlens")

	v := viper.New()
	v.SetEnvPrefix("ERRLENS")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	v.SetDefault("api-enabled", true)
	v.SetDefault("api-addr", defaultAPIAddr)
	v.SetDefault("db-path", filepath.Join(dataDir, "history.duckdb"))
	v.SetDefault("report-dir", filepath.Join(dataDir, "reports"))
	v.SetDefault("report-format", defaultReportFormat)
	v.SetDefault("retention-days", defaultRetentionDays)
	v.SetDefault("request-timeout", defaultRequestTimeout)
	v.SetDefault("max-retries", defaultMaxRetries)
	v.SetDefault("max-pages", defaultMaxPages)
	v.SetDefault("synthetic-delay", 0)
	v.SetDefault("log-level", defaultLogLevel)
	v.SetDefault("log-path", "")
	v.SetDefault("analysis.url", "")
	v.SetDefault("analysis.authorization", "")
	v.SetDefault("analysis.content-type", analysis.DefaultContentType)
	v.SetDefault("analysis.user", "")
	v.SetDefault("analysis.query", analysis.DefaultQuery)
	v.SetDefault("analysis.connect-timeout", analysis.DefaultConnectTimeout)
	v.SetDefault("analysis.read-timeout", analysis.DefaultReadTimeout)
	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.headers", "")
	v.SetDefault("otel.service-name", defaultServiceName)
	v.SetDefault("history-backup.enabled", false)
	v.SetDefault("history-backup.interval", defaultBackupInterval)
	v.SetDefault("history-backup.dir", filepath.Join(dataDir, "backups"))
	v.SetDefault("history-backup.keep-last", defaultBackupKeepLast)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		defaultConfigPath := filepath.Join(home, ".config", "errlens", "config.yml")
		v.SetConfigFile(defaultConfigPath)
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	if _, err := os.Stat(v.ConfigFileUsed()); err == nil {
		cfg.ConfigPath = v.ConfigFileUsed()
	}
	cfg.OTel.ServiceVersion = version

	cfg.DBPath = expandHome(home, cfg.DBPath)
	cfg.ReportDir = expandHome(home, cfg.ReportDir)
	cfg.LogPath = expandHome(home, cfg.LogPath)
	cfg.Backup.Dir = expandHome(home, cfg.Backup.Dir)
	for i := range cfg.Channels {
		cfg.Channels[i].LogFile = expandHome(home, cfg.Channels[i].LogFile)
	}

	return cfg, validateConfig(cfg)
}

func validateConfig(cfg appConfig) error {
	switch strings.ToLower(cfg.ReportFormat) {
	case report.FormatJSON, report.FormatYAML, "yml":
	default:
		return fmt.Errorf("invalid report-format %q: want json or yaml", cfg.ReportFormat)
	}
	if cfg.MaxPages <= 0 {
		return fmt.Errorf("invalid max-pages: %d", cfg.MaxPages)
	}
	if len(cfg.Channels) == 0 {
		return errors.New("no channels configured")
	}
	seen := make(map[string]bool, len(cfg.Channels))
	for i, ch := range cfg.Channels {
		id := ch.ID()
		switch {
		case id == "":
			return fmt.Errorf("channels[%d]: key or name is required", i)
		case seen[id]:
			return fmt.Errorf("channels[%d]: duplicate channel %q", i, id)
		case ch.LogFile == "" && ch.BaseURL == "":
			return fmt.Errorf("channel %q: base-url or log-file is required", id)
		}
		seen[id] = true
	}
	return nil
}

// expandHome expands a leading ~/ in path.
func expandHome(home, path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
