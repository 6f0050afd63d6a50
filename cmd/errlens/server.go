package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/errlens/internal/httpserver"
	"github.com/tinytelemetry/errlens/internal/model"
	"github.com/tinytelemetry/errlens/internal/pipeline"
	"github.com/tinytelemetry/errlens/internal/report"
)

// runServer serves the HTTP API; runs are triggered through it.
func runServer(cfg appConfig) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	runner := pipeline.NewRunner(a.factory, pipeline.RunnerConfig{Events: a.events})
	runner.OnFinish(func(out pipeline.Outcome) { logOutcome(a.logger, out) })

	apiServer := httpserver.NewServer(httpserver.Config{
		Addr:        cfg.APIAddr,
		ServiceName: cfg.OTel.ServiceName,
		Channels:    cfg.Channels,
		Runner:      runner,
		History:     a.store,
		Events:      a.hub,
	})
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		// Shutdown deadline starts now, not at boot.
		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		os.Exit(1)
	}()

	printStartupBanner(cfg, apiServer.Addr())

	<-ctx.Done()

	// Stopping the API cancels runs it started; wait for them to record.
	if err := apiServer.Stop(); err != nil {
		a.logger.Warn("api server shutdown", "error", err)
	}
	runner.Wait()

	signal.Stop(sigCh)
	return nil
}

// runOnce runs every channel concurrently, prints one report per channel and
// fails when any channel failed.
func runOnce(cfg appConfig, w model.Window) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	outcomes := pipeline.RunAll(ctx, a.factory, cfg.Channels, w)

	failed := 0
	for _, out := range outcomes {
		logOutcome(a.logger, out)
		r := out.Report
		if r == nil {
			r = &model.Report{Channel: out.Channel, Window: w, Count: out.Count, Status: model.StatusFailed}
		}
		if out.Count < 0 {
			failed++
		}
		if err := report.Render(os.Stdout, r); err != nil {
			return fmt.Errorf("render report: %w", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d channels failed; see %s", failed, len(outcomes), logLocation(cfg))
	}
	return nil
}

func logOutcome(logger *slog.Logger, out pipeline.Outcome) {
	attrs := []any{"channel", out.Channel.ID(), "state", string(out.State), "count", out.Count}
	if out.Report != nil && out.Report.Path != "" {
		attrs = append(attrs, "path", out.Report.Path)
	}
	if out.Err != nil {
		logger.Error("run failed", append(attrs, "error", out.Err)...)
		return
	}
	logger.Info("run finished", attrs...)
}

func logLocation(cfg appConfig) string {
	if cfg.OTel.Enabled() {
		return "the collector logs"
	}
	if cfg.LogPath != "" {
		return shortenPath(cfg.LogPath)
	}
	return "~/.local/state/errlens/errlens.log"
}

func printStartupBanner(cfg appConfig, apiAddr string) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	logo := cyan.Bold(true).Render(`
    ╔═╗╦═╗╦═╗╦  ╔═╗╔╗╔╔═╗
    ║╣ ╠╦╝╠╦╝║  ║╣ ║║║╚═╗
    ╚═╝╩╚═╩╚═╩═╝╚═╝╝╚╝╚═╝`)

	var lines []string
	lines = append(lines, "", logo, "    "+dim.Render("v"+version), "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator, "")

	lines = append(lines, bold.Render("    Gateway"), "")
	lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", check, cyan.Render(apiAddr)))
	if cfg.Analysis.URL != "" {
		lines = append(lines, fmt.Sprintf("    %s  Analysis       %s", check, cyan.Render(cfg.Analysis.URL)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Analysis       %s", dot, dim.Render("disabled")))
	}
	if cfg.OTel.Enabled() {
		lines = append(lines, fmt.Sprintf("    %s  OTLP Export    %s", check, cyan.Render(cfg.OTel.Endpoint)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  OTLP Export    %s", dot, dim.Render("disabled")))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Channels"), "")
	for _, ch := range cfg.Channels {
		source := ch.BaseURL
		if ch.LogFile != "" {
			source = shortenPath(ch.LogFile)
		}
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", check, ch.ID(), dim.Render(source)))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Storage"), "")
	lines = append(lines, fmt.Sprintf("    %s  History        %s", check, dim.Render(shortenPath(cfg.DBPath))))
	lines = append(lines, fmt.Sprintf("    %s  Reports        %s", check, dim.Render(shortenPath(cfg.ReportDir))))
	if cfg.Backup.Enabled {
		lines = append(lines, fmt.Sprintf("    %s  Snapshots      %s", check, dim.Render(shortenPath(cfg.Backup.Dir))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Snapshots      %s", dot, dim.Render("disabled")))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Config"), "")
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", check, dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", dot, dim.Render("default (no file)")))
	}

	lines = append(lines, "", separator, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"), "")

	fmt.Println(strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
