package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/trace"
)

// LogConfig controls where runtime logs go.
type LogConfig struct {
	Path   string // empty uses DefaultLogPath
	Level  slog.Level
	Writer io.Writer // overrides Path when set
	OTel   Config    // when enabled, records go to the OTLP log provider
}

// DefaultLogPath returns ~/.local/state/errlens/errlens.log.
func DefaultLogPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state", "errlens", "errlens.log"), nil
}

// SetupLogger installs the default slog logger and returns it with a cleanup
// func. Log files that cannot be opened fall back to stderr.
func SetupLogger(conf LogConfig) (*slog.Logger, func()) {
	cleanup := func() {}
	var handler slog.Handler

	if conf.OTel.Enabled() {
		name := conf.OTel.ServiceName
		if name == "" {
			name = "errlens"
		}
		handler = otelslog.NewHandler(name, otelslog.WithLoggerProvider(global.GetLoggerProvider()))
	} else {
		w := conf.Writer
		if w == nil {
			var f *os.File
			f, cleanup = openLogFile(conf.Path)
			w = f
		}
		handler = NewTraceHandler(slog.NewTextHandler(w, &slog.HandlerOptions{Level: conf.Level}))
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, cleanup
}

func openLogFile(path string) (*os.File, func()) {
	if path == "" {
		var err error
		if path, err = DefaultLogPath(); err != nil {
			return os.Stderr, func() {}
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return os.Stderr, func() {}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return os.Stderr, func() {}
	}
	return f, func() { _ = f.Close() }
}

// TraceHandler adds the active trace and span ids to each record.
type TraceHandler struct {
	slog.Handler
}

func NewTraceHandler(h slog.Handler) *TraceHandler {
	return &TraceHandler{Handler: h}
}

func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithGroup(name)}
}
