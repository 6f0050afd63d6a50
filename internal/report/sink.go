package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tinytelemetry/errlens/internal/model"
)

// Output formats for FileSink.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// FileConfig holds tunable parameters for the file sink.
type FileConfig struct {
	Dir    string
	Format string // json (default) or yaml
	Now    func() time.Time
}

// FileSink writes each report to <dir>/<channel>_<stamp>.<format> and records
// the path on the report for later sinks.
type FileSink struct {
	dir    string
	format string
	now    func() time.Time
}

// NewFileSink validates the config and creates the output directory.
func NewFileSink(conf FileConfig) (*FileSink, error) {
	format := conf.Format
	switch format {
	case "":
		format = FormatJSON
	case FormatJSON, FormatYAML:
	case "yml":
		format = FormatYAML
	default:
		return nil, fmt.Errorf("report: unknown format %q", conf.Format)
	}
	if conf.Dir == "" {
		return nil, fmt.Errorf("report: output dir is required")
	}
	if err := os.MkdirAll(conf.Dir, 0755); err != nil {
		return nil, fmt.Errorf("report: create dir: %w", err)
	}
	now := conf.Now
	if now == nil {
		now = time.Now
	}
	return &FileSink{dir: conf.Dir, format: format, now: now}, nil
}

// document is the persisted shape of a report.
type document struct {
	Channel      string              `json:"channel"`
	ChannelKey   string              `json:"channel_key"`
	ChannelLabel string              `json:"channel_label"`
	Window       model.Window        `json:"window"`
	Status       string              `json:"status"`
	ErrorCount   int                 `json:"error_count"`
	Summary      model.ExportSummary `json:"summary"`
	Analysis     any                 `json:"analysis,omitempty"`
	AnalysisText string              `json:"analysis_text"`
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Publish writes the report and sets r.Path.
func (s *FileSink) Publish(ctx context.Context, r *model.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc := document{
		Channel:      r.Channel.Name,
		ChannelKey:   r.Channel.ID(),
		ChannelLabel: model.ChannelLabel(r.Channel.Code),
		Window:       r.Window,
		Status:       r.Status,
		ErrorCount:   r.Count,
		Summary:      r.Summary,
		Analysis:     r.Analysis,
		AnalysisText: r.AnalysisText,
	}
	data, err := encode(doc, s.format)
	if err != nil {
		return fmt.Errorf("report: encode: %w", err)
	}

	name := unsafeName.ReplaceAllString(r.Channel.ID(), "_")
	if name == "" {
		name = "channel"
	}
	path := filepath.Join(s.dir, fmt.Sprintf("%s_%s.%s", name, s.now().Format("20060102_150405"), s.format))

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("report: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("report: rename: %w", err)
	}
	r.Path = path
	return nil
}

func encode(doc document, format string) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	if format == FormatJSON {
		return append(data, '\n'), nil
	}
	// YAML keys follow the JSON field names.
	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	return yaml.Marshal(generic)
}
