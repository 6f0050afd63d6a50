package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tinytelemetry/errlens/internal/aggregate"
	"github.com/tinytelemetry/errlens/internal/analysis"
	"github.com/tinytelemetry/errlens/internal/model"
)

const tracerName = "github.com/tinytelemetry/errlens/internal/pipeline"

// DefaultPlaceholder replaces the analysis text when the backend fails.
const DefaultPlaceholder = "AI analysis failed. Please check the raw logs."

// State is a step of one monitoring run.
type State string

const (
	StateLoggingIn   State = "LoggingIn"
	StateFetching    State = "Fetching"
	StateAggregating State = "Aggregating"
	StateAnalyzing   State = "Analyzing"
	StateSummarizing State = "Summarizing"
	StateDone        State = "Done"
	StateFailed      State = "Failed"
)

var (
	errLogin      = errors.New("login failed")
	errNoAnalyzer = errors.New("no analysis backend configured")
	errNoResult   = errors.New("analysis stream ended without a result")
)

// Outcome is the terminal result of a run. Count is -1 when the run failed,
// 0 when no errors were found, and the number of error records otherwise.
type Outcome struct {
	Channel model.Channel
	Count   int
	State   State
	Report  *model.Report
	Err     error
}

// Config holds tunable parameters for a pipeline.
type Config struct {
	Events      model.EventSink
	Sinks       []model.ReportSink
	MaxPages    int
	PageSize    int
	Placeholder string
	Now         func() time.Time
}

// Pipeline drives one end-to-end run: login, paginated fetch, aggregation,
// streaming analysis and summary.
type Pipeline struct {
	client      model.LogClient
	analyzer    model.Analyzer
	events      model.EventSink
	sinks       []model.ReportSink
	maxPages    int
	pageSize    int
	placeholder string
	now         func() time.Time
	tracer      trace.Tracer
}

// New creates a pipeline. A nil analyzer makes every run fall back to the
// placeholder analysis text.
func New(client model.LogClient, analyzer model.Analyzer, conf ...Config) *Pipeline {
	p := &Pipeline{
		client:      client,
		analyzer:    analyzer,
		events:      model.Discard,
		maxPages:    model.MaxPages,
		pageSize:    model.PageSize,
		placeholder: DefaultPlaceholder,
		now:         time.Now,
		tracer:      otel.Tracer(tracerName),
	}
	if len(conf) > 0 {
		cfg := conf[0]
		if cfg.Events != nil {
			p.events = cfg.Events
		}
		p.sinks = cfg.Sinks
		if cfg.MaxPages > 0 {
			p.maxPages = cfg.MaxPages
		}
		if cfg.PageSize > 0 {
			p.pageSize = cfg.PageSize
		}
		if cfg.Placeholder != "" {
			p.placeholder = cfg.Placeholder
		}
		if cfg.Now != nil {
			p.now = cfg.Now
		}
	}
	return p
}

// Run executes one monitoring run for a channel. It never panics and never
// returns an error: every failure resolves into a Failed outcome.
func (p *Pipeline) Run(ctx context.Context, ch model.Channel, w model.Window) (out Outcome) {
	em := model.Emitter{Sink: p.events, Channel: ch.ID(), Now: p.now}
	ctx, span := p.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(attribute.String("errlens.channel", ch.ID())))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			out = p.fail(em, span, ch, fmt.Errorf("panic: %v", r))
		}
		span.SetAttributes(
			attribute.String("errlens.state", string(out.State)),
			attribute.Int("errlens.count", out.Count),
		)
	}()

	window := w.WithDefaults(p.now())
	em.Emit(model.EventInfo, fmt.Sprintf("monitoring %s (%s)", ch.Name, window.Label()))

	// LoggingIn
	sctx, stage := p.enter(ctx, em, StateLoggingIn)
	session, ok := p.client.Login(sctx, ch.BaseURL, ch.UserID, ch.Password)
	stage.End()
	if !ok {
		return p.fail(em, span, ch, errLogin)
	}
	if session.Synthetic {
		em.Emit(model.EventWarn, "backend unavailable, continuing with synthetic data")
	}

	// Fetching, folded into the aggregator page by page.
	sctx, stage = p.enter(ctx, em, StateFetching)
	agg := aggregate.New(aggregate.Config{Now: p.now})
	fetched := 0
	for page := 1; page <= p.maxPages; page++ {
		if err := ctx.Err(); err != nil {
			stage.End()
			return p.fail(em, span, ch, fmt.Errorf("cancelled while fetching: %w", err))
		}
		records := p.client.FetchErrorLogs(sctx, ch.BaseURL, session, window.Start, window.End, page)
		for _, r := range records {
			agg.Process(r)
		}
		fetched += len(records)
		em.Emit(model.EventDebug, fmt.Sprintf("page %d: %d records", page, len(records)))
		if len(records) < p.pageSize {
			break
		}
		if page == p.maxPages {
			em.Emit(model.EventWarn, fmt.Sprintf("stopped at the %d page limit", p.maxPages))
		}
	}
	stage.SetAttributes(attribute.Int("errlens.records", fetched))
	stage.End()
	if err := ctx.Err(); err != nil {
		return p.fail(em, span, ch, fmt.Errorf("cancelled while fetching: %w", err))
	}

	// Aggregating
	_, stage = p.enter(ctx, em, StateAggregating)
	summary := agg.Export()
	count := summary.ReportMeta.TotalLogsProcessed
	stage.SetAttributes(attribute.Int("errlens.groups", len(summary.IssueGroups)))
	stage.End()

	report := &model.Report{
		Channel: ch,
		Window:  window,
		Summary: summary,
		Count:   count,
		Status:  model.StatusSuccess,
	}
	if count == 0 {
		em.Emit(model.EventSuccess, "no errors found, skipping analysis")
		return p.done(em, ch, report)
	}
	em.Emit(model.EventInfo, fmt.Sprintf("%d error records in %d groups", count, len(summary.IssueGroups)))

	// Analyzing
	sctx, stage = p.enter(ctx, em, StateAnalyzing)
	result, err := p.analyze(sctx, em, summary)
	stage.End()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return p.fail(em, span, ch, fmt.Errorf("cancelled while analyzing: %w", ctxErr))
	}
	if err != nil {
		em.Emit(model.EventError, fmt.Sprintf("analysis failed: %v", err))
		report.AnalysisText = p.placeholder
	} else {
		em.Emit(model.EventSuccess, "analysis complete")
		report.Analysis = result
		report.AnalysisText = analysis.Text(result)
	}

	// Summarizing
	sctx, stage = p.enter(ctx, em, StateSummarizing)
	err = p.publish(sctx, report)
	stage.End()
	if err != nil {
		out = p.fail(em, span, ch, err)
		out.Report = report
		return out
	}
	return p.done(em, ch, report)
}

func (p *Pipeline) enter(ctx context.Context, em model.Emitter, s State) (context.Context, trace.Span) {
	em.Emit(model.EventDebug, "state: "+string(s))
	return p.tracer.Start(ctx, "pipeline."+strings.ToLower(string(s)))
}

func (p *Pipeline) done(em model.Emitter, ch model.Channel, report *model.Report) Outcome {
	em.Emit(model.EventDebug, "state: "+string(StateDone))
	em.Emit(model.EventSuccess, fmt.Sprintf("run finished with %d errors", report.Count))
	return Outcome{Channel: ch, Count: report.Count, State: StateDone, Report: report}
}

func (p *Pipeline) fail(em model.Emitter, span trace.Span, ch model.Channel, err error) Outcome {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	em.Emit(model.EventError, fmt.Sprintf("run failed: %v", err))
	return Outcome{Channel: ch, Count: -1, State: StateFailed, Err: err}
}

// analyze consumes the notification stream until the first result. Progress
// is relayed as events; error notifications are remembered and only matter
// when no result arrives.
func (p *Pipeline) analyze(ctx context.Context, em model.Emitter, summary model.ExportSummary) (any, error) {
	if p.analyzer == nil {
		return nil, errNoAnalyzer
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	notes := p.analyzer.Analyze(ctx, summary)
	var lastErr error
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case n, ok := <-notes:
			if !ok {
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, errNoResult
			}
			switch n.Kind {
			case model.NotificationProgress:
				em.Emit(model.EventProgress, n.Label)
			case model.NotificationResult:
				return n.Result, nil
			case model.NotificationError:
				em.Emit(model.EventWarn, n.Message)
				lastErr = errors.New(n.Message)
			}
		}
	}
}

// publish hands the report to every sink. A failing sink marks the report
// failed; later sinks still see it so that history records the failure.
func (p *Pipeline) publish(ctx context.Context, report *model.Report) error {
	var errs []error
	for _, s := range p.sinks {
		if len(errs) > 0 {
			report.Status = model.StatusFailed
		}
		if err := s.Publish(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		report.Status = model.StatusFailed
		return fmt.Errorf("publish report: %w", errors.Join(errs...))
	}
	return nil
}
