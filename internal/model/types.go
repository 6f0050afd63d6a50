package model

import (
	"strings"
	"time"
)

// LogRecord is one error-log entry as returned by the admin API, the synthetic
// generator, or the line parser. Channel and Node are optional; an empty value
// means the source did not carry the field.
type LogRecord struct {
	Time      string `json:"time"`
	Channel   string `json:"channel,omitempty"`
	App       string `json:"app"`
	Service   string `json:"service"`
	Operation string `json:"operation"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Node      string `json:"node,omitempty"`
}

// Normalize fills the Unknown sentinel for key fields that are empty or only
// whitespace. Other key values are kept byte-for-byte, so "timeout" and
// "timeout " group separately. Time and Node are trimmed; Node is never
// defaulted so that no synthetic node ever reaches an issue group.
func (r LogRecord) Normalize() LogRecord {
	r.Time = strings.TrimSpace(r.Time)
	r.Channel = orUnknown(r.Channel)
	r.App = orUnknown(r.App)
	r.Service = orUnknown(r.Service)
	r.Operation = orUnknown(r.Operation)
	r.Code = orUnknown(r.Code)
	r.Message = orUnknown(r.Message)
	r.Node = strings.TrimSpace(r.Node)
	return r
}

// Key returns the grouping key of a normalized record.
func (r LogRecord) Key() GroupKey {
	return GroupKey{
		Channel:   r.Channel,
		App:       r.App,
		Service:   r.Service,
		Operation: r.Operation,
		Code:      r.Code,
		Message:   r.Message,
	}
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return UnknownValue
	}
	return s
}

// GroupKey identifies an issue group. Comparison is exact string equality, so
// two messages for the same code stay in separate groups.
type GroupKey struct {
	Channel   string
	App       string
	Service   string
	Operation string
	Code      string
	Message   string
}

// Signature is the human-readable "app | svc.op | code" label of a group.
func (k GroupKey) Signature() string {
	return k.App + " | " + k.Service + "." + k.Operation + " | " + k.Code
}

// TimeContext carries the time-related statistics of an issue group.
type TimeContext struct {
	FirstSeen    string   `json:"first_seen"`
	LastSeen     string   `json:"last_seen"`
	PeakSnapshot []string `json:"peak_snapshot"`
}

// IssueGroup is the aggregated statistics for one GroupKey.
type IssueGroup struct {
	Key            GroupKey    `json:"-"`
	Signature      string      `json:"signature"`
	Channel        string      `json:"channel"`
	Application    string      `json:"application"`
	Service        string      `json:"target_service"`
	Operation      string      `json:"target_operation"`
	ErrorCode      string      `json:"error_code"`
	MessagePattern string      `json:"message_pattern"`
	TotalCount     int         `json:"total_count"`
	Nodes          []string    `json:"nodes"`
	TimeContext    TimeContext `json:"time_context"`
}

// RankedIssue is an IssueGroup with its rank-assigned error ID.
type RankedIssue struct {
	ErrorID string `json:"error_id"`
	IssueGroup
}

// ReportMeta describes one export.
type ReportMeta struct {
	Date               string `json:"date"`
	TotalLogsProcessed int    `json:"total_logs_processed"`
	WindowLabel        string `json:"monitoring_window"`
}

// TimeSeries maps a minute bucket ("YYYY-MM-DD HH:MM") to per-error counts.
type TimeSeries map[string]map[string]int

// ExportSummary is the ranked, chart-ready output of one aggregation run.
type ExportSummary struct {
	ReportMeta     ReportMeta    `json:"report_meta"`
	IssueGroups    []RankedIssue `json:"issue_groups"`
	TimeSeriesData TimeSeries    `json:"time_series_data"`
}

// Window is the date range of one monitoring run, formatted
// "YYYY-MM-DD HH:MM:SS".
type Window struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// DefaultWindow returns today's full-day window.
func DefaultWindow(now time.Time) Window {
	day := now.Format("2006-01-02")
	return Window{Start: day + " 00:00:00", End: day + " 23:59:59"}
}

// WithDefaults fills an empty start or end from today's window.
func (w Window) WithDefaults(now time.Time) Window {
	def := DefaultWindow(now)
	if strings.TrimSpace(w.Start) == "" {
		w.Start = def.Start
	}
	if strings.TrimSpace(w.End) == "" {
		w.End = def.End
	}
	return w
}

// Label renders the window for report metadata.
func (w Window) Label() string {
	return w.Start + " ~ " + w.End
}
