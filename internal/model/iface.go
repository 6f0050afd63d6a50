package model

import (
	"context"
	"net/http"
)

// Session is the opaque handle returned by a successful login. A synthetic
// session carries no cookies.
type Session struct {
	Cookies   []*http.Cookie
	Synthetic bool
}

// LogClient fetches error-log pages for one channel. Implementations never
// surface transport failures: they degrade instead.
type LogClient interface {
	// Login returns false only on an unrecoverable local error.
	Login(ctx context.Context, baseURL, userID, password string) (Session, bool)
	// FetchErrorLogs returns one 1-based page of at most PageSize records.
	FetchErrorLogs(ctx context.Context, baseURL string, session Session, start, end string, page int) []LogRecord
}

// Analyzer submits an export to an analysis backend and streams notifications
// until the backend finishes, fails, or ctx is cancelled.
type Analyzer interface {
	Analyze(ctx context.Context, summary ExportSummary) <-chan Notification
}

// ReportSink receives the final report of a run. An error is a local I/O
// failure and fails the run.
type ReportSink interface {
	Publish(ctx context.Context, report *Report) error
}

// NotificationKind classifies streaming-analysis notifications.
type NotificationKind string

const (
	NotificationProgress NotificationKind = "progress"
	NotificationResult   NotificationKind = "result"
	NotificationError    NotificationKind = "error"
)

// Notification is one decoded step of a streaming analysis.
type Notification struct {
	Kind    NotificationKind
	Label   string // progress: human-readable stage label
	Event   string // raw backend event name
	Result  any    // result: parsed JSON value or raw string
	Message string // error: failure description
}
