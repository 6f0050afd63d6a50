package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-contrib/sse"

	"github.com/tinytelemetry/errlens/internal/model"
)

func sampleSummary() model.ExportSummary {
	return model.ExportSummary{
		ReportMeta: model.ReportMeta{Date: "2026-01-28", TotalLogsProcessed: 3, WindowLabel: "Realtime"},
		IssueGroups: []model.RankedIssue{{
			ErrorID: "Error01",
			IssueGroup: model.IssueGroup{
				Signature:  "A | S.O | E1",
				ErrorCode:  "E1",
				TotalCount: 3,
				Nodes:      []string{},
			},
		}},
		TimeSeriesData: model.TimeSeries{},
	}
}

func drain(ch <-chan model.Notification) []model.Notification {
	var out []model.Notification
	for n := range ch {
		out = append(out, n)
	}
	return out
}

func TestAnalyze_StreamsNotifications(t *testing.T) {
	var gotBody map[string]any
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)

		w.Header().Set("Content-Type", "text/event-stream")
		_ = sse.Encode(w, sse.Event{Data: map[string]any{"event": "workflow_started", "data": map[string]any{}}})
		_ = sse.Encode(w, sse.Event{Event: "ping", Data: "keep-alive"})
		_ = sse.Encode(w, sse.Event{Data: map[string]any{"event": "node_started", "data": map[string]any{"title": "LLM"}}})
		_ = sse.Encode(w, sse.Event{Data: map[string]any{
			"event": "workflow_finished",
			"data":  map[string]any{"outputs": map[string]any{"res": "```json\n[1,2]\n```"}},
		}})
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL, Authorization: "Bearer key", User: "tester"})
	got := drain(c.Analyze(context.Background(), sampleSummary()))

	if len(got) != 3 {
		t.Fatalf("got %d notifications, want 3: %+v", len(got), got)
	}
	if got[0].Kind != model.NotificationProgress || got[1].Label != "AI processing: LLM (node_started)" {
		t.Errorf("progress = %+v, %+v", got[0], got[1])
	}
	if got[2].Kind != model.NotificationResult || !reflect.DeepEqual(got[2].Result, []any{float64(1), float64(2)}) {
		t.Errorf("result = %+v", got[2])
	}

	if gotAuth != "Bearer key" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if gotBody["response_mode"] != "streaming" || gotBody["user"] != "tester" || gotBody["conversation_id"] != "" {
		t.Errorf("body = %+v", gotBody)
	}
	inputs, _ := gotBody["inputs"].(map[string]any)
	issues, _ := inputs["issue_groups"].(string)
	if !strings.Contains(issues, "\n  {") || !strings.Contains(issues, `"error_id": "Error01"`) {
		t.Errorf("issue_groups is not an indented JSON string: %q", issues)
	}
	if strings.Contains(issues, "report_meta") {
		t.Error("issue_groups must carry only the ranked groups")
	}
}

func TestAnalyze_ErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = sse.Encode(w, sse.Event{Data: map[string]any{"event": "error", "message": "quota exceeded"}})
	}))
	defer srv.Close()

	got := drain(NewClient(Config{URL: srv.URL}).Analyze(context.Background(), sampleSummary()))
	if len(got) != 1 || got[0].Kind != model.NotificationError || !strings.Contains(got[0].Message, "quota exceeded") {
		t.Fatalf("got %+v", got)
	}
}

func TestAnalyze_NonSuccessStatusIsSingleError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var events atomic.Int32
	sink := model.SinkFunc(func(e model.Event) {
		if e.Kind == model.EventError {
			events.Add(1)
		}
	})
	got := drain(NewClient(Config{URL: srv.URL, Events: sink}).Analyze(context.Background(), sampleSummary()))
	if len(got) != 1 || got[0].Kind != model.NotificationError || !strings.Contains(got[0].Message, "503") {
		t.Fatalf("got %+v", got)
	}
	if calls.Load() != 1 {
		t.Errorf("attempts = %d, want 1 (no retry)", calls.Load())
	}
	if events.Load() != 1 {
		t.Errorf("error events = %d, want 1", events.Load())
	}
}

func TestAnalyze_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	got := drain(NewClient(Config{URL: url}).Analyze(context.Background(), sampleSummary()))
	if len(got) != 1 || got[0].Kind != model.NotificationError {
		t.Fatalf("got %+v", got)
	}
}

func TestAnalyze_CancelStopsStream(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = sse.Encode(w, sse.Event{Data: map[string]any{"event": "node_started", "data": map[string]any{"title": "first"}}})
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	ch := NewClient(Config{URL: srv.URL}).Analyze(ctx, sampleSummary())

	first := <-ch
	if first.Kind != model.NotificationProgress {
		t.Fatalf("first = %+v", first)
	}
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			// At most a notification already in flight; the channel must close next.
			if _, ok := <-ch; ok {
				t.Error("stream kept producing after cancellation")
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("channel not closed after cancellation")
	}
}

func TestAnalyze_IdleTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(Config{URL: srv.URL, ReadTimeout: 50 * time.Millisecond})
	done := make(chan []model.Notification)
	go func() { done <- drain(c.Analyze(context.Background(), sampleSummary())) }()

	select {
	case got := <-done:
		if len(got) != 1 || got[0].Kind != model.NotificationError {
			t.Errorf("got %+v, want a single error", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("silent stream was not cut off")
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Config{URL: "http://example.invalid"})
	if c.User() == "" {
		t.Error("expected a generated user id")
	}
	if c.contentType != DefaultContentType || c.query != DefaultQuery || c.readTimeout != DefaultReadTimeout {
		t.Errorf("defaults = %q %q %s", c.contentType, c.query, c.readTimeout)
	}
}

func TestAnalyze_KeepAliveHoldsStreamOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flush := w.(http.Flusher).Flush
		_ = sse.Encode(w, sse.Event{Data: map[string]any{"event": "workflow_started", "data": map[string]any{}}})
		flush()
		// Pings only, for longer than the read timeout.
		for i := 0; i < 8; i++ {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(40 * time.Millisecond):
			}
			_ = sse.Encode(w, sse.Event{Event: "ping", Data: "keep-alive"})
			flush()
		}
		_ = sse.Encode(w, sse.Event{Data: map[string]any{
			"event": "workflow_finished",
			"data":  map[string]any{"outputs": map[string]any{"res": "[]"}},
		}})
		flush()
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL, ReadTimeout: 100 * time.Millisecond})
	got := drain(c.Analyze(context.Background(), sampleSummary()))

	if len(got) != 2 || got[1].Kind != model.NotificationResult {
		t.Fatalf("got %+v, want progress then result", got)
	}
}
