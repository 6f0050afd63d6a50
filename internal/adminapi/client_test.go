package adminapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tinytelemetry/errlens/internal/model"
	"github.com/tinytelemetry/errlens/internal/synthetic"
)

func newTestClient(t *testing.T, events model.EventSink) *Client {
	t.Helper()
	return NewClient(Config{
		Timeout:      2 * time.Second,
		RetryBackoff: time.Millisecond,
		Generator:    synthetic.New(synthetic.Config{Seed: 11, NoDelay: true}),
		Events:       events,
	})
}

func serviceLogBody(n int) string {
	rows := make([]map[string]string, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, map[string]string{
			"opOccurDttm": "2026-01-28 14:00:00",
			"chlTypeCd":   "MA0",
			"bxmAppId":    "Bxm-Core",
			"svcNm":       "TransferSvc",
			"opNm":        "transfer",
			"errCode":     "DB-001",
			"msgCont":     fmt.Sprintf("timeout %d", i),
			"nodeNm":      "node-a",
		})
	}
	data, _ := json.Marshal(map[string]any{
		"ServiceLogListOMM": map[string]any{"serviceLogList": rows},
	})
	return string(data)
}

func TestLogin_Success(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != loginPath {
			t.Errorf("path = %s, want %s", r.URL.Path, loginPath)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "abc", Path: "/"})
		_, _ = io.WriteString(w, `{"header":{"returnCode":"0"}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, nil)
	session, ok := c.Login(context.Background(), srv.URL, "operator", "secret")
	if !ok {
		t.Fatal("Login returned false")
	}
	if session.Synthetic {
		t.Fatal("expected a live session")
	}
	if len(session.Cookies) != 1 || session.Cookies[0].Value != "abc" {
		t.Errorf("cookies = %+v, want JSESSIONID=abc", session.Cookies)
	}
	if c.Mode() != ModeLive {
		t.Errorf("mode = %s, want live", c.Mode())
	}
	omm, _ := gotBody["LoginOMM"].(map[string]any)
	if omm["userId"] != "operator" || omm["userPwd"] != "secret" {
		t.Errorf("login payload = %+v", gotBody)
	}
	if c.PoolSize() != 0 {
		t.Errorf("login must not populate the connection pool, pool size = %d", c.PoolSize())
	}
}

func TestLogin_FailuresDegradeButSucceed(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"unauthorized", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}},
		{"application failure code", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"header":{"returnCode":"E401","returnMessage":"bad password"}}`)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			var warned atomic.Bool
			c := newTestClient(t, model.SinkFunc(func(e model.Event) {
				if e.Kind == model.EventWarn {
					warned.Store(true)
				}
			}))
			session, ok := c.Login(context.Background(), srv.URL, "u", "p")
			if !ok {
				t.Fatal("Login must not fail on backend errors")
			}
			if !session.Synthetic {
				t.Error("expected a synthetic session")
			}
			if c.Mode() != ModeDegraded {
				t.Errorf("mode = %s, want degraded", c.Mode())
			}
			if !warned.Load() {
				t.Error("expected a warning event on degradation")
			}
		})
	}
}

func TestLogin_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newTestClient(t, nil)
	session, ok := c.Login(context.Background(), url, "u", "p")
	if !ok || !session.Synthetic {
		t.Fatalf("Login(unreachable) = %+v, %v; want synthetic success", session, ok)
	}
}

func TestLogin_InvalidBaseURLIsLocalFailure(t *testing.T) {
	c := newTestClient(t, nil)
	if _, ok := c.Login(context.Background(), "not a url", "u", "p"); ok {
		t.Fatal("expected false for an unusable base url")
	}
	if c.Mode() != ModeLive {
		t.Errorf("local failure must not degrade the client, mode = %s", c.Mode())
	}
}

func TestFetchErrorLogs_ParsesEnvelope(t *testing.T) {
	var gotCond map[string]any
	var gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotCond, _ = body["OnlineLogSearchConditionOMM"].(map[string]any)
		if ck, err := r.Cookie("JSESSIONID"); err == nil {
			gotCookie = ck.Value
		}
		_, _ = io.WriteString(w, serviceLogBody(3))
	}))
	defer srv.Close()

	c := newTestClient(t, nil)
	session := model.Session{Cookies: []*http.Cookie{{Name: "JSESSIONID", Value: "abc"}}}
	records := c.FetchErrorLogs(context.Background(), srv.URL, session, "2026-01-28 00:00:00", "2026-01-28 23:59:59", 2)

	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	r := records[0]
	if r.Channel != "MA0" || r.App != "Bxm-Core" || r.Code != "DB-001" || r.Node != "node-a" || r.Message != "timeout 0" {
		t.Errorf("unexpected record mapping: %+v", r)
	}
	if gotCond["pageNum"] != "2" || gotCond["pageCount"] != "100" || gotCond["opErrYn"] != "Y" {
		t.Errorf("search condition = %+v", gotCond)
	}
	if gotCond["opOccurDttmStart"] != "2026-01-28 00:00:00" {
		t.Errorf("start = %v", gotCond["opOccurDttmStart"])
	}
	if gotCookie != "abc" {
		t.Errorf("session cookie not forwarded, got %q", gotCookie)
	}
	if c.Mode() != ModeLive {
		t.Errorf("mode = %s, want live", c.Mode())
	}
}

func TestFetchErrorLogs_DefaultsMissingFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"ServiceLogListOMM":{"serviceLogList":[{"opOccurDttm":"2026-01-28 14:00:00","errMsg":"fallback msg"},{}]}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, nil)
	records := c.FetchErrorLogs(context.Background(), srv.URL, model.Session{}, "", "", 1)
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Message != "fallback msg" || records[0].Code != "FAIL" || records[0].App != model.UnknownValue {
		t.Errorf("record 0 = %+v", records[0])
	}
	if records[1].Message != "Error" || records[1].Channel != model.UnknownValue || records[1].Node != "" {
		t.Errorf("record 1 = %+v", records[1])
	}
}

func TestFetchErrorLogs_MissingEnvelopeIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"header":{"returnCode":"0"}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, nil)
	records := c.FetchErrorLogs(context.Background(), srv.URL, model.Session{}, "", "", 1)
	if len(records) != 0 {
		t.Errorf("got %d records, want 0", len(records))
	}
	if c.Mode() != ModeLive {
		t.Errorf("missing envelope must not degrade, mode = %s", c.Mode())
	}
}

func TestFetchErrorLogs_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, serviceLogBody(5))
	}))
	defer srv.Close()

	c := newTestClient(t, nil)
	records := c.FetchErrorLogs(context.Background(), srv.URL, model.Session{}, "", "", 1)
	if len(records) != 5 {
		t.Fatalf("got %d records, want 5", len(records))
	}
	if calls.Load() != 2 {
		t.Errorf("attempts = %d, want 2", calls.Load())
	}
	if c.Mode() != ModeLive {
		t.Errorf("mode = %s, want live", c.Mode())
	}
}

func TestFetchErrorLogs_RetryIsBounded(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, nil)
	records := c.FetchErrorLogs(context.Background(), srv.URL, model.Session{}, "", "", 1)
	if calls.Load() != 2 {
		t.Errorf("attempts = %d, want 2", calls.Load())
	}
	if c.Mode() != ModeDegraded {
		t.Errorf("mode = %s, want degraded", c.Mode())
	}
	if len(records) == 0 {
		t.Error("degraded fetch should return a synthetic page")
	}
}

func TestFetchErrorLogs_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, nil)
	c.FetchErrorLogs(context.Background(), srv.URL, model.Session{}, "", "", 1)
	if calls.Load() != 1 {
		t.Errorf("attempts = %d, want 1", calls.Load())
	}
}

func TestFetchErrorLogs_MalformedJSONDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `<html>maintenance</html>`)
	}))
	defer srv.Close()

	c := newTestClient(t, nil)
	records := c.FetchErrorLogs(context.Background(), srv.URL, model.Session{}, "", "", 1)
	if c.Mode() != ModeDegraded {
		t.Fatalf("mode = %s, want degraded", c.Mode())
	}
	if len(records) < 10 || len(records) > 20 {
		t.Errorf("synthetic page size = %d, want 10..20", len(records))
	}
}

func TestFetchErrorLogs_DegradationIsSticky(t *testing.T) {
	var healthy atomic.Bool
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, serviceLogBody(100))
	}))
	defer srv.Close()

	c := newTestClient(t, nil)
	c.FetchErrorLogs(context.Background(), srv.URL, model.Session{}, "", "", 1)
	if c.Mode() != ModeDegraded {
		t.Fatalf("mode = %s, want degraded", c.Mode())
	}

	healthy.Store(true)
	before := calls.Load()
	records := c.FetchErrorLogs(context.Background(), srv.URL, model.Session{}, "", "", 1)
	if calls.Load() != before {
		t.Error("degraded client must not call the backend again")
	}
	if len(records) == 100 {
		t.Error("got real data from a degraded client")
	}
	if got := c.FetchErrorLogs(context.Background(), srv.URL, model.Session{}, "", "", 4); len(got) != 0 {
		t.Errorf("synthetic page 4 = %d records, want 0", len(got))
	}

	if session, ok := c.Login(context.Background(), srv.URL, "u", "p"); !ok || !session.Synthetic {
		t.Error("login on a degraded client should return a synthetic session")
	}
}

func TestFetchErrorLogs_PoolIsPerBaseURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, serviceLogBody(1))
	}))
	defer srv.Close()

	c := newTestClient(t, nil)
	c.FetchErrorLogs(context.Background(), srv.URL, model.Session{}, "", "", 1)
	c.FetchErrorLogs(context.Background(), srv.URL+"/", model.Session{}, "", "", 2)
	if c.PoolSize() != 1 {
		t.Errorf("pool size = %d, want 1", c.PoolSize())
	}
}

func TestClient_ConcurrentDegradeEmitsOnce(t *testing.T) {
	var warns atomic.Int32
	c := newTestClient(t, model.SinkFunc(func(e model.Event) {
		if e.Kind == model.EventWarn {
			warns.Add(1)
		}
	}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.degrade("test")
		}()
	}
	wg.Wait()
	if warns.Load() != 1 {
		t.Errorf("warnings = %d, want 1", warns.Load())
	}
}

func TestLogin_CanceledDoesNotDegrade(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := newTestClient(t, nil)
	session, ok := c.Login(ctx, srv.URL, "u", "p")
	if ok || session.Synthetic {
		t.Errorf("Login(canceled) = %+v, %v; want plain failure", session, ok)
	}
	if c.Mode() != ModeLive {
		t.Errorf("cancellation must not degrade the client, mode = %s", c.Mode())
	}
}
