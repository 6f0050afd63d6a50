package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinytelemetry/errlens/internal/model"
	"github.com/tinytelemetry/errlens/internal/synthetic"
)

const (
	// DefaultMaxRetries allows one replay, i.e. at most two attempts.
	DefaultMaxRetries   = 1
	DefaultRetryBackoff = 100 * time.Millisecond

	maxResponseBytes = 32 << 20
)

// Mode is the data source state of a Client.
type Mode int32

const (
	ModeLive Mode = iota
	ModeDegraded
)

func (m Mode) String() string {
	if m == ModeDegraded {
		return "degraded"
	}
	return "live"
}

// Config holds tunable parameters for the client.
type Config struct {
	Timeout      time.Duration
	MaxRetries   int // 0 = DefaultMaxRetries, negative disables retry
	RetryBackoff time.Duration
	Generator    *synthetic.Generator
	Events       model.EventSink
	Transport    http.RoundTripper // base transport, mainly for tests
}

// Client talks to the admin API of one or more channels. It never returns a
// hard failure: the first unrecoverable error switches it to degraded mode,
// and from then on every call is answered by the synthetic generator.
type Client struct {
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	transport  http.RoundTripper
	synth      *synthetic.Generator
	events     model.EventSink

	mode atomic.Int32

	mu   sync.Mutex
	pool map[string]*http.Client
}

// NewClient creates a client in live mode.
func NewClient(conf ...Config) *Client {
	c := &Client{
		timeout:    model.DefaultRequestTimeout,
		maxRetries: DefaultMaxRetries,
		backoff:    DefaultRetryBackoff,
		events:     model.Discard,
		pool:       make(map[string]*http.Client),
	}
	if len(conf) > 0 {
		cfg := conf[0]
		if cfg.Timeout > 0 {
			c.timeout = cfg.Timeout
		}
		if cfg.MaxRetries > 0 {
			c.maxRetries = cfg.MaxRetries
		} else if cfg.MaxRetries < 0 {
			c.maxRetries = 0
		}
		if cfg.RetryBackoff > 0 {
			c.backoff = cfg.RetryBackoff
		}
		if cfg.Events != nil {
			c.events = cfg.Events
		}
		c.synth = cfg.Generator
		c.transport = cfg.Transport
	}
	if c.synth == nil {
		c.synth = synthetic.New()
	}
	return c
}

// Mode returns the current data source state.
func (c *Client) Mode() Mode {
	return Mode(c.mode.Load())
}

// Degraded reports whether the client serves synthetic data.
func (c *Client) Degraded() bool {
	return c.Mode() == ModeDegraded
}

// degrade moves the client to synthetic mode. The transition is one-way.
func (c *Client) degrade(reason string) {
	if c.mode.CompareAndSwap(int32(ModeLive), int32(ModeDegraded)) {
		c.emit(model.EventWarn, fmt.Sprintf("admin API unavailable (%s), switching to synthetic data", reason))
	}
}

func (c *Client) emit(kind model.EventKind, msg string) {
	model.Emitter{Sink: c.events}.Emit(kind, msg)
}

// Login authenticates against baseURL. Transport failures, non-2xx responses
// and application-level failure codes degrade the client and still report
// success with a synthetic session. It returns false only when the request
// cannot be built locally or ctx was canceled; neither degrades the client.
func (c *Client) Login(ctx context.Context, baseURL, userID, password string) (model.Session, bool) {
	if c.Degraded() {
		c.emit(model.EventDebug, "synthetic mode: login skipped")
		return model.Session{Synthetic: true}, true
	}

	endpoint, err := endpointURL(baseURL, loginPath)
	if err != nil {
		c.emit(model.EventError, fmt.Sprintf("login: %v", err))
		return model.Session{}, false
	}
	body, err := json.Marshal(newLoginRequest(userID, password))
	if err != nil {
		c.emit(model.EventError, fmt.Sprintf("login: marshal payload: %v", err))
		return model.Session{}, false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		c.emit(model.EventError, fmt.Sprintf("login: build request: %v", err))
		return model.Session{}, false
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("Accept", "application/json")

	c.emit(model.EventDebug, fmt.Sprintf("[%s] logging in as %s", baseURL, userID))

	// A fresh client per login keeps session cookies out of the shared pool.
	jar, _ := cookiejar.New(nil)
	hc := &http.Client{Timeout: c.timeout, Jar: jar, Transport: c.baseTransport()}

	resp, err := hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			c.emit(model.EventInfo, "login canceled")
			return model.Session{}, false
		}
		return c.syntheticSession(fmt.Sprintf("login: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.syntheticSession(fmt.Sprintf("login: status %d", resp.StatusCode))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return c.syntheticSession(fmt.Sprintf("login: read body: %v", err))
	}
	if reason, failed := loginFailure(data); failed {
		return c.syntheticSession("login rejected: " + reason)
	}

	c.emit(model.EventSuccess, fmt.Sprintf("[%s] login succeeded", baseURL))
	return model.Session{Cookies: jar.Cookies(req.URL)}, true
}

func (c *Client) syntheticSession(reason string) (model.Session, bool) {
	c.degrade(reason)
	return model.Session{Synthetic: true}, true
}

// FetchErrorLogs returns one page of error records for the window
// [start, end]. Empty bounds default to today. Any unrecoverable failure
// degrades the client and this call is answered with synthetic data.
func (c *Client) FetchErrorLogs(ctx context.Context, baseURL string, session model.Session, start, end string, page int) []model.LogRecord {
	w := model.Window{Start: start, End: end}.WithDefaults(time.Now())

	if session.Synthetic || c.Degraded() {
		c.emit(model.EventDebug, fmt.Sprintf("synthetic page %d for %s", page, w.Label()))
		return c.synth.Page(ctx, page)
	}

	c.emit(model.EventDebug, fmt.Sprintf("[%s] fetching error logs page %d (%s)", baseURL, page, w.Label()))
	records, err := c.fetch(ctx, baseURL, session, w, page)
	if err != nil {
		if ctx.Err() != nil {
			return []model.LogRecord{}
		}
		c.degrade(err.Error())
		return c.synth.Page(ctx, page)
	}
	return records
}

func (c *Client) fetch(ctx context.Context, baseURL string, session model.Session, w model.Window, page int) ([]model.LogRecord, error) {
	endpoint, err := endpointURL(baseURL, searchPath)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(newSearchRequest(w.Start, w.End, page))
	if err != nil {
		return nil, fmt.Errorf("marshal search: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("Accept", "application/json")
	for _, ck := range session.Cookies {
		req.AddCookie(ck)
	}

	resp, err := c.pooled(baseURL).Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("search: status %d", resp.StatusCode)
	}

	var decoded searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("search: decode response: %w", err)
	}
	return decoded.records(), nil
}

// pooled returns the reusable client for a base URL.
func (c *Client) pooled(baseURL string) *http.Client {
	key := strings.TrimRight(strings.TrimSpace(baseURL), "/")

	c.mu.Lock()
	defer c.mu.Unlock()

	if hc, ok := c.pool[key]; ok {
		return hc
	}
	hc := c.newRetryClient()
	c.pool[key] = hc
	return hc
}

// PoolSize returns the number of base URLs with a pooled connection.
func (c *Client) PoolSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pool)
}

func (c *Client) baseTransport() http.RoundTripper {
	if c.transport != nil {
		return c.transport
	}
	if t, ok := http.DefaultTransport.(*http.Transport); ok {
		return t.Clone()
	}
	return http.DefaultTransport
}

var errBadBaseURL = errors.New("base url must be an absolute http(s) url")

func endpointURL(baseURL, path string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", errBadBaseURL, baseURL)
	}
	return strings.TrimRight(u.String(), "/") + path, nil
}
