package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tinytelemetry/errlens/internal/model"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	// DefaultReadTimeout bounds the silence between two stream lines.
	DefaultReadTimeout = 300 * time.Second
	DefaultContentType = "application/json"
	DefaultQuery       = "Analyze the submitted error logs"

	unknownNode = "Unknown Node"
)

// Config holds the analysis backend settings.
type Config struct {
	URL            string
	Authorization  string
	ContentType    string
	User           string // default: random uuid per client
	Query          string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Events         model.EventSink
	Transport      http.RoundTripper
}

// Client submits export summaries to a streaming workflow backend.
type Client struct {
	url           string
	authorization string
	contentType   string
	user          string
	query         string
	readTimeout   time.Duration
	events        model.EventSink
	http          *http.Client
}

// NewClient creates a client. Requests are never retried: the workflow may
// already have side effects once the backend accepted it.
func NewClient(conf Config) *Client {
	c := &Client{
		url:           conf.URL,
		authorization: conf.Authorization,
		contentType:   conf.ContentType,
		user:          conf.User,
		query:         conf.Query,
		readTimeout:   conf.ReadTimeout,
		events:        conf.Events,
	}
	if c.contentType == "" {
		c.contentType = DefaultContentType
	}
	if c.user == "" {
		c.user = uuid.NewString()
	}
	if c.query == "" {
		c.query = DefaultQuery
	}
	if c.readTimeout <= 0 {
		c.readTimeout = DefaultReadTimeout
	}
	connect := conf.ConnectTimeout
	if connect <= 0 {
		connect = DefaultConnectTimeout
	}

	transport := conf.Transport
	if transport == nil {
		base := http.DefaultTransport.(*http.Transport).Clone()
		base.DialContext = (&net.Dialer{Timeout: connect}).DialContext
		base.ResponseHeaderTimeout = c.readTimeout
		transport = base
	}
	c.http = &http.Client{Transport: transport}
	return c
}

// User returns the user id sent with every request.
func (c *Client) User() string { return c.user }

type requestBody struct {
	Inputs struct {
		IssueGroups string `json:"issue_groups"`
	} `json:"inputs"`
	Query          string `json:"query"`
	ResponseMode   string `json:"response_mode"`
	ConversationID string `json:"conversation_id"`
	User           string `json:"user"`
}

func (c *Client) payload(summary model.ExportSummary) ([]byte, error) {
	groups := summary.IssueGroups
	if groups == nil {
		groups = []model.RankedIssue{}
	}
	var issues bytes.Buffer
	enc := json.NewEncoder(&issues)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(groups); err != nil {
		return nil, fmt.Errorf("encode issue groups: %w", err)
	}

	var body requestBody
	body.Inputs.IssueGroups = string(bytes.TrimRight(issues.Bytes(), "\n"))
	body.Query = c.query
	body.ResponseMode = "streaming"
	body.User = c.user
	return json.Marshal(body)
}

// Analyze posts the summary and streams notifications on the returned
// channel, which is closed when the stream ends. Cancelling ctx stops the
// stream; no further notifications are delivered after that.
func (c *Client) Analyze(ctx context.Context, summary model.ExportSummary) <-chan model.Notification {
	out := make(chan model.Notification)
	go func() {
		defer close(out)
		c.stream(ctx, summary, out)
	}()
	return out
}

func (c *Client) stream(ctx context.Context, summary model.ExportSummary, out chan<- model.Notification) {
	emitter := model.Emitter{Sink: c.events}
	send := func(n model.Notification) bool {
		select {
		case out <- n:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) {
		emitter.Emit(model.EventError, fmt.Sprintf("analysis request failed: %v", err))
		send(model.Notification{Kind: model.NotificationError, Message: err.Error()})
	}

	body, err := c.payload(summary)
	if err != nil {
		fail(err)
		return
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	// Cancels the request when the backend stays silent for too long.
	idle := time.AfterFunc(c.readTimeout, cancel)
	defer idle.Stop()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		fail(fmt.Errorf("build request: %w", err))
		return
	}
	req.Header.Set("Content-Type", c.contentType)
	req.Header.Set("Accept", "text/event-stream")
	if c.authorization != "" {
		req.Header.Set("Authorization", c.authorization)
	}

	emitter.Emit(model.EventInfo, fmt.Sprintf("streaming analysis request: %s", c.url))
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		fail(err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		fail(fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet)))
		return
	}

	dec := NewDecoder(&idleReader{r: resp.Body, idle: idle, timeout: c.readTimeout})
	for {
		env, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			fail(fmt.Errorf("read stream: %w", err))
			return
		}
		if ctx.Err() != nil {
			return
		}
		if !send(toNotification(env)) {
			return
		}
	}
}

// idleReader pushes the idle deadline back whenever the stream delivers
// bytes, so keep-alive lines count as activity.
type idleReader struct {
	r       io.Reader
	idle    *time.Timer
	timeout time.Duration
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.idle.Reset(r.timeout)
	}
	return n, err
}

func toNotification(env Envelope) model.Notification {
	switch env.Event {
	case EventWorkflowStarted, EventNodeStarted:
		title := env.Data.Title
		if title == "" {
			title = unknownNode
		}
		return model.Notification{
			Kind:  model.NotificationProgress,
			Event: env.Event,
			Label: fmt.Sprintf("AI processing: %s (%s)", title, env.Event),
		}
	case EventWorkflowFinished:
		return model.Notification{
			Kind:   model.NotificationResult,
			Event:  env.Event,
			Result: ParseResult(env.Data.Outputs.Res),
		}
	default:
		return model.Notification{
			Kind:    model.NotificationError,
			Event:   env.Event,
			Message: "analysis backend error: " + env.Message,
		}
	}
}
