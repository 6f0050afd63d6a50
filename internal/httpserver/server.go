package httpserver

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tinytelemetry/errlens/internal/history"
	"github.com/tinytelemetry/errlens/internal/model"
)

const (
	defaultAddr      = "127.0.0.1:3000"
	defaultKeepAlive = 25 * time.Second
)

// Runner is the narrow run-control contract required by the HTTP API.
type Runner interface {
	Start(ctx context.Context, ch model.Channel, w model.Window) bool
	Stop(key string) bool
	Running(key string) bool
	Active() []string
}

// HistoryStore is the narrow history contract required by the HTTP API.
type HistoryStore interface {
	Records(ctx context.Context, channel string, limit int) ([]history.Record, error)
	Stats(ctx context.Context) (map[string]history.ChannelStats, error)
}

// EventSource hands out event subscriptions.
type EventSource interface {
	Subscribe() (<-chan model.Event, func())
}

// Config holds the server's collaborators. History and Events are optional.
type Config struct {
	Addr        string
	ServiceName string
	Channels    []model.Channel
	Runner      Runner
	History     HistoryStore
	Events      EventSource
	KeepAlive   time.Duration
	Now         func() time.Time
}

// Server provides an HTTP API for triggering runs and reading their results.
type Server struct {
	addr        string
	serviceName string
	channels    []model.Channel
	runner      Runner
	history     HistoryStore
	events      EventSource
	keepAlive   time.Duration
	now         func() time.Time

	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new HTTP API server.
func NewServer(conf Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr:        conf.Addr,
		serviceName: conf.ServiceName,
		channels:    conf.Channels,
		runner:      conf.Runner,
		history:     conf.History,
		events:      conf.Events,
		keepAlive:   conf.KeepAlive,
		now:         conf.Now,
		ctx:         ctx,
		cancel:      cancel,
		startTime:   time.Now(),
	}
	if s.addr == "" {
		s.addr = defaultAddr
	}
	if s.serviceName == "" {
		s.serviceName = "errlens"
	}
	if s.keepAlive <= 0 {
		s.keepAlive = defaultKeepAlive
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Handler returns the routed gin engine.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(s.serviceName))

	api := r.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/channels", s.handleChannels)
	api.POST("/channels/:key/run", s.handleStartRun)
	api.DELETE("/channels/:key/run", s.handleStopRun)
	api.GET("/history", s.handleHistory)
	api.GET("/events", s.handleEvents)
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: /api/events streams for as long as the client stays.
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.addr = listener.Addr().String()
	s.startTime = time.Now()

	go s.server.Serve(listener)
	return nil
}

// Addr returns the listen address, resolved once Start has bound it.
func (s *Server) Addr() string {
	return s.addr
}

// Stop gracefully shuts down the HTTP server. Runs started through the API
// are canceled.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) channel(key string) (model.Channel, bool) {
	for _, ch := range s.channels {
		if ch.ID() == key {
			return ch, true
		}
	}
	return model.Channel{}, false
}

func (s *Server) handleHealth(c *gin.Context) {
	running := 0
	if s.runner != nil {
		running = len(s.runner.Active())
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"uptime":   time.Since(s.startTime).String(),
		"channels": len(s.channels),
		"running":  running,
	})
}

type channelView struct {
	Key     string                `json:"key"`
	Name    string                `json:"name"`
	Code    string                `json:"code,omitempty"`
	Label   string                `json:"label"`
	Source  string                `json:"source"`
	Running bool                  `json:"running"`
	Stats   *history.ChannelStats `json:"stats,omitempty"`
}

func (s *Server) handleChannels(c *gin.Context) {
	var stats map[string]history.ChannelStats
	if s.history != nil {
		var err error
		stats, err = s.history.Stats(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read channel stats"})
			return
		}
	}

	views := make([]channelView, 0, len(s.channels))
	for _, ch := range s.channels {
		v := channelView{
			Key:    ch.ID(),
			Name:   ch.Name,
			Code:   ch.Code,
			Label:  model.ChannelLabel(ch.Code),
			Source: "admin-api",
		}
		if ch.LogFile != "" {
			v.Source = "log-file"
		}
		if s.runner != nil {
			v.Running = s.runner.Running(v.Key)
		}
		if st, ok := stats[v.Key]; ok {
			v.Stats = &st
		}
		views = append(views, v)
	}
	c.JSON(http.StatusOK, gin.H{"channels": views})
}

func (s *Server) handleStartRun(c *gin.Context) {
	if s.runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "runner not configured"})
		return
	}
	ch, ok := s.channel(c.Param("key"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown channel"})
		return
	}

	var w model.Window
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&w); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
			return
		}
	}
	w = w.WithDefaults(s.now())

	// Runs outlive the request, so they hang off the server context.
	if !s.runner.Start(s.ctx, ch, w) {
		c.JSON(http.StatusOK, gin.H{"status": "running", "channel": ch.ID()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "started", "channel": ch.ID(), "window": w})
}

func (s *Server) handleStopRun(c *gin.Context) {
	if s.runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "runner not configured"})
		return
	}
	ch, ok := s.channel(c.Param("key"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown channel"})
		return
	}
	if !s.runner.Stop(ch.ID()) {
		c.JSON(http.StatusOK, gin.H{"status": "idle", "channel": ch.ID()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "stopping", "channel": ch.ID()})
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history not configured"})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	records, err := s.history.Records(c.Request.Context(), c.Query("channel"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
}

func (s *Server) handleEvents(c *gin.Context) {
	if s.events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream not configured"})
		return
	}
	filter := c.Query("channel")
	events, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	setSSEHeaders(c.Writer)
	c.SSEvent("ping", "ready")
	c.Writer.Flush()

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-s.ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if filter != "" && e.Channel != filter {
				continue
			}
			c.SSEvent(strings.ToLower(string(e.Kind)), e)
			c.Writer.Flush()
		case t := <-ticker.C:
			c.SSEvent("ping", t.UTC().Format(time.RFC3339Nano))
			c.Writer.Flush()
		}
	}
}

func setSSEHeaders(w http.ResponseWriter) {
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
}
