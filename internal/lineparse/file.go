package lineparse

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/tinytelemetry/errlens/internal/model"
)

// DefaultMaxLineSize is the default maximum size (in bytes) of a single log line.
const DefaultMaxLineSize = 1024 * 1024 // 1MB

// FileConfig holds tunable parameters for the file client.
type FileConfig struct {
	MaxLineSize int
	Events      model.EventSink
}

// FileClient serves error records parsed from a local log file. It lets an
// offline channel run through the same pipeline as a remote one.
type FileClient struct {
	path        string
	maxLineSize int
	events      model.EventSink

	mu      sync.Mutex
	records []model.LogRecord
	lines   int
}

// NewFileClient creates a client for the log file at path.
func NewFileClient(path string, conf ...FileConfig) *FileClient {
	c := &FileClient{
		path:        path,
		maxLineSize: DefaultMaxLineSize,
		events:      model.Discard,
	}
	if len(conf) > 0 {
		if conf[0].MaxLineSize > 0 {
			c.maxLineSize = conf[0].MaxLineSize
		}
		if conf[0].Events != nil {
			c.events = conf[0].Events
		}
	}
	return c
}

// Login reads and parses the file. The base URL and credentials are ignored.
// An unreadable file is an unrecoverable local error and returns false.
func (c *FileClient) Login(ctx context.Context, _, _, _ string) (model.Session, bool) {
	em := model.Emitter{Sink: c.events}
	records, lines, err := c.load(ctx)
	if err != nil {
		em.Emit(model.EventError, fmt.Sprintf("read log file: %v", err))
		return model.Session{}, false
	}

	c.mu.Lock()
	c.records = records
	c.lines = lines
	c.mu.Unlock()

	em.Emit(model.EventInfo, fmt.Sprintf("%s: %d lines, %d error records", c.path, lines, len(records)))
	return model.Session{}, true
}

func (c *FileClient) load(ctx context.Context) ([]model.LogRecord, int, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, min(64*1024, c.maxLineSize)), c.maxLineSize)

	var records []model.LogRecord
	lines := 0
	for scanner.Scan() {
		lines++
		if lines%1024 == 0 && ctx.Err() != nil {
			return nil, lines, ctx.Err()
		}
		r, ok := ParseLine(scanner.Text())
		if ok && IsError(r) {
			records = append(records, r)
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, lines, fmt.Errorf("line %d exceeds %d bytes", lines+1, c.maxLineSize)
		}
		return nil, lines, err
	}
	return records, lines, nil
}

// FetchErrorLogs returns one page of the parsed error records that fall in
// [start, end]. Records whose time cannot be compared are kept.
func (c *FileClient) FetchErrorLogs(_ context.Context, _ string, _ model.Session, start, end string, page int) []model.LogRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	matched := make([]model.LogRecord, 0, len(c.records))
	for _, r := range c.records {
		if inWindow(r.Time, start, end) {
			matched = append(matched, r)
		}
	}

	from := (page - 1) * model.PageSize
	if page < 1 || from >= len(matched) {
		return []model.LogRecord{}
	}
	to := min(from+model.PageSize, len(matched))
	out := make([]model.LogRecord, to-from)
	copy(out, matched[from:to])
	return out
}

// Lines returns the number of lines read by the last Login.
func (c *FileClient) Lines() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lines
}

// inWindow compares "YYYY-MM-DD HH:MM:SS" strings lexically.
func inWindow(ts, start, end string) bool {
	t := strings.Replace(strings.Trim(ts, "[] "), "T", " ", 1)
	if len(t) < 19 {
		return true
	}
	t = t[:19]
	if len(start) >= 19 && t < start[:19] {
		return false
	}
	if len(end) >= 19 && t > end[:19] {
		return false
	}
	return true
}
