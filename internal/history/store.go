package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tinytelemetry/errlens/internal/history/migrate"
	"github.com/tinytelemetry/errlens/internal/model"
)

// DefaultLimit caps Records when no limit is given.
const DefaultLimit = 100

// Config holds tunable parameters for the store.
type Config struct {
	NodeID int64 // snowflake node id, 0..1023
	Now    func() time.Time
}

// Record is one finished report run.
type Record struct {
	ID          int64     `json:"id,string"`
	CreatedAt   time.Time `json:"created_at"`
	ChannelKey  string    `json:"channel_key"`
	ChannelName string    `json:"channel"`
	StartPeriod string    `json:"start_period"`
	EndPeriod   string    `json:"end_period"`
	ReportPath  string    `json:"report_path"`
	FileName    string    `json:"file_name"`
	ErrorCount  int       `json:"error_count"`
	IssueGroups int       `json:"issue_groups"`
	Status      string    `json:"status"`
}

// ChannelStats summarizes the history of one channel.
type ChannelStats struct {
	ChannelKey  string    `json:"channel_key"`
	Runs        int64     `json:"runs"`
	FailedRuns  int64     `json:"failed_runs"`
	TotalErrors int64     `json:"total_errors"`
	LastRunAt   time.Time `json:"last_run_at"`
}

// Store keeps the report history in DuckDB. It implements model.ReportSink.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
	ids    *snowflake.Node
	now    func() time.Time
}

// Open opens or creates the history database and applies migrations. An empty
// dbPath uses an in-memory database.
func Open(ctx context.Context, dbPath string, conf ...Config) (*Store, error) {
	var cfg Config
	if len(conf) > 0 {
		cfg = conf[0]
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	ids, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("history: id generator: %w", err)
	}

	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("history: create db dir: %w", err)
		}
	}
	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	if err := migrate.NewRunner(db).Run(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}

	return &Store{db: db, dbPath: dbPath, ids: ids, now: cfg.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Publish records a finished report. Clean runs are recorded too.
func (s *Store) Publish(ctx context.Context, r *model.Report) error {
	if r == nil {
		return nil
	}
	id := s.ids.Generate().Int64()

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err := s.db.ExecContext(ctx, `INSERT INTO report_history
		(id, created_at, channel_key, channel_name, start_period, end_period, report_path, error_count, issue_groups, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, s.now().UTC(), r.Channel.ID(), r.Channel.Name, r.Window.Start, r.Window.End,
		r.Path, r.Count, len(r.Summary.IssueGroups), statusOf(r))
	if err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}
	return nil
}

func statusOf(r *model.Report) string {
	if r.Status == "" {
		return model.StatusSuccess
	}
	return r.Status
}

// Records returns up to limit records, newest first. An empty channel matches
// every channel; otherwise it matches the channel key or name.
func (s *Store) Records(ctx context.Context, channel string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT id, created_at, channel_key, channel_name, start_period,
			end_period, report_path, error_count, issue_groups, status
		FROM report_history
		WHERE ? = '' OR channel_key = ? OR channel_name = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, channel, channel, channel, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.CreatedAt, &rec.ChannelKey, &rec.ChannelName, &rec.StartPeriod,
			&rec.EndPeriod, &rec.ReportPath, &rec.ErrorCount, &rec.IssueGroups, &rec.Status); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		rec.FileName = filepath.Base(rec.ReportPath)
		if rec.ReportPath == "" {
			rec.FileName = ""
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Stats returns per-channel history totals keyed by channel key.
func (s *Store) Stats(ctx context.Context) (map[string]ChannelStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_key, runs, failed_runs, total_errors, last_run_at FROM channel_stats`)
	if err != nil {
		return nil, fmt.Errorf("history: stats: %w", err)
	}
	defer rows.Close()

	out := make(map[string]ChannelStats)
	for rows.Next() {
		var st ChannelStats
		if err := rows.Scan(&st.ChannelKey, &st.Runs, &st.FailedRuns, &st.TotalErrors, &st.LastRunAt); err != nil {
			return nil, fmt.Errorf("history: scan stats: %w", err)
		}
		out[st.ChannelKey] = st
	}
	return out, rows.Err()
}

// DeleteBefore removes records created before cutoff and returns the count.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, err := s.db.ExecContext(ctx, "DELETE FROM report_history WHERE created_at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("history: delete: %w", err)
	}
	return res.RowsAffected()
}
