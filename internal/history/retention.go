package history

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultRetentionDays is used when no retention is configured.
const DefaultRetentionDays = 90

// RetentionConfig holds configuration for the retention cleaner.
type RetentionConfig struct {
	RetentionDays int
	Interval      time.Duration
}

// RetentionCleaner periodically deletes history older than the retention period.
type RetentionCleaner struct {
	store         *Store
	retentionDays int
	interval      time.Duration
	done          chan struct{}
	wg            sync.WaitGroup
	stopOnce      sync.Once
}

// NewRetentionCleaner starts a cleaner. It returns nil when retention is
// negative (disabled).
func NewRetentionCleaner(store *Store, conf ...RetentionConfig) *RetentionCleaner {
	days := DefaultRetentionDays
	interval := time.Hour
	if len(conf) > 0 {
		if conf[0].RetentionDays != 0 {
			days = conf[0].RetentionDays
		}
		if conf[0].Interval > 0 {
			interval = conf[0].Interval
		}
	}
	if days <= 0 {
		return nil
	}

	rc := &RetentionCleaner{
		store:         store,
		retentionDays: days,
		interval:      interval,
		done:          make(chan struct{}),
	}

	// Startup cleanup to catch up after downtime.
	rc.Cleanup(context.Background())

	rc.wg.Add(1)
	go rc.tickLoop()
	return rc
}

func (rc *RetentionCleaner) tickLoop() {
	defer rc.wg.Done()
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rc.Cleanup(context.Background())
		case <-rc.done:
			return
		}
	}
}

// Cleanup deletes expired records once and returns how many were removed.
func (rc *RetentionCleaner) Cleanup(ctx context.Context) int64 {
	cutoff := rc.store.now().Add(-time.Duration(rc.retentionDays) * 24 * time.Hour)

	rows, err := rc.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		slog.Error("history retention cleanup failed", "error", err)
		return 0
	}
	if rows > 0 {
		slog.Info("history retention cleanup", "deleted", rows, "retention_days", rc.retentionDays)
	}
	return rows
}

// Stop signals the cleaner to stop and waits for it to finish.
func (rc *RetentionCleaner) Stop() {
	rc.stopOnce.Do(func() {
		close(rc.done)
		rc.wg.Wait()
	})
}
