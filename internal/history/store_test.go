package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tinytelemetry/errlens/internal/model"
)

// clock is a manually advanced time source.
type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestStore(t *testing.T, c *clock) *Store {
	t.Helper()
	store, err := Open(context.Background(), "", Config{Now: c.now})
	if err != nil {
		t.Fatalf("Open(\"\") failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func report(key, name string, count int, status string) *model.Report {
	return &model.Report{
		Channel: model.Channel{Key: key, Name: name},
		Window:  model.Window{Start: "2026-01-28 00:00:00", End: "2026-01-28 23:59:59"},
		Summary: model.ExportSummary{IssueGroups: make([]model.RankedIssue, 2)},
		Count:   count,
		Status:  status,
		Path:    "/reports/" + key + ".json",
	}
}

func TestPublishAndRecords(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)}
	store := newTestStore(t, c)
	ctx := context.Background()

	if err := store.Publish(ctx, report("ma", "Mobile App", 12, model.StatusSuccess)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	c.t = c.t.Add(time.Minute)
	if err := store.Publish(ctx, report("hp", "Homepage", -1, model.StatusFailed)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	c.t = c.t.Add(time.Minute)
	if err := store.Publish(ctx, report("ma", "Mobile App", 3, "")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	all, err := store.Records(ctx, "", 0)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("records = %d, want 3", len(all))
	}
	if all[0].ErrorCount != 3 || all[1].ChannelKey != "hp" || all[2].ErrorCount != 12 {
		t.Errorf("records not newest first: %+v", all)
	}
	if all[0].Status != model.StatusSuccess || all[0].FileName != "ma.json" || all[0].IssueGroups != 2 {
		t.Errorf("record = %+v", all[0])
	}

	byKey, err := store.Records(ctx, "ma", 10)
	if err != nil {
		t.Fatalf("Records(ma): %v", err)
	}
	byName, err := store.Records(ctx, "Mobile App", 1)
	if err != nil {
		t.Fatalf("Records(Mobile App): %v", err)
	}
	if len(byKey) != 2 || len(byName) != 1 || byName[0].ErrorCount != 3 {
		t.Errorf("filtered = %d by key, %+v by name", len(byKey), byName)
	}
}

func TestRecordsEmpty(t *testing.T) {
	store := newTestStore(t, &clock{t: time.Now()})
	recs, err := store.Records(context.Background(), "nothing", 5)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if recs == nil || len(recs) != 0 {
		t.Errorf("records = %#v, want empty non-nil", recs)
	}
}

func TestStats(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)}
	store := newTestStore(t, c)
	ctx := context.Background()

	store.Publish(ctx, report("ma", "Mobile App", 12, model.StatusSuccess))
	store.Publish(ctx, report("ma", "Mobile App", -1, model.StatusFailed))
	c.t = c.t.Add(time.Hour)
	store.Publish(ctx, report("ma", "Mobile App", 0, model.StatusSuccess))

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	st := stats["ma"]
	if st.Runs != 3 || st.FailedRuns != 1 || st.TotalErrors != 12 {
		t.Errorf("stats = %+v", st)
	}
	if !st.LastRunAt.Equal(c.t) {
		t.Errorf("last run = %s, want %s", st.LastRunAt, c.t)
	}
}

func TestRetentionDeletesOldRecords(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := newTestStore(t, c)
	ctx := context.Background()

	store.Publish(ctx, report("old", "Old", 1, model.StatusSuccess))
	c.t = c.t.AddDate(0, 0, 20)
	store.Publish(ctx, report("new", "New", 1, model.StatusSuccess))

	cleaner := NewRetentionCleaner(store, RetentionConfig{RetentionDays: 10})
	if cleaner == nil {
		t.Fatal("expected non-nil retention cleaner")
	}
	defer cleaner.Stop()

	recs, err := store.Records(ctx, "", 0)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(recs) != 1 || recs[0].ChannelKey != "new" {
		t.Errorf("records after cleanup = %+v", recs)
	}
}

func TestRetentionCleaner_DisabledAndIdempotentStop(t *testing.T) {
	store := newTestStore(t, &clock{t: time.Now()})
	if NewRetentionCleaner(store, RetentionConfig{RetentionDays: -1}) != nil {
		t.Error("negative retention should disable the cleaner")
	}
	cleaner := NewRetentionCleaner(store)
	cleaner.Stop()
	cleaner.Stop()
}

func TestBackup_SnapshotsAndPrunes(t *testing.T) {
	dir := t.TempDir()
	c := &clock{t: time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)}
	store, err := Open(context.Background(), filepath.Join(dir, "history.duckdb"), Config{Now: c.now})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()
	store.Publish(context.Background(), report("ma", "Mobile App", 1, model.StatusSuccess))

	backupDir := filepath.Join(dir, "backups")
	b, err := NewBackup(store, BackupConfig{Enabled: true, Dir: backupDir, KeepLast: 2, Interval: time.Hour})
	if err != nil {
		t.Fatalf("NewBackup: %v", err)
	}
	defer b.Stop()

	for i := 0; i < 3; i++ {
		c.t = c.t.Add(time.Minute)
		if err := b.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
	}

	entries, err := os.ReadDir(backupDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("backups = %d, want 2", len(entries))
	}
	if entries[1].Name() != "errlens-history-20260128-100300.duckdb" {
		t.Errorf("newest backup = %s", entries[1].Name())
	}
}

func TestBackup_DisabledAndInMemory(t *testing.T) {
	store := newTestStore(t, &clock{t: time.Now()})
	if b, err := NewBackup(store, BackupConfig{}); b != nil || err != nil {
		t.Errorf("disabled backup = %v, %v; want nil, nil", b, err)
	}
	if _, err := NewBackup(store, BackupConfig{Enabled: true, Dir: t.TempDir()}); err == nil {
		t.Error("expected an error for an in-memory store")
	}
}
