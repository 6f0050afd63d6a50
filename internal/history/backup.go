package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultBackupInterval = 24 * time.Hour
	defaultBackupKeepLast = 7
	backupPrefix          = "errlens-history-"
)

// ErrInMemoryStore indicates the store uses an in-memory DB and cannot be snapshotted.
var ErrInMemoryStore = errors.New("history: in-memory store cannot be snapshotted")

// DBPath returns the configured database path. Empty means in-memory.
func (s *Store) DBPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dbPath
}

// SnapshotTo checkpoints the database and copies the file to dstPath.
func (s *Store) SnapshotTo(dstPath string) error {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	s.mu.Lock()
	dbPath := s.dbPath
	if dbPath == "" {
		s.mu.Unlock()
		return ErrInMemoryStore
	}
	if _, err := s.db.Exec("CHECKPOINT"); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("checkpoint: %w", err)
	}
	s.mu.Unlock()

	if err := copyFile(dbPath, dstPath); err != nil {
		return fmt.Errorf("copy history db: %w", err)
	}
	return nil
}

func copyFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp := dstPath + ".tmp"
	dst, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dstPath)
}

// BackupConfig controls periodic history snapshots.
type BackupConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Dir      string        `mapstructure:"dir"`
	KeepLast int           `mapstructure:"keep-last"`
}

// Backup takes periodic local snapshots of the history database.
type Backup struct {
	store *Store
	cfg   BackupConfig
	now   func() time.Time

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewBackup validates the config and starts the snapshot loop. It returns nil
// when backups are disabled.
func NewBackup(store *Store, cfg BackupConfig) (*Backup, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if store == nil {
		return nil, errors.New("history backup: nil store")
	}
	if strings.TrimSpace(store.DBPath()) == "" {
		return nil, fmt.Errorf("history backup: %w", ErrInMemoryStore)
	}
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("history backup: dir is required when backup is enabled")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultBackupInterval
	}
	if cfg.KeepLast <= 0 {
		cfg.KeepLast = defaultBackupKeepLast
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("history backup: create dir: %w", err)
	}

	b := &Backup{store: store, cfg: cfg, now: store.now, done: make(chan struct{})}
	if err := b.RunOnce(context.Background()); err != nil {
		slog.Warn("history backup: startup snapshot failed", "error", err)
	}

	b.wg.Add(1)
	go b.loop()
	return b, nil
}

func (b *Backup) loop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := b.RunOnce(context.Background()); err != nil {
				slog.Warn("history backup: periodic snapshot failed", "error", err)
			}
		case <-b.done:
			return
		}
	}
}

// RunOnce writes one snapshot and prunes old ones.
func (b *Backup) RunOnce(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name := backupPrefix + b.now().UTC().Format("20060102-150405") + ".duckdb"
	path := filepath.Join(b.cfg.Dir, name)

	if err := b.store.SnapshotTo(path); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	slog.Info("history backup: created snapshot", "path", path)

	if err := pruneBackups(b.cfg.Dir, b.cfg.KeepLast); err != nil {
		return fmt.Errorf("prune backups: %w", err)
	}
	return nil
}

// Stop terminates the snapshot loop.
func (b *Backup) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.wg.Wait()
	})
}

func pruneBackups(dir string, keepLast int) error {
	matches, err := filepath.Glob(filepath.Join(dir, backupPrefix+"*.duckdb"))
	if err != nil {
		return err
	}
	if len(matches) <= keepLast {
		return nil
	}
	// The timestamp in the name sorts chronologically.
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	for _, old := range matches[keepLast:] {
		if err := os.Remove(old); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
