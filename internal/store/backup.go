package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	backupPrefix = "gtd-"
	backupSuffix = ".db"
	backupLayout = "20060102-150405.000"
)

// Backup writes a consistent copy of the database to dest using VACUUM INTO.
// dest must not exist.
func (db *DB) Backup(ctx context.Context, dest string) error {
	if _, err := db.conn.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return fmt.Errorf("failed to back up database to %s: %w", dest, err)
	}
	return nil
}

// BackupManager creates timestamped backups and prunes old ones.
type BackupManager struct {
	db   *DB
	dir  string
	keep int
	now  func() time.Time
}

// NewBackupManager keeps at most keep backups in dir (keep <= 0 keeps all).
func NewBackupManager(db *DB, dir string, keep int) *BackupManager {
	return &BackupManager{db: db, dir: dir, keep: keep, now: time.Now}
}

// CreateBackup writes a new backup and returns its path.
func (m *BackupManager) CreateBackup(ctx context.Context) (string, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := backupPrefix + m.now().UTC().Format(backupLayout) + backupSuffix
	dest := filepath.Join(m.dir, name)
	if err := m.db.Backup(ctx, dest); err != nil {
		return "", err
	}

	if err := m.prune(); err != nil {
		m.db.logger.Warn("failed to prune old backups", "dir", m.dir, "err", err)
	}
	m.db.logger.Debug("backup created", "path", dest)
	return dest, nil
}

// List returns existing backups, oldest first.
func (m *BackupManager) List() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, backupSuffix) {
			continue
		}
		out = append(out, filepath.Join(m.dir, name))
	}
	// the timestamp layout sorts lexically
	sort.Strings(out)
	return out, nil
}

func (m *BackupManager) prune() error {
	if m.keep <= 0 {
		return nil
	}
	backups, err := m.List()
	if err != nil {
		return err
	}
	for len(backups) > m.keep {
		if err := os.Remove(backups[0]); err != nil {
			return err
		}
		backups = backups[1:]
	}
	return nil
}
