package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/gofrs/flock"

	"github.com/gtdsync/gtdsync/internal/config"
	"github.com/gtdsync/gtdsync/internal/exchange"
	"github.com/gtdsync/gtdsync/internal/lock"
	"github.com/gtdsync/gtdsync/internal/logging"
	"github.com/gtdsync/gtdsync/internal/store"
	gsync "github.com/gtdsync/gtdsync/internal/sync"
	"github.com/gtdsync/gtdsync/internal/transport"
	"github.com/gtdsync/gtdsync/internal/ui"
)

// Exit codes.
const (
	exitError  = 1
	exitConfig = 2
	exitLocked = 3
)

// app holds everything a command needs. Build it with openApp and release
// it with Close.
type app struct {
	cfg       *config.Config
	logger    *log.Logger
	logCloser io.Closer
	db        *store.DB
	deviceID  string
	transport transport.Transport
}

// loadConfig reads configuration and prints any warnings.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	for _, w := range cfg.Warnings {
		fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderWarn("⚠"), w)
	}
	return cfg, nil
}

// openApp loads config, opens the local database and builds the transport.
// When needRemote is false, remote settings are not validated.
func openApp(ctx context.Context, needRemote bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if needRemote {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", gsync.ErrNotConfigured, err)
		}
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	logger, closer, err := logging.New(logging.Options{
		Level:     cfg.Log.Level,
		File:      cfg.Log.File,
		MaxSizeMB: cfg.Log.MaxSizeMB,
	})
	if err != nil {
		return nil, err
	}

	db, err := store.Open(cfg.DB, logger.WithPrefix("store"))
	if err != nil {
		_ = closer.Close()
		return nil, err
	}
	deviceID, err := db.EnsureDeviceID(ctx)
	if err != nil {
		_ = db.Close()
		_ = closer.Close()
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, logCloser: closer, db: db, deviceID: deviceID}
	if needRemote {
		t, err := transport.New(ctx, cfg.TransportOptions(), logger.WithPrefix("transport"))
		if err != nil {
			a.Close()
			return nil, err
		}
		a.transport = t
	}
	return a, nil
}

// Close releases the database and the log file.
func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Warn("failed to close database", "err", err)
	}
	_ = a.logCloser.Close()
}

func (a *app) loader() *exchange.Loader {
	return exchange.NewLoader(a.db, a.logger.WithPrefix("import"))
}

func (a *app) dumper() *exchange.Dumper {
	return exchange.NewDumper(a.db, a.logger.WithPrefix("export"))
}

func (a *app) backups() *store.BackupManager {
	return store.NewBackupManager(a.db, a.cfg.Backup.Dir, a.cfg.Backup.Keep)
}

func (a *app) lockCoordinator() *lock.RemoteCoordinator {
	return lock.NewRemoteCoordinator(a.transport, a.db, a.logger.WithPrefix("lock"))
}

// orchestrator wires a sync.Orchestrator reporting progress to notify.
func (a *app) orchestrator(notify gsync.Notifier) *gsync.Orchestrator {
	return gsync.New(gsync.Config{
		Transport:    a.transport,
		Lock:         a.lockCoordinator(),
		DeviceSource: a.db,
		Backup:       a.backups(),
		Importer:     a.loader(),
		Exporter:     a.dumper(),
		TempDir:      a.cfg.DataDir,
		Notifier:     notify,
		Logger:       a.logger.WithPrefix("sync"),
	})
}

// withLocalLock runs fn while holding the machine-wide sync file lock.
func (a *app) withLocalLock(fn func() error) error {
	fl := flock.New(a.cfg.SyncLockPath())
	locked, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("failed to take local sync lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another gtdsync process is syncing (%s)", a.cfg.SyncLockPath())
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			a.logger.Warn("failed to release local sync lock", "err", err)
		}
	}()
	return fn()
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, gsync.ErrLocked):
		return exitLocked
	case gsync.IsConfigurationError(err):
		return exitConfig
	default:
		return exitError
	}
}
