package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/gtdsync/gtdsync/internal/exchange"
	"github.com/gtdsync/gtdsync/internal/lock"
	"github.com/gtdsync/gtdsync/internal/transport"
)

// Progress messages.
const (
	MsgStart     = "Starting synchronization"
	MsgBackup    = "Creating backup"
	MsgLock      = "Checking sync lock"
	MsgDownload  = "Downloading..."
	MsgUpload    = "Uploading..."
	MsgUnlock    = "Removing sync lock"
	MsgCompleted = "Completed"
	MsgLocked    = "Synchronization file is locked. Can't synchronize..."
)

// Notifier receives progress as (percent 0-100, message). Returning an error
// aborts the run.
type Notifier func(percent int, msg string) error

// Backuper snapshots the local store before anything else happens.
type Backuper interface {
	CreateBackup(ctx context.Context) (string, error)
}

// Importer loads a downloaded payload into the local store.
type Importer interface {
	Import(ctx context.Context, data []byte) (*exchange.LoadStats, error)
}

// Exporter produces the payload to upload.
type Exporter interface {
	Export(ctx context.Context) ([]byte, error)
}

// Config wires an Orchestrator.
type Config struct {
	Transport transport.Transport

	// Lock guards the run. If nil, a lock.RemoteCoordinator on Transport
	// using DeviceSource is created.
	Lock         lock.Coordinator
	DeviceSource lock.DeviceSource

	Backup   Backuper
	Importer Importer
	Exporter Exporter

	// Fs holds the temporary blob file. Defaults to the OS filesystem.
	Fs afero.Fs
	// TempDir is where the temporary file is created ("" = system default).
	TempDir string

	Notifier Notifier
	Logger   *log.Logger
}

// Options tune a single run.
type Options struct {
	// LoadOnly imports the remote blob without exporting or uploading.
	LoadOnly bool
}

// Result describes a finished run.
type Result struct {
	Downloaded bool
	Imported   bool
	Uploaded   bool
	Stats      *exchange.LoadStats
	BackupPath string
	Duration   time.Duration
}

// Orchestrator sequences a synchronization run. It is safe to share, but
// runs never overlap: a concurrent Sync returns ErrInProgress.
type Orchestrator struct {
	transport transport.Transport
	lock      lock.Coordinator
	backup    Backuper
	importer  Importer
	exporter  Exporter
	fs        afero.Fs
	tempDir   string
	notifier  Notifier
	logger    *log.Logger

	state   atomic.Int32
	running atomic.Bool
}

// New creates an Orchestrator. If cfg.Logger is nil, a default stderr logger
// is used.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "sync"})
	}
	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	coord := cfg.Lock
	if coord == nil && cfg.Transport != nil {
		coord = lock.NewRemoteCoordinator(cfg.Transport, cfg.DeviceSource, logger.WithPrefix("lock"))
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = func(int, string) error { return nil }
	}
	return &Orchestrator{
		transport: cfg.Transport,
		lock:      coord,
		backup:    cfg.Backup,
		importer:  cfg.Importer,
		exporter:  cfg.Exporter,
		fs:        fs,
		tempDir:   cfg.TempDir,
		notifier:  notifier,
		logger:    logger,
	}
}

// State returns the state of the current (or last) run.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
	o.logger.Debug("sync state", "state", s)
}

// Sync performs one run. See the package documentation for the sequence.
func (o *Orchestrator) Sync(ctx context.Context, opts Options) (*Result, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrInProgress
	}
	defer o.running.Store(false)

	start := time.Now()
	res := &Result{}
	defer func() { res.Duration = time.Since(start) }()

	o.setState(StateIdle)
	if err := o.checkConfigured(); err != nil {
		return res, err
	}
	o.logger.Info("sync started", "path", transport.SyncPath, "load_only", opts.LoadOnly)

	if err := o.notifier(0, MsgStart); err != nil {
		return res, o.fail(err)
	}

	o.setState(StateBackingUp)
	if err := o.notifier(1, MsgBackup); err != nil {
		return res, o.fail(err)
	}
	backupPath, err := o.backup.CreateBackup(ctx)
	if err != nil {
		return res, o.fail(fmt.Errorf("failed to create backup: %w", err))
	}
	res.BackupPath = backupPath

	o.setState(StateAcquiringLock)
	if err := o.notifier(25, MsgLock); err != nil {
		return res, o.fail(err)
	}
	acquired, err := o.lock.TryAcquire(ctx)
	if err != nil {
		return res, o.fail(err)
	}
	if !acquired {
		o.setState(StateError)
		o.logger.Warn("sync skipped, lock held elsewhere")
		if err := o.notifier(100, MsgLocked); err != nil {
			return res, &Error{State: StateAcquiringLock, Err: errors.Join(ErrLocked, err)}
		}
		return res, ErrLocked
	}

	if err := o.runLocked(ctx, opts, res); err != nil {
		o.setState(StateError)
		return res, err
	}

	if err := o.notifier(100, MsgCompleted); err != nil {
		return res, o.fail(err)
	}
	o.setState(StateDone)
	o.logger.Info("sync completed", "downloaded", res.Downloaded, "uploaded", res.Uploaded,
		"took", time.Since(start).Round(time.Millisecond))
	return res, nil
}

// runLocked does the work that needs the lock. The deferred block releases
// the lock and removes the temporary file whatever happens.
func (o *Orchestrator) runLocked(ctx context.Context, opts Options, res *Result) (err error) {
	var tmpName string
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		o.setState(StateReleasingLock)
		notifyErr := o.notifier(90, MsgUnlock)
		o.lock.Release(cleanupCtx)
		if tmpName != "" {
			if rmErr := o.fs.Remove(tmpName); rmErr != nil && !os.IsNotExist(rmErr) {
				o.logger.Warn("failed to remove temporary file", "path", tmpName, "err", rmErr)
			}
		}
		if err == nil && notifyErr != nil {
			err = o.fail(notifyErr)
		}
	}()

	o.setState(StateDownloading)
	if err := o.notifier(2, MsgDownload); err != nil {
		return o.fail(err)
	}

	f, err := afero.TempFile(o.fs, o.tempDir, "gtdsync-*.zip")
	if err != nil {
		return o.fail(fmt.Errorf("failed to create temporary file: %w", err))
	}
	tmpName = f.Name()

	loaded, err := o.transport.Download(ctx, f, transport.SyncPath)
	if closeErr := f.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("failed to write temporary file: %w", closeErr)
	}
	if err != nil {
		return o.fail(err)
	}
	res.Downloaded = loaded

	o.setState(StateImporting)
	if loaded {
		data, err := afero.ReadFile(o.fs, tmpName)
		if err != nil {
			return o.fail(fmt.Errorf("failed to read downloaded file: %w", err))
		}
		stats, err := o.importer.Import(ctx, data)
		res.Stats = stats
		if err != nil {
			return o.fail(fmt.Errorf("failed to import: %w", err))
		}
		res.Imported = true
	} else {
		o.logger.Info("no remote sync file, nothing to import")
	}

	if opts.LoadOnly {
		return nil
	}

	o.setState(StateExporting)
	data, err := o.exporter.Export(ctx)
	if err != nil {
		return o.fail(fmt.Errorf("failed to export: %w", err))
	}
	if err := afero.WriteFile(o.fs, tmpName, data, 0o600); err != nil {
		return o.fail(fmt.Errorf("failed to write export: %w", err))
	}

	o.setState(StateUploading)
	o.transport.Delete(ctx, transport.SyncPath)
	if err := o.notifier(20, MsgUpload); err != nil {
		return o.fail(err)
	}
	if err := o.transport.Upload(ctx, data, transport.SyncPath, true); err != nil {
		return o.fail(fmt.Errorf("failed to upload: %w", err))
	}
	res.Uploaded = true
	return nil
}

func (o *Orchestrator) checkConfigured() error {
	switch {
	case o.transport == nil:
		return fmt.Errorf("%w: no remote transport", ErrNotConfigured)
	case o.backup == nil || o.importer == nil || o.exporter == nil || o.lock == nil:
		return fmt.Errorf("%w: missing collaborator", ErrNotConfigured)
	}
	if err := o.transport.Ready(); err != nil {
		return fmt.Errorf("%w: %w", ErrNotConfigured, err)
	}
	return nil
}

// fail records the failure against the current state.
func (o *Orchestrator) fail(err error) error {
	var serr *Error
	if errors.As(err, &serr) {
		return err
	}
	state := o.State()
	o.setState(StateError)
	o.logger.Error("sync failed", "state", state, "err", err)
	return &Error{State: state, Err: err}
}
