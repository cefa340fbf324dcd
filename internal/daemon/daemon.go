// Package daemon runs synchronization automatically.
//
// The daemon:
//  1. Runs one sync on startup
//  2. Watches the local database for writes and syncs after a quiet period
//  3. Syncs on a fixed interval regardless of local activity
//  4. Holds a file lock per run so a concurrent `gtdsync sync` cannot overlap
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"

	gsync "github.com/gtdsync/gtdsync/internal/sync"
)

// ErrBusy is returned by RunOnce when another process holds the local sync lock.
var ErrBusy = errors.New("another sync is running on this machine")

// Syncer runs one synchronization. *sync.Orchestrator implements it.
type Syncer interface {
	Sync(ctx context.Context, opts gsync.Options) (*gsync.Result, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// Interval between unconditional syncs. Zero disables the ticker.
	Interval time.Duration

	// Debounce is how long local writes must settle before a sync starts.
	// Writes observed within Debounce of a finished run are treated as
	// caused by that run and ignored.
	Debounce time.Duration

	// LockPath is the gofrs/flock file guarding each run. Empty disables it.
	LockPath string

	// Options are passed to every Sync call.
	Options gsync.Options

	// OnRun, if set, is called after every attempted run.
	OnRun func(res *gsync.Result, err error)

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval: 15 * time.Minute,
		Debounce: 5 * time.Second,
		Logger:   log.NewWithOptions(os.Stderr, log.Options{Prefix: "daemon"}),
	}
}

// Daemon schedules sync runs.
type Daemon struct {
	syncer Syncer
	dbPath string
	config *Config
	flock  *flock.Flock

	watcher *fsnotify.Watcher

	mu        sync.Mutex // guards the fields below
	dirtyAt   time.Time
	running   bool
	quietTill time.Time

	runMu sync.Mutex // serializes runs

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon that syncs with s and watches the database at dbPath.
func New(s Syncer, dbPath string, config *Config) (*Daemon, error) {
	if s == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if dbPath == "" {
		return nil, fmt.Errorf("dbPath cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultConfig().Debounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		syncer:  s,
		dbPath:  filepath.Clean(dbPath),
		config:  config,
		watcher: watcher,
		ctx:     ctx,
		cancel:  cancel,
	}
	if config.LockPath != "" {
		d.flock = flock.New(config.LockPath)
	}
	return d, nil
}

// Start runs the initial sync and then schedules further runs until ctx is
// cancelled. It blocks.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Info("starting daemon", "db", d.dbPath, "interval", d.config.Interval, "debounce", d.config.Debounce)

	d.runLogged(ctx)

	dir := filepath.Dir(d.dbPath)
	if err := d.watcher.Add(dir); err != nil {
		_ = d.Stop()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChanges(ctx)
	if d.config.Interval > 0 {
		d.wg.Add(1)
		go d.runPeriodically(ctx)
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Info("shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop shuts the daemon down and waits for background work.
func (d *Daemon) Stop() error {
	d.cancel()
	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Warn("error closing watcher", "err", err)
	}
	d.wg.Wait()
	d.config.Logger.Info("daemon stopped")
	return nil
}

// RunOnce performs a single sync while holding the local file lock.
func (d *Daemon) RunOnce(ctx context.Context) (*gsync.Result, error) {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	if d.flock != nil {
		locked, err := d.flock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("failed to take local sync lock: %w", err)
		}
		if !locked {
			return nil, ErrBusy
		}
		defer func() {
			if err := d.flock.Unlock(); err != nil {
				d.config.Logger.Warn("failed to release local sync lock", "err", err)
			}
		}()
	}

	d.mu.Lock()
	d.running = true
	d.dirtyAt = time.Time{}
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.running = false
		d.dirtyAt = time.Time{}
		d.quietTill = time.Now().Add(d.config.Debounce)
		d.mu.Unlock()
	}()

	return d.syncer.Sync(ctx, d.config.Options)
}

func (d *Daemon) runLogged(ctx context.Context) {
	start := time.Now()
	res, err := d.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrBusy):
		d.config.Logger.Info("skipping run", "reason", err)
	case errors.Is(err, gsync.ErrLocked):
		d.config.Logger.Info("remote is locked by another device, will retry")
	case err != nil:
		d.config.Logger.Error("sync failed", "err", err)
	default:
		d.config.Logger.Info("sync completed", "took", time.Since(start).Round(time.Millisecond))
	}
	if d.config.OnRun != nil {
		d.config.OnRun(res, err)
	}
}

// isDatabaseFile reports whether name is the database or one of its
// SQLite side files.
func (d *Daemon) isDatabaseFile(name string) bool {
	name = filepath.Clean(name)
	if name == d.dbPath {
		return true
	}
	for _, suffix := range []string{"-wal", "-journal"} {
		if name == d.dbPath+suffix {
			return true
		}
	}
	return false
}

func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !d.isDatabaseFile(event.Name) {
				continue
			}
			d.markDirty(event)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Warn("watcher error", "err", err)
		}
	}
}

func (d *Daemon) markDirty(event fsnotify.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if d.running || now.Before(d.quietTill) {
		return
	}
	d.config.Logger.Debug("database changed", "op", event.Op.String(), "file", filepath.Base(event.Name))
	d.dirtyAt = now
}

// takeDirty reports whether local writes have settled and clears the mark.
func (d *Daemon) takeDirty(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dirtyAt.IsZero() || now.Sub(d.dirtyAt) < d.config.Debounce {
		return false
	}
	d.dirtyAt = time.Time{}
	return true
}

func (d *Daemon) processChanges(ctx context.Context) {
	defer d.wg.Done()

	tick := d.config.Debounce / 4
	if tick <= 0 {
		tick = time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if d.takeDirty(now) {
				d.config.Logger.Info("local changes settled, syncing")
				d.runLogged(ctx)
			}
		}
	}
}

func (d *Daemon) runPeriodically(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runLogged(ctx)
		}
	}
}

// String describes the daemon for status output.
func (d *Daemon) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "watching %s", d.dbPath)
	if d.config.Interval > 0 {
		fmt.Fprintf(&b, ", every %s", d.config.Interval)
	}
	return b.String()
}
