package sync

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtdsync/gtdsync/internal/exchange"
	"github.com/gtdsync/gtdsync/internal/lock"
	"github.com/gtdsync/gtdsync/internal/payload"
	"github.com/gtdsync/gtdsync/internal/transport"
)

// callLog is shared by all fakes so tests can assert ordering.
type callLog struct {
	calls []string
}

func (c *callLog) add(name string) { c.calls = append(c.calls, name) }

func (c *callLog) count(name string) int {
	n := 0
	for _, call := range c.calls {
		if call == name {
			n++
		}
	}
	return n
}

type fakeTransport struct {
	log         *callLog
	blob        []byte
	notReady    error
	downloadErr error
	uploadErr   error
	uploaded    []byte
}

func (f *fakeTransport) Ready() error { return f.notReady }

func (f *fakeTransport) Download(_ context.Context, w io.Writer, _ string) (bool, error) {
	f.log.add("download")
	if f.downloadErr != nil {
		return false, f.downloadErr
	}
	if len(f.blob) == 0 {
		return false, nil
	}
	_, err := w.Write(f.blob)
	return err == nil, err
}

func (f *fakeTransport) Upload(_ context.Context, data []byte, _ string, _ bool) error {
	f.log.add("upload")
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.uploaded = data
	return nil
}

func (f *fakeTransport) Delete(_ context.Context, p string) {
	f.log.add("delete " + p)
}

func (f *fakeTransport) Stat(context.Context, string) (transport.Metadata, error) {
	f.log.add("stat")
	return transport.Metadata{}, &transport.Error{Op: "stat", Err: transport.ErrNotFound}
}

type fakeLock struct {
	log     *callLog
	free    bool
	err     error
	ctxDone bool
}

func (f *fakeLock) TryAcquire(context.Context) (bool, error) {
	f.log.add("acquire")
	return f.free, f.err
}

func (f *fakeLock) Release(ctx context.Context) {
	f.log.add("release")
	f.ctxDone = ctx.Err() != nil
}

type fakeBackup struct {
	log *callLog
	err error
}

func (f *fakeBackup) CreateBackup(context.Context) (string, error) {
	f.log.add("backup")
	return "/backups/gtd.db", f.err
}

type fakeImporter struct {
	log  *callLog
	err  error
	data []byte
}

func (f *fakeImporter) Import(_ context.Context, data []byte) (*exchange.LoadStats, error) {
	f.log.add("import")
	f.data = data
	return &exchange.LoadStats{Objects: map[payload.Collection]int{payload.Task: 1}}, f.err
}

type fakeExporter struct {
	log *callLog
	err error
}

func (f *fakeExporter) Export(context.Context) ([]byte, error) {
	f.log.add("export")
	return []byte("exported"), f.err
}

type progress struct {
	percent int
	msg     string
}

type harness struct {
	log       *callLog
	transport *fakeTransport
	lock      *fakeLock
	backup    *fakeBackup
	importer  *fakeImporter
	exporter  *fakeExporter
	fs        afero.Fs
	progress  []progress
	failAt    int
	logs      bytes.Buffer
}

func newHarness() *harness {
	cl := &callLog{}
	return &harness{
		log:       cl,
		transport: &fakeTransport{log: cl, blob: []byte("remote")},
		lock:      &fakeLock{log: cl, free: true},
		backup:    &fakeBackup{log: cl},
		importer:  &fakeImporter{log: cl},
		exporter:  &fakeExporter{log: cl},
		fs:        afero.NewMemMapFs(),
		failAt:    -1,
	}
}

func (h *harness) orchestrator() *Orchestrator {
	return New(Config{
		Transport: h.transport,
		Lock:      h.lock,
		Backup:    h.backup,
		Importer:  h.importer,
		Exporter:  h.exporter,
		Fs:        h.fs,
		TempDir:   "/tmp",
		Notifier: func(p int, msg string) error {
			h.progress = append(h.progress, progress{p, msg})
			if p == h.failAt {
				return errors.New("notifier exploded")
			}
			return nil
		},
		Logger: log.New(&h.logs),
	})
}

func (h *harness) percents() []int {
	out := make([]int, len(h.progress))
	for i, p := range h.progress {
		out[i] = p.percent
	}
	return out
}

func tempFiles(t *testing.T, fs afero.Fs) []string {
	t.Helper()
	matches, err := afero.Glob(fs, "/tmp/gtdsync-*")
	require.NoError(t, err)
	return matches
}

func TestSync_FullRun(t *testing.T) {
	h := newHarness()
	orch := h.orchestrator()

	res, err := orch.Sync(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"backup", "acquire", "download", "import", "export",
		"delete " + transport.SyncPath, "upload", "release",
	}, h.log.calls)
	assert.Equal(t, []int{0, 1, 25, 2, 20, 90, 100}, h.percents())
	assert.Equal(t, MsgCompleted, h.progress[len(h.progress)-1].msg)

	assert.True(t, res.Downloaded)
	assert.True(t, res.Imported)
	assert.True(t, res.Uploaded)
	assert.Equal(t, "/backups/gtd.db", res.BackupPath)
	assert.Equal(t, 1, res.Stats.Total())
	assert.Equal(t, "remote", string(h.importer.data))
	assert.Equal(t, "exported", string(h.transport.uploaded))
	assert.Equal(t, StateDone, orch.State())
	assert.Empty(t, tempFiles(t, h.fs), "temporary file removed")
}

func TestSync_LoadOnlyNeverUploads(t *testing.T) {
	h := newHarness()

	res, err := h.orchestrator().Sync(context.Background(), Options{LoadOnly: true})
	require.NoError(t, err)

	assert.Zero(t, h.log.count("upload"))
	assert.Zero(t, h.log.count("export"))
	assert.Zero(t, h.log.count("delete "+transport.SyncPath))
	assert.Equal(t, 1, h.log.count("download"))
	assert.Equal(t, 1, h.log.count("import"))
	assert.Equal(t, 1, h.log.count("release"))
	assert.Equal(t, []int{0, 1, 25, 2, 90, 100}, h.percents())
	assert.False(t, res.Uploaded)
}

func TestSync_LoadOnlyImportFailureStillReleases(t *testing.T) {
	h := newHarness()
	h.importer.err = errors.New("corrupt payload")
	orch := h.orchestrator()

	_, err := orch.Sync(context.Background(), Options{LoadOnly: true})
	require.Error(t, err)

	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, StateImporting, serr.State)
	assert.ErrorContains(t, err, "corrupt payload")

	assert.Zero(t, h.log.count("upload"))
	assert.Equal(t, 1, h.log.count("download"))
	assert.Equal(t, 1, h.log.count("import"))
	assert.Equal(t, 1, h.log.count("release"))
	assert.Equal(t, StateError, orch.State())
	assert.Empty(t, tempFiles(t, h.fs))
}

func TestSync_ReleasesLockOnEveryFailure(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(h *harness)
		wantState State
	}{
		{"download", func(h *harness) { h.transport.downloadErr = &transport.Error{Op: "download", Err: transport.ErrAuth} }, StateDownloading},
		{"import", func(h *harness) { h.importer.err = errors.New("constraint failed") }, StateImporting},
		{"export", func(h *harness) { h.exporter.err = errors.New("query failed") }, StateExporting},
		{"upload", func(h *harness) { h.transport.uploadErr = errors.New("connection reset") }, StateUploading},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			tt.setup(h)

			_, err := h.orchestrator().Sync(context.Background(), Options{})
			require.Error(t, err)

			var serr *Error
			require.ErrorAs(t, err, &serr)
			assert.Equal(t, tt.wantState, serr.State)
			assert.Equal(t, 1, h.log.count("release"))
			assert.Equal(t, "release", h.log.calls[len(h.log.calls)-1])
			assert.Contains(t, h.percents(), 90)
			assert.NotContains(t, h.percents(), 100)
		})
	}
}

func TestSync_BackupRunsFirst(t *testing.T) {
	for name, setup := range map[string]func(*harness){
		"success":       func(*harness) {},
		"locked":        func(h *harness) { h.lock.free = false },
		"lock error":    func(h *harness) { h.lock.err = errors.New("dial tcp: timeout") },
		"upload failed": func(h *harness) { h.transport.uploadErr = errors.New("boom") },
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness()
			setup(h)
			_, _ = h.orchestrator().Sync(context.Background(), Options{})
			require.NotEmpty(t, h.log.calls)
			assert.Equal(t, "backup", h.log.calls[0])
		})
	}
}

func TestSync_BackupFailureStopsBeforeNetwork(t *testing.T) {
	h := newHarness()
	h.backup.err = errors.New("disk full")

	_, err := h.orchestrator().Sync(context.Background(), Options{})
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, StateBackingUp, serr.State)
	assert.Equal(t, []string{"backup"}, h.log.calls)
}

func TestSync_Locked(t *testing.T) {
	h := newHarness()
	h.lock.free = false
	orch := h.orchestrator()

	_, err := orch.Sync(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrLocked)
	assert.Equal(t, []string{"backup", "acquire"}, h.log.calls, "no download and no release")

	last := h.progress[len(h.progress)-1]
	assert.Equal(t, 100, last.percent)
	assert.Equal(t, MsgLocked, last.msg)
}

func TestSync_LockAuthFailureIsConfigurationError(t *testing.T) {
	h := newHarness()
	h.lock.err = errors.Join(lock.ErrAuthentication, transport.ErrAuth)

	_, err := h.orchestrator().Sync(context.Background(), Options{})
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
	assert.False(t, errors.Is(err, ErrLocked))
	assert.Zero(t, h.log.count("download"))
	assert.Zero(t, h.log.count("release"))
}

func TestSync_NotConfigured(t *testing.T) {
	t.Run("transport not ready", func(t *testing.T) {
		h := newHarness()
		h.transport.notReady = &transport.Error{Op: "ready", Err: transport.ErrNotConfigured}

		_, err := h.orchestrator().Sync(context.Background(), Options{})
		assert.ErrorIs(t, err, ErrNotConfigured)
		assert.True(t, IsConfigurationError(err))
		assert.Empty(t, h.log.calls)
		assert.Empty(t, h.progress)
	})

	t.Run("no transport", func(t *testing.T) {
		h := newHarness()
		orch := New(Config{Backup: h.backup, Importer: h.importer, Exporter: h.exporter})

		_, err := orch.Sync(context.Background(), Options{})
		assert.ErrorIs(t, err, ErrNotConfigured)
		assert.Empty(t, h.log.calls)
	})
}

func TestSync_NothingToDownload(t *testing.T) {
	h := newHarness()
	h.transport.blob = nil

	res, err := h.orchestrator().Sync(context.Background(), Options{})
	require.NoError(t, err)

	assert.False(t, res.Downloaded)
	assert.Zero(t, h.log.count("import"))
	assert.Equal(t, 1, h.log.count("upload"), "first run still publishes local data")
	assert.Contains(t, h.logs.String(), "nothing to import")
}

func TestSync_NotifierErrorAborts(t *testing.T) {
	t.Run("before download", func(t *testing.T) {
		h := newHarness()
		h.failAt = 2

		_, err := h.orchestrator().Sync(context.Background(), Options{})
		require.Error(t, err)
		assert.ErrorContains(t, err, "notifier exploded")
		assert.Zero(t, h.log.count("download"))
		assert.Equal(t, 1, h.log.count("release"))
	})

	t.Run("at release", func(t *testing.T) {
		h := newHarness()
		h.failAt = 90

		_, err := h.orchestrator().Sync(context.Background(), Options{})
		var serr *Error
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, StateReleasingLock, serr.State)
		assert.Equal(t, 1, h.log.count("upload"))
		assert.Equal(t, 1, h.log.count("release"))
	})

	t.Run("at start", func(t *testing.T) {
		h := newHarness()
		h.failAt = 0

		_, err := h.orchestrator().Sync(context.Background(), Options{})
		require.Error(t, err)
		assert.Empty(t, h.log.calls)
	})
}

// stickyFs refuses to delete anything.
type stickyFs struct {
	afero.Fs
}

func (stickyFs) Remove(string) error {
	return errors.New("permission denied")
}

func TestSync_TempFileRemovalFailureIsOnlyAWarning(t *testing.T) {
	h := newHarness()
	h.fs = stickyFs{Fs: afero.NewMemMapFs()}

	_, err := h.orchestrator().Sync(context.Background(), Options{})
	require.NoError(t, err)
	assert.Contains(t, h.logs.String(), "failed to remove temporary file")
}

func TestSync_ReleaseSurvivesCancellation(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orch := h.orchestrator()
	orch.importer = importerFunc(func(context.Context, []byte) (*exchange.LoadStats, error) {
		cancel()
		return nil, context.Canceled
	})

	_, err := orch.Sync(ctx, Options{})
	require.Error(t, err)
	assert.Equal(t, 1, h.log.count("release"))
	assert.False(t, h.lock.ctxDone, "release gets a context that is not cancelled")
}

type importerFunc func(context.Context, []byte) (*exchange.LoadStats, error)

func (f importerFunc) Import(ctx context.Context, data []byte) (*exchange.LoadStats, error) {
	return f(ctx, data)
}

func TestSync_RejectsOverlappingRuns(t *testing.T) {
	h := newHarness()
	orch := h.orchestrator()
	orch.running.Store(true)

	_, err := orch.Sync(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrInProgress)
	assert.Empty(t, h.log.calls)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "acquiring lock", StateAcquiringLock.String())
	assert.Equal(t, "unknown", State(42).String())
}
