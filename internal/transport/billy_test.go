package transport

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMem(t *testing.T) (*BillyTransport, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	return NewMemTransport(log.New(&logs)), &logs
}

func TestBilly_DownloadMissingIsNotAnError(t *testing.T) {
	tr, _ := newTestMem(t)
	var sink bytes.Buffer

	ok, err := tr.Download(context.Background(), &sink, SyncPath)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, sink.Len())
}

func TestBilly_UploadDownloadStat(t *testing.T) {
	tr, _ := newTestMem(t)
	ctx := context.Background()

	require.NoError(t, tr.Upload(ctx, []byte("blob"), SyncPath, true))

	var sink bytes.Buffer
	ok, err := tr.Download(ctx, &sink, SyncPath)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "blob", sink.String())

	meta, err := tr.Stat(ctx, SyncPath)
	require.NoError(t, err)
	assert.Equal(t, int64(4), meta.Size)
}

func TestBilly_DownloadEmptyFileReportsFalse(t *testing.T) {
	tr, _ := newTestMem(t)
	ctx := context.Background()
	require.NoError(t, tr.Upload(ctx, nil, SyncPath, true))

	ok, err := tr.Download(ctx, &bytes.Buffer{}, SyncPath)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBilly_UploadWithoutOverwriteConflicts(t *testing.T) {
	tr, _ := newTestMem(t)
	ctx := context.Background()

	require.NoError(t, tr.Upload(ctx, []byte("one"), LockPath, false))
	err := tr.Upload(ctx, []byte("two"), LockPath, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)

	var terr *Error
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "upload", terr.Op)
	assert.Equal(t, LockPath, terr.Path)

	require.NoError(t, tr.Upload(ctx, []byte("three"), LockPath, true))
}

func TestBilly_StatMissing(t *testing.T) {
	tr, _ := newTestMem(t)
	_, err := tr.Stat(context.Background(), LockPath)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsRetryable(err))
}

func TestBilly_DeleteIsBestEffort(t *testing.T) {
	tr, logs := newTestMem(t)
	ctx := context.Background()

	tr.Delete(ctx, LockPath)
	assert.Contains(t, logs.String(), "failed to delete")

	require.NoError(t, tr.Upload(ctx, []byte("x"), LockPath, true))
	tr.Delete(ctx, LockPath)
	_, err := tr.Stat(ctx, LockPath)
	assert.True(t, IsNotFound(err))
}

func TestBilly_Ready(t *testing.T) {
	assert.NoError(t, NewMemTransport(nil).Ready())

	err := NewDirTransport("", nil).Ready()
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestDirTransport_WritesUnderRoot(t *testing.T) {
	dir := t.TempDir()
	tr := NewDirTransport(dir, log.New(&bytes.Buffer{}))
	ctx := context.Background()

	require.NoError(t, tr.Upload(ctx, []byte("zipdata"), SyncPath, true))
	meta, err := tr.Stat(ctx, SyncPath)
	require.NoError(t, err)
	assert.Equal(t, int64(7), meta.Size)
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(context.Background(), Options{Backend: "ftp"}, nil)
	assert.Error(t, err)
}

func TestNew_MissingCredentialsNotReady(t *testing.T) {
	ctx := context.Background()

	m, err := New(ctx, Options{Backend: BackendMinio, Endpoint: "localhost:9000", Bucket: "b"}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, m.Ready(), ErrNotConfigured)

	s, err := New(ctx, Options{Backend: BackendS3, Bucket: "b"}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Ready(), ErrNotConfigured)
}
