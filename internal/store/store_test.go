package store

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtdsync/gtdsync/internal/exchange"
	"github.com/gtdsync/gtdsync/internal/payload"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "gtd.db"), log.New(io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_CreatesDirectoryAndSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "gtd.db")
	db, err := Open(path, log.New(io.Discard))
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
	assert.NoError(t, db.InitSchema(), "schema init is idempotent")
	assert.Equal(t, path, db.Path())
}

func TestWriteObjects_UpsertAndRead(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	objs := []exchange.Object{
		{UUID: "p", Fields: payload.Record{"title": "Project", "importance": int64(3)}},
		{UUID: "c", ParentUUID: "p", Refs: map[string]string{"context_id": "ctx"}, Fields: payload.Record{"title": "Child"}},
		{UUID: "gone", Deleted: true, Fields: payload.Record{"title": "Deleted"}},
	}
	require.NoError(t, db.WriteObjects(ctx, payload.Task, objs))

	got, err := db.Objects(ctx, payload.Task)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "p", got[0].UUID)
	assert.Equal(t, int64(3), got[0].Fields.Int("importance"))
	assert.Equal(t, "p", got[1].ParentUUID)
	assert.Equal(t, "ctx", got[1].Refs["context_id"])

	// upsert replaces
	objs[0].Fields = payload.Record{"title": "Renamed"}
	require.NoError(t, db.WriteObjects(ctx, payload.Task, objs[:1]))
	obj, err := db.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", obj.Fields.String("title"))

	deleted, err := db.Get(ctx, "gone")
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)

	_, err = db.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	counts, err := db.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[payload.Task])
}

func TestConf(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.GetConf(ctx, "theme")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.SetConf(ctx, "theme", "dark"))
	require.NoError(t, db.SetConf(ctx, "theme", "light"))
	val, err := db.GetConf(ctx, "theme")
	require.NoError(t, err)
	assert.Equal(t, "light", val)

	entries, err := db.ConfEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"theme": "light"}, entries)
}

func TestDeviceID(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.DeviceID(ctx)
	assert.ErrorIs(t, err, ErrDeviceIDNotFound)
	assert.ErrorIs(t, err, exchange.ErrNoDeviceID)

	id, err := db.EnsureDeviceID(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	again, err := db.EnsureDeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, again, "device id is stable")
}

func TestBackupManager_CreatesAndPrunes(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.SetConf(ctx, "k", "v"))

	dir := filepath.Join(t.TempDir(), "backups")
	mgr := NewBackupManager(db, dir, 2)
	base := time.Date(2025, 12, 3, 10, 0, 0, 0, time.UTC)
	tick := 0
	mgr.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	var paths []string
	for i := 0; i < 3; i++ {
		p, err := mgr.CreateBackup(ctx)
		require.NoError(t, err)
		paths = append(paths, p)
	}

	list, err := mgr.List()
	require.NoError(t, err)
	assert.Equal(t, paths[1:], list, "oldest backup pruned")

	restored, err := Open(list[1], log.New(io.Discard))
	require.NoError(t, err)
	defer restored.Close()
	val, err := restored.GetConf(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)
}

func TestStore_ExchangeRoundTrip(t *testing.T) {
	src := setupTestDB(t)
	dst := setupTestDB(t)
	ctx := context.Background()
	quiet := log.New(io.Discard)

	_, err := src.EnsureDeviceID(ctx)
	require.NoError(t, err)

	doc := payload.NewDocument()
	doc.Set(payload.Folder, []payload.Record{{"_id": int64(1), "parent_id": int64(0), "title": "Home"}})
	doc.Set(payload.Task, []payload.Record{
		{"_id": int64(2), "parent_id": int64(1), "title": "Child", "folder_id": int64(1)},
		{"_id": int64(1), "parent_id": int64(0), "title": "Parent"},
	})
	_, err = exchange.NewLoader(src, quiet).Load(ctx, doc)
	require.NoError(t, err)

	blob, err := exchange.NewDumper(src, quiet).Export(ctx)
	require.NoError(t, err)
	stats, err := exchange.NewLoader(dst, quiet).Import(ctx, blob)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total())

	tasks, err := dst.Objects(ctx, payload.Task)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "Parent", tasks[0].Fields.String("title"))
	assert.Equal(t, tasks[0].UUID, tasks[1].ParentUUID)

	_, err = dst.DeviceID(ctx)
	assert.ErrorIs(t, err, ErrDeviceIDNotFound, "device id is never imported")
}

func TestStore_ImportWithRepeatedUUIDKeepsBothRecords(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	dup := "11111111-1111-4111-8111-111111111111"
	doc := payload.NewDocument()
	doc.Set(payload.Task, []payload.Record{
		{"_id": int64(1), "parent_id": int64(0), "uuid": dup, "title": "first"},
		{"_id": int64(2), "parent_id": int64(0), "uuid": dup, "title": "second"},
	})

	stats, err := exchange.NewLoader(db, log.New(io.Discard)).Load(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Objects[payload.Task])

	counts, err := db.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[payload.Task])

	first, err := db.Get(ctx, dup)
	require.NoError(t, err)
	assert.Equal(t, "first", first.Fields.String("title"))
}

func TestStore_ExportAfterReparentIsParentFirst(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	quiet := log.New(io.Discard)

	x := "aaaaaaaa-0000-4000-8000-000000000001"
	y := "aaaaaaaa-0000-4000-8000-000000000002"
	doc := payload.NewDocument()
	doc.Set(payload.Task, []payload.Record{
		{"_id": int64(1), "parent_id": int64(0), "uuid": x, "title": "X"},
		{"_id": int64(2), "parent_id": int64(0), "uuid": y, "title": "Y"},
	})
	_, err := exchange.NewLoader(db, quiet).Load(ctx, doc)
	require.NoError(t, err)

	doc.Set(payload.Task, []payload.Record{
		{"_id": int64(1), "parent_id": int64(2), "uuid": x, "title": "X"},
		{"_id": int64(2), "parent_id": int64(0), "uuid": y, "title": "Y"},
	})
	_, err = exchange.NewLoader(db, quiet).Load(ctx, doc)
	require.NoError(t, err)

	out, err := exchange.NewDumper(db, quiet).Dump(ctx)
	require.NoError(t, err)
	tasks := out.Records(payload.Task)
	require.Len(t, tasks, 2)
	assert.Equal(t, "Y", tasks[0].String("title"))
	assert.Equal(t, "X", tasks[1].String("title"))
	assert.Equal(t, tasks[0].ID(), tasks[1].ParentID())
}
