// Package transport moves sync blobs between this machine and a remote store.
//
// A Transport is a thin synchronous adapter: download to a sink, upload from
// memory, delete and stat. Every backend maps its own failures onto the small
// taxonomy in errors.go so callers never see SDK types:
//
//	ok, err := t.Download(ctx, f, transport.SyncPath)
//	if err != nil {
//	    // auth or connection problem
//	}
//	if !ok {
//	    // nothing on the remote yet (or rate limited), first run
//	}
//
// Backends:
//   - billy: a directory (typically a locally synced Dropbox folder) or memfs
//   - minio: any S3-compatible server through minio-go
//   - s3: Amazon S3 through aws-sdk-go-v2
package transport

import (
	"context"
	"io"
	"strings"
	"time"
)

// Fixed remote paths.
const (
	SyncPath = "/Apps/DGT-GTD/sync/GTD_SYNC.zip"
	LockPath = "/Apps/DGT-GTD/sync/sync.locked"
)

// Metadata describes a remote object.
type Metadata struct {
	Size     int64
	Modified time.Time
}

// Transport is the remote blob store as seen by the sync engine.
type Transport interface {
	// Ready reports whether the transport is configured well enough to be
	// used. It performs no I/O.
	Ready() error

	// Download streams remotePath into w. It returns true only if at least
	// one byte was written. A missing object or a rate limit is reported as
	// (false, nil); authentication and connection failures are errors.
	Download(ctx context.Context, w io.Writer, remotePath string) (bool, error)

	// Upload stores data at remotePath. Without overwrite an existing object
	// yields ErrConflict. Failures are always returned.
	Upload(ctx context.Context, data []byte, remotePath string, overwrite bool) error

	// Delete removes remotePath. It is best-effort: failures are logged as
	// warnings and never returned.
	Delete(ctx context.Context, remotePath string)

	// Stat returns object metadata, or an error wrapping ErrNotFound.
	Stat(ctx context.Context, remotePath string) (Metadata, error)
}

// objectKey turns a remote path into a relative key.
func objectKey(remotePath string) string {
	return strings.TrimLeft(remotePath, "/")
}

// countingWriter tracks how many bytes reached the sink.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
