package transport

import (
	"context"
	"errors"
	"io"
	"os"
	"path"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/gtdsync/gtdsync/internal/logging"
)

// BillyTransport stores blobs in a billy filesystem. Pointed at a directory
// kept in sync by a desktop client (Dropbox, Syncthing) it behaves like the
// hosted store; backed by memfs it serves tests.
type BillyTransport struct {
	fs     billy.Filesystem
	root   string
	logger *log.Logger
}

// NewDirTransport returns a transport rooted at dir on the local disk.
func NewDirTransport(dir string, logger *log.Logger) *BillyTransport {
	var fs billy.Filesystem
	if dir != "" {
		fs = osfs.New(dir)
	}
	return NewBillyTransport(fs, dir, logger)
}

// NewMemTransport returns a transport backed by an in-memory filesystem.
func NewMemTransport(logger *log.Logger) *BillyTransport {
	return NewBillyTransport(memfs.New(), "memory", logger)
}

// NewBillyTransport wraps an existing billy filesystem.
func NewBillyTransport(fs billy.Filesystem, root string, logger *log.Logger) *BillyTransport {
	return &BillyTransport{fs: fs, root: root, logger: orDefault(logger)}
}

// Filesystem exposes the underlying filesystem.
func (t *BillyTransport) Filesystem() billy.Filesystem {
	return t.fs
}

func (t *BillyTransport) Ready() error {
	if t.fs == nil || t.root == "" {
		return newError("ready", "", ErrNotConfigured, errors.New("no remote directory set"))
	}
	return nil
}

func (t *BillyTransport) Download(ctx context.Context, w io.Writer, remotePath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, newError("download", remotePath, nil, err)
	}
	f, err := t.fs.Open(objectKey(remotePath))
	if err != nil {
		terr := t.mapError("download", remotePath, err)
		if IsNotFound(terr) || IsRateLimited(terr) {
			t.logger.Debug("nothing to download", "path", remotePath, "err", err)
			return false, nil
		}
		return false, terr
	}
	defer f.Close()

	cw := &countingWriter{w: w}
	if _, err := io.Copy(cw, f); err != nil {
		return cw.n > 0, t.mapError("download", remotePath, err)
	}
	return cw.n > 0, nil
}

func (t *BillyTransport) Upload(ctx context.Context, data []byte, remotePath string, overwrite bool) error {
	if err := ctx.Err(); err != nil {
		return newError("upload", remotePath, nil, err)
	}
	key := objectKey(remotePath)
	if !overwrite {
		if _, err := t.fs.Stat(key); err == nil {
			return newError("upload", remotePath, ErrConflict, nil)
		}
	}
	if dir := path.Dir(key); dir != "." {
		if err := t.fs.MkdirAll(dir, 0o755); err != nil {
			return t.mapError("upload", remotePath, err)
		}
	}
	if err := util.WriteFile(t.fs, key, data, 0o644); err != nil {
		return t.mapError("upload", remotePath, err)
	}
	return nil
}

func (t *BillyTransport) Delete(ctx context.Context, remotePath string) {
	if err := t.fs.Remove(objectKey(remotePath)); err != nil {
		t.logger.Warn("failed to delete remote object", "path", remotePath,
			"err", t.mapError("delete", remotePath, err))
	}
}

func (t *BillyTransport) Stat(ctx context.Context, remotePath string) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, newError("stat", remotePath, nil, err)
	}
	fi, err := t.fs.Stat(objectKey(remotePath))
	if err != nil {
		return Metadata{}, t.mapError("stat", remotePath, err)
	}
	return Metadata{Size: fi.Size(), Modified: fi.ModTime()}, nil
}

func (t *BillyTransport) mapError(op, remotePath string, err error) *Error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return newError(op, remotePath, ErrNotFound, err)
	case errors.Is(err, os.ErrPermission):
		return newError(op, remotePath, ErrAuth, err)
	default:
		return newError(op, remotePath, nil, err)
	}
}

func orDefault(logger *log.Logger) *log.Logger {
	return logging.OrDefault(logger, "transport")
}
