package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioTransport talks to an S3-compatible server through minio-go.
type MinioTransport struct {
	client *minio.Client
	bucket string
	logger *log.Logger
}

// MinioOptions configures a MinioTransport.
type MinioOptions struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	Secret    string
	UseSSL    bool
}

// NewMinioTransport creates a client for the given server. Missing
// credentials are not an error here; Ready reports them.
func NewMinioTransport(opts MinioOptions, logger *log.Logger) (*MinioTransport, error) {
	t := &MinioTransport{bucket: opts.Bucket, logger: orDefault(logger)}
	if opts.Endpoint == "" || opts.Secret == "" {
		return t, nil
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.Secret, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, newError("connect", opts.Endpoint, ErrNotConfigured, err)
	}
	t.client = client
	return t, nil
}

func (t *MinioTransport) Ready() error {
	switch {
	case t.client == nil:
		return newError("ready", "", ErrNotConfigured, errors.New("endpoint or access token missing"))
	case t.bucket == "":
		return newError("ready", "", ErrNotConfigured, errors.New("bucket missing"))
	}
	return nil
}

func (t *MinioTransport) Download(ctx context.Context, w io.Writer, remotePath string) (bool, error) {
	obj, err := t.client.GetObject(ctx, t.bucket, objectKey(remotePath), minio.GetObjectOptions{})
	if err != nil {
		return t.downloadFailed(remotePath, err)
	}
	defer func() {
		_ = obj.Close()
	}()

	// GetObject is lazy; errors such as NoSuchKey surface on the first read.
	cw := &countingWriter{w: w}
	if _, err := io.Copy(cw, obj); err != nil {
		if cw.n == 0 {
			return t.downloadFailed(remotePath, err)
		}
		return true, t.mapError("download", remotePath, err)
	}
	return cw.n > 0, nil
}

func (t *MinioTransport) downloadFailed(remotePath string, err error) (bool, error) {
	terr := t.mapError("download", remotePath, err)
	if IsNotFound(terr) || IsRateLimited(terr) {
		t.logger.Debug("nothing to download", "path", remotePath, "err", err)
		return false, nil
	}
	return false, terr
}

func (t *MinioTransport) Upload(ctx context.Context, data []byte, remotePath string, overwrite bool) error {
	key := objectKey(remotePath)
	if !overwrite {
		_, err := t.client.StatObject(ctx, t.bucket, key, minio.StatObjectOptions{})
		if err == nil {
			return newError("upload", remotePath, ErrConflict, nil)
		}
		if terr := t.mapError("upload", remotePath, err); !IsNotFound(terr) {
			return terr
		}
	}
	_, err := t.client.PutObject(ctx, t.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType(remotePath)})
	if err != nil {
		return t.mapError("upload", remotePath, err)
	}
	return nil
}

func (t *MinioTransport) Delete(ctx context.Context, remotePath string) {
	err := t.client.RemoveObject(ctx, t.bucket, objectKey(remotePath), minio.RemoveObjectOptions{})
	if err != nil {
		t.logger.Warn("failed to delete remote object", "path", remotePath,
			"err", t.mapError("delete", remotePath, err))
	}
}

func (t *MinioTransport) Stat(ctx context.Context, remotePath string) (Metadata, error) {
	info, err := t.client.StatObject(ctx, t.bucket, objectKey(remotePath), minio.StatObjectOptions{})
	if err != nil {
		return Metadata{}, t.mapError("stat", remotePath, err)
	}
	return Metadata{Size: info.Size, Modified: info.LastModified}, nil
}

func (t *MinioTransport) mapError(op, remotePath string, err error) *Error {
	return newError(op, remotePath, classifyMinio(err), err)
}

// classifyMinio maps a minio-go error onto the transport taxonomy.
func classifyMinio(err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "NoSuchObject", "NotFound":
		return ErrNotFound
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken",
		"InvalidToken":
		return ErrAuth
	case "SlowDown", "SlowDownRead", "SlowDownWrite", "RequestLimitExceeded", "TooManyRequests":
		return ErrRateLimited
	case "PreconditionFailed":
		return ErrConflict
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuth
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return ErrRateLimited
	case http.StatusPreconditionFailed:
		return ErrConflict
	}
	return nil
}

func contentType(remotePath string) string {
	if strings.HasSuffix(remotePath, ".zip") {
		return "application/zip"
	}
	return "application/json"
}
