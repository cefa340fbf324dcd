package transport

import (
	"errors"
	"net/http"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
)

func TestClassifyMinio(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no such key", minio.ErrorResponse{Code: "NoSuchKey"}, ErrNotFound},
		{"404", minio.ErrorResponse{StatusCode: http.StatusNotFound}, ErrNotFound},
		{"access denied", minio.ErrorResponse{Code: "AccessDenied"}, ErrAuth},
		{"403", minio.ErrorResponse{StatusCode: http.StatusForbidden}, ErrAuth},
		{"slow down", minio.ErrorResponse{Code: "SlowDown"}, ErrRateLimited},
		{"429", minio.ErrorResponse{StatusCode: http.StatusTooManyRequests}, ErrRateLimited},
		{"precondition", minio.ErrorResponse{Code: "PreconditionFailed"}, ErrConflict},
		{"connection", errors.New("dial tcp: connection refused"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyMinio(tt.err))
		})
	}
}

func TestMinio_ReadyRequiresCredentials(t *testing.T) {
	tr, err := NewMinioTransport(MinioOptions{Endpoint: "localhost:9000", Bucket: "gtd"}, nil)
	assert.NoError(t, err)
	assert.ErrorIs(t, tr.Ready(), ErrNotConfigured)

	tr, err = NewMinioTransport(MinioOptions{Endpoint: "localhost:9000", Secret: "s", AccessKey: "k"}, nil)
	assert.NoError(t, err)
	assert.ErrorIs(t, tr.Ready(), ErrNotConfigured, "bucket is required")

	tr, err = NewMinioTransport(MinioOptions{Endpoint: "localhost:9000", Bucket: "gtd", Secret: "s", AccessKey: "k"}, nil)
	assert.NoError(t, err)
	assert.NoError(t, tr.Ready())
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("boom")
	err := newError("stat", LockPath, ErrAuth, cause)

	assert.ErrorIs(t, err, ErrAuth)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "transport stat "+LockPath)

	plain := newError("upload", "", nil, cause)
	assert.Equal(t, "transport upload: boom", plain.Error())
	assert.True(t, IsRetryable(plain))
}
