package transport

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
)

// Supported backends.
const (
	BackendDir   = "dir"
	BackendMinio = "minio"
	BackendS3    = "s3"
)

// Options selects and configures a backend.
type Options struct {
	Backend     string
	Dir         string
	Endpoint    string
	Bucket      string
	Region      string
	AccessKey   string
	AccessToken string
	UseSSL      bool
}

// New creates the transport selected by opts.Backend.
//
// Construction never contacts the remote. A transport with missing settings
// is still returned; its Ready method reports what is missing so the caller
// can fail before any state changes.
func New(ctx context.Context, opts Options, logger *log.Logger) (Transport, error) {
	switch opts.Backend {
	case "", BackendDir:
		return NewDirTransport(opts.Dir, logger), nil
	case BackendMinio:
		t, err := NewMinioTransport(MinioOptions{
			Endpoint:  opts.Endpoint,
			Bucket:    opts.Bucket,
			Region:    opts.Region,
			AccessKey: opts.AccessKey,
			Secret:    opts.AccessToken,
			UseSSL:    opts.UseSSL,
		}, logger)
		if err != nil {
			return nil, err
		}
		return t, nil
	case BackendS3:
		if opts.AccessToken == "" {
			return &S3Transport{bucket: opts.Bucket, logger: orDefault(logger)}, nil
		}
		t, err := NewS3Transport(ctx, S3Options{
			Endpoint:  opts.Endpoint,
			Bucket:    opts.Bucket,
			Region:    opts.Region,
			AccessKey: opts.AccessKey,
			Secret:    opts.AccessToken,
		}, logger)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown remote backend %q (want %s, %s or %s)",
			opts.Backend, BackendDir, BackendMinio, BackendS3)
	}
}
