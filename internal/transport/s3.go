package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/charmbracelet/log"
)

// S3API is the subset of the S3 client used by S3Transport.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Options configures an S3Transport.
type S3Options struct {
	// Endpoint overrides the AWS endpoint (for S3-compatible stores).
	// Setting it also switches to path-style addressing.
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	Secret    string
}

// S3Transport talks to Amazon S3 through aws-sdk-go-v2.
type S3Transport struct {
	client S3API
	bucket string
	logger *log.Logger
}

// NewS3Transport loads the AWS configuration and creates a client. Static
// credentials are used when a secret is configured; otherwise the default
// credential chain applies.
func NewS3Transport(ctx context.Context, opts S3Options, logger *log.Logger) (*S3Transport, error) {
	loadOpts := []func(*config.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.Secret != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.Secret, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, newError("connect", "", ErrNotConfigured, err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3TransportWithClient(client, opts.Bucket, logger), nil
}

// NewS3TransportWithClient wraps an existing client.
func NewS3TransportWithClient(client S3API, bucket string, logger *log.Logger) *S3Transport {
	return &S3Transport{client: client, bucket: bucket, logger: orDefault(logger)}
}

func (t *S3Transport) Ready() error {
	switch {
	case t.client == nil:
		return newError("ready", "", ErrNotConfigured, errors.New("access token missing"))
	case t.bucket == "":
		return newError("ready", "", ErrNotConfigured, errors.New("bucket missing"))
	}
	return nil
}

func (t *S3Transport) Download(ctx context.Context, w io.Writer, remotePath string) (bool, error) {
	out, err := t.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(objectKey(remotePath)),
	})
	if err != nil {
		terr := t.mapError("download", remotePath, err)
		if IsNotFound(terr) || IsRateLimited(terr) {
			t.logger.Debug("nothing to download", "path", remotePath, "err", err)
			return false, nil
		}
		return false, terr
	}
	defer func() {
		_ = out.Body.Close()
	}()

	cw := &countingWriter{w: w}
	if _, err := io.Copy(cw, out.Body); err != nil {
		return cw.n > 0, t.mapError("download", remotePath, err)
	}
	return cw.n > 0, nil
}

func (t *S3Transport) Upload(ctx context.Context, data []byte, remotePath string, overwrite bool) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(t.bucket),
		Key:           aws.String(objectKey(remotePath)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType(remotePath)),
	}
	if !overwrite {
		// Conditional write: S3 rejects the put with 412 if the key exists.
		input.IfNoneMatch = aws.String("*")
	}
	if _, err := t.client.PutObject(ctx, input); err != nil {
		return t.mapError("upload", remotePath, err)
	}
	return nil
}

func (t *S3Transport) Delete(ctx context.Context, remotePath string) {
	_, err := t.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(objectKey(remotePath)),
	})
	if err != nil {
		t.logger.Warn("failed to delete remote object", "path", remotePath,
			"err", t.mapError("delete", remotePath, err))
	}
}

func (t *S3Transport) Stat(ctx context.Context, remotePath string) (Metadata, error) {
	out, err := t.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(objectKey(remotePath)),
	})
	if err != nil {
		return Metadata{}, t.mapError("stat", remotePath, err)
	}
	return Metadata{
		Size:     aws.ToInt64(out.ContentLength),
		Modified: aws.ToTime(out.LastModified),
	}, nil
}

func (t *S3Transport) mapError(op, remotePath string, err error) *Error {
	return newError(op, remotePath, classifyS3(err), err)
}

// classifyS3 maps an AWS SDK error onto the transport taxonomy.
func classifyS3(err error) error {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return ErrNotFound
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return ErrNotFound
	}
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		return ErrNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return ErrNotFound
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken",
			"InvalidToken", "Forbidden":
			return ErrAuth
		case "SlowDown", "Throttling", "ThrottlingException", "RequestLimitExceeded",
			"TooManyRequests":
			return ErrRateLimited
		case "PreconditionFailed", "ConditionalRequestConflict":
			return ErrConflict
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return ErrNotFound
		case http.StatusUnauthorized, http.StatusForbidden:
			return ErrAuth
		case http.StatusTooManyRequests, http.StatusServiceUnavailable:
			return ErrRateLimited
		case http.StatusPreconditionFailed, http.StatusConflict:
			return ErrConflict
		}
	}
	return nil
}
