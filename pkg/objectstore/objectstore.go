// Package objectstore is the gateway to the artifact object store. Artifacts
// are keyed by "{task_id}/{filename}" and partitioned by task, so no
// cross-task coordination is needed.
package objectstore

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-logr/logr"

	"github.com/voltaudit/voltaudit/pkg/models"
)

// MaxObjectSize caps uploaded artifacts at 50 MiB.
const MaxObjectSize = 50 << 20

// ChunkSize is the streaming buffer size; uploads never hold the full
// payload in memory.
const ChunkSize = 64 << 10

// Gateway is the narrow object-store contract the pipeline depends on.
type Gateway interface {
	Put(ctx context.Context, key string, content io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// Options configure the S3 gateway. Endpoint is optional and enables
// S3-compatible stores (path-style addressing).
type Options struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// S3Gateway implements Gateway over an S3-compatible store.
type S3Gateway struct {
	client *s3.Client
	bucket string
	logger logr.Logger
}

// New builds an S3 gateway from options.
func New(ctx context.Context, opts Options, logger logr.Logger) (*S3Gateway, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	logger.Info("object store gateway initialized", "bucket", opts.Bucket)
	return &S3Gateway{client: client, bucket: opts.Bucket, logger: logger}, nil
}

// Put streams content to the store under key. The reader is wrapped so that
// anything past MaxObjectSize aborts the upload regardless of the advertised
// size.
func (g *S3Gateway) Put(ctx context.Context, key string, content io.Reader, size int64) error {
	if size > MaxObjectSize {
		return models.E(models.KindInvalidInput, "UPLD_002", "file exceeds 50 MiB limit")
	}

	body := &cappedReader{r: content, remaining: MaxObjectSize}
	_, err := g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(g.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		if body.exceeded {
			return models.E(models.KindInvalidInput, "UPLD_002", "file exceeds 50 MiB limit")
		}
		return models.Wrap(models.KindExternal, "UPLD_502", "object store write failed", err)
	}
	return nil
}

// Get opens a streamed download of the object under key.
func (g *S3Gateway) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, models.Wrap(models.KindExternal, "TASK_502", "object store read failed", err)
	}
	return out.Body, nil
}

// cappedReader fails the stream once more than `remaining` bytes have been
// read, and never reads more than ChunkSize per call.
type cappedReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.remaining < 0 {
		c.exceeded = true
		return 0, fmt.Errorf("object exceeds %d bytes", int64(MaxObjectSize))
	}
	if int64(len(p)) > ChunkSize {
		p = p[:ChunkSize]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		c.exceeded = true
		return n, fmt.Errorf("object exceeds %d bytes", int64(MaxObjectSize))
	}
	return n, err
}
