// Package sink stores export blobs somewhere an operator can fetch them.
package sink

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cockroachdb/errors"
)

// Sink writes a named blob and returns where it landed.
type Sink interface {
	Put(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// cleanName strips directory parts so names cannot escape the destination.
func cleanName(name string) (string, error) {
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." || base == "" {
		return "", errors.Newf("invalid export name %q", name)
	}
	return base, nil
}

// FileSink writes blobs into a local directory.
type FileSink struct {
	dir string
}

// NewFileSink creates dir if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create export directory %s", dir)
	}
	return &FileSink{dir: dir}, nil
}

// Put writes data to dir/name via a temp file and rename.
func (f *FileSink) Put(_ context.Context, name, _ string, data []byte) (string, error) {
	base, err := cleanName(name)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(f.dir, "export-*.tmp")
	if err != nil {
		return "", errors.Wrap(err, "create temp export file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", errors.Wrap(err, "write temp export file")
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Wrap(err, "close temp export file")
	}

	dest := filepath.Join(f.dir, base)
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", errors.Wrap(err, "move export into place")
	}
	return dest, nil
}

// PutObjectAPI is the slice of the S3 client the sink needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads blobs to a bucket under an optional prefix.
type S3Sink struct {
	client PutObjectAPI
	bucket string
	prefix string
}

// NewS3Sink wraps an existing client.
func NewS3Sink(client PutObjectAPI, bucket, prefix string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// NewS3SinkFromEnv loads the default AWS credential chain for region.
func NewS3SinkFromEnv(ctx context.Context, region, bucket, prefix string) (*S3Sink, error) {
	if bucket == "" {
		return nil, errors.New("s3 sink requires a bucket")
	}
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithRetryMaxAttempts(3),
	)
	if err != nil {
		return nil, errors.Wrap(err, "load AWS config")
	}
	return NewS3Sink(s3.NewFromConfig(cfg), bucket, prefix), nil
}

// Put uploads data and returns its s3:// URI.
func (s *S3Sink) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	base, err := cleanName(name)
	if err != nil {
		return "", err
	}
	key := base
	if s.prefix != "" {
		key = s.prefix + "/" + base
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", errors.Wrapf(err, "put s3://%s/%s", s.bucket, key)
	}
	return "s3://" + s.bucket + "/" + key, nil
}
