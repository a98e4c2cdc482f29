// Package s3 mirrors objects into an Amazon S3 (or S3-compatible) bucket
package s3

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/ajitpratap0/geomirror/pkg/config"
	"github.com/ajitpratap0/geomirror/pkg/connector/core"
	"github.com/ajitpratap0/geomirror/pkg/mirrorerrors"
)

const (
	defaultUploadPartSize = 16 * 1024 * 1024 // 16MB
	defaultMaxConcurrency = 4
)

// S3Destination uploads objects with the multipart upload manager
type S3Destination struct {
	bucket   string
	endpoint string
	region   string

	s3Client *s3.Client
	uploader *manager.Uploader
	logger   *zap.Logger
}

// NewS3Destination creates an S3 destination. Credentials come from the
// default AWS chain (environment, shared config, instance role).
func NewS3Destination(ctx context.Context, cfg *config.MirrorConfig, logger *zap.Logger) (*S3Destination, error) {
	if cfg.Bucket == "" {
		return nil, mirrorerrors.New(mirrorerrors.ErrorTypeConfig, "S3 bucket is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &S3Destination{
		bucket:   cfg.Bucket,
		endpoint: cfg.Endpoint,
		region:   cfg.Region,
		logger:   logger.With(zap.String("destination", config.MirrorTypeS3), zap.String("bucket", cfg.Bucket)),
	}
	if err := d.initializeAWSClients(ctx); err != nil {
		return nil, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeConnection, "failed to initialize AWS clients")
	}
	return d, nil
}

// Name returns the destination type
func (d *S3Destination) Name() string {
	return config.MirrorTypeS3
}

// Upload streams r to s3://bucket/key
func (d *S3Destination) Upload(ctx context.Context, key string, r io.Reader, size int64, meta map[string]string) (string, error) {
	start := time.Now()

	input := &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(core.ContentType(key)),
		Metadata:    meta,
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}

	result, err := d.uploader.Upload(ctx, input)
	if err != nil {
		return "", mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeConnection, "failed to upload to S3").
			WithDetail("bucket", d.bucket).
			WithDetail("key", key)
	}

	location := fmt.Sprintf("s3://%s/%s", d.bucket, key)
	d.logger.Info("object uploaded to S3",
		zap.String("location", location),
		zap.String("url", result.Location),
		zap.Int64("bytes", size),
		zap.Duration("duration", time.Since(start)))

	return location, nil
}

// Close is a no-op; the AWS client holds no resources that need releasing
func (d *S3Destination) Close() error {
	return nil
}

func (d *S3Destination) initializeAWSClients(ctx context.Context) error {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(d.region),
	)
	if err != nil {
		return err
	}

	d.s3Client = s3.NewFromConfig(cfg, func(o *s3.Options) {
		if d.endpoint != "" {
			o.BaseEndpoint = aws.String(d.endpoint)
			o.UsePathStyle = true
		}
	})

	d.uploader = manager.NewUploader(d.s3Client, func(u *manager.Uploader) {
		u.PartSize = defaultUploadPartSize
		u.Concurrency = defaultMaxConcurrency
	})

	return nil
}
