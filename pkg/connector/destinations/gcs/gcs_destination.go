// Package gcs mirrors objects into a Google Cloud Storage bucket
package gcs

import (
	"context"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/geomirror/pkg/config"
	"github.com/ajitpratap0/geomirror/pkg/connector/core"
	"github.com/ajitpratap0/geomirror/pkg/mirrorerrors"
)

// GCSDestination writes objects through the storage client
type GCSDestination struct {
	bucket          string
	credentialsFile string
	endpoint        string

	gcsClient    *storage.Client
	bucketHandle *storage.BucketHandle
	logger       *zap.Logger
}

// NewGCSDestination creates a GCS destination. Without a credentials file
// the application default credentials are used.
func NewGCSDestination(ctx context.Context, cfg *config.MirrorConfig, logger *zap.Logger) (*GCSDestination, error) {
	if cfg.Bucket == "" {
		return nil, mirrorerrors.New(mirrorerrors.ErrorTypeConfig, "GCS bucket is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &GCSDestination{
		bucket:          cfg.Bucket,
		credentialsFile: cfg.CredentialsFile,
		endpoint:        cfg.Endpoint,
		logger:          logger.With(zap.String("destination", config.MirrorTypeGCS), zap.String("bucket", cfg.Bucket)),
	}
	if err := d.initializeGCSClient(ctx); err != nil {
		return nil, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeConnection, "failed to initialize GCS client")
	}
	return d, nil
}

// Name returns the destination type
func (d *GCSDestination) Name() string {
	return config.MirrorTypeGCS
}

// Upload writes r to gs://bucket/key
func (d *GCSDestination) Upload(ctx context.Context, key string, r io.Reader, size int64, meta map[string]string) (string, error) {
	start := time.Now()

	writer := d.bucketHandle.Object(key).NewWriter(ctx)
	writer.ContentType = core.ContentType(key)
	writer.Metadata = meta

	written, err := io.Copy(writer, r)
	if err != nil {
		_ = writer.Close() // Ignore close error
		return "", mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeConnection, "failed to write to GCS").
			WithDetail("bucket", d.bucket).
			WithDetail("key", key)
	}
	if err := writer.Close(); err != nil {
		return "", mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeConnection, "failed to close GCS writer").
			WithDetail("bucket", d.bucket).
			WithDetail("key", key)
	}
	if size >= 0 && written != size {
		return "", mirrorerrors.New(mirrorerrors.ErrorTypeData, "short GCS upload").
			WithDetail("key", key).
			WithDetail("written", written).
			WithDetail("expected", size)
	}

	location := fmt.Sprintf("gs://%s/%s", d.bucket, key)
	d.logger.Info("object uploaded to GCS",
		zap.String("location", location),
		zap.Int64("bytes", written),
		zap.Duration("duration", time.Since(start)))

	return location, nil
}

// Close closes the storage client
func (d *GCSDestination) Close() error {
	if d.gcsClient == nil {
		return nil
	}
	return d.gcsClient.Close()
}

func (d *GCSDestination) initializeGCSClient(ctx context.Context) error {
	var opts []option.ClientOption

	// Add credentials if provided
	if d.credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(d.credentialsFile))
	}
	if d.endpoint != "" {
		opts = append(opts, option.WithEndpoint(d.endpoint))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return err
	}

	d.gcsClient = client
	d.bucketHandle = client.Bucket(d.bucket)

	return nil
}
