// Package file mirrors objects into a local or network-mounted directory.
// Object metadata is stored next to each object in "<name>.meta.json".
package file

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/geomirror/pkg/config"
	"github.com/ajitpratap0/geomirror/pkg/connector/core"
	"github.com/ajitpratap0/geomirror/pkg/connector/registry"
	jsonpool "github.com/ajitpratap0/geomirror/pkg/json"
	"github.com/ajitpratap0/geomirror/pkg/mirrorerrors"
)

// MetadataSuffix is appended to the object path for its metadata file
const MetadataSuffix = ".meta.json"

func init() {
	_ = registry.RegisterDestination(config.MirrorTypeFile, func(_ context.Context, cfg *config.MirrorConfig, logger *zap.Logger) (core.Destination, error) {
		return NewFileDestination(cfg, logger)
	})
}

// FileDestination copies objects under a root directory
type FileDestination struct {
	root   string
	logger *zap.Logger
}

type objectMetadata struct {
	Key         string            `json:"key"`
	Size        int64             `json:"size"`
	ContentType string            `json:"content_type"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	UploadedAt  time.Time         `json:"uploaded_at"`
}

// NewFileDestination creates a destination rooted at cfg.Directory
func NewFileDestination(cfg *config.MirrorConfig, logger *zap.Logger) (*FileDestination, error) {
	if cfg.Directory == "" {
		return nil, mirrorerrors.New(mirrorerrors.ErrorTypeConfig, "mirror directory is required")
	}
	root, err := filepath.Abs(cfg.Directory)
	if err != nil {
		return nil, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeConfig, "invalid mirror directory").
			WithDetail("directory", cfg.Directory)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileDestination{
		root:   root,
		logger: logger.With(zap.String("destination", config.MirrorTypeFile), zap.String("root", root)),
	}, nil
}

// Name returns the destination type
func (d *FileDestination) Name() string {
	return config.MirrorTypeFile
}

// Upload copies r to root/key through a temporary file
func (d *FileDestination) Upload(ctx context.Context, key string, r io.Reader, size int64, meta map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeConnection, "upload canceled")
	}

	target, err := d.objectPath(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fileError(err, "failed to create object directory", target)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return "", fileError(err, "failed to create temporary object", target)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	written, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		return "", fileError(err, "failed to copy object", target)
	}
	if err := tmp.Close(); err != nil {
		return "", fileError(err, "failed to close object", target)
	}
	if size >= 0 && written != size {
		return "", mirrorerrors.New(mirrorerrors.ErrorTypeData, "short object copy").
			WithDetail("key", key).
			WithDetail("written", written).
			WithDetail("expected", size)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fileError(err, "failed to move object into place", target)
	}

	sidecar, err := jsonpool.MarshalIndent(objectMetadata{
		Key:         key,
		Size:        written,
		ContentType: core.ContentType(key),
		Metadata:    meta,
		UploadedAt:  time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return "", mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeInternal, "failed to encode object metadata")
	}
	if err := os.WriteFile(target+MetadataSuffix, sidecar, 0o644); err != nil { //nolint:gosec
		return "", fileError(err, "failed to write object metadata", target)
	}

	location := "file://" + filepath.ToSlash(target)
	d.logger.Info("object copied", zap.String("location", location), zap.Int64("bytes", written))
	return location, nil
}

// Close is a no-op
func (d *FileDestination) Close() error {
	return nil
}

// objectPath maps key below root and rejects keys that escape it
func (d *FileDestination) objectPath(key string) (string, error) {
	target := filepath.Join(d.root, filepath.FromSlash(key))
	if key == "" || !strings.HasPrefix(target, d.root+string(os.PathSeparator)) {
		return "", mirrorerrors.New(mirrorerrors.ErrorTypeValidation, "object key escapes the mirror directory").
			WithDetail("key", key)
	}
	return target, nil
}

func fileError(err error, msg, path string) error {
	return mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeFile, msg).WithDetail("path", path)
}
