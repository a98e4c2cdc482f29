// Package compression unpacks the downloaded dataset archive.
//
// The archive is a zip file holding a single tab-separated table. Extraction
// uses klauspost/compress/zip, a drop-in replacement for archive/zip with a
// faster inflater, and writes every regular member below the destination
// directory, overwriting files left by a previous run.
package compression

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/ajitpratap0/geomirror/pkg/mirrorerrors"
)

// Extracted describes the result of unpacking an archive
type Extracted struct {
	// Path of the expected member on disk
	Path string
	// Members lists every file written, in archive order
	Members []string
	// Bytes is the total uncompressed size written
	Bytes    int64
	Duration time.Duration
}

// Extractor unpacks zip archives
type Extractor struct {
	logger *zap.Logger
}

// NewExtractor creates an extractor
func NewExtractor(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger.With(zap.String("component", "extractor"))}
}

// Extract writes every member of archivePath below destDir and returns the
// location of the member named expected. A member whose name would resolve
// outside destDir fails the extraction, as does an archive without expected.
func (e *Extractor) Extract(ctx context.Context, archivePath, destDir, expected string) (*Extracted, error) {
	start := time.Now()

	f, err := os.Open(archivePath) //nolint:gosec // G304: path comes from configuration
	if err != nil {
		return nil, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeFile, "failed to open archive").
			WithDetail("path", archivePath)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeFile, "failed to stat archive").
			WithDetail("path", archivePath)
	}

	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return nil, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeData, "failed to read archive").
			WithDetail("path", archivePath)
	}

	root, err := filepath.Abs(destDir)
	if err != nil {
		return nil, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeFile, "failed to resolve destination").
			WithDetail("dir", destDir)
	}

	result := &Extracted{}
	for _, member := range zr.File {
		if err := ctx.Err(); err != nil {
			return nil, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeInternal, "extraction cancelled")
		}

		target, err := memberPath(root, member.Name)
		if err != nil {
			return nil, err
		}

		if member.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeFile, "failed to create directory").
					WithDetail("path", target)
			}
			continue
		}
		if !member.Mode().IsRegular() {
			e.logger.Warn("skipping non-regular archive member", zap.String("member", member.Name))
			continue
		}

		n, err := writeMember(member, target)
		if err != nil {
			return nil, err
		}

		result.Members = append(result.Members, target)
		result.Bytes += n
		if filepath.ToSlash(member.Name) == expected {
			result.Path = target
		}

		e.logger.Debug("extracted member",
			zap.String("member", member.Name),
			zap.Int64("bytes", n))
	}

	if result.Path == "" {
		return nil, mirrorerrors.New(mirrorerrors.ErrorTypeData, "archive does not contain the expected member").
			WithDetail("archive", archivePath).
			WithDetail("member", expected)
	}

	result.Duration = time.Since(start)
	e.logger.Info("archive extracted",
		zap.String("path", result.Path),
		zap.Int("members", len(result.Members)),
		zap.Int64("bytes", result.Bytes),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// memberPath resolves name below root, rejecting absolute names and names
// that climb out of root
func memberPath(root, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", mirrorerrors.New(mirrorerrors.ErrorTypeData, "archive member escapes destination").
			WithDetail("member", name)
	}
	return filepath.Join(root, clean), nil
}

func writeMember(member *zip.File, target string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeFile, "failed to create directory").
			WithDetail("path", filepath.Dir(target))
	}

	rc, err := member.Open()
	if err != nil {
		return 0, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeData, "failed to open archive member").
			WithDetail("member", member.Name)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644) //nolint:gosec
	if err != nil {
		return 0, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeFile, "failed to create extracted file").
			WithDetail("path", target)
	}

	n, copyErr := io.Copy(out, rc)
	closeErr := out.Close()

	if copyErr != nil {
		var pathErr *os.PathError
		if errors.As(copyErr, &pathErr) {
			return n, mirrorerrors.Wrap(copyErr, mirrorerrors.ErrorTypeFile, "failed to write extracted file").
				WithDetail("path", target)
		}
		return n, mirrorerrors.Wrap(copyErr, mirrorerrors.ErrorTypeData, "failed to decompress archive member").
			WithDetail("member", member.Name)
	}
	if closeErr != nil {
		return n, mirrorerrors.Wrap(closeErr, mirrorerrors.ErrorTypeFile, "failed to close extracted file").
			WithDetail("path", target)
	}

	return n, nil
}

// Remove deletes the extracted files. Missing files are ignored.
func (x *Extracted) Remove() error {
	var errs []error
	for _, p := range x.Members {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to remove extracted files: %w", errors.Join(errs...))
	}
	return nil
}
