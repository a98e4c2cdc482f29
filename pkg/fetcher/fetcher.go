// Package fetcher streams the remote archive to disk.
//
// The body is copied in fixed-size chunks into "<dest>.part" and renamed over
// dest only once every declared byte has arrived, so an aborted run never
// leaves a truncated archive under the final name. Progress is logged on a
// wall-clock interval rather than per chunk.
package fetcher

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"go.uber.org/zap"

	"github.com/ajitpratap0/geomirror/pkg/clients"
	"github.com/ajitpratap0/geomirror/pkg/mirrorerrors"
)

const (
	// DefaultChunkSize is the size of each body read
	DefaultChunkSize = 1 << 20
	// DefaultProgressInterval is the minimum time between progress lines
	DefaultProgressInterval = 5 * time.Second

	partSuffix = ".part"
)

// ByteCounter receives the size of every chunk written
type ByteCounter interface {
	AddDownloadedBytes(n int)
}

// Options tunes a Fetcher
type Options struct {
	ChunkSize        int
	ProgressInterval time.Duration
	// Counter may be nil
	Counter ByteCounter
}

// Result describes a completed download
type Result struct {
	Path string
	// Bytes written to Path
	Bytes int64
	// ContentLength declared by the server, 0 when unknown
	ContentLength int64
	Duration      time.Duration
	// ModTime of the written file
	ModTime time.Time
}

// Fetcher downloads one URL
type Fetcher struct {
	client  *clients.HTTPClient
	url     string
	options Options
	logger  *zap.Logger
}

// NewFetcher creates a fetcher for url. Zero options take the defaults.
func NewFetcher(client *clients.HTTPClient, url string, options Options, logger *zap.Logger) *Fetcher {
	if options.ChunkSize <= 0 {
		options.ChunkSize = DefaultChunkSize
	}
	if options.ProgressInterval <= 0 {
		options.ProgressInterval = DefaultProgressInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		client:  client,
		url:     url,
		options: options,
		logger:  logger.With(zap.String("component", "fetcher")),
	}
}

// Fetch downloads the archive to dest, replacing any previous file only on
// success.
func (f *Fetcher) Fetch(ctx context.Context, dest string) (*Result, error) {
	start := time.Now()

	resp, err := f.client.Get(ctx, f.url, nil)
	if err != nil {
		return nil, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeConnection, "download request failed").
			WithDetail("url", f.url)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, mirrorerrors.New(mirrorerrors.ErrorTypeConnection, "unexpected HTTP status").
			WithDetail("status", resp.StatusCode).
			WithDetail("url", f.url)
	}

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}

	f.logger.Info("download started",
		zap.String("url", f.url),
		zap.String("dest", dest),
		zap.Int64("content_length", total))
	f.checkFreeSpace(ctx, filepath.Dir(dest), total)

	tmp := dest + partSuffix
	written, err := f.copyBody(resp.Body, tmp, total)
	if err != nil {
		_ = os.Remove(tmp)
		return nil, err
	}

	if total > 0 && written != total {
		_ = os.Remove(tmp)
		return nil, mirrorerrors.New(mirrorerrors.ErrorTypeData, "incomplete download").
			WithDetail("received", written).
			WithDetail("expected", total)
	}

	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return nil, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeFile, "failed to move archive into place").
			WithDetail("path", dest)
	}

	info, err := os.Stat(dest)
	if err != nil {
		return nil, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeFile, "failed to stat archive").
			WithDetail("path", dest)
	}

	result := &Result{
		Path:          dest,
		Bytes:         written,
		ContentLength: total,
		Duration:      time.Since(start),
		ModTime:       info.ModTime(),
	}

	avg := 0.0
	if secs := result.Duration.Seconds(); secs > 0 {
		avg = float64(written) / secs
	}
	f.logger.Info("download complete",
		zap.String("path", dest),
		zap.Int64("bytes", written),
		zap.Duration("duration", result.Duration.Round(time.Millisecond)),
		zap.Float64("average_mb_per_sec", toMB(avg)))

	return result, nil
}

// copyBody streams body into path chunk by chunk and returns the bytes written
func (f *Fetcher) copyBody(body io.Reader, path string, total int64) (int64, error) {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644) //nolint:gosec
	if err != nil {
		return 0, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeFile, "failed to create archive file").
			WithDetail("path", path)
	}

	prog := newProgress(f.logger, total, f.options.ProgressInterval)
	buf := make([]byte, f.options.ChunkSize)
	var written int64

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				_ = out.Close()
				return written, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeFile, "failed to write archive file").
					WithDetail("path", path)
			}
			written += int64(n)
			if f.options.Counter != nil {
				f.options.Counter.AddDownloadedBytes(n)
			}
			prog.update(written)
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			_ = out.Close()
			return written, mirrorerrors.Wrap(readErr, mirrorerrors.ErrorTypeConnection, "download interrupted").
				WithDetail("received", written).
				WithDetail("url", f.url)
		}
	}

	if err := out.Close(); err != nil {
		return written, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeFile, "failed to close archive file").
			WithDetail("path", path)
	}
	return written, nil
}

// checkFreeSpace warns when the declared size exceeds the free space of dir.
// The write itself stays the authority on running out of space.
func (f *Fetcher) checkFreeSpace(ctx context.Context, dir string, total int64) {
	if total <= 0 {
		return
	}
	usage, err := disk.UsageWithContext(ctx, dir)
	if err != nil {
		f.logger.Debug("free space check unavailable", zap.String("dir", dir), zap.Error(err))
		return
	}
	if uint64(total) > usage.Free {
		f.logger.Warn("archive may not fit on disk",
			zap.String("dir", dir),
			zap.Int64("content_length", total),
			zap.Uint64("free_bytes", usage.Free))
	}
}

func formatFloat(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}
