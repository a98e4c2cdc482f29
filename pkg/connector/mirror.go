package connector

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/geomirror/pkg/connector/core"
	"github.com/ajitpratap0/geomirror/pkg/mirrorerrors"
	"github.com/ajitpratap0/geomirror/pkg/stats"
)

// Mirror uploads release files to a destination
type Mirror struct {
	dest   core.Destination
	prefix string
	logger *zap.Logger
}

// NewMirror creates a mirror writing below prefix
func NewMirror(dest core.Destination, prefix string, logger *zap.Logger) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{
		dest:   dest,
		prefix: strings.Trim(prefix, "/"),
		logger: logger.With(zap.String("component", "mirror"), zap.String("destination", dest.Name())),
	}
}

// ObjectKey returns the key of name for a release on date
func ObjectKey(prefix string, date time.Time, name string) string {
	return path.Join(strings.Trim(prefix, "/"), date.Format("2006-01-02"), name)
}

// Metadata returns the object metadata describing s
func Metadata(s *stats.DatasetStatistics) map[string]string {
	return map[string]string{
		core.MetadataMD5:       s.MD5Checksum,
		core.MetadataEntries:   strconv.FormatInt(s.TotalEntries, 10),
		core.MetadataCountries: strconv.Itoa(s.CountryCount),
	}
}

// Publish uploads the given files under the release date and returns their
// locations in order. The first failure stops the upload.
func (m *Mirror) Publish(ctx context.Context, s *stats.DatasetStatistics, date time.Time, files ...string) ([]string, error) {
	meta := Metadata(s)

	locations := make([]string, 0, len(files))
	for _, file := range files {
		location, err := m.upload(ctx, ObjectKey(m.prefix, date, filepath.Base(file)), file, meta)
		if err != nil {
			return locations, err
		}
		locations = append(locations, location)
	}

	m.logger.Info("release mirrored", zap.Strings("locations", locations))
	return locations, nil
}

func (m *Mirror) upload(ctx context.Context, key, file string, meta map[string]string) (string, error) {
	f, err := os.Open(file) //nolint:gosec
	if err != nil {
		return "", mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeFile, "failed to open file for mirroring").
			WithDetail("path", file)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeFile, "failed to stat file for mirroring").
			WithDetail("path", file)
	}

	m.logger.Debug("uploading object", zap.String("key", key), zap.Int64("bytes", info.Size()))
	return m.dest.Upload(ctx, key, f, info.Size(), meta)
}
