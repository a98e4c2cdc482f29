// Package stats derives the summary statistics published with every release:
// row count, distinct country codes, archive size and archive checksum.
package stats

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/geomirror/pkg/mirrorerrors"
)

const (
	// readBufferSize is the buffer in front of the table reader
	readBufferSize = 1 << 20
	// cancelCheckRows is how often the row loop looks at the context
	cancelCheckRows = 1 << 16
)

// DatasetStatistics summarizes one archive. CountryCount never exceeds
// TotalEntries.
type DatasetStatistics struct {
	TotalEntries int64  `json:"total_entries" bson:"total_entries"`
	CountryCount int    `json:"country_count" bson:"country_count"`
	FileSize     int64  `json:"file_size" bson:"file_size"`
	MD5Checksum  string `json:"md5_checksum" bson:"md5_checksum"`
}

// Collector computes DatasetStatistics
type Collector struct {
	logger *zap.Logger
}

// NewCollector creates a collector
func NewCollector(logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{logger: logger.With(zap.String("component", "stats"))}
}

// Collect reads the extracted table once, front to back, and checksums the
// archive. An empty table yields zero rows and zero countries.
func (c *Collector) Collect(ctx context.Context, tablePath, archivePath string) (*DatasetStatistics, error) {
	start := time.Now()

	f, err := os.Open(tablePath) //nolint:gosec // G304: path comes from the extractor
	if err != nil {
		return nil, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeFile, "failed to open extracted table").
			WithDetail("path", tablePath)
	}
	defer f.Close()

	rows, countries, err := CountRows(ctx, f)
	if err != nil {
		return nil, mirrorerrors.Wrap(err, mirrorerrors.TypeOf(err), "failed to read extracted table").
			WithDetail("path", tablePath)
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return nil, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeFile, "failed to stat archive").
			WithDetail("path", archivePath)
	}

	sum, err := Checksum(archivePath)
	if err != nil {
		return nil, err
	}

	stats := &DatasetStatistics{
		TotalEntries: rows,
		CountryCount: countries,
		FileSize:     info.Size(),
		MD5Checksum:  sum,
	}

	c.logger.Info("statistics collected",
		zap.Int64("entries", stats.TotalEntries),
		zap.Int("countries", stats.CountryCount),
		zap.Int64("file_size", stats.FileSize),
		zap.String("md5", stats.MD5Checksum),
		zap.Duration("duration", time.Since(start)))

	return stats, nil
}

// CountRows counts the tab-separated records of r and the distinct values of
// their first field. Blank lines are not records.
func CountRows(ctx context.Context, r io.Reader) (int64, int, error) {
	reader := csv.NewReader(bufio.NewReaderSize(r, readBufferSize))
	reader.Comma = '\t'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	var rows int64
	seen := make(map[string]struct{}, 256)

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				return 0, 0, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeData, "malformed record").
					WithDetail("line", parseErr.Line)
			}
			return 0, 0, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeFile, "read failed")
		}

		rows++
		if _, ok := seen[record[0]]; !ok {
			// record is reused by the reader, so the key must be copied
			seen[string([]byte(record[0]))] = struct{}{}
		}

		if rows%cancelCheckRows == 0 {
			if err := ctx.Err(); err != nil {
				return 0, 0, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeInternal, "statistics cancelled")
			}
		}
	}

	return rows, len(seen), nil
}
