package fetcher

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Snapshot is the state of a download at one point in time
type Snapshot struct {
	Elapsed time.Duration
	Bytes   int64
	// Total is 0 when the server did not declare a length
	Total int64
	// Percent is -1 when Total is unknown
	Percent float64
	// CurrentRate is bytes per second since the previous snapshot
	CurrentRate float64
	// AverageRate is bytes per second since the start
	AverageRate float64
}

// progress throttles progress reporting to one line per interval
type progress struct {
	logger    *zap.Logger
	total     int64
	start     time.Time
	lastTime  time.Time
	lastBytes int64
	sometimes rate.Sometimes
	now       func() time.Time
}

func newProgress(logger *zap.Logger, total int64, interval time.Duration) *progress {
	now := time.Now()
	return &progress{
		logger:    logger,
		total:     total,
		start:     now,
		lastTime:  now,
		sometimes: rate.Sometimes{Interval: interval},
		now:       time.Now,
	}
}

// update is called after every chunk. It logs at most once per interval.
func (p *progress) update(written int64) {
	p.sometimes.Do(func() {
		s := p.snapshot(written, p.now())
		p.logger.Info("download progress", snapshotFields(s)...)
	})
}

// snapshot computes the state at now and moves the current-rate window
func (p *progress) snapshot(written int64, now time.Time) Snapshot {
	s := Snapshot{
		Elapsed: now.Sub(p.start),
		Bytes:   written,
		Total:   p.total,
		Percent: -1,
	}
	if p.total > 0 {
		s.Percent = float64(written) / float64(p.total) * 100
	}
	if window := now.Sub(p.lastTime).Seconds(); window > 0 {
		s.CurrentRate = float64(written-p.lastBytes) / window
	}
	if elapsed := s.Elapsed.Seconds(); elapsed > 0 {
		s.AverageRate = float64(written) / elapsed
	}

	p.lastTime = now
	p.lastBytes = written
	return s
}

func snapshotFields(s Snapshot) []zap.Field {
	fields := []zap.Field{
		zap.Duration("elapsed", s.Elapsed.Round(time.Millisecond)),
		zap.Int64("bytes", s.Bytes),
		zap.Float64("current_mb_per_sec", toMB(s.CurrentRate)),
		zap.Float64("average_mb_per_sec", toMB(s.AverageRate)),
	}
	if s.Total > 0 {
		fields = append(fields,
			zap.Int64("total", s.Total),
			zap.String("percent", formatPercent(s.Percent)))
	}
	return fields
}

func toMB(bytesPerSecond float64) float64 {
	return float64(int64(bytesPerSecond/(1<<20)*100)) / 100
}

func formatPercent(p float64) string {
	return formatFloat(p, 1) + "%"
}
