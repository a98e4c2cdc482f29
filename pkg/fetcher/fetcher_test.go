package fetcher

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ajitpratap0/geomirror/pkg/clients"
	"github.com/ajitpratap0/geomirror/pkg/mirrorerrors"
	"github.com/ajitpratap0/geomirror/pkg/testutil"
)

type countingObserver struct {
	bytes  int64
	chunks int64
}

func (c *countingObserver) AddDownloadedBytes(n int) {
	atomic.AddInt64(&c.bytes, int64(n))
	atomic.AddInt64(&c.chunks, 1)
}

func sampleArchive(t *testing.T) []byte {
	return testutil.BuildZip(t, testutil.Member{Name: "allCountries.txt", Body: testutil.SampleTable()})
}

func newFetcher(t *testing.T, url string, options Options) *Fetcher {
	logger := testutil.TestLogger(t)
	return NewFetcher(clients.NewHTTPClient(nil, logger, nil), url, options, logger)
}

func TestFetch_WritesArchive(t *testing.T) {
	archive := sampleArchive(t)
	upstream := testutil.NewUpstream(t, archive, time.Now())
	counter := &countingObserver{}

	dest := filepath.Join(t.TempDir(), "allCountries.zip")
	res, err := newFetcher(t, upstream.ArchiveURL(), Options{ChunkSize: 64, Counter: counter}).
		Fetch(context.Background(), dest)
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, archive, got)

	assert.Equal(t, dest, res.Path)
	assert.Equal(t, int64(len(archive)), res.Bytes)
	assert.Equal(t, int64(len(archive)), res.ContentLength)
	assert.False(t, res.ModTime.IsZero())
	assert.Equal(t, int64(len(archive)), atomic.LoadInt64(&counter.bytes))
	assert.Greater(t, atomic.LoadInt64(&counter.chunks), int64(1), "small chunks should need several reads")

	_, err = os.Stat(dest + partSuffix)
	assert.True(t, os.IsNotExist(err), "temporary file must be gone")
}

func TestFetch_ReplacesPreviousArchive(t *testing.T) {
	archive := sampleArchive(t)
	upstream := testutil.NewUpstream(t, archive, time.Now())

	dest := filepath.Join(t.TempDir(), "allCountries.zip")
	require.NoError(t, os.WriteFile(dest, []byte("stale archive with more bytes than the new one could ever have"), 0o644))

	_, err := newFetcher(t, upstream.ArchiveURL(), Options{}).Fetch(context.Background(), dest)
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, archive, got)
}

func TestFetch_HTTPErrorLeavesPreviousArchive(t *testing.T) {
	upstream := testutil.NewUpstream(t, sampleArchive(t), time.Now())
	upstream.SetArchiveStatus(http.StatusNotFound)

	dest := filepath.Join(t.TempDir(), "allCountries.zip")
	require.NoError(t, os.WriteFile(dest, []byte("previous"), 0o644))

	_, err := newFetcher(t, upstream.ArchiveURL(), Options{}).Fetch(context.Background(), dest)
	require.Error(t, err)
	assert.True(t, mirrorerrors.IsType(err, mirrorerrors.ErrorTypeConnection))
	assert.Contains(t, err.Error(), "unexpected HTTP status")

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(got))
}

func TestFetch_TruncatedBodyLeavesPreviousArchive(t *testing.T) {
	upstream := testutil.NewUpstream(t, sampleArchive(t), time.Now())
	upstream.SetTruncate(true)

	dir := t.TempDir()
	dest := filepath.Join(dir, "allCountries.zip")
	require.NoError(t, os.WriteFile(dest, []byte("previous"), 0o644))

	_, err := newFetcher(t, upstream.ArchiveURL(), Options{ChunkSize: 16}).Fetch(context.Background(), dest)
	require.Error(t, err)
	assert.True(t,
		mirrorerrors.IsType(err, mirrorerrors.ErrorTypeConnection) || mirrorerrors.IsType(err, mirrorerrors.ErrorTypeData),
		"unexpected error type %s", mirrorerrors.TypeOf(err))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary file may remain")
}

func TestFetch_UnwritableDestination(t *testing.T) {
	upstream := testutil.NewUpstream(t, sampleArchive(t), time.Now())

	dest := filepath.Join(t.TempDir(), "missing", "allCountries.zip")
	_, err := newFetcher(t, upstream.ArchiveURL(), Options{}).Fetch(context.Background(), dest)
	require.Error(t, err)
	assert.True(t, mirrorerrors.IsType(err, mirrorerrors.ErrorTypeFile))
}

func TestFetch_ContextCanceled(t *testing.T) {
	upstream := testutil.NewUpstream(t, sampleArchive(t), time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newFetcher(t, upstream.ArchiveURL(), Options{}).Fetch(ctx, filepath.Join(t.TempDir(), "a.zip"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetch_LogsStartAndCompletion(t *testing.T) {
	upstream := testutil.NewUpstream(t, sampleArchive(t), time.Now())
	core, logs := observer.New(zap.InfoLevel)

	f := NewFetcher(clients.NewHTTPClient(nil, zap.NewNop(), nil), upstream.ArchiveURL(), Options{}, zap.New(core))
	_, err := f.Fetch(context.Background(), filepath.Join(t.TempDir(), "a.zip"))
	require.NoError(t, err)

	assert.Equal(t, 1, logs.FilterMessage("download started").Len())
	assert.Equal(t, 1, logs.FilterMessage("download complete").Len())
	assert.GreaterOrEqual(t, logs.FilterMessage("download progress").Len(), 1)
}

func TestNewFetcher_Defaults(t *testing.T) {
	f := NewFetcher(nil, "http://example.invalid", Options{}, nil)
	assert.Equal(t, DefaultChunkSize, f.options.ChunkSize)
	assert.Equal(t, DefaultProgressInterval, f.options.ProgressInterval)
}

func TestProgressSnapshot(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := newProgress(zap.NewNop(), 4<<20, time.Second)
	p.start, p.lastTime = start, start

	s := p.snapshot(1<<20, start.Add(time.Second))
	assert.Equal(t, time.Second, s.Elapsed)
	assert.InDelta(t, 25.0, s.Percent, 0.001)
	assert.InDelta(t, float64(1<<20), s.CurrentRate, 0.001)
	assert.InDelta(t, float64(1<<20), s.AverageRate, 0.001)

	// the current rate only covers the bytes since the previous snapshot
	s = p.snapshot(4<<20, start.Add(2*time.Second))
	assert.InDelta(t, 100.0, s.Percent, 0.001)
	assert.InDelta(t, float64(3<<20), s.CurrentRate, 0.001)
	assert.InDelta(t, float64(2<<20), s.AverageRate, 0.001)
}

func TestProgressSnapshot_UnknownTotal(t *testing.T) {
	p := newProgress(zap.NewNop(), 0, time.Second)
	s := p.snapshot(10, p.start.Add(time.Second))
	assert.Equal(t, -1.0, s.Percent)

	fields := snapshotFields(s)
	for _, f := range fields {
		assert.NotEqual(t, "percent", f.Key)
	}
}

func TestProgressUpdate_Throttled(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := newProgress(zap.New(core), 100, time.Hour)

	for i := int64(1); i <= 100; i++ {
		p.update(i)
	}
	assert.Equal(t, 1, logs.Len(), "only the first update within the interval is logged")
}

func TestToMB(t *testing.T) {
	assert.Equal(t, 1.5, toMB(1.5*(1<<20)))
	assert.Equal(t, 0.0, toMB(0))
	assert.Equal(t, "12.5%", formatPercent(12.49))
}
