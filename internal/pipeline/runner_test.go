package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ajitpratap0/geomirror/pkg/config"
	"github.com/ajitpratap0/geomirror/pkg/freshness"
	"github.com/ajitpratap0/geomirror/pkg/history"
	"github.com/ajitpratap0/geomirror/pkg/metrics"
	"github.com/ajitpratap0/geomirror/pkg/mirrorerrors"
	"github.com/ajitpratap0/geomirror/pkg/notify"
	"github.com/ajitpratap0/geomirror/pkg/releases"
	"github.com/ajitpratap0/geomirror/pkg/stats"
	"github.com/ajitpratap0/geomirror/pkg/testutil"
)

var releaseDay = time.Date(2024, 5, 17, 9, 0, 0, 0, time.Local)

type fakeRecorder struct {
	mu      sync.Mutex
	records []*history.RunRecord
	err     error
}

func (f *fakeRecorder) Record(_ context.Context, rec *history.RunRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeRecorder) Close(context.Context) error { return nil }

type fakePublisher struct {
	mu     sync.Mutex
	events []*notify.ReleaseEvent
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, ev *notify.ReleaseEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type failingDestination struct{}

func (failingDestination) Name() string { return "failing" }

func (failingDestination) Upload(context.Context, string, io.Reader, int64, map[string]string) (string, error) {
	return "", mirrorerrors.New(mirrorerrors.ErrorTypeConnection, "bucket unavailable")
}

func (failingDestination) Close() error { return nil }

// RunnerTestSuite runs the whole pipeline against a fake upstream
type RunnerTestSuite struct {
	suite.Suite
	archive   []byte
	upstream  *testutil.Upstream
	cfg       *config.Config
	mirrorDir string
	recorder  *fakeRecorder
	publisher *fakePublisher
	spans     *tracetest.SpanRecorder
}

func TestRunnerTestSuite(t *testing.T) {
	suite.Run(t, new(RunnerTestSuite))
}

func (s *RunnerTestSuite) SetupTest() {
	s.archive = testutil.BuildZip(s.T(), testutil.Member{Name: "allCountries.txt", Body: testutil.SampleTable()})
	s.upstream = testutil.NewUpstream(s.T(), s.archive, time.Now().Add(-time.Hour))

	workDir := s.T().TempDir()
	s.mirrorDir = s.T().TempDir()

	cfg := config.Defaults()
	cfg.WorkDir = workDir
	cfg.Source.URL = s.upstream.ArchiveURL()
	cfg.Releases.URL = s.upstream.ReleasesURL()
	cfg.Releases.Token = ""
	cfg.Mirror.Enabled = true
	cfg.Mirror.Type = config.MirrorTypeFile
	cfg.Mirror.Directory = s.mirrorDir
	cfg.Metrics.TextfilePath = "geomirror.prom"
	s.Require().NoError(cfg.Validate())
	s.cfg = cfg

	s.recorder = &fakeRecorder{}
	s.publisher = &fakePublisher{}
	s.spans = tracetest.NewSpanRecorder()
}

func (s *RunnerTestSuite) newRunner(opts ...Option) *Runner {
	defaults := []Option{
		WithClock(func() time.Time { return releaseDay }),
		WithRecorder(s.recorder),
		WithPublisher(s.publisher),
		WithMetrics(metrics.NewCollector(s.cfg.Name)),
		WithTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(s.spans))),
	}
	return NewRunner(s.cfg, testutil.TestLogger(s.T()), append(defaults, opts...)...)
}

func (s *RunnerTestSuite) artifact(name string) string {
	data, err := os.ReadFile(filepath.Join(s.cfg.WorkDir, name))
	s.Require().NoError(err)
	return string(data)
}

func (s *RunnerTestSuite) archiveChecksum() string {
	sum, err := stats.ChecksumReader(bytes.NewReader(s.archive))
	s.Require().NoError(err)
	return sum
}

func (s *RunnerTestSuite) TestFirstRunPublishesUpdate() {
	res, err := s.newRunner().Run(context.Background())
	s.Require().NoError(err)

	s.Equal(OutcomeUpdated, res.Outcome)
	s.True(res.IsUpdate)
	s.Equal(freshness.ReasonNoLocalCopy, res.Freshness.Reason)
	s.Zero(s.upstream.Requests(http.MethodHead, testutil.ArchivePath), "no HEAD without a local archive")
	s.Equal(1, s.upstream.Requests(http.MethodGet, testutil.ArchivePath))

	s.Equal(int64(3), res.Stats.TotalEntries)
	s.Equal(2, res.Stats.CountryCount)
	s.Equal(s.archiveChecksum(), res.Stats.MD5Checksum)
	s.Equal(releases.ReasonNoRelease, res.Previous.Reason)

	s.Equal("update", s.artifact("update_status.txt"))
	s.Equal("GeoNames Database Update - 2024-05-17", s.artifact("release_title.txt"))
	notes := s.artifact("release_notes.txt")
	s.Contains(notes, "- Total Entries: 3\n")
	s.Contains(notes, "- Countries Covered: 2\n")
	s.Contains(notes, "- MD5 Checksum: "+res.Stats.MD5Checksum+"\n")
	s.FileExists(filepath.Join(s.cfg.WorkDir, "allCountries.txt"))

	s.Len(res.Mirrored, 2)
	day := releaseDay.Format("2006-01-02")
	s.FileExists(filepath.Join(s.mirrorDir, "geonames", day, "allCountries.zip"))
	s.FileExists(filepath.Join(s.mirrorDir, "geonames", day, "release_notes.txt"))

	s.Require().Len(s.recorder.records, 1)
	rec := s.recorder.records[0]
	s.Equal(res.RunID, rec.RunID)
	s.Equal("updated", rec.Outcome)
	s.Equal("update", rec.Status)
	s.Len(rec.Mirrored, 2)

	s.Require().Len(s.publisher.events, 1)
	s.Equal("update", s.publisher.events[0].Status)
	s.Equal(res.Stats.MD5Checksum, s.publisher.events[0].Stats.MD5Checksum)

	for _, stage := range []string{StageFreshness, StageDownload, StageExtract, StageStats, StageReleases, StageReport, StageMirror, StageHistory, StageNotify} {
		s.Contains(res.Stages, stage)
	}
	s.Len(s.spans.Ended(), len(res.Stages))

	prom := s.artifact("geomirror.prom")
	s.Contains(prom, "geomirror_update_available")
	s.Contains(prom, "geomirror_dataset_entries")
}

func (s *RunnerTestSuite) TestNotesAndMirrorShareReleaseDate() {
	// every clock read lands on the next day
	reads := 0
	clock := func() time.Time {
		reads++
		return releaseDay.AddDate(0, 0, reads-1)
	}

	res, err := s.newRunner(WithClock(clock)).Run(context.Background())
	s.Require().NoError(err)

	s.Equal(1, reads, "the release date is read once per run")
	s.Equal("GeoNames Database Update - 2024-05-17", s.artifact("release_title.txt"))
	s.Require().Len(res.Mirrored, 2)
	for _, location := range res.Mirrored {
		s.Contains(location, "/geonames/2024-05-17/")
	}
	s.FileExists(filepath.Join(s.mirrorDir, "geonames", "2024-05-17", "allCountries.zip"))
}

func (s *RunnerTestSuite) TestSecondRunIsUpToDate() {
	_, err := s.newRunner().Run(context.Background())
	s.Require().NoError(err)
	s.Require().NoError(os.Remove(filepath.Join(s.cfg.WorkDir, "release_notes.txt")))

	res, err := s.newRunner().Run(context.Background())
	s.Require().NoError(err)

	s.Equal(OutcomeUpToDate, res.Outcome)
	s.False(res.IsUpdate)
	s.Equal(1, s.upstream.Requests(http.MethodHead, testutil.ArchivePath))
	s.Equal(1, s.upstream.Requests(http.MethodGet, testutil.ArchivePath), "the archive must not be downloaded again")
	s.Equal("no_update", s.artifact("update_status.txt"))
	s.NoFileExists(filepath.Join(s.cfg.WorkDir, "release_notes.txt"))

	s.Require().Len(s.recorder.records, 2)
	s.Equal("up_to_date", s.recorder.records[1].Outcome)
	s.Len(s.publisher.events, 1, "an up to date run publishes nothing")
}

func (s *RunnerTestSuite) TestUpToDateKeepsPreviousNotesAndTitle() {
	_, err := s.newRunner().Run(context.Background())
	s.Require().NoError(err)
	notes := s.artifact("release_notes.txt")

	later := releaseDay.AddDate(0, 0, 7)
	res, err := s.newRunner(WithClock(func() time.Time { return later })).Run(context.Background())
	s.Require().NoError(err)

	s.Equal(OutcomeUpToDate, res.Outcome)
	s.Equal("no_update", s.artifact("update_status.txt"))
	s.Equal(notes, s.artifact("release_notes.txt"))
	s.Equal("GeoNames Database Update - 2024-05-17", s.artifact("release_title.txt"),
		"the title still names the last downloaded release")
}

func (s *RunnerTestSuite) TestNewerRemoteIsDownloadedAgain() {
	archivePath := s.cfg.ArchivePath()
	s.Require().NoError(os.WriteFile(archivePath, []byte("old archive"), 0o644))
	old := time.Now().Add(-48 * time.Hour)
	s.Require().NoError(os.Chtimes(archivePath, old, old))

	res, err := s.newRunner().Run(context.Background())
	s.Require().NoError(err)

	s.Equal(freshness.ReasonRemoteNewer, res.Freshness.Reason)
	s.Equal(1, s.upstream.Requests(http.MethodHead, testutil.ArchivePath))
	data, err := os.ReadFile(archivePath)
	s.Require().NoError(err)
	s.Equal(s.archive, data)
}

func (s *RunnerTestSuite) TestSameChecksumIsNoChange() {
	s.upstream.SetReleaseBodies("GeoNames Database Update - 2024-05-10\n\n- MD5 Checksum: " + s.archiveChecksum() + "\n")

	res, err := s.newRunner().Run(context.Background())
	s.Require().NoError(err)

	s.Equal(OutcomeNoChange, res.Outcome)
	s.False(res.IsUpdate)
	s.True(res.Previous.Found)
	s.Equal("no_update", s.artifact("update_status.txt"))
	s.Equal("GeoNames Database No changes - 2024-05-17", s.artifact("release_title.txt"))
	s.Empty(res.Mirrored, "only updates are mirrored")
	s.NotContains(res.Stages, StageMirror)

	s.Require().Len(s.publisher.events, 1)
	s.Equal("no_update", s.publisher.events[0].Status)
}

func (s *RunnerTestSuite) TestDifferentChecksumIsUpdate() {
	s.upstream.SetReleaseBodies("- MD5 Checksum: " + strings.Repeat("0", 32))

	res, err := s.newRunner().Run(context.Background())
	s.Require().NoError(err)

	s.Equal(OutcomeUpdated, res.Outcome)
	s.Equal(strings.Repeat("0", 32), res.Previous.Checksum)
	s.Equal("update", s.artifact("update_status.txt"))
}

func (s *RunnerTestSuite) TestReleasesUnavailableStillPublishes() {
	s.upstream.SetReleasesStatus(http.StatusInternalServerError)

	res, err := s.newRunner().Run(context.Background())
	s.Require().NoError(err)

	s.False(res.Previous.Found)
	s.True(res.IsUpdate)
	s.Equal("update", s.artifact("update_status.txt"))

	var events []string
	for _, span := range s.spans.Ended() {
		if span.Name() == "geomirror."+StageReleases {
			for _, ev := range span.Events() {
				events = append(events, ev.Name)
			}
		}
	}
	s.Equal([]string{"previous checksum absent"}, events)
}

func (s *RunnerTestSuite) TestHeadFailureWritesNothing() {
	archivePath := s.cfg.ArchivePath()
	s.Require().NoError(os.WriteFile(archivePath, []byte("old archive"), 0o644))
	s.upstream.SetArchiveStatus(http.StatusServiceUnavailable)

	res, err := s.newRunner().Run(context.Background())
	s.Require().Error(err)

	s.True(mirrorerrors.IsType(err, mirrorerrors.ErrorTypeConnection))
	s.Equal(OutcomeFailed, res.Outcome)
	s.Equal(err, res.Err)
	s.NoFileExists(filepath.Join(s.cfg.WorkDir, "update_status.txt"))
	s.NoFileExists(filepath.Join(s.cfg.WorkDir, "release_notes.txt"))
	s.Empty(s.recorder.records)
	s.Empty(s.publisher.events)

	prom := s.artifact("geomirror.prom")
	s.Contains(prom, `geomirror_stage_failures_total{dataset="geonames-allcountries",stage="freshness",type="connection"} 1`)
}

func (s *RunnerTestSuite) TestCorruptArchiveFails() {
	s.upstream = testutil.NewUpstream(s.T(), []byte("not a zip"), time.Now().Add(-time.Hour))
	s.cfg.Source.URL = s.upstream.ArchiveURL()

	res, err := s.newRunner().Run(context.Background())
	s.Require().Error(err)

	s.True(mirrorerrors.IsType(err, mirrorerrors.ErrorTypeData))
	s.Equal(OutcomeFailed, res.Outcome)
	s.NoFileExists(filepath.Join(s.cfg.WorkDir, "update_status.txt"))
}

func (s *RunnerTestSuite) TestMirrorFailureFailsAfterArtifacts() {
	res, err := s.newRunner(WithDestination(failingDestination{})).Run(context.Background())
	s.Require().Error(err)

	s.Contains(err.Error(), "bucket unavailable")
	s.Equal(OutcomeFailed, res.Outcome)
	s.Equal("update", s.artifact("update_status.txt"), "artifacts are written before the mirror")

	s.Require().Len(s.recorder.records, 1)
	s.Equal("failed", s.recorder.records[0].Outcome)
	s.Contains(s.recorder.records[0].Error, "bucket unavailable")
	s.Empty(s.publisher.events, "a failed mirror is not announced")
}

func (s *RunnerTestSuite) TestHistoryAndNotifyFailuresAreSoft() {
	s.recorder.err = errors.New("mongo down")
	s.publisher.err = errors.New("kafka down")

	res, err := s.newRunner().Run(context.Background())
	s.Require().NoError(err)
	s.Equal(OutcomeUpdated, res.Outcome)
}

func (s *RunnerTestSuite) TestDropExtractedTable() {
	s.cfg.Source.KeepExtracted = false

	_, err := s.newRunner().Run(context.Background())
	s.Require().NoError(err)
	s.NoFileExists(filepath.Join(s.cfg.WorkDir, "allCountries.txt"))
	s.FileExists(s.cfg.ArchivePath())
}

func (s *RunnerTestSuite) TestCheckDoesNotDownload() {
	decision, err := s.newRunner().Check(context.Background())
	s.Require().NoError(err)
	s.True(decision.Needed)
	s.Zero(s.upstream.Requests(http.MethodGet, testutil.ArchivePath))
	s.NoFileExists(filepath.Join(s.cfg.WorkDir, "update_status.txt"))
}

func (s *RunnerTestSuite) TestCanceledContext() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s.cfg.Source.ArchivePath = filepath.Join(s.cfg.WorkDir, "allCountries.zip")
	s.Require().NoError(os.WriteFile(s.cfg.Source.ArchivePath, []byte("old"), 0o644))

	res, err := s.newRunner().Run(ctx)
	s.Require().Error(err)
	s.ErrorIs(err, context.Canceled)
	s.Equal(OutcomeFailed, res.Outcome)
}
