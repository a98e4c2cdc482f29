// Package pipeline runs one mirror of the GeoNames archive.
//
// # Overview
//
// A run executes its stages strictly in order, one network operation at a
// time:
//
//  1. freshness: compare the remote Last-Modified with the local archive
//  2. download: stream the archive to disk
//  3. extract: unpack the tab-separated table
//  4. stats: count rows and countries, checksum the archive
//  5. releases: recover the checksum of the previous release
//  6. report: write release notes, status and title
//  7. mirror: upload archive and notes (updates only)
//  8. history: record the run in MongoDB
//  9. notify: publish a release event to Kafka
//
// When the local archive is current the run stops after stage 1 and writes
// only the status file. Stages 7 to 9 are optional; a mirror failure fails
// the run while history and notify failures are logged. Metrics are exported
// on every exit path.
//
// # Basic Usage
//
//	runner := pipeline.NewRunner(cfg, logger, pipeline.WithMetrics(collector))
//	result, err := runner.Run(ctx)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(result.Outcome)
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ajitpratap0/geomirror/pkg/clients"
	"github.com/ajitpratap0/geomirror/pkg/compression"
	"github.com/ajitpratap0/geomirror/pkg/config"
	"github.com/ajitpratap0/geomirror/pkg/connector"
	"github.com/ajitpratap0/geomirror/pkg/connector/core"
	"github.com/ajitpratap0/geomirror/pkg/connector/registry"
	"github.com/ajitpratap0/geomirror/pkg/fetcher"
	"github.com/ajitpratap0/geomirror/pkg/freshness"
	"github.com/ajitpratap0/geomirror/pkg/history"
	"github.com/ajitpratap0/geomirror/pkg/logger"
	"github.com/ajitpratap0/geomirror/pkg/metrics"
	"github.com/ajitpratap0/geomirror/pkg/notify"
	"github.com/ajitpratap0/geomirror/pkg/observability"
	"github.com/ajitpratap0/geomirror/pkg/releases"
	"github.com/ajitpratap0/geomirror/pkg/report"
	"github.com/ajitpratap0/geomirror/pkg/stats"

	// Register all mirror destinations
	_ "github.com/ajitpratap0/geomirror/pkg/connector/destinations"
)

const exportTimeout = 30 * time.Second

// Recorder stores run history
type Recorder interface {
	Record(ctx context.Context, rec *history.RunRecord) error
	Close(ctx context.Context) error
}

// Publisher announces releases
type Publisher interface {
	Publish(ctx context.Context, ev *notify.ReleaseEvent) error
	Close() error
}

// Option configures a Runner
type Option func(*Runner)

// WithMetrics records run metrics in c and exports them at the end of the run
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Runner) { r.metrics = c }
}

// WithTracerProvider traces stages with tp instead of the global provider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Runner) { r.tracerProvider = tp }
}

// WithClock sets the clock used for the release date
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithDestination mirrors into d instead of the configured destination
func WithDestination(d core.Destination) Option {
	return func(r *Runner) { r.destination = d }
}

// WithRecorder records history into rec instead of the configured MongoDB
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// WithPublisher publishes events with p instead of the configured Kafka producer
func WithPublisher(p Publisher) Option {
	return func(r *Runner) { r.publisher = p }
}

// Runner executes mirror runs for one configuration
type Runner struct {
	cfg            *config.Config
	logger         *zap.Logger
	metrics        *metrics.Collector
	tracerProvider trace.TracerProvider
	now            func() time.Time

	destination core.Destination
	recorder    Recorder
	publisher   Publisher
}

// NewRunner creates a runner. cfg must be valid.
func NewRunner(cfg *config.Config, log *zap.Logger, opts ...Option) *Runner {
	if log == nil {
		log = logger.Get()
	}
	r := &Runner{
		cfg:    cfg,
		logger: log.With(zap.String("dataset", cfg.Name)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// run holds the state of a single Run call
type run struct {
	*Runner
	log    *zap.Logger
	tracer *observability.StageTracer
	client *clients.HTTPClient
	result *Result
	// date is read once per run and dates both the notes and the mirrored objects
	date   time.Time
}

func (r *Runner) newRun(ctx context.Context) (context.Context, *run) {
	runID := uuid.NewString()
	ctx = logger.ContextWithRunID(ctx, runID)

	httpConfig := clients.DefaultHTTPConfig()
	httpConfig.UserAgent = r.cfg.Download.UserAgent

	log := logger.WithContext(ctx, r.logger)
	return ctx, &run{
		Runner: r,
		log:    log,
		tracer: observability.NewStageTracer(r.cfg.Name, r.tracerProvider),
		client: clients.NewHTTPClient(httpConfig, log, r.metrics),
		date:   r.now(),
		result: &Result{
			RunID:     runID,
			Dataset:   r.cfg.Name,
			StartedAt: time.Now(),
			Stages:    make(map[string]time.Duration),
		},
	}
}

// Check reports whether the remote archive is newer than the local copy
// without downloading anything.
func (r *Runner) Check(ctx context.Context) (freshness.Decision, error) {
	ctx, rn := r.newRun(ctx)
	defer rn.client.Close()

	var decision freshness.Decision
	err := rn.stage(ctx, StageFreshness, r.cfg.Timeouts.Metadata, func(ctx context.Context, span *observability.Span) error {
		var err error
		decision, err = freshness.NewChecker(rn.client, r.cfg.Source.URL, rn.log).NeedsDownload(ctx, r.cfg.ArchivePath())
		span.SetAttribute("needed", decision.Needed)
		return err
	})
	return decision, err
}

// Run executes one mirror run. The returned Result is never nil; on failure
// its Outcome is OutcomeFailed and Err is the returned error.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeouts.Run)
	defer cancel()

	ctx, rn := r.newRun(ctx)
	defer rn.client.Close()

	timer := metrics.NewTimer("run")
	rn.log.Info("run started",
		zap.String("source", r.cfg.Source.URL),
		zap.String("archive", r.cfg.ArchivePath()))

	err := rn.execute(ctx)
	res := rn.result
	res.FinishedAt = time.Now()
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
	}

	r.metrics.SetResult(res.IsUpdate, err == nil)
	rn.exportMetrics(ctx)
	httpStats := rn.client.GetStats()

	if err != nil {
		rn.log.Error("run failed",
			zap.Error(err),
			zap.Int64("http_requests", httpStats.TotalRequests),
			zap.Int64("http_failures", httpStats.FailedRequests),
			zap.Duration("duration", timer.Stop()))
		return res, err
	}
	rn.log.Info("run complete",
		zap.String("outcome", string(res.Outcome)),
		zap.Bool("is_update", res.IsUpdate),
		zap.Int64("http_requests", httpStats.TotalRequests),
		zap.Duration("duration", timer.Stop()))
	return res, nil
}

func (rn *run) execute(ctx context.Context) error {
	cfg := rn.cfg
	res := rn.result
	archivePath := cfg.ArchivePath()

	err := rn.stage(ctx, StageFreshness, cfg.Timeouts.Metadata, func(ctx context.Context, span *observability.Span) error {
		var err error
		res.Freshness, err = freshness.NewChecker(rn.client, cfg.Source.URL, rn.log).NeedsDownload(ctx, archivePath)
		span.SetAttribute("needed", res.Freshness.Needed)
		span.SetAttribute("reason", res.Freshness.Reason)
		return err
	})
	if err != nil {
		return err
	}

	if !res.Freshness.Needed {
		return rn.upToDate(ctx)
	}

	err = rn.stage(ctx, StageDownload, cfg.Timeouts.Download, func(ctx context.Context, span *observability.Span) error {
		f := fetcher.NewFetcher(rn.client, cfg.Source.URL, fetcher.Options{
			ChunkSize:        cfg.Download.ChunkSize,
			ProgressInterval: cfg.Download.ProgressInterval,
			Counter:          rn.metrics,
		}, rn.log)
		var err error
		res.Download, err = f.Fetch(ctx, archivePath)
		if err == nil {
			span.SetAttribute("bytes", res.Download.Bytes)
		}
		return err
	})
	if err != nil {
		return err
	}

	var extracted *compression.Extracted
	err = rn.stage(ctx, StageExtract, 0, func(ctx context.Context, span *observability.Span) error {
		var err error
		extracted, err = compression.NewExtractor(rn.log).Extract(ctx, archivePath, cfg.Resolve("."), cfg.Source.ExtractedName)
		if err == nil {
			span.SetAttribute("members", len(extracted.Members))
			span.SetAttribute("bytes", extracted.Bytes)
		}
		return err
	})
	if err != nil {
		return err
	}

	err = rn.stage(ctx, StageStats, 0, func(ctx context.Context, span *observability.Span) error {
		var err error
		res.Stats, err = stats.NewCollector(rn.log).Collect(ctx, extracted.Path, archivePath)
		if err != nil {
			return err
		}
		span.SetAttribute("entries", res.Stats.TotalEntries)
		span.SetAttribute("countries", res.Stats.CountryCount)
		span.SetAttribute("md5", res.Stats.MD5Checksum)
		return nil
	})
	if !cfg.Source.KeepExtracted {
		if rmErr := extracted.Remove(); rmErr != nil {
			rn.log.Warn("failed to remove extracted files", zap.Error(rmErr))
		}
	}
	if err != nil {
		return err
	}
	rn.metrics.SetDataset(res.Stats.TotalEntries, res.Stats.CountryCount, res.Stats.FileSize)

	_ = rn.stage(ctx, StageReleases, cfg.Timeouts.Releases, func(ctx context.Context, span *observability.Span) error {
		detector := releases.NewDetector(rn.client, cfg.Releases.URL, cfg.Releases.Token, cfg.Releases.ChecksumLabel, rn.log)
		res.Previous = detector.PreviousChecksum(ctx)
		res.IsUpdate = releases.IsUpdate(res.Stats.MD5Checksum, res.Previous)
		span.SetAttribute("previous_found", res.Previous.Found)
		span.SetAttribute("is_update", res.IsUpdate)
		if !res.Previous.Found {
			span.AddEvent("previous checksum absent", attribute.String("reason", res.Previous.Reason))
		}
		return nil
	})

	res.Outcome = OutcomeNoChange
	if res.IsUpdate {
		res.Outcome = OutcomeUpdated
	}

	err = rn.stage(ctx, StageReport, 0, func(ctx context.Context, span *observability.Span) error {
		var err error
		res.Artifacts, err = rn.reportWriter().Write(res.Stats, res.IsUpdate)
		if err == nil {
			span.SetAttribute("status", string(res.Artifacts.Status))
		}
		return err
	})
	if err != nil {
		return err
	}

	var mirrorErr error
	if (cfg.Mirror.Enabled || rn.destination != nil) && res.IsUpdate {
		mirrorErr = rn.stage(ctx, StageMirror, cfg.Timeouts.Mirror, rn.mirror)
		if mirrorErr != nil {
			res.Err = mirrorErr
			res.Outcome = OutcomeFailed
		}
	}

	res.FinishedAt = time.Now()
	rn.recordHistory(ctx)
	if mirrorErr != nil {
		return mirrorErr
	}
	rn.notify(ctx)
	return nil
}

// upToDate finishes a run that found the local archive current. Only the
// status file is rewritten; release_notes.txt and release_title.txt still
// describe the last downloaded archive and carry its date.
func (rn *run) upToDate(ctx context.Context) error {
	res := rn.result
	res.Outcome = OutcomeUpToDate

	err := rn.stage(ctx, StageReport, 0, func(ctx context.Context, span *observability.Span) error {
		var err error
		res.Artifacts, err = rn.reportWriter().WriteStatus(report.StatusNoUpdate)
		return err
	})
	if err != nil {
		return err
	}

	rn.log.Info("local archive is up to date",
		zap.Time("local", res.Freshness.LocalModTime),
		zap.Time("remote", res.Freshness.RemoteModTime))

	res.FinishedAt = time.Now()
	rn.recordHistory(ctx)
	return nil
}

func (rn *run) reportWriter() *report.Writer {
	output := rn.cfg.Output
	output.Dir = rn.cfg.OutputDir()
	return report.NewWriter(output, rn.log, report.WithClock(func() time.Time { return rn.date }))
}

func (rn *run) mirror(ctx context.Context, span *observability.Span) error {
	dest := rn.destination
	if dest == nil {
		var err error
		dest, err = registry.CreateDestination(ctx, &rn.cfg.Mirror, rn.log)
		if err != nil {
			return err
		}
		defer func() {
			if err := dest.Close(); err != nil {
				rn.log.Warn("failed to close mirror destination", zap.Error(err))
			}
		}()
	}

	res := rn.result
	locations, err := connector.NewMirror(dest, rn.cfg.Mirror.Prefix, rn.log).
		Publish(ctx, res.Stats, rn.date, rn.cfg.ArchivePath(), res.Artifacts.NotesPath)
	res.Mirrored = locations
	span.SetAttribute("objects", len(locations))
	return err
}

// recordHistory stores the run. Failures are logged only.
func (rn *run) recordHistory(ctx context.Context) {
	if !rn.cfg.History.Enabled && rn.recorder == nil {
		return
	}

	_ = rn.stage(ctx, StageHistory, rn.cfg.Timeouts.Metadata, func(ctx context.Context, _ *observability.Span) error {
		rec := rn.recorder
		if rec == nil {
			var err error
			rec, err = history.Connect(ctx, rn.cfg.History, rn.log)
			if err != nil {
				return err
			}
			defer func() { _ = rec.Close(context.WithoutCancel(ctx)) }()
		}
		return rec.Record(ctx, rn.result.runRecord())
	})
}

// notify publishes the release event. Failures are logged only.
func (rn *run) notify(ctx context.Context) {
	if !rn.cfg.Notify.Enabled && rn.publisher == nil {
		return
	}

	_ = rn.stage(ctx, StageNotify, rn.cfg.Timeouts.Metadata, func(ctx context.Context, _ *observability.Span) error {
		pub := rn.publisher
		if pub == nil {
			n, err := notify.NewNotifier(rn.cfg.Notify, rn.log)
			if err != nil {
				return err
			}
			pub = n
			defer func() { _ = pub.Close() }()
		}
		return pub.Publish(ctx, rn.result.releaseEvent())
	})
}

// stage runs fn as a traced, timed stage with an optional deadline
func (rn *run) stage(ctx context.Context, name string, timeout time.Duration, fn func(context.Context, *observability.Span) error) error {
	ctx = logger.ContextWithStage(ctx, name)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	duration, err := rn.tracer.TraceStage(ctx, name, fn)
	rn.result.Stages[name] = duration
	rn.metrics.ObserveStage(name, duration, err)

	if err != nil {
		rn.log.Warn("stage failed",
			zap.String("stage", name),
			zap.Duration("duration", duration),
			zap.Error(err))
	} else {
		rn.log.Debug("stage complete", zap.String("stage", name), zap.Duration("duration", duration))
	}
	return err
}

// exportMetrics pushes and writes the run metrics. It runs even when ctx is
// done so failed and canceled runs are still reported.
func (rn *run) exportMetrics(ctx context.Context) {
	if rn.metrics == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), exportTimeout)
	defer cancel()

	if err := rn.metrics.Push(ctx, rn.cfg.Metrics.PushgatewayURL, rn.cfg.Metrics.Job); err != nil {
		rn.log.Warn("failed to push metrics", zap.Error(err))
	}
	if err := rn.metrics.WriteTextfile(rn.cfg.Resolve(rn.cfg.Metrics.TextfilePath)); err != nil {
		rn.log.Warn("failed to write metrics textfile", zap.Error(err))
	}
}
