package pipeline

import (
	"time"

	"github.com/ajitpratap0/geomirror/pkg/fetcher"
	"github.com/ajitpratap0/geomirror/pkg/freshness"
	"github.com/ajitpratap0/geomirror/pkg/history"
	"github.com/ajitpratap0/geomirror/pkg/notify"
	"github.com/ajitpratap0/geomirror/pkg/releases"
	"github.com/ajitpratap0/geomirror/pkg/report"
	"github.com/ajitpratap0/geomirror/pkg/stats"
)

// Outcome summarizes how a run ended
type Outcome string

const (
	// OutcomeUpToDate means the local archive was current and nothing was downloaded
	OutcomeUpToDate Outcome = "up_to_date"
	// OutcomeUpdated means the archive differs from the previous release
	OutcomeUpdated Outcome = "updated"
	// OutcomeNoChange means a new archive was downloaded with the previous checksum
	OutcomeNoChange Outcome = "no_change"
	// OutcomeFailed means a stage failed
	OutcomeFailed Outcome = "failed"
)

// Stage names used for spans, metrics and log fields
const (
	StageFreshness = "freshness"
	StageDownload  = "download"
	StageExtract   = "extract"
	StageStats     = "stats"
	StageReleases  = "releases"
	StageReport    = "report"
	StageMirror    = "mirror"
	StageHistory   = "history"
	StageNotify    = "notify"
)

// Result describes a finished run
type Result struct {
	RunID      string
	Dataset    string
	Outcome    Outcome
	StartedAt  time.Time
	FinishedAt time.Time

	Freshness freshness.Decision
	Download  *fetcher.Result
	Stats     *stats.DatasetStatistics
	Previous  releases.Lookup
	IsUpdate  bool
	Artifacts *report.Artifacts
	Mirrored  []string

	// Stages holds the duration of every stage that ran
	Stages map[string]time.Duration
	// Err is the error that failed the run, if any
	Err error
}

// Duration returns the wall time of the run
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// runRecord converts the result into its history document
func (r *Result) runRecord() *history.RunRecord {
	rec := &history.RunRecord{
		RunID:      r.RunID,
		Dataset:    r.Dataset,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Outcome:    string(r.Outcome),
		Stats:      r.Stats,
		IsUpdate:   r.IsUpdate,
		Mirrored:   r.Mirrored,
	}
	if r.Outcome != OutcomeUpToDate {
		prev := r.Previous
		rec.Previous = &prev
	}
	if r.Artifacts != nil {
		rec.Status = string(r.Artifacts.Status)
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	return rec
}

// releaseEvent converts the result into its notification
func (r *Result) releaseEvent() *notify.ReleaseEvent {
	ev := &notify.ReleaseEvent{
		RunID:            r.RunID,
		Dataset:          r.Dataset,
		IsUpdate:         r.IsUpdate,
		PreviousChecksum: r.Previous.Checksum,
		Mirrored:         r.Mirrored,
		PublishedAt:      r.FinishedAt,
	}
	if r.Stats != nil {
		ev.Stats = *r.Stats
	}
	if r.Artifacts != nil {
		ev.Status = string(r.Artifacts.Status)
		ev.Title = r.Artifacts.Title
	}
	return ev
}
