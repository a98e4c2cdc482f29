// Package report renders release notes and writes the release artifacts
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/ajitpratap0/geomirror/pkg/config"
	"github.com/ajitpratap0/geomirror/pkg/mirrorerrors"
	"github.com/ajitpratap0/geomirror/pkg/stats"
)

// Status is the token written to the status file
type Status string

const (
	StatusUpdate   Status = "update"
	StatusNoUpdate Status = "no_update"
)

// StatusFor maps an update decision to its token
func StatusFor(isUpdate bool) Status {
	if isUpdate {
		return StatusUpdate
	}
	return StatusNoUpdate
}

const (
	dateLayout = "2006-01-02"
	bytesPerMB = 1024 * 1024

	updateSentence   = "This release contains the latest GeoNames database update."
	noChangeSentence = "This release contains no changes to the GeoNames database."
)

var printer = message.NewPrinter(language.English)

// Artifacts are the rendered and written release files
type Artifacts struct {
	Notes  string `json:"-" bson:"-"`
	Status Status `json:"status" bson:"status"`
	Title  string `json:"title" bson:"title"`

	NotesPath  string `json:"notes_path,omitempty" bson:"notes_path,omitempty"`
	StatusPath string `json:"status_path" bson:"status_path"`
	TitlePath  string `json:"title_path,omitempty" bson:"title_path,omitempty"`
}

// Option configures a Writer
type Option func(*Writer)

// WithClock replaces the clock the release date is taken from
func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		w.now = now
	}
}

// Writer writes the artifacts into one directory
type Writer struct {
	output config.OutputConfig
	now    func() time.Time
	logger *zap.Logger
}

// NewWriter creates a writer. output.Dir must already be resolved.
func NewWriter(output config.OutputConfig, logger *zap.Logger, opts ...Option) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Writer{
		output: output,
		now:    time.Now,
		logger: logger.With(zap.String("component", "report")),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Render returns the release notes for s
func Render(s *stats.DatasetStatistics, isUpdate bool, date time.Time) string {
	heading, sentence := "No changes", noChangeSentence
	if isUpdate {
		heading, sentence = "Update", updateSentence
	}

	var b strings.Builder
	fmt.Fprintf(&b, "GeoNames Database %s - %s\n", heading, date.Format(dateLayout))
	b.WriteString("\n")
	fmt.Fprintf(&b, "- Total Entries: %s\n", printer.Sprintf("%d", s.TotalEntries))
	fmt.Fprintf(&b, "- Countries Covered: %d\n", s.CountryCount)
	fmt.Fprintf(&b, "- File Size: %s\n", FormatSize(s.FileSize))
	fmt.Fprintf(&b, "- MD5 Checksum: %s\n", s.MD5Checksum)
	b.WriteString("\n")
	b.WriteString(sentence)
	b.WriteString("\n")
	return b.String()
}

// FormatSize renders a byte count as megabytes with two decimals
func FormatSize(size int64) string {
	return fmt.Sprintf("%.2f MB", float64(size)/bytesPerMB)
}

// Title returns the first line of notes
func Title(notes string) string {
	if i := strings.IndexByte(notes, '\n'); i >= 0 {
		return notes[:i]
	}
	return notes
}

// Write renders the notes and writes all three artifacts, replacing previous ones.
func (w *Writer) Write(s *stats.DatasetStatistics, isUpdate bool) (*Artifacts, error) {
	notes := Render(s, isUpdate, w.now())
	a := &Artifacts{
		Notes:      notes,
		Status:     StatusFor(isUpdate),
		Title:      Title(notes),
		NotesPath:  w.path(w.output.NotesFile),
		StatusPath: w.path(w.output.StatusFile),
		TitlePath:  w.path(w.output.TitleFile),
	}

	if err := w.ensureDir(); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		path, content string
	}{
		{a.NotesPath, a.Notes},
		{a.StatusPath, string(a.Status)},
		{a.TitlePath, a.Title},
	} {
		if err := writeFile(f.path, f.content); err != nil {
			return nil, err
		}
	}

	w.logger.Info("release artifacts written",
		zap.String("status", string(a.Status)),
		zap.String("title", a.Title),
		zap.String("dir", w.output.Dir))
	return a, nil
}

// WriteStatus writes only the status file. It is used when the local archive
// is already current and nothing was downloaded.
func (w *Writer) WriteStatus(status Status) (*Artifacts, error) {
	a := &Artifacts{
		Status:     status,
		StatusPath: w.path(w.output.StatusFile),
	}
	if err := w.ensureDir(); err != nil {
		return nil, err
	}
	if err := writeFile(a.StatusPath, string(status)); err != nil {
		return nil, err
	}

	w.logger.Info("status written", zap.String("status", string(status)), zap.String("path", a.StatusPath))
	return a, nil
}

func (w *Writer) path(name string) string {
	return filepath.Join(w.output.Dir, name)
}

func (w *Writer) ensureDir() error {
	if err := os.MkdirAll(w.output.Dir, 0o755); err != nil {
		return mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeFile, "failed to create output directory").
			WithDetail("path", w.output.Dir)
	}
	return nil
}

func writeFile(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil { //nolint:gosec
		return mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeFile, "failed to write artifact").
			WithDetail("path", path)
	}
	return nil
}
