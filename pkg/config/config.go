// Package config defines the run configuration of geomirror
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/ajitpratap0/geomirror/pkg/mirrorerrors"
)

const (
	// DefaultSourceURL is the GeoNames postal code dump for all countries
	DefaultSourceURL = "https://download.geonames.org/export/zip/allCountries.zip"
	// DefaultChecksumLabel precedes the archive checksum in published release notes
	DefaultChecksumLabel = "MD5 Checksum: "
	// githubAPI is the base of the default releases listing
	githubAPI = "https://api.github.com/repos/"
)

// Config is the single configuration structure of a mirror run.
type Config struct {
	// Name identifies the mirrored dataset in logs, metrics and events
	Name string `mapstructure:"name" yaml:"name"`
	// WorkDir is the directory relative paths resolve against
	WorkDir string `mapstructure:"work_dir" yaml:"work_dir"`

	Source   SourceConfig   `mapstructure:"source" yaml:"source"`
	Releases ReleasesConfig `mapstructure:"releases" yaml:"releases"`
	Output   OutputConfig   `mapstructure:"output" yaml:"output"`
	Download DownloadConfig `mapstructure:"download" yaml:"download"`
	Timeouts TimeoutConfig  `mapstructure:"timeouts" yaml:"timeouts"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Tracing  TracingConfig  `mapstructure:"tracing" yaml:"tracing"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Mirror   MirrorConfig   `mapstructure:"mirror" yaml:"mirror"`
	History  HistoryConfig  `mapstructure:"history" yaml:"history"`
	Notify   NotifyConfig   `mapstructure:"notify" yaml:"notify"`
}

// SourceConfig describes the remote archive and its local copies.
type SourceConfig struct {
	// URL of the zip archive
	URL string `mapstructure:"url" yaml:"url"`
	// ArchivePath is where the downloaded archive is kept between runs
	ArchivePath string `mapstructure:"archive_path" yaml:"archive_path"`
	// ExtractedName is the tab-separated member expected inside the archive
	ExtractedName string `mapstructure:"extracted_name" yaml:"extracted_name"`
	// KeepExtracted leaves the extracted table on disk after statistics are collected
	KeepExtracted bool `mapstructure:"keep_extracted" yaml:"keep_extracted"`
}

// ReleasesConfig describes the releases listing endpoint.
type ReleasesConfig struct {
	// URL of the listing, most recent release first. Empty disables the lookup.
	URL string `mapstructure:"url" yaml:"url"`
	// Token is sent as a bearer token when set
	Token string `mapstructure:"token" yaml:"token"`
	// ChecksumLabel precedes the checksum in release bodies
	ChecksumLabel string `mapstructure:"checksum_label" yaml:"checksum_label"`
}

// OutputConfig names the release artifacts.
type OutputConfig struct {
	Dir        string `mapstructure:"dir" yaml:"dir"`
	NotesFile  string `mapstructure:"notes_file" yaml:"notes_file"`
	StatusFile string `mapstructure:"status_file" yaml:"status_file"`
	TitleFile  string `mapstructure:"title_file" yaml:"title_file"`
}

// DownloadConfig controls the streamed download.
type DownloadConfig struct {
	// ChunkSize is the size of each read from the response body
	ChunkSize int `mapstructure:"chunk_size" yaml:"chunk_size"`
	// ProgressInterval is the minimum time between two progress log lines
	ProgressInterval time.Duration `mapstructure:"progress_interval" yaml:"progress_interval"`
	UserAgent        string        `mapstructure:"user_agent" yaml:"user_agent"`
}

// TimeoutConfig contains the deadline of every network stage.
// A hung transfer fails the run instead of blocking it forever.
type TimeoutConfig struct {
	Metadata time.Duration `mapstructure:"metadata" yaml:"metadata"`
	Download time.Duration `mapstructure:"download" yaml:"download"`
	Releases time.Duration `mapstructure:"releases" yaml:"releases"`
	Mirror   time.Duration `mapstructure:"mirror" yaml:"mirror"`
	Run      time.Duration `mapstructure:"run" yaml:"run"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Encoding    string `mapstructure:"encoding" yaml:"encoding"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// TracingConfig controls OpenTelemetry spans around each stage.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled" yaml:"enabled"`
	SamplingRate float64 `mapstructure:"sampling_rate" yaml:"sampling_rate"`
	// Output is "stdout", "stderr" or a file path
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig controls where run metrics are exported.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url" yaml:"pushgateway_url"`
	Job            string `mapstructure:"job" yaml:"job"`
	TextfilePath   string `mapstructure:"textfile_path" yaml:"textfile_path"`
}

// Defaults returns a configuration that reproduces the stock behaviour:
// the GeoNames archive, artifacts in the working directory, optional stages off.
// When running under GitHub Actions the releases listing of the current
// repository is used.
func Defaults() *Config {
	return &Config{
		Name:    "geonames-allcountries",
		WorkDir: ".",
		Source: SourceConfig{
			URL:           DefaultSourceURL,
			ArchivePath:   "allCountries.zip",
			ExtractedName: "allCountries.txt",
			KeepExtracted: true,
		},
		Releases: ReleasesConfig{
			URL:           defaultReleasesURL(os.Getenv("GITHUB_REPOSITORY")),
			Token:         os.Getenv("GITHUB_TOKEN"),
			ChecksumLabel: DefaultChecksumLabel,
		},
		Output: OutputConfig{
			Dir:        ".",
			NotesFile:  "release_notes.txt",
			StatusFile: "update_status.txt",
			TitleFile:  "release_title.txt",
		},
		Download: DownloadConfig{
			ChunkSize:        1 << 20, // 1MB
			ProgressInterval: 5 * time.Second,
			UserAgent:        "geomirror/1.0",
		},
		Timeouts: TimeoutConfig{
			Metadata: 30 * time.Second,
			Download: 30 * time.Minute,
			Releases: 30 * time.Second,
			Mirror:   30 * time.Minute,
			Run:      60 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "console",
		},
		Tracing: TracingConfig{
			Enabled:      false,
			SamplingRate: 1.0,
			Output:       "stderr",
		},
		Metrics: MetricsConfig{
			Job: "geomirror",
		},
		Mirror:  defaultMirrorConfig(),
		History: defaultHistoryConfig(),
		Notify:  defaultNotifyConfig(),
	}
}

func defaultReleasesURL(repository string) string {
	if repository == "" {
		return ""
	}
	return githubAPI + repository + "/releases"
}

// Resolve returns p joined to WorkDir unless p is absolute.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.WorkDir, p)
}

// ArchivePath returns the resolved archive location.
func (c *Config) ArchivePath() string {
	return c.Resolve(c.Source.ArchivePath)
}

// OutputDir returns the resolved artifact directory.
func (c *Config) OutputDir() string {
	return c.Resolve(c.Output.Dir)
}

// Validate checks required fields and ranges. It is called by Load; callers
// building a Config by hand should call it before starting a run.
func (c *Config) Validate() error {
	if c.Name == "" {
		return configError("name is required", "name", c.Name)
	}
	if c.WorkDir == "" {
		return configError("work_dir is required", "work_dir", c.WorkDir)
	}
	if err := validateHTTPURL("source.url", c.Source.URL, true); err != nil {
		return err
	}
	if c.Source.ArchivePath == "" {
		return configError("source.archive_path is required", "source.archive_path", "")
	}
	if c.Source.ExtractedName == "" || filepath.Base(c.Source.ExtractedName) != c.Source.ExtractedName {
		return configError("source.extracted_name must be a plain file name", "source.extracted_name", c.Source.ExtractedName)
	}
	if err := validateHTTPURL("releases.url", c.Releases.URL, false); err != nil {
		return err
	}
	if c.Releases.ChecksumLabel == "" {
		return configError("releases.checksum_label is required", "releases.checksum_label", "")
	}
	if c.Output.NotesFile == "" || c.Output.StatusFile == "" || c.Output.TitleFile == "" {
		return configError("output file names are required", "output", c.Output)
	}
	if c.Download.ChunkSize <= 0 {
		return configError("download.chunk_size must be positive", "download.chunk_size", c.Download.ChunkSize)
	}
	if c.Download.ProgressInterval <= 0 {
		return configError("download.progress_interval must be positive", "download.progress_interval", c.Download.ProgressInterval)
	}
	for name, d := range map[string]time.Duration{
		"timeouts.metadata": c.Timeouts.Metadata,
		"timeouts.download": c.Timeouts.Download,
		"timeouts.releases": c.Timeouts.Releases,
		"timeouts.mirror":   c.Timeouts.Mirror,
		"timeouts.run":      c.Timeouts.Run,
	} {
		if d <= 0 {
			return configError(name+" must be positive", name, d)
		}
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return configError("tracing.sampling_rate must be within [0, 1]", "tracing.sampling_rate", c.Tracing.SamplingRate)
	}
	if err := validateHTTPURL("metrics.pushgateway_url", c.Metrics.PushgatewayURL, false); err != nil {
		return err
	}
	if c.Metrics.PushgatewayURL != "" && c.Metrics.Job == "" {
		return configError("metrics.job is required with a pushgateway", "metrics.job", "")
	}
	if err := c.Mirror.validate(); err != nil {
		return err
	}
	if err := c.History.validate(); err != nil {
		return err
	}
	return c.Notify.validate()
}

func validateHTTPURL(key, raw string, required bool) error {
	if raw == "" {
		if required {
			return configError(key+" is required", key, raw)
		}
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return configError(fmt.Sprintf("%s must be an http(s) URL", key), key, raw)
	}
	return nil
}

func configError(msg, key string, value interface{}) error {
	return mirrorerrors.New(mirrorerrors.ErrorTypeConfig, msg).
		WithDetail("key", key).
		WithDetail("value", value)
}
