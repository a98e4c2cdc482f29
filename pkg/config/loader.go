package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/geomirror/pkg/mirrorerrors"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. GEOMIRROR_SOURCE_URL
	EnvPrefix = "GEOMIRROR"
	// DefaultFile is looked up in the current directory when no file is given
	DefaultFile = "geomirror.yaml"
)

// Load builds the run configuration. Sources are applied in increasing
// precedence: Defaults, the YAML file, GEOMIRROR_* environment variables and
// finally overrides (usually bound command line flags). ${VAR} references in
// the file are substituted from the environment before parsing.
//
// An empty cfgFile loads DefaultFile when present and defaults otherwise.
func Load(cfgFile string, overrides map[string]interface{}) (*Config, error) {
	v := viper.New()
	setDefaults(v, Defaults())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := cfgFile
	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeConfig, "config file not found").
					WithDetail("path", path)
			}
			return nil, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeConfig, "failed to read config file").
				WithDetail("path", path)
		}

		v.SetConfigType("yaml")
		if err := v.ReadConfig(strings.NewReader(substituteEnvVars(string(data)))); err != nil {
			return nil, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeConfig, "failed to parse YAML").
				WithDetail("path", path)
		}
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeConfig, "failed to decode configuration")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("name", d.Name)
	v.SetDefault("work_dir", d.WorkDir)

	v.SetDefault("source.url", d.Source.URL)
	v.SetDefault("source.archive_path", d.Source.ArchivePath)
	v.SetDefault("source.extracted_name", d.Source.ExtractedName)
	v.SetDefault("source.keep_extracted", d.Source.KeepExtracted)

	v.SetDefault("releases.url", d.Releases.URL)
	v.SetDefault("releases.token", d.Releases.Token)
	v.SetDefault("releases.checksum_label", d.Releases.ChecksumLabel)

	v.SetDefault("output.dir", d.Output.Dir)
	v.SetDefault("output.notes_file", d.Output.NotesFile)
	v.SetDefault("output.status_file", d.Output.StatusFile)
	v.SetDefault("output.title_file", d.Output.TitleFile)

	v.SetDefault("download.chunk_size", d.Download.ChunkSize)
	v.SetDefault("download.progress_interval", d.Download.ProgressInterval)
	v.SetDefault("download.user_agent", d.Download.UserAgent)

	v.SetDefault("timeouts.metadata", d.Timeouts.Metadata)
	v.SetDefault("timeouts.download", d.Timeouts.Download)
	v.SetDefault("timeouts.releases", d.Timeouts.Releases)
	v.SetDefault("timeouts.mirror", d.Timeouts.Mirror)
	v.SetDefault("timeouts.run", d.Timeouts.Run)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.encoding", d.Logging.Encoding)
	v.SetDefault("logging.development", d.Logging.Development)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.sampling_rate", d.Tracing.SamplingRate)
	v.SetDefault("tracing.output", d.Tracing.Output)

	v.SetDefault("metrics.pushgateway_url", d.Metrics.PushgatewayURL)
	v.SetDefault("metrics.job", d.Metrics.Job)
	v.SetDefault("metrics.textfile_path", d.Metrics.TextfilePath)

	v.SetDefault("mirror.enabled", d.Mirror.Enabled)
	v.SetDefault("mirror.type", d.Mirror.Type)
	v.SetDefault("mirror.bucket", d.Mirror.Bucket)
	v.SetDefault("mirror.prefix", d.Mirror.Prefix)
	v.SetDefault("mirror.region", d.Mirror.Region)
	v.SetDefault("mirror.endpoint", d.Mirror.Endpoint)
	v.SetDefault("mirror.credentials_file", d.Mirror.CredentialsFile)
	v.SetDefault("mirror.directory", d.Mirror.Directory)

	v.SetDefault("history.enabled", d.History.Enabled)
	v.SetDefault("history.uri", d.History.URI)
	v.SetDefault("history.database", d.History.Database)
	v.SetDefault("history.collection", d.History.Collection)

	v.SetDefault("notify.enabled", d.Notify.Enabled)
	v.SetDefault("notify.brokers", d.Notify.Brokers)
	v.SetDefault("notify.topic", d.Notify.Topic)
	v.SetDefault("notify.client_id", d.Notify.ClientID)
}

// Marshal renders cfg as YAML. Secrets are masked unless reveal is set.
func Marshal(cfg *Config, reveal bool) ([]byte, error) {
	out := *cfg
	if !reveal && out.Releases.Token != "" {
		out.Releases.Token = "********"
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&out); err != nil {
		return nil, fmt.Errorf("failed to marshal YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return buf.Bytes(), nil
}

// Save writes cfg to filePath as YAML with secrets masked.
func Save(filePath string, cfg *Config) error {
	data, err := Marshal(cfg, false)
	if err != nil {
		return err
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil { //nolint:gosec
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		content = content[:start] + os.Getenv(varName) + content[end+1:]
	}
	return content
}
