// Package config provides configurations for the optional connectors of a run
package config

import "fmt"

// Mirror destination types
const (
	MirrorTypeS3   = "s3"
	MirrorTypeGCS  = "gcs"
	MirrorTypeFile = "file"
)

// MirrorConfig contains configuration for the archive mirror destination
type MirrorConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Type    string `mapstructure:"type" yaml:"type"`

	// Object store configuration
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix"`
	Region          string `mapstructure:"region" yaml:"region"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"` // S3-compatible stores
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`

	// Local directory for the file destination
	Directory string `mapstructure:"directory" yaml:"directory"`
}

// HistoryConfig contains configuration for the MongoDB run history
type HistoryConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	URI        string `mapstructure:"uri" yaml:"uri"`
	Database   string `mapstructure:"database" yaml:"database"`
	Collection string `mapstructure:"collection" yaml:"collection"`
}

// NotifyConfig contains configuration for the Kafka release notifier
type NotifyConfig struct {
	Enabled  bool     `mapstructure:"enabled" yaml:"enabled"`
	Brokers  []string `mapstructure:"brokers" yaml:"brokers"`
	Topic    string   `mapstructure:"topic" yaml:"topic"`
	ClientID string   `mapstructure:"client_id" yaml:"client_id"`
}

func defaultMirrorConfig() MirrorConfig {
	return MirrorConfig{
		Type:   MirrorTypeS3,
		Prefix: "geonames",
		Region: "us-east-1",
	}
}

func defaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		URI:        "mongodb://localhost:27017",
		Database:   "geomirror",
		Collection: "runs",
	}
}

func defaultNotifyConfig() NotifyConfig {
	return NotifyConfig{
		Brokers:  []string{"localhost:9092"},
		Topic:    "geonames.releases",
		ClientID: "geomirror",
	}
}

func (m MirrorConfig) validate() error {
	if !m.Enabled {
		return nil
	}
	switch m.Type {
	case MirrorTypeS3, MirrorTypeGCS:
		if m.Bucket == "" {
			return configError(fmt.Sprintf("mirror.bucket is required for %s", m.Type), "mirror.bucket", "")
		}
	case MirrorTypeFile:
		if m.Directory == "" {
			return configError("mirror.directory is required for file", "mirror.directory", "")
		}
	default:
		return configError("unsupported mirror type", "mirror.type", m.Type)
	}
	return nil
}

func (h HistoryConfig) validate() error {
	if !h.Enabled {
		return nil
	}
	if h.URI == "" || h.Database == "" || h.Collection == "" {
		return configError("history.uri, history.database and history.collection are required", "history", h.URI)
	}
	return nil
}

func (n NotifyConfig) validate() error {
	if !n.Enabled {
		return nil
	}
	if len(n.Brokers) == 0 {
		return configError("notify.brokers is required", "notify.brokers", n.Brokers)
	}
	if n.Topic == "" {
		return configError("notify.topic is required", "notify.topic", "")
	}
	return nil
}
