// Package config provides configuration management for geomirror.
//
// A single Config structure is built once per run and passed to every stage.
// Stages never read the environment themselves, so tests can point them at
// mock endpoints and temporary directories without touching stage logic.
//
// # Key Features
//
// - Config: one structure with a section per stage
// - Defaults that reproduce the stock GeoNames mirror with no file at all
// - YAML files with ${VAR_NAME} substitution
// - GEOMIRROR_* environment overrides for every key
// - Validation returning mirrorerrors config errors
//
// # Usage
//
// ## Loading
//
//	cfg, err := config.Load("geomirror.yaml", map[string]interface{}{
//		"logging.level": "debug",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
// ## Building by hand
//
//	cfg := config.Defaults()
//	cfg.WorkDir = t.TempDir()
//	cfg.Source.URL = server.URL + "/allCountries.zip"
//	cfg.Releases.URL = server.URL + "/releases"
//
// ## Environment Variable Substitution
//
//	# geomirror.yaml
//	releases:
//	  url: https://api.github.com/repos/${GITHUB_REPOSITORY}/releases
//	  token: ${GITHUB_TOKEN}
//	mirror:
//	  enabled: true
//	  type: s3
//	  bucket: ${MIRROR_BUCKET}
//
// ## Environment Overrides
//
// Every key can be overridden with GEOMIRROR_ followed by the upper-cased
// key path, dots replaced by underscores:
//
//	GEOMIRROR_SOURCE_URL=http://localhost:8080/allCountries.zip
//	GEOMIRROR_TIMEOUTS_DOWNLOAD=5m
//	GEOMIRROR_NOTIFY_BROKERS=kafka-1:9092,kafka-2:9092
//
// # Sections
//
// - Source: archive URL, local archive path, expected member name
// - Releases: listing URL, token, checksum label
// - Output: artifact directory and file names
// - Download: chunk size, progress interval, user agent
// - Timeouts: metadata, download, releases, mirror, whole run
// - Logging, Tracing, Metrics: observability
// - Mirror, History, Notify: optional stages, disabled by default
//
// When GITHUB_REPOSITORY and GITHUB_TOKEN are set, as they are in GitHub
// Actions, Defaults points the releases lookup at the current repository.
package config
