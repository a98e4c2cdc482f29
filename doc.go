// Package geomirror keeps a mirror of the GeoNames postal code archive
// (allCountries.zip) and produces the artifacts a scheduled job needs to
// publish a release when the data changes.
//
// # Architecture
//
// A run is a short sequential pipeline:
//
//  1. Freshness: a HEAD request compares the remote Last-Modified header with
//     the modification time of the local archive.
//  2. Fetch: the archive is streamed to disk in chunks with periodic progress
//     logging. The previous archive is replaced only after a complete download.
//  3. Extract: the tab-separated table is unpacked from the archive.
//  4. Statistics: entries, distinct countries, archive size and MD5 checksum.
//  5. Change detection: the checksum is compared with the one embedded in the
//     notes of the most recent published release.
//  6. Report: release_notes.txt, update_status.txt and release_title.txt.
//
// Optional stages mirror the archive to S3, GCS or a directory, record the
// run in MongoDB and publish a release event to Kafka.
//
// # Quick Start
//
//	import (
//	    "context"
//	    "github.com/ajitpratap0/geomirror/internal/pipeline"
//	    "github.com/ajitpratap0/geomirror/pkg/config"
//	    "github.com/ajitpratap0/geomirror/pkg/logger"
//	    "github.com/ajitpratap0/geomirror/pkg/metrics"
//	)
//
//	cfg, err := config.Load("geomirror.yaml", nil)
//	if err != nil {
//	    return err
//	}
//
//	runner := pipeline.NewRunner(cfg, logger.Get(), pipeline.WithMetrics(metrics.NewCollector(cfg.Name)))
//	result, err := runner.Run(context.Background())
//
// # Key Packages
//
//	pkg/freshness    - Last-Modified comparison
//	pkg/fetcher      - Chunked download with progress reporting
//	pkg/compression  - Zip member extraction
//	pkg/stats        - Dataset statistics and checksums
//	pkg/releases     - Previous release checksum lookup
//	pkg/report       - Release artifact rendering
//	pkg/connector    - Mirror destinations (s3, gcs, file)
//	pkg/history      - MongoDB run history
//	pkg/notify       - Kafka release events
//	pkg/config       - Configuration management
//	pkg/mirrorerrors - Structured error handling
//	pkg/logger       - Structured logging
//	pkg/metrics      - Prometheus run metrics
//
// # Configuration
//
// Every setting has a default that reproduces the stock GeoNames mirror, so
// the binary runs without a configuration file. A YAML file, GEOMIRROR_*
// environment variables and command line flags override the defaults in
// that order. ${VAR_NAME} references in the file are expanded.
//
// # Command Line
//
//	geomirror                 # same as geomirror run
//	geomirror check           # report whether a download is needed
//	geomirror config show     # print the effective configuration
//	geomirror history -n 5    # list recent runs
//
// The process exits with status 1 when any required stage fails.
package geomirror
