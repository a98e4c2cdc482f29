// Package destinations registers every mirror destination with the global registry
package destinations

import (
	// Import all destinations to trigger init() registration
	_ "github.com/ajitpratap0/geomirror/pkg/connector/destinations/file"
	_ "github.com/ajitpratap0/geomirror/pkg/connector/destinations/gcs"
	_ "github.com/ajitpratap0/geomirror/pkg/connector/destinations/s3"
)
