// Package core defines the interfaces shared by all mirror destinations
package core

import (
	"context"
	"io"
	"path"
)

// Object metadata keys attached to every mirrored object
const (
	MetadataMD5       = "md5"
	MetadataEntries   = "entries"
	MetadataCountries = "countries"
)

// Destination stores objects under a key.
// Implementations must be safe to Close after a failed Upload.
type Destination interface {
	// Name returns the destination type, such as "s3"
	Name() string

	// Upload stores size bytes from r under key and returns the object location.
	// size is -1 when unknown.
	Upload(ctx context.Context, key string, r io.Reader, size int64, meta map[string]string) (string, error)

	// Close releases the client resources
	Close() error
}

// ContentType returns the MIME type mirrored objects are stored with
func ContentType(key string) string {
	switch path.Ext(key) {
	case ".zip":
		return "application/zip"
	case ".txt":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
