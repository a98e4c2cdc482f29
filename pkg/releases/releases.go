// Package releases recovers the checksum of the most recently published
// release and decides whether the current archive is an update.
//
// The lookup never fails a run. Every problem (no repository configured,
// transport errors, unexpected status, undecodable listing, missing label)
// yields an absent checksum with a Reason and a warning log line, which makes
// the current archive count as an update.
package releases

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/geomirror/pkg/clients"
	jsonpool "github.com/ajitpratap0/geomirror/pkg/json"
)

// Absence reasons
const (
	ReasonNotConfigured = "no releases URL configured"
	ReasonNoRelease     = "no previous release"
	ReasonNoChecksum    = "checksum label not found in release body"
	ReasonUnavailable   = "releases listing unavailable"
)

const (
	acceptHeader     = "application/vnd.github+json"
	apiVersionHeader = "2022-11-28"

	// maxListingSize bounds the listing read into memory
	maxListingSize = 16 << 20
)

// Release is one entry of the releases listing
type Release struct {
	TagName     string `json:"tag_name"`
	Name        string `json:"name"`
	Body        string `json:"body"`
	PublishedAt string `json:"published_at"`
}

// Lookup is the checksum recovered from the latest release.
// Found is false when no checksum could be recovered; Reason then says why.
type Lookup struct {
	Checksum string `json:"checksum,omitempty" bson:"checksum,omitempty"`
	Found    bool   `json:"found" bson:"found"`
	Release  string `json:"release,omitempty" bson:"release,omitempty"`
	Reason   string `json:"reason,omitempty" bson:"reason,omitempty"`
}

// IsUpdate reports whether current differs from the previous checksum.
// An absent previous checksum always counts as an update.
func IsUpdate(current string, prev Lookup) bool {
	if !prev.Found {
		return true
	}
	return !strings.EqualFold(current, prev.Checksum)
}

// Detector queries the releases listing
type Detector struct {
	client  *clients.HTTPClient
	url     string
	token   string
	pattern *regexp.Regexp
	logger  *zap.Logger
}

// NewDetector creates a detector for the listing at url. label is the text
// that precedes the checksum in release bodies.
func NewDetector(client *clients.HTTPClient, url, token, label string, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		client:  client,
		url:     url,
		token:   token,
		pattern: ChecksumPattern(label),
		logger:  logger.With(zap.String("component", "releases")),
	}
}

// ChecksumPattern matches label followed by exactly 32 hex characters
func ChecksumPattern(label string) *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(label) + `([0-9a-fA-F]{32})(?:[^0-9a-fA-F]|$)`)
}

// ExtractChecksum returns the first checksum in body, lowercased
func ExtractChecksum(pattern *regexp.Regexp, body string) (string, bool) {
	m := pattern.FindStringSubmatch(body)
	if m == nil {
		return "", false
	}
	return strings.ToLower(m[1]), true
}

// PreviousChecksum returns the checksum embedded in the most recent release.
func (d *Detector) PreviousChecksum(ctx context.Context) Lookup {
	if d.url == "" {
		d.logger.Warn("releases lookup skipped", zap.String("reason", ReasonNotConfigured))
		return Lookup{Reason: ReasonNotConfigured}
	}

	latest, ok, err := d.latest(ctx)
	if err != nil {
		d.logger.Warn("failed to fetch releases listing",
			zap.String("url", d.url),
			zap.Error(err))
		return Lookup{Reason: fmt.Sprintf("%s: %v", ReasonUnavailable, err)}
	}
	if !ok {
		d.logger.Info("no previous release found", zap.String("url", d.url))
		return Lookup{Reason: ReasonNoRelease}
	}

	checksum, found := ExtractChecksum(d.pattern, latest.Body)
	if !found {
		d.logger.Warn("previous release has no checksum",
			zap.String("release", latest.TagName))
		return Lookup{Release: latest.TagName, Reason: ReasonNoChecksum}
	}

	d.logger.Info("previous checksum found",
		zap.String("release", latest.TagName),
		zap.String("md5", checksum))
	return Lookup{Checksum: checksum, Found: true, Release: latest.TagName}
}

// latest fetches the listing and returns its first entry
func (d *Detector) latest(ctx context.Context) (Release, bool, error) {
	headers := map[string]string{
		"Accept":               acceptHeader,
		"X-GitHub-Api-Version": apiVersionHeader,
	}
	if d.token != "" {
		headers["Authorization"] = "Bearer " + d.token
	}

	resp, err := d.client.Get(ctx, d.url, headers)
	if err != nil {
		return Release{}, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Release{}, false, fmt.Errorf("unexpected HTTP status %d", resp.StatusCode)
	}

	var listing []Release
	if err := jsonpool.NewDecoder(io.LimitReader(resp.Body, maxListingSize)).Decode(&listing); err != nil {
		return Release{}, false, fmt.Errorf("failed to decode releases listing: %w", err)
	}
	if len(listing) == 0 {
		return Release{}, false, nil
	}
	return listing[0], true, nil
}
