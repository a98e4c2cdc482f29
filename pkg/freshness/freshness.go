// Package freshness decides whether the remote archive is newer than the
// local copy, using only response headers.
package freshness

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/geomirror/pkg/clients"
	"github.com/ajitpratap0/geomirror/pkg/mirrorerrors"
)

// LastModifiedLayout is the only accepted Last-Modified format. The zone is
// always GMT and is read as UTC.
const LastModifiedLayout = "Mon, 02 Jan 2006 15:04:05 GMT"

// Reasons reported in Decision
const (
	ReasonNoLocalCopy = "no local archive"
	ReasonRemoteNewer = "remote archive is newer"
	ReasonUpToDate    = "local archive is up to date"
)

// Decision is the outcome of a freshness check
type Decision struct {
	Needed        bool
	Reason        string
	LocalModTime  time.Time
	RemoteModTime time.Time
}

// Checker compares the local archive with the remote resource
type Checker struct {
	client *clients.HTTPClient
	url    string
	logger *zap.Logger
}

// NewChecker creates a checker for the archive at url
func NewChecker(client *clients.HTTPClient, url string, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		client: client,
		url:    url,
		logger: logger.With(zap.String("component", "freshness")),
	}
}

// NeedsDownload reports whether localPath must be refreshed. A missing local
// file needs a download and issues no request. Otherwise a single HEAD request
// is made; transport failures, non-2xx statuses and a missing or malformed
// Last-Modified header are errors. The download is needed only when the
// remote time is strictly later than the local modification time.
func (c *Checker) NeedsDownload(ctx context.Context, localPath string) (Decision, error) {
	info, err := os.Stat(localPath)
	if errors.Is(err, fs.ErrNotExist) {
		c.logger.Info("no local archive, download needed", zap.String("path", localPath))
		return Decision{Needed: true, Reason: ReasonNoLocalCopy}, nil
	}
	if err != nil {
		return Decision{}, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeFile, "failed to stat local archive").
			WithDetail("path", localPath)
	}
	local := info.ModTime().UTC()

	resp, err := c.client.Head(ctx, c.url, nil)
	if err != nil {
		return Decision{}, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeConnection, "metadata request failed").
			WithDetail("url", c.url)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Decision{}, mirrorerrors.New(mirrorerrors.ErrorTypeConnection, "unexpected HTTP status").
			WithDetail("status", resp.StatusCode).
			WithDetail("url", c.url)
	}

	remote, err := ParseLastModified(resp.Header.Get("Last-Modified"))
	if err != nil {
		return Decision{}, err
	}

	decision := Decide(local, remote)
	c.logger.Info("freshness checked",
		zap.Bool("needed", decision.Needed),
		zap.Time("local_mod_time", decision.LocalModTime),
		zap.Time("remote_mod_time", decision.RemoteModTime))

	return decision, nil
}

// Decide compares two timestamps. Equal times are up to date.
func Decide(local, remote time.Time) Decision {
	d := Decision{
		Needed:        remote.After(local.UTC()),
		LocalModTime:  local.UTC(),
		RemoteModTime: remote.UTC(),
	}
	if d.Needed {
		d.Reason = ReasonRemoteNewer
	} else {
		d.Reason = ReasonUpToDate
	}
	return d
}

// ParseLastModified parses a Last-Modified header value
func ParseLastModified(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, mirrorerrors.New(mirrorerrors.ErrorTypeData, "missing Last-Modified header")
	}
	t, err := time.Parse(LastModifiedLayout, value)
	if err != nil {
		return time.Time{}, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeData, "malformed Last-Modified header").
			WithDetail("value", value)
	}
	return t.UTC(), nil
}
