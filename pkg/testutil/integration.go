package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	gojson "github.com/goccy/go-json"
)

const (
	// ArchivePath is the path the upstream serves the archive on
	ArchivePath = "/export/zip/allCountries.zip"
	// ReleasesPath is the path the upstream serves the releases listing on
	ReleasesPath = "/repos/acme/geonames/releases"
)

// Upstream fakes both remote endpoints of a run: the GeoNames download
// server and the releases listing. It counts requests per method and path.
type Upstream struct {
	Server *httptest.Server

	mu             sync.Mutex
	archive        []byte
	lastModified   time.Time
	archiveStatus  int
	releaseBodies  []string
	releasesStatus int
	requests       map[string]int
	releaseHeaders http.Header
	// truncate serves fewer bytes than the declared Content-Length
	truncate bool
}

// NewUpstream starts an upstream serving archive. The server is closed when
// the test ends.
func NewUpstream(t testing.TB, archive []byte, lastModified time.Time) *Upstream {
	t.Helper()

	u := &Upstream{
		archive:        archive,
		lastModified:   lastModified,
		archiveStatus:  http.StatusOK,
		releasesStatus: http.StatusOK,
		requests:       make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(ArchivePath, u.serveArchive)
	mux.HandleFunc(ReleasesPath, u.serveReleases)
	u.Server = httptest.NewServer(mux)
	t.Cleanup(u.Server.Close)

	return u
}

// ArchiveURL returns the URL of the archive
func (u *Upstream) ArchiveURL() string {
	return u.Server.URL + ArchivePath
}

// ReleasesURL returns the URL of the releases listing
func (u *Upstream) ReleasesURL() string {
	return u.Server.URL + ReleasesPath
}

// SetArchiveStatus makes archive requests answer with status
func (u *Upstream) SetArchiveStatus(status int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.archiveStatus = status
}

// SetReleasesStatus makes listing requests answer with status
func (u *Upstream) SetReleasesStatus(status int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.releasesStatus = status
}

// SetReleaseBodies replaces the listing, most recent release first
func (u *Upstream) SetReleaseBodies(bodies ...string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.releaseBodies = bodies
}

// SetTruncate makes GET responses stop halfway through the archive
func (u *Upstream) SetTruncate(truncate bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.truncate = truncate
}

// Requests returns how many requests were made with method to path
func (u *Upstream) Requests(method, path string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.requests[method+" "+path]
}

// ReleaseHeaders returns the headers of the last listing request
func (u *Upstream) ReleaseHeaders() http.Header {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.releaseHeaders.Clone()
}

func (u *Upstream) serveArchive(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	u.requests[r.Method+" "+r.URL.Path]++
	status, data, modTime, truncate := u.archiveStatus, u.archive, u.lastModified, u.truncate
	u.mu.Unlock()

	if status != http.StatusOK {
		http.Error(w, http.StatusText(status), status)
		return
	}

	w.Header().Set("Last-Modified", modTime.UTC().Format(http.TimeFormat))
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if r.Method == http.MethodHead {
		return
	}

	if truncate {
		_, _ = w.Write(data[:len(data)/2])
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		// Hijack and close so the client sees a short body
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				_ = conn.Close()
			}
		}
		return
	}
	_, _ = w.Write(data)
}

func (u *Upstream) serveReleases(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	u.requests[r.Method+" "+r.URL.Path]++
	u.releaseHeaders = r.Header.Clone()
	status, bodies := u.releasesStatus, u.releaseBodies
	u.mu.Unlock()

	if status != http.StatusOK {
		http.Error(w, http.StatusText(status), status)
		return
	}

	type release struct {
		TagName     string `json:"tag_name"`
		Name        string `json:"name"`
		Body        string `json:"body"`
		PublishedAt string `json:"published_at"`
	}
	releases := make([]release, 0, len(bodies))
	for i, body := range bodies {
		releases = append(releases, release{
			TagName:     fmt.Sprintf("v%d", len(bodies)-i),
			Name:        fmt.Sprintf("GeoNames Database Update %d", len(bodies)-i),
			Body:        body,
			PublishedAt: time.Date(2024, 1, len(bodies)-i, 0, 0, 0, 0, time.UTC).Format(time.RFC3339),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = gojson.NewEncoder(w).Encode(releases)
}
