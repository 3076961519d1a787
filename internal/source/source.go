// Package source validates media source URLs and derives the stable source
// identifier used for result deduplication.
package source

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalidURL reports a URL that does not name a supported media source.
var ErrInvalidURL = errors.New("invalid source url")

// Ref is a validated media source.
type Ref struct {
	URL string
	ID  string
}

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

var watchHosts = map[string]struct{}{
	"youtube.com":       {},
	"www.youtube.com":   {},
	"m.youtube.com":     {},
	"music.youtube.com": {},
}

// Parse validates raw and returns the canonical reference. The identifier is
// stable across URL variants (short links, extra query parameters), so two
// submissions of the same video share a cache entry.
func Parse(raw string) (Ref, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Ref{}, fmt.Errorf("%w: url is required", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Ref{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Ref{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())

	var id string
	switch {
	case host == "youtu.be" || host == "www.youtu.be":
		id = firstSegment(u.Path)
	case isWatchHost(host):
		id = watchID(u)
	default:
		return Ref{}, fmt.Errorf("%w: unsupported host %q", ErrInvalidURL, host)
	}
	if !videoIDPattern.MatchString(id) {
		return Ref{}, fmt.Errorf("%w: could not extract a video id from %q", ErrInvalidURL, raw)
	}
	return Ref{URL: CanonicalURL(id), ID: id}, nil
}

// CanonicalURL returns the watch URL handed to the downloader.
func CanonicalURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

func isWatchHost(host string) bool {
	_, ok := watchHosts[host]
	return ok
}

func watchID(u *url.URL) string {
	if v := u.Query().Get("v"); v != "" {
		return v
	}
	path := strings.Trim(u.Path, "/")
	for _, prefix := range []string{"shorts/", "embed/", "live/", "v/"} {
		if strings.HasPrefix(path, prefix) {
			return firstSegment(strings.TrimPrefix(path, prefix))
		}
	}
	return ""
}

func firstSegment(path string) string {
	path = strings.Trim(path, "/")
	if idx := strings.IndexByte(path, '/'); idx >= 0 {
		path = path[:idx]
	}
	return path
}
