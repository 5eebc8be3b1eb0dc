package job

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// InputError rejects a source URL before any job is created.
type InputError struct {
	URL    string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid source url %q: %s", e.URL, e.Reason)
}

// Source is a validated source URL.
type Source struct {
	URL     string
	Host    string
	VideoID string // empty for non-YouTube sources
}

// IsYouTube reports whether the source resolved to a YouTube video id.
func (s Source) IsYouTube() bool {
	return s.VideoID != ""
}

var videoIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:youtube\.com/watch\?(?:.*&)?v=|youtu\.be/|youtube\.com/shorts/)([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`youtube\.com/embed/([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`youtube\.com/v/([a-zA-Z0-9_-]{11})`),
}

func isYouTubeHost(host string) bool {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	host = strings.TrimPrefix(host, "m.")
	return host == "youtube.com" || host == "youtu.be" || host == "music.youtube.com"
}

// ParseSource validates raw and extracts the YouTube video id when the host
// is a YouTube host.
func ParseSource(raw string) (Source, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Source{}, &InputError{URL: raw, Reason: "url is required"}
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return Source{}, &InputError{URL: raw, Reason: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Source{}, &InputError{URL: raw, Reason: "scheme must be http or https"}
	}
	if u.Host == "" {
		return Source{}, &InputError{URL: raw, Reason: "host is required"}
	}

	src := Source{URL: raw, Host: u.Hostname()}
	if !isYouTubeHost(src.Host) {
		return src, nil
	}
	for _, re := range videoIDPatterns {
		if m := re.FindStringSubmatch(raw); m != nil {
			src.VideoID = m[1]
			return src, nil
		}
	}
	return Source{}, &InputError{URL: raw, Reason: "could not extract video id"}
}
