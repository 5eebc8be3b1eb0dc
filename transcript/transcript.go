package transcript

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"clipwave/job"

	"github.com/PuerkitoBio/goquery"
)

var (
	ErrNoTranscript  = errors.New("no transcript available")
	ErrNotSupported  = errors.New("transcripts are only available for youtube sources")
	maxResponseBytes = int64(8 << 20)
)

const defaultBaseURL = "https://www.youtube.com"

type Options struct {
	BaseURL  string
	Language string
	Client   *http.Client
}

func (o Options) withDefaults() Options {
	if o.BaseURL == "" {
		o.BaseURL = defaultBaseURL
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.Language == "" {
		o.Language = "en"
	}
	if o.Client == nil {
		o.Client = http.DefaultClient
	}
	return o
}

// get fetches url and returns the body, failing on any non-200 status.
func get(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s: status %s", url, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return string(body), nil
}

// ParseTimedText reads the <transcript><text start dur> caption format.
// Lines without text are dropped and the result is ordered by start.
func ParseTimedText(body string) ([]job.TranscriptSegment, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse captions: %w", err)
	}

	var segments []job.TranscriptSegment
	doc.Find("text").Each(func(_ int, sel *goquery.Selection) {
		// Caption text arrives entity-encoded twice.
		text := strings.Join(strings.Fields(html.UnescapeString(sel.Text())), " ")
		if text == "" {
			return
		}
		start, err := strconv.ParseFloat(sel.AttrOr("start", ""), 64)
		if err != nil || start < 0 {
			return
		}
		dur, err := strconv.ParseFloat(sel.AttrOr("dur", "0"), 64)
		if err != nil || dur < 0 {
			dur = 0
		}
		segments = append(segments, job.TranscriptSegment{Text: text, Start: start, End: start + dur})
	})
	if len(segments) == 0 {
		return nil, ErrNoTranscript
	}

	sort.SliceStable(segments, func(i, j int) bool { return segments[i].Start < segments[j].Start })
	return segments, nil
}
