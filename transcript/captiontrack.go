package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"clipwave/job"
)

const captionTracksKey = `"captionTracks":`

type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"`
}

// CaptionTrack finds the caption track list embedded in the watch page and
// downloads the best track for the configured language.
type CaptionTrack struct {
	opts Options
}

func NewCaptionTrack(opts Options) *CaptionTrack {
	return &CaptionTrack{opts: opts.withDefaults()}
}

func (c *CaptionTrack) Name() string { return "caption-track" }

func (c *CaptionTrack) Acquire(ctx context.Context, src job.Source) ([]job.TranscriptSegment, error) {
	if !src.IsYouTube() {
		return nil, ErrNotSupported
	}
	page, err := get(ctx, c.opts.Client, c.opts.BaseURL+"/watch?v="+url.QueryEscape(src.VideoID))
	if err != nil {
		return nil, err
	}
	tracks, err := parseCaptionTracks(page)
	if err != nil {
		return nil, err
	}
	track, ok := pickTrack(tracks, c.opts.Language)
	if !ok {
		return nil, fmt.Errorf("%w: no %q caption track", ErrNoTranscript, c.opts.Language)
	}
	body, err := get(ctx, c.opts.Client, c.resolve(track.BaseURL))
	if err != nil {
		return nil, err
	}
	return ParseTimedText(body)
}

func (c *CaptionTrack) resolve(ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	return c.opts.BaseURL + "/" + strings.TrimLeft(ref, "/")
}

func parseCaptionTracks(page string) ([]captionTrack, error) {
	i := strings.Index(page, captionTracksKey)
	if i < 0 {
		return nil, fmt.Errorf("%w: watch page has no caption tracks", ErrNoTranscript)
	}
	// The decoder stops after the array, ignoring the rest of the page.
	var tracks []captionTrack
	if err := json.NewDecoder(strings.NewReader(page[i+len(captionTracksKey):])).Decode(&tracks); err != nil {
		return nil, fmt.Errorf("decode caption tracks: %w", err)
	}
	return tracks, nil
}

// pickTrack prefers a manual track over an auto-generated one ("asr").
func pickTrack(tracks []captionTrack, lang string) (captionTrack, bool) {
	var auto *captionTrack
	for i, t := range tracks {
		if t.BaseURL == "" || !strings.EqualFold(strings.SplitN(t.LanguageCode, "-", 2)[0], lang) {
			continue
		}
		if t.Kind != "asr" {
			return t, true
		}
		if auto == nil {
			auto = &tracks[i]
		}
	}
	if auto != nil {
		return *auto, true
	}
	return captionTrack{}, false
}
