package transcript

import (
	"context"
	"net/url"

	"clipwave/job"
)

// TimedText reads captions straight from the timedtext endpoint.
type TimedText struct {
	opts Options
}

func NewTimedText(opts Options) *TimedText {
	return &TimedText{opts: opts.withDefaults()}
}

func (t *TimedText) Name() string { return "timedtext" }

func (t *TimedText) Acquire(ctx context.Context, src job.Source) ([]job.TranscriptSegment, error) {
	if !src.IsYouTube() {
		return nil, ErrNotSupported
	}
	q := url.Values{"v": {src.VideoID}, "lang": {t.opts.Language}}
	body, err := get(ctx, t.opts.Client, t.opts.BaseURL+"/api/timedtext?"+q.Encode())
	if err != nil {
		return nil, err
	}
	return ParseTimedText(body)
}
