package pipeline

import (
	"context"

	"clipwave/job"
)

// Named is implemented by every strategy so failures can be attributed.
type Named interface {
	Name() string
}

// MediaFetcher downloads the source media and returns the local file path.
type MediaFetcher interface {
	Named
	Fetch(ctx context.Context, src job.Source, destPath string) (string, error)
}

// TranscriptAcquirer returns timed transcript segments, or an empty slice when
// the source has none.
type TranscriptAcquirer interface {
	Named
	Acquire(ctx context.Context, src job.Source) ([]job.TranscriptSegment, error)
}

type SelectRequest struct {
	Transcript   []job.TranscriptSegment
	Instructions string
	Duration     float64 // zero when unknown
}

// ClipSelector picks candidate intervals from a transcript.
type ClipSelector interface {
	Named
	Select(ctx context.Context, req SelectRequest) ([]job.ClipInterval, error)
}

type RenderRequest struct {
	JobID      string
	MediaPath  string
	Intervals  []job.ClipInterval
	OutputDir  string
	ScratchDir string
}

type RenderedClip struct {
	Interval job.ClipInterval
	Path     string
}

type RenderResult struct {
	OutputPath string
	Clips      []RenderedClip
}

// SegmentRenderer extracts every interval and concatenates them into one
// output file. Clips are reported in interval order.
type SegmentRenderer interface {
	Named
	Render(ctx context.Context, req RenderRequest) (RenderResult, error)
}

// DurationProber reports a media file's duration in seconds.
type DurationProber interface {
	Probe(ctx context.Context, path string) (float64, error)
}

// OutputMirror copies finished outputs to remote storage and returns the
// remote prefix.
type OutputMirror interface {
	Upload(ctx context.Context, jobID string, files []string) (string, error)
}

// AdmissionFunc blocks until the host can take another job, or fails.
type AdmissionFunc func(ctx context.Context) error
