package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"
	"time"

	"clipwave/job"

	"github.com/rs/zerolog"
)

const (
	StageFetch      = "fetch"
	StageTranscript = "transcript"
	StageSelect     = "select"
	StageRender     = "render"
	StageMirror     = "mirror"
)

// ErrNoRenderableIntervals is returned when sanitation drops every interval.
var ErrNoRenderableIntervals = errors.New("no renderable intervals after sanitation")

type Options struct {
	OutputDir         string
	ScratchDir        string
	URLPrefix         string // public prefix for output downloads
	TranscriptTimeout time.Duration
	DefaultClipCount  int
	MinClip           time.Duration
	MaxClip           time.Duration
}

type Deps struct {
	Fetchers    []MediaFetcher
	Transcripts []TranscriptAcquirer
	Selector    ClipSelector
	Renderers   []SegmentRenderer
	Prober      DurationProber
	Mirror      OutputMirror
	Admission   AdmissionFunc
}

// Orchestrator drives one job at a time through fetch, transcript, selection
// and render. It is the only writer of a job once the job is processing, and
// it reports every transition to its listeners as a full snapshot.
type Orchestrator struct {
	deps      Deps
	opts      Options
	listeners job.Listeners
	now       func() time.Time
}

func New(deps Deps, opts Options, listeners ...job.Listener) *Orchestrator {
	if opts.URLPrefix == "" {
		opts.URLPrefix = "/api/videos"
	}
	if opts.TranscriptTimeout <= 0 {
		opts.TranscriptTimeout = 30 * time.Second
	}
	if opts.DefaultClipCount <= 0 {
		opts.DefaultClipCount = 3
	}
	if opts.MinClip <= 0 {
		opts.MinClip = 10 * time.Second
	}
	if opts.MaxClip < opts.MinClip {
		opts.MaxClip = 60 * time.Second
	}
	return &Orchestrator{
		deps:      deps,
		opts:      opts,
		listeners: listeners,
		now:       time.Now,
	}
}

// run is the mutable state of one job execution.
type run struct {
	o   *Orchestrator
	job job.Job
}

// Run executes the pipeline for j and returns the terminal snapshot. It never
// panics; any failure is confined to j.
func (o *Orchestrator) Run(ctx context.Context, j job.Job) (result job.Job) {
	logger := zerolog.Ctx(ctx).With().Str("job_id", j.ID).Logger()
	ctx = logger.WithContext(ctx)

	r := &run{o: o, job: j.Clone()}
	var scratch *arena
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().Interface("panic", rec).Msg("job run panicked")
			if scratch != nil {
				scratch.Close(ctx)
			}
			if !r.job.Status.Terminal() {
				r.fail(ctx, fmt.Errorf("internal error: %v", rec))
			}
			result = r.job.Clone()
		}
	}()

	r.start(ctx)

	scratch, err := newArena(o.opts.ScratchDir, j.ID)
	if err != nil {
		r.fail(ctx, err)
		return r.job.Clone()
	}
	err = r.execute(ctx, scratch)
	scratch.Close(ctx)

	if err != nil {
		r.fail(ctx, err)
	} else {
		r.complete(ctx)
	}
	return r.job.Clone()
}

func (r *run) execute(ctx context.Context, scratch *arena) error {
	o := r.o
	src, err := job.ParseSource(r.job.SourceURL)
	if err != nil {
		return err
	}

	if o.deps.Admission != nil {
		r.step(ctx, "Checking system resources...")
		if err := o.deps.Admission(ctx); err != nil {
			return fmt.Errorf("admission: %w", err)
		}
	}

	r.stageStarted(ctx, StageFetch, "Downloading video...")
	mediaPath, err := RunChain(ctx, StageFetch, o.deps.Fetchers, func(ctx context.Context, f MediaFetcher) (string, error) {
		return f.Fetch(ctx, src, scratch.Path("input.mp4"))
	})
	if err != nil {
		return err
	}
	r.job.MediaDuration = o.probe(ctx, mediaPath)
	r.stageFinished(ctx, StageFetch, 35, "Video downloaded successfully")

	r.stageStarted(ctx, StageTranscript, "Getting video transcript...")
	segments := o.acquireTranscript(ctx, src)
	r.job.TranscriptSegments = len(segments)
	if len(segments) == 0 {
		r.stageFinished(ctx, StageTranscript, 60, "Transcript unavailable, continuing without it")
	} else {
		r.stageFinished(ctx, StageTranscript, 60, "Transcript retrieved")
	}

	r.stageStarted(ctx, StageSelect, "Analyzing content and identifying clips...")
	intervals := o.selectIntervals(ctx, segments, r.job.Instructions, r.job.MediaDuration)
	r.stageFinished(ctx, StageSelect, 85, fmt.Sprintf("%d clips identified", len(intervals)))

	r.stageStarted(ctx, StageRender, "Rendering final video...")
	intervals = SanitizeIntervals(intervals, r.job.MediaDuration)
	if len(intervals) == 0 {
		return fmt.Errorf("%s: %w", StageRender, ErrNoRenderableIntervals)
	}
	if err := os.MkdirAll(o.opts.OutputDir, 0o755); err != nil {
		return fmt.Errorf("%s: create output dir: %w", StageRender, err)
	}
	req := RenderRequest{
		JobID:      r.job.ID,
		MediaPath:  mediaPath,
		Intervals:  intervals,
		OutputDir:  o.opts.OutputDir,
		ScratchDir: scratch.Dir(),
	}
	res, err := RunChain(ctx, StageRender, o.deps.Renderers, func(ctx context.Context, rr SegmentRenderer) (RenderResult, error) {
		return rr.Render(ctx, req)
	})
	if err != nil {
		return err
	}

	r.job.OutputPath = res.OutputPath
	r.job.OutputURL = path.Join(o.opts.URLPrefix, r.job.ID)
	r.job.Clips = o.buildClips(r.job.ID, res)
	r.job.RemoteKey = o.mirror(ctx, r.job)
	return nil
}

func (o *Orchestrator) probe(ctx context.Context, mediaPath string) float64 {
	if o.deps.Prober == nil {
		return 0
	}
	d, err := o.deps.Prober.Probe(ctx, mediaPath)
	if err != nil || !finite(d) || d < 0 {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("media duration unknown")
		return 0
	}
	return d
}

// acquireTranscript runs the transcript chain under the transcript timeout.
// Exhaustion or timeout yields an empty transcript.
func (o *Orchestrator) acquireTranscript(ctx context.Context, src job.Source) []job.TranscriptSegment {
	tctx, cancel := context.WithTimeout(ctx, o.opts.TranscriptTimeout)
	defer cancel()

	type outcome struct {
		segments []job.TranscriptSegment
		err      error
	}
	done := make(chan outcome, 1)
	go func() {
		segs, err := RunChain(tctx, StageTranscript, o.deps.Transcripts, func(ctx context.Context, t TranscriptAcquirer) ([]job.TranscriptSegment, error) {
			return t.Acquire(ctx, src)
		})
		done <- outcome{segments: segs, err: err}
	}()

	var res outcome
	select {
	case res = <-done:
	case <-tctx.Done():
		res.err = fmt.Errorf("timed out after %s: %w", o.opts.TranscriptTimeout, tctx.Err())
	}
	if res.err != nil {
		zerolog.Ctx(ctx).Warn().Err(&DegradedResult{Stage: StageTranscript, Reason: res.err}).
			Bool("degraded", true).Msg("continuing with empty transcript")
		return nil
	}
	return res.segments
}

func (o *Orchestrator) selectIntervals(ctx context.Context, segments []job.TranscriptSegment, instructions string, duration float64) []job.ClipInterval {
	fallback := func(reason error) []job.ClipInterval {
		zerolog.Ctx(ctx).Warn().Err(&DegradedResult{Stage: StageSelect, Reason: reason}).
			Bool("degraded", true).Msg("using evenly spaced default clips")
		return DefaultIntervals(duration, o.opts.DefaultClipCount, o.opts.MinClip.Seconds(), o.opts.MaxClip.Seconds())
	}

	if len(segments) == 0 {
		return fallback(errors.New("empty transcript"))
	}
	if o.deps.Selector == nil {
		return fallback(errors.New("no selector configured"))
	}

	intervals, err := RunChain(ctx, StageSelect, []ClipSelector{o.deps.Selector}, func(ctx context.Context, s ClipSelector) ([]job.ClipInterval, error) {
		return s.Select(ctx, SelectRequest{Transcript: segments, Instructions: instructions, Duration: duration})
	})
	if err != nil {
		return fallback(err)
	}
	if len(intervals) == 0 {
		return fallback(errors.New("selector returned no intervals"))
	}
	return intervals
}

func (o *Orchestrator) buildClips(jobID string, res RenderResult) []job.Clip {
	clips := make([]job.Clip, 0, len(res.Clips))
	for i, rc := range res.Clips {
		id := strconv.Itoa(i + 1)
		title := rc.Interval.Title
		if title == "" {
			title = "Clip " + id
		}
		clips = append(clips, job.Clip{
			ID:         id,
			Title:      title,
			Start:      rc.Interval.Start,
			End:        rc.Interval.End,
			Duration:   rc.Interval.End - rc.Interval.Start,
			OutputPath: rc.Path,
			URL:        path.Join(o.opts.URLPrefix, jobID, "clips", id),
		})
	}
	return clips
}

// mirror uploads outputs when a mirror is configured. Failure only loses the
// remote copy.
func (o *Orchestrator) mirror(ctx context.Context, j job.Job) string {
	if o.deps.Mirror == nil {
		return ""
	}
	files := []string{j.OutputPath}
	for _, c := range j.Clips {
		if c.OutputPath != "" {
			files = append(files, c.OutputPath)
		}
	}
	key, err := o.deps.Mirror.Upload(ctx, j.ID, files)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(&DegradedResult{Stage: StageMirror, Reason: err}).
			Bool("degraded", true).Msg("output not mirrored")
		return ""
	}
	return key
}

func (r *run) start(ctx context.Context) {
	now := r.o.now().UTC()
	r.job.Status = job.StatusProcessing
	r.job.Progress = 0
	r.job.CurrentStep = "Initializing..."
	r.job.StartedAt = now
	r.emit(ctx, job.EventStarted, "")
}

func (r *run) step(ctx context.Context, label string) {
	r.job.CurrentStep = label
	r.emit(ctx, job.EventStageStarted, "")
}

func (r *run) stageStarted(ctx context.Context, stage, label string) {
	r.job.CurrentStep = label
	r.emit(ctx, job.EventStageStarted, stage)
}

func (r *run) stageFinished(ctx context.Context, stage string, progress int, label string) {
	if progress > r.job.Progress {
		r.job.Progress = progress
	}
	r.job.CurrentStep = label
	r.emit(ctx, job.EventStageFinished, stage)
}

func (r *run) complete(ctx context.Context) {
	r.job.Status = job.StatusCompleted
	r.job.Progress = 100
	r.job.CurrentStep = "Video processing completed"
	r.job.CompletedAt = r.o.now().UTC()
	zerolog.Ctx(ctx).Info().Int("clips", len(r.job.Clips)).Str("output", r.job.OutputPath).Msg("job completed")
	r.emit(ctx, job.EventCompleted, "")
}

func (r *run) fail(ctx context.Context, err error) {
	r.job.Status = job.StatusFailed
	r.job.Error = err.Error()
	r.job.CurrentStep = "Failed"
	r.job.OutputPath = ""
	r.job.OutputURL = ""
	r.job.RemoteKey = ""
	r.job.Clips = nil
	r.job.CompletedAt = r.o.now().UTC()
	zerolog.Ctx(ctx).Error().Err(err).Msg("job failed")
	r.emit(ctx, job.EventFailed, "")
}

func (r *run) emit(ctx context.Context, typ job.EventType, stage string) {
	ev := job.Event{Type: typ, Stage: stage, Job: r.job.Clone(), At: r.o.now().UTC()}
	for _, l := range r.o.listeners {
		notify(ctx, l, ev)
	}
}

func notify(ctx context.Context, l job.Listener, ev job.Event) {
	if l == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			zerolog.Ctx(ctx).Error().Interface("panic", rec).Str("event", string(ev.Type)).Msg("listener panicked")
		}
	}()
	l.HandleEvent(ctx, ev)
}
