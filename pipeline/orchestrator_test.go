package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"clipwave/job"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	fetchers    []*fakeFetcher
	transcripts []*fakeTranscript
	selector    *fakeSelector
	renderers   []*fakeRenderer
	prober      fixedProber
	rec         *recorder
	opts        Options
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	return &harness{
		fetchers:    []*fakeFetcher{{name: "fetch-a"}},
		transcripts: []*fakeTranscript{{name: "captions"}},
		selector:    &fakeSelector{},
		renderers:   []*fakeRenderer{{name: "render-a"}},
		prober:      180,
		rec:         &recorder{},
		opts: Options{
			OutputDir:         filepath.Join(root, "out"),
			ScratchDir:        filepath.Join(root, "scratch"),
			TranscriptTimeout: time.Second,
		},
	}
}

func (h *harness) build() *Orchestrator {
	deps := Deps{Selector: h.selector, Prober: h.prober}
	for _, f := range h.fetchers {
		deps.Fetchers = append(deps.Fetchers, f)
	}
	for _, tr := range h.transcripts {
		deps.Transcripts = append(deps.Transcripts, tr)
	}
	for _, r := range h.renderers {
		deps.Renderers = append(deps.Renderers, r)
	}
	return New(deps, h.opts, h.rec)
}

func assertLifecycle(t *testing.T, events []job.Event) {
	t.Helper()
	require.NotEmpty(t, events)
	assert.Equal(t, job.StatusProcessing, events[0].Job.Status)
	last := events[len(events)-1].Job

	progress := 0
	for i, ev := range events {
		assert.GreaterOrEqual(t, ev.Job.Progress, progress, "progress decreased at event %d", i)
		progress = ev.Job.Progress
		if i < len(events)-1 {
			assert.Equal(t, job.StatusProcessing, ev.Job.Status)
			assert.Less(t, ev.Job.Progress, 100)
		}
	}
	assert.True(t, last.Status.Terminal())
	assert.Equal(t, last.Status == job.StatusCompleted, last.Progress == 100)
}

func TestOrchestrator_EndToEnd(t *testing.T) {
	h := newHarness(t)
	h.transcripts[0].acquireFunc = func(context.Context, job.Source) ([]job.TranscriptSegment, error) {
		return segments(50), nil
	}
	h.selector.selectFunc = func(_ context.Context, req SelectRequest) ([]job.ClipInterval, error) {
		assert.Len(t, req.Transcript, 50)
		assert.Equal(t, 180.0, req.Duration)
		return []job.ClipInterval{{Start: 10, End: 40}, {Start: 100, End: 130}}, nil
	}

	j := h.build().Run(context.Background(), queuedJob("e2e"))

	assert.Equal(t, job.StatusCompleted, j.Status)
	assert.Equal(t, 100, j.Progress)
	assert.Equal(t, "Video processing completed", j.CurrentStep)
	assert.Empty(t, j.Error)
	assert.Equal(t, 50, j.TranscriptSegments)
	assert.Equal(t, 180.0, j.MediaDuration)
	require.Len(t, j.Clips, 2)
	assert.Equal(t, 30.0, j.Clips[0].Duration)
	assert.Equal(t, 30.0, j.Clips[1].Duration)
	assert.Equal(t, "1", j.Clips[0].ID)
	assert.Equal(t, "Clip 2", j.Clips[1].Title)
	assert.Equal(t, "/api/videos/e2e/clips/2", j.Clips[1].URL)
	assert.Equal(t, "/api/videos/e2e", j.OutputURL)
	assert.FileExists(t, j.OutputPath)
	assert.False(t, j.StartedAt.IsZero())
	assert.False(t, j.CompletedAt.IsZero())

	events := h.rec.snapshot()
	assertLifecycle(t, events)
	assert.Equal(t, job.EventCompleted, events[len(events)-1].Type)
}

func TestOrchestrator_StageProgressBounds(t *testing.T) {
	h := newHarness(t)
	h.build().Run(context.Background(), queuedJob("bounds"))

	finished := map[string]int{}
	for _, ev := range h.rec.snapshot() {
		if ev.Type == job.EventStageFinished {
			finished[ev.Stage] = ev.Job.Progress
		}
	}
	assert.Equal(t, map[string]int{StageFetch: 35, StageTranscript: 60, StageSelect: 85}, finished)
}

func TestOrchestrator_FetchExhaustion(t *testing.T) {
	h := newHarness(t)
	h.fetchers = []*fakeFetcher{
		{name: "yt-dlp-cookies", fetchFunc: func(context.Context, job.Source, string) (string, error) {
			return "", errors.New("sign in required")
		}},
		{name: "yt-dlp-mweb", fetchFunc: func(context.Context, job.Source, string) (string, error) {
			return "", errors.New("http 403")
		}},
		{name: "yt-dlp-web", fetchFunc: func(context.Context, job.Source, string) (string, error) {
			panic("boom")
		}},
	}

	j := h.build().Run(context.Background(), queuedJob("fetch-fail"))

	assert.Equal(t, job.StatusFailed, j.Status)
	assert.Equal(t, "Failed", j.CurrentStep)
	assert.Less(t, j.Progress, 100)
	for _, name := range []string{"yt-dlp-cookies", "yt-dlp-mweb", "yt-dlp-web"} {
		assert.Contains(t, j.Error, name)
	}
	assert.Contains(t, j.Error, "sign in required")
	for _, f := range h.fetchers {
		assert.EqualValues(t, 1, f.calls.Load())
	}
	assert.Zero(t, h.transcripts[0].calls.Load())
	assert.Zero(t, h.selector.calls.Load())
	assert.Zero(t, h.renderers[0].calls.Load())
	assert.Empty(t, j.Clips)

	assertLifecycle(t, h.rec.snapshot())
}

func TestOrchestrator_FallbackStopsAtFirstSuccess(t *testing.T) {
	h := newHarness(t)
	h.fetchers = []*fakeFetcher{
		{name: "first", fetchFunc: func(context.Context, job.Source, string) (string, error) {
			return "", errors.New("nope")
		}},
		{name: "second"},
		{name: "third"},
	}

	j := h.build().Run(context.Background(), queuedJob("fallback"))

	assert.Equal(t, job.StatusCompleted, j.Status)
	assert.EqualValues(t, 1, h.fetchers[1].calls.Load())
	assert.Zero(t, h.fetchers[2].calls.Load())
}

func TestOrchestrator_TranscriptDegrades(t *testing.T) {
	h := newHarness(t)
	h.transcripts = []*fakeTranscript{
		{name: "timedtext", acquireFunc: func(context.Context, job.Source) ([]job.TranscriptSegment, error) {
			return nil, errors.New("404")
		}},
		{name: "caption-track", acquireFunc: func(context.Context, job.Source) ([]job.TranscriptSegment, error) {
			return nil, errors.New("no tracks")
		}},
	}

	j := h.build().Run(context.Background(), queuedJob("degraded"))

	assert.Equal(t, job.StatusCompleted, j.Status)
	assert.Equal(t, 100, j.Progress)
	assert.Zero(t, j.TranscriptSegments)
	assert.Zero(t, h.selector.calls.Load(), "empty transcript skips the selector")
	require.Len(t, j.Clips, 3)
	assert.Equal(t, DefaultIntervals(180, 3, 10, 60)[0].Start, j.Clips[0].Start)
}

func TestOrchestrator_TranscriptTimeout(t *testing.T) {
	h := newHarness(t)
	h.opts.TranscriptTimeout = 50 * time.Millisecond
	release := make(chan struct{})
	defer close(release)
	h.transcripts[0].acquireFunc = func(context.Context, job.Source) ([]job.TranscriptSegment, error) {
		<-release // ignores ctx on purpose
		return segments(3), nil
	}

	start := time.Now()
	j := h.build().Run(context.Background(), queuedJob("slow-transcript"))

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, job.StatusCompleted, j.Status)
	assert.Zero(t, j.TranscriptSegments)
	assert.NotEmpty(t, j.Clips)
}

func TestOrchestrator_SelectorFailureUsesDefaults(t *testing.T) {
	for name, selectFunc := range map[string]func(context.Context, SelectRequest) ([]job.ClipInterval, error){
		"error": func(context.Context, SelectRequest) ([]job.ClipInterval, error) {
			return nil, errors.New("malformed response")
		},
		"empty": func(context.Context, SelectRequest) ([]job.ClipInterval, error) {
			return nil, nil
		},
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.selector.selectFunc = selectFunc

			j := h.build().Run(context.Background(), queuedJob("selector-"+name))

			assert.Equal(t, job.StatusCompleted, j.Status)
			assert.EqualValues(t, 1, h.selector.calls.Load())
			assert.Len(t, j.Clips, 3)
		})
	}
}

func TestOrchestrator_SanitizesBeforeRender(t *testing.T) {
	h := newHarness(t)
	h.prober = 120
	h.selector.selectFunc = func(context.Context, SelectRequest) ([]job.ClipInterval, error) {
		return []job.ClipInterval{{Start: -5, End: 10}, {Start: 20, End: 15}, {Start: 30, End: 300}}, nil
	}

	j := h.build().Run(context.Background(), queuedJob("sanitize"))

	require.Equal(t, job.StatusCompleted, j.Status)
	require.Len(t, h.renderers[0].requests, 1)
	assert.Equal(t, []job.ClipInterval{{Start: 0, End: 10}, {Start: 30, End: 120}}, h.renderers[0].requests[0].Intervals)
	require.Len(t, j.Clips, 2)
	assert.Equal(t, 90.0, j.Clips[1].Duration)
}

func TestOrchestrator_AllIntervalsDropped(t *testing.T) {
	h := newHarness(t)
	h.prober = 60
	h.selector.selectFunc = func(context.Context, SelectRequest) ([]job.ClipInterval, error) {
		return []job.ClipInterval{{Start: 90, End: 120}, {Start: 20, End: 15}}, nil
	}

	j := h.build().Run(context.Background(), queuedJob("dropped"))

	assert.Equal(t, job.StatusFailed, j.Status)
	assert.Contains(t, j.Error, ErrNoRenderableIntervals.Error())
	assert.Zero(t, h.renderers[0].calls.Load())
}

func TestOrchestrator_RenderFallback(t *testing.T) {
	h := newHarness(t)
	h.renderers = []*fakeRenderer{
		{name: "ffmpeg-reencode", renderFunc: func(context.Context, RenderRequest) (RenderResult, error) {
			return RenderResult{}, errors.New("encoder missing")
		}},
		{name: "ffmpeg-copy"},
	}

	j := h.build().Run(context.Background(), queuedJob("render-fallback"))

	assert.Equal(t, job.StatusCompleted, j.Status)
	assert.EqualValues(t, 1, h.renderers[1].calls.Load())
}

func TestOrchestrator_RenderExhaustion(t *testing.T) {
	h := newHarness(t)
	h.renderers[0].renderFunc = func(context.Context, RenderRequest) (RenderResult, error) {
		return RenderResult{}, errors.New("ffmpeg exited 1")
	}

	j := h.build().Run(context.Background(), queuedJob("render-fail"))

	assert.Equal(t, job.StatusFailed, j.Status)
	assert.Contains(t, j.Error, "render-a: ffmpeg exited 1")
	assert.Empty(t, j.OutputPath)
	assertLifecycle(t, h.rec.snapshot())
}

func TestOrchestrator_ScratchRemoved(t *testing.T) {
	for name, fail := range map[string]bool{"success": false, "failure": true} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			var scratch string
			h.fetchers[0].fetchFunc = func(_ context.Context, _ job.Source, dest string) (string, error) {
				scratch = filepath.Dir(dest)
				require.NoError(t, os.WriteFile(dest, []byte("media"), 0o644))
				if fail {
					return "", errors.New("fetch failed")
				}
				return dest, nil
			}

			h.build().Run(context.Background(), queuedJob("scratch-"+name))

			require.NotEmpty(t, scratch)
			assert.NoDirExists(t, scratch)
		})
	}
}

func TestOrchestrator_MirrorFailureDegrades(t *testing.T) {
	h := newHarness(t)
	o := h.build()
	o.deps.Mirror = &fakeMirror{err: errors.New("bucket unreachable")}

	j := o.Run(context.Background(), queuedJob("mirror"))

	assert.Equal(t, job.StatusCompleted, j.Status)
	assert.Empty(t, j.RemoteKey)
}

func TestOrchestrator_MirrorKeyRecorded(t *testing.T) {
	h := newHarness(t)
	o := h.build()
	o.deps.Mirror = &fakeMirror{key: "clips/mirrored"}

	j := o.Run(context.Background(), queuedJob("mirrored"))

	assert.Equal(t, "clips/mirrored", j.RemoteKey)
}

func TestOrchestrator_AdmissionFailure(t *testing.T) {
	h := newHarness(t)
	o := h.build()
	o.deps.Admission = func(context.Context) error { return errors.New("disk full") }

	j := o.Run(context.Background(), queuedJob("admission"))

	assert.Equal(t, job.StatusFailed, j.Status)
	assert.Contains(t, j.Error, "disk full")
	assert.Zero(t, h.fetchers[0].calls.Load())
}

func TestOrchestrator_ListenerPanicIsContained(t *testing.T) {
	h := newHarness(t)
	deps := Deps{
		Fetchers:    []MediaFetcher{h.fetchers[0]},
		Transcripts: []TranscriptAcquirer{h.transcripts[0]},
		Selector:    h.selector,
		Renderers:   []SegmentRenderer{h.renderers[0]},
		Prober:      h.prober,
	}
	bad := job.ListenerFunc(func(context.Context, job.Event) { panic("listener bug") })
	o := New(deps, h.opts, bad, h.rec)

	j := o.Run(context.Background(), queuedJob("listener-panic"))

	assert.Equal(t, job.StatusCompleted, j.Status)
	assertLifecycle(t, h.rec.snapshot())
}

func TestOrchestrator_ConcurrentIsolation(t *testing.T) {
	h := newHarness(t)
	h.fetchers[0].fetchFunc = func(_ context.Context, src job.Source, dest string) (string, error) {
		time.Sleep(10 * time.Millisecond)
		if src.URL == "https://example.com/broken.mp4" {
			return "", errors.New("unreachable")
		}
		if err := os.WriteFile(dest, []byte("media"), 0o644); err != nil {
			return "", err
		}
		return dest, nil
	}
	o := h.build()

	const n = 8
	results := make([]job.Job, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			j := queuedJob(fmt.Sprintf("job-%d", i))
			if i%2 == 1 {
				j.SourceURL = "https://example.com/broken.mp4"
			}
			results[i] = o.Run(context.Background(), j)
		}(i)
	}
	wg.Wait()

	for i, j := range results {
		if i%2 == 1 {
			assert.Equal(t, job.StatusFailed, j.Status, j.ID)
			assert.Empty(t, j.Clips)
		} else {
			assert.Equal(t, job.StatusCompleted, j.Status, j.ID)
			assert.Equal(t, 100, j.Progress)
			assert.FileExists(t, filepath.Join(h.opts.OutputDir, j.ID+".mp4"))
		}
	}

	byJob := map[string][]job.Event{}
	for _, ev := range h.rec.snapshot() {
		byJob[ev.Job.ID] = append(byJob[ev.Job.ID], ev)
	}
	require.Len(t, byJob, n)
	for _, evs := range byJob {
		assertLifecycle(t, evs)
	}
}
