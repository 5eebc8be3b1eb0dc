package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"clipwave/job"
)

type fakeFetcher struct {
	name      string
	calls     atomic.Int32
	fetchFunc func(ctx context.Context, src job.Source, dest string) (string, error)
}

func (f *fakeFetcher) Name() string { return f.name }

func (f *fakeFetcher) Fetch(ctx context.Context, src job.Source, dest string) (string, error) {
	f.calls.Add(1)
	if f.fetchFunc != nil {
		return f.fetchFunc(ctx, src, dest)
	}
	if err := os.WriteFile(dest, []byte("media"), 0o644); err != nil {
		return "", err
	}
	return dest, nil
}

type fakeTranscript struct {
	name        string
	calls       atomic.Int32
	acquireFunc func(ctx context.Context, src job.Source) ([]job.TranscriptSegment, error)
}

func (f *fakeTranscript) Name() string { return f.name }

func (f *fakeTranscript) Acquire(ctx context.Context, src job.Source) ([]job.TranscriptSegment, error) {
	f.calls.Add(1)
	if f.acquireFunc != nil {
		return f.acquireFunc(ctx, src)
	}
	return segments(5), nil
}

type fakeSelector struct {
	calls      atomic.Int32
	selectFunc func(ctx context.Context, req SelectRequest) ([]job.ClipInterval, error)
}

func (f *fakeSelector) Name() string { return "fake-selector" }

func (f *fakeSelector) Select(ctx context.Context, req SelectRequest) ([]job.ClipInterval, error) {
	f.calls.Add(1)
	if f.selectFunc != nil {
		return f.selectFunc(ctx, req)
	}
	return []job.ClipInterval{{Start: 0, End: 10}}, nil
}

// fakeRenderer writes one placeholder file per interval plus the joined output.
type fakeRenderer struct {
	name       string
	calls      atomic.Int32
	mu         sync.Mutex
	requests   []RenderRequest
	renderFunc func(ctx context.Context, req RenderRequest) (RenderResult, error)
}

func (f *fakeRenderer) Name() string { return f.name }

func (f *fakeRenderer) Render(ctx context.Context, req RenderRequest) (RenderResult, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.renderFunc != nil {
		return f.renderFunc(ctx, req)
	}
	res := RenderResult{OutputPath: filepath.Join(req.OutputDir, req.JobID+".mp4")}
	for i, iv := range req.Intervals {
		p := filepath.Join(req.OutputDir, fmt.Sprintf("%s_clip_%d.mp4", req.JobID, i+1))
		if err := os.WriteFile(p, []byte("clip"), 0o644); err != nil {
			return RenderResult{}, err
		}
		res.Clips = append(res.Clips, RenderedClip{Interval: iv, Path: p})
	}
	if err := os.WriteFile(res.OutputPath, []byte("joined"), 0o644); err != nil {
		return RenderResult{}, err
	}
	return res, nil
}

type fixedProber float64

func (p fixedProber) Probe(context.Context, string) (float64, error) { return float64(p), nil }

type fakeMirror struct {
	key string
	err error
}

func (m *fakeMirror) Upload(context.Context, string, []string) (string, error) {
	return m.key, m.err
}

// recorder keeps every event it sees, in order.
type recorder struct {
	mu     sync.Mutex
	events []job.Event
}

func (r *recorder) HandleEvent(_ context.Context, ev job.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []job.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]job.Event(nil), r.events...)
}

func segments(n int) []job.TranscriptSegment {
	out := make([]job.TranscriptSegment, n)
	for i := range out {
		out[i] = job.TranscriptSegment{Text: fmt.Sprintf("line %d", i), Start: float64(i * 3), End: float64(i*3 + 3)}
	}
	return out
}

func queuedJob(id string) job.Job {
	return job.Job{
		ID:          id,
		Status:      job.StatusQueued,
		CurrentStep: "Queued",
		SourceURL:   "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		OwnerID:     "anonymous",
	}
}
