package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"clipwave/broadcast"
	"clipwave/config"
	"clipwave/job"
	"clipwave/store"
	"clipwave/worker"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubScheduler struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (s *stubScheduler) Submit(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.ids = append(s.ids, id)
	return nil
}

func (s *stubScheduler) submitted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

type testEnv struct {
	router *gin.Engine
	cfg    *config.Config
	store  *store.Store
	bc     *broadcast.Broadcaster
	sched  *stubScheduler
}

func setupTestRouter() *testEnv {
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		cfg:   &config.Config{BaseURL: "https://clips.example.com/"},
		store: store.New(),
		bc:    broadcast.New(zerolog.Nop()),
		sched: &stubScheduler{},
	}
	env.router = SetupRouter(env.store, env.bc, env.sched, env.cfg, zerolog.Nop())
	return env
}

func (e *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req, _ = http.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, _ = http.NewRequest(method, target, nil)
	}
	e.router.ServeHTTP(w, req)
	return w
}

func ptr[T any](v T) *T { return &v }

// completeJob drives a stored job to Completed with one output and one clip
// file on disk.
func completeJob(t *testing.T, s *store.Store, id string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	out := filepath.Join(dir, id+".mp4")
	clip := filepath.Join(dir, id+"_clip_1.mp4")
	require.NoError(t, os.WriteFile(out, []byte("full"), 0o644))
	require.NoError(t, os.WriteFile(clip, []byte("clip-one"), 0o644))

	require.NoError(t, s.Update(id, job.Patch{Status: ptr(job.StatusProcessing)}))
	require.NoError(t, s.Update(id, job.Patch{
		Status:     ptr(job.StatusCompleted),
		Progress:   ptr(100),
		OutputPath: ptr(out),
		OutputURL:  ptr("/api/videos/" + id),
		Clips: []job.Clip{{
			ID: "1", Title: "Clip 1", Start: 0, End: 20, Duration: 20,
			OutputPath: clip, URL: "/api/videos/" + id + "/clips/1",
		}},
	}))
	return out, clip
}

func TestHandleCreateJob(t *testing.T) {
	env := setupTestRouter()

	w := env.do("POST", "/api/jobs", `{"source_url": "https://www.youtube.com/watch?v=dQw4w9WgXcQ", "instructions": "funny bits", "owner_id": "u1"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp CreateJobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.JobID)
	assert.Equal(t, job.StatusQueued, resp.Status)

	j, found := env.store.Get(resp.JobID)
	require.True(t, found)
	assert.Equal(t, "u1", j.OwnerID)
	assert.Equal(t, "funny bits", j.Instructions)
	assert.Equal(t, []string{resp.JobID}, env.sched.submitted())
}

func TestHandleCreateJob_RejectsBadInput(t *testing.T) {
	env := setupTestRouter()

	for name, body := range map[string]string{
		"missing url":      `{"instructions": "x"}`,
		"not json":         `source_url=foo`,
		"bad scheme":       `{"source_url": "ftp://example.com/a.mp4"}`,
		"relative":         `{"source_url": "/videos/a.mp4"}`,
		"no youtube id":    `{"source_url": "https://www.youtube.com/watch?v=short"}`,
		"blank after trim": `{"source_url": "   "}`,
	} {
		t.Run(name, func(t *testing.T) {
			w := env.do("POST", "/api/jobs", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	assert.Empty(t, env.store.List(""))
	assert.Empty(t, env.sched.submitted())
}

func TestHandleCreateJob_QueueFull(t *testing.T) {
	env := setupTestRouter()
	env.sched.err = worker.ErrQueueFull

	w := env.do("POST", "/api/jobs", `{"source_url": "https://example.com/talk.mp4"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Empty(t, env.store.List(""), "rejected jobs are not left behind")
}

func TestHandleCreateJob_SchedulerError(t *testing.T) {
	env := setupTestRouter()
	env.sched.err = errors.New("boom")

	w := env.do("POST", "/api/jobs", `{"source_url": "https://example.com/talk.mp4"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, env.store.List(""))
}

func TestHandleGetJob(t *testing.T) {
	env := setupTestRouter()
	_, err := env.store.Create("job1", "https://example.com/a.mp4", "", "u1")
	require.NoError(t, err)
	completeJob(t, env.store, "job1")

	w := env.do("GET", "/api/jobs/job1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got job.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "job1", got.ID)
	assert.Equal(t, job.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, "https://clips.example.com/api/videos/job1", got.OutputURL)
	require.Len(t, got.Clips, 1)
	assert.Equal(t, "https://clips.example.com/api/videos/job1/clips/1", got.Clips[0].URL)
	assert.Empty(t, got.OutputPath, "server paths are never serialized")

	stored, _ := env.store.Get("job1")
	assert.Equal(t, "/api/videos/job1", stored.OutputURL, "the stored job is not rewritten")

	t.Run("matching owner", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, env.do("GET", "/api/jobs/job1?owner_id=u1", "").Code)
	})
	t.Run("other owner", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, env.do("GET", "/api/jobs/job1?owner_id=u2", "").Code)
	})
	t.Run("not found", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, env.do("GET", "/api/jobs/nonexistent", "").Code)
	})
}

func TestHandleGetJob_DerivesBaseFromRequest(t *testing.T) {
	env := setupTestRouter()
	env.cfg.BaseURL = ""
	_, err := env.store.Create("job1", "https://example.com/a.mp4", "", "")
	require.NoError(t, err)
	completeJob(t, env.store, "job1")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/jobs/job1", nil)
	req.Host = "localhost:8000"
	env.router.ServeHTTP(w, req)

	var got job.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "http://localhost:8000/api/videos/job1", got.OutputURL)
}

func TestHandleListJobs(t *testing.T) {
	env := setupTestRouter()
	for _, c := range []struct{ id, owner string }{{"a", "u1"}, {"b", "u2"}, {"c", "u1"}} {
		_, err := env.store.Create(c.id, "https://example.com/"+c.id+".mp4", "", c.owner)
		require.NoError(t, err)
	}

	var resp struct {
		Jobs []job.Summary `json:"jobs"`
	}
	w := env.do("GET", "/api/jobs?owner_id=u1", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 2)
	for _, s := range resp.Jobs {
		assert.Equal(t, "u1", s.OwnerID)
	}

	w = env.do("GET", "/api/jobs", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Jobs, 3)
}

func TestHandleDeleteJob(t *testing.T) {
	env := setupTestRouter()
	_, err := env.store.Create("active", "https://example.com/a.mp4", "", "u1")
	require.NoError(t, err)
	_, err = env.store.Create("done", "https://example.com/b.mp4", "", "u1")
	require.NoError(t, err)
	out, clip := completeJob(t, env.store, "done")

	assert.Equal(t, http.StatusConflict, env.do("DELETE", "/api/jobs/active", "").Code)
	_, found := env.store.Get("active")
	assert.True(t, found)

	assert.Equal(t, http.StatusForbidden, env.do("DELETE", "/api/jobs/done?owner_id=u2", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do("DELETE", "/api/jobs/ghost", "").Code)

	assert.Equal(t, http.StatusOK, env.do("DELETE", "/api/jobs/done?owner_id=u1", "").Code)
	_, found = env.store.Get("done")
	assert.False(t, found)
	assert.NoFileExists(t, out)
	assert.NoFileExists(t, clip)
}

func TestHandleGetVideo(t *testing.T) {
	env := setupTestRouter()
	_, err := env.store.Create("pending", "https://example.com/a.mp4", "", "u1")
	require.NoError(t, err)
	_, err = env.store.Create("done", "https://example.com/b.mp4", "", "u1")
	require.NoError(t, err)
	completeJob(t, env.store, "done")

	assert.Equal(t, http.StatusNotFound, env.do("GET", "/api/videos/pending", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do("GET", "/api/videos/ghost", "").Code)
	assert.Equal(t, http.StatusForbidden, env.do("GET", "/api/videos/done?owner_id=u2", "").Code)

	w := env.do("GET", "/api/videos/done", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "full", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "clip_done.mp4")

	w = env.do("GET", "/api/videos/done/clips/1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "clip-one", w.Body.String())

	assert.Equal(t, http.StatusNotFound, env.do("GET", "/api/videos/done/clips/7", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do("GET", "/api/videos/pending/clips/1", "").Code)
}

func TestHandleGetVideo_MissingFile(t *testing.T) {
	env := setupTestRouter()
	_, err := env.store.Create("done", "https://example.com/b.mp4", "", "")
	require.NoError(t, err)
	out, _ := completeJob(t, env.store, "done")
	require.NoError(t, os.Remove(out))

	assert.Equal(t, http.StatusNotFound, env.do("GET", "/api/videos/done", "").Code)
}

func TestAuthMiddleware(t *testing.T) {
	env := setupTestRouter()

	t.Run("Auth disabled", func(t *testing.T) {
		env.cfg.AuthEnable = false
		assert.Equal(t, http.StatusOK, env.do("GET", "/api/jobs", "").Code)
	})

	t.Run("Auth enabled, no token", func(t *testing.T) {
		env.cfg.AuthEnable = true
		env.cfg.AuthKey = "secret"
		assert.Equal(t, http.StatusUnauthorized, env.do("GET", "/api/jobs", "").Code)
	})

	t.Run("Auth enabled, wrong token", func(t *testing.T) {
		env.cfg.AuthEnable = true
		env.cfg.AuthKey = "secret"
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/jobs", nil)
		req.Header.Set("Authorization", "Bearer wrong-key")
		env.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Auth enabled, correct token", func(t *testing.T) {
		env.cfg.AuthEnable = true
		env.cfg.AuthKey = "secret"
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/jobs", nil)
		req.Header.Set("Authorization", "Bearer secret")
		env.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Health is open", func(t *testing.T) {
		env.cfg.AuthEnable = true
		assert.Equal(t, http.StatusOK, env.do("GET", "/health", "").Code)
	})
}
