package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"clipwave/broadcast"
	"clipwave/config"
	"clipwave/job"
	"clipwave/store"
	"clipwave/worker"

	"github.com/gin-gonic/gin"
	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog"
)

// Scheduler accepts job ids for background execution without blocking.
type Scheduler interface {
	Submit(id string) error
}

type Handler struct {
	store       *store.Store
	broadcaster *broadcast.Broadcaster
	scheduler   Scheduler
	cfg         *config.Config
	newID       func() string
}

func NewHandler(s *store.Store, b *broadcast.Broadcaster, sched Scheduler, cfg *config.Config) *Handler {
	return &Handler{
		store:       s,
		broadcaster: b,
		scheduler:   sched,
		cfg:         cfg,
		newID:       shortuuid.New,
	}
}

type CreateJobRequest struct {
	SourceURL    string `json:"source_url" binding:"required"`
	Instructions string `json:"instructions"`
	OwnerID      string `json:"owner_id"`
}

type CreateJobResponse struct {
	JobID   string     `json:"job_id"`
	Status  job.Status `json:"status"`
	Message string     `json:"message"`
}

// handleCreateJob stores a queued job and hands it to the worker.
func (h *Handler) handleCreateJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	src, err := job.ParseSource(req.SourceURL)
	if err != nil {
		var inputErr *job.InputError
		if errors.As(err, &inputErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": inputErr.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	j, err := h.store.Create(h.newID(), src.URL, req.Instructions, req.OwnerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create job", "details": err.Error()})
		return
	}
	h.broadcaster.Publish(j.ID, j)

	if err := h.scheduler.Submit(j.ID); err != nil {
		h.store.Discard(j.ID)
		if errors.Is(err, worker.ErrQueueFull) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server is busy, try again later"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to schedule job", "details": err.Error()})
		return
	}

	zerolog.Ctx(c.Request.Context()).Info().
		Str("job_id", j.ID).
		Str("owner_id", j.OwnerID).
		Str("source_url", j.SourceURL).
		Msg("job created")
	c.JSON(http.StatusAccepted, CreateJobResponse{
		JobID:   j.ID,
		Status:  j.Status,
		Message: "Job created successfully",
	})
}

func (h *Handler) handleListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": h.store.List(c.Query("owner_id"))})
}

// lookup loads the job named in the path and writes the error response
// when it is missing or owned by someone else.
func (h *Handler) lookup(c *gin.Context) (job.Job, bool) {
	j, err := h.store.GetOwned(c.Param("id"), c.Query("owner_id"))
	switch {
	case err == nil:
		return j, true
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
	case errors.Is(err, store.ErrAccessDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
	return job.Job{}, false
}

// baseURL is the configured public base, or one derived from the request.
func (h *Handler) baseURL(c *gin.Context) string {
	base := h.cfg.BaseURL
	if base == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s", scheme, c.Request.Host)
	}
	return strings.TrimSuffix(base, "/")
}

// withAbsoluteURLs turns the job's relative download paths into full URLs.
func (h *Handler) withAbsoluteURLs(c *gin.Context, j job.Job) job.Job {
	if j.Status != job.StatusCompleted || j.OutputURL == "" {
		return j
	}
	base := h.baseURL(c)
	j.OutputURL = base + j.OutputURL
	for i := range j.Clips {
		if j.Clips[i].URL != "" {
			j.Clips[i].URL = base + j.Clips[i].URL
		}
	}
	return j
}

func (h *Handler) handleGetJob(c *gin.Context) {
	j, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.withAbsoluteURLs(c, j))
}

func (h *Handler) handleDeleteJob(c *gin.Context) {
	j, ok := h.lookup(c)
	if !ok {
		return
	}

	found, err := h.store.Delete(c.Request.Context(), j.ID)
	switch {
	case !found:
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	case errors.Is(err, store.ErrJobActive):
		c.JSON(http.StatusConflict, gin.H{"error": "Job is still running", "status": j.Status})
		return
	case err != nil:
		// The record is gone; leftover files are reported but not fatal.
		zerolog.Ctx(c.Request.Context()).Warn().Err(err).Str("job_id", j.ID).Msg("job deleted with leftover outputs")
	}
	c.JSON(http.StatusOK, gin.H{"message": "Job deleted successfully"})
}

// servable reports whether path is a regular file on disk.
func servable(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func (h *Handler) handleGetVideo(c *gin.Context) {
	j, ok := h.lookup(c)
	if !ok {
		return
	}
	if j.Status != job.StatusCompleted || !servable(j.OutputPath) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Video not found or not ready"})
		return
	}
	c.FileAttachment(j.OutputPath, fmt.Sprintf("clip_%s.mp4", j.ID))
}

func (h *Handler) handleGetClip(c *gin.Context) {
	j, ok := h.lookup(c)
	if !ok {
		return
	}
	if j.Status != job.StatusCompleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "Video not found or not ready"})
		return
	}
	clipID := c.Param("clipId")
	for _, clip := range j.Clips {
		if clip.ID != clipID {
			continue
		}
		if !servable(clip.OutputPath) {
			break
		}
		c.FileAttachment(clip.OutputPath, fmt.Sprintf("clip_%s_%s.mp4", j.ID, clip.ID))
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "Clip not found"})
}
