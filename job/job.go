package job

import (
	"time"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition enforces queued -> processing -> completed|failed.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusQueued:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

type Job struct {
	ID                 string    `json:"job_id"`
	Status             Status    `json:"status"`
	Progress           int       `json:"progress"`
	CurrentStep        string    `json:"current_step"`
	Error              string    `json:"error,omitempty"`
	SourceURL          string    `json:"source_url"`
	Instructions       string    `json:"instructions"`
	OwnerID            string    `json:"owner_id"`
	OutputPath         string    `json:"-"` // server-side path of the concatenated output
	OutputURL          string    `json:"output_url,omitempty"`
	RemoteKey          string    `json:"remote_key,omitempty"`
	Clips              []Clip    `json:"clips,omitempty"`
	MediaDuration      float64   `json:"media_duration_seconds,omitempty"`
	TranscriptSegments int       `json:"transcript_segments"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	StartedAt          time.Time `json:"started_at,omitempty"`
	CompletedAt        time.Time `json:"completed_at,omitempty"`
}

// Clone returns a copy that shares no slices with j.
func (j Job) Clone() Job {
	if j.Clips != nil {
		j.Clips = append([]Clip(nil), j.Clips...)
	}
	return j
}

// Summary is the listing form of a job.
type Summary struct {
	ID          string    `json:"job_id"`
	Status      Status    `json:"status"`
	Progress    int       `json:"progress"`
	CurrentStep string    `json:"current_step"`
	SourceURL   string    `json:"source_url"`
	OwnerID     string    `json:"owner_id"`
	ClipCount   int       `json:"clip_count"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (j Job) Summary() Summary {
	return Summary{
		ID:          j.ID,
		Status:      j.Status,
		Progress:    j.Progress,
		CurrentStep: j.CurrentStep,
		SourceURL:   j.SourceURL,
		OwnerID:     j.OwnerID,
		ClipCount:   len(j.Clips),
		Error:       j.Error,
		CreatedAt:   j.CreatedAt,
	}
}

// TranscriptSegment is one timed line of speech.
type TranscriptSegment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start_seconds"`
	End   float64 `json:"end_seconds"`
}

// ClipInterval is a candidate range chosen by a selector.
type ClipInterval struct {
	Start float64 `json:"start_seconds"`
	End   float64 `json:"end_seconds"`
	Title string  `json:"title,omitempty"`
}

// Clip is one rendered interval of the output.
type Clip struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Start      float64 `json:"start_seconds"`
	End        float64 `json:"end_seconds"`
	Duration   float64 `json:"duration_seconds"`
	OutputPath string  `json:"-"`
	URL        string  `json:"url,omitempty"`
}
