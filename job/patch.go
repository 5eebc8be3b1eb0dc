package job

import "time"

// Patch is a partial update. Nil fields are left untouched; the Clear flags
// are the only way to remove a value that is already set.
type Patch struct {
	Status             *Status
	Progress           *int
	CurrentStep        *string
	Error              *string
	OutputPath         *string
	OutputURL          *string
	RemoteKey          *string
	Clips              []Clip
	MediaDuration      *float64
	TranscriptSegments *int
	StartedAt          *time.Time
	CompletedAt        *time.Time

	ClearError  bool
	ClearOutput bool
}

// Apply merges p into j and returns the result.
func (p Patch) Apply(j Job) Job {
	if p.ClearError {
		j.Error = ""
	}
	if p.ClearOutput {
		j.OutputPath = ""
		j.OutputURL = ""
		j.RemoteKey = ""
		j.Clips = nil
	}
	if p.Status != nil {
		j.Status = *p.Status
	}
	if p.Progress != nil {
		j.Progress = *p.Progress
	}
	if p.CurrentStep != nil {
		j.CurrentStep = *p.CurrentStep
	}
	if p.Error != nil {
		j.Error = *p.Error
	}
	if p.OutputPath != nil {
		j.OutputPath = *p.OutputPath
	}
	if p.OutputURL != nil {
		j.OutputURL = *p.OutputURL
	}
	if p.RemoteKey != nil {
		j.RemoteKey = *p.RemoteKey
	}
	if p.Clips != nil {
		j.Clips = append([]Clip(nil), p.Clips...)
	}
	if p.MediaDuration != nil {
		j.MediaDuration = *p.MediaDuration
	}
	if p.TranscriptSegments != nil {
		j.TranscriptSegments = *p.TranscriptSegments
	}
	if p.StartedAt != nil {
		j.StartedAt = *p.StartedAt
	}
	if p.CompletedAt != nil {
		j.CompletedAt = *p.CompletedAt
	}
	return j
}

// PatchFrom builds a patch that carries every orchestrator-owned field of j.
func PatchFrom(j Job) Patch {
	p := Patch{
		Status:             &j.Status,
		Progress:           &j.Progress,
		CurrentStep:        &j.CurrentStep,
		MediaDuration:      &j.MediaDuration,
		TranscriptSegments: &j.TranscriptSegments,
	}
	if !j.StartedAt.IsZero() {
		p.StartedAt = &j.StartedAt
	}
	if !j.CompletedAt.IsZero() {
		p.CompletedAt = &j.CompletedAt
	}
	if j.Error != "" {
		p.Error = &j.Error
	}
	if j.OutputPath != "" {
		p.OutputPath = &j.OutputPath
		p.OutputURL = &j.OutputURL
		p.RemoteKey = &j.RemoteKey
		p.Clips = j.Clips
		if p.Clips == nil {
			p.Clips = []Clip{}
		}
	}
	return p
}
