package selector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"clipwave/job"
	"clipwave/pipeline"
)

const systemPrompt = `You are a precise and efficient video clipping assistant.

Given a timed transcript of a video and a user request, extract the most relevant time intervals that match the intent of the request.

Give just enough context for a viewer to understand what is happening and avoid filler. Only start a new clip when the topic, speaker or scene clearly shifts, and keep the number of clips small.

Respond with JSON only, in exactly this shape:
{"clips":[{"start":12.4,"end":54.6,"title":"short title"}]}

Times are in seconds from the start of the video.`

const (
	defaultInstructions = "Find the most engaging and important moments in this video"
	maxPromptBytes      = 60000
)

var ErrInvalidResponse = errors.New("invalid clip selection response")

type completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// LLM selects clips by asking a chat model to read the transcript.
type LLM struct {
	client completer
}

func NewLLM(client *Client) *LLM {
	return &LLM{client: client}
}

func (l *LLM) Name() string { return "llm" }

func (l *LLM) Select(ctx context.Context, req pipeline.SelectRequest) ([]job.ClipInterval, error) {
	content, err := l.client.CompleteJSON(ctx, systemPrompt, buildPrompt(req))
	if err != nil {
		return nil, err
	}
	return ParseIntervals(content)
}

func buildPrompt(req pipeline.SelectRequest) string {
	instructions := strings.TrimSpace(req.Instructions)
	if instructions == "" {
		instructions = defaultInstructions
	}

	var b strings.Builder
	if req.Duration > 0 {
		fmt.Fprintf(&b, "Video duration: %.1f seconds\n\n", req.Duration)
	}
	b.WriteString("Transcript:\n")
	for _, s := range req.Transcript {
		line := fmt.Sprintf("[%.1f-%.1f] %s\n", s.Start, s.End, s.Text)
		if b.Len()+len(line) > maxPromptBytes {
			b.WriteString("[transcript truncated]\n")
			break
		}
		b.WriteString(line)
	}
	fmt.Fprintf(&b, "\nInstructions: %s\n", instructions)
	return b.String()
}

type clipPayload struct {
	Start *float64 `json:"start"`
	End   *float64 `json:"end"`
	Title string   `json:"title"`
}

// ParseIntervals accepts {"clips":[...]} or a bare array. Any item without
// finite start and end, or with end <= start, rejects the whole response.
func ParseIntervals(content string) ([]job.ClipInterval, error) {
	var wrapped struct {
		Clips []clipPayload `json:"clips"`
	}
	var items []clipPayload
	if err := DecodeJSON(content, &wrapped); err == nil && wrapped.Clips != nil {
		items = wrapped.Clips
	} else if err := DecodeJSON(content, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no clips", ErrInvalidResponse)
	}

	out := make([]job.ClipInterval, 0, len(items))
	for i, it := range items {
		if it.Start == nil || it.End == nil {
			return nil, fmt.Errorf("%w: clip %d is missing start or end", ErrInvalidResponse, i+1)
		}
		start, end := *it.Start, *it.End
		if math.IsNaN(start) || math.IsInf(start, 0) || math.IsNaN(end) || math.IsInf(end, 0) {
			return nil, fmt.Errorf("%w: clip %d has non-finite bounds", ErrInvalidResponse, i+1)
		}
		if end <= start {
			return nil, fmt.Errorf("%w: clip %d ends before it starts", ErrInvalidResponse, i+1)
		}
		out = append(out, job.ClipInterval{Start: start, End: end, Title: strings.TrimSpace(it.Title)})
	}
	return out, nil
}
