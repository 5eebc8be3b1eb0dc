package pipeline

import (
	"math"

	"clipwave/job"
)

// SanitizeIntervals clamps every interval to [0, duration] and drops the ones
// that end up empty or inverted. A duration <= 0 means unknown, in which case
// only the start is clamped.
func SanitizeIntervals(in []job.ClipInterval, duration float64) []job.ClipInterval {
	out := make([]job.ClipInterval, 0, len(in))
	for _, iv := range in {
		if !finite(iv.Start) || !finite(iv.End) {
			continue
		}
		start := math.Max(0, iv.Start)
		end := iv.End
		if duration > 0 {
			end = math.Min(end, duration)
		}
		if end <= start {
			continue
		}
		out = append(out, job.ClipInterval{Start: start, End: end, Title: iv.Title})
	}
	return out
}

// DefaultIntervals spreads count evenly spaced intervals across the media,
// each between minLen and maxLen seconds long. Short media yields fewer
// intervals; media shorter than minLen yields a single interval covering it.
// With an unknown duration the intervals are laid back to back from zero.
func DefaultIntervals(duration float64, count int, minLen, maxLen float64) []job.ClipInterval {
	if count <= 0 {
		count = 3
	}
	if minLen <= 0 {
		minLen = 10
	}
	if maxLen < minLen {
		maxLen = minLen
	}

	if duration <= 0 || !finite(duration) {
		length := clamp(30, minLen, maxLen)
		out := make([]job.ClipInterval, 0, count)
		for i := 0; i < count; i++ {
			start := float64(i) * length
			out = append(out, job.ClipInterval{Start: start, End: start + length})
		}
		return out
	}

	n := count
	if fit := int(duration / minLen); fit < n {
		n = fit
	}
	if n == 0 {
		return []job.ClipInterval{{Start: 0, End: duration}}
	}

	length := clamp(duration/float64(2*n), minLen, maxLen)
	if slot := duration / float64(n); length > slot {
		length = slot
	}

	out := make([]job.ClipInterval, 0, n)
	for i := 0; i < n; i++ {
		center := duration * float64(2*i+1) / float64(2*n)
		start := math.Max(0, center-length/2)
		end := math.Min(duration, start+length)
		out = append(out, job.ClipInterval{Start: start, End: end})
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
