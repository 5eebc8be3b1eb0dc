package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"clipwave/pipeline"

	"github.com/rs/zerolog"
)

type Mode string

const (
	ModeReencode Mode = "reencode"
	ModeCopy     Mode = "copy"
)

// Renderer cuts every interval into its own file in the output dir and joins
// them into <job_id>.mp4 with the concat demuxer.
type Renderer struct {
	mode    Mode
	bin     string
	timeout time.Duration
	run     commandRunner
}

func NewRenderer(mode Mode, bin string, timeout time.Duration) *Renderer {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &Renderer{mode: mode, bin: bin, timeout: timeout, run: execRunner}
}

// NewRenderers returns the render strategies in fallback order.
func NewRenderers(bin string, timeout time.Duration) []*Renderer {
	return []*Renderer{
		NewRenderer(ModeReencode, bin, timeout),
		NewRenderer(ModeCopy, bin, timeout),
	}
}

func (r *Renderer) Name() string { return "ffmpeg-" + string(r.mode) }

func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func (r *Renderer) cutArgs(media string, start, end float64, out string) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error",
		"-ss", seconds(start), "-to", seconds(end), "-i", media}
	if r.mode == ModeCopy {
		args = append(args, "-c", "copy")
	} else {
		args = append(args,
			"-c:v", "libx264", "-preset", "veryfast", "-crf", "23",
			"-c:a", "aac", "-b:a", "128k",
			"-movflags", "+faststart")
	}
	return append(args, "-avoid_negative_ts", "make_zero", out)
}

func (r *Renderer) Render(ctx context.Context, req pipeline.RenderRequest) (res pipeline.RenderResult, err error) {
	if len(req.Intervals) == 0 {
		return res, errors.New("nothing to render")
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	logger := zerolog.Ctx(ctx).With().Str("strategy", r.Name()).Logger()

	var written []string
	defer func() {
		if err != nil {
			for _, p := range written {
				os.Remove(p)
			}
		}
	}()

	for i, iv := range req.Intervals {
		out := filepath.Join(req.OutputDir, fmt.Sprintf("%s_clip_%d.mp4", req.JobID, i+1))
		written = append(written, out)
		if err := r.exec(ctx, r.cutArgs(req.MediaPath, iv.Start, iv.End, out), out); err != nil {
			return res, fmt.Errorf("clip %d: %w", i+1, err)
		}
		logger.Debug().Int("clip", i+1).Float64("start", iv.Start).Float64("end", iv.End).Msg("clip extracted")
		res.Clips = append(res.Clips, pipeline.RenderedClip{Interval: iv, Path: out})
	}

	list := filepath.Join(req.ScratchDir, "concat_"+string(r.mode)+".txt")
	if err := writeConcatList(list, written); err != nil {
		return res, err
	}
	defer os.Remove(list)

	output := filepath.Join(req.OutputDir, req.JobID+".mp4")
	written = append(written, output)
	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-f", "concat", "-safe", "0", "-i", list, "-c", "copy", output}
	if err := r.exec(ctx, args, output); err != nil {
		return res, fmt.Errorf("concat: %w", err)
	}
	res.OutputPath = output
	return res, nil
}

func (r *Renderer) exec(ctx context.Context, args []string, out string) error {
	output, err := r.run(ctx, r.bin, args...)
	if err != nil {
		return fmt.Errorf("ffmpeg execution failed: %w: %s", err, lastLine(output))
	}
	info, err := os.Stat(out)
	if err != nil {
		return fmt.Errorf("ffmpeg produced no output: %w", err)
	}
	if info.Size() == 0 {
		return errors.New("ffmpeg produced an empty file")
	}
	return nil
}

func writeConcatList(path string, files []string) error {
	var b strings.Builder
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", f, err)
		}
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to create concat file: %w", err)
	}
	return nil
}
