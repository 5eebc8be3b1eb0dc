package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"clipwave/job"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

const DefaultFormat = "bestvideo[height<=720]+bestaudio/best[height<=720]"

// Options configures the yt-dlp strategies.
type Options struct {
	Bin             string
	CookiesFile     string
	Format          string
	ExtraArgs       []string
	Retries         int
	FragmentRetries int
	Attempts        uint
	Timeout         time.Duration // per attempt
}

// commandRunner runs a process and returns its combined output.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// Messages after which another attempt with the same client cannot help.
var permanentMarkers = []string{
	"Unsupported URL",
	"Video unavailable",
	"Private video",
	"This video has been removed",
	"is not a valid URL",
}

// YTDLP downloads media with yt-dlp using one player client configuration.
type YTDLP struct {
	name       string
	clients    string
	cookies    string
	opts       Options
	run        commandRunner
	newBackOff func() backoff.BackOff
}

// NewYTDLPChain returns the yt-dlp strategies in fallback order. The cookie
// strategy is only included when a cookies file is configured.
func NewYTDLPChain(opts Options) []*YTDLP {
	if opts.Bin == "" {
		opts.Bin = "yt-dlp"
	}
	if opts.Format == "" {
		opts.Format = DefaultFormat
	}
	if opts.Attempts == 0 {
		opts.Attempts = 3
	}

	var chain []*YTDLP
	if opts.CookiesFile != "" {
		chain = append(chain, newYTDLP("yt-dlp-cookies", "android,web", opts.CookiesFile, opts))
	}
	chain = append(chain,
		newYTDLP("yt-dlp-mweb", "mweb,web", "", opts),
		newYTDLP("yt-dlp-web", "web", "", opts),
	)
	return chain
}

func newYTDLP(name, clients, cookies string, opts Options) *YTDLP {
	return &YTDLP{
		name:    name,
		clients: clients,
		cookies: cookies,
		opts:    opts,
		run:     execRunner,
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 2 * time.Second
			bo.MaxInterval = 10 * time.Second
			return bo
		},
	}
}

func (y *YTDLP) Name() string { return y.name }

func (y *YTDLP) args(src job.Source, dest string) []string {
	args := []string{
		"--no-playlist",
		"--no-progress",
		"--force-overwrites",
		"-f", y.opts.Format,
		"--merge-output-format", "mp4",
		"--retries", strconv.Itoa(y.opts.Retries),
		"--fragment-retries", strconv.Itoa(y.opts.FragmentRetries),
		"--extractor-args", "youtube:player_client=" + y.clients,
	}
	if y.cookies != "" {
		args = append(args, "--cookies", y.cookies)
	}
	args = append(args, y.opts.ExtraArgs...)
	return append(args, "-o", dest, src.URL)
}

// Fetch runs yt-dlp up to Attempts times and returns dest once the merged
// file exists.
func (y *YTDLP) Fetch(ctx context.Context, src job.Source, dest string) (string, error) {
	if y.cookies != "" {
		if _, err := os.Stat(y.cookies); err != nil {
			return "", fmt.Errorf("cookies file unavailable: %w", err)
		}
	}
	args := y.args(src, dest)
	logger := zerolog.Ctx(ctx).With().Str("strategy", y.name).Logger()

	attempt := 0
	operation := func() (string, error) {
		attempt++
		actx := ctx
		if y.opts.Timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, y.opts.Timeout)
			defer cancel()
		}

		out, err := y.run(actx, y.opts.Bin, args...)
		if err != nil {
			runErr := fmt.Errorf("yt-dlp: %w: %s", err, lastLine(out))
			if ctx.Err() != nil || isPermanent(out) {
				return "", backoff.Permanent(runErr)
			}
			logger.Warn().Err(runErr).Int("attempt", attempt).Msg("download attempt failed")
			return "", runErr
		}

		info, err := os.Stat(dest)
		if err != nil {
			return "", fmt.Errorf("yt-dlp finished without output: %w", err)
		}
		if info.Size() == 0 {
			return "", errors.New("yt-dlp produced an empty file")
		}
		return dest, nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(y.newBackOff()),
		backoff.WithMaxTries(y.opts.Attempts))
}

func isPermanent(out []byte) bool {
	for _, m := range permanentMarkers {
		if bytes.Contains(out, []byte(m)) {
			return true
		}
	}
	return false
}

// lastLine returns the last non-empty line of process output, which is where
// yt-dlp and ffmpeg put the actual error.
func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return "no output"
}
