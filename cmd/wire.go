package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"clipwave/config"
	"clipwave/fetcher"
	"clipwave/ffmpeg"
	"clipwave/job"
	"clipwave/pipeline"
	"clipwave/selector"
	"clipwave/storage"
	"clipwave/transcript"

	"github.com/rs/zerolog"
)

// buildPipeline wires every strategy chain from cfg. The mirror is returned
// separately so callers can hook its cleanup into the store; it is nil when
// MINIO_ENDPOINT is unset.
func buildPipeline(ctx context.Context, cfg *config.Config, listeners ...job.Listener) (*pipeline.Orchestrator, *storage.Mirror, error) {
	log := zerolog.Ctx(ctx)

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create output dir: %w", err)
	}

	extra, err := fetcher.ParseExtraArgs(cfg.FetchExtraArgs)
	if err != nil {
		return nil, nil, fmt.Errorf("FETCH_EXTRA_ARGS: %w", err)
	}
	var deps pipeline.Deps
	for _, y := range fetcher.NewYTDLPChain(fetcher.Options{
		Bin:             cfg.YTDLPBin,
		CookiesFile:     cfg.CookiesFile,
		Format:          cfg.FetchFormat,
		ExtraArgs:       extra,
		Retries:         cfg.FetchRetries,
		FragmentRetries: cfg.FetchFragmentRetries,
		Attempts:        cfg.FetchAttempts,
		Timeout:         cfg.FetchTimeout,
	}) {
		deps.Fetchers = append(deps.Fetchers, y)
	}
	deps.Fetchers = append(deps.Fetchers, fetcher.NewDirect(&http.Client{Timeout: cfg.FetchTimeout}, cfg.MaxInputSize))

	topts := transcript.Options{
		Language: cfg.TranscriptLang,
		Client:   &http.Client{Timeout: cfg.TranscriptTimeout},
	}
	deps.Transcripts = []pipeline.TranscriptAcquirer{
		transcript.NewTimedText(topts),
		transcript.NewCaptionTrack(topts),
	}

	if cfg.LLMAPIKey != "" {
		deps.Selector = selector.NewLLM(selector.NewClient(selector.Config{
			APIKey:  cfg.LLMAPIKey,
			BaseURL: cfg.LLMBaseURL,
			Model:   cfg.LLMModel,
			Timeout: cfg.LLMTimeout,
		}))
	} else {
		log.Warn().Msg("LLM_API_KEY not set, clips will use default intervals")
	}

	for _, r := range ffmpeg.NewRenderers(cfg.FFBin, cfg.FFTimeout) {
		deps.Renderers = append(deps.Renderers, r)
	}
	deps.Prober = ffmpeg.NewProber(cfg.FFProbeBin)

	checker := ffmpeg.NewResourceChecker(ffmpeg.Thresholds{
		IdleCPU:  cfg.ThrottleCPU,
		FreeMem:  cfg.ThrottleFreeMem,
		FreeDisk: cfg.ThrottleFreeDisk,
		DiskPath: cfg.OutputDir,
		Wait:     cfg.ThrottleWait,
	})
	deps.Admission = checker.Wait

	var mirror *storage.Mirror
	if cfg.MirrorEnabled() {
		mirror, err = storage.NewMirror(ctx, storage.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			Secure:    cfg.MinioSecure,
		})
		if err != nil {
			return nil, nil, err
		}
		deps.Mirror = mirror
		log.Info().Str("endpoint", cfg.MinioEndpoint).Str("bucket", cfg.MinioBucket).Msg("output mirror enabled")
	}

	orch := pipeline.New(deps, pipeline.Options{
		OutputDir:         cfg.OutputDir,
		ScratchDir:        cfg.ScratchDir,
		TranscriptTimeout: cfg.TranscriptTimeout,
		DefaultClipCount:  cfg.DefaultClipCount,
		MinClip:           cfg.MinClip,
		MaxClip:           cfg.MaxClip,
	}, listeners...)
	return orch, mirror, nil
}
