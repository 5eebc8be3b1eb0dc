package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	// HTTP
	Port       string `mapstructure:"PORT"`
	BaseURL    string `mapstructure:"BASE"`
	AuthEnable bool   `mapstructure:"AUTH_ENABLE"`
	AuthKey    string `mapstructure:"AUTH_KEY"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"` // auto, console or json

	// Scheduling and local storage
	MaxConcurrency      int           `mapstructure:"MAX_CONCURRENCY"`
	QueueSize           int           `mapstructure:"QUEUE_SIZE"`
	JobTimeout          time.Duration `mapstructure:"JOB_TIMEOUT"`
	OutputDir           string        `mapstructure:"OUTPUT_DIR"`
	ScratchDir          string        `mapstructure:"SCRATCH_DIR"`
	OutputLocalLifetime time.Duration `mapstructure:"OUTPUT_LOCAL_LIFETIME"`

	// Rendering
	FFBin      string        `mapstructure:"FF_BIN"`
	FFProbeBin string        `mapstructure:"FFPROBE_BIN"`
	FFTimeout  time.Duration `mapstructure:"FF_TIMEOUT"`

	// Fetching
	YTDLPBin             string        `mapstructure:"YTDLP_BIN"`
	CookiesFile          string        `mapstructure:"COOKIES_FILE"`
	FetchFormat          string        `mapstructure:"FETCH_FORMAT"`
	FetchExtraArgs       string        `mapstructure:"FETCH_EXTRA_ARGS"`
	FetchTimeout         time.Duration `mapstructure:"FETCH_TIMEOUT"`
	FetchRetries         int           `mapstructure:"FETCH_RETRIES"`
	FetchFragmentRetries int           `mapstructure:"FETCH_FRAGMENT_RETRIES"`
	FetchAttempts        uint          `mapstructure:"FETCH_ATTEMPTS"`
	MaxInputSize         int64         `mapstructure:"MAX_INPUT_SIZE"`

	// Transcript
	TranscriptTimeout time.Duration `mapstructure:"TRANSCRIPT_TIMEOUT"`
	TranscriptLang    string        `mapstructure:"TRANSCRIPT_LANG"`

	// Clip selection
	LLMAPIKey        string        `mapstructure:"LLM_API_KEY"`
	LLMBaseURL       string        `mapstructure:"LLM_BASE_URL"`
	LLMModel         string        `mapstructure:"LLM_MODEL"`
	LLMTimeout       time.Duration `mapstructure:"LLM_TIMEOUT"`
	DefaultClipCount int           `mapstructure:"DEFAULT_CLIP_COUNT"`
	MinClip          time.Duration `mapstructure:"MIN_CLIP"`
	MaxClip          time.Duration `mapstructure:"MAX_CLIP"`

	// Admission
	ThrottleCPU      float64       `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem  int64         `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk int64         `mapstructure:"THROTTLE_FREEDISK"`
	ThrottleWait     time.Duration `mapstructure:"THROTTLE_WAIT"`

	// Optional output mirror
	MinioEndpoint  string `mapstructure:"MINIO_ENDPOINT"`
	MinioAccessKey string `mapstructure:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `mapstructure:"MINIO_SECRET_KEY"`
	MinioBucket    string `mapstructure:"MINIO_BUCKET"`
	MinioSecure    bool   `mapstructure:"MINIO_SECURE"`
}

// MirrorEnabled reports whether outputs should be copied to object storage.
func (c *Config) MirrorEnabled() bool {
	return c.MinioEndpoint != ""
}

// stringToDurationHookFunc parses Go duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc parses human-readable sizes such as "200MB".
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		if err := size.UnmarshalText([]byte(data.(string))); err != nil {
			// Not a size string, let the default decoder try.
			return data, nil
		}
		return int64(size.Bytes()), nil
	}
}

func setDefaults(vp *viper.Viper) {
	vp.SetDefault("PORT", "8000")
	vp.SetDefault("BASE", "")
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "")
	vp.SetDefault("LOG_LEVEL", "info")
	vp.SetDefault("LOG_FORMAT", "auto")

	vp.SetDefault("MAX_CONCURRENCY", 2)
	vp.SetDefault("QUEUE_SIZE", 100)
	vp.SetDefault("JOB_TIMEOUT", "1h")
	vp.SetDefault("OUTPUT_DIR", "storage/videos")
	vp.SetDefault("SCRATCH_DIR", "")
	vp.SetDefault("OUTPUT_LOCAL_LIFETIME", "24h")

	vp.SetDefault("FF_BIN", "ffmpeg")
	vp.SetDefault("FFPROBE_BIN", "ffprobe")
	vp.SetDefault("FF_TIMEOUT", "30m")

	vp.SetDefault("YTDLP_BIN", "yt-dlp")
	vp.SetDefault("COOKIES_FILE", "")
	vp.SetDefault("FETCH_FORMAT", "bestvideo[height<=720]+bestaudio/best[height<=720]")
	vp.SetDefault("FETCH_EXTRA_ARGS", "")
	vp.SetDefault("FETCH_TIMEOUT", "10m")
	vp.SetDefault("FETCH_RETRIES", 10)
	vp.SetDefault("FETCH_FRAGMENT_RETRIES", 10)
	vp.SetDefault("FETCH_ATTEMPTS", 2)
	vp.SetDefault("MAX_INPUT_SIZE", "2GB")

	vp.SetDefault("TRANSCRIPT_TIMEOUT", "30s")
	vp.SetDefault("TRANSCRIPT_LANG", "en")

	vp.SetDefault("LLM_API_KEY", "")
	vp.SetDefault("LLM_BASE_URL", "https://api.openai.com/v1/chat/completions")
	vp.SetDefault("LLM_MODEL", "gpt-4o-mini")
	vp.SetDefault("LLM_TIMEOUT", "60s")
	vp.SetDefault("DEFAULT_CLIP_COUNT", 3)
	vp.SetDefault("MIN_CLIP", "10s")
	vp.SetDefault("MAX_CLIP", "60s")

	vp.SetDefault("THROTTLE_CPU", 0.0)
	vp.SetDefault("THROTTLE_FREEMEM", "200MB")
	vp.SetDefault("THROTTLE_FREEDISK", "500MB")
	vp.SetDefault("THROTTLE_WAIT", "2m")

	vp.SetDefault("MINIO_ENDPOINT", "")
	vp.SetDefault("MINIO_ACCESS_KEY", "")
	vp.SetDefault("MINIO_SECRET_KEY", "")
	vp.SetDefault("MINIO_BUCKET", "clipwave")
	vp.SetDefault("MINIO_SECURE", false)
}

// Load reads defaults, then clipwave_config.yaml, then CLIPWAVE_* env vars.
func Load() (*Config, error) {
	vp := viper.New()
	setDefaults(vp)

	vp.SetConfigName("clipwave_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/clipwave/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	vp.SetEnvPrefix("CLIPWAVE")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// The first hook that converts a value wins.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}
