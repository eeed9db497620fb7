package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth" validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm" validate:"required"`
	Jobs     JobsConfig     `mapstructure:"jobs" validate:"required"`
	Pipeline PipelineConfig `mapstructure:"pipeline" validate:"required"`
	Media    MediaConfig    `mapstructure:"media" validate:"required"`
	AdSource AdSourceConfig `mapstructure:"adsource" validate:"required"`
	Events   EventsConfig   `mapstructure:"events"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL          string `mapstructure:"url" validate:"required,url"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=1"`
}

// AuthConfig contains all authentication and authorization settings.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret" validate:"required,min=32"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"gt=0"`
}

// LLMConfig contains the Gemini settings used by the analysis collaborators.
type LLMConfig struct {
	GeminiAPIKey      string `mapstructure:"gemini_api_key" validate:"required"`
	ModelName         string `mapstructure:"model_name" validate:"required"`
	MaxRetries        int    `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryDelaySeconds int    `mapstructure:"retry_delay_seconds" validate:"gte=0,lte=60"`
}

// JobsConfig tunes the job lifecycle manager.
type JobsConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	CancelGrace        time.Duration `mapstructure:"cancel_grace" validate:"gt=0"`
	StoreTimeout       time.Duration `mapstructure:"store_timeout" validate:"gt=0"`
	StoreMaxRetries    int           `mapstructure:"store_max_retries" validate:"gte=0,lte=10"`
	StoreRetryDelay    time.Duration `mapstructure:"store_retry_delay" validate:"gte=0"`
	CleanupProbability float64       `mapstructure:"cleanup_probability" validate:"gte=0,lte=1"`
	CleanupMaxAge      time.Duration `mapstructure:"cleanup_max_age" validate:"gt=0"`
	SecondsPerItem     int           `mapstructure:"seconds_per_item" validate:"gte=0"`
	ProgressMin        int           `mapstructure:"progress_min" validate:"gte=0,lte=100"`
	ProgressMax        int           `mapstructure:"progress_max" validate:"gtefield=ProgressMin,lte=100"`
}

// PipelineConfig tunes the analysis pipeline.
type PipelineConfig struct {
	MaxFrames          int  `mapstructure:"max_frames" validate:"gt=0,lte=32"`
	FrameWidth         int  `mapstructure:"frame_width" validate:"gte=64,lte=4096"`
	Workers            int  `mapstructure:"workers" validate:"gt=0"`
	ConcurrentBranches bool `mapstructure:"concurrent_branches"`
}

// MediaConfig locates creative storage and tooling.
type MediaConfig struct {
	WorkDir          string        `mapstructure:"work_dir" validate:"required"`
	FFmpegPath       string        `mapstructure:"ffmpeg_path" validate:"required"`
	DownloadTimeout  time.Duration `mapstructure:"download_timeout" validate:"gt=0"`
	MaxDownloadBytes int64         `mapstructure:"max_download_bytes" validate:"gt=0"`
}

// AdSourceConfig points at the ad library API.
type AdSourceConfig struct {
	BaseURL string        `mapstructure:"base_url" validate:"required,url"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
	// RequestsPerSecond throttles calls to the API; Burst allows short spikes.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gt=0"`
	Burst             int     `mapstructure:"burst" validate:"gt=0"`
	PageSize          int     `mapstructure:"page_size" validate:"gt=0,lte=500"`
}

// EventsConfig configures lifecycle event publishing.
// NATSURL may be empty, which disables NATS publishing.
type EventsConfig struct {
	NATSURL       string `mapstructure:"nats_url" validate:"omitempty,url"`
	SubjectPrefix string `mapstructure:"subject_prefix" validate:"required"`
}
