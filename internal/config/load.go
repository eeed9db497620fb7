package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable read by Load.
const EnvPrefix = "ADLENS"

// ConfigFileEnv names an explicit config file path.
const ConfigFileEnv = "ADLENS_CONFIG_FILE"

// keys lists every setting so that AutomaticEnv sees nested keys during Unmarshal.
var keys = []string{
	"server.port",
	"server.log_level",
	"database.url",
	"database.max_open_conns",
	"server.shutdown_timeout",
	"auth.jwt_secret",
	"auth.token_lifetime_minutes",
	"llm.gemini_api_key",
	"llm.model_name",
	"llm.max_retries",
	"llm.retry_delay_seconds",
	"jobs.poll_interval",
	"jobs.cancel_grace",
	"jobs.store_timeout",
	"jobs.store_max_retries",
	"jobs.store_retry_delay",
	"jobs.cleanup_probability",
	"jobs.cleanup_max_age",
	"jobs.seconds_per_item",
	"jobs.progress_min",
	"jobs.progress_max",
	"pipeline.max_frames",
	"pipeline.frame_width",
	"pipeline.workers",
	"pipeline.concurrent_branches",
	"media.work_dir",
	"media.ffmpeg_path",
	"media.download_timeout",
	"media.max_download_bytes",
	"adsource.base_url",
	"adsource.timeout",
	"adsource.requests_per_second",
	"adsource.burst",
	"adsource.page_size",
	"events.nats_url",
	"events.subject_prefix",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("auth.token_lifetime_minutes", 60)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("llm.model_name", "gemini-2.0-flash")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_delay_seconds", 2)
	v.SetDefault("jobs.poll_interval", 100*time.Millisecond)
	v.SetDefault("jobs.cancel_grace", 5*time.Second)
	v.SetDefault("jobs.store_timeout", 5*time.Second)
	v.SetDefault("jobs.store_max_retries", 3)
	v.SetDefault("jobs.store_retry_delay", 200*time.Millisecond)
	v.SetDefault("jobs.cleanup_probability", 0.05)
	v.SetDefault("jobs.cleanup_max_age", 168*time.Hour)
	v.SetDefault("jobs.seconds_per_item", 20)
	v.SetDefault("jobs.progress_min", 5)
	v.SetDefault("jobs.progress_max", 90)
	v.SetDefault("pipeline.max_frames", 6)
	v.SetDefault("pipeline.frame_width", 512)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.concurrent_branches", true)
	v.SetDefault("media.work_dir", "./data/media")
	v.SetDefault("media.ffmpeg_path", "ffmpeg")
	v.SetDefault("media.download_timeout", 10*time.Minute)
	v.SetDefault("media.max_download_bytes", int64(512<<20))
	v.SetDefault("adsource.base_url", "https://graph.facebook.com/v19.0")
	v.SetDefault("adsource.timeout", 30*time.Second)
	v.SetDefault("adsource.requests_per_second", 5.0)
	v.SetDefault("adsource.burst", 5)
	v.SetDefault("adsource.page_size", 100)
	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.subject_prefix", "adlens.jobs")
}

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path := os.Getenv(ConfigFileEnv); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("error binding env for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
