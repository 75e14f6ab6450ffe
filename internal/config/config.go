package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config contains all runtime settings for the chat backend.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         string

	DatabaseURL     string
	PersonaCacheTTL time.Duration

	OpenAIAPIKey  string
	OpenAIBaseURL string
	ChatModel     string
	TTSModel      string
	STTModel      string

	MediaBucket      string
	MediaURLTTL      time.Duration
	PersonaArtURLTTL time.Duration

	DiscoveryAPIKey    string
	DiscoveryBaseURL   string
	DiscoveryDatasetID string

	VideoEngineURL  string
	VideoJobTimeout time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:           envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "ava"),
		LogLevel:           envOrDefault("APP_LOG_LEVEL", "info"),
		DatabaseURL:        strings.TrimSpace(os.Getenv("DATABASE_URL")),
		OpenAIAPIKey:       strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:      strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		ChatModel:          envOrDefault("AI_CHAT_MODEL", "gpt-4o-mini"),
		TTSModel:           envOrDefault("AI_TTS_MODEL", "gpt-4o-mini-tts"),
		STTModel:           envOrDefault("AI_STT_MODEL", "whisper-1"),
		MediaBucket:        strings.TrimSpace(os.Getenv("MEDIA_BUCKET")),
		DiscoveryAPIKey:    strings.TrimSpace(os.Getenv("DISCOVERY_API_KEY")),
		DiscoveryBaseURL:   envOrDefault("DISCOVERY_BASE_URL", "https://api.brightdata.com/datasets/v3"),
		DiscoveryDatasetID: strings.TrimSpace(os.Getenv("DISCOVERY_DATASET_ID")),
		VideoEngineURL:     strings.TrimSpace(os.Getenv("VIDEO_ENGINE_URL")),
		ShutdownTimeout:    15 * time.Second,
		PersonaCacheTTL:    24 * time.Hour,
		MediaURLTTL:        time.Hour,
		PersonaArtURLTTL:   24 * time.Hour,
		VideoJobTimeout:    5 * time.Minute,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.PersonaCacheTTL, err = durationFromEnv("PERSONA_CACHE_TTL", cfg.PersonaCacheTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.MediaURLTTL, err = durationFromEnv("MEDIA_URL_TTL", cfg.MediaURLTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.PersonaArtURLTTL, err = durationFromEnv("PERSONA_ART_URL_TTL", cfg.PersonaArtURLTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.VideoJobTimeout, err = durationFromEnv("VIDEO_JOB_TIMEOUT", cfg.VideoJobTimeout)
	if err != nil {
		return Config{}, err
	}

	if cfg.PersonaCacheTTL < time.Minute {
		return Config{}, fmt.Errorf("PERSONA_CACHE_TTL must be at least 1m")
	}
	if cfg.MediaURLTTL < time.Minute {
		return Config{}, fmt.Errorf("MEDIA_URL_TTL must be at least 1m")
	}
	if cfg.VideoJobTimeout < 10*time.Second {
		return Config{}, fmt.Errorf("VIDEO_JOB_TIMEOUT must be at least 10s")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}
