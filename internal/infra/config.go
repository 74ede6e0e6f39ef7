package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv         string
	Port           string
	DatabaseURL    string
	StoragePath    string
	StorageBaseURL string
	GeoIPDBPath    string

	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIChatModel  string
	OpenAIVideoModel string
	VideoSeconds     int
	VideoSize        string

	FalAPIKey  string
	FalBaseURL string

	ImageProvider     string
	ReplicateAPIToken string
	ReplicateVersion  string

	PollInterval    time.Duration
	PollMaxDuration time.Duration
	MaxAttempts     int
	MaxQAIterations int
	QAThreshold     float64
	DefaultLocale   string

	VideoConcurrency int
	ImageConcurrency int
	TextConcurrency  int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	AllowedOrigins   []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	cfg := &Config{
		AppEnv:         getEnv("APP_ENV", "development"),
		Port:           getEnv("PORT", "8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),
		GeoIPDBPath:    os.Getenv("GEOIP_DB_PATH"),

		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIChatModel:  getEnv("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
		OpenAIVideoModel: getEnv("OPENAI_VIDEO_MODEL", "sora-2"),
		VideoSeconds:     getEnvInt("VIDEO_SECONDS", 12),
		VideoSize:        getEnv("VIDEO_SIZE", "720x1280"),

		FalAPIKey:  os.Getenv("FAL_KEY"),
		FalBaseURL: getEnv("FAL_BASE_URL", "https://queue.fal.run/fal-ai/z-image/turbo"),

		ImageProvider:     getEnv("IMAGE_PROVIDER", "fal"),
		ReplicateAPIToken: os.Getenv("REPLICATE_API_TOKEN"),
		ReplicateVersion:  os.Getenv("REPLICATE_MODEL_VERSION"),

		PollInterval:    time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 5)),
		PollMaxDuration: time.Minute * time.Duration(getEnvInt("POLL_MAX_MINUTES", 10)),
		MaxAttempts:     getEnvInt("MAX_ATTEMPTS", 3),
		MaxQAIterations: getEnvInt("MAX_QA_ITERATIONS", 3),
		QAThreshold:     getEnvFloat("QA_THRESHOLD", 0.8),
		DefaultLocale:   getEnv("DEFAULT_LOCALE", "en"),

		VideoConcurrency: getEnvInt("VIDEO_CONCURRENCY", 2),
		ImageConcurrency: getEnvInt("IMAGE_CONCURRENCY", 4),
		TextConcurrency:  getEnvInt("TEXT_CONCURRENCY", 8),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		AllowedOrigins:   splitCSV(os.Getenv("ALLOWED_ORIGINS")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("MAX_ATTEMPTS must be at least 1")
	}

	if cfg.QAThreshold < 0 || cfg.QAThreshold > 1 {
		return nil, fmt.Errorf("QA_THRESHOLD must be within [0, 1]")
	}

	return cfg, nil
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
