package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv         string
	Port           string
	PublicBaseURL  string
	DatabaseURL    string // optional; filesystem state store when empty
	StateDir       string
	StoragePath    string
	StorageBaseURL string

	InferenceBaseURL string // optional; synthetic callbacks when empty
	InferenceAPIKey  string
	InferenceTimeout time.Duration
	SubmitRetries    int
	SubmitRetryDelay time.Duration

	ItemTimeout   time.Duration // stall window before the sweep fails an item
	SweepSchedule string        // cron expression

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	CORSOrigins      []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:         getEnv("APP_ENV", "development"),
		Port:           getEnv("PORT", "8080"),
		PublicBaseURL:  getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		StateDir:       getEnv("STATE_DIR", "./state"),
		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),

		InferenceBaseURL: os.Getenv("INFERENCE_BASE_URL"),
		InferenceAPIKey:  os.Getenv("INFERENCE_API_KEY"),
		InferenceTimeout: time.Second * time.Duration(getEnvInt("INFERENCE_TIMEOUT_SECONDS", 30)),
		SubmitRetries:    getEnvInt("SUBMIT_RETRIES", 2),
		SubmitRetryDelay: time.Second * time.Duration(getEnvInt("SUBMIT_RETRY_DELAY_SECONDS", 2)),

		ItemTimeout:   time.Minute * time.Duration(getEnvInt("ITEM_TIMEOUT_MINUTES", 10)),
		SweepSchedule: getEnv("SWEEP_SCHEDULE", "@every 1m"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		CORSOrigins:      splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
	}

	if strings.TrimSpace(cfg.PublicBaseURL) == "" {
		return nil, fmt.Errorf("PUBLIC_BASE_URL is required")
	}

	return cfg, nil
}

// CallbackURL is the webhook the inference API posts completions to.
func (c *Config) CallbackURL() string {
	return strings.TrimRight(c.PublicBaseURL, "/") + "/v1/callbacks/inference"
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
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
