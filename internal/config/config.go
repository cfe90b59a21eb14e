package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	LogLevel string
	Debug    bool

	PreferIPv4     bool
	HTTPTimeout    time.Duration
	RequestTimeout time.Duration

	GeminiAPIKey     string
	GeminiAPIVersion string

	DataDir     string
	RedisURL    string
	PromptsFile string
	MockDelay   time.Duration

	TelegramToken      string
	MaxConcurrent      int
	MediaGroupDebounce time.Duration
	WorkspaceIdleTTL   time.Duration

	ExportS3Bucket string
	ExportS3Prefix string
	AWSRegion      string
}

// Load reads the process environment. Callers load .env first.
func Load() (Config, error) {
	cfg := Config{
		LogLevel:           strings.ToLower(strings.TrimSpace(getEnv("LOG_LEVEL", "info"))),
		Debug:              getEnvBool("DEBUG", false),
		PreferIPv4:         getEnvBool("PREFER_IPV4", true),
		HTTPTimeout:        time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 180)) * time.Second,
		RequestTimeout:     time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 120)) * time.Second,
		GeminiAPIKey:       strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiAPIVersion:   strings.TrimSpace(getEnv("GEMINI_API_VERSION", "v1beta")),
		DataDir:            strings.TrimSpace(getEnv("DATA_DIR", defaultDataDir())),
		RedisURL:           strings.TrimSpace(os.Getenv("REDIS_URL")),
		PromptsFile:        strings.TrimSpace(os.Getenv("PROMPTS_FILE")),
		MockDelay:          time.Duration(getEnvInt("MOCK_DELAY_MS", 1000)) * time.Millisecond,
		TelegramToken:      strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")),
		MaxConcurrent:      getEnvInt("MAX_CONCURRENT", 4),
		MediaGroupDebounce: time.Duration(getEnvInt("MEDIA_GROUP_DEBOUNCE_MS", 1200)) * time.Millisecond,
		WorkspaceIdleTTL:   time.Duration(getEnvInt("WORKSPACE_IDLE_MINUTES", 60)) * time.Minute,
		ExportS3Bucket:     strings.TrimSpace(os.Getenv("EXPORT_S3_BUCKET")),
		ExportS3Prefix:     strings.Trim(strings.TrimSpace(os.Getenv("EXPORT_S3_PREFIX")), "/"),
		AWSRegion:          strings.TrimSpace(getEnv("AWS_REGION", "us-east-1")),
	}

	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 180 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	if cfg.MockDelay < 0 {
		cfg.MockDelay = 0
	}

	return cfg, nil
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "banana-mall")
	}
	return ".banana-mall"
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
