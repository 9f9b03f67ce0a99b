package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultLogLevel    = "info"
	defaultLogFormat   = "text"
	defaultRedisPrefix = "commitgate"
)

// Config captures runtime options sourced from environment variables.
type Config struct {
	GitHubToken     string
	GitHubBaseURL   string
	GitHubUploadURL string
	RequestPath     string
	LogLevel        string
	LogFormat       string
	Verbose         bool

	RedisAddr      string
	RedisKeyPrefix string

	ExportTimeout        time.Duration
	BlobWorkers          int
	APIRequestsPerSecond float64
}

// LoadConfig reads options from the environment, applies defaults, and
// performs validation.
func LoadConfig() (Config, error) {
	cfg := Config{
		LogLevel:       strings.ToLower(strings.TrimSpace(envOrDefault("COMMITGATE_LOG_LEVEL", defaultLogLevel))),
		LogFormat:      strings.ToLower(strings.TrimSpace(envOrDefault("COMMITGATE_LOG_FORMAT", defaultLogFormat))),
		RedisKeyPrefix: strings.TrimSpace(envOrDefault("COMMITGATE_REDIS_KEY_PREFIX", defaultRedisPrefix)),
	}

	cfg.GitHubToken = strings.TrimSpace(os.Getenv("COMMITGATE_GITHUB_TOKEN"))
	if cfg.GitHubToken == "" {
		cfg.GitHubToken = strings.TrimSpace(os.Getenv("GITHUB_TOKEN"))
	}

	cfg.GitHubBaseURL = strings.TrimSpace(os.Getenv("COMMITGATE_GITHUB_BASE_URL"))
	cfg.GitHubUploadURL = strings.TrimSpace(os.Getenv("COMMITGATE_GITHUB_UPLOAD_URL"))
	cfg.RequestPath = strings.TrimSpace(os.Getenv("COMMITGATE_REQUEST_PATH"))
	cfg.RedisAddr = strings.TrimSpace(os.Getenv("COMMITGATE_REDIS_ADDR"))

	if rawVerbose := strings.TrimSpace(os.Getenv("COMMITGATE_VERBOSE")); rawVerbose != "" {
		verbose, err := strconv.ParseBool(rawVerbose)
		if err != nil {
			return Config{}, fmt.Errorf("parse COMMITGATE_VERBOSE: %w", err)
		}
		cfg.Verbose = verbose
	}

	if rawTimeout := strings.TrimSpace(os.Getenv("COMMITGATE_EXPORT_TIMEOUT")); rawTimeout != "" {
		timeout, err := time.ParseDuration(rawTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse COMMITGATE_EXPORT_TIMEOUT: %w", err)
		}
		if timeout <= 0 {
			return Config{}, fmt.Errorf("COMMITGATE_EXPORT_TIMEOUT must be positive")
		}
		cfg.ExportTimeout = timeout
	}

	if rawWorkers := strings.TrimSpace(os.Getenv("COMMITGATE_BLOB_WORKERS")); rawWorkers != "" {
		workers, err := strconv.Atoi(rawWorkers)
		if err != nil {
			return Config{}, fmt.Errorf("parse COMMITGATE_BLOB_WORKERS: %w", err)
		}
		if workers <= 0 {
			return Config{}, fmt.Errorf("COMMITGATE_BLOB_WORKERS must be positive")
		}
		cfg.BlobWorkers = workers
	}

	if rawRate := strings.TrimSpace(os.Getenv("COMMITGATE_API_RATE")); rawRate != "" {
		apiRate, err := strconv.ParseFloat(rawRate, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse COMMITGATE_API_RATE: %w", err)
		}
		if apiRate <= 0 {
			return Config{}, fmt.Errorf("COMMITGATE_API_RATE must be positive")
		}
		cfg.APIRequestsPerSecond = apiRate
	}

	if cfg.GitHubToken == "" {
		return Config{}, fmt.Errorf("github token is required (set COMMITGATE_GITHUB_TOKEN or GITHUB_TOKEN)")
	}

	if (cfg.GitHubBaseURL == "") != (cfg.GitHubUploadURL == "") {
		return Config{}, fmt.Errorf("COMMITGATE_GITHUB_BASE_URL and COMMITGATE_GITHUB_UPLOAD_URL must both be set for GitHub Enterprise")
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}

	if cfg.LogFormat == "" {
		cfg.LogFormat = defaultLogFormat
	}

	supportedFormats := map[string]struct{}{"text": {}, "json": {}}
	if _, ok := supportedFormats[cfg.LogFormat]; !ok {
		return Config{}, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	if cfg.Verbose {
		cfg.LogLevel = "debug"
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
