package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	Server       ServerConfig       `json:"server"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Providers    ProvidersConfig    `json:"providers"`
	Logging      LoggingConfig      `json:"logging"`
	Metrics      MetricsConfig      `json:"metrics"`
	Tracing      TracingConfig      `json:"tracing"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	AllowedOrigins  []string      `json:"allowed_origins"`
	Environment     string        `json:"environment"`
}

// OrchestratorConfig contains the resilience knobs shared by every call
type OrchestratorConfig struct {
	MaxConcurrent     int           `json:"max_concurrent"`
	RequestsPerMinute int           `json:"requests_per_minute"`
	RecordRejected    bool          `json:"record_rejected"`
	ReserveRateBudget bool          `json:"reserve_rate_budget"`
	BreakerThreshold  int           `json:"breaker_threshold"`
	BreakerCooldown   time.Duration `json:"breaker_cooldown"`
	CacheCapacity     int           `json:"cache_capacity"`
	CacheTTL          time.Duration `json:"cache_ttl"`
	MaxRetries        int           `json:"max_retries"`
	RetryBaseDelay    time.Duration `json:"retry_base_delay"`
	RetryFactor       float64       `json:"retry_factor"`
	RetryMaxDelay     time.Duration `json:"retry_max_delay"`
	RetryJitter       float64       `json:"retry_jitter"`
	PollInitialDelay  time.Duration `json:"poll_initial_delay"`
	PollFactor        float64       `json:"poll_factor"`
	PollMaxDelay      time.Duration `json:"poll_max_delay"`
	AttemptTimeout    time.Duration `json:"attempt_timeout"`
	MaxPollAttempts   int           `json:"max_poll_attempts"`
	MaxStatusErrors   int           `json:"max_status_errors"`
	DeleteJobOnAbort  bool          `json:"delete_job_on_abort"`
	MaxAudioBytes     int           `json:"max_audio_bytes"`
	RunRetention      time.Duration `json:"run_retention"`
}

// ProviderConfig contains one external provider's connection settings
type ProviderConfig struct {
	BaseURL           string        `json:"base_url"`
	APIKey            string        `json:"-"`
	Model             string        `json:"model,omitempty"`
	Timeout           time.Duration `json:"timeout"`
	RequestsPerSecond float64       `json:"requests_per_second"`
	Burst             int           `json:"burst"`
}

// ProvidersConfig contains the text generation and transcription providers
type ProvidersConfig struct {
	TextGeneration ProviderConfig `json:"text_generation"`
	Transcription  ProviderConfig `json:"transcription"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// MetricsConfig contains Prometheus configuration
type MetricsConfig struct {
	Enabled        bool          `json:"enabled"`
	Namespace      string        `json:"namespace"`
	Path           string        `json:"path"`
	SampleInterval time.Duration `json:"sample_interval"`
}

// TracingConfig contains OpenTelemetry configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
}

// Load loads configuration from environment variables with sensible
// defaults. A .env file in the working directory is read first when present;
// variables already set in the environment win.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFile loads a specific env file before reading the environment
func LoadFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		return nil, fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return LoadFromEnv()
}

// LoadFromEnv reads configuration from the process environment only
func LoadFromEnv() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:            getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			AllowedOrigins:  getEnvList("SERVER_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			Environment:     getEnvString("ENVIRONMENT", "development"),
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrent:     getEnvInt("ORCH_MAX_CONCURRENT", 3),
			RequestsPerMinute: getEnvInt("ORCH_REQUESTS_PER_MINUTE", 60),
			RecordRejected:    getEnvBool("ORCH_RECORD_REJECTED", false),
			ReserveRateBudget: getEnvBool("ORCH_RESERVE_RATE_BUDGET", false),
			BreakerThreshold:  getEnvInt("ORCH_BREAKER_THRESHOLD", 5),
			BreakerCooldown:   getEnvDuration("ORCH_BREAKER_COOLDOWN", time.Minute),
			CacheCapacity:     getEnvInt("ORCH_CACHE_CAPACITY", 100),
			CacheTTL:          getEnvDuration("ORCH_CACHE_TTL", time.Hour),
			MaxRetries:        getEnvInt("ORCH_MAX_RETRIES", 3),
			RetryBaseDelay:    getEnvDuration("ORCH_RETRY_BASE_DELAY", time.Second),
			RetryFactor:       getEnvFloat("ORCH_RETRY_FACTOR", 2.0),
			RetryMaxDelay:     getEnvDuration("ORCH_RETRY_MAX_DELAY", 30*time.Second),
			RetryJitter:       getEnvFloat("ORCH_RETRY_JITTER", 0.3),
			PollInitialDelay:  getEnvDuration("ORCH_POLL_INITIAL_DELAY", 2*time.Second),
			PollFactor:        getEnvFloat("ORCH_POLL_FACTOR", 1.5),
			PollMaxDelay:      getEnvDuration("ORCH_POLL_MAX_DELAY", 10*time.Second),
			AttemptTimeout:    getEnvDuration("ORCH_ATTEMPT_TIMEOUT", 30*time.Second),
			MaxPollAttempts:   getEnvInt("ORCH_MAX_POLL_ATTEMPTS", 60),
			MaxStatusErrors:   getEnvInt("ORCH_MAX_STATUS_ERRORS", 3),
			DeleteJobOnAbort:  getEnvBool("ORCH_DELETE_JOB_ON_ABORT", true),
			MaxAudioBytes:     getEnvInt("ORCH_MAX_AUDIO_BYTES", 100<<20),
			RunRetention:      getEnvDuration("ORCH_RUN_RETENTION", 15*time.Minute),
		},
		Providers: ProvidersConfig{
			TextGeneration: ProviderConfig{
				BaseURL:           getEnvString("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
				APIKey:            getEnvString("GEMINI_API_KEY", ""),
				Model:             getEnvString("GEMINI_MODEL", "gemini-1.5-flash"),
				Timeout:           getEnvDuration("GEMINI_TIMEOUT", 60*time.Second),
				RequestsPerSecond: getEnvFloat("GEMINI_REQUESTS_PER_SECOND", 0),
				Burst:             getEnvInt("GEMINI_BURST", 1),
			},
			Transcription: ProviderConfig{
				BaseURL:           getEnvString("ASSEMBLYAI_BASE_URL", "https://api.assemblyai.com"),
				APIKey:            getEnvString("ASSEMBLYAI_API_KEY", ""),
				Timeout:           getEnvDuration("ASSEMBLYAI_TIMEOUT", 120*time.Second),
				RequestsPerSecond: getEnvFloat("ASSEMBLYAI_REQUESTS_PER_SECOND", 0),
				Burst:             getEnvInt("ASSEMBLYAI_BURST", 1),
			},
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Metrics: MetricsConfig{
			Enabled:        getEnvBool("METRICS_ENABLED", true),
			Namespace:      getEnvString("METRICS_NAMESPACE", "voxgate"),
			Path:           getEnvString("METRICS_PATH", "/metrics"),
			SampleInterval: getEnvDuration("METRICS_SAMPLE_INTERVAL", 15*time.Second),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("TRACING_ENABLED", false),
			ServiceName:    getEnvString("TRACING_SERVICE_NAME", "voxgate"),
			JaegerEndpoint: getEnvString("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SampleRate:     getEnvFloat("TRACING_SAMPLE_RATE", 1.0),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration. Provider keys are not required here;
// callers check the providers they actually use.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d is out of range", c.Server.Port)
	}

	o := c.Orchestrator
	if o.MaxConcurrent < 1 {
		return fmt.Errorf("max concurrent must be at least 1")
	}
	if o.RequestsPerMinute < 1 {
		return fmt.Errorf("requests per minute must be at least 1")
	}
	if o.BreakerThreshold < 1 {
		return fmt.Errorf("breaker threshold must be at least 1")
	}
	if o.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if o.MaxPollAttempts < 1 {
		return fmt.Errorf("max poll attempts must be at least 1")
	}
	if o.AttemptTimeout <= 0 {
		return fmt.Errorf("attempt timeout must be positive")
	}
	if o.RetryFactor < 1 || o.PollFactor < 1 {
		return fmt.Errorf("backoff factors must be at least 1")
	}
	if o.RetryMaxDelay < o.RetryBaseDelay || o.PollMaxDelay < o.PollInitialDelay {
		return fmt.Errorf("backoff max delay must not be below the initial delay")
	}
	if o.RetryJitter < 0 || o.RetryJitter > 1 {
		return fmt.Errorf("retry jitter must be between 0 and 1")
	}
	if o.RetryFactor < 1+o.RetryJitter {
		return fmt.Errorf("retry factor %.2f must be at least 1 + jitter (%.2f)", o.RetryFactor, 1+o.RetryJitter)
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing sample rate must be between 0 and 1")
	}

	return nil
}

// Address returns the host:port the server listens on
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
