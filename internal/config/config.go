package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the grading service.
type Config struct {
	AppName          string
	AppEnv           string
	AppPort          string
	DatabaseURL      string
	RedisURL         string
	NATSURL          string
	JWTSecret        string
	AIProvider       string
	OpenAIAPIKey     string
	OpenAIModel      string
	AnthropicAPIKey  string
	ExtractorURL     string
	ExtractorTimeout time.Duration
	LMSBaseURL       string
	LMSToken         string

	WorkerConcurrency int
	MaxRetries        int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	BreakerThreshold  int
	DefaultStrictness float64
	PassingThreshold  float64
	ReportCacheTTL    time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GRADEFLOW")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Gradeflow API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("ai.provider", "openai")
	v.SetDefault("extractor.timeout", "30s")
	v.SetDefault("worker.concurrency", 5)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "120s")
	v.SetDefault("retry.breaker_threshold", 5)
	v.SetDefault("grading.strictness", 0.5)
	v.SetDefault("grading.passing_threshold", 0.6)
	v.SetDefault("report.cache_ttl", "10m")

	baseDelay, err := time.ParseDuration(v.GetString("retry.base_delay"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid retry base delay: %w", err)
	}

	maxDelay, err := time.ParseDuration(v.GetString("retry.max_delay"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid retry max delay: %w", err)
	}

	cacheTTL, err := time.ParseDuration(v.GetString("report.cache_ttl"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid report cache ttl: %w", err)
	}

	extractorTimeout, err := time.ParseDuration(v.GetString("extractor.timeout"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid extractor timeout: %w", err)
	}

	cfg := Config{
		AppName:           v.GetString("app.name"),
		AppEnv:            v.GetString("app.env"),
		AppPort:           v.GetString("app.port"),
		DatabaseURL:       v.GetString("database.url"),
		RedisURL:          v.GetString("redis.url"),
		NATSURL:           v.GetString("nats.url"),
		JWTSecret:         v.GetString("jwt.secret"),
		AIProvider:        strings.ToLower(v.GetString("ai.provider")),
		OpenAIAPIKey:      v.GetString("openai_api_key"),
		OpenAIModel:       v.GetString("openai_model"),
		AnthropicAPIKey:   v.GetString("anthropic_api_key"),
		ExtractorURL:      v.GetString("extractor.url"),
		ExtractorTimeout:  extractorTimeout,
		LMSBaseURL:        v.GetString("lms.base_url"),
		LMSToken:          v.GetString("lms.token"),
		WorkerConcurrency: v.GetInt("worker.concurrency"),
		MaxRetries:        v.GetInt("retry.max_retries"),
		RetryBaseDelay:    baseDelay,
		RetryMaxDelay:     maxDelay,
		BreakerThreshold:  v.GetInt("retry.breaker_threshold"),
		DefaultStrictness: v.GetFloat64("grading.strictness"),
		PassingThreshold:  v.GetFloat64("grading.passing_threshold"),
		ReportCacheTTL:    cacheTTL,
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	switch cfg.AIProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return Config{}, fmt.Errorf("openai api key must be provided")
		}
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return Config{}, fmt.Errorf("anthropic api key must be provided")
		}
	default:
		return Config{}, fmt.Errorf("unknown ai provider %q", cfg.AIProvider)
	}

	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 5
	}

	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 3
	}

	if cfg.DefaultStrictness < 0 || cfg.DefaultStrictness > 1 {
		return Config{}, fmt.Errorf("strictness must be within [0,1]")
	}

	return cfg, nil
}
