package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	// OpenAI-compatible image edit provider
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIModel     string
	OpenAIImageSize string
	EnhancePrompt   string
	EnhanceTimeout  time.Duration

	// Supabase
	SupabaseURL            string
	SupabasePublishableKey string
	SupabaseJWTSecret      string
	SupabaseStorageBucket  string
	SupabaseJobsTable      string

	// Database
	DatabaseDriver string
	DatabaseURL    string

	// Object storage for originals and results: "supabase", "s3" or "none"
	StorageBackend    string
	S3Endpoint        string
	S3Region          string
	S3Bucket          string
	S3AccessKeyID     string
	S3SecretAccessKey string

	// Credit ledger
	LockTTL             time.Duration
	ReclaimInterval     time.Duration
	BillDegradedResults bool

	// Server
	Port             string
	Environment      string
	LogLevel         string
	MaxUploadBytes   int64
	CORSAllowOrigins []string
	TrialClaimRate   float64
	TrialClaimBurst  int
}

var defaults = map[string]any{
	"OPENAI_API_KEY":    "",
	"OPENAI_BASE_URL":   "https://api.openai.com/v1/",
	"OPENAI_MODEL":      "gpt-image-1",
	"OPENAI_IMAGE_SIZE": "1024x1024",
	"ENHANCE_PROMPT":    "",
	"ENHANCE_TIMEOUT":   "60s",

	"SUPABASE_URL":             "",
	"SUPABASE_PUBLISHABLE_KEY": "",
	"SUPABASE_JWT_SECRET":      "",
	"SUPABASE_STORAGE_BUCKET":  "images",
	"SUPABASE_JOBS_TABLE":      "enhancement_jobs",

	"DATABASE_DRIVER": "postgres",
	"DATABASE_URL":    "",

	"STORAGE_BACKEND":      "supabase",
	"S3_ENDPOINT":          "",
	"S3_REGION":            "us-east-1",
	"S3_BUCKET":            "",
	"S3_ACCESS_KEY_ID":     "",
	"S3_SECRET_ACCESS_KEY": "",

	"LOCK_TTL":              "5m",
	"RECLAIM_INTERVAL":      "1m",
	"BILL_DEGRADED_RESULTS": true,

	"PORT":               "8080",
	"ENVIRONMENT":        "development",
	"LOG_LEVEL":          "info",
	"MAX_UPLOAD_BYTES":   10 << 20,
	"CORS_ALLOW_ORIGINS": "*",
	"TRIAL_CLAIM_RATE":   0.2,
	"TRIAL_CLAIM_BURST":  5,
}

// Load reads the configuration and validates it for the API server.
func Load() (*Config, error) {
	cfg, err := Read()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Read loads defaults, an optional YAML file named by CONFIG_FILE and the
// environment, without validating the result.
func Read() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	cfg := &Config{
		OpenAIAPIKey:    v.GetString("OPENAI_API_KEY"),
		OpenAIBaseURL:   v.GetString("OPENAI_BASE_URL"),
		OpenAIModel:     v.GetString("OPENAI_MODEL"),
		OpenAIImageSize: v.GetString("OPENAI_IMAGE_SIZE"),
		EnhancePrompt:   v.GetString("ENHANCE_PROMPT"),
		EnhanceTimeout:  v.GetDuration("ENHANCE_TIMEOUT"),

		SupabaseURL:            v.GetString("SUPABASE_URL"),
		SupabasePublishableKey: v.GetString("SUPABASE_PUBLISHABLE_KEY"),
		SupabaseJWTSecret:      v.GetString("SUPABASE_JWT_SECRET"),
		SupabaseStorageBucket:  v.GetString("SUPABASE_STORAGE_BUCKET"),
		SupabaseJobsTable:      v.GetString("SUPABASE_JOBS_TABLE"),

		DatabaseDriver: strings.ToLower(v.GetString("DATABASE_DRIVER")),
		DatabaseURL:    v.GetString("DATABASE_URL"),

		StorageBackend:    strings.ToLower(v.GetString("STORAGE_BACKEND")),
		S3Endpoint:        v.GetString("S3_ENDPOINT"),
		S3Region:          v.GetString("S3_REGION"),
		S3Bucket:          v.GetString("S3_BUCKET"),
		S3AccessKeyID:     v.GetString("S3_ACCESS_KEY_ID"),
		S3SecretAccessKey: v.GetString("S3_SECRET_ACCESS_KEY"),

		LockTTL:             v.GetDuration("LOCK_TTL"),
		ReclaimInterval:     v.GetDuration("RECLAIM_INTERVAL"),
		BillDegradedResults: v.GetBool("BILL_DEGRADED_RESULTS"),

		Port:             v.GetString("PORT"),
		Environment:      v.GetString("ENVIRONMENT"),
		LogLevel:         v.GetString("LOG_LEVEL"),
		MaxUploadBytes:   v.GetInt64("MAX_UPLOAD_BYTES"),
		CORSAllowOrigins: splitList(v.GetString("CORS_ALLOW_ORIGINS")),
		TrialClaimRate:   v.GetFloat64("TRIAL_CLAIM_RATE"),
		TrialClaimBurst:  v.GetInt("TRIAL_CLAIM_BURST"),
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.SupabaseJWTSecret == "" {
		return fmt.Errorf("SUPABASE_JWT_SECRET is required")
	}
	if c.EnhanceTimeout <= 0 {
		return fmt.Errorf("ENHANCE_TIMEOUT must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}

	switch c.StorageBackend {
	case "none":
	case "supabase":
		if c.SupabaseURL == "" || c.SupabasePublishableKey == "" {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_PUBLISHABLE_KEY are required for the supabase storage backend")
		}
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 storage backend")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND %q", c.StorageBackend)
	}

	return c.ValidateLedger()
}

// ValidateLedger checks only what is needed to open the credit ledger.
func (c *Config) ValidateLedger() error {
	switch c.DatabaseDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres driver")
		}
	case "sqlite":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}

	// The lease must outlive the provider call it protects.
	if c.LockTTL <= c.EnhanceTimeout {
		return fmt.Errorf("LOCK_TTL (%s) must be longer than ENHANCE_TIMEOUT (%s)", c.LockTTL, c.EnhanceTimeout)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
