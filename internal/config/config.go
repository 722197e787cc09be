// Package config provides configuration loading and validation for the
// Siteward services. It uses koanf to merge environment variables with
// optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the API server and workers.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// Service token authentication
	ServiceTokenSecret string `koanf:"service_token_secret"`

	// Blob storage (S3-compatible)
	BlobBucket          string `koanf:"blob_bucket"`
	BlobAccessKeyID     string `koanf:"blob_access_key_id"`
	BlobSecretAccessKey string `koanf:"blob_secret_access_key"`
	BlobEndpoint        string `koanf:"blob_endpoint"`
	BlobRegion          string `koanf:"blob_region"`

	// Export worker
	PollIntervalSeconds  int  `koanf:"poll_interval_seconds"`
	MaxConcurrentExports int  `koanf:"max_concurrent_exports"`
	RequireAtomicClaim   bool `koanf:"require_atomic_claim"`

	// Ledger root worker: UTC hour of day to compute daily roots
	RootHour int `koanf:"root_hour"`

	// Retention worker
	RetentionIntervalMinutes int `koanf:"retention_interval_minutes"`

	// Worker wake hook: URL the API calls to trigger an immediate export cycle
	WorkerWakeURL string `koanf:"worker_wake_url"`

	// Tracing
	TracingEnabled      bool    `koanf:"tracing_enabled"`
	TracingExporterType string  `koanf:"tracing_exporter_type"`
	TracingOTLPEndpoint string  `koanf:"tracing_otlp_endpoint"`
	TracingSamplingRate float64 `koanf:"tracing_sampling_rate"`
	TracingInsecure     bool    `koanf:"tracing_insecure"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL        = errors.New("DATABASE_URL is required")
	ErrMissingServiceTokenSecret = errors.New("SERVICE_TOKEN_SECRET is required")
	ErrMissingBlobBucket         = errors.New("BLOB_BUCKET is required")
	ErrMissingBlobAccessKeyID    = errors.New("BLOB_ACCESS_KEY_ID is required")
	ErrMissingBlobSecret         = errors.New("BLOB_SECRET_ACCESS_KEY is required")
	ErrMissingBlobEndpoint       = errors.New("BLOB_ENDPOINT is required")
	ErrInvalidPort               = errors.New("PORT must be a valid integer")
	ErrInvalidRootHour           = errors.New("ROOT_HOUR must be between 0 and 23")
	ErrInvalidSamplingRate       = errors.New("TRACING_SAMPLING_RATE must be between 0 and 1")
)

// Default values for non-secret configuration.
const (
	DefaultPort                     = 8080
	DefaultEnv                      = "development"
	DefaultPollIntervalSeconds      = 5
	DefaultMaxConcurrentExports     = 4
	DefaultRootHour                 = 2
	DefaultRetentionIntervalMinutes = 60
	DefaultBlobRegion               = "auto"
	DefaultTracingSamplingRate      = 0.1
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, portErr := getEnvIntOrDefault("PORT", k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}
	pollInterval, pollErr := getEnvIntOrDefault("POLL_INTERVAL_SECONDS", k.Int("poll_interval_seconds"), DefaultPollIntervalSeconds)
	if pollErr != nil {
		loadErrs = append(loadErrs, pollErr)
	}
	maxConcurrent, maxErr := getEnvIntOrDefault("MAX_CONCURRENT_EXPORTS", k.Int("max_concurrent_exports"), DefaultMaxConcurrentExports)
	if maxErr != nil {
		loadErrs = append(loadErrs, maxErr)
	}
	rootHour, rootErr := getEnvIntOrDefault("ROOT_HOUR", k.Int("root_hour"), DefaultRootHour)
	if rootErr != nil {
		loadErrs = append(loadErrs, rootErr)
	}
	retentionInterval, retErr := getEnvIntOrDefault("RETENTION_INTERVAL_MINUTES", k.Int("retention_interval_minutes"), DefaultRetentionIntervalMinutes)
	if retErr != nil {
		loadErrs = append(loadErrs, retErr)
	}
	samplingRate, samplingErr := getEnvFloatOrDefault("TRACING_SAMPLING_RATE", k.Float64("tracing_sampling_rate"), DefaultTracingSamplingRate)
	if samplingErr != nil {
		loadErrs = append(loadErrs, samplingErr)
	}

	cfg := &Config{
		Port:                port,
		Env:                 getEnvOrDefaultMulti([]string{"SITEWARD_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:         getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		ServiceTokenSecret:  getEnvOrKoanf("SERVICE_TOKEN_SECRET", k, "service_token_secret"),
		BlobBucket:          getEnvOrKoanf("BLOB_BUCKET", k, "blob_bucket"),
		BlobAccessKeyID:     getEnvOrKoanf("BLOB_ACCESS_KEY_ID", k, "blob_access_key_id"),
		BlobSecretAccessKey: getEnvOrKoanf("BLOB_SECRET_ACCESS_KEY", k, "blob_secret_access_key"),
		BlobEndpoint:        getEnvOrKoanf("BLOB_ENDPOINT", k, "blob_endpoint"),
		BlobRegion:          getEnvOrDefault("BLOB_REGION", k.String("blob_region"), DefaultBlobRegion),

		PollIntervalSeconds:  pollInterval,
		MaxConcurrentExports: maxConcurrent,
		RequireAtomicClaim:   getEnvBool("REQUIRE_ATOMIC_CLAIM", k, "require_atomic_claim", false),

		RootHour:                 rootHour,
		RetentionIntervalMinutes: retentionInterval,
		WorkerWakeURL:            getEnvOrKoanf("WORKER_WAKE_URL", k, "worker_wake_url"),

		TracingEnabled:      getEnvBool("TRACING_ENABLED", k, "tracing_enabled", false),
		TracingExporterType: getEnvOrDefault("TRACING_EXPORTER_TYPE", k.String("tracing_exporter_type"), "otlp-http"),
		TracingOTLPEndpoint: getEnvOrKoanf("TRACING_OTLP_ENDPOINT", k, "tracing_otlp_endpoint"),
		TracingSamplingRate: samplingRate,
		TracingInsecure:     getEnvBool("TRACING_INSECURE", k, "tracing_insecure", false),
	}

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvBool returns the environment variable as bool if set, otherwise the
// koanf value, or default. Env vars take precedence over file config.
func getEnvBool(envKey string, k *koanf.Koanf, koanfKey string, defaultVal bool) bool {
	result := defaultVal
	if k.Exists(koanfKey) {
		result = k.Bool(koanfKey)
	}
	if val := os.Getenv(envKey); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			result = true
		case "false", "0", "no", "off":
			result = false
		}
	}
	return result
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, ErrInvalidPort)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as a float.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.ServiceTokenSecret == "" {
		errs = append(errs, ErrMissingServiceTokenSecret)
	}
	if c.RootHour < 0 || c.RootHour > 23 {
		errs = append(errs, ErrInvalidRootHour)
	}
	if c.TracingSamplingRate < 0 || c.TracingSamplingRate > 1 {
		errs = append(errs, ErrInvalidSamplingRate)
	}

	// Blob configuration is required as a unit once any value is set.
	if c.BlobBucket != "" || c.BlobAccessKeyID != "" || c.BlobSecretAccessKey != "" || c.BlobEndpoint != "" {
		if c.BlobBucket == "" {
			errs = append(errs, ErrMissingBlobBucket)
		}
		if c.BlobAccessKeyID == "" {
			errs = append(errs, ErrMissingBlobAccessKeyID)
		}
		if c.BlobSecretAccessKey == "" {
			errs = append(errs, ErrMissingBlobSecret)
		}
		if c.BlobEndpoint == "" {
			errs = append(errs, ErrMissingBlobEndpoint)
		}
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                       fmt.Sprintf("%d", c.Port),
		"env":                        c.Env,
		"database_url":               maskDatabaseURL(c.DatabaseURL),
		"service_token_secret":       maskSecret(c.ServiceTokenSecret),
		"blob_bucket":                c.BlobBucket,
		"blob_access_key_id":         maskSecret(c.BlobAccessKeyID),
		"blob_secret_access_key":     maskSecret(c.BlobSecretAccessKey),
		"blob_endpoint":              c.BlobEndpoint,
		"blob_region":                c.BlobRegion,
		"poll_interval_seconds":      fmt.Sprintf("%d", c.PollIntervalSeconds),
		"max_concurrent_exports":     fmt.Sprintf("%d", c.MaxConcurrentExports),
		"require_atomic_claim":       fmt.Sprintf("%t", c.RequireAtomicClaim),
		"root_hour":                  fmt.Sprintf("%d", c.RootHour),
		"retention_interval_minutes": fmt.Sprintf("%d", c.RetentionIntervalMinutes),
		"worker_wake_url":            c.WorkerWakeURL,
		"tracing_enabled":            fmt.Sprintf("%t", c.TracingEnabled),
		"tracing_exporter_type":      c.TracingExporterType,
		"tracing_otlp_endpoint":      c.TracingOTLPEndpoint,
		"tracing_sampling_rate":      fmt.Sprintf("%g", c.TracingSamplingRate),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a database URL.
// Supports both postgres:// and postgresql:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
