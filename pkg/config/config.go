package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents the application configuration
type Config struct {
	// Forge app credentials (app-context, two-legged calls)
	ClientID     string `env:"FORGE_CLIENT_ID" yaml:"client_id"`
	ClientSecret string `env:"FORGE_CLIENT_SECRET" yaml:"client_secret"`

	// Three-legged access token for requests requiring user context
	AccessToken string `env:"FORGE_ACCESS_TOKEN" yaml:"three_legged_token"`

	// Forge region ("US" or "EMEA")
	Region string `env:"FORGE_REGION" yaml:"region"`

	// BIM360 identifiers
	HubID               string `env:"BIM360_HUB_ID" yaml:"hub_id"`
	ProjectID           string `env:"BIM360_PROJECT_ID" yaml:"project_id"`
	IssueContainerID    string `env:"BIM360_ISSUE_CONTAINER_ID" yaml:"issue_container_id"`
	LocationContainerID string `env:"BIM360_LOCATION_CONTAINER_ID" yaml:"location_container_id"`

	// Paging and rate limiting
	PageSize              int           `env:"PAGE_SIZE" yaml:"page_size"`
	RateLimitDelay        time.Duration `env:"RATE_LIMIT_DELAY" yaml:"rate_limit_delay"`
	MaxConcurrentRequests int           `env:"MAX_CONCURRENT_REQUESTS" yaml:"max_concurrent_requests"`

	// Application configuration
	LogLevel string `env:"LOG_LEVEL" yaml:"log_level"`
}

// Defaults applied by every loader before validation.
const (
	DefaultRegion                = "US"
	DefaultPageSize              = 128
	DefaultRateLimitDelay        = 100 * time.Millisecond
	DefaultMaxConcurrentRequests = 5
	DefaultLogLevel              = "info"
)

// Provider defines the interface for configuration management
// This enables dependency injection and easy testing
type Provider interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// EnvLoader defines interface for environment variable loading
// This allows for testing with mock environment variables
type EnvLoader interface {
	Getenv(key string) string
	LookupEnv(key string) (string, bool)
}

// OSEnvLoader implements EnvLoader using os package
type OSEnvLoader struct{}

func (o *OSEnvLoader) Getenv(key string) string {
	return os.Getenv(key)
}

func (o *OSEnvLoader) LookupEnv(key string) (string, bool) {
	return os.LookupEnv(key)
}

// Loader implements the Provider interface over environment variables
type Loader struct {
	envLoader EnvLoader
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{envLoader: &OSEnvLoader{}}
}

// NewLoaderWithEnv creates a loader with custom environment loader (for testing)
func NewLoaderWithEnv(envLoader EnvLoader) *Loader {
	return &Loader{envLoader: envLoader}
}

// Load loads configuration from environment variables
func (l *Loader) Load() (*Config, error) {
	config := &Config{
		ClientID:            l.envLoader.Getenv("FORGE_CLIENT_ID"),
		ClientSecret:        l.envLoader.Getenv("FORGE_CLIENT_SECRET"),
		AccessToken:         l.envLoader.Getenv("FORGE_ACCESS_TOKEN"),
		Region:              l.getEnvWithDefault("FORGE_REGION", DefaultRegion),
		HubID:               l.envLoader.Getenv("BIM360_HUB_ID"),
		ProjectID:           l.envLoader.Getenv("BIM360_PROJECT_ID"),
		IssueContainerID:    l.envLoader.Getenv("BIM360_ISSUE_CONTAINER_ID"),
		LocationContainerID: l.envLoader.Getenv("BIM360_LOCATION_CONTAINER_ID"),

		PageSize:              l.getIntWithDefault("PAGE_SIZE", DefaultPageSize),
		RateLimitDelay:        l.getDurationWithDefault("RATE_LIMIT_DELAY", DefaultRateLimitDelay),
		MaxConcurrentRequests: l.getIntWithDefault("MAX_CONCURRENT_REQUESTS", DefaultMaxConcurrentRequests),

		LogLevel: l.getEnvWithDefault("LOG_LEVEL", DefaultLogLevel),
	}

	if err := l.Validate(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (l *Loader) Validate(config *Config) error {
	var errors []string

	if config.ClientID == "" {
		errors = append(errors, "FORGE_CLIENT_ID is required")
	}
	if config.ClientSecret == "" {
		errors = append(errors, "FORGE_CLIENT_SECRET is required")
	}
	if config.AccessToken == "" {
		errors = append(errors, "FORGE_ACCESS_TOKEN is required")
	}

	if config.Region != "US" && config.Region != "EMEA" {
		errors = append(errors, fmt.Sprintf("FORGE_REGION must be US or EMEA, got %q", config.Region))
	}

	if config.HubID == "" {
		errors = append(errors, "BIM360_HUB_ID is required")
	}
	if config.ProjectID == "" {
		errors = append(errors, "BIM360_PROJECT_ID is required")
	}
	if config.IssueContainerID == "" {
		errors = append(errors, "BIM360_ISSUE_CONTAINER_ID is required")
	}
	// LocationContainerID stays optional: the locations feature may not be
	// enabled for the project at all.

	if config.PageSize < 1 {
		errors = append(errors, "PAGE_SIZE must be at least 1")
	}
	if config.RateLimitDelay < 0 {
		errors = append(errors, "RATE_LIMIT_DELAY must be non-negative")
	}
	if config.MaxConcurrentRequests < 1 {
		errors = append(errors, "MAX_CONCURRENT_REQUESTS must be at least 1")
	}

	if err := validateLogLevel(config.LogLevel); err != nil {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL is invalid: %v", err))
	}

	if len(errors) > 0 {
		return &ValidationError{Errors: errors}
	}

	return nil
}

// ValidationError represents configuration validation errors
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Helper methods

func (l *Loader) getEnvWithDefault(key, defaultValue string) string {
	if value := l.envLoader.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (l *Loader) getIntWithDefault(key string, defaultValue int) int {
	valueStr := l.envLoader.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}

	return defaultValue
}

func (l *Loader) getDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	valueStr := l.envLoader.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}

	return defaultValue
}

func validateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("must be one of: %s", strings.Join(validLevels, ", "))
}
