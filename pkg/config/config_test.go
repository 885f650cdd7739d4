package config

import (
	"strings"
	"testing"
	"time"
)

// MockEnvLoader implements EnvLoader for testing
type MockEnvLoader struct {
	vars map[string]string
}

func NewMockEnvLoader(vars map[string]string) *MockEnvLoader {
	return &MockEnvLoader{vars: vars}
}

func (m *MockEnvLoader) Getenv(key string) string {
	return m.vars[key]
}

func (m *MockEnvLoader) LookupEnv(key string) (string, bool) {
	val, exists := m.vars[key]
	return val, exists
}

func validEnvVars() map[string]string {
	return map[string]string{
		"FORGE_CLIENT_ID":           "client-id-123",
		"FORGE_CLIENT_SECRET":       "client-secret-456",
		"FORGE_ACCESS_TOKEN":        "three-legged-token",
		"BIM360_HUB_ID":             "b.hub",
		"BIM360_PROJECT_ID":         "b.project",
		"BIM360_ISSUE_CONTAINER_ID": "container-1",
	}
}

func TestConfig_LoadFromEnv_Success(t *testing.T) {
	loader := NewLoaderWithEnv(NewMockEnvLoader(validEnvVars()))

	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.ClientID != "client-id-123" {
		t.Errorf("ClientID = %q, want client-id-123", cfg.ClientID)
	}
	if cfg.IssueContainerID != "container-1" {
		t.Errorf("IssueContainerID = %q, want container-1", cfg.IssueContainerID)
	}

	// Defaults applied for everything unset
	if cfg.Region != DefaultRegion {
		t.Errorf("Region = %q, want default %q", cfg.Region, DefaultRegion)
	}
	if cfg.PageSize != DefaultPageSize {
		t.Errorf("PageSize = %d, want default %d", cfg.PageSize, DefaultPageSize)
	}
	if cfg.RateLimitDelay != DefaultRateLimitDelay {
		t.Errorf("RateLimitDelay = %v, want default %v", cfg.RateLimitDelay, DefaultRateLimitDelay)
	}
	if cfg.MaxConcurrentRequests != DefaultMaxConcurrentRequests {
		t.Errorf("MaxConcurrentRequests = %d, want default %d", cfg.MaxConcurrentRequests, DefaultMaxConcurrentRequests)
	}
	if cfg.LogLevel != DefaultLogLevel {
		t.Errorf("LogLevel = %q, want default %q", cfg.LogLevel, DefaultLogLevel)
	}
}

func TestConfig_LoadFromEnv_Overrides(t *testing.T) {
	vars := validEnvVars()
	vars["FORGE_REGION"] = "EMEA"
	vars["PAGE_SIZE"] = "64"
	vars["RATE_LIMIT_DELAY"] = "250ms"
	vars["MAX_CONCURRENT_REQUESTS"] = "2"
	vars["LOG_LEVEL"] = "debug"
	vars["BIM360_LOCATION_CONTAINER_ID"] = "loc-container"

	loader := NewLoaderWithEnv(NewMockEnvLoader(vars))
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Region != "EMEA" {
		t.Errorf("Region = %q, want EMEA", cfg.Region)
	}
	if cfg.PageSize != 64 {
		t.Errorf("PageSize = %d, want 64", cfg.PageSize)
	}
	if cfg.RateLimitDelay != 250*time.Millisecond {
		t.Errorf("RateLimitDelay = %v, want 250ms", cfg.RateLimitDelay)
	}
	if cfg.MaxConcurrentRequests != 2 {
		t.Errorf("MaxConcurrentRequests = %d, want 2", cfg.MaxConcurrentRequests)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.LocationContainerID != "loc-container" {
		t.Errorf("LocationContainerID = %q, want loc-container", cfg.LocationContainerID)
	}
}

func TestConfig_LoadFromEnv_MissingRequired(t *testing.T) {
	tests := []struct {
		name    string
		missing string
	}{
		{"missing client id", "FORGE_CLIENT_ID"},
		{"missing client secret", "FORGE_CLIENT_SECRET"},
		{"missing access token", "FORGE_ACCESS_TOKEN"},
		{"missing hub id", "BIM360_HUB_ID"},
		{"missing project id", "BIM360_PROJECT_ID"},
		{"missing issue container id", "BIM360_ISSUE_CONTAINER_ID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars := validEnvVars()
			delete(vars, tt.missing)

			loader := NewLoaderWithEnv(NewMockEnvLoader(vars))
			_, err := loader.Load()
			if err == nil {
				t.Fatal("Load should fail when a required variable is missing")
			}
			if !strings.Contains(err.Error(), tt.missing) {
				t.Errorf("error %q should mention %s", err.Error(), tt.missing)
			}
		})
	}
}

func TestConfig_LoadFromEnv_LocationContainerOptional(t *testing.T) {
	loader := NewLoaderWithEnv(NewMockEnvLoader(validEnvVars()))

	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load should succeed without a location container: %v", err)
	}
	if cfg.LocationContainerID != "" {
		t.Errorf("LocationContainerID = %q, want empty", cfg.LocationContainerID)
	}
}

func TestConfig_Validate_InvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]string)
		want   string
	}{
		{
			"invalid region",
			func(vars map[string]string) { vars["FORGE_REGION"] = "MARS" },
			"FORGE_REGION",
		},
		{
			"invalid log level",
			func(vars map[string]string) { vars["LOG_LEVEL"] = "verbose" },
			"LOG_LEVEL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars := validEnvVars()
			tt.mutate(vars)

			loader := NewLoaderWithEnv(NewMockEnvLoader(vars))
			_, err := loader.Load()
			if err == nil {
				t.Fatal("Load should fail for invalid values")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %s", err.Error(), tt.want)
			}
		})
	}
}

func TestConfig_Validate_CollectsAllErrors(t *testing.T) {
	loader := NewLoaderWithEnv(NewMockEnvLoader(map[string]string{}))

	_, err := loader.Load()
	if err == nil {
		t.Fatal("Load should fail with empty environment")
	}

	// Every missing required field shows up in one report
	for _, field := range []string{
		"FORGE_CLIENT_ID", "FORGE_CLIENT_SECRET", "FORGE_ACCESS_TOKEN",
		"BIM360_HUB_ID", "BIM360_PROJECT_ID", "BIM360_ISSUE_CONTAINER_ID",
	} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error should mention %s, got %q", field, err.Error())
		}
	}
}

func TestConfig_MalformedNumericValues_FallBackToDefaults(t *testing.T) {
	vars := validEnvVars()
	vars["PAGE_SIZE"] = "lots"
	vars["RATE_LIMIT_DELAY"] = "soon"

	loader := NewLoaderWithEnv(NewMockEnvLoader(vars))
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.PageSize != DefaultPageSize {
		t.Errorf("PageSize = %d, want default %d", cfg.PageSize, DefaultPageSize)
	}
	if cfg.RateLimitDelay != DefaultRateLimitDelay {
		t.Errorf("RateLimitDelay = %v, want default %v", cfg.RateLimitDelay, DefaultRateLimitDelay)
	}
}
