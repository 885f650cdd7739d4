package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileLoader implements Provider over a YAML configuration file, matching the
// config file the command-line tools accept. Values missing from the file fall
// back to environment variables and then to defaults.
type FileLoader struct {
	*Loader
	path string
}

// NewFileLoader creates a configuration loader reading the given YAML file.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{
		Loader: &Loader{envLoader: &OSEnvLoader{}},
		path:   path,
	}
}

// Load reads the YAML file, fills unset fields from the environment, applies
// defaults and validates the result.
func (f *FileLoader) Load() (*Config, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", f.path, err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", f.path, err)
	}

	fromEnv, err := f.Loader.Load()
	if err != nil {
		// Environment alone may be incomplete; only the merged result has to
		// validate.
		fromEnv = nil
	}
	f.merge(config, fromEnv)

	if err := f.Validate(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func (f *FileLoader) merge(config, fromEnv *Config) {
	if fromEnv != nil {
		if config.ClientID == "" {
			config.ClientID = fromEnv.ClientID
		}
		if config.ClientSecret == "" {
			config.ClientSecret = fromEnv.ClientSecret
		}
		if config.AccessToken == "" {
			config.AccessToken = fromEnv.AccessToken
		}
		if config.Region == "" {
			config.Region = fromEnv.Region
		}
		if config.HubID == "" {
			config.HubID = fromEnv.HubID
		}
		if config.ProjectID == "" {
			config.ProjectID = fromEnv.ProjectID
		}
		if config.IssueContainerID == "" {
			config.IssueContainerID = fromEnv.IssueContainerID
		}
		if config.LocationContainerID == "" {
			config.LocationContainerID = fromEnv.LocationContainerID
		}
	}
	if config.Region == "" {
		config.Region = DefaultRegion
	}
	if config.PageSize == 0 {
		config.PageSize = DefaultPageSize
	}
	if config.RateLimitDelay == 0 {
		config.RateLimitDelay = DefaultRateLimitDelay
	}
	if config.MaxConcurrentRequests == 0 {
		config.MaxConcurrentRequests = DefaultMaxConcurrentRequests
	}
	if config.LogLevel == "" {
		config.LogLevel = DefaultLogLevel
	}
}
