package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// DotEnvLoader implements Provider with .env file support
type DotEnvLoader struct {
	*Loader
	envFiles []string
}

// NewDotEnvLoader creates a new configuration loader with .env file support
func NewDotEnvLoader(envFiles ...string) *DotEnvLoader {
	// Default to .env file in current directory if none specified
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}

	return &DotEnvLoader{
		Loader:   &Loader{envLoader: &OSEnvLoader{}},
		envFiles: envFiles,
	}
}

// Load loads configuration from .env file(s) and environment variables
func (d *DotEnvLoader) Load() (*Config, error) {
	existingFiles := []string{}
	for _, envFile := range d.envFiles {
		if _, err := os.Stat(envFile); err == nil {
			existingFiles = append(existingFiles, envFile)
		}
	}

	// Load all existing files at once - godotenv.Overload ensures the .env
	// files override any existing environment variables
	if len(existingFiles) > 0 {
		if err := godotenv.Overload(existingFiles...); err != nil {
			path := existingFiles[0]
			if len(existingFiles) > 1 {
				path = "multiple files: " + strings.Join(existingFiles, ", ")
			}
			return nil, &EnvFileError{FilePath: path, Err: err}
		}
	}

	return d.Loader.Load()
}

// EnvFileError represents an error loading a .env file
type EnvFileError struct {
	FilePath string
	Err      error
}

func (e *EnvFileError) Error() string {
	return "failed to load .env file '" + e.FilePath + "': " + e.Err.Error()
}

func (e *EnvFileError) Unwrap() error {
	return e.Err
}
