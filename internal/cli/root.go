package cli

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/spf13/cobra"

	"github.com/petrbroz/bim360-issue-editor/pkg/config"
)

// BuildInfo contains build-time information
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

var buildInfo BuildInfo

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bim360-sync",
	Short: "Edit BIM360 construction issues through XLSX spreadsheets",
	Long: `BIM360 Issue Editor - export construction issues into an XLSX workbook,
edit them in any spreadsheet application, and import the changes back.

The exported workbook carries dropdowns and locked columns so edits stay
within what the issues service accepts; the importer compares every row
against the current server state and only submits real changes.`,
	Version: buildInfo.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(info BuildInfo) error {
	buildInfo = info
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", info.Version, info.Commit, info.Date)
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file (environment variables used otherwise)")
	rootCmd.PersistentFlags().String("env-file", "", "Path to a .env file to load before reading the environment")
	rootCmd.PersistentFlags().Duration("rate-limit", 0, "Minimum delay between API requests; overrides RATE_LIMIT_DELAY")
}

// loadConfig resolves configuration for a command: an explicit YAML file wins,
// then a .env file, then plain environment variables. The --log-level and
// --rate-limit flags override whatever the configuration said.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")

	var provider config.Provider
	switch {
	case configPath != "":
		provider = config.NewFileLoader(configPath)
	case envFile != "":
		provider = config.NewDotEnvLoader(envFile)
	default:
		provider = config.NewDotEnvLoader()
	}

	cfg, err := provider.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	if cmd.Flags().Changed("rate-limit") {
		cfg.RateLimitDelay, _ = cmd.Flags().GetDuration("rate-limit")
	}
	return cfg, nil
}

// newLogger builds the logger all components share. Verbosity 1 messages
// (per-page fetch traces) only show at debug level.
func newLogger(logLevel string) logr.Logger {
	verbosity := 0
	if logLevel == "debug" {
		verbosity = 1
	}
	return funcr.New(func(prefix, args string) {
		if prefix != "" {
			fmt.Fprintf(os.Stderr, "%s: %s\n", prefix, args)
		} else {
			fmt.Fprintln(os.Stderr, args)
		}
	}, funcr.Options{Verbosity: verbosity})
}
