package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/kozaktomas/face-guard/internal/config"
	"github.com/kozaktomas/face-guard/internal/logger"
	"github.com/spf13/cobra"
)

var (
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "face-guard",
	Short: "Continuous face verification against a trusted reference photo",
	Long: `Face Guard verifies that the person in front of the camera is the signed-in user
and keeps verifying while they work. It compares live camera frames with a
reference photo, raises alerts when nobody or somebody else is in view, and
records every evaluated frame in PostgreSQL for auditing.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: json or text (overrides LOG_FORMAT)")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// loadConfig reads the configuration and installs the configured logger.
// Logs go to stderr so command output on stdout stays machine readable.
func loadConfig() (*config.Config, *slog.Logger) {
	cfg := config.Load()
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	return cfg, logger.SetupDefault(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
}
