package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/KafClaw/tallyclaw/internal/config"
	"github.com/KafClaw/tallyclaw/internal/timeline"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/KafClaw/tallyclaw/internal/cli.version=1.2.3"
	version = "0.3.0"
	logo    = "\n" +
		"  _        _ _            _\n" +
		" | |_ __ _| | |_  _   ___| | __ ___      __\n" +
		" | __/ _` | | | || | / __| |/ _` \\ \\ /\\ / /\n" +
		" | || (_| | | | || || (__| | (_| |\\ V  V /\n" +
		"  \\__\\__,_|_|_|\\_, | \\___|_|\\__,_| \\_/\\_/\n" +
		"               |__/\n"

	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:          "tallyclaw",
	Short:        "tallyclaw - chat check-in tracker",
	Long:         color.CyanString(logo) + "\nCounts check-ins per chat, tracks streaks and posts leaderboards.",
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "override log.level (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(topCmd)
	rootCmd.AddCommand(streakCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(jobsCmd)
}

// loadConfig loads and validates the configuration and installs the logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevelFlag != "" {
		cfg.Log.Level = logLevelFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	setupLogging(cfg.Log.Level)
	return cfg, nil
}

func setupLogging(level string) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(level)})
	slog.SetDefault(slog.New(handler))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openStore opens the event store configured in cfg, creating its directory.
func openStore(cfg *config.Config) (*timeline.TimelineService, error) {
	path := cfg.StoragePath()
	if err := config.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return timeline.NewTimelineService(path, timeline.WithDriver(cfg.Storage.Driver))
}
