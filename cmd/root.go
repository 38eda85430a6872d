package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cwbudde/clkernel/internal/cl"
	"github.com/cwbudde/clkernel/internal/platform"
)

var (
	logLevel     string
	manifestPath string
	logger       *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "clkernel",
	Short: "Inspect OpenCL kernels and their work-group limits",
	Long: `clkernel builds OpenCL C programs against simulated or real devices and
reports every kernel object query: names, arguments, qualifiers and
device-specific work-group sizing.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		opts := &slog.HandlerOptions{Level: parseLevel(logLevel)}
		handler := slog.NewJSONHandler(os.Stderr, opts)
		logger = slog.New(handler)
		slog.SetDefault(logger)
		cl.SetLogger(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&manifestPath, "manifest", "", "HCL device manifest (default: built-in simulator)")
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadPlatforms returns the manifest platforms, or the built-in simulator
// when no manifest is given.
func loadPlatforms() ([]platform.PlatformInfo, error) {
	if manifestPath == "" {
		return platform.DefaultPlatforms(), nil
	}
	platforms, err := platform.LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	if len(platforms) == 0 {
		return nil, fmt.Errorf("manifest %s declares no platforms", manifestPath)
	}
	return platforms, nil
}
