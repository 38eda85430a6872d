package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/clkernel/internal/platform"
	"github.com/cwbudde/clkernel/internal/server"
)

var (
	serveAddr          string
	serveDataDir       string
	serveStrictArgInfo bool
	serveJobTimeout    time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP inspection server",
	Long: `Starts an HTTP server that accepts OpenCL C sources as jobs, inspects them
against the manifest devices in the background and serves the results.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", "./data", "Data directory for reports and job events (empty disables persistence)")
	serveCmd.Flags().BoolVar(&serveStrictArgInfo, "strict-arg-info", false, "Drop argument names unless a job asks for -cl-kernel-arg-info")
	serveCmd.Flags().DurationVar(&serveJobTimeout, "job-timeout", time.Minute, "Maximum duration of a single job (0 = no limit)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	platforms, err := loadPlatforms()
	if err != nil {
		return err
	}

	cfg, err := server.NewConfig(serveAddr, serveDataDir, platform.Specs(platforms))
	if err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}
	cfg.StrictArgInfo = serveStrictArgInfo
	cfg.JobTimeout = serveJobTimeout

	srv, err := server.NewServer(cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
