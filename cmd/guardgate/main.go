// Package main is the entry point for the guardgate binary: a content-safety
// gateway that screens prompts and model responses through a pipeline of
// security scanners.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/guardgate/guardgate/pkg/cache"
	"github.com/guardgate/guardgate/pkg/config"
	"github.com/guardgate/guardgate/pkg/domain"
	"github.com/guardgate/guardgate/pkg/guard"
	"github.com/guardgate/guardgate/pkg/logging"
	"github.com/guardgate/guardgate/pkg/server"
	"github.com/guardgate/guardgate/pkg/telemetry"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "guardgate",
		Short: "Content-safety gateway for LLM traffic",
		Long: `guardgate screens prompts and model responses through a configurable
pipeline of security scanners (prompt injection, PII, secrets, toxicity and
more), aggregates their verdicts into one risk decision, and caches results.`,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("pretty", false, "Enable human-readable console logging")

	rootCmd.AddCommand(newServeCmd(), newCheckCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway HTTP server",
		RunE:  runServe,
	}
	cmd.Flags().String("listen", "", "Address to listen on (overrides config)")
	return cmd
}

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [content]",
		Short: "Run a one-shot security check and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runCheck,
	}
	cmd.Flags().String("content-type", "prompt", "Content type (prompt or response)")
	cmd.Flags().Float64("threshold", 0.6, "Risk threshold in [0,1]")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	logLevel, _ := cmd.Flags().GetString("log-level")
	pretty, _ := cmd.Flags().GetBool("pretty")
	listenOverride, _ := cmd.Flags().GetString("listen")

	logger := logging.NewLogger(logging.Config{Level: logLevel, Pretty: pretty})
	logger.Info("Starting guardgate", "config", configPath, "version", server.Version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel == "" {
		logger = logging.NewLogger(logging.Config{Level: cfg.Logging.Level, Pretty: pretty})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: "guardgate",
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		logger.Error("Failed to initialize telemetry", "error", err)
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error("Telemetry shutdown failed", "error", err)
		}
	}()

	var provider config.Provider
	if configPath != "" {
		fileProvider, err := config.NewFileProvider(configPath, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := fileProvider.Close(); err != nil {
				logger.Error("Failed to close config provider", "error", err)
			}
		}()
		provider = fileProvider
	} else {
		provider = config.NewStaticProvider(config.NewSnapshot(cfg, 1))
	}

	metrics := telemetry.NewMetrics()
	store := cache.NewMemoryStore(cfg.Cache.MaxEntries)
	service := guard.NewService(provider, store, logger, guard.WithMetrics(metrics))
	defer service.Close()

	addr := cfg.Server.Address
	if listenOverride != "" {
		addr = listenOverride
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.New(service, metrics, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		logger.Error("HTTP server failed", "error", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", "error", err)
		return err
	}

	logger.Info("guardgate stopped")
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	logLevel, _ := cmd.Flags().GetString("log-level")
	contentType, _ := cmd.Flags().GetString("content-type")
	threshold, _ := cmd.Flags().GetFloat64("threshold")

	logger := logging.NewLogger(logging.Config{Level: logLevel, Pretty: true})

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	provider := config.NewStaticProvider(config.NewSnapshot(cfg, 1))
	store := cache.NewMemoryStore(cfg.Cache.MaxEntries)
	service := guard.NewService(provider, store, logger)
	defer service.Close()

	result, err := service.Check(cmd.Context(), domain.ScanRequest{
		Content:       args[0],
		ContentType:   domain.ContentType(contentType),
		RiskThreshold: threshold,
	})
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}
