// Package main wires the image generation router: configuration, logging,
// the history store, the provider registry with reachability probes, the
// routing engine, and the HTTP surface.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"imagerouter/bfl"
	"imagerouter/comfyui"
	"imagerouter/core"
	"imagerouter/db"
	"imagerouter/imageref"
	"imagerouter/logging"
	"imagerouter/openaiimg"
	"imagerouter/provider"
	"imagerouter/webapi"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// Use fmt here since logger isn't initialized yet
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	config, err := core.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(config.IsDevelopment, config.LogFilePath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Printf("Failed to sync logger: %v\n", syncErr)
		}
	}()

	logger.Info("Configuration loaded",
		zap.String("comfyui_server", config.ComfyUIServer),
		zap.String("workflow_dir", config.ComfyUIWorkflowDir),
		zap.Bool("flux_configured", config.FluxAPIKey != ""),
		zap.Bool("openai_configured", config.OpenAIAPIKey != ""),
		zap.String("routing_rules", config.RoutingRulesPath),
		zap.Duration("poll_interval", config.PollInterval),
		zap.Duration("wait_timeout", config.WaitTimeout),
		zap.Int("port", config.Port),
		zap.Bool("dev_mode", config.IsDevelopment),
	)

	conn, err := db.NewSQLiteConnectionWithDefaults(config.DBPath)
	if err != nil {
		logger.Fatal("Failed to open history database", zap.Error(err))
	}
	defer conn.Close()
	if err := db.MigrateUp(conn, config.MigrationsPath); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	repo := db.NewRepository(conn)

	registry := buildRegistry(config, logger)
	if registry.Len() == 0 {
		logger.Warn("No providers available; every generation request will fail")
	}

	rules, err := provider.LoadRoutingRules(config.RoutingRulesPath)
	if err != nil {
		logger.Fatal("Failed to load routing rules", zap.Error(err))
	}
	if len(config.FallbackChain) > 0 {
		logger.Info("Fallback chain overridden from environment",
			zap.Strings("chain", config.FallbackChain))
		rules.FallbackChain = config.FallbackChain
	}

	router := provider.NewRouter(registry, rules, logger)
	handler := webapi.NewHandler(router, repo, logger)
	engine := webapi.NewEngine(handler, config.IsDevelopment)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Port),
		Handler: engine,
	}

	printBanner(config, registry)

	go func() {
		logger.Info("HTTP server listening", zap.Int("port", config.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("Received interrupt signal. Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	logger.Info("Goodbye!")
}

// buildRegistry probes and registers each configured provider. A provider
// that fails its probe or lacks credentials is skipped with a log line,
// never an error: routing degrades to whatever remains.
func buildRegistry(config *core.Config, logger *logging.Logger) *provider.Registry {
	registry := provider.NewRegistry()

	// ComfyUI: registered only when the local server answers a probe.
	client := comfyui.NewClient(
		config.ComfyUIServer,
		config.ComfyUIClientID,
		core.GetHTTPClient(config, 30*time.Second),
		config.ProbeTimeout,
		logger,
	)
	probeCtx, cancel := context.WithTimeout(context.Background(), config.ProbeTimeout)
	reachable := client.Probe(probeCtx)
	cancel()
	if reachable {
		waiter := comfyui.NewWaiter(client, comfyui.WaiterConfig{
			PollInterval: config.PollInterval,
			Timeout:      config.WaitTimeout,
		}, logger)
		normalizer := imageref.NewNormalizer(
			core.GetHTTPClient(config, 30*time.Second), config.MaxRefImageDim, logger)

		adapter, err := comfyui.NewAdapter(client, waiter, normalizer, config.ComfyUIWorkflowDir, logger)
		if err != nil {
			logger.Error("Failed to build ComfyUI adapter", zap.Error(err))
		} else {
			registry.Register(adapter)
			logger.Info("Registered provider", zap.String("provider", adapter.Name()))
		}
	} else {
		logger.Warn("ComfyUI server unreachable, provider skipped",
			zap.String("server", config.ComfyUIServer))
	}

	// Hosted Flux: credential presence is the availability signal.
	if config.FluxAPIKey != "" {
		fluxClient, err := bfl.NewClient(bfl.ClientConfig{
			APIKey:       config.FluxAPIKey,
			BaseURL:      config.FluxBaseURL,
			PollInterval: config.PollInterval,
			PollTimeout:  config.FluxTimeout,
			HTTPClient:   core.GetHTTPClient(config, 30*time.Second),
		}, logger)
		if err != nil {
			logger.Error("Failed to build Flux client", zap.Error(err))
		} else {
			adapter := bfl.NewAdapter(fluxClient, config.FluxModel, logger)
			registry.Register(adapter)
			logger.Info("Registered provider", zap.String("provider", adapter.Name()))
		}
	} else {
		logger.Info("FLUX_API_KEY not set, provider skipped")
	}

	// OpenAI Images: same credential-presence rule.
	if config.OpenAIAPIKey != "" {
		adapter, err := openaiimg.NewAdapter(
			config.OpenAIAPIKey, config.OpenAIBaseURL, config.OpenAIImageModel, logger)
		if err != nil {
			logger.Error("Failed to build OpenAI adapter", zap.Error(err))
		} else {
			registry.Register(adapter)
			logger.Info("Registered provider", zap.String("provider", adapter.Name()))
		}
	} else {
		logger.Info("OPENAI_API_KEY not set, provider skipped")
	}

	return registry
}

// printBanner writes the startup summary to the console.
func printBanner(config *core.Config, registry *provider.Registry) {
	header := color.New(color.FgCyan, color.Bold)
	ok := color.New(color.FgGreen)
	off := color.New(color.FgHiBlack)

	header.Println("Image Generation Router")
	fmt.Printf("  Listening on :%d\n", config.Port)

	names := map[string]bool{}
	for _, name := range registry.Names() {
		names[name] = true
	}
	for _, name := range []string{"comfyui", "flux", "openai"} {
		if names[name] {
			ok.Printf("  %-8s available\n", name)
		} else {
			off.Printf("  %-8s unavailable\n", name)
		}
	}
}
