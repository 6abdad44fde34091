package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/dictation-gateway/internal/assistant"
	"github.com/lexiqai/dictation-gateway/internal/config"
	"github.com/lexiqai/dictation-gateway/internal/gateway"
	"github.com/lexiqai/dictation-gateway/internal/observability"
	"github.com/lexiqai/dictation-gateway/internal/stt"
	"github.com/lexiqai/dictation-gateway/internal/tts"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("assistant_url", cfg.AssistantURL).
		Str("log_level", cfg.LogLevel).
		Bool("continuous", cfg.DictationContinuous).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Dictation Gateway Service starting")

	recognizer := stt.NewDeepgramRecognizer(cfg, logger)
	cartesia := tts.NewCartesiaClient(cfg, logger)

	assistantClient, err := assistant.NewClient(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create assistant client")
	}
	defer assistantClient.Close()

	deps := gateway.Deps{
		Recognizer: recognizer,
		NewPlayer: func(bus *tts.Bus) tts.Player {
			return tts.NewCartesiaPlayer(cartesia, bus, logger)
		},
	}

	// Cancelled on shutdown so open WebSocket sessions end; Shutdown does not
	// wait for hijacked connections.
	rootCtx, cancelSessions := context.WithCancel(context.Background())
	defer cancelSessions()

	if cfg.DictationProfilesFile != "" {
		watcher := config.NewProfileWatcher(cfg.DictationProfilesFile, cfg.Profiles, logger)
		deps.Profiles = watcher
		go func() {
			if err := watcher.Run(rootCtx); err != nil {
				logger.Warn().Err(err).Msg("Platform profiles will not be reloaded")
			}
		}()
	}

	// Create HTTP server
	mux := http.NewServeMux()

	// Register dictation WebSocket handler
	mux.HandleFunc("/streams/dictation", gateway.HandleDictationWS(cfg, deps))

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness endpoint
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"deepgram":  recognizer.Healthy,
		"cartesia":  cartesia.Healthy,
		"assistant": assistantClient.Healthy,
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// WebSocket connections are long-lived, so no read or write timeout is set
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return rootCtx
		},
	}

	endpoint := fmt.Sprintf("ws://localhost:%s/streams/dictation", cfg.Port)
	if cfg.GatewayURL != "" {
		endpoint = cfg.GatewayURL + "/streams/dictation"
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", endpoint).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")
	cancelSessions()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
