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

	"github.com/lexiqai/voice-relay/internal/auth"
	"github.com/lexiqai/voice-relay/internal/config"
	"github.com/lexiqai/voice-relay/internal/gateway"
	"github.com/lexiqai/voice-relay/internal/llm"
	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/lexiqai/voice-relay/internal/stt"
	"github.com/lexiqai/voice-relay/internal/tts"
)

type healthChecker interface {
	HealthCheck(ctx context.Context) (bool, error)
}

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
		Str("stt_provider", cfg.STTProvider).
		Str("llm_model", cfg.GroqModel).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice Relay Service starting")

	verifier, err := auth.NewVerifier(cfg.JWTSecret,
		auth.WithIssuer(cfg.JWTIssuer),
		auth.WithLeeway(time.Duration(cfg.JWTLeeway)*time.Second),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create token verifier")
	}

	// Upstream clients are shared by all connections
	var transcriber interface {
		stt.Transcriber
		healthChecker
	}
	switch cfg.STTProvider {
	case config.STTProviderGroq:
		transcriber = stt.NewWhisperClient(cfg)
	default:
		transcriber = stt.NewDeepgramClient(cfg)
	}
	generator := llm.NewGroqClient(cfg)
	synthesizer := tts.NewCartesiaClient(cfg)

	checks := map[string]observability.HealthCheckFunc{
		"stt": transcriber.HealthCheck,
		"llm": generator.HealthCheck,
		"tts": synthesizer.HealthCheck,
	}

	relayServer := gateway.NewServer(verifier, gateway.Dependencies{
		Transcriber: transcriber,
		Generator:   generator,
		Synthesizer: synthesizer,
	}, gateway.OptionsFromConfig(cfg))

	// Create HTTP server
	mux := http.NewServeMux()
	mux.Handle("/ws", relayServer)
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// No write timeout: websocket connections outlive any single request
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var grpcHealth *observability.GRPCHealthServer
	if cfg.GRPCHealthPort != "" {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCHealthPort))
		if err != nil {
			logger.Fatal().Err(err).Str("port", cfg.GRPCHealthPort).Msg("Failed to listen for gRPC health")
		}
		grpcHealth = observability.NewGRPCHealthServer(checks, 10*time.Second)
		go func() {
			logger.Info().Str("port", cfg.GRPCHealthPort).Msg("gRPC health server listening")
			if err := grpcHealth.Serve(ctx, lis); err != nil {
				logger.Error().Err(err).Msg("gRPC health server stopped")
			}
		}()
	}

	// Start server in a goroutine
	go func() {
		endpoint := cfg.PublicURL
		if endpoint == "" {
			endpoint = fmt.Sprintf("ws://localhost:%s/ws", cfg.Port)
		}
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
	stop()
	if grpcHealth != nil {
		grpcHealth.Stop()
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server forced to shutdown")
	}
	if err := relayServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Connections did not close in time")
	}

	logger.Info().Msg("Server exited gracefully")
}
