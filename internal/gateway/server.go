// Package gateway accepts authenticated websocket connections and runs relay
// turns for each of them.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lexiqai/voice-relay/internal/auth"
	"github.com/lexiqai/voice-relay/internal/config"
	"github.com/lexiqai/voice-relay/internal/llm"
	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/lexiqai/voice-relay/internal/relay"
	"github.com/lexiqai/voice-relay/internal/stt"
	"github.com/lexiqai/voice-relay/internal/tts"
)

// Dependencies are the upstream clients shared by all connections.
type Dependencies struct {
	Transcriber stt.Transcriber
	Generator   llm.Generator
	Synthesizer tts.Synthesizer
}

// Options holds per-connection settings.
type Options struct {
	Relay           relay.Config
	HistoryMax      int
	MaxMessageBytes int64
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	OutboundBuffer  int
}

// OptionsFromConfig maps service configuration onto gateway options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Relay: relay.Config{
			SystemPrompt:   cfg.SystemPrompt,
			MaxTokens:      cfg.LLMMaxTokens,
			Temperature:    cfg.LLMTemperature,
			ChunkThreshold: cfg.ChunkThreshold,
			MaxInFlight:    cfg.TTSMaxInFlight,
		},
		HistoryMax:      cfg.HistoryMaxMessages,
		MaxMessageBytes: cfg.MaxMessageBytes,
		WriteTimeout:    time.Duration(cfg.WriteTimeout) * time.Second,
		PingInterval:    time.Duration(cfg.PingInterval) * time.Second,
		OutboundBuffer:  cfg.OutboundBuffer,
	}
}

func (o *Options) setDefaults() {
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 10 << 20
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 20 * time.Second
	}
	if o.OutboundBuffer <= 0 {
		o.OutboundBuffer = 256
	}
}

// Server is the websocket endpoint.
type Server struct {
	verifier *auth.Verifier
	deps     Dependencies
	opts     Options
	upgrader websocket.Upgrader

	ctx      context.Context
	stop     context.CancelFunc
	sessions sync.WaitGroup
}

// NewServer creates the websocket endpoint.
func NewServer(verifier *auth.Verifier, deps Dependencies, opts Options) *Server {
	opts.setDefaults()
	ctx, stop := context.WithCancel(context.Background())
	return &Server{
		verifier: verifier,
		deps:     deps,
		opts:     opts,
		upgrader: websocket.Upgrader{
			// Clients authenticate with a token, origin is not checked.
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		ctx:  ctx,
		stop: stop,
	}
}

// ServeHTTP verifies the token and upgrades the request. A request without a
// valid token gets 401 and no socket.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := observability.GetLogger()

	claims, err := s.verifier.VerifyRequest(r)
	if err != nil {
		reason := "invalid_token"
		if errors.Is(err, auth.ErrMissingToken) {
			reason = "missing_token"
		}
		observability.RecordAuthFailure(reason)
		logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Rejected websocket upgrade")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if s.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		logger.Error().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}

	s.sessions.Add(1)
	defer s.sessions.Done()

	session := newSession(conn, claims, s.deps, s.opts)
	session.run(s.ctx)
}

// Shutdown cancels every running turn, closes all connections and waits for
// them to finish or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
