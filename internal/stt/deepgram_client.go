package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog/log"

	"github.com/lexiqai/voice-relay/internal/config"
	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/lexiqai/voice-relay/internal/resilience"
)

// DeepgramClient transcribes whole recordings with Deepgram's pre-recorded API
type DeepgramClient struct {
	client   *api.Client
	model    string
	language string
	timeout  time.Duration
	guard    *resilience.Guard
}

// NewDeepgramClient creates a new Deepgram pre-recorded client
func NewDeepgramClient(cfg *config.Config) *DeepgramClient {
	listenClient.InitWithDefault()

	rest := listenClient.NewREST(cfg.DeepgramAPIKey, &interfaces.ClientOptions{})
	guard := resilience.NewGuard("deepgram", cfg.GuardConfig())
	observability.TrackBreaker(guard.Breaker)

	return &DeepgramClient{
		client:   api.New(rest),
		model:    cfg.DeepgramModel,
		language: cfg.STTLanguage,
		timeout:  cfg.UpstreamTimeoutDuration(),
		guard:    guard,
	}
}

// Transcribe sends audio (any container Deepgram can sniff) and returns the
// best transcript of the first channel.
func (d *DeepgramClient) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", ErrNoAudio
	}

	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       d.model,
		Language:    d.language,
		Punctuate:   true,
		SmartFormat: true,
	}

	text, err := guarded(ctx, d.guard, d.timeout, func(ctx context.Context) (string, error) {
		res, err := d.client.FromStream(ctx, bytes.NewReader(audio), options)
		if err != nil {
			return "", fmt.Errorf("deepgram transcription failed: %w", err)
		}
		return transcriptFromResponse(res)
	})
	if err != nil {
		return "", err
	}

	log.Debug().Int("audio_bytes", len(audio)).Int("chars", len(text)).Msg("Deepgram transcription complete")
	return text, nil
}

// HealthCheck reports whether requests are currently allowed through.
func (d *DeepgramClient) HealthCheck(ctx context.Context) (bool, error) {
	return d.guard.Healthy(ctx)
}

// deepgramResult is the part of the pre-recorded response the relay reads.
type deepgramResult struct {
	Results *struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// transcriptFromResponse extracts the first alternative of the first channel.
// The SDK response nests optional pointers, so only the needed fields are decoded.
func transcriptFromResponse(res any) (string, error) {
	raw, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("failed to read deepgram response: %w", err)
	}
	var parsed deepgramResult
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("failed to read deepgram response: %w", err)
	}
	if parsed.Results == nil || len(parsed.Results.Channels) == 0 || len(parsed.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}
	return strings.TrimSpace(parsed.Results.Channels[0].Alternatives[0].Transcript), nil
}
