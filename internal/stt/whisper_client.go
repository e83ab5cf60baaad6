package stt

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lexiqai/voice-relay/internal/config"
	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/lexiqai/voice-relay/internal/resilience"
)

// WhisperClient transcribes through an OpenAI-compatible transcription
// endpoint (Groq by default).
type WhisperClient struct {
	client   openai.Client
	model    string
	language string
	timeout  time.Duration
	guard    *resilience.Guard
}

// NewWhisperClient creates a transcriber against cfg.GroqBaseURL.
func NewWhisperClient(cfg *config.Config, opts ...option.RequestOption) *WhisperClient {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.GroqAPIKey),
		option.WithBaseURL(cfg.GroqBaseURL),
		option.WithMaxRetries(0),
	}
	reqOpts = append(reqOpts, opts...)

	guard := resilience.NewGuard("whisper", cfg.GuardConfig())
	observability.TrackBreaker(guard.Breaker)

	return &WhisperClient{
		client:   openai.NewClient(reqOpts...),
		model:    cfg.GroqWhisperModel,
		language: cfg.STTLanguage,
		timeout:  cfg.UpstreamTimeoutDuration(),
		guard:    guard,
	}
}

// namedAudio gives the multipart encoder a filename so the upstream can
// detect the container.
type namedAudio struct {
	*bytes.Reader
	name string
}

func (n namedAudio) Name() string { return n.name }

// Transcribe implements Transcriber.
func (w *WhisperClient) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", ErrNoAudio
	}

	return guarded(ctx, w.guard, w.timeout, func(ctx context.Context) (string, error) {
		params := openai.AudioTranscriptionNewParams{
			File:  namedAudio{Reader: bytes.NewReader(audio), name: "recording" + sniffExtension(audio)},
			Model: openai.AudioModel(w.model),
		}
		if w.language != "" {
			params.Language = openai.String(w.language)
		}

		res, err := w.client.Audio.Transcriptions.New(ctx, params)
		if err != nil {
			return "", fmt.Errorf("whisper transcription failed: %w", err)
		}
		return strings.TrimSpace(res.Text), nil
	})
}

// HealthCheck reports whether requests are currently allowed through.
func (w *WhisperClient) HealthCheck(ctx context.Context) (bool, error) {
	return w.guard.Healthy(ctx)
}

// sniffExtension guesses a file extension from the container magic bytes.
func sniffExtension(audio []byte) string {
	switch {
	case len(audio) >= 12 && string(audio[0:4]) == "RIFF" && string(audio[8:12]) == "WAVE":
		return ".wav"
	case len(audio) >= 4 && string(audio[0:4]) == "OggS":
		return ".ogg"
	case len(audio) >= 4 && string(audio[0:4]) == "fLaC":
		return ".flac"
	case len(audio) >= 4 && bytes.Equal(audio[0:4], []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return ".webm"
	case len(audio) >= 3 && string(audio[0:3]) == "ID3":
		return ".mp3"
	case len(audio) >= 2 && audio[0] == 0xFF && audio[1]&0xE0 == 0xE0:
		return ".mp3"
	case len(audio) >= 8 && string(audio[4:8]) == "ftyp":
		return ".m4a"
	}
	return ".wav"
}
