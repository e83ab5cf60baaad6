package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lexiqai/voice-relay/internal/audio"
	"github.com/lexiqai/voice-relay/internal/config"
	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/lexiqai/voice-relay/internal/resilience"
)

// CartesiaClient implements Synthesizer using Cartesia's bytes endpoint
type CartesiaClient struct {
	apiKey     string
	apiURL     string
	version    string
	voiceID    string
	modelID    string
	language   string
	sampleRate int
	timeout    time.Duration
	httpClient *http.Client
	guard      *resilience.Guard
}

// CartesiaRequest represents the request payload for Cartesia TTS API
type CartesiaRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        CartesiaVoice        `json:"voice"`
	OutputFormat CartesiaOutputFormat `json:"output_format"`
	Language     string               `json:"language,omitempty"`
}

type CartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type CartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// StatusError is a non-2xx response from Cartesia.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("cartesia returned status %d: %s", e.StatusCode, e.Body)
}

// NewCartesiaClient creates a new Cartesia TTS client
func NewCartesiaClient(cfg *config.Config) *CartesiaClient {
	guard := resilience.NewGuard("cartesia", cfg.GuardConfig())
	observability.TrackBreaker(guard.Breaker)

	return &CartesiaClient{
		apiKey:     cfg.CartesiaAPIKey,
		apiURL:     strings.TrimRight(cfg.CartesiaBaseURL, "/") + "/tts/bytes",
		version:    cfg.CartesiaVersion,
		voiceID:    cfg.CartesiaVoiceID,
		modelID:    cfg.CartesiaModelID,
		language:   cfg.CartesiaLanguage,
		sampleRate: cfg.CartesiaSampleRate,
		timeout:    cfg.UpstreamTimeoutDuration(),
		httpClient: &http.Client{},
		guard:      guard,
	}
}

// Synthesize converts text to a mono 16-bit WAV clip.
func (c *CartesiaClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	payload, err := json.Marshal(CartesiaRequest{
		ModelID:    c.modelID,
		Transcript: text,
		Voice:      CartesiaVoice{Mode: "id", ID: c.voiceID},
		OutputFormat: CartesiaOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: c.sampleRate,
		},
		Language: c.language,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var pcm []byte
	start := time.Now()
	err = c.guard.Do(ctx, func(ctx context.Context) error {
		if c.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		var err error
		pcm, err = c.post(ctx, payload)
		return err
	})
	if ctx.Err() == nil {
		observability.ObserveUpstream(observability.ServiceTTS, time.Since(start), err == nil)
	}
	if err != nil {
		return nil, err
	}

	log.Debug().
		Int("chars", len(text)).
		Int("pcm_bytes", len(pcm)).
		Dur("duration", audio.PCMDuration(len(pcm), c.sampleRate, 1)).
		Msg("Cartesia synthesis complete")

	return audio.EncodeWAV(pcm, c.sampleRate, 1), nil
}

func (c *CartesiaClient) post(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cartesia-Version", c.version)
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return nil, resilience.NewRetryableError(statusErr)
		}
		return nil, statusErr
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("cartesia returned empty audio")
	}
	return pcm, nil
}

// HealthCheck reports whether requests are currently allowed through.
func (c *CartesiaClient) HealthCheck(ctx context.Context) (bool, error) {
	return c.guard.Healthy(ctx)
}
