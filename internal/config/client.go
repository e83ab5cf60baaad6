package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ClientConfig holds configuration for the reference relay client
type ClientConfig struct {
	ServerURL string `envconfig:"RELAY_SERVER_URL" default:"ws://localhost:8080/ws"`
	Token     string `envconfig:"RELAY_TOKEN"`
	// When set and Token is empty, the client signs its own short-lived token.
	JWTSecret string `envconfig:"JWT_SECRET"`

	UserID           string `envconfig:"RELAY_USER_ID" default:"local"`
	Username         string `envconfig:"RELAY_USERNAME" default:""`
	AdditionalPrompt string `envconfig:"RELAY_ADDITIONAL_PROMPT" default:""`
	UseStreaming     bool   `envconfig:"RELAY_USE_STREAMING" default:"true"`

	TranscriptionTimeout time.Duration `envconfig:"RELAY_TRANSCRIPTION_TIMEOUT" default:"10s"`
	ResponseTimeout      time.Duration `envconfig:"RELAY_RESPONSE_TIMEOUT" default:"15s"`
	ReconnectDelay       time.Duration `envconfig:"RELAY_RECONNECT_DELAY" default:"3s"`
	QueuePollInterval    time.Duration `envconfig:"RELAY_QUEUE_POLL_INTERVAL" default:"50ms"`

	// Playback
	PlayerBackend string `envconfig:"RELAY_PLAYER_BACKEND" default:"exec"` // exec, speaker
	SampleRate    int    `envconfig:"RELAY_SAMPLE_RATE" default:"24000"`   // speaker output rate
	Channels      int    `envconfig:"RELAY_CHANNELS" default:"1"`          // speaker output channels
	PlayerCommand string `envconfig:"RELAY_PLAYER" default:"ffplay -nodisp -autoexit -loglevel quiet"`
	TempDir       string `envconfig:"RELAY_TEMP_DIR" default:""`

	// Input trimming
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"`
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"10"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"true"`
}

// Player backends.
const (
	PlayerBackendExec    = "exec"
	PlayerBackendSpeaker = "speaker"
)

// LoadClient reads client configuration, preloading .env when present.
func LoadClient() (*ClientConfig, error) {
	_ = godotenv.Load()

	var cfg ClientConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load client config: %w", err)
	}
	if cfg.Token == "" && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("RELAY_TOKEN or JWT_SECRET is required")
	}
	switch cfg.PlayerBackend {
	case PlayerBackendExec, PlayerBackendSpeaker:
	default:
		return nil, fmt.Errorf("RELAY_PLAYER_BACKEND must be %q or %q, got %q",
			PlayerBackendExec, PlayerBackendSpeaker, cfg.PlayerBackend)
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("RELAY_SAMPLE_RATE must be positive, got %d", cfg.SampleRate)
	}
	if cfg.Channels < 1 || cfg.Channels > 2 {
		return nil, fmt.Errorf("RELAY_CHANNELS must be 1 or 2, got %d", cfg.Channels)
	}
	return &cfg, nil
}
