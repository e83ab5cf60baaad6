package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/lexiqai/voice-relay/internal/resilience"
)

// Speech-to-text providers.
const (
	STTProviderDeepgram = "deepgram"
	STTProviderGroq     = "groq"
)

// Config holds all configuration for the relay server
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Public base URL, only used to log the websocket endpoint.
	PublicURL string `envconfig:"VOICE_RELAY_URL" default:""`

	// Upgrade credential verification
	JWTSecret string `envconfig:"JWT_SECRET"`
	JWTIssuer string `envconfig:"JWT_ISSUER" default:""`
	JWTLeeway int    `envconfig:"JWT_LEEWAY" default:"0"` // seconds

	// Speech-to-text
	STTProvider    string `envconfig:"STT_PROVIDER" default:"deepgram"` // deepgram, groq
	DeepgramAPIKey string `envconfig:"DEEPGRAM_API_KEY"`
	DeepgramModel  string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	STTLanguage    string `envconfig:"STT_LANGUAGE" default:"en"`

	// Groq serves both the text generator and the Whisper transcriber
	GroqAPIKey       string  `envconfig:"GROQ_API_KEY"`
	GroqBaseURL      string  `envconfig:"GROQ_BASE_URL" default:"https://api.groq.com/openai/v1"`
	GroqModel        string  `envconfig:"GROQ_MODEL" default:"llama-3.3-70b-versatile"`
	GroqWhisperModel string  `envconfig:"GROQ_WHISPER_MODEL" default:"whisper-large-v3-turbo"`
	LLMMaxTokens     int     `envconfig:"LLM_MAX_TOKENS" default:"512"`
	LLMTemperature   float64 `envconfig:"LLM_TEMPERATURE" default:"0.7"`
	SystemPrompt     string  `envconfig:"SYSTEM_PROMPT" default:"You are a friendly voice assistant talking with {{username}}. Keep answers short and conversational."`

	// Cartesia TTS
	CartesiaAPIKey     string `envconfig:"CARTESIA_API_KEY"`
	CartesiaBaseURL    string `envconfig:"CARTESIA_BASE_URL" default:"https://api.cartesia.ai"`
	CartesiaVersion    string `envconfig:"CARTESIA_VERSION" default:"2024-06-10"`
	CartesiaVoiceID    string `envconfig:"CARTESIA_VOICE_ID" default:"a0e99841-438c-4a64-b679-ae501e7d6091"`
	CartesiaModelID    string `envconfig:"CARTESIA_MODEL_ID" default:"sonic-2"`
	CartesiaLanguage   string `envconfig:"CARTESIA_LANGUAGE" default:"en"`
	CartesiaSampleRate int    `envconfig:"CARTESIA_SAMPLE_RATE" default:"24000"`

	// Turn processing
	ChunkThreshold     int `envconfig:"CHUNK_THRESHOLD" default:"50"`      // UTF-16 code units per synthesized chunk
	TTSMaxInFlight     int `envconfig:"TTS_MAX_IN_FLIGHT" default:"2"`     // concurrent chunk synthesis requests
	HistoryMaxMessages int `envconfig:"HISTORY_MAX_MESSAGES" default:"40"` // per connection, 0 = unbounded
	UpstreamTimeout    int `envconfig:"UPSTREAM_TIMEOUT" default:"30"`     // seconds, per upstream request

	// Websocket
	MaxMessageBytes int64 `envconfig:"WS_MAX_MESSAGE_BYTES" default:"10485760"`
	WriteTimeout    int   `envconfig:"WS_WRITE_TIMEOUT" default:"10"` // seconds
	PingInterval    int   `envconfig:"WS_PING_INTERVAL" default:"20"` // seconds
	OutboundBuffer  int   `envconfig:"WS_OUTBOUND_BUFFER" default:"256"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // seconds
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"` // milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
	GRPCHealthPort string `envconfig:"GRPC_HEALTH_PORT" default:""` // empty disables the gRPC health server
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.GroqAPIKey == "" {
		return fmt.Errorf("GROQ_API_KEY is required")
	}
	if c.CartesiaAPIKey == "" {
		return fmt.Errorf("CARTESIA_API_KEY is required")
	}

	c.STTProvider = strings.ToLower(strings.TrimSpace(c.STTProvider))
	switch c.STTProvider {
	case STTProviderDeepgram:
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when STT_PROVIDER=deepgram")
		}
	case STTProviderGroq:
	default:
		return fmt.Errorf("unknown STT_PROVIDER %q", c.STTProvider)
	}

	if c.ChunkThreshold <= 0 {
		return fmt.Errorf("CHUNK_THRESHOLD must be positive, got %d", c.ChunkThreshold)
	}
	if c.TTSMaxInFlight <= 0 {
		return fmt.Errorf("TTS_MAX_IN_FLIGHT must be positive, got %d", c.TTSMaxInFlight)
	}
	if c.HistoryMaxMessages < 0 {
		return fmt.Errorf("HISTORY_MAX_MESSAGES must not be negative, got %d", c.HistoryMaxMessages)
	}
	return nil
}

// UpstreamTimeoutDuration returns the per-request upstream timeout.
func (c *Config) UpstreamTimeoutDuration() time.Duration {
	return time.Duration(c.UpstreamTimeout) * time.Second
}

// GuardConfig returns the breaker and retry settings shared by upstream clients.
func (c *Config) GuardConfig() resilience.GuardConfig {
	return resilience.GuardConfig{
		MaxFailures:    c.CircuitBreakerMaxFailures,
		ResetTimeout:   time.Duration(c.CircuitBreakerResetTimeout) * time.Second,
		MaxAttempts:    c.RetryMaxAttempts,
		InitialBackoff: time.Duration(c.RetryInitialBackoff) * time.Millisecond,
	}
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
