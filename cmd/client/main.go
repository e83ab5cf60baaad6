package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/lexiqai/voice-relay/internal/audio"
	"github.com/lexiqai/voice-relay/internal/client"
	"github.com/lexiqai/voice-relay/internal/config"
	"github.com/lexiqai/voice-relay/internal/observability"
)

// console prints the turn to stdout and signals when it is over.
type console struct {
	client.NopHandler

	mu       sync.Mutex
	textDone bool
	audioEnd bool
	done     chan struct{}
	once     sync.Once
}

func (c *console) OnCaption(text string) {
	fmt.Printf("you: %s\nassistant: ", text)
}

func (c *console) OnResponseChunk(text string) {
	fmt.Print(text)
}

func (c *console) OnResponseComplete(string) {
	fmt.Println()
}

func (c *console) OnPlaybackComplete(result client.PlaybackResult) {
	if result.Cancelled {
		fmt.Fprintf(os.Stderr, "[audio cancelled after %d chunks]\n", result.TotalChunks)
	}
	c.mu.Lock()
	c.audioEnd = true
	c.mu.Unlock()
	c.check()
}

func (c *console) OnProcessingEnd() {
	c.mu.Lock()
	c.textDone = true
	c.mu.Unlock()
	c.check()
}

func (c *console) OnError(errorType, message string, chunkIndex *int) {
	if chunkIndex != nil {
		fmt.Fprintf(os.Stderr, "[%s on chunk %d: %s]\n", errorType, *chunkIndex, message)
		return
	}
	fmt.Fprintf(os.Stderr, "[%s: %s]\n", errorType, message)
}

func (c *console) OnTimeout(kind string) {
	fmt.Fprintf(os.Stderr, "[timed out waiting for %s]\n", kind)
	if kind == client.TimeoutResponse {
		c.once.Do(func() { close(c.done) })
	}
}

// check ends the turn once text is done and audio finished. A turn without
// audio ends on processing_end alone.
func (c *console) check() {
	c.mu.Lock()
	done := c.textDone && c.audioEnd
	c.mu.Unlock()
	if done {
		c.once.Do(func() { close(c.done) })
	}
}

func main() {
	file := flag.String("file", "", "WAV recording to send (16-bit PCM)")
	replay := flag.Bool("replay", false, "replay the full response after the turn")
	noStream := flag.Bool("no-stream", false, "ask for one audio clip instead of chunks")
	cancelServer := flag.Bool("cancel-server", false, "Ctrl-C also cancels generation on the server")
	flag.Parse()

	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *noStream {
		cfg.UseStreaming = false
	}

	observability.InitLoggerTo(os.Stderr, cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: client -file recording.wav [-replay] [-no-stream]")
		os.Exit(2)
	}
	recording, err := loadRecording(*file, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("file", *file).Msg("Failed to read recording")
	}

	player, err := newPlayer(cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.PlayerBackend).Msg("Failed to configure player")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &console{done: make(chan struct{})}
	c := client.New(cfg, client.NewOutput(player), out, logger)
	if err := c.Connect(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect")
	}
	defer c.Close()

	if _, err := c.SendAudio(ctx, recording); err != nil {
		logger.Fatal().Err(err).Msg("Failed to send recording")
	}

	// First interrupt stops the audio, the second exits.
	interrupts := make(chan os.Signal, 2)
	signal.Notify(interrupts, syscall.SIGINT, syscall.SIGTERM)

	for waiting := true; waiting; {
		select {
		case <-out.done:
			waiting = false
		case <-c.Done():
			if err := c.Err(); err != nil {
				logger.Error().Err(err).Msg("Connection lost")
			}
			return
		case <-interrupts:
			if *cancelServer {
				if err := c.CancelTurn(); err != nil {
					logger.Warn().Err(err).Msg("Failed to cancel turn")
				}
			} else {
				c.CancelAudio()
			}
			go func() {
				<-interrupts
				cancel()
				os.Exit(130)
			}()
		}
	}

	if *replay {
		if err := c.Replay(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("Replay failed")
		}
	}
}

// loadRecording trims leading and trailing silence from a 16-bit WAV file.
// Files in other formats are sent unchanged.
func loadRecording(path string, cfg *config.ClientConfig) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pcm, format, err := audio.DecodeWAV(data)
	if err != nil {
		return data, nil
	}

	vad := audio.DefaultVADConfig()
	vad.EnergyThreshold = cfg.VADEnergyThreshold
	vad.SilenceFrames = cfg.VADSilenceFrames
	trimmed := audio.TrimSilence(pcm, vad)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("recording contains no speech")
	}
	return audio.EncodeWAV(trimmed, format.SampleRate, format.Channels), nil
}

func newPlayer(cfg *config.ClientConfig) (client.Player, error) {
	if cfg.PlayerBackend == config.PlayerBackendSpeaker {
		speaker, err := client.NewSpeakerPlayer(cfg.SampleRate, cfg.Channels)
		if err != nil {
			return nil, err
		}
		return speaker, nil
	}
	player, err := client.NewExecPlayer(cfg.PlayerCommand, cfg.TempDir)
	if err != nil {
		return nil, err
	}
	return player, nil
}
