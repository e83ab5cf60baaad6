// Package relay runs one conversational turn: transcribe the recording,
// stream the generated reply as text, and synthesize it into ordered audio
// chunks.
package relay

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-relay/internal/llm"
	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/lexiqai/voice-relay/internal/protocol"
	"github.com/lexiqai/voice-relay/internal/stt"
	"github.com/lexiqai/voice-relay/internal/tts"
)

var (
	// ErrBusy is returned when a turn is already in progress. Nothing is emitted.
	ErrBusy = errors.New("turn already in progress")
	// ErrEmptyTranscript means the recording contained no speech.
	ErrEmptyTranscript = errors.New("empty transcript")
)

// Config holds turn settings shared by all connections.
type Config struct {
	SystemPrompt   string
	MaxTokens      int
	Temperature    float64
	ChunkThreshold int
	MaxInFlight    int
}

// TurnRequest is one recorded utterance and its per-turn options.
type TurnRequest struct {
	Audio            []byte
	Username         string
	History          []llm.Message
	AdditionalPrompt string
	UseStreaming     bool
}

// Coordinator runs the turns of one connection, one at a time.
type Coordinator struct {
	cfg         Config
	transcriber stt.Transcriber
	generator   llm.Generator
	synthesizer tts.Synthesizer
	state       *ConnectionState
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

// NewCoordinator creates the coordinator for one connection.
func NewCoordinator(
	cfg Config,
	transcriber stt.Transcriber,
	generator llm.Generator,
	synthesizer tts.Synthesizer,
	state *ConnectionState,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Coordinator {
	if state == nil {
		state = NewConnectionState(0)
	}
	return &Coordinator{
		cfg:         cfg,
		transcriber: transcriber,
		generator:   generator,
		synthesizer: synthesizer,
		state:       state,
		metrics:     metrics,
		logger:      logger,
	}
}

// State returns the connection state.
func (c *Coordinator) State() *ConnectionState {
	return c.state
}

// Submit runs a turn to completion, emitting its events. It returns ErrBusy
// without emitting anything when a turn is already running.
func (c *Coordinator) Submit(ctx context.Context, req TurnRequest, emit Emitter) error {
	done, err := c.Start(ctx, req, emit)
	if err != nil {
		return err
	}
	<-done
	return nil
}

// Start reserves the connection for a turn and runs it in the background.
// The returned channel is closed after ProcessingEnd has been emitted.
func (c *Coordinator) Start(ctx context.Context, req TurnRequest, emit Emitter) (<-chan struct{}, error) {
	if !c.state.tryBegin() {
		if c.metrics != nil {
			c.metrics.RecordDroppedSubmission()
		}
		return nil, ErrBusy
	}

	turnCtx, cancel := context.WithCancel(ctx)
	c.state.setStreamHandle(cancel)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.run(turnCtx, cancel, req, emit)
	}()
	return done, nil
}

// Cancel cancels the current turn, if any. Events already emitted stand;
// the turn still ends with ProcessingEnd. It reports whether a turn was running.
func (c *Coordinator) Cancel() bool {
	return c.state.Cancel()
}

func (c *Coordinator) run(ctx context.Context, cancel context.CancelFunc, req TurnRequest, emit Emitter) {
	start := time.Now()
	outcome := observability.OutcomeError
	logger := c.logger.With().Bool("streaming", req.UseStreaming).Logger()

	defer func() {
		cancel()
		c.state.finish()
		emit(ProcessingEnd{})
		if c.metrics != nil {
			c.metrics.RecordTurn(outcome, time.Since(start))
		}
		logger.Info().Str("outcome", outcome).Dur("duration", time.Since(start)).Msg("Turn finished")
	}()
	defer func() {
		if r := recover(); r != nil {
			outcome = observability.OutcomeError
			logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Turn panicked")
			emit(TurnError{Kind: protocol.ErrorInternal, Message: "internal error"})
		}
	}()

	c.state.Seed(req.History)
	outcome = c.runTurn(ctx, req, emit, logger)
}

func (c *Coordinator) runTurn(ctx context.Context, req TurnRequest, emit Emitter, logger zerolog.Logger) string {
	transcript, err := c.transcriber.Transcribe(ctx, req.Audio)
	if c.state.Cancelled() || ctx.Err() != nil {
		logger.Debug().Msg("Turn cancelled during transcription")
		return observability.OutcomeCancelled
	}
	if err != nil {
		logger.Error().Err(err).Msg("Transcription failed")
		c.recordError(protocol.ErrorTranscription, observability.ServiceSTT)
		emit(TurnError{Kind: protocol.ErrorTranscription, Message: fmt.Sprintf("transcription failed: %v", err)})
		return observability.OutcomeError
	}

	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		logger.Info().Msg("Empty transcript")
		emit(TurnError{Kind: protocol.ErrorTranscription, Message: ErrEmptyTranscript.Error()})
		return observability.OutcomeEmptyTranscript
	}

	emit(Caption{Text: transcript})
	logger.Info().Str("transcript", transcript).Msg("Transcribed")

	c.state.replacePlaceholder(req.Username)
	c.state.Append(llm.Message{Role: protocol.RoleUser, Content: transcript})
	request := buildRequest(c.cfg, c.state.History(), req.Username, req.AdditionalPrompt)

	stream, err := c.generator.StreamCompletion(ctx, request)
	if err != nil {
		if c.state.Cancelled() || ctx.Err() != nil {
			return observability.OutcomeCancelled
		}
		logger.Error().Err(err).Msg("Failed to start generation")
		c.recordError(protocol.ErrorLLM, observability.ServiceLLM)
		emit(TurnError{Kind: protocol.ErrorLLM, Message: fmt.Sprintf("generation failed: %v", err)})
		return observability.OutcomeError
	}

	chunker := NewChunker(ctx, c.synthesizer, c.countingEmitter(emit), ChunkerOptions{
		Threshold:   c.cfg.ChunkThreshold,
		MaxInFlight: c.cfg.MaxInFlight,
		Streaming:   req.UseStreaming,
		Logger:      logger,
	})

	var (
		response  strings.Builder
		streamErr error
		natural   bool
	)
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case chunk, ok := <-stream:
			if !ok {
				natural = ctx.Err() == nil
				break loop
			}
			if chunk.Err != nil {
				streamErr = chunk.Err
				break loop
			}
			if chunk.Text == "" {
				continue
			}
			response.WriteString(chunk.Text)
			emit(ResponseChunk{Text: chunk.Text})
			chunker.OnToken(chunk.Text)
		}
	}

	cancelled := c.state.Cancelled() || ctx.Err() != nil
	full := response.String()

	if streamErr != nil && !cancelled {
		logger.Error().Err(streamErr).Msg("Generation stream failed")
		c.recordError(protocol.ErrorLLM, observability.ServiceLLM)
		emit(TurnError{Kind: protocol.ErrorLLM, Message: fmt.Sprintf("generation failed: %v", streamErr)})
	}
	if natural && !cancelled {
		emit(ResponseComplete{Text: full})
		if full != "" {
			c.state.Append(llm.Message{Role: protocol.RoleAssistant, Content: full})
		}
	}

	chunker.Finish(!cancelled, natural && !cancelled)
	logger.Debug().Int("chunks", chunker.ChunksIssued()).Int("chars", len(full)).Msg("Response streamed")

	switch {
	case cancelled:
		return observability.OutcomeCancelled
	case streamErr != nil:
		return observability.OutcomeError
	}
	return observability.OutcomeCompleted
}

// countingEmitter records chunk metrics on the way out.
func (c *Coordinator) countingEmitter(emit Emitter) Emitter {
	if c.metrics == nil {
		return emit
	}
	return func(ev Event) {
		switch e := ev.(type) {
		case AudioChunk:
			c.metrics.RecordChunk(len(e.Audio))
		case AudioComplete:
			c.metrics.RecordChunk(len(e.Audio))
		case TurnError:
			c.recordError(e.Kind, observability.ServiceTTS)
		}
		emit(ev)
	}
}

func (c *Coordinator) recordError(kind, component string) {
	if c.metrics != nil {
		c.metrics.RecordError(kind, component)
	}
}
