package client

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-relay/internal/protocol"
)

// Timeout kinds reported through Handler.OnTimeout.
const (
	TimeoutTranscription = "transcription"
	TimeoutResponse      = "response"
)

// Handler receives what the user should see and hear about. Calls may come
// from different goroutines.
type Handler interface {
	OnCaption(text string)
	OnResponseChunk(text string)
	OnResponseComplete(text string)
	// OnPlaybackComplete is called at most once per turn: when its audio
	// finishes or is cancelled, or on processing_end for a turn without audio.
	OnPlaybackComplete(result PlaybackResult)
	OnProcessingEnd()
	OnCancelled()
	OnError(errorType, message string, chunkIndex *int)
	OnTimeout(kind string)
}

// NopHandler ignores every callback.
type NopHandler struct{}

func (NopHandler) OnCaption(string)                  {}
func (NopHandler) OnResponseChunk(string)            {}
func (NopHandler) OnResponseComplete(string)         {}
func (NopHandler) OnPlaybackComplete(PlaybackResult) {}
func (NopHandler) OnProcessingEnd()                  {}
func (NopHandler) OnCancelled()                      {}
func (NopHandler) OnError(string, string, *int)      {}
func (NopHandler) OnTimeout(string)                  {}

// turn is the playback state of one recording attempt.
type turn struct {
	sessionID string
	queue     *ChunkQueue
	replay    *ReplayStore

	cancel     chan struct{}
	notifyOnce sync.Once

	// mu orders cancellation against enqueueing and scheduler start.
	mu       sync.Mutex
	canceled bool
	started  bool
}

func newTurn(sessionID string) *turn {
	return &turn{
		sessionID: sessionID,
		queue:     NewChunkQueue(),
		replay:    NewReplayStore(),
		cancel:    make(chan struct{}),
	}
}

// push enqueues chunk unless the turn's audio was cancelled.
func (t *turn) push(chunk Chunk, whole bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.canceled {
		return false
	}
	t.queue.Push(chunk)
	if whole {
		t.queue.End(1)
	}
	return true
}

// Controller routes server frames to playback and the handler, and owns
// audio cancellation and replay.
type Controller struct {
	sessions *SessionManager
	output   *Output
	handler  Handler
	poll     time.Duration
	logger   zerolog.Logger

	mu   sync.Mutex
	ctx  context.Context
	turn *turn
}

// NewController creates a controller playing through output.
func NewController(sessions *SessionManager, output *Output, handler Handler, poll time.Duration, logger zerolog.Logger) *Controller {
	if handler == nil {
		handler = NopHandler{}
	}
	return &Controller{
		sessions: sessions,
		output:   output,
		handler:  handler,
		poll:     poll,
		logger:   logger,
		ctx:      context.Background(),
	}
}

// BeginTurn stops the previous turn's audio and starts a session for a new
// recording. The returned session id tags the audio frame.
func (c *Controller) BeginTurn(ctx context.Context) string {
	if prev := c.current(); prev != nil {
		c.cancelTurn(prev, false)
	}
	sessionID := c.sessions.BeginSession()

	c.mu.Lock()
	c.ctx = ctx
	c.turn = newTurn(sessionID)
	c.mu.Unlock()

	c.logger.Debug().Str("session_id", sessionID).Msg("Turn started")
	return sessionID
}

// SessionID returns the active session id, or "".
func (c *Controller) SessionID() string {
	return c.sessions.Current()
}

// HandleMessage processes one server frame. Audio frames for a stale or
// missing session are dropped.
func (c *Controller) HandleMessage(msg *protocol.ServerMessage) {
	if !c.sessions.Accept(msg) {
		c.logger.Debug().Str("type", msg.Type).Str("session_id", msg.SessionID).Msg("Dropped stale audio frame")
		return
	}

	switch msg.Type {
	case protocol.TypeCaption:
		c.handler.OnCaption(msg.Output)
	case protocol.TypeResponseChunk:
		c.handler.OnResponseChunk(msg.Output)
	case protocol.TypeResponseEnd:
		c.handler.OnResponseComplete(msg.Output)

	case protocol.TypeAudioChunk:
		index := 0
		if msg.ChunkIndex != nil {
			index = *msg.ChunkIndex
		}
		c.enqueue(msg, Chunk{Index: index, Text: msg.Text}, false)
	case protocol.TypeAudioResponse:
		c.enqueue(msg, Chunk{}, true)
	case protocol.TypeAudioStreamEnd:
		total := 0
		if msg.TotalChunks != nil {
			total = *msg.TotalChunks
		}
		if t := c.current(); t != nil {
			t.queue.End(total)
			c.startPlayback(t)
		}

	case protocol.TypeProcessingEnd:
		if t := c.current(); t != nil && (msg.SessionID == "" || t.sessionID == msg.SessionID) {
			// No audio follows processing_end. A waiting scheduler finishes,
			// and a turn without audio still reports completion.
			t.queue.End(t.queue.Len())
			c.startPlayback(t)
			c.sessions.Invalidate()
		}
		c.handler.OnProcessingEnd()
	case protocol.TypeCancelled:
		c.handler.OnCancelled()
	case protocol.TypeError:
		c.handler.OnError(msg.ErrorType, msg.Message, msg.ChunkIndex)
	default:
		c.logger.Debug().Str("type", msg.Type).Msg("Ignoring unknown frame")
	}
}

func (c *Controller) enqueue(msg *protocol.ServerMessage, chunk Chunk, whole bool) {
	t := c.current()
	if t == nil {
		return
	}
	audio, err := msg.AudioBytes()
	if err != nil {
		c.logger.Warn().Err(err).Str("type", msg.Type).Msg("Dropped undecodable audio")
		return
	}
	t.replay.Append(audio)

	chunk.Audio = audio
	if t.push(chunk, whole) {
		c.startPlayback(t)
	}
}

// startPlayback runs the turn's scheduler once.
func (c *Controller) startPlayback(t *turn) {
	t.mu.Lock()
	if t.started || t.canceled {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()

	scheduler := NewScheduler(t.queue, c.output, t.cancel, c.poll, c.logger)
	go func() {
		result := scheduler.Run(ctx)
		c.notify(t, result)
	}()
}

// CancelAudio stops the current turn's audio. Text keeps streaming and the
// server is not told. Calling it again, or with nothing playing, does
// nothing.
func (c *Controller) CancelAudio() {
	if t := c.current(); t != nil {
		c.cancelTurn(t, true)
	}
}

// cancelTurn stops t's audio. A turn whose playback never started reports
// its cancellation only when report is set.
func (c *Controller) cancelTurn(t *turn, report bool) {
	t.mu.Lock()
	if t.canceled {
		t.mu.Unlock()
		return
	}
	t.canceled = true
	close(t.cancel)
	started := t.started
	t.mu.Unlock()

	c.output.Stop()
	if !started && report {
		c.notify(t, PlaybackResult{TotalChunks: t.queue.Len(), Cancelled: true})
	}
	c.logger.Debug().Str("session_id", t.sessionID).Msg("Audio cancelled")
}

// Replay plays every audio segment received for the latest turn through the
// shared output and waits for it to finish.
func (c *Controller) Replay(ctx context.Context) error {
	t := c.current()
	if t == nil {
		return ErrNothingToReplay
	}
	clips, err := t.replay.Clips()
	if err != nil {
		return err
	}
	for _, clip := range clips {
		pb, err := c.output.Play(ctx, clip)
		if err != nil {
			return err
		}
		select {
		case <-pb.Done():
		case <-ctx.Done():
			pb.Stop()
			return ctx.Err()
		}
		if !c.output.owns(pb) {
			// stopped or replaced by other playback
			return nil
		}
	}
	return nil
}

// Timeout cancels audio and reports kind to the handler.
func (c *Controller) Timeout(kind string) {
	c.logger.Warn().Str("kind", kind).Msg("Timed out waiting for server")
	if kind == TimeoutResponse {
		c.CancelAudio()
	}
	c.handler.OnTimeout(kind)
}

func (c *Controller) notify(t *turn, result PlaybackResult) {
	t.notifyOnce.Do(func() {
		c.handler.OnPlaybackComplete(result)
	})
}

func (c *Controller) current() *turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turn
}
