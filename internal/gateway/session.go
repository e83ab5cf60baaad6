package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-relay/internal/auth"
	"github.com/lexiqai/voice-relay/internal/llm"
	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/lexiqai/voice-relay/internal/protocol"
	"github.com/lexiqai/voice-relay/internal/relay"
)

// session holds the state of a single websocket connection.
type session struct {
	conn   *websocket.Conn
	claims *auth.Claims
	opts   Options

	connectionID string
	coordinator  *relay.Coordinator

	// Outbound frames, written by a single writer goroutine
	outbound  chan *protocol.ServerMessage
	closed    chan struct{}
	closeOnce sync.Once

	mu          sync.Mutex
	turnSession string

	turns sync.WaitGroup

	metrics *observability.Metrics
	logger  zerolog.Logger
}

func newSession(conn *websocket.Conn, claims *auth.Claims, deps Dependencies, opts Options) *session {
	connectionID := observability.NewCorrelationID()
	logger := observability.ConnectionLogger(connectionID, claims.UserID())
	metrics := observability.NewConnectionMetrics(connectionID)

	state := relay.NewConnectionState(opts.HistoryMax)
	coordinator := relay.NewCoordinator(opts.Relay, deps.Transcriber, deps.Generator, deps.Synthesizer, state, metrics, logger)

	return &session{
		conn:         conn,
		claims:       claims,
		opts:         opts,
		connectionID: connectionID,
		coordinator:  coordinator,
		outbound:     make(chan *protocol.ServerMessage, opts.OutboundBuffer),
		closed:       make(chan struct{}),
		metrics:      metrics,
		logger:       logger,
	}
}

// run serves the connection until the peer goes away or ctx is cancelled.
func (s *session) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	s.metrics.RecordConnectionStart()
	s.logger.Info().Str("username", s.claims.Username).Msg("Connection established")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop()
	}()
	go func() {
		select {
		case <-ctx.Done():
			s.shutdown()
		case <-s.closed:
		}
	}()

	s.readLoop(ctx)

	// Any running turn is abandoned with the connection.
	s.shutdown()
	s.coordinator.Cancel()
	cancel()
	s.turns.Wait()
	<-writerDone

	s.metrics.RecordConnectionEnd()
	s.logger.Info().Msg("Connection closed")
}

// shutdown stops the writer, which closes the socket and unblocks the reader.
func (s *session) shutdown() {
	s.closeOnce.Do(func() { close(s.closed) })
}

func (s *session) readLoop(ctx context.Context) {
	pongWait := 2 * s.opts.PingInterval
	s.conn.SetReadLimit(s.opts.MaxMessageBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := protocol.DecodeClientMessage(data)
		if err != nil {
			s.rejectFrame(err, "")
			continue
		}

		switch msg.Type {
		case protocol.TypeAudio:
			s.handleAudio(ctx, msg)
		case protocol.TypeCancel:
			s.handleCancel(msg)
		}
	}
}

func (s *session) handleAudio(ctx context.Context, msg *protocol.ClientMessage) {
	audio, err := msg.AudioBytes()
	if err != nil {
		s.rejectFrame(err, msg.SessionID)
		return
	}
	s.metrics.RecordAudioBytes("in", int64(len(audio)))

	if msg.UserID != "" && msg.UserID != s.claims.UserID() {
		s.logger.Debug().Str("frame_user_id", msg.UserID).Msg("Frame user id differs from token subject")
	}
	username := msg.Username
	if username == "" {
		username = s.claims.Username
	}

	req := relay.TurnRequest{
		Audio:            audio,
		Username:         username,
		History:          toLLMHistory(msg.ValidHistory()),
		AdditionalPrompt: msg.AdditionalPrompt,
		UseStreaming:     msg.UseStreaming,
	}

	done, err := s.coordinator.Start(ctx, req, s.emitter(msg.SessionID))
	if errors.Is(err, relay.ErrBusy) {
		s.logger.Debug().Str("session_id", msg.SessionID).Msg("Turn in progress, dropping audio frame")
		return
	}
	if err != nil {
		s.rejectFrame(err, msg.SessionID)
		return
	}

	s.mu.Lock()
	s.turnSession = msg.SessionID
	s.mu.Unlock()

	s.turns.Add(1)
	go func() {
		defer s.turns.Done()
		<-done
	}()
}

func (s *session) handleCancel(msg *protocol.ClientMessage) {
	s.metrics.RecordCancel()
	running := s.coordinator.Cancel()
	s.logger.Info().Bool("running", running).Msg("Turn cancel requested")

	sessionID := msg.SessionID
	if sessionID == "" {
		s.mu.Lock()
		sessionID = s.turnSession
		s.mu.Unlock()
	}
	reply := protocol.Cancelled()
	reply.SessionID = sessionID
	s.send(reply)
}

func (s *session) rejectFrame(err error, sessionID string) {
	kind := frameErrorKind(err)
	s.logger.Warn().Err(err).Str("kind", kind).Msg("Rejected client frame")
	s.metrics.RecordError(kind, "gateway")
	reply := protocol.Error(kind, err.Error(), nil)
	reply.SessionID = sessionID
	s.send(reply)
}

// frameErrorKind maps a frame handling failure to its wire error kind.
func frameErrorKind(err error) string {
	if protocol.IsDecodeError(err) {
		return protocol.ErrorInvalidRequest
	}
	return protocol.ErrorInternal
}

// emitter turns relay events into frames tagged with the submitting
// session id.
func (s *session) emitter(sessionID string) relay.Emitter {
	return func(ev relay.Event) {
		msg := toServerMessage(ev)
		if msg == nil {
			return
		}
		msg.SessionID = sessionID
		s.send(msg)
	}
}

// send queues a frame for the writer. Frames are dropped once the connection
// is closing.
func (s *session) send(msg *protocol.ServerMessage) {
	select {
	case s.outbound <- msg:
	case <-s.closed:
	}
}

func (s *session) writeLoop() {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg := <-s.outbound:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := s.conn.WriteJSON(msg); err != nil {
				s.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to write frame")
				s.metrics.RecordError("write_error", "gateway")
				s.shutdown()
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.shutdown()
				return
			}

		case <-s.closed:
			deadline := time.Now().Add(s.opts.WriteTimeout)
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		}
	}
}

func toServerMessage(ev relay.Event) *protocol.ServerMessage {
	switch e := ev.(type) {
	case relay.Caption:
		return protocol.Caption(e.Text)
	case relay.ResponseChunk:
		return protocol.ResponseChunk(e.Text)
	case relay.ResponseComplete:
		return protocol.ResponseEnd(e.Text)
	case relay.AudioChunk:
		return protocol.AudioChunk(e.Index, e.Audio, e.Text)
	case relay.AudioStreamEnd:
		return protocol.AudioStreamEnd(e.TotalChunks)
	case relay.AudioComplete:
		return protocol.AudioResponse(e.Audio)
	case relay.TurnError:
		return protocol.Error(e.Kind, e.Message, e.ChunkIndex)
	case relay.ProcessingEnd:
		return protocol.ProcessingEnd()
	}
	return nil
}

func toLLMHistory(history []protocol.ChatMessage) []llm.Message {
	if len(history) == 0 {
		return nil
	}
	out := make([]llm.Message, len(history))
	for i, m := range history {
		out[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return out
}
