package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-relay/internal/auth"
	"github.com/lexiqai/voice-relay/internal/config"
	"github.com/lexiqai/voice-relay/internal/protocol"
	"github.com/lexiqai/voice-relay/internal/resilience"
)

// ErrNotConnected is returned when sending without a live connection.
var ErrNotConnected = errors.New("not connected")

const writeTimeout = 10 * time.Second

// Client is a relay connection with its playback controller.
type Client struct {
	cfg        *config.ClientConfig
	dialer     *websocket.Dialer
	history    *historyRecorder
	controller *Controller
	logger     zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	writeMu sync.Mutex

	timerMu            sync.Mutex
	transcriptionTimer *time.Timer
	responseTimer      *time.Timer

	done     chan struct{}
	doneOnce sync.Once
	err      error
}

// New creates a client. Call Connect before sending audio.
func New(cfg *config.ClientConfig, output *Output, handler Handler, logger zerolog.Logger) *Client {
	if handler == nil {
		handler = NopHandler{}
	}
	history := &historyRecorder{Handler: handler}
	return &Client{
		cfg:        cfg,
		dialer:     websocket.DefaultDialer,
		history:    history,
		controller: NewController(NewSessionManager(), output, history, cfg.QueuePollInterval, logger),
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Controller returns the playback controller.
func (c *Client) Controller() *Controller {
	return c.controller
}

// Connect dials the server and starts reading frames.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	go c.readLoop(ctx, conn)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	target, err := c.url()
	if err != nil {
		return nil, err
	}
	conn, resp, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.logger.Info().Str("url", c.cfg.ServerURL).Msg("Connected to relay")
	return conn, nil
}

func (c *Client) url() (string, error) {
	u, err := url.Parse(c.cfg.ServerURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	token, err := c.token()
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(auth.TokenQueryParam, token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// token returns the configured token, or signs one when only the shared
// secret is known.
func (c *Client) token() (string, error) {
	if c.cfg.Token != "" {
		return c.cfg.Token, nil
	}
	if c.cfg.JWTSecret == "" {
		return "", auth.ErrMissingToken
	}
	return auth.Sign(c.cfg.JWTSecret, c.cfg.UserID, c.cfg.Username, time.Hour)
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(ctx, err)
			return
		}
		c.stopTimer(&c.responseTimer)

		msg, err := protocol.DecodeServerMessage(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Dropped malformed frame")
			continue
		}
		switch msg.Type {
		case protocol.TypeCaption, protocol.TypeError, protocol.TypeProcessingEnd:
			c.stopTimer(&c.transcriptionTimer)
		}
		c.controller.HandleMessage(msg)
	}
}

// handleDisconnect reconnects once after an abnormal close.
func (c *Client) handleDisconnect(ctx context.Context, err error) {
	c.mu.Lock()
	closed := c.closed
	c.conn = nil
	c.mu.Unlock()

	if closed || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.finish(nil)
		return
	}

	c.logger.Warn().Err(err).Dur("delay", c.cfg.ReconnectDelay).Msg("Connection lost, reconnecting")
	var conn *websocket.Conn
	err = resilience.Reconnect(ctx, func(ctx context.Context) error {
		var dialErr error
		conn, dialErr = c.dial(ctx)
		return dialErr
	}, resilience.SingleReconnectConfig(c.cfg.ReconnectDelay))
	if err != nil {
		c.logger.Error().Err(err).Msg("Reconnect failed")
		c.finish(err)
		return
	}

	c.mu.Lock()
	closed = c.closed
	c.mu.Unlock()
	if closed {
		conn.Close()
		c.finish(nil)
		return
	}
	go c.readLoop(ctx, conn)
}

// SendAudio starts a turn for a recorded WAV clip and returns its session id.
func (c *Client) SendAudio(ctx context.Context, wav []byte) (string, error) {
	sessionID := c.controller.BeginTurn(ctx)

	msg, err := protocol.NewAudioMessage(protocol.AudioRequest{
		Audio:            wav,
		UserID:           c.cfg.UserID,
		Username:         c.cfg.Username,
		History:          c.history.snapshot(),
		AdditionalPrompt: c.cfg.AdditionalPrompt,
		UseStreaming:     c.cfg.UseStreaming,
		SessionID:        sessionID,
	})
	if err != nil {
		return "", err
	}
	// Armed first so an immediate reply can disarm them.
	c.armTimers()
	if err := c.write(msg); err != nil {
		c.stopTimer(&c.transcriptionTimer)
		c.stopTimer(&c.responseTimer)
		return "", err
	}
	return sessionID, nil
}

// CancelAudio stops audio for the current turn. Text keeps streaming.
func (c *Client) CancelAudio() {
	c.controller.CancelAudio()
}

// CancelTurn stops audio and asks the server to stop the turn.
func (c *Client) CancelTurn() error {
	c.controller.CancelAudio()
	msg := protocol.NewCancelMessage()
	msg.SessionID = c.controller.SessionID()
	return c.write(msg)
}

// Replay plays the latest turn's audio again.
func (c *Client) Replay(ctx context.Context) error {
	return c.controller.Replay(ctx)
}

// History returns the conversation as seen by this client.
func (c *Client) History() []protocol.ChatMessage {
	return c.history.snapshot()
}

// Done is closed when the connection is gone for good.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the client stopped, or nil after Close.
func (c *Client) Err() error {
	<-c.done
	return c.err
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	c.stopTimer(&c.transcriptionTimer)
	c.stopTimer(&c.responseTimer)
	c.controller.CancelAudio()

	if conn == nil {
		c.finish(nil)
		return nil
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return conn.Close()
}

func (c *Client) write(msg *protocol.ClientMessage) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send %s frame: %w", msg.Type, err)
	}
	return nil
}

func (c *Client) armTimers() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()

	if c.transcriptionTimer != nil {
		c.transcriptionTimer.Stop()
	}
	if c.responseTimer != nil {
		c.responseTimer.Stop()
	}
	if d := c.cfg.TranscriptionTimeout; d > 0 {
		c.transcriptionTimer = time.AfterFunc(d, func() { c.controller.Timeout(TimeoutTranscription) })
	}
	if d := c.cfg.ResponseTimeout; d > 0 {
		c.responseTimer = time.AfterFunc(d, func() { c.controller.Timeout(TimeoutResponse) })
	}
}

func (c *Client) stopTimer(t **time.Timer) {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (c *Client) finish(err error) {
	c.doneOnce.Do(func() {
		c.err = err
		close(c.done)
	})
}

// historyRecorder keeps the conversation so a fresh connection can be seeded
// with it.
type historyRecorder struct {
	Handler

	mu      sync.Mutex
	history []protocol.ChatMessage
}

func (h *historyRecorder) OnCaption(text string) {
	h.append(protocol.RoleUser, text)
	h.Handler.OnCaption(text)
}

func (h *historyRecorder) OnResponseComplete(text string) {
	h.append(protocol.RoleAssistant, text)
	h.Handler.OnResponseComplete(text)
}

func (h *historyRecorder) append(role, content string) {
	if content == "" {
		return
	}
	h.mu.Lock()
	h.history = append(h.history, protocol.ChatMessage{Role: role, Content: content})
	h.mu.Unlock()
}

func (h *historyRecorder) snapshot() []protocol.ChatMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]protocol.ChatMessage, len(h.history))
	copy(out, h.history)
	return out
}
