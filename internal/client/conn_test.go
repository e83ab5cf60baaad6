package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-relay/internal/auth"
	"github.com/lexiqai/voice-relay/internal/config"
	"github.com/lexiqai/voice-relay/internal/protocol"
)

const testSecret = "client-secret"

// scriptedServer answers every audio frame with a short streamed turn.
type scriptedServer struct {
	t        *testing.T
	upgrader websocket.Upgrader
	silent   bool
	noSpeech bool
	dropOnce bool

	mu       sync.Mutex
	conns    int
	received []*protocol.ClientMessage
	tokens   []string
}

func (s *scriptedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	verifier, _ := auth.NewVerifier(testSecret)
	if _, err := verifier.VerifyRequest(r); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.mu.Lock()
	s.conns++
	n := s.conns
	s.tokens = append(s.tokens, r.URL.Query().Get(auth.TokenQueryParam))
	s.mu.Unlock()

	if s.dropOnce && n == 1 {
		// abnormal close, no close frame
		conn.UnderlyingConn().Close()
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.DecodeClientMessage(data)
		if err != nil {
			continue
		}
		s.mu.Lock()
		s.received = append(s.received, msg)
		s.mu.Unlock()

		if msg.Type != protocol.TypeAudio || s.silent {
			continue
		}
		frames := []*protocol.ServerMessage{
			protocol.Caption("hello"),
			protocol.ResponseChunk("Hi "),
			protocol.AudioChunk(0, []byte("c0"), "Hi "),
			protocol.ResponseChunk("there"),
			protocol.ResponseEnd("Hi there"),
			protocol.AudioChunk(1, []byte("c1"), "there"),
			protocol.AudioStreamEnd(2),
			protocol.ProcessingEnd(),
		}
		if s.noSpeech {
			frames = []*protocol.ServerMessage{
				protocol.Error(protocol.ErrorTranscription, "no speech detected", nil),
				protocol.ProcessingEnd(),
			}
		}
		for _, frame := range frames {
			frame.SessionID = msg.SessionID
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		}
	}
}

func (s *scriptedServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

func newClientConfig(url string) *config.ClientConfig {
	return &config.ClientConfig{
		ServerURL:            "ws" + strings.TrimPrefix(url, "http"),
		JWTSecret:            testSecret,
		UserID:               "user-1",
		Username:             "Ana",
		UseStreaming:         true,
		TranscriptionTimeout: time.Second,
		ResponseTimeout:      time.Second,
		ReconnectDelay:       10 * time.Millisecond,
		QueuePollInterval:    5 * time.Millisecond,
	}
}

func TestClient_Turn(t *testing.T) {
	script := &scriptedServer{t: t}
	srv := httptest.NewServer(script)
	defer srv.Close()

	player := newFakePlayer(true)
	h := newRecordingHandler()
	c := New(newClientConfig(srv.URL), NewOutput(player), h, zerolog.Nop())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer c.Close()

	sid, err := c.SendAudio(context.Background(), []byte("RIFF..."))
	if err != nil {
		t.Fatalf("Failed to send audio: %v", err)
	}

	res := waitResult(t, h)
	if res.Cancelled || res.TotalChunks != 2 {
		t.Errorf("Expected 2 chunks played, got %+v", res)
	}

	script.mu.Lock()
	got := script.received[0]
	script.mu.Unlock()
	if got.SessionID != sid || got.Username != "Ana" || !got.UseStreaming {
		t.Errorf("Unexpected audio frame %+v", got)
	}

	history := c.History()
	if len(history) != 2 || history[0].Content != "hello" || history[1].Content != "Hi there" {
		t.Errorf("Unexpected history %v", history)
	}
}

func TestClient_CancelTurnSendsCancel(t *testing.T) {
	script := &scriptedServer{t: t, silent: true}
	srv := httptest.NewServer(script)
	defer srv.Close()

	c := New(newClientConfig(srv.URL), NewOutput(newFakePlayer(true)), newRecordingHandler(), zerolog.Nop())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer c.Close()

	if _, err := c.SendAudio(context.Background(), []byte("RIFF")); err != nil {
		t.Fatalf("Failed to send audio: %v", err)
	}
	if err := c.CancelTurn(); err != nil {
		t.Fatalf("Failed to cancel: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		script.mu.Lock()
		n := len(script.received)
		script.mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	script.mu.Lock()
	defer script.mu.Unlock()
	if len(script.received) != 2 || script.received[1].Type != protocol.TypeCancel {
		t.Errorf("Expected audio then cancel, got %v", script.received)
	}
}

func TestClient_ResponseTimeout(t *testing.T) {
	script := &scriptedServer{t: t, silent: true}
	srv := httptest.NewServer(script)
	defer srv.Close()

	cfg := newClientConfig(srv.URL)
	cfg.ResponseTimeout = 30 * time.Millisecond
	cfg.TranscriptionTimeout = 0
	h := newRecordingHandler()
	c := New(cfg, NewOutput(newFakePlayer(true)), h, zerolog.Nop())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer c.Close()

	if _, err := c.SendAudio(context.Background(), []byte("RIFF")); err != nil {
		t.Fatalf("Failed to send audio: %v", err)
	}

	select {
	case kind := <-h.timeout:
		if kind != TimeoutResponse {
			t.Errorf("Expected response timeout, got %s", kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected response timeout")
	}
	if res := waitResult(t, h); !res.Cancelled {
		t.Errorf("Expected audio cancelled, got %+v", res)
	}
}

func TestClient_FastReplyDisarmsTimeouts(t *testing.T) {
	tests := []struct {
		name     string
		noSpeech bool
	}{
		{"spoken turn", false},
		{"no speech", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script := &scriptedServer{t: t, noSpeech: tt.noSpeech}
			srv := httptest.NewServer(script)
			defer srv.Close()

			cfg := newClientConfig(srv.URL)
			cfg.TranscriptionTimeout = 100 * time.Millisecond
			cfg.ResponseTimeout = 150 * time.Millisecond
			h := newRecordingHandler()
			c := New(cfg, NewOutput(newFakePlayer(true)), h, zerolog.Nop())
			if err := c.Connect(context.Background()); err != nil {
				t.Fatalf("Failed to connect: %v", err)
			}
			defer c.Close()

			for i := 0; i < 3; i++ {
				if _, err := c.SendAudio(context.Background(), []byte("RIFF")); err != nil {
					t.Fatalf("Failed to send audio: %v", err)
				}
				if res := waitResult(t, h); res.Cancelled {
					t.Fatalf("Expected turn %d to complete, got %+v", i, res)
				}
			}

			select {
			case kind := <-h.timeout:
				t.Errorf("Expected no timeout, got %s", kind)
			case <-time.After(300 * time.Millisecond):
			}
		})
	}
}

func TestClient_FailedSendDisarmsTimeouts(t *testing.T) {
	cfg := newClientConfig("http://127.0.0.1:1")
	cfg.TranscriptionTimeout = 20 * time.Millisecond
	cfg.ResponseTimeout = 20 * time.Millisecond
	h := newRecordingHandler()
	c := New(cfg, NewOutput(newFakePlayer(true)), h, zerolog.Nop())

	if _, err := c.SendAudio(context.Background(), []byte("RIFF")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Expected ErrNotConnected, got %v", err)
	}

	select {
	case kind := <-h.timeout:
		t.Errorf("Expected no timeout, got %s", kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClient_ReconnectsOnceAfterAbnormalClose(t *testing.T) {
	script := &scriptedServer{t: t, dropOnce: true}
	srv := httptest.NewServer(script)
	defer srv.Close()

	h := newRecordingHandler()
	c := New(newClientConfig(srv.URL), NewOutput(newFakePlayer(true)), h, zerolog.Nop())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer c.Close()

	deadline := time.Now().Add(2 * time.Second)
	for script.connCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := script.connCount(); n != 2 {
		t.Fatalf("Expected one reconnect, got %d connections", n)
	}

	// wait for the client to pick up the new connection
	var err error
	for time.Now().Before(deadline) {
		if _, err = c.SendAudio(context.Background(), []byte("RIFF")); err == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("Expected to send after reconnect, got %v", err)
	}
	if res := waitResult(t, h); res.TotalChunks != 2 {
		t.Errorf("Expected turn on the new connection, got %+v", res)
	}
}

func TestClient_CloseFinishes(t *testing.T) {
	srv := httptest.NewServer(&scriptedServer{t: t})
	defer srv.Close()

	c := New(newClientConfig(srv.URL), NewOutput(newFakePlayer(true)), nil, zerolog.Nop())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	c.Close()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Expected client to finish after Close")
	}
	if err := c.Err(); err != nil {
		t.Errorf("Expected nil error after Close, got %v", err)
	}
}

func TestClient_RejectedToken(t *testing.T) {
	srv := httptest.NewServer(&scriptedServer{t: t})
	defer srv.Close()

	cfg := newClientConfig(srv.URL)
	cfg.JWTSecret = ""
	cfg.Token = "forged"
	c := New(cfg, NewOutput(newFakePlayer(true)), nil, zerolog.Nop())
	if err := c.Connect(context.Background()); err == nil {
		t.Error("Expected connect to fail with a bad token")
	}
}
