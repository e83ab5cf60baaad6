package relay

import (
	"context"
	"sync"

	"github.com/lexiqai/voice-relay/internal/llm"
)

// ConnectionState is the per-connection turn state. It is owned by one
// connection and never shared between connections.
type ConnectionState struct {
	mu         sync.Mutex
	busy       bool
	cancelled  bool
	stopStream context.CancelFunc
	history    []llm.Message
	maxHistory int
}

// NewConnectionState creates state keeping at most maxHistory messages
// (0 keeps everything).
func NewConnectionState(maxHistory int) *ConnectionState {
	return &ConnectionState{maxHistory: maxHistory}
}

// tryBegin marks the connection busy. It reports false when a turn is
// already in progress.
func (s *ConnectionState) tryBegin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	s.cancelled = false
	return true
}

// setStreamHandle records how to abort the turn's in-flight work. If the
// turn was cancelled before the handle existed it is aborted immediately.
func (s *ConnectionState) setStreamHandle(stop context.CancelFunc) {
	s.mu.Lock()
	s.stopStream = stop
	cancelled := s.cancelled
	s.mu.Unlock()
	if cancelled {
		stop()
	}
}

// finish clears busy and drops the stream handle.
func (s *ConnectionState) finish() {
	s.mu.Lock()
	s.busy = false
	s.stopStream = nil
	s.mu.Unlock()
}

// Cancel flags the current turn cancelled and aborts its stream. It reports
// whether a turn was in progress.
func (s *ConnectionState) Cancel() bool {
	s.mu.Lock()
	s.cancelled = true
	stop := s.stopStream
	busy := s.busy
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
	return busy
}

// Busy reports whether a turn is in progress.
func (s *ConnectionState) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Cancelled reports whether the current turn was cancelled.
func (s *ConnectionState) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// History returns a copy of the conversation so far.
func (s *ConnectionState) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Message, len(s.history))
	copy(out, s.history)
	return out
}

// Seed installs msgs as the history when the connection has none yet.
func (s *ConnectionState) Seed(msgs []llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) > 0 || len(msgs) == 0 {
		return
	}
	s.history = append(s.history, msgs...)
	s.trim()
}

// Append adds one message to the history.
func (s *ConnectionState) Append(msg llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, msg)
	s.trim()
}

// replacePlaceholder rewrites username placeholders left in stored messages.
func (s *ConnectionState) replacePlaceholder(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.history {
		s.history[i].Content = fillUsername(s.history[i].Content, username)
	}
}

func (s *ConnectionState) trim() {
	if s.maxHistory <= 0 || len(s.history) <= s.maxHistory {
		return
	}
	drop := len(s.history) - s.maxHistory
	s.history = append(s.history[:0:0], s.history[drop:]...)
}
