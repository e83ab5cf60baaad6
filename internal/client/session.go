// Package client consumes relay turns: it filters stale frames, plays audio
// chunks in order and cancels playback without touching the text stream.
package client

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/lexiqai/voice-relay/internal/protocol"
)

// SessionManager tracks the recording attempt whose audio may still play.
type SessionManager struct {
	mu      sync.Mutex
	current string
	counter uint64
	entropy io.Reader
}

// NewSessionManager returns a manager with no active session.
func NewSessionManager() *SessionManager {
	return &SessionManager{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// BeginSession invalidates the current session and starts a new one.
func (m *SessionManager) BeginSession() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current = ""
	m.counter++
	id := ulid.MustNew(ulid.Timestamp(time.Now()), m.entropy)
	m.current = fmt.Sprintf("%s-%d", id, m.counter)
	return m.current
}

// Invalidate ends the current session.
func (m *SessionManager) Invalidate() {
	m.mu.Lock()
	m.current = ""
	m.mu.Unlock()
}

// Current returns the active session id, or "" when none is active.
func (m *SessionManager) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Active reports whether a session is active.
func (m *SessionManager) Active() bool {
	return m.Current() != ""
}

// Accept reports whether msg may be processed. Audio-bearing frames need an
// active session, and a matching one when they are tagged. Every other frame
// is accepted so a superseded turn's text can still finish rendering.
func (m *SessionManager) Accept(msg *protocol.ServerMessage) bool {
	if !protocol.IsAudioBearing(msg.Type) {
		return true
	}
	current := m.Current()
	if current == "" {
		return false
	}
	return msg.SessionID == "" || msg.SessionID == current
}
