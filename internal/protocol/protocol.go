// Package protocol defines the JSON text frames exchanged between the relay
// server and its clients over the websocket connection.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Client to server frame types.
const (
	TypeAudio  = "audio"
	TypeCancel = "cancel"
)

// Server to client frame types.
const (
	TypeCaption        = "caption"
	TypeResponseChunk  = "groq_response_chunk"
	TypeResponseEnd    = "groq_response_end"
	TypeAudioResponse  = "audio_response"
	TypeAudioChunk     = "audio_chunk"
	TypeAudioStreamEnd = "audio_stream_end"
	TypeProcessingEnd  = "processing_end"
	TypeCancelled      = "cancelled"
	TypeError          = "error"
)

// Error types carried by error frames.
const (
	ErrorTranscription  = "transcription_error"
	ErrorLLM            = "llm_error"
	ErrorTTS            = "tts_error"
	ErrorInvalidRequest = "invalid_request"
	ErrorInternal       = "internal_error"
)

// Chat roles accepted in client history.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one entry of the conversation history.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ClientMessage is any frame sent by the client. Only the fields relevant to
// Type are populated.
type ClientMessage struct {
	Type             string            `json:"type"`
	Audio            string            `json:"audio,omitempty"`
	UserID           string            `json:"userId,omitempty"`
	Username         string            `json:"username,omitempty"`
	History          []json.RawMessage `json:"history,omitempty"`
	AdditionalPrompt string            `json:"additionalPrompt,omitempty"`
	UseStreaming     bool              `json:"useStreaming"`
	SessionID        string            `json:"sessionId,omitempty"`
}

// ServerMessage is any frame sent by the server.
type ServerMessage struct {
	Type        string `json:"type"`
	SessionID   string `json:"sessionId,omitempty"`
	Output      string `json:"output,omitempty"`
	Audio       string `json:"audio,omitempty"`
	ChunkIndex  *int   `json:"chunkIndex,omitempty"`
	Text        string `json:"text,omitempty"`
	TotalChunks *int   `json:"totalChunks,omitempty"`
	ErrorType   string `json:"errorType,omitempty"`
	Message     string `json:"message,omitempty"`
}

// DecodeError describes a frame that could not be accepted.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid frame: %s: %v", e.Reason, e.Err)
	}
	return "invalid frame: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err came from frame decoding.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// DecodeClientMessage parses and validates one client frame.
func DecodeClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &DecodeError{Reason: "malformed json", Err: err}
	}

	switch msg.Type {
	case TypeAudio:
		if msg.Audio == "" {
			return nil, &DecodeError{Reason: "audio frame without audio"}
		}
	case TypeCancel:
	case "":
		return nil, &DecodeError{Reason: "missing type"}
	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown type %q", msg.Type)}
	}
	return &msg, nil
}

// AudioBytes decodes the base64 audio payload.
func (m *ClientMessage) AudioBytes() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(m.Audio)
	if err != nil {
		return nil, &DecodeError{Reason: "audio is not base64", Err: err}
	}
	if len(b) == 0 {
		return nil, &DecodeError{Reason: "empty audio"}
	}
	return b, nil
}

// ValidHistory returns the history entries that have a known role and a
// non-empty string content. Anything else is dropped.
func (m *ClientMessage) ValidHistory() []ChatMessage {
	if len(m.History) == 0 {
		return nil
	}
	out := make([]ChatMessage, 0, len(m.History))
	for _, raw := range m.History {
		var entry struct {
			Role    string           `json:"role"`
			Content *json.RawMessage `json:"content"`
		}
		if err := json.Unmarshal(raw, &entry); err != nil || entry.Content == nil {
			continue
		}
		var content string
		if err := json.Unmarshal(*entry.Content, &content); err != nil {
			continue
		}
		if !ValidRole(entry.Role) || strings.TrimSpace(content) == "" {
			continue
		}
		out = append(out, ChatMessage{Role: entry.Role, Content: content})
	}
	return out
}

// ValidRole reports whether role may appear in history.
func ValidRole(role string) bool {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// AudioRequest holds what a client sends with a recorded turn.
type AudioRequest struct {
	Audio            []byte
	UserID           string
	Username         string
	History          []ChatMessage
	AdditionalPrompt string
	UseStreaming     bool
	SessionID        string
}

// NewAudioMessage builds the audio frame for req.
func NewAudioMessage(req AudioRequest) (*ClientMessage, error) {
	msg := &ClientMessage{
		Type:             TypeAudio,
		Audio:            base64.StdEncoding.EncodeToString(req.Audio),
		UserID:           req.UserID,
		Username:         req.Username,
		AdditionalPrompt: req.AdditionalPrompt,
		UseStreaming:     req.UseStreaming,
		SessionID:        req.SessionID,
	}
	for _, h := range req.History {
		raw, err := json.Marshal(h)
		if err != nil {
			return nil, fmt.Errorf("encode history: %w", err)
		}
		msg.History = append(msg.History, raw)
	}
	return msg, nil
}

// NewCancelMessage builds the cancel frame.
func NewCancelMessage() *ClientMessage {
	return &ClientMessage{Type: TypeCancel}
}

// DecodeServerMessage parses one server frame.
func DecodeServerMessage(data []byte) (*ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &DecodeError{Reason: "malformed json", Err: err}
	}
	if msg.Type == "" {
		return nil, &DecodeError{Reason: "missing type"}
	}
	return &msg, nil
}

// AudioBytes decodes the base64 audio payload of an audio-bearing frame.
func (m *ServerMessage) AudioBytes() ([]byte, error) {
	if m.Audio == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(m.Audio)
	if err != nil {
		return nil, &DecodeError{Reason: "audio is not base64", Err: err}
	}
	return b, nil
}

// IsAudioBearing reports whether frames of this type belong to a playback
// session and must be discarded when that session is gone.
func IsAudioBearing(frameType string) bool {
	switch frameType {
	case TypeAudioResponse, TypeAudioChunk, TypeAudioStreamEnd:
		return true
	}
	return false
}

// Caption carries the transcript of the submitted audio.
func Caption(text string) *ServerMessage {
	return &ServerMessage{Type: TypeCaption, Output: text}
}

// ResponseChunk carries one streamed fragment of the response text.
func ResponseChunk(text string) *ServerMessage {
	return &ServerMessage{Type: TypeResponseChunk, Output: text}
}

// ResponseEnd carries the complete response text.
func ResponseEnd(text string) *ServerMessage {
	return &ServerMessage{Type: TypeResponseEnd, Output: text}
}

// AudioResponse carries the whole-response audio of a non-streaming turn.
func AudioResponse(audio []byte) *ServerMessage {
	return &ServerMessage{Type: TypeAudioResponse, Audio: base64.StdEncoding.EncodeToString(audio)}
}

// AudioChunk carries one synthesized chunk and the text it speaks.
func AudioChunk(index int, audio []byte, text string) *ServerMessage {
	return &ServerMessage{
		Type:       TypeAudioChunk,
		ChunkIndex: &index,
		Audio:      base64.StdEncoding.EncodeToString(audio),
		Text:       text,
	}
}

// AudioStreamEnd closes a turn's chunk stream with the number of indices issued.
func AudioStreamEnd(totalChunks int) *ServerMessage {
	return &ServerMessage{Type: TypeAudioStreamEnd, TotalChunks: &totalChunks}
}

// ProcessingEnd is the last frame of every turn.
func ProcessingEnd() *ServerMessage {
	return &ServerMessage{Type: TypeProcessingEnd}
}

// Cancelled acknowledges a cancel frame.
func Cancelled() *ServerMessage {
	return &ServerMessage{Type: TypeCancelled}
}

// Error builds an error frame. chunkIndex is only set for chunk-scoped failures.
func Error(errorType, message string, chunkIndex *int) *ServerMessage {
	return &ServerMessage{Type: TypeError, ErrorType: errorType, Message: message, ChunkIndex: chunkIndex}
}
