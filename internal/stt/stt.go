// Package stt turns a recorded utterance into text.
package stt

import (
	"context"
	"errors"
	"time"

	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/lexiqai/voice-relay/internal/resilience"
)

// ErrNoAudio is returned when there is nothing to transcribe.
var ErrNoAudio = errors.New("no audio to transcribe")

// Transcriber converts one complete recording to text. An empty string with a
// nil error means the recording contained no recognizable speech.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// guarded runs one transcription request under guard and records metrics.
func guarded(ctx context.Context, guard *resilience.Guard, timeout time.Duration, fn func(ctx context.Context) (string, error)) (string, error) {
	var text string
	start := time.Now()
	err := guard.Do(ctx, func(ctx context.Context) error {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		var err error
		text, err = fn(ctx)
		return err
	})
	if ctx.Err() == nil {
		observability.ObserveUpstream(observability.ServiceSTT, time.Since(start), err == nil)
	}
	return text, err
}
