// Package tts converts response text into playable audio.
package tts

import (
	"context"
	"errors"
)

// ErrEmptyText is returned for blank input.
var ErrEmptyText = errors.New("no text to synthesize")

// Synthesizer renders text to a self-contained audio clip. Implementations
// must be safe for concurrent use: chunk synthesis is pipelined.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
