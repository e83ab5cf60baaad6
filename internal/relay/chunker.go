package relay

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/voice-relay/internal/protocol"
	"github.com/lexiqai/voice-relay/internal/tts"
)

// DefaultChunkThreshold is the buffered length, in UTF-16 code units, that
// triggers synthesis of a chunk.
const DefaultChunkThreshold = 50

type chunkResult struct {
	index int
	text  string
	audio []byte
	err   error
}

// Chunker buffers streamed text into speech-sized slices and synthesizes
// them. Synthesis of consecutive chunks overlaps, but events are emitted in
// ascending chunk index.
//
// OnToken and Finish must be called from a single goroutine.
type Chunker struct {
	ctx       context.Context
	synth     tts.Synthesizer
	emit      Emitter
	threshold int
	streaming bool
	logger    zerolog.Logger

	pending      strings.Builder
	pendingUnits int
	full         strings.Builder
	index        int

	group   *errgroup.Group
	futures chan chan chunkResult
	drained chan struct{}
}

// ChunkerOptions configures a Chunker.
type ChunkerOptions struct {
	Threshold   int
	MaxInFlight int
	Streaming   bool
	Logger      zerolog.Logger
}

// NewChunker creates a chunker for one turn. Synthesis requests use ctx.
func NewChunker(ctx context.Context, synth tts.Synthesizer, emit Emitter, opts ChunkerOptions) *Chunker {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultChunkThreshold
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 1
	}

	c := &Chunker{
		ctx:       ctx,
		synth:     synth,
		emit:      emit,
		threshold: opts.Threshold,
		streaming: opts.Streaming,
		logger:    opts.Logger,
	}
	if c.streaming {
		c.group = new(errgroup.Group)
		c.group.SetLimit(opts.MaxInFlight)
		c.futures = make(chan chan chunkResult, opts.MaxInFlight)
		c.drained = make(chan struct{})
		go c.drain()
	}
	return c
}

// OnToken feeds one streamed text fragment.
func (c *Chunker) OnToken(text string) {
	c.full.WriteString(text)
	if !c.streaming {
		return
	}

	c.pending.WriteString(text)
	c.pendingUnits += utf16Len(text)
	if c.pendingUnits >= c.threshold {
		c.flush()
	}
}

// Finish ends the turn's audio. In streaming mode it flushes pending text
// when flushPending is set, waits for in-flight synthesis and emits the
// stream end. In whole-response mode it synthesizes the full text once when
// synthesizeWhole is set.
func (c *Chunker) Finish(flushPending, synthesizeWhole bool) {
	if c.streaming {
		if flushPending {
			c.flush()
		}
		close(c.futures)
		<-c.drained
		_ = c.group.Wait()
		c.emit(AudioStreamEnd{TotalChunks: c.index})
		return
	}

	text := c.full.String()
	if !synthesizeWhole || strings.TrimSpace(text) == "" {
		return
	}
	audio, err := c.synth.Synthesize(c.ctx, text)
	if err != nil {
		if c.ctx.Err() == nil {
			c.logger.Error().Err(err).Msg("Failed to synthesize response")
			c.emit(TurnError{Kind: protocol.ErrorTTS, Message: err.Error()})
		}
		return
	}
	c.emit(AudioComplete{Audio: audio})
}

// ChunksIssued returns how many chunk indices have been assigned.
func (c *Chunker) ChunksIssued() int {
	return c.index
}

// flush hands pending text to synthesis. Whitespace-only text is dropped
// without taking a chunk index.
func (c *Chunker) flush() {
	text := c.pending.String()
	c.pending.Reset()
	c.pendingUnits = 0
	if strings.TrimSpace(text) == "" {
		return
	}
	index := c.index
	c.index++

	future := make(chan chunkResult, 1)
	c.futures <- future
	c.group.Go(func() error {
		res := chunkResult{index: index, text: text}
		defer func() {
			if r := recover(); r != nil {
				res.audio = nil
				res.err = fmt.Errorf("synthesis panic: %v", r)
			}
			future <- res
		}()
		res.audio, res.err = c.synth.Synthesize(c.ctx, text)
		return nil
	})
}

// drain emits chunk results in issue order.
func (c *Chunker) drain() {
	defer close(c.drained)
	for future := range c.futures {
		res := <-future
		if res.err != nil {
			if c.ctx.Err() != nil {
				continue
			}
			c.logger.Error().Err(res.err).Int("chunk_index", res.index).Msg("Failed to synthesize chunk")
			index := res.index
			c.emit(TurnError{Kind: protocol.ErrorTTS, Message: res.err.Error(), ChunkIndex: &index})
			continue
		}
		c.emit(AudioChunk{Index: res.index, Audio: res.audio, Text: res.text})
	}
}

// utf16Len counts UTF-16 code units, matching how clients measure strings.
func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}
