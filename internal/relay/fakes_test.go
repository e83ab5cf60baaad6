package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-relay/internal/llm"
)

type fakeTranscriber struct {
	text    string
	err     error
	started chan struct{}
	release chan struct{}
	panics  bool
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		<-f.release
	}
	if f.panics {
		panic("transcriber exploded")
	}
	return f.text, f.err
}

type fakeGenerator struct {
	tokens    []string
	err       error // returned by StreamCompletion
	streamErr error // sent after tokens
	// hold blocks after the first hold tokens until ctx is done
	hold int
	sent chan struct{}

	mu       sync.Mutex
	requests []llm.Request
}

func (f *fakeGenerator) StreamCompletion(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)
		for i, tok := range f.tokens {
			if f.hold > 0 && i == f.hold {
				if f.sent != nil {
					close(f.sent)
				}
				<-ctx.Done()
				return
			}
			select {
			case ch <- llm.Chunk{Text: tok}:
			case <-ctx.Done():
				return
			}
		}
		if f.streamErr != nil {
			select {
			case ch <- llm.Chunk{Err: f.streamErr}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

func (f *fakeGenerator) lastRequest() llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type fakeSynth struct {
	failOn  string
	panicOn string
	// delay returns a per-text delay, used to finish chunks out of order
	delay func(text string) time.Duration

	mu    sync.Mutex
	calls []string
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	f.mu.Unlock()

	if f.delay != nil {
		select {
		case <-time.After(f.delay(text)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.panicOn != "" && strings.Contains(text, f.panicOn) {
		panic("synthesizer exploded")
	}
	if f.failOn != "" && strings.Contains(text, f.failOn) {
		return nil, errors.New("synthesis failed")
	}
	return []byte("audio:" + text), nil
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) emit(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func newTestCoordinator(tr *fakeTranscriber, gen *fakeGenerator, synth *fakeSynth, threshold int) *Coordinator {
	return NewCoordinator(Config{
		SystemPrompt:   "You talk with {{username}}.",
		ChunkThreshold: threshold,
		MaxInFlight:    3,
	}, tr, gen, synth, NewConnectionState(0), nil, zerolog.Nop())
}
