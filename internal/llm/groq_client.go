package llm

import (
	"context"
	"fmt"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/lexiqai/voice-relay/internal/config"
	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/lexiqai/voice-relay/internal/resilience"
)

// GroqClient streams chat completions from Groq's OpenAI-compatible API
type GroqClient struct {
	client  oai.Client
	model   string
	breaker *resilience.CircuitBreaker
}

// NewGroqClient creates a generator against cfg.GroqBaseURL.
func NewGroqClient(cfg *config.Config, opts ...option.RequestOption) *GroqClient {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.GroqAPIKey),
		option.WithBaseURL(cfg.GroqBaseURL),
	}
	reqOpts = append(reqOpts, opts...)

	gc := cfg.GuardConfig()
	breaker := resilience.NewCircuitBreaker("groq", gc.MaxFailures, gc.ResetTimeout)
	observability.TrackBreaker(breaker)

	return &GroqClient{
		client:  oai.NewClient(reqOpts...),
		model:   cfg.GroqModel,
		breaker: breaker,
	}
}

// StreamCompletion implements Generator. Streams are not retried: once tokens
// have been forwarded to the client a restart would duplicate them.
func (g *GroqClient) StreamCompletion(ctx context.Context, req Request) (<-chan Chunk, error) {
	params, err := g.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("groq: build params: %w", err)
	}

	start := time.Now()
	var stream *ssestream.Stream[oai.ChatCompletionChunk]
	err = g.breaker.Call(func() error {
		s := g.client.Chat.Completions.NewStreaming(ctx, params)
		if err := s.Err(); err != nil {
			s.Close()
			return err
		}
		stream = s
		return nil
	})
	if err != nil {
		if ctx.Err() == nil {
			observability.ObserveUpstream(observability.ServiceLLM, time.Since(start), false)
		}
		return nil, fmt.Errorf("groq: start stream: %w", err)
	}

	ch := make(chan Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()
		defer g.recoverStream(ctx, ch)

		first := true
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			text := chunk.Choices[0].Delta.Content
			if text == "" {
				continue
			}
			if first {
				observability.ObserveUpstream(observability.ServiceLLM, time.Since(start), true)
				first = false
			}
			select {
			case ch <- Chunk{Text: text}:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil && ctx.Err() == nil {
			g.breaker.RecordResult(false)
			select {
			case ch <- Chunk{Err: fmt.Errorf("groq: stream: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// recoverStream turns a panic in the stream goroutine into the final chunk.
func (g *GroqClient) recoverStream(ctx context.Context, ch chan<- Chunk) {
	r := recover()
	if r == nil {
		return
	}
	g.breaker.RecordResult(false)
	select {
	case ch <- Chunk{Err: fmt.Errorf("groq: stream panic: %v", r)}:
	case <-ctx.Done():
	}
}

// HealthCheck reports whether requests are currently allowed through.
func (g *GroqClient) HealthCheck(ctx context.Context) (bool, error) {
	if g.breaker.GetState() == resilience.StateOpen {
		return false, resilience.ErrCircuitOpen
	}
	return true, nil
}

func (g *GroqClient) buildParams(req Request) (oai.ChatCompletionNewParams, error) {
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(g.model),
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params, nil
}

func convertMessage(m Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case "system":
		return oai.SystemMessage(m.Content), nil
	case "user":
		return oai.UserMessage(m.Content), nil
	case "assistant":
		asst := oai.ChatCompletionAssistantMessageParam{}
		asst.Content.OfString = oai.String(m.Content)
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil
	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unknown message role %q", m.Role)
	}
}
