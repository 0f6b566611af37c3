package generation

import (
	"context"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Defaults for the OpenAI generation provider.
const (
	DefaultModel       = "gpt-4o-mini"
	DefaultMaxTokens   = 1000
	DefaultTemperature = 0.6
	DefaultTimeout     = 120 * time.Second
)

// OpenAIGenerator streams chat completions from the OpenAI API.
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
}

// NewOpenAIGenerator creates a generator for the given model. Empty or zero
// values use the defaults.
func NewOpenAIGenerator(apiKey, model string, maxTokens int, temperature float32, timeout time.Duration) (*OpenAIGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("generation provider API key is empty")
	}
	if model == "" {
		model = DefaultModel
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if temperature <= 0 {
		temperature = DefaultTemperature
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &OpenAIGenerator{
		client:      openai.NewClient(apiKey),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		timeout:     timeout,
	}, nil
}

// GenerateStream opens a streaming completion for prompt. The stream is
// bounded by the configured timeout; a timeout surfaces as a stream error.
func (g *OpenAIGenerator) GenerateStream(ctx context.Context, prompt string) (Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	stream, err := g.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
		Stream:      true,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open generation stream: %w", err)
	}
	return &openAIStream{stream: stream, cancel: cancel}, nil
}

// Model returns the generation model identifier.
func (g *OpenAIGenerator) Model() string {
	return g.model
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
	cancel context.CancelFunc
}

// Recv returns the next non-empty text fragment, io.EOF at stream end.
func (s *openAIStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			if err == io.EOF {
				return "", io.EOF
			}
			return "", fmt.Errorf("generation stream: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if content := resp.Choices[0].Delta.Content; content != "" {
			return content, nil
		}
	}
}

// Close cancels the request context and closes the provider stream.
func (s *openAIStream) Close() error {
	s.cancel()
	return s.stream.Close()
}
