package processors

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"videoRAG/core"
)

// OpenAIGenerator streams chat completions token by token.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

func NewOpenAIGenerator(client *openai.Client, model string) *OpenAIGenerator {
	return &OpenAIGenerator{client: client, model: model}
}

func (g *OpenAIGenerator) Stream(ctx context.Context, systemPrompt, userPrompt string) (core.TokenStream, error) {
	req := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: 0.2,
		Stream:      true,
	}
	stream, err := g.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion stream: %w", err)
	}
	return &openAITokenStream{stream: stream}, nil
}

type openAITokenStream struct {
	stream *openai.ChatCompletionStream
}

// Recv skips empty deltas so callers only see real tokens. io.EOF passes through.
func (s *openAITokenStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if tok := resp.Choices[0].Delta.Content; tok != "" {
			return tok, nil
		}
	}
}

func (s *openAITokenStream) Close() error {
	return s.stream.Close()
}
