package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/triadwork/triad/pkg/errs"
)

// chatClient captures the subset of the OpenAI SDK used here, the same
// narrow-interface seam the Anthropic adapter uses, for fake substitution
// in tests.
type chatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIClient is a Runner backed by the OpenAI Chat Completions API.
type OpenAIClient struct {
	chat       chatClient
	model      string
	maxTokens  int
	maxRetries int
}

// NewOpenAIClient constructs a Runner from an API key.
func NewOpenAIClient(apiKey, model string, maxTokens, maxRetries int) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}
	if model == "" {
		return nil, errors.New("openai model identifier is required")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &OpenAIClient{chat: client.Chat.Completions, model: model, maxTokens: maxTokens, maxRetries: maxRetries}, nil
}

// Invoke sends req's messages to the configured chat-completions model.
func (c *OpenAIClient) Invoke(ctx context.Context, req Request) (Response, error) {
	return withRetry(ctx, c.maxRetries, func() (Response, error) {
		return c.invokeOnce(ctx, req)
	})
}

func (c *OpenAIClient) invokeOnce(ctx context.Context, req Request) (Response, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	if len(messages) == 0 {
		return Response{}, errs.NewValidationError("messages", "at least one message is required")
	}

	params := openai.ChatCompletionNewParams{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: openai.Int(int64(c.maxTokens)),
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", errs.ErrProviderUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("openai chat completion returned no choices")
	}
	return Response{Content: resp.Choices[0].Message.Content}, nil
}
