package agent

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/triadwork/triad/pkg/errs"
)

// messagesClient captures the subset of the Anthropic SDK used here,
// mirroring goadesign-goa-ai/features/model/anthropic's MessagesClient
// seam so a fake can be substituted in tests without a live API key.
type messagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicClient is a Runner backed by the Anthropic Messages API.
type AnthropicClient struct {
	msg        messagesClient
	model      string
	maxTokens  int
	maxRetries int
}

// NewAnthropicClient constructs a Runner from an API key, following
// goadesign-goa-ai/features/model/anthropic.NewFromAPIKey.
func NewAnthropicClient(apiKey, model string, maxTokens, maxRetries int) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	if model == "" {
		return nil, errors.New("anthropic model identifier is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicClient{msg: &client.Messages, model: model, maxTokens: maxTokens, maxRetries: maxRetries}, nil
}

// Invoke sends req's messages to Claude and returns the assembled text
// response.
func (c *AnthropicClient) Invoke(ctx context.Context, req Request) (Response, error) {
	return withRetry(ctx, c.maxRetries, func() (Response, error) {
		return c.invokeOnce(ctx, req)
	})
}

func (c *AnthropicClient) invokeOnce(ctx context.Context, req Request) (Response, error) {
	var system []sdk.TextBlockParam
	var conversation []sdk.MessageParam

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, sdk.TextBlockParam{Text: m.Content})
		case "assistant":
			conversation = append(conversation, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	if len(conversation) == 0 {
		return Response{}, errs.NewValidationError("messages", "at least one user/assistant message is required")
	}

	params := sdk.MessageNewParams{
		MaxTokens: int64(c.maxTokens),
		Messages:  conversation,
		Model:     sdk.Model(c.model),
	}
	if len(system) > 0 {
		params.System = system
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", errs.ErrProviderUnavailable, err)
	}

	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return Response{Content: out}, nil
}
