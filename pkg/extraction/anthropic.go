package extraction

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/go-logr/logr"
)

// AnthropicProvider implements Provider over the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	model  anthropic.Model
	logger logr.Logger
}

// NewAnthropicProvider builds a provider for the given API key and model.
func NewAnthropicProvider(apiKey, model string, logger logr.Logger) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
		logger: logger.WithName("anthropic"),
	}
}

// Complete performs one Messages call. Images are sent as base64 blocks
// alongside the text blocks.
func (p *AnthropicProvider) Complete(ctx context.Context, req ProviderRequest) (*ProviderResponse, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(req.Texts)+len(req.Images))
	for _, img := range req.Images {
		blocks = append(blocks, anthropic.NewImageBlockBase64(
			img.MediaType, base64.StdEncoding.EncodeToString(img.Data)))
	}
	for _, text := range req.Texts {
		blocks = append(blocks, anthropic.NewTextBlock(text))
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}

	message, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: req.SystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(blocks...),
		},
	})
	if err != nil {
		return nil, classifyProviderError(err)
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	p.logger.V(1).Info("completion received",
		"model", message.Model,
		"input_tokens", message.Usage.InputTokens,
		"output_tokens", message.Usage.OutputTokens,
		"stop_reason", message.StopReason,
	)

	return &ProviderResponse{
		Text:         text,
		Model:        string(message.Model),
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
		StopReason:   string(message.StopReason),
	}, nil
}

// classifyProviderError separates retryable provider failures (network,
// 5xx, 429, 408) from terminal ones.
func classifyProviderError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= 500 || apiErr.StatusCode == 429 || apiErr.StatusCode == 408 {
			return &TransientError{Err: fmt.Errorf("provider returned %d: %w", apiErr.StatusCode, err)}
		}
		return err
	}
	// Non-API errors are network-level and retryable.
	return &TransientError{Err: err}
}
