package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
)

// AnthropicProvider implements Provider on the Messages API
type AnthropicProvider struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicProvider creates a provider. baseURL may be empty.
func NewAnthropicProvider(baseURL, apiKey, model string, timeout time.Duration) *AnthropicProvider {
	opts := []anthropic.ClientOption{}
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		opts = append(opts, anthropic.WithHTTPClient(&http.Client{Timeout: timeout}))
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(apiKey, opts...),
		model:  firstNonEmpty(model, "claude-3-5-haiku-latest"),
	}
}

// Name returns the provider identifier
func (a *AnthropicProvider) Name() string {
	return "anthropic"
}

// Generate sends one user message. The system prompt travels separately.
func (a *AnthropicProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	temp := float32(req.Temperature)
	prompt := req.Prompt

	anthReq := anthropic.MessagesRequest{
		Model: anthropic.Model(firstNonEmpty(req.Model, a.model)),
		Messages: []anthropic.Message{{
			Role:    anthropic.RoleUser,
			Content: []anthropic.MessageContent{{Type: "text", Text: &prompt}},
		}},
		MaxTokens:   maxTokens,
		Temperature: &temp,
	}
	if req.SystemPrompt != "" {
		anthReq.System = req.SystemPrompt
	}

	resp, err := a.client.CreateMessages(ctx, anthReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			content.WriteString(*block.Text)
		}
	}
	if content.Len() == 0 {
		return nil, ErrEmptyResponse
	}

	return &Response{
		Content:          content.String(),
		Model:            string(resp.Model),
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
	}, nil
}
