package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaProvider implements Provider against a local Ollama server
type OllamaProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

// OllamaChatRequest represents an Ollama chat request
type OllamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []OllamaChatMessage    `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

// OllamaChatMessage represents a message in Ollama format
type OllamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OllamaChatResponse represents an Ollama chat response
type OllamaChatResponse struct {
	Model           string            `json:"model"`
	Message         OllamaChatMessage `json:"message"`
	Done            bool              `json:"done"`
	PromptEvalCount int               `json:"prompt_eval_count"`
	EvalCount       int               `json:"eval_count"`
}

// NewOllamaProvider creates a provider. An empty baseURL uses localhost.
func NewOllamaProvider(baseURL, model string, timeout time.Duration) *OllamaProvider {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OllamaProvider{
		baseURL: strings.TrimRight(firstNonEmpty(baseURL, "http://localhost:11434"), "/"),
		model:   firstNonEmpty(model, "llama3.1"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Name returns the provider identifier
func (o *OllamaProvider) Name() string {
	return "ollama"
}

// Generate calls /api/chat without streaming
func (o *OllamaProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	messages := make([]OllamaChatMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, OllamaChatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, OllamaChatMessage{Role: "user", Content: req.Prompt})

	options := map[string]interface{}{"temperature": req.Temperature}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	body, err := json.Marshal(OllamaChatRequest{
		Model:    firstNonEmpty(req.Model, o.model),
		Messages: messages,
		Options:  options,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ollama chat: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var chatResp OllamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("ollama chat: decode: %w", err)
	}
	if chatResp.Message.Content == "" {
		return nil, ErrEmptyResponse
	}

	return &Response{
		Content:          chatResp.Message.Content,
		Model:            chatResp.Model,
		PromptTokens:     chatResp.PromptEvalCount,
		CompletionTokens: chatResp.EvalCount,
	}, nil
}
