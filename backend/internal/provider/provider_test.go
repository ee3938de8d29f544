package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/config"
)

func testRequest() *Request {
	return &Request{
		SystemPrompt: SystemPrompt,
		Prompt:       BuildPrompt("project_charter", "retail", "CRM rollout"),
		MaxTokens:    200,
		Temperature:  0.7,
	}
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt("risk_register", "healthcare", "EHR migration")
	assert.Contains(t, p, "Generate a professional risk_register for a healthcare project.")
	assert.Contains(t, p, "Project Description: EHR migration")
	assert.Contains(t, p, "Include all standard sections for a risk_register")
}

func TestApproximateTokens(t *testing.T) {
	assert.Equal(t, 3, ApproximateTokens(" one  two\nthree "))
	assert.Zero(t, ApproximateTokens(""))
}

func TestOpenAIProvider_Generate(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4.1-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Charter body"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 30, "total_tokens": 42}
		}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL, "sk-test", "", 5*time.Second)
	resp, err := p.Generate(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, "Charter body", resp.Content)
	assert.Equal(t, 42, resp.TotalTokens())
	assert.Equal(t, "gpt-4.1-mini", got["model"])
	messages := got["messages"].([]interface{})
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]interface{})["role"])
}

func TestOpenAIProvider_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": {"message": "boom", "type": "server_error"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL, "sk-test", "", time.Second)
	_, err := p.Generate(context.Background(), testRequest())
	assert.Error(t, err)
}

func TestAnthropicProvider_Generate(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "ak-test", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-3-5-haiku-latest",
			"content": [{"type": "text", "text": "Risk register body"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 20, "output_tokens": 10}
		}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider(srv.URL, "ak-test", "", 5*time.Second)
	resp, err := p.Generate(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, "Risk register body", resp.Content)
	assert.Equal(t, 30, resp.TotalTokens())
	assert.Equal(t, SystemPrompt, got["system"])
	assert.EqualValues(t, 200, got["max_tokens"])
}

func TestOllamaProvider_Generate(t *testing.T) {
	var got OllamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(OllamaChatResponse{
			Model:           "llama3.1",
			Message:         OllamaChatMessage{Role: "assistant", Content: "Local body"},
			Done:            true,
			PromptEvalCount: 4,
			EvalCount:       6,
		})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL+"/", "", time.Second)
	resp, err := p.Generate(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, "Local body", resp.Content)
	assert.Equal(t, 10, resp.TotalTokens())
	assert.False(t, got.Stream)
	assert.Equal(t, "llama3.1", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "user", got.Messages[1].Role)
}

func TestOllamaProvider_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL, "", time.Second).Generate(context.Background(), testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

type stubProvider struct{ name string }

func (s stubProvider) Name() string { return s.name }
func (s stubProvider) Generate(context.Context, *Request) (*Response, error) {
	return &Response{Content: s.name}, nil
}

func TestRouter(t *testing.T) {
	r := NewRouter()
	_, err := r.Route(&Request{})
	assert.ErrorIs(t, err, ErrProviderNotFound)
	assert.False(t, r.Available())

	r.RegisterProvider("b", stubProvider{"b"})
	r.RegisterProvider("a", stubProvider{"a"})

	p, err := r.Route(&Request{})
	require.NoError(t, err)
	assert.Equal(t, "a", p.Name(), "first name in sorted order without a fallback")

	r.SetFallback("b")
	p, _ = r.Route(&Request{})
	assert.Equal(t, "b", p.Name())

	r.SetFallback("missing")
	p, _ = r.Route(&Request{})
	assert.Equal(t, "a", p.Name(), "unregistered fallback is ignored")

	assert.Equal(t, []string{"a", "b"}, r.ListProviders())
}

func TestNewRouterFromConfig(t *testing.T) {
	cfg := &config.Config{Providers: map[string]config.ProviderConfig{
		"openai":    {Type: "openai", APIKey: "sk"},
		"anthropic": {Type: "anthropic", APIKey: "ak", Default: true},
		"ollama":    {Type: "ollama", BaseURL: "http://localhost:11434"},
	}}

	r := NewRouterFromConfig(cfg)
	p, err := r.Route(&Request{})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())

	assert.Equal(t, []string{"anthropic", "ollama", "openai"}, r.ListProviders())
	assert.IsType(t, &OllamaProvider{}, New(cfg.Providers["ollama"]))
}
