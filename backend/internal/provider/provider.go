package provider

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrProviderNotFound is returned when no provider is registered
	ErrProviderNotFound = errors.New("no provider available")

	// ErrEmptyResponse is returned when a provider answers with no text
	ErrEmptyResponse = errors.New("provider returned no content")
)

// Request is a single-turn generation request
type Request struct {
	Model        string
	SystemPrompt string
	Prompt       string
	MaxTokens    int
	Temperature  float64
}

// Response is the normalized provider answer
type Response struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// TotalTokens returns prompt plus completion tokens
func (r *Response) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// Provider is the interface that all generation providers must implement
type Provider interface {
	// Name returns the provider identifier
	Name() string

	// Generate sends the request and returns the generated text
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// ApproximateTokens counts whitespace-separated words
func ApproximateTokens(text string) int {
	return len(strings.Fields(text))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
