package provider

import (
	"sort"
	"sync"

	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/config"
)

// Router holds the configured providers and picks the one to call
type Router struct {
	providers map[string]Provider
	fallback  string
	mu        sync.RWMutex
}

// NewRouter creates a new provider router
func NewRouter() *Router {
	return &Router{
		providers: make(map[string]Provider),
	}
}

// NewRouterFromConfig creates a router initialized with providers from config
func NewRouterFromConfig(cfg *config.Config) *Router {
	router := NewRouter()

	for name, pc := range cfg.Providers {
		router.RegisterProvider(name, New(pc))
		if pc.Default {
			router.SetFallback(name)
		}
	}

	if router.fallback == "" {
		if def := cfg.GetDefaultProvider(); def != nil {
			for name, pc := range cfg.Providers {
				if pc.Type == def.Type && pc.BaseURL == def.BaseURL {
					router.fallback = name
					break
				}
			}
		}
	}

	return router
}

// New builds the provider for a config entry. Unknown types are treated as
// OpenAI-compatible.
func New(pc config.ProviderConfig) Provider {
	switch pc.Type {
	case "anthropic":
		return NewAnthropicProvider(pc.BaseURL, pc.APIKey, pc.Model, pc.Timeout)
	case "ollama":
		return NewOllamaProvider(pc.BaseURL, pc.Model, pc.Timeout)
	default:
		return NewOpenAIProvider(pc.BaseURL, pc.APIKey, pc.Model, pc.Timeout)
	}
}

// RegisterProvider adds a provider to the router
func (r *Router) RegisterProvider(name string, provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = provider
}

// SetFallback sets the provider Route prefers
func (r *Router) SetFallback(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = name
}

// Route selects the provider for a request: the fallback when it is
// registered, otherwise the first provider by name.
func (r *Router) Route(_ *Request) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.fallback != "" {
		if p, ok := r.providers[r.fallback]; ok {
			return p, nil
		}
	}

	// Deterministic choice when nothing is marked default
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, ErrProviderNotFound
	}
	sort.Strings(names)
	return r.providers[names[0]], nil
}

// ListProviders returns all registered provider names, sorted
func (r *Router) ListProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Available reports whether at least one provider is registered
func (r *Router) Available() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers) > 0
}
